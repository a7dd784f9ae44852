package ingest

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestTable(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec("CREATE TABLE test (id INTEGER PRIMARY KEY, val TEXT)")
	require.NoError(t, err)
	return db
}

func insert(val string) WriteFunc {
	return func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO test (val) VALUES (?)", val)
		return err
	}
}

func closeWithin(t *testing.T, bw *BatchWriter, d time.Duration) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- bw.Close() }()
	select {
	case err := <-done:
		return err
	case <-time.After(d):
		t.Fatal("timeout waiting for batch commit/close")
		return nil
	}
}

func TestBatchWriterTransactions(t *testing.T) {
	db := openTestTable(t)

	bw := NewBatchWriter(db, 2, 0)
	require.NoError(t, bw.Submit(insert("A")))
	require.NoError(t, bw.Submit(insert("B")))
	require.NoError(t, bw.Submit(insert("C")))
	require.NoError(t, closeWithin(t, bw, time.Second))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM test").Scan(&count))
	assert.Equal(t, 3, count)
	assert.Equal(t, BatchStats{Batches: 2, Writes: 3}, bw.Stats())
}

func TestBatchWriterRollback(t *testing.T) {
	db := openTestTable(t)

	bw := NewBatchWriter(db, 2, 0)
	errCh := make(chan error, 1)
	bw.OnError = func(e error) { errCh <- e }

	intentional := errors.New("intentional error")
	require.NoError(t, bw.Submit(insert("C")))
	require.NoError(t, bw.Submit(func(ctx context.Context, tx *sql.Tx) error { return intentional }))

	err := bw.Close()
	assert.ErrorIs(t, err, intentional, "Close returns the first async error")

	select {
	case e := <-errCh:
		assert.ErrorIs(t, e, intentional)
	default:
		t.Fatal("expected OnError to be called")
	}

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM test").Scan(&count))
	assert.Zero(t, count, "batch rolled back")
	assert.Zero(t, bw.Stats().Batches)
}

func TestBatchWriterFlushesBySize(t *testing.T) {
	bw := NewBatchWriter(nil, 5, 0)
	var mu sync.Mutex
	called := 0
	for i := 0; i < 12; i++ {
		require.NoError(t, bw.Submit(func(ctx context.Context, tx *sql.Tx) error {
			mu.Lock()
			called++
			mu.Unlock()
			return nil
		}))
	}
	require.NoError(t, bw.Close())
	assert.Equal(t, 12, called)
	assert.Equal(t, int64(3), bw.Stats().Batches)
}

func TestBatchWriterFlushesOnInterval(t *testing.T) {
	bw := NewBatchWriter(nil, 10, 20*time.Millisecond)
	flushed := make(chan struct{})
	require.NoError(t, bw.Submit(func(ctx context.Context, tx *sql.Tx) error {
		close(flushed)
		return nil
	}))

	select {
	case <-flushed:
	case <-time.After(time.Second):
		t.Fatal("interval flush did not happen")
	}
	require.NoError(t, bw.Close())
}

func TestBatchWriterSubmitAfterClose(t *testing.T) {
	bw := NewBatchWriter(nil, 1, 0)
	require.NoError(t, bw.Close())
	assert.ErrorIs(t, bw.Submit(func(ctx context.Context, tx *sql.Tx) error { return nil }), ErrBatchWriterClosed)
	assert.ErrorIs(t, bw.Close(), ErrBatchWriterClosed)
}

func TestBatchWriterDropsBatchOnCancel(t *testing.T) {
	bw := NewBatchWriter(nil, 1, 0)
	errCh := make(chan error, 1)
	bw.OnError = func(e error) {
		select {
		case errCh <- e:
		default:
		}
	}

	started := make(chan struct{})
	blocker := make(chan struct{})

	// The committer picks up the first batch and blocks inside it.
	require.NoError(t, bw.Submit(func(ctx context.Context, tx *sql.Tx) error {
		close(started)
		<-blocker
		return nil
	}))
	<-started

	// Two more batches fill the commit channel.
	require.NoError(t, bw.Submit(func(ctx context.Context, tx *sql.Tx) error { return nil }))
	require.NoError(t, bw.Submit(func(ctx context.Context, tx *sql.Tx) error { return nil }))

	bw.cancel()

	// With the channel full and the context done, this batch is dropped.
	require.NoError(t, bw.Submit(func(ctx context.Context, tx *sql.Tx) error { return nil }))
	close(blocker)

	select {
	case e := <-errCh:
		assert.ErrorContains(t, e, "dropping batch")
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected OnError to be called when batch dropped")
	}
	assert.ErrorContains(t, bw.Close(), "dropping batch")
}
