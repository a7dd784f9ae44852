package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/japaniel/vortaro/pkg/db"
	"github.com/japaniel/vortaro/pkg/dictionary"
)

// WorkerPoolInterface abstracts the worker pool so tests can inject failing implementations.
type WorkerPoolInterface interface {
	Start(ctx context.Context)
	Submit(Job) error
	// SubmitCtx attempts to enqueue a job but returns promptly if ctx is canceled.
	SubmitCtx(ctx context.Context, job Job) error
	Close()
}

// Exporter writes a loaded corpus into the SQLite export schema. Each export
// replaces whatever the database held before.
type Exporter struct {
	DB        *sql.DB
	BatchSize int
	Workers   int
	Logger    *zap.Logger
	// OnProgress is called with the number of entries handed to the writer so far.
	OnProgress func(current, total int)

	// PoolFactory allows tests to inject custom worker pool implementations.
	PoolFactory func(workers, queue int) WorkerPoolInterface
}

// NewExporter creates an Exporter with default batch size and worker count.
func NewExporter(conn *sql.DB, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{
		DB:        conn,
		BatchSize: 500,
		Workers:   4,
		Logger:    logger.Named("export"),
	}
}

type preparedEntry struct {
	Entry    dictionary.Entry
	Position int
}

// preparedChunk is one slice of the corpus ready to be written.
type preparedChunk struct {
	Index   int
	Entries []preparedEntry
}

// Export stores every entry of corpus in order together with its metadata and
// returns the number of entries written.
func (ex *Exporter) Export(ctx context.Context, corpus *dictionary.Corpus) (int, error) {
	start := time.Now()
	batchSize := ex.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	workers := ex.Workers
	if workers <= 0 {
		workers = 1
	}
	logger := ex.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("export: %w", err)
	}
	if err := db.ResetCorpus(ex.DB); err != nil {
		return 0, fmt.Errorf("export: %w", err)
	}

	entries := corpus.Entries
	total := len(entries)
	chunks := (total + batchSize - 1) / batchSize

	var wp WorkerPoolInterface
	if ex.PoolFactory != nil {
		wp = ex.PoolFactory(workers, workers*2)
	} else {
		wp = NewWorkerPool(workers, workers*2)
	}
	resultCh := make(chan preparedChunk, workers*2)
	resultClosed := false
	doneCh := make(chan error, 1)

	bw := NewBatchWriter(ex.DB, batchSize, 100*time.Millisecond)
	bw.Logger = logger
	var exported atomic.Int64

	defer func() {
		wp.Close()
		if !resultClosed {
			close(resultCh)
		}
		_ = bw.Close()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wp.Start(ctx)

	// Consumer: reassemble chunks in corpus order and hand them to the writer.
	go func() {
		defer close(doneCh)
		pending := make(map[int]preparedChunk)
		next, written := 0, 0

		drain := func() error {
			for {
				c, ok := pending[next]
				if !ok {
					return nil
				}
				delete(pending, next)
				if err := submitChunk(bw, c, &exported); err != nil {
					return err
				}
				written += len(c.Entries)
				if ex.OnProgress != nil {
					ex.OnProgress(written, total)
				}
				next++
			}
		}

		for {
			select {
			case <-ctx.Done():
				doneCh <- ctx.Err()
				return
			case res, ok := <-resultCh:
				if !ok {
					if err := drain(); err != nil {
						doneCh <- err
						return
					}
					if next != chunks {
						doneCh <- fmt.Errorf("export: only %d of %d chunks prepared", next, chunks)
						return
					}
					doneCh <- nil
					return
				}
				pending[res.Index] = res
				if err := drain(); err != nil {
					cancel()
					doneCh <- err
					return
				}
			}
		}
	}()

	// Producer: one preparation job per chunk.
	for i := 0; i < chunks; i++ {
		lo := i * batchSize
		hi := min(lo+batchSize, total)
		part := entries[lo:hi]

		job := func(ctx context.Context) error {
			res := prepareChunk(i, lo, part)
			select {
			case resultCh <- res:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := wp.SubmitCtx(ctx, job); err != nil {
			if ctx.Err() != nil || err == ErrPoolClosed {
				break
			}
			return 0, fmt.Errorf("export: submit chunk %d: %w", i, err)
		}
	}

	wp.Close()
	close(resultCh)
	resultClosed = true

	err := <-doneCh
	if err == nil {
		err = ctx.Err()
	}
	if cerr := bw.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return int(exported.Load()), fmt.Errorf("export: %w", err)
	}

	n := int(exported.Load())
	if err := db.SaveMetadata(ex.DB, corpus.Metadata, corpus.Variant, n); err != nil {
		return n, fmt.Errorf("export: %w", err)
	}

	stats := bw.Stats()
	logger.Info("export finished",
		zap.Int("entries", n),
		zap.Int64("batches", stats.Batches),
		zap.Duration("elapsed", time.Since(start)),
	)
	return n, nil
}

func submitChunk(bw *BatchWriter, c preparedChunk, exported *atomic.Int64) error {
	for _, pe := range c.Entries {
		err := bw.Submit(func(ctx context.Context, tx *sql.Tx) error {
			if _, err := db.SaveEntry(tx, pe.Entry, pe.Position); err != nil {
				return fmt.Errorf("persist entry %s: %w", pe.Entry.Lemma, err)
			}
			exported.Add(1)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// prepareChunk fills in derived fields for entries that did not come out of
// the normalizer and skips blank lemmas.
func prepareChunk(index, offset int, entries []dictionary.Entry) preparedChunk {
	out := preparedChunk{Index: index, Entries: make([]preparedEntry, 0, len(entries))}
	for i, e := range entries {
		if strings.TrimSpace(e.Lemma) == "" {
			continue
		}
		if len(e.Provenance) != len(e.Sources) {
			e.Provenance = make([]dictionary.Attestation, 0, len(e.Sources))
			for _, tag := range e.Sources {
				e.Provenance = append(e.Provenance, dictionary.ClassifySource(tag))
			}
		}
		if e.PartOfSpeech == "" {
			e.PartOfSpeech = dictionary.ClassifyMorphology(e.Morphology)
		}
		out.Entries = append(out.Entries, preparedEntry{Entry: e, Position: offset + i})
	}
	return out
}
