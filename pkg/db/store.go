package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/japaniel/vortaro/pkg/dictionary"
)

// DBExecutor is an interface that allows methods to accept either *sql.DB or *sql.Tx
type DBExecutor interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// ErrEntryNotFound is returned when no entry has the requested lemma.
var ErrEntryNotFound = errors.New("entry not found")

// Metadata keys written by SaveMetadata.
const (
	MetaTotalEntries = "total_entries"
	MetaLastUpdated  = "last_updated"
	MetaSourceStats  = "source_stats"
	MetaVariant      = "variant"
)

// isUniqueConstraintErr returns true when the error indicates a unique/constraint violation
func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "unique") || strings.Contains(s, "constraint failed")
}

// ResetCorpus deletes every stored entry, source and metadata row.
func ResetCorpus(db DBExecutor) error {
	for _, table := range []string{"entry_sources", "translations", "morphology", "entries", "sources", "corpus_metadata"} {
		if _, err := db.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return nil
}

// SaveEntry stores e at the given corpus position, replacing any previous row
// for the same lemma together with its translations, morphology and source
// links. It returns the entry id.
func SaveEntry(db DBExecutor, e dictionary.Entry, position int) (int64, error) {
	lemma := strings.TrimSpace(e.Lemma)
	if lemma == "" {
		return 0, fmt.Errorf("lemma must be non-empty")
	}

	var id int64
	err := db.QueryRow(`INSERT INTO entries (lemma, part_of_speech, provenance, position)
			  VALUES (?, ?, ?, ?)
			  ON CONFLICT(lemma)
			  DO UPDATE SET
			    part_of_speech = excluded.part_of_speech,
			    provenance = excluded.provenance,
			    position = excluded.position
			  RETURNING id`,
		e.Lemma, e.PartOfSpeech.String(), e.Strongest().String(), position).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert entry %s: %w", e.Lemma, err)
	}

	for _, table := range []string{"translations", "morphology", "entry_sources"} {
		if _, err := db.Exec("DELETE FROM "+table+" WHERE entry_id = ?", id); err != nil {
			return 0, fmt.Errorf("clear %s for %s: %w", table, e.Lemma, err)
		}
	}

	for i, term := range e.Translations {
		if _, err := db.Exec(`INSERT OR IGNORE INTO translations (entry_id, term, position) VALUES (?, ?, ?)`, id, term, i); err != nil {
			return 0, fmt.Errorf("insert translation %q: %w", term, err)
		}
	}
	for i, code := range e.Morphology {
		if _, err := db.Exec(`INSERT OR IGNORE INTO morphology (entry_id, code, position) VALUES (?, ?, ?)`, id, code, i); err != nil {
			return 0, fmt.Errorf("insert morphology %q: %w", code, err)
		}
	}
	for i, tag := range e.Sources {
		sourceID, err := CreateOrGetSource(db, dictionary.ClassifySource(tag))
		if err != nil {
			return 0, err
		}
		if err := LinkEntryToSource(db, id, sourceID, i); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// CreateOrGetSource returns existing source id or inserts a new source and returns its id.
func CreateOrGetSource(db DBExecutor, a dictionary.Attestation) (int64, error) {
	tag := strings.TrimSpace(a.Tag)
	if tag == "" {
		return 0, fmt.Errorf("source tag must be non-empty")
	}

	const maxRetries = 3

	var id int64
	for attempt := 0; attempt < maxRetries; attempt++ {
		err := db.QueryRow(`SELECT id FROM sources WHERE tag = ?`, tag).Scan(&id)
		if err == nil {
			return id, nil
		}
		if err != sql.ErrNoRows {
			return 0, err
		}

		res, err := db.Exec(`INSERT INTO sources (tag, kind, lang) VALUES (?, ?, ?)`, tag, a.Kind.String(), a.Lang)
		if err != nil {
			// Another connection inserted the same tag; select it on the next pass.
			if isUniqueConstraintErr(err) {
				continue
			}
			return 0, err
		}
		return res.LastInsertId()
	}

	return 0, fmt.Errorf("could not create or get source %q after %d retries", tag, maxRetries)
}

// LinkEntryToSource records that the source attests the entry.
func LinkEntryToSource(db DBExecutor, entryID, sourceID int64, position int) error {
	if entryID <= 0 {
		return fmt.Errorf("entryID must be positive")
	}
	if sourceID <= 0 {
		return fmt.Errorf("sourceID must be positive")
	}
	_, err := db.Exec(`INSERT INTO entry_sources (entry_id, source_id, position) VALUES (?, ?, ?)
		ON CONFLICT(entry_id, source_id) DO UPDATE SET position = excluded.position`,
		entryID, sourceID, position)
	if err != nil {
		return fmt.Errorf("link entry %d to source %d: %w", entryID, sourceID, err)
	}
	return nil
}

// SaveMetadata writes the corpus-level summary. A nil m stores only the
// variant and the entry count.
func SaveMetadata(db DBExecutor, m *dictionary.Metadata, variant dictionary.Variant, entries int) error {
	values := map[string]string{
		MetaVariant:      variant.String(),
		MetaTotalEntries: strconv.Itoa(entries),
	}
	if m != nil {
		values[MetaTotalEntries] = strconv.Itoa(m.TotalEntries)
		if m.LastUpdated != nil {
			values[MetaLastUpdated] = *m.LastUpdated
		}
		if len(m.SourceStats) > 0 {
			stats, err := json.Marshal(m.SourceStats)
			if err != nil {
				return fmt.Errorf("encode source stats: %w", err)
			}
			values[MetaSourceStats] = string(stats)
		}
	}

	for k, v := range values {
		if _, err := db.Exec(`INSERT INTO corpus_metadata (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, v); err != nil {
			return fmt.Errorf("save metadata %s: %w", k, err)
		}
	}
	return nil
}

// GetMetadata returns all stored metadata as key/value pairs.
func GetMetadata(db DBExecutor) (map[string]string, error) {
	rows, err := db.Query(`SELECT key, value FROM corpus_metadata`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k string
		var v sql.NullString
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v.String
	}
	return out, rows.Err()
}

// CountEntries returns the number of stored entries.
func CountEntries(db DBExecutor) (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// GetEntryByLemma rebuilds a stored entry. It returns ErrEntryNotFound when
// the lemma is absent.
func GetEntryByLemma(db DBExecutor, lemma string) (*dictionary.Entry, error) {
	var row EntryRow
	err := db.QueryRow(`SELECT id, lemma, part_of_speech, provenance, position FROM entries WHERE lemma = ?`, lemma).
		Scan(&row.ID, &row.Lemma, &row.PartOfSpeech, &row.Provenance, &row.Position)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, lemma)
	}
	if err != nil {
		return nil, err
	}

	e := &dictionary.Entry{Lemma: row.Lemma, PartOfSpeech: dictionary.PartOfSpeech(row.PartOfSpeech)}
	if e.Translations, err = column(db, `SELECT term FROM translations WHERE entry_id = ? ORDER BY position`, row.ID); err != nil {
		return nil, fmt.Errorf("load translations: %w", err)
	}
	if e.Morphology, err = column(db, `SELECT code FROM morphology WHERE entry_id = ? ORDER BY position`, row.ID); err != nil {
		return nil, fmt.Errorf("load morphology: %w", err)
	}
	if e.Sources, err = column(db, `SELECT s.tag FROM sources s JOIN entry_sources es ON es.source_id = s.id
		WHERE es.entry_id = ? ORDER BY es.position`, row.ID); err != nil {
		return nil, fmt.Errorf("load sources: %w", err)
	}
	e.Provenance = make([]dictionary.Attestation, 0, len(e.Sources))
	for _, tag := range e.Sources {
		e.Provenance = append(e.Provenance, dictionary.ClassifySource(tag))
	}
	return e, nil
}

// GetEntriesBySource returns the entries attested by tag in corpus order.
func GetEntriesBySource(db DBExecutor, tag string) ([]EntryRow, error) {
	rows, err := db.Query(`SELECT e.id, e.lemma, e.part_of_speech, e.provenance, e.position
		FROM entries e
		JOIN entry_sources es ON es.entry_id = e.id
		JOIN sources s ON s.id = es.source_id
		WHERE s.tag = ?
		ORDER BY e.position`, tag)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EntryRow
	for rows.Next() {
		var r EntryRow
		if err := rows.Scan(&r.ID, &r.Lemma, &r.PartOfSpeech, &r.Provenance, &r.Position); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListSources returns every stored source with its entry count, ordered by tag.
func ListSources(db DBExecutor) ([]SourceRow, error) {
	rows, err := db.Query(`SELECT s.id, s.tag, s.kind, s.lang, COUNT(es.entry_id)
		FROM sources s
		LEFT JOIN entry_sources es ON es.source_id = s.id
		GROUP BY s.id
		ORDER BY s.tag`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SourceRow
	for rows.Next() {
		var r SourceRow
		if err := rows.Scan(&r.ID, &r.Tag, &r.Kind, &r.Lang, &r.Entries); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func column(db DBExecutor, query string, args ...interface{}) ([]string, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
