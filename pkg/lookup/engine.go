package lookup

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"github.com/japaniel/vortaro/pkg/dictionary"
)

var (
	// ErrNoFetcher is returned by Refresh when the engine has no corpus source.
	ErrNoFetcher = errors.New("lookup: no fetcher configured")
	// ErrSuperseded is returned by a load that was overtaken by a newer one.
	ErrSuperseded = errors.New("lookup: load superseded by a newer load")
)

// snapshot is one loaded corpus plus the indices derived from it. It is
// never mutated after construction.
type snapshot struct {
	entries      []dictionary.Entry
	metadata     *dictionary.Metadata
	variant      dictionary.Variant
	lemmaKeys    []string
	translations [][]string
	sources      []string
	sourceCounts map[string]int
}

func newSnapshot(corpus *dictionary.Corpus) *snapshot {
	s := &snapshot{
		entries:      corpus.Entries,
		metadata:     corpus.Metadata,
		variant:      corpus.Variant,
		lemmaKeys:    make([]string, len(corpus.Entries)),
		translations: make([][]string, len(corpus.Entries)),
		sourceCounts: make(map[string]int),
	}
	folder := cases.Fold()
	for i, e := range corpus.Entries {
		s.lemmaKeys[i] = folder.String(e.Lemma)
		keys := make([]string, len(e.Translations))
		for j, t := range e.Translations {
			keys[j] = folder.String(t)
		}
		s.translations[i] = keys
		for _, src := range e.Sources {
			s.sourceCounts[src]++
		}
	}
	s.sources = make([]string, 0, len(s.sourceCounts))
	for src := range s.sourceCounts {
		s.sources = append(s.sources, src)
	}
	slices.Sort(s.sources)
	return s
}

func (s *snapshot) matches(i int, dir Direction, query string) bool {
	if dir == Forward {
		return strings.Contains(s.lemmaKeys[i], query)
	}
	for _, t := range s.translations[i] {
		if strings.Contains(t, query) {
			return true
		}
	}
	return false
}

// Engine holds the loaded corpus and the user's search state. It is created
// once per session: Load (or Refresh), then any number of Search and filter
// calls, then optionally another Load that replaces the corpus wholesale.
type Engine struct {
	normalizer dictionary.Normalizer
	fetcher    dictionary.Fetcher
	log        *zap.Logger

	mu        sync.RWMutex
	snap      *snapshot
	direction Direction
	// filter is replaced, never mutated, so readers may keep a reference.
	filter map[string]struct{}
	rng    *rand.Rand

	loadMu     sync.Mutex
	generation uint64
	cancelLoad context.CancelFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithFetcher sets the corpus source used by Refresh.
func WithFetcher(f dictionary.Fetcher) Option {
	return func(e *Engine) { e.fetcher = f }
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l.Named("lookup")
		}
	}
}

// WithRand sets the random source used by RandomEntry.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) {
		if r != nil {
			e.rng = r
		}
	}
}

// New creates an Engine with an empty corpus, Forward direction and no
// source filter.
func New(normalizer dictionary.Normalizer, opts ...Option) *Engine {
	e := &Engine{
		normalizer: normalizer,
		log:        zap.NewNop(),
		snap:       newSnapshot(&dictionary.Corpus{}),
		filter:     map[string]struct{}{},
		rng:        rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load normalizes raw and atomically replaces the corpus. Direction and
// source filter are kept. On error the previous corpus stays in place.
// A Load started while another is running cancels the earlier one; only the
// newest load may install its result.
func (e *Engine) Load(ctx context.Context, raw []byte) error {
	ctx, gen, done := e.beginLoad(ctx)
	defer done()
	return e.install(ctx, gen, raw)
}

// Refresh fetches the corpus from the configured Fetcher and loads it.
func (e *Engine) Refresh(ctx context.Context) error {
	if e.fetcher == nil {
		return ErrNoFetcher
	}
	ctx, gen, done := e.beginLoad(ctx)
	defer done()

	raw, err := e.fetcher.Fetch(ctx)
	if err != nil {
		if !e.current(gen) {
			return ErrSuperseded
		}
		e.log.Warn("corpus refresh failed, keeping previous corpus", zap.Error(err))
		return fmt.Errorf("lookup: refresh: %w", err)
	}
	return e.install(ctx, gen, raw)
}

func (e *Engine) beginLoad(parent context.Context) (context.Context, uint64, func()) {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	if e.cancelLoad != nil {
		e.cancelLoad()
	}
	ctx, cancel := context.WithCancel(parent)
	e.generation++
	gen := e.generation
	e.cancelLoad = cancel

	return ctx, gen, func() {
		cancel()
		e.loadMu.Lock()
		if e.generation == gen {
			e.cancelLoad = nil
		}
		e.loadMu.Unlock()
	}
}

func (e *Engine) current(gen uint64) bool {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()
	return e.generation == gen
}

func (e *Engine) install(ctx context.Context, gen uint64, raw []byte) error {
	corpus, err := e.normalizer.Normalize(raw)
	if err != nil {
		if !e.current(gen) {
			return ErrSuperseded
		}
		e.log.Warn("corpus rejected, keeping previous corpus", zap.Error(err))
		return fmt.Errorf("lookup: load: %w", err)
	}
	snap := newSnapshot(corpus)

	e.loadMu.Lock()
	defer e.loadMu.Unlock()
	if e.generation != gen {
		return ErrSuperseded
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("lookup: load: %w", err)
	}

	e.mu.Lock()
	e.snap = snap
	e.mu.Unlock()

	e.log.Info("corpus loaded",
		zap.Stringer("variant", corpus.Variant),
		zap.Int("entries", len(snap.entries)),
		zap.Int("sources", len(snap.sources)),
	)
	return nil
}

// Search returns the entries matching query in the current direction and
// source filter, in corpus order. The query is trimmed and case-folded; an
// empty query yields an empty result.
func (e *Engine) Search(query string) []dictionary.Entry {
	q := cases.Fold().String(strings.TrimSpace(query))
	if q == "" {
		return []dictionary.Entry{}
	}

	e.mu.RLock()
	snap, dir, filter := e.snap, e.direction, e.filter
	e.mu.RUnlock()

	results := make([]dictionary.Entry, 0)
	for i := range snap.entries {
		if !snap.matches(i, dir, q) {
			continue
		}
		if len(filter) > 0 && !snap.entries[i].HasSource(filter) {
			continue
		}
		results = append(results, snap.entries[i])
	}
	return results
}

// Direction returns the current search direction.
func (e *Engine) Direction() Direction {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.direction
}

// SetDirection changes the search direction. It does not re-run any search.
func (e *Engine) SetDirection(d Direction) {
	e.mu.Lock()
	e.direction = d
	e.mu.Unlock()
}

// ToggleDirection flips the search direction and returns the new one.
func (e *Engine) ToggleDirection() Direction {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.direction = e.direction.Toggle()
	return e.direction
}

// SetSourceFilter restricts Search and RandomEntry to entries attested by at
// least one of sources. An empty set disables filtering.
func (e *Engine) SetSourceFilter(sources []string) {
	filter := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		filter[s] = struct{}{}
	}
	e.mu.Lock()
	e.filter = filter
	e.mu.Unlock()
}

// ClearSourceFilter removes the source filter.
func (e *Engine) ClearSourceFilter() {
	e.SetSourceFilter(nil)
}

// SourceFilter returns the active filter, sorted.
func (e *Engine) SourceFilter() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.filter))
	for s := range e.filter {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

// AvailableSources returns every source tag present in the corpus, sorted.
func (e *Engine) AvailableSources() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.snap.sources)
}

// SourceCounts returns how many entries each source tag attests.
func (e *Engine) SourceCounts() map[string]int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]int, len(e.snap.sourceCounts))
	for k, v := range e.snap.sourceCounts {
		out[k] = v
	}
	return out
}

// RandomEntry picks uniformly among the entries that pass the source filter.
// It reports false when no entry passes.
func (e *Engine) RandomEntry() (dictionary.Entry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries := e.snap.entries
	if len(e.filter) == 0 {
		if len(entries) == 0 {
			return dictionary.Entry{}, false
		}
		return entries[e.rng.IntN(len(entries))], true
	}

	visible := make([]int, 0, len(entries))
	for i := range entries {
		if entries[i].HasSource(e.filter) {
			visible = append(visible, i)
		}
	}
	if len(visible) == 0 {
		return dictionary.Entry{}, false
	}
	return entries[visible[e.rng.IntN(len(visible))]], true
}

// Entries returns the loaded corpus in order. The slice is shared and must
// not be modified.
func (e *Engine) Entries() []dictionary.Entry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap.entries
}

// Corpus returns the loaded corpus. Its entries are shared and must not be
// modified.
func (e *Engine) Corpus() *dictionary.Corpus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return &dictionary.Corpus{Entries: e.snap.entries, Metadata: e.snap.metadata, Variant: e.snap.variant}
}

// Len is the number of loaded entries.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.snap.entries)
}

// Metadata returns the corpus metadata, or nil when the payload had none.
func (e *Engine) Metadata() *dictionary.Metadata {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap.metadata
}

// WordCount is the corpus size as advertised by its metadata, falling back
// to the number of loaded entries.
func (e *Engine) WordCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.snap.metadata != nil {
		return e.snap.metadata.TotalEntries
	}
	return len(e.snap.entries)
}
