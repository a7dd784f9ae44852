package lookup

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/japaniel/vortaro/pkg/dictionary"
)

const corpusPayload = `{
  "metadata": {"total_unique_ido_words": 4, "last_updated": "2025-12-04"},
  "kavalo":   {"esperanto_words": ["ĉevalo"],   "morfologio": ["o__n"],   "sources": ["io_wiktionary"]},
  "kavalino": {"esperanto_words": ["ĉevalino"], "morfologio": ["o__n"],   "sources": ["fr_wiktionary_meaning"]},
  "bona":     {"esperanto_words": ["bona", "bonkora"], "morfologio": ["a__adj"], "sources": ["io_wiktionary", "en_wiktionary_meaning"]},
  "Parizo":   {"esperanto_words": ["Parizo"],   "morfologio": [],         "sources": ["io_wikipedia"]}
}`

const smallPayload = `{
  "entries": [
    {"lemma": "hundo", "translations": [{"term": "hundo", "lang": "eo"}],
     "source_details": {"all_sources": ["io_wiktionary"]}, "morphology": {"paradigm": "o__n"}}
  ]
}`

func lemmas(entries []dictionary.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Lemma)
	}
	return out
}

func loadedEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e := New(dictionary.NewNormalizer(""), opts...)
	require.NoError(t, e.Load(context.Background(), []byte(corpusPayload)))
	return e
}

// expected computes the search result by brute force over the loaded corpus.
func expected(e *Engine, query string) []string {
	q := strings.ToLower(strings.TrimSpace(query))
	filter := map[string]struct{}{}
	for _, s := range e.SourceFilter() {
		filter[s] = struct{}{}
	}
	out := []string{}
	if q == "" {
		return out
	}
	for _, entry := range e.Entries() {
		hit := false
		if e.Direction() == Forward {
			hit = strings.Contains(strings.ToLower(entry.Lemma), q)
		} else {
			for _, tr := range entry.Translations {
				if strings.Contains(strings.ToLower(tr), q) {
					hit = true
				}
			}
		}
		if hit && (len(filter) == 0 || entry.HasSource(filter)) {
			out = append(out, entry.Lemma)
		}
	}
	return out
}

func TestEngine_EmptyBeforeLoad(t *testing.T) {
	t.Parallel()

	e := New(dictionary.NewNormalizer(""))
	assert.Empty(t, e.Search("kav"))
	assert.Empty(t, e.AvailableSources())
	assert.Nil(t, e.Metadata())
	assert.Equal(t, 0, e.WordCount())
	_, ok := e.RandomEntry()
	assert.False(t, ok)
}

func TestEngine_SearchMatchesBruteForce(t *testing.T) {
	t.Parallel()

	e := loadedEngine(t)
	queries := []string{"kav", "KAVAL", "  ino ", "a", "bon", "ĉeval", "Ĉ", "pariz", "zzz", "o"}
	filters := [][]string{nil, {"io_wiktionary"}, {"fr_wiktionary_meaning", "io_wikipedia"}, {"missing"}}

	for _, dir := range []Direction{Forward, Reverse} {
		e.SetDirection(dir)
		for _, f := range filters {
			e.SetSourceFilter(f)
			for _, q := range queries {
				assert.Equal(t, expected(e, q), lemmas(e.Search(q)), "dir=%s filter=%v q=%q", dir, f, q)
			}
		}
	}
}

func TestEngine_Scenario(t *testing.T) {
	t.Parallel()

	e := loadedEngine(t)

	assert.Equal(t, []string{"kavalo", "kavalino"}, lemmas(e.Search("kav")))
	assert.Equal(t, []string{"Parizo"}, lemmas(e.Search("PARIZ")), "search is case-insensitive")

	assert.Equal(t, Reverse, e.ToggleDirection())
	assert.Equal(t, []string{"bona"}, lemmas(e.Search("bon")))
	assert.Equal(t, []string{"kavalo", "kavalino"}, lemmas(e.Search("ĈEVAL")))
	assert.Empty(t, e.Search("kav"), "reverse search ignores lemmas")

	assert.Equal(t, Forward, e.ToggleDirection())
}

func TestEngine_KavaloBona(t *testing.T) {
	t.Parallel()

	e := New(dictionary.NewNormalizer(""))
	require.NoError(t, e.Load(context.Background(), []byte(`{
	  "metadata": {},
	  "kavalo": {"esperanto_words": ["ĉevalo"], "morfologio": ["o__n"], "sources": ["io_wiktionary"]},
	  "bona":   {"esperanto_words": ["bona"],   "morfologio": ["a__adj"]}
	}`)))

	e.SetDirection(Reverse)
	assert.Equal(t, []string{"kavalo"}, lemmas(e.Search("ev")))

	e.SetDirection(Forward)
	assert.Equal(t, []string{"bona"}, lemmas(e.Search("bon")))
}

func TestEngine_EmptyQuery(t *testing.T) {
	t.Parallel()

	e := loadedEngine(t)
	for _, q := range []string{"", "   ", "\t\n"} {
		got := e.Search(q)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	}
}

func TestEngine_SourceFilter(t *testing.T) {
	t.Parallel()

	e := loadedEngine(t)
	unfiltered := lemmas(e.Search("a"))

	e.SetSourceFilter([]string{"io_wiktionary"})
	assert.Equal(t, []string{"io_wiktionary"}, e.SourceFilter())
	filtered := lemmas(e.Search("a"))
	assert.Equal(t, []string{"kavalo", "bona"}, filtered)
	assert.LessOrEqual(t, len(filtered), len(unfiltered))
	assert.Subset(t, unfiltered, filtered)

	e.SetSourceFilter([]string{"io_wiktionary", "io_wikipedia"})
	assert.Equal(t, []string{"kavalo", "bona", "Parizo"}, lemmas(e.Search("a")), "filter is a union")

	e.ClearSourceFilter()
	assert.Empty(t, e.SourceFilter())
	assert.Equal(t, unfiltered, lemmas(e.Search("a")))

	e.SetSourceFilter([]string{})
	assert.Equal(t, unfiltered, lemmas(e.Search("a")), "empty filter shows everything")
}

func TestEngine_AvailableSourcesAndCounts(t *testing.T) {
	t.Parallel()

	e := loadedEngine(t)
	assert.Equal(t, []string{
		"en_wiktionary_meaning",
		"fr_wiktionary_meaning",
		"io_wikipedia",
		"io_wiktionary",
	}, e.AvailableSources())
	assert.Equal(t, map[string]int{
		"io_wiktionary":         2,
		"fr_wiktionary_meaning": 1,
		"en_wiktionary_meaning": 1,
		"io_wikipedia":          1,
	}, e.SourceCounts())

	e.SourceCounts()["io_wiktionary"] = 100
	assert.Equal(t, 2, e.SourceCounts()["io_wiktionary"], "returned map is a copy")
}

func TestEngine_RandomEntry(t *testing.T) {
	t.Parallel()

	e := loadedEngine(t, WithRand(rand.New(rand.NewPCG(1, 2))))

	seen := map[string]bool{}
	for range 200 {
		entry, ok := e.RandomEntry()
		require.True(t, ok)
		seen[entry.Lemma] = true
	}
	assert.Len(t, seen, 4, "every entry is reachable")

	e.SetSourceFilter([]string{"fr_wiktionary_meaning", "io_wikipedia"})
	for range 50 {
		entry, ok := e.RandomEntry()
		require.True(t, ok)
		assert.Contains(t, []string{"kavalino", "Parizo"}, entry.Lemma)
	}

	e.SetSourceFilter([]string{"missing"})
	_, ok := e.RandomEntry()
	assert.False(t, ok)
}

func TestEngine_Metadata(t *testing.T) {
	t.Parallel()

	e := loadedEngine(t)
	require.NotNil(t, e.Metadata())
	assert.Equal(t, 4, e.WordCount())
	assert.Equal(t, 4, e.Len())
	assert.Equal(t, dictionary.VariantFlat, e.Corpus().Variant)
	assert.Len(t, e.Corpus().Entries, 4)

	require.NoError(t, e.Load(context.Background(), []byte(`{"kato": {"esperanto_words": ["kato"]}}`)))
	assert.Nil(t, e.Metadata())
	assert.Equal(t, 1, e.WordCount(), "falls back to entry count")
}

func TestEngine_LoadFailureKeepsPreviousCorpus(t *testing.T) {
	t.Parallel()

	e := loadedEngine(t)
	before := lemmas(e.Entries())

	err := e.Load(context.Background(), []byte(`[1, 2, 3]`))
	require.Error(t, err)
	assert.ErrorIs(t, err, dictionary.ErrMalformedInput)

	assert.Equal(t, before, lemmas(e.Entries()))
	assert.Equal(t, []string{"kavalo", "kavalino"}, lemmas(e.Search("kav")))
}

func TestEngine_ReloadKeepsDirectionAndFilter(t *testing.T) {
	t.Parallel()

	e := loadedEngine(t)
	e.SetDirection(Reverse)
	e.SetSourceFilter([]string{"io_wiktionary"})

	require.NoError(t, e.Load(context.Background(), []byte(smallPayload)))
	assert.Equal(t, Reverse, e.Direction())
	assert.Equal(t, []string{"io_wiktionary"}, e.SourceFilter())
	assert.Equal(t, []string{"io_wiktionary"}, e.AvailableSources(), "derived indices are rebuilt")
	assert.Equal(t, []string{"hundo"}, lemmas(e.Search("hund")))
	assert.Equal(t, dictionary.VariantStructured, e.Corpus().Variant)
	assert.Empty(t, e.Search("ĉeval"))
}

func TestEngine_Refresh(t *testing.T) {
	t.Parallel()

	t.Run("http", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(corpusPayload))
		}))
		defer srv.Close()

		e := New(dictionary.NewNormalizer(""), WithFetcher(dictionary.NewHTTPFetcher(srv.URL, time.Second, nil)))
		require.NoError(t, e.Refresh(context.Background()))
		assert.Equal(t, 4, e.Len())
	})

	t.Run("fetch failure keeps corpus", func(t *testing.T) {
		t.Parallel()
		e := loadedEngine(t, WithFetcher(dictionary.FileFetcher{Path: t.TempDir() + "/missing.json"}))

		err := e.Refresh(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, dictionary.ErrFetch)
		assert.Equal(t, 4, e.Len())
	})

	t.Run("no fetcher", func(t *testing.T) {
		t.Parallel()
		e := New(dictionary.NewNormalizer(""))
		assert.ErrorIs(t, e.Refresh(context.Background()), ErrNoFetcher)
	})
}

// blockingFetcher signals started and then waits for its context to end.
type blockingFetcher struct {
	started chan struct{}
}

func (f *blockingFetcher) Fetch(ctx context.Context) ([]byte, error) {
	close(f.started)
	<-ctx.Done()
	return nil, &dictionary.FetchError{Source: "blocking", Err: ctx.Err()}
}

func TestEngine_NewerLoadSupersedesInFlightRefresh(t *testing.T) {
	t.Parallel()

	f := &blockingFetcher{started: make(chan struct{})}
	e := New(dictionary.NewNormalizer(""), WithFetcher(f))

	var wg sync.WaitGroup
	var refreshErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		refreshErr = e.Refresh(context.Background())
	}()

	<-f.started
	require.NoError(t, e.Load(context.Background(), []byte(smallPayload)))
	wg.Wait()

	assert.True(t, errors.Is(refreshErr, ErrSuperseded), "got %v", refreshErr)
	assert.Equal(t, []string{"hundo"}, lemmas(e.Entries()))
}

func TestEngine_LoadCanceledContext(t *testing.T) {
	t.Parallel()

	e := loadedEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Load(ctx, []byte(smallPayload))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 4, e.Len())
}

func TestEngine_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	e := loadedEngine(t)
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for range 50 {
				switch i % 4 {
				case 0:
					e.Search("a")
				case 1:
					e.ToggleDirection()
				case 2:
					e.SetSourceFilter([]string{"io_wiktionary"})
				case 3:
					e.RandomEntry()
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestLanguagePair_Tokens(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "io-eo", DefaultPair.Token(Forward))
	assert.Equal(t, "eo-io", DefaultPair.Token(Reverse))

	tests := []struct {
		token string
		want  Direction
		ok    bool
	}{
		{"io-eo", Forward, true},
		{"eo-io", Reverse, true},
		{" IO-EO ", Forward, true},
		{"eo-en", Forward, false},
		{"", Forward, false},
	}
	for _, tt := range tests {
		got, ok := DefaultPair.ParseDirection(tt.token)
		assert.Equal(t, tt.ok, ok, tt.token)
		assert.Equal(t, tt.want, got, tt.token)
	}
	assert.Equal(t, Forward, Reverse.Toggle())
	assert.Equal(t, "reverse", Reverse.String())
}
