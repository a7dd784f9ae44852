package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/japaniel/vortaro/pkg/config"
	"github.com/japaniel/vortaro/pkg/db"
	"github.com/japaniel/vortaro/pkg/deeplink"
	"github.com/japaniel/vortaro/pkg/dictionary"
	"github.com/japaniel/vortaro/pkg/ingest"
	"github.com/japaniel/vortaro/pkg/logging"
	"github.com/japaniel/vortaro/pkg/lookup"
)

func main() {
	// Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "vortaro: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	url        string
	file       string
	query      string
	dir        string
	hash       string
	sources    string
	random     bool
	stats      bool
	link       bool
	exportDB   string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("vortaro", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "", "Path to YAML config file")
	fs.StringVar(&o.url, "url", "", "Dictionary JSON URL (overrides config)")
	fs.StringVar(&o.file, "file", "", "Local dictionary JSON file, optionally gzipped (overrides config)")
	fs.StringVar(&o.query, "q", "", "Search query")
	fs.StringVar(&o.dir, "dir", "", "Search direction token, e.g. io-eo or eo-io")
	fs.StringVar(&o.hash, "hash", "", "Deep-link fragment to restore, e.g. #eo-io:bona")
	fs.StringVar(&o.sources, "sources", "", "Comma-separated source tags to filter by")
	fs.BoolVar(&o.random, "random", false, "Print a random entry")
	fs.BoolVar(&o.stats, "stats", false, "Print corpus statistics")
	fs.BoolVar(&o.link, "link", false, "Print the deep link for the search")
	fs.StringVar(&o.exportDB, "export-db", "", "Write the corpus to this SQLite file")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() > 0 && o.query == "" {
		o.query = strings.Join(fs.Args(), " ")
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	switch {
	case opts.url != "":
		cfg.Source.URL, cfg.Source.Path = opts.url, ""
	case opts.file != "":
		cfg.Source.URL, cfg.Source.Path = "", opts.file
	}
	if err := cfg.ValidateSource(); err != nil {
		return err
	}

	logger := logging.NewWithWriter(cfg.Log, stderr)
	defer func() { _ = logger.Sync() }()

	var fetcher dictionary.Fetcher
	if cfg.Source.URL != "" {
		hf := dictionary.NewHTTPFetcher(cfg.Source.URL, cfg.Source.Timeout, logger)
		hf.MaxBytes = cfg.Source.MaxBytes
		fetcher = hf
	} else {
		fetcher = dictionary.FileFetcher{Path: cfg.Source.Path, MaxBytes: cfg.Source.MaxBytes}
	}

	engine := lookup.New(
		dictionary.NewNormalizer(cfg.Languages.Target),
		lookup.WithFetcher(fetcher),
		lookup.WithLogger(logger),
	)
	if err := engine.Refresh(ctx); err != nil {
		return fmt.Errorf("load dictionary: %w", err)
	}

	pair := lookup.LanguagePair{Source: cfg.Languages.Source, Target: cfg.Languages.Target}
	codec := deeplink.New(pair)

	query := opts.query
	if opts.hash != "" {
		l := codec.Decode(opts.hash)
		if l.HasDirection {
			engine.SetDirection(l.Direction)
		}
		if query == "" {
			query = l.Query
		}
	}
	if opts.dir != "" {
		d, ok := pair.ParseDirection(opts.dir)
		if !ok {
			return fmt.Errorf("unknown direction %q (want %s or %s)", opts.dir, pair.Token(lookup.Forward), pair.Token(lookup.Reverse))
		}
		engine.SetDirection(d)
	}
	if opts.sources != "" {
		engine.SetSourceFilter(splitList(opts.sources))
	}

	fmt.Fprintf(stdout, "Loaded %d entries (%s).\n", engine.Len(), pair.Token(engine.Direction()))

	if opts.stats {
		printStats(stdout, engine)
	}

	if opts.random {
		e, ok := engine.RandomEntry()
		if !ok {
			fmt.Fprintln(stdout, "No entries match the source filter.")
		} else {
			fmt.Fprintln(stdout, formatEntry(e))
		}
	}

	if strings.TrimSpace(query) != "" {
		results := engine.Search(query)
		for _, e := range results {
			fmt.Fprintln(stdout, formatEntry(e))
		}
		fmt.Fprintf(stdout, "%d result(s) for %q.\n", len(results), strings.TrimSpace(query))
		if opts.link {
			fmt.Fprintf(stdout, "Link: #%s\n", codec.Encode(engine.Direction(), strings.TrimSpace(query)))
		}
	}

	if opts.exportDB != "" {
		if err := exportCorpus(ctx, stdout, logger, cfg.Export, engine.Corpus(), opts.exportDB); err != nil {
			return err
		}
	}
	return nil
}

func exportCorpus(ctx context.Context, w io.Writer, logger *zap.Logger, cfg config.ExportConfig, corpus *dictionary.Corpus, path string) error {
	conn, err := db.Open(path)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	defer conn.Close()

	ex := ingest.NewExporter(conn, logger)
	ex.BatchSize = cfg.BatchSize
	ex.Workers = cfg.Workers
	ex.OnProgress = func(current, total int) {
		logger.Debug("export progress", zap.Int("current", current), zap.Int("total", total))
	}

	n, err := ex.Export(ctx, corpus)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Exported %d entries to %s.\n", n, path)

	sources, err := db.ListSources(conn)
	if err != nil {
		return fmt.Errorf("export: list sources: %w", err)
	}
	for _, s := range sources {
		fmt.Fprintf(w, "  %-28s %-12s %d\n", s.Tag, s.Kind, s.Entries)
	}
	return nil
}

func printStats(w io.Writer, engine *lookup.Engine) {
	fmt.Fprintf(w, "Words: %d\n", engine.WordCount())

	counts := engine.SourceCounts()
	if meta := engine.Metadata(); meta != nil {
		if meta.LastUpdated != nil {
			fmt.Fprintf(w, "Last updated: %s\n", *meta.LastUpdated)
		}
		if len(meta.SourceStats) > 0 {
			counts = meta.SourceStats
		}
	}

	tags := make([]string, 0, len(counts))
	for tag := range counts {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	for _, tag := range tags {
		fmt.Fprintf(w, "  %-28s %d\n", tag, counts[tag])
	}
}

// formatEntry renders "lemma → t1, t2 [pos] (source, source)"; pivot sources
// are starred.
func formatEntry(e dictionary.Entry) string {
	var b strings.Builder
	b.WriteString(e.Lemma)
	b.WriteString(" → ")
	b.WriteString(strings.Join(e.Translations, ", "))
	if e.PartOfSpeech != dictionary.PartOfSpeechUnknown && e.PartOfSpeech != "" {
		fmt.Fprintf(&b, " [%s]", strings.ToLower(e.PartOfSpeech.String()))
	}
	if len(e.Provenance) > 0 {
		badges := make([]string, 0, len(e.Provenance))
		for _, a := range e.Provenance {
			if a.Kind == dictionary.ProvenancePivot {
				badges = append(badges, a.Tag+"*")
				continue
			}
			badges = append(badges, a.Tag)
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(badges, ", "))
	}
	return b.String()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
