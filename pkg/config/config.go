// Package config loads vortaro settings from an optional YAML file and
// VORTARO_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"golang.org/x/text/language"
)

// Config is the root CLI configuration.
type Config struct {
	Source    SourceConfig    `yaml:"source"`
	Languages LanguagesConfig `yaml:"languages"`
	Log       LogConfig       `yaml:"log"`
	Export    ExportConfig    `yaml:"export"`
}

// SourceConfig says where the corpus comes from. URL and Path are mutually
// exclusive.
type SourceConfig struct {
	URL      string        `yaml:"url"       env:"VORTARO_SOURCE_URL"`
	Path     string        `yaml:"path"      env:"VORTARO_SOURCE_PATH"`
	Timeout  time.Duration `yaml:"timeout"   env:"VORTARO_SOURCE_TIMEOUT"   env-default:"30s"`
	MaxBytes int64         `yaml:"max_bytes" env:"VORTARO_SOURCE_MAX_BYTES" env-default:"67108864"`
}

// LanguagesConfig names the corpus language pair.
type LanguagesConfig struct {
	Source string `yaml:"source" env:"VORTARO_LANG_SOURCE" env-default:"io"`
	Target string `yaml:"target" env:"VORTARO_LANG_TARGET" env-default:"eo"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"VORTARO_LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"VORTARO_LOG_FORMAT" env-default:"console"`
}

// ExportConfig tunes the SQLite export pipeline.
type ExportConfig struct {
	BatchSize int `yaml:"batch_size" env:"VORTARO_EXPORT_BATCH_SIZE" env-default:"500"`
	Workers   int `yaml:"workers"    env:"VORTARO_EXPORT_WORKERS"    env-default:"4"`
}

// ErrNoSource is returned by ValidateSource when neither URL nor Path is set.
var ErrNoSource = errors.New("config: no corpus source configured (set source.url or source.path)")

// Load reads configuration from path (if non-empty) and the environment.
// Priority: ENV > YAML > defaults. A non-empty path that does not exist is
// an error.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config: file %s: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// Validate checks field values. It does not require a corpus source; see
// ValidateSource.
func (c *Config) Validate() error {
	if c.Source.URL != "" && c.Source.Path != "" {
		return fmt.Errorf("source: url and path are mutually exclusive")
	}
	if c.Source.Timeout <= 0 {
		return fmt.Errorf("source.timeout must be > 0 (got %v)", c.Source.Timeout)
	}
	if c.Source.MaxBytes <= 0 {
		return fmt.Errorf("source.max_bytes must be > 0 (got %d)", c.Source.MaxBytes)
	}

	if err := c.Languages.validate(); err != nil {
		return fmt.Errorf("languages: %w", err)
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console (got %q)", c.Log.Format)
	}

	if c.Export.BatchSize <= 0 {
		return fmt.Errorf("export.batch_size must be > 0 (got %d)", c.Export.BatchSize)
	}
	if c.Export.Workers <= 0 {
		return fmt.Errorf("export.workers must be > 0 (got %d)", c.Export.Workers)
	}
	return nil
}

// ValidateSource reports ErrNoSource unless exactly one of URL or Path is set.
func (c *Config) ValidateSource() error {
	switch {
	case c.Source.URL == "" && c.Source.Path == "":
		return ErrNoSource
	case c.Source.URL != "" && c.Source.Path != "":
		return fmt.Errorf("source: url and path are mutually exclusive")
	}
	return nil
}

func (l *LanguagesConfig) validate() error {
	src, err := language.Parse(l.Source)
	if err != nil {
		return fmt.Errorf("source %q: %w", l.Source, err)
	}
	tgt, err := language.Parse(l.Target)
	if err != nil {
		return fmt.Errorf("target %q: %w", l.Target, err)
	}
	if src == tgt {
		return fmt.Errorf("source and target are both %q", l.Source)
	}
	return nil
}
