// Package config loads the settings shared by the command line tools.
// Values are layered: defaults, then an optional YAML file, then
// CHESSTACTICS_* environment variables, then command line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/freeeve/chesstactics/internal/label"
	"github.com/freeeve/chesstactics/internal/policy"
	"github.com/freeeve/chesstactics/internal/rating"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CHESSTACTICS_"

// Config is the full configuration of a run.
type Config struct {
	DB     string `yaml:"db"`
	Source string `yaml:"source"`

	Log    LogConfig     `yaml:"log"`
	Engine EngineConfig  `yaml:"engine"`
	Cache  CacheConfig   `yaml:"cache"`
	Batch  BatchConfig   `yaml:"batch"`
	Ingest IngestConfig  `yaml:"ingest"`
	API    APIConfig     `yaml:"api"`
	Policy policy.Config `yaml:"policy"`
	Label  label.Config  `yaml:"label"`
	Rating rating.Config `yaml:"rating"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type EngineConfig struct {
	Path        string        `yaml:"path"`
	HashMB      int           `yaml:"hash_mb"`
	Threads     int           `yaml:"threads"`
	Nice        int           `yaml:"nice"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRestarts int           `yaml:"max_restarts"`
}

type CacheConfig struct {
	Capacity int `yaml:"capacity"` // entries per worker, 0 disables
}

type BatchConfig struct {
	Workers               int    `yaml:"workers"`
	ChunkSize             int    `yaml:"chunk_size"`
	MaxGames              int    `yaml:"max_games"` // 0 means all
	Offset                int    `yaml:"offset"`
	MaxConsecutiveCrashes int    `yaml:"max_consecutive_crashes"`
	Schedule              string `yaml:"schedule"` // cron spec, empty runs once
}

type IngestConfig struct {
	Platform  string `yaml:"platform"`
	MinRating int    `yaml:"min_rating"`
	BatchSize int    `yaml:"batch_size"`
	ECOPath   string `yaml:"eco_path"`
}

type APIConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DB:     "./data/chesstactics.db",
		Source: "default",
		Log:    LogConfig{Level: "info"},
		Engine: EngineConfig{
			Path:        "stockfish",
			HashMB:      256,
			Threads:     1,
			Timeout:     30 * time.Second,
			MaxRestarts: 2,
		},
		Cache: CacheConfig{Capacity: 100_000},
		Batch: BatchConfig{
			Workers:               4,
			ChunkSize:             10_000,
			MaxConsecutiveCrashes: 5,
		},
		Ingest: IngestConfig{Platform: "lichess", BatchSize: 1000},
		API:    APIConfig{Addr: ":8007"},
		Policy: policy.Default(),
		Label:  label.Default(),
		Rating: rating.Default(),
	}
}

// ErrorKind classifies configuration errors.
type ErrorKind int

const (
	// KindInvalidRange is a value outside its allowed range.
	KindInvalidRange ErrorKind = iota + 1
	// KindInvalidFile is an unreadable or unparseable config file.
	KindInvalidFile
)

// Error reports a bad configuration value.
type Error struct {
	Kind  ErrorKind
	Field string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config %s: %s: %v", e.Field, e.Msg, e.Err)
	}
	return fmt.Sprintf("config %s: %s", e.Field, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// IsConfigError reports whether err is a *Error.
func IsConfigError(err error) bool {
	var cerr *Error
	return errors.As(err, &cerr)
}

// LoadFile merges the YAML file at path into c. Keys missing from the file
// keep their current values.
func (c *Config) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return &Error{Kind: KindInvalidFile, Field: "file", Msg: path, Err: err}
	}
	defer f.Close()
	return c.decode(path, f)
}

func (c *Config) decode(name string, r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return &Error{Kind: KindInvalidFile, Field: "file", Msg: name, Err: err}
	}
	return nil
}

// LoadEnv applies CHESSTACTICS_* overrides. lookup is os.LookupEnv outside
// tests.
func (c *Config) LoadEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	var firstErr error
	num := func(name string, dst *int) {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			if firstErr == nil {
				firstErr = &Error{Kind: KindInvalidRange, Field: EnvPrefix + name, Msg: "not an integer", Err: err}
			}
			return
		}
		*dst = n
	}

	str("DB", &c.DB)
	str("SOURCE", &c.Source)
	str("LOG_LEVEL", &c.Log.Level)
	if v, ok := lookup(EnvPrefix + "LOG_JSON"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil && firstErr == nil {
			firstErr = &Error{Kind: KindInvalidRange, Field: EnvPrefix + "LOG_JSON", Msg: "not a boolean", Err: err}
		}
		if err == nil {
			c.Log.JSON = b
		}
	}
	str("STOCKFISH", &c.Engine.Path)
	num("ENGINE_HASH_MB", &c.Engine.HashMB)
	num("ENGINE_THREADS", &c.Engine.Threads)
	if v, ok := lookup(EnvPrefix + "ENGINE_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil && firstErr == nil {
			firstErr = &Error{Kind: KindInvalidRange, Field: EnvPrefix + "ENGINE_TIMEOUT", Msg: "not a duration", Err: err}
		}
		if err == nil {
			c.Engine.Timeout = d
		}
	}
	num("CACHE_CAPACITY", &c.Cache.Capacity)
	num("WORKERS", &c.Batch.Workers)
	num("CHUNK_SIZE", &c.Batch.ChunkSize)
	str("SCHEDULE", &c.Batch.Schedule)
	str("API_ADDR", &c.API.Addr)
	str("PLATFORM", &c.Ingest.Platform)
	num("RATING_MIN", &c.Ingest.MinRating)
	str("ECO_PATH", &c.Ingest.ECOPath)
	return firstErr
}

// BindFlags registers the command line overrides on fs, writing into c.
// Flag defaults are the values c holds when BindFlags is called.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.DB, "db", c.DB, "SQLite database path")
	fs.StringVar(&c.Source, "source", c.Source, "game source name")
	fs.StringVar(&c.Log.Level, "log-level", c.Log.Level, "log level (debug, info, warn, error)")
	fs.BoolVar(&c.Log.JSON, "log-json", c.Log.JSON, "emit JSON log lines")
	fs.StringVar(&c.Engine.Path, "stockfish", c.Engine.Path, "path to a UCI engine binary")
	fs.IntVar(&c.Engine.HashMB, "engine-hash", c.Engine.HashMB, "engine hash size in MB")
	fs.IntVar(&c.Engine.Threads, "engine-threads", c.Engine.Threads, "engine search threads")
	fs.IntVar(&c.Engine.Nice, "engine-nice", c.Engine.Nice, "nice value for engine processes (0-19)")
	fs.DurationVar(&c.Engine.Timeout, "engine-timeout", c.Engine.Timeout, "per-position engine timeout")
	fs.IntVar(&c.Cache.Capacity, "cache-size", c.Cache.Capacity, "evaluation cache entries per worker")
	fs.IntVar(&c.Batch.Workers, "workers", c.Batch.Workers, "number of analysis workers")
	fs.IntVar(&c.Batch.ChunkSize, "chunk-size", c.Batch.ChunkSize, "games per chunk")
	fs.IntVar(&c.Batch.MaxGames, "max-games", c.Batch.MaxGames, "maximum games to analyze (0 = all)")
	fs.IntVar(&c.Batch.Offset, "offset", c.Batch.Offset, "skip this many unanalyzed games")
	fs.StringVar(&c.Batch.Schedule, "schedule", c.Batch.Schedule, "cron spec for recurring runs")
	fs.StringVar(&c.API.Addr, "addr", c.API.Addr, "HTTP listen address")
	fs.StringVar(&c.Ingest.Platform, "platform", c.Ingest.Platform, "rating platform of imported games")
	fs.IntVar(&c.Ingest.MinRating, "rating-min", c.Ingest.MinRating, "rating floor for imported games")
	fs.StringVar(&c.Ingest.ECOPath, "eco", c.Ingest.ECOPath, "ECO .tsv file or directory")
}

// Parse builds a Config for a command: defaults, the file named by -config,
// the environment, then the flags in args. extra registers command specific
// flags; it is called on every flag set Parse creates.
func Parse(name string, args []string, lookup func(string) (string, bool), extra func(*flag.FlagSet)) (Config, error) {
	// First pass only finds -config.
	scratch := Default()
	pre := flag.NewFlagSet(name, flag.ContinueOnError)
	pre.SetOutput(io.Discard)
	path := pre.String("config", "", "")
	scratch.BindFlags(pre)
	if extra != nil {
		extra(pre)
	}
	if err := pre.Parse(args); err != nil {
		return Config{}, &Error{Kind: KindInvalidRange, Field: "flags", Msg: "parse", Err: err}
	}

	cfg := Default()
	if *path != "" {
		if err := cfg.LoadFile(*path); err != nil {
			return Config{}, err
		}
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := cfg.LoadEnv(lookup); err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.String("config", *path, "YAML config file")
	cfg.BindFlags(fs)
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return Config{}, &Error{Kind: KindInvalidRange, Field: "flags", Msg: "parse", Err: err}
	}
	return cfg, cfg.Validate()
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	invalid := func(field, format string, args ...any) error {
		return &Error{Kind: KindInvalidRange, Field: field, Msg: fmt.Sprintf(format, args...)}
	}
	switch {
	case strings.TrimSpace(c.DB) == "":
		return invalid("db", "must not be empty")
	case c.Batch.Workers < 1:
		return invalid("batch.workers", "must be >= 1, got %d", c.Batch.Workers)
	case c.Batch.ChunkSize < 1:
		return invalid("batch.chunk_size", "must be >= 1, got %d", c.Batch.ChunkSize)
	case c.Batch.MaxGames < 0:
		return invalid("batch.max_games", "must be >= 0, got %d", c.Batch.MaxGames)
	case c.Batch.Offset < 0:
		return invalid("batch.offset", "must be >= 0, got %d", c.Batch.Offset)
	case c.Batch.MaxConsecutiveCrashes < 1:
		return invalid("batch.max_consecutive_crashes", "must be >= 1, got %d", c.Batch.MaxConsecutiveCrashes)
	case c.Engine.Timeout <= 0:
		return invalid("engine.timeout", "must be positive, got %s", c.Engine.Timeout)
	case c.Engine.MaxRestarts < 0:
		return invalid("engine.max_restarts", "must be >= 0, got %d", c.Engine.MaxRestarts)
	case c.Engine.Threads < 1:
		return invalid("engine.threads", "must be >= 1, got %d", c.Engine.Threads)
	case c.Engine.Nice < 0 || c.Engine.Nice > 19:
		return invalid("engine.nice", "must be in [0, 19], got %d", c.Engine.Nice)
	case c.Cache.Capacity < 0:
		return invalid("cache.capacity", "must be >= 0, got %d", c.Cache.Capacity)
	case c.Ingest.MinRating < 0:
		return invalid("ingest.min_rating", "must be >= 0, got %d", c.Ingest.MinRating)
	}

	t := c.Label.Thresholds
	if t.Good < 0 || t.Good >= t.Inaccuracy || t.Inaccuracy >= t.Mistake {
		return invalid("label.thresholds", "must satisfy 0 <= good < inaccuracy < mistake, got %d/%d/%d",
			t.Good, t.Inaccuracy, t.Mistake)
	}

	p := c.Policy
	if p.MinDepth < 1 || p.MaxDepth < p.MinDepth {
		return invalid("policy.max_depth", "depth range [%d, %d] is empty", p.MinDepth, p.MaxDepth)
	}
	if p.MaxLines < 1 {
		return invalid("policy.max_lines", "must be >= 1, got %d", p.MaxLines)
	}
	if p.SkipOpeningPlies < 0 {
		return invalid("policy.skip_opening_plies", "must be >= 0, got %d", p.SkipOpeningPlies)
	}

	for name, rg := range c.Rating.Ranges {
		if rg.Min <= 0 || rg.Max <= rg.Min {
			return invalid("rating.ranges."+name, "invalid range [%d, %d]", rg.Min, rg.Max)
		}
	}
	return nil
}
