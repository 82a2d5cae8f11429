// Package config loads learnsync settings from an optional YAML file and
// LEARNSYNC_* environment variables, and checks the result against an
// embedded CUE schema.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/roach88/learnsync/internal/store"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LEARNSYNC_"

//go:embed schema.cue
var schemaSource string

// Config is the resolved configuration.
type Config struct {
	DataDir string `yaml:"data_dir" env:"DATA_DIR"`
	Driver  string `yaml:"driver" env:"DRIVER"`
	Listen  string `yaml:"listen" env:"LISTEN"`

	Sync   SyncConfig   `yaml:"sync" envPrefix:"SYNC_"`
	Remote RemoteConfig `yaml:"remote" envPrefix:"REMOTE_"`
	Log    LogConfig    `yaml:"log" envPrefix:"LOG_"`
}

// SyncConfig tunes the sync engine and scheduler.
type SyncConfig struct {
	Interval      time.Duration `yaml:"interval" env:"INTERVAL"`
	MaxInterval   time.Duration `yaml:"max_interval" env:"MAX_INTERVAL"`
	Concurrency   int           `yaml:"concurrency" env:"CONCURRENCY"`
	SubmitTimeout time.Duration `yaml:"submit_timeout" env:"SUBMIT_TIMEOUT"`
}

// RemoteConfig tunes the web-service client.
type RemoteConfig struct {
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL" json:"level"`
	Format string `yaml:"format" env:"FORMAT" json:"format"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		DataDir: "./learnsync-data",
		Driver:  store.DriverCgo,
		Listen:  "127.0.0.1:8089",
		Sync: SyncConfig{
			Interval:      5 * time.Minute,
			MaxInterval:   time.Hour,
			Concurrency:   4,
			SubmitTimeout: 30 * time.Second,
		},
		Remote: RemoteConfig{Timeout: 30 * time.Second},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is not empty), then environment overrides. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// schemaView is the shape the CUE schema constrains.
type schemaView struct {
	DataDir string `json:"data_dir"`
	Driver  string `json:"driver"`
	Listen  string `json:"listen"`
	Sync    struct {
		IntervalMS      int64 `json:"interval_ms"`
		MaxIntervalMS   int64 `json:"max_interval_ms"`
		Concurrency     int   `json:"concurrency"`
		SubmitTimeoutMS int64 `json:"submit_timeout_ms"`
	} `json:"sync"`
	Remote struct {
		TimeoutMS int64 `json:"timeout_ms"`
	} `json:"remote"`
	Log LogConfig `json:"log"`
}

func (c Config) view() schemaView {
	var v schemaView
	v.DataDir = c.DataDir
	v.Driver = c.Driver
	v.Listen = c.Listen
	v.Sync.IntervalMS = c.Sync.Interval.Milliseconds()
	v.Sync.MaxIntervalMS = c.Sync.MaxInterval.Milliseconds()
	v.Sync.Concurrency = c.Sync.Concurrency
	v.Sync.SubmitTimeoutMS = c.Sync.SubmitTimeout.Milliseconds()
	v.Remote.TimeoutMS = c.Remote.Timeout.Milliseconds()
	v.Log = c.Log
	return v
}

// ValidationError lists every schema violation found.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Problems, "; ")
}

// Validate checks c against the embedded schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	v := def.Unify(ctx.Encode(c.view()))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		var problems []string
		for _, e := range cueerrors.Errors(err) {
			problems = append(problems, e.Error())
		}
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Logger builds the process logger. verbose forces debug level.
func (c LogConfig) Logger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	switch c.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
