package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mameuix/mameuix/internal/admission"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

type Config struct {
	Engine    Engine           `yaml:"engine"`
	Admission admission.Config `yaml:"admission"`
	Icons     Icons            `yaml:"icons"`
	Verify    Verify           `yaml:"verify"`
	Log       Log              `yaml:"log"`
}

// Engine sizes the worker pool and the per-tick drain.
type Engine struct {
	PoolCap      int           `yaml:"pool_cap"`      // upper bound, the pool never exceeds GOMAXPROCS
	ResultBuffer int           `yaml:"result_buffer"` // capacity of the result channel
	DrainPerTick int           `yaml:"drain_per_tick"`
	SampleWindow int           `yaml:"sample_window"` // performance samples kept per job kind
	Tick         time.Duration `yaml:"tick"`          // UI frame interval of the headless and TUI loops
}

// Icons configures icon loading and the icon cache.
type Icons struct {
	Dir       string        `yaml:"dir,omitempty"`
	Size      int           `yaml:"size"` // 0 keeps the source dimensions
	MaxCached int           `yaml:"max_cached"`
	Lifetime  time.Duration `yaml:"lifetime"`
}

type Verify struct {
	Manifest string `yaml:"manifest,omitempty"`
}

type Log struct {
	Level   string `yaml:"level"`
	Verbose bool   `yaml:"verbose"`
}

// SlogLevel maps the configured level, Verbose wins over Level.
func (l Log) SlogLevel() slog.Level {
	if l.Verbose {
		return slog.LevelDebug
	}
	switch strings.ToLower(l.Level) {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func DefaultConfig(_ context.Context) Config {
	return Config{
		Engine: Engine{
			PoolCap:      8,
			ResultBuffer: 256,
			DrainPerTick: 50,
			SampleWindow: 500,
			Tick:         16 * time.Millisecond,
		},
		Admission: admission.DefaultConfig(),
		Icons: Icons{
			Size:      32,
			MaxCached: 2000,
			Lifetime:  5 * time.Minute,
		},
		Log: Log{
			Level: LogLevelInfo,
		},
	}
}

// LoadConfig decodes YAML from r over the default configuration and validates
// the result. Missing fields keep their defaults, unknown fields are errors.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig(context.Background())
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate returns every problem found joined into one error. Use
// ConfigErrDetails to get them back.
func (c Config) Validate() error {
	var errs []error
	add := func(path, code, format string, args ...any) {
		errs = append(errs, ConfigError{Path: path, Code: code, Message: fmt.Sprintf(format, args...)})
	}

	if c.Engine.PoolCap < 1 {
		add("engine.pool_cap", CodeOutOfRange, "must be positive, got %d", c.Engine.PoolCap)
	}
	if c.Engine.ResultBuffer < 0 {
		add("engine.result_buffer", CodeOutOfRange, "must not be negative, got %d", c.Engine.ResultBuffer)
	}
	if c.Engine.DrainPerTick < 1 {
		add("engine.drain_per_tick", CodeOutOfRange, "must be positive, got %d", c.Engine.DrainPerTick)
	}
	if c.Engine.SampleWindow < 1 {
		add("engine.sample_window", CodeOutOfRange, "must be positive, got %d", c.Engine.SampleWindow)
	}
	if c.Engine.Tick <= 0 {
		add("engine.tick", CodeOutOfRange, "must be positive, got %s", c.Engine.Tick)
	}

	if err := c.Admission.Validate(); err != nil {
		for _, e := range unjoin(err) {
			add("admission", CodeInvalid, "%s", e.Error())
		}
	}

	if c.Icons.Size < 0 {
		add("icons.size", CodeOutOfRange, "must not be negative, got %d", c.Icons.Size)
	}
	if c.Icons.MaxCached < 1 {
		add("icons.max_cached", CodeOutOfRange, "must be positive, got %d", c.Icons.MaxCached)
	}
	if c.Icons.Lifetime < 0 {
		add("icons.lifetime", CodeOutOfRange, "must not be negative, got %s", c.Icons.Lifetime)
	}

	switch strings.ToLower(c.Log.Level) {
	case "", LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
	default:
		add("log.level", CodeInvalidEnum, "possible values (%s): got %s",
			strings.Join([]string{LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError}, ","), c.Log.Level)
	}
	return errors.Join(errs...)
}
