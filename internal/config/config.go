// Package config loads seqpool run settings from TOML, YAML or JSON files and
// turns them into executor and retry options.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/utkarsh5026/seqpool/internal/algorithms"
	"github.com/utkarsh5026/seqpool/internal/fsutil"
	"github.com/utkarsh5026/seqpool/pool"
	"github.com/utkarsh5026/seqpool/ratelimit"
	"github.com/utkarsh5026/seqpool/retry"
)

// ErrInvalidConfig is returned for documents that fail schema or semantic
// validation.
var ErrInvalidConfig = errors.New("invalid config")

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "seqpool-config.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

// Config mirrors the on-disk document. Durations are Go duration strings.
type Config struct {
	Parallelism       int        `toml:"parallelism" yaml:"parallelism" json:"parallelism"`
	WaitTimeout       string     `toml:"wait_timeout" yaml:"wait_timeout" json:"wait_timeout"`
	TaskTimeout       string     `toml:"task_timeout" yaml:"task_timeout" json:"task_timeout"`
	MaxBacklog        int        `toml:"max_backlog" yaml:"max_backlog" json:"max_backlog"`
	MaxTimeoutRetries int        `toml:"max_timeout_retries" yaml:"max_timeout_retries" json:"max_timeout_retries"`
	TimeoutWarnAfter  int        `toml:"timeout_warn_after" yaml:"timeout_warn_after" json:"timeout_warn_after"`
	RateLimit         *RateLimit `toml:"rate_limit" yaml:"rate_limit" json:"rate_limit,omitempty"`
	Retry             Retry      `toml:"retry" yaml:"retry" json:"retry"`
	Log               Log        `toml:"log" yaml:"log" json:"log"`
}

// RateLimit configures a token bucket admitting Capacity task starts per
// Period.
type RateLimit struct {
	Capacity int    `toml:"capacity" yaml:"capacity" json:"capacity"`
	Period   string `toml:"period" yaml:"period" json:"period"`
}

// Retry configures retries of failing tasks. MaxRetries of zero disables
// retrying and -1 retries forever.
type Retry struct {
	MaxRetries   int    `toml:"max_retries" yaml:"max_retries" json:"max_retries"`
	BackoffStart string `toml:"backoff_start" yaml:"backoff_start" json:"backoff_start"`
	BackoffRate  string `toml:"backoff_rate" yaml:"backoff_rate" json:"backoff_rate"`
	BackoffType  string `toml:"backoff_type" yaml:"backoff_type" json:"backoff_type"`
}

type Log struct {
	Level  string `toml:"level" yaml:"level" json:"level"`
	Format string `toml:"format" yaml:"format" json:"format"`
}

// Default returns the settings used when no file is given.
func Default() Config {
	return Config{
		Parallelism:       5,
		WaitTimeout:       "1s",
		TaskTimeout:       "5s",
		MaxTimeoutRetries: -1,
		TimeoutWarnAfter:  5,
		Retry: Retry{
			BackoffStart: "100ms",
			BackoffRate:  "100ms",
			BackoffType:  "linear",
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load reads path, validates it against the embedded schema and overlays it
// on Default. The format follows the file extension.
func Load(path string) (Config, error) {
	format, err := fsutil.FormatOf(path)
	if err != nil {
		return Config{}, err
	}
	if format == fsutil.Gob {
		return Config{}, fmt.Errorf("%w: gob is not a config format", ErrInvalidConfig)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(format, data)
}

// Parse validates and decodes an in-memory document.
func Parse(format fsutil.Format, data []byte) (Config, error) {
	raw := map[string]any{}
	if err := fsutil.Decode(format, data, &raw); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := validateSchema(raw); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if err := fsutil.Decode(format, data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks what the schema cannot express, such as whether duration
// strings parse.
func (c Config) Validate() error {
	var errs []error

	check := func(field, value string) {
		if value == "" {
			return
		}
		if d, err := time.ParseDuration(value); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s: %q is not a positive duration", field, value))
		}
	}

	check("wait_timeout", c.WaitTimeout)
	check("task_timeout", c.TaskTimeout)
	check("retry.backoff_start", c.Retry.BackoffStart)
	check("retry.backoff_rate", c.Retry.BackoffRate)

	if c.Parallelism < 1 {
		errs = append(errs, fmt.Errorf("parallelism: must be at least 1, got %d", c.Parallelism))
	}
	if c.MaxBacklog != 0 && c.MaxBacklog < c.Parallelism {
		errs = append(errs, fmt.Errorf("max_backlog: %d is below parallelism %d", c.MaxBacklog, c.Parallelism))
	}
	if c.RateLimit != nil {
		if _, err := c.rateLimiter(); err != nil {
			errs = append(errs, fmt.Errorf("rate_limit: %w", err))
		}
	}
	if _, ok := algorithms.ParseBackoffType(c.Retry.BackoffType); !ok {
		errs = append(errs, fmt.Errorf("retry.backoff_type: unknown %q", c.Retry.BackoffType))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// ExecutorOptions converts the settings into executor options.
func (c Config) ExecutorOptions(logger *log.Logger) ([]pool.Option, error) {
	opts := []pool.Option{
		pool.WithParallelism(c.Parallelism),
		pool.WithWaitTimeout(duration(c.WaitTimeout)),
		pool.WithTaskTimeout(duration(c.TaskTimeout)),
		pool.WithMaxBacklog(c.MaxBacklog),
		pool.WithMaxTimeoutRetries(c.MaxTimeoutRetries),
		pool.WithTimeoutWarnAfter(c.TimeoutWarnAfter),
	}
	if logger != nil {
		opts = append(opts, pool.WithLogger(logger))
	}

	if c.RateLimit != nil {
		tb, err := c.rateLimiter()
		if err != nil {
			return nil, fmt.Errorf("%w: rate_limit: %w", ErrInvalidConfig, err)
		}
		opts = append(opts, pool.WithLimiter(tb))
	}
	return opts, nil
}

// RetryPolicy returns a per-call retry policy for failing tasks, or nil when
// retries are disabled.
func (c Config) RetryPolicy(logger *log.Logger) *retry.Policy {
	if c.Retry.MaxRetries == 0 {
		return nil
	}

	kind, _ := algorithms.ParseBackoffType(c.Retry.BackoffType)
	opts := []retry.Option{
		retry.WithBackoff(duration(c.Retry.BackoffStart), duration(c.Retry.BackoffRate)),
		retry.WithBackoffType(kind),
		retry.WithMaxRetries(c.Retry.MaxRetries),
		retry.WithScope(retry.ScopePerCall),
	}
	if logger != nil {
		opts = append(opts, retry.WithLogger(logger))
	}
	return retry.New(opts...)
}

// LogLevel parses Log.Level, defaulting to info.
func (c Config) LogLevel() (log.Level, error) {
	if c.Log.Level == "" {
		return log.InfoLevel, nil
	}
	return log.ParseLevel(c.Log.Level)
}

func (c Config) rateLimiter() (*ratelimit.TokenBucket, error) {
	period, err := time.ParseDuration(c.RateLimit.Period)
	if err != nil {
		return nil, err
	}
	return ratelimit.New(c.RateLimit.Capacity, period)
}

// duration parses an already validated duration string; empty means zero,
// which the option constructors ignore.
func duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = compiler.Compile(schemaURL)
	})
	return schema, schemaErr
}

func validateSchema(raw map[string]any) error {
	sch, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	// Round trip through JSON so YAML and TOML values take JSON shapes.
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, schemaMessages(err))
	}
	return nil
}

func schemaMessages(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}

	var msgs []string
	collectLeaves(ve, &msgs)
	if len(msgs) == 0 {
		return ve.Error()
	}
	return fmt.Sprint(msgs)
}

func collectLeaves(ve *jsonschema.ValidationError, msgs *[]string) {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		*msgs = append(*msgs, loc+": "+ve.Message)
		return
	}
	for _, cause := range ve.Causes {
		collectLeaves(cause, msgs)
	}
}
