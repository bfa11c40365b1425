// Package logging builds the line-formatted loggers used across seqpool.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// TimeFormat matches "Mon 02 Jan 2006 15:04:05 MST".
const TimeFormat = "Mon 02 Jan 2006 15:04:05 MST"

type options struct {
	w      io.Writer
	level  log.Level
	format log.Formatter
	fields []any
}

// Option configures New.
type Option func(*options)

// WithWriter sends output to w instead of stdout.
func WithWriter(w io.Writer) Option {
	return func(o *options) {
		if w != nil {
			o.w = w
		}
	}
}

// WithLevel sets the minimum level written.
func WithLevel(level log.Level) Option {
	return func(o *options) {
		o.level = level
	}
}

// WithFormat selects text, json or logfmt output.
func WithFormat(f log.Formatter) Option {
	return func(o *options) {
		o.format = f
	}
}

// WithFields attaches key/value pairs to every line.
func WithFields(keyvals ...any) Option {
	return func(o *options) {
		o.fields = append(o.fields, keyvals...)
	}
}

// New returns a logger prefixed with key that reports level, timestamp and
// caller on every line.
func New(key string, opts ...Option) *log.Logger {
	o := &options{
		w:      os.Stdout,
		level:  log.InfoLevel,
		format: log.TextFormatter,
	}
	for _, opt := range opts {
		opt(o)
	}

	logger := log.NewWithOptions(o.w, log.Options{
		Prefix:          key,
		Level:           o.level,
		ReportTimestamp: true,
		ReportCaller:    true,
		TimeFormat:      TimeFormat,
		Formatter:       o.format,
	})
	if len(o.fields) > 0 {
		logger = logger.With(o.fields...)
	}
	return logger
}

// Nop returns a logger that discards everything.
func Nop() *log.Logger {
	return log.New(io.Discard)
}

// ParseFormat maps "text", "json" and "logfmt" to a formatter.
func ParseFormat(name string) (log.Formatter, error) {
	switch strings.ToLower(name) {
	case "", "text":
		return log.TextFormatter, nil
	case "json":
		return log.JSONFormatter, nil
	case "logfmt":
		return log.LogfmtFormatter, nil
	}
	return log.TextFormatter, fmt.Errorf("unknown log format %q", name)
}
