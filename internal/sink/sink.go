// Package sink writes ordered task results to their destination.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Record is one emitted result.
type Record struct {
	RunID   string        `json:"run_id"`
	Index   int           `json:"index"`
	Input   string        `json:"input"`
	Output  string        `json:"output"`
	Elapsed time.Duration `json:"-"`
}

// MarshalJSON reports Elapsed in milliseconds.
func (r Record) MarshalJSON() ([]byte, error) {
	type plain Record
	return json.Marshal(struct {
		plain
		ElapsedMS int64 `json:"elapsed_ms"`
	}{plain(r), r.Elapsed.Milliseconds()})
}

// Sink receives records in emission order. Write is never called
// concurrently.
type Sink interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}

// Text writes each record's output verbatim, newline terminated.
type Text struct {
	w io.Writer
}

func NewText(w io.Writer) *Text {
	return &Text{w: w}
}

func (t *Text) Write(_ context.Context, rec Record) error {
	out := rec.Output
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	_, err := io.WriteString(t.w, out)
	return err
}

func (t *Text) Close() error { return nil }

// JSONLines writes one JSON object per record.
type JSONLines struct {
	enc *json.Encoder
}

func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{enc: json.NewEncoder(w)}
}

func (j *JSONLines) Write(_ context.Context, rec Record) error {
	return j.enc.Encode(rec)
}

func (j *JSONLines) Close() error { return nil }

// Multi fans each record out to every sink in order and stops at the first
// failure.
type Multi []Sink

func (m Multi) Write(ctx context.Context, rec Record) error {
	for _, s := range m {
		if err := s.Write(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink and joins their errors.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close sinks: %w", errors.Join(errs...))
	}
	return nil
}
