package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"
)

func TestText(t *testing.T) {
	var buf bytes.Buffer
	s := NewText(&buf)
	ctx := context.Background()

	for _, out := range []string{"one", "two\n", ""} {
		if err := s.Write(ctx, Record{Output: out}); err != nil {
			t.Fatal(err)
		}
	}

	if got, want := buf.String(), "one\ntwo\n\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestJSONLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONLines(&buf)

	rec := Record{RunID: "r1", Index: 2, Input: "in", Output: "out", Elapsed: 1500 * time.Millisecond}
	if err := s.Write(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d", len(lines))
	}

	var got map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatal(err)
	}

	want := map[string]any{"run_id": "r1", "index": float64(2), "input": "in", "output": "out", "elapsed_ms": float64(1500)}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}
	if _, ok := got["Elapsed"]; ok {
		t.Error("raw Elapsed should not be encoded")
	}
}

type failingSink struct{ closeErr error }

func (f failingSink) Write(context.Context, Record) error { return errors.New("write failed") }
func (f failingSink) Close() error                        { return f.closeErr }

func TestMulti(t *testing.T) {
	var a, b bytes.Buffer
	m := Multi{NewText(&a), NewText(&b)}

	if err := m.Write(context.Background(), Record{Output: "x"}); err != nil {
		t.Fatal(err)
	}
	if a.String() != "x\n" || b.String() != "x\n" {
		t.Errorf("fan out failed: %q %q", a.String(), b.String())
	}

	var c bytes.Buffer
	m = Multi{failingSink{}, NewText(&c)}
	if err := m.Write(context.Background(), Record{Output: "x"}); err == nil {
		t.Error("expected the first failure to stop the write")
	}
	if c.Len() != 0 {
		t.Error("sinks after a failure should not be written")
	}

	closeErr := errors.New("boom")
	if err := (Multi{failingSink{closeErr: closeErr}, NewText(&c)}).Close(); !errors.Is(err, closeErr) {
		t.Errorf("Close() = %v", err)
	}
}

func TestColumnSpec(t *testing.T) {
	tests := []struct {
		keys []string
		want string
	}{
		{[]string{"b", "a"}, "( a,b ) VALUES ( :a,:b )"},
		{[]string{"output"}, "( output ) VALUES ( :output )"},
		{[]string{"idx", "run_id", "input"}, "( idx,input,run_id ) VALUES ( :idx,:input,:run_id )"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := ColumnSpec(tt.keys); got != tt.want {
				t.Errorf("ColumnSpec(%v) = %q, want %q", tt.keys, got, tt.want)
			}
		})
	}
}

func TestColumnSpec_DoesNotReorderInput(t *testing.T) {
	keys := []string{"z", "a"}
	ColumnSpec(keys)
	if keys[0] != "z" {
		t.Error("ColumnSpec must not sort the caller's slice")
	}
}

func TestInsertQuery(t *testing.T) {
	got := InsertQuery("results", recordColumns(Record{}))
	want := `INSERT INTO "results" ( elapsed_ms,idx,input,output,run_id ) VALUES ( :elapsed_ms,:idx,:input,:output,:run_id )`
	if got != want {
		t.Errorf("got  %s\nwant %s", got, want)
	}

	if s := NewSQL(nil, "results"); s.insert != want {
		t.Errorf("NewSQL insert = %s", s.insert)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"direct", &pq.Error{Code: uniqueViolation}, true},
		{"wrapped", fmt.Errorf("insert: %w", &pq.Error{Code: uniqueViolation}), true},
		{"other code", &pq.Error{Code: "23503"}, false},
		{"not a pq error", errors.New("connection refused"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUniqueViolation(tt.err); got != tt.want {
				t.Errorf("isUniqueViolation(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
