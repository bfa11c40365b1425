package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/utkarsh5026/seqpool/internal/config"
	"github.com/utkarsh5026/seqpool/pool"
	"github.com/utkarsh5026/seqpool/retry"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := Run(context.Background(), args, IO{
		In:  strings.NewReader(stdin),
		Out: &out,
		Err: &errOut,
	})
	return out.String(), errOut.String(), err
}

func TestBuildArgv(t *testing.T) {
	tests := []struct {
		name string
		args []string
		line string
		want []string
	}{
		{"append", []string{"echo", "-n"}, "x", []string{"echo", "-n", "x"}},
		{"substitute", []string{"cp", "{}", "{}.bak"}, "a.txt", []string{"cp", "a.txt", "a.txt.bak"}},
		{"embedded", []string{"sh", "-c", "echo {}"}, "hi", []string{"sh", "-c", "echo hi"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildArgv(tt.args, tt.line); !slices.Equal(got, tt.want) {
				t.Errorf("buildArgv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseRate(t *testing.T) {
	tests := []struct {
		in         string
		wantCap    int
		wantPeriod time.Duration
		wantErr    bool
	}{
		{"10/1s", 10, time.Second, false},
		{"3/s", 3, time.Second, false},
		{" 5 / 250ms ", 5, 250 * time.Millisecond, false},
		{"10", 0, 0, true},
		{"0/1s", 0, 0, true},
		{"x/1s", 0, 0, true},
		{"2/never", 0, 0, true},
		{"2/0s", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			c, p, err := parseRate(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseRate(%q) error = %v", tt.in, err)
			}
			if c != tt.wantCap || p != tt.wantPeriod {
				t.Errorf("parseRate(%q) = %d, %v", tt.in, c, p)
			}
		})
	}
}

func TestRun_PreservesInputOrder(t *testing.T) {
	requireShell(t)

	// Earlier lines sleep longer, so they finish last.
	stdin := "0.3\n0.2\n0.1\n0\n"
	out, _, err := runCLI(t, stdin, "-j", "4", "--", "sh", "-c", "sleep {}; echo {}")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if want := "0.3\n0.2\n0.1\n0\n"; out != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

func TestRun_JSONLines(t *testing.T) {
	requireShell(t)

	out, _, err := runCLI(t, "a\nb\n", "-format", "jsonl", "--", "echo")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 records, got %q", out)
	}

	var runID string
	for i, line := range lines {
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatal(err)
		}
		if rec["index"] != float64(i) {
			t.Errorf("record %d index = %v", i, rec["index"])
		}
		if rec["output"] != rec["input"].(string)+"\n" {
			t.Errorf("record %d output = %q", i, rec["output"])
		}
		if i == 0 {
			runID = rec["run_id"].(string)
		} else if rec["run_id"] != runID {
			t.Error("records of one run should share a run id")
		}
	}
}

func TestRun_FailureStopsRun(t *testing.T) {
	requireShell(t)

	out, _, err := runCLI(t, "ok\nbad\nok\n", "-j", "1", "--", "sh", "-c", `test {} = ok && echo {} || { echo nope >&2; exit 3; }`)
	if err == nil {
		t.Fatal("expected the failing line to fail the run")
	}

	var te *pool.TaskError
	if !errors.As(err, &te) || te.Index != 1 {
		t.Errorf("expected a TaskError for index 1, got %v", err)
	}
	if !strings.Contains(err.Error(), "nope") {
		t.Errorf("error should carry the command's stderr: %v", err)
	}
	if out != "ok\n" {
		t.Errorf("only the line before the failure should print, got %q", out)
	}
}

func TestRun_RetriesFailingCommand(t *testing.T) {
	requireShell(t)

	marker := filepath.Join(t.TempDir(), "seen")
	// Fails the first time, succeeds once the marker exists.
	script := `if [ -e ` + marker + ` ]; then echo {}; else touch ` + marker + `; exit 1; fi`

	out, _, err := runCLI(t, "x\n", "-retries", "2", "-backoff", "1ms", "--", "sh", "-c", script)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "x\n" {
		t.Errorf("got %q", out)
	}
}

func TestRun_ExhaustedRetriesReportCommandFailure(t *testing.T) {
	if _, err := exec.LookPath("false"); err != nil {
		t.Skip("false not available")
	}

	_, _, err := runCLI(t, "x\n", "-retries", "1", "-backoff", "1ms", "--", "false")
	if err == nil {
		t.Fatal("expected the failing command to fail the run")
	}
	if errors.Is(err, pool.ErrTaskTimeout) {
		t.Errorf("a failing command must not be reported as a timeout: %v", err)
	}
	if !errors.Is(err, retry.ErrRetriesExhausted) {
		t.Errorf("expected retry exhaustion, got %v", err)
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Errorf("expected the command's exit error to be kept, got %v", err)
	}
}

func TestRun_TaskTimeoutGivesUp(t *testing.T) {
	requireShell(t)

	_, _, err := runCLI(t, "1\n", "-task-timeout", "20ms", "-max-timeout-retries", "1", "--", "sleep")
	if !errors.Is(err, pool.ErrTaskTimeout) {
		t.Fatalf("expected ErrTaskTimeout, got %v", err)
	}
}

func TestRun_ConfigFileAndOverrides(t *testing.T) {
	requireShell(t)

	path := filepath.Join(t.TempDir(), "seqpool.yaml")
	if err := os.WriteFile(path, []byte("parallelism: 2\nlog:\n  format: json\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := runCLI(t, "1\n2\n", "-config", path, "-j", "3", "-summary", "--", "echo")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "1\n2\n" {
		t.Errorf("got %q", out)
	}

	var f flags
	fs := newFlagSet(&f, &bytes.Buffer{})
	if err := fs.Parse([]string{"-config", path, "-j", "3", "-rate", "4/1s", "--", "echo"}); err != nil {
		t.Fatal(err)
	}
	cfg, err := resolveConfig(fs, &f)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Parallelism != 3 {
		t.Errorf("flag should override the file: parallelism = %d", cfg.Parallelism)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("file value lost: log format = %q", cfg.Log.Format)
	}
	if cfg.RateLimit == nil || cfg.RateLimit.Capacity != 4 || cfg.RateLimit.Period != "1s" {
		t.Errorf("rate limit = %+v", cfg.RateLimit)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seqpool.json")
	if err := os.WriteFile(path, []byte(`{"parallelism": -2}`), 0o644); err != nil {
		t.Fatal(err)
	}

	_, _, err := runCLI(t, "", "-config", path, "--", "echo")
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestRun_UsageErrors(t *testing.T) {
	if _, _, err := runCLI(t, ""); !errors.Is(err, ErrNoCommand) {
		t.Errorf("expected ErrNoCommand, got %v", err)
	}
	if _, _, err := runCLI(t, "", "-h"); err != nil {
		t.Errorf("-h should not be an error, got %v", err)
	}
	if _, _, err := runCLI(t, "", "-format", "xml", "--", "echo"); err == nil {
		t.Error("expected an error for an unknown format")
	}
	if _, _, err := runCLI(t, "", "-rate", "fast", "--", "echo"); err == nil {
		t.Error("expected an error for a bad rate")
	}
}

func TestRun_Summary(t *testing.T) {
	requireShell(t)

	_, errOut, err := runCLI(t, "a\n", "-summary", "--", "echo")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, want := range []string{"seqpool summary", "LINES", "1"} {
		if !strings.Contains(strings.ToUpper(errOut), strings.ToUpper(want)) {
			t.Errorf("summary missing %q:\n%s", want, errOut)
		}
	}
}
