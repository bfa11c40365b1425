package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/utkarsh5026/seqpool/internal/sink"
	"github.com/utkarsh5026/seqpool/pool"
)

var (
	bold = color.New(color.Bold)
	red  = color.New(color.FgRed)
)

// report tracks a run for the progress spinner and the summary table. It is
// only touched from the goroutine draining results.
type report struct {
	runID     string
	start     time.Time
	completed int
	busy      time.Duration
	slowest   time.Duration
	timeouts  int64
	failure   error
	failedAt  int
	bar       *progressbar.ProgressBar
}

func newReport(runID string, w io.Writer, progress bool) *report {
	r := &report{runID: runID, start: time.Now(), failedAt: -1}
	if progress && isTerminal(w) {
		r.bar = progressbar.NewOptions(-1,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription("running"),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("lines"),
			progressbar.OptionClearOnFinish(),
		)
	}
	return r
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (r *report) done(rec sink.Record) {
	r.completed++
	r.busy += rec.Elapsed
	r.slowest = max(r.slowest, rec.Elapsed)
	if r.bar != nil {
		_ = r.bar.Add(1)
	}
}

func (r *report) failed(err error) {
	r.failure = err
	var te *pool.TaskError
	if errors.As(err, &te) {
		r.failedAt = te.Index
	}
}

func (r *report) finish() {
	if r.bar != nil {
		_ = r.bar.Finish()
	}
}

func (r *report) render(w io.Writer, runErr error) {
	_, _ = bold.Fprintln(w, "\nseqpool summary")

	var avg time.Duration
	if r.completed > 0 {
		avg = r.busy / time.Duration(r.completed)
	}

	status := "ok"
	if runErr != nil {
		status = red.Sprint("failed")
	}

	table := tablewriter.NewWriter(w)
	table.Header("Run", "Status", "Lines", "Wall Time", "Avg Command", "Slowest", "Timeouts", "Failed Line")
	_ = table.Append(
		r.runID[:8],
		status,
		fmt.Sprintf("%d", r.completed),
		time.Since(r.start).Round(time.Millisecond).String(),
		avg.Round(time.Millisecond).String(),
		r.slowest.Round(time.Millisecond).String(),
		fmt.Sprintf("%d", r.timeouts),
		failedLine(r.failedAt),
	)
	_ = table.Render()
}

func failedLine(index int) string {
	if index < 0 {
		return "-"
	}
	return fmt.Sprintf("%d", index+1)
}
