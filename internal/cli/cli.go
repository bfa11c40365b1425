// Package cli implements the seqpool command: run a command once per input
// line, in parallel, and print the results in input order.
package cli

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/utkarsh5026/seqpool/internal/config"
	"github.com/utkarsh5026/seqpool/internal/logging"
	"github.com/utkarsh5026/seqpool/internal/sink"
	"github.com/utkarsh5026/seqpool/pool"
	"github.com/utkarsh5026/seqpool/retry"
)

const defaultTable = "seqpool_results"

// IO bundles the streams a run reads from and writes to.
type IO struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// StdIO returns the process streams.
func StdIO() IO {
	return IO{In: os.Stdin, Out: os.Stdout, Err: os.Stderr}
}

type flags struct {
	parallelism       int
	waitTimeout       time.Duration
	taskTimeout       time.Duration
	maxBacklog        int
	maxTimeoutRetries int
	rate              string
	retries           int
	backoff           time.Duration
	backoffType       string
	format            string
	input             string
	sqlDSN            string
	sqlTable          string
	configPath        string
	logFormat         string
	summary           bool
	progress          bool
	verbose           bool
}

func newFlagSet(f *flags, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("seqpool", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: seqpool [flags] -- command [args...]")
		fmt.Fprintln(stderr, "\nRuns command once per input line. {} in args is replaced by the line,")
		fmt.Fprintln(stderr, "otherwise the line is appended. Output keeps input order.")
		fmt.Fprintln(stderr)
		fs.PrintDefaults()
	}

	def := config.Default()
	fs.IntVar(&f.parallelism, "j", def.Parallelism, "number of commands running at once")
	fs.DurationVar(&f.waitTimeout, "wait-timeout", time.Second, "how long to wait for a completion before re-checking")
	fs.DurationVar(&f.taskTimeout, "task-timeout", 5*time.Second, "timeout of a single command attempt; timed out attempts are retried")
	fs.IntVar(&f.maxBacklog, "max-backlog", 0, "max lines read ahead of the next line to print (default 3*j)")
	fs.IntVar(&f.maxTimeoutRetries, "max-timeout-retries", def.MaxTimeoutRetries, "give up on a line after this many timeouts in a row (-1 never)")
	fs.StringVar(&f.rate, "rate", "", "limit command starts, e.g. 10/1s")
	fs.IntVar(&f.retries, "retries", 0, "retry a failing command this many times (-1 forever)")
	fs.DurationVar(&f.backoff, "backoff", 100*time.Millisecond, "linear backoff step between retries")
	fs.StringVar(&f.backoffType, "backoff-type", def.Retry.BackoffType, "linear, exponential, jittered or decorrelated")
	fs.StringVar(&f.format, "format", "text", "output format: text or jsonl")
	fs.StringVar(&f.input, "input", "", "read lines from this file instead of stdin")
	fs.StringVar(&f.sqlDSN, "sql-dsn", "", "also insert results into this Postgres database")
	fs.StringVar(&f.sqlTable, "sql-table", defaultTable, "table used with -sql-dsn")
	fs.StringVar(&f.configPath, "config", "", "load settings from a TOML, YAML or JSON file")
	fs.StringVar(&f.logFormat, "log-format", "", "log format: text, json or logfmt")
	fs.BoolVar(&f.summary, "summary", false, "print a summary table when done")
	fs.BoolVar(&f.progress, "progress", false, "show a spinner on a terminal")
	fs.BoolVar(&f.verbose, "v", false, "debug logging")
	return fs
}

// Run parses args and executes the command over every input line.
func Run(ctx context.Context, args []string, stdio IO) error {
	var f flags
	fs := newFlagSet(&f, stdio.Err)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	command := fs.Args()
	if len(command) == 0 {
		fs.Usage()
		return ErrNoCommand
	}

	cfg, err := resolveConfig(fs, &f)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	logger, err := newLogger(cfg, stdio.Err, runID)
	if err != nil {
		return err
	}

	out, err := openSinks(ctx, &f, stdio.Out)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil {
			logger.Error("closing sinks", "err", cerr)
		}
	}()

	in, closeIn, err := openInput(&f, stdio.In)
	if err != nil {
		return err
	}
	defer closeIn()

	r := &runner{
		runID:   runID,
		cfg:     cfg,
		logger:  logger,
		sink:    out,
		task:    commandTask(command),
		retrier: cfg.RetryPolicy(logger),
		report:  newReport(runID, stdio.Err, f.progress),
	}

	err = r.run(ctx, in)
	r.report.finish()
	if f.summary {
		r.report.render(stdio.Err, err)
	}
	return err
}

// resolveConfig starts from the config file, or the defaults, and applies
// every flag the user set explicitly.
func resolveConfig(fs *flag.FlagSet, f *flags) (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	var rateErr error
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "j":
			cfg.Parallelism = f.parallelism
		case "wait-timeout":
			cfg.WaitTimeout = f.waitTimeout.String()
		case "task-timeout":
			cfg.TaskTimeout = f.taskTimeout.String()
		case "max-backlog":
			cfg.MaxBacklog = f.maxBacklog
		case "max-timeout-retries":
			cfg.MaxTimeoutRetries = f.maxTimeoutRetries
		case "rate":
			capacity, period, err := parseRate(f.rate)
			if err != nil {
				rateErr = err
				return
			}
			cfg.RateLimit = &config.RateLimit{Capacity: capacity, Period: period.String()}
		case "retries":
			cfg.Retry.MaxRetries = f.retries
		case "backoff":
			cfg.Retry.BackoffStart = f.backoff.String()
			cfg.Retry.BackoffRate = f.backoff.String()
		case "backoff-type":
			cfg.Retry.BackoffType = f.backoffType
		case "log-format":
			cfg.Log.Format = f.logFormat
		case "v":
			if f.verbose {
				cfg.Log.Level = "debug"
			}
		}
	})
	if rateErr != nil {
		return config.Config{}, rateErr
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// parseRate reads "N/period" where period is a Go duration. A bare unit such
// as "s" counts as one of it.
func parseRate(s string) (int, time.Duration, error) {
	n, per, ok := strings.Cut(s, "/")
	if !ok {
		return 0, 0, fmt.Errorf("rate %q: want N/period, e.g. 10/1s", s)
	}

	capacity, err := strconv.Atoi(strings.TrimSpace(n))
	if err != nil || capacity <= 0 {
		return 0, 0, fmt.Errorf("rate %q: %q is not a positive count", s, n)
	}

	per = strings.TrimSpace(per)
	if per != "" && (per[0] < '0' || per[0] > '9') {
		per = "1" + per
	}
	period, err := time.ParseDuration(per)
	if err != nil || period <= 0 {
		return 0, 0, fmt.Errorf("rate %q: %q is not a positive duration", s, per)
	}
	return capacity, period, nil
}

func newLogger(cfg config.Config, w io.Writer, runID string) (*log.Logger, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	return logging.New("seqpool",
		logging.WithWriter(w),
		logging.WithLevel(level),
		logging.WithFormat(format),
		logging.WithFields("run", runID[:8]),
	), nil
}

func openSinks(ctx context.Context, f *flags, stdout io.Writer) (sink.Sink, error) {
	var primary sink.Sink
	switch f.format {
	case "text":
		primary = sink.NewText(stdout)
	case "jsonl", "json":
		primary = sink.NewJSONLines(stdout)
	default:
		return nil, fmt.Errorf("unknown output format %q", f.format)
	}

	if f.sqlDSN == "" {
		return sink.Multi{primary}, nil
	}

	db, err := sink.OpenSQL(ctx, f.sqlDSN, f.sqlTable)
	if err != nil {
		return nil, err
	}
	return sink.Multi{primary, db}, nil
}

func openInput(f *flags, stdin io.Reader) (io.Reader, func(), error) {
	if f.input == "" || f.input == "-" {
		return stdin, func() {}, nil
	}
	file, err := os.Open(f.input)
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}

type runner struct {
	runID   string
	cfg     config.Config
	logger  *log.Logger
	sink    sink.Sink
	task    func(context.Context, string) (sink.Record, error)
	retrier *retry.Policy
	report  *report
}

// run streams lines from in through the executor. One goroutine reads input,
// the other drains ordered results into the sink.
func (r *runner) run(ctx context.Context, in io.Reader) error {
	opts, err := r.cfg.ExecutorOptions(r.logger)
	if err != nil {
		return err
	}

	var timeouts atomic.Int64
	opts = append(opts,
		pool.WithOnTimeout(func(int, int) { timeouts.Add(1) }),
		pool.WithBeforeTaskStart(func(index int) {
			r.logger.Debug("starting", "index", index)
		}),
	)
	defer func() { r.report.timeouts = timeouts.Load() }()

	task := r.task
	if r.retrier != nil {
		// Retries of a failing command share one attempt's task timeout.
		task = func(ctx context.Context, line string) (sink.Record, error) {
			return retry.Call(ctx, r.retrier, func(ctx context.Context) (sink.Record, error) {
				return r.task(ctx, line)
			})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	lines := make(chan string)

	g.Go(func() error {
		defer close(lines)
		return readLines(gctx, in, lines)
	})

	g.Go(func() error {
		exec := pool.NewOrderedExecutor[string, sink.Record](opts...)
		index := 0
		for rec, err := range exec.Execute(gctx, pool.FromChan(gctx, lines), task) {
			if err != nil {
				r.report.failed(err)
				return err
			}

			rec.RunID = r.runID
			rec.Index = index
			index++

			if err := r.sink.Write(gctx, rec); err != nil {
				return fmt.Errorf("write result %d: %w", rec.Index, err)
			}
			r.report.done(rec)
		}
		return gctx.Err()
	})

	return g.Wait()
}

func readLines(ctx context.Context, in io.Reader, lines chan<- string) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-ctx.Done():
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}
