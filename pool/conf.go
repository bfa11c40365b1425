package pool

import (
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

const (
	defaultParallelism      = 5
	defaultWaitTimeout      = time.Second
	defaultTaskTimeout      = 5 * time.Second
	defaultBacklogFactor    = 3
	defaultTimeoutWarnAfter = 5

	unlimitedRetries = -1
)

// Option is a functional option for configuring an OrderedExecutor.
type Option func(*executorConfig)

type executorConfig struct {
	parallelism       int
	waitTimeout       time.Duration
	taskTimeout       time.Duration
	maxBacklog        int
	maxTimeoutRetries int
	timeoutWarnAfter  int
	limiter           Limiter
	logger            *log.Logger

	beforeTaskStart func(index int)
	onTaskEnd       func(index int, err error)
	onTimeout       func(index int, timeouts int)
}

func newConfig(opts ...Option) *executorConfig {
	cfg := &executorConfig{
		parallelism:       defaultParallelism,
		waitTimeout:       defaultWaitTimeout,
		taskTimeout:       defaultTaskTimeout,
		maxTimeoutRetries: unlimitedRetries,
		timeoutWarnAfter:  defaultTimeoutWarnAfter,
		logger:            log.Default(),
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.maxBacklog == 0 {
		cfg.maxBacklog = defaultBacklogFactor * cfg.parallelism
	}

	return cfg
}

// WithParallelism sets how many tasks may run at once. Defaults to 5.
func WithParallelism(n int) Option {
	return func(cfg *executorConfig) {
		if n > 0 {
			cfg.parallelism = n
		}
	}
}

// WithWaitTimeout bounds each wait for completions while the executor is
// saturated. A wait that times out is not an error; the executor re-checks
// its launch conditions and waits again. Defaults to 1s.
func WithWaitTimeout(d time.Duration) Option {
	return func(cfg *executorConfig) {
		if d > 0 {
			cfg.waitTimeout = d
		}
	}
}

// WithTaskTimeout bounds a single attempt of a task. A timed-out attempt is
// abandoned and the task is retried on the same input. Defaults to 5s.
func WithTaskTimeout(d time.Duration) Option {
	return func(cfg *executorConfig) {
		if d > 0 {
			cfg.taskTimeout = d
		}
	}
}

// WithMaxBacklog caps how many inputs may be drawn ahead of the next result
// to emit. Defaults to 3 * parallelism.
func WithMaxBacklog(n int) Option {
	return func(cfg *executorConfig) {
		if n > 0 {
			cfg.maxBacklog = n
		}
	}
}

// WithMaxTimeoutRetries makes a task fail with ErrTaskTimeout once it has
// been retried n times in a row because of timeouts. By default timed-out
// tasks are retried forever.
func WithMaxTimeoutRetries(n int) Option {
	return func(cfg *executorConfig) {
		if n >= 0 {
			cfg.maxTimeoutRetries = n
		}
	}
}

// WithTimeoutWarnAfter sets after how many consecutive timeouts of the same
// input a warning is logged. Defaults to 5.
func WithTimeoutWarnAfter(n int) Option {
	return func(cfg *executorConfig) {
		if n > 0 {
			cfg.timeoutWarnAfter = n
		}
	}
}

// WithLimiter gates every task attempt on l.Wait. A *ratelimit.TokenBucket
// or a *rate.Limiter both fit.
func WithLimiter(l Limiter) Option {
	return func(cfg *executorConfig) {
		if l != nil {
			cfg.limiter = l
		}
	}
}

// WithRateLimit gates task attempts with a golang.org/x/time/rate limiter.
// tasksPerSecond is the sustained rate and burst the number of attempts that
// may start back to back.
//
// Example:
//
//	WithRateLimit(10, 5) // 10 attempts/sec, bursts of 5
func WithRateLimit(tasksPerSecond float64, burst int) Option {
	return func(cfg *executorConfig) {
		if tasksPerSecond > 0 && burst > 0 {
			cfg.limiter = rate.NewLimiter(rate.Limit(tasksPerSecond), burst)
		}
	}
}

// WithLogger sets the logger for diagnostics. Defaults to log.Default().
func WithLogger(logger *log.Logger) Option {
	return func(cfg *executorConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithBeforeTaskStart registers a hook called before each attempt of a task.
// Hooks run on task goroutines and must be safe for concurrent use.
func WithBeforeTaskStart(fn func(index int)) Option {
	return func(cfg *executorConfig) {
		cfg.beforeTaskStart = fn
	}
}

// WithOnTaskEnd registers a hook called once per task with its final error.
func WithOnTaskEnd(fn func(index int, err error)) Option {
	return func(cfg *executorConfig) {
		cfg.onTaskEnd = fn
	}
}

// WithOnTimeout registers a hook called after every timed-out attempt with
// the count of consecutive timeouts so far.
func WithOnTimeout(fn func(index int, timeouts int)) Option {
	return func(cfg *executorConfig) {
		cfg.onTimeout = fn
	}
}
