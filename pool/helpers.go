package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"
)

var (
	// ErrTaskTimeout is returned when a task keeps timing out past the
	// WithMaxTimeoutRetries bound.
	ErrTaskTimeout = errors.New("task timed out")

	// errAttemptTimeout marks a single timed-out attempt; it never leaves
	// the package.
	errAttemptTimeout = errors.New("attempt timed out")
)

type attemptResult[R any] struct {
	value R
	err   error
}

// runAttempt runs fn once under a timeout. It returns errAttemptTimeout when
// the attempt deadline passes while ctx is still live, even if fn ignores its
// context; in that case fn keeps running on its own goroutine until it
// returns and its result is dropped.
func runAttempt[T, R any](ctx context.Context, timeout time.Duration, task T, fn ProcessFunc[T, R]) (R, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan attemptResult[R], 1)
	go func() {
		v, err := processWithRecovery(attemptCtx, task, fn)
		done <- attemptResult[R]{value: v, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return res.value, errAttemptTimeout
		}
		return res.value, res.err

	case <-attemptCtx.Done():
		var zero R
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, errAttemptTimeout
	}
}

// processWithRecovery calls fn, converting a panic into an error carrying the
// stack trace.
func processWithRecovery[T, R any](ctx context.Context, task T, fn ProcessFunc[T, R]) (result R, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			err = fmt.Errorf("task panic: %v\nstack trace:\n%s", r, buf[:n])
		}
	}()

	return fn(ctx, task)
}
