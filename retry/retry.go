// Package retry wraps calls in a catch-sleep-retry loop.
//
// A Policy decides which failures are retried (Catch, CatchIf), how long to
// pause between attempts (linear backoff by default), and how many attempts
// are allowed before the failure is returned to the caller.
//
//	p := retry.New(
//	    retry.Catch(ErrUnavailable),
//	    retry.WithBackoff(100*time.Millisecond, 100*time.Millisecond),
//	    retry.WithMaxRetries(3),
//	)
//	body, err := retry.Call(ctx, p, fetch)
//
// # Scope
//
// By default a Policy keeps its attempt counter and backoff position across
// calls (ScopeShared): the tenth call through a policy that already retried
// five times sleeps as if it were on its sixth retry, and counts toward the
// same WithMaxRetries budget. Use WithScope(ScopePerCall) to start every call
// fresh, or build one Policy per independent call site.
package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/utkarsh5026/seqpool/internal/algorithms"
)

// ErrRetriesExhausted is joined with the last caught failure when a policy
// gives up.
var ErrRetriesExhausted = errors.New("retry: retries exhausted")

// Scope controls whether attempt and backoff state survive between calls.
type Scope int

const (
	// ScopeShared keeps one attempt counter and backoff position per Policy.
	ScopeShared Scope = iota
	// ScopePerCall resets attempt counter and backoff for every call.
	ScopePerCall
)

// BackoffType re-exports the available backoff algorithms.
type BackoffType = algorithms.BackoffType

// Backoff algorithms accepted by WithBackoffType.
const (
	Linear       = algorithms.BackoffLinear
	Exponential  = algorithms.BackoffExponential
	Jittered     = algorithms.BackoffJittered
	Decorrelated = algorithms.BackoffDecorrelated
)

const unlimited = -1

// Policy is a reusable retry policy. It is safe for concurrent use.
type Policy struct {
	matchers    []func(error) bool
	backoffType algorithms.BackoffType
	params      algorithms.Params
	maxRetries  int
	scope       Scope
	logger      *log.Logger
	onRetry     func(attempt int, delay time.Duration, err error)

	shared *tracker

	sleepCtx      func(ctx context.Context, d time.Duration) error
	sleepBlocking func(d time.Duration)
}

// New builds a Policy. Without Catch or CatchIf every error is retried.
//
// Defaults: linear backoff starting at 100ms growing by 100ms, unlimited
// retries, shared scope, no logging.
func New(opts ...Option) *Policy {
	p := &Policy{
		backoffType: algorithms.BackoffLinear,
		params: algorithms.Params{
			InitialDelay: 100 * time.Millisecond,
			Step:         100 * time.Millisecond,
			JitterFactor: 0.1,
		},
		maxRetries:    unlimited,
		scope:         ScopeShared,
		sleepCtx:      sleepContext,
		sleepBlocking: time.Sleep,
	}

	for _, opt := range opts {
		opt(p)
	}

	p.shared = p.newTracker()
	return p
}

// Do calls fn until it succeeds, fails with an error the policy does not
// catch, runs out of retries, or ctx ends. Backoff pauses honour ctx.
func (p *Policy) Do(ctx context.Context, fn func(context.Context) error) error {
	return p.run(ctx, fn, p.sleepCtx)
}

// DoBlocking is Do for call sites without a context; pauses use time.Sleep.
func (p *Policy) DoBlocking(fn func() error) error {
	return p.run(context.Background(), func(context.Context) error { return fn() },
		func(_ context.Context, d time.Duration) error {
			p.sleepBlocking(d)
			return nil
		})
}

// Attempts returns the number of attempts made through the shared tracker.
// It is always 0 for ScopePerCall policies.
func (p *Policy) Attempts() int {
	p.shared.mu.Lock()
	defer p.shared.mu.Unlock()
	return p.shared.attempts
}

// Reset clears the shared attempt counter and backoff position.
func (p *Policy) Reset() {
	p.shared.mu.Lock()
	defer p.shared.mu.Unlock()
	p.shared.attempts = 0
	p.shared.retries = 0
	p.shared.backoff.Reset()
}

// Call runs fn through p and returns its value.
func Call[T any](ctx context.Context, p *Policy, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Wrap returns fn bound to p.
func Wrap[T any](p *Policy, fn func(context.Context) (T, error)) func(context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		return Call(ctx, p, fn)
	}
}

func (p *Policy) run(
	ctx context.Context,
	fn func(context.Context) error,
	sleep func(context.Context, time.Duration) error,
) error {
	tr := p.shared
	if p.scope == ScopePerCall {
		tr = p.newTracker()
	}

	for {
		attempt := tr.begin()

		err := fn(ctx)
		if err == nil {
			return nil
		}

		if !p.catches(err) || ctx.Err() != nil {
			return err
		}

		delay, ok := tr.next(attempt, p.maxRetries, err)
		if !ok {
			return fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
		}

		if p.logger != nil {
			p.logger.Warn("retry caught error", "err", err, "attempt", attempt, "backoff", delay)
		}
		if p.onRetry != nil {
			p.onRetry(attempt, delay, err)
		}

		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (p *Policy) catches(err error) bool {
	if len(p.matchers) == 0 {
		return true
	}
	for _, match := range p.matchers {
		if match(err) {
			return true
		}
	}
	return false
}

func (p *Policy) newTracker() *tracker {
	return &tracker{backoff: algorithms.NewBackoffStrategy(p.backoffType, p.params)}
}

// tracker holds the attempt counter and backoff position.
type tracker struct {
	mu       sync.Mutex
	attempts int
	retries  int
	backoff  algorithms.BackoffStrategy
}

func (t *tracker) begin() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts++
	return t.attempts
}

// next returns the pause before the next retry, or false when attempt has
// used up the retry budget.
func (t *tracker) next(attempt, maxRetries int, err error) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if maxRetries != unlimited && attempt > maxRetries {
		return 0, false
	}

	delay := t.backoff.NextDelay(t.retries, err)
	t.retries++
	return delay, true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
