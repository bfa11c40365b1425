// Package ratelimit provides a token bucket that admits at most capacity
// operations per period.
//
// Tokens are replenished lazily on each admission check: every full period
// elapsed since the last admission adds one token, up to capacity. When no
// token is available the caller sleeps until the next period boundary and
// checks again.
//
//	tb, err := ratelimit.New(3, 100*time.Millisecond)
//	if err != nil {
//	    return err
//	}
//	for _, req := range requests {
//	    if err := tb.Wait(ctx); err != nil {
//	        return err
//	    }
//	    send(req)
//	}
//
// Wait suspends only the calling goroutine and honours the context. Take is
// the plain blocking variant for call sites without a context.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// MinPeriod is the smallest accepted replenish period (exclusive).
const MinPeriod = time.Microsecond

// ErrValidation is returned by New for invalid arguments.
var ErrValidation = errors.New("ratelimit: invalid argument")

// TokenBucket is a mutex-guarded token bucket. The zero value is not usable;
// construct with New.
type TokenBucket struct {
	capacity int
	period   time.Duration

	mu     sync.Mutex
	tokens int
	last   time.Time

	now func() time.Time
}

// New creates a full bucket holding capacity tokens that replenishes one
// token per period.
func New(capacity int, period time.Duration) (*TokenBucket, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity must be positive, got %d", ErrValidation, capacity)
	}
	if period <= MinPeriod {
		return nil, fmt.Errorf("%w: period must exceed %v, got %v", ErrValidation, MinPeriod, period)
	}

	tb := &TokenBucket{
		capacity: capacity,
		period:   period,
		tokens:   capacity,
		now:      time.Now,
	}
	tb.last = tb.now()
	return tb, nil
}

// Capacity returns the maximum number of tokens.
func (tb *TokenBucket) Capacity() int { return tb.capacity }

// Period returns the replenish period.
func (tb *TokenBucket) Period() time.Duration { return tb.period }

// Wait blocks the calling goroutine until a token is admitted or ctx ends.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		wait, ok := tb.tryAdmit()
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Take blocks until a token is admitted.
func (tb *TokenBucket) Take() {
	for {
		wait, ok := tb.tryAdmit()
		if ok {
			return
		}
		time.Sleep(wait)
	}
}

// Available reports how many tokens an admission check would see now,
// without consuming one.
func (tb *TokenBucket) Available() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	pool, _ := tb.refill()
	return pool
}

// tryAdmit runs one admission check. On success it consumes a token;
// otherwise it returns how long to sleep before checking again.
func (tb *TokenBucket) tryAdmit() (time.Duration, bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	pool, now := tb.refill()
	if pool == 0 {
		return max(tb.last.Add(tb.period).Sub(now), 0), false
	}

	tb.tokens = pool - 1
	tb.last = now
	return 0, true
}

// refill computes min(capacity, tokens + floor(elapsed/period)). Caller must
// hold mu.
func (tb *TokenBucket) refill() (int, time.Time) {
	now := tb.now()
	elapsed := max(now.Sub(tb.last), 0)

	replenished := int64(elapsed / tb.period)
	if replenished >= int64(tb.capacity) {
		return tb.capacity, now
	}
	return min(tb.capacity, tb.tokens+int(replenished)), now
}

// Wrap returns fn gated by tb: every call waits for a token first.
func Wrap[T any](tb *TokenBucket, fn func(context.Context) (T, error)) func(context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		if err := tb.Wait(ctx); err != nil {
			var zero T
			return zero, err
		}
		return fn(ctx)
	}
}

// WrapBlocking is Wrap for plain functions, using Take.
func WrapBlocking[T any](tb *TokenBucket, fn func() T) func() T {
	return func() T {
		tb.Take()
		return fn()
	}
}
