package algorithms

import (
	"math/rand"
	"sync"
	"time"
)

const (
	maxShift = 63 // 1<<63 overflows int64
)

// linearBackoff grows the pause by a fixed step:
//
//	delay(n) = initialDelay + step*n
//
// With initialDelay = step = 100ms the pauses are 100ms, 200ms, 300ms, ...
type linearBackoff struct {
	initialDelay time.Duration
	step         time.Duration
	maxDelay     time.Duration
}

func newLinearBackoff(initialDelay, step, maxDelay time.Duration) *linearBackoff {
	return &linearBackoff{
		initialDelay: max(initialDelay, 0),
		step:         max(step, 0),
		maxDelay:     maxDelay,
	}
}

// NextDelay returns initialDelay + step*retry, capped at maxDelay.
func (lb *linearBackoff) NextDelay(retry int, lastError error) time.Duration {
	if retry < 0 {
		return 0
	}

	if lb.step > 0 && time.Duration(retry) > (lb.maxDelay-lb.initialDelay)/lb.step {
		return lb.maxDelay
	}

	return min(lb.initialDelay+lb.step*time.Duration(retry), lb.maxDelay)
}

// Reset is a no-op; the delay depends only on the retry number.
func (lb *linearBackoff) Reset() {}

// exponentialBackoff doubles the pause on every retry until maxDelay.
type exponentialBackoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
}

func newExponentialBackoff(initialDelay, maxDelay time.Duration) *exponentialBackoff {
	return &exponentialBackoff{
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
	}
}

func (eb *exponentialBackoff) NextDelay(retry int, lastError error) time.Duration {
	return calcExponentialDelay(retry, eb.initialDelay, eb.maxDelay)
}

func (eb *exponentialBackoff) Reset() {}

func calcExponentialDelay(retry int, initialDelay, maxDelay time.Duration) time.Duration {
	if retry < 0 {
		return 0
	}

	if retry >= maxShift {
		return maxDelay
	}

	delay := time.Duration(int64(1)<<uint(retry)) * initialDelay
	if delay > maxDelay || delay < 0 || (initialDelay > 0 && delay/initialDelay != time.Duration(int64(1)<<uint(retry))) {
		return maxDelay
	}

	return delay
}

// jitteredBackoff scales the exponential pause by a random factor in
// [1-jitterFactor, 1+jitterFactor] so that callers failing together do not
// retry together.
type jitteredBackoff struct {
	initialDelay, maxDelay time.Duration
	jitterFactor           float64
	rng                    *rand.Rand
	mu                     sync.Mutex
}

func newJitteredBackoff(initialDelay, maxDelay time.Duration, jitterFactor float64) *jitteredBackoff {
	return &jitteredBackoff{
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		jitterFactor: clamp(jitterFactor, 0, 1),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- jitter does not need crypto rand
	}
}

func (jb *jitteredBackoff) NextDelay(retry int, lastError error) time.Duration {
	if retry < 0 {
		return 0
	}

	base := calcExponentialDelay(retry, jb.initialDelay, jb.maxDelay)

	jb.mu.Lock()
	factor := 1.0 + (jb.rng.Float64()*2-1)*jb.jitterFactor
	jb.mu.Unlock()

	return clamp(time.Duration(float64(base)*factor), 0, jb.maxDelay)
}

func (jb *jitteredBackoff) Reset() {}

// decorrelatedJitterBackoff picks each pause uniformly from
// [initialDelay, 3*previous], capped at maxDelay. Each pause depends on the
// previous one, which spreads out callers that failed at the same moment.
//
// See "Exponential Backoff And Jitter", AWS Architecture Blog (2015).
type decorrelatedJitterBackoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	prevDelay    time.Duration
	rng          *rand.Rand
	mu           sync.Mutex
}

func newDecorrelatedJitterBackoff(initialDelay, maxDelay time.Duration) *decorrelatedJitterBackoff {
	return &decorrelatedJitterBackoff{
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		prevDelay:    initialDelay,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- jitter does not need crypto rand
	}
}

func (djb *decorrelatedJitterBackoff) NextDelay(retry int, lastError error) time.Duration {
	djb.mu.Lock()
	defer djb.mu.Unlock()

	if retry <= 0 {
		djb.prevDelay = djb.initialDelay
		return djb.initialDelay
	}

	upper := djb.maxDelay
	if djb.prevDelay < djb.maxDelay/3 {
		upper = djb.prevDelay * 3
	}

	spread := upper - djb.initialDelay
	if spread <= 0 {
		djb.prevDelay = djb.initialDelay
		return djb.initialDelay
	}

	delay := djb.initialDelay + time.Duration(djb.rng.Int63n(int64(spread)))
	djb.prevDelay = delay
	return delay
}

// Reset starts the chain over from initialDelay.
func (djb *decorrelatedJitterBackoff) Reset() {
	djb.mu.Lock()
	defer djb.mu.Unlock()
	djb.prevDelay = djb.initialDelay
}

func clamp[T int | int64 | float64 | time.Duration](v, lo, hi T) T {
	return max(lo, min(v, hi))
}
