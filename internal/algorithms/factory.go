package algorithms

import (
	"math"
	"time"
)

// BackoffType selects the backoff algorithm.
type BackoffType int

const (
	// BackoffLinear grows the delay by a fixed step per retry (default).
	BackoffLinear BackoffType = iota
	// BackoffExponential doubles the delay per retry.
	BackoffExponential
	// BackoffJittered is exponential with a random +/- jitter.
	BackoffJittered
	// BackoffDecorrelated uses AWS-style decorrelated jitter.
	BackoffDecorrelated
)

// String returns the lowercase name used in configuration files.
func (b BackoffType) String() string {
	switch b {
	case BackoffExponential:
		return "exponential"
	case BackoffJittered:
		return "jittered"
	case BackoffDecorrelated:
		return "decorrelated"
	default:
		return "linear"
	}
}

// ParseBackoffType maps a configuration name to a BackoffType.
// Unknown names report ok == false.
func ParseBackoffType(name string) (BackoffType, bool) {
	switch name {
	case "", "linear":
		return BackoffLinear, true
	case "exponential":
		return BackoffExponential, true
	case "jittered":
		return BackoffJittered, true
	case "decorrelated":
		return BackoffDecorrelated, true
	}
	return BackoffLinear, false
}

// Params carries the knobs shared by all strategies. Step is only used by
// linear backoff and JitterFactor only by jittered backoff. A zero MaxDelay
// means uncapped.
type Params struct {
	InitialDelay time.Duration
	Step         time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

func (p Params) maxDelay() time.Duration {
	if p.MaxDelay <= 0 {
		return time.Duration(math.MaxInt64)
	}
	return p.MaxDelay
}

// NewBackoffStrategy builds the strategy for backoffType.
func NewBackoffStrategy(backoffType BackoffType, p Params) BackoffStrategy {
	switch backoffType {
	case BackoffExponential:
		return newExponentialBackoff(p.InitialDelay, p.maxDelay())

	case BackoffJittered:
		return newJitteredBackoff(p.InitialDelay, p.maxDelay(), p.JitterFactor)

	case BackoffDecorrelated:
		return newDecorrelatedJitterBackoff(p.InitialDelay, p.maxDelay())

	default:
		return newLinearBackoff(p.InitialDelay, p.Step, p.maxDelay())
	}
}
