package retry

import (
	"errors"
	"time"

	"github.com/charmbracelet/log"
)

// Option configures a Policy.
type Option func(*Policy)

// Catch retries errors matching any of targets according to errors.Is.
func Catch(targets ...error) Option {
	return func(p *Policy) {
		for _, target := range targets {
			if target == nil {
				continue
			}
			p.matchers = append(p.matchers, func(err error) bool {
				return errors.Is(err, target)
			})
		}
	}
}

// CatchIf retries errors for which match returns true.
func CatchIf(match func(error) bool) Option {
	return func(p *Policy) {
		if match != nil {
			p.matchers = append(p.matchers, match)
		}
	}
}

// WithBackoff sets the first pause and the amount added per further retry.
// Negative values are ignored.
func WithBackoff(start, rate time.Duration) Option {
	return func(p *Policy) {
		if start >= 0 {
			p.params.InitialDelay = start
		}
		if rate >= 0 {
			p.params.Step = rate
		}
	}
}

// WithBackoffType switches the backoff algorithm. For the exponential
// variants the start delay from WithBackoff is the base and the rate is
// unused.
func WithBackoffType(kind BackoffType) Option {
	return func(p *Policy) {
		p.backoffType = kind
	}
}

// WithMaxBackoff caps every pause at d.
func WithMaxBackoff(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.params.MaxDelay = d
		}
	}
}

// WithJitterFactor sets the +/- spread for Jittered backoff (0..1).
func WithJitterFactor(f float64) Option {
	return func(p *Policy) {
		if f >= 0 {
			p.params.JitterFactor = f
		}
	}
}

// WithMaxRetries gives up once the attempt count exceeds n, so at most n
// retries follow the first attempt. Negative n means unlimited.
func WithMaxRetries(n int) Option {
	return func(p *Policy) {
		if n < 0 {
			p.maxRetries = unlimited
			return
		}
		p.maxRetries = n
	}
}

// WithScope selects shared or per-call attempt state.
func WithScope(s Scope) Option {
	return func(p *Policy) {
		p.scope = s
	}
}

// WithLogger logs every caught failure at warn level with the attempt count
// and the pause about to be taken.
func WithLogger(logger *log.Logger) Option {
	return func(p *Policy) {
		p.logger = logger
	}
}

// OnRetry registers a hook called before each pause.
func OnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(p *Policy) {
		p.onRetry = fn
	}
}
