package pool

import (
	"context"
	"fmt"
)

// ProcessFunc is the unit of work run for each input. The context is
// cancelled when the attempt times out, when another task fails, or when the
// consumer stops reading results.
//
// Type parameters:
//   - T: The input type
//   - R: The result type
type ProcessFunc[T any, R any] func(ctx context.Context, task T) (R, error)

// Indexed pairs a value with its position in the input sequence.
type Indexed[T any] struct {
	Index int
	Value T
}

// Limiter gates task attempts. *ratelimit.TokenBucket and *rate.Limiter
// implement it.
type Limiter interface {
	Wait(ctx context.Context) error
}

// TaskError reports the failure of the task drawn at Index.
type TaskError struct {
	Index int
	Err   error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %d: %v", e.Index, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}
