package pool

import (
	"context"
	"slices"
)

// ExecuteSlice runs fn over tasks and returns the results in the same order.
// On failure it returns the results produced before the failing position
// along with the error.
func (e *OrderedExecutor[T, R]) ExecuteSlice(ctx context.Context, tasks []T, fn ProcessFunc[T, R]) ([]R, error) {
	results := make([]R, 0, len(tasks))
	for v, err := range e.Execute(ctx, slices.Values(tasks), fn) {
		if err != nil {
			return results, err
		}
		results = append(results, v)
	}
	return results, nil
}

// ExecuteStream reads tasks from a channel and sends results, in the order
// the tasks were received, on the returned channel. The results channel is
// closed when tasks is closed and all work is done, or on the first error,
// which is then delivered on the error channel. The error channel receives at
// most one value and is closed afterwards.
//
// Example:
//
//	results, errc := exec.ExecuteStream(ctx, tasks, fn)
//	for r := range results {
//	    handle(r)
//	}
//	if err := <-errc; err != nil {
//	    return err
//	}
func (e *OrderedExecutor[T, R]) ExecuteStream(ctx context.Context, tasks <-chan T, fn ProcessFunc[T, R]) (<-chan R, <-chan error) {
	results := make(chan R, e.conf.parallelism)
	errc := make(chan error, 1)

	go func() {
		defer close(errc)
		defer close(results)

		for v, err := range e.Execute(ctx, FromChan(ctx, tasks), fn) {
			if err != nil {
				errc <- err
				return
			}
			select {
			case results <- v:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}

		if err := ctx.Err(); err != nil {
			errc <- err
		}
	}()

	return results, errc
}
