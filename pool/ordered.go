package pool

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/utkarsh5026/seqpool/retry"
)

// OrderedExecutor runs a task over a lazily drawn input sequence with bounded
// parallelism and yields the results in input order.
//
// Type parameters:
//   - T: The input type
//   - R: The result type
type OrderedExecutor[T any, R any] struct {
	conf *executorConfig
}

// NewOrderedExecutor creates an executor with the given options.
//
// Default configuration:
//   - parallelism: 5
//   - waitTimeout: 1s
//   - taskTimeout: 5s
//   - maxBacklog: 3 * parallelism
//   - timed-out attempts retried without limit, warning after 5 in a row
//
// Example:
//
//	exec := NewOrderedExecutor[string, int](WithParallelism(8))
//	for n, err := range exec.Execute(ctx, lines, countWords) {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(n)
//	}
func NewOrderedExecutor[T any, R any](opts ...Option) *OrderedExecutor[T, R] {
	return &OrderedExecutor[T, R]{
		conf: newConfig(opts...),
	}
}

// ExecuteOrdered is shorthand for NewOrderedExecutor(opts...).Execute.
func ExecuteOrdered[T any, R any](ctx context.Context, inputs iter.Seq[T], fn ProcessFunc[T, R], opts ...Option) iter.Seq2[R, error] {
	return NewOrderedExecutor[T, R](opts...).Execute(ctx, inputs, fn)
}

// Execute returns a sequence yielding fn(input) for every input, in input
// order. Nothing runs until the sequence is ranged over.
//
// Up to parallelism tasks run at once, and no more than maxBacklog inputs are
// drawn ahead of the next result to yield. Each attempt is bounded by the
// task timeout and retried on timeout. Any other task error is yielded once
// as a *TaskError and ends the sequence; results yielded before it stand.
// Cancelling ctx ends the sequence with ctx.Err().
//
// Breaking out of the range loop cancels in-flight tasks and waits for their
// goroutines before returning.
func (e *OrderedExecutor[T, R]) Execute(ctx context.Context, inputs iter.Seq[T], fn ProcessFunc[T, R]) iter.Seq2[R, error] {
	return func(yield func(R, error) bool) {
		r := newOrderedRun(ctx, e.conf, fn, yield)
		defer r.close()
		r.run(inputs)
	}
}

type completion[R any] struct {
	index int
	value R
	err   error
}

// orderedRun is the state of one pass over an input sequence. Only the
// goroutine ranging over the output touches pending, drawn, nextEmit and
// the heap; task goroutines talk to it through completions.
type orderedRun[T any, R any] struct {
	conf  *executorConfig
	fn    ProcessFunc[T, R]
	yield func(R, error) bool

	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc
	g      errgroup.Group

	completions chan completion[R]
	heap        *reorderHeap[R]

	pending  int
	drawn    int
	nextEmit int
}

func newOrderedRun[T, R any](
	ctx context.Context,
	conf *executorConfig,
	fn ProcessFunc[T, R],
	yield func(R, error) bool,
) *orderedRun[T, R] {
	runCtx, cancel := context.WithCancel(ctx)
	return &orderedRun[T, R]{
		conf:        conf,
		fn:          fn,
		yield:       yield,
		parent:      ctx,
		ctx:         runCtx,
		cancel:      cancel,
		completions: make(chan completion[R], conf.parallelism),
		heap:        newReorderHeap[R](conf.maxBacklog),
	}
}

func (r *orderedRun[T, R]) run(inputs iter.Seq[T]) {
	for ix, item := range Enumerate(inputs) {
		if err := r.parent.Err(); err != nil {
			r.fail(err)
			return
		}

		r.launch(ix, item)

		for !r.canLaunch() {
			if !r.wait() {
				return
			}
		}
	}

	r.drain()
}

func (r *orderedRun[T, R]) canLaunch() bool {
	return r.pending < r.conf.parallelism && r.drawn-r.nextEmit < r.conf.maxBacklog
}

func (r *orderedRun[T, R]) launch(ix int, item T) {
	r.pending++
	r.drawn++

	r.g.Go(func() error {
		v, err := r.runTask(ix, item)
		if err != nil {
			err = &TaskError{Index: ix, Err: err}
		}
		if r.conf.onTaskEnd != nil {
			r.conf.onTaskEnd(ix, err)
		}
		// Never blocks: the buffer holds one slot per pending task.
		r.completions <- completion[R]{index: ix, value: v, err: err}
		return nil
	})
}

// runTask retries timed-out attempts of fn on item. Only attempt timeouts are
// caught, so every retry follows an unbroken run of timeouts.
func (r *orderedRun[T, R]) runTask(ix int, item T) (R, error) {
	policy := retry.New(
		retry.Catch(errAttemptTimeout),
		retry.WithBackoff(0, 0),
		retry.WithMaxRetries(r.conf.maxTimeoutRetries),
		retry.OnRetry(func(timeouts int, _ time.Duration, _ error) {
			r.timedOut(ix, item, timeouts)
		}),
	)

	v, err := retry.Call(r.ctx, policy, func(ctx context.Context) (R, error) {
		if r.conf.limiter != nil {
			if err := r.conf.limiter.Wait(ctx); err != nil {
				var zero R
				return zero, err
			}
		}
		if r.conf.beforeTaskStart != nil {
			r.conf.beforeTaskStart(ix)
		}
		return runAttempt(ctx, r.conf.taskTimeout, item, r.fn)
	})

	// errAttemptTimeout is package private, so only this policy can wrap it.
	// Errors from fn, including a retry exhaustion of its own, pass through.
	if !errors.Is(err, errAttemptTimeout) {
		return v, err
	}
	if !errors.Is(err, retry.ErrRetriesExhausted) {
		// The run was cancelled between the timeout and the retry decision.
		if ctxErr := r.ctx.Err(); ctxErr != nil {
			return v, ctxErr
		}
		return v, err
	}

	r.timedOut(ix, item, policy.Attempts())
	return v, fmt.Errorf("%w %d times in a row (task timeout %v)", ErrTaskTimeout, policy.Attempts(), r.conf.taskTimeout)
}

func (r *orderedRun[T, R]) timedOut(ix int, item T, timeouts int) {
	if r.conf.onTimeout != nil {
		r.conf.onTimeout(ix, timeouts)
	}
	if timeouts == r.conf.timeoutWarnAfter {
		r.conf.logger.Warn("task keeps timing out, check the task timeout",
			"index", ix, "input", item, "timeouts", timeouts, "task_timeout", r.conf.taskTimeout)
	}
}

// wait blocks up to waitTimeout for at least one completion, then takes
// every completion already buffered. It reports false once the run must stop.
func (r *orderedRun[T, R]) wait() bool {
	timer := time.NewTimer(r.conf.waitTimeout)
	defer timer.Stop()

	select {
	case c := <-r.completions:
		return r.accept(r.collect(c))

	case <-timer.C:
		r.conf.logger.Debug("no task finished within wait timeout",
			"pending", r.pending, "backlog", r.drawn-r.nextEmit)
		return true

	case <-r.parent.Done():
		r.fail(r.parent.Err())
		return false
	}
}

// drain waits for every pending task and emits what is left in order.
func (r *orderedRun[T, R]) drain() {
	for r.pending > 0 {
		select {
		case c := <-r.completions:
			if !r.accept(r.collect(c)) {
				return
			}

		case <-r.parent.Done():
			r.fail(r.parent.Err())
			return
		}
	}

	for r.heap.Len() > 0 {
		item := heap.Pop(r.heap).(Indexed[R])
		if !r.emit(item) {
			return
		}
	}
}

// collect gathers first plus every completion that is already waiting.
func (r *orderedRun[T, R]) collect(first completion[R]) []completion[R] {
	batch := []completion[R]{first}
	for {
		select {
		case c := <-r.completions:
			batch = append(batch, c)
		default:
			return batch
		}
	}
}

// accept moves a batch of completions into the heap, yields every result that
// is now contiguous with nextEmit, and then surfaces the first failure in the
// batch, if any.
func (r *orderedRun[T, R]) accept(batch []completion[R]) bool {
	slices.SortFunc(batch, func(a, b completion[R]) int { return a.index - b.index })

	var failure error
	for _, c := range batch {
		r.pending--
		if c.err != nil {
			if failure == nil {
				failure = c.err
			}
			continue
		}
		heap.Push(r.heap, Indexed[R]{Index: c.index, Value: c.value})
	}

	for r.heap.Len() > 0 && r.heap.peek() == r.nextEmit {
		if !r.emit(heap.Pop(r.heap).(Indexed[R])) {
			return false
		}
	}

	if failure != nil {
		r.fail(failure)
		return false
	}
	return true
}

func (r *orderedRun[T, R]) emit(item Indexed[R]) bool {
	r.nextEmit++
	return r.yield(item.Value, nil)
}

func (r *orderedRun[T, R]) fail(err error) {
	r.cancel()
	var zero R
	r.yield(zero, err)
}

// close cancels whatever is still running and waits for the task
// goroutines to return.
func (r *orderedRun[T, R]) close() {
	r.cancel()
	_ = r.g.Wait()
}
