// Package pool runs a task over a sequence of inputs with bounded
// parallelism and yields the results in input order.
//
// The primary type is OrderedExecutor[T, R]. It draws inputs lazily from an
// iter.Seq[T], runs up to N tasks at once, buffers results that finish out of
// order in a min-heap keyed by input position, and yields each result as soon
// as every earlier one has been yielded.
//
// # Basic Usage
//
//	exec := pool.NewOrderedExecutor[string, int](pool.WithParallelism(4))
//	for n, err := range exec.Execute(ctx, slices.Values(urls), fetchSize) {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(n)
//	}
//
// # Processing Modes
//
//   - Execute: iter.Seq in, iter.Seq2[R, error] out, fully lazy
//   - ExecuteSlice: slice in, slice out
//   - ExecuteStream: channel in, channel out
//
// # Backlog
//
// A slow task at the head of the sequence holds back every later result.
// WithMaxBacklog caps how many inputs may be drawn ahead of the next result
// to yield (default 3 * parallelism), which bounds the memory held by the
// reorder buffer. While the executor is saturated it waits for completions in
// slices of WithWaitTimeout and re-checks.
//
// # Timeouts
//
// Every attempt is bounded by WithTaskTimeout. A timed-out attempt is
// abandoned and the task is started again on the same input. After
// WithTimeoutWarnAfter consecutive timeouts (default 5) a warning is logged.
// Timeouts are retried forever unless WithMaxTimeoutRetries is set, in which
// case the task fails with ErrTaskTimeout.
//
// # Rate Limiting
//
// WithLimiter gates every attempt on a Limiter such as a
// ratelimit.TokenBucket; WithRateLimit does the same with a
// golang.org/x/time/rate limiter:
//
//	tb, _ := ratelimit.New(10, time.Second)
//	exec := pool.NewOrderedExecutor[Req, Resp](pool.WithLimiter(tb))
//
// # Error Handling
//
// Errors other than timeouts are not retried. The first one cancels the
// context passed to the remaining tasks and is yielded as a *TaskError, after
// which the sequence ends. Panics in tasks are converted to errors with stack
// traces.
//
// Stopping early (breaking out of the range loop) cancels in-flight tasks and
// waits for their goroutines.
package pool
