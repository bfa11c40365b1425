package pool

import (
	"context"
	"iter"
)

// Enumerate tags each value drawn from seq with its position, starting at 0.
// Values are drawn lazily, one per iteration step, so seq may be infinite.
func Enumerate[T any](seq iter.Seq[T]) iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		ix := 0
		for v := range seq {
			if !yield(ix, v) {
				return
			}
			ix++
		}
	}
}

// FromChan adapts a channel to a sequence that ends when ch is closed or ctx
// is done.
func FromChan[T any](ctx context.Context, ch <-chan T) iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			select {
			case v, ok := <-ch:
				if !ok || !yield(v) {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}
}
