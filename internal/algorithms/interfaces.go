package algorithms

import "time"

// BackoffStrategy computes the pause before a retry.
//
// retry is 0-indexed: 0 is the pause before the first retry after the
// initial failure. lastError is the failure that triggered the retry.
type BackoffStrategy interface {
	NextDelay(retry int, lastError error) time.Duration

	// Reset forgets any state carried between calls.
	Reset()
}
