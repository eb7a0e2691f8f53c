// Package retry implements the exponential-backoff-with-jitter protocol
// used by both the identity cache's insert path and the store projector's
// deadlock retry, per spec: 100ms * 2^k + jitter[0,100ms].
package retry

import (
	"math/rand"
	"time"
)

const (
	baseDelay = 100 * time.Millisecond
	maxJitter = 100 * time.Millisecond
)

// Backoff returns the delay to wait before retry attempt k (0-indexed).
func Backoff(k int) time.Duration {
	exp := baseDelay << k
	jitter := time.Duration(rand.Int63n(int64(maxJitter) + 1))
	return exp + jitter
}
