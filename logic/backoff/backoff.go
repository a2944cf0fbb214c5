// Package backoff computes jittered exponential delays for retry loops.
//
// Delays use equal jitter: half of the exponential delay is a fixed floor and
// the other half is uniformly random, so a retrier always waits at least half
// the computed delay.
package backoff

import (
	"math/rand/v2"
	"time"
)

// maxShift caps the exponent so baseDelay << attempt cannot overflow.
const maxShift = 16

// Policy bounds a retry loop.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Upload is the policy for shipping session artifacts.
var Upload = Policy{Attempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second}

// Delay returns the wait before retry number attempt (0 for the first retry).
//
//	backoff.Delay(0, time.Second, 4*time.Second) // [500ms, 1s]
//	backoff.Delay(3, time.Second, 4*time.Second) // [2s, 4s] (clamped)
func Delay(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	shift := min(max(attempt, 0), maxShift)
	delay := min(baseDelay<<shift, maxDelay)
	if delay <= 0 {
		return 0
	}
	half := delay / 2
	return half + time.Duration(rand.Int64N(int64(delay-half+1)))
}

// Delay returns the policy's wait before retry number attempt.
func (p Policy) Delay(attempt int) time.Duration {
	return Delay(attempt, p.BaseDelay, p.MaxDelay)
}
