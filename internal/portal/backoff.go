package portal

import (
	"math"
	"time"
)

// Backoff computes retry delays. It is a pure policy: no state, no clock.
// Both the transient-retry path and the reconnect path consult it, each with
// its own attempt counter.
type Backoff struct {
	// Base is the delay before the second attempt.
	Base time.Duration
	// Max clamps the computed delay.
	Max time.Duration
	// Factor is the exponential growth base per attempt.
	Factor float64
}

// Delay returns the wait before retrying after the given attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}
	d := float64(b.Base) * math.Pow(factor, float64(attempt-1))
	if b.Max > 0 && d > float64(b.Max) {
		return b.Max
	}
	if d > float64(math.MaxInt64) {
		return b.Max
	}
	return time.Duration(d)
}
