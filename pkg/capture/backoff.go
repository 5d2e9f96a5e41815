package capture

import "time"

// Backoff implements the capture failure policy: exponential growth per
// consecutive failure, a hard cap, reset on success, and a self-healing
// reset after too many consecutive failures so the delay can never grow
// pathologically.
type Backoff struct {
	// Base is the first retry delay.
	Base time.Duration
	// Cap bounds the delay.
	Cap time.Duration
	// MaxFailures resets the streak back to Base once exceeded.
	MaxFailures int

	failures int
}

// DefaultBackoff returns the tuned capture backoff.
func DefaultBackoff() *Backoff {
	return &Backoff{
		Base:        1500 * time.Millisecond,
		Cap:         24 * time.Second,
		MaxFailures: 8,
	}
}

// Next records a failure and returns the delay before the next attempt.
func (b *Backoff) Next() time.Duration {
	b.failures++
	if b.MaxFailures > 0 && b.failures > b.MaxFailures {
		b.failures = 1
	}

	d := b.Base
	for i := 1; i < b.failures; i++ {
		d *= 2
		if d >= b.Cap {
			return b.Cap
		}
	}
	if d > b.Cap {
		d = b.Cap
	}
	return d
}

// Reset clears the failure streak. Called on the first success.
func (b *Backoff) Reset() {
	b.failures = 0
}

// Failures returns the current consecutive failure count.
func (b *Backoff) Failures() int {
	return b.failures
}
