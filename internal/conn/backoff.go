package conn

import (
	"math/rand/v2"
	"time"
)

// Backoff computes reconnection delays: exponential growth from Initial,
// capped at Max, with full jitter so a fleet of clients dropped by one
// gateway restart does not redial in lockstep.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns the sleep before the given retry attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Initial
	for i := 0; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	// A zero-value Backoff still yields a usable delay.
	if d <= 0 {
		d = time.Millisecond
	}
	// Full jitter over (0, d].
	return time.Duration(rand.Int64N(int64(d))) + 1
}
