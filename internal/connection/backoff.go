package connection

import (
	"math"
	"time"
)

// Backoff computes reconnect delays: min(Base * 2^attempt, Max).
type Backoff struct {
	Base time.Duration
	Max  time.Duration // <= 0 means uncapped
}

// Delay returns the wait before reconnect number attempt+1, where attempt is
// the number of reconnects already scheduled.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}

	limit := b.Max
	if limit <= 0 {
		limit = math.MaxInt64
	}

	d := b.Base
	for i := 0; i < attempt && d < limit; i++ {
		if d > limit/2 {
			d = limit
			break
		}
		d *= 2
	}
	if d > limit {
		d = limit
	}
	return d
}
