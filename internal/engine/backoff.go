package engine

import (
	"math"
	"math/rand"
	"time"
)

// CASBackoff is the pause before retrying a conflicted conditional write.
// Conflicts resolve in one round trip, so the scale is milliseconds, not the
// seconds a failed job retry would use.
func CASBackoff(attempt int) time.Duration {
	base := time.Millisecond

	capDelay := 50 * time.Millisecond
	// attempt=0 => 1ms
	// attempt=1 => 2ms
	// attempt=2 => 4ms

	multiple := math.Pow(2, float64(attempt))
	delay := time.Duration(float64(base) * multiple)

	if delay > capDelay {
		delay = capDelay
	}

	// small jitter (up to 500us) so racing writers fan out
	delay += time.Duration(rand.Intn(500)) * time.Microsecond
	return delay
}
