package connection

import (
	"math"
	"math/rand"
	"time"
)

// backoffDelay returns the reconnect delay for attempt N (1-based):
// exponential from the initial delay, capped at max, with +/-25% jitter so a
// fleet of clients does not stampede the counterparty after an outage.
func backoffDelay(initial, max time.Duration, attempt int) time.Duration {
	if initial <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(initial) * math.Pow(2, float64(attempt-1))
	if max > 0 && delay > float64(max) {
		delay = float64(max)
	}

	jitter := 0.75 + rand.Float64()*0.5
	return time.Duration(delay * jitter)
}
