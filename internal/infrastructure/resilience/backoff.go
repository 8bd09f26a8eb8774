package resilience

import (
	"math"
	"time"
)

// Backoff describes an exponential delay schedule.
type Backoff struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

// Delay returns the wait before retry number attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Initial <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}

	delay := float64(b.Initial) * math.Pow(mult, float64(attempt))
	if b.Max > 0 && (delay > float64(b.Max) || math.IsInf(delay, 1)) {
		return b.Max
	}
	return time.Duration(delay)
}

// Window returns the total time spent waiting across the first n retries.
func (b Backoff) Window(n int) time.Duration {
	var total time.Duration
	for i := 0; i < n; i++ {
		total += b.Delay(i)
	}
	return total
}
