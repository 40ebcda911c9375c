package server

import (
	"math"
	"math/rand"
	"time"
)

// Delay returns the pause before accept retry attempt (1-based). With Jitter
// the delay is drawn from [d/2, d).
func (b BackoffConfig) Delay(attempt int, rng *rand.Rand) time.Duration {
	if b.InitialDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	mult := math.Max(b.Multiplier, 1.0)
	d := float64(b.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if b.MaxDelay > 0 && d > float64(b.MaxDelay) {
		d = float64(b.MaxDelay)
	}
	if b.Jitter {
		f := 0.75
		if rng != nil {
			f = 0.5 + rng.Float64()/2
		}
		d *= f
	}
	return time.Duration(d)
}
