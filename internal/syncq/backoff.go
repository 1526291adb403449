package syncq

import (
	"math"
	"time"
)

// Backoff computes retry delays that grow exponentially with the failure count.
type Backoff struct {
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
	Jitter     float64
}

// DefaultBackoff returns the standard retry schedule.
func DefaultBackoff() Backoff {
	return Backoff{Base: 2 * time.Second, Multiplier: 2, Max: 5 * time.Minute, Jitter: 0.2}
}

// Delay returns the wait after failures consecutive failures. r in [0,1) picks the jitter offset
// inside +/- Jitter of the nominal delay. The result is never below Base.
func (b Backoff) Delay(failures int, r float64) time.Duration {
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 2
	}
	ceiling := b.Max
	if ceiling <= 0 {
		ceiling = time.Hour
	}
	nominal := float64(base) * math.Pow(mult, float64(max(failures, 0)))
	if nominal > float64(ceiling) {
		nominal = float64(ceiling)
	}
	jitter := math.Min(math.Max(b.Jitter, 0), 1)
	delay := nominal * (1 + jitter*(2*r-1))
	if delay < float64(base) {
		delay = float64(base)
	}
	return time.Duration(delay)
}
