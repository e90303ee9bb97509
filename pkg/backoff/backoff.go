// Package backoff maps an attempt number to a retry delay. Callers store the
// resulting time on the row they are retrying and let a poller pick it up;
// nothing in this package sleeps.
package backoff

import (
	"math"
	"time"
)

type Policy struct {
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
}

func Default() Policy {
	return Policy{Base: 2 * time.Second, Multiplier: 2, Max: 10 * time.Minute}
}

// Delay returns the wait before attempt+1, where attempt is the number of
// failures so far (0 for the first failure).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := p.Base
	if base <= 0 {
		base = time.Second
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(base) * math.Pow(mult, float64(attempt))
	if p.Max > 0 && (d > float64(p.Max) || math.IsInf(d, 0)) {
		return p.Max
	}
	return time.Duration(d)
}

// Next is Delay added to now.
func (p Policy) Next(now time.Time, attempt int) time.Time {
	return now.Add(p.Delay(attempt))
}
