// Package backoff computes exponential retry delays and sleeps between attempts.
package backoff

import (
	"math"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps every computed delay.
	MaxDelay time.Duration
	// Multiplier is the exponential factor applied per attempt.
	Multiplier float64
}

// DefaultPolicy returns the policy used for sink writes when none is configured.
// Base: 200ms, Max: 5s, Multiplier: 2
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2,
	}
}

// Delay returns min(BaseDelay * Multiplier^attempt, MaxDelay) for a 0-indexed attempt.
// Delays are non-decreasing in attempt as long as Multiplier >= 1.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if p.BaseDelay <= 0 {
		return 0
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	delay := float64(p.BaseDelay) * math.Pow(multiplier, float64(attempt))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	// Overflow guard for very large attempts without a cap.
	if math.IsInf(delay, 0) || delay > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// Normalize fills zero fields with the default policy's values.
func (p Policy) Normalize() Policy {
	def := DefaultPolicy()
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.Multiplier <= 0 {
		p.Multiplier = def.Multiplier
	}
	return p
}
