// Package retry provides the backoff policy used between protocol stage attempts.
package retry

import (
	"context"
	"math"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultMultiplier  = 2.0
)

// Policy describes exponential backoff between attempts of one operation.
type Policy struct {
	MaxAttempts int           // total attempts including the first try
	BaseDelay   time.Duration // delay after the first failed attempt
	Multiplier  float64       // growth factor applied per further failure
	MaxDelay    time.Duration // cap on a single delay (0 means uncapped)
}

// DefaultPolicy returns 3 attempts with 1s, 2s delays.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		Multiplier:  DefaultMultiplier,
	}
}

// Normalize fills zero fields with defaults.
func (p Policy) Normalize() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultMultiplier
	}
	if p.MaxDelay < 0 {
		p.MaxDelay = 0
	}
	return p
}

// Next reports how long to wait after failed attempt number attempt (1-based)
// before trying again, or false when the attempt budget is spent.
func (p Policy) Next(attempt int) (time.Duration, bool) {
	if attempt < 1 {
		attempt = 1
	}
	if attempt >= p.MaxAttempts {
		return 0, false
	}
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay, true
	}
	if delay >= float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64), true
	}
	return time.Duration(delay), true
}

// Schedule lists every delay the policy would apply if all attempts failed.
func (p Policy) Schedule() []time.Duration {
	var delays []time.Duration
	for attempt := 1; ; attempt++ {
		d, ok := p.Next(attempt)
		if !ok {
			return delays
		}
		delays = append(delays, d)
	}
}

// Sleep waits for d or until ctx is done, whichever happens first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
