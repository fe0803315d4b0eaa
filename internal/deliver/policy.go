package deliver

import (
	"fmt"
	"time"
)

// Policy is the per-platform retry schedule.
//
// Defaults give attempts at t=0, +1s, +2s (base * multiplier^(attempt-1)),
// then give up.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  int
}

// DefaultPolicy returns the stock schedule: 3 attempts, 1s base, doubling.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2}
}

// Normalize fills zero fields with defaults.
func (p Policy) Normalize() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.Multiplier <= 0 {
		p.Multiplier = d.Multiplier
	}
	return p
}

// Decision is what the policy says to do after a failed attempt.
type Decision struct {
	// Retry is true when another attempt should be made after After.
	Retry bool
	After time.Duration

	// Err is the terminal error when Retry is false.
	Err error
}

// Decide evaluates attempt number n (1-based) that just failed with err.
func (p Policy) Decide(n int, err error) Decision {
	_ = err // every error kind is retryable until attempts run out
	if n >= p.MaxAttempts {
		return Decision{Err: fmt.Errorf("failed-after-%d", p.MaxAttempts)}
	}
	delay := p.BaseDelay
	for i := 1; i < n; i++ {
		delay *= time.Duration(p.Multiplier)
	}
	return Decision{Retry: true, After: delay}
}
