// Package retry holds the escalating backoff used when the site cannot be
// reached.
package retry

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultDelays returns the waits used after the first and every later
// consecutive connection failure.
func DefaultDelays() []time.Duration {
	return []time.Duration{5 * time.Second, 15 * time.Second}
}

// State is a snapshot of the policy.
type State struct {
	Attempts int
	LastErr  error
}

// Policy is a backoff.BackOff over a fixed, non-decreasing list of delays.
// The n-th consecutive failure waits delays[n-1]; failures past the end of
// the list keep waiting the last delay. The policy never returns
// backoff.Stop: giving up is the caller's decision.
//
// A Policy is not safe for concurrent use.
type Policy struct {
	delays   []time.Duration
	attempts int
	lastErr  error
}

var _ backoff.BackOff = (*Policy)(nil)

// NewPolicy validates delays and returns a fresh policy. With no delays it
// uses DefaultDelays.
func NewPolicy(delays ...time.Duration) (*Policy, error) {
	if len(delays) == 0 {
		delays = DefaultDelays()
	}
	for i, d := range delays {
		if d <= 0 {
			return nil, fmt.Errorf("retry delay #%d must be positive, got %s", i+1, d)
		}
		if i > 0 && d < delays[i-1] {
			return nil, fmt.Errorf("retry delay #%d (%s) is shorter than #%d (%s)", i+1, d, i, delays[i-1])
		}
	}
	return &Policy{delays: append([]time.Duration(nil), delays...)}, nil
}

// NextBackOff records one more consecutive failure and returns its wait.
func (p *Policy) NextBackOff() time.Duration {
	p.attempts++
	return p.delayFor(p.attempts)
}

// Reset returns the policy to its fresh state.
func (p *Policy) Reset() {
	p.attempts = 0
	p.lastErr = nil
}

// Observe records the error behind the upcoming backoff.
func (p *Policy) Observe(err error) {
	p.lastErr = err
}

// Fresh reports whether no failure has been recorded since the last reset.
func (p *Policy) Fresh() bool {
	return p.attempts == 0
}

// State returns the current attempt count and last observed error.
func (p *Policy) State() State {
	return State{Attempts: p.attempts, LastErr: p.lastErr}
}

func (p *Policy) delayFor(attempt int) time.Duration {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.delays) {
		idx = len(p.delays) - 1
	}
	return p.delays[idx]
}
