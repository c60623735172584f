package retry

import (
	"fmt"
	"sync"
	"time"

	verrors "vmux/internal/errors"
)

// State is the breaker's operational state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Breaker stops dialing a peer that keeps failing.  After MaxFailures
// consecutive failures it opens for ResetTimeout; the next call is a
// half-open probe whose outcome closes or re-opens it.
type Breaker struct {
	MaxFailures  int           // default 5
	ResetTimeout time.Duration // default 30s
	// OnStateChange runs under the breaker lock.
	OnStateChange func(from, to State)

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	now      func() time.Time
}

func (b *Breaker) maxFailures() int {
	if b.MaxFailures <= 0 {
		return 5
	}
	return b.MaxFailures
}

func (b *Breaker) resetTimeout() time.Duration {
	if b.ResetTimeout <= 0 {
		return 30 * time.Second
	}
	return b.ResetTimeout
}

func (b *Breaker) clock() time.Time {
	if b.now != nil {
		return b.now()
	}
	return time.Now()
}

// Execute runs fn unless the breaker is open, in which case it returns
// an error matching errors.ErrCircuitOpen without calling fn.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return nil
	}
	elapsed := b.clock().Sub(b.openedAt)
	if elapsed >= b.resetTimeout() {
		b.transition(StateHalfOpen)
		return nil
	}
	return fmt.Errorf("%w: %d consecutive failures, retry in %v",
		verrors.ErrCircuitOpen, b.failures, (b.resetTimeout() - elapsed).Truncate(time.Millisecond))
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.failures = 0
		b.transition(StateClosed)
		return
	}
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.maxFailures() {
		b.openedAt = b.clock()
		b.transition(StateOpen)
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.OnStateChange != nil {
		b.OnStateChange(from, to)
	}
}
