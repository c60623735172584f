// Package buffer provides the bounded inbound byte buffer that sits
// between a session's reader goroutine and a virtual socket's readers.
package buffer

import (
	"bytes"
	"errors"
	"sync"
	"time"

	verrors "vmux/internal/errors"
)

// Policy selects what Write does when the buffer has no room.
type Policy int

const (
	// PolicyBlock makes Write wait until readers free enough space.
	PolicyBlock Policy = iota
	// PolicyDrop makes Write discard the data and return ErrFull.
	PolicyDrop
)

func (p Policy) String() string {
	switch p {
	case PolicyBlock:
		return "block"
	case PolicyDrop:
		return "drop"
	}
	return "unknown"
}

// ParsePolicy maps "block" / "drop" to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "block":
		return PolicyBlock, nil
	case "drop":
		return PolicyDrop, nil
	}
	return PolicyBlock, errors.New("unknown buffer policy " + s)
}

// ErrFull is returned by Write under PolicyDrop when the data does not fit.
var ErrFull = errors.New("inbound buffer full")

// Inbound is a FIFO byte buffer with a maximum size, a read deadline and
// a sticky terminal error. Once the error is set, Read drains whatever
// is buffered and then returns the error.
type Inbound struct {
	cond     sync.Cond
	mu       sync.Mutex
	buf      bytes.Buffer
	err      error
	maxSize  int
	deadline time.Time
}

// New returns an Inbound holding at most maxSize bytes.
func New(maxSize int) *Inbound {
	b := &Inbound{maxSize: maxSize}
	b.cond.L = &b.mu
	return b
}

// fits reports whether n more bytes may be appended. An empty buffer
// always accepts, so a single oversized chunk cannot wedge the socket.
func (b *Inbound) fits(n int) bool {
	return b.buf.Len() == 0 || b.buf.Len()+n <= b.maxSize
}

// Write appends p. Under PolicyBlock it waits for room; under PolicyDrop
// it returns ErrFull without buffering anything. Once an error has been
// set, Write discards p and returns that error.
func (b *Inbound) Write(p []byte, policy Policy) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		if b.err != nil {
			return b.err
		}
		if b.fits(len(p)) {
			b.buf.Write(p)
			b.cond.Broadcast()
			return nil
		}
		if policy == PolicyDrop {
			return ErrFull
		}
		b.cond.Wait()
	}
}

// Read reads buffered bytes using the deadline set by SetDeadline.
func (b *Inbound) Read(p []byte) (int, error) {
	return b.ReadTimeout(p, 0)
}

// ReadTimeout is Read with a fallback timeout d that applies only while
// no explicit deadline is set. d <= 0 means no fallback.
func (b *Inbound) ReadTimeout(p []byte, d time.Duration) (int, error) {
	var fallback time.Time
	if d > 0 {
		fallback = time.Now().Add(d)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		if b.buf.Len() != 0 {
			n, _ := b.buf.Read(p)
			b.cond.Broadcast()
			return n, nil
		}
		if b.err != nil {
			return 0, b.err
		}
		if len(p) == 0 {
			return 0, nil
		}

		deadline := b.deadline
		if deadline.IsZero() {
			deadline = fallback
		}
		if deadline.IsZero() {
			b.cond.Wait()
			continue
		}
		wait := time.Until(deadline)
		if wait <= 0 {
			return 0, verrors.ErrReadTimeout
		}
		t := time.AfterFunc(wait, b.wake)
		b.cond.Wait()
		t.Stop()
	}
}

func (b *Inbound) wake() {
	b.mu.Lock()
	b.cond.Broadcast()
	b.mu.Unlock()
}

// SetError records the terminal error. The first error wins.
func (b *Inbound) SetError(err error) {
	b.mu.Lock()
	if b.err == nil {
		b.err = err
	}
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Err returns the terminal error, if any.
func (b *Inbound) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// SetDeadline sets the read deadline; the zero time clears it.
func (b *Inbound) SetDeadline(t time.Time) {
	b.mu.Lock()
	b.deadline = t
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Len returns the number of buffered bytes.
func (b *Inbound) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}
