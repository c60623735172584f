package retry

import (
	"fmt"
	"testing"
	"time"

	verrors "vmux/internal/errors"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func failing() error { return fmt.Errorf("fail") }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := &Breaker{MaxFailures: 3, ResetTimeout: time.Hour}
	for i := 0; i < 3; i++ {
		b.Execute(failing) //nolint:errcheck
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %s", b.State())
	}

	called := false
	err := b.Execute(func() error { called = true; return nil })
	if !verrors.Is(err, verrors.ErrCircuitOpen) {
		t.Errorf("got %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn must not run while open")
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	var transitions []string
	b := &Breaker{
		MaxFailures:  1,
		ResetTimeout: time.Second,
		now:          clk.now,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	}

	b.Execute(failing) //nolint:errcheck
	clk.advance(2 * time.Second)

	// Failed probe re-opens.
	b.Execute(failing) //nolint:errcheck
	if b.State() != StateOpen {
		t.Fatalf("failed probe should re-open, got %s", b.State())
	}

	clk.advance(2 * time.Second)
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	if b.State() != StateClosed || b.Failures() != 0 {
		t.Errorf("successful probe should close: state=%s failures=%d", b.State(), b.Failures())
	}

	want := []string{"closed->open", "open->half-open", "half-open->open", "open->half-open", "half-open->closed"}
	if fmt.Sprint(transitions) != fmt.Sprint(want) {
		t.Errorf("transitions = %v, want %v", transitions, want)
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b := &Breaker{MaxFailures: 3}
	for _, fn := range []func() error{failing, failing, func() error { return nil }, failing} {
		b.Execute(fn) //nolint:errcheck
	}
	if b.State() != StateClosed {
		t.Errorf("non-consecutive failures should not open, got %s", b.State())
	}
	if b.Failures() != 1 {
		t.Errorf("failures = %d, want 1", b.Failures())
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
