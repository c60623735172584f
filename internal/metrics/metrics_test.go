package metrics

import (
	"encoding/json"
	"testing"
)

func TestCollector_Sessions(t *testing.T) {
	c := New()

	c.SessionOpened()
	c.SessionOpened()
	if c.ActiveSessions() != 2 {
		t.Errorf("active = %d, want 2", c.ActiveSessions())
	}

	c.SessionClosed()
	if c.ActiveSessions() != 1 {
		t.Errorf("active = %d, want 1", c.ActiveSessions())
	}
	if c.TotalSessions() != 2 {
		t.Errorf("total should remain 2, got %d", c.TotalSessions())
	}
}

func TestCollector_Sockets(t *testing.T) {
	c := New()

	for i := 0; i < 3; i++ {
		c.SocketOpened()
	}
	c.SocketClosed()
	if c.ActiveSockets() != 2 || c.TotalSockets() != 3 {
		t.Errorf("active=%d total=%d, want 2/3", c.ActiveSockets(), c.TotalSockets())
	}

	c.ConnectRejected()
	if c.Rejects() != 1 {
		t.Errorf("rejects = %d, want 1", c.Rejects())
	}
}

func TestCollector_Frames(t *testing.T) {
	c := New()

	c.FrameReceived(1024)
	c.FrameSent(512)
	c.FrameReceived(100)
	c.FrameDropped()

	if c.FramesIn() != 2 || c.FramesOut() != 1 {
		t.Errorf("frames in=%d out=%d", c.FramesIn(), c.FramesOut())
	}
	if c.TotalBytesIn() != 1124 {
		t.Errorf("bytes in = %d, want 1124", c.TotalBytesIn())
	}
	if c.TotalBytesOut() != 512 {
		t.Errorf("bytes out = %d, want 512", c.TotalBytesOut())
	}
	if c.DroppedFrames() != 1 {
		t.Errorf("dropped = %d, want 1", c.DroppedFrames())
	}
}

func TestCollector_DialRetries(t *testing.T) {
	c := New()

	c.DialRetry()
	c.DialRetry()
	c.DialRetry()

	if c.DialRetries() != 3 {
		t.Errorf("retries = %d, want 3", c.DialRetries())
	}
}

func TestCollector_Errors(t *testing.T) {
	c := New()

	c.RecordError("first error")
	c.RecordError("second error")

	if c.ErrorCount() != 2 {
		t.Errorf("errors = %d, want 2", c.ErrorCount())
	}
}

func TestCollector_Snapshot(t *testing.T) {
	c := New()
	c.SessionOpened()
	c.SocketOpened()
	c.FrameReceived(100)
	c.FrameSent(50)
	c.RecordError("test")

	snap := c.Snapshot()
	if snap.SessionsActive != 1 || snap.SocketsActive != 1 {
		t.Errorf("snap sessions=%d sockets=%d", snap.SessionsActive, snap.SocketsActive)
	}
	if snap.BytesIn != 100 {
		t.Errorf("snap bytes in = %d", snap.BytesIn)
	}
	if snap.ErrorsTotal != 1 {
		t.Errorf("snap errors = %d", snap.ErrorsTotal)
	}
	if snap.LastErrorMessage != "test" {
		t.Errorf("snap error msg = %q", snap.LastErrorMessage)
	}
}

func TestCollector_JSON(t *testing.T) {
	c := New()
	c.SessionOpened()
	c.FrameSent(42)

	raw := c.JSON()
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		t.Fatalf("JSON parse error: %v", err)
	}
	if snap.SessionsActive != 1 {
		t.Errorf("JSON active = %d", snap.SessionsActive)
	}
	if snap.BytesOut != 42 {
		t.Errorf("JSON bytes out = %d", snap.BytesOut)
	}
}

func TestNilCollector_NoOps(t *testing.T) {
	var c *Collector

	// None of these should panic.
	c.SessionOpened()
	c.SessionClosed()
	c.SocketOpened()
	c.SocketClosed()
	c.FrameReceived(100)
	c.FrameSent(100)
	c.FrameDropped()
	c.ConnectRejected()
	c.DialRetry()
	c.RecordError("test")

	if c.ActiveSessions() != 0 {
		t.Error("nil collector should return 0")
	}
	if c.TotalBytesIn() != 0 {
		t.Error("nil collector should return 0")
	}
	if c.ErrorCount() != 0 {
		t.Error("nil collector should return 0")
	}

	snap := c.Snapshot()
	if snap.SessionsActive != 0 {
		t.Error("nil snapshot should be zero")
	}

	j := c.JSON()
	if j == "" {
		t.Error("nil JSON should return valid JSON")
	}
}
