// Package metrics provides lightweight, lock-free counters and gauges
// for tracking runtime statistics of a vmux endpoint.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for sessions and virtual sockets.
// A nil Collector is safe to use and every method becomes a no-op.
type Collector struct {
	sessionsActive atomic.Int64
	sessionsTotal  atomic.Int64
	socketsActive  atomic.Int64
	socketsTotal   atomic.Int64
	framesIn       atomic.Int64
	framesOut      atomic.Int64
	bytesIn        atomic.Int64
	bytesOut       atomic.Int64
	framesDropped  atomic.Int64
	rejects        atomic.Int64
	dialRetries    atomic.Int64
	errorsTotal    atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Session metrics ──────────────────────────────────────────────────

// SessionOpened increments both the active and total session counters.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(1)
	c.sessionsTotal.Add(1)
}

// SessionClosed decrements the active session counter.
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(-1)
}

// ActiveSessions returns the number of live physical links.
func (c *Collector) ActiveSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsActive.Load()
}

// TotalSessions returns the lifetime session count.
func (c *Collector) TotalSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsTotal.Load()
}

// ── Socket metrics ───────────────────────────────────────────────────

// SocketOpened records a virtual socket reaching CONNECTED.
func (c *Collector) SocketOpened() {
	if c == nil {
		return
	}
	c.socketsActive.Add(1)
	c.socketsTotal.Add(1)
}

// SocketClosed records a virtual socket leaving its session.
func (c *Collector) SocketClosed() {
	if c == nil {
		return
	}
	c.socketsActive.Add(-1)
}

func (c *Collector) ActiveSockets() int64 {
	if c == nil {
		return 0
	}
	return c.socketsActive.Load()
}

func (c *Collector) TotalSockets() int64 {
	if c == nil {
		return 0
	}
	return c.socketsTotal.Load()
}

// ConnectRejected counts a CONNECT_REJECT sent or received.
func (c *Collector) ConnectRejected() {
	if c == nil {
		return
	}
	c.rejects.Add(1)
}

func (c *Collector) Rejects() int64 {
	if c == nil {
		return 0
	}
	return c.rejects.Load()
}

// ── Frame metrics ────────────────────────────────────────────────────

// FrameReceived records one inbound frame carrying n payload bytes.
func (c *Collector) FrameReceived(n int) {
	if c == nil {
		return
	}
	c.framesIn.Add(1)
	c.bytesIn.Add(int64(n))
}

// FrameSent records one outbound frame carrying n payload bytes.
func (c *Collector) FrameSent(n int) {
	if c == nil {
		return
	}
	c.framesOut.Add(1)
	c.bytesOut.Add(int64(n))
}

// FrameDropped records a frame discarded by the reader: unknown
// destination or a full buffer under the drop policy.
func (c *Collector) FrameDropped() {
	if c == nil {
		return
	}
	c.framesDropped.Add(1)
}

func (c *Collector) FramesIn() int64 {
	if c == nil {
		return 0
	}
	return c.framesIn.Load()
}

func (c *Collector) FramesOut() int64 {
	if c == nil {
		return 0
	}
	return c.framesOut.Load()
}

// TotalBytesIn returns total payload bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total payload bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

func (c *Collector) DroppedFrames() int64 {
	if c == nil {
		return 0
	}
	return c.framesDropped.Load()
}

// ── Dial metrics ─────────────────────────────────────────────────────

// DialRetry records one retried physical dial.
func (c *Collector) DialRetry() {
	if c == nil {
		return
	}
	c.dialRetries.Add(1)
}

func (c *Collector) DialRetries() int64 {
	if c == nil {
		return 0
	}
	return c.dialRetries.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime           string `json:"uptime"`
	SessionsActive   int64  `json:"sessions_active"`
	SessionsTotal    int64  `json:"sessions_total"`
	SocketsActive    int64  `json:"sockets_active"`
	SocketsTotal     int64  `json:"sockets_total"`
	FramesIn         int64  `json:"frames_in"`
	FramesOut        int64  `json:"frames_out"`
	BytesIn          int64  `json:"bytes_in"`
	BytesOut         int64  `json:"bytes_out"`
	FramesDropped    int64  `json:"frames_dropped"`
	ConnectRejects   int64  `json:"connect_rejects"`
	DialRetries      int64  `json:"dial_retries"`
	ErrorsTotal      int64  `json:"errors_total"`
	LastError        string `json:"last_error,omitempty"`
	LastErrorMessage string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:         time.Since(c.startTime).Truncate(time.Second).String(),
		SessionsActive: c.sessionsActive.Load(),
		SessionsTotal:  c.sessionsTotal.Load(),
		SocketsActive:  c.socketsActive.Load(),
		SocketsTotal:   c.socketsTotal.Load(),
		FramesIn:       c.framesIn.Load(),
		FramesOut:      c.framesOut.Load(),
		BytesIn:        c.bytesIn.Load(),
		BytesOut:       c.bytesOut.Load(),
		FramesDropped:  c.framesDropped.Load(),
		ConnectRejects: c.rejects.Load(),
		DialRetries:    c.dialRetries.Load(),
		ErrorsTotal:    c.errorsTotal.Load(),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
