package mux

import (
	"time"

	"vmux/internal/buffer"
	"vmux/internal/frame"
	"vmux/internal/metrics"
	"vmux/util"
)

// BufferPolicy selects what the reader does with DATA for a socket whose
// inbound buffer is full.
type BufferPolicy = buffer.Policy

const (
	PolicyBlock = buffer.PolicyBlock
	PolicyDrop  = buffer.PolicyDrop
)

var defaultConfig = Config{
	MaxPayload:      frame.DefaultMaxPayload,
	BufferSize:      0x40000, // 256KB
	BufferPolicy:    PolicyBlock,
	AcceptBacklog:   128,
	WriteQueueDepth: 64,
	ConnectTimeout:  30 * time.Second,
	CloseTimeout:    5 * time.Second,
	HelloTimeout:    10 * time.Second,
}

// Config tunes sessions, sockets and server sockets. Zero fields take
// the defaults of DefaultConfig.
type Config struct {
	// Largest DATA payload sent or accepted. Default 16KB, capped at 16MB.
	MaxPayload int
	// Maximum unread bytes buffered per socket. Default 256KB.
	BufferSize int
	// Behaviour when a socket buffer is full. Default PolicyBlock.
	BufferPolicy BufferPolicy
	// Maximum connect requests queued per server socket. Default 128.
	AcceptBacklog int
	// Depth of the application write queue per session. Default 64.
	WriteQueueDepth int

	// Connect wait when the context has no deadline. Default 30s.
	ConnectTimeout time.Duration
	// Accept wait when the context has no deadline. 0 waits forever.
	AcceptTimeout time.Duration
	// Read wait when no read deadline is set. 0 waits forever.
	ReadTimeout time.Duration
	// Grace period Close waits for the peer's CLOSE_ACK. Default 5s.
	CloseTimeout time.Duration
	// How long a master listener waits for the peer's HELLO. Default 10s.
	HelloTimeout time.Duration

	// TraceFrames dumps every frame to the logger's output.
	TraceFrames bool

	Logger  *util.Logger
	Metrics *metrics.Collector
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return defaultConfig
}

func (c *Config) initDefaults() {
	if c.MaxPayload <= 0 {
		c.MaxPayload = defaultConfig.MaxPayload
	}
	if c.MaxPayload > frame.MaxPayloadLimit {
		c.MaxPayload = frame.MaxPayloadLimit
	}
	if c.BufferSize <= 0 {
		c.BufferSize = defaultConfig.BufferSize
	}
	if c.AcceptBacklog <= 0 {
		c.AcceptBacklog = defaultConfig.AcceptBacklog
	}
	if c.WriteQueueDepth <= 0 {
		c.WriteQueueDepth = defaultConfig.WriteQueueDepth
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConfig.ConnectTimeout
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = defaultConfig.CloseTimeout
	}
	if c.HelloTimeout <= 0 {
		c.HelloTimeout = defaultConfig.HelloTimeout
	}
	if c.Logger == nil {
		c.Logger = util.Discard()
	}
}

// ParseBufferPolicy accepts "block", "drop" or "" (block).
func ParseBufferPolicy(s string) (BufferPolicy, error) {
	return buffer.ParsePolicy(s)
}
