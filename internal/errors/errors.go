// Package errors provides domain-specific error types for vmux.
//
// These types carry structured context (operation, address, port,
// retryability) that helps callers decide how to handle failures and
// provides better diagnostics than plain string wrapping.
package errors

import (
	"errors"
	"fmt"
	"net"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	// ErrSessionClosed is returned by every pending and future operation
	// on a multiplexing session once it has torn down.
	ErrSessionClosed = errors.New("session closed")
	// ErrSocketClosed is returned for operations on a closed virtual
	// socket or server socket.
	ErrSocketClosed = errors.New("socket closed")
	// ErrStreamClosed reports that the physical stream ended cleanly
	// between two frames.
	ErrStreamClosed = errors.New("stream closed")
	// ErrPortInUse is returned when binding an already bound port.
	ErrPortInUse = errors.New("virtual port in use")
	// ErrInvalidPort is returned for port 0 or a port in the ephemeral range.
	ErrInvalidPort = errors.New("invalid virtual port")
	// ErrInvalidState is returned when an operation is not valid in the
	// socket's current state (e.g. connecting twice).
	ErrInvalidState = errors.New("invalid socket state")
	// ErrConnectFailed matches every *ConnectError.
	ErrConnectFailed = errors.New("connect failed")
	// ErrProtocol matches every *ProtocolError.
	ErrProtocol = errors.New("protocol error")

	ErrNotConnected = errors.New("not connected")
	ErrCircuitOpen  = errors.New("circuit breaker is open")
	ErrAuthFailed   = errors.New("authentication failed")
)

// Timeout sentinels implement net.Error so that upper layers written
// against net.Conn recognise them.
var (
	ErrAcceptTimeout error = &timeoutError{"accept timed out"}
	ErrReadTimeout   error = &timeoutError{"read timed out"}
	ErrWriteTimeout  error = &timeoutError{"write timed out"}
	ErrTimeout       error = &timeoutError{"operation timed out"}
)

type timeoutError struct{ msg string }

func (e *timeoutError) Error() string   { return e.msg }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }

var _ net.Error = (*timeoutError)(nil)

// ── Structured error types ───────────────────────────────────────────

// ProtocolError reports a malformed frame or handshake on the wire.
// It is always fatal to the session that observed it.
type ProtocolError struct {
	Reason string
	Err    error // underlying read error, if any
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrProtocol) true for every ProtocolError.
func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// EncodingError is returned when a frame cannot be serialised.
type EncodingError struct {
	Length int
	Max    int
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encoding error: payload of %d bytes exceeds maximum %d", e.Length, e.Max)
}

// ConnectError describes a failed virtual connect.
type ConnectError struct {
	Port   uint32 // remote virtual port
	Reason string // reason sent by the peer, if rejected
	Err    error  // local cause (timeout, session closed)
}

func (e *ConnectError) Error() string {
	switch {
	case e.Reason != "":
		return fmt.Sprintf("connect to virtual port %d: rejected: %s", e.Port, e.Reason)
	case e.Err != nil:
		return fmt.Sprintf("connect to virtual port %d: %v", e.Port, e.Err)
	}
	return fmt.Sprintf("connect to virtual port %d failed", e.Port)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrConnectFailed) true for every ConnectError.
func (e *ConnectError) Is(target error) bool { return target == ErrConnectFailed }

// Timeout reports whether the connect failed because time ran out.
func (e *ConnectError) Timeout() bool {
	var ne net.Error
	if errors.As(e.Err, &ne) {
		return ne.Timeout()
	}
	return false
}

// NetworkError represents a failure in a physical network operation.
type NetworkError struct {
	Op        string // operation: "dial", "listen", "accept", "write", "read"
	Addr      string // network address involved
	Err       error  // underlying error
	Retryable bool   // whether the caller should retry
}

func (e *NetworkError) Error() string {
	s := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *NetworkError) Unwrap() error { return e.Err }

// SSHError represents an SSH-specific failure with host context.
type SSHError struct {
	Op   string // "handshake", "auth", "hostkey", "forward"
	Host string
	Port int
	Err  error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *SSHError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a NetworkError, automatically detecting retryability
// from the underlying error.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{
		Op:        op,
		Addr:      addr,
		Err:       err,
		Retryable: classifyRetryable(err),
	}
}

// WrapSSH creates an SSHError.
func WrapSSH(op, host string, port int, err error) *SSHError {
	return &SSHError{Op: op, Host: host, Port: port, Err: err}
}

// Protocol creates a ProtocolError with a formatted reason.
func Protocol(format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

// ── Classification helpers ───────────────────────────────────────────

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	return classifyRetryable(err)
}

// IsTimeout reports whether err is one of the timeout failures.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsFatal reports whether err must tear the session down: protocol
// violations and physical I/O failures are fatal, per-operation
// failures are not.
func IsFatal(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrProtocol):
		return true
	case errors.Is(err, ErrConnectFailed),
		errors.Is(err, ErrPortInUse),
		errors.Is(err, ErrSocketClosed),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrInvalidPort),
		err == ErrAcceptTimeout, err == ErrReadTimeout, err == ErrWriteTimeout:
		return false
	}
	return true
}

// classifyRetryable inspects standard library error types.
func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}
	// net.OpError with Temporary() hint
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" {
			return true
		}
		return opErr.Temporary() //nolint:staticcheck // Temporary is deprecated but still useful
	}
	// DNS errors
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary() //nolint:staticcheck
	}
	return false
}

// ── Re-exports for convenience ───────────────────────────────────────
//
// These allow callers to use vmux/internal/errors as a drop-in
// replacement for the standard library in common operations.

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
