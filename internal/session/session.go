// Package session binds one accepted or dialed virtual socket to the
// local I/O a capability works with.
//
// Capabilities never see the multiplexer directly: they read and write
// Conn and use Stdin/Stdout for the local side, so tests can drive them
// with a net.Pipe and byte buffers.
package session

import (
	"fmt"
	"io"
	"net"

	"vmux/util"
)

// Session is the runtime context for one virtual connection.
type Session struct {
	Conn   net.Conn
	Stdin  io.Reader
	Stdout io.Writer
	Logger *util.Logger
}

// New creates a Session bound to conn and the given I/O pair.
func New(conn net.Conn, stdin io.Reader, stdout io.Writer, logger *util.Logger) *Session {
	if logger == nil {
		logger = util.Discard()
	}
	return &Session{
		Conn:   conn,
		Stdin:  stdin,
		Stdout: stdout,
		Logger: logger.Named(Describe(conn)),
	}
}

// CloseWrite shuts the write half of Conn when it supports half-close,
// and closes it entirely otherwise.
func (s *Session) CloseWrite() error {
	if cw, ok := s.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return s.Conn.Close()
}

// Describe names a connection by its endpoints for log prefixes.
func Describe(conn net.Conn) string {
	return fmt.Sprintf("%s<->%s", conn.LocalAddr(), conn.RemoteAddr())
}
