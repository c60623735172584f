// Package capability defines what happens over an established virtual
// socket.  Each Capability encapsulates a single behaviour (relay I/O,
// echo, execute a program, answer primality queries) and operates on a
// session.Session rather than the socket itself.
package capability

import (
	"context"
	"errors"
	"io"

	"vmux/internal/session"
)

// Capability handles a single virtual connection. Handle blocks until
// the connection is done or the context is cancelled.
type Capability interface {
	Handle(ctx context.Context, sess *session.Session) error
}

// Func adapts a plain function to Capability.
type Func func(ctx context.Context, sess *session.Session) error

func (f Func) Handle(ctx context.Context, sess *session.Session) error { return f(ctx, sess) }

// closeOnCancel closes sess.Conn when ctx ends, unblocking any pending
// read. The returned stop function must be called when Handle returns.
func closeOnCancel(ctx context.Context, sess *session.Session) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			sess.Conn.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func copyInput(dst io.Writer, sess *session.Session) {
	if _, err := io.Copy(dst, sess.Conn); err != nil && !isEOF(err) {
		sess.Logger.Debug("input: %v", err)
	}
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
