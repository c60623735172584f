package util

import (
	"context"
	"errors"
	"io"
	"net"

	verrors "vmux/internal/errors"
)

// DefaultBufSize is the standard buffer size for stream copies (32 KiB).
const DefaultBufSize = 32 * 1024

// closeWriter is implemented by *net.TCPConn and virtual sockets.
type closeWriter interface {
	CloseWrite() error
}

// BidirectionalCopy shuffles data between a connection and an arbitrary
// reader/writer pair (typically stdin/stdout) until the connection's
// inbound side reaches EOF, a copy fails, or the context is cancelled.
//
// When r is exhausted the connection's write side is half-closed if it
// supports CloseWrite, so the peer sees EOF while the inbound side
// keeps draining.
func BidirectionalCopy(ctx context.Context, conn io.ReadWriteCloser, r io.Reader, w io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	inbound := make(chan error, 1)
	outbound := make(chan error, 1)

	// conn → writer
	go func() {
		_, err := copyPooled(w, conn)
		inbound <- err
		cancel()
	}()

	// reader → conn
	go func() {
		_, err := copyPooled(conn, r)
		if cw, ok := conn.(closeWriter); ok && err == nil {
			cw.CloseWrite() //nolint:errcheck
		}
		outbound <- err
		// A normal EOF from r must not tear the connection down before
		// the peer finishes sending.
		if err != nil {
			cancel()
		}
	}()

	<-ctx.Done()
	conn.Close() // unblock any pending reads/writes
	errs := []error{<-inbound}

	// reader → conn may still be parked in r.Read (stdin); do not wait.
	select {
	case err := <-outbound:
		errs = append(errs, err)
	default:
	}

	for _, err := range errs {
		if !isHarmless(err) {
			return err
		}
	}
	return nil
}

func copyPooled(dst io.Writer, src io.Reader) (int64, error) {
	buf := GetBuf()
	defer PutBuf(buf)
	return io.CopyBuffer(dst, src, *buf)
}

// isHarmless returns true for errors that are expected during shutdown.
func isHarmless(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) || errors.Is(err, verrors.ErrSocketClosed) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, net.ErrClosed)
	}
	return false
}
