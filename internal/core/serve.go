package core

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sourcegraph/conc"

	"vmux/internal/capability"
	"vmux/internal/session"
	"vmux/mux"
	"vmux/util"
)

// runCapability binds sock to the local streams, runs c on it and
// closes the socket when c returns.
func runCapability(ctx context.Context, c capability.Capability, sock *mux.Socket,
	stdin io.Reader, stdout io.Writer, logger *util.Logger) error {
	defer sock.Close()
	return c.Handle(ctx, session.New(sock, stdin, stdout, logger))
}

// serveSockets accepts sockets from l and hands each to h.  With
// keepOpen every socket gets its own goroutine and the loop runs until
// ctx ends or l is closed; otherwise the first socket is served inline
// and its result returned.
func serveSockets(ctx context.Context, l *mux.ServerSocket, keepOpen bool, logger *util.Logger,
	h func(context.Context, *mux.Socket) error) error {
	var wg conc.WaitGroup
	defer wg.Wait()

	for {
		sock, err := l.AcceptSocket(ctx)
		if err != nil {
			if ctx.Err() != nil || closedErr(err) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		logger.Verbose("connection from %s", sock.RemoteAddr())

		if !keepOpen {
			return h(ctx, sock)
		}
		wg.Go(func() {
			if err := h(ctx, sock); err != nil {
				logger.Warn("%s: %v", sock, err)
			}
		})
	}
}

// acceptLinks turns physical connections on master into sessions until
// ctx ends or master is closed.  onLink, when set, sees every session
// together with the port its peer advertised.
func acceptLinks(ctx context.Context, master *mux.MasterListener, logger *util.Logger,
	onLink func(*mux.Session, uint32)) {
	for {
		sess, port, err := master.AcceptPhysical(ctx)
		switch {
		case err == nil:
			if onLink != nil {
				onLink(sess, port)
			}
		case ctx.Err() != nil || closedErr(err):
			return
		case errors.Is(err, mux.ErrAcceptTimeout), errors.Is(err, mux.ErrProtocol):
			logger.Warn("link: %v", err)
		default:
			logger.Error("link: %v", err)
			return
		}
	}
}

// serveLinks runs acceptLinks in the background.  stop cancels it and
// waits for the loop to exit.
func serveLinks(ctx context.Context, master *mux.MasterListener, logger *util.Logger,
	onLink func(*mux.Session, uint32)) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg conc.WaitGroup
	wg.Go(func() { acceptLinks(ctx, master, logger, onLink) })
	return func() {
		cancel()
		wg.Wait()
	}
}

// applyDeadline carries the deadline of ctx, if any, onto sock.
func applyDeadline(ctx context.Context, sock *mux.Socket) {
	if dl, ok := ctx.Deadline(); ok {
		sock.SetDeadline(dl) //nolint:errcheck
	}
}

func closedErr(err error) bool {
	return errors.Is(err, mux.ErrSocketClosed) || errors.Is(err, mux.ErrSessionClosed)
}
