package mux

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"
)

// connectRequest is a CONNECT_REQUEST waiting in an accept backlog.
type connectRequest struct {
	sess          *Session
	local, remote uint32
	corr          uint32
}

// ServerSocket accepts virtual sockets on one port. A session-scoped
// server socket sees requests from its own session only; an
// endpoint-wide one sees requests from every session of the endpoint.
// It implements net.Listener.
type ServerSocket struct {
	port uint32
	sess *Session  // set for session-scoped server sockets
	ep   *Endpoint // set for endpoint-wide server sockets
	cfg  Config

	mu      sync.Mutex
	closed  bool
	err     error
	backlog chan connectRequest
	done    chan struct{}
}

var _ net.Listener = (*ServerSocket)(nil)

func newServerSocket(port uint32, sess *Session, ep *Endpoint, cfg Config) *ServerSocket {
	return &ServerSocket{
		port:    port,
		sess:    sess,
		ep:      ep,
		cfg:     cfg,
		backlog: make(chan connectRequest, cfg.AcceptBacklog),
		done:    make(chan struct{}),
	}
}

// Port returns the bound virtual port.
func (l *ServerSocket) Port() uint32 { return l.port }

// enqueue adds req to the backlog. It reports false when the backlog is
// full or the server socket is closed.
func (l *ServerSocket) enqueue(req connectRequest) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	select {
	case l.backlog <- req:
		return true
	default:
		return false
	}
}

// AcceptSocket waits for the next connect request and acknowledges it.
// The wait is bounded by ctx, or by the configured accept timeout when
// ctx has no deadline.
func (l *ServerSocket) AcceptSocket(ctx context.Context) (*Socket, error) {
	if _, ok := ctx.Deadline(); !ok && l.cfg.AcceptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.AcceptTimeout)
		defer cancel()
	}

	for {
		select {
		case req := <-l.backlog:
			sock, err := req.sess.accept(req)
			if err != nil {
				// the requesting session died while queued
				continue
			}
			return sock, nil
		case <-l.done:
			return nil, l.closeErr()
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrAcceptTimeout
			}
			return nil, ctx.Err()
		}
	}
}

// AcceptTimeout waits at most d for the next socket. d <= 0 waits
// forever.
func (l *ServerSocket) AcceptTimeout(d time.Duration) (*Socket, error) {
	if d <= 0 {
		return l.AcceptSocket(context.Background())
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return l.AcceptSocket(ctx)
}

// Accept implements net.Listener.
func (l *ServerSocket) Accept() (net.Conn, error) {
	return l.AcceptSocket(context.Background())
}

// Connect opens, or reuses, the session to physicalAddr on behalf of an
// endpoint-wide server socket. The session's HELLO advertises this
// port, so the peer can connect back to it.
func (l *ServerSocket) Connect(ctx context.Context, physicalAddr string) (*Session, error) {
	if l.ep == nil {
		return nil, ErrInvalidState
	}
	select {
	case <-l.done:
		return nil, l.closeErr()
	default:
	}
	return l.ep.registry.GetOrCreate(ctx, physicalAddr, func(ctx context.Context) (*Session, error) {
		return l.ep.connect(ctx, physicalAddr, l.port)
	})
}

// Close unbinds the port and rejects every request still in the backlog.
func (l *ServerSocket) Close() error {
	l.closeWith(ErrSocketClosed)
	return nil
}

func (l *ServerSocket) closeWith(err error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.err = err
	close(l.done)
	l.mu.Unlock()

	if l.sess != nil {
		l.sess.removeListener(l)
	} else if l.ep != nil {
		l.ep.removeListener(l)
	}

	for {
		select {
		case req := <-l.backlog:
			req.sess.reject(req.local, req.remote, req.corr, "listener closed")
		default:
			return
		}
	}
}

func (l *ServerSocket) closeErr() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Addr returns the bound port; the physical part names the scope.
func (l *ServerSocket) Addr() net.Addr {
	if l.sess != nil {
		return Addr{Physical: l.sess.LocalAddr().String(), Port: l.port}
	}
	return Addr{Physical: "*", Port: l.port}
}

func (l *ServerSocket) String() string {
	return "server socket " + strconv.FormatUint(uint64(l.port), 10)
}
