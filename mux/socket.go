package mux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"vmux/internal/buffer"
	"vmux/internal/frame"
)

// SocketState is the lifecycle state of a Socket.
type SocketState int

const (
	SocketUnconnected SocketState = iota
	SocketConnecting
	SocketConnected
	SocketLocalClosed  // our write half is closed
	SocketRemoteClosed // the peer's write half is closed
	SocketClosed
)

var socketStateNames = [...]string{
	SocketUnconnected:  "UNCONNECTED",
	SocketConnecting:   "CONNECTING",
	SocketConnected:    "CONNECTED",
	SocketLocalClosed:  "LOCAL_CLOSED",
	SocketRemoteClosed: "REMOTE_CLOSED",
	SocketClosed:       "CLOSED",
}

func (s SocketState) String() string {
	if s >= 0 && int(s) < len(socketStateNames) {
		return socketStateNames[s]
	}
	return fmt.Sprintf("SocketState(%d)", int(s))
}

// Socket is one virtual connection. It implements net.Conn.
type Socket struct {
	sess          *Session
	local, remote uint32
	in            *buffer.Inbound

	// serializes Write and CloseWrite
	writeMu sync.Mutex

	mu            sync.Mutex
	state         SocketState
	counted       bool // included in the active socket gauge
	localClosed   bool
	remoteClosed  bool
	acked         bool
	err           error // terminal error for writes, set on release
	writeDeadline time.Time

	ackCh     chan struct{} // closed when our CLOSE is acknowledged
	done      chan struct{} // closed on release
	closeOnce sync.Once
	closeErr  error
}

var _ net.Conn = (*Socket)(nil)

func newSocket(sess *Session, local, remote uint32, state SocketState) *Socket {
	return &Socket{
		sess:   sess,
		local:  local,
		remote: remote,
		in:     buffer.New(sess.cfg.BufferSize),
		state:  state,
		ackCh:  make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Connect sends a connect request to port and waits for the answer. The
// wait is bounded by ctx, or by the configured connect timeout when ctx
// has no deadline.
func (s *Socket) Connect(ctx context.Context, port uint32) error {
	if !validBindPort(port) {
		return ErrInvalidPort
	}
	s.mu.Lock()
	if s.state != SocketUnconnected || s.err != nil {
		s.mu.Unlock()
		return ErrInvalidState
	}
	s.state = SocketConnecting
	s.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.sess.cfg.ConnectTimeout)
		defer cancel()
	}

	p, corr, err := s.sess.registerConnect(s, port)
	if err != nil {
		s.closeWith(ErrSocketClosed)
		return &ConnectError{Port: port, Err: err}
	}
	if err := s.sess.enqueue(ctx, frame.ConnectRequest(s.local, port, corr)); err != nil {
		s.sess.cancelConnect(corr)
		s.closeWith(ErrSocketClosed)
		return &ConnectError{Port: port, Err: err}
	}

	var res connectResult
	select {
	case res = <-p.ch:
	case <-ctx.Done():
		if s.sess.cancelConnect(corr) {
			s.closeWith(ErrSocketClosed)
			return &ConnectError{Port: port, Err: ctx.Err()}
		}
		// the answer raced the deadline and is already on its way
		res = <-p.ch
	case <-s.sess.dead:
		s.closeWith(ErrSessionClosed)
		return &ConnectError{Port: port, Err: ErrSessionClosed}
	case <-s.done:
		s.sess.cancelConnect(corr)
		return &ConnectError{Port: port, Err: s.terminalErr()}
	}

	if !res.accepted {
		s.closeWith(ErrSocketClosed)
		return &ConnectError{Port: port, Reason: res.reason}
	}
	s.mu.Lock()
	if s.state == SocketConnecting {
		s.state = SocketConnected
	}
	s.mu.Unlock()
	s.opened()
	return nil
}

// opened counts the socket as active.
func (s *Socket) opened() {
	s.mu.Lock()
	s.counted = true
	s.mu.Unlock()
	s.sess.metrics.SocketOpened()
	s.sess.log.Debug("socket %d->%d connected", s.local, s.remote)
}

func (s *Socket) Read(p []byte) (int, error) {
	switch s.State() {
	case SocketUnconnected, SocketConnecting:
		return 0, ErrNotConnected
	}
	return s.in.ReadTimeout(p, s.sess.cfg.ReadTimeout)
}

// Write splits p into DATA frames of at most the configured payload size
// and queues them. It returns once every frame is queued.
func (s *Socket) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	err := s.writableLocked()
	dl := s.writeDeadline
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}

	ctx := context.Background()
	if !dl.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, dl)
		defer cancel()
	}

	max := s.sess.cfg.MaxPayload
	n := 0
	for n < len(p) {
		chunk := len(p) - n
		if chunk > max {
			chunk = max
		}
		buf := make([]byte, chunk)
		copy(buf, p[n:n+chunk])
		if err := s.sess.enqueue(ctx, frame.Data(s.local, s.remote, buf)); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				err = ErrWriteTimeout
			}
			return n, err
		}
		n += chunk
	}
	return n, nil
}

func (s *Socket) writableLocked() error {
	if s.err != nil {
		return s.err
	}
	switch s.state {
	case SocketConnected, SocketRemoteClosed:
		return nil
	case SocketLocalClosed, SocketClosed:
		return ErrSocketClosed
	}
	return ErrNotConnected
}

// CloseWrite sends CLOSE and shuts the write half. Reading continues
// until the peer closes. Calling it again is a no-op.
func (s *Socket) CloseWrite() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if s.localClosed {
		s.mu.Unlock()
		return nil
	}
	if err := s.writableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.localClosed = true
	s.updateStateLocked()
	s.mu.Unlock()

	// after every queued DATA frame of this socket
	if err := s.sess.enqueue(context.Background(), frame.Close(s.local, s.remote)); err != nil {
		return err
	}
	s.finish()
	return nil
}

// Close shuts both halves. It waits up to the configured close timeout
// for the peer to acknowledge, then releases the socket. Data already
// buffered stays readable.
func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.close()
	})
	return s.closeErr
}

func (s *Socket) close() error {
	switch s.State() {
	case SocketUnconnected, SocketConnecting, SocketClosed:
		s.closeWith(ErrSocketClosed)
		return nil
	}

	if err := s.CloseWrite(); err != nil {
		s.closeWith(ErrSocketClosed)
		if errors.Is(err, ErrSessionClosed) {
			return nil
		}
		return err
	}

	t := time.NewTimer(s.sess.cfg.CloseTimeout)
	defer t.Stop()
	select {
	case <-s.ackCh:
	case <-s.done:
	case <-s.sess.dead:
	case <-t.C:
		s.sess.log.Verbose("socket %d->%d: no CLOSE_ACK within %s", s.local, s.remote, s.sess.cfg.CloseTimeout)
	}
	s.closeWith(ErrSocketClosed)
	return nil
}

// remoteClose handles the peer's CLOSE.
func (s *Socket) remoteClose() {
	s.mu.Lock()
	s.remoteClosed = true
	s.updateStateLocked()
	s.mu.Unlock()
	s.in.SetError(io.EOF)
	s.finish()
}

// closeAcked handles the CLOSE_ACK for our CLOSE.
func (s *Socket) closeAcked() {
	s.mu.Lock()
	if !s.localClosed || s.acked {
		s.mu.Unlock()
		return
	}
	s.acked = true
	close(s.ackCh)
	s.mu.Unlock()
	s.finish()
}

// finish releases the socket once both halves are closed and our CLOSE
// has been acknowledged.
func (s *Socket) finish() {
	s.mu.Lock()
	done := s.localClosed && s.remoteClosed && s.acked
	s.mu.Unlock()
	if done {
		s.closeWith(ErrSocketClosed)
	}
}

func (s *Socket) updateStateLocked() {
	if s.state == SocketClosed {
		return
	}
	switch {
	case s.localClosed:
		s.state = SocketLocalClosed
	case s.remoteClosed:
		s.state = SocketRemoteClosed
	}
}

// closeWith releases the socket from its session. Pending reads drain the
// buffer, then see EOF if the peer closed and err otherwise.
func (s *Socket) closeWith(err error) {
	s.mu.Lock()
	if s.state == SocketClosed && s.err != nil {
		s.mu.Unlock()
		return
	}
	s.state = SocketClosed
	s.err = err
	counted := s.counted
	s.counted = false
	close(s.done)
	s.mu.Unlock()

	s.in.SetError(err)
	s.sess.removeSocket(s)
	if counted {
		s.sess.metrics.SocketClosed()
	}
}

func (s *Socket) terminalErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Socket) State() SocketState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Session returns the session carrying the socket.
func (s *Socket) Session() *Session { return s.sess }

func (s *Socket) LocalPort() uint32  { return s.local }
func (s *Socket) RemotePort() uint32 { return s.remote }

func (s *Socket) LocalAddr() net.Addr {
	return Addr{Physical: s.sess.LocalAddr().String(), Port: s.local}
}

func (s *Socket) RemoteAddr() net.Addr {
	return Addr{Physical: s.sess.RemoteAddr().String(), Port: s.remote}
}

func (s *Socket) SetDeadline(t time.Time) error {
	s.SetReadDeadline(t)  //nolint:errcheck
	s.SetWriteDeadline(t) //nolint:errcheck
	return nil
}

func (s *Socket) SetReadDeadline(t time.Time) error {
	s.in.SetDeadline(t)
	return nil
}

// SetWriteDeadline bounds how long Write may wait for queue space.
func (s *Socket) SetWriteDeadline(t time.Time) error {
	s.mu.Lock()
	s.writeDeadline = t
	s.mu.Unlock()
	return nil
}

func (s *Socket) String() string {
	return fmt.Sprintf("socket(%d->%d %s)", s.local, s.remote, s.State())
}
