package mux

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"vmux/internal/frame"
	"vmux/internal/metrics"
	"vmux/util"
)

// SessionState is the lifecycle state of a Session.
type SessionState int

const (
	SessionActive SessionState = iota
	SessionClosing
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionActive:
		return "ACTIVE"
	case SessionClosing:
		return "CLOSING"
	case SessionClosed:
		return "CLOSED"
	}
	return fmt.Sprintf("SessionState(%d)", int(s))
}

// pair identifies a socket within a session.
type pair struct {
	local, remote uint32
}

type connectResult struct {
	accepted bool
	reason   string
}

type pendingConnect struct {
	sock *Socket
	ch   chan connectResult // capacity 1, written once by the reader
}

// Session multiplexes virtual sockets over one physical connection.
type Session struct {
	dieOnce atomic.Uint32 // guarantees only one die() call proceeds

	id        xid.ID
	cfg       Config
	log       *util.Logger
	metrics   *metrics.Collector
	transport io.ReadWriteCloser
	bw        *bufio.Writer
	framer    frame.Framer
	ep        *Endpoint // nil for standalone sessions

	mu            sync.Mutex
	state         SessionState
	sockets       map[pair]*Socket
	ephemeral     map[uint32]struct{}
	listeners     map[uint32]*ServerSocket
	pending       map[uint32]*pendingConnect
	pings         map[uint64]chan struct{}
	nextCorr      uint32
	nextEphemeral uint32
	nextNonce     uint64
	registry      *Registry
	registryKey   string

	// application frames, bounded
	writeFrames chan frame.Frame

	// PONG and CONNECT_REJECT, unbounded so the reader never waits on
	// the writer; written ahead of the application queue
	ctrlMu     sync.Mutex
	ctrl       []frame.Frame
	ctrlNotify chan struct{}

	peerPort  atomic.Uint32
	hello     chan struct{}
	helloOnce sync.Once

	dead   chan struct{}
	dieErr error // the first error that caused session termination
}

// NewSession starts a session over transport. The session owns transport
// and closes it when it dies.
func NewSession(transport io.ReadWriteCloser, cfg Config) *Session {
	return newSession(transport, cfg, nil, 0)
}

func newSession(transport io.ReadWriteCloser, cfg Config, ep *Endpoint, advertise uint32) *Session {
	cfg.initDefaults()
	s := &Session{
		id:            xid.New(),
		cfg:           cfg,
		metrics:       cfg.Metrics,
		transport:     transport,
		bw:            bufio.NewWriterSize(transport, frame.HeaderSize+cfg.MaxPayload),
		ep:            ep,
		sockets:       make(map[pair]*Socket),
		ephemeral:     make(map[uint32]struct{}),
		listeners:     make(map[uint32]*ServerSocket),
		pending:       make(map[uint32]*pendingConnect),
		pings:         make(map[uint64]chan struct{}),
		nextEphemeral: EphemeralBase,
		writeFrames:   make(chan frame.Frame, cfg.WriteQueueDepth),
		ctrlNotify:    make(chan struct{}, 1),
		hello:         make(chan struct{}),
		dead:          make(chan struct{}),
	}
	s.log = cfg.Logger.Named("session " + s.id.String())
	s.framer = frame.NewFramer(bufio.NewReader(transport), s.bw, cfg.MaxPayload)
	if cfg.TraceFrames {
		s.framer = frame.NewDebugFramer(cfg.Logger.Writer(), s.framer)
	}

	// HELLO is always the first frame on the wire
	s.ctrl = append(s.ctrl, frame.Hello(advertise))

	s.metrics.SessionOpened()
	s.log.Verbose("opened over %s", s.RemoteAddr())
	go s.reader()
	go s.writer()
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id.String() }

// NewSocket returns an unconnected socket bound to this session.
func (s *Session) NewSocket() *Socket {
	return newSocket(s, 0, 0, SocketUnconnected)
}

// Dial opens a socket to port on the peer.
func (s *Session) Dial(ctx context.Context, port uint32) (*Socket, error) {
	sock := s.NewSocket()
	if err := sock.Connect(ctx, port); err != nil {
		return nil, err
	}
	return sock, nil
}

// Listen binds a session-scoped server socket. Endpoint-wide server
// sockets with the same port count as bound.
func (s *Session) Listen(port uint32) (*ServerSocket, error) {
	if !validBindPort(port) {
		return nil, ErrInvalidPort
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionActive {
		return nil, ErrSessionClosed
	}
	if _, ok := s.listeners[port]; ok {
		return nil, ErrPortInUse
	}
	if s.ep != nil && s.ep.lookupListener(port) != nil {
		return nil, ErrPortInUse
	}
	l := newServerSocket(port, s, nil, s.cfg)
	s.listeners[port] = l
	return l, nil
}

// Ping sends a PING and waits for the matching PONG.
func (s *Session) Ping(ctx context.Context) (time.Duration, error) {
	s.mu.Lock()
	if s.state != SessionActive {
		s.mu.Unlock()
		return 0, ErrSessionClosed
	}
	s.nextNonce++
	nonce := s.nextNonce
	ch := make(chan struct{})
	s.pings[nonce] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pings, nonce)
		s.mu.Unlock()
	}()

	start := time.Now()
	if err := s.enqueue(ctx, frame.Ping(nonce)); err != nil {
		return 0, err
	}
	select {
	case <-ch:
		return time.Since(start), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-s.dead:
		return 0, ErrSessionClosed
	}
}

// PeerPort returns the port the peer advertised in its HELLO, 0 if none.
func (s *Session) PeerPort() uint32 { return s.peerPort.Load() }

// waitHello blocks until the peer's HELLO has been read.
func (s *Session) waitHello(ctx context.Context) error {
	select {
	case <-s.hello:
		return nil
	case <-s.dead:
		if s.dieErr != nil {
			return s.dieErr
		}
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NumSockets returns the number of sockets in the session table.
func (s *Session) NumSockets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sockets)
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Active() bool {
	select {
	case <-s.dead:
		return false
	default:
		return true
	}
}

// Close tears the session down. It is idempotent.
func (s *Session) Close() error {
	s.die(nil)
	return nil
}

// Done is closed when the session has died.
func (s *Session) Done() <-chan struct{} { return s.dead }

// Wait blocks until the session dies and returns the error that killed
// it, nil for a clean close by either side.
func (s *Session) Wait() error {
	<-s.dead
	return s.dieErr
}

func (s *Session) LocalAddr() net.Addr {
	if a, ok := s.transport.(interface{ LocalAddr() net.Addr }); ok {
		return a.LocalAddr()
	}
	return pipeAddr("local")
}

func (s *Session) RemoteAddr() net.Addr {
	if a, ok := s.transport.(interface{ RemoteAddr() net.Addr }); ok {
		return a.RemoteAddr()
	}
	return pipeAddr("remote")
}

// attach records the registry entry that must be removed on death.
func (s *Session) attach(r *Registry, key string) {
	s.mu.Lock()
	s.registry, s.registryKey = r, key
	dead := s.state != SessionActive
	s.mu.Unlock()
	if dead {
		r.Remove(key, s)
	}
}

// die tears the session down. Only the first call proceeds; its err is
// what Wait reports.
func (s *Session) die(err error) bool {
	if !s.dieOnce.CompareAndSwap(0, 1) {
		return false
	}

	s.mu.Lock()
	s.state = SessionClosing
	s.dieErr = err
	sockets := make([]*Socket, 0, len(s.sockets))
	for _, sock := range s.sockets {
		sockets = append(sockets, sock)
	}
	listeners := make([]*ServerSocket, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	connecting := make([]*Socket, 0, len(s.pending))
	for _, p := range s.pending {
		connecting = append(connecting, p.sock)
	}
	reg, key := s.registry, s.registryKey
	s.mu.Unlock()

	close(s.dead)
	s.transport.Close()

	for _, sock := range sockets {
		sock.closeWith(ErrSessionClosed)
	}
	for _, sock := range connecting {
		sock.closeWith(ErrSessionClosed)
	}
	for _, l := range listeners {
		l.closeWith(ErrSessionClosed)
	}
	if reg != nil {
		reg.Remove(key, s)
	}

	s.mu.Lock()
	s.state = SessionClosed
	s.sockets = make(map[pair]*Socket)
	s.pending = make(map[uint32]*pendingConnect)
	s.mu.Unlock()

	s.metrics.SessionClosed()
	if err != nil {
		s.metrics.RecordError(err.Error())
		s.log.Warn("closed: %v", err)
	} else {
		s.log.Verbose("closed")
	}
	return true
}

func (s *Session) recoverPanic(prefix string) {
	if r := recover(); r != nil {
		s.die(fmt.Errorf("%s panic: %v", prefix, r))
	}
}

// registerConnect allocates an ephemeral port and correlation id for
// sock and enters both in the session tables.
func (s *Session) registerConnect(sock *Socket, remote uint32) (*pendingConnect, uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionActive {
		return nil, 0, ErrSessionClosed
	}
	local, err := s.allocEphemeral()
	if err != nil {
		return nil, 0, err
	}
	s.nextCorr++
	corr := s.nextCorr

	sock.local, sock.remote = local, remote
	s.ephemeral[local] = struct{}{}
	s.sockets[pair{local, remote}] = sock
	p := &pendingConnect{sock: sock, ch: make(chan connectResult, 1)}
	s.pending[corr] = p
	return p, corr, nil
}

// allocEphemeral must be called with s.mu held.
func (s *Session) allocEphemeral() (uint32, error) {
	for i := uint64(0); i <= uint64(^uint32(0)-EphemeralBase); i++ {
		p := s.nextEphemeral
		s.nextEphemeral++
		if s.nextEphemeral == 0 {
			s.nextEphemeral = EphemeralBase
		}
		if _, used := s.ephemeral[p]; !used {
			return p, nil
		}
	}
	return 0, ErrPortInUse
}

// cancelConnect removes a pending connect. It reports false when the
// reader already resolved it.
func (s *Session) cancelConnect(corr uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[corr]; !ok {
		return false
	}
	delete(s.pending, corr)
	return true
}

func (s *Session) resolveConnect(corr uint32) *pendingConnect {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pending[corr]
	delete(s.pending, corr)
	return p
}

func (s *Session) lookupSocket(local, remote uint32) *Socket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sockets[pair{local, remote}]
}

func (s *Session) removeSocket(sock *Socket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pair{sock.local, sock.remote}
	if s.sockets[key] == sock {
		delete(s.sockets, key)
		if sock.local >= EphemeralBase {
			delete(s.ephemeral, sock.local)
		}
	}
}

// lookupListener resolves port against the session table first, then
// the endpoint-wide table.
func (s *Session) lookupListener(port uint32) *ServerSocket {
	s.mu.Lock()
	l := s.listeners[port]
	s.mu.Unlock()
	if l == nil && s.ep != nil {
		l = s.ep.lookupListener(port)
	}
	return l
}

func (s *Session) hasListener(port uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.listeners[port]
	return ok
}

func (s *Session) removeListener(l *ServerSocket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listeners[l.port] == l {
		delete(s.listeners, l.port)
	}
}

// accept turns a queued connect request into a connected socket and
// sends the CONNECT_ACK.
func (s *Session) accept(req connectRequest) (*Socket, error) {
	s.mu.Lock()
	if s.state != SessionActive {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	key := pair{req.local, req.remote}
	if _, ok := s.sockets[key]; ok {
		s.mu.Unlock()
		s.reject(req.local, req.remote, req.corr, "port pair in use")
		return nil, ErrPortInUse
	}
	sock := newSocket(s, req.local, req.remote, SocketConnected)
	s.sockets[key] = sock
	s.mu.Unlock()

	// through the application queue so the ACK precedes the socket's DATA
	if err := s.enqueue(context.Background(), frame.ConnectAck(req.local, req.remote, req.corr)); err != nil {
		sock.closeWith(err)
		return nil, err
	}
	sock.opened()
	return sock, nil
}

func (s *Session) reject(local, remote, corr uint32, reason string) {
	s.metrics.ConnectRejected()
	s.log.Verbose("rejecting connect from port %d to %d: %s", remote, local, reason)
	s.sendControl(frame.ConnectReject(local, remote, corr, reason))
}

// enqueue places f on the bounded application queue. It returns once the
// frame is queued, not when it is written.
func (s *Session) enqueue(ctx context.Context, f frame.Frame) error {
	select {
	case <-s.dead:
		return ErrSessionClosed
	default:
	}
	select {
	case s.writeFrames <- f:
		return nil
	case <-s.dead:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sendOrdered queues a reader reply about a socket pair on the
// application queue, behind every DATA frame already queued for it. It
// never blocks the reader. sock, when set, is the local socket; taking
// its write lock keeps the reply from landing inside a Write.
func (s *Session) sendOrdered(sock *Socket, f frame.Frame) {
	if !s.Active() {
		return
	}
	go func() {
		if sock != nil {
			sock.writeMu.Lock()
			defer sock.writeMu.Unlock()
		}
		s.enqueue(context.Background(), f) //nolint:errcheck
	}()
}

// sendControl queues a reply from the reader. It never blocks.
func (s *Session) sendControl(f frame.Frame) {
	if !s.Active() {
		return
	}
	s.ctrlMu.Lock()
	s.ctrl = append(s.ctrl, f)
	s.ctrlMu.Unlock()
	select {
	case s.ctrlNotify <- struct{}{}:
	default:
	}
}

func (s *Session) takeControl() []frame.Frame {
	s.ctrlMu.Lock()
	defer s.ctrlMu.Unlock()
	batch := s.ctrl
	s.ctrl = nil
	return batch
}
