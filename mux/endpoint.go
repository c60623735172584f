package mux

import (
	"context"
	"io"
	"net"
	"sync"

	"go.uber.org/multierr"

	"vmux/internal/transport"
	"vmux/util"
)

// Endpoint is one process's view of the virtual network: a session per
// peer address, endpoint-wide server sockets, and the physical dialer
// and listeners that create sessions.
type Endpoint struct {
	cfg      Config
	log      *util.Logger
	dialer   transport.Dialer
	registry *Registry

	mu        sync.Mutex
	closed    bool
	listeners map[uint32]*ServerSocket
	masters   []*MasterListener
}

// NewEndpoint returns an endpoint that opens physical links through
// dialer. A nil dialer dials plain TCP.
func NewEndpoint(cfg Config, dialer transport.Dialer) *Endpoint {
	cfg.initDefaults()
	if dialer == nil {
		dialer = &transport.TCPDialer{Timeout: cfg.ConnectTimeout}
	}
	return &Endpoint{
		cfg:       cfg,
		log:       cfg.Logger,
		dialer:    dialer,
		registry:  NewRegistry(),
		listeners: make(map[uint32]*ServerSocket),
	}
}

func (e *Endpoint) Registry() *Registry { return e.registry }

func (e *Endpoint) Config() Config { return e.cfg }

// Session returns the session to addr, dialing it if needed.
func (e *Endpoint) Session(ctx context.Context, addr string) (*Session, error) {
	if e.isClosed() {
		return nil, ErrSessionClosed
	}
	return e.registry.GetOrCreate(ctx, addr, func(ctx context.Context) (*Session, error) {
		return e.connect(ctx, addr, 0)
	})
}

// Dial opens a socket to port on the peer at addr.
func (e *Endpoint) Dial(ctx context.Context, addr string, port uint32) (*Socket, error) {
	sess, err := e.Session(ctx, addr)
	if err != nil {
		return nil, err
	}
	return sess.Dial(ctx, port)
}

func (e *Endpoint) connect(ctx context.Context, addr string, advertise uint32) (*Session, error) {
	conn, err := e.dialer.Dial(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	e.log.Verbose("connected to %s", addr)
	return e.newSession(conn, advertise), nil
}

func (e *Endpoint) newSession(conn io.ReadWriteCloser, advertise uint32) *Session {
	return newSession(conn, e.cfg, e, advertise)
}

// Listen binds an endpoint-wide server socket on port. A port some
// registered session has bound for itself counts as in use.
func (e *Endpoint) Listen(port uint32) (*ServerSocket, error) {
	if !validBindPort(port) {
		return nil, ErrInvalidPort
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrSocketClosed
	}
	if _, ok := e.listeners[port]; ok {
		e.mu.Unlock()
		return nil, ErrPortInUse
	}
	l := newServerSocket(port, nil, e, e.cfg)
	e.listeners[port] = l
	e.mu.Unlock()

	// Session.Listen locks the session before the endpoint, so the
	// sessions are checked after the entry is visible to them.
	for _, sess := range e.registry.Sessions() {
		if sess.hasListener(port) {
			l.Close()
			return nil, ErrPortInUse
		}
	}
	return l, nil
}

// ListenPhysical starts a master listener on a physical address.
func (e *Endpoint) ListenPhysical(network, addr string) (*MasterListener, error) {
	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, err
	}
	return e.Serve(ln), nil
}

// Serve turns an existing listener into a master listener.
func (e *Endpoint) Serve(ln net.Listener) *MasterListener {
	m := newMasterListener(ln, e)
	e.mu.Lock()
	e.masters = append(e.masters, m)
	e.mu.Unlock()
	return m
}

func (e *Endpoint) lookupListener(port uint32) *ServerSocket {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listeners[port]
}

func (e *Endpoint) removeListener(l *ServerSocket) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listeners[l.port] == l {
		delete(e.listeners, l.port)
	}
}

func (e *Endpoint) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Close stops every master listener, closes every endpoint-wide server
// socket and every session, and releases the dialer.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	masters := e.masters
	e.masters = nil
	listeners := make([]*ServerSocket, 0, len(e.listeners))
	for _, l := range e.listeners {
		listeners = append(listeners, l)
	}
	e.mu.Unlock()

	var err error
	for _, m := range masters {
		err = multierr.Append(err, m.Close())
	}
	for _, l := range listeners {
		err = multierr.Append(err, l.Close())
	}
	err = multierr.Append(err, e.registry.Close())
	err = multierr.Append(err, e.dialer.Close())
	return err
}
