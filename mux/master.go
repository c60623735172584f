package mux

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/sourcegraph/conc"

	verrors "vmux/internal/errors"
	"vmux/util"
)

// MasterListener accepts physical connections and turns each into a
// registered session.
type MasterListener struct {
	ln  net.Listener
	ep  *Endpoint
	log *util.Logger

	conns     chan net.Conn
	done      chan struct{}
	wg        conc.WaitGroup
	closeOnce sync.Once

	mu  sync.Mutex
	err error // accept loop failure
}

func newMasterListener(ln net.Listener, ep *Endpoint) *MasterListener {
	m := &MasterListener{
		ln:    ln,
		ep:    ep,
		log:   ep.log.Named("master " + ln.Addr().String()),
		conns: make(chan net.Conn),
		done:  make(chan struct{}),
	}
	m.wg.Go(m.acceptLoop)
	return m
}

func (m *MasterListener) acceptLoop() {
	for {
		conn, err := m.ln.Accept()
		if err != nil {
			m.mu.Lock()
			m.err = err
			m.mu.Unlock()
			m.closeOnce.Do(func() { close(m.done) })
			return
		}
		select {
		case m.conns <- conn:
		case <-m.done:
			conn.Close()
			return
		}
	}
}

// AcceptPhysical waits for the next physical connection, starts a
// session on it and waits for the peer's HELLO. It returns the session,
// registered under the peer's address, and the port the peer advertised.
func (m *MasterListener) AcceptPhysical(ctx context.Context) (*Session, uint32, error) {
	// the accept timeout bounds the wait for a connection, not its HELLO
	actx := ctx
	if _, ok := ctx.Deadline(); !ok && m.ep.cfg.AcceptTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, m.ep.cfg.AcceptTimeout)
		defer cancel()
	}

	var conn net.Conn
	select {
	case conn = <-m.conns:
	case <-m.done:
		return nil, 0, m.acceptErr()
	case <-actx.Done():
		if errors.Is(actx.Err(), context.DeadlineExceeded) {
			return nil, 0, ErrAcceptTimeout
		}
		return nil, 0, actx.Err()
	}

	peer := conn.RemoteAddr().String()
	sess := m.ep.newSession(conn, 0)

	hctx, cancel := context.WithTimeout(ctx, m.ep.cfg.HelloTimeout)
	defer cancel()
	if err := sess.waitHello(hctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = verrors.Protocol("no HELLO from %s within %s", peer, m.ep.cfg.HelloTimeout)
		}
		sess.die(err)
		return nil, 0, err
	}

	if !m.ep.registry.Put(peer, sess) {
		sess.Close()
		return nil, 0, verrors.Protocol("duplicate session for %s", peer)
	}
	m.log.Verbose("session from %s, peer port %d", peer, sess.PeerPort())
	return sess, sess.PeerPort(), nil
}

func (m *MasterListener) acceptErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err == nil || errors.Is(m.err, net.ErrClosed) {
		return ErrSocketClosed
	}
	return m.err
}

// Addr returns the physical listen address.
func (m *MasterListener) Addr() net.Addr { return m.ln.Addr() }

// Close stops accepting. Sessions already accepted stay up.
func (m *MasterListener) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	err := m.ln.Close()
	m.wg.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
