package core

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/sourcegraph/conc"

	"vmux/internal/capability"
	"vmux/mux"
	"vmux/util"
)

// ListenMode accepts physical links on Address and virtual sockets on
// VPort, and runs a capability on each socket.  A peer that advertises
// a port in its HELLO (vmux -R) is connected back to, and the
// capability runs on that socket too.  With KeepOpen=true every socket
// gets its own goroutine; otherwise one socket is handled and Run
// returns.
type ListenMode struct {
	Address    string // ":port"
	VPort      uint32
	KeepOpen   bool
	Capability capability.Capability
	Mux        mux.Config
	Logger     *util.Logger

	// Ready, when set, receives the physical listen address once the
	// master listener is up.
	Ready chan<- net.Addr

	// Stdin/Stdout default to os.Stdin/os.Stdout when nil.
	Stdin  io.Reader
	Stdout io.Writer
}

// Run binds the physical and virtual listeners and dispatches accepted
// sockets to the capability.
func (m *ListenMode) Run(ctx context.Context) error {
	ep := mux.NewEndpoint(m.Mux, nil)
	defer ep.Close()

	master, err := ep.ListenPhysical("tcp", m.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", m.Address, err)
	}
	l, err := ep.Listen(m.VPort)
	if err != nil {
		return fmt.Errorf("bind virtual port %d: %w", m.VPort, err)
	}

	m.Logger.Verbose("listening on %s (vport %d)", master.Addr(), m.VPort)
	if m.Ready != nil {
		m.Ready <- master.Addr()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// first result of a connect-back socket when KeepOpen is false
	back := make(chan error, 1)
	var wg conc.WaitGroup
	stop := serveLinks(ctx, master, m.Logger, func(sess *mux.Session, port uint32) {
		if port == 0 {
			return
		}
		wg.Go(func() {
			err := m.connectBack(ctx, sess, port)
			if m.KeepOpen {
				if err != nil {
					m.Logger.Warn("connect back to %s port %d: %v", sess.RemoteAddr(), port, err)
				}
				return
			}
			select {
			case back <- err:
			default:
			}
			cancel()
		})
	})
	defer func() {
		stop()
		cancel()
		ep.Close()
		wg.Wait()
	}()

	err = serveSockets(ctx, l, m.KeepOpen, m.Logger, func(ctx context.Context, sock *mux.Socket) error {
		return runCapability(ctx, m.Capability, sock, orStdin(m.Stdin), orStdout(m.Stdout), m.Logger)
	})
	select {
	case berr := <-back:
		return berr
	default:
		return err
	}
}

// connectBack opens a socket to the port the peer advertised and runs
// the capability on it.
func (m *ListenMode) connectBack(ctx context.Context, sess *mux.Session, port uint32) error {
	sock, err := sess.Dial(ctx, port)
	if err != nil {
		return err
	}
	m.Logger.Verbose("connected back to %s", sock.RemoteAddr())
	return runCapability(ctx, m.Capability, sock, orStdin(m.Stdin), orStdout(m.Stdout), m.Logger)
}
