package core

import (
	"context"
	"fmt"
	"io"

	"vmux/internal/capability"
	"vmux/internal/transport"
	"vmux/mux"
	"vmux/util"
)

// ReverseMode binds VPort locally and then bootstraps the physical link
// to Address, advertising VPort in its HELLO.  The peer's master side
// learns the port and connects back to it, so the socket roles are
// reversed relative to the physical link.
type ReverseMode struct {
	Dialer     transport.Dialer
	Capability capability.Capability
	Address    string // physical "host:port"
	VPort      uint32
	KeepOpen   bool
	Mux        mux.Config
	Logger     *util.Logger

	// Stdin/Stdout default to os.Stdin/os.Stdout when nil.
	Stdin  io.Reader
	Stdout io.Writer
}

// Run opens the link and serves sockets the peer opens back to VPort.
// It returns once the link dies, ctx ends, or (without KeepOpen) the
// first socket has been served.
func (m *ReverseMode) Run(ctx context.Context) error {
	ep := mux.NewEndpoint(m.Mux, m.Dialer)
	defer ep.Close()

	l, err := ep.Listen(m.VPort)
	if err != nil {
		return fmt.Errorf("bind virtual port %d: %w", m.VPort, err)
	}
	sess, err := l.Connect(ctx, m.Address)
	if err != nil {
		return fmt.Errorf("connect %s: %w", m.Address, err)
	}
	m.Logger.Verbose("link to %s up, advertising vport %d", m.Address, m.VPort)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-sess.Done():
			m.Logger.Verbose("link to %s closed", m.Address)
			l.Close()
		case <-stop:
		}
	}()

	return serveSockets(ctx, l, m.KeepOpen, m.Logger, func(ctx context.Context, sock *mux.Socket) error {
		return runCapability(ctx, m.Capability, sock, orStdin(m.Stdin), orStdout(m.Stdout), m.Logger)
	})
}
