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

// ConnectMode dials a physical peer, opens one virtual socket to VPort
// over the resulting session, and runs a capability on it.
type ConnectMode struct {
	Dialer     transport.Dialer
	Capability capability.Capability
	Address    string // physical "host:port"
	VPort      uint32
	Mux        mux.Config
	Logger     *util.Logger

	// Stdin/Stdout default to os.Stdin/os.Stdout when nil.
	Stdin  io.Reader
	Stdout io.Writer
}

// Run establishes the session and the socket, then hands the socket to
// the capability.
func (m *ConnectMode) Run(ctx context.Context) error {
	ep := mux.NewEndpoint(m.Mux, m.Dialer)
	defer ep.Close()

	m.Logger.Verbose("connecting to %s vport %d", m.Address, m.VPort)

	sock, err := ep.Dial(ctx, m.Address, m.VPort)
	if err != nil {
		return fmt.Errorf("connect %s#%d: %w", m.Address, m.VPort, err)
	}

	m.Logger.Verbose("connected %s", sock)
	return runCapability(ctx, m.Capability, sock, orStdin(m.Stdin), orStdout(m.Stdout), m.Logger)
}
