package mux

import (
	"net"
	"strconv"
)

const (
	// MaxBindPort is the highest port a server socket may bind.
	MaxBindPort uint32 = 0x7FFFFFFF
	// EphemeralBase is the first port allocated to outgoing sockets.
	EphemeralBase uint32 = 0x80000000
)

// validBindPort reports whether p may be bound or connected to.
func validBindPort(p uint32) bool {
	return p >= 1 && p <= MaxBindPort
}

// Addr is the address of one end of a virtual socket: the physical
// address of the link plus the virtual port.
type Addr struct {
	Physical string
	Port     uint32
}

func (a Addr) Network() string { return "vmux" }

func (a Addr) String() string {
	return a.Physical + "#" + strconv.FormatUint(uint64(a.Port), 10)
}

var _ net.Addr = Addr{}

// pipeAddr stands in for transports that have no network address.
type pipeAddr string

func (a pipeAddr) Network() string { return "vmux" }
func (a pipeAddr) String() string  { return string(a) }
