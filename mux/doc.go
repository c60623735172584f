// Package mux multiplexes many virtual sockets over one physical
// connection.
//
// A Session owns a physical byte stream and runs exactly one reader and
// one writer goroutine over it. Virtual sockets are addressed by 32-bit
// ports: a Socket is keyed in its session by (local port, remote port),
// a ServerSocket by the port it listens on. Sockets implement net.Conn
// and server sockets implement net.Listener, so upper layers written
// against the net package run unchanged over a virtual link.
//
// An Endpoint composes the pieces a process needs: a Registry that keeps
// at most one session per peer address, a table of endpoint-wide server
// sockets reachable from every session, a transport.Dialer for new
// physical links and MasterListeners that accept them.
//
// Backpressure is per socket. Under PolicyBlock a socket whose buffer is
// full stalls the session's reader, and with it every other socket on
// that link, until the application reads. PolicyDrop discards the data
// instead and counts the drop.
package mux
