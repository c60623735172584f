// Package transport opens the physical connections that vmux sessions
// multiplex over.  A transport only knows how to reach a host; what
// runs over the resulting byte stream is the session's business.
package transport

import (
	"context"
	"net"
)

// Dialer opens outbound physical connections.  Implementations include
// a plain TCP dialer, a dialer that forwards through an SSH gateway and
// a retrying wrapper around either.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer
	// (e.g. an SSH client).  Stateless dialers return nil.
	Close() error
}
