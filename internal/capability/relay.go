package capability

import (
	"context"

	"vmux/internal/session"
	"vmux/util"
)

// Relay copies data between the virtual socket and the session's
// stdin/stdout, the default interactive / pipe mode.
type Relay struct{}

func (r *Relay) Handle(ctx context.Context, sess *session.Session) error {
	return util.BidirectionalCopy(ctx, sess.Conn, sess.Stdin, sess.Stdout)
}
