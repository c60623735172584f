package capability

import (
	"context"
	"fmt"

	"vmux/internal/session"
	"vmux/util"
)

// Echo writes back everything it reads until the peer closes its write
// half, then closes its own.
type Echo struct{}

func (e *Echo) Handle(ctx context.Context, sess *session.Session) error {
	defer closeOnCancel(ctx, sess)()

	buf := util.GetBuf()
	defer util.PutBuf(buf)
	n, err := copyBuffer(sess, *buf)
	sess.Logger.Debug("echoed %d bytes", n)
	if err != nil {
		return fmt.Errorf("echo: %w", err)
	}
	return sess.CloseWrite()
}

func copyBuffer(sess *session.Session, buf []byte) (int64, error) {
	var total int64
	for {
		n, rerr := sess.Conn.Read(buf)
		if n > 0 {
			if _, werr := sess.Conn.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if rerr != nil {
			if isEOF(rerr) {
				return total, nil
			}
			return total, rerr
		}
	}
}
