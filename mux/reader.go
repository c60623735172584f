package mux

import (
	"errors"
	"fmt"

	"vmux/internal/buffer"
	verrors "vmux/internal/errors"
	"vmux/internal/frame"
)

// reader is the only goroutine that reads from the transport. Any error
// returned by a frame handler is fatal to the session.
func (s *Session) reader() {
	defer s.recoverPanic("reader()")

	for {
		f, err := s.framer.ReadFrame()
		if err != nil {
			if errors.Is(err, verrors.ErrStreamClosed) {
				s.die(nil)
			} else {
				s.die(err)
			}
			return
		}
		s.metrics.FrameReceived(len(f.Payload))

		if err := s.handleFrame(f); err != nil {
			s.die(err)
			return
		}
	}
}

func (s *Session) handleFrame(f frame.Frame) error {
	switch f.Type {
	case frame.TypeConnectRequest:
		return s.handleConnectRequest(f)
	case frame.TypeConnectAck:
		return s.handleConnectAck(f)
	case frame.TypeConnectReject:
		return s.handleConnectReject(f)
	case frame.TypeData:
		s.handleData(f)
	case frame.TypeClose:
		s.handleClose(f)
	case frame.TypeCloseAck:
		s.handleCloseAck(f)
	case frame.TypePing:
		if _, err := f.Nonce(); err != nil {
			return err
		}
		s.sendControl(frame.Pong(f.Payload))
	case frame.TypePong:
		return s.handlePong(f)
	case frame.TypeHello:
		return s.handleHello(f)
	default:
		return verrors.Protocol("unexpected frame type %s", f.Type)
	}
	return nil
}

func (s *Session) handleConnectRequest(f frame.Frame) error {
	corr, err := f.CorrID()
	if err != nil {
		return err
	}
	// our local port is the frame's destination
	local, remote := f.Dst, f.Src

	l := s.lookupListener(local)
	if l == nil {
		s.reject(local, remote, corr, fmt.Sprintf("no listener on port %d", local))
		return nil
	}
	if s.lookupSocket(local, remote) != nil {
		s.reject(local, remote, corr, "port pair in use")
		return nil
	}
	if !l.enqueue(connectRequest{sess: s, local: local, remote: remote, corr: corr}) {
		s.reject(local, remote, corr, "accept backlog full")
	}
	return nil
}

func (s *Session) handleConnectAck(f frame.Frame) error {
	corr, err := f.CorrID()
	if err != nil {
		return err
	}
	p := s.resolveConnect(corr)
	if p == nil {
		// the connect already gave up; release the peer's socket
		s.log.Verbose("CONNECT_ACK for unknown request %d, closing %d->%d", corr, f.Dst, f.Src)
		s.sendOrdered(nil, frame.Close(f.Dst, f.Src))
		return nil
	}
	if p.sock.local != f.Dst || p.sock.remote != f.Src {
		p.ch <- connectResult{reason: "mismatched acknowledgement"}
		return verrors.Protocol("CONNECT_ACK %d for ports %d->%d, expected %d->%d",
			corr, f.Src, f.Dst, p.sock.remote, p.sock.local)
	}
	p.ch <- connectResult{accepted: true}
	return nil
}

func (s *Session) handleConnectReject(f frame.Frame) error {
	corr, err := f.CorrID()
	if err != nil {
		return err
	}
	s.metrics.ConnectRejected()
	if p := s.resolveConnect(corr); p != nil {
		p.ch <- connectResult{reason: f.Reason()}
	}
	return nil
}

func (s *Session) handleData(f frame.Frame) {
	sock := s.lookupSocket(f.Dst, f.Src)
	if sock == nil {
		s.drop(f, "unknown socket")
		return
	}
	if err := sock.in.Write(f.Payload, s.cfg.BufferPolicy); err != nil {
		if errors.Is(err, buffer.ErrFull) {
			s.metrics.FrameDropped()
			s.log.Warn("socket %d<-%d buffer full, dropped %d bytes", f.Dst, f.Src, len(f.Payload))
			return
		}
		s.drop(f, err.Error())
	}
}

func (s *Session) handleClose(f frame.Frame) {
	// acknowledged even for released sockets so the peer's Close
	// does not wait out its grace period; the ACK follows our DATA
	sock := s.lookupSocket(f.Dst, f.Src)
	s.sendOrdered(sock, frame.CloseAck(f.Dst, f.Src))
	if sock == nil {
		s.drop(f, "unknown socket")
		return
	}
	sock.remoteClose()
}

func (s *Session) handleCloseAck(f frame.Frame) {
	sock := s.lookupSocket(f.Dst, f.Src)
	if sock == nil {
		s.drop(f, "unknown socket")
		return
	}
	sock.closeAcked()
}

func (s *Session) handlePong(f frame.Frame) error {
	nonce, err := f.Nonce()
	if err != nil {
		return err
	}
	s.mu.Lock()
	ch, ok := s.pings[nonce]
	delete(s.pings, nonce)
	s.mu.Unlock()
	if ok {
		close(ch)
	}
	return nil
}

func (s *Session) handleHello(f frame.Frame) error {
	v, err := f.HelloVersion()
	if err != nil {
		return err
	}
	if v != frame.Version {
		return verrors.Protocol("unsupported protocol version %d", v)
	}
	s.helloOnce.Do(func() {
		s.peerPort.Store(f.Src)
		s.log.Debug("peer HELLO, version %d, port %d", v, f.Src)
		close(s.hello)
	})
	return nil
}

func (s *Session) drop(f frame.Frame, why string) {
	s.metrics.FrameDropped()
	s.log.Verbose("dropped %s: %s", f, why)
}
