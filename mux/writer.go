package mux

import "vmux/internal/frame"

// writer is the only goroutine that writes to the transport. Control
// replies (PONG, CONNECT_REJECT) go first; everything else leaves in
// queue order. The buffer is flushed whenever both queues are empty.
func (s *Session) writer() {
	defer s.recoverPanic("writer()")

	for {
		select {
		case <-s.dead:
			return
		default:
		}

		if batch := s.takeControl(); len(batch) > 0 {
			for _, f := range batch {
				if err := s.writeFrame(f); err != nil {
					s.die(err)
					return
				}
			}
			continue
		}

		select {
		case f := <-s.writeFrames:
			if err := s.writeFrame(f); err != nil {
				s.die(err)
				return
			}
			continue
		default:
		}

		if err := s.bw.Flush(); err != nil {
			s.die(err)
			return
		}

		select {
		case f := <-s.writeFrames:
			if err := s.writeFrame(f); err != nil {
				s.die(err)
				return
			}
		case <-s.ctrlNotify:
		case <-s.dead:
			return
		}
	}
}

func (s *Session) writeFrame(f frame.Frame) error {
	if err := s.framer.WriteFrame(f); err != nil {
		return err
	}
	s.metrics.FrameSent(len(f.Payload))
	return nil
}
