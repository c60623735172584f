package frame

import (
	"fmt"
	"io"
)

// A Framer serializes and deserializes frames to and from a transport.
type Framer interface {
	// WriteFrame writes f in a single call to the underlying writer.
	WriteFrame(f Frame) error

	// ReadFrame blocks until the next full frame has been read.
	ReadFrame() (Frame, error)
}

type framer struct {
	r          io.Reader
	w          io.Writer
	maxPayload int
	hdr        [HeaderSize]byte
	wbuf       []byte
}

// NewFramer returns a Framer that enforces maxPayload in both directions.
// It is not safe for concurrent use: callers keep one reader and one
// writer goroutine.
func NewFramer(r io.Reader, w io.Writer, maxPayload int) Framer {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &framer{r: r, w: w, maxPayload: maxPayload}
}

func (fr *framer) WriteFrame(f Frame) error {
	buf, err := AppendEncode(fr.wbuf[:0], f, fr.maxPayload)
	if err != nil {
		return err
	}
	fr.wbuf = buf
	_, err = fr.w.Write(buf)
	return err
}

func (fr *framer) ReadFrame() (Frame, error) {
	return decode(fr.r, fr.hdr[:], fr.maxPayload)
}

type debugFramer struct {
	debugWr io.Writer
	Framer
}

// NewDebugFramer wraps fr and writes a trace line for every frame that
// passes through it, plus a hex dump of outbound payloads.
func NewDebugFramer(wr io.Writer, fr Framer) Framer {
	return &debugFramer{Framer: fr, debugWr: wr}
}

func (fr *debugFramer) WriteFrame(f Frame) error {
	fmt.Fprintf(fr.debugWr, "Write frame: %s\n", f)
	n := len(f.Payload)
	for i := 0; i < n; i += 16 {
		j := i + 16
		if j > n {
			j = n
		}
		fmt.Fprintf(fr.debugWr, "\t%x\n", f.Payload[i:j])
	}
	return fr.Framer.WriteFrame(f)
}

func (fr *debugFramer) ReadFrame() (Frame, error) {
	f, err := fr.Framer.ReadFrame()
	fmt.Fprintf(fr.debugWr, "Read frame (err: %v): %s\n", err, f)
	return f, err
}
