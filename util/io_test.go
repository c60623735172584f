package util

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	verrors "vmux/internal/errors"
)

func TestBidirectionalCopy(t *testing.T) {
	// Set up a TCP server that echoes data.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn) //nolint:errcheck
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}

	input := bytes.NewBufferString("hello world\n")
	output := &bytes.Buffer{}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// input → conn → echo → output.  When input is exhausted the write
	// side half-closes; the echo server then sees EOF and closes its
	// side, ending the copy.
	if err := BidirectionalCopy(ctx, conn, input, output); err != nil {
		t.Fatalf("BidirectionalCopy: %v", err)
	}
	if got := output.String(); got != "hello world\n" {
		t.Errorf("output = %q, want %q", got, "hello world\n")
	}
}

// blockingReader never returns, like an idle terminal.
type blockingReader struct{ stop chan struct{} }

func (r blockingReader) Read([]byte) (int, error) {
	<-r.stop
	return 0, io.EOF
}

func TestBidirectionalCopy_DoesNotWaitOnIdleInput(t *testing.T) {
	client, server := net.Pipe()
	go func() {
		server.Write([]byte("bye")) //nolint:errcheck
		server.Close()
	}()

	stop := make(chan struct{})
	defer close(stop)
	output := &bytes.Buffer{}

	done := make(chan error, 1)
	go func() { done <- BidirectionalCopy(context.Background(), client, blockingReader{stop}, output) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("copy should end when the connection closes")
	}
	if output.String() != "bye" {
		t.Errorf("output = %q", output.String())
	}
}

func TestIsHarmless(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, true},
		{"eof", io.EOF, true},
		{"net closed", net.ErrClosed, true},
		{"socket closed", verrors.ErrSocketClosed, true},
		{"unexpected eof", io.ErrUnexpectedEOF, false},
		{"session closed", verrors.ErrSessionClosed, false},
	}
	for _, tt := range tests {
		if got := isHarmless(tt.err); got != tt.want {
			t.Errorf("%s: isHarmless = %v, want %v", tt.name, got, tt.want)
		}
	}
}
