package core

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"vmux/internal/capability"
	"vmux/internal/transport"
	"vmux/mux"
	"vmux/util"
)

func testMux() mux.Config {
	return mux.Config{CloseTimeout: time.Second}
}

// start runs mode in the background and returns its result channel.
func start(ctx context.Context, mode Mode) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- mode.Run(ctx) }()
	return errc
}

func waitReady(t *testing.T, ready <-chan net.Addr) string {
	t.Helper()
	select {
	case addr := <-ready:
		_, port, err := net.SplitHostPort(addr.String())
		if err != nil {
			t.Fatal(err)
		}
		return net.JoinHostPort("127.0.0.1", port)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not come up")
		return ""
	}
}

func waitDone(t *testing.T, errc <-chan error) {
	t.Helper()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("mode did not return in time")
	}
}

func echoListener(t *testing.T, ctx context.Context, keepOpen bool) (addr string, done <-chan error) {
	t.Helper()
	ready := make(chan net.Addr, 1)
	mode := &ListenMode{
		Address:    "127.0.0.1:0",
		VPort:      7,
		KeepOpen:   keepOpen,
		Capability: &capability.Echo{},
		Mux:        testMux(),
		Logger:     util.NewLogger(0),
		Ready:      ready,
	}
	done = start(ctx, mode)
	return waitReady(t, ready), done
}

func relayOnce(ctx context.Context, addr string, vport uint32, input string) (string, error) {
	output := &bytes.Buffer{}
	mode := &ConnectMode{
		Dialer:     &transport.TCPDialer{Timeout: 2 * time.Second},
		Capability: &capability.Relay{},
		Address:    addr,
		VPort:      vport,
		Mux:        testMux(),
		Logger:     util.NewLogger(0),
		Stdin:      strings.NewReader(input),
		Stdout:     output,
	}
	err := mode.Run(ctx)
	return output.String(), err
}

// TestListenConnect_Echo runs a relay client against an echo listener.
func TestListenConnect_Echo(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	addr, done := echoListener(t, ctx, false)

	got, err := relayOnce(ctx, addr, 7, "hello over vmux\n")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if got != "hello over vmux\n" {
		t.Errorf("output = %q, want %q", got, "hello over vmux\n")
	}
	waitDone(t, done)
}

// TestListenMode_KeepOpen verifies -k serves several sockets.
func TestListenMode_KeepOpen(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()

	addr, done := echoListener(t, ctx, true)

	for i := 0; i < 3; i++ {
		msg := strings.Repeat("x", i+1)
		got, err := relayOnce(ctx, addr, 7, msg)
		if err != nil {
			t.Fatalf("connect %d: %v", i, err)
		}
		if got != msg {
			t.Errorf("connect %d: output = %q, want %q", i, got, msg)
		}
	}

	cancel()
	waitDone(t, done)
}

// TestConnectMode_UnboundPort verifies a connect to a port nobody
// listens on is rejected.
func TestConnectMode_UnboundPort(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	addr, _ := echoListener(t, ctx, true)

	_, err := relayOnce(ctx, addr, 99, "")
	if err == nil {
		t.Fatal("expected connect error")
	}
	if !errors.Is(err, mux.ErrConnectFailed) {
		t.Errorf("error %v should match ErrConnectFailed", err)
	}
}

// TestConnectMode_Refused verifies a dead physical address fails fast.
func TestConnectMode_Refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := relayOnce(ctx, addr, 1, ""); err == nil {
		t.Fatal("expected dial error")
	}
}

// TestListenMode_BadAddress verifies bind failures are reported.
func TestListenMode_BadAddress(t *testing.T) {
	mode := &ListenMode{
		Address:    "256.0.0.1:0",
		VPort:      1,
		Capability: &capability.Echo{},
		Logger:     util.NewLogger(0),
	}
	if err := mode.Run(context.Background()); err == nil {
		t.Fatal("expected listen error")
	}
}

// TestReverseMode verifies the peer's master side learns the advertised
// port from HELLO and connects back to it.
func TestReverseMode(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ep := mux.NewEndpoint(testMux(), nil)
	defer ep.Close()
	master, err := ep.ListenPhysical("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	mode := &ReverseMode{
		Dialer:     &transport.TCPDialer{Timeout: 2 * time.Second},
		Capability: &capability.Echo{},
		Address:    master.Addr().String(),
		VPort:      42,
		Mux:        testMux(),
		Logger:     util.NewLogger(0),
	}
	done := start(ctx, mode)

	sess, port, err := master.AcceptPhysical(ctx)
	if err != nil {
		t.Fatalf("AcceptPhysical: %v", err)
	}
	if port != 42 {
		t.Fatalf("advertised port = %d, want 42", port)
	}
	sock, err := sess.Dial(ctx, port)
	if err != nil {
		t.Fatalf("dial back: %v", err)
	}
	go func() {
		sock.Write([]byte("reversed")) //nolint:errcheck
		sock.CloseWrite()              //nolint:errcheck
	}()
	got, err := io.ReadAll(sock)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "reversed" {
		t.Errorf("echo = %q, want %q", got, "reversed")
	}
	sock.Close()
	waitDone(t, done)
}

// TestReverseMode_LinkDeath verifies Run returns once the link drops.
func TestReverseMode_LinkDeath(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ep := mux.NewEndpoint(testMux(), nil)
	master, err := ep.ListenPhysical("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	mode := &ReverseMode{
		Capability: &capability.Echo{},
		Address:    master.Addr().String(),
		VPort:      5,
		KeepOpen:   true,
		Mux:        testMux(),
		Logger:     util.NewLogger(0),
	}
	done := start(ctx, mode)

	if _, _, err := master.AcceptPhysical(ctx); err != nil {
		t.Fatalf("AcceptPhysical: %v", err)
	}
	ep.Close()
	waitDone(t, done)
}

// TestListenMode_ConnectsBackToReverse runs vmux -l against vmux -R: the
// listener reads the advertised port from HELLO and opens the socket.
func TestListenMode_ConnectsBackToReverse(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ready := make(chan net.Addr, 1)
	output := &bytes.Buffer{}
	listen := &ListenMode{
		Address:    "127.0.0.1:0",
		VPort:      7,
		Capability: &capability.Relay{},
		Mux:        testMux(),
		Logger:     util.NewLogger(0),
		Ready:      ready,
		Stdin:      strings.NewReader("back to you\n"),
		Stdout:     output,
	}
	listenDone := start(ctx, listen)
	addr := waitReady(t, ready)

	reverse := &ReverseMode{
		Dialer:     &transport.TCPDialer{Timeout: 2 * time.Second},
		Capability: &capability.Echo{},
		Address:    addr,
		VPort:      42,
		Mux:        testMux(),
		Logger:     util.NewLogger(0),
	}
	reverseDone := start(ctx, reverse)

	waitDone(t, listenDone)
	waitDone(t, reverseDone)
	if got := output.String(); got != "back to you\n" {
		t.Errorf("output = %q, want %q", got, "back to you\n")
	}
}

// TestListenMode_KeepOpenServesBothDirections verifies a -k listener
// serves sockets dialed to it and sockets it opens back.
func TestListenMode_KeepOpenServesBothDirections(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()

	addr, done := echoListener(t, ctx, true)

	ep := mux.NewEndpoint(testMux(), nil)
	defer ep.Close()
	l, err := ep.Listen(42)
	if err != nil {
		t.Fatal(err)
	}
	sess, err := l.Connect(ctx, addr)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// the listener's echo capability runs on the socket it opened back
	back, err := l.AcceptSocket(ctx)
	if err != nil {
		t.Fatalf("AcceptSocket: %v", err)
	}
	go func() {
		back.Write([]byte("reverse")) //nolint:errcheck
		back.CloseWrite()             //nolint:errcheck
	}()
	got, err := io.ReadAll(back)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "reverse" {
		t.Errorf("echo over connect-back = %q, want %q", got, "reverse")
	}
	back.Close()

	// the same link still reaches the listener's own port
	fwd, err := sess.Dial(ctx, 7)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	go func() {
		fwd.Write([]byte("forward")) //nolint:errcheck
		fwd.CloseWrite()             //nolint:errcheck
	}()
	got, err = io.ReadAll(fwd)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "forward" {
		t.Errorf("echo over forward socket = %q, want %q", got, "forward")
	}
	fwd.Close()

	cancel()
	waitDone(t, done)
}
