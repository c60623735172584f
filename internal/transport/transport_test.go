package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	verrors "vmux/internal/errors"
	"vmux/internal/metrics"
	"vmux/internal/retry"
	"vmux/util"
)

// TestTCPDialer_Connect verifies that TCPDialer can reach a local
// TCP server and exchange data.
func TestTCPDialer_Connect(t *testing.T) {
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
		conn.Write([]byte("hello from server\n")) //nolint:errcheck
	}()

	d := &TCPDialer{Timeout: 2 * time.Second}
	conn, err := d.Dial(context.Background(), "tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		t.Fatalf("read: %v", err)
	}
	if got := string(buf[:n]); got != "hello from server\n" {
		t.Errorf("got %q, want %q", got, "hello from server\n")
	}
}

// TestTCPDialer_Refused verifies refused dials are wrapped as retryable
// network errors.
func TestTCPDialer_Refused(t *testing.T) {
	port, err := util.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}
	d := &TCPDialer{Timeout: time.Second}
	_, err = d.Dial(context.Background(), "tcp", fmt.Sprintf("127.0.0.1:%d", port))
	var ne *verrors.NetworkError
	if !verrors.As(err, &ne) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	if !verrors.IsRetryable(err) {
		t.Error("connection refused should be retryable")
	}
}

// TestTCPDialer_ContextCancel verifies that a cancelled context stops the dial.
func TestTCPDialer_ContextCancel(t *testing.T) {
	d := &TCPDialer{Timeout: 5 * time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := d.Dial(ctx, "tcp", "127.0.0.1:1"); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

// ── retrying dialer ──────────────────────────────────────────────────

type scriptedDialer struct {
	errs  []error
	calls int
}

func (d *scriptedDialer) Dial(context.Context, string, string) (net.Conn, error) {
	d.calls++
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	c, _ := net.Pipe()
	return c, nil
}

func (d *scriptedDialer) Close() error { return nil }

func retryable() error {
	return &verrors.NetworkError{Op: "dial", Addr: "x", Err: io.EOF, Retryable: true}
}

func fastRetry(inner Dialer, attempts int, m *metrics.Collector) *RetryDialer {
	return &RetryDialer{
		Dialer:  inner,
		Backoff: &retry.Backoff{InitialDelay: time.Millisecond, MaxAttempts: attempts},
		Metrics: m,
		Logger:  util.NewLogger(0),
	}
}

func TestRetryDialer_RetriesTransient(t *testing.T) {
	inner := &scriptedDialer{errs: []error{retryable(), retryable(), nil}}
	m := metrics.New()
	d := fastRetry(inner, 5, m)

	conn, err := d.Dial(context.Background(), "tcp", "peer:1")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()
	if inner.calls != 3 {
		t.Errorf("calls = %d, want 3", inner.calls)
	}
	if m.DialRetries() != 2 {
		t.Errorf("retries = %d, want 2", m.DialRetries())
	}
}

func TestRetryDialer_StopsOnPermanent(t *testing.T) {
	inner := &scriptedDialer{errs: []error{fmt.Errorf("no route to happiness")}}
	d := fastRetry(inner, 5, nil)

	if _, err := d.Dial(context.Background(), "tcp", "peer:1"); err == nil {
		t.Fatal("expected error")
	}
	if inner.calls != 1 {
		t.Errorf("non-retryable errors must not be retried, calls = %d", inner.calls)
	}
}

func TestRetryDialer_BreakerOpens(t *testing.T) {
	inner := &scriptedDialer{errs: []error{retryable(), retryable(), retryable(), retryable()}}
	d := fastRetry(inner, 10, nil)
	d.Breaker = &retry.Breaker{MaxFailures: 2, ResetTimeout: time.Hour}

	_, err := d.Dial(context.Background(), "tcp", "peer:1")
	if !verrors.Is(err, verrors.ErrCircuitOpen) {
		t.Fatalf("got %v, want ErrCircuitOpen", err)
	}
	if inner.calls != 2 {
		t.Errorf("calls = %d, want 2 before the breaker opens", inner.calls)
	}
}

// ── SSH ──────────────────────────────────────────────────────────────

func TestParseGateway(t *testing.T) {
	tests := []struct {
		spec    string
		user    string
		host    string
		port    int
		wantErr bool
	}{
		{"alice@gw.example.com", "alice", "gw.example.com", 22, false},
		{"bob@10.0.0.1:2222", "bob", "10.0.0.1", 2222, false},
		{"gw.example.com", "", "", 0, true},
		{"carol@", "", "", 0, true},
		{"dave@host:0", "", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			user, host, port, err := ParseGateway(tt.spec)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if user != tt.user || host != tt.host || port != tt.port {
				t.Errorf("got %s %s %d", user, host, port)
			}
		})
	}
}

func TestBuildAuthMethods_ExplicitKey(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "id_test")
	writeTestKey(t, keyPath)

	methods, err := BuildAuthMethods(&SSHConfig{KeyPath: keyPath})
	if err != nil {
		t.Fatalf("BuildAuthMethods: %v", err)
	}
	if len(methods) != 1 {
		t.Fatalf("expected one auth method, got %d", len(methods))
	}
}

func TestBuildAuthMethods_MissingKey(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	if _, err := BuildAuthMethods(&SSHConfig{KeyPath: "/nonexistent/key"}); err == nil {
		t.Fatal("expected error for missing key")
	}
}

func TestBuildAuthMethods_PromptPassword(t *testing.T) {
	old := Prompt
	defer func() { Prompt = old }()
	var label string
	Prompt = func(l string) ([]byte, error) {
		label = l
		return []byte("hunter2"), nil
	}

	methods, err := BuildAuthMethods(&SSHConfig{User: "alice", Host: "gw", PromptPass: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(methods) != 1 || label != "alice@gw's password: " {
		t.Errorf("methods=%d label=%q", len(methods), label)
	}
}

func TestHostKeyCallback(t *testing.T) {
	if cb, err := hostKeyCallback(&SSHConfig{}); err != nil || cb == nil {
		t.Fatalf("insecure callback: %v", err)
	}
	_, err := hostKeyCallback(&SSHConfig{StrictHostKey: true, KnownHosts: "/nonexistent/known_hosts"})
	if err == nil {
		t.Error("strict checking with a missing known_hosts should fail")
	}
}

func TestSSHDialer_GatewayUnreachable(t *testing.T) {
	port, err := util.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}
	keyPath := filepath.Join(t.TempDir(), "id_test")
	writeTestKey(t, keyPath)

	d := NewSSHDialer(&SSHConfig{User: "u", Host: "127.0.0.1", Port: port, KeyPath: keyPath}, util.NewLogger(0))
	defer d.Close()

	_, err = d.Dial(context.Background(), "tcp", "127.0.0.1:9")
	if !verrors.IsRetryable(err) {
		t.Errorf("unreachable gateway should be a retryable dial error, got %v", err)
	}
}

// writeTestKey writes a fresh unencrypted ed25519 key in OpenSSH format.
func writeTestKey(t *testing.T, path string) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "vmux-test")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatal(err)
	}
}
