package core

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strings"

	"golang.org/x/sync/errgroup"

	"vmux/internal/capability"
	"vmux/internal/transport"
	"vmux/mux"
	"vmux/util"
)

// Scenario names accepted by ScenarioMode.
const (
	ScenarioNSocket   = "nsocket"
	ScenarioSymmetric = "symmetric"
	ScenarioPrime     = "prime"
)

var (
	// nsocketPayloads are sent one per socket over a single session.
	nsocketPayloads = []byte{3, 7, 11}

	// DefaultPrimeQueries is what the prime client asks when given no
	// numbers of its own.
	DefaultPrimeQueries = []string{"2", "15", "17", "7919", "1000000007", "1000000008"}
)

const (
	serverGreeting = "hello from server, dial %d\n"
	clientGreeting = "hello from client on %d\n"
	clientHello    = "hello from client, dialed %d\n"
	serverReply    = "hello from server on %d\n"
)

// ScenarioMode runs one side of a demo scenario.  Servers listen on
// Address (":port"); clients dial it.
type ScenarioMode struct {
	Name    string // nsocket, symmetric or prime
	Role    string // server or client
	Address string
	VPort   uint32
	Numbers []string // prime client queries
	Dialer  transport.Dialer
	Mux     mux.Config
	Logger  *util.Logger

	// Ready, when set, receives the physical listen address of a server
	// once it is up.
	Ready chan<- net.Addr

	// Stdout defaults to os.Stdout when nil.
	Stdout io.Writer
}

// Run dispatches to the scenario and role.
func (m *ScenarioMode) Run(ctx context.Context) error {
	server := m.Role == "server"
	var err error
	switch {
	case m.Name == ScenarioNSocket && server:
		err = m.nsocketServer(ctx)
	case m.Name == ScenarioNSocket:
		err = m.nsocketClient(ctx)
	case m.Name == ScenarioSymmetric && server:
		err = m.symmetricServer(ctx)
	case m.Name == ScenarioSymmetric:
		err = m.symmetricClient(ctx)
	case m.Name == ScenarioPrime && server:
		err = m.primeServer(ctx)
	case m.Name == ScenarioPrime:
		err = m.primeClient(ctx)
	default:
		return fmt.Errorf("unknown scenario %q", m.Name)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", m.Name, m.Role, err)
	}
	return nil
}

func (m *ScenarioMode) listen(ep *mux.Endpoint) (*mux.MasterListener, error) {
	master, err := ep.ListenPhysical("tcp", m.Address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", m.Address, err)
	}
	m.Logger.Verbose("listening on %s", master.Addr())
	if m.Ready != nil {
		m.Ready <- master.Addr()
	}
	return master, nil
}

func (m *ScenarioMode) report(format string, args ...interface{}) {
	fmt.Fprintf(orStdout(m.Stdout), format+"\n", args...)
}

func singleLink(ep *mux.Endpoint) error {
	if n := ep.Registry().Len(); n != 1 {
		return fmt.Errorf("%d physical links, want 1", n)
	}
	return nil
}

// ── nsocket ──────────────────────────────────────────────────────────

func (m *ScenarioMode) nsocketServer(ctx context.Context) error {
	ep := mux.NewEndpoint(m.Mux, nil)
	defer ep.Close()

	l, err := ep.Listen(m.VPort)
	if err != nil {
		return err
	}
	master, err := m.listen(ep)
	if err != nil {
		return err
	}
	stop := serveLinks(ctx, master, m.Logger, nil)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	for i := range nsocketPayloads {
		sock, err := l.AcceptSocket(ctx)
		if err != nil {
			g.Wait() //nolint:errcheck
			return fmt.Errorf("accept socket %d: %w", i+1, err)
		}
		m.Logger.Verbose("socket %d: %s", i+1, sock)
		g.Go(func() error {
			return runCapability(gctx, &capability.Echo{}, sock, nil, nil, m.Logger)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	m.report("echoed %d sockets", len(nsocketPayloads))
	return nil
}

func (m *ScenarioMode) nsocketClient(ctx context.Context) error {
	ep := mux.NewEndpoint(m.Mux, m.Dialer)
	defer ep.Close()

	sess, err := ep.Session(ctx, m.Address)
	if err != nil {
		return err
	}

	lines := make([]string, len(nsocketPayloads))
	g, gctx := errgroup.WithContext(ctx)
	for i, b := range nsocketPayloads {
		g.Go(func() error {
			sock, err := sess.Dial(gctx, m.VPort)
			if err != nil {
				return fmt.Errorf("socket %d: %w", i+1, err)
			}
			defer sock.Close()
			applyDeadline(gctx, sock)

			if _, err := sock.Write([]byte{b}); err != nil {
				return fmt.Errorf("socket %d: write: %w", i+1, err)
			}
			if err := sock.CloseWrite(); err != nil {
				return fmt.Errorf("socket %d: close write: %w", i+1, err)
			}
			got, err := io.ReadAll(sock)
			if err != nil {
				return fmt.Errorf("socket %d: read: %w", i+1, err)
			}
			if !bytes.Equal(got, []byte{b}) {
				return fmt.Errorf("socket %d: echoed %v, want [%d]", i+1, got, b)
			}
			lines[i] = fmt.Sprintf("socket %d (port %d): sent %d, echoed %d", i+1, sock.LocalPort(), b, got[0])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := singleLink(ep); err != nil {
		return err
	}
	for _, line := range lines {
		m.report("%s", line)
	}
	return nil
}

// ── symmetric ────────────────────────────────────────────────────────

// symmetricServer waits for the client's link, learns its advertised
// port P, binds VPort (Q) on the same session and connects back to P.
func (m *ScenarioMode) symmetricServer(ctx context.Context) error {
	ep := mux.NewEndpoint(m.Mux, nil)
	defer ep.Close()

	master, err := m.listen(ep)
	if err != nil {
		return err
	}
	sess, peerPort, err := master.AcceptPhysical(ctx)
	if err != nil {
		return err
	}
	if peerPort == 0 {
		return fmt.Errorf("peer %s advertised no port", sess.RemoteAddr())
	}
	l, err := sess.Listen(m.VPort)
	if err != nil {
		return err
	}

	back, err := sess.Dial(ctx, peerPort)
	if err != nil {
		return fmt.Errorf("dial back port %d: %w", peerPort, err)
	}
	defer back.Close()
	applyDeadline(ctx, back)

	if _, err := fmt.Fprintf(back, serverGreeting, m.VPort); err != nil {
		return err
	}
	got, err := bufio.NewReader(back).ReadString('\n')
	if err != nil {
		return fmt.Errorf("read greeting on port %d: %w", peerPort, err)
	}
	m.report("port %d: %s", peerPort, strings.TrimSpace(got))

	fwd, err := l.AcceptSocket(ctx)
	if err != nil {
		return fmt.Errorf("accept on port %d: %w", m.VPort, err)
	}
	defer fwd.Close()
	applyDeadline(ctx, fwd)

	got, err = bufio.NewReader(fwd).ReadString('\n')
	if err != nil {
		return fmt.Errorf("read greeting on port %d: %w", m.VPort, err)
	}
	m.report("port %d: %s", m.VPort, strings.TrimSpace(got))
	if err := singleLink(ep); err != nil {
		return err
	}
	_, err = fmt.Fprintf(fwd, serverReply, m.VPort)
	return err
}

// symmetricClient binds VPort (P), bootstraps the link from that server
// socket, answers the server's connect-back and then dials the port the
// server named in its greeting.
func (m *ScenarioMode) symmetricClient(ctx context.Context) error {
	ep := mux.NewEndpoint(m.Mux, m.Dialer)
	defer ep.Close()

	l, err := ep.Listen(m.VPort)
	if err != nil {
		return err
	}
	sess, err := l.Connect(ctx, m.Address)
	if err != nil {
		return err
	}

	back, err := l.AcceptSocket(ctx)
	if err != nil {
		return fmt.Errorf("accept on port %d: %w", m.VPort, err)
	}
	defer back.Close()
	applyDeadline(ctx, back)

	greeting, err := bufio.NewReader(back).ReadString('\n')
	if err != nil {
		return fmt.Errorf("read greeting on port %d: %w", m.VPort, err)
	}
	var q uint32
	if _, err := fmt.Sscanf(greeting, serverGreeting, &q); err != nil {
		return fmt.Errorf("unexpected greeting %q", greeting)
	}
	m.report("port %d: %s", m.VPort, strings.TrimSpace(greeting))
	if _, err := fmt.Fprintf(back, clientGreeting, m.VPort); err != nil {
		return err
	}

	fwd, err := sess.Dial(ctx, q)
	if err != nil {
		return fmt.Errorf("dial port %d: %w", q, err)
	}
	defer fwd.Close()
	applyDeadline(ctx, fwd)

	if err := singleLink(ep); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(fwd, clientHello, q); err != nil {
		return err
	}
	reply, err := bufio.NewReader(fwd).ReadString('\n')
	if err != nil {
		return fmt.Errorf("read reply on port %d: %w", q, err)
	}
	m.report("port %d: %s", q, strings.TrimSpace(reply))
	return nil
}

// ── prime ────────────────────────────────────────────────────────────

func (m *ScenarioMode) primeServer(ctx context.Context) error {
	ep := mux.NewEndpoint(m.Mux, nil)
	defer ep.Close()

	l, err := ep.Listen(m.VPort)
	if err != nil {
		return err
	}
	master, err := m.listen(ep)
	if err != nil {
		return err
	}
	stop := serveLinks(ctx, master, m.Logger, nil)
	defer stop()

	sock, err := l.AcceptSocket(ctx)
	if err != nil {
		return err
	}
	return runCapability(ctx, &capability.Prime{}, sock, nil, nil, m.Logger)
}

func (m *ScenarioMode) primeClient(ctx context.Context) error {
	numbers := m.Numbers
	if len(numbers) == 0 {
		numbers = DefaultPrimeQueries
	}

	ep := mux.NewEndpoint(m.Mux, m.Dialer)
	defer ep.Close()

	sock, err := ep.Dial(ctx, m.Address, m.VPort)
	if err != nil {
		return err
	}
	defer sock.Close()
	applyDeadline(ctx, sock)

	var g errgroup.Group
	g.Go(func() error {
		w := bufio.NewWriter(sock)
		for _, n := range numbers {
			if _, err := w.WriteString(n + "\n"); err != nil {
				return err
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
		return sock.CloseWrite()
	})

	answers := 0
	sc := bufio.NewScanner(sock)
	for sc.Scan() {
		m.report("%s", sc.Text())
		answers++
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("send queries: %w", err)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read answers: %w", err)
	}
	if answers != len(numbers) {
		return fmt.Errorf("%d answers for %d queries", answers, len(numbers))
	}
	return nil
}
