package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	verrors "vmux/internal/errors"
	"vmux/util"
)

// SSHConfig describes the SSH gateway a physical connection is
// forwarded through.
type SSHConfig struct {
	User          string
	Host          string
	Port          int
	KeyPath       string
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration
}

// ParseGateway parses "user@host[:port]".
func ParseGateway(spec string) (user, host string, port int, err error) {
	at := strings.LastIndex(spec, "@")
	if at <= 0 || at == len(spec)-1 {
		return "", "", 0, fmt.Errorf("gateway %q: expected user@host[:port]", spec)
	}
	user, hostPort := spec[:at], spec[at+1:]
	port = 22
	if h, p, splitErr := net.SplitHostPort(hostPort); splitErr == nil {
		port, err = strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("gateway %q: invalid port %q", spec, p)
		}
		hostPort = h
	}
	return user, hostPort, port, nil
}

// SSHDialer forwards physical connections through an SSH gateway with
// direct-tcpip channels.  The SSH client is connected lazily on the
// first Dial and re-established if the gateway connection drops.
type SSHDialer struct {
	config *SSHConfig
	logger *util.Logger

	mu     sync.Mutex
	client *ssh.Client
}

// NewSSHDialer creates a dialer for the gateway in cfg.
func NewSSHDialer(cfg *SSHConfig, logger *util.Logger) *SSHDialer {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = 30 * time.Second
	}
	return &SSHDialer{config: cfg, logger: logger}
}

// Dial opens a forwarded connection to address on the gateway's side.
func (d *SSHDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	client, err := d.connect(ctx)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("ssh: forwarding %s %s via %s", network, address, d.gatewayAddr())
	conn, err := client.DialContext(ctx, network, address)
	if err != nil {
		return nil, verrors.WrapSSH("forward", d.config.Host, d.config.Port, err)
	}
	return conn, nil
}

// Close tears down the gateway connection.
func (d *SSHDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client == nil {
		return nil
	}
	err := d.client.Close()
	d.client = nil
	return err
}

func (d *SSHDialer) gatewayAddr() string {
	return net.JoinHostPort(d.config.Host, strconv.Itoa(d.config.Port))
}

// connect returns the live client, dialing the gateway if needed.
func (d *SSHDialer) connect(ctx context.Context) (*ssh.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		return d.client, nil
	}

	auth, err := BuildAuthMethods(d.config)
	if err != nil {
		return nil, verrors.WrapSSH("auth", d.config.Host, d.config.Port, err)
	}
	hk, err := hostKeyCallback(d.config)
	if err != nil {
		return nil, verrors.WrapSSH("hostkey", d.config.Host, d.config.Port, err)
	}
	sshCfg := &ssh.ClientConfig{
		User:            d.config.User,
		Auth:            auth,
		HostKeyCallback: hk,
		Timeout:         d.config.ConnTimeout,
	}

	addr := d.gatewayAddr()
	d.logger.Verbose("ssh: connecting to gateway %s as %s", addr, d.config.User)

	var dialer net.Dialer
	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, verrors.Wrap("dial", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, sshCfg)
	if err != nil {
		tcpConn.Close()
		return nil, verrors.WrapSSH("handshake", d.config.Host, d.config.Port, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	d.client = client
	go d.monitor(client)
	return client, nil
}

// monitor forgets the client once the gateway connection ends so the
// next Dial reconnects.
func (d *SSHDialer) monitor(client *ssh.Client) {
	err := client.Wait()
	d.mu.Lock()
	if d.client == client {
		d.client = nil
	}
	d.mu.Unlock()
	d.logger.Verbose("ssh: gateway connection closed: %v", err)
}
