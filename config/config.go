// Package config defines the runtime configuration of the vmux binary
// and translates it into multiplexer settings.
package config

import (
	"fmt"
	"strconv"
	"time"

	verrors "vmux/internal/errors"
	"vmux/internal/frame"
	"vmux/internal/metrics"
	"vmux/mux"
	"vmux/util"
)

// Config holds every tuneable for one vmux run.
type Config struct {
	// ── Mode ─────────────────────────────────────────────────────────
	Listen    bool
	Reverse   bool   // -R: bind VPort, then bootstrap the link to Host:Port
	Host      string // physical peer
	Port      int    // physical peer port
	LocalPort int    // -p: physical listen port
	VPort     uint32 // virtual port to bind or connect to
	KeepOpen  bool
	Timeout   time.Duration
	Scenario  string // nsocket, symmetric or prime
	Role      string // server or client, with Scenario

	// ── Capability ───────────────────────────────────────────────────
	Echo    bool
	Prime   bool
	Execute string // -e: program path
	Command string // -c: shell command

	// ── SSH gateway ──────────────────────────────────────────────────
	TunnelSpec     string // raw user@host[:port] from -T
	TunnelEnabled  bool
	TunnelUser     string
	TunnelHost     string
	TunnelPort     int
	SSHKeyPath     string
	SSHPassword    bool // true → prompt interactively
	UseSSHAgent    bool
	StrictHostKey  bool
	KnownHostsPath string

	// ── Physical dialing ─────────────────────────────────────────────
	Retry int // dial attempts, 0 or 1 means no retry

	// ── Multiplexer ──────────────────────────────────────────────────
	MaxPayload    int
	BufferSize    int
	BufferPolicy  string
	AcceptBacklog int
	Trace         bool

	// ── Output ───────────────────────────────────────────────────────
	Verbose     int
	MetricsAddr string
	ConfigFile  string
	DryRun      bool
}

// Defaults returns a Config with every default applied.
func Defaults() *Config {
	mc := mux.DefaultConfig()
	return &Config{
		VPort:         DefaultVirtualPort,
		MaxPayload:    mc.MaxPayload,
		BufferSize:    mc.BufferSize,
		BufferPolicy:  mc.BufferPolicy.String(),
		AcceptBacklog: mc.AcceptBacklog,
		Verbose:       DefaultVerbosity,
	}
}

// ParseVirtualPort accepts a decimal virtual port in 1..2^31-1.
func ParseVirtualPort(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid virtual port %q", s)
	}
	if n < 1 || uint32(n) > mux.MaxBindPort {
		return 0, fmt.Errorf("virtual port %d out of range 1-%d", n, mux.MaxBindPort)
	}
	return uint32(n), nil
}

// ── Validation ───────────────────────────────────────────────────────

var (
	scenarios = map[string]bool{"nsocket": true, "symmetric": true, "prime": true}
	roles     = map[string]bool{"server": true, "client": true}
)

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Scenario != "" {
		if err := c.validateScenario(); err != nil {
			return err
		}
	} else if err := c.validateMode(); err != nil {
		return err
	}

	if c.VPort < 1 || c.VPort > mux.MaxBindPort {
		return &verrors.ConfigError{Field: "vport", Value: c.VPort,
			Message: fmt.Sprintf("must be in 1-%d", mux.MaxBindPort)}
	}

	caps := 0
	for _, on := range []bool{c.Echo, c.Prime, c.Execute != "", c.Command != ""} {
		if on {
			caps++
		}
	}
	if c.Execute != "" && c.Command != "" {
		return &verrors.ConfigError{Field: "exec", Message: "-e and -c are mutually exclusive"}
	}
	if caps > 1 {
		return &verrors.ConfigError{Field: "echo", Message: "choose one of --echo, --prime, -e, -c"}
	}

	if _, err := mux.ParseBufferPolicy(c.BufferPolicy); err != nil {
		return &verrors.ConfigError{Field: "buffer-policy", Value: c.BufferPolicy,
			Message: "unknown policy", Hint: "use block or drop"}
	}
	if c.MaxPayload < 0 || c.MaxPayload > frame.MaxPayloadLimit {
		return &verrors.ConfigError{Field: "max-payload", Value: c.MaxPayload,
			Message: fmt.Sprintf("must be in 0-%d", frame.MaxPayloadLimit)}
	}
	if c.BufferSize < 0 {
		return &verrors.ConfigError{Field: "buffer-size", Value: c.BufferSize, Message: "must not be negative"}
	}
	if c.Retry < 0 {
		return &verrors.ConfigError{Field: "retry", Value: c.Retry, Message: "must not be negative"}
	}

	if c.TunnelEnabled && c.TunnelHost == "" {
		return &verrors.ConfigError{Field: "tunnel", Message: "gateway host is required"}
	}
	return nil
}

func (c *Config) validateMode() error {
	if c.Listen {
		if c.Reverse {
			return &verrors.ConfigError{Field: "listen", Message: "-l and -R are mutually exclusive"}
		}
		if c.LocalPort == 0 {
			return &verrors.ConfigError{Field: "port", Message: "listen mode requires a port",
				Hint: "vmux -l -p 9000"}
		}
		if c.TunnelEnabled {
			return &verrors.ConfigError{Field: "tunnel", Message: "listen mode cannot use an SSH gateway",
				Hint: "the gateway forwards outgoing links; run the listener on the far side"}
		}
		return nil
	}
	if c.Host == "" {
		return &verrors.ConfigError{Field: "host", Message: "hostname is required",
			Hint: "vmux HOST PORT, or --help for usage"}
	}
	if c.Port == 0 {
		return &verrors.ConfigError{Field: "port", Message: "destination port is required"}
	}
	return nil
}

func (c *Config) validateScenario() error {
	if !scenarios[c.Scenario] {
		return &verrors.ConfigError{Field: "scenario", Value: c.Scenario,
			Message: "unknown scenario", Hint: "use nsocket, symmetric or prime"}
	}
	if !roles[c.Role] {
		return &verrors.ConfigError{Field: "role", Value: c.Role,
			Message: "scenario needs a role", Hint: "--role server or --role client"}
	}
	if c.Role == "server" && c.LocalPort == 0 {
		return &verrors.ConfigError{Field: "port", Message: "server role requires a listen port",
			Hint: "vmux --scenario " + c.Scenario + " --role server -p 9000"}
	}
	if c.Role == "client" && (c.Host == "" || c.Port == 0) {
		return &verrors.ConfigError{Field: "host", Message: "client role requires HOST PORT"}
	}
	return nil
}

// MuxConfig translates the multiplexer settings into a mux.Config.
func (c *Config) MuxConfig(logger *util.Logger, m *metrics.Collector) mux.Config {
	mc := mux.DefaultConfig()
	if c.MaxPayload > 0 {
		mc.MaxPayload = c.MaxPayload
	}
	if c.BufferSize > 0 {
		mc.BufferSize = c.BufferSize
	}
	if p, err := mux.ParseBufferPolicy(c.BufferPolicy); err == nil {
		mc.BufferPolicy = p
	}
	if c.AcceptBacklog > 0 {
		mc.AcceptBacklog = c.AcceptBacklog
	}
	if c.Timeout > 0 {
		mc.ConnectTimeout = c.Timeout
	}
	mc.TraceFrames = c.Trace
	mc.Logger = logger
	mc.Metrics = m
	return mc
}
