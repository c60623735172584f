package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	verrors "vmux/internal/errors"
	"vmux/internal/metrics"
	"vmux/mux"
	"vmux/util"
)

// ── ParseVirtualPort ─────────────────────────────────────────────────

func TestParseVirtualPort(t *testing.T) {
	tests := []struct {
		input   string
		want    uint32
		wantErr bool
	}{
		{"1", 1, false},
		{"9000", 9000, false},
		{"2147483647", mux.MaxBindPort, false},
		{"2147483648", 0, true}, // ephemeral range
		{"0", 0, true},
		{"-1", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseVirtualPort(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseVirtualPort(%q) error = %v, wantErr = %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

// ── Validate ─────────────────────────────────────────────────────────

func valid() *Config {
	c := Defaults()
	c.Host = "example.com"
	c.Port = 9000
	return c
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantSub string // empty means valid
	}{
		{"connect", func(c *Config) {}, ""},
		{"listen", func(c *Config) { c.Listen, c.LocalPort = true, 9000 }, ""},
		{"listen no port has hint", func(c *Config) { c.Listen = true }, "hint:"},
		{"listen and reverse", func(c *Config) { c.Listen, c.Reverse, c.LocalPort = true, true, 1 }, "mutually exclusive"},
		{"listen through gateway", func(c *Config) {
			c.Listen, c.LocalPort, c.TunnelEnabled, c.TunnelHost = true, 1, true, "gw"
		}, "SSH gateway"},
		{"no host", func(c *Config) { c.Host = "" }, "hostname is required"},
		{"no port", func(c *Config) { c.Port = 0 }, "destination port"},
		{"bad vport", func(c *Config) { c.VPort = 0 }, "--vport"},
		{"ephemeral vport", func(c *Config) { c.VPort = mux.EphemeralBase }, "--vport"},
		{"exec conflict", func(c *Config) { c.Execute, c.Command = "a", "b" }, "-e and -c are mutually exclusive"},
		{"two capabilities", func(c *Config) { c.Echo, c.Prime = true, true }, "choose one"},
		{"bad policy", func(c *Config) { c.BufferPolicy = "spill" }, "block or drop"},
		{"huge payload", func(c *Config) { c.MaxPayload = 1 << 30 }, "--max-payload"},
		{"negative retry", func(c *Config) { c.Retry = -1 }, "--retry"},
		{"gateway without host", func(c *Config) { c.TunnelEnabled = true }, "gateway host"},
		{"scenario client", func(c *Config) { c.Scenario, c.Role = "nsocket", "client" }, ""},
		{"scenario server", func(c *Config) {
			c.Scenario, c.Role, c.Host, c.Port, c.LocalPort = "prime", "server", "", 0, 9000
		}, ""},
		{"unknown scenario", func(c *Config) { c.Scenario, c.Role = "chat", "client" }, "unknown scenario"},
		{"scenario no role", func(c *Config) { c.Scenario = "symmetric" }, "--role"},
		{"scenario server no port", func(c *Config) { c.Scenario, c.Role = "symmetric", "server" }, "listen port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantSub == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantSub)
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q should contain %q", err.Error(), tt.wantSub)
			}
			var ce *verrors.ConfigError
			if !errors.As(err, &ce) {
				t.Errorf("error %T should be a *ConfigError", err)
			}
		})
	}
}

// ── MuxConfig ────────────────────────────────────────────────────────

func TestMuxConfig(t *testing.T) {
	c := Defaults()
	c.BufferPolicy = "drop"
	c.BufferSize = 1024
	c.MaxPayload = 512
	c.AcceptBacklog = 4
	c.Timeout = 3 * time.Second
	c.Trace = true

	logger := util.Discard()
	m := metrics.New()
	mc := c.MuxConfig(logger, m)

	if mc.BufferPolicy != mux.PolicyDrop {
		t.Errorf("BufferPolicy = %v", mc.BufferPolicy)
	}
	if mc.BufferSize != 1024 || mc.MaxPayload != 512 || mc.AcceptBacklog != 4 {
		t.Errorf("sizes not carried over: %+v", mc)
	}
	if mc.ConnectTimeout != 3*time.Second {
		t.Errorf("ConnectTimeout = %v", mc.ConnectTimeout)
	}
	if !mc.TraceFrames || mc.Logger != logger || mc.Metrics != m {
		t.Error("trace, logger or metrics not carried over")
	}

	def := Defaults().MuxConfig(nil, nil)
	want := mux.DefaultConfig()
	if def.BufferSize != want.BufferSize || def.BufferPolicy != want.BufferPolicy ||
		def.ConnectTimeout != want.ConnectTimeout {
		t.Errorf("defaults changed: %+v", def)
	}
}

func TestDefaults(t *testing.T) {
	c := Defaults()
	if c.VPort != DefaultVirtualPort {
		t.Errorf("VPort = %d", c.VPort)
	}
	if c.BufferPolicy != "block" {
		t.Errorf("BufferPolicy = %q", c.BufferPolicy)
	}
	if c.Verbose != DefaultVerbosity {
		t.Errorf("Verbose = %d", c.Verbose)
	}
}
