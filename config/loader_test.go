package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromEnv_Host(t *testing.T) {
	t.Setenv("VMUX_HOST", "test.example.com")
	cfg := Defaults()
	LoadFromEnv(cfg)
	if cfg.Host != "test.example.com" {
		t.Errorf("Host = %q, want %q", cfg.Host, "test.example.com")
	}
}

func TestLoadFromEnv_Ports(t *testing.T) {
	t.Setenv("VMUX_PORT", "8080")
	t.Setenv("VMUX_VPORT", "42")
	cfg := Defaults()
	LoadFromEnv(cfg)
	if cfg.LocalPort != 8080 {
		t.Errorf("LocalPort = %d, want 8080", cfg.LocalPort)
	}
	if cfg.VPort != 42 {
		t.Errorf("VPort = %d, want 42", cfg.VPort)
	}
}

func TestLoadFromEnv_InvalidVPortIgnored(t *testing.T) {
	t.Setenv("VMUX_VPORT", "4294967295")
	cfg := Defaults()
	LoadFromEnv(cfg)
	if cfg.VPort != DefaultVirtualPort {
		t.Errorf("VPort = %d, want default", cfg.VPort)
	}
}

func TestLoadFromEnv_Booleans(t *testing.T) {
	tests := []struct {
		key    string
		values []string
		get    func(*Config) bool
	}{
		{"VMUX_LISTEN", []string{"1", "true", "yes", "TRUE", "Yes"}, func(c *Config) bool { return c.Listen }},
		{"VMUX_KEEP_OPEN", []string{"1"}, func(c *Config) bool { return c.KeepOpen }},
		{"VMUX_SSH_AGENT", []string{"true"}, func(c *Config) bool { return c.UseSSHAgent }},
		{"VMUX_STRICT_HOSTKEY", []string{"yes"}, func(c *Config) bool { return c.StrictHostKey }},
		{"VMUX_TRACE", []string{"1"}, func(c *Config) bool { return c.Trace }},
	}

	for _, tt := range tests {
		for _, v := range tt.values {
			t.Run(tt.key+"="+v, func(t *testing.T) {
				t.Setenv(tt.key, v)
				cfg := Defaults()
				LoadFromEnv(cfg)
				if !tt.get(cfg) {
					t.Errorf("%s=%s should enable the option", tt.key, v)
				}
			})
		}
	}
}

func TestLoadFromEnv_FalseDoesNotOverride(t *testing.T) {
	t.Setenv("VMUX_LISTEN", "no")
	cfg := Defaults()
	cfg.Listen = true
	LoadFromEnv(cfg)
	if !cfg.Listen {
		t.Error("a false env value must not clear an earlier setting")
	}
}

func TestLoadFromEnv_Multiplexer(t *testing.T) {
	t.Setenv("VMUX_BUFFER_POLICY", "drop")
	t.Setenv("VMUX_BUFFER_SIZE", "4096")
	t.Setenv("VMUX_MAX_PAYLOAD", "1024")
	t.Setenv("VMUX_RETRY", "3")
	t.Setenv("VMUX_TIMEOUT", "7")
	t.Setenv("VMUX_METRICS_ADDR", "127.0.0.1:9100")
	t.Setenv("VMUX_TUNNEL", "ops@gw:2222")

	cfg := Defaults()
	LoadFromEnv(cfg)
	if cfg.BufferPolicy != "drop" || cfg.BufferSize != 4096 || cfg.MaxPayload != 1024 {
		t.Errorf("multiplexer settings not loaded: %+v", cfg)
	}
	if cfg.Retry != 3 {
		t.Errorf("Retry = %d", cfg.Retry)
	}
	if cfg.Timeout != 7*time.Second {
		t.Errorf("Timeout = %v", cfg.Timeout)
	}
	if cfg.MetricsAddr != "127.0.0.1:9100" || cfg.TunnelSpec != "ops@gw:2222" {
		t.Errorf("strings not loaded: %+v", cfg)
	}
}

func TestLoadFromEnv_BadIntIgnored(t *testing.T) {
	t.Setenv("VMUX_PORT", "not-a-number")
	cfg := Defaults()
	LoadFromEnv(cfg)
	if cfg.LocalPort != 0 {
		t.Errorf("LocalPort = %d, want 0", cfg.LocalPort)
	}
}

func TestConfigFileFromEnv(t *testing.T) {
	t.Setenv("VMUX_CONFIG", "/etc/vmux.yaml")
	if got := ConfigFileFromEnv(); got != "/etc/vmux.yaml" {
		t.Errorf("ConfigFileFromEnv = %q", got)
	}
}

// ── YAML file ────────────────────────────────────────────────────────

const sampleFile = `
listen: true
port: 9000
vport: 7
keep_open: true
timeout: 2s
verbose: 2
retry: 4
metrics_addr: 127.0.0.1:9100
capability: echo
mux:
  max_payload: 8192
  buffer_size: 65536
  buffer_policy: drop
  accept_backlog: 16
ssh:
  gateway: ops@bastion:2222
  key: /keys/id_ed25519
  agent: true
  strict_host_key: true
  known_hosts: /keys/known_hosts
`

func TestParseFile(t *testing.T) {
	cfg := Defaults()
	if err := ParseFile(cfg, []byte(sampleFile)); err != nil {
		t.Fatal(err)
	}
	if !cfg.Listen || cfg.LocalPort != 9000 || cfg.VPort != 7 || !cfg.KeepOpen {
		t.Errorf("mode not loaded: %+v", cfg)
	}
	if cfg.Timeout != 2*time.Second || cfg.Verbose != 2 || cfg.Retry != 4 {
		t.Errorf("scalars not loaded: %+v", cfg)
	}
	if !cfg.Echo {
		t.Error("capability not loaded")
	}
	if cfg.MaxPayload != 8192 || cfg.BufferSize != 65536 || cfg.BufferPolicy != "drop" || cfg.AcceptBacklog != 16 {
		t.Errorf("mux section not loaded: %+v", cfg)
	}
	if cfg.TunnelSpec != "ops@bastion:2222" || cfg.SSHKeyPath != "/keys/id_ed25519" ||
		!cfg.UseSSHAgent || !cfg.StrictHostKey || cfg.KnownHostsPath != "/keys/known_hosts" {
		t.Errorf("ssh section not loaded: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded file should validate: %v", err)
	}
}

func TestParseFile_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown key", "listne: true\n"},
		{"bad duration", "timeout: soon\n"},
		{"bad capability", "capability: teleport\n"},
		{"wrong type", "port: [1, 2]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ParseFile(Defaults(), []byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseFile_EmptyKeepsDefaults(t *testing.T) {
	cfg := Defaults()
	if err := ParseFile(cfg, nil); err != nil {
		t.Fatal(err)
	}
	if *cfg != *Defaults() {
		t.Errorf("empty file changed the config: %+v", cfg)
	}
}

func TestLoadFile_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vmux.yaml")
	if err := os.WriteFile(path, []byte("port: 9000\nmux:\n  buffer_policy: drop\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VMUX_PORT", "9100")

	cfg := Defaults()
	if err := LoadFile(cfg, path); err != nil {
		t.Fatal(err)
	}
	LoadFromEnv(cfg)
	if cfg.LocalPort != 9100 {
		t.Errorf("env should override the file: LocalPort = %d", cfg.LocalPort)
	}
	if cfg.BufferPolicy != "drop" {
		t.Errorf("file should override defaults: BufferPolicy = %q", cfg.BufferPolicy)
	}

	if err := LoadFile(Defaults(), filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}
}
