package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the on-disk YAML configuration. Absent keys leave the current
// value untouched.
type File struct {
	Listen     *bool   `yaml:"listen"`
	Port       *int    `yaml:"port"`
	VPort      *uint32 `yaml:"vport"`
	KeepOpen   *bool   `yaml:"keep_open"`
	Timeout    string  `yaml:"timeout"`
	Verbose    *int    `yaml:"verbose"`
	Retry      *int    `yaml:"retry"`
	Metrics    string  `yaml:"metrics_addr"`
	Trace      *bool   `yaml:"trace"`
	Capability string  `yaml:"capability"`
	Mux        FileMux `yaml:"mux"`
	SSH        FileSSH `yaml:"ssh"`
}

type FileMux struct {
	MaxPayload    int    `yaml:"max_payload"`
	BufferSize    int    `yaml:"buffer_size"`
	BufferPolicy  string `yaml:"buffer_policy"`
	AcceptBacklog int    `yaml:"accept_backlog"`
}

type FileSSH struct {
	Gateway       string `yaml:"gateway"`
	Key           string `yaml:"key"`
	Agent         *bool  `yaml:"agent"`
	Password      *bool  `yaml:"password"`
	StrictHostKey *bool  `yaml:"strict_host_key"`
	KnownHosts    string `yaml:"known_hosts"`
}

// LoadFile reads path and overlays it onto cfg.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	return ParseFile(cfg, data)
}

// ParseFile overlays YAML data onto cfg. Unknown keys are an error.
func ParseFile(cfg *Config, data []byte) error {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file: %w", err)
	}
	return f.apply(cfg)
}

func (f *File) apply(cfg *Config) error {
	setBool(&cfg.Listen, f.Listen)
	setBool(&cfg.KeepOpen, f.KeepOpen)
	setBool(&cfg.Trace, f.Trace)
	if f.Port != nil {
		cfg.LocalPort = *f.Port
	}
	if f.VPort != nil {
		cfg.VPort = *f.VPort
	}
	if f.Verbose != nil {
		cfg.Verbose = *f.Verbose
	}
	if f.Retry != nil {
		cfg.Retry = *f.Retry
	}
	if f.Timeout != "" {
		d, err := time.ParseDuration(f.Timeout)
		if err != nil {
			return fmt.Errorf("config file: timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if f.Metrics != "" {
		cfg.MetricsAddr = f.Metrics
	}

	switch f.Capability {
	case "":
	case "echo":
		cfg.Echo = true
	case "prime":
		cfg.Prime = true
	case "relay":
		cfg.Echo, cfg.Prime = false, false
	default:
		return fmt.Errorf("config file: unknown capability %q", f.Capability)
	}

	if f.Mux.MaxPayload > 0 {
		cfg.MaxPayload = f.Mux.MaxPayload
	}
	if f.Mux.BufferSize > 0 {
		cfg.BufferSize = f.Mux.BufferSize
	}
	if f.Mux.BufferPolicy != "" {
		cfg.BufferPolicy = f.Mux.BufferPolicy
	}
	if f.Mux.AcceptBacklog > 0 {
		cfg.AcceptBacklog = f.Mux.AcceptBacklog
	}

	if f.SSH.Gateway != "" {
		cfg.TunnelSpec = f.SSH.Gateway
	}
	if f.SSH.Key != "" {
		cfg.SSHKeyPath = f.SSH.Key
	}
	if f.SSH.KnownHosts != "" {
		cfg.KnownHostsPath = f.SSH.KnownHosts
	}
	setBool(&cfg.UseSSHAgent, f.SSH.Agent)
	setBool(&cfg.SSHPassword, f.SSH.Password)
	setBool(&cfg.StrictHostKey, f.SSH.StrictHostKey)
	return nil
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
