package core

import (
	"fmt"

	"vmux/config"
	"vmux/internal/capability"
	"vmux/internal/metrics"
	"vmux/internal/transport"
	"vmux/util"
)

// Build constructs the appropriate Mode from the given configuration.
// m may be nil, in which case nothing is counted.
func Build(cfg *config.Config, logger *util.Logger, m *metrics.Collector) (Mode, error) {
	switch {
	case cfg.Scenario != "":
		return buildScenario(cfg, logger, m)
	case cfg.Reverse:
		return buildReverse(cfg, logger, m)
	case cfg.Listen:
		return buildListen(cfg, logger, m)
	default:
		return buildConnect(cfg, logger, m)
	}
}

// ── mode builders ────────────────────────────────────────────────────

func buildConnect(cfg *config.Config, logger *util.Logger, m *metrics.Collector) (Mode, error) {
	return &ConnectMode{
		Dialer:     buildDialer(cfg, logger, m),
		Capability: buildCapability(cfg),
		Address:    util.FormatAddr(cfg.Host, cfg.Port),
		VPort:      cfg.VPort,
		Mux:        cfg.MuxConfig(logger, m),
		Logger:     logger,
	}, nil
}

func buildListen(cfg *config.Config, logger *util.Logger, m *metrics.Collector) (Mode, error) {
	return &ListenMode{
		Address:    fmt.Sprintf(":%d", cfg.LocalPort),
		VPort:      cfg.VPort,
		KeepOpen:   cfg.KeepOpen,
		Capability: buildCapability(cfg),
		Mux:        cfg.MuxConfig(logger, m),
		Logger:     logger,
	}, nil
}

func buildReverse(cfg *config.Config, logger *util.Logger, m *metrics.Collector) (Mode, error) {
	return &ReverseMode{
		Dialer:     buildDialer(cfg, logger, m),
		Capability: buildCapability(cfg),
		Address:    util.FormatAddr(cfg.Host, cfg.Port),
		VPort:      cfg.VPort,
		KeepOpen:   cfg.KeepOpen,
		Mux:        cfg.MuxConfig(logger, m),
		Logger:     logger,
	}, nil
}

func buildScenario(cfg *config.Config, logger *util.Logger, m *metrics.Collector) (Mode, error) {
	switch cfg.Scenario {
	case ScenarioNSocket, ScenarioSymmetric, ScenarioPrime:
	default:
		return nil, fmt.Errorf("unknown scenario %q", cfg.Scenario)
	}

	mode := &ScenarioMode{
		Name:   cfg.Scenario,
		Role:   cfg.Role,
		VPort:  cfg.VPort,
		Mux:    cfg.MuxConfig(logger, m),
		Logger: logger,
	}
	if cfg.Role == "server" {
		mode.Address = fmt.Sprintf(":%d", cfg.LocalPort)
	} else {
		mode.Address = util.FormatAddr(cfg.Host, cfg.Port)
		mode.Dialer = buildDialer(cfg, logger, m)
	}
	return mode, nil
}

// ── shared helpers ───────────────────────────────────────────────────

// buildDialer creates the physical transport: plain TCP or an SSH
// gateway, wrapped in a retrying dialer when more than one attempt is
// configured.
func buildDialer(cfg *config.Config, logger *util.Logger, m *metrics.Collector) transport.Dialer {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = config.DefaultConnTimeout
	}

	var d transport.Dialer = &transport.TCPDialer{Timeout: timeout}
	if cfg.TunnelEnabled {
		d = transport.NewSSHDialer(&transport.SSHConfig{
			User:          cfg.TunnelUser,
			Host:          cfg.TunnelHost,
			Port:          cfg.TunnelPort,
			KeyPath:       cfg.SSHKeyPath,
			PromptPass:    cfg.SSHPassword,
			UseAgent:      cfg.UseSSHAgent,
			StrictHostKey: cfg.StrictHostKey,
			KnownHosts:    cfg.KnownHostsPath,
			ConnTimeout:   timeout,
		}, logger)
	}

	if cfg.Retry > 1 {
		d = transport.NewRetryDialer(d, cfg.Retry, logger, m)
	}
	return d
}

// buildCapability selects the per-socket behaviour.
func buildCapability(cfg *config.Config) capability.Capability {
	switch {
	case cfg.Execute != "" || cfg.Command != "":
		return &capability.Exec{
			Program: cfg.Execute,
			Command: cfg.Command,
		}
	case cfg.Echo:
		return &capability.Echo{}
	case cfg.Prime:
		return &capability.Prime{}
	default:
		return &capability.Relay{}
	}
}
