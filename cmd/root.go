// Package cmd wires up the CLI flags and dispatches to the core modes.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"vmux/config"
	"vmux/internal/core"
	"vmux/internal/metrics"
	"vmux/internal/transport"
	"vmux/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X vmux/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Execute parses args and runs the appropriate vmux mode.
//
// Settings are layered defaults → config file → environment → flags,
// so every flag default below is whatever the earlier layers produced.
func Execute(ctx context.Context, args []string) error {
	cfg := config.Defaults()
	if path := configPath(args); path != "" {
		if err := config.LoadFile(cfg, path); err != nil {
			return err
		}
		cfg.ConfigFile = path
	}
	config.LoadFromEnv(cfg)
	// CountVarP zeroes its target; each -v adds to the layered level.
	baseVerbose := cfg.Verbose

	fs := flag.NewFlagSet("vmux", flag.ContinueOnError)

	// ── mode ─────────────────────────────────────────────────────
	fs.BoolVarP(&cfg.Listen, "listen", "l", cfg.Listen, "Listen mode")
	fs.IntVarP(&cfg.LocalPort, "port", "p", cfg.LocalPort, "Physical listen port")
	fs.Uint32Var(&cfg.VPort, "vport", cfg.VPort, "Virtual port to bind or connect to")
	fs.BoolVarP(&cfg.KeepOpen, "keep-open", "k", cfg.KeepOpen, "Serve multiple sockets")
	fs.BoolVarP(&cfg.Reverse, "reverse", "R", cfg.Reverse, "Bind the virtual port, then connect out")
	fs.StringVar(&cfg.Scenario, "scenario", cfg.Scenario, "Run a scenario: nsocket, symmetric, prime")
	fs.StringVar(&cfg.Role, "role", cfg.Role, "Scenario role: server or client")

	timeoutSec := int(cfg.Timeout / time.Second)
	fs.IntVarP(&timeoutSec, "timeout", "w", timeoutSec, "Dial and connect timeout in seconds")

	// ── capability ───────────────────────────────────────────────
	fs.BoolVar(&cfg.Echo, "echo", cfg.Echo, "Echo every socket back")
	fs.BoolVar(&cfg.Prime, "prime", cfg.Prime, "Answer prime-number queries")
	fs.StringVarP(&cfg.Execute, "exec", "e", cfg.Execute, "Execute program per socket")
	fs.StringVarP(&cfg.Command, "command", "c", cfg.Command, "Execute shell command per socket")

	// ── SSH gateway ──────────────────────────────────────────────
	fs.StringVarP(&cfg.TunnelSpec, "tunnel", "T", cfg.TunnelSpec, "Forward the physical link via user@host[:port]")
	fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "ssh-password", cfg.SSHPassword, "Prompt for SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")

	// ── physical link ────────────────────────────────────────────
	fs.IntVar(&cfg.Retry, "retry", cfg.Retry, "Dial attempts with backoff (--retry=N)")
	fs.Lookup("retry").NoOptDefVal = strconv.Itoa(config.DefaultRetryAttempts)

	// ── multiplexer ──────────────────────────────────────────────
	fs.StringVar(&cfg.BufferPolicy, "buffer-policy", cfg.BufferPolicy, "Full receive buffer: block or drop")
	fs.IntVar(&cfg.BufferSize, "buffer-size", cfg.BufferSize, "Per-socket receive buffer in bytes")
	fs.IntVar(&cfg.MaxPayload, "max-payload", cfg.MaxPayload, "Largest DATA payload in bytes")
	fs.IntVar(&cfg.AcceptBacklog, "backlog", cfg.AcceptBacklog, "Pending connect requests per server socket")
	fs.BoolVar(&cfg.Trace, "trace", cfg.Trace, "Log every frame (with -vvv)")

	// ── output ───────────────────────────────────────────────────
	fs.CountVarP(&cfg.Verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Serve Prometheus metrics on this address")
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "YAML config file")
	fs.BoolVar(&cfg.DryRun, "dry-run", cfg.DryRun, "Validate the configuration and exit")

	var showVersion, showHelp bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg.Verbose += baseVerbose

	if showHelp || len(args) == 0 {
		printUsage(fs)
		return nil
	}
	if showVersion {
		fmt.Printf("vmux %s\n", version)
		return nil
	}

	if timeoutSec > 0 {
		cfg.Timeout = time.Duration(timeoutSec) * time.Second
	}

	// ── positional arguments ─────────────────────────────────────
	if err := parsePositional(cfg, fs.Args()); err != nil {
		return err
	}

	// ── gateway ──────────────────────────────────────────────────
	if cfg.TunnelSpec != "" {
		user, host, port, err := transport.ParseGateway(cfg.TunnelSpec)
		if err != nil {
			return fmt.Errorf("tunnel: %w", err)
		}
		cfg.TunnelEnabled = true
		cfg.TunnelUser = user
		cfg.TunnelHost = host
		cfg.TunnelPort = port
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := util.NewLogger(cfg.Verbose)
	if cfg.DryRun {
		logger.Info("configuration OK: %s", describe(cfg))
		return nil
	}

	// ── build and run ────────────────────────────────────────────
	m := metrics.New()
	if cfg.MetricsAddr != "" {
		stop, err := serveMetrics(cfg.MetricsAddr, m, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	mode, err := core.Build(cfg, logger, m)
	if err != nil {
		return err
	}
	err = mode.Run(ctx)
	logger.Verbose("stats: %s", m.JSON())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ── helpers ──────────────────────────────────────────────────────────

// configPath finds --config before the flag set exists, so the file can
// supply flag defaults.  VMUX_CONFIG is the fallback.
func configPath(args []string) string {
	for i, arg := range args {
		if arg == "--" {
			break
		}
		if v, ok := strings.CutPrefix(arg, "--config="); ok {
			return v
		}
		if arg == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return config.ConfigFileFromEnv()
}

func parsePositional(cfg *config.Config, remaining []string) error {
	if cfg.Listen || (cfg.Scenario != "" && cfg.Role == "server") {
		if len(remaining) > 0 {
			return fmt.Errorf("too many arguments for listen mode")
		}
		return nil
	}

	// Connect / reverse / scenario client: host port
	switch len(remaining) {
	case 0:
		// Validate reports the missing host with a hint.
		return nil
	case 1:
		cfg.Host = remaining[0]
		return fmt.Errorf("port required")
	case 2:
		cfg.Host = remaining[0]
		port, err := util.ParsePort(remaining[1])
		if err != nil {
			return fmt.Errorf("port %q: %w", remaining[1], err)
		}
		cfg.Port = port
		return nil
	default:
		return fmt.Errorf("too many arguments: expected HOST PORT")
	}
}

func describe(cfg *config.Config) string {
	switch {
	case cfg.Scenario != "":
		return fmt.Sprintf("scenario %s (%s)", cfg.Scenario, cfg.Role)
	case cfg.Listen:
		return fmt.Sprintf("listen :%d vport %d", cfg.LocalPort, cfg.VPort)
	case cfg.Reverse:
		return fmt.Sprintf("reverse %s vport %d", util.FormatAddr(cfg.Host, cfg.Port), cfg.VPort)
	default:
		return fmt.Sprintf("connect %s vport %d", util.FormatAddr(cfg.Host, cfg.Port), cfg.VPort)
	}
}

// serveMetrics exposes m in the Prometheus text format on addr until
// stop is called.
func serveMetrics(addr string, m *metrics.Collector, logger *util.Logger) (stop func(), err error) {
	h, err := metrics.Handler(m)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server: %v", err)
		}
	}()
	logger.Verbose("metrics on http://%s/metrics", ln.Addr())
	return func() { srv.Close() }, nil
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `vmux – Virtual Socket Multiplexer v%s

Many virtual sockets over one physical connection per peer.

Usage:
  vmux [options] <host> <port>                          Connect to --vport
  vmux -l -p <port> [options]                           Listen
  vmux -R [options] <host> <port>                       Reverse: bind --vport, connect out
  vmux --scenario <name> --role server -p <port>        Scenario server
  vmux --scenario <name> --role client <host> <port>    Scenario client

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Examples:
  vmux -l -p 9000 --echo -k                             Echo every virtual socket
  echo "hello" | vmux --vport 1 host.example.com 9000   Pipe data over vport 1
  vmux -R --vport 7 -e /bin/cat gw.example.com 9000     Serve cat back to the peer
  vmux -T admin@bastion --retry=5 db-internal 9000      Link through an SSH gateway
  vmux --scenario nsocket --role client localhost 9000  Three sockets, one link
`)
}
