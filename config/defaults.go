package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// CLI level defaults. Multiplexer defaults live in mux.DefaultConfig.

const (
	// DefaultVirtualPort is the virtual port used when --vport is absent.
	DefaultVirtualPort = 1

	// DefaultVerbosity prints errors, warnings and info lines.
	DefaultVerbosity = 1

	// DefaultConnTimeout bounds a physical dial when -w is not given.
	DefaultConnTimeout = 30 * time.Second

	// DefaultRetryAttempts is how many times a physical dial is tried
	// when --retry is given without a value.
	DefaultRetryAttempts = 5

	// DefaultGracePeriod is how long shutdown waits for handlers.
	DefaultGracePeriod = 5 * time.Second

	// EnvPrefix prefixes every environment variable the loader reads.
	EnvPrefix = "VMUX_"
)
