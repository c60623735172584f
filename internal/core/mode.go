// Package core is the orchestration layer.  It composes an Endpoint,
// a transport and a capability into complete operational modes and
// provides a builder that selects the right mode from a Config.
//
// Architecture layers (bottom → top):
//
//	frame  →  transport  →  mux  →  capability  →  core  →  cmd (CLI)
//
// Every mode owns exactly one mux.Endpoint and closes it on return.
package core

import (
	"context"
	"io"
	"os"
)

// Mode represents a complete operational mode of vmux (connect,
// listen, reverse or one of the demo scenarios).  Each mode owns its
// full lifecycle from link establishment to teardown.
type Mode interface {
	Run(ctx context.Context) error
}

// orStdin and orStdout fall back to the process streams when a mode
// is not given its own.
func orStdin(r io.Reader) io.Reader {
	if r != nil {
		return r
	}
	return os.Stdin
}

func orStdout(w io.Writer) io.Writer {
	if w != nil {
		return w
	}
	return os.Stdout
}
