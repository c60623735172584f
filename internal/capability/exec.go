package capability

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"

	"vmux/internal/session"
)

// Exec wires a virtual socket to a child process's stdio.
// Either Program (-e) or Command (-c) must be set.
type Exec struct {
	Program string // -e: execute a program directly
	Command string // -c: execute via the system shell
}

// Handle starts the child with stdin, stdout and stderr on the socket,
// and half-closes the socket when the child exits.
func (e *Exec) Handle(ctx context.Context, sess *session.Session) error {
	var cmd *exec.Cmd

	switch {
	case e.Command != "":
		if runtime.GOOS == "windows" {
			cmd = exec.CommandContext(ctx, "cmd.exe", "/C", e.Command)
		} else {
			cmd = exec.CommandContext(ctx, "/bin/sh", "-c", e.Command)
		}
	case e.Program != "":
		cmd = exec.CommandContext(ctx, e.Program)
	default:
		return fmt.Errorf("no command specified for exec mode")
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	cmd.Stdout = sess.Conn
	cmd.Stderr = sess.Conn

	sess.Logger.Debug("exec: %s", cmd.String())
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("exec %q: %w", cmd.Path, err)
	}

	// feed the child until it exits; the socket may stay open after that
	go func() {
		copyInput(stdin, sess)
		stdin.Close()
	}()

	werr := cmd.Wait()
	if err := sess.CloseWrite(); err != nil {
		sess.Logger.Debug("close write: %v", err)
	}
	if werr != nil {
		return fmt.Errorf("exec %q: %w", cmd.Path, werr)
	}
	return nil
}
