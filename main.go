// vmux - many virtual sockets over one physical connection per peer.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"vmux/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "vmux: %v\n", err)
		os.Exit(1)
	}
}
