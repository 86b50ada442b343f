package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

const (
	ExitSuccess = 0
	ExitError   = 1
	// ExitPartial means the sync finished but some athletes failed.
	ExitPartial = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	switch {
	case err == nil:
		os.Exit(ExitSuccess)
	case errors.Is(err, errPartial):
		os.Exit(ExitPartial)
	default:
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(ExitError)
	}
}
