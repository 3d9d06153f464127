// The main package for the nsn-sourcing executable.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/JakeFAU/nsn-sourcing/cmd"
)

func main() {
	// The first signal interrupts the batch cooperatively; partial progress is
	// kept for the next run.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cmd.Execute(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
