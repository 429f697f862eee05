// cmd/licencia/main.go
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/fpalencia/licencia-scraper/cmd"
)

func main() {
	// Ctrl-C and SIGTERM cancel the context; the monitoring loop sees the
	// cancellation at its next cycle boundary and shuts down cleanly.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd.ExecuteContext(ctx)
}
