package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ticketrush/coordinator/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cli.Run(ctx, os.Args[1:])
}
