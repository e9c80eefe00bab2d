// Package cli implements the coordinator's command-line surface. The
// commands are thin wrappers over the session: they wire a transport and
// a correlation strategy from the environment, run one operation, and
// print what the engine said.
package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
)

func Run(ctx context.Context, args []string) {
	if len(args) < 1 {
		printUsage()
		return
	}

	var err error
	switch strings.TrimSpace(args[0]) {
	case "login":
		err = runLogin(ctx, args[1:])
	case "sms-login":
		err = runSmsLogin(ctx, args[1:])
	case "grab":
		err = runGrab(ctx, args[1:])
	case "stop":
		err = runStop(ctx, args[1:])
	case "logs":
		err = runLogs(ctx, args[1:])
	case "stats":
		err = runStats(ctx, args[1:])
	case "state":
		err = runState(ctx, args[1:])
	case "policy":
		err = runPolicy(ctx, args[1:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		printUsage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
