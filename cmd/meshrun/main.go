package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/meshrun/meshrun/internal/version"
)

func signalCancelContext() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	stopCh := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-stopCh:
		}
	}()
	cleanup := func() {
		signal.Stop(sigCh)
		close(stopCh)
		cancel()
	}
	return ctx, cleanup
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "--version", "-v", "version":
		fmt.Printf("meshrun %s\n", version.Version)
		os.Exit(0)
	case "run":
		runCommand(os.Args[2:])
	case "resume":
		resumeCommand(os.Args[2:])
	case "validate":
		validateCommand(os.Args[2:])
	case "serve":
		serveCommand(os.Args[2:])
	case "status":
		statusCommand(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  meshrun --version")
	fmt.Fprintln(os.Stderr, "  meshrun run --graph <file.dot> [--config <run.yaml>] [--run-id <id>] [--logs-root <dir>]")
	fmt.Fprintln(os.Stderr, "  meshrun resume --graph <file.dot> --logs-root <dir>")
	fmt.Fprintln(os.Stderr, "  meshrun validate --graph <file.dot>")
	fmt.Fprintln(os.Stderr, "  meshrun serve [--addr <host:port>] [--config <run.yaml>]")
	fmt.Fprintln(os.Stderr, "  meshrun status --logs-root <dir> [--json]")
}

func requireFlagValue(args []string, i int, flag string) string {
	if i >= len(args) {
		fmt.Fprintf(os.Stderr, "%s requires a value\n", flag)
		os.Exit(1)
	}
	return args[i]
}
