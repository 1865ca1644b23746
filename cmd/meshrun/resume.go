package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/meshrun/meshrun/internal/flowctx"
	"github.com/meshrun/meshrun/internal/handler"
	"github.com/meshrun/meshrun/internal/runner"
)

func resumeCommand(args []string) {
	var logsRoot, graphPath string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--logs-root":
			i++
			logsRoot = requireFlagValue(args, i, "--logs-root")
		case "--graph":
			i++
			graphPath = requireFlagValue(args, i, "--graph")
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}
	if logsRoot == "" || graphPath == "" {
		usage()
		os.Exit(1)
	}

	g, err := prepareGraph(graphPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cp, err := flowctx.LoadCheckpoint(filepath.Join(logsRoot, "checkpoint.json"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	reg := handler.NewDefaultRegistry()
	rn, err := runner.New(runner.Options{
		Graph:    g,
		Registry: reg,
		LogsRoot: logsRoot,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cleanup := signalCancelContext()
	defer cleanup()

	ex := &handler.Execution{Interviewer: newConsoleInterviewer()}
	res, err := rn.Resume(ctx, ex, cp)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	printResult(res)
	if res.Failed {
		os.Exit(1)
	}
	os.Exit(0)
}
