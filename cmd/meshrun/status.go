package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/meshrun/meshrun/internal/flowctx"
)

func statusCommand(args []string) {
	var logsRoot string
	var asJSON bool
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--logs-root":
			i++
			logsRoot = requireFlagValue(args, i, "--logs-root")
		case "--json":
			asJSON = true
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}
	if logsRoot == "" {
		usage()
		os.Exit(1)
	}

	cp, err := flowctx.LoadCheckpoint(filepath.Join(logsRoot, "checkpoint.json"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if asJSON {
		_ = json.NewEncoder(os.Stdout).Encode(cp)
		return
	}
	fmt.Printf("current_node=%s\n", cp.CurrentNode)
	fmt.Printf("timestamp=%s\n", cp.Timestamp)
	fmt.Printf("completed_nodes=%d\n", len(cp.CompletedNodes))
	for node, outcome := range cp.NodeOutcomes {
		fmt.Printf("  %s: %s\n", node, outcome)
	}
}
