package main

import (
	"fmt"
	"os"

	"github.com/meshrun/meshrun/internal/config"
	"github.com/meshrun/meshrun/internal/server"
)

func serveCommand(args []string) {
	addr := "127.0.0.1:8080"
	var configPath string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--addr":
			i++
			addr = requireFlagValue(args, i, "--addr")
		case "--config":
			i++
			configPath = requireFlagValue(args, i, "--config")
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}

	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if err := applyRetryOverrides(cfg); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if cfg.Server.Addr != "" {
			addr = cfg.Server.Addr
		}
	}

	srv := server.New(server.Config{Addr: addr})
	if err := srv.ListenAndServe(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
