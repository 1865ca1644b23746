package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/meshrun/meshrun/internal/config"
	"github.com/meshrun/meshrun/internal/graph"
	"github.com/meshrun/meshrun/internal/handler"
	"github.com/meshrun/meshrun/internal/interview"
	"github.com/meshrun/meshrun/internal/retry"
	"github.com/meshrun/meshrun/internal/runner"
	"github.com/meshrun/meshrun/internal/transform"
	"github.com/meshrun/meshrun/internal/validate"
)

// consoleInterviewer presents wait.human questions on stderr and reads the
// answer from stdin, for running a pipeline interactively from a terminal.
type consoleInterviewer struct {
	in  *bufio.Reader
	out *os.File
}

func newConsoleInterviewer() *consoleInterviewer {
	return &consoleInterviewer{in: bufio.NewReader(os.Stdin), out: os.Stderr}
}

func (c *consoleInterviewer) Ask(ctx context.Context, q interview.Question) (interview.Answer, error) {
	fmt.Fprintln(c.out, q.Text)
	for _, opt := range q.Options {
		fmt.Fprintf(c.out, "  [%s] %s\n", opt.Key, opt.Label)
	}
	fmt.Fprint(c.out, "> ")
	line, err := c.in.ReadString('\n')
	if err != nil && line == "" {
		return interview.Answer{}, err
	}
	value := strings.TrimSpace(line)
	for _, opt := range q.Options {
		if opt.Key == value {
			o := opt
			return interview.Answer{Value: value, SelectedOption: &o}, nil
		}
	}
	return interview.Answer{Value: value}, nil
}

func loadConfig(path string) (*config.File, error) {
	if path == "" {
		return nil, nil
	}
	return config.Load(path)
}

func applyRetryOverrides(cfg *config.File) error {
	if cfg == nil || len(cfg.RetryPolicies) == 0 {
		return nil
	}
	overrides := make(map[string]retry.PresetOverride, len(cfg.RetryPolicies))
	for name, rp := range cfg.RetryPolicies {
		o := retry.PresetOverride{MaxAttempts: rp.MaxAttempts, Factor: rp.Factor, Jitter: rp.Jitter}
		if rp.InitialDelay != "" {
			d, err := time.ParseDuration(rp.InitialDelay)
			if err != nil {
				return fmt.Errorf("retry_policies.%s.initial_delay: %w", name, err)
			}
			o.InitialDelay = d
		}
		if rp.MaxDelay != "" {
			d, err := time.ParseDuration(rp.MaxDelay)
			if err != nil {
				return fmt.Errorf("retry_policies.%s.max_delay: %w", name, err)
			}
			o.MaxDelay = d
		}
		overrides[name] = o
	}
	retry.ApplyPresetOverrides(overrides)
	return nil
}

func prepareGraph(graphPath string) (*graph.Graph, error) {
	dotSource, err := os.ReadFile(graphPath)
	if err != nil {
		return nil, err
	}
	g, err := graph.Parse(string(dotSource))
	if err != nil {
		return nil, fmt.Errorf("parsing graph: %w", err)
	}
	g, err = transform.Builtins()(g)
	if err != nil {
		return nil, fmt.Errorf("applying transforms: %w", err)
	}
	return g, nil
}

func runCommand(args []string) {
	var graphPath, configPath, runID, logsRoot string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--graph":
			i++
			graphPath = requireFlagValue(args, i, "--graph")
		case "--config":
			i++
			configPath = requireFlagValue(args, i, "--config")
		case "--run-id":
			i++
			runID = requireFlagValue(args, i, "--run-id")
		case "--logs-root":
			i++
			logsRoot = requireFlagValue(args, i, "--logs-root")
		default:
			fmt.Fprintf(os.Stderr, "unknown arg: %s\n", args[i])
			os.Exit(1)
		}
	}
	if graphPath == "" {
		usage()
		os.Exit(1)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := applyRetryOverrides(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if logsRoot == "" && cfg != nil && cfg.LogsRoot != "" {
		logsRoot = cfg.LogsRoot
	}

	g, err := prepareGraph(graphPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	reg := handler.NewDefaultRegistry()
	if _, err := validate.ValidateOrRaise(g, reg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	rn, err := runner.New(runner.Options{
		Graph:      g,
		Registry:   reg,
		PipelineID: runID,
		LogsRoot:   logsRoot,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cleanup := signalCancelContext()
	defer cleanup()

	ex := &handler.Execution{Interviewer: newConsoleInterviewer()}
	res, err := rn.Run(ctx, ex)
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

func printResult(res runner.Result) {
	fmt.Printf("pipeline_id=%s\n", res.PipelineID)
	fmt.Printf("outcome=%s\n", res.Outcome.Status)
	fmt.Printf("completed_nodes=%d\n", len(res.CompletedNodes))
	if res.Failed {
		fmt.Printf("failure_reason=%s\n", res.FailureReason)
	}
}
