package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/sync/errgroup"

	"github.com/meshrun/meshrun/internal/flowctx"
	"github.com/meshrun/meshrun/internal/graph"
	"github.com/meshrun/meshrun/internal/interview"
)

// StartHandler is the no-op entry point.
type StartHandler struct{}

func (StartHandler) Execute(context.Context, *Execution) (flowctx.Outcome, error) {
	return flowctx.Outcome{Status: flowctx.StatusSuccess, Notes: "start"}, nil
}

// ExitHandler is the no-op terminal point.
type ExitHandler struct{}

func (ExitHandler) Execute(context.Context, *Execution) (flowctx.Outcome, error) {
	return flowctx.Outcome{Status: flowctx.StatusSuccess, Notes: "exit"}, nil
}

// ConditionalHandler is a pass-through routing node: it must not overwrite
// the prior stage's outcome/preferred_label, since edge conditions often
// depend on those values surviving the hop.
type ConditionalHandler struct{}

func (ConditionalHandler) SkipRetry() bool { return true }

func (ConditionalHandler) Execute(_ context.Context, ex *Execution) (flowctx.Outcome, error) {
	prevStatus := flowctx.StatusSuccess
	prevPreferred := ""
	if ex.Context != nil {
		if v, ok := ex.Context.Get("outcome"); ok {
			if canon, err := flowctx.ParseStageStatus(v); err == nil {
				prevStatus = canon
			}
		}
		prevPreferred = ex.Context.GetString("preferred_label", "")
	}
	return flowctx.Outcome{Status: prevStatus, PreferredLabel: prevPreferred, Notes: "conditional pass-through"}, nil
}

// ToolHandler shells out to the node's tool_command attribute. It is the one
// built-in handler that actually performs I/O itself rather than delegating
// to InvokeStage, matching the spec's note that "concrete tool-hook
// subprocess plumbing" is the one piece of external collaboration this
// engine owns directly.
type ToolHandler struct{}

func (ToolHandler) Execute(ctx context.Context, ex *Execution) (flowctx.Outcome, error) {
	cmd := ex.Node.Attr("tool_command", "")
	if cmd == "" {
		return flowctx.Fail("tool node has no tool_command attribute"), nil
	}

	if schemaText := ex.Node.Attr("tool_args_schema", ""); schemaText != "" {
		if err := validateToolArgs(schemaText, ex.Node.Attr("tool_args", "{}")); err != nil {
			return flowctx.Fail(fmt.Sprintf("tool_args failed schema validation: %v", err)), nil
		}
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if t := ex.Node.Attr("timeout", ""); t != "" {
		if v, ok := ex.Node.Attrs.Get("timeout"); ok && v.Kind == graph.KindDuration {
			runCtx, cancel = context.WithTimeout(ctx, time.Duration(v.DurationMS)*time.Millisecond)
			defer cancel()
		}
	}

	c := exec2Command(runCtx, cmd)
	out, err := c.CombinedOutput()
	updates := map[string]string{
		"tool.stdout": string(out),
	}
	if err != nil {
		if runCtx.Err() != nil {
			return flowctx.Outcome{Status: flowctx.StatusFail, FailureReason: "tool command timed out", ContextUpdates: updates}, nil
		}
		return flowctx.Outcome{Status: flowctx.StatusFail, FailureReason: fmt.Sprintf("tool command failed: %v", err), ContextUpdates: updates}, nil
	}
	return flowctx.Outcome{Status: flowctx.StatusSuccess, Notes: "tool command succeeded", ContextUpdates: updates}, nil
}

func exec2Command(ctx context.Context, shellCmd string) *exec.Cmd {
	return exec.CommandContext(ctx, "bash", "-c", shellCmd)
}

// validateToolArgs compiles the node's tool_args_schema (a JSON Schema
// document) and validates tool_args (a JSON document) against it.
func validateToolArgs(schemaText, argsText string) error {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("tool_args_schema.json", strings.NewReader(schemaText)); err != nil {
		return fmt.Errorf("compiling schema: %w", err)
	}
	schema, err := c.Compile("tool_args_schema.json")
	if err != nil {
		return fmt.Errorf("compiling schema: %w", err)
	}
	var args any
	if err := json.Unmarshal([]byte(argsText), &args); err != nil {
		return fmt.Errorf("parsing tool_args as JSON: %w", err)
	}
	return schema.Validate(args)
}

// CodergenHandler represents any "box"-shaped stage whose real work (an LLM
// call, a code-generation backend) is explicitly out of this engine's scope.
// It delegates to ex.InvokeStage when the embedding application supplies
// one, and otherwise returns a deterministic stub outcome so the rest of
// the pipeline's control flow can still be exercised.
type CodergenHandler struct{}

func (CodergenHandler) Execute(ctx context.Context, ex *Execution) (flowctx.Outcome, error) {
	if ex.InvokeStage != nil {
		return ex.InvokeStage(ctx, ex.Node, ex.Context)
	}
	prompt := ex.Node.Attr("prompt", "")
	note := "codergen stub: no backend configured"
	if prompt != "" {
		note = fmt.Sprintf("codergen stub: no backend configured (prompt length %d)", len(prompt))
	}
	return flowctx.Outcome{Status: flowctx.StatusSuccess, Notes: note}, nil
}

// StackManagerLoopHandler implements the "house"-shaped stage: a pass-through
// marker whose job is to be a loop_restart target. It behaves like start but
// records that a restart landed here.
type StackManagerLoopHandler struct{}

func (StackManagerLoopHandler) Execute(_ context.Context, ex *Execution) (flowctx.Outcome, error) {
	return flowctx.Outcome{
		Status:         flowctx.StatusSuccess,
		Notes:          "stack manager loop entry",
		ContextUpdates: map[string]string{"internal.loop_entry": ex.Node.ID},
	}, nil
}

// WaitHumanHandler implements the hexagon-shaped human-gate stage: it builds
// a Question from the node's outgoing edges, asks the configured
// interviewer, and writes the answer into context so edge selection picks
// the matching edge via preferred_label.
type WaitHumanHandler struct{}

func (WaitHumanHandler) Execute(ctx context.Context, ex *Execution) (flowctx.Outcome, error) {
	if ex.Interviewer == nil {
		return flowctx.Fail("wait.human node has no interviewer configured"), nil
	}
	edges := ex.Graph.Outgoing(ex.Node.ID)
	labels := make([]string, len(edges))
	for i, e := range edges {
		labels[i] = e.Label()
	}
	question := interview.Question{
		Text:    ex.Node.Attr("label", ex.Node.ID),
		Options: interview.OptionsFromLabels(labels),
		NodeID:  ex.Node.ID,
	}

	runCtx := ctx
	if t, ok := ex.Node.Attrs.Get("timeout"); ok && t.Kind == graph.KindDuration {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(t.DurationMS)*time.Millisecond)
		defer cancel()
	}

	answer, err := ex.Interviewer.Ask(runCtx, question)
	if err != nil {
		return flowctx.Outcome{Status: flowctx.StatusFail, FailureReason: fmt.Sprintf("human gate: %v", err)}, nil
	}

	text := answer.Text
	if text == "" && answer.SelectedOption != nil {
		text = answer.SelectedOption.Label
	}
	if text == "" {
		for _, o := range question.Options {
			if o.Key == answer.Value {
				text = o.Label
				break
			}
		}
	}
	if text == "" {
		text = answer.Value
	}
	return flowctx.Outcome{
		Status:         flowctx.StatusSuccess,
		PreferredLabel: text,
		ContextUpdates: map[string]string{"human.gate.selected": answer.Value},
	}, nil
}

// ParallelResult is one branch's outcome as recorded in the
// "parallel.results" context key.
type ParallelResult struct {
	NodeID         string            `json:"nodeId"`
	Status         flowctx.StageStatus `json:"status"`
	Notes          string            `json:"notes,omitempty"`
	ContextUpdates map[string]string `json:"contextUpdates,omitempty"`
}

// ParallelHandler implements the "component"-shaped fan-out stage: each
// outgoing edge's target is a branch head, run concurrently via the
// runner-supplied RunBranch callback.
type ParallelHandler struct{}

func (ParallelHandler) Execute(ctx context.Context, ex *Execution) (flowctx.Outcome, error) {
	if ex.RunBranch == nil {
		return flowctx.Fail("parallel handler has no branch runner configured"), nil
	}
	edges := ex.Graph.Outgoing(ex.Node.ID)
	if len(edges) == 0 {
		return flowctx.Fail("parallel node has no outgoing edges"), nil
	}

	type slot struct {
		result BranchOutcome
		err    error
	}
	slots := make([]slot, len(edges))

	var grp errgroup.Group
	for i, e := range edges {
		i, startID := i, e.To
		grp.Go(func() error {
			res, err := ex.RunBranch(ctx, startID)
			slots[i] = slot{result: res, err: err}
			return nil // branch failure is reported via slot.err, not propagated as a group error
		})
	}
	_ = grp.Wait()

	results := make([]ParallelResult, len(edges))
	successCount, failCount := 0, 0
	for i, s := range slots {
		if s.err != nil {
			results[i] = ParallelResult{NodeID: edges[i].To, Status: flowctx.StatusFail, Notes: s.err.Error()}
			failCount++
			continue
		}
		results[i] = ParallelResult{
			NodeID:         s.result.LastNodeID,
			Status:         s.result.Outcome.Status,
			Notes:          s.result.Outcome.Notes,
			ContextUpdates: s.result.Outcome.ContextUpdates,
		}
		switch s.result.Outcome.Status {
		case flowctx.StatusSuccess, flowctx.StatusPartialSuccess:
			successCount++
		default:
			failCount++
		}
	}

	encoded, err := json.Marshal(results)
	if err != nil {
		return flowctx.Fail(fmt.Sprintf("parallel: encoding results: %v", err)), nil
	}
	updates := map[string]string{"parallel.results": string(encoded)}

	status := flowctx.StatusFail
	switch {
	case successCount == len(edges):
		status = flowctx.StatusSuccess
	case successCount > 0:
		status = flowctx.StatusPartialSuccess
	}
	return flowctx.Outcome{Status: status, ContextUpdates: updates, Notes: fmt.Sprintf("%d/%d branches succeeded", successCount, len(edges))}, nil
}

// FanInBackend lets an embedding application plug in an LLM-backed best-
// branch selector. When absent, ParallelFanInHandler falls back to the
// heuristic ordering (SUCCESS > PARTIAL_SUCCESS > FAIL, ties by order).
type FanInBackend interface {
	SelectBest(ctx context.Context, prompt string, results []ParallelResult) (nodeID string, ok bool)
}

// ParallelFanInHandler implements the "tripleoctagon"-shaped join stage.
type ParallelFanInHandler struct {
	Backend FanInBackend
}

func (h ParallelFanInHandler) Execute(ctx context.Context, ex *Execution) (flowctx.Outcome, error) {
	raw := ex.Context.GetString("parallel.results", "")
	if raw == "" {
		return flowctx.Fail("parallel.fan_in: no parallel.results in context"), nil
	}
	var results []ParallelResult
	if err := json.Unmarshal([]byte(raw), &results); err != nil {
		return flowctx.Fail(fmt.Sprintf("parallel.fan_in: malformed parallel.results: %v", err)), nil
	}
	if len(results) == 0 {
		return flowctx.Fail("parallel.fan_in: empty parallel.results"), nil
	}

	bestID, bestOutcome := "", flowctx.StatusFail
	if h.Backend != nil {
		if prompt := ex.Node.Attr("prompt", ""); prompt != "" {
			if id, ok := h.Backend.SelectBest(ctx, prompt, results); ok {
				for _, r := range results {
					if r.NodeID == id {
						bestID, bestOutcome = r.NodeID, r.Status
						break
					}
				}
			}
		}
	}
	if bestID == "" {
		bestID, bestOutcome = heuristicBest(results)
	}

	return flowctx.Outcome{
		Status: flowctx.StatusSuccess,
		ContextUpdates: map[string]string{
			"parallel.fan_in.best_id":      bestID,
			"parallel.fan_in.best_outcome": string(bestOutcome),
		},
	}, nil
}

func heuristicBest(results []ParallelResult) (string, flowctx.StageStatus) {
	rank := func(s flowctx.StageStatus) int {
		switch s {
		case flowctx.StatusSuccess:
			return 2
		case flowctx.StatusPartialSuccess:
			return 1
		default:
			return 0
		}
	}
	bestIdx := 0
	for i := 1; i < len(results); i++ {
		if rank(results[i].Status) > rank(results[bestIdx].Status) {
			bestIdx = i
		}
	}
	return results[bestIdx].NodeID, results[bestIdx].Status
}

// NewDefaultRegistry registers every built-in handler under its shape-table
// type name. A wait.human interviewer and a parallel branch runner are
// supplied per-Execution (at dispatch time), not at registry construction,
// since they're pipeline-run-scoped, not handler-type-scoped.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("start", StartHandler{})
	r.Register("exit", ExitHandler{})
	r.Register("conditional", ConditionalHandler{})
	r.Register("tool", ToolHandler{})
	r.Register("codergen", CodergenHandler{})
	r.Register("stack.manager_loop", StackManagerLoopHandler{})
	r.Register("wait.human", WaitHumanHandler{})
	r.Register("parallel", ParallelHandler{})
	r.Register("parallel.fan_in", ParallelFanInHandler{})
	r.SetDefault(CodergenHandler{})
	return r
}
