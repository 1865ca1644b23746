// Package runner implements the pipeline runner: the single-threaded state
// machine that drives a graph from its start node to a terminal node,
// applying retries, goal gates, loop-restart, checkpointing, and the
// lifecycle event stream.
package runner

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/meshrun/meshrun/internal/emit"
	"github.com/meshrun/meshrun/internal/flowctx"
	"github.com/meshrun/meshrun/internal/graph"
	"github.com/meshrun/meshrun/internal/handler"
	"github.com/meshrun/meshrun/internal/metrics"
	"github.com/meshrun/meshrun/internal/retry"
)

// HookRunner executes a tool_hooks.pre/post command for a node and reports
// whether the pipeline should proceed (pre-hooks only; post-hooks are
// advisory and their return value is ignored).
type HookRunner func(ctx context.Context, n *graph.Node, phase string, rc *flowctx.Context) (proceed bool, note string, err error)

// Options configures one Runner instance.
type Options struct {
	Graph    *graph.Graph
	Registry *handler.Registry
	Emitter  *emit.Emitter

	PipelineID string // generated via ULID if empty
	LogsRoot   string

	PreHook  HookRunner
	PostHook HookRunner

	// RNG drives retry backoff jitter; nil means no jitter (deterministic).
	RNG *rand.Rand

	// Sleep is overridable for tests; nil uses time.Sleep.
	Sleep func(time.Duration)

	// Metrics records stage/retry/pipeline metrics; nil disables recording.
	Metrics *metrics.Collector
}

// Runner drives a single pipeline instance.
type Runner struct {
	opts Options
	g    *graph.Graph
	reg  *handler.Registry
	em   *emit.Emitter

	pipelineID   string
	baseLogsRoot string
	logsRoot     string

	ctx *flowctx.Context

	completedNodes []string
	nodeOutcomes   map[string]flowctx.StageStatus
	nodeRetries    map[string]int

	restartCount        int
	degradeNextFidelity bool
	incomingEdge        *graph.Edge
}

// New constructs a Runner over a fresh pipeline run.
func New(opts Options) (*Runner, error) {
	if opts.Graph == nil {
		return nil, fmt.Errorf("runner: Graph is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("runner: Registry is required")
	}
	if opts.Emitter == nil {
		opts.Emitter = emit.New()
	}
	pid := opts.PipelineID
	if pid == "" {
		id, err := newULID()
		if err != nil {
			return nil, err
		}
		pid = id
	}
	logsRoot := opts.LogsRoot
	if logsRoot == "" {
		logsRoot = filepath.Join(os.TempDir(), "meshrun-runs", pid)
	}

	r := &Runner{
		opts:         opts,
		g:            opts.Graph,
		reg:          opts.Registry,
		em:           opts.Emitter,
		pipelineID:   pid,
		baseLogsRoot: logsRoot,
		logsRoot:     logsRoot,
		ctx:          flowctx.New(),
		nodeOutcomes: map[string]flowctx.StageStatus{},
		nodeRetries:  map[string]int{},
	}
	mirrorGraphAttrs(r.ctx, r.g)
	return r, nil
}

func newULID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(timeNow()), ulid.DefaultEntropy())
	if err != nil {
		return "", fmt.Errorf("runner: generating pipeline id: %w", err)
	}
	return id.String(), nil
}

// timeNow is indirected only so it reads naturally at the one call site that
// needs wall-clock time for ULID generation.
func timeNow() time.Time { return time.Now() }

func mirrorGraphAttrs(c *flowctx.Context, g *graph.Graph) {
	for k, v := range g.Attrs {
		c.Set("graph."+k, v.String())
	}
}

// PipelineID returns this runner's pipeline id, generated at construction
// time if Options.PipelineID was empty.
func (r *Runner) PipelineID() string { return r.pipelineID }

// Events returns a lazy iterator over this pipeline's lifecycle events.
func (r *Runner) Events() *emit.Stream { return r.em.Events() }

// Result is what Run returns once the pipeline reaches a terminal state.
type Result struct {
	PipelineID     string
	Outcome        flowctx.Outcome
	CompletedNodes []string
	Context        map[string]string
	Failed         bool
	FailureReason  string
}

// Run executes the pipeline from the graph's start node to completion,
// failure, or cancellation.
func (r *Runner) Run(ctx context.Context, ex *handler.Execution) (Result, error) {
	start := findStartNode(r.g)
	if start == nil {
		return Result{}, fmt.Errorf("runner: graph has no start node")
	}
	return r.runLoop(ctx, ex, start.ID, flowctx.Success(""))
}

// Resume reconstructs runner state from a checkpoint and continues
// execution from the edge computed off the checkpoint's recorded outcome.
func (r *Runner) Resume(ctx context.Context, ex *handler.Execution, cp *flowctx.Checkpoint) (Result, error) {
	r.ctx = flowctx.FromSnapshot(cp.ContextValues, cp.Logs)
	r.completedNodes = append([]string{}, cp.CompletedNodes...)
	r.nodeRetries = cp.NodeRetries
	r.nodeOutcomes = cp.NodeOutcomes
	r.degradeNextFidelity = true

	lastOutcome := reconstructOutcome(r.ctx)
	edge, err := SelectEdge(r.g, cp.CurrentNode, lastOutcome, r.ctx)
	if err != nil {
		return Result{}, fmt.Errorf("runner: resolving resume edge: %w", err)
	}
	next := cp.CurrentNode
	if edge != nil {
		r.incomingEdge = edge
		next = edge.To
	}
	return r.runLoop(ctx, ex, next, lastOutcome)
}

func reconstructOutcome(c *flowctx.Context) flowctx.Outcome {
	status, _ := flowctx.ParseStageStatus(c.GetString("outcome", string(flowctx.StatusSuccess)))
	return flowctx.Outcome{Status: status, PreferredLabel: c.GetString("preferred_label", "")}
}

func findStartNode(g *graph.Graph) *graph.Node {
	for _, n := range g.OrderedNodes() {
		if n.IsStart() {
			return n
		}
	}
	return nil
}

func (r *Runner) emit(kind emit.Kind, data map[string]interface{}) {
	r.em.Emit(emit.Event{Kind: kind, Timestamp: time.Now().UnixNano(), PipelineID: r.pipelineID, Data: data})
}

func (r *Runner) runLoop(ctx context.Context, ex *handler.Execution, current string, lastOutcome flowctx.Outcome) (Result, error) {
	r.emit(emit.PipelineStarted, map[string]interface{}{"startNode": current})

	for {
		if err := ctx.Err(); err != nil {
			r.emit(emit.PipelineFailed, map[string]interface{}{"reason": "cancelled"})
			r.writeCheckpoint(current)
			return Result{PipelineID: r.pipelineID, Failed: true, FailureReason: "cancelled", CompletedNodes: r.completedNodes, Context: r.ctx.Snapshot()}, nil
		}

		node, ok := r.g.Nodes[current]
		if !ok {
			return Result{}, fmt.Errorf("runner: unknown node %q", current)
		}

		// Step 1: terminal check.
		if node.IsExit() {
			ok, failedGate := r.checkGoalGates()
			if ok {
				return r.finish(lastOutcome, false, "")
			}
			target := resolveRetryTarget(r.g, failedGate)
			if target == "" {
				return r.finish(flowctx.Fail("goal gate unsatisfied"), true, "goal gate unsatisfied")
			}
			r.incomingEdge = nil
			current = target
			continue
		}

		// Step 2: fidelity degrade.
		if r.degradeNextFidelity {
			r.ctx.Set("_fidelity.mode", "SUMMARY_HIGH")
			r.degradeNextFidelity = false
		} else {
			fid := ResolveFidelity(r.g, node, r.incomingEdge)
			r.ctx.Set("_fidelity.mode", fid.Mode)
			r.ctx.Set("_fidelity.threadId", fid.ThreadID)
		}

		// Step 3: pre-hook.
		var skipOutcome *flowctx.Outcome
		if r.opts.PreHook != nil && hasHook(node, r.g, "pre") {
			proceed, note, err := r.opts.PreHook(ctx, node, "pre", r.ctx)
			if err != nil {
				proceed, note = true, err.Error()
			}
			if !proceed {
				o := flowctx.Outcome{Status: flowctx.StatusSkipped, Notes: note}
				skipOutcome = &o
			}
		}

		r.emit(emit.StageStarted, map[string]interface{}{"nodeId": node.ID})

		var out flowctx.Outcome
		var attempts int
		if skipOutcome != nil {
			out = *skipOutcome
			attempts = 0
		} else {
			h, err := r.reg.ResolveOrError(node)
			if err != nil {
				r.emit(emit.StageFailed, map[string]interface{}{"nodeId": node.ID, "reason": err.Error()})
				return r.finish(flowctx.Fail(err.Error()), true, err.Error())
			}
			stageEx := *ex
			stageEx.Node = node
			stageEx.Graph = r.g
			stageEx.Context = r.ctx
			stageEx.LogsRoot = r.logsRoot
			stageEx.RunBranch = r.runBranch(ex)

			policy := retry.BuildPolicy(node, r.g)
			stageStart := time.Now()
			res := retry.Run(ctx, policy, r.opts.RNG, node, h, &stageEx, r.opts.Sleep)
			out = res.Outcome
			attempts = res.Attempts
			r.opts.Metrics.ObserveStage(node.ID, time.Since(stageStart), string(out.Status))
			if attempts > 1 {
				r.opts.Metrics.AddRetries(node.ID, attempts-1)
			}
			if out.Status == flowctx.StatusRetry {
				r.emit(emit.StageRetrying, map[string]interface{}{"nodeId": node.ID, "attempt": attempts})
			}
		}

		// Step 5: post-hook (advisory).
		if r.opts.PostHook != nil && hasHook(node, r.g, "post") {
			_, _, _ = r.opts.PostHook(ctx, node, "post", r.ctx)
		}

		// Step 6: record.
		lastOutcome = out
		r.completedNodes = append(r.completedNodes, node.ID)
		r.nodeOutcomes[node.ID] = out.Status
		r.nodeRetries[node.ID] = attempts
		r.ctx.ApplyUpdates(out.ContextUpdates)
		r.ctx.Set("outcome", string(out.Status))
		if out.PreferredLabel != "" {
			r.ctx.Set("preferred_label", out.PreferredLabel)
		}
		if out.Status == flowctx.StatusFail {
			r.emit(emit.StageFailed, map[string]interface{}{"nodeId": node.ID, "reason": out.FailureReason})
		} else {
			r.emit(emit.StageCompleted, map[string]interface{}{"nodeId": node.ID, "status": string(out.Status)})
		}

		// Step 7: checkpoint.
		r.writeCheckpoint(node.ID)
		r.emit(emit.CheckpointSaved, map[string]interface{}{"nodeId": node.ID})

		// Step 8: edge selection.
		edge, err := SelectEdge(r.g, node.ID, out, r.ctx)
		if err != nil {
			return Result{}, fmt.Errorf("runner: selecting edge from %q: %w", node.ID, err)
		}
		if edge == nil {
			if out.Status == flowctx.StatusFail {
				target := resolveRetryTarget(r.g, node.ID)
				if target != "" {
					r.incomingEdge = nil
					current = target
					continue
				}
				return r.finish(out, true, out.FailureReason)
			}
			return r.finish(out, false, "")
		}

		// Step 9: loop restart.
		if strings.EqualFold(edge.Attr("loop_restart", "false"), "true") {
			r.doLoopRestart(edge.To)
			current = edge.To
			r.incomingEdge = nil
			continue
		}

		// Step 10: advance.
		r.incomingEdge = edge
		current = edge.To
	}
}

func (r *Runner) finish(out flowctx.Outcome, failed bool, reason string) (Result, error) {
	r.writeCheckpoint("")
	if failed {
		r.emit(emit.PipelineFailed, map[string]interface{}{"reason": reason})
	} else {
		r.emit(emit.PipelineCompleted, map[string]interface{}{})
	}
	r.opts.Metrics.IncPipeline(string(out.Status))
	return Result{
		PipelineID:     r.pipelineID,
		Outcome:        out,
		CompletedNodes: r.completedNodes,
		Context:        r.ctx.Snapshot(),
		Failed:         failed,
		FailureReason:  reason,
	}, nil
}

func (r *Runner) writeCheckpoint(currentNode string) {
	cp := &flowctx.Checkpoint{
		Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
		CurrentNode:    currentNode,
		CompletedNodes: r.completedNodes,
		NodeRetries:    r.nodeRetries,
		NodeOutcomes:   r.nodeOutcomes,
		ContextValues:  r.ctx.Snapshot(),
		Logs:           r.ctx.Logs(),
	}
	_ = cp.WriteAtomic(filepath.Join(r.logsRoot, "checkpoint.json")) // best-effort, per spec
}

// doLoopRestart implements §4.12 step 9: reset context and bookkeeping,
// point logsRoot at a fresh restart-N directory, and emit PIPELINE_RESTARTED.
func (r *Runner) doLoopRestart(targetID string) {
	r.restartCount++
	r.ctx = flowctx.New()
	mirrorGraphAttrs(r.ctx, r.g)
	r.nodeOutcomes = map[string]flowctx.StageStatus{}
	r.nodeRetries = map[string]int{}
	r.logsRoot = filepath.Join(r.baseLogsRoot, fmt.Sprintf("restart-%d", r.restartCount))
	r.completedNodes = append(r.completedNodes, fmt.Sprintf("--- restart %d ---", r.restartCount))
	r.emit(emit.PipelineRestarted, map[string]interface{}{"restartCount": r.restartCount, "target": targetID})
}

// checkGoalGates implements §4.8: every completed goal-gate node must have
// recorded SUCCESS or PARTIAL_SUCCESS.
func (r *Runner) checkGoalGates() (ok bool, failedGate string) {
	for _, n := range r.g.OrderedNodes() {
		if !n.IsGoalGate() {
			continue
		}
		status, completed := r.nodeOutcomes[n.ID]
		if !completed {
			continue
		}
		if status != flowctx.StatusSuccess && status != flowctx.StatusPartialSuccess {
			return false, n.ID
		}
	}
	return true, ""
}

func resolveRetryTarget(g *graph.Graph, nodeID string) string {
	if nodeID == "" {
		return ""
	}
	if n, ok := g.Nodes[nodeID]; ok {
		if t := n.Attr("retry_target", ""); t != "" {
			return t
		}
	}
	return g.Attr("retry_target", "")
}

// runBranch builds the BranchRunner a parallel fan-out handler uses to
// drive one branch to a join/terminal point. Each branch gets its own
// sub-runner sharing the graph and registry but starting from a copy of the
// parent's context snapshot, so branches cannot see each other's writes
// mid-flight; only the branch's own outcome/contextUpdates are reported
// back for the fan-out handler to fold in.
func (r *Runner) runBranch(parentEx *handler.Execution) handler.BranchRunner {
	return func(ctx context.Context, startID string) (handler.BranchOutcome, error) {
		sub := &Runner{
			opts:         r.opts,
			g:            r.g,
			reg:          r.reg,
			em:           r.em,
			pipelineID:   r.pipelineID,
			baseLogsRoot: filepath.Join(r.logsRoot, "branch-"+startID),
			logsRoot:     filepath.Join(r.logsRoot, "branch-"+startID),
			ctx:          flowctx.FromSnapshot(r.ctx.Snapshot(), nil),
			nodeOutcomes: map[string]flowctx.StageStatus{},
			nodeRetries:  map[string]int{},
		}
		res, err := sub.runLoop(ctx, parentEx, startID, flowctx.Success(""))
		if err != nil {
			return handler.BranchOutcome{}, err
		}
		last := startID
		if len(res.CompletedNodes) > 0 {
			last = res.CompletedNodes[len(res.CompletedNodes)-1]
		}
		return handler.BranchOutcome{
			NodeID:         startID,
			LastNodeID:     last,
			Outcome:        res.Outcome,
			CompletedNodes: res.CompletedNodes,
		}, nil
	}
}

func hasHook(n *graph.Node, g *graph.Graph, phase string) bool {
	key := "tool_hooks." + phase
	if n.Attr(key, "") != "" {
		return true
	}
	return g.Attr(key, "") != ""
}
