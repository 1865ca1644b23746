// Package handler defines the stage-executor contract, the handler
// registry, and the shape-to-type default table.
package handler

import (
	"context"
	"fmt"

	"github.com/meshrun/meshrun/internal/flowctx"
	"github.com/meshrun/meshrun/internal/graph"
	"github.com/meshrun/meshrun/internal/interview"
)

// BranchOutcome is one branch's result, as reported back to a parallel
// fan-out handler by the runner's branch-execution callback.
type BranchOutcome struct {
	NodeID         string
	LastNodeID     string
	Outcome        flowctx.Outcome
	CompletedNodes []string
}

// BranchRunner executes a sub-pipeline starting at startID (inclusive) to
// completion or terminal failure, reporting the result without mutating the
// caller's own Context. The runner supplies this; ParallelHandler is the
// only built-in consumer.
type BranchRunner func(ctx context.Context, startID string) (BranchOutcome, error)

// Execution is everything a Handler needs to execute one stage. Fields
// beyond Node/Graph/Context/LogsRoot are optional collaborators wired in by
// the runner for specific handler types (human gates, parallel fan-out,
// codergen delegation) without handler needing to import runner or a
// concrete LLM client.
type Execution struct {
	Node     *graph.Node
	Graph    *graph.Graph
	Context  *flowctx.Context
	LogsRoot string

	Interviewer interview.Interviewer
	RunBranch   BranchRunner

	// InvokeStage performs the out-of-scope external work a "box"/codergen
	// node represents (an LLM call, a code-generation backend). When nil,
	// CodergenHandler returns a deterministic stub outcome instead, which is
	// sufficient for exercising the engine's control flow in tests without a
	// real backend. ToolHandler does not consult it; it always runs the
	// node's tool_command itself.
	InvokeStage func(ctx context.Context, n *graph.Node, c *flowctx.Context) (flowctx.Outcome, error)
}

// Handler is a polymorphic stage executor.
type Handler interface {
	Execute(ctx context.Context, ex *Execution) (flowctx.Outcome, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ex *Execution) (flowctx.Outcome, error)

func (f HandlerFunc) Execute(ctx context.Context, ex *Execution) (flowctx.Outcome, error) {
	return f(ctx, ex)
}

// SingleExecutionHandler marks handler types the retry subsystem should
// never retry (pure routing nodes burn no useful work on a retry).
type SingleExecutionHandler interface {
	SkipRetry() bool
}

// shapeToType is the default type derived from a node's shape when no
// explicit "type" attribute is set.
var shapeToType = map[string]string{
	"Mdiamond":     "start",
	"Msquare":      "exit",
	"box":          "codergen",
	"hexagon":      "wait.human",
	"diamond":      "conditional",
	"component":    "parallel",
	"tripleoctagon": "parallel.fan_in",
	"parallelogram": "tool",
	"house":        "stack.manager_loop",
}

// ShapeToType returns the default handler type for a shape, and whether one
// is defined.
func ShapeToType(shape string) (string, bool) {
	t, ok := shapeToType[shape]
	return t, ok
}

// Registry maps handler type names to implementations.
type Registry struct {
	handlers map[string]Handler
	defaultH Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

func (r *Registry) Register(typeName string, h Handler) {
	r.handlers[typeName] = h
}

func (r *Registry) SetDefault(h Handler) {
	r.defaultH = h
}

// Resolve implements the §4.4 resolution order: explicit type attribute,
// then shape-derived type, then the registry-wide default.
func (r *Registry) Resolve(n *graph.Node) (Handler, bool) {
	if t := n.TypeOverride(); t != "" {
		if h, ok := r.handlers[t]; ok {
			return h, true
		}
	}
	if t, ok := ShapeToType(n.Shape()); ok {
		if h, ok := r.handlers[t]; ok {
			return h, true
		}
	}
	if r.defaultH != nil {
		return r.defaultH, true
	}
	return nil, false
}

// ResolveOrError is Resolve, but returns a descriptive error instead of a
// boolean, for the runner's fatal "no handler found" path.
func (r *Registry) ResolveOrError(n *graph.Node) (Handler, error) {
	h, ok := r.Resolve(n)
	if !ok {
		return nil, fmt.Errorf("no handler found for node %q (type=%q shape=%q)", n.ID, n.TypeOverride(), n.Shape())
	}
	return h, nil
}
