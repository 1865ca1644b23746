// Package validate implements the graph validator: structural and semantic
// rules that run after transforms and before the pipeline runner accepts a
// graph.
package validate

import (
	"fmt"
	"sort"

	"github.com/meshrun/meshrun/internal/cond"
	"github.com/meshrun/meshrun/internal/graph"
	"github.com/meshrun/meshrun/internal/handler"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Diagnostic is one validator finding.
type Diagnostic struct {
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	NodeID   string   `json:"nodeId,omitempty"`
	Message  string   `json:"message"`
}

// LintRule is one independently-runnable validation check.
type LintRule interface {
	Name() string
	Check(g *graph.Graph, reg *handler.Registry) []Diagnostic
}

// ValidationError carries every diagnostic produced by a failed validation
// pass — at least one of which has SeverityError.
type ValidationError struct {
	Diagnostics []Diagnostic
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("graph validation failed with %d diagnostic(s)", len(e.Diagnostics))
}

// baselineRules is the fixed rule set specified for this engine.
func baselineRules() []LintRule {
	return []LintRule{
		startNodeRule{},
		terminalNodeRule{},
		reachabilityRule{},
		deadEndRule{},
		attributeTypeRule{},
		shapeHandlerRule{},
	}
}

// Validate runs every baseline rule (plus any extra rules supplied by the
// caller) and returns all diagnostics, sorted by node id then rule name for
// deterministic output.
func Validate(g *graph.Graph, reg *handler.Registry, extra ...LintRule) []Diagnostic {
	var out []Diagnostic
	for _, r := range baselineRules() {
		out = append(out, r.Check(g, reg)...)
	}
	for _, r := range extra {
		out = append(out, r.Check(g, reg)...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].NodeID != out[j].NodeID {
			return out[i].NodeID < out[j].NodeID
		}
		return out[i].Rule < out[j].Rule
	})
	return out
}

// ValidateOrRaise runs Validate and returns a *ValidationError if any
// diagnostic has SeverityError; otherwise it returns the (possibly empty)
// warning/info diagnostics for the caller to log.
func ValidateOrRaise(g *graph.Graph, reg *handler.Registry, extra ...LintRule) ([]Diagnostic, error) {
	diags := Validate(g, reg, extra...)
	var errs []Diagnostic
	var rest []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityError {
			errs = append(errs, d)
		} else {
			rest = append(rest, d)
		}
	}
	if len(errs) > 0 {
		return nil, &ValidationError{Diagnostics: diags}
	}
	return rest, nil
}

// --- baseline rules ---

type startNodeRule struct{}

func (startNodeRule) Name() string { return "start_node" }

func (startNodeRule) Check(g *graph.Graph, _ *handler.Registry) []Diagnostic {
	var starts []*graph.Node
	for _, n := range g.OrderedNodes() {
		if n.IsStart() {
			starts = append(starts, n)
		}
	}
	switch len(starts) {
	case 0:
		return []Diagnostic{{Rule: "start_node", Severity: SeverityError, Message: "graph has no start node (expected shape=Mdiamond or id start/Start)"}}
	case 1:
		return nil
	default:
		var diags []Diagnostic
		for _, n := range starts {
			diags = append(diags, Diagnostic{Rule: "start_node", Severity: SeverityError, NodeID: n.ID, Message: "more than one start node found"})
		}
		return diags
	}
}

type terminalNodeRule struct{}

func (terminalNodeRule) Name() string { return "terminal_node" }

func (terminalNodeRule) Check(g *graph.Graph, _ *handler.Registry) []Diagnostic {
	start := findStart(g)
	if start == nil {
		return nil // start_node rule already reports this
	}
	reachable := reachableFrom(g, start.ID)
	for id := range reachable {
		if n, ok := g.Nodes[id]; ok && n.IsExit() {
			return nil
		}
	}
	return []Diagnostic{{Rule: "terminal_node", Severity: SeverityError, Message: "no exit node (shape=Msquare or type=exit) is reachable from start"}}
}

type reachabilityRule struct{}

func (reachabilityRule) Name() string { return "reachability" }

func (reachabilityRule) Check(g *graph.Graph, _ *handler.Registry) []Diagnostic {
	start := findStart(g)
	if start == nil {
		return nil
	}
	reachable := reachableFrom(g, start.ID)
	var diags []Diagnostic
	for _, n := range g.OrderedNodes() {
		if !reachable[n.ID] {
			diags = append(diags, Diagnostic{Rule: "reachability", Severity: SeverityError, NodeID: n.ID, Message: "node is not reachable from the start node"})
		}
	}
	return diags
}

type deadEndRule struct{}

func (deadEndRule) Name() string { return "dead_end" }

func (deadEndRule) Check(g *graph.Graph, _ *handler.Registry) []Diagnostic {
	var diags []Diagnostic
	for _, n := range g.OrderedNodes() {
		if n.IsExit() {
			continue
		}
		if len(g.Outgoing(n.ID)) == 0 {
			diags = append(diags, Diagnostic{Rule: "dead_end", Severity: SeverityError, NodeID: n.ID, Message: "non-exit node has no outgoing edges"})
		}
	}
	return diags
}

type attributeTypeRule struct{}

func (attributeTypeRule) Name() string { return "attribute_type" }

// recognizedTypes names the expected Kind for attribute keys the engine
// itself interprets, across both nodes and edges.
var recognizedTypes = map[string]graph.Kind{
	"goal_gate":     graph.KindBool,
	"max_retries":   graph.KindInt,
	"allow_partial": graph.KindBool,
	"timeout":       graph.KindDuration,
	"weight":        graph.KindInt,
	"loop_restart":  graph.KindBool,
}

func (attributeTypeRule) Check(g *graph.Graph, _ *handler.Registry) []Diagnostic {
	var diags []Diagnostic
	checkBag := func(nodeID string, bag graph.AttrBag) {
		for key, expected := range recognizedTypes {
			v, ok := bag.Get(key)
			if !ok {
				continue
			}
			if v.Kind != expected {
				diags = append(diags, Diagnostic{
					Rule: "attribute_type", Severity: SeverityError, NodeID: nodeID,
					Message: fmt.Sprintf("attribute %q expected type %s, got %s", key, expected, v.Kind),
				})
			}
		}
	}
	for _, n := range g.OrderedNodes() {
		checkBag(n.ID, n.Attrs)
	}
	for _, e := range g.Edges {
		checkBag(fmt.Sprintf("%s->%s", e.From, e.To), e.Attrs)
		if c := e.Condition(); c != "" {
			if err := cond.Validate(c); err != nil {
				diags = append(diags, Diagnostic{
					Rule: "attribute_type", Severity: SeverityError, NodeID: fmt.Sprintf("%s->%s", e.From, e.To),
					Message: fmt.Sprintf("malformed condition: %v", err),
				})
			}
		}
	}
	return diags
}

type shapeHandlerRule struct{}

func (shapeHandlerRule) Name() string { return "shape_handler" }

func (shapeHandlerRule) Check(g *graph.Graph, reg *handler.Registry) []Diagnostic {
	if reg == nil {
		return nil
	}
	var diags []Diagnostic
	for _, n := range g.OrderedNodes() {
		if _, ok := reg.Resolve(n); !ok {
			diags = append(diags, Diagnostic{
				Rule: "shape_handler", Severity: SeverityWarning, NodeID: n.ID,
				Message: "no handler resolves for this node's type/shape at parse time",
			})
		}
	}
	return diags
}

// --- shared helpers ---

func findStart(g *graph.Graph) *graph.Node {
	for _, n := range g.OrderedNodes() {
		if n.IsStart() {
			return n
		}
	}
	return nil
}

func reachableFrom(g *graph.Graph, startID string) map[string]bool {
	seen := map[string]bool{startID: true}
	queue := []string{startID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.Outgoing(cur) {
			if !seen[e.To] {
				seen[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}
	return seen
}
