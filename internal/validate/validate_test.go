package validate

import (
	"testing"

	"github.com/meshrun/meshrun/internal/graph"
	"github.com/meshrun/meshrun/internal/handler"
)

func mustParse(t *testing.T, src string) *graph.Graph {
	t.Helper()
	g, err := graph.Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return g
}

func hasRule(diags []Diagnostic, rule string) bool {
	for _, d := range diags {
		if d.Rule == rule {
			return true
		}
	}
	return false
}

func TestValidateCleanGraphHasNoErrors(t *testing.T) {
	g := mustParse(t, `
digraph D {
  start [shape=Mdiamond]
  exit  [shape=Msquare]
  plan  [shape=box]
  start -> plan -> exit
}
`)
	if _, err := ValidateOrRaise(g, nil); err != nil {
		t.Fatalf("ValidateOrRaise: %v", err)
	}
}

func TestValidateMissingStartNode(t *testing.T) {
	g := mustParse(t, `digraph D { a [shape=box] }`)
	diags := Validate(g, nil)
	if !hasRule(diags, "start_node") {
		t.Fatalf("diags=%+v, want a start_node diagnostic", diags)
	}
}

func TestValidateDuplicateStartNodes(t *testing.T) {
	g := mustParse(t, `
digraph D {
  start [shape=Mdiamond]
  Start [shape=Mdiamond]
}
`)
	diags := Validate(g, nil)
	count := 0
	for _, d := range diags {
		if d.Rule == "start_node" {
			count++
		}
	}
	if count != 2 {
		t.Fatalf("expected one start_node diagnostic per duplicate start, got %d", count)
	}
}

func TestValidateNoReachableExit(t *testing.T) {
	g := mustParse(t, `
digraph D {
  start [shape=Mdiamond]
  plan  [shape=box]
  exit  [shape=Msquare]
  start -> plan
}
`)
	diags := Validate(g, nil)
	if !hasRule(diags, "terminal_node") {
		t.Fatalf("diags=%+v, want a terminal_node diagnostic", diags)
	}
	if !hasRule(diags, "dead_end") {
		t.Fatalf("diags=%+v, want a dead_end diagnostic (plan has no outgoing edge)", diags)
	}
}

func TestValidateUnreachableNode(t *testing.T) {
	g := mustParse(t, `
digraph D {
  start [shape=Mdiamond]
  exit  [shape=Msquare]
  orphan [shape=box]
  start -> exit
  orphan -> exit
}
`)
	diags := Validate(g, nil)
	found := false
	for _, d := range diags {
		if d.Rule == "reachability" && d.NodeID == "orphan" {
			found = true
		}
	}
	if !found {
		t.Fatalf("diags=%+v, want a reachability diagnostic for orphan", diags)
	}
}

func TestValidateAttributeTypeMismatch(t *testing.T) {
	g := mustParse(t, `
digraph D {
  start [shape=Mdiamond]
  exit  [shape=Msquare]
  a [shape=box, goal_gate="not a bool"]
  start -> a -> exit
}
`)
	diags := Validate(g, nil)
	if !hasRule(diags, "attribute_type") {
		t.Fatalf("diags=%+v, want an attribute_type diagnostic", diags)
	}
}

func TestValidateMalformedEdgeCondition(t *testing.T) {
	g := mustParse(t, `
digraph D {
  start [shape=Mdiamond]
  exit  [shape=Msquare]
  a [shape=box]
  start -> a
  a -> exit [condition="outcome = "]
}
`)
	diags := Validate(g, nil)
	found := false
	for _, d := range diags {
		if d.Rule == "attribute_type" && d.NodeID == "a->exit" {
			found = true
		}
	}
	if !found {
		t.Fatalf("diags=%+v, want an attribute_type diagnostic naming the malformed edge condition", diags)
	}
}

func TestValidateShapeHandlerWarningWhenRegistryPresent(t *testing.T) {
	g := mustParse(t, `
digraph D {
  start [shape=Mdiamond]
  exit  [shape=Msquare]
  a [shape=box]
  start -> a -> exit
}
`)
	reg := handler.NewRegistry()
	diags := Validate(g, reg)
	found := false
	for _, d := range diags {
		if d.Rule == "shape_handler" && d.Severity == SeverityWarning {
			found = true
		}
	}
	if !found {
		t.Fatalf("diags=%+v, want a shape_handler warning when no handlers are registered", diags)
	}
}

func TestValidateShapeHandlerSkippedWithNilRegistry(t *testing.T) {
	g := mustParse(t, `digraph D { start [shape=Mdiamond] exit [shape=Msquare] start -> exit }`)
	diags := Validate(g, nil)
	if hasRule(diags, "shape_handler") {
		t.Fatalf("diags=%+v, shape_handler should be skipped with a nil registry", diags)
	}
}

func TestValidateOrRaiseReturnsWarningsWithoutError(t *testing.T) {
	g := mustParse(t, `digraph D { start [shape=Mdiamond] exit [shape=Msquare] start -> exit }`)
	reg := handler.NewRegistry()
	diags, err := ValidateOrRaise(g, reg)
	if err != nil {
		t.Fatalf("ValidateOrRaise should not error on warnings alone: %v", err)
	}
	if !hasRule(diags, "shape_handler") {
		t.Fatalf("diags=%+v, want the shape_handler warning to be returned", diags)
	}
}

func TestValidateOrRaiseErrorsOnAnyErrorSeverity(t *testing.T) {
	g := mustParse(t, `digraph D { a [shape=box] }`)
	_, err := ValidateOrRaise(g, nil)
	if err == nil {
		t.Fatal("expected ValidateOrRaise to error when an error-severity diagnostic is present")
	}
	var verr *ValidationError
	if ve, ok := err.(*ValidationError); ok {
		verr = ve
	}
	if verr == nil || len(verr.Diagnostics) == 0 {
		t.Fatalf("err=%v, want a *ValidationError carrying diagnostics", err)
	}
}

func TestValidateDiagnosticsAreSortedByNodeThenRule(t *testing.T) {
	g := mustParse(t, `digraph D { b [shape=box] a [shape=box] }`)
	diags := Validate(g, nil)
	for i := 1; i < len(diags); i++ {
		prev, cur := diags[i-1], diags[i]
		if prev.NodeID > cur.NodeID {
			t.Fatalf("diagnostics not sorted by node id: %+v before %+v", prev, cur)
		}
		if prev.NodeID == cur.NodeID && prev.Rule > cur.Rule {
			t.Fatalf("diagnostics not sorted by rule within node id: %+v before %+v", prev, cur)
		}
	}
}
