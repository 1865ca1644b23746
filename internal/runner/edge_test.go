package runner

import (
	"testing"

	"github.com/meshrun/meshrun/internal/flowctx"
	"github.com/meshrun/meshrun/internal/graph"
)

func TestSelectEdgeNoOutgoingReturnsNil(t *testing.T) {
	g, err := graph.Parse(`digraph D { a [shape=box] }`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	edge, err := SelectEdge(g, "a", flowctx.Success(""), flowctx.New())
	if err != nil {
		t.Fatalf("SelectEdge: %v", err)
	}
	if edge != nil {
		t.Fatalf("edge=%+v, want nil for a node with no outgoing edges", edge)
	}
}

func TestSelectEdgeConditionGateFallsBackToUnconditioned(t *testing.T) {
	g, err := graph.Parse(`
digraph D {
  a -> b [condition="outcome=success"]
  a -> c
}
`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	edge, err := SelectEdge(g, "a", flowctx.Fail("boom"), flowctx.New())
	if err != nil {
		t.Fatalf("SelectEdge: %v", err)
	}
	if edge == nil || edge.To != "c" {
		t.Fatalf("edge=%+v, want the unconditioned edge to c (the conditioned edge didn't survive)", edge)
	}
}

func TestSelectEdgeConditionSurvivorWins(t *testing.T) {
	g, err := graph.Parse(`
digraph D {
  a -> b [condition="outcome=success"]
  a -> c
}
`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	edge, err := SelectEdge(g, "a", flowctx.Success(""), flowctx.New())
	if err != nil {
		t.Fatalf("SelectEdge: %v", err)
	}
	if edge == nil || edge.To != "b" {
		t.Fatalf("edge=%+v, want the surviving conditioned edge to b", edge)
	}
}

func TestSelectEdgePreferredLabelNarrowsSurvivors(t *testing.T) {
	g, err := graph.Parse(`
digraph D {
  a -> b [label="[A] Ship"]
  a -> c [label="[R] Revise"]
}
`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	out := flowctx.Outcome{Status: flowctx.StatusSuccess, PreferredLabel: "[R] Revise"}
	edge, err := SelectEdge(g, "a", out, flowctx.New())
	if err != nil {
		t.Fatalf("SelectEdge: %v", err)
	}
	if edge == nil || edge.To != "c" {
		t.Fatalf("edge=%+v, want the edge whose label matches the preferred label", edge)
	}
}

func TestSelectEdgePreferredLabelMatchesStrippedAcceleratorKey(t *testing.T) {
	g, err := graph.Parse(`
digraph D {
  a -> b [label="[A] Ship"]
  a -> c [label="[F] Fix"]
}
`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	out := flowctx.Outcome{Status: flowctx.StatusSuccess, PreferredLabel: "Ship"}
	edge, err := SelectEdge(g, "a", out, flowctx.New())
	if err != nil {
		t.Fatalf("SelectEdge: %v", err)
	}
	if edge == nil || edge.To != "b" {
		t.Fatalf("edge=%+v, want the stripped preferred label to match the \"[A] Ship\" edge", edge)
	}
}

func TestSelectEdgeWeightTiebreak(t *testing.T) {
	g, err := graph.Parse(`
digraph D {
  a -> b [weight=1]
  a -> c [weight=5]
}
`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	edge, err := SelectEdge(g, "a", flowctx.Success(""), flowctx.New())
	if err != nil {
		t.Fatalf("SelectEdge: %v", err)
	}
	if edge == nil || edge.To != "c" {
		t.Fatalf("edge=%+v, want the higher-weight edge to c", edge)
	}
}

func TestSelectEdgeLexicalTiebreakOnEqualWeight(t *testing.T) {
	g, err := graph.Parse(`
digraph D {
  a -> zeta
  a -> alpha
}
`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	edge, err := SelectEdge(g, "a", flowctx.Success(""), flowctx.New())
	if err != nil {
		t.Fatalf("SelectEdge: %v", err)
	}
	if edge == nil || edge.To != "alpha" {
		t.Fatalf("edge=%+v, want ascending lexical tiebreak to alpha", edge)
	}
}

func TestSelectEdgePropagatesConditionError(t *testing.T) {
	g, err := graph.Parse(`digraph D { a -> b [condition="outcome = "] }`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := SelectEdge(g, "a", flowctx.Success(""), flowctx.New()); err == nil {
		t.Fatal("expected an error from a malformed edge condition")
	}
}
