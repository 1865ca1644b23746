package graph

import (
	"strings"
	"testing"
)

func TestParseMinimalGraph(t *testing.T) {
	src := `
digraph Pipeline {
  graph [goal="Build feature", default_max_retry=2]
  start     [shape=Mdiamond]
  exit      [shape=Msquare]
  plan      [shape=box, prompt="Plan: $goal"]
  implement [shape=box, goal_gate=true]
  review    [shape=hexagon, label="Approve changes"]
  start -> plan -> implement -> review
  review -> exit      [label="[A] Ship", weight=2]
  review -> implement [label="[R] Revise", condition="outcome=fail"]
}
`
	g, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if g.Name != "Pipeline" {
		t.Fatalf("Name=%q, want Pipeline", g.Name)
	}
	if got := g.Attr("goal", ""); got != "Build feature" {
		t.Fatalf("graph goal=%q, want %q", got, "Build feature")
	}
	if got := g.AttrInt("default_max_retry", -1); got != 2 {
		t.Fatalf("default_max_retry=%d, want 2", got)
	}

	start, ok := g.Nodes["start"]
	if !ok {
		t.Fatal("start node missing")
	}
	if !start.IsStart() {
		t.Fatal("start node should report IsStart()")
	}
	exit, ok := g.Nodes["exit"]
	if !ok {
		t.Fatal("exit node missing")
	}
	if !exit.IsExit() {
		t.Fatal("exit node should report IsExit()")
	}
	implement, ok := g.Nodes["implement"]
	if !ok {
		t.Fatal("implement node missing")
	}
	if !implement.IsGoalGate() {
		t.Fatal("implement node should report IsGoalGate()")
	}

	if len(g.Edges) != 5 {
		t.Fatalf("len(Edges)=%d, want 5", len(g.Edges))
	}

	shipEdges := g.Outgoing("review")
	if len(shipEdges) != 2 {
		t.Fatalf("Outgoing(review)=%d edges, want 2", len(shipEdges))
	}
	var ship *Edge
	for _, e := range shipEdges {
		if e.To == "exit" {
			ship = e
		}
	}
	if ship == nil {
		t.Fatal("expected an edge from review to exit")
	}
	if ship.Label() != "[A] Ship" {
		t.Fatalf("ship.Label()=%q, want %q", ship.Label(), "[A] Ship")
	}
	if ship.Weight() != 2 {
		t.Fatalf("ship.Weight()=%d, want 2", ship.Weight())
	}

	incoming := g.Incoming("exit")
	if len(incoming) != 1 || incoming[0].From != "review" {
		t.Fatalf("Incoming(exit)=%v, want single edge from review", incoming)
	}
}

func TestParseNodeAndEdgeDefaults(t *testing.T) {
	src := `
digraph D {
  node [shape=box]
  edge [weight=5]
  a -> b
  c [shape=hexagon]
}
`
	g, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := g.Nodes["a"].Shape(); got != "box" {
		t.Fatalf("a.Shape()=%q, want box (from node defaults)", got)
	}
	if got := g.Nodes["c"].Shape(); got != "hexagon" {
		t.Fatalf("c.Shape()=%q, want hexagon (explicit override)", got)
	}
	if g.Edges[0].Weight() != 5 {
		t.Fatalf("edge weight=%d, want 5 (from edge defaults)", g.Edges[0].Weight())
	}
}

func TestParseImplicitNodeCreation(t *testing.T) {
	g, err := Parse(`digraph D { node [shape=box] start -> unseen }`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	n, ok := g.Nodes["unseen"]
	if !ok {
		t.Fatal("edge statement should implicitly create the referenced node")
	}
	if n.Shape() != "box" {
		t.Fatalf("implicitly created node should inherit scope node defaults, got shape=%q", n.Shape())
	}
}

func TestParseSubgraphDerivesClass(t *testing.T) {
	src := `
digraph D {
  subgraph {
    label = "Review Stage"
    a [shape=box]
    b [shape=box]
  }
  c [shape=box]
}
`
	g, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	for _, id := range []string{"a", "b"} {
		classes := g.Nodes[id].ClassList()
		if len(classes) != 1 || classes[0] != "review-stage" {
			t.Fatalf("%s classes=%v, want [review-stage]", id, classes)
		}
	}
	if classes := g.Nodes["c"].ClassList(); len(classes) != 0 {
		t.Fatalf("c classes=%v, want none (outside the subgraph)", classes)
	}
	if len(g.Subgraphs) != 1 || g.Subgraphs[0].Label != "review-stage" {
		t.Fatalf("Subgraphs=%+v, want one entry labeled review-stage", g.Subgraphs)
	}
}

func TestParseValueTyping(t *testing.T) {
	g, err := Parse(`digraph D { a [count=3, ratio=1.5, enabled=true, timeout="900s", name=plain] }`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	a := g.Nodes["a"]
	if a.AttrInt("count", -1) != 3 {
		t.Fatalf("count=%d, want 3", a.AttrInt("count", -1))
	}
	if !a.AttrBool("enabled", false) {
		t.Fatal("enabled should be true")
	}
	v, ok := a.Attrs.Get("ratio")
	if !ok || v.Kind != KindFloat {
		t.Fatalf("ratio Value=%+v, want KindFloat", v)
	}
	tv, ok := a.Attrs.Get("timeout")
	if !ok || tv.Kind != KindDuration || tv.DurationMS != 900_000 {
		t.Fatalf("timeout Value=%+v, want a 900000ms duration", tv)
	}
	if got := a.Attr("name", ""); got != "plain" {
		t.Fatalf("name=%q, want plain", got)
	}
}

func TestParseRejectsStrict(t *testing.T) {
	_, err := Parse(`strict digraph D { a -> b }`)
	var unsupported *UnsupportedError
	if err == nil {
		t.Fatal("expected an UnsupportedError for 'strict'")
	}
	if !asUnsupported(err, &unsupported) {
		t.Fatalf("err=%v, want *UnsupportedError", err)
	}
}

func TestParseRejectsUndirectedGraph(t *testing.T) {
	_, err := Parse(`graph D { a -- b }`)
	var unsupported *UnsupportedError
	if err == nil || !asUnsupported(err, &unsupported) {
		t.Fatalf("expected an UnsupportedError for undirected 'graph', got %v", err)
	}
}

func TestParseRejectsUndirectedEdgeOperator(t *testing.T) {
	_, err := Parse(`digraph D { a -- b }`)
	var unsupported *UnsupportedError
	if err == nil || !asUnsupported(err, &unsupported) {
		t.Fatalf("expected an UnsupportedError for '--', got %v", err)
	}
	if !strings.Contains(err.Error(), "--") {
		t.Fatalf("error should name the offending token, got %q", err.Error())
	}
}

func TestParseErrorCarriesLineAndColumn(t *testing.T) {
	_, err := Parse("digraph D {\n  a ->\n}")
	var parseErr *ParseError
	if err == nil || !asParseError(err, &parseErr) {
		t.Fatalf("expected a *ParseError, got %v", err)
	}
	if parseErr.Line != 3 {
		t.Fatalf("Line=%d, want 3 (the closing brace arrived where a node id was expected)", parseErr.Line)
	}
}

func TestOrderedNodesIsInsertionOrder(t *testing.T) {
	g, err := Parse(`digraph D { c -> a -> b }`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ordered := g.OrderedNodes()
	var ids []string
	for _, n := range ordered {
		ids = append(ids, n.ID)
	}
	want := []string{"c", "a", "b"}
	if len(ids) != len(want) {
		t.Fatalf("OrderedNodes ids=%v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("OrderedNodes ids=%v, want %v", ids, want)
		}
	}
}

func TestAddClassDeduplicates(t *testing.T) {
	n := NewNode("x")
	n.AddClass("alpha")
	n.AddClass("beta")
	n.AddClass("alpha")
	got := n.ClassList()
	if len(got) != 2 || got[0] != "alpha" || got[1] != "beta" {
		t.Fatalf("ClassList()=%v, want [alpha beta]", got)
	}
}

func asUnsupported(err error, target **UnsupportedError) bool {
	if u, ok := err.(*UnsupportedError); ok {
		*target = u
		return true
	}
	return false
}

func asParseError(err error, target **ParseError) bool {
	if p, ok := err.(*ParseError); ok {
		*target = p
		return true
	}
	return false
}
