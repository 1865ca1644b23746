package handler

import (
	"context"
	"testing"

	"github.com/meshrun/meshrun/internal/flowctx"
	"github.com/meshrun/meshrun/internal/graph"
)

func TestShapeToTypeKnownAndUnknown(t *testing.T) {
	if got, ok := ShapeToType("box"); !ok || got != "codergen" {
		t.Fatalf("ShapeToType(box)=%q,%v, want codergen,true", got, ok)
	}
	if _, ok := ShapeToType("nonexistent"); ok {
		t.Fatal("ShapeToType(nonexistent) should report ok=false")
	}
}

func TestRegistryResolveExplicitTypeWinsOverShape(t *testing.T) {
	r := NewRegistry()
	explicit := HandlerFunc(func(context.Context, *Execution) (flowctx.Outcome, error) { return flowctx.Success("explicit"), nil })
	shapeBased := HandlerFunc(func(context.Context, *Execution) (flowctx.Outcome, error) { return flowctx.Success("shape"), nil })
	r.Register("custom", explicit)
	r.Register("codergen", shapeBased)

	n := graph.NewNode("a")
	n.Attrs["type"] = graph.NewString("custom")
	n.Attrs["shape"] = graph.NewString("box")

	h, ok := r.Resolve(n)
	if !ok {
		t.Fatal("Resolve should find a handler")
	}
	out, _ := h.Execute(context.Background(), &Execution{Node: n})
	if out.Notes != "explicit" {
		t.Fatalf("Notes=%q, want explicit (explicit type attribute wins)", out.Notes)
	}
}

func TestRegistryResolveFallsBackToShape(t *testing.T) {
	r := NewRegistry()
	r.Register("codergen", HandlerFunc(func(context.Context, *Execution) (flowctx.Outcome, error) { return flowctx.Success("shape"), nil }))
	n := graph.NewNode("a")
	n.Attrs["shape"] = graph.NewString("box")

	h, ok := r.Resolve(n)
	if !ok {
		t.Fatal("Resolve should find a shape-derived handler")
	}
	out, _ := h.Execute(context.Background(), &Execution{Node: n})
	if out.Notes != "shape" {
		t.Fatalf("Notes=%q, want shape", out.Notes)
	}
}

func TestRegistryResolveFallsBackToDefault(t *testing.T) {
	r := NewRegistry()
	r.SetDefault(HandlerFunc(func(context.Context, *Execution) (flowctx.Outcome, error) { return flowctx.Success("default"), nil }))
	n := graph.NewNode("a")

	h, ok := r.Resolve(n)
	if !ok {
		t.Fatal("Resolve should fall back to the registry default")
	}
	out, _ := h.Execute(context.Background(), &Execution{Node: n})
	if out.Notes != "default" {
		t.Fatalf("Notes=%q, want default", out.Notes)
	}
}

func TestRegistryResolveNotFound(t *testing.T) {
	r := NewRegistry()
	n := graph.NewNode("a")
	if _, ok := r.Resolve(n); ok {
		t.Fatal("Resolve should fail with no registered handler, no shape match, and no default")
	}
	if _, err := r.ResolveOrError(n); err == nil {
		t.Fatal("ResolveOrError should return a descriptive error")
	}
}
