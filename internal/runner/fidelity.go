package runner

import "github.com/meshrun/meshrun/internal/graph"

// Fidelity is the resolved {mode, threadId} pair a handler consults to
// decide how much prior context to show an external system.
type Fidelity struct {
	Mode     string
	ThreadID string
}

const defaultFidelityMode = "FULL"

// ResolveFidelity implements §4.7: node attrs, then the incoming edge used
// to reach the node, then graph defaults, then the built-in default.
func ResolveFidelity(g *graph.Graph, n *graph.Node, via *graph.Edge) Fidelity {
	mode := n.Attr("fidelity.mode", "")
	threadID := n.Attr("fidelity.thread_id", "")

	if mode == "" && via != nil {
		mode = via.Attr("fidelity.mode", "")
	}
	if threadID == "" && via != nil {
		threadID = via.Attr("fidelity.thread_id", "")
	}

	if mode == "" {
		mode = g.Attr("fidelity.mode", "")
	}
	if threadID == "" {
		threadID = g.Attr("fidelity.thread_id", "")
	}

	if mode == "" {
		mode = defaultFidelityMode
	}
	if threadID == "" {
		threadID = n.ID
	}
	return Fidelity{Mode: mode, ThreadID: threadID}
}
