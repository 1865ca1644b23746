package graph

import "strings"

// AttrBag is an attribute bag: string key (possibly dotted) to typed value.
type AttrBag map[string]Value

func (b AttrBag) Get(key string) (Value, bool) {
	v, ok := b[key]
	return v, ok
}

// Attr returns the string form of key, or def if absent.
func (b AttrBag) Attr(key, def string) string {
	if v, ok := b[key]; ok {
		return v.String()
	}
	return def
}

func (b AttrBag) AttrBool(key string, def bool) bool {
	if v, ok := b[key]; ok {
		if bv, ok := v.AsBool(); ok {
			return bv
		}
		switch strings.ToLower(v.Text) {
		case "true":
			return true
		case "false":
			return false
		}
	}
	return def
}

func (b AttrBag) AttrInt(key string, def int) int {
	if v, ok := b[key]; ok {
		if iv, ok := v.AsInt(); ok {
			return int(iv)
		}
	}
	return def
}

// Clone returns a shallow copy of the bag (Value is itself immutable/copy-safe).
func (b AttrBag) Clone() AttrBag {
	out := make(AttrBag, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Node is a single stage in the graph: an id and its attribute bag.
type Node struct {
	ID    string
	Attrs AttrBag
	Order int // source/insertion order
}

func NewNode(id string) *Node {
	return &Node{ID: id, Attrs: AttrBag{}}
}

func (n *Node) Attr(key, def string) string     { return n.Attrs.Attr(key, def) }
func (n *Node) AttrBool(key string, def bool) bool { return n.Attrs.AttrBool(key, def) }
func (n *Node) AttrInt(key string, def int) int { return n.Attrs.AttrInt(key, def) }

// Shape returns the node's shape attribute, used for default handler
// resolution and stylesheet shape selectors.
func (n *Node) Shape() string { return n.Attr("shape", "") }

// TypeOverride returns the node's explicit handler-type attribute, if set.
func (n *Node) TypeOverride() string { return n.Attr("type", "") }

// ClassList returns the node's comma-joined "class" attribute split into its
// component classes, in order, de-duplicated.
func (n *Node) ClassList() []string {
	raw := n.Attr("class", "")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	seen := map[string]bool{}
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// AddClass appends a class to the node's "class" attribute, de-duplicated.
func (n *Node) AddClass(class string) {
	existing := n.ClassList()
	for _, c := range existing {
		if c == class {
			return
		}
	}
	existing = append(existing, class)
	n.Attrs["class"] = NewString(strings.Join(existing, ","))
}

// Edge is a directed connection between two node ids plus its attribute bag.
type Edge struct {
	From  string
	To    string
	Attrs AttrBag
	Order int
}

func NewEdge(from, to string) *Edge {
	return &Edge{From: from, To: to, Attrs: AttrBag{}}
}

func (e *Edge) Attr(key, def string) string { return e.Attrs.Attr(key, def) }
func (e *Edge) Condition() string           { return e.Attr("condition", "") }
func (e *Edge) Label() string               { return e.Attr("label", "") }
func (e *Edge) Weight() int                 { return e.Attrs.AttrInt("weight", 1) }

// Subgraph records a parsed subgraph's identity, derived label, member node
// ids, and parent subgraph (for nested subgraphs).
type Subgraph struct {
	ID       string
	Label    string
	NodeIDs  []string
	ParentID string
}

// Graph is the attributed directed graph produced by the parser and
// consumed by transforms, the validator, and the pipeline runner.
type Graph struct {
	Name      string
	Attrs     AttrBag
	Nodes     map[string]*Node
	Edges     []*Edge
	Subgraphs []*Subgraph

	nextOrder int
}

func NewGraph(name string) *Graph {
	return &Graph{
		Name:  name,
		Attrs: AttrBag{},
		Nodes: map[string]*Node{},
	}
}

func (g *Graph) Attr(key, def string) string     { return g.Attrs.Attr(key, def) }
func (g *Graph) AttrBool(key string, def bool) bool { return g.Attrs.AttrBool(key, def) }
func (g *Graph) AttrInt(key string, def int) int { return g.Attrs.AttrInt(key, def) }

// AddNode registers a node, assigning it the next insertion order if unset.
// Re-adding an existing id is a no-op (the original node is returned by Node
// lookup, not replaced).
func (g *Graph) AddNode(n *Node) *Node {
	if existing, ok := g.Nodes[n.ID]; ok {
		return existing
	}
	n.Order = g.nextOrder
	g.nextOrder++
	g.Nodes[n.ID] = n
	return n
}

// GetOrCreateNode returns the existing node by id, or creates one seeded
// with defaults.
func (g *Graph) GetOrCreateNode(id string, defaults AttrBag) *Node {
	if n, ok := g.Nodes[id]; ok {
		return n
	}
	n := NewNode(id)
	for k, v := range defaults {
		n.Attrs[k] = v
	}
	return g.AddNode(n)
}

func (g *Graph) AddEdge(e *Edge) {
	e.Order = len(g.Edges)
	g.Edges = append(g.Edges, e)
}

// Outgoing returns edges leaving nodeID, in insertion order.
func (g *Graph) Outgoing(nodeID string) []*Edge {
	var out []*Edge
	for _, e := range g.Edges {
		if e.From == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// Incoming returns edges arriving at nodeID, in insertion order.
func (g *Graph) Incoming(nodeID string) []*Edge {
	var out []*Edge
	for _, e := range g.Edges {
		if e.To == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// OrderedNodes returns nodes sorted by insertion order, for deterministic
// traversal (reachability, validation reporting).
func (g *Graph) OrderedNodes() []*Node {
	out := make([]*Node, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		out = append(out, n)
	}
	sortNodesByOrder(out)
	return out
}

func sortNodesByOrder(nodes []*Node) {
	for i := 1; i < len(nodes); i++ {
		j := i
		for j > 0 && nodes[j-1].Order > nodes[j].Order {
			nodes[j-1], nodes[j] = nodes[j], nodes[j-1]
			j--
		}
	}
}

// IsStart reports whether a node is the graph's start node: shape Mdiamond,
// or id "start"/"Start".
func (n *Node) IsStart() bool {
	if n.Shape() == "Mdiamond" {
		return true
	}
	return n.ID == "start" || n.ID == "Start"
}

// IsExit reports whether a node is a legal terminal node: shape Msquare, or
// explicit type "exit".
func (n *Node) IsExit() bool {
	return n.Shape() == "Msquare" || n.TypeOverride() == "exit"
}

// IsGoalGate reports whether a node is marked goal_gate=true.
func (n *Node) IsGoalGate() bool { return n.AttrBool("goal_gate", false) }
