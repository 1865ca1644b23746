package graph

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ParseError carries a line/column and the expected-vs-actual description,
// per the single-lookahead strict parser contract.
type ParseError struct {
	Line, Col int
	Message   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %d:%d: %s", e.Line, e.Col, e.Message)
}

// UnsupportedError reports a rejected construct: undirected graphs, the
// "strict" modifier, or the "--" undirected edge operator.
type UnsupportedError struct {
	Line, Col int
	Token     string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported construct %q at %d:%d (this parser only accepts strict-free directed graphs)", e.Token, e.Line, e.Col)
}

type scope struct {
	parent       *scope
	nodeDefaults AttrBag
	edgeDefaults AttrBag

	// subgraph-only fields
	isSubgraph    bool
	subgraphID    string
	derivedLabel  string
	memberNodeIDs []string
}

func newRootScope() *scope {
	return &scope{nodeDefaults: AttrBag{}, edgeDefaults: AttrBag{}}
}

func newChildScope(parent *scope, isSubgraph bool, id string) *scope {
	return &scope{
		parent:       parent,
		nodeDefaults: parent.nodeDefaults.Clone(),
		edgeDefaults: parent.edgeDefaults.Clone(),
		isSubgraph:   isSubgraph,
		subgraphID:   id,
	}
}

type parser struct {
	lex  *lexer
	tok  token
	g    *Graph
	subs []*scope // open subgraph scope stack, outermost first
}

// Parse lexes and parses graph description text into a Graph.
func Parse(src string) (*Graph, error) {
	p := &parser{lex: newLexer(src)}
	if err := p.nextToken(); err != nil {
		return nil, err
	}
	return p.parseGraph()
}

func (p *parser) nextToken() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) parseGraph() (*Graph, error) {
	if p.tok.kind == tokKeyword && strings.EqualFold(p.tok.text, "strict") {
		return nil, &UnsupportedError{Line: p.tok.line, Col: p.tok.col, Token: p.tok.text}
	}
	if p.tok.kind == tokKeyword && strings.EqualFold(p.tok.text, "graph") {
		return nil, &UnsupportedError{Line: p.tok.line, Col: p.tok.col, Token: "graph (undirected)"}
	}
	if !(p.tok.kind == tokKeyword && strings.EqualFold(p.tok.text, "digraph")) {
		return nil, p.expectedErr("'digraph'")
	}
	if err := p.nextToken(); err != nil {
		return nil, err
	}

	name := "G"
	if p.tok.kind == tokIdent || p.tok.kind == tokString {
		name = p.tok.text
		if err := p.nextToken(); err != nil {
			return nil, err
		}
	}

	p.g = NewGraph(name)

	if p.tok.kind != tokLBrace {
		return nil, p.expectedErr("'{'")
	}
	if err := p.nextToken(); err != nil {
		return nil, err
	}

	root := newRootScope()
	if err := p.parseStatements(root); err != nil {
		return nil, err
	}

	if p.tok.kind != tokRBrace {
		return nil, p.expectedErr("'}'")
	}
	return p.g, nil
}

// parseStatements consumes statements until a '}' (not consumed) or EOF.
func (p *parser) parseStatements(sc *scope) error {
	for {
		for p.tok.kind == tokSemicolon {
			if err := p.nextToken(); err != nil {
				return err
			}
		}
		if p.tok.kind == tokRBrace || p.tok.kind == tokEOF {
			return nil
		}
		if err := p.parseStatement(sc); err != nil {
			return err
		}
	}
}

func (p *parser) parseStatement(sc *scope) error {
	switch {
	case p.tok.kind == tokDashDash:
		return &UnsupportedError{Line: p.tok.line, Col: p.tok.col, Token: "--"}
	case p.tok.kind == tokKeyword && strings.EqualFold(p.tok.text, "strict"):
		return &UnsupportedError{Line: p.tok.line, Col: p.tok.col, Token: p.tok.text}
	case p.tok.kind == tokKeyword && strings.EqualFold(p.tok.text, "graph"):
		return p.parseDefaultsStmt(sc, "graph")
	case p.tok.kind == tokKeyword && strings.EqualFold(p.tok.text, "node"):
		return p.parseDefaultsStmt(sc, "node")
	case p.tok.kind == tokKeyword && strings.EqualFold(p.tok.text, "edge"):
		return p.parseDefaultsStmt(sc, "edge")
	case p.tok.kind == tokKeyword && strings.EqualFold(p.tok.text, "subgraph"):
		return p.parseSubgraph(sc)
	case p.tok.kind == tokIdent || p.tok.kind == tokString:
		return p.parseIDStatement(sc)
	default:
		return p.expectedErr("a statement")
	}
}

// parseDefaultsStmt handles "graph [..]", "node [..]", "edge [..]".
func (p *parser) parseDefaultsStmt(sc *scope, kind string) error {
	if err := p.nextToken(); err != nil {
		return err
	}
	if p.tok.kind != tokLBracket {
		return p.expectedErr("'[' after '" + kind + "'")
	}
	attrs, err := p.parseAttrList()
	if err != nil {
		return err
	}
	switch kind {
	case "graph":
		for k, v := range attrs {
			p.g.Attrs[k] = v
		}
	case "node":
		for k, v := range attrs {
			sc.nodeDefaults[k] = v
		}
	case "edge":
		for k, v := range attrs {
			sc.edgeDefaults[k] = v
		}
	}
	return nil
}

func (p *parser) parseSubgraph(sc *scope) error {
	if err := p.nextToken(); err != nil {
		return err
	}
	id := ""
	if p.tok.kind == tokIdent || p.tok.kind == tokString {
		id = p.tok.text
		if err := p.nextToken(); err != nil {
			return err
		}
	}
	if p.tok.kind != tokLBrace {
		return p.expectedErr("'{' after 'subgraph'")
	}
	if err := p.nextToken(); err != nil {
		return err
	}

	child := newChildScope(sc, true, id)
	p.subs = append(p.subs, child)

	if err := p.parseStatements(child); err != nil {
		return err
	}
	if p.tok.kind != tokRBrace {
		return p.expectedErr("'}' to close subgraph")
	}
	if err := p.nextToken(); err != nil {
		return err
	}

	p.subs = p.subs[:len(p.subs)-1]

	if child.derivedLabel != "" {
		for _, nid := range child.memberNodeIDs {
			if n, ok := p.g.Nodes[nid]; ok {
				n.AddClass(child.derivedLabel)
			}
		}
	}
	parentID := ""
	if sc.isSubgraph {
		parentID = sc.subgraphID
	}
	p.g.Subgraphs = append(p.g.Subgraphs, &Subgraph{
		ID:       id,
		Label:    child.derivedLabel,
		NodeIDs:  append([]string(nil), child.memberNodeIDs...),
		ParentID: parentID,
	})
	return nil
}

// parseIDStatement handles: attribute declaration ("key = value"), node
// statement ("id [attrs?]"), and edge statement ("id -> id [-> id...] [attrs?]").
func (p *parser) parseIDStatement(sc *scope) error {
	firstID := p.tok.text
	if err := p.nextToken(); err != nil {
		return err
	}

	// Attribute declaration: key('.'key)* '=' value
	if p.tok.kind == tokDot || p.tok.kind == tokEquals {
		key := firstID
		for p.tok.kind == tokDot {
			if err := p.nextToken(); err != nil {
				return err
			}
			if p.tok.kind != tokIdent {
				return p.expectedErr("identifier after '.'")
			}
			key += "." + p.tok.text
			if err := p.nextToken(); err != nil {
				return err
			}
		}
		if p.tok.kind != tokEquals {
			return p.expectedErr("'=' in attribute declaration")
		}
		if err := p.nextToken(); err != nil {
			return err
		}
		val, err := p.parseValue()
		if err != nil {
			return err
		}
		return p.applyAttrDecl(sc, key, val)
	}

	// Edge statement: id (-> id)+ [attrs?]
	if p.tok.kind == tokArrow {
		chain := []string{firstID}
		for p.tok.kind == tokArrow {
			if err := p.nextToken(); err != nil {
				return err
			}
			if p.tok.kind != tokIdent && p.tok.kind != tokString {
				return p.expectedErr("node id after '->'")
			}
			chain = append(chain, p.tok.text)
			if err := p.nextToken(); err != nil {
				return err
			}
		}
		var attrs AttrBag
		if p.tok.kind == tokLBracket {
			a, err := p.parseAttrList()
			if err != nil {
				return err
			}
			attrs = a
		}
		p.createChainEdges(sc, chain, attrs)
		return nil
	}

	// Plain node statement: id [attrs?]
	var attrs AttrBag
	if p.tok.kind == tokLBracket {
		a, err := p.parseAttrList()
		if err != nil {
			return err
		}
		attrs = a
	}
	p.ensureNode(sc, firstID, attrs)
	return nil
}

func (p *parser) applyAttrDecl(sc *scope, key string, val Value) error {
	if sc.isSubgraph && key == "label" {
		sc.derivedLabel = deriveClassName(val.String())
		return nil
	}
	p.g.Attrs[key] = val
	return nil
}

func deriveClassName(label string) string {
	lower := strings.ToLower(strings.TrimSpace(label))
	var b strings.Builder
	lastHyphen := false
	for _, r := range lower {
		if r == ' ' || r == '_' || r == '\t' {
			if !lastHyphen && b.Len() > 0 {
				b.WriteByte('-')
				lastHyphen = true
			}
			continue
		}
		b.WriteRune(r)
		lastHyphen = false
	}
	return strings.Trim(b.String(), "-")
}

func (p *parser) ensureNode(sc *scope, id string, explicit AttrBag) *Node {
	n, existed := p.g.Nodes[id]
	if !existed {
		n = NewNode(id)
		for k, v := range sc.nodeDefaults {
			n.Attrs[k] = v
		}
		p.g.AddNode(n)
	}
	for k, v := range explicit {
		n.Attrs[k] = v
	}
	p.recordNodeInOpenSubgraphs(id)
	return n
}

func (p *parser) recordNodeInOpenSubgraphs(id string) {
	for _, s := range p.subs {
		already := false
		for _, existing := range s.memberNodeIDs {
			if existing == id {
				already = true
				break
			}
		}
		if !already {
			s.memberNodeIDs = append(s.memberNodeIDs, id)
		}
	}
}

func (p *parser) createChainEdges(sc *scope, chain []string, explicit AttrBag) {
	for i := 0; i < len(chain)-1; i++ {
		from := p.ensureNode(sc, chain[i], nil)
		to := p.ensureNode(sc, chain[i+1], nil)
		e := NewEdge(from.ID, to.ID)
		for k, v := range sc.edgeDefaults {
			e.Attrs[k] = v
		}
		for k, v := range explicit {
			e.Attrs[k] = v
		}
		p.g.AddEdge(e)
	}
}

// parseAttrList parses "[ key=value (, key=value)* ]", consuming both brackets.
func (p *parser) parseAttrList() (AttrBag, error) {
	if err := p.nextToken(); err != nil { // consume '['
		return nil, err
	}
	attrs := AttrBag{}
	for {
		if p.tok.kind == tokRBracket {
			if err := p.nextToken(); err != nil {
				return nil, err
			}
			return attrs, nil
		}
		if p.tok.kind != tokIdent && p.tok.kind != tokKeyword {
			return nil, p.expectedErr("attribute key")
		}
		key := p.tok.text
		if err := p.nextToken(); err != nil {
			return nil, err
		}
		for p.tok.kind == tokDot {
			if err := p.nextToken(); err != nil {
				return nil, err
			}
			if p.tok.kind != tokIdent {
				return nil, p.expectedErr("identifier after '.'")
			}
			key += "." + p.tok.text
			if err := p.nextToken(); err != nil {
				return nil, err
			}
		}
		if p.tok.kind != tokEquals {
			return nil, p.expectedErr("'=' after attribute key")
		}
		if err := p.nextToken(); err != nil {
			return nil, err
		}
		val, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		attrs[key] = val
		if p.tok.kind == tokComma {
			if err := p.nextToken(); err != nil {
				return nil, err
			}
		}
	}
}

func (p *parser) parseValue() (Value, error) {
	switch p.tok.kind {
	case tokString:
		text := p.tok.text
		if ms, ok := parseDurationText(text); ok {
			v := NewDuration(ms, text)
			return v, p.nextToken()
		}
		v := NewString(text)
		return v, p.nextToken()
	case tokKeyword:
		switch strings.ToLower(p.tok.text) {
		case "true":
			return NewBool(true), p.nextToken()
		case "false":
			return NewBool(false), p.nextToken()
		}
		v := NewString(p.tok.text)
		return v, p.nextToken()
	case tokIdent:
		v := NewString(p.tok.text)
		return v, p.nextToken()
	case tokInt:
		i, err := strconv.ParseInt(p.tok.text, 10, 64)
		if err != nil {
			return Value{}, &ParseError{Line: p.tok.line, Col: p.tok.col, Message: "malformed integer " + p.tok.text}
		}
		v := NewInt(i)
		return v, p.nextToken()
	case tokFloat:
		f, err := strconv.ParseFloat(p.tok.text, 64)
		if err != nil {
			return Value{}, &ParseError{Line: p.tok.line, Col: p.tok.col, Message: "malformed float " + p.tok.text}
		}
		v := NewFloat(f, p.tok.text)
		return v, p.nextToken()
	case tokDuration:
		ms, ok := parseDurationText(p.tok.text)
		if !ok {
			return Value{}, &ParseError{Line: p.tok.line, Col: p.tok.col, Message: "malformed duration " + p.tok.text}
		}
		v := NewDuration(ms, p.tok.text)
		return v, p.nextToken()
	default:
		return Value{}, p.expectedErr("a value")
	}
}

// parseDurationText parses an unquoted-or-quoted duration literal like
// "900s" into normalized milliseconds. Returns ok=false if the text isn't
// duration-shaped.
func parseDurationText(text string) (int64, bool) {
	i := 0
	if i < len(text) && (text[i] == '-' || text[i] == '+') {
		i++
	}
	start := i
	for i < len(text) && text[i] >= '0' && text[i] <= '9' {
		i++
	}
	if i == start {
		return 0, false
	}
	numPart := text[:i]
	unit := text[i:]
	mult, ok := durationUnits[unit]
	if !ok || unit == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil {
		return 0, false
	}
	return n * mult, true
}

func (p *parser) expectedErr(expected string) error {
	actual := p.tok.text
	if p.tok.kind == tokEOF {
		actual = "<eof>"
	}
	return &ParseError{
		Line:    p.tok.line,
		Col:     p.tok.col,
		Message: fmt.Sprintf("expected %s, got %q", expected, actual),
	}
}

// ParseFile reads a graph description from disk and parses it.
func ParseFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(string(data))
}
