// Package style implements the stylesheet transform: a CSS-like cascading
// attribute assignment language read from a graph's model_stylesheet
// attribute.
package style

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/meshrun/meshrun/internal/graph"
)

type SelectorKind int

const (
	SelectorUniversal SelectorKind = iota
	SelectorShape
	SelectorClass
	SelectorID
)

// specificity follows the spec's ordering: universal(0) < shape < class < id.
// Shape selectors are given specificity 1 here (an integer scale is used
// instead of the spec's illustrative 0.5, preserving the same total order).
func (k SelectorKind) specificity() int {
	switch k {
	case SelectorUniversal:
		return 0
	case SelectorShape:
		return 1
	case SelectorClass:
		return 2
	case SelectorID:
		return 3
	}
	return 0
}

// Rule is one parsed "selector { property: value; ... }" declaration block.
type Rule struct {
	Kind        SelectorKind
	Value       string // id/class/shape; empty for universal
	Specificity int
	Order       int // source order, 0..n-1
	Decls       map[string]string
}

// ParseStylesheet parses the full stylesheet source into an ordered rule
// list.
func ParseStylesheet(src string) ([]Rule, error) {
	p := &ssParser{s: src}
	return p.parse()
}

// Apply runs the stylesheet transform: every string-valued declaration in
// every matching rule becomes a candidate for the node's corresponding
// attribute, chosen by highest specificity (source order breaking ties). A
// node's attribute that is already explicitly set is never overwritten.
func Apply(g *graph.Graph, rules []Rule) error {
	if g == nil {
		return fmt.Errorf("stylesheet: graph is nil")
	}
	if len(rules) == 0 {
		return nil
	}

	props := collectProps(rules)
	for _, n := range g.OrderedNodes() {
		for _, prop := range props {
			if _, ok := n.Attrs[prop]; ok {
				continue // explicit attribute wins outright
			}
			if val, ok := bestValue(rules, n, prop); ok {
				n.Attrs[prop] = graph.NewString(val)
			}
		}
	}
	return nil
}

func collectProps(rules []Rule) []string {
	seen := map[string]bool{}
	var props []string
	for _, r := range rules {
		for k := range r.Decls {
			if !seen[k] {
				seen[k] = true
				props = append(props, k)
			}
		}
	}
	sort.Strings(props) // deterministic iteration order
	return props
}

func bestValue(rules []Rule, n *graph.Node, prop string) (string, bool) {
	bestSpec, bestOrder := -1, -1
	var bestVal string
	found := false
	for _, r := range rules {
		if !ruleMatchesNode(r, n) {
			continue
		}
		v, ok := r.Decls[prop]
		if !ok {
			continue
		}
		if r.Specificity > bestSpec || (r.Specificity == bestSpec && r.Order > bestOrder) {
			bestSpec, bestOrder, bestVal, found = r.Specificity, r.Order, v, true
		}
	}
	return bestVal, found
}

func ruleMatchesNode(r Rule, n *graph.Node) bool {
	switch r.Kind {
	case SelectorUniversal:
		return true
	case SelectorID:
		return n.ID == r.Value
	case SelectorClass:
		for _, c := range n.ClassList() {
			if c == r.Value {
				return true
			}
		}
		return false
	case SelectorShape:
		return n.Shape() == r.Value
	default:
		return false
	}
}

type ssParser struct {
	s    string
	i    int
	rule int
}

func (p *ssParser) parse() ([]Rule, error) {
	var rules []Rule
	for {
		p.skipSpace()
		if p.eof() {
			return rules, nil
		}
		r, err := p.parseRule()
		if err != nil {
			return nil, err
		}
		r.Order = p.rule
		p.rule++
		r.Specificity = r.Kind.specificity()
		rules = append(rules, r)
	}
}

func (p *ssParser) parseRule() (Rule, error) {
	kind, val, err := p.parseSelector()
	if err != nil {
		return Rule{}, err
	}
	p.skipSpace()
	if !p.consume("{") {
		return Rule{}, p.errf("expected '{' after selector")
	}
	decls := map[string]string{}
	for {
		p.skipSpace()
		if p.consume("}") {
			break
		}
		prop, err := p.parseIdent()
		if err != nil {
			return Rule{}, err
		}
		p.skipSpace()
		if !p.consume(":") {
			return Rule{}, p.errf("expected ':' after property")
		}
		p.skipSpace()
		val, err := p.parseValue()
		if err != nil {
			return Rule{}, err
		}
		decls[prop] = val
		p.skipSpace()
		_ = p.consume(";")
	}
	return Rule{Kind: kind, Value: val, Decls: decls}, nil
}

func (p *ssParser) parseSelector() (SelectorKind, string, error) {
	if p.consume("*") {
		return SelectorUniversal, "", nil
	}
	if p.consume("#") {
		id, err := p.parseIdent()
		return SelectorID, id, err
	}
	if p.consume(".") {
		class, err := p.parseClassName()
		return SelectorClass, class, err
	}
	shape, err := p.parseIdentLike()
	return SelectorShape, shape, err
}

func (p *ssParser) parseIdent() (string, error) {
	p.skipSpace()
	start := p.i
	if p.eof() || !isIdentStart(rune(p.s[p.i])) {
		return "", p.errf("expected identifier")
	}
	p.i++
	for !p.eof() && isIdentContinue(rune(p.s[p.i])) {
		p.i++
	}
	return p.s[start:p.i], nil
}

func (p *ssParser) parseClassName() (string, error) {
	p.skipSpace()
	start := p.i
	for !p.eof() {
		r := rune(p.s[p.i])
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
			p.i++
			continue
		}
		break
	}
	if start == p.i {
		return "", p.errf("expected class name")
	}
	return p.s[start:p.i], nil
}

func (p *ssParser) parseIdentLike() (string, error) {
	p.skipSpace()
	start := p.i
	for !p.eof() {
		r := rune(p.s[p.i])
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '.' {
			p.i++
			continue
		}
		break
	}
	if start == p.i {
		return "", p.errf("expected identifier")
	}
	return strings.TrimSpace(p.s[start:p.i]), nil
}

func (p *ssParser) parseValue() (string, error) {
	if p.eof() {
		return "", p.errf("expected value")
	}
	if p.s[p.i] == '"' {
		return p.parseString()
	}
	start := p.i
	for !p.eof() && p.s[p.i] != ';' && p.s[p.i] != '}' {
		p.i++
	}
	return strings.TrimSpace(p.s[start:p.i]), nil
}

func (p *ssParser) parseString() (string, error) {
	if !p.consume(`"`) {
		return "", p.errf("expected string")
	}
	var b strings.Builder
	for !p.eof() {
		ch := p.s[p.i]
		p.i++
		if ch == '"' {
			return b.String(), nil
		}
		if ch == '\\' {
			if p.eof() {
				return "", p.errf("unterminated escape")
			}
			esc := p.s[p.i]
			p.i++
			switch esc {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case '\\':
				b.WriteByte('\\')
			case '"':
				b.WriteByte('"')
			default:
				b.WriteByte('\\')
				b.WriteByte(esc)
			}
			continue
		}
		b.WriteByte(ch)
	}
	return "", p.errf("unterminated string")
}

func (p *ssParser) skipSpace() {
	for !p.eof() {
		switch p.s[p.i] {
		case ' ', '\n', '\r', '\t':
			p.i++
		default:
			return
		}
	}
}

func (p *ssParser) consume(lit string) bool {
	if strings.HasPrefix(p.s[p.i:], lit) {
		p.i += len(lit)
		return true
	}
	return false
}

func (p *ssParser) eof() bool { return p.i >= len(p.s) }

func (p *ssParser) errf(format string, args ...any) error {
	return fmt.Errorf("stylesheet parse: "+format+" (at %d)", append(args, p.i)...)
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentContinue(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r)
}
