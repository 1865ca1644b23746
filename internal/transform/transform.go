// Package transform implements the graph-to-graph rewrite pipeline: the
// stylesheet, variable-expansion, and prompt-file-inlining built-ins, plus
// composition of user-supplied transforms.
package transform

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/meshrun/meshrun/internal/graph"
	"github.com/meshrun/meshrun/internal/style"
)

// Transform takes a graph and returns a graph. Implementations may mutate
// in place; the contract only requires that an unchanged graph be returned
// by identity when nothing changed, which in-place implementations satisfy
// trivially.
type Transform func(g *graph.Graph) (*graph.Graph, error)

// Compose runs transforms left to right, threading the result of one into
// the next.
func Compose(transforms ...Transform) Transform {
	return func(g *graph.Graph) (*graph.Graph, error) {
		cur := g
		for i, t := range transforms {
			next, err := t(cur)
			if err != nil {
				return nil, fmt.Errorf("transform %d: %w", i, err)
			}
			cur = next
		}
		return cur, nil
	}
}

// Stylesheet reads graph.model_stylesheet and applies the cascading
// attribute-assignment transform described in internal/style.
func Stylesheet(g *graph.Graph) (*graph.Graph, error) {
	src := g.Attr("model_stylesheet", "")
	if strings.TrimSpace(src) == "" {
		return g, nil
	}
	rules, err := style.ParseStylesheet(src)
	if err != nil {
		return nil, fmt.Errorf("stylesheet: %w", err)
	}
	if err := style.Apply(g, rules); err != nil {
		return nil, err
	}
	return g, nil
}

var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_.]*)\}|\$([A-Za-z_][A-Za-z0-9_.]*)`)

// VariableExpansion replaces $key and ${key} occurrences in every
// string-typed attribute on every node and edge with the string form of the
// corresponding node-or-graph attribute. Unknown keys expand to the literal
// text (no error).
func VariableExpansion(g *graph.Graph) (*graph.Graph, error) {
	for _, n := range g.Nodes {
		expandBag(n.Attrs, g, n)
	}
	for _, e := range g.Edges {
		var from *graph.Node
		if n, ok := g.Nodes[e.From]; ok {
			from = n
		}
		expandBag(e.Attrs, g, from)
	}
	return g, nil
}

func expandBag(bag graph.AttrBag, g *graph.Graph, n *graph.Node) {
	for k, v := range bag {
		if v.Kind != graph.KindString {
			continue
		}
		expanded := expandString(v.Text, g, n)
		if expanded != v.Text {
			bag[k] = graph.NewString(expanded)
		}
	}
}

func expandString(s string, g *graph.Graph, n *graph.Node) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		sub := varPattern.FindStringSubmatch(match)
		key := sub[1]
		if key == "" {
			key = sub[2]
		}
		if n != nil {
			if v, ok := n.Attrs.Get(key); ok {
				return v.String()
			}
		}
		if v, ok := g.Attrs.Get(key); ok {
			return v.String()
		}
		return match
	})
}

// PromptFileInlining resolves node prompt attributes beginning with "@" to
// file contents, relative to graph._prompt_base (or cwd if unset). A path
// containing glob metacharacters concatenates every matching file's
// contents, sorted by path, separated by a blank line — this extends the
// single-file inlining the base spec describes so a directory of prompt
// fragments can be composed with one "@prompts/*.md" token.
func PromptFileInlining(g *graph.Graph) (*graph.Graph, error) {
	base := g.Attr("_prompt_base", "")
	if base == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("prompt-file inlining: resolving cwd: %w", err)
		}
		base = wd
	}
	for _, n := range g.OrderedNodes() {
		prompt := n.Attr("prompt", "")
		if !strings.HasPrefix(prompt, "@") {
			continue
		}
		rel := strings.TrimPrefix(prompt, "@")
		content, err := resolvePromptPath(base, rel)
		if err != nil {
			return nil, fmt.Errorf("prompt-file inlining: node %s: %w", n.ID, err)
		}
		n.Attrs["prompt"] = graph.NewString(content)
	}
	return g, nil
}

func resolvePromptPath(base, rel string) (string, error) {
	if strings.ContainsAny(rel, "*?[") {
		matches, err := doublestar.Glob(os.DirFS(base), rel)
		if err != nil {
			return "", fmt.Errorf("invalid glob %q: %w", rel, err)
		}
		if len(matches) == 0 {
			return "", fmt.Errorf("no files matched glob %q under %s", rel, base)
		}
		sortedMatches := append([]string(nil), matches...)
		sortStrings(sortedMatches)
		var parts []string
		for _, m := range sortedMatches {
			data, err := os.ReadFile(filepath.Join(base, m))
			if err != nil {
				return "", err
			}
			parts = append(parts, string(data))
		}
		return strings.Join(parts, "\n\n"), nil
	}

	path := rel
	if !filepath.IsAbs(path) {
		path = filepath.Join(base, rel)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// Builtins returns the three core transforms composed in the order
// specified: stylesheet, then variable expansion, then prompt-file
// inlining (so expanded variables are available to compose file paths, and
// inlined prompt text can itself still contain variables expanded earlier
// in node attributes it was substituted from).
func Builtins() Transform {
	return Compose(Stylesheet, VariableExpansion, PromptFileInlining)
}
