package runner

import (
	"sort"
	"strings"

	"github.com/meshrun/meshrun/internal/cond"
	"github.com/meshrun/meshrun/internal/flowctx"
	"github.com/meshrun/meshrun/internal/graph"
)

// SelectEdge implements the §4.6 edge-selection algorithm: condition gate,
// preferred-label pass, then weight/lexical tie-break. Returns nil if
// currentNode has no outgoing edges at all.
func SelectEdge(g *graph.Graph, currentNode string, lastOutcome flowctx.Outcome, ctx *flowctx.Context) (*graph.Edge, error) {
	edges := g.Outgoing(currentNode)
	if len(edges) == 0 {
		return nil, nil
	}

	binding := cond.Binding{
		Outcome:        lastOutcome.Status,
		PreferredLabel: lastOutcome.PreferredLabel,
		Context:        ctx,
	}

	var conditioned, unconditioned, survivors []*graph.Edge
	for _, e := range edges {
		if e.Condition() != "" {
			conditioned = append(conditioned, e)
		} else {
			unconditioned = append(unconditioned, e)
		}
	}
	for _, e := range conditioned {
		ok, err := cond.Evaluate(e.Condition(), binding)
		if err != nil {
			return nil, err
		}
		if ok {
			survivors = append(survivors, e)
		}
	}
	if len(survivors) == 0 {
		// No condition edge survived; fall back to unconditioned edges if any.
		survivors = unconditioned
	}
	if len(survivors) == 0 {
		return nil, nil
	}

	if lastOutcome.PreferredLabel != "" {
		want := normalizeLabel(lastOutcome.PreferredLabel)
		var labeled []*graph.Edge
		for _, e := range survivors {
			if normalizeLabel(e.Label()) == want {
				labeled = append(labeled, e)
			}
		}
		if len(labeled) > 0 {
			survivors = labeled
		}
	}

	return pickByWeight(survivors), nil
}

// normalizeLabel strips a "[K] " accelerator-key marker and lowercases, so a
// handler's stripped PreferredLabel (e.g. "Ship") matches the raw edge label
// attribute it came from (e.g. "[A] Ship").
func normalizeLabel(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) >= 4 && s[0] == '[' && s[2] == ']' && s[3] == ' ' {
		return strings.TrimSpace(s[4:])
	}
	return s
}

// pickByWeight breaks ties among survivors by descending weight, then
// ascending lexical order of the target node id.
func pickByWeight(survivors []*graph.Edge) *graph.Edge {
	sort.SliceStable(survivors, func(i, j int) bool {
		wi, wj := survivors[i].Weight(), survivors[j].Weight()
		if wi != wj {
			return wi > wj
		}
		return survivors[i].To < survivors[j].To
	})
	return survivors[0]
}
