package graph

import (
	"github.com/attack-surface/asm/internal/call"
)

// MergeStats reports how nodes of the second graph were reconciled.
type MergeStats struct {
	Exact     int
	ByName    int
	Ambiguous int
	Added     int
}

// Merge unions a and b into a new graph.
//
// A node of b joins the node of a with the same (name, file). When one side
// lacks a file the nodes join by name, but only if the name picks a single
// candidate in both directions; otherwise they stay distinct. A joined node
// keeps whichever identity carries a file. Edges reported by both graphs are
// kept once with both weights. Entry and exit points are recomputed.
func Merge(a, b *Graph) *Graph {
	g, _ := MergeWithStats(a, b)
	return g
}

// MergeWithStats is Merge that also reports the reconciliation counts.
func MergeWithStats(a, b *Graph) (*Graph, MergeStats) {
	var stats MergeStats
	switch {
	case a == nil && b == nil:
		return New(call.Function), stats
	case a == nil:
		return b.filter(func(int) bool { return true }), stats
	case b == nil:
		return a.filter(func(int) bool { return true }), stats
	}

	out := New(a.granularity)
	calls := make([]call.Call, 0, len(a.nodes)+len(b.nodes))
	sources := make([]Source, 0, cap(calls))
	attrs := make([]Attrs, 0, cap(calls))

	aMap := make([]int, len(a.nodes))
	for i, n := range a.nodes {
		aMap[i] = len(calls)
		calls = append(calls, n.Call)
		sources = append(sources, n.Source)
		attrs = append(attrs, n.Attrs)
	}

	aRes := a.Resolver()
	bRes := b.Resolver()
	bMap := make([]int, len(b.nodes))
	for i, n := range b.nodes {
		k, res := aRes.ResolveMutual(n.Call.Key(), bRes)
		switch res {
		case call.Exact, call.ByName:
			if res == call.Exact {
				stats.Exact++
			} else {
				stats.ByName++
			}
			j := aMap[a.index[k]]
			if !calls[j].HasFile() && n.Call.HasFile() {
				calls[j] = n.Call
			}
			sources[j] |= n.Source
			attrs[j].merge(n.Attrs)
			bMap[i] = j
			continue
		case call.Ambiguous:
			stats.Ambiguous++
		default:
			stats.Added++
		}
		bMap[i] = len(calls)
		calls = append(calls, n.Call)
		sources = append(sources, n.Source)
		attrs = append(attrs, n.Attrs)
	}

	idx := make([]int, len(calls))
	for i, c := range calls {
		idx[i] = out.AddNode(c, sources[i])
		out.nodes[idx[i]].Attrs.merge(attrs[i])
	}
	for _, e := range a.edges {
		out.addWeightedEdge(idx[aMap[e.From]], idx[aMap[e.To]], e.Source, e.StaticWeight, e.DynamicWeight)
	}
	for _, e := range b.edges {
		out.addWeightedEdge(idx[bMap[e.From]], idx[bMap[e.To]], e.Source, e.StaticWeight, e.DynamicWeight)
	}
	out.Recompute()
	return out, stats
}
