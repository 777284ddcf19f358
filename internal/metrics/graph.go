package metrics

import (
	"fmt"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/attack-surface/asm/internal/graph"
)

// MonolithicityFormula selects how fragment sizes map to monolithicity.
type MonolithicityFormula string

const (
	// Fragments is 1-(F-1)/(N-1) for F fragments over N nodes.
	Fragments MonolithicityFormula = "fragments"
	// Largest is the share of nodes in the largest fragment.
	Largest MonolithicityFormula = "largest"
)

// ParseMonolithicityFormula validates a formula name. Empty selects Fragments.
func ParseMonolithicityFormula(s string) (MonolithicityFormula, error) {
	switch MonolithicityFormula(s) {
	case "", Fragments:
		return Fragments, nil
	case Largest:
		return Largest, nil
	default:
		return "", fmt.Errorf("unknown monolithicity formula %q", s)
	}
}

// Components returns the weakly connected components of g as node index
// lists.
func Components(g *graph.Graph) [][]int {
	u := simple.NewUndirectedGraph()
	for i := 0; i < g.Len(); i++ {
		u.AddNode(simple.Node(i))
	}
	for _, e := range g.Edges() {
		if e.From == e.To {
			continue
		}
		if u.HasEdgeBetween(int64(e.From), int64(e.To)) {
			continue
		}
		u.SetEdge(simple.Edge{F: simple.Node(e.From), T: simple.Node(e.To)})
	}

	components := topo.ConnectedComponents(u)
	out := make([][]int, len(components))
	for i, c := range components {
		ids := make([]int, len(c))
		for j, n := range c {
			ids[j] = int(n.ID())
		}
		out[i] = ids
	}
	return out
}

// Monolithicity computes the fragment count and monolithicity of a graph
// with n nodes split into components of the given sizes. One fragment
// yields 1; n isolated nodes approach 0 as n grows. An empty graph yields 0.
func Monolithicity(n int, sizes []int, formula MonolithicityFormula) float64 {
	if n == 0 {
		return 0
	}
	if n == 1 {
		return 1
	}
	if formula == Largest {
		largest := 0
		for _, s := range sizes {
			largest = max(largest, s)
		}
		return float64(largest) / float64(n)
	}
	return 1 - float64(len(sizes)-1)/float64(n-1)
}

// AssignFragments stores the fragment count and monolithicity on g.
func AssignFragments(g *graph.Graph, formula MonolithicityFormula) {
	components := Components(g)
	sizes := make([]int, len(components))
	for i, c := range components {
		sizes[i] = len(c)
	}
	g.NumFragments = len(components)
	g.Monolithicity = Monolithicity(g.Len(), sizes, formula)
}

// CallCycles counts groups of mutually recursive nodes: strongly connected
// components with more than one node, plus nodes calling themselves.
func CallCycles(g *graph.Graph) int {
	d := simple.NewDirectedGraph()
	for i := 0; i < g.Len(); i++ {
		d.AddNode(simple.Node(i))
	}
	selfLoops := 0
	for _, e := range g.Edges() {
		if e.From == e.To {
			selfLoops++
			continue
		}
		d.SetEdge(simple.Edge{F: simple.Node(e.From), T: simple.Node(e.To)})
	}

	cycles := selfLoops
	for _, scc := range topo.TarjanSCC(d) {
		if len(scc) > 1 {
			cycles++
		}
	}
	return cycles
}

// GraphStats contains statistics about one release's call graph.
type GraphStats struct {
	NodeCount  int `json:"node_count" yaml:"node_count"`
	EdgeCount  int `json:"edge_count" yaml:"edge_count"`
	EntryCount int `json:"entry_count" yaml:"entry_count"`
	ExitCount  int `json:"exit_count" yaml:"exit_count"`

	AvgFanIn  float64 `json:"avg_fan_in" yaml:"avg_fan_in"`
	MaxFanIn  int     `json:"max_fan_in" yaml:"max_fan_in"`
	MaxFanOut int     `json:"max_fan_out" yaml:"max_fan_out"`
	Density   float64 `json:"density" yaml:"density"`

	NumFragments  int     `json:"num_fragments" yaml:"num_fragments"`
	Monolithicity float64 `json:"monolithicity" yaml:"monolithicity"`
	CallCycles    int     `json:"call_cycles" yaml:"call_cycles"`

	Vulnerable int `json:"vulnerable" yaml:"vulnerable"`
	Dangerous  int `json:"dangerous" yaml:"dangerous"`
	Defenses   int `json:"defenses" yaml:"defenses"`
	Tested     int `json:"tested" yaml:"tested"`
}

// ComputeGraphStats summarizes g. Fragment figures are read from g, so
// AssignFragments should run first.
func ComputeGraphStats(g *graph.Graph) GraphStats {
	stats := GraphStats{
		NodeCount:     g.Len(),
		EdgeCount:     g.EdgeCount(),
		EntryCount:    len(g.EntryIndices()),
		ExitCount:     len(g.ExitIndices()),
		NumFragments:  g.NumFragments,
		Monolithicity: g.Monolithicity,
	}
	if stats.NodeCount == 0 {
		return stats
	}

	totalIn := 0
	for _, n := range g.Nodes() {
		a := n.Attrs
		totalIn += a.FanIn
		stats.MaxFanIn = max(stats.MaxFanIn, a.FanIn)
		stats.MaxFanOut = max(stats.MaxFanOut, a.FanOut)
		if a.IsVulnerable {
			stats.Vulnerable++
		}
		if a.IsDangerous {
			stats.Dangerous++
		}
		if a.IsDefense {
			stats.Defenses++
		}
		if a.IsTested {
			stats.Tested++
		}
	}
	stats.AvgFanIn = float64(totalIn) / float64(stats.NodeCount)

	// Density = edges / (nodes * (nodes-1)) for directed graph
	if stats.NodeCount > 1 {
		stats.Density = float64(stats.EdgeCount) / float64(stats.NodeCount*(stats.NodeCount-1))
	}
	stats.CallCycles = CallCycles(g)
	return stats
}
