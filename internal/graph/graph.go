// Package graph holds the unified call graph built from static and dynamic
// traces, the merge that reconciles the two, and the read/write accessors
// the classifier and the metrics engine work through.
package graph

import (
	"errors"
	"fmt"

	"github.com/attack-surface/asm/internal/call"
	"github.com/attack-surface/asm/internal/trace"
)

// ErrUnknownNode is returned by accessors given a call that is not in the graph.
var ErrUnknownNode = errors.New("unknown node")

// Source is a bit set recording which traces reported a node or an edge.
type Source uint8

const (
	SourceStatic  Source = 1 << iota // seen in the static trace
	SourceDynamic                    // seen in a dynamic trace

	SourceBoth = SourceStatic | SourceDynamic
)

// Has reports whether s includes o.
func (s Source) Has(o Source) bool {
	return s&o == o
}

func (s Source) String() string {
	switch s {
	case SourceStatic:
		return "static"
	case SourceDynamic:
		return "dynamic"
	case SourceBoth:
		return "both"
	default:
		return "none"
	}
}

func sourceOf(s trace.Source) Source {
	if s == trace.Dynamic {
		return SourceDynamic
	}
	return SourceStatic
}

// Attrs are the per-node attributes set by classification and the metrics engine.
// Nil pointers mean "not computed" or, for proximities, "not connected".
type Attrs struct {
	IsEntry           bool
	IsExit            bool
	IsTested          bool
	IsDefense         bool
	IsDangerous       bool
	CallsDangerous    bool
	IsVulnerable      bool
	BecomesVulnerable bool
	Recursive         bool

	SLOC *int

	FanIn     int
	FanOut    int
	Frequency int

	PageRank float64

	ProximityToEntry     *float64
	ProximityToExit      *float64
	ProximityToDefense   *float64
	ProximityToDangerous *float64

	SurfaceCouplingWithEntry *int
	SurfaceCouplingWithExit  *int
}

// merge folds the classification flags of o into a. Computed metrics are
// not merged; they are recomputed on the merged graph.
func (a *Attrs) merge(o Attrs) {
	a.IsTested = a.IsTested || o.IsTested
	a.IsDefense = a.IsDefense || o.IsDefense
	a.IsDangerous = a.IsDangerous || o.IsDangerous
	a.CallsDangerous = a.CallsDangerous || o.CallsDangerous
	a.IsVulnerable = a.IsVulnerable || o.IsVulnerable
	a.BecomesVulnerable = a.BecomesVulnerable || o.BecomesVulnerable
	a.Recursive = a.Recursive || o.Recursive
	if a.SLOC == nil {
		a.SLOC = o.SLOC
	}
}

// Node is one call and its attributes.
type Node struct {
	Call   call.Call
	Source Source
	Attrs  Attrs
}

// Edge is a directed caller -> callee relationship between node indices.
type Edge struct {
	From, To int
	Source   Source

	StaticWeight  int
	DynamicWeight int

	// Weight and ReturnWeight are derived by AssignWeights.
	Weight       float64
	ReturnWeight float64
}

// Graph is a directed call graph. Nodes and edges are addressed by dense
// indices; the index of a node never changes once added.
type Graph struct {
	granularity call.Granularity

	nodes     []Node
	index     map[call.Key]int
	edges     []Edge
	edgeIndex map[[2]int]int

	// Per-node lists of edge indices.
	out [][]int
	in  [][]int

	entry []int
	exit  []int

	NumFragments  int
	Monolithicity float64
}

// New returns an empty graph of the given granularity.
func New(granularity call.Granularity) *Graph {
	if granularity == "" {
		granularity = call.Function
	}
	return &Graph{
		granularity: granularity,
		index:       make(map[call.Key]int),
		edgeIndex:   make(map[[2]int]int),
	}
}

// FromTrace builds a graph from one loaded trace.
func FromTrace(t *trace.Trace, granularity call.Granularity) *Graph {
	g := New(call.Function)
	if t == nil {
		g.Recompute()
		return g.Collapse(granularity)
	}

	src := sourceOf(t.Source)
	for _, c := range t.Nodes {
		g.AddNode(c, src)
	}
	for _, e := range t.Edges {
		g.AddEdge(e.Caller, e.Callee, src, e.Weight)
	}
	for k := range t.Recursive {
		if i, ok := g.index[k]; ok {
			g.nodes[i].Attrs.Recursive = true
		}
	}
	g.Recompute()
	return g.Collapse(granularity)
}

// Granularity returns the unit the graph's nodes stand for.
func (g *Graph) Granularity() call.Granularity {
	return g.granularity
}

// AddNode adds c if absent and returns its index. src is added to the
// node's source set either way.
func (g *Graph) AddNode(c call.Call, src Source) int {
	if i, ok := g.index[c.Key()]; ok {
		g.nodes[i].Source |= src
		return i
	}
	i := len(g.nodes)
	g.nodes = append(g.nodes, Node{Call: c, Source: src})
	g.index[c.Key()] = i
	g.out = append(g.out, nil)
	g.in = append(g.in, nil)
	return i
}

// AddEdge adds caller -> callee, adding either endpoint if absent. An edge
// reported again accumulates weight for src and joins its source set.
func (g *Graph) AddEdge(caller, callee call.Call, src Source, weight int) {
	from := g.AddNode(caller, src)
	to := g.AddNode(callee, src)
	g.addEdgeIndex(from, to, src, weight)
}

func (g *Graph) addEdgeIndex(from, to int, src Source, weight int) {
	var static, dynamic int
	if src.Has(SourceStatic) {
		static = weight
	}
	if src.Has(SourceDynamic) {
		dynamic = weight
	}
	g.addWeightedEdge(from, to, src, static, dynamic)
}

func (g *Graph) addWeightedEdge(from, to int, src Source, static, dynamic int) {
	key := [2]int{from, to}
	if e, ok := g.edgeIndex[key]; ok {
		g.edges[e].Source |= src
		g.edges[e].StaticWeight += static
		g.edges[e].DynamicWeight += dynamic
		return
	}
	e := len(g.edges)
	g.edges = append(g.edges, Edge{
		From:          from,
		To:            to,
		Source:        src,
		StaticWeight:  static,
		DynamicWeight: dynamic,
	})
	g.edgeIndex[key] = e
	g.out[from] = append(g.out[from], e)
	g.in[to] = append(g.in[to], e)
}

// Recompute refreshes degrees, call frequencies and the entry/exit sets
// from the current topology. A self-loop counts toward both degrees.
func (g *Graph) Recompute() {
	g.entry = g.entry[:0]
	g.exit = g.exit[:0]
	for i := range g.nodes {
		a := &g.nodes[i].Attrs
		a.FanIn = len(g.in[i])
		a.FanOut = len(g.out[i])
		a.IsEntry = a.FanIn == 0
		a.IsExit = a.FanOut == 0

		a.Frequency = 0
		for _, e := range g.in[i] {
			a.Frequency += g.edges[e].DynamicWeight
		}

		if a.IsEntry {
			g.entry = append(g.entry, i)
		}
		if a.IsExit {
			g.exit = append(g.exit, i)
		}
	}
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// EdgeCount returns the number of distinct edges.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// Nodes returns the node table. Callers must not append to or reorder it.
func (g *Graph) Nodes() []Node {
	return g.nodes
}

// Edges returns the edge table. Callers must not append to or reorder it.
func (g *Graph) Edges() []Edge {
	return g.edges
}

// NodeAt returns the node with index i for in-place attribute updates.
func (g *Graph) NodeAt(i int) *Node {
	return &g.nodes[i]
}

// EdgeAt returns the edge with index e.
func (g *Graph) EdgeAt(e int) *Edge {
	return &g.edges[e]
}

// Lookup returns the index of the node identified by k.
func (g *Graph) Lookup(k call.Key) (int, bool) {
	i, ok := g.index[k]
	return i, ok
}

// Node returns the node identified by k.
func (g *Graph) Node(k call.Key) (Node, error) {
	i, ok := g.index[k]
	if !ok {
		return Node{}, fmt.Errorf("%w: %s", ErrUnknownNode, k)
	}
	return g.nodes[i], nil
}

// Keys returns the identity of every node in index order.
func (g *Graph) Keys() []call.Key {
	keys := make([]call.Key, len(g.nodes))
	for i, n := range g.nodes {
		keys[i] = n.Call.Key()
	}
	return keys
}

// Resolver indexes the graph's node identities.
func (g *Graph) Resolver() *call.Resolver {
	return call.NewResolver(g.Keys())
}

// EntryPoints returns the nodes with no callers.
func (g *Graph) EntryPoints() []call.Call {
	return g.calls(g.entry)
}

// ExitPoints returns the nodes with no callees.
func (g *Graph) ExitPoints() []call.Call {
	return g.calls(g.exit)
}

// EntryIndices returns the node indices of the entry points.
func (g *Graph) EntryIndices() []int {
	return g.entry
}

// ExitIndices returns the node indices of the exit points.
func (g *Graph) ExitIndices() []int {
	return g.exit
}

func (g *Graph) calls(idx []int) []call.Call {
	out := make([]call.Call, len(idx))
	for i, n := range idx {
		out[i] = g.nodes[n].Call
	}
	return out
}

// OutEdges returns the indices of the edges leaving node i.
func (g *Graph) OutEdges(i int) []int {
	return g.out[i]
}

// InEdges returns the indices of the edges entering node i.
func (g *Graph) InEdges(i int) []int {
	return g.in[i]
}

// Successors returns the callees of node i.
func (g *Graph) Successors(i int) []int {
	out := make([]int, len(g.out[i]))
	for j, e := range g.out[i] {
		out[j] = g.edges[e].To
	}
	return out
}

// Predecessors returns the callers of node i.
func (g *Graph) Predecessors(i int) []int {
	out := make([]int, len(g.in[i]))
	for j, e := range g.in[i] {
		out[j] = g.edges[e].From
	}
	return out
}

// GetFan returns the fan-in and fan-out of the node identified by k.
func (g *Graph) GetFan(k call.Key) (in, out int, err error) {
	i, ok := g.index[k]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s", ErrUnknownNode, k)
	}
	return len(g.in[i]), len(g.out[i]), nil
}

// GetPageRank returns the PageRank attribute of every node.
func (g *Graph) GetPageRank() map[call.Key]float64 {
	out := make(map[call.Key]float64, len(g.nodes))
	for _, n := range g.nodes {
		out[n.Call.Key()] = n.Attrs.PageRank
	}
	return out
}

// filter returns a copy of g keeping only the nodes for which keep is true
// and the edges between them. Attributes are carried over.
func (g *Graph) filter(keep func(i int) bool) *Graph {
	sub := New(g.granularity)
	remap := make([]int, len(g.nodes))
	for i, n := range g.nodes {
		remap[i] = -1
		if !keep(i) {
			continue
		}
		j := sub.AddNode(n.Call, n.Source)
		sub.nodes[j].Attrs = n.Attrs
		remap[i] = j
	}
	for _, e := range g.edges {
		from, to := remap[e.From], remap[e.To]
		if from < 0 || to < 0 {
			continue
		}
		sub.addWeightedEdge(from, to, e.Source, e.StaticWeight, e.DynamicWeight)
	}
	sub.Recompute()
	return sub
}

// PruneStandardLibrary removes nodes that only the static trace reported
// and that carry no file, i.e. calls into undefined library functions,
// unless keep returns true for them. It returns the number of nodes removed.
func (g *Graph) PruneStandardLibrary(keep func(call.Call) bool) int {
	before := len(g.nodes)
	pruned := g.filter(func(i int) bool {
		n := g.nodes[i]
		if n.Call.HasFile() || n.Source.Has(SourceDynamic) {
			return true
		}
		return keep != nil && keep(n.Call)
	})
	*g = *pruned
	return before - len(g.nodes)
}

// Collapse re-keys the graph to the given granularity. At file granularity
// every function node is folded into its file, file-less nodes are dropped,
// edge weights add up and intra-file calls become self-loops.
func (g *Graph) Collapse(granularity call.Granularity) *Graph {
	if granularity == "" || granularity == g.granularity {
		return g
	}

	out := New(granularity)
	remap := make([]int, len(g.nodes))
	for i, n := range g.nodes {
		remap[i] = -1
		if granularity == call.File && !n.Call.HasFile() {
			continue
		}
		j := out.AddNode(n.Call.AtGranularity(granularity), n.Source)
		out.nodes[j].Attrs.merge(n.Attrs)
		remap[i] = j
	}
	for _, e := range g.edges {
		from, to := remap[e.From], remap[e.To]
		if from < 0 || to < 0 {
			continue
		}
		out.addWeightedEdge(from, to, e.Source, e.StaticWeight, e.DynamicWeight)
	}
	out.Recompute()
	return out
}
