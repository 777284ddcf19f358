// Package trace loads textual call-graph dumps into edge lists.
//
// Two dump families are supported: static traces (an indentation-encoded call
// tree as printed by cflow) and dynamic traces (profiler call counts, either a
// flat caller/callee/count table or gprof call-graph blocks). Loaders never
// fail on a bad line; malformed lines are skipped, counted and logged.
package trace

import (
	"github.com/attack-surface/asm/internal/call"
)

// Source tags where an edge or node was observed.
type Source string

const (
	// Static edges come from lexical call relationships.
	Static Source = "static"
	// Dynamic edges come from calls observed at run time.
	Dynamic Source = "dynamic"
)

// Edge is one caller -> callee relationship with the weight the source
// assigned it: 1 for a static edge, the summed call count for a dynamic one.
type Edge struct {
	Caller call.Call
	Callee call.Call
	Weight int
}

// Trace is the intermediate result of loading one (or several combined) dumps.
type Trace struct {
	Source Source

	// Nodes lists every call seen, in first-seen order.
	Nodes []call.Call

	// Edges lists distinct caller/callee pairs in first-seen order.
	Edges []Edge

	// Recursive marks calls the dump flagged as recursive.
	Recursive map[call.Key]bool

	// Skipped counts malformed lines.
	Skipped int
}

// IsEmpty reports whether the trace produced no nodes.
func (t *Trace) IsEmpty() bool {
	return t == nil || len(t.Nodes) == 0
}

// builder accumulates nodes and edges, collapsing duplicates.
type builder struct {
	trace     *Trace
	nodeIndex map[call.Key]int
	edgeIndex map[[2]call.Key]int
}

func newBuilder(source Source) *builder {
	return &builder{
		trace: &Trace{
			Source:    source,
			Recursive: make(map[call.Key]bool),
		},
		nodeIndex: make(map[call.Key]int),
		edgeIndex: make(map[[2]call.Key]int),
	}
}

func (b *builder) addNode(c call.Call) {
	if _, ok := b.nodeIndex[c.Key()]; ok {
		return
	}
	b.nodeIndex[c.Key()] = len(b.trace.Nodes)
	b.trace.Nodes = append(b.trace.Nodes, c)
}

// addEdge records caller -> callee. Static edges keep weight 1 no matter how
// often the pair is listed; dynamic weights accumulate.
func (b *builder) addEdge(caller, callee call.Call, weight int) {
	b.addNode(caller)
	b.addNode(callee)

	key := [2]call.Key{caller.Key(), callee.Key()}
	if i, ok := b.edgeIndex[key]; ok {
		if b.trace.Source == Dynamic {
			b.trace.Edges[i].Weight += weight
		}
		return
	}
	b.edgeIndex[key] = len(b.trace.Edges)
	b.trace.Edges = append(b.trace.Edges, Edge{Caller: caller, Callee: callee, Weight: weight})
}

func (b *builder) markRecursive(c call.Call) {
	b.trace.Recursive[c.Key()] = true
}

// Combine folds several traces of the same source into one, in argument
// order. Dynamic weights are summed per edge; static edges stay at weight 1.
func Combine(source Source, traces ...*Trace) *Trace {
	b := newBuilder(source)
	for _, t := range traces {
		if t == nil {
			continue
		}
		for _, n := range t.Nodes {
			b.addNode(n)
		}
		for _, e := range t.Edges {
			b.addEdge(e.Caller, e.Callee, e.Weight)
		}
		for k := range t.Recursive {
			b.trace.Recursive[k] = true
		}
		b.trace.Skipped += t.Skipped
	}
	return b.trace
}
