package metrics

import (
	"github.com/attack-surface/asm/internal/graph"
)

// Proximity is the per-node result of the surface metrics.
type Proximity struct {
	Node int

	ToEntry     *float64
	ToExit      *float64
	ToDefense   *float64
	ToDangerous *float64

	CouplingWithEntry int
	CouplingWithExit  int
}

// classDistances runs one BFS per class direction and aggregates the hop
// distances of every class member reached.
type classDistances struct {
	sum   [4]int
	count [4]int
}

// computeProximity measures node against every class. Entry distances
// follow callers; exit, defense and dangerous distances follow callees. A
// node that is itself a member counts at distance 0.
func computeProximity(g *graph.Graph, t *graph.Traversal, node int) Proximity {
	var cd classDistances

	t.BFS(node, graph.Reverse, func(n, dist int) {
		if g.NodeAt(n).Attrs.IsEntry {
			cd.sum[graph.ClassEntry] += dist
			cd.count[graph.ClassEntry]++
		}
	})
	t.BFS(node, graph.Forward, func(n, dist int) {
		a := &g.NodeAt(n).Attrs
		for _, c := range []graph.Class{graph.ClassExit, graph.ClassDefense, graph.ClassDangerous} {
			if c.Member(a) {
				cd.sum[c] += dist
				cd.count[c]++
			}
		}
	})

	return Proximity{
		Node:              node,
		ToEntry:           cd.mean(graph.ClassEntry),
		ToExit:            cd.mean(graph.ClassExit),
		ToDefense:         cd.mean(graph.ClassDefense),
		ToDangerous:       cd.mean(graph.ClassDangerous),
		CouplingWithEntry: cd.count[graph.ClassEntry],
		CouplingWithExit:  cd.count[graph.ClassExit],
	}
}

func (cd *classDistances) mean(c graph.Class) *float64 {
	if cd.count[c] == 0 {
		return nil
	}
	m := float64(cd.sum[c]) / float64(cd.count[c])
	return &m
}

// apply stores p on its node.
func (p Proximity) apply(g *graph.Graph) {
	a := &g.NodeAt(p.Node).Attrs
	a.ProximityToEntry = p.ToEntry
	a.ProximityToExit = p.ToExit
	a.ProximityToDefense = p.ToDefense
	a.ProximityToDangerous = p.ToDangerous
	entry, exit := p.CouplingWithEntry, p.CouplingWithExit
	a.SurfaceCouplingWithEntry = &entry
	a.SurfaceCouplingWithExit = &exit
}
