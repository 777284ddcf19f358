package graph

import (
	"fmt"

	"github.com/attack-surface/asm/internal/call"
)

// Direction selects which adjacency a traversal follows.
type Direction int

const (
	// Forward follows caller -> callee edges.
	Forward Direction = iota
	// Reverse follows callee -> caller edges.
	Reverse
)

// Class is a node category that proximity is measured against.
type Class int

const (
	ClassEntry Class = iota
	ClassExit
	ClassDefense
	ClassDangerous
)

// Classes lists every class in a fixed order.
var Classes = []Class{ClassEntry, ClassExit, ClassDefense, ClassDangerous}

func (c Class) String() string {
	switch c {
	case ClassEntry:
		return "entry"
	case ClassExit:
		return "exit"
	case ClassDefense:
		return "defense"
	case ClassDangerous:
		return "dangerous"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Direction returns the traversal direction for distances to c: entry
// points are reached through callers, every other class through callees.
func (c Class) Direction() Direction {
	if c == ClassEntry {
		return Reverse
	}
	return Forward
}

// Member reports whether attributes a put a node in class c.
func (c Class) Member(a *Attrs) bool {
	switch c {
	case ClassEntry:
		return a.IsEntry
	case ClassExit:
		return a.IsExit
	case ClassDefense:
		return a.IsDefense
	case ClassDangerous:
		return a.IsDangerous
	default:
		return false
	}
}

// Traversal holds reusable BFS buffers. A Traversal is not safe for
// concurrent use; give each worker its own.
type Traversal struct {
	g     *Graph
	dist  []int
	queue []int
	seen  []int
}

// NewTraversal returns a Traversal over g.
func (g *Graph) NewTraversal() *Traversal {
	t := &Traversal{
		g:    g,
		dist: make([]int, len(g.nodes)),
	}
	for i := range t.dist {
		t.dist[i] = -1
	}
	return t
}

// BFS visits every node reachable from start in the given direction and
// calls visit with its hop distance. start is visited at distance 0.
func (t *Traversal) BFS(start int, dir Direction, visit func(node, dist int)) {
	g := t.g
	for _, n := range t.seen {
		t.dist[n] = -1
	}
	t.seen = t.seen[:0]
	t.queue = append(t.queue[:0], start)
	t.dist[start] = 0
	t.seen = append(t.seen, start)

	for head := 0; head < len(t.queue); head++ {
		current := t.queue[head]
		d := t.dist[current]
		visit(current, d)

		adj := g.out[current]
		if dir == Reverse {
			adj = g.in[current]
		}
		for _, e := range adj {
			next := g.edges[e].To
			if dir == Reverse {
				next = g.edges[e].From
			}
			if t.dist[next] >= 0 {
				continue
			}
			t.dist[next] = d + 1
			t.seen = append(t.seen, next)
			t.queue = append(t.queue, next)
		}
	}
}

// BFS returns every node reachable from start in BFS order.
func (g *Graph) BFS(start int, dir Direction) []int {
	var result []int
	g.NewTraversal().BFS(start, dir, func(n, _ int) {
		result = append(result, n)
	})
	return result
}

// ShortestPath finds a shortest path from start to end following dir.
// It returns nil if no path exists.
func (g *Graph) ShortestPath(start, end int, dir Direction) []int {
	if start == end {
		return []int{start}
	}

	parent := make(map[int]int)
	visited := map[int]struct{}{start: {}}
	queue := []int{start}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		neighbors := g.Successors(current)
		if dir == Reverse {
			neighbors = g.Predecessors(current)
		}
		for _, neighbor := range neighbors {
			if _, seen := visited[neighbor]; seen {
				continue
			}
			visited[neighbor] = struct{}{}
			parent[neighbor] = current

			if neighbor == end {
				path := []int{end}
				for node := end; node != start; {
					node = parent[node]
					path = append([]int{node}, path...)
				}
				return path
			}
			queue = append(queue, neighbor)
		}
	}
	return nil
}

// GetShortestPathLength returns the hop distance between the node k and
// every reachable member of class, keyed by the member's identity. For the
// entry class distances are measured from the entry point to k; for the
// others from k to the member. A node in the class is at distance 0 from
// itself. The map is nil when no member is reachable.
func (g *Graph) GetShortestPathLength(k call.Key, class Class) (map[call.Key]int, error) {
	i, ok := g.index[k]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, k)
	}

	var out map[call.Key]int
	g.NewTraversal().BFS(i, class.Direction(), func(n, d int) {
		if !class.Member(&g.nodes[n].Attrs) {
			return
		}
		if out == nil {
			out = make(map[call.Key]int)
		}
		out[g.nodes[n].Call.Key()] = d
	})
	return out, nil
}

// Neighborhood returns the nodes within depth hops of k in either
// direction, k first.
func (g *Graph) Neighborhood(k call.Key, depth int) ([]int, error) {
	i, ok := g.index[k]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, k)
	}

	seen := map[int]struct{}{i: {}}
	result := []int{i}
	t := g.NewTraversal()
	for _, dir := range []Direction{Reverse, Forward} {
		t.BFS(i, dir, func(n, d int) {
			if d > depth {
				return
			}
			if _, ok := seen[n]; ok {
				return
			}
			seen[n] = struct{}{}
			result = append(result, n)
		})
	}
	return result, nil
}
