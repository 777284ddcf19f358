package metrics

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/graph/network"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/attack-surface/asm/internal/call"
	"github.com/attack-surface/asm/internal/graph"
)

// floatEquals checks if two floats are approximately equal
func floatEquals(a, b, epsilon float64) bool {
	return math.Abs(a-b) < epsilon
}

func sum(scores []float64) float64 {
	total := 0.0
	for _, s := range scores {
		total += s
	}
	return total
}

// buildGraph adds static edges given as "caller callee" pairs.
func buildGraph(pairs ...[2]string) *graph.Graph {
	g := graph.New(call.Function)
	for _, p := range pairs {
		g.AddEdge(fnCall(p[0]), fnCall(p[1]), graph.SourceStatic, 1)
	}
	g.Recompute()
	return g
}

func fnCall(s string) call.Call {
	k := call.ParseKey(s)
	return call.New(k.Name, k.File)
}

func index(t *testing.T, g *graph.Graph, s string) int {
	t.Helper()
	i, ok := g.Lookup(call.ParseKey(s))
	if !ok {
		t.Fatalf("node %s not found", s)
	}
	return i
}

// randomGraph builds a graph of n nodes with random static and dynamic
// edges, no self-loops.
func randomGraph(rng *rand.Rand, n, edges int) *graph.Graph {
	g := graph.New(call.Function)
	for i := 0; i < n; i++ {
		g.AddNode(call.New(fmt.Sprintf("f%d", i), "r.c"), graph.SourceStatic)
	}
	for i := 0; i < edges; i++ {
		a, b := rng.Intn(n), rng.Intn(n)
		if a == b {
			continue
		}
		src := graph.SourceStatic
		if rng.Intn(3) == 0 {
			src = graph.SourceDynamic
		}
		g.AddEdge(g.NodeAt(a).Call, g.NodeAt(b).Call, src, 1+rng.Intn(5))
	}
	g.Recompute()
	return g
}

func TestPageRankEmptyGraph(t *testing.T) {
	result := PageRank(graph.New(call.Function), DefaultPageRankConfig())
	if !result.Converged || len(result.Scores) != 0 {
		t.Errorf("empty graph: got %+v", result)
	}
}

func TestPageRankSumsToOne(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	configs := []PageRankConfig{DefaultPageRankConfig()}

	withReturn := DefaultPageRankConfig()
	withReturn.Weights.Return = 10
	withReturn.Weights.Dangerous = 5
	configs = append(configs, withReturn)

	lowDamping := DefaultPageRankConfig()
	lowDamping.Damping = 0.1
	lowDamping.Personalization = Personalization{Entry: 1, Exit: 1e6, Other: 1}
	configs = append(configs, lowDamping)

	capped := DefaultPageRankConfig()
	capped.MaxIterations = 2
	configs = append(configs, capped)

	for iter := 0; iter < 20; iter++ {
		g := randomGraph(rng, 1+rng.Intn(40), rng.Intn(80))
		for i := range g.Nodes() {
			g.NodeAt(i).Attrs.IsDangerous = rng.Intn(5) == 0
		}
		for ci, cfg := range configs {
			result := PageRank(g, cfg)
			if got := sum(result.Scores); !floatEquals(got, 1, 1e-9) {
				t.Errorf("iteration %d config %d: scores sum to %v", iter, ci, got)
			}
		}
	}
}

func TestPageRankMatchesReference(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for iter := 0; iter < 10; iter++ {
		n := 2 + rng.Intn(30)
		g := graph.New(call.Function)
		ref := simple.NewDirectedGraph()
		for i := 0; i < n; i++ {
			g.AddNode(call.New(fmt.Sprintf("f%d", i), "r.c"), graph.SourceStatic)
			ref.AddNode(simple.Node(i))
		}
		for i := 0; i < 2*n; i++ {
			a, b := rng.Intn(n), rng.Intn(n)
			if a == b || ref.HasEdgeFromTo(int64(a), int64(b)) {
				continue
			}
			g.AddEdge(g.NodeAt(a).Call, g.NodeAt(b).Call, graph.SourceStatic, 1)
			ref.SetEdge(simple.Edge{F: simple.Node(a), T: simple.Node(b)})
		}
		g.Recompute()

		cfg := DefaultPageRankConfig()
		cfg.Personalization = Personalization{Entry: 1, Exit: 1, Other: 1}
		result := PageRank(g, cfg)
		want := network.PageRank(ref, cfg.Damping, 1e-10)

		for i, score := range result.Scores {
			if !floatEquals(score, want[int64(i)], 1e-3) {
				t.Errorf("iteration %d node %d: got %v, want %v", iter, i, score, want[int64(i)])
			}
		}
	}
}

func TestPageRankPersonalizationFavorsEntry(t *testing.T) {
	g := buildGraph([2]string{"main", "a"}, [2]string{"b", "a"}, [2]string{"a", "leaf"})
	g.AddNode(fnCall("lonely"), graph.SourceStatic)
	g.Recompute()

	uniform := DefaultPageRankConfig()
	uniform.Personalization = Personalization{Entry: 1, Exit: 1, Other: 1}
	base := PageRank(g, uniform)
	biased := PageRank(g, DefaultPageRankConfig())

	main := index(t, g, "main")
	if biased.Scores[main] <= base.Scores[main] {
		t.Errorf("entry weight should raise main: %v <= %v", biased.Scores[main], base.Scores[main])
	}
	// lonely is both entry and exit and takes the entry weight
	lonely := index(t, g, "lonely")
	if !floatEquals(biased.Scores[lonely], biased.Scores[main], 1e-12) {
		t.Errorf("isolated node should match entry: %v vs %v", biased.Scores[lonely], biased.Scores[main])
	}
}

func TestPageRankReturnEdges(t *testing.T) {
	g := buildGraph([2]string{"main", "leaf"})
	cfg := DefaultPageRankConfig()
	cfg.Personalization = Personalization{Entry: 1, Exit: 1, Other: 1}

	forward := PageRank(g, cfg)
	cfg.Weights.Return = 1
	both := PageRank(g, cfg)

	main := index(t, g, "main")
	if both.Scores[main] <= forward.Scores[main] {
		t.Errorf("return edge should feed main: %v <= %v", both.Scores[main], forward.Scores[main])
	}
	if !floatEquals(both.Scores[0], both.Scores[1], 1e-9) {
		t.Errorf("symmetric pair should have equal scores, got %v", both.Scores)
	}
}

func TestPageRankNonConvergence(t *testing.T) {
	g := buildGraph([2]string{"a", "b"}, [2]string{"b", "c"}, [2]string{"c", "a"}, [2]string{"x", "a"})
	cfg := DefaultPageRankConfig()
	cfg.MaxIterations = 1

	result := PageRank(g, cfg)
	if result.Converged {
		t.Error("expected no convergence after one iteration")
	}
	if result.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", result.Iterations)
	}
	if !floatEquals(sum(result.Scores), 1, 1e-9) {
		t.Errorf("scores sum to %v", sum(result.Scores))
	}
}

func TestAssignPageRankIdempotent(t *testing.T) {
	g := buildGraph([2]string{"main", "a"}, [2]string{"a", "b"}, [2]string{"b", "a"})
	cfg := DefaultPageRankConfig()

	AssignPageRank(g, cfg)
	first := g.GetPageRank()
	AssignPageRank(g, cfg)
	second := g.GetPageRank()

	for k, v := range first {
		if !floatEquals(v, second[k], 1e-12) {
			t.Errorf("%s: %v then %v", k, v, second[k])
		}
	}
	e := g.Edges()[0]
	if e.Weight != 1 {
		t.Errorf("edge weight = %v, want 1", e.Weight)
	}
}

func TestPageRankConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*PageRankConfig)
		valid  bool
	}{
		{"default", func(*PageRankConfig) {}, true},
		{"damping one", func(c *PageRankConfig) { c.Damping = 1 }, false},
		{"negative damping", func(c *PageRankConfig) { c.Damping = -0.1 }, false},
		{"no iterations", func(c *PageRankConfig) { c.MaxIterations = 0 }, false},
		{"zero tolerance", func(c *PageRankConfig) { c.Tolerance = 0 }, false},
		{"zero personalization", func(c *PageRankConfig) { c.Personalization = Personalization{} }, false},
		{"negative weight", func(c *PageRankConfig) { c.Weights.Tested = -1 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultPageRankConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.valid && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidPageRank) {
				t.Errorf("expected ErrInvalidPageRank, got %v", err)
			}
		})
	}
}

func TestTopN(t *testing.T) {
	g := buildGraph([2]string{"main", "a"}, [2]string{"main", "b"}, [2]string{"a", "b"})
	AssignPageRank(g, DefaultPageRankConfig())

	top := TopN(g, 2)
	if len(top) != 2 {
		t.Fatalf("expected 2 results, got %d", len(top))
	}
	if top[0].Score < top[1].Score {
		t.Errorf("results not sorted: %v", top)
	}
	if got := TopN(g, 10); len(got) != 3 {
		t.Errorf("TopN(10) returned %d results", len(got))
	}
	if TopN(g, 0) != nil {
		t.Error("TopN(0) should be nil")
	}
}
