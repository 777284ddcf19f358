package metrics

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/attack-surface/asm/internal/call"
	"github.com/attack-surface/asm/internal/graph"
)

// ErrInvalidPageRank is returned by PageRankConfig.Validate.
var ErrInvalidPageRank = errors.New("invalid pagerank config")

// Personalization is the restart weight given to each node class before
// normalization. A node that is both an entry and an exit point gets the
// entry weight.
type Personalization struct {
	Entry float64 `yaml:"entry" toml:"entry" json:"entry"`
	Exit  float64 `yaml:"exit" toml:"exit" json:"exit"`
	Other float64 `yaml:"other" toml:"other" json:"other"`
}

// PageRankConfig holds algorithm parameters for PageRank computation.
type PageRankConfig struct {
	// Damping is the probability of following an edge rather than
	// restarting from the personalization distribution.
	Damping float64 `yaml:"damping" toml:"damping" json:"damping"`

	// MaxIterations caps the power iteration. Default is 100.
	MaxIterations int `yaml:"max_iterations" toml:"max_iterations" json:"max_iterations"`

	// Tolerance is the L1 change between iterations below which the
	// iteration stops. Default is 1e-8.
	Tolerance float64 `yaml:"tolerance" toml:"tolerance" json:"tolerance"`

	Personalization Personalization `yaml:"personalization" toml:"personalization" json:"personalization"`
	Weights         graph.Weights   `yaml:"weights" toml:"weights" json:"weights"`
}

// DefaultPageRankConfig returns the default PageRank configuration.
func DefaultPageRankConfig() PageRankConfig {
	return PageRankConfig{
		Damping:       0.85,
		MaxIterations: 100,
		Tolerance:     1e-8,
		Personalization: Personalization{
			Entry: 1000,
			Exit:  100,
			Other: 1,
		},
		Weights: graph.DefaultWeights(),
	}
}

// Validate checks that the configuration describes a proper random walk.
func (c PageRankConfig) Validate() error {
	if c.Damping < 0 || c.Damping >= 1 {
		return fmt.Errorf("%w: damping must be in [0, 1), got %v", ErrInvalidPageRank, c.Damping)
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("%w: max_iterations must be positive", ErrInvalidPageRank)
	}
	if c.Tolerance <= 0 {
		return fmt.Errorf("%w: tolerance must be positive", ErrInvalidPageRank)
	}
	p := c.Personalization
	if p.Entry < 0 || p.Exit < 0 || p.Other < 0 || p.Entry+p.Exit+p.Other == 0 {
		return fmt.Errorf("%w: personalization weights must be non-negative and not all zero", ErrInvalidPageRank)
	}
	w := c.Weights
	for name, v := range map[string]float64{
		"call": w.Call, "return": w.Return, "static": w.Static, "dynamic": w.Dynamic,
		"dangerous": w.Dangerous, "defense": w.Defense, "tested": w.Tested, "vulnerable": w.Vulnerable,
	} {
		if v < 0 {
			return fmt.Errorf("%w: weight %s must be non-negative", ErrInvalidPageRank, name)
		}
	}
	return nil
}

// PageRankResult contains the PageRank computation results.
type PageRankResult struct {
	// Scores holds one score per node index. They sum to 1.
	Scores []float64

	// Iterations is the number of iterations performed
	Iterations int

	// Converged indicates whether the algorithm converged within MaxIterations
	Converged bool

	// FinalDelta is the L1 change of the last iteration
	FinalDelta float64
}

type inLink struct {
	from   int
	weight float64
}

// PageRank computes personalized PageRank over g with edge weights derived
// from cfg.Weights. It does not modify g:
//
//	PR(v) = (1-d)·p(v) + d·D·p(v) + d·Σ_{u→v} PR(u)·w(u,v)/W(u)
//
// where p is the normalized personalization vector, W(u) the total weight
// leaving u and D the mass held by nodes with no weighted out-edges. Failing
// to converge is not an error; the last iterate is returned.
func PageRank(g *graph.Graph, cfg PageRankConfig) PageRankResult {
	n := g.Len()
	if n == 0 {
		return PageRankResult{Converged: true}
	}

	p := personalization(g, cfg.Personalization)

	incoming := make([][]inLink, n)
	outWeight := make([]float64, n)
	edges := g.Edges()
	for i := range edges {
		e := &edges[i]
		w, ret := cfg.Weights.EdgeWeight(g, e)
		if w > 0 {
			incoming[e.To] = append(incoming[e.To], inLink{from: e.From, weight: w})
			outWeight[e.From] += w
		}
		if ret > 0 {
			incoming[e.From] = append(incoming[e.From], inLink{from: e.To, weight: ret})
			outWeight[e.To] += ret
		}
	}

	pr := make([]float64, n)
	copy(pr, p)
	next := make([]float64, n)

	result := PageRankResult{FinalDelta: 1}
	d := cfg.Damping
	for iter := 0; iter < cfg.MaxIterations; iter++ {
		dangling := 0.0
		for i := range pr {
			if outWeight[i] == 0 {
				dangling += pr[i]
			}
		}

		delta := 0.0
		for v := range next {
			sum := 0.0
			for _, l := range incoming[v] {
				sum += pr[l.from] * l.weight / outWeight[l.from]
			}
			next[v] = (1-d)*p[v] + d*dangling*p[v] + d*sum
			delta += math.Abs(next[v] - pr[v])
		}

		pr, next = next, pr
		result.Iterations = iter + 1
		result.FinalDelta = delta
		if delta < cfg.Tolerance {
			result.Converged = true
			break
		}
	}

	result.Scores = pr
	return result
}

// personalization returns the normalized restart distribution.
func personalization(g *graph.Graph, cfg Personalization) []float64 {
	p := make([]float64, g.Len())
	total := 0.0
	for i, node := range g.Nodes() {
		switch {
		case node.Attrs.IsEntry:
			p[i] = cfg.Entry
		case node.Attrs.IsExit:
			p[i] = cfg.Exit
		default:
			p[i] = cfg.Other
		}
		total += p[i]
	}
	if total == 0 {
		for i := range p {
			p[i] = 1 / float64(len(p))
		}
		return p
	}
	for i := range p {
		p[i] /= total
	}
	return p
}

// AssignPageRank assigns edge weights from cfg, computes PageRank and stores
// each node's score in its attributes.
func AssignPageRank(g *graph.Graph, cfg PageRankConfig) PageRankResult {
	g.AssignWeights(cfg.Weights)
	result := PageRank(g, cfg)
	for i, score := range result.Scores {
		g.NodeAt(i).Attrs.PageRank = score
	}
	return result
}

// NodeScore pairs a node with its score
type NodeScore struct {
	Node  call.Key `json:"node"`
	Score float64  `json:"score"`
}

// TopN returns the n nodes with the highest PageRank attribute. Ties are
// broken by identity so the order is deterministic.
func TopN(g *graph.Graph, n int) []NodeScore {
	if n <= 0 || g.Len() == 0 {
		return nil
	}

	result := make([]NodeScore, 0, g.Len())
	for _, node := range g.Nodes() {
		result = append(result, NodeScore{Node: node.Call.Key(), Score: node.Attrs.PageRank})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Score != result[j].Score {
			return result[i].Score > result[j].Score
		}
		return result[i].Node.String() < result[j].Node.String()
	})

	if n > len(result) {
		n = len(result)
	}
	return result[:n]
}
