package graph

// Weights configures the edge weights used by PageRank.
//
// A call edge u -> v weighs Call scaled by its source multipliers, plus a
// bonus for each attribute v carries. When Return is positive every call
// edge is paired with a return edge v -> u weighing Return plus the
// bonuses of u.
type Weights struct {
	Call   float64 `yaml:"call" toml:"call" json:"call"`
	Return float64 `yaml:"return" toml:"return" json:"return"`

	Static  float64 `yaml:"static" toml:"static" json:"static"`
	Dynamic float64 `yaml:"dynamic" toml:"dynamic" json:"dynamic"`

	Dangerous  float64 `yaml:"dangerous" toml:"dangerous" json:"dangerous"`
	Defense    float64 `yaml:"defense" toml:"defense" json:"defense"`
	Tested     float64 `yaml:"tested" toml:"tested" json:"tested"`
	Vulnerable float64 `yaml:"vulnerable" toml:"vulnerable" json:"vulnerable"`
}

// DefaultWeights returns unit call weights with no return edges or bonuses.
func DefaultWeights() Weights {
	return Weights{
		Call:    1,
		Static:  1,
		Dynamic: 1,
	}
}

func (w Weights) bonus(a *Attrs) float64 {
	var b float64
	if a.IsDangerous {
		b += w.Dangerous
	}
	if a.IsDefense {
		b += w.Defense
	}
	if a.IsTested {
		b += w.Tested
	}
	if a.IsVulnerable {
		b += w.Vulnerable
	}
	return b
}

// EdgeWeight returns the call and return weight of e within g.
func (w Weights) EdgeWeight(g *Graph, e *Edge) (weight, ret float64) {
	var scale float64
	if e.Source.Has(SourceStatic) {
		scale += w.Static
	}
	if e.Source.Has(SourceDynamic) {
		scale += w.Dynamic
	}
	weight = w.Call*scale + w.bonus(&g.nodes[e.To].Attrs)
	if w.Return > 0 {
		ret = w.Return + w.bonus(&g.nodes[e.From].Attrs)
	}
	return weight, ret
}

// AssignWeights sets Weight and ReturnWeight on every edge. Calling it again
// with the same weights yields the same values.
func (g *Graph) AssignWeights(w Weights) {
	for i := range g.edges {
		e := &g.edges[i]
		e.Weight, e.ReturnWeight = w.EdgeWeight(g, e)
	}
}
