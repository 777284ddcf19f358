// Package metrics computes the attack-surface metrics of a call graph:
// proximity to and coupling with the attack surface, personalized PageRank
// and monolithicity.
package metrics

import (
	"github.com/attack-surface/asm/internal/graph"
)

// FunctionMetrics is the flat per-node row handed to a Sink.
type FunctionMetrics struct {
	Name string `json:"name" yaml:"name"`
	File string `json:"file,omitempty" yaml:"file,omitempty"`

	IsEntry           bool `json:"is_entry" yaml:"is_entry"`
	IsExit            bool `json:"is_exit" yaml:"is_exit"`
	IsTested          bool `json:"is_tested" yaml:"is_tested"`
	IsDefense         bool `json:"is_defense" yaml:"is_defense"`
	IsDangerous       bool `json:"is_dangerous" yaml:"is_dangerous"`
	CallsDangerous    bool `json:"calls_dangerous" yaml:"calls_dangerous"`
	IsVulnerable      bool `json:"is_vulnerable" yaml:"is_vulnerable"`
	BecomesVulnerable bool `json:"becomes_vulnerable" yaml:"becomes_vulnerable"`

	SLOC      *int    `json:"sloc" yaml:"sloc"`
	FanIn     int     `json:"fan_in" yaml:"fan_in"`
	FanOut    int     `json:"fan_out" yaml:"fan_out"`
	Frequency int     `json:"frequency" yaml:"frequency"`
	PageRank  float64 `json:"page_rank" yaml:"page_rank"`

	ProximityToEntry     *float64 `json:"proximity_to_entry" yaml:"proximity_to_entry"`
	ProximityToExit      *float64 `json:"proximity_to_exit" yaml:"proximity_to_exit"`
	ProximityToDefense   *float64 `json:"proximity_to_defense" yaml:"proximity_to_defense"`
	ProximityToDangerous *float64 `json:"proximity_to_dangerous" yaml:"proximity_to_dangerous"`

	SurfaceCouplingWithEntry *int `json:"surface_coupling_with_entry" yaml:"surface_coupling_with_entry"`
	SurfaceCouplingWithExit  *int `json:"surface_coupling_with_exit" yaml:"surface_coupling_with_exit"`
}

// FromNode flattens a node into a row.
func FromNode(n graph.Node) FunctionMetrics {
	a := n.Attrs
	return FunctionMetrics{
		Name:                     n.Call.Name,
		File:                     n.Call.File,
		IsEntry:                  a.IsEntry,
		IsExit:                   a.IsExit,
		IsTested:                 a.IsTested,
		IsDefense:                a.IsDefense,
		IsDangerous:              a.IsDangerous,
		CallsDangerous:           a.CallsDangerous,
		IsVulnerable:             a.IsVulnerable,
		BecomesVulnerable:        a.BecomesVulnerable,
		SLOC:                     a.SLOC,
		FanIn:                    a.FanIn,
		FanOut:                   a.FanOut,
		Frequency:                a.Frequency,
		PageRank:                 a.PageRank,
		ProximityToEntry:         a.ProximityToEntry,
		ProximityToExit:          a.ProximityToExit,
		ProximityToDefense:       a.ProximityToDefense,
		ProximityToDangerous:     a.ProximityToDangerous,
		SurfaceCouplingWithEntry: a.SurfaceCouplingWithEntry,
		SurfaceCouplingWithExit:  a.SurfaceCouplingWithExit,
	}
}

// Rows flattens every node of g in index order.
func Rows(g *graph.Graph) []FunctionMetrics {
	rows := make([]FunctionMetrics, 0, g.Len())
	for _, n := range g.Nodes() {
		rows = append(rows, FromNode(n))
	}
	return rows
}
