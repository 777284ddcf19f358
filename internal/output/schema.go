package output

import (
	"math"
	"time"

	"github.com/attack-surface/asm/internal/cache"
	"github.com/attack-surface/asm/internal/metrics"
	"github.com/attack-surface/asm/internal/store"
)

// FunctionOutput is one function of the call graph.
type FunctionOutput struct {
	// Name is the function name, empty at file granularity.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
	File string `yaml:"file,omitempty" json:"file,omitempty"`

	// Classes lists the attack-surface classes of the function
	// Example: ["entry", "calls_dangerous", "tested"]
	Classes []string `yaml:"classes,omitempty" json:"classes,omitempty"`

	PageRank float64 `yaml:"page_rank" json:"page_rank"`
	FanIn    *int    `yaml:"fan_in,omitempty" json:"fan_in,omitempty"`
	FanOut   *int    `yaml:"fan_out,omitempty" json:"fan_out,omitempty"`

	// Dense mode only.
	SLOC      *int       `yaml:"sloc,omitempty" json:"sloc,omitempty"`
	Frequency *int       `yaml:"frequency,omitempty" json:"frequency,omitempty"`
	Proximity *Proximity `yaml:"proximity,omitempty" json:"proximity,omitempty"`
	Coupling  *Coupling  `yaml:"surface_coupling,omitempty" json:"surface_coupling,omitempty"`
}

// Proximity holds the mean shortest path length to each node class. A
// missing value means no node of that class is reachable.
type Proximity struct {
	ToEntry     *float64 `yaml:"to_entry" json:"to_entry"`
	ToExit      *float64 `yaml:"to_exit" json:"to_exit"`
	ToDefense   *float64 `yaml:"to_defense" json:"to_defense"`
	ToDangerous *float64 `yaml:"to_dangerous" json:"to_dangerous"`
}

// Coupling holds the number of reachable entry and exit points.
type Coupling struct {
	WithEntry *int `yaml:"with_entry" json:"with_entry"`
	WithExit  *int `yaml:"with_exit" json:"with_exit"`
}

// NewFunctionOutput builds the full view of a function row.
func NewFunctionOutput(m metrics.FunctionMetrics) *FunctionOutput {
	fanIn, fanOut, freq := m.FanIn, m.FanOut, m.Frequency
	return &FunctionOutput{
		Name:      m.Name,
		File:      m.File,
		Classes:   Classes(m),
		PageRank:  m.PageRank,
		FanIn:     &fanIn,
		FanOut:    &fanOut,
		SLOC:      m.SLOC,
		Frequency: &freq,
		Proximity: &Proximity{
			ToEntry:     m.ProximityToEntry,
			ToExit:      m.ProximityToExit,
			ToDefense:   m.ProximityToDefense,
			ToDangerous: m.ProximityToDangerous,
		},
		Coupling: &Coupling{
			WithEntry: m.SurfaceCouplingWithEntry,
			WithExit:  m.SurfaceCouplingWithExit,
		},
	}
}

// Classes returns the class names of m in a fixed order.
func Classes(m metrics.FunctionMetrics) []string {
	var classes []string
	for _, c := range []struct {
		set  bool
		name string
	}{
		{m.IsEntry, "entry"},
		{m.IsExit, "exit"},
		{m.IsDefense, "defense"},
		{m.IsDangerous, "dangerous"},
		{m.CallsDangerous, "calls_dangerous"},
		{m.IsVulnerable, "vulnerable"},
		{m.BecomesVulnerable, "becomes_vulnerable"},
		{m.IsTested, "tested"},
	} {
		if c.set {
			classes = append(classes, c.name)
		}
	}
	return classes
}

// ListOutput is a ranked list of functions.
type ListOutput struct {
	Functions []*FunctionOutput `yaml:"functions" json:"functions"`
	Count     int               `yaml:"count" json:"count"`

	// Total is the number of functions before the list was truncated.
	Total int `yaml:"total" json:"total"`
}

// NewListOutput builds a list from rows already in rank order, keeping at
// most top rows. A top of zero keeps every row.
func NewListOutput(rows []metrics.FunctionMetrics, top int) *ListOutput {
	total := len(rows)
	if top > 0 && top < len(rows) {
		rows = rows[:top]
	}
	list := &ListOutput{Total: total}
	for _, r := range rows {
		list.Functions = append(list.Functions, NewFunctionOutput(r))
	}
	list.Count = len(list.Functions)
	return list
}

// ReleaseOutput summarizes one analysis run.
type ReleaseOutput struct {
	RunID       string `yaml:"run_id,omitempty" json:"run_id,omitempty"`
	Subject     string `yaml:"subject" json:"subject"`
	Release     string `yaml:"release" json:"release"`
	Granularity string `yaml:"granularity" json:"granularity"`

	Stats    metrics.GraphStats `yaml:"stats" json:"stats"`
	PageRank PageRankSummary    `yaml:"pagerank" json:"pagerank"`

	// Lost counts functions dropped by a failed computation.
	Lost int `yaml:"lost,omitempty" json:"lost,omitempty"`

	CacheHit  bool              `yaml:"cache_hit" json:"cache_hit"`
	Commit    string            `yaml:"commit,omitempty" json:"commit,omitempty"`
	CreatedAt string            `yaml:"created_at,omitempty" json:"created_at,omitempty"`
	Top       []*FunctionOutput `yaml:"top,omitempty" json:"top,omitempty"`
}

// PageRankSummary describes how the PageRank iteration ended.
type PageRankSummary struct {
	Damping    float64 `yaml:"damping" json:"damping"`
	Iterations int     `yaml:"iterations" json:"iterations"`
	Converged  bool    `yaml:"converged" json:"converged"`
}

// NewReleaseOutput builds the summary of a stored run.
func NewReleaseOutput(r *store.Release) *ReleaseOutput {
	out := &ReleaseOutput{
		RunID:       r.RunID,
		Subject:     r.Subject,
		Release:     r.Release,
		Granularity: string(r.Granularity),
		Stats:       r.Stats,
		PageRank: PageRankSummary{
			Damping:    r.Damping,
			Iterations: r.PageRankIterations,
			Converged:  r.PageRankConverged,
		},
	}
	if !r.CreatedAt.IsZero() {
		out.CreatedAt = r.CreatedAt.UTC().Format(time.RFC3339)
	}
	return out
}

// CacheOutput describes the graph cache.
type CacheOutput struct {
	Path    string       `yaml:"path" json:"path"`
	Stats   cache.Stats  `yaml:"stats" json:"stats"`
	Entries []CacheEntry `yaml:"entries,omitempty" json:"entries,omitempty"`
}

// CacheEntry is one cached graph.
type CacheEntry struct {
	Key           string `yaml:"key" json:"key"`
	FormatVersion int    `yaml:"format_version" json:"format_version"`
	Size          int    `yaml:"size" json:"size"`
	CreatedAt     string `yaml:"created_at" json:"created_at"`
}

// NewCacheOutput builds the cache view.
func NewCacheOutput(path string, stats *cache.Stats, entries []cache.Entry) *CacheOutput {
	out := &CacheOutput{Path: path}
	if stats != nil {
		out.Stats = *stats
	}
	for _, e := range entries {
		out.Entries = append(out.Entries, CacheEntry{
			Key:           e.Key.String(),
			FormatVersion: e.FormatVersion,
			Size:          e.Size,
			CreatedAt:     e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}

// SweepOutput lists the results of a sensitivity sweep.
type SweepOutput struct {
	Points  int        `yaml:"points" json:"points"`
	Results []SweepRow `yaml:"results" json:"results"`
}

// SweepRow is one parameter set of a sweep. Statistics that are undefined
// for the graph are omitted.
type SweepRow struct {
	metrics.Parameters `yaml:",inline"`

	Converged  bool `yaml:"converged" json:"converged"`
	Iterations int  `yaml:"iterations" json:"iterations"`

	VulnerableMean   *float64 `yaml:"vulnerable_mean,omitempty" json:"vulnerable_mean,omitempty"`
	NeutralMean      *float64 `yaml:"neutral_mean,omitempty" json:"neutral_mean,omitempty"`
	VulnerableMedian *float64 `yaml:"vulnerable_median,omitempty" json:"vulnerable_median,omitempty"`
	NeutralMedian    *float64 `yaml:"neutral_median,omitempty" json:"neutral_median,omitempty"`
	P                *float64 `yaml:"p,omitempty" json:"p,omitempty"`
	CohensD          *float64 `yaml:"cohens_d,omitempty" json:"cohens_d,omitempty"`
}

// NewSweepOutput converts sweep results.
func NewSweepOutput(results []metrics.SweepResult) *SweepOutput {
	out := &SweepOutput{Points: len(results), Results: make([]SweepRow, 0, len(results))}
	for _, r := range results {
		c := r.Comparison
		out.Results = append(out.Results, SweepRow{
			Parameters:       r.Parameters,
			Converged:        r.Converged,
			Iterations:       r.Iterations,
			VulnerableMean:   finite(c.VulnerableMean),
			NeutralMean:      finite(c.NeutralMean),
			VulnerableMedian: finite(c.VulnerableMedian),
			NeutralMedian:    finite(c.NeutralMedian),
			P:                finite(c.P),
			CohensD:          finite(c.CohensD),
		})
	}
	return out
}

// finite returns nil for NaN and infinities, which JSON cannot encode.
func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// HistoryOutput lists stored runs and the commits that recorded them.
type HistoryOutput struct {
	Releases []*ReleaseOutput   `yaml:"releases,omitempty" json:"releases,omitempty"`
	Commits  []store.LogEntry   `yaml:"commits,omitempty" json:"commits,omitempty"`
	Diff     *store.DiffSummary `yaml:"diff,omitempty" json:"diff,omitempty"`
}
