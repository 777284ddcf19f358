package metrics

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/attack-surface/asm/internal/graph"
)

// Parameters is one point of the sensitivity grid. Personalization and call
// weights are powers of ten.
type Parameters struct {
	Damping     float64 `json:"damping" yaml:"damping"`
	EntryPower  int     `json:"entry_power" yaml:"entry_power"`
	ExitPower   int     `json:"exit_power" yaml:"exit_power"`
	CallPower   int     `json:"call_power" yaml:"call_power"`
	ReturnPower int     `json:"return_power" yaml:"return_power"`
}

// PageRankConfig returns base with the parameters applied.
func (p Parameters) PageRankConfig(base PageRankConfig) PageRankConfig {
	cfg := base
	cfg.Damping = p.Damping
	cfg.Personalization = Personalization{
		Entry: math.Pow(10, float64(p.EntryPower)),
		Exit:  math.Pow(10, float64(p.ExitPower)),
		Other: 1,
	}
	cfg.Weights.Call = math.Pow(10, float64(p.CallPower))
	cfg.Weights.Return = math.Pow(10, float64(p.ReturnPower))
	return cfg
}

// ParameterGrid enumerates damping 0.10 to 0.95 in steps of 0.05, entry
// and exit powers 0 to 6 and call and return powers 0 to 4.
func ParameterGrid() []Parameters {
	var grid []Parameters
	for step := 2; step < 20; step++ {
		damping := math.Round(float64(step)*5) / 100
		for entry := 0; entry <= 6; entry++ {
			for exit := 0; exit <= 6; exit++ {
				for c := 0; c <= 4; c++ {
					for r := 0; r <= 4; r++ {
						grid = append(grid, Parameters{
							Damping:     damping,
							EntryPower:  entry,
							ExitPower:   exit,
							CallPower:   c,
							ReturnPower: r,
						})
					}
				}
			}
		}
	}
	return grid
}

// WriteParameters writes the grid as CSV rows of damping, entry, exit,
// other, call and return weights.
func WriteParameters(w io.Writer, grid []Parameters) error {
	cw := csv.NewWriter(w)
	for _, p := range grid {
		err := cw.Write([]string{
			strconv.FormatFloat(p.Damping, 'f', 2, 64),
			strconv.Itoa(pow10(p.EntryPower)),
			strconv.Itoa(pow10(p.ExitPower)),
			"1",
			strconv.Itoa(pow10(p.CallPower)),
			strconv.Itoa(pow10(p.ReturnPower)),
		})
		if err != nil {
			return fmt.Errorf("write parameters: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func pow10(n int) int {
	v := 1
	for range n {
		v *= 10
	}
	return v
}

// Comparison contrasts a metric between vulnerable and neutral nodes.
type Comparison struct {
	VulnerableMean   float64 `json:"vulnerable_mean" yaml:"vulnerable_mean"`
	NeutralMean      float64 `json:"neutral_mean" yaml:"neutral_mean"`
	VulnerableMedian float64 `json:"vulnerable_median" yaml:"vulnerable_median"`
	NeutralMedian    float64 `json:"neutral_median" yaml:"neutral_median"`

	// P is the two-sided Mann-Whitney U p-value (normal approximation).
	P float64 `json:"p" yaml:"p"`
	// CohensD is the effect size with a pooled standard deviation.
	CohensD float64 `json:"cohens_d" yaml:"cohens_d"`
}

// SweepResult is the outcome for one parameter set.
type SweepResult struct {
	Parameters Parameters `json:"parameters" yaml:"parameters"`
	Converged  bool       `json:"converged" yaml:"converged"`
	Iterations int        `json:"iterations" yaml:"iterations"`
	Comparison Comparison `json:"comparison" yaml:"comparison"`
}

// Sweep computes PageRank for every parameter set and compares scores of
// vulnerable nodes against the rest. g must be classified; it is not
// modified. At most workers points run at once, GOMAXPROCS when workers is
// not positive. Results are in grid order.
func Sweep(ctx context.Context, g *graph.Graph, base PageRankConfig, grid []Parameters, workers int) ([]SweepResult, error) {
	vulnerable := make([]bool, g.Len())
	for i, n := range g.Nodes() {
		vulnerable[i] = n.Attrs.IsVulnerable
	}

	results := make([]SweepResult, len(grid))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workerLimit(workers))
	for i, p := range grid {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cfg := p.PageRankConfig(base)
			if err := cfg.Validate(); err != nil {
				return err
			}
			pr := PageRank(g, cfg)
			results[i] = SweepResult{
				Parameters: p,
				Converged:  pr.Converged,
				Iterations: pr.Iterations,
				Comparison: Compare(pr.Scores, vulnerable),
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Compare splits values by the vulnerable mask and compares the groups.
// Non-finite values are ignored.
func Compare(values []float64, vulnerable []bool) Comparison {
	var vuln, neut []float64
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if vulnerable[i] {
			vuln = append(vuln, v)
		} else {
			neut = append(neut, v)
		}
	}
	sort.Float64s(vuln)
	sort.Float64s(neut)

	c := Comparison{
		VulnerableMean:   mean(vuln),
		NeutralMean:      mean(neut),
		VulnerableMedian: median(vuln),
		NeutralMedian:    median(neut),
		P:                mannWhitneyP(vuln, neut),
		CohensD:          cohensD(vuln, neut),
	}
	return c
}

func mean(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	return stat.Mean(x, nil)
}

// median expects sorted input.
func median(x []float64) float64 {
	switch n := len(x); {
	case n == 0:
		return math.NaN()
	case n%2 == 1:
		return x[n/2]
	default:
		return (x[n/2-1] + x[n/2]) / 2
	}
}

func cohensD(a, b []float64) float64 {
	n1, n2 := float64(len(a)), float64(len(b))
	if n1 < 2 || n2 < 2 {
		return math.NaN()
	}
	v1 := stat.Variance(a, nil)
	v2 := stat.Variance(b, nil)
	sd := math.Sqrt(((n1-1)*v1 + (n2-1)*v2) / (n1 + n2 - 2))
	if sd == 0 {
		return math.NaN()
	}
	return (stat.Mean(a, nil) - stat.Mean(b, nil)) / sd
}

// mannWhitneyP returns the two-sided p-value of the rank-sum test using the
// tie-corrected normal approximation.
func mannWhitneyP(a, b []float64) float64 {
	n1, n2 := len(a), len(b)
	if n1 == 0 || n2 == 0 {
		return math.NaN()
	}

	type obs struct {
		v     float64
		first bool
	}
	all := make([]obs, 0, n1+n2)
	for _, v := range a {
		all = append(all, obs{v, true})
	}
	for _, v := range b {
		all = append(all, obs{v, false})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].v < all[j].v })

	n := float64(n1 + n2)
	rankSum, ties := 0.0, 0.0
	for i := 0; i < len(all); {
		j := i
		for j < len(all) && all[j].v == all[i].v {
			j++
		}
		rank := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			if all[k].first {
				rankSum += rank
			}
		}
		t := float64(j - i)
		ties += t*t*t - t
		i = j
	}

	f1, f2 := float64(n1), float64(n2)
	u := rankSum - f1*(f1+1)/2
	mu := f1 * f2 / 2
	sigma := math.Sqrt(f1 * f2 / 12 * ((n + 1) - ties/(n*(n-1))))
	if sigma == 0 {
		return 1
	}
	// continuity correction
	z := (math.Abs(u-mu) - 0.5) / sigma
	if z < 0 {
		z = 0
	}
	return 2 * distuv.UnitNormal.Survival(z)
}
