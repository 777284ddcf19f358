package metrics

import (
	"bytes"
	"context"
	"math"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParameterGrid(t *testing.T) {
	grid := ParameterGrid()
	require.Len(t, grid, 18*7*7*5*5)

	assert.Equal(t, Parameters{Damping: 0.1}, grid[0])
	last := grid[len(grid)-1]
	assert.Equal(t, Parameters{Damping: 0.95, EntryPower: 6, ExitPower: 6, CallPower: 4, ReturnPower: 4}, last)

	cfg := last.PageRankConfig(DefaultPageRankConfig())
	assert.Equal(t, 1e6, cfg.Personalization.Entry)
	assert.Equal(t, 1.0, cfg.Personalization.Other)
	assert.Equal(t, 1e4, cfg.Weights.Return)
	assert.NoError(t, cfg.Validate())
}

func TestWriteParameters(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteParameters(&buf, []Parameters{
		{Damping: 0.1},
		{Damping: 0.85, EntryPower: 3, ExitPower: 2, CallPower: 1, ReturnPower: 0},
	}))
	assert.Equal(t, "0.10,1,1,1,1,1\n0.85,1000,100,1,10,1\n", buf.String())
}

func TestCompare(t *testing.T) {
	values := []float64{0.5, 0.4, 0.1, 0.2, 0.05, math.NaN()}
	vulnerable := []bool{true, true, false, false, false, true}

	c := Compare(values, vulnerable)
	assert.InDelta(t, 0.45, c.VulnerableMean, 1e-12)
	assert.InDelta(t, 0.45, c.VulnerableMedian, 1e-12)
	assert.InDelta(t, 0.35/3, c.NeutralMean, 1e-12)
	assert.InDelta(t, 0.1, c.NeutralMedian, 1e-12)
	assert.True(t, c.CohensD > 0)
	assert.True(t, c.P > 0 && c.P <= 1)

	empty := Compare([]float64{0.1}, []bool{false})
	assert.True(t, math.IsNaN(empty.VulnerableMean))
	assert.True(t, math.IsNaN(empty.P))
}

func TestMannWhitneySeparatedGroups(t *testing.T) {
	a := []float64{10, 11, 12, 13, 14, 15, 16, 17, 18, 19}
	b := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 9.5}
	p := mannWhitneyP(a, b)
	assert.Less(t, p, 0.001)

	same := mannWhitneyP([]float64{1, 1, 1}, []float64{1, 1})
	assert.Equal(t, 1.0, same)
}

func TestSweep(t *testing.T) {
	g := surfaceGraph(t)
	g.NodeAt(index(t, g, "parse@p.c")).Attrs.IsVulnerable = true
	before := g.GetPageRank()

	grid := []Parameters{
		{Damping: 0.5},
		{Damping: 0.85, EntryPower: 3, ExitPower: 2, CallPower: 1, ReturnPower: 1},
	}
	base := DefaultPageRankConfig()
	base.MaxIterations = 2000
	results, err := Sweep(context.Background(), g, base, grid, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	for i, r := range results {
		assert.Equal(t, grid[i], r.Parameters)
		assert.True(t, r.Converged)
		assert.False(t, math.IsNaN(r.Comparison.VulnerableMean))
	}
	assert.Equal(t, before, g.GetPageRank(), "sweep must not modify the graph")
	assert.True(t, strings.Contains(g.Edges()[0].Source.String(), "static"))
}

func TestWorkerLimit(t *testing.T) {
	assert.Equal(t, 3, workerLimit(3))
	assert.Equal(t, runtime.GOMAXPROCS(0), workerLimit(0))
	assert.Equal(t, runtime.GOMAXPROCS(0), workerLimit(-1))
}

func TestSweepBoundsConcurrency(t *testing.T) {
	prev := runtime.GOMAXPROCS(2)
	defer runtime.GOMAXPROCS(prev)

	g := surfaceGraph(t)
	g.NodeAt(index(t, g, "parse@p.c")).Attrs.IsVulnerable = true
	grid := ParameterGrid()[:2000]

	baseline := runtime.NumGoroutine()
	var peak atomic.Int64
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if n := int64(runtime.NumGoroutine()); n > peak.Load() {
				peak.Store(n)
			}
			runtime.Gosched()
		}
	}()

	results, err := Sweep(context.Background(), g, DefaultPageRankConfig(), grid, 0)
	close(stop)
	wg.Wait()
	require.NoError(t, err)
	require.Len(t, results, len(grid))

	// baseline, the sampler and at most two sweep workers
	assert.LessOrEqual(t, peak.Load(), int64(baseline+1+2))
}
