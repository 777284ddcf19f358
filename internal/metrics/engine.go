package metrics

import (
	"context"
	"fmt"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/attack-surface/asm/internal/graph"
	"github.com/attack-surface/asm/internal/telemetry"
)

// DefaultQueueSize bounds the hand-off between workers and the consumer.
const DefaultQueueSize = 500

// DefaultBatchSize is the number of rows handed to a Sink at once.
const DefaultBatchSize = 500

// Sink receives finished function rows in batches. Batches arrive from a
// single goroutine.
type Sink interface {
	WriteBatch(ctx context.Context, rows []FunctionMetrics) error
}

// EngineConfig tunes an Engine.
type EngineConfig struct {
	// Workers is the number of goroutines computing per-node metrics.
	// Zero uses GOMAXPROCS.
	Workers int `yaml:"workers" toml:"workers" json:"workers"`

	QueueSize int `yaml:"queue_size" toml:"queue_size" json:"queue_size"`
	BatchSize int `yaml:"batch_size" toml:"batch_size" json:"batch_size"`

	Monolithicity MonolithicityFormula `yaml:"monolithicity" toml:"monolithicity" json:"monolithicity"`
	PageRank      PageRankConfig       `yaml:"pagerank" toml:"pagerank" json:"pagerank"`
}

// DefaultEngineConfig returns the default engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		QueueSize:     DefaultQueueSize,
		BatchSize:     DefaultBatchSize,
		Monolithicity: Fragments,
		PageRank:      DefaultPageRankConfig(),
	}
}

// Engine computes every metric of a call graph.
//
// Per-node proximity runs on a bounded pool of workers that only read the
// graph. Results flow through a bounded channel to the goroutine that
// called Run, which is the only one mutating node attributes and the only
// one writing to the Sink.
type Engine struct {
	Config  EngineConfig
	Logger  *zap.Logger
	Metrics *telemetry.Metrics
	Sink    Sink

	// compute is swapped in tests.
	compute func(g *graph.Graph, t *graph.Traversal, node int) Proximity
}

// Result summarizes one Run.
type Result struct {
	Stats    GraphStats
	PageRank PageRankResult

	// Processed counts nodes whose proximity was computed. Lost counts
	// nodes dropped by a panicking computation.
	Processed int
	Lost      int
}

type nodeResult struct {
	node  int
	prox  Proximity
	panic any
}

// Run computes fan, PageRank, fragments and proximity for every node of g,
// storing them as node attributes, and streams the finished rows to the
// Sink. A node whose computation panics keeps its previous proximity
// attributes and is reported in Result.Lost.
func (e *Engine) Run(ctx context.Context, g *graph.Graph) (*Result, error) {
	logger := telemetry.OrNop(e.Logger)
	cfg := e.Config
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	workers := workerLimit(cfg.Workers)
	if err := cfg.PageRank.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.Recompute()

	done := e.Metrics.Stage("pagerank")
	pr := AssignPageRank(g, cfg.PageRank)
	done()
	e.Metrics.PageRankIterations(pr.Iterations)
	if !pr.Converged {
		logger.Warn("pagerank did not converge",
			zap.Int("iterations", pr.Iterations),
			zap.Float64("delta", pr.FinalDelta))
	}

	AssignFragments(g, cfg.Monolithicity)

	done = e.Metrics.Stage("proximity")
	defer done()

	result := &Result{PageRank: pr}
	if err := e.proximity(ctx, g, workers, cfg, result, logger); err != nil {
		return nil, err
	}
	result.Stats = ComputeGraphStats(g)

	logger.Info("computed metrics",
		zap.Int("nodes", g.Len()),
		zap.Int("fragments", g.NumFragments),
		zap.Float64("monolithicity", g.Monolithicity),
		zap.Int("lost", result.Lost))
	return result, nil
}

func (e *Engine) proximity(ctx context.Context, g *graph.Graph, workers int, cfg EngineConfig, result *Result, logger *zap.Logger) error {
	compute := e.compute
	if compute == nil {
		compute = computeProximity
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan int)
	results := make(chan nodeResult, cfg.QueueSize)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		defer close(jobs)
		for i := 0; i < g.Len(); i++ {
			select {
			case jobs <- i:
			case <-egCtx.Done():
				return egCtx.Err()
			}
		}
		return nil
	})
	for w := 0; w < workers; w++ {
		eg.Go(func() error {
			t := g.NewTraversal()
			for node := range jobs {
				r := runNode(compute, g, t, node)
				select {
				case results <- r:
				case <-egCtx.Done():
					return egCtx.Err()
				}
			}
			return nil
		})
	}

	var workErr error
	go func() {
		workErr = eg.Wait()
		close(results)
	}()

	// Single consumer: the only writer of node attributes and the sink.
	var sinkErr error
	batch := make([]FunctionMetrics, 0, cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 || e.Sink == nil || sinkErr != nil {
			batch = batch[:0]
			return
		}
		if err := e.Sink.WriteBatch(ctx, batch); err != nil {
			sinkErr = fmt.Errorf("write metrics batch: %w", err)
			cancel()
		}
		batch = batch[:0]
	}

	for r := range results {
		if sinkErr != nil {
			continue
		}
		if r.panic != nil {
			result.Lost++
			e.Metrics.WorkerPanic()
			logger.Warn("metric computation panicked; node left without proximity",
				zap.Stringer("node", g.NodeAt(r.node).Call),
				zap.Any("panic", r.panic))
			continue
		}
		r.prox.apply(g)
		result.Processed++
		e.Metrics.NodeProcessed()

		batch = append(batch, FromNode(*g.NodeAt(r.node)))
		if len(batch) >= cfg.BatchSize {
			flush()
		}
	}
	flush()

	if sinkErr != nil {
		return sinkErr
	}
	if workErr != nil {
		return fmt.Errorf("compute proximity: %w", workErr)
	}
	return nil
}

// runNode computes one node, turning a panic into a result.
func runNode(compute func(*graph.Graph, *graph.Traversal, int) Proximity, g *graph.Graph, t *graph.Traversal, node int) (r nodeResult) {
	r.node = node
	defer func() {
		if p := recover(); p != nil {
			r.panic = p
		}
	}()
	r.prox = compute(g, t, node)
	return r
}

// workerLimit returns n, or GOMAXPROCS when n is not positive.
func workerLimit(n int) int {
	if n <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return n
}
