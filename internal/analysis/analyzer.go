// Package analysis runs the attack-surface pipeline over one release: load
// traces, build and merge the call graph, classify it, compute metrics and
// record the results.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/attack-surface/asm/internal/cache"
	"github.com/attack-surface/asm/internal/call"
	"github.com/attack-surface/asm/internal/classify"
	"github.com/attack-surface/asm/internal/config"
	"github.com/attack-surface/asm/internal/graph"
	"github.com/attack-surface/asm/internal/metrics"
	"github.com/attack-surface/asm/internal/sloc"
	"github.com/attack-surface/asm/internal/store"
	"github.com/attack-surface/asm/internal/telemetry"
	"github.com/attack-surface/asm/internal/trace"
)

// ErrNoTraces is returned when a release has neither a static nor a
// dynamic trace.
var ErrNoTraces = errors.New("no call traces found")

// pruneInput records the prune option next to the trace hashes so that
// toggling it invalidates the cached graph.
const pruneInput = "option:prune_stdlib"

// Release identifies one analysis target.
type Release struct {
	Subject     string
	Version     string
	Granularity call.Granularity
}

func (r Release) String() string {
	return fmt.Sprintf("%s %s (%s)", r.Subject, r.Version, r.Granularity)
}

// Analyzer runs the pipeline. Cache and Store are optional.
type Analyzer struct {
	Config *config.Config

	// Root is the data directory holding one directory per subject.
	Root string

	Cache   *cache.Cache
	Store   *store.Store
	Logger  *zap.Logger
	Metrics *telemetry.Metrics
}

// Result is the outcome of one Run.
type Result struct {
	Release        *store.Release
	Graph          *graph.Graph
	Engine         *metrics.Result
	Classification classify.Report
	SLOCAssigned   int
	CacheHit       bool

	// Commit is the Dolt commit recording the run, empty without a Store.
	Commit string
}

func (a *Analyzer) config() *config.Config {
	if a.Config == nil {
		return config.DefaultConfig()
	}
	return a.Config
}

func (a *Analyzer) granularity(rel Release) call.Granularity {
	if rel.Granularity != "" {
		return rel.Granularity
	}
	return a.config().Granularity()
}

// Run analyzes rel end to end. With a Store, function rows are written as
// the engine produces them and the run is committed to the history.
func (a *Analyzer) Run(ctx context.Context, rel Release) (*Result, error) {
	logger := telemetry.OrNop(a.Logger).With(
		zap.String("subject", rel.Subject),
		zap.String("release", rel.Version))
	cfg := a.config()
	rel.Granularity = a.granularity(rel)

	result, subject, err := a.prepare(ctx, rel, logger)
	if err != nil {
		return nil, err
	}
	g := result.Graph
	hit := result.CacheHit

	runID := store.NewRunID()
	engine := &metrics.Engine{
		Config:  cfg.MetricsEngine(),
		Logger:  logger,
		Metrics: a.Metrics,
	}
	if a.Store != nil {
		engine.Sink = a.Store.Sink(runID)
	}
	result.Engine, err = engine.Run(ctx, g)
	if err != nil {
		return nil, fmt.Errorf("compute metrics for %s: %w", rel, err)
	}

	result.Release = &store.Release{
		RunID:              runID,
		Subject:            subject.Name(),
		Release:            rel.Version,
		Granularity:        rel.Granularity,
		Stats:              result.Engine.Stats,
		Damping:            engine.Config.PageRank.Damping,
		PageRankIterations: result.Engine.PageRank.Iterations,
		PageRankConverged:  result.Engine.PageRank.Converged,
	}

	if a.Store != nil {
		if err := a.Store.SaveRelease(ctx, result.Release); err != nil {
			return nil, err
		}
		commit, err := a.Store.Commit(ctx, fmt.Sprintf("Analyze %s", rel))
		switch {
		case errors.Is(err, store.ErrNothingToCommit):
			logger.Debug("history unchanged")
		case err != nil:
			return nil, err
		default:
			result.Commit = commit
		}
	}

	logger.Info("analyzed release",
		zap.String("run_id", runID),
		zap.Int("nodes", result.Engine.Stats.NodeCount),
		zap.Int("edges", result.Engine.Stats.EdgeCount),
		zap.Float64("monolithicity", result.Engine.Stats.Monolithicity),
		zap.Bool("cache_hit", hit))
	return result, nil
}

// Prepare builds and classifies the graph of rel and assigns SLOC without
// computing metrics. The returned Result has no Engine or Release.
func (a *Analyzer) Prepare(ctx context.Context, rel Release) (*Result, error) {
	rel.Granularity = a.granularity(rel)
	result, _, err := a.prepare(ctx, rel, telemetry.OrNop(a.Logger))
	return result, err
}

func (a *Analyzer) prepare(ctx context.Context, rel Release, logger *zap.Logger) (*Result, Subject, error) {
	cfg := a.config()
	subject, err := LookupSubject(rel.Subject)
	if err != nil {
		return nil, nil, err
	}
	paths := subject.Paths(a.Root, rel.Version)

	g, hit, err := a.build(ctx, subject, rel, paths, logger)
	if err != nil {
		return nil, nil, err
	}
	result := &Result{Graph: g, CacheHit: hit}

	in, err := readLists(paths)
	if err != nil {
		return nil, nil, err
	}
	done := a.Metrics.Stage("classify")
	result.Classification = classify.Classify(g, in, classify.Options{
		NoBuiltinDangerous: cfg.Graph.NoBuiltinDangerous,
		TestedFromDynamic:  cfg.TestedFromDynamic(),
		Logger:             logger,
		Metrics:            a.Metrics,
	})
	done()

	result.SLOCAssigned, err = a.assignSLOC(ctx, g, paths)
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("assigned sloc", zap.Int("nodes", result.SLOCAssigned))
	return result, subject, nil
}

// Build returns the structural call graph of rel: traces loaded, merged,
// optionally pruned and collapsed to the release granularity. The graph is
// not classified. The boolean reports a cache hit.
func (a *Analyzer) Build(ctx context.Context, rel Release) (*graph.Graph, bool, error) {
	logger := telemetry.OrNop(a.Logger)
	rel.Granularity = a.granularity(rel)
	subject, err := LookupSubject(rel.Subject)
	if err != nil {
		return nil, false, err
	}
	return a.build(ctx, subject, rel, subject.Paths(a.Root, rel.Version), logger)
}

func (a *Analyzer) build(ctx context.Context, subject Subject, rel Release, paths Paths, logger *zap.Logger) (*graph.Graph, bool, error) {
	cfg := a.config()

	var traces []string
	static := ""
	if fileExists(paths.Static) {
		static = paths.Static
		traces = append(traces, static)
	}
	dynamic, err := paths.DynamicFiles()
	if err != nil {
		return nil, false, err
	}
	traces = append(traces, dynamic...)
	if len(traces) == 0 {
		return nil, false, fmt.Errorf("%w in %s", ErrNoTraces, paths.Dir)
	}

	key := cache.Key{Subject: subject.Name(), Release: rel.Version, Granularity: rel.Granularity}
	var inputs []cache.Input
	if a.Cache != nil {
		inputs, err = cache.HashInputs(traces)
		if err != nil {
			return nil, false, err
		}
		inputs = append(inputs, cache.Input{Path: pruneInput, Hash: strconv.FormatBool(cfg.Graph.PruneStdlib)})

		changed, err := a.Cache.ChangedInputs(ctx, key, inputs)
		if err != nil {
			return nil, false, err
		}
		if len(changed) == 0 {
			g, ok, err := a.Cache.Get(ctx, key)
			if err != nil {
				return nil, false, err
			}
			if ok {
				return g, true, nil
			}
		} else {
			logger.Debug("trace inputs changed", zap.Strings("paths", changed))
		}
	}

	g, err := a.load(ctx, static, paths.StaticReverse, dynamic, rel.Granularity, logger)
	if err != nil {
		return nil, false, err
	}

	if a.Cache != nil {
		if err := a.Cache.Put(ctx, key, g); err != nil {
			logger.Warn("failed to cache call graph", zap.Error(err))
		} else if err := a.Cache.RecordInputs(ctx, key, inputs); err != nil {
			logger.Warn("failed to record trace inputs", zap.Error(err))
		}
	}
	return g, false, nil
}

func (a *Analyzer) load(ctx context.Context, static string, reverse bool, dynamic []string, granularity call.Granularity, logger *zap.Logger) (*graph.Graph, error) {
	cfg := a.config()
	done := a.Metrics.Stage("load")
	defer done()

	var sg, dg *graph.Graph
	if static != "" {
		loader := &trace.StaticLoader{Reverse: reverse, Logger: logger, Metrics: a.Metrics}
		t, err := loader.Load(ctx, static)
		if err != nil {
			return nil, fmt.Errorf("load static trace: %w", err)
		}
		sg = graph.FromTrace(t, call.Function)
	}
	if len(dynamic) > 0 {
		loader := &trace.DynamicLoader{Demangle: !cfg.Loader.NoDemangle, Logger: logger, Metrics: a.Metrics}
		t, err := trace.LoadDynamicFiles(ctx, loader, dynamic, cfg.Loader.DynamicWorkers)
		if err != nil {
			return nil, fmt.Errorf("load dynamic traces: %w", err)
		}
		dg = graph.FromTrace(t, call.Function)
	}

	var g *graph.Graph
	switch {
	case sg != nil && dg != nil:
		var stats graph.MergeStats
		g, stats = graph.MergeWithStats(sg, dg)
		logger.Debug("merged static and dynamic graphs",
			zap.Int("exact", stats.Exact),
			zap.Int("by_name", stats.ByName),
			zap.Int("ambiguous", stats.Ambiguous),
			zap.Int("added", stats.Added))
	case sg != nil:
		g = sg
	default:
		g = dg
	}

	if cfg.Graph.PruneStdlib {
		n := g.PruneStandardLibrary(func(c call.Call) bool { return classify.IsDangerousName(c.Name) })
		logger.Debug("pruned library calls", zap.Int("nodes", n))
	}
	return g.Collapse(granularity), nil
}

// readLists loads the curated identity lists that exist for a release.
func readLists(p Paths) (classify.Input, error) {
	var in classify.Input
	for _, l := range []struct {
		path string
		dst  *[]call.Key
	}{
		{p.Defenses, &in.Defenses},
		{p.Dangerous, &in.Dangerous},
		{p.Vulnerable, &in.Vulnerable},
		{p.BecomesVulnerable, &in.BecomesVulnerable},
		{p.Tested, &in.Tested},
	} {
		if !fileExists(l.path) {
			continue
		}
		keys, err := classify.ReadListFile(l.path)
		if err != nil {
			return in, err
		}
		*l.dst = keys
	}
	return in, nil
}

// assignSLOC prefers the SQLite database over the CSV export.
func (a *Analyzer) assignSLOC(ctx context.Context, g *graph.Graph, p Paths) (int, error) {
	switch {
	case fileExists(p.SLOCDB):
		db, err := sloc.OpenDB(p.SLOCDB)
		if err != nil {
			return 0, err
		}
		defer db.Close()
		return sloc.Assign(ctx, g, db)
	case fileExists(p.SLOCCSV):
		f, err := os.Open(p.SLOCCSV)
		if err != nil {
			return 0, fmt.Errorf("open sloc: %w", err)
		}
		defer f.Close()
		m, err := sloc.ReadCSV(f)
		if err != nil {
			return 0, err
		}
		return sloc.Assign(ctx, g, m)
	default:
		return 0, nil
	}
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
