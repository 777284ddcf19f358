package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the counters collected during one analysis run. Each run owns
// its registry; nothing is registered globally.
//
// All methods are safe on a nil *Metrics so library callers can skip telemetry.
type Metrics struct {
	Registry *prometheus.Registry

	skippedLines   *prometheus.CounterVec
	unmatched      *prometheus.CounterVec
	nodesProcessed prometheus.Counter
	workerPanics   prometheus.Counter
	pageRankIters  prometheus.Histogram
	stageDuration  *prometheus.HistogramVec
	cacheLookups   *prometheus.CounterVec
}

// NewMetrics creates a fresh registry with all run metrics registered.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		skippedLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "asm_trace_skipped_lines_total",
			Help: "Malformed trace lines skipped while loading.",
		}, []string{"source"}),
		unmatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "asm_classify_unmatched_records_total",
			Help: "Classification records that matched no node, by class and reason.",
		}, []string{"class", "reason"}),
		nodesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asm_metrics_nodes_processed_total",
			Help: "Nodes whose per-node metrics were computed.",
		}),
		workerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asm_metrics_worker_panics_total",
			Help: "Per-node metric computations lost to a worker panic.",
		}),
		pageRankIters: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "asm_pagerank_iterations",
			Help:    "Power iterations needed per PageRank computation.",
			Buckets: prometheus.LinearBuckets(10, 10, 10),
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "asm_stage_duration_seconds",
			Help:    "Wall time of each pipeline stage.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"stage"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "asm_cache_lookups_total",
			Help: "Graph cache lookups by result.",
		}, []string{"result"}),
	}

	m.Registry.MustRegister(
		m.skippedLines,
		m.unmatched,
		m.nodesProcessed,
		m.workerPanics,
		m.pageRankIters,
		m.stageDuration,
		m.cacheLookups,
	)
	return m
}

// SkippedLines records n malformed lines from the given trace source.
func (m *Metrics) SkippedLines(source string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.skippedLines.WithLabelValues(source).Add(float64(n))
}

// Unmatched records a classification record that resolved to no node.
func (m *Metrics) Unmatched(class, reason string) {
	if m == nil {
		return
	}
	m.unmatched.WithLabelValues(class, reason).Inc()
}

// NodeProcessed counts one finished per-node computation.
func (m *Metrics) NodeProcessed() {
	if m == nil {
		return
	}
	m.nodesProcessed.Inc()
}

// WorkerPanic counts one per-node computation lost to a panic.
func (m *Metrics) WorkerPanic() {
	if m == nil {
		return
	}
	m.workerPanics.Inc()
}

// PageRankIterations observes the iteration count of one PageRank run.
func (m *Metrics) PageRankIterations(n int) {
	if m == nil {
		return
	}
	m.pageRankIters.Observe(float64(n))
}

// CacheLookup records a cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// Stage starts timing a pipeline stage; call the returned func when it ends.
func (m *Metrics) Stage(name string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.stageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
}

// WriteTextfile writes the registry in the Prometheus text format, suitable
// for a node_exporter textfile collector picking up batch job results.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.Registry)
}
