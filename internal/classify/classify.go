// Package classify tags call-graph nodes as defenses, dangerous calls,
// vulnerable functions and tested functions.
//
// Supplied records are matched against nodes with the same identity policy
// the merge uses: exact (name, file), else a name-only match that must be
// unique in both directions. Records that match nothing are skipped with a
// warning; ambiguous nodes are left unmarked.
package classify

import (
	"go.uber.org/zap"

	"github.com/attack-surface/asm/internal/call"
	"github.com/attack-surface/asm/internal/graph"
	"github.com/attack-surface/asm/internal/telemetry"
)

// Input holds the externally supplied identity lists.
type Input struct {
	Defenses          []call.Key
	Dangerous         []call.Key
	Vulnerable        []call.Key
	BecomesVulnerable []call.Key
	Tested            []call.Key
}

// Options tunes classification.
type Options struct {
	// NoBuiltinDangerous disables the curated unsafe-function list.
	NoBuiltinDangerous bool

	// TestedFromDynamic marks every node a dynamic trace observed as tested.
	TestedFromDynamic bool

	Logger  *zap.Logger
	Metrics *telemetry.Metrics
}

// ClassReport counts how the records of one class were resolved.
type ClassReport struct {
	Records   int
	Matched   int
	Unmatched int
	Ambiguous int
	Marked    int
}

// Report summarizes one Classify call.
type Report struct {
	Defense           ClassReport
	Dangerous         ClassReport
	Vulnerable        ClassReport
	BecomesVulnerable ClassReport
	Tested            ClassReport
	CallsDangerous    int
}

// Classify sets the classification attributes of g in place.
func Classify(g *graph.Graph, in Input, opts Options) Report {
	logger := telemetry.OrNop(opts.Logger)
	nodes := g.Resolver()
	var report Report

	c := &classifier{g: g, nodes: nodes, logger: logger, metrics: opts.Metrics}
	report.Defense = c.mark("defense", in.Defenses, func(a *graph.Attrs) { a.IsDefense = true })
	report.Dangerous = c.mark("dangerous", in.Dangerous, func(a *graph.Attrs) { a.IsDangerous = true })
	report.Vulnerable = c.mark("vulnerable", in.Vulnerable, func(a *graph.Attrs) { a.IsVulnerable = true })
	report.BecomesVulnerable = c.mark("becomes_vulnerable", in.BecomesVulnerable, func(a *graph.Attrs) { a.BecomesVulnerable = true })
	report.Tested = c.mark("tested", in.Tested, func(a *graph.Attrs) { a.IsTested = true })

	for i := range g.Nodes() {
		n := g.NodeAt(i)
		if !opts.NoBuiltinDangerous && g.Granularity() == call.Function && IsDangerousName(n.Call.Name) {
			if !n.Attrs.IsDangerous {
				report.Dangerous.Marked++
			}
			n.Attrs.IsDangerous = true
		}
		if opts.TestedFromDynamic && n.Source.Has(graph.SourceDynamic) {
			if !n.Attrs.IsTested {
				report.Tested.Marked++
			}
			n.Attrs.IsTested = true
		}
	}

	for i := range g.Nodes() {
		n := g.NodeAt(i)
		n.Attrs.CallsDangerous = false
		for _, j := range g.Successors(i) {
			if g.NodeAt(j).Attrs.IsDangerous {
				n.Attrs.CallsDangerous = true
				report.CallsDangerous++
				break
			}
		}
	}

	logger.Debug("classified call graph",
		zap.Int("defenses", report.Defense.Marked),
		zap.Int("dangerous", report.Dangerous.Marked),
		zap.Int("vulnerable", report.Vulnerable.Marked),
		zap.Int("tested", report.Tested.Marked),
		zap.Int("calls_dangerous", report.CallsDangerous))
	return report
}

type classifier struct {
	g       *graph.Graph
	nodes   *call.Resolver
	logger  *zap.Logger
	metrics *telemetry.Metrics
}

// mark resolves every node against records and applies set to the matches.
func (c *classifier) mark(class string, records []call.Key, set func(*graph.Attrs)) ClassReport {
	var report ClassReport
	if len(records) == 0 {
		return report
	}

	keys := rekey(records, c.g.Granularity())
	report.Records = len(keys)
	index := call.NewResolver(keys)
	matched := make(map[call.Key]bool, len(keys))

	for i, n := range c.g.Nodes() {
		k, res := index.ResolveMutual(n.Call.Key(), c.nodes)
		switch res {
		case call.Exact, call.ByName:
			matched[k] = true
			a := &c.g.NodeAt(i).Attrs
			set(a)
			report.Marked++
		case call.Ambiguous:
			report.Ambiguous++
			c.metrics.Unmatched(class, "ambiguous")
			c.logger.Debug("ambiguous classification match left unmarked",
				zap.String("class", class),
				zap.Stringer("node", n.Call))
		}
	}

	for _, k := range keys {
		if matched[k] {
			report.Matched++
			continue
		}
		report.Unmatched++
		c.metrics.Unmatched(class, "unmatched")
		c.logger.Warn("classification record matches no node",
			zap.String("class", class),
			zap.Stringer("record", k))
	}
	return report
}

// rekey maps records to the graph's granularity and drops duplicates.
// File-level graphs match on the file alone, so records without a file
// cannot match there and are dropped.
func rekey(records []call.Key, g call.Granularity) []call.Key {
	seen := make(map[call.Key]bool, len(records))
	out := make([]call.Key, 0, len(records))
	for _, k := range records {
		if g == call.File {
			if k.File == "" {
				continue
			}
			k = call.Key{File: k.File}
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
