package cmd

import (
	"github.com/spf13/cobra"

	"github.com/attack-surface/asm/internal/analysis"
	"github.com/attack-surface/asm/internal/graph"
	"github.com/attack-surface/asm/internal/metrics"
	"github.com/attack-surface/asm/internal/output"
)

// buildCmd represents the build command
var buildCmd = &cobra.Command{
	Use:   "build <subject> <release>",
	Short: "Analyze one release and record the run",
	Long: `Load the traces of a release, build and classify its call graph, compute
every metric and record the run in the .asm history.

The structural graph is cached per subject, release and granularity, and
reused while its trace files are unchanged.

Output Structure:
  subject, release, granularity
  stats:     node/edge/entry/exit counts, fragments, monolithicity
  pagerank:  damping, iterations, convergence
  top:       highest PageRank functions

Examples:
  asm build ffmpeg 0.6.0                    # Function granularity
  asm build curl 7.50.0 --granularity file  # File granularity
  asm build ffmpeg 0.6.0 --no-cache         # Reload every trace
  asm build ffmpeg 0.6.0 --top 0            # Summary only`,
	Args: cobra.ExactArgs(2),
	RunE: runBuild,
}

var (
	buildNoCache   bool
	buildNoHistory bool
	buildTop       int
)

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().BoolVar(&buildNoCache, "no-cache", false, "Ignore and do not update the graph cache")
	buildCmd.Flags().BoolVar(&buildNoHistory, "no-history", false, "Do not record the run")
	buildCmd.Flags().IntVar(&buildTop, "top", -1, "Include the top N functions (default from config)")
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rel, err := parseRelease(cfg, args)
	if err != nil {
		return err
	}

	a, cleanup, err := newAnalyzer(cmd, cfg, analyzerOptions{noCache: buildNoCache, noHistory: buildNoHistory})
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := a.Run(cmd.Context(), rel)
	if err != nil {
		return err
	}

	top := buildTop
	if top < 0 {
		top = cfg.Output.Top
	}
	return writeOutput(cmd, cfg, releaseOutput(res, top))
}

func releaseOutput(res *analysis.Result, top int) *output.ReleaseOutput {
	out := output.NewReleaseOutput(res.Release)
	out.Lost = res.Engine.Lost
	out.CacheHit = res.CacheHit
	out.Commit = res.Commit
	for _, row := range rankedRows(res.Graph, top) {
		out.Top = append(out.Top, output.NewFunctionOutput(row))
	}
	return out
}

// rankedRows returns the rows of the n highest PageRank nodes of g.
func rankedRows(g *graph.Graph, n int) []metrics.FunctionMetrics {
	var rows []metrics.FunctionMetrics
	for _, s := range metrics.TopN(g, n) {
		node, err := g.Node(s.Node)
		if err != nil {
			continue
		}
		rows = append(rows, metrics.FromNode(node))
	}
	return rows
}
