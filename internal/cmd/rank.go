package cmd

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/attack-surface/asm/internal/analysis"
	"github.com/attack-surface/asm/internal/metrics"
	"github.com/attack-surface/asm/internal/output"
)

// rankCmd represents the rank command
var rankCmd = &cobra.Command{
	Use:   "rank <subject> <release>",
	Short: "Rank functions by attack-surface PageRank",
	Long: `List the functions of a release ordered by their personalized PageRank.

Rows come from the latest recorded run of the release. Without one, or with
--recompute, the release is analyzed on the fly without recording it.

Filtering Modes:
  (default)      Top N functions by PageRank
  --vulnerable   Only functions with a known vulnerability
  --entry        Only entry points
  --exit         Only exit points

Density Effects:
  sparse:   Name, file, PageRank
  medium:   Add classes, fan-in/out, frequency (default)
  dense:    Add proximity, coupling and SLOC

Examples:
  asm rank ffmpeg 0.6.0                 # Top 20 by PageRank
  asm rank ffmpeg 0.6.0 --top 50        # Top 50
  asm rank ffmpeg 0.6.0 --vulnerable    # Known vulnerable functions
  asm rank ffmpeg 0.6.0 --recompute     # Ignore stored runs`,
	Args: cobra.ExactArgs(2),
	RunE: runRank,
}

var (
	rankTop        int
	rankRecompute  bool
	rankVulnerable bool
	rankEntry      bool
	rankExit       bool
)

func init() {
	rootCmd.AddCommand(rankCmd)

	rankCmd.Flags().IntVar(&rankTop, "top", -1, "Show top N by PageRank (default from config, 0 for all)")
	rankCmd.Flags().BoolVar(&rankRecompute, "recompute", false, "Analyze the release instead of reading the history")
	rankCmd.Flags().BoolVar(&rankVulnerable, "vulnerable", false, "Show only vulnerable functions")
	rankCmd.Flags().BoolVar(&rankEntry, "entry", false, "Show only entry points")
	rankCmd.Flags().BoolVar(&rankExit, "exit", false, "Show only exit points")
}

func runRank(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rel, err := parseRelease(cfg, args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var rows []metrics.FunctionMetrics
	if !rankRecompute {
		rows, err = storedRows(cmd, rel)
		if err != nil {
			return err
		}
	}
	if rows == nil {
		a, cleanup, err := newAnalyzer(cmd, cfg, analyzerOptions{noHistory: true})
		if err != nil {
			return err
		}
		defer cleanup()

		res, err := a.Run(ctx, rel)
		if err != nil {
			return err
		}
		rows = rankedRows(res.Graph, res.Graph.Len())
	}

	rows = filterRows(rows)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].PageRank > rows[j].PageRank })

	top := rankTop
	if top < 0 {
		top = cfg.Output.Top
	}
	return writeOutput(cmd, cfg, output.NewListOutput(rows, top))
}

// storedRows reads the rows of the latest recorded run, or nil when the
// release has none at the requested granularity.
func storedRows(cmd *cobra.Command, rel analysis.Release) ([]metrics.FunctionMetrics, error) {
	dir, err := existingWorkDir()
	if err != nil {
		return nil, nil
	}
	s, err := openStore(dir)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	logger := invocationOf(cmd).logger
	run, err := s.LatestRun(cmd.Context(), rel.Subject, rel.Version)
	if errors.Is(err, sql.ErrNoRows) {
		logger.Info("no recorded run, analyzing release")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if run.Granularity != rel.Granularity {
		logger.Info("latest run has another granularity, analyzing release",
			zap.String("run_id", run.RunID),
			zap.String("granularity", string(run.Granularity)))
		return nil, nil
	}
	rows, err := s.Functions(cmd.Context(), run.RunID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to read functions: %w", err)
	}
	return rows, nil
}

func filterRows(rows []metrics.FunctionMetrics) []metrics.FunctionMetrics {
	if !rankVulnerable && !rankEntry && !rankExit {
		return rows
	}
	var out []metrics.FunctionMetrics
	for _, r := range rows {
		if rankVulnerable && !r.IsVulnerable {
			continue
		}
		if rankEntry && !r.IsEntry {
			continue
		}
		if rankExit && !r.IsExit {
			continue
		}
		out = append(out, r)
	}
	return out
}
