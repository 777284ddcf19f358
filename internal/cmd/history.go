package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/attack-surface/asm/internal/output"
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history [subject]",
	Short: "Show recorded runs and Dolt commit history",
	Long: `Display the analysis runs recorded in .asm/history, newest first.

Every 'asm build' stores one release row and its function rows and commits
them to the Dolt history, so runs can be compared commit by commit.

Flags:
  --log N          Also list the last N commits
  --diff FROM..TO  Summarize function rows added, modified and removed
                   between two refs (default HEAD~1..WORKING)

Examples:
  asm history                    # Every recorded run
  asm history ffmpeg             # Runs of one subject
  asm history --log 5            # Include the last 5 commits
  asm history --diff HEAD~1..HEAD`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

var (
	historyLog  int
	historyDiff string
)

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVar(&historyLog, "log", 0, "Number of commits to list")
	historyCmd.Flags().StringVar(&historyDiff, "diff", "", "Summarize changes between two refs (FROM..TO)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dir, err := existingWorkDir()
	if err != nil {
		return err
	}
	s, err := openStore(dir)
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := cmd.Context()

	subject := ""
	if len(args) == 1 {
		subject = strings.ToLower(args[0])
	}
	releases, err := s.Releases(ctx, subject)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	out := &output.HistoryOutput{}
	for i := range releases {
		out.Releases = append(out.Releases, output.NewReleaseOutput(&releases[i]))
	}

	if historyLog > 0 {
		out.Commits, err = s.Log(ctx, historyLog)
		if err != nil {
			return err
		}
	}

	if cmd.Flags().Changed("diff") {
		from, to, _ := strings.Cut(historyDiff, "..")
		out.Diff, err = s.Diff(ctx, from, to)
		if err != nil {
			return err
		}
	}
	return writeOutput(cmd, cfg, out)
}
