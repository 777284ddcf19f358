package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/attack-surface/asm/internal/output"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Graph cache management commands",
	Long:  `Commands for inspecting and clearing the call graph cache in .asm/cache.db.`,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	Long: `Display the number and size of cached graphs, how many were written by an
older format version, and how many trace inputs are tracked.

Examples:
  asm cache stats          # Totals only
  asm cache stats --list   # Every cached graph`,
	Args: cobra.NoArgs,
	RunE: runCacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached graph",
	Args:  cobra.NoArgs,
	RunE:  runCacheClear,
}

var cacheList bool

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)

	cacheStatsCmd.Flags().BoolVar(&cacheList, "list", false, "List every cached graph")
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dir, err := existingWorkDir()
	if err != nil {
		return err
	}
	c, err := openCache(cmd, dir)
	if err != nil {
		return err
	}
	defer c.Close()

	stats, err := c.Stats(cmd.Context())
	if err != nil {
		return err
	}
	out := output.NewCacheOutput(c.Path(), stats, nil)
	if cacheList {
		entries, err := c.List(cmd.Context())
		if err != nil {
			return err
		}
		out = output.NewCacheOutput(c.Path(), stats, entries)
	}
	return writeOutput(cmd, cfg, out)
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	dir, err := existingWorkDir()
	if err != nil {
		return err
	}
	c, err := openCache(cmd, dir)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Clear(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", c.Path())
	return nil
}
