// Package cmd contains all CLI commands for asm.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/attack-surface/asm/internal/telemetry"
)

var (
	// Version is the current version of asm
	Version = "0.1.0"

	// Global flags
	verbose       bool
	configPath    string
	forAgents     bool
	outputFormat  string
	outputDensity string
	dataRoot      string
	granularity   string
	metricsFile   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "asm",
	Short: "Attack-surface metrics for C call graphs",
	Long: `asm builds call graphs of C projects from static (cflow) and dynamic
(gprof) traces and computes attack-surface metrics over them.

Each node is classified as entry, exit, defense, dangerous, vulnerable or
tested and scored with proximity to the attack surface, surface coupling and
a personalized PageRank. Graph-level figures include fragment count and
monolithicity.

Data layout:
  <root>/<Subject>/v<release>/cflow.txt      static call tree (cflow -b -r)
  <root>/<Subject>/v<release>/gprof/*        dynamic call counts
  <root>/<Subject>/v<release>/sloc.sqlite    per-function SLOC
  <root>/<Subject>/*.csv                     curated defense/dangerous lists

Output Format:
  All commands output YAML by default. Use --format json for JSON and
  --density to control detail (sparse|medium|dense).

Examples:
  asm init                          # Create .asm/ with a default config
  asm build ffmpeg 0.6.0            # Analyze one release
  asm rank ffmpeg 0.6.0 --top 10    # Highest PageRank functions
  asm show ffmpeg 0.6.0 av_read     # Metrics of one function
  asm sensitivity ffmpeg 0.6.0      # PageRank parameter sweep
  asm history                       # Stored runs

See 'asm <command> --help' for command-specific options.`,
	Version:            Version,
	SilenceUsage:       true,
	SilenceErrors:      true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags available to all commands
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: .asm/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "", "Output format (yaml|json), default from config")
	rootCmd.PersistentFlags().StringVar(&outputDensity, "density", "medium", "Output density (sparse|medium|dense)")
	rootCmd.PersistentFlags().StringVar(&dataRoot, "root", "data", "Directory holding one directory per subject")
	rootCmd.PersistentFlags().StringVarP(&granularity, "granularity", "g", "", "Node granularity (function|file), default from config")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "Write run metrics in Prometheus text format to this file")
	rootCmd.Flags().BoolVar(&forAgents, "for-agents", false, "Output machine-readable capability discovery JSON")

	// Set custom help function to intercept --for-agents flag
	originalHelp := rootCmd.HelpFunc()
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		if forAgents {
			outputAgentHelp(cmd)
			return
		}
		originalHelp(cmd, args)
	})
}

// invocation holds what one command run logs and measures with. setup
// builds it and stores it in the command context.
type invocation struct {
	logger  *zap.Logger
	metrics *telemetry.Metrics
}

type invocationKey struct{}

// invocationOf returns the invocation set up for cmd, or a silent one when
// cmd runs outside Execute.
func invocationOf(cmd *cobra.Command) *invocation {
	if ctx := cmd.Context(); ctx != nil {
		if inv, ok := ctx.Value(invocationKey{}).(*invocation); ok {
			return inv
		}
	}
	return &invocation{logger: zap.NewNop()}
}

func setup(cmd *cobra.Command, args []string) error {
	inv := &invocation{
		logger:  telemetry.NewLogger(verbose),
		metrics: telemetry.NewMetrics(),
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(context.WithValue(ctx, invocationKey{}, inv))
	return nil
}

func teardown(cmd *cobra.Command, args []string) error {
	inv := invocationOf(cmd)
	if metricsFile != "" {
		if err := inv.metrics.WriteTextfile(metricsFile); err != nil {
			return err
		}
		inv.logger.Debug("wrote run metrics", zap.String("path", metricsFile))
	}
	_ = inv.logger.Sync()
	return nil
}

// CommandInfo represents a command for agent discovery
type CommandInfo struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Usage       string        `json:"usage"`
	Flags       []FlagInfo    `json:"flags,omitempty"`
	Subcommands []CommandInfo `json:"subcommands,omitempty"`
	Examples    []string      `json:"examples,omitempty"`
}

// FlagInfo represents a command flag for agent discovery
type FlagInfo struct {
	Name        string `json:"name"`
	Shorthand   string `json:"shorthand,omitempty"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Default     string `json:"default,omitempty"`
}

// outputAgentHelp outputs machine-readable JSON describing all commands
func outputAgentHelp(cmd *cobra.Command) {
	root := buildCommandInfo(cmd.Root())

	output := map[string]interface{}{
		"version":      Version,
		"commands":     root.Subcommands,
		"global_flags": root.Flags,
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.Encode(output)
}

// buildCommandInfo recursively builds command information for agent discovery
func buildCommandInfo(cmd *cobra.Command) CommandInfo {
	info := CommandInfo{
		Name:        cmd.Name(),
		Description: cmd.Short,
		Usage:       cmd.UseLine(),
	}

	visit := func(f *pflag.Flag) {
		info.Flags = append(info.Flags, FlagInfo{
			Name:        f.Name,
			Shorthand:   f.Shorthand,
			Description: f.Usage,
			Type:        f.Value.Type(),
			Default:     f.DefValue,
		})
	}
	if cmd.HasParent() {
		cmd.LocalFlags().VisitAll(visit)
	} else {
		cmd.PersistentFlags().VisitAll(visit)
	}

	for _, sub := range cmd.Commands() {
		if !sub.Hidden {
			info.Subcommands = append(info.Subcommands, buildCommandInfo(sub))
		}
	}

	if cmd.Example != "" {
		for _, line := range strings.Split(cmd.Example, "\n") {
			if trimmed := strings.TrimSpace(line); trimmed != "" {
				info.Examples = append(info.Examples, trimmed)
			}
		}
	}

	return info
}
