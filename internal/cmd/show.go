package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/attack-surface/asm/internal/call"
	"github.com/attack-surface/asm/internal/graph"
	"github.com/attack-surface/asm/internal/metrics"
	"github.com/attack-surface/asm/internal/output"
)

// showCmd represents the show command
var showCmd = &cobra.Command{
	Use:   "show <subject> <release> <function>",
	Short: "Show the metrics of one function",
	Long: `Analyze a release and print every metric of one function.

The function is given by name, or as name@file when the name is defined in
more than one file. At file granularity it is the file path.

Use --mermaid to print the call neighborhood of the function as a Mermaid
flowchart instead. Entry points, exits, defenses and dangerous functions get
distinct shapes; dashed edges were only seen statically.

Examples:
  asm show ffmpeg 0.6.0 av_open_input_file
  asm show ffmpeg 0.6.0 decode@libavcodec/h264.c
  asm show curl 7.50.0 lib/url.c --granularity file
  asm show ffmpeg 0.6.0 main --mermaid --depth 2`,
	Args: cobra.ExactArgs(3),
	RunE: runShow,
}

var (
	showMermaid bool
	showDepth   int
)

func init() {
	rootCmd.AddCommand(showCmd)

	showCmd.Flags().BoolVar(&showMermaid, "mermaid", false, "Print the call neighborhood as a Mermaid flowchart")
	showCmd.Flags().IntVar(&showDepth, "depth", 1, "Neighborhood depth for --mermaid")
}

func runShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rel, err := parseRelease(cfg, args)
	if err != nil {
		return err
	}

	a, cleanup, err := newAnalyzer(cmd, cfg, analyzerOptions{noHistory: true})
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := a.Run(cmd.Context(), rel)
	if err != nil {
		return err
	}
	g := res.Graph

	key, err := resolveFunction(g, parseFunctionQuery(args[2], rel.Granularity))
	if err != nil {
		return err
	}

	if showMermaid {
		nodes, err := g.Neighborhood(key, showDepth)
		if err != nil {
			return err
		}
		opts := graph.DefaultMermaidOptions()
		opts.Title = fmt.Sprintf("%s %s: %s", rel.Subject, rel.Version, key)
		fmt.Fprint(cmd.OutOrStdout(), g.GenerateMermaid(nodes, opts))
		return nil
	}

	node, err := g.Node(key)
	if err != nil {
		return err
	}
	return writeOutput(cmd, cfg, output.NewFunctionOutput(metrics.FromNode(node)))
}

// resolveFunction finds the node q names. A bare name resolves when exactly
// one node carries it.
func resolveFunction(g *graph.Graph, q call.Key) (call.Key, error) {
	if _, ok := g.Lookup(q); ok {
		return q, nil
	}
	if q.Name == "" {
		return q, fmt.Errorf("%w: %s", graph.ErrUnknownNode, q)
	}

	var matches []call.Key
	for _, k := range g.Keys() {
		if k.Name != q.Name {
			continue
		}
		if q.File != "" && !strings.HasSuffix(k.File, q.File) {
			continue
		}
		matches = append(matches, k)
	}
	switch len(matches) {
	case 0:
		return q, fmt.Errorf("%w: %s", graph.ErrUnknownNode, q)
	case 1:
		return matches[0], nil
	}

	names := make([]string, len(matches))
	for i, k := range matches {
		names[i] = k.String()
	}
	sort.Strings(names)
	return q, fmt.Errorf("%q is ambiguous, use name@file: %s", q.Name, strings.Join(names, ", "))
}
