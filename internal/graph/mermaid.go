package graph

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// MermaidOptions configures Mermaid diagram generation.
type MermaidOptions struct {
	MaxNodes  int    // Maximum nodes before collapsing to files (default: 30)
	Direction string // Layout direction: "TD" (top-down) or "LR" (left-right)
	Collapse  bool   // Collapse to files when > MaxNodes
	Title     string // Optional diagram title
}

// DefaultMermaidOptions returns the defaults used by asm show --mermaid.
func DefaultMermaidOptions() *MermaidOptions {
	return &MermaidOptions{
		MaxNodes:  30,
		Direction: "LR",
		Collapse:  true,
	}
}

// GenerateMermaid renders the subgraph induced by nodes as a Mermaid flowchart.
func (g *Graph) GenerateMermaid(nodes []int, opts *MermaidOptions) string {
	if opts == nil {
		opts = DefaultMermaidOptions()
	}
	if opts.MaxNodes <= 0 {
		opts.MaxNodes = 30
	}
	if opts.Direction != "TD" && opts.Direction != "LR" {
		opts.Direction = "LR"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("flowchart %s\n", opts.Direction))
	if opts.Title != "" {
		sb.WriteString(fmt.Sprintf("    subgraph title[\"%s\"]\n", escapeMermaidString(opts.Title)))
		sb.WriteString("    end\n")
	}

	sub := make(map[int]struct{}, len(nodes))
	for _, n := range nodes {
		sub[n] = struct{}{}
	}

	if opts.Collapse && len(nodes) > opts.MaxNodes {
		g.writeCollapsedMermaid(sub, &sb)
		return sb.String()
	}

	ordered := append([]int(nil), nodes...)
	sort.Slice(ordered, func(i, j int) bool {
		return g.nodes[ordered[i]].Call.String() < g.nodes[ordered[j]].Call.String()
	})

	names := make([]string, 0, len(ClassDefs))
	for name := range ClassDefs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sb.WriteString(fmt.Sprintf("    classDef %s %s\n", name, ClassDefs[name]))
	}

	for _, i := range ordered {
		n := &g.nodes[i]
		shape := GetNodeShape(&n.Attrs)
		line := fmt.Sprintf("%s%s\"%s\"%s", nodeID(i), shape.Open, escapeMermaidString(n.Call.String()), shape.Close)
		switch {
		case n.Attrs.IsVulnerable:
			line += ":::vulnerable"
		case n.Attrs.IsTested:
			line += ":::tested"
		}
		sb.WriteString("    " + line + "\n")
	}

	for _, i := range ordered {
		for _, e := range g.out[i] {
			edge := g.edges[e]
			if _, ok := sub[edge.To]; !ok {
				continue
			}
			sb.WriteString(fmt.Sprintf("    %s %s %s\n", nodeID(edge.From), GetEdgeStyle(edge.Source), nodeID(edge.To)))
		}
	}
	return sb.String()
}

// writeCollapsedMermaid renders a file-level view when there are too many nodes.
func (g *Graph) writeCollapsedMermaid(sub map[int]struct{}, sb *strings.Builder) {
	files := make(map[string]int)
	for i := range sub {
		files[fileOf(g.nodes[i].Call.File)]++
	}

	sorted := make([]string, 0, len(files))
	for f := range files {
		sorted = append(sorted, f)
	}
	sort.Strings(sorted)
	for _, f := range sorted {
		label := fmt.Sprintf("%s (%d)", f, files[f])
		sb.WriteString(fmt.Sprintf("    %s[(\"%s\")]\n", sanitizeMermaidID(f), escapeMermaidString(label)))
	}

	seen := make(map[[2]string]bool)
	var lines []string
	for i := range sub {
		for _, e := range g.out[i] {
			edge := g.edges[e]
			if _, ok := sub[edge.To]; !ok {
				continue
			}
			from, to := fileOf(g.nodes[edge.From].Call.File), fileOf(g.nodes[edge.To].Call.File)
			if from == to || seen[[2]string{from, to}] {
				continue
			}
			seen[[2]string{from, to}] = true
			lines = append(lines, fmt.Sprintf("    %s --> %s\n", sanitizeMermaidID(from), sanitizeMermaidID(to)))
		}
	}
	sort.Strings(lines)
	for _, l := range lines {
		sb.WriteString(l)
	}
}

func fileOf(file string) string {
	if file == "" {
		return "external"
	}
	return file
}

func nodeID(i int) string {
	return fmt.Sprintf("n%d", i)
}

// Mermaid IDs can contain alphanumeric chars and underscores.
var mermaidIDRegex = regexp.MustCompile(`[^a-zA-Z0-9_]`)

func sanitizeMermaidID(id string) string {
	sanitized := mermaidIDRegex.ReplaceAllString(id, "_")
	if len(sanitized) > 0 && sanitized[0] >= '0' && sanitized[0] <= '9' {
		sanitized = "_" + sanitized
	}
	if sanitized == "" {
		sanitized = "_empty"
	}
	return sanitized
}

// escapeMermaidString escapes special characters in Mermaid string content.
func escapeMermaidString(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "#quot;")
	s = strings.ReplaceAll(s, "<", "#lt;")
	s = strings.ReplaceAll(s, ">", "#gt;")
	return s
}
