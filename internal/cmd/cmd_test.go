package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attack-surface/asm/internal/call"
	"github.com/attack-surface/asm/internal/graph"
	"github.com/attack-surface/asm/internal/metrics"
)

const cflowTree = `strcpy():
    parse() <int parse (char *) at parse.c:10>:
        main() <int main (void) at main.c:3>
log_msg() <void log_msg (void) at log.c:5>:
    parse() <int parse (char *) at parse.c:10>:
        main() <int main (void) at main.c:3>
    check() <int check (void) at check.c:7>:
        main() <int main (void) at main.c:3>
`

func writeFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"FFmpeg/v0.6.0/cflow.txt":      cflowTree,
		"FFmpeg/v0.6.0/gprof/run1.txt": "main parse 3\nparse log_msg 5\n",
		"FFmpeg/v0.6.0/vulnerable.csv": "parse,parse.c\n",
	}
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

// resetFlags restores every flag to its default; cobra keeps values
// between Execute calls.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestBuildShowRank(t *testing.T) {
	t.Chdir(t.TempDir())
	root := writeFixture(t)

	out, err := execute(t, "build", "ffmpeg", "v0.6.0", "--root", root, "--no-history", "--format", "json", "--top", "2")
	require.NoError(t, err)

	var release struct {
		Subject  string `json:"subject"`
		Release  string `json:"release"`
		CacheHit bool   `json:"cache_hit"`
		Stats    struct {
			NodeCount  int `json:"node_count"`
			Vulnerable int `json:"vulnerable"`
		} `json:"stats"`
		Top []struct {
			Name string `json:"name"`
		} `json:"top"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &release), out)
	assert.Equal(t, "ffmpeg", release.Subject)
	assert.Equal(t, "0.6.0", release.Release)
	assert.False(t, release.CacheHit)
	assert.Equal(t, 5, release.Stats.NodeCount)
	assert.Equal(t, 1, release.Stats.Vulnerable)
	assert.Len(t, release.Top, 2)

	out, err = execute(t, "build", "ffmpeg", "0.6.0", "--root", root, "--no-history", "--format", "json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &release), out)
	assert.True(t, release.CacheHit)

	out, err = execute(t, "show", "ffmpeg", "0.6.0", "parse", "--root", root, "--format", "json", "--density", "dense")
	require.NoError(t, err)
	var fn map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &fn), out)
	assert.Equal(t, "parse", fn["name"])
	assert.Contains(t, fn["classes"], "vulnerable")
	assert.NotNil(t, fn["proximity"])

	out, err = execute(t, "show", "ffmpeg", "0.6.0", "main", "--root", root, "--mermaid")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "flowchart LR"), out)

	out, err = execute(t, "rank", "ffmpeg", "0.6.0", "--root", root, "--recompute", "--vulnerable", "--format", "json")
	require.NoError(t, err)
	var list struct {
		Count     int `json:"count"`
		Functions []struct {
			Name string `json:"name"`
		} `json:"functions"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &list), out)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "parse", list.Functions[0].Name)

	out, err = execute(t, "cache", "stats", "--list", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"graphs": 1`)
	assert.Contains(t, out, "ffmpeg")
}

func TestSensitivityCommand(t *testing.T) {
	t.Chdir(t.TempDir())
	root := writeFixture(t)
	grid := filepath.Join(t.TempDir(), "grid.csv")

	out, err := execute(t, "sensitivity", "ffmpeg", "0.6.0", "--root", root, "--limit", "4", "--params-out", grid, "--format", "json")
	require.NoError(t, err)

	var sweep struct {
		Points  int              `json:"points"`
		Results []map[string]any `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &sweep), out)
	assert.Equal(t, 4, sweep.Points)
	assert.Len(t, sweep.Results, 4)

	data, err := os.ReadFile(grid)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 4)
}

func TestInitCommand(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	out, err := execute(t, "init", "--toml")
	require.NoError(t, err)
	assert.Contains(t, out, "Initialized asm")
	assert.FileExists(t, filepath.Join(dir, ".asm", "config.toml"))
	assert.DirExists(t, filepath.Join(dir, ".asm", "history"))

	out, err = execute(t, "init", "--toml")
	require.NoError(t, err)
	assert.Contains(t, out, "Already initialized")
}

func TestCommandErrors(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := execute(t, "build", "openssl", "1.0", "--no-history", "--no-cache")
	assert.ErrorContains(t, err, "unknown subject")

	_, err = execute(t, "build", "ffmpeg", "0.6.0", "--granularity", "module", "--no-history", "--no-cache")
	assert.ErrorContains(t, err, "invalid granularity")

	_, err = execute(t, "cache", "stats")
	assert.ErrorContains(t, err, "asm init")
}

func TestResolveFunction(t *testing.T) {
	g := graph.New(call.Function)
	g.AddEdge(call.New("main", "main.c"), call.New("init", "a.c"), graph.SourceStatic, 1)
	g.AddEdge(call.New("main", "main.c"), call.New("init", "b.c"), graph.SourceStatic, 1)
	g.Recompute()

	k, err := resolveFunction(g, parseFunctionQuery("main", call.Function))
	require.NoError(t, err)
	assert.Equal(t, call.Key{Name: "main", File: "main.c"}, k)

	_, err = resolveFunction(g, parseFunctionQuery("init", call.Function))
	assert.ErrorContains(t, err, "ambiguous")

	k, err = resolveFunction(g, parseFunctionQuery("init@b.c", call.Function))
	require.NoError(t, err)
	assert.Equal(t, "b.c", k.File)

	_, err = resolveFunction(g, parseFunctionQuery("missing", call.Function))
	assert.ErrorIs(t, err, graph.ErrUnknownNode)

	assert.Equal(t, call.Key{File: "lib/url.c"}, parseFunctionQuery("lib/url.c", call.File))
}

func TestFilterRows(t *testing.T) {
	rows := []metrics.FunctionMetrics{
		{Name: "main", IsEntry: true},
		{Name: "parse", IsVulnerable: true},
		{Name: "strcpy", IsExit: true, IsVulnerable: true},
	}
	resetFlags(rootCmd)
	assert.Len(t, filterRows(rows), 3)

	rankVulnerable = true
	defer func() { rankVulnerable = false }()
	got := filterRows(rows)
	require.Len(t, got, 2)
	assert.Equal(t, "parse", got[0].Name)

	rankExit = true
	defer func() { rankExit = false }()
	got = filterRows(rows)
	require.Len(t, got, 1)
	assert.Equal(t, "strcpy", got[0].Name)
}

func TestBuildCommandInfo(t *testing.T) {
	info := buildCommandInfo(rootCmd)

	names := map[string]CommandInfo{}
	for _, sub := range info.Subcommands {
		names[sub.Name] = sub
	}
	for _, want := range []string{"init", "build", "show", "rank", "sensitivity", "cache", "history"} {
		assert.Contains(t, names, want)
	}
	require.Len(t, names["cache"].Subcommands, 2)

	var global []string
	for _, f := range info.Flags {
		global = append(global, f.Name)
	}
	assert.Subset(t, global, []string{"verbose", "format", "density", "root", "granularity", "metrics-file"})
}

func TestInvocationPerRun(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := execute(t, "init")
	require.NoError(t, err)
	first := invocationOf(initCmd)
	require.NotNil(t, first.metrics)

	_, err = execute(t, "init")
	require.NoError(t, err)
	second := invocationOf(initCmd)
	assert.NotSame(t, first, second)
	assert.NotSame(t, first.metrics, second.metrics)

	bare := invocationOf(&cobra.Command{})
	assert.NotNil(t, bare.logger)
	assert.Nil(t, bare.metrics)
}
