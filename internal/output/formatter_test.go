package output

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/attack-surface/asm/internal/cache"
	"github.com/attack-surface/asm/internal/call"
	"github.com/attack-surface/asm/internal/metrics"
	"github.com/attack-surface/asm/internal/store"
)

func intp(v int) *int           { return &v }
func floatp(v float64) *float64 { return &v }

func sampleRows() []metrics.FunctionMetrics {
	return []metrics.FunctionMetrics{
		{
			Name: "main", File: "main.c", IsEntry: true, IsTested: true,
			FanOut: 2, PageRank: 0.4, SLOC: intp(30),
			ProximityToEntry: floatp(0), ProximityToExit: floatp(2),
			SurfaceCouplingWithEntry: intp(1), SurfaceCouplingWithExit: intp(1),
		},
		{
			Name: "strcpy", IsExit: true, IsDangerous: true,
			FanIn: 1, PageRank: 0.3, Frequency: 9,
		},
		{Name: "log", File: "log.c", PageRank: 0.2},
	}
}

func TestClasses(t *testing.T) {
	rows := sampleRows()
	if got := Classes(rows[0]); strings.Join(got, ",") != "entry,tested" {
		t.Errorf("classes = %v", got)
	}
	if got := Classes(rows[1]); strings.Join(got, ",") != "exit,dangerous" {
		t.Errorf("classes = %v", got)
	}
	if got := Classes(rows[2]); got != nil {
		t.Errorf("classes = %v, want none", got)
	}
}

func TestNewListOutputTruncates(t *testing.T) {
	list := NewListOutput(sampleRows(), 2)
	if list.Count != 2 || list.Total != 3 || len(list.Functions) != 2 {
		t.Errorf("list = %+v", list)
	}
	if list.Functions[0].Name != "main" {
		t.Errorf("order lost: %s first", list.Functions[0].Name)
	}

	all := NewListOutput(sampleRows(), 0)
	if all.Count != 3 {
		t.Errorf("top 0 should keep every row, got %d", all.Count)
	}
}

func TestDensityFilter(t *testing.T) {
	list := NewListOutput(sampleRows(), 0)

	sparse := applyDensityFilter(list, DensitySparse).(*ListOutput)
	f := sparse.Functions[0]
	if f.Classes != nil || f.FanIn != nil || f.Proximity != nil || f.SLOC != nil {
		t.Errorf("sparse kept detail: %+v", f)
	}
	if f.PageRank != 0.4 {
		t.Errorf("sparse lost page rank")
	}

	medium := applyDensityFilter(list, DensityMedium).(*ListOutput)
	f = medium.Functions[0]
	if f.Classes == nil || f.FanOut == nil || *f.FanOut != 2 || f.Proximity != nil {
		t.Errorf("medium = %+v", f)
	}

	dense := applyDensityFilter(list, DensityDense).(*ListOutput)
	f = dense.Functions[0]
	if f.Proximity == nil || f.Coupling == nil || f.SLOC == nil {
		t.Errorf("dense = %+v", f)
	}

	// The filter copies; the original keeps every field.
	if list.Functions[0].Proximity == nil {
		t.Error("filter modified its input")
	}
}

func TestYAMLFormatter(t *testing.T) {
	f := NewYAMLFormatter()
	out, err := f.Format(NewListOutput(sampleRows(), 0), DensityMedium)
	if err != nil {
		t.Fatalf("format: %v", err)
	}

	var decoded struct {
		Functions []struct {
			Name     string   `yaml:"name"`
			Classes  []string `yaml:"classes"`
			PageRank float64  `yaml:"page_rank"`
		} `yaml:"functions"`
		Count int `yaml:"count"`
	}
	if err := yaml.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not valid YAML: %v\n%s", err, out)
	}
	if decoded.Count != 3 || decoded.Functions[1].Name != "strcpy" || decoded.Functions[1].Classes[1] != "dangerous" {
		t.Errorf("decoded = %+v", decoded)
	}
	if strings.Contains(out, "proximity") {
		t.Errorf("medium output should not include proximity:\n%s", out)
	}
}

func TestJSONFormatterDense(t *testing.T) {
	f := NewJSONFormatter()
	out, err := f.Format(NewFunctionOutput(sampleRows()[0]), DensityDense)
	if err != nil {
		t.Fatalf("format: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, out)
	}
	prox, ok := decoded["proximity"].(map[string]any)
	if !ok {
		t.Fatalf("missing proximity: %s", out)
	}
	if prox["to_exit"] != 2.0 || prox["to_defense"] != nil {
		t.Errorf("proximity = %v", prox)
	}
}

func TestSweepOutputDropsNaN(t *testing.T) {
	results := []metrics.SweepResult{{
		Parameters: metrics.Parameters{Damping: 0.85, EntryPower: 3, ExitPower: 2, CallPower: 1, ReturnPower: 0},
		Converged:  true,
		Comparison: metrics.Comparison{
			VulnerableMean: math.NaN(), NeutralMean: 0.1,
			VulnerableMedian: math.NaN(), NeutralMedian: 0.1,
			P: math.NaN(), CohensD: math.Inf(1),
		},
	}}

	out := NewSweepOutput(results)
	row := out.Results[0]
	if row.VulnerableMean != nil || row.P != nil || row.CohensD != nil || row.NeutralMean == nil {
		t.Errorf("row = %+v", row)
	}

	s, err := NewJSONFormatter().Format(out, DefaultDensity)
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	if !strings.Contains(s, `"damping": 0.85`) || !strings.Contains(s, `"entry_power": 3`) {
		t.Errorf("parameters not inlined:\n%s", s)
	}

	y, err := NewYAMLFormatter().Format(out, DefaultDensity)
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if !strings.Contains(y, "entry_power: 3") {
		t.Errorf("parameters not inlined:\n%s", y)
	}
}

func TestNewReleaseOutput(t *testing.T) {
	r := &store.Release{
		RunID: "run", Subject: "curl", Release: "7.50.0", Granularity: call.File,
		Stats:   metrics.GraphStats{NodeCount: 4, Monolithicity: 1},
		Damping: 0.85, PageRankIterations: 12, PageRankConverged: true,
		CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	out := NewReleaseOutput(r)
	if out.Granularity != "file" || out.PageRank.Iterations != 12 || out.CreatedAt != "2024-03-01T12:00:00Z" {
		t.Errorf("release = %+v", out)
	}
}

func TestNewCacheOutput(t *testing.T) {
	created := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	out := NewCacheOutput("/tmp/cache.db", &cache.Stats{Graphs: 1, Bytes: 10}, []cache.Entry{{
		Key:           cache.Key{Subject: "ffmpeg", Release: "0.6.0", Granularity: call.Function},
		FormatVersion: 3, Size: 10, CreatedAt: created,
	}})
	if out.Stats.Graphs != 1 || len(out.Entries) != 1 || out.Entries[0].Key == "" {
		t.Errorf("cache = %+v", out)
	}
}
