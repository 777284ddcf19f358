package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/attack-surface/asm/internal/call"
	"github.com/attack-surface/asm/internal/metrics"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.PageRank.Damping != 0.85 {
		t.Errorf("expected damping 0.85, got %f", cfg.PageRank.Damping)
	}
	if cfg.PageRank.Iterations != 100 {
		t.Errorf("expected iterations 100, got %d", cfg.PageRank.Iterations)
	}
	if cfg.Engine.QueueSize != 500 || cfg.Engine.BatchSize != 500 {
		t.Errorf("expected queue and batch size 500, got %d and %d", cfg.Engine.QueueSize, cfg.Engine.BatchSize)
	}
	if cfg.Graph.Monolithicity != "fragments" {
		t.Errorf("expected fragments formula, got %s", cfg.Graph.Monolithicity)
	}
	if !cfg.TestedFromDynamic() {
		t.Error("tested_from_dynamic should default to true")
	}
	if cfg.Granularity() != call.Function {
		t.Errorf("expected function granularity, got %s", cfg.Granularity())
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestMetricsPageRank(t *testing.T) {
	cfg := DefaultConfig()
	pr := cfg.MetricsPageRank()

	want := metrics.DefaultPageRankConfig()
	if pr.Personalization != want.Personalization {
		t.Errorf("personalization = %+v, want %+v", pr.Personalization, want.Personalization)
	}
	if pr.Damping != want.Damping || pr.MaxIterations != want.MaxIterations || pr.Tolerance != want.Tolerance {
		t.Errorf("pagerank = %+v, want %+v", pr, want)
	}

	zero := 0.0
	cfg.PageRank.EntryPower = &zero
	if got := cfg.MetricsPageRank().Personalization.Entry; got != 1 {
		t.Errorf("entry power 0 should weigh 1, got %v", got)
	}

	cfg.Graph.Monolithicity = "largest"
	cfg.Engine.Workers = 3
	ec := cfg.MetricsEngine()
	if ec.Monolithicity != metrics.Largest || ec.Workers != 3 || ec.PageRank.Personalization.Entry != 1 {
		t.Errorf("engine = %+v", ec)
	}
}

func TestIsValidFormat(t *testing.T) {
	tests := []struct {
		format string
		valid  bool
	}{
		{"yaml", true},
		{"json", true},
		{"csv", false},
		{"", false},
		{"YAML", false}, // case sensitive
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			if got := IsValidFormat(tt.format); got != tt.valid {
				t.Errorf("IsValidFormat(%q) = %v, want %v", tt.format, got, tt.valid)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "damping of one",
			modify:  func(c *Config) { c.PageRank.Damping = 1 },
			wantErr: true,
		},
		{
			name:    "damping negative",
			modify:  func(c *Config) { c.PageRank.Damping = -0.1 },
			wantErr: true,
		},
		{
			name:    "iterations zero",
			modify:  func(c *Config) { c.PageRank.Iterations = 0 },
			wantErr: true,
		},
		{
			name: "entry power out of range",
			modify: func(c *Config) {
				p := 40.0
				c.PageRank.EntryPower = &p
			},
			wantErr: true,
		},
		{
			name:    "negative weight",
			modify:  func(c *Config) { c.PageRank.Weights.Dangerous = -1 },
			wantErr: true,
		},
		{
			name:    "negative workers",
			modify:  func(c *Config) { c.Engine.Workers = -1 },
			wantErr: true,
		},
		{
			name:    "zero queue size",
			modify:  func(c *Config) { c.Engine.QueueSize = 0 },
			wantErr: true,
		},
		{
			name:    "unknown granularity",
			modify:  func(c *Config) { c.Graph.Granularity = "module" },
			wantErr: true,
		},
		{
			name:    "unknown monolithicity formula",
			modify:  func(c *Config) { c.Graph.Monolithicity = "average" },
			wantErr: true,
		},
		{
			name:    "invalid format",
			modify:  func(c *Config) { c.Output.Format = "xml" },
			wantErr: true,
		},
		{
			name:    "negative top",
			modify:  func(c *Config) { c.Output.Top = -1 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := Validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestMerge(t *testing.T) {
	defaults := DefaultConfig()

	t.Run("empty loaded uses all defaults", func(t *testing.T) {
		merged := Merge(&Config{}, defaults)

		if merged.PageRank.Damping != defaults.PageRank.Damping {
			t.Errorf("expected damping %f, got %f", defaults.PageRank.Damping, merged.PageRank.Damping)
		}
		if merged.PageRank.EntryPower == nil || *merged.PageRank.EntryPower != DefaultEntryPower {
			t.Errorf("expected default entry power, got %v", merged.PageRank.EntryPower)
		}
		if merged.PageRank.Weights != defaults.PageRank.Weights {
			t.Errorf("expected default weights, got %+v", merged.PageRank.Weights)
		}
		if merged.Output != defaults.Output {
			t.Errorf("expected default output, got %+v", merged.Output)
		}
		if !merged.TestedFromDynamic() {
			t.Error("expected tested_from_dynamic default")
		}
	})

	t.Run("loaded values override defaults", func(t *testing.T) {
		zero := 0.0
		off := false
		loaded := &Config{
			PageRank: PageRankConfig{Damping: 0.5, ExitPower: &zero},
			Graph:    GraphConfig{PruneStdlib: true, TestedFromDynamic: &off},
			Output:   OutputConfig{Format: "json"},
		}
		loaded.PageRank.Weights.Dangerous = 10

		merged := Merge(loaded, defaults)

		if merged.PageRank.Damping != 0.5 {
			t.Errorf("expected damping 0.5, got %f", merged.PageRank.Damping)
		}
		if *merged.PageRank.ExitPower != 0 {
			t.Errorf("explicit zero power lost: %v", *merged.PageRank.ExitPower)
		}
		if merged.PageRank.Weights.Dangerous != 10 || merged.PageRank.Weights.Call != 1 {
			t.Errorf("weights = %+v", merged.PageRank.Weights)
		}
		if !merged.Graph.PruneStdlib || merged.TestedFromDynamic() {
			t.Errorf("graph = %+v", merged.Graph)
		}
		if merged.Output.Format != "json" || merged.Output.Top != defaults.Output.Top {
			t.Errorf("output = %+v", merged.Output)
		}
	})
}

func TestFindConfigDir(t *testing.T) {
	tmpDir := t.TempDir()

	// Create nested directories: tmpDir/project/subdir
	projectDir := filepath.Join(tmpDir, "project")
	subDir := filepath.Join(projectDir, "subdir")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}

	t.Run("no config dir returns error", func(t *testing.T) {
		_, err := FindConfigDir(subDir)
		if err == nil {
			t.Error("expected error when no .asm directory exists")
		}
	})

	configDir := filepath.Join(projectDir, ConfigDirName)
	if err := os.Mkdir(configDir, 0755); err != nil {
		t.Fatal(err)
	}

	t.Run("finds config dir in current directory", func(t *testing.T) {
		found, err := FindConfigDir(projectDir)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if found != configDir {
			t.Errorf("expected %s, got %s", configDir, found)
		}
	})

	t.Run("finds config dir in parent directory", func(t *testing.T) {
		found, err := FindConfigDir(subDir)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if found != configDir {
			t.Errorf("expected %s, got %s", configDir, found)
		}
	})
}

func TestEnsureConfigDir(t *testing.T) {
	tmpDir := t.TempDir()

	dir, err := EnsureConfigDir(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expectedDir := filepath.Join(tmpDir, ConfigDirName)
	if dir != expectedDir {
		t.Errorf("expected %s, got %s", expectedDir, dir)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("config directory not created: %v", err)
	}

	// Call again, should return same directory without error
	if again, err := EnsureConfigDir(tmpDir); err != nil || again != dir {
		t.Errorf("second call = %s, %v", again, err)
	}
}

func TestLoadFromPath(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("loads valid yaml file", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "config.yaml")
		content := `
pagerank:
  damping: 0.5
  entry_power: 0
  weights:
    dangerous: 100
engine:
  workers: 2
graph:
  granularity: file
  monolithicity: largest
`
		if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}

		cfg, err := LoadFromPath(configPath)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.PageRank.Damping != 0.5 || cfg.Engine.Workers != 2 {
			t.Errorf("loaded values lost: %+v", cfg)
		}
		if cfg.Granularity() != call.File || cfg.MetricsEngine().Monolithicity != metrics.Largest {
			t.Errorf("graph = %+v", cfg.Graph)
		}
		if pr := cfg.MetricsPageRank(); pr.Personalization.Entry != 1 || pr.Weights.Dangerous != 100 || pr.Weights.Call != 1 {
			t.Errorf("pagerank = %+v", pr)
		}

		// Check defaults were applied for missing values
		if cfg.PageRank.Iterations != 100 || cfg.Output.Format != "yaml" {
			t.Errorf("defaults not applied: %+v", cfg)
		}
	})

	t.Run("loads valid toml file", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "config.toml")
		content := `
[pagerank]
damping = 0.7
exit_power = 1.0

[output]
format = "json"
top = 5
`
		if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}

		cfg, err := LoadFromPath(configPath)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.PageRank.Damping != 0.7 || cfg.Output.Format != "json" || cfg.Output.Top != 5 {
			t.Errorf("loaded values lost: %+v", cfg)
		}
		if got := cfg.MetricsPageRank().Personalization.Exit; math.Abs(got-10) > 1e-9 {
			t.Errorf("exit personalization = %v, want 10", got)
		}
	})

	t.Run("returns defaults for non-existent file", func(t *testing.T) {
		cfg, err := LoadFromPath(filepath.Join(tmpDir, "nonexistent.yaml"))
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if cfg.Output != DefaultConfig().Output {
			t.Errorf("expected default output, got %+v", cfg.Output)
		}
	})

	t.Run("returns error for invalid YAML", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "invalid.yaml")
		if err := os.WriteFile(configPath, []byte("invalid: yaml: content"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadFromPath(configPath); err == nil {
			t.Error("expected error for invalid YAML")
		}
	})

	t.Run("returns error for invalid config values", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "bad-values.yaml")
		content := `
graph:
  monolithicity: average
`
		if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		_, err := LoadFromPath(configPath)
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("returns defaults when no config dir exists", func(t *testing.T) {
		cfg, err := Load(tmpDir)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if cfg.Output != DefaultConfig().Output {
			t.Errorf("expected default config")
		}
	})

	configDir := filepath.Join(tmpDir, ConfigDirName)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatal(err)
	}

	t.Run("falls back to toml in .asm directory", func(t *testing.T) {
		content := "[output]\nformat = \"json\"\n"
		if err := os.WriteFile(filepath.Join(configDir, TOMLConfigFileName), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		cfg, err := Load(tmpDir)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Output.Format != "json" {
			t.Errorf("expected format json, got %s", cfg.Output.Format)
		}
	})

	t.Run("prefers yaml in .asm directory", func(t *testing.T) {
		content := "output:\n  top: 7\n"
		if err := os.WriteFile(filepath.Join(configDir, ConfigFileName), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		cfg, err := Load(tmpDir)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Output.Top != 7 || cfg.Output.Format != "yaml" {
			t.Errorf("output = %+v", cfg.Output)
		}
	})
}

func TestSaveDefault(t *testing.T) {
	for _, asTOML := range []bool{false, true} {
		tmpDir := t.TempDir()

		configPath, err := SaveDefault(tmpDir, asTOML)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		cfg, err := LoadFromPath(configPath)
		if err != nil {
			t.Fatalf("failed to load saved config %s: %v", configPath, err)
		}
		defaults := DefaultConfig()
		if cfg.PageRank.Damping != defaults.PageRank.Damping || cfg.Output != defaults.Output ||
			*cfg.PageRank.EntryPower != DefaultEntryPower {
			t.Errorf("saved config %s doesn't match defaults", configPath)
		}

		if _, err := SaveDefault(tmpDir, asTOML); err == nil {
			t.Error("expected error when config already exists")
		}
	}
}
