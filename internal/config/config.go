package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/attack-surface/asm/internal/call"
	"github.com/attack-surface/asm/internal/graph"
	"github.com/attack-surface/asm/internal/metrics"
)

// ConfigFileName is the name of the asm configuration file
const ConfigFileName = "config.yaml"

// TOMLConfigFileName is the alternative TOML configuration file.
const TOMLConfigFileName = "config.toml"

// ConfigDirName is the name of the asm working directory
const ConfigDirName = ".asm"

// Config holds all asm configuration
type Config struct {
	Loader   LoaderConfig   `yaml:"loader" toml:"loader"`
	PageRank PageRankConfig `yaml:"pagerank" toml:"pagerank"`
	Engine   EngineConfig   `yaml:"engine" toml:"engine"`
	Graph    GraphConfig    `yaml:"graph" toml:"graph"`
	Output   OutputConfig   `yaml:"output" toml:"output"`
}

// LoaderConfig holds configuration for reading traces
type LoaderConfig struct {
	// DynamicWorkers bounds how many dynamic traces load in parallel.
	DynamicWorkers int  `yaml:"dynamic_workers" toml:"dynamic_workers"`
	NoDemangle     bool `yaml:"no_demangle" toml:"no_demangle"`
}

// PageRankConfig holds the PageRank parameters. Personalization is given
// as powers of ten: an entry power of 3 weighs entry points 1000 times an
// ordinary node.
type PageRankConfig struct {
	Damping    float64       `yaml:"damping" toml:"damping"`
	Iterations int           `yaml:"iterations" toml:"iterations"`
	Tolerance  float64       `yaml:"tolerance" toml:"tolerance"`
	EntryPower *float64      `yaml:"entry_power" toml:"entry_power"`
	ExitPower  *float64      `yaml:"exit_power" toml:"exit_power"`
	Weights    graph.Weights `yaml:"weights" toml:"weights"`
}

// EngineConfig holds configuration for the metrics worker pool
type EngineConfig struct {
	Workers   int `yaml:"workers" toml:"workers"`
	QueueSize int `yaml:"queue_size" toml:"queue_size"`
	BatchSize int `yaml:"batch_size" toml:"batch_size"`
}

// GraphConfig holds configuration for building the call graph
type GraphConfig struct {
	Granularity   string `yaml:"granularity" toml:"granularity"`
	PruneStdlib   bool   `yaml:"prune_stdlib" toml:"prune_stdlib"`
	Monolithicity string `yaml:"monolithicity" toml:"monolithicity"`

	// TestedFromDynamic marks every function seen in a dynamic trace as
	// tested. Defaults to true.
	TestedFromDynamic  *bool `yaml:"tested_from_dynamic" toml:"tested_from_dynamic"`
	NoBuiltinDangerous bool  `yaml:"no_builtin_dangerous" toml:"no_builtin_dangerous"`
}

// OutputConfig holds configuration for output formatting
type OutputConfig struct {
	Format string `yaml:"format" toml:"format"`
	Top    int    `yaml:"top" toml:"top"`
}

// ErrConfigNotFound is returned when no config file can be found
var ErrConfigNotFound = errors.New("config file not found")

// ErrInvalidConfig is returned when config validation fails
var ErrInvalidConfig = errors.New("invalid configuration")

// Load reads config from .asm/config.yaml or .asm/config.toml, falling back
// to defaults. It searches for the config directory starting from workDir
// and walking up the directory tree.
func Load(workDir string) (*Config, error) {
	configDir, err := FindConfigDir(workDir)
	if err != nil {
		return DefaultConfig(), nil
	}

	configPath := filepath.Join(configDir, ConfigFileName)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		tomlPath := filepath.Join(configDir, TOMLConfigFileName)
		if _, err := os.Stat(tomlPath); err == nil {
			configPath = tomlPath
		}
	}
	return LoadFromPath(configPath)
}

// LoadFromPath reads config from a specific path. Files ending in .toml
// are parsed as TOML, everything else as YAML.
// Merges loaded config with defaults and validates the result.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	loaded := &Config{}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(data, loaded); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, loaded); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	merged := Merge(loaded, DefaultConfig())
	if err := Validate(merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// FindConfigDir locates the .asm directory by walking up from startDir.
func FindConfigDir(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	currentDir := absDir
	for {
		configDir := filepath.Join(currentDir, ConfigDirName)
		info, err := os.Stat(configDir)
		if err == nil && info.IsDir() {
			return configDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return "", ErrConfigNotFound
		}
		currentDir = parentDir
	}
}

// EnsureConfigDir creates the .asm directory if it doesn't exist.
// Returns the path to the .asm directory.
func EnsureConfigDir(workDir string) (string, error) {
	absDir, err := filepath.Abs(workDir)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	configDir := filepath.Join(absDir, ConfigDirName)
	info, err := os.Stat(configDir)
	if err == nil {
		if info.IsDir() {
			return configDir, nil
		}
		return "", fmt.Errorf("%s exists but is not a directory", configDir)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	return configDir, nil
}

// Validate checks that config values are valid.
func Validate(cfg *Config) error {
	if cfg.Loader.DynamicWorkers < 0 {
		return fmt.Errorf("%w: dynamic_workers must be non-negative, got %d",
			ErrInvalidConfig, cfg.Loader.DynamicWorkers)
	}

	if err := cfg.MetricsPageRank().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	for name, p := range map[string]*float64{"entry_power": cfg.PageRank.EntryPower, "exit_power": cfg.PageRank.ExitPower} {
		if p != nil && (math.IsNaN(*p) || *p < -12 || *p > 12) {
			return fmt.Errorf("%w: %s must be between -12 and 12, got %v", ErrInvalidConfig, name, *p)
		}
	}

	if cfg.Engine.Workers < 0 {
		return fmt.Errorf("%w: workers must be non-negative, got %d",
			ErrInvalidConfig, cfg.Engine.Workers)
	}
	if cfg.Engine.QueueSize <= 0 {
		return fmt.Errorf("%w: queue_size must be positive, got %d",
			ErrInvalidConfig, cfg.Engine.QueueSize)
	}
	if cfg.Engine.BatchSize <= 0 {
		return fmt.Errorf("%w: batch_size must be positive, got %d",
			ErrInvalidConfig, cfg.Engine.BatchSize)
	}

	if _, err := call.ParseGranularity(cfg.Graph.Granularity); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := metrics.ParseMonolithicityFormula(cfg.Graph.Monolithicity); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if !IsValidFormat(cfg.Output.Format) {
		return fmt.Errorf("%w: format must be one of %v, got %q",
			ErrInvalidConfig, ValidFormats, cfg.Output.Format)
	}
	if cfg.Output.Top < 0 {
		return fmt.Errorf("%w: top must be non-negative, got %d",
			ErrInvalidConfig, cfg.Output.Top)
	}
	return nil
}

// SaveDefault writes the default configuration to .asm/config.yaml (or
// config.toml when asTOML is set) in workDir.
func SaveDefault(workDir string, asTOML bool) (string, error) {
	configDir, err := EnsureConfigDir(workDir)
	if err != nil {
		return "", err
	}

	name := ConfigFileName
	if asTOML {
		name = TOMLConfigFileName
	}
	configPath := filepath.Join(configDir, name)

	if _, err := os.Stat(configPath); err == nil {
		return "", fmt.Errorf("config file already exists: %s", configPath)
	}

	cfg := DefaultConfig()
	var data []byte
	if asTOML {
		var sb strings.Builder
		if err := toml.NewEncoder(&sb).Encode(cfg); err != nil {
			return "", fmt.Errorf("marshaling config: %w", err)
		}
		data = []byte(sb.String())
	} else {
		data, err = yaml.Marshal(cfg)
		if err != nil {
			return "", fmt.Errorf("marshaling config: %w", err)
		}
	}

	header := "# asm configuration\n\n"
	data = append([]byte(header), data...)

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return configPath, nil
}

// Granularity returns the parsed graph granularity. Call after Validate.
func (c *Config) Granularity() call.Granularity {
	g, _ := call.ParseGranularity(c.Graph.Granularity)
	return g
}

// TestedFromDynamic reports whether dynamic coverage marks nodes tested.
func (c *Config) TestedFromDynamic() bool {
	return c.Graph.TestedFromDynamic == nil || *c.Graph.TestedFromDynamic
}

// MetricsPageRank converts the PageRank section to the metrics form.
func (c *Config) MetricsPageRank() metrics.PageRankConfig {
	p := c.PageRank
	return metrics.PageRankConfig{
		Damping:       p.Damping,
		MaxIterations: p.Iterations,
		Tolerance:     p.Tolerance,
		Personalization: metrics.Personalization{
			Entry: power(p.EntryPower, DefaultEntryPower),
			Exit:  power(p.ExitPower, DefaultExitPower),
			Other: 1,
		},
		Weights: p.Weights,
	}
}

// MetricsEngine converts the engine and graph sections to an engine config.
func (c *Config) MetricsEngine() metrics.EngineConfig {
	formula, _ := metrics.ParseMonolithicityFormula(c.Graph.Monolithicity)
	return metrics.EngineConfig{
		Workers:       c.Engine.Workers,
		QueueSize:     c.Engine.QueueSize,
		BatchSize:     c.Engine.BatchSize,
		Monolithicity: formula,
		PageRank:      c.MetricsPageRank(),
	}
}

func power(p *float64, def float64) float64 {
	if p == nil {
		return math.Pow(10, def)
	}
	return math.Pow(10, *p)
}
