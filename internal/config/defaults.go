package config

import (
	"github.com/attack-surface/asm/internal/graph"
	"github.com/attack-surface/asm/internal/metrics"
)

// Default personalization powers: entry points weigh 10^3, exit points 10^2.
const (
	DefaultEntryPower = 3
	DefaultExitPower  = 2
)

// DefaultConfig returns configuration with sensible defaults.
// These defaults are used when no config file exists or when
// config file is missing specific fields.
func DefaultConfig() *Config {
	tested := true
	entry, exit := float64(DefaultEntryPower), float64(DefaultExitPower)
	return &Config{
		Loader: LoaderConfig{
			DynamicWorkers: 4,
		},
		PageRank: PageRankConfig{
			Damping:    0.85,
			Iterations: 100,
			Tolerance:  1e-8,
			EntryPower: &entry,
			ExitPower:  &exit,
			Weights:    graph.DefaultWeights(),
		},
		Engine: EngineConfig{
			QueueSize: metrics.DefaultQueueSize,
			BatchSize: metrics.DefaultBatchSize,
		},
		Graph: GraphConfig{
			Granularity:       "function",
			Monolithicity:     string(metrics.Fragments),
			TestedFromDynamic: &tested,
		},
		Output: OutputConfig{
			Format: "yaml",
			Top:    20,
		},
	}
}

// Merge merges loaded config with defaults.
// Values from loaded config take precedence over defaults.
// Returns a new Config with merged values.
func Merge(loaded, defaults *Config) *Config {
	result := &Config{}
	result.Loader = mergeLoaderConfig(loaded.Loader, defaults.Loader)
	result.PageRank = mergePageRankConfig(loaded.PageRank, defaults.PageRank)
	result.Engine = mergeEngineConfig(loaded.Engine, defaults.Engine)
	result.Graph = mergeGraphConfig(loaded.Graph, defaults.Graph)
	result.Output = mergeOutputConfig(loaded.Output, defaults.Output)
	return result
}

func mergeLoaderConfig(loaded, defaults LoaderConfig) LoaderConfig {
	result := loaded
	if loaded.DynamicWorkers == 0 {
		result.DynamicWorkers = defaults.DynamicWorkers
	}
	return result
}

func mergePageRankConfig(loaded, defaults PageRankConfig) PageRankConfig {
	result := PageRankConfig{}

	// Damping: use loaded if non-zero
	if loaded.Damping != 0 {
		result.Damping = loaded.Damping
	} else {
		result.Damping = defaults.Damping
	}

	if loaded.Iterations != 0 {
		result.Iterations = loaded.Iterations
	} else {
		result.Iterations = defaults.Iterations
	}

	if loaded.Tolerance != 0 {
		result.Tolerance = loaded.Tolerance
	} else {
		result.Tolerance = defaults.Tolerance
	}

	// Powers of zero are meaningful, so only a missing key falls back.
	result.EntryPower = loaded.EntryPower
	if result.EntryPower == nil {
		result.EntryPower = defaults.EntryPower
	}
	result.ExitPower = loaded.ExitPower
	if result.ExitPower == nil {
		result.ExitPower = defaults.ExitPower
	}

	result.Weights = mergeWeights(loaded.Weights, defaults.Weights)
	return result
}

// mergeWeights keeps every bonus as loaded; the base multipliers fall back
// to defaults when zero.
func mergeWeights(loaded, defaults graph.Weights) graph.Weights {
	result := loaded
	if loaded.Call == 0 {
		result.Call = defaults.Call
	}
	if loaded.Static == 0 {
		result.Static = defaults.Static
	}
	if loaded.Dynamic == 0 {
		result.Dynamic = defaults.Dynamic
	}
	return result
}

func mergeEngineConfig(loaded, defaults EngineConfig) EngineConfig {
	result := loaded
	if loaded.Workers == 0 {
		result.Workers = defaults.Workers
	}
	if loaded.QueueSize == 0 {
		result.QueueSize = defaults.QueueSize
	}
	if loaded.BatchSize == 0 {
		result.BatchSize = defaults.BatchSize
	}
	return result
}

func mergeGraphConfig(loaded, defaults GraphConfig) GraphConfig {
	result := loaded
	if loaded.Granularity == "" {
		result.Granularity = defaults.Granularity
	}
	if loaded.Monolithicity == "" {
		result.Monolithicity = defaults.Monolithicity
	}
	if loaded.TestedFromDynamic == nil {
		result.TestedFromDynamic = defaults.TestedFromDynamic
	}
	return result
}

func mergeOutputConfig(loaded, defaults OutputConfig) OutputConfig {
	result := OutputConfig{}

	if loaded.Format != "" {
		result.Format = loaded.Format
	} else {
		result.Format = defaults.Format
	}

	if loaded.Top != 0 {
		result.Top = loaded.Top
	} else {
		result.Top = defaults.Top
	}
	return result
}

// ValidFormats lists the valid values for output format
var ValidFormats = []string{"yaml", "json"}

// IsValidFormat checks if the given output format is valid
func IsValidFormat(format string) bool {
	for _, valid := range ValidFormats {
		if format == valid {
			return true
		}
	}
	return false
}
