// Package output provides the YAML/JSON views printed by the asm commands.
//
// # Output Types
//
//   - FunctionOutput: one function with its attack-surface metrics (asm show)
//   - ListOutput: functions ranked by PageRank (asm rank)
//   - ReleaseOutput: release summary with graph statistics (asm build)
//   - CacheOutput: graph cache contents (asm cache stats)
//   - SweepOutput: sensitivity sweep results (asm sensitivity)
//   - HistoryOutput: stored runs and Dolt commits (asm history)
//
// # Density Modes
//
// Three density levels control how much of a function is printed:
//
//   - Sparse: location and PageRank only
//     Example: strcpy: {page_rank: 0.0123}
//
//   - Medium (default): adds classification and fan-in/fan-out
//
//   - Dense: adds SLOC, call frequency, proximity and surface coupling
//
// # Example Usage
//
//	f, _ := output.GetFormatter(output.FormatYAML)
//	list := output.NewListOutput(rows, 20)
//	f.FormatToWriter(os.Stdout, list, output.DensityMedium)
package output
