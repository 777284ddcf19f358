package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/attack-surface/asm/internal/analysis"
	"github.com/attack-surface/asm/internal/cache"
	"github.com/attack-surface/asm/internal/call"
	"github.com/attack-surface/asm/internal/config"
	"github.com/attack-surface/asm/internal/output"
	"github.com/attack-surface/asm/internal/store"
)

// Shared utility functions for command implementations

// loadConfig reads --config or the nearest .asm config, then applies the
// global flags that override it.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load(".")
	}
	if err != nil {
		return nil, err
	}

	if granularity != "" {
		if _, err := call.ParseGranularity(granularity); err != nil {
			return nil, err
		}
		cfg.Graph.Granularity = granularity
	}
	if outputFormat != "" {
		cfg.Output.Format = outputFormat
	}
	return cfg, nil
}

// workDir returns the .asm directory, creating it in the current directory
// when none exists up the tree.
func workDir() (string, error) {
	dir, err := config.FindConfigDir(".")
	if errors.Is(err, config.ErrConfigNotFound) {
		return config.EnsureConfigDir(".")
	}
	return dir, err
}

// existingWorkDir returns the .asm directory or an error pointing at
// 'asm init'.
func existingWorkDir() (string, error) {
	dir, err := config.FindConfigDir(".")
	if err != nil {
		return "", fmt.Errorf("asm not initialized: run 'asm init' or 'asm build' first")
	}
	return dir, nil
}

func openCache(cmd *cobra.Command, dir string) (*cache.Cache, error) {
	inv := invocationOf(cmd)
	c, err := cache.Open(dir, inv.logger, inv.metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	return c, nil
}

func openStore(dir string) (*store.Store, error) {
	s, err := store.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	return s, nil
}

// analyzerOptions selects the optional collaborators of an Analyzer.
type analyzerOptions struct {
	noCache   bool
	noHistory bool
}

// newAnalyzer wires an Analyzer to the cache and history in .asm. The
// returned cleanup closes whatever was opened.
func newAnalyzer(cmd *cobra.Command, cfg *config.Config, opts analyzerOptions) (*analysis.Analyzer, func(), error) {
	inv := invocationOf(cmd)
	a := &analysis.Analyzer{
		Config:  cfg,
		Root:    dataRoot,
		Logger:  inv.logger,
		Metrics: inv.metrics,
	}
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				inv.logger.Warn("close failed", zap.Error(err))
			}
		}
	}
	if opts.noCache && opts.noHistory {
		return a, cleanup, nil
	}

	dir, err := workDir()
	if err != nil {
		return nil, nil, err
	}
	if !opts.noCache {
		c, err := openCache(cmd, dir)
		if err != nil {
			return nil, nil, err
		}
		a.Cache = c
		closers = append(closers, c.Close)
	}
	if !opts.noHistory {
		s, err := openStore(dir)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		a.Store = s
		closers = append(closers, s.Close)
	}
	return a, cleanup, nil
}

// parseRelease builds a release from <subject> <release> arguments.
func parseRelease(cfg *config.Config, args []string) (analysis.Release, error) {
	if len(args) < 2 {
		return analysis.Release{}, fmt.Errorf("expected <subject> <release>")
	}
	rel := analysis.Release{
		Subject:     strings.ToLower(args[0]),
		Version:     strings.TrimPrefix(args[1], "v"),
		Granularity: cfg.Granularity(),
	}
	if _, err := analysis.LookupSubject(rel.Subject); err != nil {
		return rel, err
	}
	return rel, nil
}

// writeOutput renders v with the configured format and --density.
func writeOutput(cmd *cobra.Command, cfg *config.Config, v interface{}) error {
	format, err := output.ParseFormat(cfg.Output.Format)
	if err != nil {
		return err
	}
	density, err := output.ParseDensity(outputDensity)
	if err != nil {
		return err
	}
	formatter, err := output.GetFormatter(format)
	if err != nil {
		return err
	}
	return formatter.FormatToWriter(cmd.OutOrStdout(), v, density)
}

// parseFunctionQuery splits name@file. At file granularity the whole query
// is the file.
func parseFunctionQuery(query string, g call.Granularity) call.Key {
	if g == call.File {
		return call.Key{File: query}
	}
	if at := strings.LastIndex(query, "@"); at > 0 && at < len(query)-1 {
		return call.Key{Name: query[:at], File: query[at+1:]}
	}
	return call.Key{Name: query}
}
