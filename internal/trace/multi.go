package trace

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Loader reads one trace file.
type Loader interface {
	Load(ctx context.Context, path string) (*Trace, error)
}

// LoadDynamicFiles loads one trace per profiling run with at most workers
// files in flight and sums call counts per edge. The result does not depend
// on completion order: traces are combined in the order of paths.
func LoadDynamicFiles(ctx context.Context, loader Loader, paths []string, workers int) (*Trace, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	traces := make([]*Trace, len(paths))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i, path := range paths {
		eg.Go(func() error {
			t, err := loader.Load(egCtx, path)
			if err != nil {
				return fmt.Errorf("load %s: %w", path, err)
			}
			traces[i] = t
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return Combine(Dynamic, traces...), nil
}
