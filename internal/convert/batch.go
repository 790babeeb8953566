package convert

import (
	"context"

	"github.com/rmoura-dev/docflow/internal/common"
	"github.com/rmoura-dev/docflow/internal/pool"
)

// BatchConvert runs a set of files through the conversion pool and returns
// one result per path, in input order. Files that exhaust their retries
// come back with Success == false; the batch itself never fails.
func BatchConvert(ctx context.Context, cfg common.ConvertConfig, converter *Converter, paths []string, opts ...pool.Option[Result]) []pool.TaskResult[Result] {
	logger := converter.logger.With("component", "convert.batch")

	base := []pool.Option[Result]{
		pool.WithMaxConcurrency[Result](cfg.MaxConcurrency),
		pool.WithTaskTimeout[Result](cfg.TaskTimeout),
	}
	p := pool.New[Result](logger, append(base, opts...)...)

	tasks := make([]pool.Task[Result], 0, len(paths))
	for _, path := range paths {
		tasks = append(tasks, pool.Task[Result]{
			ID: path,
			Run: func(ctx context.Context) (Result, error) {
				return converter.Convert(ctx, path)
			},
		})
	}
	p.AddBatch(tasks)

	logger.Info("convert.batch.start", "files", len(paths), "concurrency", cfg.MaxConcurrency)
	results := p.ProcessAll(ctx)

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	logger.Info("convert.batch.done", "files", len(paths), "succeeded", succeeded, "failed", len(paths)-succeeded)
	return results
}
