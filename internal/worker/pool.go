package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Handler processes one job. Errors are the handler's to report; the pool
// keeps draining the channel regardless.
type Handler[T any] func(ctx context.Context, workerID int, job T)

// StartPool starts workers goroutines draining jobs until the channel is
// closed or ctx is done. Callers wait on wg for the pool to finish.
func StartPool[T any](
	ctx context.Context,
	wg *sync.WaitGroup,
	workers int,
	jobs <-chan T,
	handle Handler[T],
	logger *zap.Logger,
) {
	if workers < 1 {
		workers = 1
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func(id int) {
			defer wg.Done()

			logger.Debug("worker started", zap.Int("worker_id", id))

			for {
				select {

				case <-ctx.Done():
					logger.Debug("worker shutting down", zap.Int("worker_id", id))
					return

				case job, ok := <-jobs:
					if !ok {
						logger.Debug("job channel closed", zap.Int("worker_id", id))
						return
					}

					handle(ctx, id, job)
				}
			}
		}(i)
	}
}

// Run fans jobs out over workers goroutines and returns once every job
// handed to a worker has been handled. It returns how many jobs were never
// handed out because ctx ended first.
func Run[T any](ctx context.Context, workers int, jobs []T, handle Handler[T], logger *zap.Logger) (skipped int) {
	ch := make(chan T)
	var wg sync.WaitGroup

	StartPool(ctx, &wg, workers, ch, handle, logger)

	for i, job := range jobs {
		select {
		case ch <- job:
		case <-ctx.Done():
			skipped = len(jobs) - i
		}
		if skipped > 0 {
			logger.Warn("jobs not handled, context done",
				zap.Int("skipped", skipped),
				zap.Error(ctx.Err()),
			)
			break
		}
	}
	close(ch)

	wg.Wait()
	return skipped
}
