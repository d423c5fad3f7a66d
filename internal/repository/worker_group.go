package repository

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// runWorkers runs count instances of workerFunc using an errgroup.Group and
// returns the first error. finalFunc is always run after all workers have
// terminated.
func runWorkers(ctx context.Context, count int, workerFunc func(ctx context.Context) error, finalFunc func()) error {
	wg, ctx := errgroup.WithContext(ctx)

	for i := 0; i < count; i++ {
		wg.Go(func() error {
			return workerFunc(ctx)
		})
	}

	err := wg.Wait()
	finalFunc()
	return err
}

// DeleteBlobs deletes the blobs concurrently, with at most as many workers
// as the repository allows connections. The first failure cancels the
// remaining deletes and is returned.
func (c *Container) DeleteBlobs(ctx context.Context, names []string) error {
	workers := int(c.repo.connections)
	if workers > len(names) {
		workers = len(names)
	}

	ch := make(chan string)
	feedCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(ch)
		for _, name := range names {
			select {
			case ch <- name:
			case <-feedCtx.Done():
				return
			}
		}
	}()

	return runWorkers(ctx, workers, func(ctx context.Context) error {
		for name := range ch {
			if err := c.DeleteBlob(ctx, name); err != nil {
				cancel()
				return err
			}
		}
		return nil
	}, cancel)
}
