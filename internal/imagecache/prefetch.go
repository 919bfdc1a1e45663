package imagecache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"
)

const DefaultPrefetchWorkers = 4

// Task is a handle on a background prefetch.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Wait blocks until the prefetch finishes. It returns the context error if
// the task was cancelled, otherwise the joined per-URL failures.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}

// Cancel stops scheduling new downloads and aborts those in flight.
func (t *Task) Cancel() {
	t.cancel()
}

// Prefetch warms the cache for urls in the background, running at most
// workers downloads at once. Already-cached URLs are skipped. One failing
// URL does not stop the others.
func (c *Cache) Prefetch(ctx context.Context, urls []string, workers int) *Task {
	if workers <= 0 {
		workers = DefaultPrefetchWorkers
	}
	ctx, cancel := context.WithCancel(ctx)
	task := &Task{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(task.done)
		defer cancel()

		var (
			mu   sync.Mutex
			errs []error
		)
		g := new(errgroup.Group)
		g.SetLimit(workers)

		seen := make(map[string]struct{}, len(urls))
		for _, url := range urls {
			if ctx.Err() != nil {
				break
			}
			if _, dup := seen[url]; dup || url == "" {
				continue
			}
			seen[url] = struct{}{}
			if _, err := os.Stat(c.Path(url)); err == nil {
				continue
			}

			url := url
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				if _, err := c.FetchAndStore(ctx, url); err != nil && ctx.Err() == nil {
					c.logger.Warn("prefetch failed", "url", url, "error", err)
					mu.Lock()
					errs = append(errs, fmt.Errorf("%s: %w", url, err))
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			task.err = err
			return
		}
		task.err = errors.Join(errs...)
		c.logger.Debug("prefetch complete", "urls", len(seen), "failed", len(errs))
	}()

	return task
}
