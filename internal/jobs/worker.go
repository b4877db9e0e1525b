package jobs

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const defaultConcurrency = 4

// Compactor is the subset of *bundle.Compactor a WorkerPool drives.
type Compactor interface {
	Compact(ctx context.Context, bundleID int64) error
}

type WorkerPoolOptions struct {
	// Concurrency bounds how many bundles compact at once. Defaults to 4.
	Concurrency int
	Logger      *slog.Logger
}

// WorkerPool runs bundle compaction over a batch of candidates with
// bounded concurrency, so a compaction run can't pin every blob-store
// connection at once.
type WorkerPool struct {
	compactor   Compactor
	concurrency int64
	logger      *slog.Logger
}

func NewWorkerPool(compactor Compactor, opts WorkerPoolOptions) *WorkerPool {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{compactor: compactor, concurrency: int64(concurrency), logger: logger}
}

// Run compacts every candidate concurrently, bounded by Concurrency. A
// single bundle's compaction failure is logged and skipped rather than
// aborting the batch; Run only returns an error if ctx is cancelled or
// a semaphore acquisition fails.
func (w *WorkerPool) Run(ctx context.Context, candidates []Candidate) error {
	sem := semaphore.NewWeighted(w.concurrency)
	g, gctx := errgroup.WithContext(ctx)

	for _, c := range candidates {
		if err := sem.Acquire(gctx, 1); err != nil {
			return err
		}
		g.Go(func() error {
			defer sem.Release(1)
			if err := w.compactor.Compact(gctx, c.BundleID); err != nil {
				w.logger.Warn("bundle compaction failed",
					"bundle_id", c.BundleID, "lease_token", c.LeaseToken, "error", err)
				return nil
			}
			w.logger.Info("bundle compacted",
				"bundle_id", c.BundleID, "lease_token", c.LeaseToken, "fragment_ratio", c.FragmentRatio)
			return nil
		})
	}
	return g.Wait()
}
