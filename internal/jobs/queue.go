// Package jobs schedules background bundle compaction: scanning the
// catalog for sealed bundles worth rewriting, then driving the rewrite
// with bounded concurrency.
package jobs

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/odvcencio/gitcellar/internal/catalog"
	"github.com/odvcencio/gitcellar/internal/storage"
)

const defaultMinFragmentRatio = 0.3

// frameHeaderSize mirrors bundle's per-object frame header (kind byte
// + 8-byte length) so fragmentRatio can reconstruct each live object's
// on-disk footprint from its catalog-recorded compressed size.
const frameHeaderSize = 9

// Candidate is a sealed bundle whose dead-byte fraction has crossed
// the compaction threshold.
type Candidate struct {
	BundleID      int64
	LeaseToken    string
	FragmentRatio float64
}

// Queue scans the catalog for compaction candidates.
type Queue struct {
	catalog          catalog.Catalog
	blobs            storage.AppendBackend
	minFragmentRatio float64
}

type QueueOptions struct {
	// MinFragmentRatio is the dead/total byte fraction a sealed bundle
	// must reach before it's worth rewriting. Defaults to 0.3.
	MinFragmentRatio float64
}

func NewQueue(cat catalog.Catalog, blobs storage.AppendBackend, opts QueueOptions) *Queue {
	ratio := opts.MinFragmentRatio
	if ratio <= 0 {
		ratio = defaultMinFragmentRatio
	}
	return &Queue{catalog: cat, blobs: blobs, minFragmentRatio: ratio}
}

// Candidates returns every sealed bundle at or above the configured
// fragmentation threshold, each tagged with a fresh lease token used
// to correlate a single compaction attempt across log lines.
func (q *Queue) Candidates(ctx context.Context) ([]Candidate, error) {
	bundles, err := q.catalog.ListBundles(ctx)
	if err != nil {
		return nil, fmt.Errorf("jobs: list bundles: %w", err)
	}

	var out []Candidate
	for _, b := range bundles {
		if b.State != catalog.BundleSealed {
			continue
		}
		ratio, err := q.fragmentRatio(ctx, b)
		if err != nil {
			return nil, err
		}
		if ratio < q.minFragmentRatio {
			continue
		}
		out = append(out, Candidate{
			BundleID:      b.ID,
			LeaseToken:    uuid.NewString(),
			FragmentRatio: ratio,
		})
	}
	return out, nil
}

func (q *Queue) fragmentRatio(ctx context.Context, b catalog.Bundle) (float64, error) {
	total, err := q.blobs.Size(b.BlobKey)
	if err != nil {
		return 0, fmt.Errorf("jobs: size %s: %w", b.BlobKey, err)
	}
	if total == 0 {
		return 0, nil
	}

	live, err := q.catalog.ListLiveObjects(ctx, b.ID)
	if err != nil {
		return 0, fmt.Errorf("jobs: list live objects for bundle %d: %w", b.ID, err)
	}
	var liveBytes int64
	for _, obj := range live {
		liveBytes += frameHeaderSize + obj.CompressedSize
	}
	dead := total - liveBytes
	if dead < 0 {
		dead = 0
	}
	return float64(dead) / float64(total), nil
}
