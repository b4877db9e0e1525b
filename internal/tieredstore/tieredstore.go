// Package tieredstore implements the hot/warm/cold object store routing
// layer (spec.md §4.7): read-through lookups across tiers, an access
// tracker with decay, and an alarm-driven background migration
// scheduler that moves cold objects down and (on a cold read) can
// promote them back up.
package tieredstore

import (
	"context"
	"errors"

	"github.com/odvcencio/gitcellar/internal/gitobj"
	"github.com/odvcencio/gitcellar/internal/objhash"
	"github.com/odvcencio/gitcellar/internal/objstore"
)

// ErrNotFound is returned when an id is absent from every tier.
var ErrNotFound = objstore.ErrNotFound

// Tier is the capability set a single storage tier offers the router
// and the migration scheduler: the object-store contract plus Delete,
// since migration must be able to evict from a source tier once a copy
// is verified on the target.
type Tier interface {
	objstore.Store
	Delete(ctx context.Context, oid objhash.OID) error
}

// Name identifies one of the three tiers for logging, metrics, and
// access-tracker bookkeeping.
type Name string

const (
	Hot  Name = "hot"
	Warm Name = "warm"
	Cold Name = "cold"
)

// Store routes reads and writes across hot, warm, and cold tiers.
// Writes always land in hot; reads search hot, then warm, then cold,
// and on a miss in the faster tier the result read from a slower tier
// is written back into it (read-through promotion).
type Store struct {
	Hot  Tier
	Warm Tier
	Cold Tier

	Tracker *AccessTracker
	// Index, when set, is consulted before the normal hot→warm→cold
	// search: an object mid-migration is authoritative on whichever
	// tier the in-flight copy hasn't yet left (spec.md §4.7 — a reader
	// observing `copying` reads the source tier, `source-delete` reads
	// the target).
	Index *MigrationIndex
}

// New returns a Store over the three tiers. tracker and index may be
// nil for callers that don't run a migration scheduler.
func New(hot, warm, cold Tier, tracker *AccessTracker, index *MigrationIndex) *Store {
	return &Store{Hot: hot, Warm: warm, Cold: cold, Tracker: tracker, Index: index}
}

// Put always writes to the hot tier; migration moves data down to warm
// and cold later, driven by access recency rather than write path.
func (s *Store) Put(ctx context.Context, kind gitobj.Kind, data []byte) (objhash.OID, error) {
	return s.Hot.Put(ctx, kind, data)
}

// Get searches hot, warm, then cold, read-through-promoting a find in
// a slower tier into every faster tier it missed, and records the
// access for the migration policy to consider.
func (s *Store) Get(ctx context.Context, oid objhash.OID) (gitobj.Kind, []byte, error) {
	if s.Index != nil {
		if authoritative := s.Index.AuthoritativeTier(oid); authoritative != "" {
			if tier := authoritative.tierOf(s); tier != nil {
				kind, data, err := tier.Get(ctx, oid)
				if err == nil {
					if s.Tracker != nil {
						s.Tracker.RecordAccess(oid)
					}
					return kind, data, nil
				}
				if !errors.Is(err, objstore.ErrNotFound) {
					return "", nil, err
				}
			}
		}
	}

	tiers := []struct {
		name Name
		tier Tier
	}{{Hot, s.Hot}, {Warm, s.Warm}, {Cold, s.Cold}}

	for i, t := range tiers {
		if t.tier == nil {
			continue
		}
		kind, data, err := t.tier.Get(ctx, oid)
		if err == nil {
			if s.Tracker != nil {
				s.Tracker.RecordAccess(oid)
			}
			for j := 0; j < i; j++ {
				if tiers[j].tier != nil {
					_, _ = tiers[j].tier.Put(ctx, kind, data)
				}
			}
			return kind, data, nil
		}
		if !errors.Is(err, objstore.ErrNotFound) {
			return "", nil, err
		}
	}
	return "", nil, ErrNotFound
}

// Has searches hot, warm, then cold without promoting or recording
// access — callers that only need existence shouldn't pay for a read.
func (s *Store) Has(ctx context.Context, oid objhash.OID) (bool, error) {
	for _, t := range []Tier{s.Hot, s.Warm, s.Cold} {
		if t == nil {
			continue
		}
		ok, err := t.Has(ctx, oid)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// List streams every id present in any tier, deduplicated.
func (s *Store) List(ctx context.Context) (<-chan objhash.OID, error) {
	out := make(chan objhash.OID)
	go func() {
		defer close(out)
		seen := make(map[objhash.OID]struct{})
		for _, t := range []Tier{s.Hot, s.Warm, s.Cold} {
			if t == nil {
				continue
			}
			ch, err := t.List(ctx)
			if err != nil {
				return
			}
			for oid := range ch {
				if _, dup := seen[oid]; dup {
					continue
				}
				seen[oid] = struct{}{}
				select {
				case out <- oid:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// GetType returns the kind of a stored object, searching all tiers.
func (s *Store) GetType(ctx context.Context, oid objhash.OID) (gitobj.Kind, error) {
	kind, _, err := s.Get(ctx, oid)
	return kind, err
}

// GetSize returns the body length of a stored object, searching all
// tiers.
func (s *Store) GetSize(ctx context.Context, oid objhash.OID) (int64, error) {
	_, data, err := s.Get(ctx, oid)
	if err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func (t Name) tierOf(s *Store) Tier {
	switch t {
	case Hot:
		return s.Hot
	case Warm:
		return s.Warm
	case Cold:
		return s.Cold
	default:
		return nil
	}
}
