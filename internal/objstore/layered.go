package objstore

import (
	"context"

	"github.com/odvcencio/gitcellar/internal/gitobj"
	"github.com/odvcencio/gitcellar/internal/objhash"
)

// Layered composes a writable loose store in front of a read-only
// packed store: new objects always land in loose, and a read checks
// loose first so a loose copy always wins over a stale packed one
// (spec.md §4.5).
type Layered struct {
	Loose  Store
	Packed Store // may be nil if no packs are attached yet
}

// NewLayered builds a composite store. packed may be nil.
func NewLayered(loose Store, packed Store) *Layered {
	return &Layered{Loose: loose, Packed: packed}
}

func (l *Layered) Put(ctx context.Context, kind gitobj.Kind, data []byte) (objhash.OID, error) {
	return l.Loose.Put(ctx, kind, data)
}

func (l *Layered) Get(ctx context.Context, oid objhash.OID) (gitobj.Kind, []byte, error) {
	kind, data, err := l.Loose.Get(ctx, oid)
	if err == nil {
		return kind, data, nil
	}
	if l.Packed == nil {
		return "", nil, ErrNotFound
	}
	return l.Packed.Get(ctx, oid)
}

func (l *Layered) Has(ctx context.Context, oid objhash.OID) (bool, error) {
	ok, _ := l.Loose.Has(ctx, oid)
	if ok {
		return true, nil
	}
	if l.Packed == nil {
		return false, nil
	}
	return l.Packed.Has(ctx, oid)
}

func (l *Layered) List(ctx context.Context) (<-chan objhash.OID, error) {
	looseCh, err := l.Loose.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan objhash.OID)
	go func() {
		defer close(out)
		seen := make(map[objhash.OID]struct{})
		for oid := range looseCh {
			seen[oid] = struct{}{}
			select {
			case out <- oid:
			case <-ctx.Done():
				return
			}
		}
		if l.Packed == nil {
			return
		}
		packedCh, err := l.Packed.List(ctx)
		if err != nil {
			return
		}
		for oid := range packedCh {
			if _, dup := seen[oid]; dup {
				continue
			}
			select {
			case out <- oid:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (l *Layered) GetType(ctx context.Context, oid objhash.OID) (gitobj.Kind, error) {
	kind, _, err := l.Get(ctx, oid)
	return kind, err
}

func (l *Layered) GetSize(ctx context.Context, oid objhash.OID) (int64, error) {
	_, data, err := l.Get(ctx, oid)
	if err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}
