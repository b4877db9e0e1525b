// Package objstore implements the content-addressed object store
// contract (spec.md §4.5): put/get/has/list/getType/getSize over
// composable loose and packed backing tiers.
package objstore

import (
	"context"
	"errors"
	"sync"

	"github.com/odvcencio/gitcellar/internal/gitobj"
	"github.com/odvcencio/gitcellar/internal/objhash"
)

// ErrNotFound is returned by Get/GetType/GetSize for an id with no
// stored object.
var ErrNotFound = errors.New("objstore: object not found")

// Store is the capability set every object-store tier (loose, packed,
// bundled, cached) and the routing composite implement.
type Store interface {
	Put(ctx context.Context, kind gitobj.Kind, data []byte) (objhash.OID, error)
	Get(ctx context.Context, oid objhash.OID) (gitobj.Kind, []byte, error)
	Has(ctx context.Context, oid objhash.OID) (bool, error)
	List(ctx context.Context) (<-chan objhash.OID, error)
	GetType(ctx context.Context, oid objhash.OID) (gitobj.Kind, error)
	GetSize(ctx context.Context, oid objhash.OID) (int64, error)
}

// Loose is an in-process, lock-protected loose-object store: one
// object per id, held fully in memory. A filesystem-backed loose store
// (reading `objects/<xx>/<38>` zlib files) is provided by the fsrepo
// package for read-only repositories; this implementation backs a
// writable hot tier and tests.
type Loose struct {
	mu   sync.RWMutex
	objs map[objhash.OID]looseEntry
}

type looseEntry struct {
	kind gitobj.Kind
	data []byte
}

// NewLoose returns an empty in-memory loose object store.
func NewLoose() *Loose {
	return &Loose{objs: make(map[objhash.OID]looseEntry)}
}

// Put stores data under its content hash, idempotently.
func (l *Loose) Put(_ context.Context, kind gitobj.Kind, data []byte) (objhash.OID, error) {
	if !kind.IsValid() {
		return objhash.OID{}, gitobj.ErrUnknownKind
	}
	oid := gitobj.Hash(kind, data)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.objs[oid]; !exists {
		cp := append([]byte(nil), data...)
		l.objs[oid] = looseEntry{kind: kind, data: cp}
	}
	return oid, nil
}

// Get returns the kind and body of a stored object.
func (l *Loose) Get(_ context.Context, oid objhash.OID) (gitobj.Kind, []byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.objs[oid]
	if !ok {
		return "", nil, ErrNotFound
	}
	return e.kind, e.data, nil
}

// Has reports whether oid is stored.
func (l *Loose) Has(_ context.Context, oid objhash.OID) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.objs[oid]
	return ok, nil
}

// List streams every stored id on a channel, closed when exhausted.
func (l *Loose) List(ctx context.Context) (<-chan objhash.OID, error) {
	l.mu.RLock()
	ids := make([]objhash.OID, 0, len(l.objs))
	for oid := range l.objs {
		ids = append(ids, oid)
	}
	l.mu.RUnlock()

	out := make(chan objhash.OID)
	go func() {
		defer close(out)
		for _, oid := range ids {
			select {
			case out <- oid:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// GetType returns just the kind of a stored object.
func (l *Loose) GetType(ctx context.Context, oid objhash.OID) (gitobj.Kind, error) {
	kind, _, err := l.Get(ctx, oid)
	return kind, err
}

// GetSize returns the body length of a stored object.
func (l *Loose) GetSize(ctx context.Context, oid objhash.OID) (int64, error) {
	_, data, err := l.Get(ctx, oid)
	if err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// Delete removes a stored object. Used by tier migration to evict a
// copied-and-verified object from its source tier; a no-op if the id
// isn't present.
func (l *Loose) Delete(_ context.Context, oid objhash.OID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.objs, oid)
	return nil
}
