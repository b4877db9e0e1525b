package tieredstore

import (
	"context"

	"github.com/odvcencio/gitcellar/internal/bloomindex"
	"github.com/odvcencio/gitcellar/internal/gitobj"
	"github.com/odvcencio/gitcellar/internal/objhash"
)

// BloomStore fronts a Store with a segmented bloom index (spec.md
// §4.9), answering Has cheaply on the ingest path: an Absent result
// skips the hot→warm→cold search entirely, Probable/Definite fall
// through to the real lookup.
type BloomStore struct {
	*Store
	bloom *bloomindex.Index
}

// NewBloomStore wraps store, recording every Put'd id in bloom.
func NewBloomStore(store *Store, bloom *bloomindex.Index) *BloomStore {
	return &BloomStore{Store: store, bloom: bloom}
}

func (b *BloomStore) Put(ctx context.Context, kind gitobj.Kind, data []byte) (objhash.OID, error) {
	oid, err := b.Store.Put(ctx, kind, data)
	if err != nil {
		return oid, err
	}
	b.bloom.Add(oid)
	return oid, nil
}

func (b *BloomStore) Has(ctx context.Context, oid objhash.OID) (bool, error) {
	if b.bloom.Check(oid) == bloomindex.Absent {
		return false, nil
	}
	has, err := b.Store.Has(ctx, oid)
	if err != nil {
		return false, err
	}
	if has {
		b.bloom.Add(oid)
	}
	return has, nil
}
