package bundle

import (
	"context"
	"fmt"

	"github.com/odvcencio/gitcellar/internal/catalog"
	"github.com/odvcencio/gitcellar/internal/gitobj"
	"github.com/odvcencio/gitcellar/internal/objhash"
)

// Store composes a Writer and Reader into the full objstore.Store
// contract (plus Delete), so the bundle/catalog pair can be wired
// directly into tieredstore.Store as the warm tier.
type Store struct {
	catalog catalog.Catalog
	writer  *Writer
	reader  *Reader
}

// NewStore returns a Store appending through writer and resolving
// reads through reader; both must share the same catalog.
func NewStore(cat catalog.Catalog, writer *Writer, reader *Reader) *Store {
	return &Store{catalog: cat, writer: writer, reader: reader}
}

// Put compresses and appends data into the active bundle, keyed by its
// content hash.
func (s *Store) Put(ctx context.Context, kind gitobj.Kind, data []byte) (objhash.OID, error) {
	oid := gitobj.Hash(kind, data)
	if has, err := s.reader.Has(ctx, oid); err != nil {
		return objhash.OID{}, err
	} else if has {
		return oid, nil
	}
	if err := s.writer.Append(ctx, oid, kind, data); err != nil {
		return objhash.OID{}, err
	}
	return oid, nil
}

func (s *Store) Get(ctx context.Context, oid objhash.OID) (gitobj.Kind, []byte, error) {
	return s.reader.Get(ctx, oid)
}

func (s *Store) Has(ctx context.Context, oid objhash.OID) (bool, error) {
	return s.reader.Has(ctx, oid)
}

func (s *Store) Delete(ctx context.Context, oid objhash.OID) error {
	return s.reader.Delete(ctx, oid)
}

// List enumerates every live object across every bundle the catalog
// knows about. Unlike a single-tier loose or packed store this
// requires a bundle-by-bundle scan, since there is no in-memory index
// of every id a warm tier holds.
func (s *Store) List(ctx context.Context) (<-chan objhash.OID, error) {
	bundles, err := s.catalog.ListBundles(ctx)
	if err != nil {
		return nil, fmt.Errorf("bundle: list bundles: %w", err)
	}

	out := make(chan objhash.OID)
	go func() {
		defer close(out)
		for _, b := range bundles {
			live, err := s.catalog.ListLiveObjects(ctx, b.ID)
			if err != nil {
				return
			}
			for _, obj := range live {
				oid, err := objhash.FromHex(obj.OID)
				if err != nil {
					continue
				}
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

func (s *Store) GetType(ctx context.Context, oid objhash.OID) (gitobj.Kind, error) {
	kind, _, err := s.reader.Get(ctx, oid)
	return kind, err
}

func (s *Store) GetSize(ctx context.Context, oid objhash.OID) (int64, error) {
	_, data, err := s.reader.Get(ctx, oid)
	if err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}
