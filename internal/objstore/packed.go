package objstore

import (
	"bytes"
	"context"

	"github.com/odvcencio/gitcellar/internal/gitobj"
	"github.com/odvcencio/gitcellar/internal/objhash"
	"github.com/odvcencio/gitcellar/internal/pack"
	"github.com/odvcencio/gitcellar/internal/packindex"
)

// PackReader supplies the raw compressed bytes of a packfile by pack id,
// so Packed can re-open and re-read on demand rather than holding every
// pack fully decompressed in memory.
type PackReader interface {
	ReadPack(ctx context.Context, packID string) ([]byte, error)
}

// Packed is a read-only object store backed by one or more packfiles
// and their indexes, resolved through a MultiIndex. Put is unsupported;
// packed storage is produced by the pack builder, not written to
// incrementally.
type Packed struct {
	multi   *packindex.MultiIndex
	reader  PackReader
	limits  pack.Limits
	bases   pack.ExternalBaseResolver
}

// NewPacked builds a packed store view over multi, reading pack bytes
// through reader on demand. A nil bases resolver disables thin-pack
// support (REF_DELTA bases must live within the same pack).
func NewPacked(multi *packindex.MultiIndex, reader PackReader, limits pack.Limits, bases pack.ExternalBaseResolver) *Packed {
	return &Packed{multi: multi, reader: reader, limits: limits, bases: bases}
}

func (p *Packed) Put(context.Context, gitobj.Kind, []byte) (objhash.OID, error) {
	return objhash.OID{}, errPackedReadOnly
}

var errPackedReadOnly = &readOnlyError{"objstore: packed store is read-only"}

type readOnlyError struct{ msg string }

func (e *readOnlyError) Error() string { return e.msg }

// Get resolves oid through the multi-index, reads the owning pack, and
// unpacks just that object's entry.
func (p *Packed) Get(ctx context.Context, oid objhash.OID) (gitobj.Kind, []byte, error) {
	packID, _, ok := p.multi.Lookup(oid)
	if !ok {
		return "", nil, ErrNotFound
	}
	data, err := p.reader.ReadPack(ctx, packID)
	if err != nil {
		return "", nil, err
	}
	entries, err := pack.Unpack(bytes.NewReader(data), p.limits, p.bases)
	if err != nil {
		return "", nil, err
	}
	for _, e := range entries {
		if e.OID == oid {
			return e.Kind, e.Data, nil
		}
	}
	return "", nil, ErrNotFound
}

func (p *Packed) Has(_ context.Context, oid objhash.OID) (bool, error) {
	_, _, ok := p.multi.Lookup(oid)
	return ok, nil
}

func (p *Packed) List(ctx context.Context) (<-chan objhash.OID, error) {
	ids := p.multi.AllOIDs()
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

func (p *Packed) GetType(ctx context.Context, oid objhash.OID) (gitobj.Kind, error) {
	kind, _, err := p.Get(ctx, oid)
	return kind, err
}

func (p *Packed) GetSize(ctx context.Context, oid objhash.OID) (int64, error) {
	_, data, err := p.Get(ctx, oid)
	if err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}
