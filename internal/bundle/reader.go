package bundle

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/odvcencio/gitcellar/internal/catalog"
	"github.com/odvcencio/gitcellar/internal/gitobj"
	"github.com/odvcencio/gitcellar/internal/objhash"
	"github.com/odvcencio/gitcellar/internal/storage"
)

// ErrNotFound is returned for an id with no live bundle_objects row.
var ErrNotFound = catalog.ErrNotFound

// ErrCRCMismatch is returned when a frame's stored CRC32 doesn't match
// the compressed payload actually read back from the blob — bit rot or
// a torn write in the warm tier.
var ErrCRCMismatch = errors.New("bundle: crc32 mismatch")

// Reader resolves an object id to its bundle, range-reads the frame,
// and inflates it — the lookup path spec.md §4.8 describes as
// `key → bundle_objects → bundles.blob-key + offset + size`.
type Reader struct {
	catalog catalog.Catalog
	blobs   storage.AppendBackend
}

// NewReader returns a Reader over cat/blobs.
func NewReader(cat catalog.Catalog, blobs storage.AppendBackend) *Reader {
	return &Reader{catalog: cat, blobs: blobs}
}

// Get returns the kind and decompressed body of oid, or ErrNotFound.
func (r *Reader) Get(ctx context.Context, oid objhash.OID) (gitobj.Kind, []byte, error) {
	obj, b, err := r.catalog.LookupObject(ctx, oid.String())
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return "", nil, ErrNotFound
		}
		return "", nil, err
	}
	frameSize := headerSize + obj.CompressedSize
	raw, err := r.blobs.ReadRange(b.BlobKey, obj.Offset, frameSize)
	if err != nil {
		return "", nil, fmt.Errorf("bundle: read frame for %s: %w", oid, err)
	}
	kind, size, err := decodeHeader(raw)
	if err != nil {
		return "", nil, err
	}
	compressed := raw[headerSize:]
	if got := crc32.ChecksumIEEE(compressed); got != obj.CRC32 {
		return "", nil, fmt.Errorf("%w: %s: stored %08x, computed %08x", ErrCRCMismatch, oid, obj.CRC32, got)
	}
	data, err := inflate(compressed, size)
	if err != nil {
		return "", nil, err
	}
	return kind, data, nil
}

// Has reports whether oid has a live bundle_objects row, without
// reading its payload.
func (r *Reader) Has(ctx context.Context, oid objhash.OID) (bool, error) {
	_, _, err := r.catalog.LookupObject(ctx, oid.String())
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete soft-deletes oid: the bundle_objects row is marked deleted
// but its bytes stay in the blob until compaction rewrites the bundle.
func (r *Reader) Delete(ctx context.Context, oid objhash.OID) error {
	return r.catalog.SoftDeleteObject(ctx, oid.String())
}
