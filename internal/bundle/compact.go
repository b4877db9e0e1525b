package bundle

import (
	"context"
	"fmt"

	"github.com/odvcencio/gitcellar/internal/catalog"
	"github.com/odvcencio/gitcellar/internal/gitobj"
	"github.com/odvcencio/gitcellar/internal/storage"
)

// Compactor rewrites a bundle's live entries into a fresh bundle
// (through a Writer) and deletes the old bundle row and blob, reclaiming
// the physical space soft-deleted entries left behind.
type Compactor struct {
	catalog catalog.Catalog
	blobs   storage.AppendBackend
	writer  *Writer
}

// NewCompactor returns a Compactor that rewrites live entries through
// writer and deletes source bundles via cat/blobs.
func NewCompactor(cat catalog.Catalog, blobs storage.AppendBackend, writer *Writer) *Compactor {
	return &Compactor{catalog: cat, blobs: blobs, writer: writer}
}

// Compact rewrites every live (non-deleted) object of bundleID into
// the writer's current active bundle, verbatim (the frame is copied
// without decompressing and recompressing), then deletes the source
// bundle's catalog rows and blob.
func (c *Compactor) Compact(ctx context.Context, bundleID int64) error {
	b, err := c.catalog.GetBundle(ctx, bundleID)
	if err != nil {
		return fmt.Errorf("bundle: compact: get bundle %d: %w", bundleID, err)
	}
	live, err := c.catalog.ListLiveObjects(ctx, bundleID)
	if err != nil {
		return fmt.Errorf("bundle: compact: list live objects: %w", err)
	}

	for _, obj := range live {
		frameSize := headerSize + obj.CompressedSize
		raw, err := c.blobs.ReadRange(b.BlobKey, obj.Offset, frameSize)
		if err != nil {
			return fmt.Errorf("bundle: compact: read frame for %s: %w", obj.OID, err)
		}
		f := frame{
			bytes:            raw,
			compressedSize:   obj.CompressedSize,
			uncompressedSize: obj.UncompressedSize,
			crc32:            obj.CRC32,
		}
		c.writer.mu.Lock()
		err = c.writer.appendFrame(ctx, obj.OID, gitobj.Kind(obj.Kind), f)
		c.writer.mu.Unlock()
		if err != nil {
			return fmt.Errorf("bundle: compact: rewrite %s: %w", obj.OID, err)
		}
	}

	if err := c.catalog.DeleteBundle(ctx, bundleID); err != nil {
		return fmt.Errorf("bundle: compact: delete old bundle %d: %w", bundleID, err)
	}
	return c.blobs.Delete(b.BlobKey)
}
