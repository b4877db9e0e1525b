// Package bundle implements warm-tier storage (spec.md §4.8): an
// append-only bundle blob per active segment, a catalog recording
// where each object landed, and compaction that rewrites live entries
// into a fresh bundle once soft deletes accumulate.
package bundle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zlib"

	"github.com/odvcencio/gitcellar/internal/catalog"
	"github.com/odvcencio/gitcellar/internal/gitobj"
	"github.com/odvcencio/gitcellar/internal/objhash"
	"github.com/odvcencio/gitcellar/internal/storage"
)

const (
	defaultMaxBundleSize = 64 << 20 // 64 MiB
	defaultMaxEntries    = 50_000
)

// WriterOptions bounds how large an active bundle grows before it is
// sealed and a new one is started.
type WriterOptions struct {
	MaxBundleSize int64
	MaxEntries    int
	BlobKeyPrefix string
}

func (o WriterOptions) orDefault() WriterOptions {
	if o.MaxBundleSize <= 0 {
		o.MaxBundleSize = defaultMaxBundleSize
	}
	if o.MaxEntries <= 0 {
		o.MaxEntries = defaultMaxEntries
	}
	if o.BlobKeyPrefix == "" {
		o.BlobKeyPrefix = "bundles/"
	}
	return o
}

// Writer appends objects to the current active bundle, sealing it and
// starting a fresh one once it reaches its size or entry cap. Appends
// are serialized: only one writer may be mutating the active bundle's
// tail at a time (multiple Writers over the same catalog/blob store are
// not safe without external coordination).
type Writer struct {
	catalog catalog.Catalog
	blobs   storage.AppendBackend
	opts    WriterOptions

	mu sync.Mutex
}

// NewWriter returns a Writer appending through cat/blobs.
func NewWriter(cat catalog.Catalog, blobs storage.AppendBackend, opts WriterOptions) *Writer {
	return &Writer{catalog: cat, blobs: blobs, opts: opts.orDefault()}
}

// frame is a built (header||compressed-payload) record plus the
// sizing/checksum facts the catalog records alongside its placement.
type frame struct {
	bytes            []byte
	compressedSize   int64
	uncompressedSize int64
	crc32            uint32
}

// Append writes oid's object into the active bundle at the catalog's
// current offset, zlib-compressed behind a small frame header, and
// records the placement transactionally in the catalog. If the active
// bundle has reached its size or entry budget afterward, it is sealed
// and the next Append starts a new one.
func (w *Writer) Append(ctx context.Context, oid objhash.OID, kind gitobj.Kind, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := buildFrame(kind, data)
	if err != nil {
		return err
	}
	return w.appendFrame(ctx, oid.String(), kind, f)
}

func buildFrame(kind gitobj.Kind, data []byte) (frame, error) {
	header, err := encodeHeader(kind, len(data))
	if err != nil {
		return frame{}, err
	}
	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(data); err != nil {
		return frame{}, fmt.Errorf("bundle: compress payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return frame{}, fmt.Errorf("bundle: close compressor: %w", err)
	}
	return frame{
		bytes:            append(header, compressed.Bytes()...),
		compressedSize:   int64(compressed.Len()),
		uncompressedSize: int64(len(data)),
		crc32:            crc32.ChecksumIEEE(compressed.Bytes()),
	}, nil
}

// appendFrame writes an already-built frame at the active bundle's
// current offset. Shared with the compactor, which copies frames
// verbatim between bundles without decompressing and recompressing
// them, passing through the source row's existing size/crc32 facts.
func (w *Writer) appendFrame(ctx context.Context, oid string, kind gitobj.Kind, f frame) error {
	ab, b, err := w.catalog.GetActiveBundle(ctx)
	if errors.Is(err, catalog.ErrNotFound) {
		b, err = w.catalog.CreateBundle(ctx, w.opts.BlobKeyPrefix+uuid.NewString()+".bundle")
		if err != nil {
			return fmt.Errorf("bundle: create active bundle: %w", err)
		}
		ab = &catalog.ActiveBundle{BundleID: b.ID}
	} else if err != nil {
		return fmt.Errorf("bundle: get active bundle: %w", err)
	}

	// The catalog's current-offset is authoritative over the blob's
	// physical length: a prior crash may have left garbage bytes past
	// it, so this write must overwrite rather than append at EOF.
	if err := w.blobs.WriteAt(b.BlobKey, ab.CurrentOffset, f.bytes); err != nil {
		return fmt.Errorf("bundle: write frame: %w", err)
	}
	if err := w.catalog.RecordAppend(ctx, b.ID, oid, string(kind), ab.CurrentOffset, int64(len(f.bytes)), f.compressedSize, f.uncompressedSize, f.crc32); err != nil {
		return fmt.Errorf("bundle: record append: %w", err)
	}

	nextOffset := ab.CurrentOffset + int64(len(f.bytes))
	nextEntries := ab.EntryCount + 1
	if nextEntries >= w.opts.MaxEntries || nextOffset >= w.opts.MaxBundleSize {
		if err := w.sealAndFinalize(ctx, b.ID, b.BlobKey, nextEntries, nextOffset); err != nil {
			return err
		}
	}
	return nil
}

// sealAndFinalize seals bundleID and records its final entry count,
// byte size, and whole-blob CRC32 checksum, computed once sealing
// fixes the blob's contents.
func (w *Writer) sealAndFinalize(ctx context.Context, bundleID int64, blobKey string, entryCount int, totalSize int64) error {
	if err := w.catalog.SealBundle(ctx, bundleID); err != nil {
		return fmt.Errorf("bundle: seal bundle: %w", err)
	}
	contents, err := w.blobs.ReadRange(blobKey, 0, totalSize)
	if err != nil {
		return fmt.Errorf("bundle: read sealed blob for checksum: %w", err)
	}
	checksum := fmt.Sprintf("%08x", crc32.ChecksumIEEE(contents))
	if err := w.catalog.FinalizeBundle(ctx, bundleID, entryCount, totalSize, checksum); err != nil {
		return fmt.Errorf("bundle: finalize bundle: %w", err)
	}
	return nil
}

// inflate decompresses a zlib payload of known uncompressed size.
func inflate(compressed []byte, uncompressedSize int64) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("bundle: open zlib reader: %w", err)
	}
	defer zr.Close()

	out := make([]byte, uncompressedSize)
	if _, err := io.ReadFull(zr, out); err != nil {
		return nil, fmt.Errorf("bundle: inflate payload: %w", err)
	}
	return out, nil
}
