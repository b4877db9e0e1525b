// Package catalog is the metadata store behind the bundle/warm-storage
// tier (spec.md §4.8): the bundles, bundle_objects, and active_bundle
// tables that map a logical object id to its physical bundle blob,
// offset, and size.
package catalog

import (
	"context"
	"errors"
	"hash/fnv"
	"time"
)

// ErrNotFound is returned when a bundle or bundle object row doesn't
// exist.
var ErrNotFound = errors.New("catalog: not found")

// BundleState is a bundle blob's lifecycle stage: active while still
// accepting appends, sealed once it reaches its size/entry cap.
type BundleState string

const (
	BundleActive BundleState = "active"
	BundleSealed BundleState = "sealed"
)

// Bundle is one row of the bundles table: a single append-only blob in
// object storage.
type Bundle struct {
	ID         int64
	BlobKey    string
	State      BundleState
	EntryCount int64
	TotalSize  int64
	// DataOffset is where object frames start within the blob, past
	// any bundle-level header. This implementation writes no such
	// header, so it is always 0; the column exists for schema parity
	// with formats that prefix a magic/version record.
	DataOffset int64
	// Checksum is the hex CRC32 (IEEE) of the full sealed blob,
	// computed once sealing fixes its contents. Empty while active.
	Checksum  string
	CreatedAt time.Time
	SealedAt  *time.Time
}

// BundleObject is one row of the bundle_objects table: where inside a
// bundle a given object id physically lives.
type BundleObject struct {
	// KeyHash is FNV-1a of OID, the table's partitioning key. The
	// primary key is (KeyHash, BundleID) rather than OID alone so a
	// compaction rewrite can insert a live object's new location
	// before the source bundle's row is deleted.
	KeyHash          int64
	OID              string
	BundleID         int64
	Kind             string
	Offset           int64
	CompressedSize   int64
	UncompressedSize int64
	// CRC32 is the IEEE checksum of the compressed (on-disk) payload,
	// checked by Reader.Get before inflating.
	CRC32     uint32
	Deleted   bool
	CreatedAt time.Time
}

// KeyHash returns the bundle_objects partitioning key for oid.
func KeyHash(oid string) int64 {
	h := fnv.New64a()
	h.Write([]byte(oid))
	return int64(h.Sum64())
}

// ActiveBundle is the active_bundle table's single row: which bundle
// writers should append to next, and the crash-recovery-authoritative
// write cursor into it.
type ActiveBundle struct {
	BundleID      int64
	CurrentOffset int64
	EntryCount    int
	// BytesWritten mirrors CurrentOffset for capacity-planning reads
	// that don't need the write-cursor's crash-recovery semantics.
	BytesWritten int64
	StartedAt    time.Time
	UpdatedAt    time.Time
}

// Catalog is the data-access contract the bundle package writes
// through. Implemented by SQLite (tests, single-node deployments) and
// PostgreSQL (multi-node deployments) backends.
type Catalog interface {
	Close() error
	Migrate(ctx context.Context) error

	// GetActiveBundle returns the current active_bundle row and its
	// bundle, or ErrNotFound if no bundle has been created yet.
	GetActiveBundle(ctx context.Context) (*ActiveBundle, *Bundle, error)

	// GetBundle returns a single bundle row by id.
	GetBundle(ctx context.Context, id int64) (*Bundle, error)

	// CreateBundle inserts a new bundle row in the active state and
	// makes it the active_bundle target, returning its id.
	CreateBundle(ctx context.Context, blobKey string) (*Bundle, error)

	// RecordAppend transactionally inserts a bundle_objects row and
	// advances active_bundle.current_offset/entry_count/bytes_written —
	// the same transaction that the blob append itself is ordered
	// against, so a crash between the blob write and this call leaves
	// current_offset (not the blob's actual length) authoritative.
	RecordAppend(ctx context.Context, bundleID int64, oid, kind string, offset, frameSize, compressedSize, uncompressedSize int64, crc32 uint32) error

	// SealBundle marks a bundle sealed (no further appends) and clears
	// active_bundle if it was the active one.
	SealBundle(ctx context.Context, bundleID int64) error

	// FinalizeBundle records a sealed bundle's final entry count, total
	// byte size, and whole-blob checksum, once its contents are fixed.
	FinalizeBundle(ctx context.Context, bundleID int64, entryCount int, totalSize int64, checksum string) error

	// LookupObject resolves oid to its bundle object row and owning
	// bundle. Returns ErrNotFound (wrapped) if absent or soft-deleted.
	LookupObject(ctx context.Context, oid string) (*BundleObject, *Bundle, error)

	// SoftDeleteObject marks oid deleted without reclaiming its bytes;
	// physical space is reclaimed only by compaction.
	SoftDeleteObject(ctx context.Context, oid string) error

	// ListLiveObjects returns every non-deleted object in bundleID, in
	// offset order, for compaction to rewrite.
	ListLiveObjects(ctx context.Context, bundleID int64) ([]BundleObject, error)

	// ListBundles returns every bundle row, for GC and compaction scans.
	ListBundles(ctx context.Context) ([]Bundle, error)

	// DeleteBundle removes a bundle row and all its bundle_objects rows,
	// used once compaction has rewritten its live entries elsewhere.
	DeleteBundle(ctx context.Context, bundleID int64) error
}
