package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteCatalog backs the catalog with an embedded SQLite database —
// suitable for a single-node deployment or tests (":memory:" dsn).
type SQLiteCatalog struct {
	db *sql.DB
}

// OpenSQLite opens (creating if necessary) a SQLite-backed catalog.
func OpenSQLite(dsn string) (*SQLiteCatalog, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: open sqlite: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("catalog: pragma %s: %w", pragma, err)
		}
	}
	return &SQLiteCatalog{db: db}, nil
}

func (s *SQLiteCatalog) Close() error { return s.db.Close() }

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS bundles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	blob_key TEXT NOT NULL UNIQUE,
	state TEXT NOT NULL DEFAULT 'active',
	entry_count INTEGER NOT NULL DEFAULT 0,
	total_size INTEGER NOT NULL DEFAULT 0,
	data_offset INTEGER NOT NULL DEFAULT 0,
	checksum TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	sealed_at DATETIME
);

CREATE TABLE IF NOT EXISTS bundle_objects (
	key_hash INTEGER NOT NULL,
	key TEXT NOT NULL,
	bundle_id INTEGER NOT NULL REFERENCES bundles(id),
	kind TEXT NOT NULL,
	offset INTEGER NOT NULL,
	compressed_size INTEGER NOT NULL,
	uncompressed_size INTEGER NOT NULL,
	crc32 INTEGER NOT NULL,
	deleted INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	PRIMARY KEY (key_hash, bundle_id)
);
CREATE INDEX IF NOT EXISTS idx_bundle_objects_bundle ON bundle_objects(bundle_id);
CREATE INDEX IF NOT EXISTS idx_bundle_objects_key ON bundle_objects(key);

CREATE TABLE IF NOT EXISTS active_bundle (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	bundle_id INTEGER NOT NULL REFERENCES bundles(id),
	current_offset INTEGER NOT NULL DEFAULT 0,
	entry_count INTEGER NOT NULL DEFAULT 0,
	bytes_written INTEGER NOT NULL DEFAULT 0,
	started_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
	updated_at DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);
`

func (s *SQLiteCatalog) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	return err
}

func (s *SQLiteCatalog) GetActiveBundle(ctx context.Context) (*ActiveBundle, *Bundle, error) {
	row := s.db.QueryRowContext(ctx, `SELECT bundle_id, current_offset, entry_count, bytes_written, started_at, updated_at FROM active_bundle WHERE id = 1`)
	var ab ActiveBundle
	if err := row.Scan(&ab.BundleID, &ab.CurrentOffset, &ab.EntryCount, &ab.BytesWritten, &ab.StartedAt, &ab.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	b, err := s.getBundle(ctx, ab.BundleID)
	if err != nil {
		return nil, nil, err
	}
	return &ab, b, nil
}

func (s *SQLiteCatalog) GetBundle(ctx context.Context, id int64) (*Bundle, error) {
	return s.getBundle(ctx, id)
}

func (s *SQLiteCatalog) getBundle(ctx context.Context, id int64) (*Bundle, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, blob_key, state, entry_count, total_size, data_offset, checksum, created_at, sealed_at FROM bundles WHERE id = ?`, id)
	var b Bundle
	var state string
	var sealedAt sql.NullTime
	if err := row.Scan(&b.ID, &b.BlobKey, &state, &b.EntryCount, &b.TotalSize, &b.DataOffset, &b.Checksum, &b.CreatedAt, &sealedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	b.State = BundleState(state)
	if sealedAt.Valid {
		t := sealedAt.Time
		b.SealedAt = &t
	}
	return &b, nil
}

func (s *SQLiteCatalog) CreateBundle(ctx context.Context, blobKey string) (*Bundle, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO bundles (blob_key, state) VALUES (?, 'active')`, blobKey)
	if err != nil {
		return nil, fmt.Errorf("catalog: insert bundle: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO active_bundle (id, bundle_id, current_offset, entry_count, bytes_written, started_at, updated_at)
		VALUES (1, ?, 0, 0, 0, ?, ?)
		ON CONFLICT(id) DO UPDATE SET bundle_id = excluded.bundle_id, current_offset = 0, entry_count = 0,
			bytes_written = 0, started_at = excluded.started_at, updated_at = excluded.updated_at
	`, id, now, now); err != nil {
		return nil, fmt.Errorf("catalog: set active bundle: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &Bundle{ID: id, BlobKey: blobKey, State: BundleActive, CreatedAt: now}, nil
}

func (s *SQLiteCatalog) RecordAppend(ctx context.Context, bundleID int64, oid, kind string, offset, frameSize, compressedSize, uncompressedSize int64, crc32 uint32) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO bundle_objects (key_hash, key, bundle_id, kind, offset, compressed_size, uncompressed_size, crc32, deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(key_hash, bundle_id) DO NOTHING
	`, KeyHash(oid), oid, bundleID, kind, offset, compressedSize, uncompressedSize, int64(crc32)); err != nil {
		return fmt.Errorf("catalog: insert bundle_objects: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE active_bundle SET current_offset = ?, entry_count = entry_count + 1, bytes_written = ?, updated_at = ?
		WHERE id = 1 AND bundle_id = ?
	`, offset+frameSize, offset+frameSize, time.Now().UTC(), bundleID); err != nil {
		return fmt.Errorf("catalog: update active_bundle: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteCatalog) SealBundle(ctx context.Context, bundleID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE bundles SET state = 'sealed', sealed_at = ? WHERE id = ?`, time.Now().UTC(), bundleID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM active_bundle WHERE id = 1 AND bundle_id = ?`, bundleID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteCatalog) FinalizeBundle(ctx context.Context, bundleID int64, entryCount int, totalSize int64, checksum string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE bundles SET entry_count = ?, total_size = ?, checksum = ? WHERE id = ?`,
		entryCount, totalSize, checksum, bundleID)
	return err
}

func (s *SQLiteCatalog) LookupObject(ctx context.Context, oid string) (*BundleObject, *Bundle, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key_hash, key, bundle_id, kind, offset, compressed_size, uncompressed_size, crc32, deleted, created_at
		FROM bundle_objects WHERE key = ? ORDER BY bundle_id DESC LIMIT 1
	`, oid)
	o, err := scanBundleObject(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	if o.Deleted {
		return nil, nil, ErrNotFound
	}
	b, err := s.getBundle(ctx, o.BundleID)
	if err != nil {
		return nil, nil, err
	}
	return o, b, nil
}

func scanBundleObject(scan func(...any) error) (*BundleObject, error) {
	var o BundleObject
	var deleted int
	var crc int64
	if err := scan(&o.KeyHash, &o.OID, &o.BundleID, &o.Kind, &o.Offset, &o.CompressedSize, &o.UncompressedSize, &crc, &deleted, &o.CreatedAt); err != nil {
		return nil, err
	}
	o.CRC32 = uint32(crc)
	o.Deleted = deleted != 0
	return &o, nil
}

func (s *SQLiteCatalog) SoftDeleteObject(ctx context.Context, oid string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE bundle_objects SET deleted = 1 WHERE key = ?`, oid)
	return err
}

func (s *SQLiteCatalog) ListLiveObjects(ctx context.Context, bundleID int64) ([]BundleObject, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key_hash, key, bundle_id, kind, offset, compressed_size, uncompressed_size, crc32, deleted, created_at
		FROM bundle_objects WHERE bundle_id = ? AND deleted = 0 ORDER BY offset ASC
	`, bundleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BundleObject
	for rows.Next() {
		o, err := scanBundleObject(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (s *SQLiteCatalog) ListBundles(ctx context.Context) ([]Bundle, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, blob_key, state, entry_count, total_size, data_offset, checksum, created_at, sealed_at FROM bundles ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Bundle
	for rows.Next() {
		var b Bundle
		var state string
		var sealedAt sql.NullTime
		if err := rows.Scan(&b.ID, &b.BlobKey, &state, &b.EntryCount, &b.TotalSize, &b.DataOffset, &b.Checksum, &b.CreatedAt, &sealedAt); err != nil {
			return nil, err
		}
		b.State = BundleState(state)
		if sealedAt.Valid {
			t := sealedAt.Time
			b.SealedAt = &t
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *SQLiteCatalog) DeleteBundle(ctx context.Context, bundleID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM bundle_objects WHERE bundle_id = ?`, bundleID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM bundles WHERE id = ?`, bundleID); err != nil {
		return err
	}
	return tx.Commit()
}

var _ Catalog = (*SQLiteCatalog)(nil)
