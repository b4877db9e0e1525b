package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCatalog backs the catalog with a PostgreSQL pool — the
// production, multi-node deployment target (spec.md's metadata/catalog
// store).
type PostgresCatalog struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects a pooled PostgreSQL catalog.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresCatalog, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("catalog: ping postgres: %w", err)
	}
	return &PostgresCatalog{pool: pool}, nil
}

func (p *PostgresCatalog) Close() error {
	p.pool.Close()
	return nil
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version BIGINT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS bundles (
	id BIGSERIAL PRIMARY KEY,
	blob_key TEXT NOT NULL UNIQUE,
	state TEXT NOT NULL DEFAULT 'active',
	entry_count BIGINT NOT NULL DEFAULT 0,
	total_size BIGINT NOT NULL DEFAULT 0,
	data_offset BIGINT NOT NULL DEFAULT 0,
	checksum TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	sealed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS bundle_objects (
	key_hash BIGINT NOT NULL,
	key TEXT NOT NULL,
	bundle_id BIGINT NOT NULL REFERENCES bundles(id),
	kind TEXT NOT NULL,
	offset_bytes BIGINT NOT NULL,
	compressed_size BIGINT NOT NULL,
	uncompressed_size BIGINT NOT NULL,
	crc32 BIGINT NOT NULL,
	deleted BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (key_hash, bundle_id)
);
CREATE INDEX IF NOT EXISTS idx_bundle_objects_bundle ON bundle_objects(bundle_id);
CREATE INDEX IF NOT EXISTS idx_bundle_objects_key ON bundle_objects(key);

CREATE TABLE IF NOT EXISTS active_bundle (
	id INT PRIMARY KEY CHECK (id = 1),
	bundle_id BIGINT NOT NULL REFERENCES bundles(id),
	current_offset BIGINT NOT NULL DEFAULT 0,
	entry_count INT NOT NULL DEFAULT 0,
	bytes_written BIGINT NOT NULL DEFAULT 0,
	started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

func (p *PostgresCatalog) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, pgSchema)
	return err
}

func (p *PostgresCatalog) GetActiveBundle(ctx context.Context) (*ActiveBundle, *Bundle, error) {
	var ab ActiveBundle
	err := p.pool.QueryRow(ctx, `SELECT bundle_id, current_offset, entry_count, bytes_written, started_at, updated_at FROM active_bundle WHERE id = 1`).
		Scan(&ab.BundleID, &ab.CurrentOffset, &ab.EntryCount, &ab.BytesWritten, &ab.StartedAt, &ab.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	b, err := p.getBundle(ctx, ab.BundleID)
	if err != nil {
		return nil, nil, err
	}
	return &ab, b, nil
}

func (p *PostgresCatalog) GetBundle(ctx context.Context, id int64) (*Bundle, error) {
	return p.getBundle(ctx, id)
}

func (p *PostgresCatalog) getBundle(ctx context.Context, id int64) (*Bundle, error) {
	var b Bundle
	var state string
	var sealedAt *time.Time
	err := p.pool.QueryRow(ctx, `SELECT id, blob_key, state, entry_count, total_size, data_offset, checksum, created_at, sealed_at FROM bundles WHERE id = $1`, id).
		Scan(&b.ID, &b.BlobKey, &state, &b.EntryCount, &b.TotalSize, &b.DataOffset, &b.Checksum, &b.CreatedAt, &sealedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	b.State = BundleState(state)
	b.SealedAt = sealedAt
	return &b, nil
}

func (p *PostgresCatalog) CreateBundle(ctx context.Context, blobKey string) (*Bundle, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var id int64
	if err := tx.QueryRow(ctx, `INSERT INTO bundles (blob_key, state) VALUES ($1, 'active') RETURNING id`, blobKey).Scan(&id); err != nil {
		return nil, fmt.Errorf("catalog: insert bundle: %w", err)
	}
	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		INSERT INTO active_bundle (id, bundle_id, current_offset, entry_count, bytes_written, started_at, updated_at)
		VALUES (1, $1, 0, 0, 0, $2, $2)
		ON CONFLICT (id) DO UPDATE SET bundle_id = EXCLUDED.bundle_id, current_offset = 0, entry_count = 0,
			bytes_written = 0, started_at = EXCLUDED.started_at, updated_at = EXCLUDED.updated_at
	`, id, now); err != nil {
		return nil, fmt.Errorf("catalog: set active bundle: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &Bundle{ID: id, BlobKey: blobKey, State: BundleActive, CreatedAt: now}, nil
}

func (p *PostgresCatalog) RecordAppend(ctx context.Context, bundleID int64, oid, kind string, offset, frameSize, compressedSize, uncompressedSize int64, crc32 uint32) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO bundle_objects (key_hash, key, bundle_id, kind, offset_bytes, compressed_size, uncompressed_size, crc32, deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE)
		ON CONFLICT (key_hash, bundle_id) DO NOTHING
	`, KeyHash(oid), oid, bundleID, kind, offset, compressedSize, uncompressedSize, int64(crc32)); err != nil {
		return fmt.Errorf("catalog: insert bundle_objects: %w", err)
	}
	next := offset + frameSize
	if _, err := tx.Exec(ctx, `
		UPDATE active_bundle SET current_offset = $1, entry_count = entry_count + 1, bytes_written = $1, updated_at = $2
		WHERE id = 1 AND bundle_id = $3
	`, next, time.Now().UTC(), bundleID); err != nil {
		return fmt.Errorf("catalog: update active_bundle: %w", err)
	}
	return tx.Commit(ctx)
}

func (p *PostgresCatalog) SealBundle(ctx context.Context, bundleID int64) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE bundles SET state = 'sealed', sealed_at = $1 WHERE id = $2`, time.Now().UTC(), bundleID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM active_bundle WHERE id = 1 AND bundle_id = $1`, bundleID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *PostgresCatalog) FinalizeBundle(ctx context.Context, bundleID int64, entryCount int, totalSize int64, checksum string) error {
	_, err := p.pool.Exec(ctx, `UPDATE bundles SET entry_count = $1, total_size = $2, checksum = $3 WHERE id = $4`,
		entryCount, totalSize, checksum, bundleID)
	return err
}

func (p *PostgresCatalog) LookupObject(ctx context.Context, oid string) (*BundleObject, *Bundle, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT key_hash, key, bundle_id, kind, offset_bytes, compressed_size, uncompressed_size, crc32, deleted, created_at
		FROM bundle_objects WHERE key = $1 ORDER BY bundle_id DESC LIMIT 1
	`, oid)
	o, err := scanBundleObjectPgx(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	if o.Deleted {
		return nil, nil, ErrNotFound
	}
	b, err := p.getBundle(ctx, o.BundleID)
	if err != nil {
		return nil, nil, err
	}
	return o, b, nil
}

func scanBundleObjectPgx(scan func(...any) error) (*BundleObject, error) {
	var o BundleObject
	var crc int64
	if err := scan(&o.KeyHash, &o.OID, &o.BundleID, &o.Kind, &o.Offset, &o.CompressedSize, &o.UncompressedSize, &crc, &o.Deleted, &o.CreatedAt); err != nil {
		return nil, err
	}
	o.CRC32 = uint32(crc)
	return &o, nil
}

func (p *PostgresCatalog) SoftDeleteObject(ctx context.Context, oid string) error {
	_, err := p.pool.Exec(ctx, `UPDATE bundle_objects SET deleted = TRUE WHERE key = $1`, oid)
	return err
}

func (p *PostgresCatalog) ListLiveObjects(ctx context.Context, bundleID int64) ([]BundleObject, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT key_hash, key, bundle_id, kind, offset_bytes, compressed_size, uncompressed_size, crc32, deleted, created_at
		FROM bundle_objects WHERE bundle_id = $1 AND deleted = FALSE ORDER BY offset_bytes ASC
	`, bundleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BundleObject
	for rows.Next() {
		o, err := scanBundleObjectPgx(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (p *PostgresCatalog) ListBundles(ctx context.Context) ([]Bundle, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, blob_key, state, entry_count, total_size, data_offset, checksum, created_at, sealed_at FROM bundles ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Bundle
	for rows.Next() {
		var b Bundle
		var state string
		var sealedAt *time.Time
		if err := rows.Scan(&b.ID, &b.BlobKey, &state, &b.EntryCount, &b.TotalSize, &b.DataOffset, &b.Checksum, &b.CreatedAt, &sealedAt); err != nil {
			return nil, err
		}
		b.State = BundleState(state)
		b.SealedAt = sealedAt
		out = append(out, b)
	}
	return out, rows.Err()
}

func (p *PostgresCatalog) DeleteBundle(ctx context.Context, bundleID int64) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `DELETE FROM bundle_objects WHERE bundle_id = $1`, bundleID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM bundles WHERE id = $1`, bundleID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

var _ Catalog = (*PostgresCatalog)(nil)
