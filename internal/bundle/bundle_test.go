package bundle

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/odvcencio/gitcellar/internal/catalog"
	"github.com/odvcencio/gitcellar/internal/gitobj"
	"github.com/odvcencio/gitcellar/internal/storage"
	"github.com/stretchr/testify/require"
)

func newTestBundle(t *testing.T) (*catalog.SQLiteCatalog, storage.AppendBackend) {
	t.Helper()
	ctx := context.Background()
	cat, err := catalog.OpenSQLite(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })
	require.NoError(t, cat.Migrate(ctx))

	blobs, err := storage.NewLocalAppendBackend(t.TempDir())
	require.NoError(t, err)
	return cat, blobs
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	cat, blobs := newTestBundle(t)
	w := NewWriter(cat, blobs, WriterOptions{})
	r := NewReader(cat, blobs)

	oid := gitobj.Hash(gitobj.KindBlob, []byte("hello bundle"))
	require.NoError(t, w.Append(ctx, oid, gitobj.KindBlob, []byte("hello bundle")))

	kind, data, err := r.Get(ctx, oid)
	require.NoError(t, err)
	require.Equal(t, gitobj.KindBlob, kind)
	require.Equal(t, "hello bundle", string(data))
}

func TestWriterSealsWhenEntryBudgetReached(t *testing.T) {
	ctx := context.Background()
	cat, blobs := newTestBundle(t)
	w := NewWriter(cat, blobs, WriterOptions{MaxEntries: 2})

	for i := 0; i < 2; i++ {
		oid := gitobj.Hash(gitobj.KindBlob, []byte{byte(i)})
		require.NoError(t, w.Append(ctx, oid, gitobj.KindBlob, []byte{byte(i)}))
	}

	_, _, err := cat.GetActiveBundle(ctx)
	require.ErrorIs(t, err, catalog.ErrNotFound, "bundle should have sealed after hitting MaxEntries")

	// A subsequent append starts a fresh active bundle.
	oid := gitobj.Hash(gitobj.KindBlob, []byte("three"))
	require.NoError(t, w.Append(ctx, oid, gitobj.KindBlob, []byte("three")))
	_, _, err = cat.GetActiveBundle(ctx)
	require.NoError(t, err)
}

func TestDeleteThenCompactReclaimsSpace(t *testing.T) {
	ctx := context.Background()
	cat, blobs := newTestBundle(t)
	w := NewWriter(cat, blobs, WriterOptions{})
	r := NewReader(cat, blobs)

	keep := gitobj.Hash(gitobj.KindBlob, []byte("keep me"))
	gone := gitobj.Hash(gitobj.KindBlob, []byte("delete me"))
	require.NoError(t, w.Append(ctx, keep, gitobj.KindBlob, []byte("keep me")))
	require.NoError(t, w.Append(ctx, gone, gitobj.KindBlob, []byte("delete me")))
	require.NoError(t, r.Delete(ctx, gone))

	ab, _, err := cat.GetActiveBundle(ctx)
	require.NoError(t, err)
	oldBundleID := ab.BundleID
	require.NoError(t, cat.SealBundle(ctx, oldBundleID))

	compactor := NewCompactor(cat, blobs, w)
	require.NoError(t, compactor.Compact(ctx, oldBundleID))

	kind, data, err := r.Get(ctx, keep)
	require.NoError(t, err)
	require.Equal(t, gitobj.KindBlob, kind)
	require.Equal(t, "keep me", string(data))

	has, err := r.Has(ctx, gone)
	require.NoError(t, err)
	require.False(t, has)

	_, err = cat.GetBundle(ctx, oldBundleID)
	require.ErrorIs(t, err, catalog.ErrNotFound)
}
