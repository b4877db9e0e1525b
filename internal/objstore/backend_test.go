package objstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odvcencio/gitcellar/internal/gitobj"
	"github.com/odvcencio/gitcellar/internal/storage"
)

func newTestBacked(t *testing.T) *Backed {
	t.Helper()
	backend, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	return NewBacked(backend, "")
}

func TestBackedPutGetHasRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestBacked(t)

	oid, err := store.Put(ctx, gitobj.KindBlob, []byte("cold tier payload"))
	require.NoError(t, err)

	has, err := store.Has(ctx, oid)
	require.NoError(t, err)
	require.True(t, has)

	kind, data, err := store.Get(ctx, oid)
	require.NoError(t, err)
	require.Equal(t, gitobj.KindBlob, kind)
	require.Equal(t, "cold tier payload", string(data))

	size, err := store.GetSize(ctx, oid)
	require.NoError(t, err)
	require.Equal(t, int64(len("cold tier payload")), size)
}

func TestBackedPutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestBacked(t)

	oid1, err := store.Put(ctx, gitobj.KindBlob, []byte("same bytes"))
	require.NoError(t, err)
	oid2, err := store.Put(ctx, gitobj.KindBlob, []byte("same bytes"))
	require.NoError(t, err)
	require.Equal(t, oid1, oid2)
}

func TestBackedDeleteThenHasIsFalse(t *testing.T) {
	ctx := context.Background()
	store := newTestBacked(t)

	oid, err := store.Put(ctx, gitobj.KindBlob, []byte("delete me"))
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, oid))

	has, err := store.Has(ctx, oid)
	require.NoError(t, err)
	require.False(t, has)
}

func TestBackedGetMissingReturnsErrNotFound(t *testing.T) {
	ctx := context.Background()
	store := newTestBacked(t)
	oid := gitobj.Hash(gitobj.KindBlob, []byte("never stored"))
	_, _, err := store.Get(ctx, oid)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBackedListEnumeratesStoredObjects(t *testing.T) {
	ctx := context.Background()
	store := newTestBacked(t)

	var want []string
	for i := 0; i < 4; i++ {
		oid, err := store.Put(ctx, gitobj.KindBlob, []byte{byte(i), byte(i + 1), byte(i + 2)})
		require.NoError(t, err)
		want = append(want, oid.String())
	}

	ch, err := store.List(ctx)
	require.NoError(t, err)
	var got []string
	for oid := range ch {
		got = append(got, oid.String())
	}
	require.ElementsMatch(t, want, got)
}

func TestBackedDifferentKindsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestBacked(t)

	for _, kind := range []gitobj.Kind{gitobj.KindBlob, gitobj.KindTree, gitobj.KindCommit, gitobj.KindTag} {
		data := []byte("payload for " + string(kind))
		oid, err := store.Put(ctx, kind, data)
		require.NoError(t, err)

		gotKind, err := store.GetType(ctx, oid)
		require.NoError(t, err)
		require.Equal(t, kind, gotKind)
	}
}
