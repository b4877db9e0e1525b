package bundle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odvcencio/gitcellar/internal/gitobj"
)

func TestStorePutGetHasRoundTrip(t *testing.T) {
	ctx := context.Background()
	cat, blobs := newTestBundle(t)
	store := NewStore(cat, NewWriter(cat, blobs, WriterOptions{}), NewReader(cat, blobs))

	oid, err := store.Put(ctx, gitobj.KindBlob, []byte("warm tier payload"))
	require.NoError(t, err)

	has, err := store.Has(ctx, oid)
	require.NoError(t, err)
	require.True(t, has)

	kind, data, err := store.Get(ctx, oid)
	require.NoError(t, err)
	require.Equal(t, gitobj.KindBlob, kind)
	require.Equal(t, "warm tier payload", string(data))

	size, err := store.GetSize(ctx, oid)
	require.NoError(t, err)
	require.Equal(t, int64(len("warm tier payload")), size)
}

func TestStorePutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	cat, blobs := newTestBundle(t)
	store := NewStore(cat, NewWriter(cat, blobs, WriterOptions{}), NewReader(cat, blobs))

	oid1, err := store.Put(ctx, gitobj.KindBlob, []byte("same bytes"))
	require.NoError(t, err)
	oid2, err := store.Put(ctx, gitobj.KindBlob, []byte("same bytes"))
	require.NoError(t, err)
	require.Equal(t, oid1, oid2)
}

func TestStoreDeleteThenHasIsFalse(t *testing.T) {
	ctx := context.Background()
	cat, blobs := newTestBundle(t)
	store := NewStore(cat, NewWriter(cat, blobs, WriterOptions{}), NewReader(cat, blobs))

	oid, err := store.Put(ctx, gitobj.KindBlob, []byte("delete me"))
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, oid))

	has, err := store.Has(ctx, oid)
	require.NoError(t, err)
	require.False(t, has)
}

func TestStoreListEnumeratesLiveObjectsAcrossBundles(t *testing.T) {
	ctx := context.Background()
	cat, blobs := newTestBundle(t)
	store := NewStore(cat, NewWriter(cat, blobs, WriterOptions{MaxEntries: 1}), NewReader(cat, blobs))

	var want []string
	for i := 0; i < 3; i++ {
		oid, err := store.Put(ctx, gitobj.KindBlob, []byte{byte(i), byte(i + 1)})
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
