package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalAppendBackendAppendAndReadRange(t *testing.T) {
	dir := t.TempDir()
	b, err := NewLocalAppendBackend(dir)
	require.NoError(t, err)

	off1, err := b.Append("bundles/0001.bundle", []byte("hello "))
	require.NoError(t, err)
	require.Equal(t, int64(0), off1)

	off2, err := b.Append("bundles/0001.bundle", []byte("world"))
	require.NoError(t, err)
	require.Equal(t, int64(6), off2)

	size, err := b.Size("bundles/0001.bundle")
	require.NoError(t, err)
	require.Equal(t, int64(11), size)

	data, err := b.ReadRange("bundles/0001.bundle", 6, 5)
	require.NoError(t, err)
	require.Equal(t, "world", string(data))
}

func TestLocalAppendBackendWriteAtOverwritesGarbage(t *testing.T) {
	dir := t.TempDir()
	b, err := NewLocalAppendBackend(dir)
	require.NoError(t, err)

	_, err = b.Append("bundles/0002.bundle", []byte("AAAAAAAAAA")) // simulated crash garbage past current-offset
	require.NoError(t, err)

	require.NoError(t, b.WriteAt("bundles/0002.bundle", 0, []byte("real")))
	data, err := b.ReadRange("bundles/0002.bundle", 0, 4)
	require.NoError(t, err)
	require.Equal(t, "real", string(data))
}
