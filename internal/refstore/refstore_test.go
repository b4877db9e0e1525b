package refstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/odvcencio/gitcellar/internal/objhash"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return New(NewFSBackend(dir))
}

func oidN(t *testing.T, hexStr string) objhash.OID {
	t.Helper()
	oid, err := objhash.FromHex(hexStr)
	require.NoError(t, err)
	return oid
}

func TestSetRefCreateThenCAS(t *testing.T) {
	s := newTestStore(t)
	sha1 := oidN(t, "1111111111111111111111111111111111111111")
	sha2 := oidN(t, "2222222222222222222222222222222222222222")

	res, err := s.SetRef("refs/heads/main", sha1, &objhash.Zero)
	require.NoError(t, err)
	require.True(t, res.Updated)

	got, _, err := s.Resolve("refs/heads/main")
	require.NoError(t, err)
	require.Equal(t, sha1, got)

	_, err = s.SetRef("refs/heads/main", sha2, &sha1)
	require.NoError(t, err)
	got, _, err = s.Resolve("refs/heads/main")
	require.NoError(t, err)
	require.Equal(t, sha2, got)
}

func TestSetRefRejectsStaleCAS(t *testing.T) {
	s := newTestStore(t)
	sha1 := oidN(t, "1111111111111111111111111111111111111111")
	sha2 := oidN(t, "2222222222222222222222222222222222222222")
	staleExpected := oidN(t, "3333333333333333333333333333333333333333")

	_, err := s.SetRef("refs/heads/main", sha1, &objhash.Zero)
	require.NoError(t, err)

	_, err = s.SetRef("refs/heads/main", sha2, &staleExpected)
	require.Error(t, err)
	var casErr *CASError
	require.True(t, errors.As(err, &casErr))
}

func TestSymbolicRefResolution(t *testing.T) {
	dir := t.TempDir()
	s := New(NewFSBackend(dir))
	sha1 := oidN(t, "1111111111111111111111111111111111111111")

	_, err := s.SetRef("refs/heads/main", sha1, &objhash.Zero)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "HEAD"), []byte("ref: refs/heads/main\n"), 0o644))

	oid, chain, err := s.GetHead()
	require.NoError(t, err)
	require.Equal(t, sha1, oid)
	require.Equal(t, []string{"HEAD", "refs/heads/main"}, chain)

	detached, err := s.IsHeadDetached()
	require.NoError(t, err)
	require.False(t, detached)
}

func TestCircularSymbolicRefDetected(t *testing.T) {
	dir := t.TempDir()
	s := New(NewFSBackend(dir))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "refs", "heads"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "refs", "heads", "a"), []byte("ref: refs/heads/b\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "refs", "heads", "b"), []byte("ref: refs/heads/a\n"), 0o644))

	_, _, err := s.Resolve("refs/heads/a")
	require.ErrorIs(t, err, ErrCircularRef)
}

func TestParsePackedRefsWithPeeling(t *testing.T) {
	data := []byte("# pack-refs with: peeled fully-peeled sorted\n" +
		"1111111111111111111111111111111111111111 refs/heads/main\n" +
		"2222222222222222222222222222222222222222 refs/tags/v1\n" +
		"^3333333333333333333333333333333333333333\n")

	pr, err := ParsePackedRefs(data)
	require.NoError(t, err)
	require.Equal(t, oidN(t, "1111111111111111111111111111111111111111"), pr.direct["refs/heads/main"])
	require.Equal(t, oidN(t, "2222222222222222222222222222222222222222"), pr.direct["refs/tags/v1"])
	require.Equal(t, oidN(t, "3333333333333333333333333333333333333333"), pr.peeled["refs/tags/v1"])
}

func TestListRefsMergesLooseAndPacked(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "refs", "heads"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "refs", "heads", "loose"),
		[]byte("1111111111111111111111111111111111111111\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "packed-refs"),
		[]byte("2222222222222222222222222222222222222222 refs/heads/packed\n"), 0o644))

	s := New(NewFSBackend(dir))
	names, err := s.ListRefs("refs/heads/")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"refs/heads/loose", "refs/heads/packed"}, names)
}

func TestDeleteRef(t *testing.T) {
	s := newTestStore(t)
	sha1 := oidN(t, "1111111111111111111111111111111111111111")
	_, err := s.SetRef("refs/heads/main", sha1, &objhash.Zero)
	require.NoError(t, err)

	require.NoError(t, s.DeleteRef("refs/heads/main", &sha1))
	_, err = s.GetRef("refs/heads/main")
	require.ErrorIs(t, err, ErrNotFound)
}
