package packindex

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/odvcencio/gitcellar/internal/objhash"
	"github.com/stretchr/testify/require"
)

func oidN(t *testing.T, n int) objhash.OID {
	t.Helper()
	hexStr := fmt.Sprintf("%040x", big.NewInt(int64(n)))
	oid, err := objhash.FromHex(hexStr)
	require.NoError(t, err)
	return oid
}

func TestBuildParseRoundTrip(t *testing.T) {
	var entries []Entry
	for i := 1; i <= 1000; i++ {
		entries = append(entries, Entry{OID: oidN(t, i*7919), CRC32: uint32(i), Offset: uint64(i * 37)})
	}
	packChecksum := oidN(t, 999999)

	data, err := Build(entries, packChecksum)
	require.NoError(t, err)

	idx, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, len(entries), idx.Len())
	require.Equal(t, packChecksum, idx.PackChecksum)

	for _, e := range entries {
		got, ok := idx.Lookup(e.OID)
		require.True(t, ok)
		require.Equal(t, e.CRC32, got.CRC32)
		require.Equal(t, e.Offset, got.Offset)
	}

	missing := oidN(t, 123456789)
	_, ok := idx.Lookup(missing)
	require.False(t, ok)
}

func TestBuildParseLargeOffsets(t *testing.T) {
	entries := []Entry{
		{OID: oidN(t, 1), CRC32: 1, Offset: 10},
		{OID: oidN(t, 2), CRC32: 2, Offset: 1 << 33}, // exceeds 31-bit range, forces layer5
		{OID: oidN(t, 3), CRC32: 3, Offset: 20},
	}
	data, err := Build(entries, oidN(t, 4))
	require.NoError(t, err)

	idx, err := Parse(data)
	require.NoError(t, err)
	for _, e := range entries {
		got, ok := idx.Lookup(e.OID)
		require.True(t, ok)
		require.Equal(t, e.Offset, got.Offset)
	}
}

func TestParseRejectsBadMagic(t *testing.T) {
	_, err := Parse(make([]byte, 8+fanoutSize+2*objhash.Size))
	require.ErrorIs(t, err, ErrInvalidMagic)
}

func TestParseRejectsChecksumMismatch(t *testing.T) {
	entries := []Entry{{OID: oidN(t, 1), CRC32: 1, Offset: 10}}
	data, err := Build(entries, oidN(t, 2))
	require.NoError(t, err)
	corrupted := append([]byte{}, data...)
	corrupted[len(corrupted)-1] ^= 0xFF

	_, err = Parse(corrupted)
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestBuildRejectsDuplicateOID(t *testing.T) {
	entries := []Entry{
		{OID: oidN(t, 1), CRC32: 1, Offset: 10},
		{OID: oidN(t, 1), CRC32: 2, Offset: 20},
	}
	_, err := Build(entries, oidN(t, 2))
	require.Error(t, err)
}

func TestMultiIndexAddLookupRemove(t *testing.T) {
	mi := NewMultiIndex()

	entriesA := []Entry{{OID: oidN(t, 1), Offset: 1}, {OID: oidN(t, 2), Offset: 2}}
	dataA, err := Build(entriesA, oidN(t, 100))
	require.NoError(t, err)
	idxA, err := Parse(dataA)
	require.NoError(t, err)
	mi.AddPack("pack-a", idxA)

	entriesB := []Entry{{OID: oidN(t, 3), Offset: 3}}
	dataB, err := Build(entriesB, oidN(t, 200))
	require.NoError(t, err)
	idxB, err := Parse(dataB)
	require.NoError(t, err)
	mi.AddPack("pack-b", idxB)

	pack, entry, ok := mi.Lookup(oidN(t, 1))
	require.True(t, ok)
	require.Equal(t, "pack-a", pack)
	require.Equal(t, uint64(1), entry.Offset)

	pack, _, ok = mi.Lookup(oidN(t, 3))
	require.True(t, ok)
	require.Equal(t, "pack-b", pack)

	mi.RemovePack("pack-a")
	_, _, ok = mi.Lookup(oidN(t, 1))
	require.False(t, ok)
	_, _, ok = mi.Lookup(oidN(t, 3))
	require.True(t, ok, "pack-b entries must survive removing pack-a")

	stats := mi.Stats()
	var totalTombstones int
	for _, s := range stats {
		totalTombstones += s.Tombstones
	}
	require.Greater(t, totalTombstones, 0)

	mi.Compact()
	stats = mi.Stats()
	for _, s := range stats {
		require.Equal(t, 0, s.Tombstones)
	}
}

func TestMultiIndexBatchLookup(t *testing.T) {
	mi := NewMultiIndex()
	entries := []Entry{{OID: oidN(t, 1), Offset: 1}, {OID: oidN(t, 2), Offset: 2}}
	data, err := Build(entries, oidN(t, 100))
	require.NoError(t, err)
	idx, err := Parse(data)
	require.NoError(t, err)
	mi.AddPack("pack-a", idx)

	oids := []objhash.OID{oidN(t, 1), oidN(t, 999), oidN(t, 2)}
	packIDs, _, found := mi.BatchLookup(oids)
	require.Equal(t, []bool{true, false, true}, found)
	require.Equal(t, "pack-a", packIDs[0])
	require.Equal(t, "pack-a", packIDs[2])
}
