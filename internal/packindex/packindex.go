// Package packindex implements the git pack index (.idx) format version
// 2: a fanout table, sorted object ids, CRC32s, and packfile offsets
// that let a reader locate any object in a packfile without scanning it
// (spec.md §4.5).
package packindex

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/odvcencio/gitcellar/internal/objhash"
)

var magic = []byte{0xff, 't', 'O', 'c'}

const (
	version        = 2
	fanoutEntries  = 256
	fanoutSize     = fanoutEntries * 4
	crc32EntrySize = 4
	offset32Size   = 4
	offset64Size   = 8
	largeOffsetBit = uint32(1) << 31
)

var (
	ErrInvalidMagic      = errors.New("packindex: invalid magic")
	ErrUnsupportedVer    = errors.New("packindex: unsupported version")
	ErrTruncated         = errors.New("packindex: truncated index file")
	ErrBadFanout         = errors.New("packindex: non-monotonic fanout table")
	ErrChecksumMismatch  = errors.New("packindex: self-checksum mismatch")
	ErrUnsortedOIDs      = errors.New("packindex: object ids not sorted")
	ErrDanglingLargeOffs = errors.New("packindex: large-offset table entry out of order")
)

// Entry is one object's record within the index: its id, its packed
// (compressed-on-wire) CRC32, and its byte offset within the packfile.
type Entry struct {
	OID    objhash.OID
	CRC32  uint32
	Offset uint64
}

// Index is a parsed (or freshly built) v2 pack index, queryable by OID.
type Index struct {
	entries      []Entry // sorted by OID
	byOID        map[objhash.OID]int
	PackChecksum objhash.OID
	SelfChecksum objhash.OID
}

// Parse validates and parses a full .idx file's bytes. Structural
// validation (fanout monotonicity, layer bounds, oid ordering) is
// checked before the trailing self-checksum, so a structurally invalid
// file is reported precisely rather than masked by a generic checksum
// failure.
func Parse(data []byte) (*Index, error) {
	if len(data) < 8+fanoutSize+2*objhash.Size {
		return nil, ErrTruncated
	}
	if !bytes.Equal(data[:4], magic) {
		return nil, fmt.Errorf("%w: got %x", ErrInvalidMagic, data[:4])
	}
	ver := binary.BigEndian.Uint32(data[4:8])
	if ver != version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVer, ver)
	}

	fanoutOff := 8
	fanout := make([]uint32, fanoutEntries)
	for i := 0; i < fanoutEntries; i++ {
		fanout[i] = binary.BigEndian.Uint32(data[fanoutOff+i*4 : fanoutOff+i*4+4])
		if i > 0 && fanout[i] < fanout[i-1] {
			return nil, fmt.Errorf("%w: entry %d (%d) < entry %d (%d)", ErrBadFanout, i, fanout[i], i-1, fanout[i-1])
		}
	}
	count := int(fanout[fanoutEntries-1])

	layer2Off := fanoutOff + fanoutSize
	layer2Size := count * objhash.Size
	layer3Off := layer2Off + layer2Size
	layer3Size := count * crc32EntrySize
	layer4Off := layer3Off + layer3Size
	layer4Size := count * offset32Size
	layer5Off := layer4Off + layer4Size

	// We don't know layer5's size until we've scanned layer4 for
	// large-offset markers, so validate the minimum possible trailer
	// position first and re-check once we know it.
	if layer5Off+2*objhash.Size > len(data) {
		return nil, ErrTruncated
	}

	entries := make([]Entry, count)
	for i := 0; i < count; i++ {
		oidBytes := data[layer2Off+i*objhash.Size : layer2Off+(i+1)*objhash.Size]
		oid, err := objhash.FromBytes(oidBytes)
		if err != nil {
			return nil, fmt.Errorf("packindex: entry %d: %w", i, err)
		}
		if i > 0 && bytes.Compare(entries[i-1].OID.Bytes(), oid.Bytes()) >= 0 {
			return nil, fmt.Errorf("%w: entry %d", ErrUnsortedOIDs, i)
		}
		entries[i].OID = oid
	}
	for i := 0; i < count; i++ {
		entries[i].CRC32 = binary.BigEndian.Uint32(data[layer3Off+i*4 : layer3Off+i*4+4])
	}

	var largeOffsetCount int
	rawOffsets := make([]uint32, count)
	for i := 0; i < count; i++ {
		rawOffsets[i] = binary.BigEndian.Uint32(data[layer4Off+i*4 : layer4Off+i*4+4])
		if rawOffsets[i]&largeOffsetBit != 0 {
			largeOffsetCount++
		}
	}

	layer5Size := largeOffsetCount * offset64Size
	trailerOff := layer5Off + layer5Size
	if trailerOff+2*objhash.Size != len(data) {
		return nil, fmt.Errorf("%w: expected trailer at %d, file is %d bytes", ErrTruncated, trailerOff, len(data))
	}

	for i := 0; i < count; i++ {
		raw := rawOffsets[i]
		if raw&largeOffsetBit == 0 {
			entries[i].Offset = uint64(raw)
			continue
		}
		idx64 := int(raw &^ largeOffsetBit)
		pos := layer5Off + idx64*offset64Size
		if pos+offset64Size > trailerOff {
			return nil, fmt.Errorf("%w: entry %d points to layer5 offset %d", ErrDanglingLargeOffs, i, idx64)
		}
		entries[i].Offset = binary.BigEndian.Uint64(data[pos : pos+offset64Size])
	}

	packChecksum, err := objhash.FromBytes(data[trailerOff : trailerOff+objhash.Size])
	if err != nil {
		return nil, fmt.Errorf("packindex: pack checksum: %w", err)
	}
	selfChecksum, err := objhash.FromBytes(data[trailerOff+objhash.Size : trailerOff+2*objhash.Size])
	if err != nil {
		return nil, fmt.Errorf("packindex: self checksum: %w", err)
	}

	computed := sha1.Sum(data[:trailerOff+objhash.Size])
	if !bytes.Equal(computed[:], selfChecksum.Bytes()) {
		return nil, ErrChecksumMismatch
	}

	idx := &Index{entries: entries, PackChecksum: packChecksum, SelfChecksum: selfChecksum}
	idx.buildLookup()
	return idx, nil
}

func (idx *Index) buildLookup() {
	idx.byOID = make(map[objhash.OID]int, len(idx.entries))
	for i, e := range idx.entries {
		idx.byOID[e.OID] = i
	}
}

// Lookup returns the entry for oid, if present.
func (idx *Index) Lookup(oid objhash.OID) (Entry, bool) {
	i, ok := idx.byOID[oid]
	if !ok {
		return Entry{}, false
	}
	return idx.entries[i], true
}

// BatchLookup resolves many ids at once, returning entries in the same
// order as oids; a missing id yields a zero Entry and false at that
// position.
func (idx *Index) BatchLookup(oids []objhash.OID) ([]Entry, []bool) {
	entries := make([]Entry, len(oids))
	found := make([]bool, len(oids))
	for i, oid := range oids {
		e, ok := idx.Lookup(oid)
		entries[i], found[i] = e, ok
	}
	return entries, found
}

// Len returns the number of objects indexed.
func (idx *Index) Len() int { return len(idx.entries) }

// Entries returns the index's entries in ascending OID order. The
// returned slice must not be mutated.
func (idx *Index) Entries() []Entry { return idx.entries }

// Build serializes a v2 pack index for the given entries (sorted by
// OID internally; the caller need not pre-sort) and packChecksum.
func Build(entries []Entry, packChecksum objhash.OID) ([]byte, error) {
	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].OID.Bytes(), sorted[j].OID.Bytes()) < 0
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].OID == sorted[i-1].OID {
			return nil, fmt.Errorf("packindex: duplicate entry for oid %s", sorted[i].OID)
		}
	}

	var buf bytes.Buffer
	buf.Write(magic)
	writeBE32(&buf, version)

	fanout := make([]uint32, fanoutEntries)
	for _, e := range sorted {
		firstByte := e.OID.Bytes()[0]
		for b := int(firstByte); b < fanoutEntries; b++ {
			fanout[b]++
		}
	}
	for _, f := range fanout {
		writeBE32(&buf, f)
	}

	for _, e := range sorted {
		buf.Write(e.OID.Bytes())
	}
	for _, e := range sorted {
		writeBE32(&buf, e.CRC32)
	}

	var large []uint64
	for _, e := range sorted {
		if e.Offset < uint64(largeOffsetBit) {
			writeBE32(&buf, uint32(e.Offset))
			continue
		}
		writeBE32(&buf, largeOffsetBit|uint32(len(large)))
		large = append(large, e.Offset)
	}
	for _, off := range large {
		writeBE64(&buf, off)
	}

	buf.Write(packChecksum.Bytes())
	selfChecksum := sha1.Sum(buf.Bytes())
	buf.Write(selfChecksum[:])

	return buf.Bytes(), nil
}

func writeBE32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeBE64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}
