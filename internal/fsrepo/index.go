package fsrepo

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/odvcencio/gitcellar/internal/objhash"
)

const (
	indexMagic           = "DIRC"
	indexFixedEntrySize  = 62 // ctime..flags, before the variable-length path
	indexEntryAlignment  = 8
	indexFlagExtended    = 0x4000
	indexFlagStageMask   = 0x3000
	indexFlagStageShift  = 12
	indexFlagNameLenMask = 0x0fff
)

// IndexEntry is one staged file in a parsed `.git/index`.
type IndexEntry struct {
	CtimeSec, CtimeNsec uint32
	MtimeSec, MtimeNsec uint32
	Device, Inode       uint32
	Mode                uint32
	UID, GID            uint32
	FileSize            uint32
	OID                 objhash.OID
	Flags               uint16
	ExtendedFlags       uint16
	Stage               int
	Path                string
}

// Index is a parsed `.git/index` (versions 2, 3, and 4).
type Index struct {
	Version uint32
	Entries []IndexEntry
	ByPath  map[string]*IndexEntry
}

// ReadIndex parses the index file at path. A missing file is not an
// error: it means nothing is staged, and an empty Index is returned.
func ReadIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Index{ByPath: make(map[string]*IndexEntry)}, nil
		}
		return nil, fmt.Errorf("fsrepo: read index: %w", err)
	}
	return parseIndex(data)
}

func parseIndex(data []byte) (*Index, error) {
	const headerSize = 12
	if len(data) < headerSize {
		return nil, fmt.Errorf("fsrepo: index too short (%d bytes)", len(data))
	}
	if string(data[:4]) != indexMagic {
		return nil, fmt.Errorf("fsrepo: invalid index magic %q", data[:4])
	}
	version := binary.BigEndian.Uint32(data[4:8])
	if version < 2 || version > 4 {
		return nil, fmt.Errorf("fsrepo: unsupported index version %d", version)
	}
	numEntries := binary.BigEndian.Uint32(data[8:12])

	idx := &Index{
		Version: version,
		Entries: make([]IndexEntry, 0, numEntries),
		ByPath:  make(map[string]*IndexEntry, numEntries),
	}

	offset := headerSize
	var prevPath string
	for i := uint32(0); i < numEntries; i++ {
		entry, consumed, nextPrev, err := parseIndexEntry(data, offset, version, prevPath)
		if err != nil {
			return nil, fmt.Errorf("fsrepo: index entry %d at offset %d: %w", i, offset, err)
		}
		idx.Entries = append(idx.Entries, entry)
		prevPath = nextPrev
		offset += consumed
	}
	for i := range idx.Entries {
		if idx.Entries[i].Stage == 0 {
			idx.ByPath[idx.Entries[i].Path] = &idx.Entries[i]
		}
	}
	return idx, nil
}

// parseIndexEntry decodes one entry starting at startOffset. v2/v3
// entries are NUL-terminated and padded to an 8-byte boundary; v4
// entries drop the padding and encode the path as a varint strip
// count against the previous entry's path plus a literal suffix.
func parseIndexEntry(data []byte, startOffset int, version uint32, prevPath string) (IndexEntry, int, string, error) {
	if startOffset+indexFixedEntrySize > len(data) {
		return IndexEntry{}, 0, "", fmt.Errorf("not enough data for fixed entry fields")
	}
	p := data[startOffset:]

	var entry IndexEntry
	entry.CtimeSec = binary.BigEndian.Uint32(p[0:4])
	entry.CtimeNsec = binary.BigEndian.Uint32(p[4:8])
	entry.MtimeSec = binary.BigEndian.Uint32(p[8:12])
	entry.MtimeNsec = binary.BigEndian.Uint32(p[12:16])
	entry.Device = binary.BigEndian.Uint32(p[16:20])
	entry.Inode = binary.BigEndian.Uint32(p[20:24])
	entry.Mode = binary.BigEndian.Uint32(p[24:28])
	entry.UID = binary.BigEndian.Uint32(p[28:32])
	entry.GID = binary.BigEndian.Uint32(p[32:36])
	entry.FileSize = binary.BigEndian.Uint32(p[36:40])

	oid, err := objhash.FromBytes(p[40:60])
	if err != nil {
		return IndexEntry{}, 0, "", fmt.Errorf("invalid blob oid: %w", err)
	}
	entry.OID = oid
	entry.Flags = binary.BigEndian.Uint16(p[60:62])
	entry.Stage = int((entry.Flags & indexFlagStageMask) >> indexFlagStageShift)

	fixedEnd := startOffset + indexFixedEntrySize
	pathStart := fixedEnd
	if entry.Flags&indexFlagExtended != 0 && version >= 3 {
		if pathStart+2 > len(data) {
			return IndexEntry{}, 0, "", fmt.Errorf("truncated extended flags")
		}
		entry.ExtendedFlags = binary.BigEndian.Uint16(data[pathStart : pathStart+2])
		pathStart += 2
	}

	if version == 4 {
		path, consumed, err := decodeV4Path(data, pathStart, prevPath)
		if err != nil {
			return IndexEntry{}, 0, "", err
		}
		entry.Path = path
		return entry, (pathStart + consumed) - startOffset, path, nil
	}

	nullIdx := -1
	for i := pathStart; i < len(data); i++ {
		if data[i] == 0 {
			nullIdx = i
			break
		}
	}
	if nullIdx == -1 {
		return IndexEntry{}, 0, "", fmt.Errorf("path terminator not found")
	}
	entry.Path = string(data[pathStart:nullIdx])

	rawLen := (pathStart - startOffset) + (nullIdx - pathStart) + 1
	paddedLen := (rawLen + indexEntryAlignment - 1) &^ (indexEntryAlignment - 1)
	if startOffset+paddedLen > len(data) {
		return IndexEntry{}, 0, "", fmt.Errorf("entry extends beyond end of data")
	}
	return entry, paddedLen, entry.Path, nil
}

// decodeV4Path reads a varint "strip length" N followed by a
// NUL-terminated suffix, and reconstructs the path as
// prevPath[:len(prevPath)-N] + suffix. No padding follows a v4 entry.
func decodeV4Path(data []byte, offset int, prevPath string) (string, int, error) {
	strip, n, err := readVarint(data[offset:])
	if err != nil {
		return "", 0, err
	}
	start := offset + n
	nullIdx := -1
	for i := start; i < len(data); i++ {
		if data[i] == 0 {
			nullIdx = i
			break
		}
	}
	if nullIdx == -1 {
		return "", 0, fmt.Errorf("v4 path terminator not found")
	}
	suffix := string(data[start:nullIdx])

	if int(strip) > len(prevPath) {
		return "", 0, fmt.Errorf("v4 path strip length %d exceeds previous path length %d", strip, len(prevPath))
	}
	path := prevPath[:len(prevPath)-int(strip)] + suffix
	return path, (nullIdx + 1) - offset, nil
}

// readVarint decodes git's index v4 varint encoding: 7 bits per byte,
// high bit set on all but the last byte, big-endian (most significant
// group first) with a +1 added per continuation byte (git's "ofs"
// encoding, distinct from the delta varint used in packfiles).
func readVarint(data []byte) (uint64, int, error) {
	var v uint64
	for i, b := range data {
		v = (v << 7) | uint64(b&0x7f)
		if b&0x80 == 0 {
			return v, i + 1, nil
		}
		v++
	}
	return 0, 0, fmt.Errorf("truncated varint")
}
