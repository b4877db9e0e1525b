// Package pack implements git packfile encoding and decoding: the
// object stream format, OFS_DELTA/REF_DELTA resolution, and the delta
// application algorithm (spec.md §4.3, §4.4, §4.6).
package pack

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/odvcencio/gitcellar/internal/gitobj"
	"github.com/odvcencio/gitcellar/internal/objhash"
)

// ObjType is a packfile object type code, distinct from gitobj.Kind
// because the pack format also encodes the two delta variants.
type ObjType int

const (
	ObjCommit   ObjType = 1
	ObjTree     ObjType = 2
	ObjBlob     ObjType = 3
	ObjTag      ObjType = 4
	ObjOfsDelta ObjType = 6
	ObjRefDelta ObjType = 7
)

func (t ObjType) String() string {
	switch t {
	case ObjCommit:
		return "commit"
	case ObjTree:
		return "tree"
	case ObjBlob:
		return "blob"
	case ObjTag:
		return "tag"
	case ObjOfsDelta:
		return "ofs-delta"
	case ObjRefDelta:
		return "ref-delta"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// KindToObjType maps a gitobj.Kind to its packfile type code.
func KindToObjType(k gitobj.Kind) (ObjType, error) {
	switch k {
	case gitobj.KindCommit:
		return ObjCommit, nil
	case gitobj.KindTree:
		return ObjTree, nil
	case gitobj.KindBlob:
		return ObjBlob, nil
	case gitobj.KindTag:
		return ObjTag, nil
	default:
		return 0, fmt.Errorf("pack: unknown kind %q", k)
	}
}

// ObjTypeToKind is the inverse of KindToObjType; it only accepts the
// four base object types, never a delta type.
func ObjTypeToKind(t ObjType) (gitobj.Kind, error) {
	switch t {
	case ObjCommit:
		return gitobj.KindCommit, nil
	case ObjTree:
		return gitobj.KindTree, nil
	case ObjBlob:
		return gitobj.KindBlob, nil
	case ObjTag:
		return gitobj.KindTag, nil
	default:
		return "", fmt.Errorf("pack: %v is not a base object type", t)
	}
}

// Limits bounds resource consumption while unpacking untrusted input
// (spec.md §7 DoS hardening).
type Limits struct {
	MaxObjectCount      int   // 0 means use DefaultLimits' value
	MaxTotalUncompressed int64 // sum of all decompressed object sizes
	MaxSingleObject      int64 // largest any one object may decompress to
	MaxDeltaDepth        int   // longest allowed OFS/REF delta chain
}

// DefaultLimits are the limits applied when a zero-value Limits is used.
var DefaultLimits = Limits{
	MaxObjectCount:       100_000,
	MaxTotalUncompressed: 1 << 30, // 1 GiB
	MaxSingleObject:      100 << 20, // 100 MiB
	MaxDeltaDepth:        50,
}

func (l Limits) orDefault() Limits {
	out := l
	if out.MaxObjectCount == 0 {
		out.MaxObjectCount = DefaultLimits.MaxObjectCount
	}
	if out.MaxTotalUncompressed == 0 {
		out.MaxTotalUncompressed = DefaultLimits.MaxTotalUncompressed
	}
	if out.MaxSingleObject == 0 {
		out.MaxSingleObject = DefaultLimits.MaxSingleObject
	}
	if out.MaxDeltaDepth == 0 {
		out.MaxDeltaDepth = DefaultLimits.MaxDeltaDepth
	}
	return out
}

// Errors returned while unpacking.
var (
	ErrBadMagic        = errors.New("pack: bad packfile magic")
	ErrUnsupportedVer  = errors.New("pack: unsupported packfile version")
	ErrTooManyObjects  = errors.New("pack: object count exceeds limit")
	ErrObjectTooLarge  = errors.New("pack: decompressed object exceeds size limit")
	ErrTotalTooLarge   = errors.New("pack: total decompressed size exceeds limit")
	ErrDeltaTooDeep    = errors.New("pack: delta chain exceeds depth limit")
	ErrBaseNotFound    = errors.New("pack: delta base object not found")
	ErrChecksumMismatch = errors.New("pack: trailing checksum mismatch")
	ErrTruncated       = errors.New("pack: truncated packfile")
)

// Entry is one fully-resolved object extracted from a packfile: its
// kind, body bytes, and the depth of the delta chain it took to
// resolve (0 for a non-delta object).
type Entry struct {
	Kind  gitobj.Kind
	Data  []byte
	OID   objhash.OID
	Depth int
}

// ExternalBaseResolver looks up an object by id outside the packfile
// currently being unpacked, for REF_DELTA bases that live elsewhere in
// the object store (thin packs, as produced by `git pack-objects
// --thin`).
type ExternalBaseResolver interface {
	ResolveBase(oid objhash.OID) (kind gitobj.Kind, data []byte, ok bool, err error)
}

// NoExternalBases is an ExternalBaseResolver that never resolves
// anything, for use when thin-pack support isn't needed.
type NoExternalBases struct{}

func (NoExternalBases) ResolveBase(objhash.OID) (gitobj.Kind, []byte, bool, error) {
	return "", nil, false, nil
}

type resolvedObj struct {
	kind  ObjType
	data  []byte
	depth int
}

// Unpack parses a full packfile (header, objects, trailing checksum)
// and returns every contained object fully resolved (deltas applied).
func Unpack(r io.Reader, limits Limits, bases ExternalBaseResolver) ([]Entry, error) {
	limits = limits.orDefault()
	if bases == nil {
		bases = NoExternalBases{}
	}

	all, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("pack: read: %w", err)
	}
	if len(all) < 12+objhash.Size {
		return nil, ErrTruncated
	}
	if string(all[:4]) != "PACK" {
		return nil, fmt.Errorf("%w: %q", ErrBadMagic, all[:4])
	}
	body, trailer := all[:len(all)-objhash.Size], all[len(all)-objhash.Size:]

	sum := sha1.Sum(body)
	if !bytes.Equal(sum[:], trailer) {
		return nil, ErrChecksumMismatch
	}

	buf := bytes.NewReader(body)
	var header [4]byte
	if _, err := io.ReadFull(buf, header[:]); err != nil {
		return nil, ErrTruncated
	}
	if string(header[:]) != "PACK" {
		return nil, fmt.Errorf("%w: %q", ErrBadMagic, header[:])
	}
	var version, count uint32
	if err := binary.Read(buf, binary.BigEndian, &version); err != nil {
		return nil, ErrTruncated
	}
	if err := binary.Read(buf, binary.BigEndian, &count); err != nil {
		return nil, ErrTruncated
	}
	if version != 2 && version != 3 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVer, version)
	}
	if int(count) > limits.MaxObjectCount {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyObjects, count, limits.MaxObjectCount)
	}

	byOffset := make(map[int64]*resolvedObj, count)
	var totalUncompressed int64
	entries := make([]Entry, 0, count)

	for i := uint32(0); i < count; i++ {
		offset := int64(len(body)) - int64(buf.Len())
		objType, size, err := readObjHeader(buf)
		if err != nil {
			return nil, fmt.Errorf("pack: object %d header: %w", i, err)
		}
		if size > limits.MaxSingleObject {
			return nil, fmt.Errorf("%w: object %d claims size %d", ErrObjectTooLarge, i, size)
		}

		var ro resolvedObj
		switch ObjType(objType) {
		case ObjCommit, ObjTree, ObjBlob, ObjTag:
			data, err := readZlibCapped(buf, limits.MaxSingleObject)
			if err != nil {
				return nil, fmt.Errorf("pack: object %d data: %w", i, err)
			}
			ro = resolvedObj{kind: ObjType(objType), data: data}

		case ObjOfsDelta:
			negOffset, err := readOfsOffset(buf)
			if err != nil {
				return nil, fmt.Errorf("pack: object %d ofs-delta offset: %w", i, err)
			}
			deltaData, err := readZlibCapped(buf, limits.MaxSingleObject)
			if err != nil {
				return nil, fmt.Errorf("pack: object %d delta data: %w", i, err)
			}
			baseAbs := offset - negOffset
			base, ok := byOffset[baseAbs]
			if !ok {
				return nil, fmt.Errorf("%w: ofs-delta base at offset %d (object %d)", ErrBaseNotFound, baseAbs, i)
			}
			if base.depth+1 > limits.MaxDeltaDepth {
				return nil, fmt.Errorf("%w: object %d", ErrDeltaTooDeep, i)
			}
			resolved, err := ApplyDelta(base.data, deltaData)
			if err != nil {
				return nil, fmt.Errorf("pack: object %d: %w", i, err)
			}
			ro = resolvedObj{kind: base.kind, data: resolved, depth: base.depth + 1}

		case ObjRefDelta:
			var baseHashBytes [objhash.Size]byte
			if _, err := io.ReadFull(buf, baseHashBytes[:]); err != nil {
				return nil, fmt.Errorf("pack: object %d ref-delta base id: %w", i, err)
			}
			baseOID, _ := objhash.FromBytes(baseHashBytes[:])
			deltaData, err := readZlibCapped(buf, limits.MaxSingleObject)
			if err != nil {
				return nil, fmt.Errorf("pack: object %d delta data: %w", i, err)
			}

			var base *resolvedObj
			for off, cand := range byOffset {
				if objhash.Sum(cand.kind.String(), cand.data) == baseOID {
					base = cand
					_ = off
					break
				}
			}
			depth := 0
			var baseData []byte
			var baseKind ObjType
			if base != nil {
				depth = base.depth
				baseData = base.data
				baseKind = base.kind
			} else {
				kind, data, ok, rerr := bases.ResolveBase(baseOID)
				if rerr != nil {
					return nil, fmt.Errorf("pack: object %d: resolve external base: %w", i, rerr)
				}
				if !ok {
					return nil, fmt.Errorf("%w: ref-delta base %s (object %d)", ErrBaseNotFound, baseOID, i)
				}
				baseKind, err = KindToObjType(kind)
				if err != nil {
					return nil, err
				}
				baseData = data
			}
			if depth+1 > limits.MaxDeltaDepth {
				return nil, fmt.Errorf("%w: object %d", ErrDeltaTooDeep, i)
			}
			resolved, err := ApplyDelta(baseData, deltaData)
			if err != nil {
				return nil, fmt.Errorf("pack: object %d: %w", i, err)
			}
			ro = resolvedObj{kind: baseKind, data: resolved, depth: depth + 1}

		default:
			return nil, fmt.Errorf("pack: object %d: unknown type %d", i, objType)
		}

		if int64(len(ro.data)) > limits.MaxSingleObject {
			return nil, fmt.Errorf("%w: object %d resolved to %d bytes", ErrObjectTooLarge, i, len(ro.data))
		}
		totalUncompressed += int64(len(ro.data))
		if totalUncompressed > limits.MaxTotalUncompressed {
			return nil, fmt.Errorf("%w: %d bytes so far", ErrTotalTooLarge, totalUncompressed)
		}

		byOffset[offset] = &ro
		kind, err := ObjTypeToKind(ro.kind)
		if err != nil {
			return nil, err
		}
		oid := objhash.Sum(string(kind), ro.data)
		entries = append(entries, Entry{Kind: kind, Data: ro.data, OID: oid, Depth: ro.depth})
	}

	return entries, nil
}

// readObjHeader reads the packfile per-object type+size header: a 4-bit
// type then a base-128 varint size, MSB-continuation encoded, 4 bits in
// the first byte and 7 bits in each continuation byte.
func readObjHeader(r io.ByteReader) (objType int, size int64, err error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, 0, err
	}
	objType = int((b >> 4) & 0x07)
	size = int64(b & 0x0f)
	shift := uint(4)
	for b&0x80 != 0 {
		b, err = r.ReadByte()
		if err != nil {
			return 0, 0, err
		}
		size |= int64(b&0x7f) << shift
		shift += 7
	}
	return objType, size, nil
}

func writeObjHeader(w *bytes.Buffer, objType ObjType, size int) {
	b := byte((int(objType) & 0x07) << 4)
	b |= byte(size & 0x0f)
	remaining := size >> 4
	if remaining > 0 {
		b |= 0x80
	}
	w.WriteByte(b)
	for remaining > 0 {
		b = byte(remaining & 0x7f)
		remaining >>= 7
		if remaining > 0 {
			b |= 0x80
		}
		w.WriteByte(b)
	}
}

// readOfsOffset reads git's nonstandard backwards-offset varint: unlike
// a normal base-128 varint, each continuation byte implicitly adds 1
// before shifting, so the encoding has no redundant representations.
func readOfsOffset(r io.ByteReader) (int64, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	offset := int64(b & 0x7f)
	for b&0x80 != 0 {
		b, err = r.ReadByte()
		if err != nil {
			return 0, err
		}
		offset = ((offset + 1) << 7) | int64(b&0x7f)
	}
	return offset, nil
}

func readZlibCapped(r io.Reader, max int64) ([]byte, error) {
	zr, err := zlib.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	lr := io.LimitReader(zr, max+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, ErrObjectTooLarge
	}
	return data, nil
}

// Build serializes a set of fully-resolved objects (no delta
// compression — every entry is stored whole) into a v2 packfile,
// followed by its trailing SHA-1 checksum.
func Build(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("PACK")
	binary.Write(&buf, binary.BigEndian, uint32(2))
	binary.Write(&buf, binary.BigEndian, uint32(len(entries)))

	for _, e := range entries {
		objType, err := KindToObjType(e.Kind)
		if err != nil {
			return nil, err
		}
		writeObjHeader(&buf, objType, len(e.Data))
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(e.Data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
	}

	sum := sha1.Sum(buf.Bytes())
	buf.Write(sum[:])
	return buf.Bytes(), nil
}
