package pack

import (
	"bytes"
	"fmt"
	"io"
)

// ApplyDelta reconstructs an object from a base and a git delta
// instruction stream (copy/insert opcodes), as used by OFS_DELTA and
// REF_DELTA packfile entries (spec.md §4.4).
func ApplyDelta(base, delta []byte) ([]byte, error) {
	dr := bytes.NewReader(delta)

	baseSize, err := readDeltaVarint(dr)
	if err != nil {
		return nil, fmt.Errorf("pack: delta base size: %w", err)
	}
	if baseSize != int64(len(base)) {
		return nil, fmt.Errorf("pack: delta base size mismatch: header says %d, base is %d bytes", baseSize, len(base))
	}
	resultSize, err := readDeltaVarint(dr)
	if err != nil {
		return nil, fmt.Errorf("pack: delta result size: %w", err)
	}

	result := make([]byte, 0, resultSize)
	for dr.Len() > 0 {
		cmd, err := dr.ReadByte()
		if err != nil {
			return nil, err
		}
		switch {
		case cmd&0x80 != 0:
			offset, size, err := readCopyArgs(dr, cmd)
			if err != nil {
				return nil, err
			}
			if offset < 0 || size < 0 || offset+size > int64(len(base)) {
				return nil, fmt.Errorf("pack: delta copy out of bounds: offset=%d size=%d base=%d", offset, size, len(base))
			}
			result = append(result, base[offset:offset+size]...)
		case cmd != 0:
			n := int(cmd)
			chunk := make([]byte, n)
			if _, err := io.ReadFull(dr, chunk); err != nil {
				return nil, fmt.Errorf("pack: delta insert: %w", err)
			}
			result = append(result, chunk...)
		default:
			return nil, fmt.Errorf("pack: invalid delta opcode 0")
		}
	}

	if int64(len(result)) != resultSize {
		return nil, fmt.Errorf("pack: delta result size mismatch: got %d, expected %d", len(result), resultSize)
	}
	return result, nil
}

// readCopyArgs decodes a COPY opcode's offset and size fields: the low
// 4 bits of cmd select which of the 4 little-endian offset bytes
// follow in the stream, the next 3 bits select which of the 3 size
// bytes follow. A zero-length size field means the default 0x10000.
func readCopyArgs(r *bytes.Reader, cmd byte) (offset, size int64, err error) {
	readIf := func(bit byte, shift uint, dst *int64) error {
		if cmd&bit == 0 {
			return nil
		}
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		*dst |= int64(b) << shift
		return nil
	}
	if err := readIf(0x01, 0, &offset); err != nil {
		return 0, 0, err
	}
	if err := readIf(0x02, 8, &offset); err != nil {
		return 0, 0, err
	}
	if err := readIf(0x04, 16, &offset); err != nil {
		return 0, 0, err
	}
	if err := readIf(0x08, 24, &offset); err != nil {
		return 0, 0, err
	}
	if err := readIf(0x10, 0, &size); err != nil {
		return 0, 0, err
	}
	if err := readIf(0x20, 8, &size); err != nil {
		return 0, 0, err
	}
	if err := readIf(0x40, 16, &size); err != nil {
		return 0, 0, err
	}
	if size == 0 {
		size = 0x10000
	}
	return offset, size, nil
}

// readDeltaVarint reads a delta header's base/result size: a plain
// base-128 varint, least-significant group first (distinct from the
// nonstandard OFS_DELTA backwards-offset varint in pack.go).
func readDeltaVarint(r *bytes.Reader) (int64, error) {
	var size int64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		size |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	return size, nil
}

// MakeDelta produces a minimal git delta (copy-free, insert-only) that
// reconstructs target from base. It does not attempt to find common
// substrings between base and target — callers needing compact deltas
// for storage should prefer a whole-object pack entry instead; this
// exists to exercise the wire format symmetrically with ApplyDelta.
func MakeDelta(base, target []byte) []byte {
	var buf bytes.Buffer
	writeDeltaVarint(&buf, int64(len(base)))
	writeDeltaVarint(&buf, int64(len(target)))

	for len(target) > 0 {
		n := len(target)
		if n > 0x7f {
			n = 0x7f
		}
		buf.WriteByte(byte(n))
		buf.Write(target[:n])
		target = target[n:]
	}
	return buf.Bytes()
}

func writeDeltaVarint(buf *bytes.Buffer, v int64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf.WriteByte(b)
		if v == 0 {
			break
		}
	}
}
