package bundle

import (
	"encoding/binary"
	"fmt"

	"github.com/odvcencio/gitcellar/internal/gitobj"
)

// headerSize is the fixed-width frame header written before every
// zlib-compressed object payload: one byte identifying the object kind
// plus an 8-byte big-endian uncompressed size, so a reader can
// pre-size its inflate buffer without re-scanning the bundle.
const headerSize = 9

func kindByte(k gitobj.Kind) (byte, error) {
	switch k {
	case gitobj.KindBlob:
		return 1, nil
	case gitobj.KindTree:
		return 2, nil
	case gitobj.KindCommit:
		return 3, nil
	case gitobj.KindTag:
		return 4, nil
	default:
		return 0, fmt.Errorf("bundle: %w: %q", gitobj.ErrUnknownKind, k)
	}
}

func byteKind(b byte) (gitobj.Kind, error) {
	switch b {
	case 1:
		return gitobj.KindBlob, nil
	case 2:
		return gitobj.KindTree, nil
	case 3:
		return gitobj.KindCommit, nil
	case 4:
		return gitobj.KindTag, nil
	default:
		return "", fmt.Errorf("bundle: %w: byte %d", gitobj.ErrUnknownKind, b)
	}
}

func encodeHeader(kind gitobj.Kind, uncompressedSize int) ([]byte, error) {
	kb, err := kindByte(kind)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, headerSize)
	buf[0] = kb
	binary.BigEndian.PutUint64(buf[1:], uint64(uncompressedSize))
	return buf, nil
}

func decodeHeader(frame []byte) (gitobj.Kind, int64, error) {
	if len(frame) < headerSize {
		return "", 0, fmt.Errorf("bundle: truncated frame header (%d bytes)", len(frame))
	}
	kind, err := byteKind(frame[0])
	if err != nil {
		return "", 0, err
	}
	size := binary.BigEndian.Uint64(frame[1:headerSize])
	return kind, int64(size), nil
}
