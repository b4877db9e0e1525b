package objstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/odvcencio/gitcellar/internal/gitobj"
	"github.com/odvcencio/gitcellar/internal/objhash"
	"github.com/odvcencio/gitcellar/internal/storage"
)

// backendHeaderSize is the fixed-width header written before every
// object's raw bytes: one byte identifying the kind plus an 8-byte
// big-endian length, so Get can split a whole-object blob back into
// kind and data without a second round trip.
const backendHeaderSize = 9

// Backed is a Store over a plain storage.Backend, one whole encoded
// object per content-hash key. Unlike Bundle it has no append/seal
// lifecycle: every Put is a single Write of the complete object, which
// is what makes it suitable for a cold tier sitting on S3, where
// storage.S3Backend exposes only whole-object Read/Write/Has/Delete/List
// and not the range-read/append operations a bundle needs.
type Backed struct {
	backend storage.Backend
	prefix  string
}

// NewBacked wraps backend, storing objects under prefix + the git-style
// two-character fan-out of the object id's hex ("<prefix>/<aa>/<bb..>").
// An empty prefix stores directly under "objects".
func NewBacked(backend storage.Backend, prefix string) *Backed {
	if prefix == "" {
		prefix = "objects"
	}
	return &Backed{backend: backend, prefix: prefix}
}

func (b *Backed) path(oid objhash.OID) string {
	hex := oid.String()
	return fmt.Sprintf("%s/%s/%s", b.prefix, hex[:2], hex[2:])
}

func (b *Backed) Put(_ context.Context, kind gitobj.Kind, data []byte) (objhash.OID, error) {
	if !kind.IsValid() {
		return objhash.OID{}, gitobj.ErrUnknownKind
	}
	oid := gitobj.Hash(kind, data)
	path := b.path(oid)
	if has, err := b.backend.Has(path); err != nil {
		return objhash.OID{}, err
	} else if has {
		return oid, nil
	}

	kb, err := backendKindByte(kind)
	if err != nil {
		return objhash.OID{}, err
	}
	frame := make([]byte, backendHeaderSize+len(data))
	frame[0] = kb
	binary.BigEndian.PutUint64(frame[1:backendHeaderSize], uint64(len(data)))
	copy(frame[backendHeaderSize:], data)

	if err := b.backend.Write(path, frame); err != nil {
		return objhash.OID{}, err
	}
	return oid, nil
}

func (b *Backed) read(oid objhash.OID) (gitobj.Kind, []byte, error) {
	r, err := b.backend.Read(b.path(oid))
	if err != nil {
		return "", nil, ErrNotFound
	}
	defer r.Close()

	frame, err := io.ReadAll(r)
	if err != nil {
		return "", nil, err
	}
	if len(frame) < backendHeaderSize {
		return "", nil, fmt.Errorf("objstore: truncated backend object %s", oid)
	}
	kind, err := backendByteKind(frame[0])
	if err != nil {
		return "", nil, err
	}
	size := binary.BigEndian.Uint64(frame[1:backendHeaderSize])
	data := frame[backendHeaderSize:]
	if uint64(len(data)) != size {
		return "", nil, fmt.Errorf("objstore: backend object %s has wrong length", oid)
	}
	return kind, data, nil
}

func (b *Backed) Get(_ context.Context, oid objhash.OID) (gitobj.Kind, []byte, error) {
	return b.read(oid)
}

func (b *Backed) Has(_ context.Context, oid objhash.OID) (bool, error) {
	return b.backend.Has(b.path(oid))
}

func (b *Backed) Delete(_ context.Context, oid objhash.OID) error {
	return b.backend.Delete(b.path(oid))
}

// List enumerates every object under prefix. storage.Backend.List walks
// the whole tree rather than one directory level, so no recursion is
// needed beyond stripping non-object paths.
func (b *Backed) List(ctx context.Context) (<-chan objhash.OID, error) {
	paths, err := b.backend.List(b.prefix)
	if err != nil {
		return nil, fmt.Errorf("objstore: list backend objects: %w", err)
	}

	out := make(chan objhash.OID)
	go func() {
		defer close(out)
		for _, p := range paths {
			oid, ok := b.oidFromPath(p)
			if !ok {
				continue
			}
			select {
			case out <- oid:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (b *Backed) GetType(_ context.Context, oid objhash.OID) (gitobj.Kind, error) {
	kind, _, err := b.read(oid)
	return kind, err
}

func (b *Backed) GetSize(_ context.Context, oid objhash.OID) (int64, error) {
	_, data, err := b.read(oid)
	if err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// oidFromPath recovers the object id from a "<prefix>/<aa>/<bb..>" path
// returned by storage.Backend.List, reassembling the fan-out split.
func (b *Backed) oidFromPath(p string) (objhash.OID, bool) {
	rest := strings.TrimPrefix(p, b.prefix+"/")
	if rest == p {
		return objhash.OID{}, false
	}
	slash := strings.IndexByte(rest, '/')
	if slash != 2 {
		return objhash.OID{}, false
	}
	hex := rest[:2] + rest[3:]
	oid, err := objhash.FromHex(hex)
	if err != nil {
		return objhash.OID{}, false
	}
	return oid, true
}

func backendKindByte(k gitobj.Kind) (byte, error) {
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
		return 0, fmt.Errorf("objstore: %w: %q", gitobj.ErrUnknownKind, k)
	}
}

func backendByteKind(b byte) (gitobj.Kind, error) {
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
		return "", fmt.Errorf("objstore: %w: byte %d", gitobj.ErrUnknownKind, b)
	}
}
