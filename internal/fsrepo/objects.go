package fsrepo

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/odvcencio/gitcellar/internal/gitobj"
	"github.com/odvcencio/gitcellar/internal/objhash"
	"github.com/odvcencio/gitcellar/internal/pack"
	"github.com/odvcencio/gitcellar/internal/packindex"
)

// ErrNotFound is returned by ObjectReader for an id with no loose or
// packed object on disk.
var ErrNotFound = errors.New("fsrepo: object not found")

// ObjectReader reads loose and packed objects out of a `.git`
// directory's `objects/` subtree, without ever writing to it. Packs
// are parsed fully and cached in memory on first access; the working
// assumption is that a filesystem-backed repository's pack set is
// static for the lifetime of the reader (as it is for a read-only
// mirror).
type ObjectReader struct {
	objectsDir string

	mu    sync.Mutex
	packs map[string]*openPack // pack basename -> parsed entries
}

type openPack struct {
	byOID map[objhash.OID]pack.Entry
}

// NewObjectReader returns an ObjectReader over gitDir's objects/
// subdirectory.
func NewObjectReader(gitDir string) *ObjectReader {
	return &ObjectReader{
		objectsDir: filepath.Join(gitDir, "objects"),
		packs:      make(map[string]*openPack),
	}
}

// Get returns the kind and raw body of oid, checking loose objects
// before packed ones.
func (r *ObjectReader) Get(oid objhash.OID) (gitobj.Kind, []byte, error) {
	kind, data, err := r.getLoose(oid)
	if err == nil {
		return kind, data, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", nil, err
	}
	return r.getPacked(oid)
}

// Has reports whether oid exists as a loose or packed object.
func (r *ObjectReader) Has(oid objhash.OID) (bool, error) {
	_, _, err := r.Get(oid)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (r *ObjectReader) loosePath(oid objhash.OID) string {
	hex := oid.String()
	return filepath.Join(r.objectsDir, hex[:2], hex[2:])
}

func (r *ObjectReader) getLoose(oid objhash.OID) (gitobj.Kind, []byte, error) {
	f, err := os.Open(r.loosePath(oid))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, ErrNotFound
		}
		return "", nil, fmt.Errorf("fsrepo: open loose object %s: %w", oid, err)
	}
	defer f.Close()

	zr, err := zlib.NewReader(bufio.NewReader(f))
	if err != nil {
		return "", nil, fmt.Errorf("fsrepo: inflate loose object %s: %w", oid, err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return "", nil, fmt.Errorf("fsrepo: read loose object %s: %w", oid, err)
	}
	return parseLooseFrame(raw)
}

// parseLooseFrame splits the inflated `<kind> <size>\0<body>` framing
// git uses for loose objects.
func parseLooseFrame(raw []byte) (gitobj.Kind, []byte, error) {
	nul := bytes.IndexByte(raw, 0)
	if nul < 0 {
		return "", nil, fmt.Errorf("fsrepo: loose object missing header terminator")
	}
	header := string(raw[:nul])
	sp := bytes.IndexByte([]byte(header), ' ')
	if sp < 0 {
		return "", nil, fmt.Errorf("fsrepo: malformed loose object header %q", header)
	}
	kind := gitobj.Kind(header[:sp])
	if !kind.IsValid() {
		return "", nil, gitobj.ErrUnknownKind
	}
	size, err := strconv.Atoi(header[sp+1:])
	if err != nil {
		return "", nil, fmt.Errorf("fsrepo: malformed loose object size %q: %w", header[sp+1:], err)
	}
	body := raw[nul+1:]
	if len(body) != size {
		return "", nil, fmt.Errorf("fsrepo: loose object size mismatch: header says %d, got %d", size, len(body))
	}
	return kind, body, nil
}

func (r *ObjectReader) getPacked(oid objhash.OID) (gitobj.Kind, []byte, error) {
	names, err := r.packBasenames()
	if err != nil {
		return "", nil, err
	}
	for _, base := range names {
		op, err := r.openPack(base)
		if err != nil {
			return "", nil, err
		}
		if entry, ok := op.byOID[oid]; ok {
			return entry.Kind, entry.Data, nil
		}
	}
	return "", nil, ErrNotFound
}

func (r *ObjectReader) packBasenames() ([]string, error) {
	dir := filepath.Join(r.objectsDir, "pack")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fsrepo: list %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".idx" {
			names = append(names, e.Name()[:len(e.Name())-len(".idx")])
		}
	}
	return names, nil
}

// openPack parses and caches basename's .idx/.pack pair. The .idx is
// parsed first purely to validate the index's own fanout table, sort
// order and self-checksum (the pack's trailing checksum is verified by
// Unpack); every object's kind/body still comes from a full Unpack of
// the .pack stream, since OFS_DELTA bases must be resolved in pack
// order.
func (r *ObjectReader) openPack(basename string) (*openPack, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if op, ok := r.packs[basename]; ok {
		return op, nil
	}

	dir := filepath.Join(r.objectsDir, "pack")
	idxData, err := os.ReadFile(filepath.Join(dir, basename+".idx"))
	if err != nil {
		return nil, fmt.Errorf("fsrepo: read %s.idx: %w", basename, err)
	}
	if _, err := packindex.Parse(idxData); err != nil {
		return nil, fmt.Errorf("fsrepo: parse %s.idx: %w", basename, err)
	}

	packFile, err := os.Open(filepath.Join(dir, basename+".pack"))
	if err != nil {
		return nil, fmt.Errorf("fsrepo: open %s.pack: %w", basename, err)
	}
	defer packFile.Close()

	entries, err := pack.Unpack(bufio.NewReader(packFile), pack.Limits{}, pack.NoExternalBases{})
	if err != nil {
		return nil, fmt.Errorf("fsrepo: unpack %s.pack: %w", basename, err)
	}

	op := &openPack{byOID: make(map[objhash.OID]pack.Entry, len(entries))}
	for _, e := range entries {
		op.byOID[e.OID] = e
	}
	r.packs[basename] = op
	return op, nil
}
