package gitobj

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/odvcencio/gitcellar/internal/objhash"
)

// TreeEntry is one row of a tree object: a mode, a name, and the id of
// the blob or subtree it names.
type TreeEntry struct {
	Mode TreeMode
	Name string
	OID  objhash.OID
}

// Tree is a sorted list of directory entries.
type Tree struct {
	Entries []TreeEntry
}

// sortKey returns the byte sequence git actually compares when ordering
// tree entries: a directory's name is compared as if suffixed with "/",
// so "foo" (a file) sorts before "foo.c" but "foo" (a directory) sorts
// after "foo.c" since "foo/" > "foo.c" lexicographically.
func sortKey(e TreeEntry) []byte {
	if e.Mode.IsDir() {
		return append([]byte(e.Name), '/')
	}
	return []byte(e.Name)
}

// Less reports whether entry a sorts before entry b in canonical tree
// order.
func Less(a, b TreeEntry) bool {
	return bytes.Compare(sortKey(a), sortKey(b)) < 0
}

// Sort orders t's entries in place into canonical tree order.
func (t *Tree) Sort() {
	sort.Slice(t.Entries, func(i, j int) bool { return Less(t.Entries[i], t.Entries[j]) })
}

// isSorted reports whether entries are already in canonical order, with
// no duplicate names.
func isSorted(entries []TreeEntry) bool {
	for i := 1; i < len(entries); i++ {
		if !Less(entries[i-1], entries[i]) {
			return false
		}
	}
	return true
}

// SerializeChecked produces the tree's canonical on-disk form, or
// ErrUnsortedTree if entries aren't in canonical order (call Sort first
// if built incrementally).
func (t *Tree) SerializeChecked() ([]byte, error) {
	if !isSorted(t.Entries) {
		return nil, ErrUnsortedTree
	}
	var buf bytes.Buffer
	for _, e := range t.Entries {
		if !e.Mode.IsValid() {
			return nil, fmt.Errorf("%w: %o", ErrBadMode, uint32(e.Mode))
		}
		fmt.Fprintf(&buf, "%s %s\x00", e.Mode.String(), e.Name)
		buf.Write(e.OID.Bytes())
	}
	return buf.Bytes(), nil
}

// ParseTree parses a serialized tree body. Entries out of canonical
// order are rejected with ErrUnsortedTree rather than silently accepted
// and re-sorted, so a round-tripped tree always reproduces its input
// bytes exactly.
func ParseTree(data []byte) (*Tree, error) {
	t := &Tree{}
	for len(data) > 0 {
		sp := bytes.IndexByte(data, ' ')
		if sp < 0 {
			return nil, fmt.Errorf("%w: missing mode separator", ErrTruncatedTree)
		}
		mode, err := ParseTreeMode(string(data[:sp]))
		if err != nil {
			return nil, err
		}
		data = data[sp+1:]

		nul := bytes.IndexByte(data, 0)
		if nul < 0 {
			return nil, fmt.Errorf("%w: missing name terminator", ErrTruncatedTree)
		}
		name := string(data[:nul])
		if name == "" || strings.ContainsRune(name, '/') {
			return nil, fmt.Errorf("%w: invalid entry name %q", ErrMalformedHeader, name)
		}
		data = data[nul+1:]

		if len(data) < objhash.Size {
			return nil, fmt.Errorf("%w: truncated entry sha", ErrTruncatedTree)
		}
		oid, err := objhash.FromBytes(data[:objhash.Size])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadSHA, err)
		}
		data = data[objhash.Size:]

		t.Entries = append(t.Entries, TreeEntry{Mode: mode, Name: name, OID: oid})
	}
	if !isSorted(t.Entries) {
		return nil, ErrUnsortedTree
	}
	return t, nil
}
