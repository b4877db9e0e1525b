// Package gitobj implements the git object model: blob, tree, commit, and
// tag serialization/parsing, content-addressed by SHA-1 (spec.md §3, §4.1).
package gitobj

import (
	"errors"
	"fmt"

	"github.com/odvcencio/gitcellar/internal/objhash"
)

// Kind identifies one of the four object types git stores.
type Kind string

const (
	KindBlob   Kind = "blob"
	KindTree   Kind = "tree"
	KindCommit Kind = "commit"
	KindTag    Kind = "tag"
)

// IsValid reports whether k is one of the four known kinds.
func (k Kind) IsValid() bool {
	switch k {
	case KindBlob, KindTree, KindCommit, KindTag:
		return true
	default:
		return false
	}
}

// Errors from §4.1/§7's malformed-input taxonomy. Each is a sentinel so
// callers can branch with errors.Is; messages carry the offending detail.
var (
	ErrMalformedHeader = errors.New("gitobj: malformed object header")
	ErrBadMode         = errors.New("gitobj: bad tree entry mode")
	ErrBadAuthor       = errors.New("gitobj: bad author/committer signature")
	ErrBadSHA          = errors.New("gitobj: bad sha reference")
	ErrTruncatedTree   = errors.New("gitobj: truncated tree object")
	ErrTruncatedCommit = errors.New("gitobj: truncated commit object")
	ErrUnsortedTree    = errors.New("gitobj: tree entries not in canonical order")
	ErrUnknownKind     = errors.New("gitobj: unknown object kind")
)

// TreeMode is a tree entry's file mode, restricted to the five values git
// allows (spec.md §3).
type TreeMode uint32

const (
	ModeDir        TreeMode = 0o040000
	ModeFile       TreeMode = 0o100644
	ModeExecutable TreeMode = 0o100755
	ModeSymlink    TreeMode = 0o120000
	ModeSubmodule  TreeMode = 0o160000
)

// IsValid reports whether m is one of the five permitted tree entry modes.
func (m TreeMode) IsValid() bool {
	switch m {
	case ModeDir, ModeFile, ModeExecutable, ModeSymlink, ModeSubmodule:
		return true
	default:
		return false
	}
}

// IsDir reports whether the entry names a subtree rather than a blob.
func (m TreeMode) IsDir() bool {
	return m == ModeDir
}

// String renders the mode the way git's tree format does: six octal
// digits, except directories which use five.
func (m TreeMode) String() string {
	if m == ModeDir {
		return "40000"
	}
	return fmt.Sprintf("%06o", uint32(m))
}

// ParseTreeMode parses a tree mode string as it appears in a serialized
// tree entry ("40000", "100644", "100755", "120000", "160000").
func ParseTreeMode(s string) (TreeMode, error) {
	var v uint32
	if _, err := fmt.Sscanf(s, "%o", &v); err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadMode, s)
	}
	m := TreeMode(v)
	if !m.IsValid() {
		return 0, fmt.Errorf("%w: %q", ErrBadMode, s)
	}
	return m, nil
}

// Hash computes the object id for a serialized object body of the given
// kind (spec.md §3: "<type> <size>\0<bytes>").
func Hash(kind Kind, data []byte) objhash.OID {
	return objhash.Sum(string(kind), data)
}
