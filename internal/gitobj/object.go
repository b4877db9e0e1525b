package gitobj

import (
	"fmt"

	"github.com/odvcencio/gitcellar/internal/objhash"
)

// Object is any parsed git object, implementing both byte serialization
// and kind reporting.
type Object interface {
	Serialize() []byte
	Kind() Kind
}

func (b *Blob) Kind() Kind   { return KindBlob }
func (c *Commit) Kind() Kind { return KindCommit }
func (t *Tag) Kind() Kind    { return KindTag }
func (t *Tree) Kind() Kind   { return KindTree }

// Serialize adapts SerializeChecked to the Object interface by panicking
// on an out-of-order tree — a programming error for any caller that
// built the tree via Sort or ParseTree rather than appending manually.
func (t *Tree) Serialize() []byte {
	b, err := t.SerializeChecked()
	if err != nil {
		panic(err)
	}
	return b
}

// Parse parses a serialized object body of the given kind and returns
// both the typed Object and its id.
func Parse(kind Kind, data []byte) (Object, objhash.OID, error) {
	if !kind.IsValid() {
		return nil, objhash.OID{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	oid := Hash(kind, data)
	switch kind {
	case KindBlob:
		b, err := ParseBlob(data)
		return b, oid, err
	case KindTree:
		t, err := ParseTree(data)
		if err != nil {
			return nil, objhash.OID{}, err
		}
		return t, oid, nil
	case KindCommit:
		c, err := ParseCommit(data)
		if err != nil {
			return nil, objhash.OID{}, err
		}
		return c, oid, nil
	case KindTag:
		t, err := ParseTag(data)
		if err != nil {
			return nil, objhash.OID{}, err
		}
		return t, oid, nil
	default:
		return nil, objhash.OID{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// SerializeAndHash serializes obj and returns its body bytes and id
// together, the common operation when writing a freshly built object.
func SerializeAndHash(obj Object) ([]byte, objhash.OID) {
	body := obj.Serialize()
	return body, Hash(obj.Kind(), body)
}
