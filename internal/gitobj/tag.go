package gitobj

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/odvcencio/gitcellar/internal/objhash"
)

// Tag is an annotated tag object: a pointer to another object (usually a
// commit), the tagged object's kind, a tag name, a tagger signature, and
// a free-form message.
type Tag struct {
	Object     objhash.OID
	ObjectKind Kind
	TagName    string
	Tagger     Signature
	Message    string
}

// Serialize produces the tag's canonical on-disk form.
func (t *Tag) Serialize() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "object %s\n", t.Object.String())
	fmt.Fprintf(&buf, "type %s\n", t.ObjectKind)
	fmt.Fprintf(&buf, "tag %s\n", t.TagName)
	fmt.Fprintf(&buf, "tagger %s\n", t.Tagger.String())
	buf.WriteByte('\n')
	buf.WriteString(t.Message)
	return buf.Bytes()
}

// ParseTag parses a serialized tag body.
func ParseTag(data []byte) (*Tag, error) {
	header, body, ok := splitHeaderBody(data)
	if !ok {
		return nil, fmt.Errorf("%w: unterminated header", ErrMalformedHeader)
	}
	t := &Tag{}
	var sawObject, sawType, sawTag, sawTagger bool
	for _, line := range strings.Split(string(header), "\n") {
		sp := strings.IndexByte(line, ' ')
		if sp < 0 {
			return nil, fmt.Errorf("%w: %q", ErrMalformedHeader, line)
		}
		key, val := line[:sp], line[sp+1:]
		switch key {
		case "object":
			oid, err := objhash.FromHex(val)
			if err != nil {
				return nil, fmt.Errorf("%w: bad object sha %q", ErrBadSHA, val)
			}
			t.Object = oid
			sawObject = true
		case "type":
			k := Kind(val)
			if !k.IsValid() {
				return nil, fmt.Errorf("%w: %v", ErrUnknownKind, val)
			}
			t.ObjectKind = k
			sawType = true
		case "tag":
			t.TagName = val
			sawTag = true
		case "tagger":
			sig, err := ParseSignature(val)
			if err != nil {
				return nil, err
			}
			t.Tagger = sig
			sawTagger = true
		default:
			return nil, fmt.Errorf("%w: unknown header %q", ErrMalformedHeader, key)
		}
	}
	if !sawObject || !sawType || !sawTag || !sawTagger {
		return nil, fmt.Errorf("%w: missing required header", ErrMalformedHeader)
	}
	t.Message = string(body)
	return t, nil
}
