package gitobj

// Blob is an opaque byte payload; git attaches no structure to blob
// content beyond the object header used for hashing.
type Blob struct {
	Data []byte
}

// Serialize returns the blob's raw bytes — the object body is the blob
// content verbatim.
func (b *Blob) Serialize() []byte {
	return b.Data
}

// ParseBlob wraps raw bytes as a Blob. Any byte sequence is a valid blob.
func ParseBlob(data []byte) (*Blob, error) {
	return &Blob{Data: data}, nil
}

// Hash returns this blob's object id.
func (b *Blob) Hash() (Kind, []byte) {
	return KindBlob, b.Serialize()
}
