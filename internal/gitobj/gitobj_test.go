package gitobj

import (
	"testing"

	"github.com/odvcencio/gitcellar/internal/objhash"
	"github.com/stretchr/testify/require"
)

func TestBlobHashKnownValue(t *testing.T) {
	// git hash-object for the bytes "what is up, doc?" is a well-known
	// fixture value used across git implementations' test suites.
	b := &Blob{Data: []byte("what is up, doc?")}
	_, oid := SerializeAndHash(b)
	require.Equal(t, "bd9dbf5aae1a3862dd1526723246b20206e5fc37", oid.String())
}

func TestEmptyTreeHash(t *testing.T) {
	tr := &Tree{}
	_, oid := SerializeAndHash(tr)
	require.Equal(t, "4b825dc642cb6eb9a060e54bf8d69288fbee4904", oid.String())
}

func TestTreeCanonicalOrdering(t *testing.T) {
	oidA := mustOID(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	oidB := mustOID(t, "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	// "foo.c" (file) must sort before "foo" (directory), since the
	// directory's comparison key is "foo/" which is greater than "foo.c".
	tr := &Tree{Entries: []TreeEntry{
		{Mode: ModeDir, Name: "foo", OID: oidA},
		{Mode: ModeFile, Name: "foo.c", OID: oidB},
	}}
	tr.Sort()
	require.Equal(t, "foo.c", tr.Entries[0].Name)
	require.Equal(t, "foo", tr.Entries[1].Name)

	body, err := tr.SerializeChecked()
	require.NoError(t, err)

	parsed, err := ParseTree(body)
	require.NoError(t, err)
	require.Equal(t, tr.Entries, parsed.Entries)
}

func TestParseTreeRejectsUnsorted(t *testing.T) {
	oidA := mustOID(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	unsorted := &Tree{Entries: []TreeEntry{
		{Mode: ModeFile, Name: "foo", OID: oidA},
		{Mode: ModeFile, Name: "bar", OID: oidA},
	}}
	_, err := unsorted.SerializeChecked()
	require.ErrorIs(t, err, ErrUnsortedTree)

	// Hand-build bytes for the same out-of-order pair and confirm parsing
	// rejects them too, rather than silently re-sorting.
	var raw []byte
	raw = append(raw, []byte("100644 foo\x00")...)
	raw = append(raw, oidA.Bytes()...)
	raw = append(raw, []byte("100644 bar\x00")...)
	raw = append(raw, oidA.Bytes()...)
	_, err = ParseTree(raw)
	require.ErrorIs(t, err, ErrUnsortedTree)
}

func TestCommitRoundTrip(t *testing.T) {
	tree := mustOID(t, "4b825dc642cb6eb9a060e54bf8d69288fbee4904")
	parent := mustOID(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	c := &Commit{
		Tree:      tree,
		Parents:   []objhash.OID{parent},
		Author:    Signature{Name: "A U Thor", Email: "author@example.com", Secs: 1234567890, Offset: "+0000"},
		Committer: Signature{Name: "A U Thor", Email: "author@example.com", Secs: 1234567890, Offset: "+0000"},
		Message:   "initial commit\n",
	}
	body, oid := SerializeAndHash(c)

	parsed, reHashOID, err := Parse(KindCommit, body)
	require.NoError(t, err)
	require.Equal(t, oid, reHashOID)

	got := parsed.(*Commit)
	require.Equal(t, c.Tree, got.Tree)
	require.Equal(t, c.Parents, got.Parents)
	require.Equal(t, c.Author, got.Author)
	require.Equal(t, c.Committer, got.Committer)
	require.Equal(t, c.Message, got.Message)

	// Re-serializing the parsed commit reproduces the original bytes.
	require.Equal(t, body, got.Serialize())
}

func TestCommitWithGPGSignature(t *testing.T) {
	tree := mustOID(t, "4b825dc642cb6eb9a060e54bf8d69288fbee4904")
	c := &Commit{
		Tree:         tree,
		Author:       Signature{Name: "A", Email: "a@example.com", Secs: 1, Offset: "+0000"},
		Committer:    Signature{Name: "A", Email: "a@example.com", Secs: 1, Offset: "+0000"},
		GPGSignature: "-----BEGIN PGP SIGNATURE-----\n\nabcdef\n-----END PGP SIGNATURE-----",
		Message:      "signed commit\n",
	}
	body := c.Serialize()

	parsed, err := ParseCommit(body)
	require.NoError(t, err)
	require.Equal(t, c.GPGSignature, parsed.GPGSignature)
	require.Equal(t, body, parsed.Serialize())
}

func TestParseCommitTruncated(t *testing.T) {
	_, err := ParseCommit([]byte("tree 4b825dc642cb6eb9a060e54bf8d69288fbee4904\nauthor A <a@example.com> 1 +0000\n"))
	require.ErrorIs(t, err, ErrTruncatedCommit)
}

func TestParseCommitBadAuthor(t *testing.T) {
	body := "tree 4b825dc642cb6eb9a060e54bf8d69288fbee4904\n" +
		"author not-a-valid-signature\n" +
		"committer A <a@example.com> 1 +0000\n\nmsg\n"
	_, err := ParseCommit([]byte(body))
	require.ErrorIs(t, err, ErrBadAuthor)
}

func TestTagRoundTrip(t *testing.T) {
	obj := mustOID(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	tag := &Tag{
		Object:     obj,
		ObjectKind: KindCommit,
		TagName:    "v1.0.0",
		Tagger:     Signature{Name: "Rel Eng", Email: "rel@example.com", Secs: 42, Offset: "-0700"},
		Message:    "release\n",
	}
	body := tag.Serialize()
	parsed, err := ParseTag(body)
	require.NoError(t, err)
	require.Equal(t, tag.Object, parsed.Object)
	require.Equal(t, tag.ObjectKind, parsed.ObjectKind)
	require.Equal(t, tag.TagName, parsed.TagName)
	require.Equal(t, tag.Tagger, parsed.Tagger)
	require.Equal(t, tag.Message, parsed.Message)
	require.Equal(t, body, parsed.Serialize())
}

func TestParseTreeModeRejectsUnknown(t *testing.T) {
	_, err := ParseTreeMode("100600")
	require.ErrorIs(t, err, ErrBadMode)
}

func mustOID(t *testing.T, hexStr string) objhash.OID {
	t.Helper()
	oid, err := objhash.FromHex(hexStr)
	require.NoError(t, err)
	return oid
}
