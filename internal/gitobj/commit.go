package gitobj

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/odvcencio/gitcellar/internal/objhash"
)

// Signature is the "name <email> seconds offset" triple git attaches to
// commits (author/committer) and annotated tags (tagger).
type Signature struct {
	Name   string
	Email  string
	Secs   int64
	Offset string // e.g. "+0000", "-0700"
}

// String renders the signature in git's on-disk form.
func (s Signature) String() string {
	return fmt.Sprintf("%s <%s> %d %s", s.Name, s.Email, s.Secs, s.Offset)
}

// ParseSignature parses a "name <email> seconds offset" line value (the
// part after the header keyword).
func ParseSignature(line string) (Signature, error) {
	lt := strings.IndexByte(line, '<')
	gt := strings.IndexByte(line, '>')
	if lt < 0 || gt < 0 || gt < lt {
		return Signature{}, fmt.Errorf("%w: %q", ErrBadAuthor, line)
	}
	name := strings.TrimSpace(line[:lt])
	email := line[lt+1 : gt]
	rest := strings.Fields(line[gt+1:])
	if len(rest) != 2 {
		return Signature{}, fmt.Errorf("%w: missing timestamp/offset in %q", ErrBadAuthor, line)
	}
	secs, err := strconv.ParseInt(rest[0], 10, 64)
	if err != nil {
		return Signature{}, fmt.Errorf("%w: bad timestamp in %q", ErrBadAuthor, line)
	}
	return Signature{Name: name, Email: email, Secs: secs, Offset: rest[1]}, nil
}

// Commit is a git commit object: a tree, zero or more parents, two
// signatures, an optional PGP signature block, and a free-form message.
type Commit struct {
	Tree         objhash.OID
	Parents      []objhash.OID
	Author       Signature
	Committer    Signature
	GPGSignature string // raw block, without the leading "gpgsig " or continuation-space prefixes
	Message      string
}

// Serialize produces the commit's canonical on-disk form.
func (c *Commit) Serialize() []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", c.Tree.String())
	for _, p := range c.Parents {
		fmt.Fprintf(&buf, "parent %s\n", p.String())
	}
	fmt.Fprintf(&buf, "author %s\n", c.Author.String())
	fmt.Fprintf(&buf, "committer %s\n", c.Committer.String())
	if c.GPGSignature != "" {
		buf.WriteString("gpgsig ")
		buf.WriteString(indentContinuation(c.GPGSignature))
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	buf.WriteString(c.Message)
	return buf.Bytes()
}

// indentContinuation prefixes every line after the first with a single
// space, as git's multi-line header continuation format requires.
func indentContinuation(block string) string {
	lines := strings.Split(block, "\n")
	for i := 1; i < len(lines); i++ {
		lines[i] = " " + lines[i]
	}
	return strings.Join(lines, "\n")
}

// splitHeaderBody splits data at the first blank line ("\n\n"), returning
// the header lines (without trailing newline) and the raw message bytes
// that follow. A gpgsig continuation line is never truly empty (it
// always has at least the leading space), so the first zero-length line
// unambiguously ends the header.
func splitHeaderBody(data []byte) (header []byte, body []byte, ok bool) {
	sep := []byte("\n\n")
	idx := bytes.Index(data, sep)
	if idx < 0 {
		return nil, nil, false
	}
	return data[:idx], data[idx+2:], true
}

// ParseCommit parses a serialized commit body.
func ParseCommit(data []byte) (*Commit, error) {
	c := &Commit{}
	header, body, ok := splitHeaderBody(data)
	if !ok {
		return nil, fmt.Errorf("%w: unterminated header", ErrTruncatedCommit)
	}
	sc := bufio.NewScanner(bytes.NewReader(header))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	sawTree, sawAuthor, sawCommitter := false, false, false
	var pendingKey string
	var pendingVal strings.Builder

	flush := func() error {
		if pendingKey == "" {
			return nil
		}
		val := pendingVal.String()
		switch pendingKey {
		case "tree":
			oid, err := objhash.FromHex(val)
			if err != nil {
				return fmt.Errorf("%w: bad tree sha %q", ErrBadSHA, val)
			}
			c.Tree = oid
			sawTree = true
		case "parent":
			oid, err := objhash.FromHex(val)
			if err != nil {
				return fmt.Errorf("%w: bad parent sha %q", ErrBadSHA, val)
			}
			c.Parents = append(c.Parents, oid)
		case "author":
			sig, err := ParseSignature(val)
			if err != nil {
				return err
			}
			c.Author = sig
			sawAuthor = true
		case "committer":
			sig, err := ParseSignature(val)
			if err != nil {
				return err
			}
			c.Committer = sig
			sawCommitter = true
		case "gpgsig":
			c.GPGSignature = val
		default:
			return fmt.Errorf("%w: unknown header %q", ErrMalformedHeader, pendingKey)
		}
		pendingKey = ""
		pendingVal.Reset()
		return nil
	}

	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, " ") {
			if pendingKey == "" {
				return nil, fmt.Errorf("%w: continuation without header", ErrMalformedHeader)
			}
			pendingVal.WriteByte('\n')
			pendingVal.WriteString(line[1:])
			continue
		}
		if err := flush(); err != nil {
			return nil, err
		}
		sp := strings.IndexByte(line, ' ')
		if sp < 0 {
			return nil, fmt.Errorf("%w: %q", ErrMalformedHeader, line)
		}
		pendingKey = line[:sp]
		pendingVal.WriteString(line[sp+1:])
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncatedCommit, err)
	}
	if err := flush(); err != nil {
		return nil, err
	}

	if !sawTree || !sawAuthor || !sawCommitter {
		return nil, fmt.Errorf("%w: missing required header", ErrTruncatedCommit)
	}

	c.Message = string(body)
	return c, nil
}
