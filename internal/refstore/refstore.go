// Package refstore implements the git ref store (spec.md §4.6): direct
// and symbolic refs, HEAD, packed-refs, and compare-and-set updates
// serialized per ref name.
package refstore

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/odvcencio/gitcellar/internal/objhash"
)

var (
	ErrNotFound     = errors.New("refstore: ref not found")
	ErrCircularRef  = errors.New("refstore: circular symbolic ref")
	ErrInvalidName  = errors.New("refstore: invalid ref name")
	ErrCASMismatch  = &CASError{}
)

// CASError is returned when a compare-and-set ref update's expected
// value doesn't match the ref's current value.
type CASError struct {
	Name     string
	Expected objhash.OID
	Actual   objhash.OID
	HadValue bool
}

func (e *CASError) Error() string {
	if !e.HadValue {
		return fmt.Sprintf("refstore: ref %s does not exist (expected %s)", e.Name, e.Expected)
	}
	return fmt.Sprintf("refstore: stale ref %s (expected %s, got %s)", e.Name, e.Expected, e.Actual)
}

func (e *CASError) Is(target error) bool {
	_, ok := target.(*CASError)
	return ok
}

// Backend is the storage collaborator a Store reads and writes loose
// refs and packed-refs through. A filesystem implementation is provided
// by FSBackend; a KVStore-backed implementation can satisfy the same
// interface for non-filesystem deployments.
type Backend interface {
	ReadRef(name string) (data []byte, ok bool, err error)
	WriteRefAtomic(name string, data []byte) error
	DeleteRef(name string) error
	ListRefNames(prefix string) ([]string, error)
	ReadPackedRefs() (data []byte, ok bool, err error)
}

// Store is the ref store: it resolves symbolic chains, applies CAS
// updates, and serializes concurrent writers to the same ref name.
type Store struct {
	backend Backend

	mu        sync.Mutex // guards refLocks map itself
	refLocks  map[string]*sync.Mutex
	packedMu  sync.Mutex // file-scope lock for packed-refs rewrites
}

// New returns a Store over backend.
func New(backend Backend) *Store {
	return &Store{backend: backend, refLocks: make(map[string]*sync.Mutex)}
}

func (s *Store) lockFor(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.refLocks[name]
	if !ok {
		l = &sync.Mutex{}
		s.refLocks[name] = l
	}
	return l
}

// Ref is a resolved reference: either a direct pointer to an object id,
// or symbolic, pointing at another ref by name.
type Ref struct {
	Name      string
	Symbolic  bool
	Target    objhash.OID // valid when !Symbolic
	SymTarget string      // valid when Symbolic
}

func isValidRefName(name string) bool {
	if name == "" || name == "HEAD" {
		return name == "HEAD"
	}
	return strings.HasPrefix(name, "refs/heads/") ||
		strings.HasPrefix(name, "refs/tags/") ||
		strings.HasPrefix(name, "refs/remotes/")
}

const symRefPrefix = "ref: "

func parseRefContent(name string, data []byte) (Ref, error) {
	line := strings.TrimSpace(string(data))
	if strings.HasPrefix(line, symRefPrefix) {
		return Ref{Name: name, Symbolic: true, SymTarget: strings.TrimSpace(line[len(symRefPrefix):])}, nil
	}
	oid, err := objhash.FromHex(line)
	if err != nil {
		return Ref{}, fmt.Errorf("%w: ref %s content %q", ErrInvalidName, name, line)
	}
	return Ref{Name: name, Target: oid}, nil
}

func encodeRefContent(r Ref) []byte {
	if r.Symbolic {
		return []byte(symRefPrefix + r.SymTarget + "\n")
	}
	return []byte(r.Target.String() + "\n")
}

// GetRef reads a single ref's immediate content, without following a
// symbolic target.
func (s *Store) GetRef(name string) (Ref, error) {
	data, ok, err := s.backend.ReadRef(name)
	if err != nil {
		return Ref{}, err
	}
	if ok {
		return parseRefContent(name, data)
	}
	// fall back to packed-refs for refs/heads, refs/tags, etc.
	packed, err := s.readPackedRefs()
	if err != nil {
		return Ref{}, err
	}
	if oid, ok := packed.direct[name]; ok {
		return Ref{Name: name, Target: oid}, nil
	}
	return Ref{}, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Resolve follows symbolic refs (breadth-first via an explicit visited
// set) until it reaches a direct ref, returning the final object id and
// the chain of ref names visited (including the starting name).
func (s *Store) Resolve(name string) (objhash.OID, []string, error) {
	visited := make(map[string]bool)
	chain := []string{}
	cur := name
	for {
		if visited[cur] {
			return objhash.OID{}, chain, fmt.Errorf("%w: %s", ErrCircularRef, name)
		}
		visited[cur] = true
		chain = append(chain, cur)

		ref, err := s.GetRef(cur)
		if err != nil {
			return objhash.OID{}, chain, err
		}
		if !ref.Symbolic {
			return ref.Target, chain, nil
		}
		cur = ref.SymTarget
	}
}

// CASResult reports the outcome of a SetRef call.
type CASResult struct {
	Updated  bool
	Previous objhash.OID
	HadValue bool
}

// SetRef performs a compare-and-set update of a direct ref. If expected
// is non-nil, the update only applies when the ref's current direct
// value equals *expected (a non-existent ref matches only Zero);
// concurrent writers to the same name are serialized.
func (s *Store) SetRef(name string, newValue objhash.OID, expected *objhash.OID) (CASResult, error) {
	if !isValidRefName(name) {
		return CASResult{}, fmt.Errorf("%w: %s", ErrInvalidName, name)
	}
	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	cur, hadValue, err := s.currentDirect(name)
	if err != nil {
		return CASResult{}, err
	}
	if expected != nil {
		if hadValue && cur != *expected {
			return CASResult{}, &CASError{Name: name, Expected: *expected, Actual: cur, HadValue: true}
		}
		if !hadValue && !expected.IsZero() {
			return CASResult{}, &CASError{Name: name, Expected: *expected, HadValue: false}
		}
	}

	if err := s.backend.WriteRefAtomic(name, encodeRefContent(Ref{Name: name, Target: newValue})); err != nil {
		return CASResult{}, err
	}
	return CASResult{Updated: true, Previous: cur, HadValue: hadValue}, nil
}

// DeleteRef removes a ref, optionally gated by an expected current
// value (the same CAS semantics as SetRef).
func (s *Store) DeleteRef(name string, expected *objhash.OID) error {
	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	cur, hadValue, err := s.currentDirect(name)
	if err != nil {
		return err
	}
	if expected != nil && hadValue && cur != *expected {
		return &CASError{Name: name, Expected: *expected, Actual: cur, HadValue: true}
	}
	if expected != nil && !hadValue && !expected.IsZero() {
		return &CASError{Name: name, Expected: *expected, HadValue: false}
	}
	return s.backend.DeleteRef(name)
}

// currentDirect reads name's current direct value without following
// symbolic refs; a symbolic ref is an error — ref updates always target
// direct refs (receive-pack never pushes to a symbolic ref directly).
func (s *Store) currentDirect(name string) (objhash.OID, bool, error) {
	ref, err := s.GetRef(name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return objhash.OID{}, false, nil
		}
		return objhash.OID{}, false, err
	}
	if ref.Symbolic {
		return objhash.OID{}, false, fmt.Errorf("refstore: %s is symbolic, cannot CAS directly", name)
	}
	return ref.Target, true, nil
}

// ListRefs returns every direct/symbolic ref name under prefix (loose
// and packed, deduplicated with loose winning).
func (s *Store) ListRefs(prefix string) ([]string, error) {
	looseNames, err := s.backend.ListRefNames(prefix)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(looseNames))
	names := append([]string(nil), looseNames...)
	for _, n := range names {
		seen[n] = true
	}
	packed, err := s.readPackedRefs()
	if err != nil {
		return nil, err
	}
	for n := range packed.direct {
		if strings.HasPrefix(n, prefix) && !seen[n] {
			names = append(names, n)
			seen[n] = true
		}
	}
	return names, nil
}

// GetHead returns HEAD's resolved object id and its chain.
func (s *Store) GetHead() (objhash.OID, []string, error) {
	return s.Resolve("HEAD")
}

// IsHeadDetached reports whether HEAD is a direct ref rather than
// symbolic (the common case is symbolic, pointing at a branch).
func (s *Store) IsHeadDetached() (bool, error) {
	ref, err := s.GetRef("HEAD")
	if err != nil {
		return false, err
	}
	return !ref.Symbolic, nil
}

type packedRefs struct {
	direct map[string]objhash.OID
	peeled map[string]objhash.OID
}

func (s *Store) readPackedRefs() (*packedRefs, error) {
	data, ok, err := s.backend.ReadPackedRefs()
	if err != nil {
		return nil, err
	}
	pr := &packedRefs{direct: map[string]objhash.OID{}, peeled: map[string]objhash.OID{}}
	if !ok {
		return pr, nil
	}
	return ParsePackedRefs(data)
}

// ParsePackedRefs parses the `packed-refs` text format: `<sha> <name>`
// lines, an optional leading `#`-comment, and `^<peeled-sha>` lines that
// peel the immediately preceding tag line to its target commit.
func ParsePackedRefs(data []byte) (*packedRefs, error) {
	pr := &packedRefs{direct: map[string]objhash.OID{}, peeled: map[string]objhash.OID{}}
	sc := bufio.NewScanner(bytes.NewReader(data))
	var lastName string
	for sc.Scan() {
		line := sc.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "^") {
			oid, err := objhash.FromHex(line[1:])
			if err != nil {
				return nil, fmt.Errorf("refstore: bad peeled sha %q: %w", line, err)
			}
			if lastName != "" {
				pr.peeled[lastName] = oid
			}
			continue
		}
		parts := strings.Fields(line)
		if len(parts) != 2 {
			return nil, fmt.Errorf("refstore: malformed packed-refs line %q", line)
		}
		oid, err := objhash.FromHex(parts[0])
		if err != nil {
			return nil, fmt.Errorf("refstore: bad sha %q: %w", parts[0], err)
		}
		pr.direct[parts[1]] = oid
		lastName = parts[1]
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return pr, nil
}
