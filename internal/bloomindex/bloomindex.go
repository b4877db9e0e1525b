// Package bloomindex implements a segmented bloom filter over object
// ids, used by the ingest path to answer "definitely absent / probably
// present" SHA checks cheaply (spec.md §4.9) before falling back to a
// real lookup in objstore/tieredstore.
package bloomindex

import (
	"sync"

	lru "github.com/golang/groupcache/lru"

	"github.com/odvcencio/gitcellar/internal/objhash"
)

// Result is the three-state answer Index gives for a Check.
type Result int

const (
	Absent Result = iota
	Probable
	Definite
)

func (r Result) String() string {
	switch r {
	case Definite:
		return "definite"
	case Probable:
		return "probable"
	default:
		return "absent"
	}
}

const (
	defaultFilterBits      = 1 << 20
	defaultHashCount       = 7
	defaultSegmentThreshold = 100_000
	defaultMaxSegments     = 4
	defaultExactCacheSize  = 4096
)

// Options configures segment sizing and the exact-hit cache. Zero
// values take the defaults.
type Options struct {
	FilterBits       int
	HashCount        int
	SegmentThreshold int
	MaxSegments      int
	ExactCacheSize   int
}

func (o Options) orDefault() Options {
	if o.FilterBits <= 0 {
		o.FilterBits = defaultFilterBits
	}
	if o.HashCount <= 0 {
		o.HashCount = defaultHashCount
	}
	if o.SegmentThreshold <= 0 {
		o.SegmentThreshold = defaultSegmentThreshold
	}
	if o.MaxSegments <= 0 {
		o.MaxSegments = defaultMaxSegments
	}
	if o.ExactCacheSize <= 0 {
		o.ExactCacheSize = defaultExactCacheSize
	}
	return o
}

type segment struct {
	bits  []byte
	count int
}

func newSegment(filterBits int) *segment {
	return &segment{bits: make([]byte, (filterBits+7)/8)}
}

func (s *segment) set(h1, h2 uint64, hashCount int) {
	modulus := uint64(len(s.bits) * 8)
	for i := 0; i < hashCount; i++ {
		bit := (h1 + uint64(i)*h2) % modulus
		s.bits[bit/8] |= 1 << (bit % 8)
	}
	s.count++
}

func (s *segment) test(h1, h2 uint64, hashCount int) bool {
	modulus := uint64(len(s.bits) * 8)
	for i := 0; i < hashCount; i++ {
		bit := (h1 + uint64(i)*h2) % modulus
		if s.bits[bit/8]&(1<<(bit%8)) == 0 {
			return false
		}
	}
	return true
}

// Filter is a segmented bloom filter over object ids. add() always
// writes to the newest segment; mightContain checks every segment.
// Single writer (the ingest path); a segment's backing array is never
// resized after creation, so a reader holding a snapshot of the
// segment slice can test it without additional locking.
type Filter struct {
	mu       sync.RWMutex
	opts     Options
	segments []*segment
}

func newFilter(opts Options) *Filter {
	return &Filter{
		opts:     opts,
		segments: []*segment{newSegment(opts.FilterBits)},
	}
}

// add inserts oid into the current segment, rotating to a fresh
// segment once the current one reaches SegmentThreshold entries, and
// compacting down to one segment once MaxSegments is reached.
func (f *Filter) add(oid objhash.OID) {
	f.mu.Lock()
	defer f.mu.Unlock()

	h1, h2 := hashPair(oid)
	cur := f.segments[len(f.segments)-1]
	cur.set(h1, h2, f.opts.HashCount)

	if cur.count >= f.opts.SegmentThreshold {
		f.segments = append(f.segments, newSegment(f.opts.FilterBits))
		if len(f.segments) >= f.opts.MaxSegments {
			f.compactLocked()
		}
	}
}

// compactLocked OR-s every segment's bit array into one, with
// count = sum of the component counts. This is a deliberately
// conservative false-positive estimate, not a correctness bug: OR-ing
// bits never turns a true negative into a false negative, only ever
// makes mightContain return true more often than a single segment of
// the same combined count would.
func (f *Filter) compactLocked() {
	merged := newSegment(f.opts.FilterBits)
	for _, s := range f.segments {
		for i, b := range s.bits {
			merged.bits[i] |= b
		}
		merged.count += s.count
	}
	f.segments = []*segment{merged}
}

// mightContain reports whether any segment's bits are all set for oid.
func (f *Filter) mightContain(oid objhash.OID) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	h1, h2 := hashPair(oid)
	for _, s := range f.segments {
		if s.test(h1, h2, f.opts.HashCount) {
			return true
		}
	}
	return false
}

// Index pairs the bloom filter with a small bounded LRU of recently
// added ids, giving callers a Definite answer for ids still resident
// in the exact cache without having to keep the whole added-set in
// memory (which would defeat the point of the bloom filter).
type Index struct {
	filter *Filter
	exact  *lru.Cache
	mu     sync.Mutex
}

// New returns an empty Index.
func New(opts Options) *Index {
	opts = opts.orDefault()
	return &Index{
		filter: newFilter(opts),
		exact:  lru.New(opts.ExactCacheSize),
	}
}

// Add records oid as present: it is inserted into the bloom filter and
// into the exact-hit cache.
func (idx *Index) Add(oid objhash.OID) {
	idx.filter.add(oid)
	idx.mu.Lock()
	idx.exact.Add(oid, struct{}{})
	idx.mu.Unlock()
}

// Check answers whether oid is present: Definite if oid is still in
// the exact cache, Probable if the bloom filter's bits all match,
// Absent if the bloom filter proves oid was never added.
func (idx *Index) Check(oid objhash.OID) Result {
	idx.mu.Lock()
	_, hit := idx.exact.Get(oid)
	idx.mu.Unlock()
	if hit {
		return Definite
	}
	if idx.filter.mightContain(oid) {
		return Probable
	}
	return Absent
}

// hashPair derives two independent FNV-1a variants from oid, used as
// h(i) = h1 + i·h2 mod m. h2 is forced odd and nonzero so that
// h(i) visits m/gcd(h2,m) distinct slots rather than collapsing onto a
// short cycle.
func hashPair(oid objhash.OID) (uint64, uint64) {
	h1 := fnv1a64(oid[:], fnvOffset64)
	h2 := fnv1a64(oid[:], fnvOffset64Alt)
	if h2 == 0 {
		h2 = fnv1a64(oid[:10], fnvOffset64)
	}
	if h2 == 0 {
		h2 = 0x9e3779b97f4a7c15
	}
	if h2%2 == 0 {
		h2++
	}
	return h1, h2
}

const (
	fnvOffset64    = 14695981039346656037
	fnvPrime64     = 1099511628211
	fnvOffset64Alt = fnvOffset64 ^ 0xffffffffffffffff
)

// fnv1a64 is the standard FNV-1a accumulator seeded with offset
// instead of the canonical basis, giving a second, independent hash
// from the same algorithm without pulling in a second hash family.
func fnv1a64(data []byte, offset uint64) uint64 {
	h := offset
	for _, b := range data {
		h ^= uint64(b)
		h *= fnvPrime64
	}
	return h
}
