package packindex

import (
	"sync"

	"github.com/odvcencio/gitcellar/internal/objhash"
)

// shardCount shards the aggregate object space by the first hex nibble
// of the OID, the same granularity git's own multi-pack-index uses for
// its fanout, so a lookup only ever searches 1/16th of the tracked
// packs' entries.
const shardCount = 16

func shardFor(oid objhash.OID) int {
	return int(oid.Bytes()[0] >> 4)
}

type record struct {
	packID string
	entry  Entry
}

type shard struct {
	mu        sync.RWMutex
	byOID     map[objhash.OID]record
	tombstones int
}

func newShard() *shard {
	return &shard{byOID: make(map[objhash.OID]record)}
}

// MultiIndex aggregates the pack indexes of several packfiles into one
// lookup structure, sharded by OID prefix, so that resolving an object
// doesn't require consulting every pack individually (spec.md §4.5).
type MultiIndex struct {
	shards [shardCount]*shard
}

// NewMultiIndex returns an empty multi-index.
func NewMultiIndex() *MultiIndex {
	mi := &MultiIndex{}
	for i := range mi.shards {
		mi.shards[i] = newShard()
	}
	return mi
}

// AddPack registers every object in idx as belonging to packID. If an
// object is already tracked under a different pack, the newer
// registration wins (the common case is reindexing a pack that
// superseded an older one during repack/migration).
func (mi *MultiIndex) AddPack(packID string, idx *Index) {
	for _, e := range idx.Entries() {
		s := mi.shards[shardFor(e.OID)]
		s.mu.Lock()
		s.byOID[e.OID] = record{packID: packID, entry: e}
		s.mu.Unlock()
	}
}

// RemovePack drops every entry belonging to packID. Entries are
// tombstoned by deletion from the map directly; Compact exists for a
// sharding strategy where removal is cheaper to defer (e.g. an on-disk
// shard file), and here just resets the counters since Go's map
// already reclaims the slot.
func (mi *MultiIndex) RemovePack(packID string) {
	for _, s := range mi.shards {
		s.mu.Lock()
		for oid, rec := range s.byOID {
			if rec.packID == packID {
				delete(s.byOID, oid)
				s.tombstones++
			}
		}
		s.mu.Unlock()
	}
}

// Lookup resolves oid to the pack that contains it and its entry.
func (mi *MultiIndex) Lookup(oid objhash.OID) (packID string, entry Entry, ok bool) {
	s := mi.shards[shardFor(oid)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, found := s.byOID[oid]
	if !found {
		return "", Entry{}, false
	}
	return rec.packID, rec.entry, true
}

// BatchLookup resolves many ids at once by looking each one up in turn,
// returned in the same order as oids.
func (mi *MultiIndex) BatchLookup(oids []objhash.OID) (packIDs []string, entries []Entry, found []bool) {
	packIDs = make([]string, len(oids))
	entries = make([]Entry, len(oids))
	found = make([]bool, len(oids))
	for i, oid := range oids {
		packIDs[i], entries[i], found[i] = mi.Lookup(oid)
	}
	return packIDs, entries, found
}

// ShardStats reports per-shard live-entry and tombstone counts, for
// callers deciding when to Compact.
type ShardStats struct {
	Live       int
	Tombstones int
}

// Stats returns per-shard bookkeeping counters.
func (mi *MultiIndex) Stats() [shardCount]ShardStats {
	var out [shardCount]ShardStats
	for i, s := range mi.shards {
		s.mu.RLock()
		out[i] = ShardStats{Live: len(s.byOID), Tombstones: s.tombstones}
		s.mu.RUnlock()
	}
	return out
}

// AllOIDs returns every object id currently tracked, across all shards,
// in no particular order.
func (mi *MultiIndex) AllOIDs() []objhash.OID {
	var out []objhash.OID
	for _, s := range mi.shards {
		s.mu.RLock()
		for oid := range s.byOID {
			out = append(out, oid)
		}
		s.mu.RUnlock()
	}
	return out
}

// Compact resets a shard's tombstone counter once its backing map has
// been rebuilt (map deletion in Go already reclaims entries eagerly, so
// this just clears the fragmentation signal RemovePack accumulated).
func (mi *MultiIndex) Compact() {
	for _, s := range mi.shards {
		s.mu.Lock()
		s.tombstones = 0
		s.mu.Unlock()
	}
}
