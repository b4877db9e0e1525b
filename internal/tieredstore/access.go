package tieredstore

import (
	"sync"
	"time"

	"github.com/odvcencio/gitcellar/internal/clockutil"
	"github.com/odvcencio/gitcellar/internal/objhash"
)

// AccessStat is the per-object bookkeeping the migration policy reads:
// when the id was last touched and how often, decayed over time so
// a burst of old activity doesn't pin an object hot forever.
type AccessStat struct {
	LastAccessMs int64
	AccessCount  int64
}

// AccessTracker records per-id access recency and frequency, halving
// the count every decayWindow so access pressure fades instead of
// accumulating without bound.
type AccessTracker struct {
	mu         sync.Mutex
	clock      clockutil.Clock
	decayWindow time.Duration
	stats      map[objhash.OID]*trackedStat
}

type trackedStat struct {
	lastAccess   time.Time
	count        int64
	lastDecayAt  time.Time
}

// NewAccessTracker returns a tracker that halves each id's access
// count every decayWindow, measured against clock.
func NewAccessTracker(clock clockutil.Clock, decayWindow time.Duration) *AccessTracker {
	return &AccessTracker{
		clock:       clock,
		decayWindow: decayWindow,
		stats:       make(map[objhash.OID]*trackedStat),
	}
}

// RecordAccess registers a read/write of oid at the current clock time.
func (t *AccessTracker) RecordAccess(oid objhash.OID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	s, ok := t.stats[oid]
	if !ok {
		t.stats[oid] = &trackedStat{lastAccess: now, count: 1, lastDecayAt: now}
		return
	}
	t.decayLocked(s, now)
	s.lastAccess = now
	s.count++
}

// decayLocked halves s.count for every full decayWindow elapsed since
// its last decay point, without touching lastAccess (recency and
// frequency decay independently).
func (t *AccessTracker) decayLocked(s *trackedStat, now time.Time) {
	if t.decayWindow <= 0 {
		return
	}
	elapsed := now.Sub(s.lastDecayAt)
	halvings := int(elapsed / t.decayWindow)
	if halvings <= 0 {
		return
	}
	for i := 0; i < halvings && s.count > 0; i++ {
		s.count /= 2
	}
	s.lastDecayAt = s.lastDecayAt.Add(time.Duration(halvings) * t.decayWindow)
}

// Stat returns the decayed access stat for oid, or the zero value with
// ok=false if it has never been recorded.
func (t *AccessTracker) Stat(oid objhash.OID) (AccessStat, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.stats[oid]
	if !ok {
		return AccessStat{}, false
	}
	t.decayLocked(s, t.clock.Now())
	return AccessStat{LastAccessMs: s.lastAccess.UnixMilli(), AccessCount: s.count}, true
}

// AgeSince returns how long it has been since oid was last accessed,
// relative to the tracker's clock. An id never recorded is reported as
// infinitely old so migration policy treats it as eligible.
func (t *AccessTracker) AgeSince(oid objhash.OID) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.stats[oid]
	if !ok {
		return time.Duration(1<<62 - 1)
	}
	return t.clock.Now().Sub(s.lastAccess)
}

// Forget drops tracking state for oid, used once an object is deleted
// or has finished migrating off the tracked tier set.
func (t *AccessTracker) Forget(oid objhash.OID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.stats, oid)
}
