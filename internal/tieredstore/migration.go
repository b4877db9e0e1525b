package tieredstore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/odvcencio/gitcellar/internal/clockutil"
	"github.com/odvcencio/gitcellar/internal/objhash"
)

// MigrationState is where an object sits in the copy→verify→evict
// pipeline. A reader consulting the index mid-migration uses it to
// decide which tier is authoritative for that id right now.
type MigrationState string

const (
	StateStable       MigrationState = "stable"
	StateCopying      MigrationState = "copying"
	StateVerified     MigrationState = "verified"
	StateSourceDelete MigrationState = "source-delete"
)

type migrationRecord struct {
	state  MigrationState
	source Name
	target Name
}

// MigrationIndex tracks the in-flight migration state of individual
// object ids so a concurrent reader knows which tier currently holds
// the authoritative copy, and so a crashed cycle can resume instead of
// restarting (put/delete on either side are themselves idempotent).
type MigrationIndex struct {
	mu      sync.Mutex
	records map[objhash.OID]migrationRecord
}

// NewMigrationIndex returns an empty index.
func NewMigrationIndex() *MigrationIndex {
	return &MigrationIndex{records: make(map[objhash.OID]migrationRecord)}
}

// AuthoritativeTier reports which tier a reader should consult for
// oid: the source tier while copying, the target tier once the source
// copy has started being removed, or Name("") if oid isn't mid-migration
// (the caller should fall back to its normal hot→warm→cold search).
func (idx *MigrationIndex) AuthoritativeTier(oid objhash.OID) Name {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	rec, ok := idx.records[oid]
	if !ok {
		return ""
	}
	switch rec.state {
	case StateCopying, StateVerified:
		return rec.source
	case StateSourceDelete:
		return rec.target
	default:
		return ""
	}
}

func (idx *MigrationIndex) set(oid objhash.OID, rec migrationRecord) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.records[oid] = rec
}

func (idx *MigrationIndex) get(oid objhash.OID) (migrationRecord, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	rec, ok := idx.records[oid]
	return rec, ok
}

func (idx *MigrationIndex) clear(oid objhash.OID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.records, oid)
}

// Policy controls which objects migrate between tiers and when.
type Policy struct {
	HotToWarmAge  time.Duration
	WarmToColdAge time.Duration
	// HotMaxObjects bounds the hot tier by object count; once exceeded
	// the least-recently-accessed objects beyond the budget are
	// eligible for hot→warm migration even if younger than
	// HotToWarmAge (LRU eviction).
	HotMaxObjects int
}

// Backoff controls the scheduler's retry delay after a failed cycle:
// each consecutive failure doubles the delay, capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

func (b Backoff) delay(failures int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	d := b.Base
	for i := 0; i <= failures; i++ {
		d *= 2
		if b.Max > 0 && d > b.Max {
			return b.Max
		}
	}
	return d
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	CycleInterval time.Duration
	BatchSize     int
	Policy        Policy
	Backoff       Backoff
	Clock         clockutil.Clock
	Logger        *slog.Logger
}

const defaultBatchSize = 50

// Scheduler drives background hot→warm→cold migration on a timer,
// consulting the access tracker for candidates and recording
// migration progress in a MigrationIndex so a crash mid-cycle can
// resume without duplicating data (every step it takes — Put, Delete —
// is itself idempotent).
type Scheduler struct {
	store   *Store
	tracker *AccessTracker
	index   *MigrationIndex
	clock   clockutil.Clock
	opts    SchedulerOptions
	logger  *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewScheduler builds a Scheduler over store, recording migration
// progress in index (share one index with the Store's readers so they
// can consult AuthoritativeTier).
func NewScheduler(store *Store, tracker *AccessTracker, index *MigrationIndex, opts SchedulerOptions) *Scheduler {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Clock == nil {
		opts.Clock = clockutil.Real{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{store: store, tracker: tracker, index: index, clock: opts.Clock, opts: opts, logger: logger}
}

// Start begins the background migration loop; it returns immediately
// and the loop runs until Stop is called or parent is cancelled.
func (s *Scheduler) Start(parent context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.started = true
	go s.run(ctx, done)
}

// Stop halts the background loop and waits for it to exit or ctx to
// be cancelled first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	failures := 0
	for {
		timer := s.clock.NewTimer(s.nextDelay(failures))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C():
		}

		if err := s.RunCycle(ctx); err != nil {
			failures++
			s.logger.Warn("migration cycle failed", "error", err, "consecutive_failures", failures)
			continue
		}
		failures = 0
	}
}

func (s *Scheduler) nextDelay(failures int) time.Duration {
	if failures == 0 {
		return s.opts.CycleInterval
	}
	return s.opts.Backoff.delay(failures)
}

// RunCycle performs one enumerate→copy→verify→update-index→delete
// pass, bounded to opts.BatchSize objects per tier transition. It is
// safe to call directly (e.g. from tests or an operator-triggered
// admin endpoint) without Start.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	if s.store.Hot != nil && s.store.Warm != nil {
		if err := s.migrateBatch(ctx, Hot, Warm, s.hotToWarmCandidates); err != nil {
			return fmt.Errorf("tieredstore: hot->warm cycle: %w", err)
		}
	}
	if s.store.Warm != nil && s.store.Cold != nil {
		if err := s.migrateBatch(ctx, Warm, Cold, s.warmToColdCandidates); err != nil {
			return fmt.Errorf("tieredstore: warm->cold cycle: %w", err)
		}
	}
	return nil
}

func (s *Scheduler) migrateBatch(ctx context.Context, source, target Name, candidates func(ctx context.Context) ([]objhash.OID, error)) error {
	ids, err := candidates(ctx)
	if err != nil {
		return err
	}
	if len(ids) > s.opts.BatchSize {
		ids = ids[:s.opts.BatchSize]
	}
	for _, oid := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.migrateOne(ctx, source, target, oid); err != nil {
			return fmt.Errorf("migrate %s: %w", oid, err)
		}
	}
	return nil
}

// migrateOne runs the stable→copying→verified→source-delete→stable
// pipeline for a single object, resuming from whatever state it was
// left in (idempotent re-entry after a crash).
func (s *Scheduler) migrateOne(ctx context.Context, source, target Name, oid objhash.OID) error {
	sourceTier := source.tierOf(s.store)
	targetTier := target.tierOf(s.store)

	rec, ok := s.index.get(oid)
	if !ok {
		rec = migrationRecord{state: StateStable, source: source, target: target}
	}

	if rec.state == StateStable || rec.state == StateCopying {
		s.index.set(oid, migrationRecord{state: StateCopying, source: source, target: target})
		kind, data, err := sourceTier.Get(ctx, oid)
		if err != nil {
			return fmt.Errorf("read from %s: %w", source, err)
		}
		if _, err := targetTier.Put(ctx, kind, data); err != nil {
			return fmt.Errorf("write to %s: %w", target, err)
		}
		rec.state = StateVerified
		s.index.set(oid, rec)
	}

	if rec.state == StateVerified {
		ok, err := targetTier.Has(ctx, oid)
		if err != nil {
			return fmt.Errorf("verify on %s: %w", target, err)
		}
		if !ok {
			return fmt.Errorf("verify on %s: object missing after copy", target)
		}
		rec.state = StateSourceDelete
		s.index.set(oid, rec)
	}

	if rec.state == StateSourceDelete {
		if err := sourceTier.Delete(ctx, oid); err != nil {
			return fmt.Errorf("delete from %s: %w", source, err)
		}
	}

	s.index.clear(oid)
	return nil
}

func (s *Scheduler) hotToWarmCandidates(ctx context.Context) ([]objhash.OID, error) {
	return s.ageOrBudgetCandidates(ctx, s.store.Hot, s.opts.Policy.HotToWarmAge, s.opts.Policy.HotMaxObjects)
}

func (s *Scheduler) warmToColdCandidates(ctx context.Context) ([]objhash.OID, error) {
	return s.ageOrBudgetCandidates(ctx, s.store.Warm, s.opts.Policy.WarmToColdAge, 0)
}

// ageOrBudgetCandidates lists ids from tier whose last access is older
// than maxAge, plus (when maxObjects > 0) the least-recently-accessed
// ids beyond maxObjects, sorted oldest-first so the batch cap takes the
// most overdue objects.
func (s *Scheduler) ageOrBudgetCandidates(ctx context.Context, tier Tier, maxAge time.Duration, maxObjects int) ([]objhash.OID, error) {
	ch, err := tier.List(ctx)
	if err != nil {
		return nil, err
	}
	type aged struct {
		oid objhash.OID
		age time.Duration
	}
	var all []aged
	for oid := range ch {
		all = append(all, aged{oid: oid, age: s.tracker.AgeSince(oid)})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].age > all[j].age })

	seen := make(map[objhash.OID]bool)
	var out []objhash.OID
	if maxAge > 0 {
		for _, a := range all {
			if a.age >= maxAge {
				out = append(out, a.oid)
				seen[a.oid] = true
			}
		}
	}
	if maxObjects > 0 && len(all) > maxObjects {
		for _, a := range all[:len(all)-maxObjects] {
			if !seen[a.oid] {
				out = append(out, a.oid)
				seen[a.oid] = true
			}
		}
	}
	return out, nil
}
