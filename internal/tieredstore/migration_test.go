package tieredstore

import (
	"context"
	"testing"
	"time"

	"github.com/odvcencio/gitcellar/internal/clockutil"
	"github.com/odvcencio/gitcellar/internal/gitobj"
	"github.com/odvcencio/gitcellar/internal/objstore"
	"github.com/stretchr/testify/require"
)

func TestRunCycleMigratesAgedObjectsHotToWarm(t *testing.T) {
	ctx := context.Background()
	hot := objstore.NewLoose()
	warm := objstore.NewLoose()

	fc := clockutil.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	tracker := NewAccessTracker(fc, time.Hour)
	index := NewMigrationIndex()
	store := New(hot, warm, nil, tracker, index)

	oid, err := store.Put(ctx, gitobj.KindBlob, []byte("aged object"))
	require.NoError(t, err)
	tracker.RecordAccess(oid)

	sched := NewScheduler(store, tracker, index, SchedulerOptions{
		BatchSize: 10,
		Policy:    Policy{HotToWarmAge: 30 * time.Minute},
		Clock:     fc,
	})

	fc.Advance(time.Hour)
	require.NoError(t, sched.RunCycle(ctx))

	hasHot, err := hot.Has(ctx, oid)
	require.NoError(t, err)
	require.False(t, hasHot, "object should have migrated out of hot")

	hasWarm, err := warm.Has(ctx, oid)
	require.NoError(t, err)
	require.True(t, hasWarm)

	require.Equal(t, "", string(index.AuthoritativeTier(oid)), "migration index entry cleared once stable")
}

func TestRunCycleIsIdempotentOnResume(t *testing.T) {
	ctx := context.Background()
	hot := objstore.NewLoose()
	warm := objstore.NewLoose()

	fc := clockutil.NewFake(time.Now())
	tracker := NewAccessTracker(fc, time.Hour)
	index := NewMigrationIndex()
	store := New(hot, warm, nil, tracker, index)

	oid, err := store.Put(ctx, gitobj.KindBlob, []byte("resume me"))
	require.NoError(t, err)

	// Simulate a crash that left the object already copied and
	// verified on warm, but not yet deleted from hot.
	index.set(oid, migrationRecord{state: StateSourceDelete, source: Hot, target: Warm})
	_, err = warm.Put(ctx, gitobj.KindBlob, []byte("resume me"))
	require.NoError(t, err)

	sched := NewScheduler(store, tracker, index, SchedulerOptions{BatchSize: 10, Clock: fc})
	require.NoError(t, sched.migrateOne(ctx, Hot, Warm, oid))

	hasHot, _ := hot.Has(ctx, oid)
	require.False(t, hasHot)
	hasWarm, _ := warm.Has(ctx, oid)
	require.True(t, hasWarm)
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 10 * time.Second}
	require.Equal(t, 2*time.Second, b.delay(0))
	require.Equal(t, 4*time.Second, b.delay(1))
	require.Equal(t, 10*time.Second, b.delay(10))
}

func TestReaderObservesSourceTierDuringCopying(t *testing.T) {
	ctx := context.Background()
	hot := objstore.NewLoose()
	warm := objstore.NewLoose()
	oid, err := hot.Put(ctx, gitobj.KindBlob, []byte("mid-flight"))
	require.NoError(t, err)

	index := NewMigrationIndex()
	index.set(oid, migrationRecord{state: StateCopying, source: Hot, target: Warm})
	store := New(hot, warm, nil, nil, index)

	_, data, err := store.Get(ctx, oid)
	require.NoError(t, err)
	require.Equal(t, "mid-flight", string(data))
}
