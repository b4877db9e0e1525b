package tieredstore

import (
	"testing"
	"time"

	"github.com/odvcencio/gitcellar/internal/clockutil"
	"github.com/odvcencio/gitcellar/internal/gitobj"
	"github.com/stretchr/testify/require"
)

func TestAccessTrackerRecordsCountAndRecency(t *testing.T) {
	fc := clockutil.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	tr := NewAccessTracker(fc, time.Hour)
	oid := gitobj.Hash(gitobj.KindBlob, []byte("x"))

	_, ok := tr.Stat(oid)
	require.False(t, ok)

	tr.RecordAccess(oid)
	tr.RecordAccess(oid)
	stat, ok := tr.Stat(oid)
	require.True(t, ok)
	require.Equal(t, int64(2), stat.AccessCount)
}

func TestAccessTrackerDecaysCountOverWindows(t *testing.T) {
	fc := clockutil.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	tr := NewAccessTracker(fc, time.Hour)
	oid := gitobj.Hash(gitobj.KindBlob, []byte("y"))

	for i := 0; i < 8; i++ {
		tr.RecordAccess(oid)
	}
	stat, ok := tr.Stat(oid)
	require.True(t, ok)
	require.Equal(t, int64(8), stat.AccessCount)

	fc.Advance(2 * time.Hour)
	stat, ok = tr.Stat(oid)
	require.True(t, ok)
	require.Equal(t, int64(2), stat.AccessCount) // two halvings: 8 -> 4 -> 2
}

func TestAgeSinceUnknownIsVeryOld(t *testing.T) {
	fc := clockutil.NewFake(time.Now())
	tr := NewAccessTracker(fc, time.Hour)
	oid := gitobj.Hash(gitobj.KindBlob, []byte("never-seen"))
	require.Greater(t, tr.AgeSince(oid), 100*365*24*time.Hour)
}
