package logstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corelogio/logstore/logdev"
)

func TestStreamTrackerContiguityAdvancesOnlyOnImmediateSuccessor(t *testing.T) {
	tr := NewStreamTracker(0, 8)
	require.NoError(t, tr.Insert(1, SlotIssued, logdev.DeviceKey{}, nil, nil))
	require.EqualValues(t, 1, tr.ContiguousIssuedUpto())

	// Skipping ahead to 3 must not advance the cursor past 1.
	require.NoError(t, tr.Insert(3, SlotIssued, logdev.DeviceKey{}, nil, nil))
	require.EqualValues(t, 1, tr.ContiguousIssuedUpto())

	require.NoError(t, tr.Insert(2, SlotIssued, logdev.DeviceKey{}, nil, nil))
	require.EqualValues(t, 3, tr.ContiguousIssuedUpto())
}

func TestStreamTrackerCompleteAdvancesCompletedCursor(t *testing.T) {
	tr := NewStreamTracker(0, 8)
	require.NoError(t, tr.Insert(1, SlotIssued, logdev.DeviceKey{}, nil, nil))
	require.NoError(t, tr.Insert(2, SlotIssued, logdev.DeviceKey{}, nil, nil))
	require.EqualValues(t, 0, tr.ContiguousCompletedUpto())

	_, err := tr.Complete(2, logdev.NewDeviceKey(1, 2))
	require.NoError(t, err)
	require.EqualValues(t, 0, tr.ContiguousCompletedUpto(), "lsn 1 still outstanding")

	_, err = tr.Complete(1, logdev.NewDeviceKey(1, 1))
	require.NoError(t, err)
	require.EqualValues(t, 2, tr.ContiguousCompletedUpto())
}

func TestStreamTrackerCompleteIsIdempotent(t *testing.T) {
	tr := NewStreamTracker(0, 8)
	require.NoError(t, tr.Insert(1, SlotIssued, logdev.DeviceKey{}, nil, nil))
	key := logdev.NewDeviceKey(1, 1)
	_, err := tr.Complete(1, key)
	require.NoError(t, err)
	slot, err := tr.Complete(1, logdev.NewDeviceKey(1, 99))
	require.NoError(t, err)
	require.Equal(t, key, slot.Key, "a repeated completion must not overwrite the recorded key")
}

func TestStreamTrackerGapFillCountsAsCompleted(t *testing.T) {
	tr := NewStreamTracker(0, 8)
	require.NoError(t, tr.Insert(1, SlotGapFilled, logdev.DeviceKey{}, nil, nil))
	require.EqualValues(t, 1, tr.ContiguousCompletedUpto())
	require.EqualValues(t, 1, tr.ContiguousIssuedUpto())
}

func TestStreamTrackerInsertBelowAnchorFails(t *testing.T) {
	tr := NewStreamTracker(5, 8)
	err := tr.Insert(5, SlotIssued, logdev.DeviceKey{}, nil, nil)
	require.ErrorIs(t, err, ErrLsnTruncated)
	err = tr.Insert(3, SlotIssued, logdev.DeviceKey{}, nil, nil)
	require.ErrorIs(t, err, ErrLsnTruncated)
}

func TestStreamTrackerDuplicateInsertFails(t *testing.T) {
	tr := NewStreamTracker(0, 8)
	require.NoError(t, tr.Insert(1, SlotIssued, logdev.DeviceKey{}, nil, nil))
	err := tr.Insert(1, SlotIssued, logdev.DeviceKey{}, nil, nil)
	require.ErrorIs(t, err, ErrDuplicateLsn)
}

func TestStreamTrackerTruncatePrefixReleasesBuffers(t *testing.T) {
	tr := NewStreamTracker(0, 8)
	buf := logdev.NewBuffer([]byte("hello"))
	require.NoError(t, tr.Insert(1, SlotCompleted, logdev.NewDeviceKey(1, 1), buf, nil))
	tr.TruncatePrefix(1)
	require.EqualValues(t, 0, buf.Holders(), "truncation must release the slot's buffer")
	require.EqualValues(t, 1, tr.FirstLSN())
	_, ok := tr.Get(1)
	require.False(t, ok, "truncated slot must no longer be visible")
}

func TestStreamTrackerForeachFromSkipsIssuedAndGaps(t *testing.T) {
	tr := NewStreamTracker(0, 8)
	require.NoError(t, tr.Insert(1, SlotCompleted, logdev.NewDeviceKey(1, 1), logdev.NewBuffer([]byte("a")), nil))
	require.NoError(t, tr.Insert(2, SlotGapFilled, logdev.DeviceKey{}, nil, nil))
	require.NoError(t, tr.Insert(3, SlotIssued, logdev.DeviceKey{}, logdev.NewBuffer([]byte("c")), nil))
	require.NoError(t, tr.Insert(4, SlotCompleted, logdev.NewDeviceKey(1, 4), logdev.NewBuffer([]byte("d")), nil))
	_, _ = tr.Complete(4, logdev.NewDeviceKey(1, 4))

	var seen []LSN
	tr.ForeachFrom(0, func(lsn LSN, slot *RecordSlot) bool {
		seen = append(seen, lsn)
		return true
	})
	require.Equal(t, []LSN{1}, seen, "lsn 2 is gap-filled (skipped) and lsn 4 is beyond the completed cursor")
}

func TestStreamTrackerResetForRollbackClampsCursors(t *testing.T) {
	tr := NewStreamTracker(0, 8)
	for lsn := LSN(1); lsn <= 5; lsn++ {
		require.NoError(t, tr.Insert(lsn, SlotCompleted, logdev.NewDeviceKey(1, uint64(lsn)), nil, nil))
	}
	tr.ResetForRollback(3)
	require.EqualValues(t, 3, tr.ContiguousIssuedUpto())
	require.EqualValues(t, 3, tr.ContiguousCompletedUpto())
	require.EqualValues(t, 3, tr.HighestSeen())
	_, ok := tr.Get(4)
	require.False(t, ok)
}

func TestStreamTrackerHasPendingIssued(t *testing.T) {
	tr := NewStreamTracker(0, 8)
	require.NoError(t, tr.Insert(1, SlotCompleted, logdev.NewDeviceKey(1, 1), nil, nil))
	require.NoError(t, tr.Insert(2, SlotIssued, logdev.DeviceKey{}, nil, nil))
	require.True(t, tr.HasPendingIssued(0, 2))
	require.False(t, tr.HasPendingIssued(0, 1))
}

func TestStreamTrackerRebaseAndRecomputeCursorsAfterRecovery(t *testing.T) {
	// Simulates spec scenario 6: a prior truncation at lsn 2, then
	// recovery replays lsns 3..7 into a tracker still anchored at 0.
	tr := NewStreamTracker(0, 8)
	for lsn := LSN(3); lsn <= 7; lsn++ {
		require.NoError(t, tr.Insert(lsn, SlotCompleted, logdev.NewDeviceKey(1, uint64(lsn)), nil, nil))
	}
	// Before rebasing, the window's contiguity math is meaningless since
	// the anchor doesn't reflect the true recovered boundary.
	require.EqualValues(t, 0, tr.ContiguousIssuedUpto())

	tr.Rebase(2)
	tr.RecomputeCursors()

	require.EqualValues(t, 2, tr.FirstLSN())
	require.EqualValues(t, 7, tr.ContiguousIssuedUpto())
	require.EqualValues(t, 7, tr.ContiguousCompletedUpto())
}

func TestStreamTrackerRecomputeCursorsStopsAtFirstGap(t *testing.T) {
	tr := NewStreamTracker(0, 8)
	require.NoError(t, tr.Insert(1, SlotCompleted, logdev.NewDeviceKey(1, 1), nil, nil))
	require.NoError(t, tr.Insert(3, SlotCompleted, logdev.NewDeviceKey(1, 3), nil, nil))
	tr.RecomputeCursors()
	require.EqualValues(t, 1, tr.ContiguousIssuedUpto())
	require.EqualValues(t, 1, tr.ContiguousCompletedUpto())
}
