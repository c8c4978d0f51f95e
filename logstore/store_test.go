package logstore

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corelogio/logstore/logdev"
	"github.com/corelogio/logstore/logdev/memorydevice"
)

func newTestStore(t *testing.T, cfg Config) *LogStore {
	t.Helper()
	device := memorydevice.New(1)
	return NewLogStore(1, device, cfg)
}

func TestLogStoreAppendSyncThenReadSync(t *testing.T) {
	s := newTestStore(t, DefaultConfig())

	lsn, err := s.AppendSync([]byte("hello"))
	require.NoError(t, err)
	require.EqualValues(t, 1, lsn)

	payload, err := s.ReadSync(lsn)
	require.NoError(t, err)
	require.Equal(t, "hello", string(payload))
}

func TestLogStoreAppendModeRejectsExplicitWrite(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AppendMode = true
	s := newTestStore(t, cfg)

	err := s.WriteSync(1, []byte("x"))
	require.ErrorIs(t, err, ErrAppendModeRequired)
}

func TestLogStoreWriteAsyncDuplicateLSN(t *testing.T) {
	s := newTestStore(t, DefaultConfig())
	require.NoError(t, s.WriteSync(1, []byte("a")))
	err := s.WriteSync(1, []byte("b"))
	require.ErrorIs(t, err, ErrDuplicateLsn)
}

func TestLogStoreReadSyncOnTruncatedLSN(t *testing.T) {
	s := newTestStore(t, DefaultConfig())
	require.NoError(t, s.WriteSync(1, []byte("a")))
	require.NoError(t, s.Truncate(1, true))

	_, err := s.ReadSync(1)
	require.ErrorIs(t, err, ErrLsnTruncated)
}

func TestLogStoreReadSyncOnIssuedSlotHitsMemory(t *testing.T) {
	s := newTestStore(t, DefaultConfig())

	// Insert an Issued slot directly (no device completion yet) to
	// simulate a read racing an in-flight write.
	s.mu.Lock()
	require.NoError(t, s.tracker.Insert(1, SlotIssued, logdev.DeviceKey{}, logdev.NewBuffer([]byte("in-flight")), nil))
	s.mu.Unlock()

	payload, err := s.ReadSync(1)
	require.NoError(t, err, "a buffer held by an Issued slot must be readable before completion")
	require.Equal(t, "in-flight", string(payload))
}

func TestLogStoreTruncateRejectsPastCompletedCursor(t *testing.T) {
	s := newTestStore(t, DefaultConfig())

	// lsn 1 is Issued but not yet Completed.
	s.mu.Lock()
	require.NoError(t, s.tracker.Insert(1, SlotIssued, logdev.DeviceKey{}, nil, nil))
	s.mu.Unlock()

	err := s.Truncate(1, true)
	require.ErrorIs(t, err, ErrPendingIo)
}

func TestLogStoreFlushSyncHonorsExplicitUptoLSN(t *testing.T) {
	s := newTestStore(t, DefaultConfig())
	require.NoError(t, s.WriteSync(1, []byte("a")))
	require.NoError(t, s.WriteSync(2, []byte("b")))

	s.FlushSync(1)
	require.GreaterOrEqual(t, s.GetContiguousCompletedSeqNum(0), LSN(1))
}

func TestLogStoreFillGapCountsTowardContiguityButIsUnreadable(t *testing.T) {
	s := newTestStore(t, DefaultConfig())
	require.NoError(t, s.WriteSync(1, []byte("a")))
	require.NoError(t, s.FillGap(2, nil))
	require.NoError(t, s.WriteSync(3, []byte("c")))

	require.Eventually(t, func() bool {
		return s.GetContiguousCompletedSeqNum(0) >= 3
	}, time.Second, time.Millisecond)

	_, err := s.ReadSync(2)
	require.ErrorIs(t, err, ErrGap)
}

func TestLogStoreFlushSyncWaitsForCompletion(t *testing.T) {
	s := newTestStore(t, DefaultConfig())
	require.NoError(t, s.WriteSync(1, []byte("a")))
	require.NoError(t, s.WriteSync(2, []byte("b")))
	// FlushSync must not return before both writes are Completed.
	s.FlushSync(InvalidLSN)
	require.EqualValues(t, 2, s.GetContiguousCompletedSeqNum(0))
}

func TestLogStoreRollbackAsyncRejectsPendingIssued(t *testing.T) {
	s := newTestStore(t, DefaultConfig())

	// Insert an Issued slot directly (no device write, so it never
	// completes) and then ask RollbackAsync to discard it.
	var wg sync.WaitGroup
	wg.Add(1)
	blocked := make(chan struct{})
	s.mu.Lock()
	require.NoError(t, s.tracker.Insert(1, SlotIssued, logdev.DeviceKey{}, nil, nil))
	s.mu.Unlock()

	go func() {
		defer wg.Done()
		s.RollbackAsync(0, func(err error) {
			if err != nil {
				close(blocked)
			}
		})
	}()
	wg.Wait()
	select {
	case <-blocked:
	case <-time.After(time.Second):
		t.Fatal("expected RollbackAsync to reject a range with a pending issued slot")
	}
}

func TestLogStoreBootstrapRecoversAfterPriorTruncation(t *testing.T) {
	device := memorydevice.New(1)
	first := NewLogStore(1, device, DefaultConfig())
	for lsn := LSN(1); lsn <= 7; lsn++ {
		require.NoError(t, first.WriteSync(lsn, []byte("v")))
	}
	require.NoError(t, first.Truncate(2, false))
	require.NoError(t, first.Close())

	recovered := NewLogStore(1, device, DefaultConfig())
	require.NoError(t, recovered.Bootstrap())

	require.EqualValues(t, 7, recovered.GetContiguousIssuedSeqNum(0))
	require.EqualValues(t, 7, recovered.GetContiguousCompletedSeqNum(0))
	require.EqualValues(t, 2, recovered.tracker.FirstLSN())

	payload, err := recovered.ReadSync(3)
	require.NoError(t, err)
	require.Equal(t, "v", string(payload))
}
