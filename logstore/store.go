// Package logstore implements the per-stream append-only log abstraction
// layered on top of a logdev.LogDevice. Each LogStore owns one stream's
// StreamTracker and TruncationState; the device is the only shared
// collaborator.
package logstore

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/corelogio/logstore/logdev"
)

// ReqCompletionFunc is invoked once per write/append: synchronously from
// the device's own completion goroutine for a submitted write, or from a
// separate goroutine started by the store for a precondition failure.
// cookie is whatever the caller passed to WriteAsync/AppendAsync.
type ReqCompletionFunc func(lsn LSN, cookie any, err error)

// ReadCompletionFunc delivers the result of ReadAsync.
type ReadCompletionFunc func(lsn LSN, payload []byte, cookie any, err error)

// LogFoundCB is the recovery upcall: fired once per surviving record, in
// ascending LSN order, during Bootstrap.
type LogFoundCB func(lsn LSN, payload []byte)

// LogStore is the public per-stream API described in spec.md. A LogStore
// is not safe to use until either NewLogStore (fresh) or Bootstrap
// (recovery) has run; after Close every operation that reports an error
// returns ErrClosed.
type LogStore struct {
	storeID uint64
	device  logdev.LogDevice
	cfg     Config

	nextSeqNum atomic.Int64

	mu      sync.Mutex
	tracker *StreamTracker
	trunc   *TruncationState

	compCB      ReqCompletionFunc
	foundCB     LogFoundCB
	replayDone  func()
	flushWaiter *flushWaiter

	issuedUptoAtomic    atomic.Int64
	completedUptoAtomic atomic.Int64
	truncatedUptoAtomic atomic.Int64
	flushBatchMaxLSN    atomic.Int64

	closed atomic.Bool

	// firstSeenLSN tracks the lowest LSN observed during Bootstrap replay,
	// used to rebase the tracker's window once replay completes.
	firstSeenLSN LSN
	sawAny       bool
}

// NewLogStore creates a fresh store with no history, anchored at
// cfg.StartLSN.
func NewLogStore(storeID uint64, device logdev.LogDevice, cfg Config) *LogStore {
	s := &LogStore{
		storeID:     storeID,
		device:      device,
		cfg:         cfg,
		tracker:     NewStreamTracker(cfg.StartLSN, cfg.TrackerWindowHint),
		trunc:       NewTruncationState(),
		flushWaiter: newFlushWaiter(),
	}
	s.nextSeqNum.Store(int64(cfg.StartLSN) + 1)
	s.truncatedUptoAtomic.Store(s.trunc.TruncatedUptoLSN())
	s.flushBatchMaxLSN.Store(InvalidLSN)
	device.RegisterBatchCompletionCB(storeID, s.onBatchCompletion)
	return s
}

// RegisterReqCompCB installs the completion callback fired by every
// write_async / append_async.
func (s *LogStore) RegisterReqCompCB(cb ReqCompletionFunc) {
	s.mu.Lock()
	s.compCB = cb
	s.mu.Unlock()
}

// RegisterLogFoundCB installs the upcall Bootstrap fires per surviving
// record during replay.
func (s *LogStore) RegisterLogFoundCB(cb LogFoundCB) {
	s.mu.Lock()
	s.foundCB = cb
	s.mu.Unlock()
}

// RegisterLogReplayDoneCB installs the callback fired once Bootstrap's
// replay sweep and cursor recomputation finish.
func (s *LogStore) RegisterLogReplayDoneCB(cb func()) {
	s.mu.Lock()
	s.replayDone = cb
	s.mu.Unlock()
}

// GetStoreID returns the store's identifier within its device.
func (s *LogStore) GetStoreID() uint64 { return s.storeID }

// publishCursors copies the tracker/truncation state into the lock-free
// atomic mirrors. Must be called with mu held.
func (s *LogStore) publishCursors() {
	s.issuedUptoAtomic.Store(s.tracker.ContiguousIssuedUpto())
	s.completedUptoAtomic.Store(s.tracker.ContiguousCompletedUpto())
	s.truncatedUptoAtomic.Store(s.trunc.TruncatedUptoLSN())
}

// SeqNum returns the next sequence number append_async would assign,
// without reserving it.
func (s *LogStore) SeqNum() LSN { return s.nextSeqNum.Load() }

// GetContiguousIssuedSeqNum is the lock-free read path for spec.md
// §4.1's get_contiguous_issued_seq_num; from is only consulted as a
// floor when the mirror hasn't advanced that far yet.
func (s *LogStore) GetContiguousIssuedSeqNum(from LSN) LSN {
	v := s.issuedUptoAtomic.Load()
	if from > v {
		return from
	}
	return v
}

// GetContiguousCompletedSeqNum is the completed-cursor analogue.
func (s *LogStore) GetContiguousCompletedSeqNum(from LSN) LSN {
	v := s.completedUptoAtomic.Load()
	if from > v {
		return from
	}
	return v
}

// TruncatedUpto returns the last LSN known truncated, or -1 if none.
func (s *LogStore) TruncatedUpto() LSN {
	return s.truncatedUptoAtomic.Load()
}

// WriteAsync submits payload at an explicit lsn. Disallowed when the
// store is configured for append_mode (use AppendAsync instead).
func (s *LogStore) WriteAsync(lsn LSN, payload []byte, cookie any) error {
	if s.cfg.AppendMode {
		return s.failWrite(lsn, cookie, ErrAppendModeRequired)
	}
	return s.writeAsyncInner(lsn, payload, cookie)
}

// AppendAsync assigns the next sequence number and submits payload under
// it, returning the assigned LSN immediately (the write itself is still
// asynchronous).
func (s *LogStore) AppendAsync(payload []byte, cookie any) (LSN, error) {
	lsn := LSN(s.nextSeqNum.Add(1) - 1)
	if err := s.writeAsyncInner(lsn, payload, cookie); err != nil {
		return lsn, err
	}
	return lsn, nil
}

// writeAsyncInner holds the shared precondition-check-and-submit logic
// between WriteAsync and AppendAsync. On precondition failure the error
// is both returned synchronously and delivered to the completion
// callback, so *_sync wrappers can unconditionally wait on the waiter.
func (s *LogStore) writeAsyncInner(lsn LSN, payload []byte, cookie any) error {
	if s.closed.Load() {
		return s.failWrite(lsn, cookie, ErrClosed)
	}

	buf := logdev.NewBuffer(payload)

	s.mu.Lock()
	if err := s.tracker.Insert(lsn, SlotIssued, logdev.DeviceKey{}, buf, cookie); err != nil {
		s.mu.Unlock()
		return s.failWrite(lsn, cookie, err)
	}
	s.publishCursors()
	s.mu.Unlock()

	s.device.Write(s.storeID, int64(lsn), buf, cookie, s.onWriteCompletion)
	return nil
}

// failWrite reports a precondition failure through the registered
// completion callback (matching spec.md §7's "every error surfaces
// through its completion path") in addition to returning it. A cookie
// belonging to a *_sync waiter is completed directly, independent of
// whatever external callback is currently registered.
func (s *LogStore) failWrite(lsn LSN, cookie any, err error) error {
	s.mu.Lock()
	cb := s.compCB
	s.mu.Unlock()
	if sc, ok := cookie.(syncCompleter); ok {
		go sc.complete(err)
	}
	if cb != nil {
		go cb(lsn, cookie, err)
	}
	return err
}

// onWriteCompletion is handed to the device as the WriteCompletionFunc
// for every write this store issues. It always delivers to a *_sync
// waiter directly (via cookie, per spec.md §9's per-call waiter
// requirement) and separately to whatever external callback
// RegisterReqCompCB currently has installed, so the two never contend
// over a single callback slot.
func (s *LogStore) onWriteCompletion(storeID uint64, lsn int64, key logdev.DeviceKey, cookie any, ioErr error) {
	s.mu.Lock()
	var err error
	if ioErr != nil {
		err = fmt.Errorf("%w: %v", ErrDeviceIo, ioErr)
	} else {
		_, err = s.tracker.Complete(LSN(lsn), key)
	}
	if err == nil {
		s.publishCursors()
	}
	cb := s.compCB
	s.mu.Unlock()

	if sc, ok := cookie.(syncCompleter); ok {
		sc.complete(err)
	}
	if cb != nil {
		cb(LSN(lsn), cookie, err)
	}
	s.flushWaiter.broadcast()
}

// WriteSync is the blocking analogue of WriteAsync.
func (s *LogStore) WriteSync(lsn LSN, payload []byte) error {
	return s.writeSyncInner(lsn, payload, false)
}

// AppendSync is the blocking analogue of AppendAsync.
func (s *LogStore) AppendSync(payload []byte) (LSN, error) {
	lsn := LSN(s.nextSeqNum.Add(1) - 1)
	err := s.writeSyncInner(lsn, payload, true)
	return lsn, err
}

// writeSyncInner installs a dedicated one-shot waiter for this call
// (per spec.md §9, never shared across concurrent callers) as the
// write's cookie and blocks for its completion. onWriteCompletion and
// failWrite dispatch to it directly, so overlapping *_sync callers never
// contend over the store's single externally registered callback slot.
func (s *LogStore) writeSyncInner(lsn LSN, payload []byte, isAppend bool) error {
	w := newWriteWaiter()

	if isAppend || !s.cfg.AppendMode {
		_ = s.writeAsyncInner(lsn, payload, w)
	} else {
		_ = s.failWrite(lsn, w, ErrAppendModeRequired)
	}

	return w.wait()
}

// ReadAsync fetches the payload stored at lsn.
func (s *LogStore) ReadAsync(lsn LSN, cookie any, cb ReadCompletionFunc) {
	if s.closed.Load() {
		if cb != nil {
			go cb(lsn, nil, cookie, ErrClosed)
		}
		return
	}

	s.mu.Lock()
	slot, ok := s.tracker.Get(lsn)
	truncatedFloor := s.trunc.TruncatedUptoLSN()
	s.mu.Unlock()

	if lsn <= truncatedFloor {
		if cb != nil {
			go cb(lsn, nil, cookie, ErrLsnTruncated)
		}
		return
	}
	if !ok {
		if cb != nil {
			go cb(lsn, nil, cookie, ErrNotFound)
		}
		return
	}
	if slot.State == SlotGapFilled {
		if cb != nil {
			go cb(lsn, nil, cookie, ErrGap)
		}
		return
	}
	// A buffer is held from write submission until completion's user
	// callback has returned, per spec.md §3 invariant 3, so a read-after-
	// write hits memory even while the slot is still Issued.
	if slot.Buf != nil {
		if cb != nil {
			go cb(lsn, slot.Buf.Bytes(), cookie, nil)
		}
		return
	}
	if slot.State != SlotCompleted {
		if cb != nil {
			go cb(lsn, nil, cookie, ErrPendingIo)
		}
		return
	}

	// Buffer was evicted from memory; fall back to the device using its
	// recorded key.
	key := slot.Key
	s.device.Read(key, func(buf *logdev.Buffer, err error) {
		if cb == nil {
			return
		}
		if err != nil {
			cb(lsn, nil, cookie, fmt.Errorf("%w: %v", ErrDeviceIo, err))
			return
		}
		cb(lsn, buf.Bytes(), cookie, nil)
	})
}

// ReadSync is the blocking analogue of ReadAsync.
func (s *LogStore) ReadSync(lsn LSN) ([]byte, error) {
	w := newReadWaiter()
	s.ReadAsync(lsn, nil, func(_ LSN, payload []byte, _ any, err error) {
		w.complete(payload, err)
	})
	return w.wait()
}

// Foreach walks every completed record with fromLSN < lsn <= the
// contiguous completed cursor in ascending order, stopping early if cb
// returns false. Completed records above the cursor are not visited.
func (s *LogStore) Foreach(fromLSN LSN, cb func(lsn LSN, payload []byte) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracker.ForeachFrom(fromLSN, func(lsn LSN, slot *RecordSlot) bool {
		var payload []byte
		if slot.Buf != nil {
			payload = slot.Buf.Bytes()
		}
		return cb(lsn, payload)
	})
}

// FillGap records lsn as deliberately skipped: it counts toward
// contiguity but is never readable. The gap is also written to the device
// as a fire-and-forget empty-payload record. Bootstrap replays any such
// record as a Completed slot with an empty payload: the gap state itself
// is not restored by recovery.
func (s *LogStore) FillGap(lsn LSN, cookie any) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	err := s.tracker.Insert(lsn, SlotGapFilled, logdev.DeviceKey{}, nil, cookie)
	if err == nil {
		s.publishCursors()
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.device.Write(s.storeID, int64(lsn), logdev.NewBuffer(nil), cookie, func(_ uint64, wlsn int64, key logdev.DeviceKey, _ any, ioErr error) {
		if ioErr != nil {
			return
		}
		s.mu.Lock()
		if slot, ok := s.tracker.Get(LSN(wlsn)); ok && slot.State == SlotGapFilled {
			slot.Key = key
		}
		s.mu.Unlock()
	})
	s.flushWaiter.broadcast()
	return nil
}

// Truncate advances the store's truncation boundary to uptoLSN. When
// inMemoryOnly is true (the common case under an owning storemanager
// coordinating truncation across many streams), only phase 1 runs and
// the device is untouched until the manager later drives phase 2
// itself. When false, this call performs both phases immediately.
//
// Per spec.md §4.5 Phase 1's precondition, uptoLSN must not exceed the
// contiguous completed cursor: truncating past it would mark still-
// Issued slots Truncated and release their buffers before the device
// ever acknowledges them.
func (s *LogStore) Truncate(uptoLSN LSN, inMemoryOnly bool) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	if uptoLSN > s.tracker.ContiguousCompletedUpto() {
		s.mu.Unlock()
		return ErrPendingIo
	}
	slot, hasSlot := s.tracker.Get(uptoLSN)
	var key logdev.DeviceKey
	if hasSlot {
		key = slot.Key
	}
	s.tracker.TruncatePrefix(uptoLSN)
	s.trunc.RecordPhase1(uptoLSN, key)
	s.publishCursors()
	s.mu.Unlock()

	if inMemoryOnly {
		return nil
	}
	return s.forceDeviceTruncation()
}

// forceDeviceTruncation drives phase 2 of truncation directly against
// the device, reusing the same TruncationState bookkeeping a
// storemanager would otherwise perform across many stores at once.
func (s *LogStore) forceDeviceTruncation() error {
	s.mu.Lock()
	key, ok := s.trunc.PreDeviceTruncation()
	s.mu.Unlock()
	if !ok {
		return nil
	}

	if err := s.device.Truncate(key); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceIo, err)
	}

	s.mu.Lock()
	s.trunc.PostDeviceTruncation(key)
	s.mu.Unlock()
	return nil
}

// PreDeviceTruncation exposes this store's oldest outstanding barrier to
// an owning storemanager computing a cross-stream safe-truncation point.
func (s *LogStore) PreDeviceTruncation() (logdev.DeviceKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trunc.PreDeviceTruncation()
}

// PostDeviceTruncation is called by an owning storemanager once it has
// driven the device truncation corresponding to a prior
// PreDeviceTruncation call across every store sharing the device.
func (s *LogStore) PostDeviceTruncation(truncKey logdev.DeviceKey) {
	s.mu.Lock()
	s.trunc.PostDeviceTruncation(truncKey)
	s.mu.Unlock()
}

// RollbackAsync discards every record above toLSN. It fails with
// ErrPendingIo if any LSN in the discarded range is still Issued
// (in-flight writes must complete or fail first).
func (s *LogStore) RollbackAsync(toLSN LSN, cb func(err error)) {
	if s.closed.Load() {
		if cb != nil {
			go cb(ErrClosed)
		}
		return
	}

	s.mu.Lock()
	if s.tracker.HasPendingIssued(toLSN, s.tracker.HighestSeen()) {
		s.mu.Unlock()
		if cb != nil {
			go cb(ErrPendingIo)
		}
		return
	}
	s.mu.Unlock()

	s.device.Rollback(s.storeID, int64(toLSN), func(err error) {
		if err == nil {
			s.mu.Lock()
			s.tracker.ResetForRollback(toLSN)
			s.nextSeqNum.Store(int64(toLSN) + 1)
			s.publishCursors()
			s.mu.Unlock()
			s.flushWaiter.broadcast()
		}
		if cb != nil {
			cb(err)
		}
	})
}

// FlushSync asks the device to durably persist everything issued up to
// uptoLSN, then blocks until the completed cursor has caught up to it.
// uptoLSN is clamped to the current issued cursor: spec.md §4.4 only
// ever asks the device to flush what has actually been issued.
// InvalidLSN (the zero-value-safe default) requests "flush everything
// currently issued," matching the INVALID_LSN convention.
func (s *LogStore) FlushSync(uptoLSN LSN) {
	s.mu.Lock()
	issued := s.tracker.ContiguousIssuedUpto()
	target := uptoLSN
	if uptoLSN == InvalidLSN || uptoLSN > issued {
		target = issued
	}
	s.mu.Unlock()

	s.device.Flush(s.storeID, int64(target))

	s.flushWaiter.waitUntil(func() bool {
		return s.completedUptoAtomic.Load() >= target
	})
}

// onBatchCompletion is registered with the device as the
// BatchCompletionFunc for this store.
func (s *LogStore) onBatchCompletion(maxLSN int64, flushBatchKey logdev.DeviceKey) {
	s.flushBatchMaxLSN.Store(maxLSN)
	s.flushWaiter.broadcast()
}

// StatusSummary is a point-in-time snapshot for introspection (httpapi,
// storemanager metrics).
type StatusSummary struct {
	StoreID          uint64
	IssuedUpto       LSN
	CompletedUpto    LSN
	TruncatedUpto    LSN
	HighestSeen      LSN
	FlushBatchMaxLSN LSN
	Closed           bool
}

// StatusSnapshot returns a consistent point-in-time view of the store's
// cursors.
func (s *LogStore) StatusSnapshot() StatusSummary {
	s.mu.Lock()
	highest := s.tracker.HighestSeen()
	s.mu.Unlock()
	return StatusSummary{
		StoreID:          s.storeID,
		IssuedUpto:       s.issuedUptoAtomic.Load(),
		CompletedUpto:    s.completedUptoAtomic.Load(),
		TruncatedUpto:    s.truncatedUptoAtomic.Load(),
		HighestSeen:      highest,
		FlushBatchMaxLSN: s.flushBatchMaxLSN.Load(),
		Closed:           s.closed.Load(),
	}
}

// Bootstrap recovers a store's state by replaying its device-resident
// records. onFound (if registered via RegisterLogFoundCB) is invoked per
// surviving record before Bootstrap returns; onReplayDone fires once the
// tracker's window has been rebased onto the recovered boundary and its
// cursors recomputed, per spec.md §4.7.
func (s *LogStore) Bootstrap() error {
	s.mu.Lock()
	foundCB := s.foundCB
	s.mu.Unlock()

	err := s.device.Replay(s.storeID, func(lsn int64, key, flushKey logdev.DeviceKey, buf *logdev.Buffer) {
		s.mu.Lock()
		if !s.sawAny || LSN(lsn) < s.firstSeenLSN {
			s.firstSeenLSN = LSN(lsn)
		}
		s.sawAny = true
		_ = s.tracker.Insert(LSN(lsn), SlotCompleted, key, buf, nil)
		if LSN(lsn) >= s.nextSeqNum.Load() {
			s.nextSeqNum.Store(int64(lsn) + 1)
		}
		s.mu.Unlock()

		if foundCB != nil {
			var payload []byte
			if buf != nil {
				payload = buf.Bytes()
			}
			foundCB(LSN(lsn), payload)
		}
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceIo, err)
	}

	s.mu.Lock()
	if s.sawAny {
		s.tracker.Rebase(s.firstSeenLSN - 1)
		s.tracker.RecomputeCursors()
		s.trunc.SetRecoveredBoundary(s.firstSeenLSN)
	}
	s.publishCursors()
	done := s.replayDone
	s.mu.Unlock()

	if done != nil {
		done()
	}
	return nil
}

// Close marks the store closed; subsequent operations return ErrClosed.
// The underlying device is left running since it is commonly shared
// across many stores.
func (s *LogStore) Close() error {
	s.closed.Store(true)
	s.flushWaiter.broadcast()
	return nil
}
