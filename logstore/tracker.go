package logstore

import "github.com/corelogio/logstore/logdev"

// StreamTracker is a sparse, windowed-ring container of RecordSlot
// indexed by LSN, anchored at base (the exclusive lower bound, i.e. the
// current first_lsn). It maintains two monotonically non-decreasing
// contiguity cursors alongside highestSeen, per spec.md §4.1.
//
// It is not internally synchronized: callers (LogStore) must hold the
// store's lock for every method, matching the "single per-store lock"
// policy in spec.md §5.
type StreamTracker struct {
	base LSN // exclusive lower bound; slots[i] is lsn base+1+i
	slots []*RecordSlot

	issuedUpto    LSN
	completedUpto LSN
	highestSeen   LSN
}

// NewStreamTracker creates a tracker anchored at firstLSN with no slots
// yet inserted. windowHint sizes the initial backing slice.
func NewStreamTracker(firstLSN LSN, windowHint int) *StreamTracker {
	if windowHint <= 0 {
		windowHint = 64
	}
	return &StreamTracker{
		base:          firstLSN,
		slots:         make([]*RecordSlot, 0, windowHint),
		issuedUpto:    firstLSN,
		completedUpto: firstLSN,
		highestSeen:   firstLSN,
	}
}

func (t *StreamTracker) index(lsn LSN) int {
	return int(lsn - t.base - 1)
}

func (t *StreamTracker) ensureLen(n int) {
	for len(t.slots) < n {
		t.slots = append(t.slots, nil)
	}
}

// FirstLSN returns the tracker's current anchor (the last truncated LSN;
// everything at or below it is gone).
func (t *StreamTracker) FirstLSN() LSN { return t.base }

// HighestSeen returns the maximum LSN ever inserted.
func (t *StreamTracker) HighestSeen() LSN { return t.highestSeen }

// ContiguousIssuedUpto returns the current issued cursor.
func (t *StreamTracker) ContiguousIssuedUpto() LSN { return t.issuedUpto }

// ContiguousCompletedUpto returns the current completed cursor.
func (t *StreamTracker) ContiguousCompletedUpto() LSN { return t.completedUpto }

// Get returns the slot at lsn, if any is currently live (not truncated
// out of the window).
func (t *StreamTracker) Get(lsn LSN) (*RecordSlot, bool) {
	if lsn <= t.base {
		return nil, false
	}
	idx := t.index(lsn)
	if idx >= len(t.slots) {
		return nil, false
	}
	return t.slots[idx], t.slots[idx] != nil
}

// Insert places a brand-new slot at lsn in the given initial state. It
// fails with ErrLsnTruncated if lsn is at or below the anchor, and with
// ErrDuplicateLsn if a slot already occupies lsn.
func (t *StreamTracker) Insert(lsn LSN, state SlotState, key logdev.DeviceKey, buf *logdev.Buffer, cookie any) error {
	if lsn <= t.base {
		return ErrLsnTruncated
	}
	idx := t.index(lsn)
	t.ensureLen(idx + 1)
	if t.slots[idx] != nil {
		return ErrDuplicateLsn
	}
	t.slots[idx] = &RecordSlot{State: state, Key: key, Buf: buf, Cookie: cookie}
	if lsn > t.highestSeen {
		t.highestSeen = lsn
	}
	t.advanceIssued(lsn)
	if state.countsAsCompleted() {
		t.advanceCompleted(lsn)
	}
	return nil
}

// Complete transitions the slot at lsn from Issued to Completed,
// recording its device key and advancing the completed cursor. Repeated
// completions for the same lsn (out-of-order device acks, retries) are
// idempotent no-ops past the first.
func (t *StreamTracker) Complete(lsn LSN, key logdev.DeviceKey) (*RecordSlot, error) {
	if lsn <= t.base {
		return nil, ErrLsnTruncated
	}
	idx := t.index(lsn)
	if idx >= len(t.slots) || t.slots[idx] == nil {
		return nil, ErrNotFound
	}
	s := t.slots[idx]
	if s.State != SlotIssued {
		return s, nil
	}
	s.State = SlotCompleted
	s.Key = key
	t.advanceCompleted(lsn)
	return s, nil
}

// advanceIssued extends issuedUpto forward through consecutive occupied
// slots (any state counts, since occupying the slot means the LSN was at
// least issued) starting from lsn, but only if lsn is the immediate
// successor of the current cursor -- per spec.md §4.1's "If k ==
// contiguous_X_upto + 1 ... advance"; otherwise the insert just marks the
// slot with no cursor movement.
func (t *StreamTracker) advanceIssued(lsn LSN) {
	if lsn != t.issuedUpto+1 {
		return
	}
	cur := lsn
	for {
		idx := t.index(cur)
		if idx >= len(t.slots) || t.slots[idx] == nil {
			break
		}
		cur++
	}
	t.issuedUpto = cur - 1
}

func (t *StreamTracker) advanceCompleted(lsn LSN) {
	if lsn != t.completedUpto+1 {
		return
	}
	cur := lsn
	for {
		idx := t.index(cur)
		if idx >= len(t.slots) {
			break
		}
		s := t.slots[idx]
		if s == nil || !s.State.countsAsCompleted() {
			break
		}
		cur++
	}
	t.completedUpto = cur - 1
}

// GetContiguousIssuedSeqNum implements spec.md §4.1's
// get_contiguous_issued_seq_num(from): returns the higher of from and the
// issued cursor once from is below it, else from unchanged.
func (t *StreamTracker) GetContiguousIssuedSeqNum(from LSN) LSN {
	if from < t.issuedUpto {
		return t.issuedUpto
	}
	return from
}

// GetContiguousCompletedSeqNum is the completed-cursor analogue.
func (t *StreamTracker) GetContiguousCompletedSeqNum(from LSN) LSN {
	if from < t.completedUpto {
		return t.completedUpto
	}
	return from
}

// TruncatePrefix marks every live slot in (base, uptoLSN] Truncated,
// releases their buffers, and slides the anchor forward to uptoLSN. It
// is a no-op if uptoLSN is at or below the current anchor.
func (t *StreamTracker) TruncatePrefix(uptoLSN LSN) {
	if uptoLSN <= t.base {
		return
	}
	lastIdx := t.index(uptoLSN)
	if lastIdx >= len(t.slots) {
		lastIdx = len(t.slots) - 1
	}
	for i := 0; i <= lastIdx; i++ {
		if t.slots[i] == nil {
			continue
		}
		t.slots[i].State = SlotTruncated
		t.slots[i].releaseBuf()
	}
	if lastIdx+1 <= len(t.slots) {
		t.slots = append([]*RecordSlot{}, t.slots[lastIdx+1:]...)
	} else {
		t.slots = t.slots[:0]
	}
	t.base = uptoLSN
}

// ForeachFrom calls cb(lsn, slot) for every Completed slot with fromLSN <
// lsn <= completedUpto, in ascending order, stopping early if cb returns
// false. Slots above the completed cursor are not visited, whatever their
// state. GapFilled slots are skipped because there is no payload to
// deliver.
func (t *StreamTracker) ForeachFrom(fromLSN LSN, cb func(lsn LSN, slot *RecordSlot) bool) {
	upto := t.completedUpto
	start := fromLSN + 1
	if start <= t.base {
		start = t.base + 1
	}
	for lsn := start; lsn <= upto; lsn++ {
		idx := t.index(lsn)
		if idx >= len(t.slots) || t.slots[idx] == nil {
			continue
		}
		s := t.slots[idx]
		if s.State != SlotCompleted {
			continue
		}
		if !cb(lsn, s) {
			return
		}
	}
}

// ResetForRollback truncates every slot in (toLSN, highestSeen] and
// clamps both cursors down to at most toLSN, per spec.md §4.6.
func (t *StreamTracker) ResetForRollback(toLSN LSN) {
	for lsn := toLSN + 1; lsn <= t.highestSeen; lsn++ {
		idx := t.index(lsn)
		if idx < 0 || idx >= len(t.slots) || t.slots[idx] == nil {
			continue
		}
		t.slots[idx].State = SlotTruncated
		t.slots[idx].releaseBuf()
	}
	if toLSN < t.issuedUpto {
		t.issuedUpto = toLSN
	}
	if toLSN < t.completedUpto {
		t.completedUpto = toLSN
	}
	t.highestSeen = toLSN
	// shrink the window so the ring doesn't keep pinning the rolled-back
	// tail of truncated slots forever.
	idx := t.index(toLSN)
	if idx+1 >= 0 && idx+1 <= len(t.slots) {
		t.slots = t.slots[:idx+1]
	}
}

// Rebase re-anchors a tracker populated by recovery replay (still
// anchored at the store's configured start_lsn, which predates every
// real record) onto newBase, the true recovered boundary
// (first_seen_lsn - 1). The leading delta slots -- placeholders for LSNs
// that were never actually written -- are dropped so index(lsn)
// continues to resolve correctly under the new anchor. Cursors are only
// clamped up to newBase as a floor here; RecomputeCursors must be
// called afterward to derive their real values from the shifted window.
func (t *StreamTracker) Rebase(newBase LSN) {
	delta := newBase - t.base
	if delta <= 0 {
		return
	}
	if int(delta) >= len(t.slots) {
		t.slots = t.slots[:0]
	} else {
		t.slots = append([]*RecordSlot{}, t.slots[delta:]...)
	}
	t.base = newBase
	if t.issuedUpto < newBase {
		t.issuedUpto = newBase
	}
	if t.completedUpto < newBase {
		t.completedUpto = newBase
	}
	if t.highestSeen < newBase {
		t.highestSeen = newBase
	}
}

// RecomputeCursors performs the single left-to-right sweep spec.md §4.7
// requires after recovery replay completes: starting from the anchor,
// it walks the slot window forward and recomputes both contiguity
// cursors from scratch, rather than trusting whatever order the
// device's replay upcalls arrived in.
func (t *StreamTracker) RecomputeCursors() {
	issued := t.base
	for lsn := t.base + 1; ; lsn++ {
		idx := t.index(lsn)
		if idx >= len(t.slots) || t.slots[idx] == nil {
			break
		}
		issued = lsn
	}
	t.issuedUpto = issued

	completed := t.base
	for lsn := t.base + 1; ; lsn++ {
		idx := t.index(lsn)
		if idx >= len(t.slots) || t.slots[idx] == nil || !t.slots[idx].State.countsAsCompleted() {
			break
		}
		completed = lsn
	}
	t.completedUpto = completed
}

// HasPendingIssued reports whether any slot in (fromLSN, toLSN] is still
// Issued, used by rollback_async's precondition check.
func (t *StreamTracker) HasPendingIssued(fromLSN, toLSN LSN) bool {
	for lsn := fromLSN + 1; lsn <= toLSN; lsn++ {
		idx := t.index(lsn)
		if idx < 0 || idx >= len(t.slots) || t.slots[idx] == nil {
			continue
		}
		if t.slots[idx].State == SlotIssued {
			return true
		}
	}
	return false
}
