package logstore

import "github.com/corelogio/logstore/logdev"

// SlotState is the per-LSN state machine from spec.md §4.8. Transitions
// only ever move forward; regression is forbidden.
//
//	(absent) -> Issued -> Completed -> Truncated
//	(absent) -> GapFilled -> Truncated
type SlotState int32

const (
	// SlotIssued marks a write that has been handed to the device but
	// not yet completed.
	SlotIssued SlotState = iota
	// SlotCompleted marks a write the device has durably accepted.
	SlotCompleted
	// SlotGapFilled marks an LSN deliberately skipped; it contributes to
	// contiguity but is never readable.
	SlotGapFilled
	// SlotTruncated is terminal; the slot is invisible to reads.
	SlotTruncated
)

func (s SlotState) String() string {
	switch s {
	case SlotIssued:
		return "Issued"
	case SlotCompleted:
		return "Completed"
	case SlotGapFilled:
		return "GapFilled"
	case SlotTruncated:
		return "Truncated"
	default:
		return "Unknown"
	}
}

// countsAsCompleted reports whether s satisfies the "completed"
// contiguity predicate (GapFilled counts as completed, per spec.md §3).
func (s SlotState) countsAsCompleted() bool {
	return s == SlotCompleted || s == SlotGapFilled
}

// RecordSlot is the per-LSN bookkeeping entry: state, device position,
// and the in-memory buffer handle, plus the cookie for in-flight writes.
// A RecordSlot is exclusively owned by its StreamTracker and is only ever
// mutated while the owning LogStore's lock is held.
type RecordSlot struct {
	State  SlotState
	Key    logdev.DeviceKey
	Buf    *logdev.Buffer
	Cookie any
}

// releaseBuf drops the slot's hold on its buffer, matching spec.md §3's
// "released when the slot is truncated" invariant.
func (s *RecordSlot) releaseBuf() {
	if s.Buf != nil {
		s.Buf.Release()
		s.Buf = nil
	}
}
