package logstore

import "github.com/corelogio/logstore/logdev"

// barrier is a (lsn, device_key) checkpoint recorded at each truncation
// event so the owning manager can compute a safe global truncation point
// across every stream sharing the device (spec.md §4.5, §9).
type barrier struct {
	lsn LSN
	key logdev.DeviceKey
}

// TruncationState holds the per-stream truncation barriers and the
// device-confirmed safe-truncation boundary. It is guarded by the same
// lock as the owning LogStore's StreamTracker.
type TruncationState struct {
	truncatedUptoLSN       LSN
	pendingInMemoryUptoLSN LSN
	barriers               []barrier
	safeBoundary           logdev.DeviceKey
	hasTruncatedOnce       bool
}

// NewTruncationState returns an empty truncation state.
func NewTruncationState() *TruncationState {
	return &TruncationState{
		truncatedUptoLSN:       InvalidLSN,
		pendingInMemoryUptoLSN: InvalidLSN,
	}
}

// TruncatedUptoLSN returns -1 if no truncation has ever happened
// (matching the source's convention of returning first_seen_lsn-1 only
// once recovery or an explicit truncate has set a boundary), otherwise
// the last truncated LSN.
func (t *TruncationState) TruncatedUptoLSN() LSN {
	if !t.hasTruncatedOnce {
		return -1
	}
	return t.truncatedUptoLSN
}

// RecordPhase1 applies phase 1 of truncate: advances the in-memory
// truncation boundary and appends a barrier for the manager's phase 2.
func (t *TruncationState) RecordPhase1(uptoLSN LSN, key logdev.DeviceKey) {
	t.truncatedUptoLSN = uptoLSN
	t.pendingInMemoryUptoLSN = uptoLSN
	t.hasTruncatedOnce = true
	if key.Valid() {
		t.barriers = append(t.barriers, barrier{lsn: uptoLSN, key: key})
	}
}

// SetRecoveredBoundary initializes the truncation boundary from a
// recovered first_seen_lsn, per spec.md §4.7.
func (t *TruncationState) SetRecoveredBoundary(firstSeenLSN LSN) {
	t.truncatedUptoLSN = firstSeenLSN - 1
	t.hasTruncatedOnce = true
}

// PreDeviceTruncation returns the oldest outstanding barrier's device
// key -- the caller (the owning manager) takes the minimum across every
// store before asking the device to truncate. ok is false if this store
// has no barrier to contribute.
func (t *TruncationState) PreDeviceTruncation() (logdev.DeviceKey, bool) {
	if len(t.barriers) == 0 {
		return logdev.DeviceKey{}, false
	}
	return t.barriers[0].key, true
}

// PostDeviceTruncation discards every barrier at or below truncKey and
// records the new safe-truncation boundary.
func (t *TruncationState) PostDeviceTruncation(truncKey logdev.DeviceKey) {
	kept := t.barriers[:0]
	for _, b := range t.barriers {
		if b.key.Less(truncKey) || b.key.Equal(truncKey) {
			continue
		}
		kept = append(kept, b)
	}
	t.barriers = kept
	t.safeBoundary = truncKey
}
