package logstore

import "errors"

// Sentinel errors surfaced by LogStore operations, checked with
// errors.Is. The store never retries on its own; these are propagated as
// plain errors, not panics, per spec.md §7.
var (
	// ErrLsnTruncated is returned when an operation targets an LSN at or
	// below the store's truncated_upto_lsn.
	ErrLsnTruncated = errors.New("logstore: lsn already truncated")

	// ErrDuplicateLsn is returned by a write that targets an LSN already
	// occupied by a slot.
	ErrDuplicateLsn = errors.New("logstore: duplicate lsn")

	// ErrGap is returned by a read that targets a gap-filled LSN.
	ErrGap = errors.New("logstore: lsn is a gap")

	// ErrNotFound is returned by a read that targets an LSN never
	// introduced, or a read whose buffer has been evicted with no device
	// key to fall back on.
	ErrNotFound = errors.New("logstore: lsn not found")

	// ErrPendingIo is returned by rollback_async when an LSN in the
	// rollback range is still Issued.
	ErrPendingIo = errors.New("logstore: pending io in range")

	// ErrDeviceIo wraps an error surfaced by the underlying device.
	ErrDeviceIo = errors.New("logstore: device io error")

	// ErrClosed is returned by any operation on a store that has been
	// closed.
	ErrClosed = errors.New("logstore: store closed")

	// ErrAppendModeRequired is returned by write_async / write_sync on a
	// store configured for append_mode, which rejects explicit-LSN
	// writes.
	ErrAppendModeRequired = errors.New("logstore: store is in append-only mode")
)
