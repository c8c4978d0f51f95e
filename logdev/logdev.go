// Package logdev defines the shared log device abstraction that every
// logstore.LogStore is layered on top of. The device owns allocation,
// batching, fsync and checksums; the core package never looks past the
// interfaces declared here.
package logdev

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrKeyNotFound is returned by a device Read when no record is stored
// under the given DeviceKey.
var ErrKeyNotFound = errors.New("logdev: device key not found")

// DeviceKey is an opaque, totally ordered position emitted by the device
// on every completion. The core never interprets it beyond ordering.
type DeviceKey struct {
	DevID  uint32
	Offset uint64
	valid  bool
}

// NewDeviceKey builds a valid DeviceKey from a device id and offset.
func NewDeviceKey(devID uint32, offset uint64) DeviceKey {
	return DeviceKey{DevID: devID, Offset: offset, valid: true}
}

// Valid reports whether k identifies a real durable position.
func (k DeviceKey) Valid() bool { return k.valid }

// Less reports whether k orders before other. Both must be valid.
func (k DeviceKey) Less(other DeviceKey) bool {
	if k.DevID != other.DevID {
		return k.DevID < other.DevID
	}
	return k.Offset < other.Offset
}

// Equal reports key equality.
func (k DeviceKey) Equal(other DeviceKey) bool {
	return k.valid == other.valid && k.DevID == other.DevID && k.Offset == other.Offset
}

func (k DeviceKey) String() string {
	if !k.valid {
		return "devkey(invalid)"
	}
	return fmt.Sprintf("devkey(%d:%d)", k.DevID, k.Offset)
}

// Min returns the smaller of a and b, treating an invalid key as "no
// opinion" so it never wins against a valid one.
func Min(a, b DeviceKey) DeviceKey {
	switch {
	case !a.valid:
		return b
	case !b.valid:
		return a
	case a.Less(b):
		return a
	default:
		return b
	}
}

// Buffer is a reference-counted handle to a payload. Its lifetime is the
// longest holder among the tracker, a pending user callback and any
// device-side cache; Release is idempotent-safe per holder.
type Buffer struct {
	data     []byte
	refCount int32
}

// NewBuffer wraps data in a fresh, single-owner Buffer.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: data, refCount: 1}
}

// Bytes returns the underlying payload. The caller must not retain it
// beyond the buffer's lifetime.
func (b *Buffer) Bytes() []byte {
	if b == nil {
		return nil
	}
	return b.data
}

// Retain increments the holder count and returns b for chaining.
func (b *Buffer) Retain() *Buffer {
	if b != nil {
		atomic.AddInt32(&b.refCount, 1)
	}
	return b
}

// Release decrements the holder count. It never frees Go memory (the GC
// does that); it exists so the tracker and callers agree on when a
// buffer is logically gone, matching the shared-ownership handle spec.md
// describes.
func (b *Buffer) Release() {
	if b == nil {
		return
	}
	atomic.AddInt32(&b.refCount, -1)
}

// Holders returns the current holder count, for tests.
func (b *Buffer) Holders() int32 {
	if b == nil {
		return 0
	}
	return atomic.LoadInt32(&b.refCount)
}

// WriteCompletionFunc is invoked by the device once a write durably lands
// (or fails). cookie is passed through unmodified from the write call.
type WriteCompletionFunc func(storeID uint64, lsn int64, key DeviceKey, cookie any, err error)

// ReadCompletionFunc delivers the result of an async device read.
type ReadCompletionFunc func(buf *Buffer, err error)

// BatchCompletionFunc is invoked once per flushed batch that touched
// storeID; maxLSN/flushBatchKey are the highest LSN and device key made
// durable by that batch.
type BatchCompletionFunc func(maxLSN int64, flushBatchKey DeviceKey)

// LogFoundFunc is the replay upcall: for every surviving entry belonging
// to a store, the device calls this once, in ascending LSN order.
type LogFoundFunc func(lsn int64, key DeviceKey, flushKey DeviceKey, buf *Buffer)

// LogDevice is the shared, out-of-scope collaborator every LogStore is
// built on top of (spec.md §6). Implementations: logdev/memorydevice,
// logdev/filedevice, logdev/sqlitedevice.
type LogDevice interface {
	// Write submits buf for durable storage at (storeID, lsn) and returns
	// immediately; cb fires from a device I/O goroutine on completion.
	Write(storeID uint64, lsn int64, buf *Buffer, cookie any, cb WriteCompletionFunc)

	// Read fetches the payload at key asynchronously.
	Read(key DeviceKey, cb ReadCompletionFunc)

	// Flush asks the device to durably persist everything issued for
	// storeID up to uptoLSN. Completion arrives via the batch-completion
	// callback registered with RegisterBatchCompletionCB, not a direct cb,
	// because a single flush batch commonly spans many LSNs and stores.
	Flush(storeID uint64, uptoLSN int64)

	// RegisterBatchCompletionCB installs the callback the device uses to
	// announce that a batch touching storeID has been flushed.
	RegisterBatchCompletionCB(storeID uint64, cb BatchCompletionFunc)

	// Truncate durably reclaims device space at or below minKey. May be
	// collective across every store sharing this device.
	Truncate(minKey DeviceKey) error

	// Rollback durably records a rollback marker for storeID at toLSN and
	// invokes cb once that marker is durable.
	Rollback(storeID uint64, toLSN int64, cb func(err error))

	// Replay drives recovery for storeID: onFound is called once per
	// surviving record in ascending LSN order, synchronously, before
	// Replay returns.
	Replay(storeID uint64, onFound LogFoundFunc) error

	// Close releases any resources held by the device.
	Close() error
}
