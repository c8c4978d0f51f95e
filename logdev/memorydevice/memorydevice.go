// Package memorydevice is an in-memory logdev.LogDevice, adapted from the
// map-backed shared log used for local development and tests.
package memorydevice

import (
	"sort"
	"sync"

	"github.com/corelogio/logstore/logdev"
)

type record struct {
	lsn   int64
	buf   *logdev.Buffer
	flush bool
	key   logdev.DeviceKey
}

// Device is a single shared, in-process log device. Every LogStore that
// points at the same Device instance shares its flush pipeline and
// monotonic offset space, matching spec.md §1's "shared log device".
type Device struct {
	mu      sync.Mutex
	nextOff uint64
	devID   uint32

	// records maps storeID -> lsn -> record, mirroring the per-store
	// append-only layout described in spec.md §6.
	records map[uint64]map[int64]*record

	batchCBs map[uint64]logdev.BatchCompletionFunc
}

// New creates an empty in-memory device identified by devID.
func New(devID uint32) *Device {
	return &Device{
		devID:    devID,
		records:  make(map[uint64]map[int64]*record),
		batchCBs: make(map[uint64]logdev.BatchCompletionFunc),
	}
}

func (d *Device) storeRecords(storeID uint64) map[int64]*record {
	m, ok := d.records[storeID]
	if !ok {
		m = make(map[int64]*record)
		d.records[storeID] = m
	}
	return m
}

// Write implements logdev.LogDevice. The completion callback is invoked
// from a separate goroutine to mimic the device's own I/O thread, per
// spec.md §5's concurrency model.
func (d *Device) Write(storeID uint64, lsn int64, buf *logdev.Buffer, cookie any, cb logdev.WriteCompletionFunc) {
	d.mu.Lock()
	d.nextOff++
	key := logdev.NewDeviceKey(d.devID, d.nextOff)
	d.storeRecords(storeID)[lsn] = &record{lsn: lsn, buf: buf, key: key}
	d.mu.Unlock()

	if cb != nil {
		go cb(storeID, lsn, key, cookie, nil)
	}
}

// Read implements logdev.LogDevice by scanning for the matching key.
// A real device would index by key directly; the in-memory variant keeps
// things simple since it already holds everything in RAM.
func (d *Device) Read(key logdev.DeviceKey, cb logdev.ReadCompletionFunc) {
	d.mu.Lock()
	var found *logdev.Buffer
	for _, recs := range d.records {
		for _, r := range recs {
			if r.key.Equal(key) {
				found = r.buf
			}
		}
	}
	d.mu.Unlock()

	if cb == nil {
		return
	}
	if found == nil {
		go cb(nil, logdev.ErrKeyNotFound)
		return
	}
	go cb(found, nil)
}

// Flush marks every record issued for storeID up to uptoLSN durable and
// fires the registered batch-completion callback with the maximum
// device key touched by the batch.
func (d *Device) Flush(storeID uint64, uptoLSN int64) {
	d.mu.Lock()
	recs := d.storeRecords(storeID)
	var maxKey logdev.DeviceKey
	var maxLSN int64
	for lsn, r := range recs {
		if uptoLSN != 0 && lsn > uptoLSN {
			continue
		}
		r.flush = true
		if !maxKey.Valid() || maxKey.Less(r.key) {
			maxKey = r.key
		}
		if lsn > maxLSN {
			maxLSN = lsn
		}
	}
	cb := d.batchCBs[storeID]
	d.mu.Unlock()

	if cb != nil && maxKey.Valid() {
		go cb(maxLSN, maxKey)
	}
}

// RegisterBatchCompletionCB implements logdev.LogDevice.
func (d *Device) RegisterBatchCompletionCB(storeID uint64, cb logdev.BatchCompletionFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batchCBs[storeID] = cb
}

// Truncate drops every record at or below minKey across all stores,
// mirroring the cross-stream reclamation spec.md §4.5 describes.
func (d *Device) Truncate(minKey logdev.DeviceKey) error {
	if !minKey.Valid() {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, recs := range d.records {
		for lsn, r := range recs {
			if r.key.Less(minKey) || r.key.Equal(minKey) {
				delete(recs, lsn)
			}
		}
	}
	return nil
}

// Rollback discards every record for storeID above toLSN.
func (d *Device) Rollback(storeID uint64, toLSN int64, cb func(err error)) {
	d.mu.Lock()
	recs := d.storeRecords(storeID)
	for lsn := range recs {
		if lsn > toLSN {
			delete(recs, lsn)
		}
	}
	d.mu.Unlock()
	if cb != nil {
		go cb(nil)
	}
}

// Replay calls onFound once per surviving record for storeID in
// ascending LSN order, synchronously.
func (d *Device) Replay(storeID uint64, onFound logdev.LogFoundFunc) error {
	d.mu.Lock()
	recs := d.storeRecords(storeID)
	lsns := make([]int64, 0, len(recs))
	for lsn := range recs {
		lsns = append(lsns, lsn)
	}
	d.mu.Unlock()

	sort.Slice(lsns, func(i, j int) bool { return lsns[i] < lsns[j] })
	for _, lsn := range lsns {
		d.mu.Lock()
		r := recs[lsn]
		d.mu.Unlock()
		if r == nil {
			continue
		}
		onFound(r.lsn, r.key, r.key, r.buf)
	}
	return nil
}

// Close is a no-op for the in-memory device.
func (d *Device) Close() error { return nil }
