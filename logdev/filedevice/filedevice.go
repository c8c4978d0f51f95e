// Package filedevice is an append-only file logdev.LogDevice, grounded
// in rzbill-flo's varint|payload|crc32 record framing and
// AndrewTheMaster's bufio-backed WAL replay loop. One append-only file
// per storeID, rooted under a shared directory so a single device spans
// every stream issued against it.
package filedevice

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/corelogio/logstore/logdev"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Device is a file-backed log device rooted at dir. Each store gets its
// own append-only file, dir/store-<id>.log.
type Device struct {
	dir string
	log *slog.Logger

	mu    sync.Mutex
	files map[uint64]*storeFile
	cbs   map[uint64]logdev.BatchCompletionFunc
}

type storeFile struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	offset uint64
}

// New opens (creating if necessary) a file device rooted at dir.
func New(dir string) (*Device, error) {
	if dir == "" {
		return nil, fmt.Errorf("filedevice: empty directory")
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("filedevice: create directory: %w", err)
	}
	return &Device{
		dir:   dir,
		log:   slog.Default().With("component", "filedevice"),
		files: make(map[uint64]*storeFile),
		cbs:   make(map[uint64]logdev.BatchCompletionFunc),
	}, nil
}

func (d *Device) storePath(storeID uint64) string {
	return filepath.Join(d.dir, fmt.Sprintf("store-%d.log", storeID))
}

func (d *Device) openStore(storeID uint64) (*storeFile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sf, ok := d.files[storeID]; ok {
		return sf, nil
	}
	f, err := os.OpenFile(d.storePath(storeID), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	sf := &storeFile{file: f, writer: bufio.NewWriter(f)}
	d.files[storeID] = sf
	return sf, nil
}

// record wire format: varint(storeID) | varint(lsn) | varint(len(payload)) | payload | crc32c
func encodeRecord(storeID uint64, lsn int64, payload []byte) []byte {
	var tmp [10]byte
	out := make([]byte, 0, 30+len(payload))

	n := binary.PutUvarint(tmp[:], storeID)
	out = append(out, tmp[:n]...)
	n = binary.PutUvarint(tmp[:], uint64(lsn))
	out = append(out, tmp[:n]...)
	n = binary.PutUvarint(tmp[:], uint64(len(payload)))
	out = append(out, tmp[:n]...)
	out = append(out, payload...)

	crc := crc32.Checksum(out, castagnoli)
	var crcb [4]byte
	binary.BigEndian.PutUint32(crcb[:], crc)
	out = append(out, crcb[:]...)
	return out
}

type decodedRecord struct {
	storeID uint64
	lsn     int64
	payload []byte
}

func readRecord(r *bufio.Reader) (decodedRecord, error) {
	storeID, err := binary.ReadUvarint(r)
	if err != nil {
		return decodedRecord{}, err
	}
	lsnU, err := binary.ReadUvarint(r)
	if err != nil {
		return decodedRecord{}, err
	}
	plen, err := binary.ReadUvarint(r)
	if err != nil {
		return decodedRecord{}, err
	}
	payload := make([]byte, plen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return decodedRecord{}, err
	}
	var crcb [4]byte
	if _, err := io.ReadFull(r, crcb[:]); err != nil {
		return decodedRecord{}, err
	}

	check := encodeRecord(storeID, int64(lsnU), payload)
	wantCRC := binary.BigEndian.Uint32(crcb[:])
	gotCRC := crc32.Checksum(check[:len(check)-4], castagnoli)
	if gotCRC != wantCRC {
		return decodedRecord{}, fmt.Errorf("filedevice: checksum mismatch at store %d lsn %d", storeID, int64(lsnU))
	}
	return decodedRecord{storeID: storeID, lsn: int64(lsnU), payload: payload}, nil
}

// Write implements logdev.LogDevice: appends the record and fsyncs
// before invoking cb, so a completion always implies durability.
func (d *Device) Write(storeID uint64, lsn int64, buf *logdev.Buffer, cookie any, cb logdev.WriteCompletionFunc) {
	sf, err := d.openStore(storeID)
	if err != nil {
		if cb != nil {
			go cb(storeID, lsn, logdev.DeviceKey{}, cookie, err)
		}
		return
	}

	rec := encodeRecord(storeID, lsn, buf.Bytes())

	sf.mu.Lock()
	off := sf.offset
	_, werr := sf.writer.Write(rec)
	if werr == nil {
		werr = sf.writer.Flush()
	}
	if werr == nil {
		werr = sf.file.Sync()
	}
	if werr == nil {
		sf.offset += uint64(len(rec))
	}
	sf.mu.Unlock()

	key := logdev.NewDeviceKey(1, off)

	if cb != nil {
		go cb(storeID, lsn, key, cookie, werr)
	}
}

// Read re-scans the owning store's file for the record at the offset
// encoded by key. A production device would index offsets directly;
// this backend favors simplicity since every record is self-describing.
func (d *Device) Read(key logdev.DeviceKey, cb logdev.ReadCompletionFunc) {
	d.mu.Lock()
	files := make(map[uint64]*storeFile, len(d.files))
	for id, sf := range d.files {
		files[id] = sf
	}
	d.mu.Unlock()

	for storeID, sf := range files {
		sf.mu.Lock()
		f, err := os.Open(d.storePath(storeID))
		sf.mu.Unlock()
		if err != nil {
			continue
		}
		found, payload, rerr := scanForOffset(f, key.Offset)
		f.Close()
		if rerr != nil {
			continue
		}
		if found {
			if cb != nil {
				go cb(logdev.NewBuffer(payload), nil)
			}
			return
		}
	}
	if cb != nil {
		go cb(nil, logdev.ErrKeyNotFound)
	}
}

func scanForOffset(f *os.File, target uint64) (bool, []byte, error) {
	r := bufio.NewReader(f)
	var offset uint64
	for {
		startOff := offset
		rec, err := readRecord(r)
		if err != nil {
			if err == io.EOF {
				return false, nil, nil
			}
			return false, nil, err
		}
		encoded := encodeRecord(rec.storeID, rec.lsn, rec.payload)
		offset += uint64(len(encoded))
		if startOff == target {
			return true, rec.payload, nil
		}
	}
}

// Flush is a no-op beyond firing the batch callback: every Write already
// fsyncs before its own completion fires, so there is nothing left to
// durably persist by the time Flush is called. The callback receives
// uptoLSN as the batch's max LSN and a key at the file's current end
// offset; that key does not identify any record.
func (d *Device) Flush(storeID uint64, uptoLSN int64) {
	d.mu.Lock()
	sf, ok := d.files[storeID]
	cb := d.cbs[storeID]
	d.mu.Unlock()
	if !ok || cb == nil {
		return
	}
	sf.mu.Lock()
	off := sf.offset
	sf.mu.Unlock()
	go cb(uptoLSN, logdev.NewDeviceKey(1, off))
}

// RegisterBatchCompletionCB implements logdev.LogDevice.
func (d *Device) RegisterBatchCompletionCB(storeID uint64, cb logdev.BatchCompletionFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cbs[storeID] = cb
}

// Truncate is unsupported for the append-only file backend: reclaiming
// space would require rewriting every store's file from the truncation
// point forward. Stores still advance their in-memory truncation
// boundary; only the device-level reclaim is skipped.
func (d *Device) Truncate(minKey logdev.DeviceKey) error {
	d.log.Warn("filedevice: truncate requested but not supported, in-memory boundary advances without reclaiming file space")
	return nil
}

// Rollback is unsupported: an append-only file cannot un-append without
// rewriting, so rollback here only ever returns an error to the caller,
// which should prefer sqlitedevice or memorydevice when rollback is
// exercised.
func (d *Device) Rollback(storeID uint64, toLSN int64, cb func(err error)) {
	if cb != nil {
		go cb(fmt.Errorf("filedevice: rollback not supported by append-only backend"))
	}
}

// Replay reads storeID's file front to back, then calls onFound per
// record in ascending LSN order. File order is submission order, which
// need not be LSN order, so records are sorted before delivery.
func (d *Device) Replay(storeID uint64, onFound logdev.LogFoundFunc) error {
	f, err := os.Open(d.storePath(storeID))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	type replayed struct {
		rec decodedRecord
		key logdev.DeviceKey
	}
	var all []replayed

	r := bufio.NewReader(f)
	var offset uint64
	for {
		startOff := offset
		rec, rerr := readRecord(r)
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return rerr
		}
		encoded := encodeRecord(rec.storeID, rec.lsn, rec.payload)
		offset += uint64(len(encoded))
		all = append(all, replayed{rec: rec, key: logdev.NewDeviceKey(1, startOff)})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].rec.lsn < all[j].rec.lsn })
	for _, e := range all {
		onFound(e.rec.lsn, e.key, e.key, logdev.NewBuffer(e.rec.payload))
	}
	return nil
}

// Close flushes and closes every open store file.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for _, sf := range d.files {
		sf.mu.Lock()
		if err := sf.writer.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := sf.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		sf.mu.Unlock()
	}
	return firstErr
}
