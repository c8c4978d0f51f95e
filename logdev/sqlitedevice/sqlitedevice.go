// Package sqlitedevice is a database/sql-backed logdev.LogDevice using
// mattn/go-sqlite3, grounded in the pool-config idiom of
// quadgatefoundation-fluxor's pkg/db. Every store's records live in one
// shared table, keyed by (store_id, lsn), which doubles as the
// DeviceKey ordering since SQLite's rowid is monotonically increasing.
package sqlitedevice

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/corelogio/logstore/logdev"
)

// Config mirrors the DSN/pool-sizing options fluxor's db.PoolConfig
// exposes, narrowed to what a single-writer SQLite file needs.
type Config struct {
	Path         string
	MaxOpenConns int
}

// DefaultConfig returns a single-connection pool pointed at path, since
// SQLite serializes writers regardless of pool size.
func DefaultConfig(path string) Config {
	return Config{Path: path, MaxOpenConns: 1}
}

// Device is a SQLite-backed log device.
type Device struct {
	db *sql.DB

	mu  sync.Mutex
	cbs map[uint64]logdev.BatchCompletionFunc
}

// New opens (creating the schema if necessary) a SQLite-backed device.
func New(cfg Config) (*Device, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlitedevice: empty path")
	}
	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlitedevice: open: %w", err)
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 1
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS log_records (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			store_id INTEGER NOT NULL,
			lsn INTEGER NOT NULL,
			payload BLOB NOT NULL,
			UNIQUE(store_id, lsn)
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitedevice: create schema: %w", err)
	}

	return &Device{db: db, cbs: make(map[uint64]logdev.BatchCompletionFunc)}, nil
}

// Write implements logdev.LogDevice.
func (d *Device) Write(storeID uint64, lsn int64, buf *logdev.Buffer, cookie any, cb logdev.WriteCompletionFunc) {
	res, err := d.db.ExecContext(context.Background(),
		`INSERT INTO log_records(store_id, lsn, payload) VALUES (?, ?, ?)`,
		storeID, lsn, buf.Bytes())
	if err != nil {
		if cb != nil {
			go cb(storeID, lsn, logdev.DeviceKey{}, cookie, err)
		}
		return
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		if cb != nil {
			go cb(storeID, lsn, logdev.DeviceKey{}, cookie, err)
		}
		return
	}
	key := logdev.NewDeviceKey(1, uint64(rowID))
	if cb != nil {
		go cb(storeID, lsn, key, cookie, nil)
	}
}

// Read implements logdev.LogDevice.
func (d *Device) Read(key logdev.DeviceKey, cb logdev.ReadCompletionFunc) {
	var payload []byte
	err := d.db.QueryRowContext(context.Background(),
		`SELECT payload FROM log_records WHERE rowid = ?`, key.Offset).Scan(&payload)
	if err == sql.ErrNoRows {
		if cb != nil {
			go cb(nil, logdev.ErrKeyNotFound)
		}
		return
	}
	if err != nil {
		if cb != nil {
			go cb(nil, err)
		}
		return
	}
	if cb != nil {
		go cb(logdev.NewBuffer(payload), nil)
	}
}

// Flush fires the registered batch-completion callback with the highest
// rowid recorded for storeID up to uptoLSN. SQLite has already fsynced
// each insert's transaction by the time Write's callback fires, so
// there is no separate durability step to perform here.
func (d *Device) Flush(storeID uint64, uptoLSN int64) {
	d.mu.Lock()
	cb := d.cbs[storeID]
	d.mu.Unlock()
	if cb == nil {
		return
	}

	var maxRowID sql.NullInt64
	var maxLSN sql.NullInt64
	err := d.db.QueryRowContext(context.Background(),
		`SELECT MAX(rowid), MAX(lsn) FROM log_records WHERE store_id = ? AND (? = 0 OR lsn <= ?)`,
		storeID, uptoLSN, uptoLSN).Scan(&maxRowID, &maxLSN)
	if err != nil || !maxRowID.Valid {
		return
	}
	go cb(maxLSN.Int64, logdev.NewDeviceKey(1, uint64(maxRowID.Int64)))
}

// RegisterBatchCompletionCB implements logdev.LogDevice.
func (d *Device) RegisterBatchCompletionCB(storeID uint64, cb logdev.BatchCompletionFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cbs[storeID] = cb
}

// Truncate deletes every record at or below minKey across all stores.
func (d *Device) Truncate(minKey logdev.DeviceKey) error {
	if !minKey.Valid() {
		return nil
	}
	_, err := d.db.ExecContext(context.Background(),
		`DELETE FROM log_records WHERE rowid <= ?`, minKey.Offset)
	return err
}

// Rollback deletes every record for storeID above toLSN.
func (d *Device) Rollback(storeID uint64, toLSN int64, cb func(err error)) {
	_, err := d.db.ExecContext(context.Background(),
		`DELETE FROM log_records WHERE store_id = ? AND lsn > ?`, storeID, toLSN)
	if cb != nil {
		go cb(err)
	}
}

// Replay reads storeID's records back in ascending LSN order.
func (d *Device) Replay(storeID uint64, onFound logdev.LogFoundFunc) error {
	rows, err := d.db.QueryContext(context.Background(),
		`SELECT rowid, lsn, payload FROM log_records WHERE store_id = ? ORDER BY lsn ASC`, storeID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var rowID int64
		var lsn int64
		var payload []byte
		if err := rows.Scan(&rowID, &lsn, &payload); err != nil {
			return err
		}
		key := logdev.NewDeviceKey(1, uint64(rowID))
		onFound(lsn, key, key, logdev.NewBuffer(payload))
	}
	return rows.Err()
}

// Close closes the underlying database handle.
func (d *Device) Close() error {
	return d.db.Close()
}
