// Package storemanager coordinates every LogStore sharing a single
// logdev.LogDevice: it is the "owning manager" spec.md §4.5/§9 mentions
// but leaves unspecified. Repurposed from the teacher's
// mapservice.MapService map-of-metadata idiom.
package storemanager

import (
	"fmt"
	"sort"
	"sync"

	"github.com/corelogio/logstore/logdev"
	"github.com/corelogio/logstore/logstore"
	"github.com/spf13/viper"
)

// Config carries the manager-level options layered on top of
// logstore.Config: which device backend to use and where it persists.
type Config struct {
	DeviceBackend string // "memory" | "file" | "sqlite"
	DevicePath    string
	Store         logstore.Config
}

// LoadConfig reads device_backend/device_path out of v in addition to
// the logstore.Config keys, falling back to an in-memory device.
func LoadConfig(v *viper.Viper) Config {
	cfg := Config{
		DeviceBackend: "memory",
		Store:         logstore.DefaultConfig(),
	}
	if v == nil {
		return cfg
	}
	if v.IsSet("device_backend") {
		cfg.DeviceBackend = v.GetString("device_backend")
	}
	if v.IsSet("device_path") {
		cfg.DevicePath = v.GetString("device_path")
	}
	cfg.Store = logstore.LoadConfig(v)
	return cfg
}

// Manager owns the registry of stores sharing one device, plus the
// Prometheus collectors tracking them.
type Manager struct {
	device  logdev.LogDevice
	cfg     logstore.Config
	metrics *Metrics

	mu     sync.RWMutex
	stores map[uint64]*logstore.LogStore
}

// New creates a Manager over an already-constructed device.
func New(device logdev.LogDevice, cfg logstore.Config, metrics *Metrics) *Manager {
	return &Manager{
		device:  device,
		cfg:     cfg,
		stores:  make(map[uint64]*logstore.LogStore),
		metrics: metrics,
	}
}

// CreateStore registers a brand-new store with no prior history.
func (m *Manager) CreateStore(storeID uint64) *logstore.LogStore {
	s := logstore.NewLogStore(storeID, m.device, m.cfg)
	m.mu.Lock()
	m.stores[storeID] = s
	if m.metrics != nil {
		m.metrics.StoreCount.Set(float64(len(m.stores)))
	}
	m.mu.Unlock()
	return s
}

// OpenStore registers an existing store and replays its device history
// before returning it, matching spec.md §4.7's recovery protocol.
func (m *Manager) OpenStore(storeID uint64) (*logstore.LogStore, error) {
	s := logstore.NewLogStore(storeID, m.device, m.cfg)
	if err := s.Bootstrap(); err != nil {
		return nil, fmt.Errorf("storemanager: bootstrap store %d: %w", storeID, err)
	}
	m.mu.Lock()
	m.stores[storeID] = s
	if m.metrics != nil {
		m.metrics.StoreCount.Set(float64(len(m.stores)))
	}
	m.mu.Unlock()
	return s, nil
}

// Get returns the store registered under storeID, if any.
func (m *Manager) Get(storeID uint64) (*logstore.LogStore, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stores[storeID]
	return s, ok
}

// StoreIDs returns every registered store id in ascending order.
func (m *Manager) StoreIDs() []uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]uint64, 0, len(m.stores))
	for id := range m.stores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// RemoveStore closes and drops a store from the registry.
func (m *Manager) RemoveStore(storeID uint64) error {
	m.mu.Lock()
	s, ok := m.stores[storeID]
	if ok {
		delete(m.stores, storeID)
	}
	if m.metrics != nil {
		m.metrics.StoreCount.Set(float64(len(m.stores)))
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Close()
}

// RunCoordinatedTruncation performs the cross-stream truncation the
// spec leaves to "the owning manager": it gathers every store's oldest
// outstanding phase-1 barrier, truncates the shared device at the
// minimum device key among them, and fans PostDeviceTruncation back out
// to every contributing store. A store with no pending barrier is
// skipped entirely -- it has nothing to reclaim yet.
func (m *Manager) RunCoordinatedTruncation() error {
	m.mu.RLock()
	stores := make([]*logstore.LogStore, 0, len(m.stores))
	for _, s := range m.stores {
		stores = append(stores, s)
	}
	m.mu.RUnlock()

	var minKey logdev.DeviceKey
	haveMin := false
	contributors := make([]*logstore.LogStore, 0, len(stores))
	for _, s := range stores {
		key, ok := s.PreDeviceTruncation()
		if !ok {
			continue
		}
		contributors = append(contributors, s)
		if !haveMin || key.Less(minKey) {
			minKey = key
			haveMin = true
		}
	}
	if !haveMin {
		return nil
	}

	if err := m.device.Truncate(minKey); err != nil {
		return fmt.Errorf("storemanager: device truncate: %w", err)
	}

	for _, s := range contributors {
		s.PostDeviceTruncation(minKey)
		if m.metrics != nil {
			m.metrics.TruncationsTotal.WithLabelValues(storeLabel(s.GetStoreID())).Inc()
		}
	}
	return nil
}

// RefreshMetrics pushes every store's current cursor snapshot into the
// Prometheus gauges. Intended to be called on a short ticker by
// cmd/server, since nothing else updates the gauges.
func (m *Manager) RefreshMetrics() {
	if m.metrics == nil {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, s := range m.stores {
		label := storeLabel(id)
		snap := s.StatusSnapshot()
		m.metrics.IssuedUpto.WithLabelValues(label).Set(float64(snap.IssuedUpto))
		m.metrics.CompletedUpto.WithLabelValues(label).Set(float64(snap.CompletedUpto))
		m.metrics.TruncatedUpto.WithLabelValues(label).Set(float64(snap.TruncatedUpto))
	}
}

// RecordWrite is called by callers submitting writes through the
// manager (rather than directly against a *logstore.LogStore) so the
// writes_total / write_errors_total counters stay accurate.
func (m *Manager) RecordWrite(storeID uint64, err error) {
	if m.metrics == nil {
		return
	}
	label := storeLabel(storeID)
	m.metrics.WritesTotal.WithLabelValues(label).Inc()
	if err != nil {
		m.metrics.WriteErrorsTotal.WithLabelValues(label).Inc()
	}
}

// Close closes every registered store and the shared device.
func (m *Manager) Close() error {
	m.mu.Lock()
	stores := make([]*logstore.LogStore, 0, len(m.stores))
	for _, s := range m.stores {
		stores = append(stores, s)
	}
	m.stores = make(map[uint64]*logstore.LogStore)
	m.mu.Unlock()

	for _, s := range stores {
		_ = s.Close()
	}
	return m.device.Close()
}

func storeLabel(storeID uint64) string {
	return fmt.Sprintf("%d", storeID)
}
