package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory snapshot store implementation.
// It's the default store and suitable for single-server deployments.
// For multi-server deployments, use RedisStore, SQLStore, or S3Store.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]*memoryEntry
	closed    bool
	done      chan struct{}
}

type memoryEntry struct {
	snap      *Snapshot
	expiresAt time.Time
}

// MemoryStoreOption configures MemoryStore behavior.
type MemoryStoreOption func(*memoryStoreConfig)

type memoryStoreConfig struct {
	cleanupInterval time.Duration
}

// WithCleanupInterval sets how often expired snapshots are cleaned up.
// Default: 1 minute.
func WithCleanupInterval(d time.Duration) MemoryStoreOption {
	return func(c *memoryStoreConfig) {
		c.cleanupInterval = d
	}
}

// NewMemoryStore creates a new in-memory snapshot store.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	cfg := &memoryStoreConfig{
		cleanupInterval: 1 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	store := &MemoryStore{
		snapshots: make(map[string]*memoryEntry),
		done:      make(chan struct{}),
	}

	go store.cleanupLoop(cfg.cleanupInterval)
	return store
}

// Save stores a snapshot with an expiration time.
func (m *MemoryStore) Save(ctx context.Context, sessionID string, snap *Snapshot, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed{}
	}

	// Clone so later caller mutations can't corrupt the stored snapshot.
	m.snapshots[sessionID] = &memoryEntry{
		snap:      snap.clone(),
		expiresAt: expiresAt,
	}
	return nil
}

// Load retrieves a snapshot if it exists and hasn't expired.
func (m *MemoryStore) Load(ctx context.Context, sessionID string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed{}
	}

	e, ok := m.snapshots[sessionID]
	if !ok {
		return nil, nil
	}

	if time.Now().After(e.expiresAt) {
		return nil, nil
	}

	if e.snap.Version != SnapshotVersion {
		return nil, UnsupportedVersionError{Version: e.snap.Version}
	}

	return e.snap.clone(), nil
}

// Delete removes a snapshot from the store.
func (m *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed{}
	}

	delete(m.snapshots, sessionID)
	return nil
}

// Touch updates the expiration time for a snapshot.
func (m *MemoryStore) Touch(ctx context.Context, sessionID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed{}
	}

	if e, ok := m.snapshots[sessionID]; ok {
		e.expiresAt = expiresAt
	}
	return nil
}

// SaveAll saves multiple snapshots atomically.
func (m *MemoryStore) SaveAll(ctx context.Context, snapshots map[string]StoredSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed{}
	}

	for id, sd := range snapshots {
		m.snapshots[id] = &memoryEntry{
			snap:      sd.Snap.clone(),
			expiresAt: sd.ExpiresAt,
		}
	}
	return nil
}

// Close shuts down the store and releases resources.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true
	close(m.done)
	m.snapshots = nil
	return nil
}

// Count returns the number of snapshots in the store.
// This is for monitoring/testing purposes.
func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.snapshots)
}

// cleanupLoop periodically removes expired snapshots.
func (m *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.done:
			return
		}
	}
}

func (m *MemoryStore) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	now := time.Now()
	for id, e := range m.snapshots {
		if now.After(e.expiresAt) {
			delete(m.snapshots, id)
		}
	}
}
