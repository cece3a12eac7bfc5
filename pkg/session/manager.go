package session

import (
	"container/list"
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

// Manager tracks live sessions, detaches them when viewers disconnect, and
// persists snapshots through a SnapshotStore so sessions survive reconnects
// and server restarts. It provides LRU eviction for detached sessions and
// per-IP session limits.
type Manager struct {
	mu sync.Mutex

	// All sessions by ID
	sessions map[string]*managed

	// Detached sessions in LRU order (front = most recently accessed)
	detachedQueue *list.List
	detachedIndex map[string]*list.Element

	// Session count per IP address
	sessionsByIP map[string]int

	config ManagerConfig
	store  SnapshotStore
	logger *slog.Logger

	// Random source (for EvictionRandom); overrideable for tests.
	randIntn func(n int) int

	done    chan struct{}
	stopped bool
}

// managed wraps a session with connection bookkeeping.
type managed struct {
	sess           *Session
	ip             string
	connected      bool
	disconnectedAt time.Time

	// snapshot taken at disconnect, persisted on eviction and shutdown.
	snapshot *Snapshot
}

// ManagerConfig configures the session manager.
type ManagerConfig struct {
	// MaxDetachedSessions is the maximum number of detached sessions before
	// eviction. Default: 10000.
	MaxDetachedSessions int

	// MaxSessionsPerIP is the maximum number of active sessions per IP
	// address. Default: 100.
	MaxSessionsPerIP int

	// ResumeWindow is how long a detached session remains resumable.
	// Default: 5 minutes.
	ResumeWindow time.Duration

	// CleanupInterval is how often expired sessions are cleaned up.
	// Default: 1 minute.
	CleanupInterval time.Duration

	// EvictionPolicy determines how sessions are evicted when limits are
	// exceeded. Default: EvictionLRU.
	EvictionPolicy EvictionPolicy
}

// EvictionPolicy determines which detached sessions are evicted first.
type EvictionPolicy int

const (
	// EvictionLRU evicts the least recently accessed sessions first.
	EvictionLRU EvictionPolicy = iota

	// EvictionOldest evicts the oldest sessions first (by creation time).
	EvictionOldest

	// EvictionRandom evicts sessions randomly (faster but less fair).
	EvictionRandom
)

// DefaultManagerConfig returns a ManagerConfig with sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxDetachedSessions: 10000,
		MaxSessionsPerIP:    100,
		ResumeWindow:        5 * time.Minute,
		CleanupInterval:     1 * time.Minute,
		EvictionPolicy:      EvictionLRU,
	}
}

// Error values for session management.
var (
	// ErrTooManySessionsFromIP is returned when the per-IP session limit is exceeded.
	ErrTooManySessionsFromIP = errors.New("too many sessions from this IP address")

	// ErrSessionExpired is returned when trying to resume an expired session.
	ErrSessionExpired = errors.New("session has expired")

	// ErrSessionNotFound is returned when a session doesn't exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrManagerStopped is returned when operations are attempted on a stopped manager.
	ErrManagerStopped = errors.New("session manager is stopped")
)

// NewManager creates a new session manager. The store may be nil, in which
// case sessions do not survive eviction or restarts.
func NewManager(store SnapshotStore, config ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		sessions:      make(map[string]*managed),
		detachedQueue: list.New(),
		detachedIndex: make(map[string]*list.Element),
		sessionsByIP:  make(map[string]int),
		config:        config,
		store:         store,
		logger:        logger.With("component", "session_manager"),
		randIntn:      rand.IntN,
		done:          make(chan struct{}),
	}

	go m.cleanupLoop()

	return m
}

// CheckIPLimit verifies that the IP hasn't exceeded its session limit.
// This should be called before building a new session.
func (m *Manager) CheckIPLimit(ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return ErrManagerStopped
	}

	if m.config.MaxSessionsPerIP > 0 && m.sessionsByIP[ip] >= m.config.MaxSessionsPerIP {
		return ErrTooManySessionsFromIP
	}
	return nil
}

// Register adds a new session to the manager, marked as connected.
func (m *Manager) Register(sess *Session, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return ErrManagerStopped
	}

	if m.config.MaxSessionsPerIP > 0 && m.sessionsByIP[ip] >= m.config.MaxSessionsPerIP {
		return ErrTooManySessionsFromIP
	}

	m.sessions[sess.ID()] = &managed{
		sess:      sess,
		ip:        ip,
		connected: true,
	}
	m.sessionsByIP[ip]++
	sess.Touch()

	m.logger.Debug("session registered",
		"session_id", sess.ID(),
		"ip", ip,
		"ip_session_count", m.sessionsByIP[ip])

	return nil
}

// OnDisconnect handles a viewer disconnect. The session is snapshotted and
// becomes detached; it can be resumed within ResumeWindow.
func (m *Manager) OnDisconnect(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.sessions[sessionID]
	if !exists || m.stopped {
		return
	}

	snapshot, err := entry.sess.Snapshot()
	if err != nil {
		m.logger.Warn("failed to snapshot session on disconnect",
			"session_id", sessionID,
			"error", err)
	}

	now := time.Now()
	entry.connected = false
	entry.disconnectedAt = now
	entry.snapshot = snapshot

	// The detached queue contains at most one entry per session.
	if elem, ok := m.detachedIndex[sessionID]; ok {
		m.detachedQueue.Remove(elem)
		delete(m.detachedIndex, sessionID)
	}
	elem := m.detachedQueue.PushFront(sessionID)
	m.detachedIndex[sessionID] = elem

	for m.detachedQueue.Len() > m.config.MaxDetachedSessions {
		m.evictOneLocked()
	}

	if m.store != nil && snapshot != nil {
		expiresAt := now.Add(m.config.ResumeWindow)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := m.store.Save(ctx, sessionID, snapshot, expiresAt); err != nil {
				m.logger.Warn("failed to persist detached session",
					"session_id", sessionID,
					"error", err)
			}
		}()
	}

	m.logger.Debug("session disconnected",
		"session_id", sessionID,
		"detached_count", m.detachedQueue.Len())
}

// OnReconnect attempts to resume a session. If the session is still live,
// it is returned directly. If only a persisted snapshot remains, the
// snapshot is returned and the caller rebuilds the session and calls
// Restore.
func (m *Manager) OnReconnect(sessionID string) (*Session, *Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, nil, ErrManagerStopped
	}

	entry, exists := m.sessions[sessionID]
	if !exists {
		if m.store != nil {
			snap, err := m.store.Load(context.Background(), sessionID)
			if err != nil {
				var uve UnsupportedVersionError
				if errors.As(err, &uve) {
					// A snapshot from a different build is not resumable;
					// start the viewer fresh instead of failing.
					m.logger.Warn("discarding stored snapshot",
						"session_id", sessionID,
						"version", uve.Version)
					return nil, nil, ErrSessionNotFound
				}
				return nil, nil, err
			}
			if snap != nil {
				return nil, snap, nil
			}
		}
		return nil, nil, ErrSessionNotFound
	}

	if !entry.disconnectedAt.IsZero() {
		if time.Since(entry.disconnectedAt) > m.config.ResumeWindow {
			m.removeSessionLocked(sessionID)
			return nil, nil, ErrSessionExpired
		}
	}

	if elem, ok := m.detachedIndex[sessionID]; ok {
		m.detachedQueue.Remove(elem)
		delete(m.detachedIndex, sessionID)
	}

	entry.connected = true
	entry.disconnectedAt = time.Time{}
	entry.snapshot = nil
	entry.sess.Touch()

	m.logger.Debug("session reconnected",
		"session_id", sessionID,
		"detached_count", m.detachedQueue.Len())

	return entry.sess, nil, nil
}

// Get retrieves a live session by ID.
func (m *Manager) Get(sessionID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, exists := m.sessions[sessionID]; exists {
		return entry.sess
	}
	return nil
}

// Touch records activity for a session.
func (m *Manager) Touch(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, exists := m.sessions[sessionID]; exists {
		entry.sess.Touch()

		if elem, ok := m.detachedIndex[sessionID]; ok {
			m.detachedQueue.MoveToFront(elem)
		}
	}
}

// Remove removes and closes a session. Called on explicit teardown.
func (m *Manager) Remove(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeSessionLocked(sessionID)
}

// removeSessionLocked removes a session (must be called with lock held).
func (m *Manager) removeSessionLocked(sessionID string) {
	entry, exists := m.sessions[sessionID]
	if !exists {
		return
	}

	delete(m.sessions, sessionID)
	m.sessionsByIP[entry.ip]--
	if m.sessionsByIP[entry.ip] <= 0 {
		delete(m.sessionsByIP, entry.ip)
	}

	if elem, ok := m.detachedIndex[sessionID]; ok {
		m.detachedQueue.Remove(elem)
		delete(m.detachedIndex, sessionID)
	}

	entry.sess.Close()

	if m.store != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			m.store.Delete(ctx, sessionID)
		}()
	}

	m.logger.Debug("session removed",
		"session_id", sessionID,
		"remaining", len(m.sessions))
}

// evictOneLocked evicts one detached session according to the configured
// EvictionPolicy (must be called with lock held).
func (m *Manager) evictOneLocked() {
	if m.detachedQueue.Len() == 0 {
		return
	}

	var sessionID string

	switch m.config.EvictionPolicy {
	case EvictionLRU:
		// Least recently used detached session is at the back.
		if back := m.detachedQueue.Back(); back != nil {
			sessionID = back.Value.(string)
		}
	case EvictionOldest:
		// Oldest by creation time among detached sessions.
		var oldestID string
		var oldestTime time.Time
		found := false

		for e := m.detachedQueue.Front(); e != nil; e = e.Next() {
			id := e.Value.(string)
			entry := m.sessions[id]
			if entry == nil {
				continue
			}
			if !found || entry.sess.CreatedAt().Before(oldestTime) {
				found = true
				oldestID = id
				oldestTime = entry.sess.CreatedAt()
			}
		}

		if found {
			sessionID = oldestID
		} else if back := m.detachedQueue.Back(); back != nil {
			sessionID = back.Value.(string)
		}
	case EvictionRandom:
		// Random detached session for speed; deterministic in tests via
		// the randIntn override.
		n := m.detachedQueue.Len()

		intn := m.randIntn
		if intn == nil {
			intn = rand.IntN
		}

		idx := intn(n)
		if idx < 0 {
			idx = 0
		} else if idx >= n {
			idx = n - 1
		}

		e := m.detachedQueue.Front()
		for i := 0; i < idx && e != nil; i++ {
			e = e.Next()
		}
		if e == nil {
			e = m.detachedQueue.Back()
		}
		if e != nil {
			sessionID = e.Value.(string)
		}
	default:
		// Fail-safe: treat unknown values as LRU.
		if back := m.detachedQueue.Back(); back != nil {
			sessionID = back.Value.(string)
		}
	}

	if sessionID == "" {
		return
	}

	entry := m.sessions[sessionID]

	// Persist before eviction so the session stays resumable.
	if m.store != nil && entry != nil && entry.snapshot != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		expiresAt := time.Now().Add(m.config.ResumeWindow)
		_ = m.store.Save(ctx, sessionID, entry.snapshot, expiresAt)
		cancel()
	}

	m.removeSessionLocked(sessionID)

	m.logger.Debug("evicted session",
		"session_id", sessionID,
		"policy", m.config.EvictionPolicy,
		"reason", "detached_limit_exceeded")
}

// cleanupLoop periodically cleans up expired sessions.
func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanupExpired()
		case <-m.done:
			return
		}
	}
}

// cleanupExpired removes detached sessions that have exceeded ResumeWindow.
func (m *Manager) cleanupExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}

	now := time.Now()
	var expired []string

	for id, entry := range m.sessions {
		if entry.disconnectedAt.IsZero() {
			continue
		}

		if now.Sub(entry.disconnectedAt) > m.config.ResumeWindow {
			expired = append(expired, id)
		}
	}

	for _, id := range expired {
		m.removeSessionLocked(id)
	}

	if len(expired) > 0 {
		m.logger.Debug("cleaned up expired sessions",
			"count", len(expired),
			"remaining", len(m.sessions))
	}
}

// Shutdown gracefully shuts down the manager, snapshotting and persisting
// every session.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()

	if m.stopped {
		m.mu.Unlock()
		return nil
	}

	m.stopped = true
	close(m.done)

	expiresAt := time.Now().Add(m.config.ResumeWindow)
	toSave := make(map[string]StoredSnapshot)
	for id, entry := range m.sessions {
		snap := entry.snapshot
		if entry.connected {
			var err error
			snap, err = entry.sess.Snapshot()
			if err != nil {
				m.logger.Warn("failed to snapshot session on shutdown",
					"session_id", id,
					"error", err)
				continue
			}
		}
		if snap != nil {
			toSave[id] = StoredSnapshot{Snap: snap, ExpiresAt: expiresAt}
		}
	}

	m.mu.Unlock()

	if m.store != nil && len(toSave) > 0 {
		if err := m.store.SaveAll(ctx, toSave); err != nil {
			m.logger.Warn("failed to persist sessions on shutdown",
				"error", err,
				"count", len(toSave))
			return err
		}
		m.logger.Info("persisted sessions on shutdown",
			"count", len(toSave))
	}

	return nil
}

// Stats returns manager statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	connected := 0
	for _, entry := range m.sessions {
		if entry.connected {
			connected++
		}
	}

	return ManagerStats{
		Total:     len(m.sessions),
		Connected: connected,
		Detached:  m.detachedQueue.Len(),
		UniqueIPs: len(m.sessionsByIP),
	}
}

// ManagerStats contains session manager statistics.
type ManagerStats struct {
	// Total is the total number of live sessions (connected + detached).
	Total int

	// Connected is the number of sessions with an active viewer.
	Connected int

	// Detached is the number of sessions waiting for reconnection.
	Detached int

	// UniqueIPs is the number of unique client IP addresses.
	UniqueIPs int
}
