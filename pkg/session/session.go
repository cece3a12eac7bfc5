package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/param-go/param/pkg/param"
	"github.com/param-go/param/pkg/querysync"
	"github.com/param-go/param/pkg/widget"
)

// Session owns the reactive state for one connected viewer: a dispatcher,
// the named root instances built on it, and the panels and syncers attached
// to those roots. Closing the session tears all of them down in order.
type Session struct {
	id   string
	disp *param.Dispatcher

	mu      sync.Mutex
	roots   map[string]*param.Instance
	panels  []*widget.Panel
	syncers []*querysync.Syncer

	createdAt  time.Time
	lastActive time.Time
	logger     *slog.Logger
	closed     bool
}

// Option configures a Session.
type Option func(*Session)

// WithDispatcher uses an existing dispatcher instead of creating one.
func WithDispatcher(d *param.Dispatcher) Option {
	return func(s *Session) {
		s.disp = d
	}
}

// WithLogger sets the logger used for restore warnings.
// Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// New creates a session with its own dispatcher.
func New(id string, opts ...Option) *Session {
	now := time.Now()
	s := &Session{
		id:         id,
		roots:      make(map[string]*param.Instance),
		createdAt:  now,
		lastActive: now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.disp == nil {
		s.disp = param.NewDispatcher(param.WithLogger(s.logger))
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Dispatcher returns the session's dispatcher.
func (s *Session) Dispatcher() *param.Dispatcher { return s.disp }

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastActive returns when the session was last touched.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Touch records viewer activity.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = time.Now()
}

// AddRoot constructs an instance of the class on the session's dispatcher
// and registers it under the given name. Root names must be unique within
// the session.
func (s *Session) AddRoot(name string, c *param.Class, initial map[string]any) (*param.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("session %s is closed", s.id)
	}
	if _, exists := s.roots[name]; exists {
		return nil, fmt.Errorf("session %s already has a root named %q", s.id, name)
	}

	inst, err := c.New(s.disp, initial)
	if err != nil {
		return nil, err
	}
	s.roots[name] = inst
	return inst, nil
}

// Root returns the named root instance.
func (s *Session) Root(name string) (*param.Instance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.roots[name]
	return inst, ok
}

// RootNames returns the names of all registered roots.
func (s *Session) RootNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.roots))
	for name := range s.roots {
		names = append(names, name)
	}
	return names
}

// AttachPanel registers a panel for teardown when the session closes.
func (s *Session) AttachPanel(p *widget.Panel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panels = append(s.panels, p)
}

// AttachSyncer registers a syncer for teardown when the session closes.
func (s *Session) AttachSyncer(sy *querysync.Syncer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncers = append(s.syncers, sy)
}

// Snapshot captures the current values of every root instance.
func (s *Session) Snapshot() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("session %s is closed", s.id)
	}

	snap := &Snapshot{
		Version: SnapshotVersion,
		SavedAt: time.Now(),
		Roots:   make(map[string]map[string]json.RawMessage, len(s.roots)),
	}
	for name, inst := range s.roots {
		vals, err := encodeInstance(inst)
		if err != nil {
			return nil, err
		}
		snap.Roots[name] = vals
	}
	return snap, nil
}

// Restore applies a snapshot to the session's roots. All writes happen in
// one batch so dependents fire once. Roots and attributes the snapshot
// mentions but the session doesn't have are skipped; restore is best-effort.
func (s *Session) Restore(snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("session: nil snapshot")
	}
	if snap.Version != SnapshotVersion {
		return UnsupportedVersionError{Version: snap.Version}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("session %s is closed", s.id)
	}
	roots := make(map[string]*param.Instance, len(s.roots))
	for name, inst := range s.roots {
		roots[name] = inst
	}
	s.mu.Unlock()

	return s.disp.Batch(func() {
		for name, vals := range snap.Roots {
			inst, ok := roots[name]
			if !ok {
				s.logger.Warn("snapshot root has no live counterpart",
					"session_id", s.id, "root", name)
				continue
			}
			applyValues(inst, vals, s.logger)
		}
	})
}

// DetachViews closes and forgets the attached panels and syncers while
// keeping the roots and dispatcher alive. Called when a viewer disconnects:
// the reactive state survives for resume, the dead connection's views don't.
func (s *Session) DetachViews() {
	s.mu.Lock()
	syncers := s.syncers
	panels := s.panels
	s.syncers = nil
	s.panels = nil
	s.mu.Unlock()

	for _, sy := range syncers {
		sy.Close()
	}
	for _, p := range panels {
		p.Close()
	}
}

// Close tears down the session: syncers first so external locations stop
// receiving writes, then panels, then instances, then the dispatcher.
// Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	syncers := s.syncers
	panels := s.panels
	roots := s.roots
	s.syncers = nil
	s.panels = nil
	s.roots = nil
	s.mu.Unlock()

	for _, sy := range syncers {
		sy.Close()
	}
	for _, p := range panels {
		p.Close()
	}
	for _, inst := range roots {
		inst.Close()
	}
	s.disp.Close()
}
