package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testManagerConfig() ManagerConfig {
	cfg := DefaultManagerConfig()
	cfg.CleanupInterval = time.Hour
	return cfg
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestManagerRegisterAndGet(t *testing.T) {
	m := NewManager(nil, testManagerConfig(), nil)

	sess := New("s1")
	if err := m.Register(sess, "10.0.0.1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if got := m.Get("s1"); got != sess {
		t.Errorf("Get() = %v, want the registered session", got)
	}

	stats := m.Stats()
	if stats.Total != 1 || stats.Connected != 1 || stats.UniqueIPs != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestManagerPerIPLimit(t *testing.T) {
	cfg := testManagerConfig()
	cfg.MaxSessionsPerIP = 1
	m := NewManager(nil, cfg, nil)

	if err := m.Register(New("s1"), "10.0.0.1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := m.Register(New("s2"), "10.0.0.1"); !errors.Is(err, ErrTooManySessionsFromIP) {
		t.Errorf("second session on same IP: %v", err)
	}
	if err := m.CheckIPLimit("10.0.0.1"); !errors.Is(err, ErrTooManySessionsFromIP) {
		t.Errorf("CheckIPLimit: %v", err)
	}
	if err := m.Register(New("s3"), "10.0.0.2"); err != nil {
		t.Errorf("different IP rejected: %v", err)
	}
}

func TestManagerDisconnectResume(t *testing.T) {
	c := simClass(t)
	store := NewMemoryStore(WithCleanupInterval(time.Hour))
	t.Cleanup(func() { _ = store.Close() })
	m := NewManager(store, testManagerConfig(), nil)

	sess := New("s1")
	inst, _ := sess.AddRoot("sim", c, nil)
	inst.Set("gain", 6.0)
	if err := m.Register(sess, "10.0.0.1"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	m.OnDisconnect("s1")
	if stats := m.Stats(); stats.Detached != 1 || stats.Connected != 0 {
		t.Fatalf("Stats() after disconnect = %+v", stats)
	}
	waitFor(t, func() bool { return store.Count() == 1 }, "snapshot never reached the store")

	resumed, data, err := m.OnReconnect("s1")
	if err != nil {
		t.Fatalf("OnReconnect: %v", err)
	}
	if resumed != sess {
		t.Errorf("expected the live session back, got %v", resumed)
	}
	if data != nil {
		t.Errorf("live resume should not hand back snapshot bytes")
	}
	if stats := m.Stats(); stats.Detached != 0 || stats.Connected != 1 {
		t.Errorf("Stats() after resume = %+v", stats)
	}
}

func TestManagerResumeFromStoreOnly(t *testing.T) {
	c := simClass(t)
	store := NewMemoryStore(WithCleanupInterval(time.Hour))
	t.Cleanup(func() { _ = store.Close() })
	m := NewManager(store, testManagerConfig(), nil)

	// A snapshot from a previous process: no live session exists.
	ghost := New("ghost")
	inst, _ := ghost.AddRoot("sim", c, nil)
	inst.Set("label", "before restart")
	snap, err := ghost.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	ghost.Close()
	store.Save(context.Background(), "ghost", snap, time.Now().Add(time.Minute))

	resumed, data, err := m.OnReconnect("ghost")
	if err != nil {
		t.Fatalf("OnReconnect: %v", err)
	}
	if resumed != nil {
		t.Errorf("no live session should exist, got %v", resumed)
	}

	rebuilt := New("ghost")
	defer rebuilt.Close()
	restored, _ := rebuilt.AddRoot("sim", c, nil)
	if err := rebuilt.Restore(data); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := restored.MustGet("label"); got != "before restart" {
		t.Errorf("label = %v", got)
	}
}

func TestManagerReconnectForeignVersionStartsFresh(t *testing.T) {
	store := NewMemoryStore(WithCleanupInterval(time.Hour))
	t.Cleanup(func() { _ = store.Close() })
	m := NewManager(store, testManagerConfig(), nil)

	// A snapshot written by a different build is not resumable; the viewer
	// starts over instead of seeing an error.
	store.Save(context.Background(), "old", &Snapshot{Version: 99, SavedAt: time.Now()}, time.Now().Add(time.Minute))

	if _, _, err := m.OnReconnect("old"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("OnReconnect: %v", err)
	}
}

func TestManagerResumeExpired(t *testing.T) {
	cfg := testManagerConfig()
	cfg.ResumeWindow = 10 * time.Millisecond
	m := NewManager(nil, cfg, nil)

	sess := New("s1")
	m.Register(sess, "10.0.0.1")
	m.OnDisconnect("s1")

	time.Sleep(25 * time.Millisecond)
	if _, _, err := m.OnReconnect("s1"); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("OnReconnect after window: %v", err)
	}
	if m.Get("s1") != nil {
		t.Error("expired session still tracked")
	}
}

func TestManagerReconnectUnknown(t *testing.T) {
	m := NewManager(nil, testManagerConfig(), nil)
	if _, _, err := m.OnReconnect("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("OnReconnect: %v", err)
	}
}

func TestManagerDetachedEviction(t *testing.T) {
	cfg := testManagerConfig()
	cfg.MaxDetachedSessions = 1
	m := NewManager(nil, cfg, nil)

	m.Register(New("s1"), "10.0.0.1")
	m.Register(New("s2"), "10.0.0.2")
	m.OnDisconnect("s1")
	m.OnDisconnect("s2")

	stats := m.Stats()
	if stats.Detached != 1 {
		t.Fatalf("Detached = %d, want 1", stats.Detached)
	}
	// s1 was least recently detached; it gets evicted.
	if m.Get("s1") != nil {
		t.Error("evicted session still tracked")
	}
	if m.Get("s2") == nil {
		t.Error("most recent detached session was evicted")
	}
}

func TestManagerCleanupExpired(t *testing.T) {
	cfg := testManagerConfig()
	cfg.ResumeWindow = time.Millisecond
	m := NewManager(nil, cfg, nil)

	m.Register(New("s1"), "10.0.0.1")
	m.OnDisconnect("s1")
	time.Sleep(5 * time.Millisecond)

	m.cleanupExpired()
	if stats := m.Stats(); stats.Total != 0 {
		t.Errorf("Stats() after cleanup = %+v", stats)
	}
}

func TestManagerShutdownPersistsSessions(t *testing.T) {
	c := simClass(t)
	store := NewMemoryStore(WithCleanupInterval(time.Hour))
	t.Cleanup(func() { _ = store.Close() })
	m := NewManager(store, testManagerConfig(), nil)

	sess := New("s1")
	sess.AddRoot("sim", c, nil)
	m.Register(sess, "10.0.0.1")

	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if store.Count() != 1 {
		t.Errorf("store has %d snapshots, want 1", store.Count())
	}

	if err := m.Register(New("s2"), "10.0.0.1"); !errors.Is(err, ErrManagerStopped) {
		t.Errorf("Register after shutdown: %v", err)
	}
	if _, _, err := m.OnReconnect("s1"); !errors.Is(err, ErrManagerStopped) {
		t.Errorf("OnReconnect after shutdown: %v", err)
	}
}
