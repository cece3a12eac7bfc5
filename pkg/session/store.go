package session

import (
	"context"
	"time"
)

// SnapshotStore persists session snapshots between disconnect and resume.
// Stores work on the Snapshot type, not opaque bytes: each backend is free
// to keep the version and saved-at metadata queryable in its own schema and
// must reject versions it does not understand on Load.
// Implementations must be safe for concurrent use.
type SnapshotStore interface {
	// Save persists a snapshot. Called when a viewer disconnects and on
	// graceful shutdown. An existing snapshot for sessionID is overwritten.
	Save(ctx context.Context, sessionID string, snap *Snapshot, expiresAt time.Time) error

	// Load retrieves a snapshot by session ID. Returns (nil, nil) if the
	// snapshot doesn't exist or has expired, and UnsupportedVersionError if
	// it was written by an unknown format version.
	Load(ctx context.Context, sessionID string) (*Snapshot, error)

	// Delete removes a snapshot. Called on explicit session teardown or
	// expiration. Should not return an error if the snapshot doesn't exist.
	Delete(ctx context.Context, sessionID string) error

	// Touch updates the expiration time without rewriting the snapshot.
	// Should not return an error if the snapshot doesn't exist.
	Touch(ctx context.Context, sessionID string, expiresAt time.Time) error

	// SaveAll persists multiple snapshots atomically (if possible).
	// Used during graceful shutdown to save all resumable sessions.
	// Implementations that don't support atomicity should save sequentially.
	SaveAll(ctx context.Context, snapshots map[string]StoredSnapshot) error

	// Close releases any resources held by the store.
	Close() error
}

// StoredSnapshot pairs a snapshot with its expiration time.
type StoredSnapshot struct {
	// Snap is the session state to persist.
	Snap *Snapshot

	// ExpiresAt is when the snapshot should expire.
	ExpiresAt time.Time
}

// SnapshotNotFoundError is returned by implementations that need an explicit
// error type. Note: Load returns (nil, nil) for missing snapshots, not this.
type SnapshotNotFoundError struct {
	SessionID string
}

func (e SnapshotNotFoundError) Error() string {
	return "session snapshot not found: " + e.SessionID
}

// ErrStoreClosed is returned when operations are attempted on a closed store.
type ErrStoreClosed struct{}

func (e ErrStoreClosed) Error() string {
	return "snapshot store is closed"
}
