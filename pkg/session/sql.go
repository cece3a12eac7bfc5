package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SQLStore is a SQL-backed snapshot store.
// It works with any database/sql compatible driver (PostgreSQL, MySQL, SQLite).
// The schema keeps the snapshot metadata queryable: the format version and
// save time are columns, and only the root attribute values are stored as a
// JSON document:
//
//	CREATE TABLE param_sessions (
//	    id VARCHAR(64) PRIMARY KEY,
//	    version INTEGER NOT NULL,
//	    saved_at TIMESTAMP WITH TIME ZONE NOT NULL,
//	    roots JSONB NOT NULL,
//	    expires_at TIMESTAMP WITH TIME ZONE NOT NULL
//	);
//	CREATE INDEX idx_param_sessions_expires ON param_sessions(expires_at);
type SQLStore struct {
	db              *sql.DB
	tableName       string
	dialect         SQLDialect
	cleanupInterval time.Duration
	closed          bool
	done            chan struct{}
}

// SQLDialect represents the SQL dialect for query generation.
type SQLDialect int

const (
	// DialectPostgreSQL uses PostgreSQL syntax ($1, $2 placeholders).
	DialectPostgreSQL SQLDialect = iota
	// DialectMySQL uses MySQL syntax (? placeholders).
	DialectMySQL
	// DialectSQLite uses SQLite syntax (? placeholders).
	DialectSQLite
)

// SQLStoreOption configures SQLStore behavior.
type SQLStoreOption func(*sqlStoreConfig)

type sqlStoreConfig struct {
	tableName       string
	dialect         SQLDialect
	cleanupInterval time.Duration
}

// WithSQLTableName sets the table name for snapshot storage.
// Default: "param_sessions".
func WithSQLTableName(name string) SQLStoreOption {
	return func(c *sqlStoreConfig) {
		c.tableName = name
	}
}

// WithSQLDialect sets the SQL dialect for query generation.
// Default: DialectPostgreSQL.
func WithSQLDialect(dialect SQLDialect) SQLStoreOption {
	return func(c *sqlStoreConfig) {
		c.dialect = dialect
	}
}

// WithSQLCleanupInterval sets how often expired snapshots are cleaned up.
// Default: 5 minutes.
func WithSQLCleanupInterval(d time.Duration) SQLStoreOption {
	return func(c *sqlStoreConfig) {
		c.cleanupInterval = d
	}
}

// NewSQLStore creates a new SQL-backed snapshot store.
func NewSQLStore(db *sql.DB, opts ...SQLStoreOption) *SQLStore {
	cfg := &sqlStoreConfig{
		tableName:       "param_sessions",
		dialect:         DialectPostgreSQL,
		cleanupInterval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	store := &SQLStore{
		db:              db,
		tableName:       cfg.tableName,
		dialect:         cfg.dialect,
		cleanupInterval: cfg.cleanupInterval,
		done:            make(chan struct{}),
	}

	go store.cleanupLoop()
	return store
}

// placeholder returns the placeholder syntax for the dialect.
func (s *SQLStore) placeholder(n int) string {
	switch s.dialect {
	case DialectPostgreSQL:
		return fmt.Sprintf("$%d", n)
	default:
		return "?"
	}
}

// now returns the dialect's current-timestamp expression.
func (s *SQLStore) now() string {
	if s.dialect == DialectSQLite {
		return "datetime('now')"
	}
	return "NOW()"
}

// upsertQuery returns the insert-or-replace statement for the dialect. The
// bind order is (id, version, saved_at, roots, expires_at).
func (s *SQLStore) upsertQuery() string {
	switch s.dialect {
	case DialectMySQL:
		return fmt.Sprintf(`
			INSERT INTO %s (id, version, saved_at, roots, expires_at)
			VALUES (?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				version = VALUES(version),
				saved_at = VALUES(saved_at),
				roots = VALUES(roots),
				expires_at = VALUES(expires_at)
		`, s.tableName)
	case DialectSQLite:
		return fmt.Sprintf(`
			INSERT OR REPLACE INTO %s (id, version, saved_at, roots, expires_at)
			VALUES (?, ?, ?, ?, ?)
		`, s.tableName)
	default:
		return fmt.Sprintf(`
			INSERT INTO %s (id, version, saved_at, roots, expires_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				version = EXCLUDED.version,
				saved_at = EXCLUDED.saved_at,
				roots = EXCLUDED.roots,
				expires_at = EXCLUDED.expires_at
		`, s.tableName)
	}
}

// bindArgs flattens a snapshot into the upsert bind order.
func bindArgs(sessionID string, snap *Snapshot, expiresAt time.Time) ([]any, error) {
	roots, err := json.Marshal(snap.Roots)
	if err != nil {
		return nil, fmt.Errorf("session: encode snapshot roots: %w", err)
	}
	return []any{sessionID, snap.Version, snap.SavedAt, roots, expiresAt}, nil
}

// Save upserts a snapshot row with an expiration time.
func (s *SQLStore) Save(ctx context.Context, sessionID string, snap *Snapshot, expiresAt time.Time) error {
	if s.closed {
		return ErrStoreClosed{}
	}

	args, err := bindArgs(sessionID, snap, expiresAt)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.upsertQuery(), args...)
	return err
}

// Load reassembles a snapshot from its row if it exists and hasn't expired.
func (s *SQLStore) Load(ctx context.Context, sessionID string) (*Snapshot, error) {
	if s.closed {
		return nil, ErrStoreClosed{}
	}

	query := fmt.Sprintf(`
		SELECT version, saved_at, roots FROM %s
		WHERE id = %s AND expires_at > %s
	`, s.tableName, s.placeholder(1), s.now())

	var (
		version int
		savedAt time.Time
		roots   []byte
	)
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(&version, &savedAt, &roots)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	if version != SnapshotVersion {
		return nil, UnsupportedVersionError{Version: version}
	}

	snap := &Snapshot{Version: version, SavedAt: savedAt}
	if err := json.Unmarshal(roots, &snap.Roots); err != nil {
		return nil, fmt.Errorf("session: decode snapshot roots: %w", err)
	}
	return snap, nil
}

// Delete removes a snapshot row.
func (s *SQLStore) Delete(ctx context.Context, sessionID string) error {
	if s.closed {
		return ErrStoreClosed{}
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = %s`, s.tableName, s.placeholder(1))
	_, err := s.db.ExecContext(ctx, query, sessionID)
	return err
}

// Touch updates the expiration time for a snapshot.
func (s *SQLStore) Touch(ctx context.Context, sessionID string, expiresAt time.Time) error {
	if s.closed {
		return ErrStoreClosed{}
	}

	query := fmt.Sprintf(`
		UPDATE %s SET expires_at = %s WHERE id = %s
	`, s.tableName, s.placeholder(1), s.placeholder(2))

	_, err := s.db.ExecContext(ctx, query, expiresAt, sessionID)
	return err
}

// SaveAll saves multiple snapshots using a transaction.
func (s *SQLStore) SaveAll(ctx context.Context, snapshots map[string]StoredSnapshot) error {
	if s.closed {
		return ErrStoreClosed{}
	}

	if len(snapshots) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.upsertQuery())
	if err != nil {
		return err
	}
	defer stmt.Close()

	for id, sd := range snapshots {
		args, err := bindArgs(id, sd.Snap, sd.ExpiresAt)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Close shuts down the store and releases resources.
// Note: This does not close the underlying database connection,
// as it may be shared with other components.
func (s *SQLStore) Close() error {
	if s.closed {
		return nil
	}

	s.closed = true
	close(s.done)
	return nil
}

// cleanupLoop periodically removes expired rows.
func (s *SQLStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.done:
			return
		}
	}
}

func (s *SQLStore) cleanup() {
	if s.closed {
		return
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at < %s`, s.tableName, s.now())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.db.ExecContext(ctx, query)
}

// CreateTable creates the snapshot table if it doesn't exist.
// This is a convenience method for development/testing.
func (s *SQLStore) CreateTable(ctx context.Context) error {
	var query string
	switch s.dialect {
	case DialectPostgreSQL:
		query = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id VARCHAR(64) PRIMARY KEY,
				version INTEGER NOT NULL,
				saved_at TIMESTAMP WITH TIME ZONE NOT NULL,
				roots JSONB NOT NULL,
				expires_at TIMESTAMP WITH TIME ZONE NOT NULL
			)
		`, s.tableName)
	case DialectMySQL:
		query = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id VARCHAR(64) PRIMARY KEY,
				version INT NOT NULL,
				saved_at DATETIME NOT NULL,
				roots JSON NOT NULL,
				expires_at DATETIME NOT NULL
			)
		`, s.tableName)
	case DialectSQLite:
		query = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				version INTEGER NOT NULL,
				saved_at TEXT NOT NULL,
				roots TEXT NOT NULL,
				expires_at TEXT NOT NULL
			)
		`, s.tableName)
	}

	_, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return err
	}

	var indexQuery string
	switch s.dialect {
	case DialectMySQL:
		// MySQL doesn't support IF NOT EXISTS for indexes.
		indexQuery = fmt.Sprintf(`
			CREATE INDEX idx_%s_expires ON %s(expires_at)
		`, s.tableName, s.tableName)
	default:
		indexQuery = fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS idx_%s_expires ON %s(expires_at)
		`, s.tableName, s.tableName)
	}

	// Index may already exist; ignore the error.
	s.db.ExecContext(ctx, indexQuery)

	return nil
}
