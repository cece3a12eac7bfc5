// Package session ties a viewer's reactive state into one managed unit.
//
// A Session owns a dispatcher, the root instances built on it, and the
// panels and syncers attached to those roots; closing the session tears
// everything down in order.
//
// # Snapshot Storage
//
// The SnapshotStore interface defines the contract for persisting session
// state across disconnects and restarts:
//
//	store := session.NewMemoryStore()          // default
//	// or
//	store := session.NewSQLStore(db)
//	// or
//	store := session.NewRedisStore(redisClient)
//	// or
//	store := session.NewS3Store(s3Client, "bucket", "sessions/")
//
// # Snapshots
//
// A snapshot records the attribute values of every root instance, with the
// format version and save time carried alongside:
//
//	snap, err := sess.Snapshot()
//	// Later, on a freshly built session with the same roots...
//	err := sess.Restore(snap)
//
// Restore applies all values in one batch, so dependents fire once.
//
// # Memory Protection
//
// The Manager provides a resume window for disconnected viewers, LRU
// eviction for detached sessions, and per-IP limits:
//
//	manager := session.NewManager(store, session.DefaultManagerConfig(), logger)
//	manager.Register(sess, clientIP)
//	manager.OnDisconnect(sess.ID())
//	resumed, snapshot, err := manager.OnReconnect(sess.ID())
package session
