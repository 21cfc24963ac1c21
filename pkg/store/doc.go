// Package store persists sessions and their message history in SQLite.
//
// Invariants:
// - Every write is committed before the call returns.
// - All writes are serialized behind a single lock; reads run concurrently.
// - Messages of a session are ordered by their autoincrement id, which equals
//   append order.
// - Deleting a session removes its messages in the same transaction, and the
//   foreign key rejects messages for sessions that no longer exist.
// - Driver failures are wrapped in ErrStorage and never retried.
//
// Usage:
//
//	path, _ := store.ResolvePath(preferredDir, os.TempDir(), "agentrelay.sqlite3")
//	st, _ := store.Open(store.Config{Path: path})
//	defer st.Close()
//	id, _ := st.AppendMessage(ctx, sessionID, "user", blocks)
package store
