// Package session maps external conversation keys to durable backend thread
// ids, backed by a write-through in-memory cache over the SQLite store.
//
// Invariants:
// - At most one live thread id per session key; creation is idempotent.
// - Creates for the same key are serialized through a per-key lock; creates
//   for different keys proceed independently.
// - Store failures degrade to empty results and never abort the caller.
//
// Usage:
//
//	mgr, _ := session.NewManager(st, session.Config{})
//	threadID, _ := mgr.ResolveOrCreate(ctx, "U1:C1")
//	mgr.Touch(ctx, "U1:C1")
package session
