// Package cache stores tool call results for a single agent session.
//
// It provides deterministic call keys (canonical JSON arguments hashed with
// BLAKE3), a bounded in-memory store with lazy TTL expiry, and eviction of
// turn-scoped and session-scoped entries when a turn or session ends.
package cache
