// Package allowlist classifies tools as safe to cache and safe to dedupe.
//
// The allowlist is static, reviewable configuration. Tools that are not listed
// are neither cached nor deduplicated, and a listed tool tagged as having side
// effects is rejected when the list is built. Caching and deduplication are
// separate predicates; an entry that does not set dedupe inherits its cache
// flag.
//
// A Source holds the current snapshot and can reload it from disk. Snapshots
// are immutable, so a session that captured one at open time never observes a
// reload.
package allowlist
