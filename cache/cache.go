package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxKeyLength is the maximum allowed length for a cache key.
const MaxKeyLength = 512

// Sentinel errors for cache operations.
var (
	ErrNilStore         = errors.New("cache: store is nil")
	ErrInvalidKey       = errors.New("cache: key is invalid")
	ErrKeyTooLong       = errors.New("cache: key exceeds max length")
	ErrCanonicalization = errors.New("cache: arguments cannot be canonicalized")
	ErrUnknownScope     = errors.New("cache: unknown scope")
)

// Scope bounds the lifetime of a cache entry.
type Scope int

const (
	// ScopeTurn entries are evicted when their turn ends.
	ScopeTurn Scope = iota
	// ScopeSession entries live until TTL expiry or session teardown.
	ScopeSession
)

// String returns the configuration name of the scope.
func (s Scope) String() string {
	switch s {
	case ScopeTurn:
		return "turn"
	case ScopeSession:
		return "session"
	default:
		return "unknown"
	}
}

// ParseScope parses "turn" or "session". An empty string yields ScopeTurn.
func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "turn":
		return ScopeTurn, nil
	case "session":
		return ScopeSession, nil
	default:
		return ScopeTurn, fmt.Errorf("%w: %q", ErrUnknownScope, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Scope) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Scope) UnmarshalText(text []byte) error {
	parsed, err := ParseScope(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Result is the opaque outcome of a tool call. Err is non-nil for failures;
// a failure from a cacheable tool is stored and served like a success.
type Result struct {
	Payload []byte
	Err     error
}

// Entry is a stored result together with its freshness bounds.
type Entry struct {
	Key       Key
	Result    Result
	CreatedAt time.Time
	TTL       time.Duration
	Scope     Scope
}

// ExpiresAt returns the instant after which the entry must not be served.
func (e Entry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(e.TTL)
}

// Expired reports whether the entry is stale at now.
func (e Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt())
}

// Store holds tool results for one session.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Freshness: Get never returns an entry past CreatedAt+TTL.
// - Atomicity: a reader observes either the previous entry or the new one, never a partial write.
type Store interface {
	// Get returns the entry for key. Returns (Entry{}, false) on miss or expiry.
	Get(ctx context.Context, key Key) (Entry, bool)

	// Put stores result under key, replacing any existing entry. TTL<=0 is a no-op.
	Put(ctx context.Context, key Key, result Result, ttl time.Duration, scope Scope) error

	// EvictTurn removes every turn-scoped entry recorded for turn.
	EvictTurn(turn string)

	// EvictSession removes every entry recorded for session.
	EvictSession(session string)

	// Len returns the number of stored entries, including unexpired-but-unread stale ones.
	Len() int
}

// ValidateKey checks if a key string is valid for caching.
func ValidateKey(key string) error {
	if key == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	// Reject keys with newlines or carriage returns
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}
