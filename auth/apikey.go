package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
)

// DefaultHeader carries the API key when no Authorization bearer token is sent.
const DefaultHeader = "X-API-Key"

// APIKeys is an immutable set of accepted keys.
type APIKeys struct {
	header string
	hashes [][sha256.Size]byte
}

// NewAPIKeys hashes keys for later comparison. An empty header uses DefaultHeader.
func NewAPIKeys(header string, keys ...string) (*APIKeys, error) {
	if header == "" {
		header = DefaultHeader
	}
	a := &APIKeys{header: header, hashes: make([][sha256.Size]byte, 0, len(keys))}
	for i, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("%w: index %d", ErrEmptyKey, i)
		}
		a.hashes = append(a.hashes, sha256.Sum256([]byte(key)))
	}
	return a, nil
}

// Len returns the number of accepted keys.
func (a *APIKeys) Len() int { return len(a.hashes) }

// Verify checks one presented key against every accepted key.
func (a *APIKeys) Verify(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrMissingCredentials
	}
	sum := sha256.Sum256([]byte(key))
	match := 0
	for _, h := range a.hashes {
		match |= subtle.ConstantTimeCompare(sum[:], h[:])
	}
	if match != 1 {
		return ErrInvalidCredentials
	}
	return nil
}

// Authenticate extracts the key from a bearer token or the configured header.
func (a *APIKeys) Authenticate(r *http.Request) error {
	if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return a.Verify(bearer)
	}
	return a.Verify(r.Header.Get(a.header))
}

var _ Authenticator = (*APIKeys)(nil)

// HashAPIKey returns the hex SHA-256 of key, for logging a key's identity.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
