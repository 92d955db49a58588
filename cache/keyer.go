package cache

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
)

// Key is the identity of a cacheable tool call.
//
// Args holds the canonical JSON of the call arguments. Turn is empty for
// session-scoped keys so that results can be reused across turns.
type Key struct {
	Tool    string
	Args    string
	Session string
	Turn    string
}

// String returns the compact form of the key.
// Format: call:<tool>:<hash>
// where hash is the first 16 hex characters of BLAKE3 over all key fields.
func (k Key) String() string {
	h := blake3.New()
	for _, field := range []string{k.Tool, k.Args, k.Session, k.Turn} {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(field)))
		_, _ = h.Write(n[:])
		_, _ = h.Write([]byte(field))
	}
	sum := h.Sum(nil)
	return "call:" + k.Tool + ":" + hex.EncodeToString(sum[:8])
}

// Keyer derives keys from tool call parameters.
//
// Contract:
// - Determinism: structurally identical arguments produce the same key regardless of field order.
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: malformed arguments return an error wrapping ErrCanonicalization.
type Keyer interface {
	Key(session, turn, tool string, args json.RawMessage, scope Scope) (Key, error)
}

// DefaultKeyer canonicalizes JSON arguments by sorting object keys.
type DefaultKeyer struct{}

// NewDefaultKeyer creates a new default keyer.
func NewDefaultKeyer() *DefaultKeyer {
	return &DefaultKeyer{}
}

// Key builds the key for a call. Turn is dropped for ScopeSession.
func (k *DefaultKeyer) Key(session, turn, tool string, args json.RawMessage, scope Scope) (Key, error) {
	tool = strings.TrimSpace(tool)
	if tool == "" {
		return Key{}, ErrInvalidKey
	}

	canonical, err := Canonicalize(args)
	if err != nil {
		return Key{}, err
	}

	key := Key{
		Tool:    tool,
		Args:    string(canonical),
		Session: session,
	}
	if scope == ScopeTurn {
		key.Turn = turn
	}

	if err := ValidateKey(key.String()); err != nil {
		return Key{}, err
	}
	return key, nil
}

// Canonicalize returns the deterministic JSON form of raw arguments.
// Empty or whitespace-only input is treated as an empty object.
func Canonicalize(raw json.RawMessage) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return []byte("{}"), nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCanonicalization, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after arguments", ErrCanonicalization)
	}

	out, err := canonicalize(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCanonicalization, err)
	}
	return out, nil
}

// canonicalize produces a deterministic JSON representation of a decoded value.
// Maps are sorted by key; numbers keep their original literal.
func canonicalize(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return []byte("null"), nil
	case map[string]any:
		return canonicalizeMap(val)
	case []any:
		return canonicalizeSlice(val)
	case json.Number:
		return []byte(val.String()), nil
	default:
		return json.Marshal(v)
	}
}

func canonicalizeMap(m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := []byte("{")
	for i, k := range keys {
		if i > 0 {
			result = append(result, ',')
		}

		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		result = append(result, keyBytes...)
		result = append(result, ':')

		valBytes, err := canonicalize(m[k])
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	result = append(result, '}')

	return result, nil
}

func canonicalizeSlice(s []any) ([]byte, error) {
	result := []byte("[")
	for i, v := range s {
		if i > 0 {
			result = append(result, ',')
		}

		valBytes, err := canonicalize(v)
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	result = append(result, ']')

	return result, nil
}

// Ensure DefaultKeyer implements Keyer
var _ Keyer = (*DefaultKeyer)(nil)
