package cache

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestCanonicalize_SortsObjectKeys(t *testing.T) {
	a := json.RawMessage(`{"q":"rain","domains":["weather.com"],"recency":1}`)
	b := json.RawMessage(`{"recency":1,"domains":["weather.com"],"q":"rain"}`)

	ca, err := Canonicalize(a)
	if err != nil {
		t.Fatalf("Canonicalize(a) error = %v", err)
	}
	cb, err := Canonicalize(b)
	if err != nil {
		t.Fatalf("Canonicalize(b) error = %v", err)
	}

	want := `{"domains":["weather.com"],"q":"rain","recency":1}`
	if string(ca) != want {
		t.Errorf("Canonicalize(a) = %s, want %s", ca, want)
	}
	if string(ca) != string(cb) {
		t.Errorf("canonical forms differ:\n  a=%s\n  b=%s", ca, cb)
	}
}

func TestCanonicalize_Nested(t *testing.T) {
	in := json.RawMessage(`{ "z": {"b": [ {"y":1, "x":2} ], "a": null}, "n": 1.50 }`)
	got, err := Canonicalize(in)
	if err != nil {
		t.Fatalf("Canonicalize() error = %v", err)
	}
	want := `{"n":1.50,"z":{"a":null,"b":[{"x":2,"y":1}]}}`
	if string(got) != want {
		t.Errorf("Canonicalize() = %s, want %s", got, want)
	}
}

func TestCanonicalize_EmptyIsObject(t *testing.T) {
	for _, in := range []string{"", "   ", "\n"} {
		got, err := Canonicalize(json.RawMessage(in))
		if err != nil {
			t.Fatalf("Canonicalize(%q) error = %v", in, err)
		}
		if string(got) != "{}" {
			t.Errorf("Canonicalize(%q) = %s, want {}", in, got)
		}
	}
}

func TestCanonicalize_Malformed(t *testing.T) {
	tests := []string{
		`{"path":`,
		`{"a":1} {"b":2}`,
		`not json`,
		`{'a':1}`,
	}
	for _, in := range tests {
		_, err := Canonicalize(json.RawMessage(in))
		if !errors.Is(err, ErrCanonicalization) {
			t.Errorf("Canonicalize(%q) error = %v, want ErrCanonicalization", in, err)
		}
	}
}

func TestKeyer_DeterministicAcrossFieldOrder(t *testing.T) {
	keyer := NewDefaultKeyer()

	k1, err := keyer.Key("s1", "t1", "list_dir", json.RawMessage(`{"path":".","depth":2}`), ScopeTurn)
	if err != nil {
		t.Fatalf("Key() error = %v", err)
	}
	k2, err := keyer.Key("s1", "t1", "list_dir", json.RawMessage(`{"depth":2,"path":"."}`), ScopeTurn)
	if err != nil {
		t.Fatalf("Key() error = %v", err)
	}

	if k1 != k2 {
		t.Errorf("keys should be equal:\n  k1=%+v\n  k2=%+v", k1, k2)
	}
	if k1.String() != k2.String() {
		t.Errorf("key strings should be equal: %s vs %s", k1, k2)
	}
}

func TestKeyer_ArrayOrderPreserved(t *testing.T) {
	keyer := NewDefaultKeyer()

	k1, _ := keyer.Key("s", "t", "tool", json.RawMessage(`{"items":[1,2,3]}`), ScopeTurn)
	k2, _ := keyer.Key("s", "t", "tool", json.RawMessage(`{"items":[3,2,1]}`), ScopeTurn)

	if k1 == k2 {
		t.Errorf("keys should differ for different array order: %s", k1)
	}
}

func TestKeyer_ScopeControlsTurn(t *testing.T) {
	keyer := NewDefaultKeyer()
	args := json.RawMessage(`{"q":"go"}`)

	turnA, _ := keyer.Key("s", "turn-a", "search_query", args, ScopeTurn)
	turnB, _ := keyer.Key("s", "turn-b", "search_query", args, ScopeTurn)
	if turnA == turnB {
		t.Error("turn-scoped keys from different turns should differ")
	}
	if turnA.Turn != "turn-a" {
		t.Errorf("turn-scoped key Turn = %q, want turn-a", turnA.Turn)
	}

	sessA, _ := keyer.Key("s", "turn-a", "search_query", args, ScopeSession)
	sessB, _ := keyer.Key("s", "turn-b", "search_query", args, ScopeSession)
	if sessA != sessB {
		t.Error("session-scoped keys should be shared across turns")
	}
	if sessA.Turn != "" {
		t.Errorf("session-scoped key Turn = %q, want empty", sessA.Turn)
	}
}

func TestKeyer_DistinguishesSessionsAndTools(t *testing.T) {
	keyer := NewDefaultKeyer()
	args := json.RawMessage(`{"path":"a.txt"}`)

	base, _ := keyer.Key("s1", "t", "read_file", args, ScopeTurn)
	otherSession, _ := keyer.Key("s2", "t", "read_file", args, ScopeTurn)
	otherTool, _ := keyer.Key("s1", "t", "view_image", args, ScopeTurn)

	if base.String() == otherSession.String() {
		t.Error("different sessions should produce different keys")
	}
	if base.String() == otherTool.String() {
		t.Error("different tools should produce different keys")
	}
}

func TestKeyer_FieldBoundariesAreUnambiguous(t *testing.T) {
	a := Key{Tool: "t", Args: "{}", Session: "ab", Turn: "c"}
	b := Key{Tool: "t", Args: "{}", Session: "a", Turn: "bc"}
	if a.String() == b.String() {
		t.Error("length-prefixed fields should not collide when shifted")
	}
}

func TestKeyer_Format(t *testing.T) {
	keyer := NewDefaultKeyer()

	key, err := keyer.Key("s", "t", "read_file", json.RawMessage(`{"path":"a.txt"}`), ScopeTurn)
	if err != nil {
		t.Fatalf("Key() error = %v", err)
	}

	s := key.String()
	if !strings.HasPrefix(s, "call:read_file:") {
		t.Errorf("key %q should start with call:read_file:", s)
	}
	hash := strings.TrimPrefix(s, "call:read_file:")
	if len(hash) != 16 {
		t.Errorf("hash length = %d, want 16", len(hash))
	}
	if err := ValidateKey(s); err != nil {
		t.Errorf("generated key should validate: %v", err)
	}
}

func TestKeyer_Errors(t *testing.T) {
	keyer := NewDefaultKeyer()

	if _, err := keyer.Key("s", "t", "  ", json.RawMessage(`{}`), ScopeTurn); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("blank tool error = %v, want ErrInvalidKey", err)
	}
	if _, err := keyer.Key("s", "t", "read_file", json.RawMessage(`{`), ScopeTurn); !errors.Is(err, ErrCanonicalization) {
		t.Errorf("malformed args error = %v, want ErrCanonicalization", err)
	}
	if _, err := keyer.Key("s", "t", strings.Repeat("x", MaxKeyLength), json.RawMessage(`{}`), ScopeTurn); !errors.Is(err, ErrKeyTooLong) {
		t.Errorf("long tool error = %v, want ErrKeyTooLong", err)
	}
}
