package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestLogger_WithAddsFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewLoggerWithWriter("info", &buf)
	scoped := base.With(F("session", "s1"), F("turn", "t1"))

	scoped.Info(context.Background(), "hit", F("tool", "read_file"))
	base.Info(context.Background(), "plain")

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[0]["session"] != "s1" || lines[0]["turn"] != "t1" || lines[0]["tool"] != "read_file" {
		t.Errorf("scoped entry missing fields: %v", lines[0])
	}
	if _, ok := lines[1]["session"]; ok {
		t.Errorf("With leaked fields into parent logger: %v", lines[1])
	}
}

func TestLogger_Redaction(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter("debug", &buf).With(F("token", "abc"))

	log.Debug(context.Background(), "dispatch",
		F("args", `{"path":"/etc/passwd"}`),
		F("payload", "file contents"),
		F("tool", "read_file"),
	)

	line := decodeLines(t, &buf)[0]
	for _, key := range []string{"args", "payload", "token"} {
		if line[key] != "[REDACTED]" {
			t.Errorf("%s = %v, want [REDACTED]", key, line[key])
		}
	}
	if line["tool"] != "read_file" {
		t.Errorf("tool = %v, want read_file", line["tool"])
	}
}

func TestLogger_ErrorValuesSerialized(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerWithWriter("info", &buf).Error(context.Background(), "failed", F("error", errors.New("boom")))

	line := decodeLines(t, &buf)[0]
	if line["error"] != "boom" {
		t.Errorf("error = %v, want boom", line["error"])
	}
	if line["level"] != "error" {
		t.Errorf("level = %v, want error", line["level"])
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		level string
		want  int
	}{
		{"debug", 4},
		{"info", 3},
		{"warn", 2},
		{"error", 1},
		{"", 3},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			log := NewLoggerWithWriter(tt.level, &buf)
			ctx := context.Background()
			log.Debug(ctx, "d")
			log.Info(ctx, "i")
			log.Warn(ctx, "w")
			log.Error(ctx, "e")
			if got := len(decodeLines(t, &buf)); got != tt.want {
				t.Errorf("got %d lines, want %d", got, tt.want)
			}
		})
	}
}

func TestParseLogLevel_RoundTrip(t *testing.T) {
	for _, l := range []LogLevel{LevelDebug, LevelInfo, LevelWarn, LevelError} {
		if got := ParseLogLevel(l.String()); got != l {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", l.String(), got, l)
		}
	}
	if ParseLogLevel("bogus") != LevelInfo {
		t.Error("unknown level should map to info")
	}
}

func TestNopLogger(t *testing.T) {
	log := NopLogger().With(F("k", "v"))
	log.Info(context.Background(), "ignored")
	if _, ok := log.(nopLogger); !ok {
		t.Errorf("With on nop logger returned %T", log)
	}
}
