package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil) error = %v", err)
	}
	if cfg.ServiceName != DefaultServiceName {
		t.Errorf("ServiceName = %q", cfg.ServiceName)
	}
	if cfg.Cache.MaxEntries != DefaultMaxEntries {
		t.Errorf("MaxEntries = %d, want %d", cfg.Cache.MaxEntries, DefaultMaxEntries)
	}
	if cfg.Cache.DefaultTTL != DefaultTTL {
		t.Errorf("DefaultTTL = %s, want %s", cfg.Cache.DefaultTTL, DefaultTTL)
	}
	if cfg.Observe.ServiceName != DefaultServiceName {
		t.Errorf("Observe.ServiceName = %q", cfg.Observe.ServiceName)
	}
}

func TestParse_File(t *testing.T) {
	t.Setenv("TOOLFLIGHT_TEST_ROOT", "/srv/work")
	t.Setenv("TOOLFLIGHT_TEST_JWT", "0123456789abcdef0123456789abcdef")
	doc := `
service_name: agent-cache
allowlist: allowlist.yaml
cache:
  max_entries: 16
  default_ttl: 30s
  max_ttl: 10m
dispatch:
  timeout: 5s
  follower_wait: 7s
  max_concurrent: 4
upstream:
  command: mcp-server
  args: ["--stdio"]
local:
  root: ${TOOLFLIGHT_TEST_ROOT}
http:
  addr: 127.0.0.1:9464
  api_keys: [k1]
  jwt_secret: ${TOOLFLIGHT_TEST_JWT}
  jwt_issuer: ci
observe:
  logging:
    enabled: true
    level: debug
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Local.Root != "/srv/work" {
		t.Errorf("Local.Root = %q, want expanded value", cfg.Local.Root)
	}
	if cfg.Cache.MaxEntries != 16 || cfg.Cache.DefaultTTL != 30*time.Second || cfg.Cache.MaxTTL != 10*time.Minute {
		t.Errorf("Cache = %+v", cfg.Cache)
	}
	if cfg.Dispatch.Timeout != 5*time.Second || cfg.Dispatch.FollowerWait != 7*time.Second || cfg.Dispatch.MaxConcurrent != 4 {
		t.Errorf("Dispatch = %+v", cfg.Dispatch)
	}
	if !cfg.Upstream.Enabled() || cfg.Upstream.Args[0] != "--stdio" {
		t.Errorf("Upstream = %+v", cfg.Upstream)
	}
	if cfg.HTTP.JWTSecret != "0123456789abcdef0123456789abcdef" || cfg.HTTP.JWTIssuer != "ci" || len(cfg.HTTP.APIKeys) != 1 {
		t.Errorf("HTTP = %+v", cfg.HTTP)
	}
	if cfg.Observe.ServiceName != "agent-cache" {
		t.Errorf("Observe.ServiceName = %q, want service name inherited", cfg.Observe.ServiceName)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{name: "missing env", doc: "local:\n  root: ${TOOLFLIGHT_SURELY_UNSET}\n", want: ErrMissingEnv},
		{name: "default above max", doc: "cache:\n  default_ttl: 2h\n  max_ttl: 1h\n", want: ErrInvalid},
		{name: "negative concurrency", doc: "dispatch:\n  max_concurrent: -1\n", want: ErrInvalid},
		{name: "short jwt secret", doc: "http:\n  jwt_secret: tooshort\n", want: ErrInvalid},
		{name: "jwt issuer without secret", doc: "http:\n  jwt_issuer: ci\n", want: ErrInvalid},
		{name: "unknown key", doc: "cache:\n  size: 3\n"},
		{name: "multiple documents", doc: "service_name: a\n---\nservice_name: b\n"},
		{name: "bad observe level", doc: "observe:\n  logging:\n    enabled: true\n    level: loud\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		wantOff     bool
		wantEntries int
		wantTTL     time.Duration
	}{
		{name: "none", env: nil, wantEntries: 64, wantTTL: 120 * time.Second},
		{name: "disable with empty value", env: map[string]string{EnvDisableCache: ""}, wantOff: true, wantEntries: 64, wantTTL: 120 * time.Second},
		{name: "numeric overrides", env: map[string]string{EnvCacheMaxEntries: "8", EnvCacheTTLSecs: "5"}, wantEntries: 8, wantTTL: 5 * time.Second},
		{name: "invalid ignored", env: map[string]string{EnvCacheMaxEntries: "lots", EnvCacheTTLSecs: "-3"}, wantEntries: 64, wantTTL: 120 * time.Second},
		{name: "zero ignored", env: map[string]string{EnvCacheMaxEntries: "0"}, wantEntries: 64, wantTTL: 120 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			ApplyEnv(cfg, func(k string) (string, bool) {
				v, ok := tt.env[k]
				return v, ok
			})
			if cfg.Cache.Disabled != tt.wantOff {
				t.Errorf("Disabled = %v, want %v", cfg.Cache.Disabled, tt.wantOff)
			}
			if cfg.Cache.MaxEntries != tt.wantEntries {
				t.Errorf("MaxEntries = %d, want %d", cfg.Cache.MaxEntries, tt.wantEntries)
			}
			if cfg.Cache.DefaultTTL != tt.wantTTL {
				t.Errorf("DefaultTTL = %s, want %s", cfg.Cache.DefaultTTL, tt.wantTTL)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "toolflight.yaml")
	if err := os.WriteFile(path, []byte("service_name: from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServiceName != "from-file" {
		t.Errorf("ServiceName = %q", cfg.ServiceName)
	}

	if _, err := Load(""); err == nil {
		t.Error("Load(\"\") should fail")
	}
	_, err = Load(filepath.Join(dir, "missing.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load(missing) error = %v, want ErrNotExist", err)
	}
}

func TestExpandEnvStrict(t *testing.T) {
	t.Setenv("PRESENT", "ok")
	t.Setenv("X", "y")

	_, err := ExpandEnvStrict("a=${PRESENT} b=${MISSING_ONE} c=${MISSING_TWO}")
	if !errors.Is(err, ErrMissingEnv) {
		t.Fatalf("error = %v, want ErrMissingEnv", err)
	}
	if !strings.Contains(err.Error(), "MISSING_ONE, MISSING_TWO") {
		t.Errorf("error should list sorted missing names: %v", err)
	}

	out, err := ExpandEnvStrict("$$${X}")
	if err != nil {
		t.Fatalf("ExpandEnvStrict() error = %v", err)
	}
	if out != "$y" {
		t.Errorf("ExpandEnvStrict() = %q, want %q", out, "$y")
	}
}
