package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/toolflight/observe"
)

// Environment overrides applied after the file is parsed.
const (
	EnvDisableCache    = "TOOLFLIGHT_DISABLE_CACHE"
	EnvCacheMaxEntries = "TOOLFLIGHT_CACHE_MAX_ENTRIES"
	EnvCacheTTLSecs    = "TOOLFLIGHT_CACHE_TTL_SECS"
)

// Defaults.
const (
	DefaultServiceName     = "toolflight"
	DefaultMaxEntries      = 64
	DefaultTTL             = 120 * time.Second
	DefaultMaxTTL          = time.Hour
	DefaultDispatchTimeout = 60 * time.Second
	DefaultFollowerWait    = 90 * time.Second

	// MinJWTSecret is the shortest accepted HS256 secret, in bytes.
	MinJWTSecret = 32
)

var (
	// ErrMissingEnv indicates a ${VAR} reference to an unset variable.
	ErrMissingEnv = errors.New("config: missing required environment variables")

	// ErrInvalid indicates a configuration value is out of range.
	ErrInvalid = errors.New("config: invalid configuration")
)

// Config is the service configuration.
type Config struct {
	ServiceName string         `yaml:"service_name"`
	Allowlist   string         `yaml:"allowlist"` // path; empty uses the builtin allowlist
	Cache       CacheConfig    `yaml:"cache"`
	Dispatch    DispatchConfig `yaml:"dispatch"`
	Upstream    UpstreamConfig `yaml:"upstream"`
	Local       LocalConfig    `yaml:"local"`
	HTTP        HTTPConfig     `yaml:"http"`
	Observe     observe.Config `yaml:"observe"`
}

// CacheConfig bounds the per-session result cache.
type CacheConfig struct {
	Disabled   bool          `yaml:"disabled"`
	MaxEntries int           `yaml:"max_entries"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
	MaxTTL     time.Duration `yaml:"max_ttl"`
}

// DispatchConfig bounds real dispatches and follower waits.
type DispatchConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	FollowerWait  time.Duration `yaml:"follower_wait"`
	MaxConcurrent int           `yaml:"max_concurrent"` // 0 = unbounded
}

// UpstreamConfig describes an MCP server launched over stdio.
type UpstreamConfig struct {
	Name    string   `yaml:"name"` // server name in allowlist tool names; empty uses the reported name
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Env     []string `yaml:"env"`
}

// Enabled reports whether an upstream server is configured.
func (u UpstreamConfig) Enabled() bool { return strings.TrimSpace(u.Command) != "" }

// LocalConfig configures the builtin filesystem tools.
type LocalConfig struct {
	Root string `yaml:"root"`
}

// HTTPConfig configures the diagnostics listener.
type HTTPConfig struct {
	Addr string `yaml:"addr"` // empty disables the listener

	// APIKeys and JWTSecret, when set, guard every path but /livez. A
	// request passes with either credential.
	APIKeys []string `yaml:"api_keys"`

	// JWTSecret verifies HS256 bearer tokens.
	JWTSecret   string `yaml:"jwt_secret"`
	JWTIssuer   string `yaml:"jwt_issuer"`
	JWTAudience string `yaml:"jwt_audience"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads, expands and parses the file at path, applies defaults and
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse parses a YAML document. It applies the same expansion, defaults,
// overrides and validation as Load.
func Parse(data []byte) (*Config, error) {
	expanded, err := ExpandEnvStrict(string(data))
	if err != nil {
		return nil, err
	}

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}

	applyDefaults(&cfg)
	ApplyEnv(&cfg, os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = DefaultMaxEntries
	}
	if cfg.Cache.DefaultTTL == 0 {
		cfg.Cache.DefaultTTL = DefaultTTL
	}
	if cfg.Cache.MaxTTL == 0 {
		cfg.Cache.MaxTTL = DefaultMaxTTL
	}
	if cfg.Dispatch.Timeout == 0 {
		cfg.Dispatch.Timeout = DefaultDispatchTimeout
	}
	if cfg.Dispatch.FollowerWait == 0 {
		cfg.Dispatch.FollowerWait = DefaultFollowerWait
	}
	if cfg.Observe.ServiceName == "" {
		cfg.Observe.ServiceName = cfg.ServiceName
	}
}

// ApplyEnv applies the TOOLFLIGHT_* overrides using lookup.
// Setting EnvDisableCache to any value disables the cache.
// Numeric overrides that do not parse as positive integers are ignored.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if _, ok := lookup(EnvDisableCache); ok {
		cfg.Cache.Disabled = true
	}
	if raw, ok := lookup(EnvCacheMaxEntries); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && n > 0 {
			cfg.Cache.MaxEntries = n
		}
	}
	if raw, ok := lookup(EnvCacheTTLSecs); ok {
		if n, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32); err == nil && n > 0 {
			cfg.Cache.DefaultTTL = time.Duration(n) * time.Second
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("%w: service_name is required", ErrInvalid)
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("%w: cache.max_entries must be >= 0, got %d", ErrInvalid, c.Cache.MaxEntries)
	}
	if c.Cache.DefaultTTL < 0 || c.Cache.MaxTTL < 0 {
		return fmt.Errorf("%w: cache TTLs must be >= 0", ErrInvalid)
	}
	if c.Cache.MaxTTL > 0 && c.Cache.DefaultTTL > c.Cache.MaxTTL {
		return fmt.Errorf("%w: cache.default_ttl %s exceeds cache.max_ttl %s", ErrInvalid, c.Cache.DefaultTTL, c.Cache.MaxTTL)
	}
	if c.Dispatch.Timeout < 0 || c.Dispatch.FollowerWait < 0 {
		return fmt.Errorf("%w: dispatch durations must be >= 0", ErrInvalid)
	}
	if c.Dispatch.MaxConcurrent < 0 {
		return fmt.Errorf("%w: dispatch.max_concurrent must be >= 0, got %d", ErrInvalid, c.Dispatch.MaxConcurrent)
	}
	if s := c.HTTP.JWTSecret; s != "" && len(strings.TrimSpace(s)) < MinJWTSecret {
		return fmt.Errorf("%w: http.jwt_secret must be at least %d bytes", ErrInvalid, MinJWTSecret)
	}
	if c.HTTP.JWTSecret == "" && (c.HTTP.JWTIssuer != "" || c.HTTP.JWTAudience != "") {
		return fmt.Errorf("%w: http.jwt_issuer and http.jwt_audience need http.jwt_secret", ErrInvalid)
	}
	if err := c.Observe.Validate(); err != nil {
		return fmt.Errorf("observe: %w", err)
	}
	return nil
}
