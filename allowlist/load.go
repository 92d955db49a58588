package allowlist

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/toolflight/cache"
	"github.com/jonwraymond/toolflight/config"
)

// Format identifies an allowlist file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json" // JSON with comments and trailing commas
)

// ErrUnknownFormat indicates a file extension Load does not recognize.
var ErrUnknownFormat = errors.New("allowlist: unknown file format")

// FormatFor picks the format from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json", ".jsonc":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, filepath.Ext(path))
	}
}

type fileSpec struct {
	DefaultTTL string      `yaml:"default_ttl" json:"default_ttl"`
	MaxTTL     string      `yaml:"max_ttl" json:"max_ttl"`
	Tools      []fileEntry `yaml:"tools" json:"tools"`
}

type fileEntry struct {
	Tool   string   `yaml:"tool" json:"tool"`
	Cache  bool     `yaml:"cache" json:"cache"`
	Dedupe *bool    `yaml:"dedupe" json:"dedupe"`
	Scope  string   `yaml:"scope" json:"scope"`
	TTL    string   `yaml:"ttl" json:"ttl"`
	Tags   []string `yaml:"tags" json:"tags"`
}

// Load reads an allowlist file. opts supply defaults that the file's own
// default_ttl and max_ttl override.
func Load(path string, opts ...Option) (*Allowlist, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	a, err := Parse(data, format, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

// Parse decodes an allowlist document. Environment references are expanded
// strictly and unknown fields are rejected.
func Parse(data []byte, format Format, opts ...Option) (*Allowlist, error) {
	expanded, err := config.ExpandEnvStrict(string(data))
	if err != nil {
		return nil, err
	}

	var spec fileSpec
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(strings.NewReader(expanded))
		dec.KnownFields(true)
		if err := dec.Decode(&spec); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse allowlist: %w", err)
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON([]byte(expanded))))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&spec); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse allowlist: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	return spec.build(opts)
}

func (s fileSpec) build(opts []Option) (*Allowlist, error) {
	if s.DefaultTTL != "" {
		d, err := time.ParseDuration(s.DefaultTTL)
		if err != nil {
			return nil, fmt.Errorf("default_ttl: %w", err)
		}
		opts = append(opts, WithDefaultTTL(d))
	}
	if s.MaxTTL != "" {
		d, err := time.ParseDuration(s.MaxTTL)
		if err != nil {
			return nil, fmt.Errorf("max_ttl: %w", err)
		}
		opts = append(opts, WithMaxTTL(d))
	}

	entries := make([]Entry, 0, len(s.Tools))
	for i, fe := range s.Tools {
		scope, err := cache.ParseScope(fe.Scope)
		if err != nil {
			return nil, fmt.Errorf("tools[%d] %s: %w", i, fe.Tool, err)
		}
		var ttl time.Duration
		if fe.TTL != "" {
			if ttl, err = time.ParseDuration(fe.TTL); err != nil {
				return nil, fmt.Errorf("tools[%d] %s: ttl: %w", i, fe.Tool, err)
			}
		}
		entries = append(entries, Entry{
			Tool:   fe.Tool,
			Cache:  fe.Cache,
			Dedupe: fe.Dedupe,
			Scope:  scope,
			TTL:    ttl,
			Tags:   fe.Tags,
		})
	}
	return New(entries, opts...)
}
