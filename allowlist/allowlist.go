package allowlist

import (
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/jonwraymond/toolflight/cache"
)

// DefaultTTL is the TTL applied to cacheable entries that do not set one.
const DefaultTTL = 120 * time.Second

// UnsafeTags mark a tool as side-effecting. Entries carrying one of them may
// not be cached or deduplicated. Matching is case-insensitive.
var UnsafeTags = []string{"write", "danger", "unsafe", "mutation", "delete", "exec"}

var (
	ErrEmptyTool     = errors.New("allowlist: tool name is empty")
	ErrDuplicateTool = errors.New("allowlist: duplicate tool")
	ErrNegativeTTL   = errors.New("allowlist: negative ttl")
	ErrUnsafeTool    = errors.New("allowlist: tool tagged unsafe cannot be cached or deduplicated")
)

// Policy answers the classification questions the runtime asks per call.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Determinism: answers for a given tool never change for the lifetime of the value.
// - Fail-closed: unknown tools are not cacheable, not dedupeable, have TTL 0 and ScopeTurn.
type Policy interface {
	IsCacheable(tool string) bool
	IsDedupeable(tool string) bool
	TTLFor(tool string) time.Duration
	ScopeFor(tool string) cache.Scope
}

// Entry classifies one tool.
type Entry struct {
	Tool  string
	Cache bool

	// Dedupe allows identical concurrent calls to share one dispatch.
	// Nil inherits Cache.
	Dedupe *bool

	Scope cache.Scope
	TTL   time.Duration // 0 uses the allowlist default
	Tags  []string
}

// Dedupeable reports the effective dedupe flag.
func (e Entry) Dedupeable() bool {
	if e.Dedupe != nil {
		return *e.Dedupe
	}
	return e.Cache
}

// Unsafe reports whether the entry carries an unsafe tag.
func (e Entry) Unsafe() bool {
	for _, tag := range e.Tags {
		if slices.Contains(UnsafeTags, strings.ToLower(strings.TrimSpace(tag))) {
			return true
		}
	}
	return false
}

// Bool returns a pointer to b, for Entry.Dedupe literals.
func Bool(b bool) *bool { return &b }

// NormalizeTool trims a tool name. Names are case-sensitive: MCP servers may
// expose tools that differ only in case.
func NormalizeTool(tool string) string {
	return strings.TrimSpace(tool)
}

// MCPPrefix starts the allowlist name of every tool served by an MCP server.
const MCPPrefix = "mcp:"

// MCPTool returns the allowlist name of tool on server: mcp:<server>.<tool>.
func MCPTool(server, tool string) string {
	return NormalizeTool(MCPPrefix + server + "." + tool)
}

// Option configures an Allowlist.
type Option func(*Allowlist)

// WithDefaultTTL sets the TTL used by entries without one.
// Zero makes such entries uncacheable.
func WithDefaultTTL(d time.Duration) Option {
	return func(a *Allowlist) { a.defaultTTL = d }
}

// WithMaxTTL clamps every entry's TTL. Zero disables clamping.
func WithMaxTTL(d time.Duration) Option {
	return func(a *Allowlist) { a.maxTTL = d }
}

// Allowlist is an immutable classification snapshot. It implements Policy.
type Allowlist struct {
	entries    map[string]Entry
	defaultTTL time.Duration
	maxTTL     time.Duration
	version    string
}

// New validates entries and builds an Allowlist.
func New(entries []Entry, opts ...Option) (*Allowlist, error) {
	a := &Allowlist{
		entries:    make(map[string]Entry, len(entries)),
		defaultTTL: DefaultTTL,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.defaultTTL < 0 || a.maxTTL < 0 {
		return nil, fmt.Errorf("%w: default %s, max %s", ErrNegativeTTL, a.defaultTTL, a.maxTTL)
	}

	for _, e := range entries {
		e.Tool = NormalizeTool(e.Tool)
		if e.Tool == "" {
			return nil, ErrEmptyTool
		}
		if _, dup := a.entries[e.Tool]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTool, e.Tool)
		}
		if e.TTL < 0 {
			return nil, fmt.Errorf("%w: %s", ErrNegativeTTL, e.Tool)
		}
		if e.Scope != cache.ScopeTurn && e.Scope != cache.ScopeSession {
			return nil, fmt.Errorf("%w: %s", cache.ErrUnknownScope, e.Tool)
		}
		if (e.Cache || e.Dedupeable()) && e.Unsafe() {
			return nil, fmt.Errorf("%w: %s", ErrUnsafeTool, e.Tool)
		}
		e.Tags = slices.Clone(e.Tags)
		a.entries[e.Tool] = e
	}

	a.version = a.digest()
	return a, nil
}

// Deny returns an allowlist with no entries: nothing is cached or deduplicated.
func Deny() *Allowlist {
	a, _ := New(nil)
	return a
}

// Lookup returns the entry for tool.
func (a *Allowlist) Lookup(tool string) (Entry, bool) {
	e, ok := a.entries[NormalizeTool(tool)]
	return e, ok
}

// IsCacheable reports whether results of tool may be stored and reused.
func (a *Allowlist) IsCacheable(tool string) bool {
	return a.TTLFor(tool) > 0
}

// IsDedupeable reports whether identical concurrent calls to tool may share one dispatch.
func (a *Allowlist) IsDedupeable(tool string) bool {
	e, ok := a.Lookup(tool)
	return ok && e.Dedupeable()
}

// TTLFor returns the effective TTL for a cacheable tool, applying the default
// and clamping to the maximum. Non-cacheable tools return 0.
func (a *Allowlist) TTLFor(tool string) time.Duration {
	e, ok := a.Lookup(tool)
	if !ok || !e.Cache {
		return 0
	}
	ttl := e.TTL
	if ttl <= 0 {
		ttl = a.defaultTTL
	}
	if a.maxTTL > 0 && ttl > a.maxTTL {
		ttl = a.maxTTL
	}
	return ttl
}

// ScopeFor returns the cache scope of tool. Unknown tools are turn-scoped.
func (a *Allowlist) ScopeFor(tool string) cache.Scope {
	e, ok := a.Lookup(tool)
	if !ok {
		return cache.ScopeTurn
	}
	return e.Scope
}

// Entries returns all entries sorted by tool name.
func (a *Allowlist) Entries() []Entry {
	out := make([]Entry, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e)
	}
	slices.SortFunc(out, func(x, y Entry) int { return strings.Compare(x.Tool, y.Tool) })
	return out
}

// Len returns the number of entries.
func (a *Allowlist) Len() int { return len(a.entries) }

// DefaultTTL returns the TTL applied to entries without one.
func (a *Allowlist) DefaultTTL() time.Duration { return a.defaultTTL }

// MaxTTL returns the TTL clamp; zero means unclamped.
func (a *Allowlist) MaxTTL() time.Duration { return a.maxTTL }

// Version is a short content digest identifying this snapshot in logs.
func (a *Allowlist) Version() string { return a.version }

// Unknown returns the allowlisted tools missing from universe, sorted.
// Names in universe are normalized before comparison.
func (a *Allowlist) Unknown(universe []string) []string {
	known := make(map[string]struct{}, len(universe))
	for _, name := range universe {
		known[NormalizeTool(name)] = struct{}{}
	}
	var missing []string
	for name := range a.entries {
		if _, ok := known[name]; !ok {
			missing = append(missing, name)
		}
	}
	slices.Sort(missing)
	return missing
}

func (a *Allowlist) digest() string {
	h := blake3.New()
	fmt.Fprintf(h, "default=%d max=%d\n", a.defaultTTL, a.maxTTL)
	for _, e := range a.Entries() {
		fmt.Fprintf(h, "%s cache=%t dedupe=%t scope=%s ttl=%d tags=%s\n",
			e.Tool, e.Cache, e.Dedupeable(), e.Scope, e.TTL, strings.Join(e.Tags, ","))
	}
	return hex.EncodeToString(h.Sum(nil)[:8])
}

var _ Policy = (*Allowlist)(nil)
