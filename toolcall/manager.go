package toolcall

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/toolflight/allowlist"
	"github.com/jonwraymond/toolflight/cache"
	"github.com/jonwraymond/toolflight/health"
	"github.com/jonwraymond/toolflight/observe"
	"github.com/jonwraymond/toolflight/resilience"
)

// Subscriber receives session lifecycle events.
//
// Contract:
// - Concurrency: callbacks may run concurrently for different sessions.
// - Callbacks must not call back into the Manager that emitted them.
type Subscriber interface {
	OnTurnEnd(session, turn string)
	OnSessionEnd(session string)
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Dispatcher performs real invocations for every session. Required.
	Dispatcher Dispatcher

	// Source supplies the allowlist snapshot captured when a session opens.
	// Nil uses the builtin allowlist.
	Source *allowlist.Source

	// Executor is shared by all sessions so its bulkhead bounds the process.
	Executor *resilience.Executor

	Middleware *observe.Middleware
	Logger     observe.Logger
	Keyer      cache.Keyer

	// MaxEntries bounds each session's cache. Zero uses cache.DefaultMaxEntries.
	MaxEntries int

	// Clock is passed to every session store. Nil uses time.Now.
	Clock cache.Clock

	FollowerWait  time.Duration
	CacheDisabled bool
	MaxParallel   int
}

// Manager hosts the runtimes of many sessions.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - A session's allowlist is fixed when it opens; reloads only affect sessions opened later.
type Manager struct {
	cfg    ManagerConfig
	logger observe.Logger

	mu          sync.RWMutex
	sessions    map[string]*Runtime
	subscribers []Subscriber
	closed      bool
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Dispatcher == nil {
		return nil, ErrNilDispatcher
	}
	if cfg.Source == nil {
		builtin, err := allowlist.Builtin()
		if err != nil {
			return nil, err
		}
		cfg.Source = allowlist.StaticSource(builtin)
	}
	if cfg.Middleware == nil {
		cfg.Middleware = observe.NopMiddleware()
	}
	if cfg.Logger == nil {
		cfg.Logger = cfg.Middleware.Logger()
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = cache.DefaultMaxEntries
	}
	return &Manager{
		cfg:      cfg,
		logger:   cfg.Logger,
		sessions: make(map[string]*Runtime),
	}, nil
}

// Open starts a session. An empty id is replaced with a random UUID.
func (m *Manager) Open(id string) (*Runtime, error) {
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrSessionClosed
	}
	if _, exists := m.sessions[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}

	policy := m.cfg.Source.Current()
	storeOpts := []cache.Option{cache.WithMaxEntries(m.cfg.MaxEntries)}
	if m.cfg.Clock != nil {
		storeOpts = append(storeOpts, cache.WithClock(m.cfg.Clock))
	}

	rt, err := NewRuntime(id, Config{
		Dispatcher:    m.cfg.Dispatcher,
		Policy:        policy,
		Store:         cache.NewMemoryStore(storeOpts...),
		Keyer:         m.cfg.Keyer,
		Executor:      m.cfg.Executor,
		Middleware:    m.cfg.Middleware,
		Logger:        m.cfg.Logger,
		FollowerWait:  m.cfg.FollowerWait,
		CacheDisabled: m.cfg.CacheDisabled,
		MaxParallel:   m.cfg.MaxParallel,
	})
	if err != nil {
		return nil, err
	}
	m.sessions[id] = rt

	m.logger.Info(context.Background(), "session opened",
		observe.F("session", id),
		observe.F("allowlist_version", policy.Version()),
	)
	return rt, nil
}

// Get returns the runtime of an open session.
func (m *Manager) Get(id string) (*Runtime, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rt, ok := m.sessions[id]
	return rt, ok
}

// EndTurn evicts the session's entries for turn and notifies subscribers.
func (m *Manager) EndTurn(session, turn string) error {
	rt, ok := m.Get(session)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, session)
	}
	if err := rt.EndTurn(turn); err != nil {
		return err
	}
	for _, sub := range m.subscribersSnapshot() {
		sub.OnTurnEnd(session, turn)
	}
	return nil
}

// End closes the session and notifies subscribers.
func (m *Manager) End(session string) error {
	m.mu.Lock()
	rt, ok := m.sessions[session]
	delete(m.sessions, session)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, session)
	}
	m.end(rt)
	return nil
}

func (m *Manager) end(rt *Runtime) {
	_ = rt.Close()
	for _, sub := range m.subscribersSnapshot() {
		sub.OnSessionEnd(rt.Session())
	}
	m.logger.Info(context.Background(), "session ended", observe.F("session", rt.Session()))
}

// Subscribe registers sub for turn and session end events.
func (m *Manager) Subscribe(sub Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, sub)
}

func (m *Manager) subscribersSnapshot() []Subscriber {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.subscribers)
}

// Sessions returns the ids of open sessions, sorted.
func (m *Manager) Sessions() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

// Close ends every open session. Later Opens fail with ErrSessionClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	open := make([]*Runtime, 0, len(m.sessions))
	for _, rt := range m.sessions {
		open = append(open, rt)
	}
	clear(m.sessions)
	m.mu.Unlock()

	for _, rt := range open {
		m.end(rt)
	}
	return nil
}

// Checker reports open sessions, in-flight dispatches and cached entries.
func (m *Manager) Checker() health.Checker {
	return health.NewCheckerFunc("sessions", func(context.Context) health.Result {
		m.mu.RLock()
		closed := m.closed
		runtimes := make([]*Runtime, 0, len(m.sessions))
		for _, rt := range m.sessions {
			runtimes = append(runtimes, rt)
		}
		m.mu.RUnlock()

		var inFlight, cached int
		for _, rt := range runtimes {
			st := rt.Stats()
			inFlight += st.InFlight
			cached += st.Cached
		}
		details := map[string]any{
			"sessions":  len(runtimes),
			"in_flight": inFlight,
			"cached":    cached,
			"allowlist": m.cfg.Source.Current().Version(),
		}
		if closed {
			return health.Unhealthy("session manager closed", ErrSessionClosed).WithDetails(details)
		}
		return health.Healthy(fmt.Sprintf("%d sessions open", len(runtimes))).WithDetails(details)
	})
}
