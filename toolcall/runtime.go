package toolcall

import (
	"context"
	"encoding/json"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/toolflight/allowlist"
	"github.com/jonwraymond/toolflight/cache"
	"github.com/jonwraymond/toolflight/inflight"
	"github.com/jonwraymond/toolflight/observe"
	"github.com/jonwraymond/toolflight/resilience"
)

// DefaultFollowerWait bounds how long a follower waits for its leader.
const DefaultFollowerWait = 90 * time.Second

// maxEndedTurns bounds the ended turns a Runtime remembers. A leader that
// outlives that many later turns may still write its result.
const maxEndedTurns = 256

// Config configures a Runtime.
type Config struct {
	// Dispatcher performs real invocations. Required.
	Dispatcher Dispatcher

	// Policy classifies tools. Nil denies everything.
	Policy allowlist.Policy

	// Store holds cached results. Nil uses a bounded MemoryStore.
	Store cache.Store

	// Keyer derives call keys. Nil uses cache.DefaultKeyer.
	Keyer cache.Keyer

	// Executor guards real dispatches with a timeout and bulkhead.
	// Nil runs the dispatcher unguarded.
	Executor *resilience.Executor

	// Middleware traces, measures and logs real dispatches. Nil is a no-op.
	Middleware *observe.Middleware

	// Logger receives runtime events. Nil uses the middleware's logger.
	Logger observe.Logger

	// FollowerWait bounds each follower wait. Zero uses DefaultFollowerWait.
	FollowerWait time.Duration

	// CacheDisabled skips cache reads and writes. Dedupe stays active.
	CacheDisabled bool

	// MaxParallel bounds DispatchAll concurrency. Zero is unbounded.
	MaxParallel int
}

// Stats is a point-in-time view of a Runtime.
type Stats struct {
	Session  string
	InFlight int
	Cached   int
	Closed   bool
}

// Runtime dispatches the tool calls of one session.
//
// Contract:
// - Concurrency: Dispatch, DispatchAll, EndTurn and Close are safe for concurrent use.
// - Ownership: the cache store and in-flight registry belong to this session only.
// - Context: a caller's cancellation ends its own wait; a leader's dispatch always completes.
type Runtime struct {
	session    string
	policy     allowlist.Policy
	store      cache.Store
	keyer      cache.Keyer
	registry   *inflight.Registry
	dispatch   observe.DispatchFunc
	metrics    observe.Metrics
	logger     observe.Logger
	wait       time.Duration
	noCache    bool
	parallel   int
	closed     atomic.Bool
	leaders    sync.WaitGroup
	mu         sync.RWMutex // orders cache writes and leader starts against EndTurn and Close
	endedTurns map[string]struct{}
	endedOrder []string
}

// NewRuntime creates the runtime for session.
func NewRuntime(session string, cfg Config) (*Runtime, error) {
	if cfg.Dispatcher == nil {
		return nil, ErrNilDispatcher
	}
	if cfg.Policy == nil {
		cfg.Policy = allowlist.Deny()
	}
	if cfg.Store == nil {
		cfg.Store = cache.NewMemoryStore()
	}
	if cfg.Keyer == nil {
		cfg.Keyer = cache.NewDefaultKeyer()
	}
	if cfg.Executor == nil {
		cfg.Executor = resilience.NewExecutor()
	}
	if cfg.Middleware == nil {
		cfg.Middleware = observe.NopMiddleware()
	}
	if cfg.Logger == nil {
		cfg.Logger = cfg.Middleware.Logger()
	}
	if cfg.FollowerWait <= 0 {
		cfg.FollowerWait = DefaultFollowerWait
	}

	d, exec := cfg.Dispatcher, cfg.Executor
	dispatch := cfg.Middleware.Wrap(func(ctx context.Context, meta observe.CallMeta, args json.RawMessage) ([]byte, error) {
		return exec.Execute(ctx, func(ctx context.Context) ([]byte, error) {
			return d.Invoke(ctx, meta.Tool, args)
		})
	})

	return &Runtime{
		session:    session,
		policy:     cfg.Policy,
		store:      cfg.Store,
		keyer:      cfg.Keyer,
		registry:   inflight.NewRegistry(),
		dispatch:   dispatch,
		metrics:    cfg.Middleware.Metrics(),
		logger:     cfg.Logger.With(observe.F("session", session)),
		wait:       cfg.FollowerWait,
		noCache:    cfg.CacheDisabled,
		parallel:   cfg.MaxParallel,
		endedTurns: make(map[string]struct{}),
	}, nil
}

// Session returns the session id.
func (r *Runtime) Session() string { return r.session }

// plan is everything Dispatch decides about a call before running it.
type plan struct {
	call       Call
	key        cache.Key
	meta       observe.CallMeta
	cacheable  bool
	dedupeable bool
	ttl        time.Duration
	scope      cache.Scope
}

// Dispatch runs one call.
//
// Calls to cacheable tools are served from the cache when a live entry exists.
// Identical concurrent calls to dedupeable tools share one dispatch. Other
// calls are dispatched directly in the caller's context.
func (r *Runtime) Dispatch(ctx context.Context, call Call) (Output, error) {
	if r.closed.Load() {
		return Output{}, ErrSessionClosed
	}
	if call.Turn == "" {
		return Output{}, ErrTurnRequired
	}

	p, err := r.plan(call)
	if err != nil {
		return Output{}, err
	}

	if p.cacheable {
		if entry, ok := r.store.Get(ctx, p.key); ok {
			r.metrics.RecordLookup(ctx, call.Tool, observe.LookupHit)
			r.logger.Debug(ctx, "tool result served from cache",
				observe.F("tool", call.Tool),
				observe.F("call_id", call.ID),
				observe.F("key", p.key.String()),
			)
			return r.deliver(p, entry.Result, SourceCache)
		}
		r.metrics.RecordLookup(ctx, call.Tool, observe.LookupMiss)
	} else {
		r.metrics.RecordLookup(ctx, call.Tool, observe.LookupBypass)
	}

	if !p.dedupeable {
		p.meta.Role = observe.RoleBypass
		payload, err := r.invoke(ctx, p)
		return r.deliver(p, cache.Result{Payload: payload, Err: err}, SourceDispatch)
	}

	return r.join(ctx, p)
}

func (r *Runtime) plan(call Call) (plan, error) {
	call.Tool = allowlist.NormalizeTool(call.Tool)
	scope := r.policy.ScopeFor(call.Tool)
	key, err := r.keyer.Key(r.session, call.Turn, call.Tool, call.Arguments, scope)
	if err != nil {
		return plan{}, &CallError{Kind: KindCanonicalization, Tool: call.Tool, CallID: call.ID, Err: err}
	}
	return plan{
		call:       call,
		key:        key,
		meta:       observe.CallMeta{Tool: call.Tool, Session: r.session, Turn: call.Turn, CallID: call.ID},
		cacheable:  !r.noCache && r.policy.IsCacheable(call.Tool),
		dedupeable: r.policy.IsDedupeable(call.Tool),
		ttl:        r.policy.TTLFor(call.Tool),
		scope:      scope,
	}, nil
}

// join runs p through the in-flight registry. A follower whose wait expires
// abandons the stale slot and joins once more before giving up.
func (r *Runtime) join(ctx context.Context, p plan) (Output, error) {
	for attempt := 0; ; attempt++ {
		slot, role := r.registry.JoinOrRegister(p.key)
		r.metrics.RecordJoin(ctx, p.call.Tool, role.String())

		if role == inflight.Leader {
			if out, hit, err := r.recheck(ctx, slot, p); hit {
				return out, err
			}
			if !r.startLeader() {
				r.registry.Resolve(slot, cache.Result{Err: ErrSessionClosed})
				return Output{}, ErrSessionClosed
			}
			p.meta.Role = observe.RoleLeader
			go r.lead(context.WithoutCancel(ctx), slot, p)

			result, err := slot.Wait(ctx, 0)
			if err != nil {
				return Output{}, r.aborted(p, err)
			}
			return r.deliver(p, result, SourceDispatch)
		}

		result, err := slot.Wait(ctx, r.wait)
		switch {
		case err == nil:
			r.logger.Debug(ctx, "tool result shared with in-flight call",
				observe.F("tool", p.call.Tool),
				observe.F("call_id", p.call.ID),
				observe.F("key", p.key.String()),
			)
			return r.deliver(p, result, SourceShared)
		case errors.Is(err, inflight.ErrWaitTimeout):
			r.registry.Abandon(slot)
			if attempt == 0 {
				r.logger.Warn(ctx, "in-flight wait timed out, retrying",
					observe.F("tool", p.call.Tool),
					observe.F("call_id", p.call.ID),
					observe.F("slot_age_ms", slot.Age().Milliseconds()),
				)
				continue
			}
			return Output{}, &CallError{Kind: KindInFlightTimeout, Tool: p.call.Tool, CallID: p.call.ID, Err: err}
		default:
			return Output{}, r.aborted(p, err)
		}
	}
}

// recheck closes the gap between a cache miss and registration: a leader
// that finished in between has already written the cache.
func (r *Runtime) recheck(ctx context.Context, slot *inflight.Slot, p plan) (Output, bool, error) {
	if !p.cacheable {
		return Output{}, false, nil
	}
	entry, ok := r.store.Get(ctx, p.key)
	if !ok {
		return Output{}, false, nil
	}
	r.registry.Resolve(slot, entry.Result)
	out, err := r.deliver(p, entry.Result, SourceCache)
	return out, true, err
}

// startLeader counts a new leader unless the runtime is closed. Under r.mu no
// leader is counted after Close returns, so Wait after Close is safe.
func (r *Runtime) startLeader() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed.Load() {
		return false
	}
	r.leaders.Add(1)
	return true
}

// lead performs the real dispatch for slot. The cache is written before the
// slot is resolved.
func (r *Runtime) lead(ctx context.Context, slot *inflight.Slot, p plan) {
	defer r.leaders.Done()

	payload, err := r.invoke(ctx, p)
	result := cache.Result{Payload: payload, Err: err}
	defer r.registry.Resolve(slot, result)

	switch {
	case !p.cacheable:
	case resilience.Transient(err):
		r.logger.Warn(ctx, "leader dispatch not cached",
			observe.F("tool", p.call.Tool),
			observe.F("call_id", p.call.ID),
			observe.F("error", err),
		)
	default:
		r.put(ctx, p, result)
	}
}

// invoke runs the guarded dispatcher, turning a panic into a *resilience.PanicError.
func (r *Runtime) invoke(ctx context.Context, p plan) (payload []byte, err error) {
	defer func() {
		if v := recover(); v != nil {
			payload, err = nil, &resilience.PanicError{Value: v, Stack: debug.Stack()}
		}
		if errors.Is(err, resilience.ErrPanic) {
			r.logger.Error(ctx, "tool dispatch panicked",
				observe.F("tool", p.call.Tool),
				observe.F("call_id", p.call.ID),
				observe.F("error", err),
			)
		}
	}()
	return r.dispatch(ctx, p.meta, p.call.Arguments)
}

func (r *Runtime) put(ctx context.Context, p plan, result cache.Result) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed.Load() {
		return
	}
	if p.scope == cache.ScopeTurn {
		if _, ended := r.endedTurns[p.call.Turn]; ended {
			return
		}
	}
	if err := r.store.Put(ctx, p.key, result, p.ttl, p.scope); err != nil {
		r.logger.Warn(ctx, "cache write failed",
			observe.F("tool", p.call.Tool),
			observe.F("key", p.key.String()),
			observe.F("error", err),
		)
	}
}

func (r *Runtime) deliver(p plan, result cache.Result, source Source) (Output, error) {
	out := Output{CallID: p.call.ID, Tool: p.call.Tool, Payload: result.Payload, Source: source}
	if result.Err == nil {
		return out, nil
	}
	return out, &CallError{Kind: kindFor(result.Err), Tool: p.call.Tool, CallID: p.call.ID, Err: result.Err}
}

func (r *Runtime) aborted(p plan, err error) error {
	return &CallError{Kind: KindAborted, Tool: p.call.Tool, CallID: p.call.ID, Err: err}
}

func kindFor(err error) Kind {
	switch {
	case errors.Is(err, resilience.ErrPanic):
		return KindPanic
	case errors.Is(err, resilience.ErrTimeout), errors.Is(err, resilience.ErrBulkheadFull):
		return KindDispatchTimeout
	default:
		return KindDispatchFailed
	}
}

// DispatchAll runs the calls of one turn concurrently. outputs[i] and errs[i]
// belong to calls[i]; one failed call does not stop the others.
func (r *Runtime) DispatchAll(ctx context.Context, calls []Call) ([]Output, []error) {
	outputs := make([]Output, len(calls))
	errs := make([]error, len(calls))

	var g errgroup.Group
	if r.parallel > 0 {
		g.SetLimit(r.parallel)
	}
	for i, call := range calls {
		g.Go(func() error {
			outputs[i], errs[i] = r.Dispatch(ctx, call)
			return nil
		})
	}
	_ = g.Wait()

	return outputs, errs
}

// EndTurn evicts the turn-scoped entries of turn. Leaders of that turn that
// finish later do not repopulate them. Ending a turn on a closed runtime is
// a no-op.
func (r *Runtime) EndTurn(turn string) error {
	if turn == "" {
		return ErrTurnRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed.Load() {
		return nil
	}
	if _, ok := r.endedTurns[turn]; !ok {
		if len(r.endedOrder) == maxEndedTurns {
			delete(r.endedTurns, r.endedOrder[0])
			r.endedOrder = r.endedOrder[1:]
		}
		r.endedTurns[turn] = struct{}{}
		r.endedOrder = append(r.endedOrder, turn)
	}
	r.store.EvictTurn(turn)
	return nil
}

// Close evicts every entry of the session. Later dispatches fail with
// ErrSessionClosed; leaders already running finish without writing the cache.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed.Swap(true) {
		return nil
	}
	clear(r.endedTurns)
	r.endedOrder = nil
	r.store.EvictSession(r.session)
	return nil
}

// Wait blocks until every leader dispatch started so far has finished. Leaders
// may start concurrently with Wait until Close returns; call Wait after Close
// to wait for all of them.
func (r *Runtime) Wait() {
	r.leaders.Wait()
}

// OnTurnEnd implements Subscriber.
func (r *Runtime) OnTurnEnd(session, turn string) {
	if session == r.session {
		_ = r.EndTurn(turn)
	}
}

// OnSessionEnd implements Subscriber.
func (r *Runtime) OnSessionEnd(session string) {
	if session == r.session {
		_ = r.Close()
	}
}

// Stats returns a snapshot of the runtime.
func (r *Runtime) Stats() Stats {
	return Stats{
		Session:  r.session,
		InFlight: r.registry.Len(),
		Cached:   r.store.Len(),
		Closed:   r.closed.Load(),
	}
}

var _ Subscriber = (*Runtime)(nil)
