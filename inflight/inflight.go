package inflight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonwraymond/toolflight/cache"
)

// ErrWaitTimeout is returned by Slot.Wait when the wait bound elapses before
// the slot is resolved.
var ErrWaitTimeout = errors.New("inflight: wait timed out")

// Role is the part a caller plays for a key.
type Role int

const (
	Leader Role = iota
	Follower
)

func (r Role) String() string {
	if r == Leader {
		return "leader"
	}
	return "follower"
}

// Slot is a one-shot, multi-waiter result for one key.
type Slot struct {
	key     cache.Key
	done    chan struct{}
	once    sync.Once
	result  cache.Result
	waiters atomic.Int64
	created time.Time
}

func newSlot(key cache.Key) *Slot {
	return &Slot{key: key, done: make(chan struct{}), created: time.Now()}
}

// Key returns the key the slot was registered under.
func (s *Slot) Key() cache.Key { return s.key }

// Done is closed when the slot is resolved.
func (s *Slot) Done() <-chan struct{} { return s.done }

// Age reports how long the slot has existed.
func (s *Slot) Age() time.Duration { return time.Since(s.created) }

// Result returns the broadcast result without blocking.
func (s *Slot) Result() (cache.Result, bool) {
	select {
	case <-s.done:
		return s.result, true
	default:
		return cache.Result{}, false
	}
}

// Waiters returns the number of callers currently blocked in Wait.
func (s *Slot) Waiters() int { return int(s.waiters.Load()) }

// Wait blocks until the slot is resolved, ctx is done, or timeout elapses.
// A timeout of zero waits without bound. Leaving early affects only this caller.
func (s *Slot) Wait(ctx context.Context, timeout time.Duration) (cache.Result, error) {
	select {
	case <-s.done:
		return s.result, nil
	default:
	}

	s.waiters.Add(1)
	defer s.waiters.Add(-1)

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-s.done:
		return s.result, nil
	case <-ctx.Done():
		return cache.Result{}, ctx.Err()
	case <-expired:
		return cache.Result{}, ErrWaitTimeout
	}
}

// resolve publishes result once. The write happens before close, so every
// receive on done observes it.
func (s *Slot) resolve(result cache.Result) bool {
	resolved := false
	s.once.Do(func() {
		s.result = result
		close(s.done)
		resolved = true
	})
	return resolved
}

// Registry maps keys to their in-flight slot.
//
// Contract:
// - Concurrency: safe for concurrent use; JoinOrRegister is an atomic check-and-insert.
// - No method blocks on a dispatch; the lock only guards the map.
type Registry struct {
	mu    sync.Mutex
	slots map[cache.Key]*Slot
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{slots: make(map[cache.Key]*Slot)}
}

// JoinOrRegister returns the slot for key. Exactly one concurrent caller per
// key receives Leader; the Leader must eventually call Resolve.
func (r *Registry) JoinOrRegister(key cache.Key) (*Slot, Role) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if slot, ok := r.slots[key]; ok {
		return slot, Follower
	}
	slot := newSlot(key)
	r.slots[key] = slot
	return slot, Leader
}

// Resolve broadcasts result to every waiter of slot and removes slot from the
// registry if it is still the registered slot for its key.
// It reports whether this call performed the resolution; later calls are no-ops.
func (r *Registry) Resolve(slot *Slot, result cache.Result) bool {
	r.remove(slot)
	return slot.resolve(result)
}

// Abandon removes slot if it is still registered, without resolving it.
// Waiters already blocked on it keep waiting for its Leader.
func (r *Registry) Abandon(slot *Slot) {
	r.remove(slot)
}

func (r *Registry) remove(slot *Slot) {
	r.mu.Lock()
	if current, ok := r.slots[slot.key]; ok && current == slot {
		delete(r.slots, slot.key)
	}
	r.mu.Unlock()
}

// Lookup returns the registered slot for key.
func (r *Registry) Lookup(key cache.Key) (*Slot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.slots[key]
	return slot, ok
}

// Len returns the number of registered slots.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

// Waiters returns the number of callers waiting on key's slot.
func (r *Registry) Waiters(key cache.Key) int {
	slot, ok := r.Lookup(key)
	if !ok {
		return 0
	}
	return slot.Waiters()
}
