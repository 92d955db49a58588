package inflight

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonwraymond/toolflight/cache"
)

func testKey(tool string) cache.Key {
	return cache.Key{Tool: tool, Args: "{}", Session: "s1", Turn: "t1"}
}

func TestJoinOrRegister_SingleLeader(t *testing.T) {
	r := NewRegistry()
	key := testKey("list_dir")

	const n = 64
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		leaders int
		slots   = map[*Slot]struct{}{}
		start   = make(chan struct{})
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			slot, role := r.JoinOrRegister(key)
			mu.Lock()
			defer mu.Unlock()
			if role == Leader {
				leaders++
			}
			slots[slot] = struct{}{}
		}()
	}
	close(start)
	wg.Wait()

	if leaders != 1 {
		t.Fatalf("leaders = %d, want 1", leaders)
	}
	if len(slots) != 1 {
		t.Fatalf("distinct slots = %d, want 1", len(slots))
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestJoinOrRegister_DistinctKeys(t *testing.T) {
	r := NewRegistry()
	a, roleA := r.JoinOrRegister(testKey("a"))
	b, roleB := r.JoinOrRegister(testKey("b"))
	if roleA != Leader || roleB != Leader || a == b {
		t.Fatal("distinct keys must get distinct leader slots")
	}

	other := testKey("a")
	other.Turn = "t2"
	if _, role := r.JoinOrRegister(other); role != Leader {
		t.Error("same tool in another turn must not join")
	}
}

func TestResolve_BroadcastsToAllWaiters(t *testing.T) {
	r := NewRegistry()
	key := testKey("list_dir")
	slot, _ := r.JoinOrRegister(key)

	const n = 10
	results := make(chan cache.Result, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, role := r.JoinOrRegister(key)
			if role != Follower {
				t.Errorf("role = %s, want follower", role)
				return
			}
			res, err := s.Wait(context.Background(), 0)
			if err != nil {
				t.Errorf("Wait() error = %v", err)
				return
			}
			results <- res
		}()
	}

	waitFor(t, func() bool { return r.Waiters(key) == n })

	payload := []byte(`["a.txt"]`)
	if !r.Resolve(slot, cache.Result{Payload: payload}) {
		t.Fatal("first Resolve() = false")
	}
	wg.Wait()
	close(results)

	for res := range results {
		if &res.Payload[0] != &payload[0] {
			t.Error("waiters must observe the identical payload")
		}
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d after resolve, want 0", r.Len())
	}
}

func TestResolve_Once(t *testing.T) {
	r := NewRegistry()
	slot, _ := r.JoinOrRegister(testKey("x"))

	first := errors.New("first")
	if !r.Resolve(slot, cache.Result{Err: first}) {
		t.Fatal("first Resolve() = false")
	}
	if r.Resolve(slot, cache.Result{Payload: []byte("second")}) {
		t.Error("second Resolve() = true")
	}
	res, ok := slot.Result()
	if !ok || !errors.Is(res.Err, first) {
		t.Errorf("Result() = %+v, %v; want first error", res, ok)
	}
}

func TestResolve_DoesNotRemoveReplacement(t *testing.T) {
	r := NewRegistry()
	key := testKey("x")
	stale, _ := r.JoinOrRegister(key)
	r.Abandon(stale)

	fresh, role := r.JoinOrRegister(key)
	if role != Leader || fresh == stale {
		t.Fatal("expected a fresh leader slot after abandon")
	}

	r.Resolve(stale, cache.Result{})
	if got, ok := r.Lookup(key); !ok || got != fresh {
		t.Error("resolving a stale slot removed its replacement")
	}
}

func TestWait_Timeout(t *testing.T) {
	r := NewRegistry()
	key := testKey("x")
	slot, _ := r.JoinOrRegister(key)

	_, err := slot.Wait(context.Background(), 10*time.Millisecond)
	if !errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("Wait() error = %v, want ErrWaitTimeout", err)
	}
	if slot.Waiters() != 0 {
		t.Errorf("Waiters() = %d after timeout, want 0", slot.Waiters())
	}
	if _, ok := r.Lookup(key); !ok {
		t.Error("a follower timeout must not remove the slot")
	}
}

func TestWait_CancelLeavesOthersWaiting(t *testing.T) {
	r := NewRegistry()
	key := testKey("x")
	slot, _ := r.JoinOrRegister(key)

	ctx, cancel := context.WithCancel(context.Background())
	cancelled := make(chan error, 1)
	go func() {
		_, err := slot.Wait(ctx, 0)
		cancelled <- err
	}()

	other := make(chan cache.Result, 1)
	go func() {
		res, _ := slot.Wait(context.Background(), 0)
		other <- res
	}()

	waitFor(t, func() bool { return slot.Waiters() == 2 })
	cancel()
	if err := <-cancelled; !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() error = %v, want context.Canceled", err)
	}
	waitFor(t, func() bool { return slot.Waiters() == 1 })

	r.Resolve(slot, cache.Result{Payload: []byte("ok")})
	if res := <-other; string(res.Payload) != "ok" {
		t.Errorf("remaining waiter got %q", res.Payload)
	}
}

func TestWait_AfterResolveReturnsImmediately(t *testing.T) {
	r := NewRegistry()
	slot, _ := r.JoinOrRegister(testKey("x"))
	r.Resolve(slot, cache.Result{Payload: []byte("done")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := slot.Wait(ctx, time.Nanosecond)
	if err != nil || string(res.Payload) != "done" {
		t.Errorf("Wait() = %q, %v", res.Payload, err)
	}
}

func TestRole_String(t *testing.T) {
	if Leader.String() != "leader" || Follower.String() != "follower" {
		t.Errorf("Role strings = %s, %s", Leader, Follower)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}
