package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func fixed(name string, r Result) Checker {
	return NewCheckerFunc(name, func(context.Context) Result { return r })
}

func TestAggregator_RegisterOrder(t *testing.T) {
	agg := NewAggregator()
	agg.Register(fixed("b", Healthy("")))
	agg.Register(fixed("a", Healthy("")))
	agg.Register(fixed("b", Degraded("replaced")))

	names := agg.CheckerNames()
	if len(names) != 2 || names[0] != "b" || names[1] != "a" {
		t.Errorf("CheckerNames() = %v", names)
	}

	r, err := agg.Check(context.Background(), "b")
	if err != nil || r.Status != StatusDegraded {
		t.Errorf("Check(b) = %+v, %v; want replaced checker", r, err)
	}

	agg.Unregister("b")
	if _, err := agg.Check(context.Background(), "b"); !errors.Is(err, ErrCheckerNotFound) {
		t.Errorf("Check(removed) error = %v", err)
	}
}

func TestAggregator_CheckAll(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{MaxParallel: 2})
	agg.Register(fixed("sessions", Healthy("ok")))
	agg.Register(fixed("dispatch", Degraded("busy")))

	results := agg.CheckAll(context.Background())
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}
	if OverallStatus(results) != StatusDegraded {
		t.Errorf("OverallStatus = %s, want degraded", OverallStatus(results))
	}

	agg.Register(fixed("upstream", Unhealthy("gone", ErrCheckFailed)))
	if got := OverallStatus(agg.CheckAll(context.Background())); got != StatusUnhealthy {
		t.Errorf("OverallStatus = %s, want unhealthy", got)
	}
}

func TestAggregator_Empty(t *testing.T) {
	results := NewAggregator().CheckAll(context.Background())
	if len(results) != 0 || OverallStatus(results) != StatusHealthy {
		t.Error("empty aggregator should be healthy")
	}
}

func TestAggregator_Timeout(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{Timeout: 20 * time.Millisecond})
	release := make(chan struct{})
	defer close(release)
	agg.Register(NewCheckerFunc("stuck", func(context.Context) Result {
		<-release
		return Healthy("late")
	}))

	r := agg.CheckAll(context.Background())["stuck"]
	if r.Status != StatusUnhealthy || !errors.Is(r.Error, ErrCheckTimeout) {
		t.Errorf("stuck check = %+v", r)
	}
}

func TestAggregator_Parallel(t *testing.T) {
	agg := NewAggregator()
	var running, peak atomic.Int32
	for _, name := range []string{"a", "b", "c", "d"} {
		agg.Register(NewCheckerFunc(name, func(context.Context) Result {
			n := running.Add(1)
			defer running.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			return Healthy("")
		}))
	}
	agg.CheckAll(context.Background())
	if peak.Load() < 2 {
		t.Errorf("peak concurrency = %d, checks should run in parallel", peak.Load())
	}
}

func TestAggregator_DurationRecorded(t *testing.T) {
	agg := NewAggregator()
	agg.Register(NewCheckerFunc("slow", func(context.Context) Result {
		time.Sleep(5 * time.Millisecond)
		return Result{Status: StatusHealthy}
	}))
	r := agg.CheckAll(context.Background())["slow"]
	if r.Duration < 5*time.Millisecond || r.Timestamp.IsZero() {
		t.Errorf("duration/timestamp not recorded: %+v", r)
	}
}
