package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/felipepmaragno/ai-orchestrator/internal/provider/providertest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestIsHealthy_Unknown(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	if !tr.IsHealthy("never-seen") {
		t.Error("unknown provider should be healthy")
	}
	if _, ok := tr.Status("never-seen"); ok {
		t.Error("unknown provider should have no status")
	}
}

func TestRecordFailure_Threshold(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	tr.RecordFailure("p")
	tr.RecordFailure("p")
	if !tr.IsHealthy("p") {
		t.Error("provider should stay healthy below the threshold")
	}

	tr.RecordFailure("p")
	if tr.IsHealthy("p") {
		t.Error("provider should be unhealthy at the threshold")
	}

	s, _ := tr.Status("p")
	if s.ConsecutiveFailures != 3 || s.Healthy {
		t.Errorf("status = %+v", s)
	}
}

func TestIsHealthy_CooldownBoundary(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(DefaultConfig(), WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		tr.RecordFailure("p")
	}

	if tr.IsHealthy("p") {
		t.Fatal("expected unhealthy immediately after third failure")
	}

	clock.Advance(2*time.Minute - time.Nanosecond)
	if tr.IsHealthy("p") {
		t.Error("expected unhealthy just before the cooldown elapses")
	}

	clock.Advance(time.Nanosecond)
	if !tr.IsHealthy("p") {
		t.Error("expected healthy once the cooldown has elapsed")
	}

	s, _ := tr.Status("p")
	if s.Healthy {
		t.Error("cooldown re-entry must not rewrite the stored status")
	}
}

func TestRecordSuccess_ResetsFailures(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	tr.RecordFailure("p")
	tr.RecordFailure("p")
	tr.RecordSuccess("p", 100*time.Millisecond)
	tr.RecordFailure("p")
	tr.RecordFailure("p")

	if !tr.IsHealthy("p") {
		t.Error("success should reset the consecutive failure counter")
	}
}

func TestRecordSuccess_SmoothsLatency(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	tr.RecordSuccess("p", 100*time.Millisecond)
	s, _ := tr.Status("p")
	if s.AvgLatencyMs != 100 {
		t.Errorf("first sample AvgLatencyMs = %v, want 100", s.AvgLatencyMs)
	}

	tr.RecordSuccess("p", 200*time.Millisecond)
	s, _ = tr.Status("p")
	if diff := s.AvgLatencyMs - 120; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("AvgLatencyMs = %v, want 120", s.AvgLatencyMs)
	}
}

func TestCheckProviderHealth(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	ctx := context.Background()

	down := &providertest.Adapter{HealthCheckFunc: func(context.Context) bool { return false }}
	if tr.CheckProviderHealth(ctx, "p", down) {
		t.Error("expected probe failure")
	}
	s, _ := tr.Status("p")
	if s.Healthy || s.ConsecutiveFailures != 1 {
		t.Errorf("after failed probe status = %+v", s)
	}

	if tr.CheckProviderHealth(ctx, "p", down) {
		t.Error("expected probe failure")
	}
	s, _ = tr.Status("p")
	if s.ConsecutiveFailures != 2 {
		t.Errorf("ConsecutiveFailures = %d, want 2", s.ConsecutiveFailures)
	}

	up := &providertest.Adapter{HealthCheckFunc: func(context.Context) bool { return true }}
	if !tr.CheckProviderHealth(ctx, "p", up) {
		t.Error("expected probe success")
	}
	s, _ = tr.Status("p")
	if !s.Healthy || s.ConsecutiveFailures != 0 {
		t.Errorf("after successful probe status = %+v", s)
	}
}

func TestTransitionHooks(t *testing.T) {
	var got []Transition
	tr := NewTracker(DefaultConfig(), WithTransitionHook(func(tr Transition) {
		got = append(got, tr)
	}))

	tr.RecordSuccess("p", time.Millisecond)
	tr.RecordFailure("p")
	tr.RecordFailure("p")
	tr.RecordFailure("p")
	tr.RecordFailure("p")
	tr.RecordSuccess("p", time.Millisecond)

	if len(got) != 2 {
		t.Fatalf("transitions = %d, want 2: %+v", len(got), got)
	}
	if got[0].Healthy || got[0].ConsecutiveFailures != 3 {
		t.Errorf("first transition = %+v", got[0])
	}
	if !got[1].Healthy {
		t.Errorf("second transition = %+v", got[1])
	}
}

func TestSnapshotAndClear(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	tr.RecordSuccess("b", time.Millisecond)
	tr.RecordFailure("a")

	snap := tr.Snapshot()
	if len(snap) != 2 || snap[0].ProviderID != "a" || snap[1].ProviderID != "b" {
		t.Errorf("Snapshot() = %+v", snap)
	}

	tr.Clear()
	if len(tr.Snapshot()) != 0 {
		t.Error("expected empty snapshot after Clear")
	}
}

func TestConcurrentRecords(t *testing.T) {
	tr := NewTracker(Config{FailureThreshold: 1000, Cooldown: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			tr.RecordFailure("p")
		}()
		go func() {
			defer wg.Done()
			_ = tr.IsHealthy("p")
		}()
	}
	wg.Wait()

	s, _ := tr.Status("p")
	if s.ConsecutiveFailures != 50 {
		t.Errorf("ConsecutiveFailures = %d, want 50", s.ConsecutiveFailures)
	}
}
