// Package health keeps a per-provider, process-lifetime judgement of whether
// a provider is likely to succeed.
//
// A provider with no record is treated as healthy. It becomes unhealthy after
// FailureThreshold consecutive failures and is offered again once Cooldown has
// passed since its status last changed, without needing an explicit probe.
package health

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/felipepmaragno/ai-orchestrator/internal/metrics"
	"github.com/felipepmaragno/ai-orchestrator/internal/provider"
)

// smoothing is the weight given to a new latency sample.
const smoothing = 0.2

type Config struct {
	FailureThreshold int
	Cooldown         time.Duration
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		Cooldown:         2 * time.Minute,
	}
}

type Status struct {
	ProviderID          string    `json:"provider_id"`
	Healthy             bool      `json:"healthy"`
	LastChecked         time.Time `json:"last_checked"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	AvgLatencyMs        float64   `json:"avg_latency_ms"`
}

// Transition is passed to hooks when a provider flips between healthy and
// unhealthy.
type Transition struct {
	ProviderID          string
	Healthy             bool
	ConsecutiveFailures int
	At                  time.Time
}

type Tracker struct {
	mu       sync.RWMutex
	statuses map[string]*Status
	config   Config
	now      func() time.Time
	hooks    []func(Transition)
	logger   *slog.Logger
}

type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithTransitionHook registers fn to run, outside the tracker lock, on every
// healthy/unhealthy flip.
func WithTransitionHook(fn func(Transition)) Option {
	return func(t *Tracker) { t.hooks = append(t.hooks, fn) }
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

func NewTracker(cfg Config, opts ...Option) *Tracker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}

	t := &Tracker{
		statuses: make(map[string]*Status),
		config:   cfg,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) RecordSuccess(providerID string, latency time.Duration) {
	sample := float64(latency) / float64(time.Millisecond)

	t.update(providerID, func(s *Status, known bool) {
		s.Healthy = true
		s.ConsecutiveFailures = 0
		if known {
			s.AvgLatencyMs = (1-smoothing)*s.AvgLatencyMs + smoothing*sample
		} else {
			s.AvgLatencyMs = sample
		}
	})
}

// RecordFailure counts a failure. The provider turns unhealthy only when the
// consecutive count reaches the threshold.
func (t *Tracker) RecordFailure(providerID string) {
	t.update(providerID, func(s *Status, known bool) {
		s.ConsecutiveFailures++
		if s.ConsecutiveFailures >= t.config.FailureThreshold {
			s.Healthy = false
		}
	})
}

// IsHealthy reports whether providerID should be offered for routing.
func (t *Tracker) IsHealthy(providerID string) bool {
	t.mu.RLock()
	s, ok := t.statuses[providerID]
	if !ok {
		t.mu.RUnlock()
		return true
	}
	healthy, lastChecked := s.Healthy, s.LastChecked
	t.mu.RUnlock()

	if healthy {
		return true
	}
	return t.now().Sub(lastChecked) >= t.config.Cooldown
}

// CheckProviderHealth probes adapter and overwrites the stored status with
// the outcome.
func (t *Tracker) CheckProviderHealth(ctx context.Context, providerID string, adapter provider.Adapter) bool {
	start := t.now()
	ok := adapter.HealthCheck(ctx)
	latency := t.now().Sub(start)

	if ok {
		t.RecordSuccess(providerID, latency)
	} else {
		t.update(providerID, func(s *Status, known bool) {
			s.Healthy = false
			s.ConsecutiveFailures++
		})
	}

	t.logger.Info("provider health checked",
		"provider_id", providerID,
		"healthy", ok,
		"latency_ms", latency.Milliseconds(),
	)
	return ok
}

func (t *Tracker) Status(providerID string) (Status, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.statuses[providerID]
	if !ok {
		return Status{}, false
	}
	return *s, true
}

// Snapshot returns every known status ordered by provider id.
func (t *Tracker) Snapshot() []Status {
	t.mu.RLock()
	out := make([]Status, 0, len(t.statuses))
	for _, s := range t.statuses {
		out = append(out, *s)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ProviderID < out[j].ProviderID })
	return out
}

// Clear forgets every provider; all of them become unknown (healthy).
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statuses = make(map[string]*Status)
}

func (t *Tracker) update(providerID string, fn func(s *Status, known bool)) {
	now := t.now()

	t.mu.Lock()
	s, known := t.statuses[providerID]
	if !known {
		s = &Status{ProviderID: providerID, Healthy: true}
		t.statuses[providerID] = s
	}
	wasHealthy := s.Healthy
	fn(s, known)
	s.LastChecked = now
	snapshot := *s
	t.mu.Unlock()

	metrics.SetProviderHealthy(providerID, snapshot.Healthy)

	if wasHealthy == snapshot.Healthy {
		return
	}

	if snapshot.Healthy {
		t.logger.Info("provider recovered", "provider_id", providerID)
	} else {
		t.logger.Warn("provider marked unhealthy",
			"provider_id", providerID,
			"consecutive_failures", snapshot.ConsecutiveFailures,
		)
	}

	tr := Transition{
		ProviderID:          providerID,
		Healthy:             snapshot.Healthy,
		ConsecutiveFailures: snapshot.ConsecutiveFailures,
		At:                  now,
	}
	for _, hook := range t.hooks {
		hook(tr)
	}
}
