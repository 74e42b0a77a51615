// Package quota enforces per-account generation allowances measured in cost
// units (micro-currency) and raises alerts as usage approaches the limit.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/felipepmaragno/ai-orchestrator/internal/domain"
	"github.com/felipepmaragno/ai-orchestrator/internal/metrics"
)

type AlertLevel string

const (
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
	AlertLevelExceeded AlertLevel = "exceeded"
)

func (l AlertLevel) rank() int {
	switch l {
	case AlertLevelWarning:
		return 1
	case AlertLevelCritical:
		return 2
	case AlertLevelExceeded:
		return 3
	}
	return 0
}

type Alert struct {
	AccountID   string
	Level       AlertLevel
	Limit       int64
	Used        int64
	Percentage  float64
	PeriodStart time.Time
	Timestamp   time.Time
}

type AlertHandler func(alert Alert)

type Thresholds struct {
	Warning  float64
	Critical float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Warning:  0.8,
		Critical: 0.95,
	}
}

// Incrementer is implemented by stores that can add to Used atomically. The
// quota passed in has already been rolled into the current period.
type Incrementer interface {
	Increment(ctx context.Context, quota domain.Quota, cost int64) (domain.Quota, error)
}

// Gate implements domain.QuotaGate on top of a domain.QuotaStore.
type Gate struct {
	store      domain.QuotaStore
	thresholds Thresholds
	now        func() time.Time
	logger     *slog.Logger
	dedup      Deduplicator

	mu       sync.Mutex
	handlers []AlertHandler
}

type Option func(*Gate)

func WithThresholds(th Thresholds) Option {
	return func(g *Gate) { g.thresholds = th }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// WithDeduplicator replaces the in-process alert deduplicator, e.g. with a
// RedisDeduplicator shared by every instance.
func WithDeduplicator(d Deduplicator) Option {
	return func(g *Gate) { g.dedup = d }
}

func NewGate(store domain.QuotaStore, opts ...Option) *Gate {
	g := &Gate{
		store:      store,
		thresholds: DefaultThresholds(),
		now:        time.Now,
		logger:     slog.Default(),
		dedup:      NewInMemoryDeduplicator(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gate) OnAlert(handler AlertHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers = append(g.handlers, handler)
}

// Load returns the account's quota rolled into the current period. An account
// without a stored quota gets an unlimited one.
func (g *Gate) Load(ctx context.Context, accountID string) (domain.Quota, error) {
	q, err := g.store.Get(ctx, accountID)
	if errors.Is(err, domain.ErrQuotaNotFound) {
		return domain.Quota{AccountUUID: accountID}, nil
	}
	if err != nil {
		return domain.Quota{}, fmt.Errorf("get quota: %w", err)
	}
	return Roll(q, g.now()), nil
}

// CheckQuota fails with domain.ErrQuotaExceeded when spending cost would take
// the quota past its limit.
func (g *Gate) CheckQuota(ctx context.Context, quota domain.Quota, cost int64) error {
	quota = Roll(quota, g.now())
	if quota.Limit <= 0 {
		return nil
	}
	if quota.Used+cost > quota.Limit {
		metrics.RecordQuotaRejection()
		g.logger.Warn("quota exceeded",
			"account_id", quota.AccountUUID,
			"limit", quota.Limit,
			"used", quota.Used,
			"cost", cost,
		)
		return fmt.Errorf("%w: %d of %d used", domain.ErrQuotaExceeded, quota.Used, quota.Limit)
	}
	return nil
}

// ConsumeQuota adds cost to the quota, persists it and returns the result.
// Consumption is not refused; callers check first.
func (g *Gate) ConsumeQuota(ctx context.Context, quota domain.Quota, cost int64) (domain.Quota, error) {
	if cost < 0 {
		cost = 0
	}
	quota = Roll(quota, g.now())

	var updated domain.Quota
	if inc, ok := g.store.(Incrementer); ok {
		var err error
		updated, err = inc.Increment(ctx, quota, cost)
		if err != nil {
			return quota, fmt.Errorf("increment quota: %w", err)
		}
	} else {
		updated = quota
		updated.Used += cost
		if err := g.store.Save(ctx, updated); err != nil {
			return quota, fmt.Errorf("save quota: %w", err)
		}
	}

	if updated.Limit > 0 {
		metrics.SetQuotaUsage(updated.AccountUUID, float64(updated.Used)/float64(updated.Limit))
	}
	g.checkAlerts(ctx, updated)
	return updated, nil
}

func (g *Gate) level(q domain.Quota) AlertLevel {
	if q.Limit <= 0 {
		return ""
	}
	ratio := float64(q.Used) / float64(q.Limit)
	switch {
	case ratio >= 1.0:
		return AlertLevelExceeded
	case ratio >= g.thresholds.Critical:
		return AlertLevelCritical
	case ratio >= g.thresholds.Warning:
		return AlertLevelWarning
	}
	return ""
}

// checkAlerts fires each level at most once per period. A jump straight past
// several thresholds fires only the highest one.
func (g *Gate) checkAlerts(ctx context.Context, q domain.Quota) {
	level := g.level(q)
	if level == "" {
		return
	}
	if !g.dedup.ShouldAlert(ctx, q.AccountUUID, q.PeriodStart, level) {
		return
	}

	g.mu.Lock()
	handlers := make([]AlertHandler, len(g.handlers))
	copy(handlers, g.handlers)
	g.mu.Unlock()

	alert := Alert{
		AccountID:   q.AccountUUID,
		Level:       level,
		Limit:       q.Limit,
		Used:        q.Used,
		Percentage:  float64(q.Used) * 100 / float64(q.Limit),
		PeriodStart: q.PeriodStart,
		Timestamp:   g.now(),
	}
	for _, handler := range handlers {
		handler(alert)
	}
}

// Roll starts a new period, with Used reset, once now reaches the end of the
// current one. Quotas without a period never roll.
func Roll(q domain.Quota, now time.Time) domain.Quota {
	if q.Period <= 0 {
		return q
	}
	if q.PeriodStart.IsZero() {
		q.PeriodStart = now
		return q
	}
	end := q.PeriodStart.Add(q.Period)
	if now.Before(end) {
		return q
	}
	elapsed := now.Sub(q.PeriodStart) / q.Period
	q.PeriodStart = q.PeriodStart.Add(elapsed * q.Period)
	q.Used = 0
	return q
}

func LogAlertHandler(alert Alert) {
	slog.Warn("quota alert",
		"account_id", alert.AccountID,
		"level", alert.Level,
		"limit", alert.Limit,
		"used", alert.Used,
		"percentage", alert.Percentage,
	)
}
