// Package gateway is the entry point generation use cases call. It checks the
// account's quota, hands the call to the failover orchestrator and bills the
// estimated cost of the tokens actually used.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felipepmaragno/ai-orchestrator/internal/cost"
	"github.com/felipepmaragno/ai-orchestrator/internal/domain"
	"github.com/felipepmaragno/ai-orchestrator/internal/failover"
	"github.com/felipepmaragno/ai-orchestrator/internal/metrics"
	"github.com/felipepmaragno/ai-orchestrator/internal/provider"
	"github.com/felipepmaragno/ai-orchestrator/internal/telemetry"
)

// minimumCharge is billed for a successful call whose estimate rounds to zero.
const minimumCharge int64 = 1

var ErrModelListingUnsupported = errors.New("provider does not list models")

// Orchestrator is satisfied by *failover.Orchestrator.
type Orchestrator interface {
	GenerateText(ctx context.Context, accountID string, req provider.Request, opts failover.Options) failover.Result
	StreamText(ctx context.Context, accountID string, req provider.Request, opts failover.Options) failover.StreamResult
}

// QuotaGate is satisfied by *quota.Gate.
type QuotaGate interface {
	domain.QuotaGate
	Load(ctx context.Context, accountID string) (domain.Quota, error)
}

// Error is returned when no provider produced a result. Attempted lists the
// display names tried, possibly none.
type Error struct {
	Attempted []string
	Err       error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

type Generation struct {
	ProviderID   string
	ProviderName string
	Attempted    []string
	Response     *provider.Response
	Cost         cost.Estimate
	Latency      time.Duration
	Quota        domain.Quota
}

// Stream is an open generation stream. Chunks must be drained or ctx
// cancelled. Billing happens when the Done chunk passes through.
type Stream struct {
	ProviderID   string
	ProviderName string
	Attempted    []string
	Chunks       <-chan provider.StreamChunk
}

type Gateway struct {
	orchestrator Orchestrator
	estimator    *cost.Estimator
	store        domain.ProviderConfigStore
	adapters     failover.AdapterSource
	quota        QuotaGate
	usage        cost.Tracker
	now          func() time.Time
	logger       *slog.Logger
}

type Option func(*Gateway)

// WithQuota enables quota enforcement. Without it every account is unlimited.
func WithQuota(q QuotaGate) Option {
	return func(g *Gateway) { g.quota = q }
}

func WithUsageTracker(t cost.Tracker) Option {
	return func(g *Gateway) { g.usage = t }
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

func New(orchestrator Orchestrator, estimator *cost.Estimator, store domain.ProviderConfigStore, adapters failover.AdapterSource, opts ...Option) *Gateway {
	g := &Gateway{
		orchestrator: orchestrator,
		estimator:    estimator,
		store:        store,
		adapters:     adapters,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) Generate(ctx context.Context, accountID string, req provider.Request, opts failover.Options) (*Generation, error) {
	ctx, span := telemetry.StartSpan(ctx, "gateway.generate")
	defer span.End()

	q, err := g.admit(ctx, accountID)
	if err != nil {
		telemetry.RecordError(span, err)
		metrics.RecordGeneration("sync", generationStatus(err))
		return nil, err
	}

	result := g.orchestrator.GenerateText(ctx, accountID, req, opts)
	if !result.Success {
		metrics.RecordGeneration("sync", generationStatus(result.Err))
		return nil, &Error{Attempted: result.Attempted, Err: result.Err}
	}

	est, q := g.bill(ctx, q, usageEvent{
		accountID: accountID,
		cfg:       result.Provider,
		model:     result.Response.Model,
		usage:     result.Response.Usage,
		latency:   result.Latency,
		attempts:  len(result.Attempted),
	})
	telemetry.AddCostAttribute(span, est.CostFloat())
	metrics.RecordGeneration("sync", "success")

	return &Generation{
		ProviderID:   result.ProviderID(),
		ProviderName: result.ProviderName(),
		Attempted:    result.Attempted,
		Response:     result.Response,
		Cost:         est,
		Latency:      result.Latency,
		Quota:        q,
	}, nil
}

func (g *Gateway) Stream(ctx context.Context, accountID string, req provider.Request, opts failover.Options) (*Stream, error) {
	q, err := g.admit(ctx, accountID)
	if err != nil {
		metrics.RecordGeneration("stream", generationStatus(err))
		return nil, err
	}

	result := g.orchestrator.StreamText(ctx, accountID, req, opts)
	if !result.Success {
		metrics.RecordGeneration("stream", generationStatus(result.Err))
		return nil, &Error{Attempted: result.Attempted, Err: result.Err}
	}

	return &Stream{
		ProviderID:   result.Provider.UUID,
		ProviderName: result.Provider.Name,
		Attempted:    result.Attempted,
		Chunks:       g.meter(ctx, q, accountID, result, g.now()),
	}, nil
}

// meter forwards chunks and bills the stream once its Done chunk arrives.
func (g *Gateway) meter(ctx context.Context, q domain.Quota, accountID string, result failover.StreamResult, start time.Time) <-chan provider.StreamChunk {
	out := make(chan provider.StreamChunk)

	go func() {
		defer close(out)
		for chunk := range result.Chunks {
			switch {
			case chunk.Done:
				var usage provider.Usage
				if chunk.Usage != nil {
					usage = *chunk.Usage
				}
				g.bill(context.WithoutCancel(ctx), q, usageEvent{
					accountID: accountID,
					cfg:       result.Provider,
					usage:     usage,
					latency:   g.now().Sub(start),
					attempts:  len(result.Attempted),
					streamed:  true,
				})
				metrics.RecordGeneration("stream", "success")
			case chunk.Err != nil:
				metrics.RecordGeneration("stream", "error")
			}
			if !provider.Send(ctx, out, chunk) {
				return
			}
		}
	}()

	return out
}

// EstimateCosts returns what the call would cost on each active provider of
// the account, cheapest first.
func (g *Gateway) EstimateCosts(ctx context.Context, accountID string, inputTokens, outputTokens int) ([]cost.Estimate, error) {
	return g.estimator.Compare(ctx, accountID, inputTokens, outputTokens)
}

// RefreshModels asks the provider for its model list and stores it on the
// config. Prices already known for a model are kept.
func (g *Gateway) RefreshModels(ctx context.Context, configID string) ([]domain.ModelInfo, error) {
	cfg, err := g.store.FindByUUID(ctx, configID)
	if err != nil {
		return nil, fmt.Errorf("find provider: %w", err)
	}

	adapter, err := g.adapters.Get(ctx, *cfg)
	if err != nil {
		return nil, fmt.Errorf("get adapter: %w", err)
	}
	lister, ok := adapter.(provider.ModelLister)
	if !ok {
		return nil, ErrModelListingUnsupported
	}

	listed, err := lister.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}

	models := make([]domain.ModelInfo, 0, len(listed))
	for _, m := range listed {
		if known, ok := cfg.FindModel(m.ID); ok {
			if m.InputCostPerMillion == nil {
				m.InputCostPerMillion = known.InputCostPerMillion
			}
			if m.OutputCostPerMillion == nil {
				m.OutputCostPerMillion = known.OutputCostPerMillion
			}
		}
		models = append(models, m)
	}

	cfg.AvailableModels = models
	if err := g.store.Save(ctx, cfg); err != nil {
		return nil, fmt.Errorf("save provider: %w", err)
	}

	g.logger.Info("provider models refreshed",
		"provider_id", cfg.UUID,
		"account_id", cfg.AccountUUID,
		"models", len(models),
	)
	return models, nil
}

func (g *Gateway) admit(ctx context.Context, accountID string) (domain.Quota, error) {
	if g.quota == nil {
		return domain.Quota{AccountUUID: accountID}, nil
	}

	q, err := g.quota.Load(ctx, accountID)
	if err != nil {
		return q, fmt.Errorf("load quota: %w", err)
	}
	if err := g.quota.CheckQuota(ctx, q, minimumCharge); err != nil {
		return q, err
	}
	return q, nil
}

type usageEvent struct {
	accountID string
	cfg       *domain.ProviderConfig
	model     string
	usage     provider.Usage
	latency   time.Duration
	attempts  int
	streamed  bool
}

// bill estimates the cost from actual usage, consumes it from the quota and
// records it. Failures here are logged; the generation already happened.
func (g *Gateway) bill(ctx context.Context, q domain.Quota, ev usageEvent) (cost.Estimate, domain.Quota) {
	model := ev.model
	if model == "" {
		model = g.estimator.ModelFor(*ev.cfg)
	}
	est := g.estimator.Estimate(ev.cfg.Name, model, ev.cfg.AvailableModels, ev.usage.PromptTokens, ev.usage.CompletionTokens)
	est.ProviderID = ev.cfg.UUID

	providerType := string(ev.cfg.ProviderType)
	metrics.RecordTokens(providerType, model, ev.usage.PromptTokens, ev.usage.CompletionTokens)
	metrics.RecordCost(providerType, model, est.CostFloat())

	if g.quota != nil {
		updated, err := g.quota.ConsumeQuota(ctx, q, max(est.Micros(), minimumCharge))
		if err != nil {
			g.logger.Error("failed to consume quota", "account_id", ev.accountID, "error", err)
		} else {
			q = updated
		}
	}

	if g.usage != nil {
		err := g.usage.Record(ctx, cost.UsageRecord{
			AccountID:    ev.accountID,
			ProviderID:   ev.cfg.UUID,
			ProviderType: providerType,
			Model:        model,
			InputTokens:  ev.usage.PromptTokens,
			OutputTokens: ev.usage.CompletionTokens,
			CostUSD:      est.CostFloat(),
			LatencyMs:    ev.latency.Milliseconds(),
			Attempts:     ev.attempts,
			Streamed:     ev.streamed,
			Timestamp:    g.now(),
		})
		if err != nil {
			g.logger.Error("failed to record usage", "account_id", ev.accountID, "error", err)
		}
	}

	return est, q
}

func generationStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, domain.ErrAllProvidersFailed):
		return "exhausted"
	case errors.Is(err, domain.ErrNoActiveProviders),
		errors.Is(err, domain.ErrProviderNotFound),
		errors.Is(err, domain.ErrProviderInactive),
		errors.Is(err, domain.ErrProviderAccountMismatch):
		return "no_provider"
	}
	return "error"
}
