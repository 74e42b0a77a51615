// Package failover tries an account's providers one at a time, in priority
// order, until one of them produces a result.
package failover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/felipepmaragno/ai-orchestrator/internal/domain"
	"github.com/felipepmaragno/ai-orchestrator/internal/metrics"
	"github.com/felipepmaragno/ai-orchestrator/internal/provider"
	"github.com/felipepmaragno/ai-orchestrator/internal/telemetry"
)

const DefaultMaxAttempts = 3

// AdapterSource is satisfied by *registry.Registry.
type AdapterSource interface {
	Get(ctx context.Context, cfg domain.ProviderConfig) (provider.Adapter, error)
}

// HealthRecorder is satisfied by *health.Tracker.
type HealthRecorder interface {
	IsHealthy(providerID string) bool
	RecordSuccess(providerID string, latency time.Duration)
	RecordFailure(providerID string)
}

// ExhaustedError is returned when every attempted provider failed.
type ExhaustedError struct {
	Attempts int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d providers failed", e.Attempts)
}

func (e *ExhaustedError) Is(target error) bool {
	return target == domain.ErrAllProvidersFailed
}

// Options adjust a single orchestration. ProviderID pins the call to one
// provider; MaxAttempts overrides the orchestrator default when positive.
type Options struct {
	ProviderID  string
	MaxAttempts int
}

// Result describes one GenerateText orchestration. Attempted lists display
// names in the order they were tried. On failure Provider is nil, Error holds
// the caller-facing message and Err the typed cause.
type Result struct {
	Success   bool
	Provider  *domain.ProviderConfig
	Attempted []string
	Response  *provider.Response
	Latency   time.Duration
	Error     string
	Err       error
}

func (r Result) ProviderID() string {
	if r.Provider == nil {
		return ""
	}
	return r.Provider.UUID
}

func (r Result) ProviderName() string {
	if r.Provider == nil {
		return ""
	}
	return r.Provider.Name
}

// StreamResult describes one StreamText orchestration. Chunks must be
// drained, or the context cancelled, by the caller.
type StreamResult struct {
	Success   bool
	Provider  *domain.ProviderConfig
	Attempted []string
	Chunks    <-chan provider.StreamChunk
	Error     string
	Err       error
}

type Orchestrator struct {
	store       domain.ProviderConfigStore
	adapters    AdapterSource
	health      HealthRecorder
	maxAttempts int
	logger      *slog.Logger
}

type Option func(*Orchestrator)

func WithMaxAttempts(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func New(store domain.ProviderConfigStore, adapters AdapterSource, health HealthRecorder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       store,
		adapters:    adapters,
		health:      health,
		maxAttempts: DefaultMaxAttempts,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Candidates resolves the providers an orchestration may use: the pinned
// provider alone, or every active provider of the account ordered by
// ascending priority with ties kept in store order.
func (o *Orchestrator) Candidates(ctx context.Context, accountID, pinnedID string) ([]*domain.ProviderConfig, error) {
	if pinnedID != "" {
		cfg, err := o.store.FindByUUID(ctx, pinnedID)
		if errors.Is(err, domain.ErrConfigNotFound) {
			return nil, domain.ErrProviderNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("find provider: %w", err)
		}
		if cfg.AccountUUID != accountID {
			return nil, domain.ErrProviderAccountMismatch
		}
		if !cfg.IsActive {
			return nil, domain.ErrProviderInactive
		}
		return []*domain.ProviderConfig{cfg}, nil
	}

	all, err := o.store.FindAllByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("find providers: %w", err)
	}

	active := make([]*domain.ProviderConfig, 0, len(all))
	for _, cfg := range all {
		if cfg.IsActive {
			active = append(active, cfg)
		}
	}
	if len(active) == 0 {
		return nil, domain.ErrNoActiveProviders
	}

	sort.SliceStable(active, func(i, j int) bool {
		return active[i].EffectivePriority() < active[j].EffectivePriority()
	})
	return active, nil
}

// queue keeps the candidates the health tracker currently offers. When none
// are offered it returns every candidate, so an account whose providers all
// look unhealthy still gets a real attempt.
func (o *Orchestrator) queue(candidates []*domain.ProviderConfig) []*domain.ProviderConfig {
	healthy := make([]*domain.ProviderConfig, 0, len(candidates))
	for _, cfg := range candidates {
		if o.health.IsHealthy(cfg.UUID) {
			healthy = append(healthy, cfg)
		}
	}
	if len(healthy) == 0 {
		o.logger.Warn("no healthy providers, trying all candidates", "candidates", len(candidates))
		return candidates
	}
	return healthy
}

func (o *Orchestrator) attempts(opts Options, queued int) int {
	n := o.maxAttempts
	if opts.MaxAttempts > 0 {
		n = opts.MaxAttempts
	}
	return min(n, queued)
}

func (o *Orchestrator) GenerateText(ctx context.Context, accountID string, req provider.Request, opts Options) Result {
	ctx, span := telemetry.StartSpan(ctx, "failover.generate")
	defer span.End()

	candidates, err := o.Candidates(ctx, accountID, opts.ProviderID)
	if err != nil {
		telemetry.RecordError(span, err)
		return Result{Attempted: []string{}, Error: err.Error(), Err: err}
	}

	queue := o.queue(candidates)
	n := o.attempts(opts, len(queue))
	telemetry.AddOrchestrationAttributes(span, accountID, opts.ProviderID, len(queue))

	attempted := make([]string, 0, n)
	for i := 0; i < n; i++ {
		cfg := queue[i]
		attempted = append(attempted, cfg.Name)

		resp, latency, err := o.generateOnce(ctx, i+1, cfg, req)
		if err == nil {
			o.health.RecordSuccess(cfg.UUID, latency)
			o.logger.Info("generation succeeded",
				"account_id", accountID,
				"provider_id", cfg.UUID,
				"provider_name", cfg.Name,
				"attempt", i+1,
				"latency_ms", latency.Milliseconds(),
			)
			return Result{
				Success:   true,
				Provider:  cfg,
				Attempted: attempted,
				Response:  resp,
				Latency:   latency,
			}
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			telemetry.RecordError(span, ctxErr)
			return Result{Attempted: attempted, Error: ctxErr.Error(), Err: ctxErr}
		}

		o.health.RecordFailure(cfg.UUID)
		o.logger.Warn("provider attempt failed",
			"account_id", accountID,
			"provider_id", cfg.UUID,
			"provider_name", cfg.Name,
			"attempt", i+1,
			"error", err,
		)
	}

	metrics.RecordFailoverExhausted()
	exhausted := &ExhaustedError{Attempts: n}
	telemetry.RecordError(span, exhausted)
	o.logger.Error("all providers failed", "account_id", accountID, "attempts", n)

	return Result{Attempted: attempted, Error: exhausted.Error(), Err: exhausted}
}

func (o *Orchestrator) generateOnce(ctx context.Context, attempt int, cfg *domain.ProviderConfig, req provider.Request) (*provider.Response, time.Duration, error) {
	ctx, span := telemetry.StartSpan(ctx, "failover.attempt")
	defer span.End()
	telemetry.AddAttemptAttributes(span, attempt, cfg.UUID, cfg.Name, string(cfg.ProviderType))

	start := time.Now()
	adapter, err := o.adapters.Get(ctx, *cfg)
	if err != nil {
		telemetry.RecordError(span, err)
		metrics.RecordAttempt(string(cfg.ProviderType), "error", time.Since(start).Seconds())
		return nil, 0, err
	}

	resp, err := adapter.GenerateText(ctx, req)
	latency := time.Since(start)
	if err != nil {
		telemetry.RecordError(span, err)
		metrics.RecordAttempt(string(cfg.ProviderType), attemptStatus(err), latency.Seconds())
		return nil, latency, err
	}

	telemetry.AddTokenAttributes(span, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	metrics.RecordAttempt(string(cfg.ProviderType), "success", latency.Seconds())
	return resp, latency, nil
}

// StreamText returns on the first provider whose stream opens. The stream's
// eventual outcome is recorded against that provider's health when the
// returned channel finishes.
func (o *Orchestrator) StreamText(ctx context.Context, accountID string, req provider.Request, opts Options) StreamResult {
	ctx, span := telemetry.StartSpan(ctx, "failover.stream")
	defer span.End()

	candidates, err := o.Candidates(ctx, accountID, opts.ProviderID)
	if err != nil {
		telemetry.RecordError(span, err)
		return StreamResult{Attempted: []string{}, Error: err.Error(), Err: err}
	}

	queue := o.queue(candidates)
	n := o.attempts(opts, len(queue))
	telemetry.AddOrchestrationAttributes(span, accountID, opts.ProviderID, len(queue))

	attempted := make([]string, 0, n)
	for i := 0; i < n; i++ {
		cfg := queue[i]
		attempted = append(attempted, cfg.Name)

		start := time.Now()
		chunks, err := o.openStream(ctx, cfg, req)
		if err == nil {
			metrics.RecordAttempt(string(cfg.ProviderType), "success", time.Since(start).Seconds())
			o.logger.Info("stream opened",
				"account_id", accountID,
				"provider_id", cfg.UUID,
				"provider_name", cfg.Name,
				"attempt", i+1,
			)
			return StreamResult{
				Success:   true,
				Provider:  cfg,
				Attempted: attempted,
				Chunks:    o.observe(ctx, cfg.UUID, start, chunks),
			}
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			telemetry.RecordError(span, ctxErr)
			return StreamResult{Attempted: attempted, Error: ctxErr.Error(), Err: ctxErr}
		}

		metrics.RecordAttempt(string(cfg.ProviderType), attemptStatus(err), time.Since(start).Seconds())
		o.health.RecordFailure(cfg.UUID)
		o.logger.Warn("provider stream failed to open",
			"account_id", accountID,
			"provider_id", cfg.UUID,
			"provider_name", cfg.Name,
			"attempt", i+1,
			"error", err,
		)
	}

	metrics.RecordFailoverExhausted()
	exhausted := &ExhaustedError{Attempts: n}
	telemetry.RecordError(span, exhausted)
	return StreamResult{Attempted: attempted, Error: exhausted.Error(), Err: exhausted}
}

func (o *Orchestrator) openStream(ctx context.Context, cfg *domain.ProviderConfig, req provider.Request) (<-chan provider.StreamChunk, error) {
	adapter, err := o.adapters.Get(ctx, *cfg)
	if err != nil {
		return nil, err
	}
	return adapter.StreamText(ctx, req)
}

// observe forwards chunks unchanged and records the stream outcome: success
// on the Done chunk, failure on an Err chunk. A stream abandoned through ctx
// records nothing.
func (o *Orchestrator) observe(ctx context.Context, providerID string, start time.Time, in <-chan provider.StreamChunk) <-chan provider.StreamChunk {
	out := make(chan provider.StreamChunk)

	go func() {
		defer close(out)
		for chunk := range in {
			switch {
			case chunk.Err != nil:
				o.health.RecordFailure(providerID)
				o.logger.Warn("stream failed", "provider_id", providerID, "error", chunk.Err)
			case chunk.Done:
				o.health.RecordSuccess(providerID, time.Since(start))
			}
			if !provider.Send(ctx, out, chunk) {
				return
			}
		}
	}()

	return out
}

func attemptStatus(err error) string {
	if provider.IsTimeout(err) {
		return "timeout"
	}
	return "error"
}
