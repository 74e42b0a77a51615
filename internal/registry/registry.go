// Package registry builds provider adapters from provider configs and caches
// them by config identity and version.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/felipepmaragno/ai-orchestrator/internal/domain"
	"github.com/felipepmaragno/ai-orchestrator/internal/metrics"
	"github.com/felipepmaragno/ai-orchestrator/internal/provider"
	"github.com/felipepmaragno/ai-orchestrator/internal/provider/bedrock"
	"github.com/felipepmaragno/ai-orchestrator/internal/provider/openaicompat"
	"github.com/felipepmaragno/ai-orchestrator/internal/secrets"
	"github.com/google/uuid"
)

const DefaultCapacity = 50

// Builder constructs an adapter for cfg. credential is the resolved secret,
// never a "secret:" reference.
type Builder func(ctx context.Context, cfg domain.ProviderConfig, credential string) (provider.Adapter, error)

type cacheKey struct {
	id        string
	updatedAt int64
}

func keyOf(cfg domain.ProviderConfig) cacheKey {
	return cacheKey{id: cfg.UUID, updatedAt: cfg.UpdatedAt.UnixNano()}
}

type Registry struct {
	mu       sync.Mutex
	entries  map[cacheKey]provider.Adapter
	order    []cacheKey
	capacity int

	builders   map[domain.ProviderType]Builder
	secrets    secrets.SecretStore
	httpClient *http.Client
	awsRegion  string
	logger     *slog.Logger
}

type Option func(*Registry)

func WithCapacity(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.capacity = n
		}
	}
}

func WithSecretStore(s secrets.SecretStore) Option {
	return func(r *Registry) { r.secrets = s }
}

func WithHTTPClient(c *http.Client) Option {
	return func(r *Registry) { r.httpClient = c }
}

func WithAWSRegion(region string) Option {
	return func(r *Registry) { r.awsRegion = region }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithBuilder overrides how adapters of type t are constructed.
func WithBuilder(t domain.ProviderType, b Builder) Option {
	return func(r *Registry) { r.builders[t] = b }
}

func New(opts ...Option) *Registry {
	r := &Registry{
		entries:  make(map[cacheKey]provider.Adapter),
		capacity: DefaultCapacity,
		builders: make(map[domain.ProviderType]Builder),
		logger:   slog.Default(),
	}

	for _, t := range []domain.ProviderType{
		domain.ProviderOpenAI, domain.ProviderAnthropic, domain.ProviderDeepSeek,
		domain.ProviderGemini, domain.ProviderOpenRouter, domain.ProviderOllama,
		domain.ProviderCustom,
	} {
		r.builders[t] = r.buildCompatible
	}
	r.builders[domain.ProviderBedrock] = r.buildBedrock

	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the cached adapter for cfg or builds one. Any change to
// cfg.UpdatedAt is a miss, and the entry for the previous version is dropped.
func (r *Registry) Get(ctx context.Context, cfg domain.ProviderConfig) (provider.Adapter, error) {
	key := keyOf(cfg)

	r.mu.Lock()
	if a, ok := r.entries[key]; ok {
		r.mu.Unlock()
		metrics.RecordAdapterCacheHit()
		return a, nil
	}
	r.mu.Unlock()

	metrics.RecordAdapterCacheMiss()

	adapter, err := r.build(ctx, cfg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another caller may have built the same version while we were unlocked.
	if existing, ok := r.entries[key]; ok {
		return existing, nil
	}

	r.dropStaleLocked(key)
	r.entries[key] = adapter
	r.order = append(r.order, key)

	for len(r.order) > r.capacity {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.entries, oldest)
		metrics.RecordAdapterCacheEviction()
	}
	metrics.SetAdapterCacheSize(len(r.entries))

	r.logger.Debug("adapter created",
		"provider_id", cfg.UUID,
		"provider_type", cfg.ProviderType,
		"cache_size", len(r.entries),
	)

	return adapter, nil
}

// build creates an adapter for cfg without consulting or filling the cache.
func (r *Registry) build(ctx context.Context, cfg domain.ProviderConfig) (provider.Adapter, error) {
	r.mu.Lock()
	builder, ok := r.builders[cfg.ProviderType]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedProviderType, cfg.ProviderType)
	}

	credential, err := secrets.Resolve(ctx, r.secrets, cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("resolve credential for %s: %w", cfg.UUID, err)
	}

	adapter, err := builder(ctx, cfg, credential)
	if err != nil {
		return nil, fmt.Errorf("build %s adapter: %w", cfg.ProviderType, err)
	}
	return adapter, nil
}

func (r *Registry) dropStaleLocked(key cacheKey) {
	kept := r.order[:0]
	for _, k := range r.order {
		if k.id == key.id && k != key {
			delete(r.entries, k)
			continue
		}
		kept = append(kept, k)
	}
	r.order = kept
}

// Clear drops every cached adapter.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = make(map[cacheKey]provider.Adapter)
	r.order = nil
	metrics.SetAdapterCacheSize(0)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

type ConnectionResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	LatencyMs int64  `json:"latency_ms"`
}

// TestConnection builds a throwaway adapter for candidate and runs its health
// check. The adapter bypasses the cache entirely, and failures are reported in
// the result instead of returned.
func (r *Registry) TestConnection(ctx context.Context, candidate domain.ProviderConfig) (result ConnectionResult) {
	probe := candidate
	probe.UUID = "test-" + uuid.NewString()

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("connection test panicked", "provider_type", candidate.ProviderType, "panic", p)
			result = ConnectionResult{Success: false, Message: fmt.Sprintf("connection test failed: %v", p)}
		}
	}()

	adapter, err := r.build(ctx, probe)
	if err != nil {
		return ConnectionResult{Success: false, Message: err.Error()}
	}

	start := time.Now()
	ok := adapter.HealthCheck(ctx)
	latency := time.Since(start).Milliseconds()

	if !ok {
		return ConnectionResult{Success: false, Message: "health check failed", LatencyMs: latency}
	}
	return ConnectionResult{Success: true, Message: "connection successful", LatencyMs: latency}
}

func (r *Registry) buildCompatible(ctx context.Context, cfg domain.ProviderConfig, credential string) (provider.Adapter, error) {
	backend, ok := openaicompat.BackendFor(cfg.ProviderType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedProviderType, cfg.ProviderType)
	}
	return openaicompat.New(openaicompat.Config{
		Name:         cfg.Name,
		Backend:      backend,
		BaseURL:      cfg.BaseURL,
		APIKey:       credential,
		DefaultModel: cfg.DefaultModel,
		HTTPClient:   r.httpClient,
	})
}

func (r *Registry) buildBedrock(ctx context.Context, cfg domain.ProviderConfig, _ string) (provider.Adapter, error) {
	region := r.awsRegion
	if cfg.BaseURL != "" {
		region = cfg.BaseURL
	}
	return bedrock.New(ctx, bedrock.Config{
		Name:         cfg.Name,
		Region:       region,
		DefaultModel: cfg.DefaultModel,
	})
}

// DefaultModel returns the model an adapter built from cfg would use: the
// config's own default, else the backend preset's.
func DefaultModel(cfg domain.ProviderConfig) string {
	if cfg.DefaultModel != "" {
		return cfg.DefaultModel
	}
	if cfg.ProviderType == domain.ProviderBedrock {
		return bedrock.DefaultModel
	}
	if b, ok := openaicompat.BackendFor(cfg.ProviderType); ok {
		return b.DefaultModel
	}
	return ""
}
