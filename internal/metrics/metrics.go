package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiorchestrator_attempts_total",
			Help: "Total number of provider attempts made by the failover loop",
		},
		[]string{"provider_type", "status"},
	)

	AttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aiorchestrator_attempt_duration_seconds",
			Help:    "Duration of a single provider attempt in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider_type"},
	)

	FailoverExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aiorchestrator_failover_exhausted_total",
			Help: "Orchestrations in which every candidate provider failed",
		},
	)

	GenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiorchestrator_generations_total",
			Help: "Total number of gateway generations",
		},
		[]string{"mode", "status"},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiorchestrator_tokens_total",
			Help: "Total number of tokens processed",
		},
		[]string{"provider_type", "model", "type"},
	)

	CostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiorchestrator_estimated_cost_usd_total",
			Help: "Total estimated cost in USD",
		},
		[]string{"provider_type", "model"},
	)

	ProviderHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aiorchestrator_provider_healthy",
			Help: "Provider health (1=healthy, 0=unhealthy)",
		},
		[]string{"provider_id"},
	)

	AdapterCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aiorchestrator_adapter_cache_hits_total",
			Help: "Adapter registry cache hits",
		},
	)

	AdapterCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aiorchestrator_adapter_cache_misses_total",
			Help: "Adapter registry cache misses",
		},
	)

	AdapterCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aiorchestrator_adapter_cache_evictions_total",
			Help: "Adapters evicted from the registry cache",
		},
	)

	AdapterCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aiorchestrator_adapter_cache_size",
			Help: "Adapters currently cached",
		},
	)

	QuotaUsageRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aiorchestrator_quota_usage_ratio",
			Help: "Current quota usage ratio (0-1)",
		},
		[]string{"account_id"},
	)

	QuotaRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aiorchestrator_quota_rejections_total",
			Help: "Generations rejected because the account quota was exhausted",
		},
	)

	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiorchestrator_jobs_total",
			Help: "Async generation jobs processed by the worker",
		},
		[]string{"status"},
	)
)

func RecordAttempt(providerType, status string, durationSec float64) {
	AttemptsTotal.WithLabelValues(providerType, status).Inc()
	AttemptDuration.WithLabelValues(providerType).Observe(durationSec)
}

func RecordFailoverExhausted() {
	FailoverExhausted.Inc()
}

func RecordGeneration(mode, status string) {
	GenerationsTotal.WithLabelValues(mode, status).Inc()
}

func RecordTokens(providerType, model string, inputTokens, outputTokens int) {
	TokensTotal.WithLabelValues(providerType, model, "input").Add(float64(inputTokens))
	TokensTotal.WithLabelValues(providerType, model, "output").Add(float64(outputTokens))
}

func RecordCost(providerType, model string, costUSD float64) {
	CostTotal.WithLabelValues(providerType, model).Add(costUSD)
}

func SetProviderHealthy(providerID string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	ProviderHealthy.WithLabelValues(providerID).Set(v)
}

func RecordAdapterCacheHit() {
	AdapterCacheHits.Inc()
}

func RecordAdapterCacheMiss() {
	AdapterCacheMisses.Inc()
}

func RecordAdapterCacheEviction() {
	AdapterCacheEvictions.Inc()
}

func SetAdapterCacheSize(n int) {
	AdapterCacheSize.Set(float64(n))
}

func SetQuotaUsage(accountID string, ratio float64) {
	QuotaUsageRatio.WithLabelValues(accountID).Set(ratio)
}

func RecordQuotaRejection() {
	QuotaRejections.Inc()
}

func RecordJob(status string) {
	JobsTotal.WithLabelValues(status).Inc()
}
