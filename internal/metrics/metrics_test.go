package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordAttempt(t *testing.T) {
	AttemptsTotal.Reset()
	AttemptDuration.Reset()

	RecordAttempt("openai", "success", 1.5)
	RecordAttempt("openai", "error", 0.2)
	RecordAttempt("openai", "success", 0.7)

	if got := testutil.ToFloat64(AttemptsTotal.WithLabelValues("openai", "success")); got != 2 {
		t.Errorf("AttemptsTotal{success} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(AttemptsTotal.WithLabelValues("openai", "error")); got != 1 {
		t.Errorf("AttemptsTotal{error} = %v, want 1", got)
	}
}

func TestRecordTokens(t *testing.T) {
	TokensTotal.Reset()

	RecordTokens("deepseek", "deepseek-chat", 100, 50)

	if got := testutil.ToFloat64(TokensTotal.WithLabelValues("deepseek", "deepseek-chat", "input")); got != 100 {
		t.Errorf("input tokens = %v, want 100", got)
	}
	if got := testutil.ToFloat64(TokensTotal.WithLabelValues("deepseek", "deepseek-chat", "output")); got != 50 {
		t.Errorf("output tokens = %v, want 50", got)
	}
}

func TestRecordCost(t *testing.T) {
	CostTotal.Reset()

	RecordCost("openai", "gpt-4o", 0.01)
	RecordCost("openai", "gpt-4o", 0.02)

	if got := testutil.ToFloat64(CostTotal.WithLabelValues("openai", "gpt-4o")); got < 0.0299 || got > 0.0301 {
		t.Errorf("CostTotal = %v, want 0.03", got)
	}
}

func TestSetProviderHealthy(t *testing.T) {
	ProviderHealthy.Reset()

	SetProviderHealthy("p1", true)
	if got := testutil.ToFloat64(ProviderHealthy.WithLabelValues("p1")); got != 1 {
		t.Errorf("ProviderHealthy = %v, want 1", got)
	}

	SetProviderHealthy("p1", false)
	if got := testutil.ToFloat64(ProviderHealthy.WithLabelValues("p1")); got != 0 {
		t.Errorf("ProviderHealthy = %v, want 0", got)
	}
}

func TestAdapterCacheMetrics(t *testing.T) {
	hits := testutil.ToFloat64(AdapterCacheHits)
	misses := testutil.ToFloat64(AdapterCacheMisses)

	RecordAdapterCacheHit()
	RecordAdapterCacheMiss()
	RecordAdapterCacheMiss()
	SetAdapterCacheSize(7)

	if got := testutil.ToFloat64(AdapterCacheHits) - hits; got != 1 {
		t.Errorf("hits delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(AdapterCacheMisses) - misses; got != 2 {
		t.Errorf("misses delta = %v, want 2", got)
	}
	if got := testutil.ToFloat64(AdapterCacheSize); got != 7 {
		t.Errorf("size = %v, want 7", got)
	}
}

func TestSetQuotaUsage(t *testing.T) {
	QuotaUsageRatio.Reset()

	SetQuotaUsage("acct-1", 0.75)

	if got := testutil.ToFloat64(QuotaUsageRatio.WithLabelValues("acct-1")); got != 0.75 {
		t.Errorf("QuotaUsageRatio = %v, want 0.75", got)
	}
}
