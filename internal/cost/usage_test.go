package cost

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryTracker_Record(t *testing.T) {
	tracker := NewInMemoryTracker()
	ctx := context.Background()

	record := UsageRecord{
		AccountID:    "acct1",
		ProviderID:   "p1",
		Model:        "gpt-4",
		ProviderType: "openai",
		InputTokens:  100,
		OutputTokens: 50,
		CostUSD:      0.01,
		Timestamp:    time.Now(),
	}

	if err := tracker.Record(ctx, record); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if records := tracker.GetAllRecords(); len(records) != 1 {
		t.Errorf("expected 1 record, got %d", len(records))
	}
}

func TestInMemoryTracker_GetAccountTotalCost(t *testing.T) {
	tracker := NewInMemoryTracker()
	ctx := context.Background()
	now := time.Now()

	tracker.Record(ctx, UsageRecord{AccountID: "acct1", CostUSD: 0.10, Timestamp: now})
	tracker.Record(ctx, UsageRecord{AccountID: "acct1", CostUSD: 0.20, Timestamp: now})
	tracker.Record(ctx, UsageRecord{AccountID: "acct2", CostUSD: 0.50, Timestamp: now})
	tracker.Record(ctx, UsageRecord{AccountID: "acct1", CostUSD: 9.00, Timestamp: now.Add(-2 * time.Hour)})

	total, err := tracker.GetAccountTotalCost(ctx, "acct1", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total < 0.29 || total > 0.31 {
		t.Errorf("expected ~0.30, got %f", total)
	}

	usage, _ := tracker.GetAccountUsage(ctx, "acct1", now.Add(-time.Hour))
	if len(usage) != 2 {
		t.Errorf("expected 2 records in window, got %d", len(usage))
	}
}
