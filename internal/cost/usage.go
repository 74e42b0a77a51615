package cost

import (
	"context"
	"sync"
	"time"
)

// UsageRecord is one successful generation as billed to an account.
type UsageRecord struct {
	AccountID    string
	ProviderID   string
	ProviderType string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	LatencyMs    int64
	Attempts     int
	Streamed     bool
	Timestamp    time.Time
}

type Tracker interface {
	Record(ctx context.Context, record UsageRecord) error
	GetAccountUsage(ctx context.Context, accountID string, since time.Time) ([]UsageRecord, error)
	GetAccountTotalCost(ctx context.Context, accountID string, since time.Time) (float64, error)
}

type InMemoryTracker struct {
	mu      sync.RWMutex
	records []UsageRecord
}

func NewInMemoryTracker() *InMemoryTracker {
	return &InMemoryTracker{
		records: make([]UsageRecord, 0),
	}
}

func (t *InMemoryTracker) Record(ctx context.Context, record UsageRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.records = append(t.records, record)
	return nil
}

func (t *InMemoryTracker) GetAccountUsage(ctx context.Context, accountID string, since time.Time) ([]UsageRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var result []UsageRecord
	for _, r := range t.records {
		if r.AccountID == accountID && r.Timestamp.After(since) {
			result = append(result, r)
		}
	}
	return result, nil
}

func (t *InMemoryTracker) GetAccountTotalCost(ctx context.Context, accountID string, since time.Time) (float64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var total float64
	for _, r := range t.records {
		if r.AccountID == accountID && r.Timestamp.After(since) {
			total += r.CostUSD
		}
	}
	return total, nil
}

func (t *InMemoryTracker) GetAllRecords() []UsageRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]UsageRecord, len(t.records))
	copy(result, t.records)
	return result
}
