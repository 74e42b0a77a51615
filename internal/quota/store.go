package quota

import (
	"context"
	"sync"

	"github.com/felipepmaragno/ai-orchestrator/internal/domain"
)

type InMemoryStore struct {
	mu     sync.RWMutex
	quotas map[string]domain.Quota
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{quotas: make(map[string]domain.Quota)}
}

func (s *InMemoryStore) Get(ctx context.Context, accountID string) (domain.Quota, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.quotas[accountID]
	if !ok {
		return domain.Quota{}, domain.ErrQuotaNotFound
	}
	return q, nil
}

func (s *InMemoryStore) Save(ctx context.Context, quota domain.Quota) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotas[quota.AccountUUID] = quota
	return nil
}

// Increment adds cost under the store lock, resetting Used when quota carries
// a newer period than the stored one.
func (s *InMemoryStore) Increment(ctx context.Context, quota domain.Quota, cost int64) (domain.Quota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.quotas[quota.AccountUUID]
	if !ok || stored.PeriodStart.Before(quota.PeriodStart) {
		stored = quota
		if ok {
			stored.Used = 0
		}
	}
	stored.Limit = quota.Limit
	stored.Period = quota.Period
	stored.Used += cost
	s.quotas[quota.AccountUUID] = stored
	return stored, nil
}
