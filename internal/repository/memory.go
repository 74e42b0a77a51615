package repository

import (
	"context"
	"sync"
	"time"

	"github.com/felipepmaragno/ai-orchestrator/internal/domain"
	"github.com/google/uuid"
)

// InMemoryProviderConfigStore keeps configs in process memory. Results are
// copies; callers cannot mutate stored configs.
type InMemoryProviderConfigStore struct {
	mu      sync.RWMutex
	configs map[string]*domain.ProviderConfig
	order   []string
	now     func() time.Time
}

func NewInMemoryProviderConfigStore() *InMemoryProviderConfigStore {
	return &InMemoryProviderConfigStore{
		configs: make(map[string]*domain.ProviderConfig),
		now:     time.Now,
	}
}

func (s *InMemoryProviderConfigStore) FindByUUID(ctx context.Context, id string) (*domain.ProviderConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[id]
	if !ok {
		return nil, domain.ErrConfigNotFound
	}
	return clone(cfg), nil
}

func (s *InMemoryProviderConfigStore) FindDefaultByAccount(ctx context.Context, accountUUID string) (*domain.ProviderConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.order {
		cfg := s.configs[id]
		if cfg.AccountUUID == accountUUID && cfg.IsDefault {
			return clone(cfg), nil
		}
	}
	return nil, domain.ErrConfigNotFound
}

// FindAllByAccount returns the account's configs in creation order.
func (s *InMemoryProviderConfigStore) FindAllByAccount(ctx context.Context, accountUUID string) ([]*domain.ProviderConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ProviderConfig
	for _, id := range s.order {
		cfg := s.configs[id]
		if cfg.AccountUUID == accountUUID {
			result = append(result, clone(cfg))
		}
	}
	return result, nil
}

// Save inserts or replaces cfg, assigning a UUID when missing and bumping
// UpdatedAt. Saving a default config clears the account's previous default.
func (s *InMemoryProviderConfigStore) Save(ctx context.Context, cfg *domain.ProviderConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if cfg.UUID == "" {
		cfg.UUID = uuid.NewString()
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	if cfg.Priority == nil {
		cfg.Priority = domain.PriorityOf(domain.DefaultPriority)
	}
	if prev, ok := s.configs[cfg.UUID]; ok && !now.After(prev.UpdatedAt) {
		now = prev.UpdatedAt.Add(time.Nanosecond)
	}
	cfg.UpdatedAt = now

	if cfg.IsDefault {
		s.clearDefaultLocked(cfg.AccountUUID, now)
	}

	if _, ok := s.configs[cfg.UUID]; !ok {
		s.order = append(s.order, cfg.UUID)
	}
	s.configs[cfg.UUID] = clone(cfg)
	return nil
}

func (s *InMemoryProviderConfigStore) ClearDefaultForAccount(ctx context.Context, accountUUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearDefaultLocked(accountUUID, s.now())
	return nil
}

func (s *InMemoryProviderConfigStore) clearDefaultLocked(accountUUID string, now time.Time) {
	for _, cfg := range s.configs {
		if cfg.AccountUUID == accountUUID && cfg.IsDefault {
			cfg.IsDefault = false
			cfg.UpdatedAt = now
		}
	}
}

// Delete removes a config; it is not part of domain.ProviderConfigStore.
func (s *InMemoryProviderConfigStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.configs[id]; !ok {
		return domain.ErrConfigNotFound
	}
	delete(s.configs, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func clone(cfg *domain.ProviderConfig) *domain.ProviderConfig {
	c := *cfg
	if cfg.Priority != nil {
		c.Priority = domain.PriorityOf(*cfg.Priority)
	}
	if cfg.AvailableModels != nil {
		c.AvailableModels = make([]domain.ModelInfo, len(cfg.AvailableModels))
		copy(c.AvailableModels, cfg.AvailableModels)
	}
	return &c
}
