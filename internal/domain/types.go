package domain

import (
	"context"
	"time"
)

// DefaultPriority is used for configs saved without an explicit priority.
// Lower values are tried first; zero is a valid priority.
const DefaultPriority = 100

// PriorityOf returns a pointer suitable for ProviderConfig.Priority.
func PriorityOf(n int) *int { return &n }

type ProviderType string

const (
	ProviderOpenAI     ProviderType = "openai"
	ProviderAnthropic  ProviderType = "anthropic"
	ProviderDeepSeek   ProviderType = "deepseek"
	ProviderGemini     ProviderType = "gemini"
	ProviderOpenRouter ProviderType = "openrouter"
	ProviderOllama     ProviderType = "ollama"
	ProviderCustom     ProviderType = "custom"
	ProviderBedrock    ProviderType = "bedrock"
)

func (t ProviderType) Valid() bool {
	switch t {
	case ProviderOpenAI, ProviderAnthropic, ProviderDeepSeek, ProviderGemini,
		ProviderOpenRouter, ProviderOllama, ProviderCustom, ProviderBedrock:
		return true
	}
	return false
}

// ModelInfo describes one model a provider exposes. Costs are per million
// tokens; nil means unknown.
type ModelInfo struct {
	ID                   string   `json:"id"`
	Name                 string   `json:"name"`
	InputCostPerMillion  *float64 `json:"input_cost_per_million,omitempty"`
	OutputCostPerMillion *float64 `json:"output_cost_per_million,omitempty"`
}

// ProviderConfig is a user-owned backend configuration. At most one config
// per account has IsDefault set; the store enforces that, not this module.
type ProviderConfig struct {
	UUID            string
	AccountUUID     string
	Name            string
	ProviderType    ProviderType
	BaseURL         string
	APIKey          string
	DefaultModel    string
	AvailableModels []ModelInfo
	IsActive        bool
	IsDefault       bool
	Priority        *int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EffectivePriority returns Priority, or DefaultPriority when it was never set.
func (c *ProviderConfig) EffectivePriority() int {
	if c.Priority == nil {
		return DefaultPriority
	}
	return *c.Priority
}

// FindModel returns the entry for modelID from AvailableModels.
func (c *ProviderConfig) FindModel(modelID string) (ModelInfo, bool) {
	for _, m := range c.AvailableModels {
		if m.ID == modelID {
			return m, true
		}
	}
	return ModelInfo{}, false
}

type ProviderConfigStore interface {
	FindByUUID(ctx context.Context, uuid string) (*ProviderConfig, error)
	FindDefaultByAccount(ctx context.Context, accountUUID string) (*ProviderConfig, error)
	FindAllByAccount(ctx context.Context, accountUUID string) ([]*ProviderConfig, error)
	Save(ctx context.Context, cfg *ProviderConfig) error
	ClearDefaultForAccount(ctx context.Context, accountUUID string) error
}

// Quota is an account's generation allowance for one period, in cost units
// (micro-currency). Limit <= 0 means unlimited.
type Quota struct {
	AccountUUID string
	Limit       int64
	Used        int64
	PeriodStart time.Time
	Period      time.Duration
}

// Remaining returns the units left in the current period, or -1 if unlimited.
func (q Quota) Remaining() int64 {
	if q.Limit <= 0 {
		return -1
	}
	if r := q.Limit - q.Used; r > 0 {
		return r
	}
	return 0
}

type QuotaGate interface {
	CheckQuota(ctx context.Context, quota Quota, cost int64) error
	ConsumeQuota(ctx context.Context, quota Quota, cost int64) (Quota, error)
}

type QuotaStore interface {
	Get(ctx context.Context, accountUUID string) (Quota, error)
	Save(ctx context.Context, quota Quota) error
}
