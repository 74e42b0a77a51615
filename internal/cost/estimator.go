// Package cost estimates what a generation call costs from token counts and
// per-million-token prices.
package cost

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/felipepmaragno/ai-orchestrator/internal/domain"
	"github.com/shopspring/decimal"
)

const roundPlaces = 6

var million = decimal.NewFromInt(1_000_000)

// Price is USD per million tokens.
type Price struct {
	Input  decimal.Decimal
	Output decimal.Decimal
}

func price(in, out float64) Price {
	return Price{Input: decimal.NewFromFloat(in), Output: decimal.NewFromFloat(out)}
}

type familyRule struct {
	contains []string
	price    Price
}

// Rules are matched in order against the lower-cased model id, so more
// specific families come before the ones they contain.
var familyRules = []familyRule{
	{[]string{"gpt-4o-mini"}, price(0.15, 0.60)},
	{[]string{"gpt-4-turbo", "gpt-4o"}, price(5, 15)},
	{[]string{"gpt-4"}, price(30, 60)},
	{[]string{"gpt-3.5"}, price(0.50, 1.50)},
	{[]string{"o1-mini", "o3-mini"}, price(1.10, 4.40)},
	{[]string{"claude-3-opus", "claude-3.0-opus"}, price(15, 75)},
	{[]string{"claude-3-5-sonnet", "claude-3-sonnet", "claude-3.5-sonnet"}, price(3, 15)},
	{[]string{"claude-3-5-haiku", "claude-3.5-haiku"}, price(0.80, 4)},
	{[]string{"claude-3-haiku"}, price(0.25, 1.25)},
	{[]string{"deepseek-v3", "deepseek-chat-v3"}, price(0.27, 1.10)},
	{[]string{"deepseek-r1", "deepseek-reasoner"}, price(0.55, 2.19)},
	{[]string{"deepseek"}, price(0.14, 0.28)},
	{[]string{"gemini-1.5-pro", "gemini-pro"}, price(1.25, 5)},
	{[]string{"gemini"}, price(0.075, 0.30)},
	{[]string{"llama", "mistral", "qwen"}, price(0.20, 0.20)},
}

var defaultPrice = price(1, 2)

// Lookup returns the price for model. An entry in models with both costs set
// wins; otherwise the model family heuristic applies, ending in a generic
// default.
func Lookup(model string, models []domain.ModelInfo) Price {
	heuristic := heuristicPrice(model)

	for _, m := range models {
		if m.ID != model {
			continue
		}
		p := heuristic
		if m.InputCostPerMillion != nil {
			p.Input = decimal.NewFromFloat(*m.InputCostPerMillion)
		}
		if m.OutputCostPerMillion != nil {
			p.Output = decimal.NewFromFloat(*m.OutputCostPerMillion)
		}
		return p
	}
	return heuristic
}

func heuristicPrice(model string) Price {
	id := strings.ToLower(model)
	for _, rule := range familyRules {
		for _, family := range rule.contains {
			if strings.Contains(id, family) {
				return rule.price
			}
		}
	}
	return defaultPrice
}

type Estimate struct {
	ProviderID   string          `json:"provider_id,omitempty"`
	ProviderName string          `json:"provider_name"`
	Model        string          `json:"model"`
	InputTokens  int             `json:"input_tokens"`
	OutputTokens int             `json:"output_tokens"`
	Cost         decimal.Decimal `json:"estimated_cost_usd"`
}

// Micros returns the cost in millionths of a dollar, rounded up.
func (e Estimate) Micros() int64 {
	return e.Cost.Mul(million).Ceil().IntPart()
}

func (e Estimate) CostFloat() float64 {
	f, _ := e.Cost.Float64()
	return f
}

type Estimator struct {
	store        domain.ProviderConfigStore
	defaultModel func(domain.ProviderConfig) string
}

type Option func(*Estimator)

// WithDefaultModel supplies the model used for configs that name none.
func WithDefaultModel(fn func(domain.ProviderConfig) string) Option {
	return func(e *Estimator) { e.defaultModel = fn }
}

func NewEstimator(store domain.ProviderConfigStore, opts ...Option) *Estimator {
	e := &Estimator{
		store: store,
		defaultModel: func(cfg domain.ProviderConfig) string {
			return cfg.DefaultModel
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Estimate is (in/1e6)*inputPrice + (out/1e6)*outputPrice rounded to six
// places. Negative token counts count as zero.
func (e *Estimator) Estimate(providerName, model string, models []domain.ModelInfo, inputTokens, outputTokens int) Estimate {
	inputTokens = max(inputTokens, 0)
	outputTokens = max(outputTokens, 0)

	p := Lookup(model, models)

	in := decimal.NewFromInt(int64(inputTokens)).Div(million).Mul(p.Input)
	out := decimal.NewFromInt(int64(outputTokens)).Div(million).Mul(p.Output)

	return Estimate{
		ProviderName: providerName,
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cost:         in.Add(out).Round(roundPlaces),
	}
}

// ModelFor returns the model a call against cfg is billed as when the
// response does not name one.
func (e *Estimator) ModelFor(cfg domain.ProviderConfig) string {
	return e.defaultModel(cfg)
}

// ForConfig estimates a call against cfg's default model.
func (e *Estimator) ForConfig(cfg domain.ProviderConfig, inputTokens, outputTokens int) Estimate {
	est := e.Estimate(cfg.Name, e.ModelFor(cfg), cfg.AvailableModels, inputTokens, outputTokens)
	est.ProviderID = cfg.UUID
	return est
}

// Compare estimates the call for every active provider of the account and
// returns the estimates cheapest first. It is advisory and does not affect
// failover order.
func (e *Estimator) Compare(ctx context.Context, accountID string, inputTokens, outputTokens int) ([]Estimate, error) {
	configs, err := e.store.FindAllByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("find providers: %w", err)
	}

	estimates := make([]Estimate, 0, len(configs))
	for _, cfg := range configs {
		if !cfg.IsActive {
			continue
		}
		estimates = append(estimates, e.ForConfig(*cfg, inputTokens, outputTokens))
	}

	sort.SliceStable(estimates, func(i, j int) bool {
		return estimates[i].Cost.LessThan(estimates[j].Cost)
	})
	return estimates, nil
}
