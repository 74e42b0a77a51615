// Package openaicompat implements provider.Adapter for every backend that
// speaks the OpenAI chat completions wire format. Backend differences are
// data (Backend presets) and strategies (AuthStrategy), not separate types.
package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/felipepmaragno/ai-orchestrator/internal/domain"
	"github.com/felipepmaragno/ai-orchestrator/internal/provider"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type Config struct {
	Name         string
	Backend      Backend
	BaseURL      string
	APIKey       string
	DefaultModel string
	Timeout      time.Duration
	HTTPClient   *http.Client
}

type Adapter struct {
	name         string
	providerType domain.ProviderType
	model        string
	timeout      time.Duration
	client       openai.Client
}

var (
	_ provider.Adapter     = (*Adapter)(nil)
	_ provider.ModelLister = (*Adapter)(nil)
)

func New(cfg Config) (*Adapter, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = cfg.Backend.BaseURL
	}
	if baseURL == "" {
		return nil, fmt.Errorf("%s: base url is required", cfg.Backend.Type)
	}

	model := cfg.DefaultModel
	if model == "" {
		model = cfg.Backend.DefaultModel
	}
	if model == "" {
		return nil, fmt.Errorf("%s: default model is required", cfg.Backend.Type)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = cfg.Backend.Timeout
	}

	auth := cfg.Backend.Auth
	if auth == nil {
		auth = BearerAuth{}
	}

	opts := []option.RequestOption{
		option.WithBaseURL(strings.TrimRight(baseURL, "/") + "/"),
		option.WithMaxRetries(0),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	opts = append(opts, auth.RequestOptions(cfg.APIKey)...)

	name := cfg.Name
	if name == "" {
		name = string(cfg.Backend.Type)
	}

	return &Adapter{
		name:         name,
		providerType: cfg.Backend.Type,
		model:        model,
		timeout:      timeout,
		client:       openai.NewClient(opts...),
	}, nil
}

func (a *Adapter) Provider() domain.ProviderType { return a.providerType }
func (a *Adapter) Name() string                  { return a.name }
func (a *Adapter) DefaultModel() string          { return a.model }

func (a *Adapter) GenerateText(ctx context.Context, req provider.Request) (*provider.Response, error) {
	params, err := a.params(req)
	if err != nil {
		return nil, provider.WrapError(a.name, err)
	}

	completion, err := provider.RunWithTimeout(ctx, a.timeout, func(ctx context.Context) (*openai.ChatCompletion, error) {
		return a.client.Chat.Completions.New(ctx, params)
	})
	if err != nil {
		return nil, provider.WrapError(a.name, err)
	}

	if len(completion.Choices) == 0 {
		return nil, &provider.ProviderError{Provider: a.name, Message: "empty response: no choices"}
	}

	content := completion.Choices[0].Message.Content
	model := completion.Model
	if model == "" {
		model = a.model
	}

	return &provider.Response{
		Content: content,
		Parsed:  provider.ParseStructured(content),
		Usage: provider.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
		GeneratedAt: time.Now(),
		Model:       model,
	}, nil
}

func (a *Adapter) StreamText(ctx context.Context, req provider.Request) (<-chan provider.StreamChunk, error) {
	params, err := a.params(req)
	if err != nil {
		return nil, provider.WrapError(a.name, err)
	}
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	stream := a.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		_ = stream.Close()
		return nil, provider.WrapError(a.name, err)
	}

	chunks := make(chan provider.StreamChunk)

	go func() {
		defer close(chunks)
		defer stream.Close()

		var full strings.Builder
		var usage provider.Usage

		for stream.Next() {
			chunk := stream.Current()

			if chunk.Usage.TotalTokens > 0 {
				usage = provider.Usage{
					PromptTokens:     int(chunk.Usage.PromptTokens),
					CompletionTokens: int(chunk.Usage.CompletionTokens),
					TotalTokens:      int(chunk.Usage.TotalTokens),
				}
			}

			for _, choice := range chunk.Choices {
				delta := choice.Delta.Content
				if delta == "" {
					continue
				}
				full.WriteString(delta)
				if !provider.Send(ctx, chunks, provider.StreamChunk{Delta: delta, FullText: full.String()}) {
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			provider.Send(ctx, chunks, provider.StreamChunk{
				FullText: full.String(),
				Err:      provider.WrapError(a.name, err),
			})
			return
		}

		provider.Send(ctx, chunks, provider.StreamChunk{
			FullText: full.String(),
			Done:     true,
			Usage:    &usage,
		})
	}()

	return chunks, nil
}

func (a *Adapter) HealthCheck(ctx context.Context) bool {
	resp, err := a.GenerateText(ctx, provider.HealthCheckRequest())
	if err != nil {
		slog.Debug("health check failed", "provider", a.name, "error", err)
		return false
	}
	return strings.TrimSpace(resp.Content) != ""
}

func (a *Adapter) ListModels(ctx context.Context) ([]domain.ModelInfo, error) {
	page, err := provider.RunWithTimeout(ctx, a.timeout, func(ctx context.Context) ([]openai.Model, error) {
		page, err := a.client.Models.List(ctx)
		if err != nil {
			return nil, err
		}
		return page.Data, nil
	})
	if err != nil {
		return nil, provider.WrapError(a.name, err)
	}

	models := make([]domain.ModelInfo, 0, len(page))
	for _, m := range page {
		models = append(models, domain.ModelInfo{ID: m.ID, Name: m.ID})
	}
	return models, nil
}

func (a *Adapter) params(req provider.Request) (openai.ChatCompletionNewParams, error) {
	prompt, err := provider.BuildPrompt(req)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(a.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}

	if req.Temperature != nil {
		t := *req.Temperature
		if t < 0 || t > 2 {
			return params, errors.New("temperature must be between 0 and 2")
		}
		params.Temperature = openai.Float(t)
	}
	if req.MaxTokens != nil {
		params.MaxTokens = openai.Int(int64(*req.MaxTokens))
	}

	return params, nil
}
