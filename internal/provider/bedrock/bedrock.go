// Package bedrock adapts Anthropic models hosted on AWS Bedrock to
// provider.Adapter. Credentials come from the AWS default chain, not from the
// provider config.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/felipepmaragno/ai-orchestrator/internal/domain"
	"github.com/felipepmaragno/ai-orchestrator/internal/provider"
)

const (
	DefaultModel     = "claude-3-5-haiku"
	DefaultTimeout   = 60 * time.Second
	defaultMaxTokens = 4096
)

// RuntimeClient is the subset of *bedrockruntime.Client the adapter uses.
type RuntimeClient interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
	InvokeModelWithResponseStream(ctx context.Context, params *bedrockruntime.InvokeModelWithResponseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error)
}

type Config struct {
	Name         string
	Region       string
	DefaultModel string
	Timeout      time.Duration
}

type Adapter struct {
	client  RuntimeClient
	name    string
	model   string
	timeout time.Duration
}

var (
	_ provider.Adapter     = (*Adapter)(nil)
	_ provider.ModelLister = (*Adapter)(nil)
)

func New(ctx context.Context, cfg Config) (*Adapter, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewWithClient(bedrockruntime.NewFromConfig(awsCfg), cfg), nil
}

func NewWithClient(client RuntimeClient, cfg Config) *Adapter {
	a := &Adapter{
		client:  client,
		name:    cfg.Name,
		model:   cfg.DefaultModel,
		timeout: cfg.Timeout,
	}
	if a.name == "" {
		a.name = string(domain.ProviderBedrock)
	}
	if a.model == "" {
		a.model = DefaultModel
	}
	if a.timeout == 0 {
		a.timeout = DefaultTimeout
	}
	return a
}

func (a *Adapter) Provider() domain.ProviderType { return domain.ProviderBedrock }
func (a *Adapter) Name() string                  { return a.name }
func (a *Adapter) DefaultModel() string          { return a.model }

func (a *Adapter) GenerateText(ctx context.Context, req provider.Request) (*provider.Response, error) {
	body, err := a.requestBody(req)
	if err != nil {
		return nil, provider.WrapError(a.name, err)
	}

	output, err := provider.RunWithTimeout(ctx, a.timeout, func(ctx context.Context) (*bedrockruntime.InvokeModelOutput, error) {
		return a.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(mapModelID(a.model)),
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
			Body:        body,
		})
	})
	if err != nil {
		return nil, provider.WrapError(a.name, fmt.Errorf("invoke model: %w", err))
	}

	resp, err := parseResponse(output.Body, a.model)
	if err != nil {
		return nil, provider.WrapError(a.name, err)
	}
	return resp, nil
}

func (a *Adapter) StreamText(ctx context.Context, req provider.Request) (<-chan provider.StreamChunk, error) {
	body, err := a.requestBody(req)
	if err != nil {
		return nil, provider.WrapError(a.name, err)
	}

	output, err := a.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(mapModelID(a.model)),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, provider.WrapError(a.name, fmt.Errorf("invoke model stream: %w", err))
	}

	chunks := make(chan provider.StreamChunk)

	go func() {
		defer close(chunks)

		stream := output.GetStream()
		defer stream.Close()

		var full strings.Builder
		var usage provider.Usage

		for event := range stream.Events() {
			v, ok := event.(*types.ResponseStreamMemberChunk)
			if !ok {
				continue
			}

			var ev streamEvent
			if err := json.Unmarshal(v.Value.Bytes, &ev); err != nil {
				continue
			}

			switch ev.Type {
			case "message_start":
				if ev.Message != nil {
					usage.PromptTokens = ev.Message.Usage.InputTokens
				}
			case "content_block_delta":
				if ev.Delta == nil || ev.Delta.Text == "" {
					continue
				}
				full.WriteString(ev.Delta.Text)
				if !provider.Send(ctx, chunks, provider.StreamChunk{Delta: ev.Delta.Text, FullText: full.String()}) {
					return
				}
			case "message_delta":
				if ev.Usage != nil {
					usage.CompletionTokens = ev.Usage.OutputTokens
				}
			}
		}

		if err := stream.Err(); err != nil {
			provider.Send(ctx, chunks, provider.StreamChunk{
				FullText: full.String(),
				Err:      provider.WrapError(a.name, fmt.Errorf("stream: %w", err)),
			})
			return
		}

		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		provider.Send(ctx, chunks, provider.StreamChunk{FullText: full.String(), Done: true, Usage: &usage})
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

// ListModels returns the fixed catalogue of Anthropic models served through
// Bedrock.
func (a *Adapter) ListModels(ctx context.Context) ([]domain.ModelInfo, error) {
	models := make([]domain.ModelInfo, 0, len(modelIDs))
	for alias := range modelIDs {
		models = append(models, domain.ModelInfo{ID: alias, Name: modelIDs[alias]})
	}
	return models, nil
}

func (a *Adapter) requestBody(req provider.Request) ([]byte, error) {
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 1) {
		return nil, fmt.Errorf("temperature must be between 0 and 1")
	}

	prompt, err := provider.BuildPrompt(provider.Request{Prompt: req.Prompt, Context: req.Context})
	if err != nil {
		return nil, err
	}

	maxTokens := defaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	body, err := json.Marshal(invokeRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		Temperature:      req.Temperature,
		System:           req.SystemPrompt,
		Messages:         []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return body, nil
}

type invokeRequest struct {
	AnthropicVersion string    `json:"anthropic_version"`
	MaxTokens        int       `json:"max_tokens"`
	Temperature      *float64  `json:"temperature,omitempty"`
	System           string    `json:"system,omitempty"`
	Messages         []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type invokeResponse struct {
	Content []contentBlock `json:"content"`
	Model   string         `json:"model"`
	Usage   usage          `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type streamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Usage usage `json:"usage"`
	} `json:"message,omitempty"`
	Delta *struct {
		Text string `json:"text"`
	} `json:"delta,omitempty"`
	Usage *usage `json:"usage,omitempty"`
}

var modelIDs = map[string]string{
	"claude-3-5-sonnet": "anthropic.claude-3-5-sonnet-20241022-v2:0",
	"claude-3-5-haiku":  "anthropic.claude-3-5-haiku-20241022-v1:0",
	"claude-3-opus":     "anthropic.claude-3-opus-20240229-v1:0",
	"claude-3-sonnet":   "anthropic.claude-3-sonnet-20240229-v1:0",
	"claude-3-haiku":    "anthropic.claude-3-haiku-20240307-v1:0",
}

func mapModelID(model string) string {
	if mapped, ok := modelIDs[model]; ok {
		return mapped
	}
	return model
}

func parseResponse(body []byte, model string) (*provider.Response, error) {
	var resp invokeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	text := content.String()
	return &provider.Response{
		Content: text,
		Parsed:  provider.ParseStructured(text),
		Usage: provider.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		GeneratedAt: time.Now(),
		Model:       model,
	}, nil
}
