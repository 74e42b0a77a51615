// Package providertest provides a scriptable provider.Adapter for tests.
package providertest

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/felipepmaragno/ai-orchestrator/internal/domain"
	"github.com/felipepmaragno/ai-orchestrator/internal/provider"
)

var errNotScripted = errors.New("providertest: not scripted")

// Adapter calls the matching XxxFunc field, or fails when it is nil.
type Adapter struct {
	Type    domain.ProviderType
	Display string
	Model   string

	GenerateTextFunc func(ctx context.Context, req provider.Request) (*provider.Response, error)
	StreamTextFunc   func(ctx context.Context, req provider.Request) (<-chan provider.StreamChunk, error)
	HealthCheckFunc  func(ctx context.Context) bool
	ListModelsFunc   func(ctx context.Context) ([]domain.ModelInfo, error)

	generateCalls atomic.Int64
	streamCalls   atomic.Int64
}

func (a *Adapter) Provider() domain.ProviderType {
	if a.Type == "" {
		return domain.ProviderCustom
	}
	return a.Type
}

func (a *Adapter) Name() string         { return a.Display }
func (a *Adapter) DefaultModel() string { return a.Model }

func (a *Adapter) GenerateText(ctx context.Context, req provider.Request) (*provider.Response, error) {
	a.generateCalls.Add(1)
	if a.GenerateTextFunc == nil {
		return nil, &provider.ProviderError{Provider: a.Display, Message: errNotScripted.Error(), Err: errNotScripted}
	}
	return a.GenerateTextFunc(ctx, req)
}

func (a *Adapter) StreamText(ctx context.Context, req provider.Request) (<-chan provider.StreamChunk, error) {
	a.streamCalls.Add(1)
	if a.StreamTextFunc == nil {
		return nil, &provider.ProviderError{Provider: a.Display, Message: errNotScripted.Error(), Err: errNotScripted}
	}
	return a.StreamTextFunc(ctx, req)
}

func (a *Adapter) HealthCheck(ctx context.Context) bool {
	if a.HealthCheckFunc == nil {
		return false
	}
	return a.HealthCheckFunc(ctx)
}

func (a *Adapter) ListModels(ctx context.Context) ([]domain.ModelInfo, error) {
	if a.ListModelsFunc == nil {
		return nil, errNotScripted
	}
	return a.ListModelsFunc(ctx)
}

func (a *Adapter) GenerateCalls() int { return int(a.generateCalls.Load()) }
func (a *Adapter) StreamCalls() int   { return int(a.streamCalls.Load()) }

// Text returns a GenerateTextFunc that answers with content.
func Text(content string, usage provider.Usage) func(context.Context, provider.Request) (*provider.Response, error) {
	return func(ctx context.Context, req provider.Request) (*provider.Response, error) {
		return &provider.Response{
			Content:     content,
			Parsed:      provider.ParseStructured(content),
			Usage:       usage,
			GeneratedAt: time.Now(),
			Model:       "fake-model",
		}, nil
	}
}

// Fail returns a GenerateTextFunc that always fails with a *ProviderError.
func Fail(name, message string) func(context.Context, provider.Request) (*provider.Response, error) {
	return func(ctx context.Context, req provider.Request) (*provider.Response, error) {
		return nil, &provider.ProviderError{Provider: name, Message: message}
	}
}

// Stream returns a StreamTextFunc that emits chunks in order and closes.
func Stream(chunks ...provider.StreamChunk) func(context.Context, provider.Request) (<-chan provider.StreamChunk, error) {
	return func(ctx context.Context, req provider.Request) (<-chan provider.StreamChunk, error) {
		ch := make(chan provider.StreamChunk)
		go func() {
			defer close(ch)
			for _, c := range chunks {
				if !provider.Send(ctx, ch, c) {
					return
				}
			}
		}()
		return ch, nil
	}
}
