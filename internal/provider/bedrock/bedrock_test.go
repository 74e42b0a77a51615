package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/felipepmaragno/ai-orchestrator/internal/provider"
)

type mockRuntime struct {
	InvokeModelFunc func(ctx context.Context, in *bedrockruntime.InvokeModelInput) (*bedrockruntime.InvokeModelOutput, error)
}

func (m *mockRuntime) InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	return m.InvokeModelFunc(ctx, in)
}

func (m *mockRuntime) InvokeModelWithResponseStream(ctx context.Context, in *bedrockruntime.InvokeModelWithResponseStreamInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelWithResponseStreamOutput, error) {
	return nil, errors.New("not implemented")
}

func TestGenerateText(t *testing.T) {
	var sent invokeRequest
	var modelID string
	client := &mockRuntime{
		InvokeModelFunc: func(ctx context.Context, in *bedrockruntime.InvokeModelInput) (*bedrockruntime.InvokeModelOutput, error) {
			modelID = *in.ModelId
			if err := json.Unmarshal(in.Body, &sent); err != nil {
				t.Fatalf("unmarshal request: %v", err)
			}
			return &bedrockruntime.InvokeModelOutput{
				Body: []byte(`{"content":[{"type":"text","text":"{\"steps\": 2}"}],"usage":{"input_tokens":7,"output_tokens":3}}`),
			}, nil
		},
	}

	a := NewWithClient(client, Config{Name: "Bedrock Prod"})
	maxTokens := 256
	resp, err := a.GenerateText(context.Background(), provider.Request{
		Prompt:       "plan it",
		SystemPrompt: "be brief",
		MaxTokens:    &maxTokens,
	})
	if err != nil {
		t.Fatalf("GenerateText() error = %v", err)
	}

	if modelID != "anthropic.claude-3-5-haiku-20241022-v1:0" {
		t.Errorf("model id = %s", modelID)
	}
	if sent.System != "be brief" || sent.MaxTokens != 256 {
		t.Errorf("request = %+v", sent)
	}
	if len(sent.Messages) != 1 || sent.Messages[0].Content != "plan it" {
		t.Errorf("messages = %+v", sent.Messages)
	}
	if resp.Usage.TotalTokens != 10 {
		t.Errorf("TotalTokens = %d, want 10", resp.Usage.TotalTokens)
	}

	out, err := provider.Decode[struct{ Steps int }](resp)
	if err != nil || out.Steps != 2 {
		t.Errorf("Decode() = %+v, %v", out, err)
	}
}

func TestGenerateText_Timeout(t *testing.T) {
	client := &mockRuntime{
		InvokeModelFunc: func(ctx context.Context, in *bedrockruntime.InvokeModelInput) (*bedrockruntime.InvokeModelOutput, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	a := NewWithClient(client, Config{Timeout: 20 * time.Millisecond})
	_, err := a.GenerateText(context.Background(), provider.Request{Prompt: "hi"})

	if !provider.IsTimeout(err) {
		t.Fatalf("error = %v, want timeout", err)
	}
	if err.Error() != "generation timed out after 0.02s" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestGenerateText_InvokeError(t *testing.T) {
	client := &mockRuntime{
		InvokeModelFunc: func(ctx context.Context, in *bedrockruntime.InvokeModelInput) (*bedrockruntime.InvokeModelOutput, error) {
			return nil, errors.New("throttled")
		},
	}

	a := NewWithClient(client, Config{})
	_, err := a.GenerateText(context.Background(), provider.Request{Prompt: "hi"})

	var pe *provider.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want *ProviderError", err)
	}
	if pe.Provider != "bedrock" {
		t.Errorf("Provider = %s, want bedrock", pe.Provider)
	}
}

func TestHealthCheck(t *testing.T) {
	healthy := NewWithClient(&mockRuntime{
		InvokeModelFunc: func(ctx context.Context, in *bedrockruntime.InvokeModelInput) (*bedrockruntime.InvokeModelOutput, error) {
			return &bedrockruntime.InvokeModelOutput{Body: []byte(`{"content":[{"type":"text","text":"pong"}]}`)}, nil
		},
	}, Config{})
	if !healthy.HealthCheck(context.Background()) {
		t.Error("expected healthy")
	}

	broken := NewWithClient(&mockRuntime{
		InvokeModelFunc: func(ctx context.Context, in *bedrockruntime.InvokeModelInput) (*bedrockruntime.InvokeModelOutput, error) {
			return nil, errors.New("access denied")
		},
	}, Config{})
	if broken.HealthCheck(context.Background()) {
		t.Error("expected unhealthy")
	}
}

func TestMapModelID(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"claude-3-5-sonnet", "anthropic.claude-3-5-sonnet-20241022-v2:0"},
		{"claude-3-haiku", "anthropic.claude-3-haiku-20240307-v1:0"},
		{"anthropic.claude-v2", "anthropic.claude-v2"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := mapModelID(tt.input); got != tt.expected {
				t.Errorf("mapModelID(%s) = %s, want %s", tt.input, got, tt.expected)
			}
		})
	}
}
