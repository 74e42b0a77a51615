// Package provider defines the contract every text-generation backend
// satisfies, along with the request/response shapes and the helpers shared by
// the concrete adapters (prompt layout, structured-output parsing, timeout
// race).
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/felipepmaragno/ai-orchestrator/internal/domain"
)

type TaskType string

const (
	TaskGoalPlanning  TaskType = "goal_planning"
	TaskTaskBreakdown TaskType = "task_breakdown"
	TaskSummary       TaskType = "summary"
	TaskReview        TaskType = "review"
	TaskGeneral       TaskType = "general"
)

// Request is one generation call. Temperature is in [0, 2]. Context, when
// set, is serialized into the prompt as JSON.
type Request struct {
	TaskType     TaskType
	Prompt       string
	SystemPrompt string
	Temperature  *float64
	MaxTokens    *int
	Context      map[string]any
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the result of a successful GenerateText call. Parsed holds the
// structured payload when Content could be read as JSON and is nil otherwise;
// a nil Parsed is not an error.
type Response struct {
	Content     string
	Parsed      json.RawMessage
	Usage       Usage
	GeneratedAt time.Time
	Model       string
}

// StreamChunk is one element of a StreamText sequence. The sequence ends with
// exactly one chunk where Done is true and Usage is set, unless it fails, in
// which case the last chunk carries Err and no Done chunk follows.
type StreamChunk struct {
	Delta    string
	FullText string
	Done     bool
	Usage    *Usage
	Err      error
}

// Adapter is implemented by every backend.
type Adapter interface {
	Provider() domain.ProviderType
	Name() string
	DefaultModel() string

	// GenerateText races the backend call against the adapter timeout and
	// returns *TimeoutError when it expires or *ProviderError on any other
	// failure.
	GenerateText(ctx context.Context, req Request) (*Response, error)

	// StreamText returns an error only when the stream could not be opened.
	// Failures after that arrive as a chunk with Err set. Cancelling ctx stops
	// delivery; it does not guarantee the upstream connection is torn down.
	StreamText(ctx context.Context, req Request) (<-chan StreamChunk, error)

	// HealthCheck issues a minimal generation and reports whether any text
	// came back. It never returns an error.
	HealthCheck(ctx context.Context) bool
}

// ModelLister is implemented by adapters that can enumerate backend models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]domain.ModelInfo, error)
}

const healthCheckMaxTokens = 10

// HealthCheckRequest is the request adapters send from HealthCheck.
func HealthCheckRequest() Request {
	maxTokens := healthCheckMaxTokens
	return Request{
		TaskType:  TaskGeneral,
		Prompt:    "Reply with the single word: pong",
		MaxTokens: &maxTokens,
	}
}

// Decode converts the structured payload of resp into T. It returns
// ErrOutputParse when the response carried no parseable payload.
func Decode[T any](resp *Response) (T, error) {
	var v T
	if resp == nil || resp.Parsed == nil {
		return v, ErrOutputParse
	}
	if err := json.Unmarshal(resp.Parsed, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrOutputParse, err)
	}
	return v, nil
}

// Send delivers chunk unless ctx is done first.
func Send(ctx context.Context, ch chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
