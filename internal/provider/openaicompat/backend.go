package openaicompat

import (
	"time"

	"github.com/felipepmaragno/ai-orchestrator/internal/domain"
	"github.com/openai/openai-go/option"
)

// AuthStrategy turns a credential into the request options a backend needs.
type AuthStrategy interface {
	RequestOptions(credential string) []option.RequestOption
}

// BearerAuth sends "Authorization: Bearer <credential>".
type BearerAuth struct {
	Headers map[string]string
}

func (a BearerAuth) RequestOptions(credential string) []option.RequestOption {
	opts := []option.RequestOption{option.WithAPIKey(credential)}
	for k, v := range a.Headers {
		opts = append(opts, option.WithHeader(k, v))
	}
	return opts
}

// HeaderAuth sends the credential in a named header instead of Authorization.
type HeaderAuth struct {
	Header  string
	Headers map[string]string
}

func (a HeaderAuth) RequestOptions(credential string) []option.RequestOption {
	opts := []option.RequestOption{
		option.WithHeaderDel("authorization"),
		option.WithHeader(a.Header, credential),
	}
	for k, v := range a.Headers {
		opts = append(opts, option.WithHeader(k, v))
	}
	return opts
}

// NoAuth is for local backends that take no credential.
type NoAuth struct{}

func (NoAuth) RequestOptions(string) []option.RequestOption {
	return []option.RequestOption{option.WithHeaderDel("authorization")}
}

// Backend holds the per-backend constants: where it lives, which model to use
// when the config names none, how long a call may take and how to
// authenticate.
type Backend struct {
	Type         domain.ProviderType
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
	Auth         AuthStrategy
}

var backends = map[domain.ProviderType]Backend{
	domain.ProviderOpenAI: {
		Type:         domain.ProviderOpenAI,
		BaseURL:      "https://api.openai.com/v1",
		DefaultModel: "gpt-4o-mini",
		Timeout:      60 * time.Second,
		Auth:         BearerAuth{},
	},
	// TODO: native Messages API; this goes through Anthropic's OpenAI-compatible endpoint.
	domain.ProviderAnthropic: {
		Type:         domain.ProviderAnthropic,
		BaseURL:      "https://api.anthropic.com/v1",
		DefaultModel: "claude-3-5-haiku-20241022",
		Timeout:      60 * time.Second,
		Auth: HeaderAuth{
			Header:  "x-api-key",
			Headers: map[string]string{"anthropic-version": "2023-06-01"},
		},
	},
	domain.ProviderDeepSeek: {
		Type:         domain.ProviderDeepSeek,
		BaseURL:      "https://api.deepseek.com/v1",
		DefaultModel: "deepseek-chat",
		Timeout:      90 * time.Second,
		Auth:         BearerAuth{},
	},
	domain.ProviderGemini: {
		Type:         domain.ProviderGemini,
		BaseURL:      "https://generativelanguage.googleapis.com/v1beta/openai",
		DefaultModel: "gemini-1.5-flash",
		Timeout:      60 * time.Second,
		Auth:         BearerAuth{},
	},
	domain.ProviderOpenRouter: {
		Type:         domain.ProviderOpenRouter,
		BaseURL:      "https://openrouter.ai/api/v1",
		DefaultModel: "openai/gpt-4o-mini",
		Timeout:      90 * time.Second,
		Auth:         BearerAuth{Headers: map[string]string{"X-Title": "ai-orchestrator"}},
	},
	domain.ProviderOllama: {
		Type:         domain.ProviderOllama,
		BaseURL:      "http://localhost:11434/v1",
		DefaultModel: "llama3.1",
		Timeout:      120 * time.Second,
		Auth:         NoAuth{},
	},
	domain.ProviderCustom: {
		Type:    domain.ProviderCustom,
		Timeout: 60 * time.Second,
		Auth:    BearerAuth{},
	},
}

// BackendFor returns the preset for t.
func BackendFor(t domain.ProviderType) (Backend, bool) {
	b, ok := backends[t]
	return b, ok
}
