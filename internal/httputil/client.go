// Package httputil builds the HTTP client shared by the OpenAI-compatible
// provider adapters.
//
// The client has no overall or response-header timeout. Each adapter call
// runs under its provider's deadline through ctx, and a streamed completion
// may legitimately stay open longer than any fixed limit.
package httputil

import (
	"net"
	"net/http"
	"time"
)

type ClientConfig struct {
	DialTimeout         time.Duration
	TLSHandshakeTimeout time.Duration
	IdleConnTimeout     time.Duration
	MaxIdleConns        int
	// Adapters fan out to a handful of vendor hosts, so most of the pool
	// should be reusable per host.
	MaxIdleConnsPerHost int
	// MaxConnsPerHost caps in-flight requests to one vendor; zero is unlimited.
	MaxConnsPerHost int
	// UserAgent is prepended to whatever agent the vendor SDK sets.
	UserAgent string
}

func DefaultConfig() ClientConfig {
	return ClientConfig{
		DialTimeout:         10 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConns:        128,
		MaxIdleConnsPerHost: 32,
		UserAgent:           "ai-orchestrator",
	}
}

type Option func(*ClientConfig)

func WithUserAgent(ua string) Option {
	return func(c *ClientConfig) { c.UserAgent = ua }
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *ClientConfig) { c.MaxConnsPerHost = n }
}

func NewClient(opts ...Option) *http.Client {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		ForceAttemptHTTP2:   true,
		// Transparent gzip would hold SSE deltas until the decoder fills.
		DisableCompression: true,
	}

	var rt http.RoundTripper = transport
	if cfg.UserAgent != "" {
		rt = &userAgentTransport{base: transport, userAgent: cfg.UserAgent}
	}
	return &http.Client{Transport: rt}
}

func DefaultClient() *http.Client {
	return NewClient()
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	ua := t.userAgent
	if existing := req.Header.Get("User-Agent"); existing != "" {
		ua += " " + existing
	}
	r.Header.Set("User-Agent", ua)
	return t.base.RoundTrip(r)
}
