// Package api serves the operational HTTP endpoints: liveness, readiness,
// provider health and Prometheus metrics.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/felipepmaragno/ai-orchestrator/internal/health"
)

// ProviderHealth is satisfied by *health.Tracker.
type ProviderHealth interface {
	Snapshot() []health.Status
	IsHealthy(providerID string) bool
}

type HandlerConfig struct {
	Health       ProviderHealth
	Dependencies []Dependency
	CheckTimeout time.Duration
	Version      string
}

type Handler struct {
	health       ProviderHealth
	dependencies []Dependency
	checkTimeout time.Duration
	version      string
	mux          *http.ServeMux
}

func NewHandler(cfg HandlerConfig) *Handler {
	timeout := cfg.CheckTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	h := &Handler{
		health:       cfg.Health,
		dependencies: cfg.Dependencies,
		checkTimeout: timeout,
		version:      cfg.Version,
		mux:          http.NewServeMux(),
	}

	h.mux.HandleFunc("GET /health/live", h.handleHealthLive)
	h.mux.HandleFunc("GET /health/ready", h.handleHealthReady)
	h.mux.HandleFunc("GET /health/providers", h.handleProviderHealth)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type providerHealthResponse struct {
	Status    string               `json:"status"`
	Providers []providerHealthView `json:"providers"`
}

type providerHealthView struct {
	health.Status
	Routable bool `json:"routable"`
}

// handleProviderHealth reports every provider the tracker has seen. Routable
// is true when the provider would be offered to the failover loop right now,
// which includes unhealthy providers whose cooldown has passed.
func (h *Handler) handleProviderHealth(w http.ResponseWriter, r *http.Request) {
	snapshot := h.health.Snapshot()

	resp := providerHealthResponse{
		Status:    "healthy",
		Providers: make([]providerHealthView, 0, len(snapshot)),
	}
	for _, s := range snapshot {
		if !s.Healthy {
			resp.Status = "degraded"
		}
		resp.Providers = append(resp.Providers, providerHealthView{
			Status:   s,
			Routable: h.health.IsHealthy(s.ProviderID),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}
