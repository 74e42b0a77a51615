package api

import (
	"context"
	"database/sql"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Dependency is a backing service the readiness endpoint pings. A failing
// critical dependency makes the instance not ready; any other failure only
// degrades it.
type Dependency struct {
	Name     string
	Critical bool
	Ping     func(ctx context.Context) error
}

// RedisDependency pings the quota store. Without it no generation can be
// admitted, so it is critical.
func RedisDependency(client redis.UniversalClient) Dependency {
	return Dependency{
		Name:     "redis",
		Critical: true,
		Ping: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}
}

// PostgresDependency checks the connection and that the provider_configs
// table exists, which catches an instance started before its migration ran.
func PostgresDependency(db *sql.DB) Dependency {
	return Dependency{
		Name:     "postgres",
		Critical: true,
		Ping: func(ctx context.Context) error {
			rows, err := db.QueryContext(ctx, `SELECT 1 FROM provider_configs LIMIT 0`)
			if err != nil {
				return err
			}
			return rows.Close()
		},
	}
}

type dependencyResult struct {
	Status    string `json:"status"`
	Critical  bool   `json:"critical"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type providerSummary struct {
	Tracked  int `json:"tracked"`
	Routable int `json:"routable"`
}

type readinessResponse struct {
	Status       string                      `json:"status"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]dependencyResult `json:"dependencies,omitempty"`
	Providers    providerSummary             `json:"providers"`
}

// pingAll pings every dependency concurrently under ctx. Results keep the
// order of deps.
func pingAll(ctx context.Context, deps []Dependency) []dependencyResult {
	results := make([]dependencyResult, len(deps))

	var wg sync.WaitGroup
	for i, dep := range deps {
		wg.Add(1)
		go func() {
			defer wg.Done()

			start := time.Now()
			err := dep.Ping(ctx)
			results[i] = dependencyResult{
				Status:    "up",
				Critical:  dep.Critical,
				LatencyMs: time.Since(start).Milliseconds(),
			}
			if err != nil {
				results[i].Status = "down"
				results[i].Error = err.Error()
			}
		}()
	}
	wg.Wait()

	return results
}

func (h *Handler) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": h.version})
}

// handleHealthReady answers 503 only when a critical dependency is down.
// Provider health never fails readiness: failover still tries unhealthy
// providers when nothing else is left.
func (h *Handler) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.checkTimeout)
	defer cancel()

	resp := readinessResponse{
		Status:    "ready",
		Version:   h.version,
		Providers: h.summarizeProviders(),
	}
	code := http.StatusOK

	results := pingAll(ctx, h.dependencies)
	if len(results) > 0 {
		resp.Dependencies = make(map[string]dependencyResult, len(results))
	}
	for i, res := range results {
		resp.Dependencies[h.dependencies[i].Name] = res
		if res.Status == "up" {
			continue
		}
		if res.Critical {
			resp.Status = "not_ready"
			code = http.StatusServiceUnavailable
		} else if resp.Status == "ready" {
			resp.Status = "degraded"
		}
	}

	writeJSON(w, code, resp)
}

func (h *Handler) summarizeProviders() providerSummary {
	var s providerSummary
	if h.health == nil {
		return s
	}
	for _, st := range h.health.Snapshot() {
		s.Tracked++
		if h.health.IsHealthy(st.ProviderID) {
			s.Routable++
		}
	}
	return s
}
