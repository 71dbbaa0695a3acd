package api

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// Pinger is satisfied by *pgxpool.Pool directly and by a small adapter around
// *redis.Client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type HealthHandler struct {
	required map[string]Pinger
	optional map[string]Pinger
	env      string
	version  string
}

// NewHealthHandler checks required dependencies for readiness. A failing
// optional dependency only degrades the status. Nil pingers are skipped.
func NewHealthHandler(required, optional map[string]Pinger, env, version string) *HealthHandler {
	return &HealthHandler{
		required: required,
		optional: optional,
		env:      env,
		version:  version,
	}
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Env     string `json:"env,omitempty"`
}

type ReadinessResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version,omitempty"`
	Env          string            `json:"env,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{
		Status:  "ok",
		Version: h.version,
		Env:     h.env,
	})
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	deps := make(map[string]string)
	status := "ok"

	for _, name := range sortedNames(h.required) {
		if !ping(ctx, h.required[name]) {
			deps[name] = "down"
			status = "error"
			continue
		}
		deps[name] = "ok"
	}

	for _, name := range sortedNames(h.optional) {
		if !ping(ctx, h.optional[name]) {
			deps[name] = "down"
			if status == "ok" {
				status = "degraded"
			}
			continue
		}
		deps[name] = "ok"
	}

	httpStatus := http.StatusOK
	if status == "error" {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, ReadinessResponse{
		Status:       status,
		Version:      h.version,
		Env:          h.env,
		Dependencies: deps,
	})
}

func ping(ctx context.Context, p Pinger) bool {
	pingCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return p.Ping(pingCtx) == nil
}

func sortedNames(m map[string]Pinger) []string {
	names := make([]string, 0, len(m))
	for name, p := range m {
		if p != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
