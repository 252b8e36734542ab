package httpapi

import (
	"net/http"

	"llm_keypool/internal/metrics"
	"llm_keypool/internal/middleware"
)

// RouterConfig holds what the router mounts
type RouterConfig struct {
	Handlers  *Handlers
	Health    *HealthHandler
	Metrics   *metrics.Collector // nil disables /metrics and request metrics
	JWTSecret []byte
}

// NewRouter registers every route on a fresh mux
func NewRouter(cfg RouterConfig) *http.ServeMux {
	mux := http.NewServeMux()

	userJWT := middleware.UserJWTMiddleware(cfg.JWTSecret)
	protect := func(route string, h http.HandlerFunc) http.Handler {
		handler := userJWT(h)
		if cfg.Metrics != nil {
			handler = middleware.MetricsMiddleware(route, cfg.Metrics.HTTPRequestsTotal, cfg.Metrics.HTTPRequestDuration)(handler)
		}
		return handler
	}

	h := cfg.Handlers
	mux.Handle("POST /v1/leases", protect("/v1/leases", h.handleLease))
	mux.Handle("POST /v1/leases/{credentialID}/release", protect("/v1/leases/release", h.handleRelease))
	mux.Handle("POST /v1/leases/{credentialID}/cooldown", protect("/v1/leases/cooldown", h.handleCooldown))
	mux.Handle("POST /v1/usage", protect("/v1/usage", h.handleRecordUsage))
	mux.Handle("GET /v1/usage", protect("/v1/usage", h.handleGetUsage))

	if cfg.Health != nil {
		mux.Handle("GET /healthz", cfg.Health)
	}
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics.Handler())
	}

	return mux
}
