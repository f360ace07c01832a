package api

import (
	"net/http"

	"github.com/revittco/toolgate/internal/audit"
	"github.com/revittco/toolgate/internal/cache"
	"github.com/revittco/toolgate/internal/engine"
	"github.com/revittco/toolgate/internal/ratelimit"
	"github.com/revittco/toolgate/internal/registry"
	"github.com/revittco/toolgate/internal/secrets"
	"github.com/revittco/toolgate/internal/store"
)

// RouterDeps holds the dependencies needed by the HTTP API router.
type RouterDeps struct {
	Store    store.Store
	Registry *registry.Service
	Engine   *engine.Engine
	Limiter  *ratelimit.Limiter
	Secrets  *secrets.Manager         // optional; enables secret key listing
	AuditBus *audit.Bus               // optional; enables SSE execution stream
	Cache    *cache.IntegrationSource // optional; exposes cache stats on health
}

// NewRouter creates an http.Handler with all API routes.
func NewRouter(deps RouterDeps) http.Handler {
	mux := http.NewServeMux()

	ih := &integrationHandler{registry: deps.Registry, secrets: deps.Secrets}
	mux.HandleFunc("GET /api/v1/integrations", ih.list)
	mux.HandleFunc("POST /api/v1/integrations", ih.register)
	mux.HandleFunc("GET /api/v1/integrations/{id}", ih.get)
	mux.HandleFunc("DELETE /api/v1/integrations/{id}", ih.remove)
	mux.HandleFunc("POST /api/v1/integrations/{id}/activate", ih.activate)
	mux.HandleFunc("POST /api/v1/integrations/{id}/deactivate", ih.deactivate)

	eh := &executeHandler{
		engine:   deps.Engine,
		registry: deps.Registry,
		limiter:  deps.Limiter,
	}
	mux.HandleFunc("POST /api/v1/integrations/{id}/execute", eh.execute)
	mux.HandleFunc("POST /api/v1/integrations/{id}/probe", eh.probe)
	mux.HandleFunc("GET /api/v1/integrations/{id}/usage", eh.usage)
	mux.HandleFunc("GET /api/v1/integrations/{id}/ratelimit", eh.rateLimit)
	mux.HandleFunc("POST /api/v1/integrations/{id}/ratelimit/reset", eh.resetRateLimit)
	mux.HandleFunc("POST /api/v1/dry-run", eh.dryRun)

	xh := &executionHandler{store: deps.Store}
	mux.HandleFunc("GET /api/v1/executions", xh.query)
	mux.HandleFunc("GET /api/v1/executions/stats", xh.stats)

	if deps.AuditBus != nil {
		sse := &executionSSEHandler{bus: deps.AuditBus}
		mux.HandleFunc("GET /api/v1/executions/stream", sse.stream)
	}

	hh := &healthHandler{store: deps.Store, cache: deps.Cache}
	mux.HandleFunc("GET /api/v1/health", hh.check)

	// Middleware chain: CORS -> RequestID -> Logging -> mux
	var handler http.Handler = mux
	handler = loggingMiddleware(handler)
	handler = requestIDMiddleware(handler)
	handler = corsMiddleware(handler)
	return handler
}
