// Package api serves the SARE admin HTTP API: engine reports, live
// statistics, memoization control and the evolution log.
package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/revittco/sare/internal/audit"
	"github.com/revittco/sare/internal/metrics"
	"github.com/revittco/sare/internal/sare"
	"github.com/revittco/sare/internal/store"
)

// RouterDeps holds the dependencies needed by the HTTP API router.
type RouterDeps struct {
	Engine   *sare.Engine
	Version  string
	Store    store.EvolutionStore // optional; enables the archive endpoints
	Bus      *audit.Bus           // optional; enables the SSE evolution stream
	Registry *prometheus.Registry // optional; enables /metrics
}

// NewRouter creates an http.Handler with all admin API routes.
func NewRouter(deps RouterDeps) http.Handler {
	mux := http.NewServeMux()

	health := newHealthHandler(deps.Engine, deps.Version)
	mux.HandleFunc("GET /api/v1/health", health.check)

	eng := &engineHandler{engine: deps.Engine}
	mux.HandleFunc("GET /api/v1/report", eng.report)
	mux.HandleFunc("GET /api/v1/stats", eng.stats)
	mux.HandleFunc("GET /api/v1/suggestions", eng.suggestions)
	mux.HandleFunc("GET /api/v1/routes", eng.routes)
	mux.HandleFunc("GET /api/v1/middleware", eng.middleware)
	mux.HandleFunc("GET /api/v1/predictions", eng.predictions)
	mux.HandleFunc("POST /api/v1/optimize", eng.optimize)
	mux.HandleFunc("POST /api/v1/reset", eng.reset)
	mux.HandleFunc("POST /api/v1/enable", eng.enable)
	mux.HandleFunc("POST /api/v1/disable", eng.disable)

	ch := &cacheHandler{engine: deps.Engine}
	mux.HandleFunc("GET /api/v1/cache", ch.stats)
	mux.HandleFunc("POST /api/v1/cache/flush", ch.flush)

	mh := &memoizeHandler{engine: deps.Engine}
	mux.HandleFunc("GET /api/v1/memoize", mh.list)
	mux.HandleFunc("POST /api/v1/memoize", mh.enable)
	mux.HandleFunc("DELETE /api/v1/memoize", mh.disable)

	ev := &evolutionHandler{engine: deps.Engine, store: deps.Store}
	mux.HandleFunc("GET /api/v1/evolution", ev.log)
	if deps.Store != nil {
		mux.HandleFunc("GET /api/v1/evolution/archive", ev.query)
		mux.HandleFunc("GET /api/v1/evolution/archive/stats", ev.archiveStats)
		mux.HandleFunc("GET /api/v1/evolution/archive/{id}", ev.get)
	}

	if deps.Bus != nil {
		sse := &evolutionSSEHandler{bus: deps.Bus}
		mux.HandleFunc("GET /api/v1/evolution/stream", sse.stream)
	}

	if deps.Registry != nil {
		mux.Handle("GET /metrics", metrics.Handler(deps.Registry))
	}

	// Middleware chain: CORS -> RequestID -> security -> origin -> JSON -> Logging -> mux
	var handler http.Handler = mux
	handler = loggingMiddleware(handler)
	handler = requireJSONContentTypeMiddleware(handler)
	handler = browserOriginProtectionMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)
	handler = corsMiddleware(handler)

	return handler
}
