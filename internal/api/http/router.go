package http

import (
	"net/http"

	"github.com/reqgrid/reqgrid/internal/observability"
)

// Route patterns.
const (
	RouteQuery       = "GET /v1/requests"
	RouteLookup      = "GET /v1/requests/lookup"
	RouteExport      = "POST /v1/requests/export"
	RouteFilterStats = "GET /v1/stats/filters"
	RouteDownload    = "GET /v1/logs/download"
	RouteHealth      = "GET /health"
	RouteMetrics     = "GET /metrics"
)

// NewRouter registers every route. extra middleware runs outside the default
// chain, e.g. shutdown tracking.
func NewRouter(h *Handlers, metrics *observability.Metrics, extra ...func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()

	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, InstrumentMiddleware(metrics, pattern)(fn))
	}
	handle(RouteQuery, h.Query)
	handle(RouteLookup, h.Lookup)
	handle(RouteExport, h.Export)
	handle(RouteFilterStats, h.FilterStats)
	handle(RouteDownload, h.Download)
	handle(RouteHealth, h.Health)
	mux.Handle(RouteMetrics, metrics.Handler())

	chain := append(append([]func(http.Handler) http.Handler{}, extra...), DefaultMiddleware())
	return ChainMiddleware(chain...)(mux)
}
