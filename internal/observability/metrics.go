package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors exported on /metrics.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	up              prometheus.Gauge
	datasetRows     prometheus.Gauge
	datasetLoadedAt prometheus.Gauge
	datasetLoads    *prometheus.CounterVec
	queries         *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	filterUse       *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// NewMetrics creates and registers the collectors on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		up: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reqgrid_up",
			Help: "Process liveness.",
		}),
		datasetRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reqgrid_dataset_rows",
			Help: "Rows in the current dataset snapshot.",
		}),
		datasetLoadedAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reqgrid_dataset_loaded_timestamp_seconds",
			Help: "Unix timestamp of the last successful dataset load.",
		}),
		datasetLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reqgrid_dataset_loads_total",
			Help: "Dataset loads by result.",
		}, []string{"result"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reqgrid_queries_total",
			Help: "Grid queries by operation and result.",
		}, []string{"op", "result"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reqgrid_query_stage_duration_ms",
			Help:    "Duration of query pipeline stages.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"stage"}),
		filterUse: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reqgrid_filter_use_total",
			Help: "Constraints applied by field.",
		}, []string{"field"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reqgrid_http_requests_total",
			Help: "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reqgrid_http_request_duration_ms",
			Help:    "HTTP request latency.",
			Buckets: []float64{1, 2, 5, 10, 20, 40, 80, 120, 200, 400, 800, 2000},
		}, []string{"route"}),
	}

	registry.MustRegister(
		m.up,
		m.datasetRows,
		m.datasetLoadedAt,
		m.datasetLoads,
		m.queries,
		m.stageDuration,
		m.filterUse,
		m.httpRequests,
		m.httpDuration,
	)

	m.up.Set(1)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveDatasetLoad records the outcome of a dataset (re)load.
func (m *Metrics) ObserveDatasetLoad(rows int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.datasetLoads.WithLabelValues("error").Inc()
		return
	}
	m.datasetLoads.WithLabelValues("ok").Inc()
	m.datasetRows.Set(float64(rows))
	m.datasetLoadedAt.Set(float64(time.Now().UTC().Unix()))
}

// ObserveQuery counts a grid operation.
func (m *Metrics) ObserveQuery(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.queries.WithLabelValues(op, result).Inc()
}

// ObserveStage records how long a pipeline stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(float64(d.Microseconds()) / 1000)
}

// ObserveFilter counts a constraint on field.
func (m *Metrics) ObserveFilter(field string) {
	if m == nil {
		return
	}
	m.filterUse.WithLabelValues(field).Inc()
}

// ObserveHTTP records one served HTTP request.
func (m *Metrics) ObserveHTTP(route, method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(float64(d.Microseconds()) / 1000)
}
