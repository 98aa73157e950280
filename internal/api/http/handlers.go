package http

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/reqgrid/reqgrid/internal/cache"
	"github.com/reqgrid/reqgrid/internal/errors"
	"github.com/reqgrid/reqgrid/internal/export"
	"github.com/reqgrid/reqgrid/internal/observability"
	"github.com/reqgrid/reqgrid/internal/query/executor"
	"github.com/reqgrid/reqgrid/internal/query/parser"
	"github.com/reqgrid/reqgrid/internal/source"
	"github.com/reqgrid/reqgrid/pkg/types"
)

// Snapshotter exposes the loaded dataset for health reporting.
type Snapshotter interface {
	Get() (*cache.Snapshot, error)
}

// Exporter uploads a row set. Implemented by export.Exporter.
type Exporter interface {
	Export(ctx context.Context, rows []types.Row) (*export.Result, error)
}

// QueryResponse is the body of GET /v1/requests.
type QueryResponse struct {
	*executor.QueryResult
	Sort      string `json:"sort,omitempty"`
	Offset    int    `json:"offset"`
	Limit     int    `json:"limit"`
	RequestID string `json:"request_id"`
}

// LookupResponse is the body of GET /v1/requests/lookup.
type LookupResponse struct {
	Row       *types.Row `json:"row"`
	RequestID string     `json:"request_id"`
}

// FilterStatsResponse is the body of GET /v1/stats/filters.
type FilterStatsResponse struct {
	Filters []observability.FieldStats `json:"filters"`
	Sorts   []observability.FieldStats `json:"sorts"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string     `json:"status"`
	Source   string     `json:"source,omitempty"`
	Rows     int        `json:"rows"`
	Version  uint64     `json:"version,omitempty"`
	LoadedAt *time.Time `json:"loaded_at,omitempty"`
}

// Handlers serves the grid API.
type Handlers struct {
	executor executor.QueryExecutor
	parser   *parser.Parser
	stats    *observability.FilterStats
	dataset  Snapshotter
	raw      source.RawOpener
	exporter Exporter
}

// HandlersConfig wires Handlers. Stats, Raw and Exporter are optional; the
// routes they back answer 404 when unset.
type HandlersConfig struct {
	Executor executor.QueryExecutor
	Parser   *parser.Parser
	Stats    *observability.FilterStats
	Dataset  Snapshotter
	Raw      source.RawOpener
	Exporter Exporter
}

// NewHandlers creates the API handlers.
func NewHandlers(cfg HandlersConfig) *Handlers {
	if cfg.Parser == nil {
		cfg.Parser = parser.NewParser(nil, 50, 1000)
	}
	return &Handlers{
		executor: cfg.Executor,
		parser:   cfg.Parser,
		stats:    cfg.Stats,
		dataset:  cfg.Dataset,
		raw:      cfg.Raw,
		exporter: cfg.Exporter,
	}
}

// Query handles GET /v1/requests.
func (h *Handlers) Query(w http.ResponseWriter, r *http.Request) {
	req, err := h.parser.Parse(r.URL.Query())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	result, err := h.executor.Execute(r.Context(), req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, QueryResponse{
		QueryResult: result,
		Sort:        parser.FormatSort(req.Sort),
		Offset:      req.Page.Offset,
		Limit:       req.Page.Limit,
		RequestID:   GetRequestID(r.Context()),
	})
}

// Lookup handles GET /v1/requests/lookup?id=<id>&<filters>.
func (h *Handlers) Lookup(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	id := strings.TrimSpace(values.Get(parser.ParamID))
	if id == "" {
		writeErr(w, r, errors.InvalidArgument("id is required"))
		return
	}
	row, err := h.executor.Lookup(r.Context(), id, h.parser.ParseFilters(values))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LookupResponse{Row: row, RequestID: GetRequestID(r.Context())})
}

// FilterStats handles GET /v1/stats/filters?n=<count>.
func (h *Handlers) FilterStats(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		writeError(w, http.StatusNotFound, "filter stats disabled", "", GetRequestID(r.Context()))
		return
	}
	n := 10
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeErr(w, r, errors.InvalidArgument("n must be a positive integer, got %q", raw))
			return
		}
		n = v
	}
	writeJSON(w, http.StatusOK, FilterStatsResponse{
		Filters: h.stats.GetTopFilters(n),
		Sorts:   h.stats.GetTopSorts(n),
	})
}

// Download handles GET /v1/logs/download. The raw log is streamed as stored;
// uncompressed logs are gzip-encoded when the client accepts it.
func (h *Handlers) Download(w http.ResponseWriter, r *http.Request) {
	if h.raw == nil {
		writeError(w, http.StatusNotFound, "source has no downloadable log", "", GetRequestID(r.Context()))
		return
	}
	body, name, err := h.raw.OpenRaw(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Type", "application/octet-stream")

	var dst io.Writer = w
	if source.CompressionFor(name) == source.CompressionNone && acceptsGzip(r) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")
		gz := gzip.NewWriter(w)
		defer gz.Close()
		dst = gz
	}
	if _, err := io.Copy(dst, body); err != nil {
		log.Printf("Download of %s interrupted (request_id=%s): %v", name, GetRequestID(r.Context()), err)
	}
}

// Export handles POST /v1/requests/export?<filters>&sort=<sort>. Every
// matching row is uploaded, not just one page.
func (h *Handlers) Export(w http.ResponseWriter, r *http.Request) {
	if h.exporter == nil {
		writeError(w, http.StatusNotFound, "export disabled", "", GetRequestID(r.Context()))
		return
	}
	values := r.URL.Query()
	rows, err := h.executor.ExecuteRows(r.Context(), h.parser.ParseFilters(values), parser.ParseSort(values.Get(parser.ParamSort)))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	res, err := h.exporter.Export(r.Context(), rows)
	if err != nil {
		writeErr(w, r, errors.NewStorageError(errors.CodeUnexpected, "export failed", err))
		return
	}
	log.Printf("Exported %d rows to %s (request_id=%s)", res.Rows, res.ObjectPath, GetRequestID(r.Context()))
	writeJSON(w, http.StatusCreated, res)
}

// Health handles GET /health. It answers 503 until the dataset is loaded.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if h.dataset == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}
	snap, err := h.dataset.Get()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "loading"})
		return
	}
	loadedAt := snap.LoadedAt
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Source:   snap.Source,
		Rows:     len(snap.Rows),
		Version:  snap.Version,
		LoadedAt: &loadedAt,
	})
}

func acceptsGzip(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		enc := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if enc == "gzip" || enc == "*" {
			return true
		}
	}
	return false
}
