package executor

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/reqgrid/reqgrid/internal/errors"
	"github.com/reqgrid/reqgrid/internal/observability"
	"github.com/reqgrid/reqgrid/internal/query/aggregator"
	"github.com/reqgrid/reqgrid/internal/query/fields"
	"github.com/reqgrid/reqgrid/internal/query/parser"
	"github.com/reqgrid/reqgrid/internal/query/predicate"
	"github.com/reqgrid/reqgrid/pkg/types"
)

// RowProvider supplies the dataset snapshot a query runs against.
// Implementations must return a slice the executor may read but never modify.
type RowProvider interface {
	Rows(ctx context.Context) ([]types.Row, error)
}

// IDIndex is implemented by providers that can rule out unknown row IDs
// without a scan.
type IDIndex interface {
	MayContainID(id string) bool
}

// QueryExecutor answers grid queries.
type QueryExecutor interface {
	// Execute runs a query and returns one page plus its aggregates
	Execute(ctx context.Context, req *parser.Request) (*QueryResult, error)

	// ExecuteRows returns every matching row, sorted, without paging
	ExecuteRows(ctx context.Context, filters types.FilterSpec, sort *types.SortSpec) ([]types.Row, error)

	// Lookup returns one row annotated against the query's time range
	Lookup(ctx context.Context, id string, filters types.FilterSpec) (*types.Row, error)
}

// QueryResult holds one page of rows and the aggregates of the whole filtered set.
type QueryResult struct {
	Rows              []types.Row                   `json:"rows"`
	TotalRowCount     int                           `json:"totalRowCount"`
	FilterRowCount    int                           `json:"filterRowCount"`
	Facets            map[string]*types.FacetResult `json:"facets"`
	RangeFacets       map[string]*types.FacetResult `json:"rangeFacets"`
	ChartBuckets      []types.ChartBucket           `json:"chartBuckets"`
	BucketWidthMs     int64                         `json:"bucketWidthMs"`
	PercentileSummary *types.PercentileResult       `json:"percentileSummary"`
	Stats             ExecutionStats                `json:"stats"`
}

// ExecutionStats contains query execution timings.
type ExecutionStats struct {
	RangeRows       int   `json:"rangeRows"`
	FilterTimeMs    int64 `json:"filterTimeMs"`
	AggregateTimeMs int64 `json:"aggregateTimeMs"`
	SortTimeMs      int64 `json:"sortTimeMs"`
	ExecutionTimeMs int64 `json:"executionTimeMs"`
}

// ExecutorConfig holds configuration for the executor.
type ExecutorConfig struct {
	// Schema is the row schema (default: the request-log schema)
	Schema *fields.Schema

	// FacetFields limits computed facets (default: every facetable field)
	FacetFields []string

	// JoinedFacets lists sequence fields faceted by their whole joined value
	// instead of per element
	JoinedFacets []string

	// Stats records filter and sort usage (optional)
	Stats *observability.FilterStats

	// Metrics records stage timings (optional)
	Metrics *observability.Metrics
}

// Executor implements QueryExecutor over an in-memory snapshot.
// It holds no per-query state and is safe for concurrent use.
type Executor struct {
	rows      RowProvider
	schema    *fields.Schema
	evaluator *predicate.Evaluator
	sorter    *aggregator.OrderBySorter
	facets    *aggregator.FacetAggregator
	config    ExecutorConfig
	tracer    trace.Tracer
}

// NewExecutor creates an executor reading rows from provider.
func NewExecutor(provider RowProvider, config ExecutorConfig) *Executor {
	if config.Schema == nil {
		config.Schema = fields.Default()
	}
	return &Executor{
		rows:      provider,
		schema:    config.Schema,
		evaluator: predicate.NewEvaluator(config.Schema),
		sorter:    aggregator.NewOrderBySorter(config.Schema),
		facets:    aggregator.NewFacetAggregator(config.Schema),
		config:    config,
		tracer:    observability.Tracer(),
	}
}

// Execute runs req against the current snapshot.
func (e *Executor) Execute(ctx context.Context, req *parser.Request) (result *QueryResult, err error) {
	if req.Page.Limit <= 0 {
		return nil, errors.InvalidArgument("limit must be positive, got %d", req.Page.Limit)
	}

	ctx, span := e.tracer.Start(ctx, "executor.Execute")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		e.config.Metrics.ObserveQuery("execute", err)
	}()

	rows, err := e.rows.Rows(ctx)
	if err != nil {
		return nil, err
	}
	e.recordUsage(req)

	start := time.Now()
	plan := splitTimeFilter(req.Filters)
	if err := plan.checkChartSpan(); err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("reqgrid.rows.total", len(rows)),
		attribute.Int("reqgrid.filters.active", len(req.Filters.Active())),
	)

	// Stage 1: time range, percentile annotation, remaining filters
	filterStart := time.Now()
	_, fspan := e.tracer.Start(ctx, "executor.filter")
	ranged := e.evaluator.FilterRows(rows, plan.timeOnly)
	annotated := aggregator.AnnotatePercentiles(ranged)
	filtered := e.evaluator.FilterRows(annotated, plan.rest)
	fspan.SetAttributes(
		attribute.Int("reqgrid.rows.ranged", len(ranged)),
		attribute.Int("reqgrid.rows.filtered", len(filtered)),
	)
	fspan.End()
	filterTime := time.Since(filterStart)
	e.config.Metrics.ObserveStage("filter", filterTime)

	// Stage 2: aggregates over independent inputs
	aggStart := time.Now()
	result = &QueryResult{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, s := e.tracer.Start(gctx, "executor.rangeFacets")
		defer s.End()
		result.RangeFacets = e.facets.Compute(ranged, e.config.FacetFields, e.facetOptions()...)
		return nil
	})
	g.Go(func() error {
		_, s := e.tracer.Start(gctx, "executor.facets")
		defer s.End()
		result.Facets = e.facets.Compute(filtered, e.config.FacetFields, e.facetOptions()...)
		return nil
	})
	g.Go(func() error {
		_, s := e.tracer.Start(gctx, "executor.chart")
		defer s.End()
		result.ChartBuckets = aggregator.GroupByTime(filtered, plan.chartRange)
		if ts, ok := aggregator.ResolveSpan(filtered, plan.chartRange); ok {
			result.BucketWidthMs = aggregator.BucketWidth(ts.Duration()).Milliseconds()
		}
		return nil
	})
	g.Go(func() error {
		_, s := e.tracer.Start(gctx, "executor.percentiles")
		defer s.End()
		result.PercentileSummary = aggregator.Summarize(aggregator.Latencies(filtered))
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	aggTime := time.Since(aggStart)
	e.config.Metrics.ObserveStage("aggregate", aggTime)

	// Stage 3: sort and page
	sortStart := time.Now()
	_, sspan := e.tracer.Start(ctx, "executor.sortAndPaginate")
	page, err := e.sorter.SortAndPaginate(filtered, req.Sort, req.Page, len(rows))
	sspan.End()
	if err != nil {
		return nil, err
	}
	sortTime := time.Since(sortStart)
	e.config.Metrics.ObserveStage("sort", sortTime)

	result.Rows = page.Rows
	result.TotalRowCount = page.TotalRowCount
	result.FilterRowCount = page.FilterRowCount
	result.Stats = ExecutionStats{
		RangeRows:       len(ranged),
		FilterTimeMs:    filterTime.Milliseconds(),
		AggregateTimeMs: aggTime.Milliseconds(),
		SortTimeMs:      sortTime.Milliseconds(),
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}
	return result, nil
}

// ExecuteRows filters and sorts like Execute but returns the whole filtered
// set and skips the aggregates. Rows carry their percentile rank.
func (e *Executor) ExecuteRows(ctx context.Context, filters types.FilterSpec, sort *types.SortSpec) (out []types.Row, err error) {
	ctx, span := e.tracer.Start(ctx, "executor.ExecuteRows")
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
		e.config.Metrics.ObserveQuery("rows", err)
	}()

	rows, err := e.rows.Rows(ctx)
	if err != nil {
		return nil, err
	}
	plan := splitTimeFilter(filters)
	ranged := e.evaluator.FilterRows(rows, plan.timeOnly)
	filtered := e.evaluator.FilterRows(aggregator.AnnotatePercentiles(ranged), plan.rest)
	out = e.sorter.Sort(filtered, sort)
	span.SetAttributes(attribute.Int("reqgrid.rows.filtered", len(out)))
	return out, nil
}

// Lookup finds the row with the given id. The row's percentile is ranked
// against the rows matching the time constraint of filters, the same set the
// grid annotates against. A row outside that range is not found.
func (e *Executor) Lookup(ctx context.Context, id string, filters types.FilterSpec) (row *types.Row, err error) {
	ctx, span := e.tracer.Start(ctx, "executor.Lookup", trace.WithAttributes(attribute.String("reqgrid.row.id", id)))
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
		e.config.Metrics.ObserveQuery("lookup", err)
	}()

	if id == "" {
		return nil, errors.InvalidArgument("id is required")
	}
	if idx, ok := e.rows.(IDIndex); ok && !idx.MayContainID(id) {
		return nil, rowNotFound(id)
	}
	rows, err := e.rows.Rows(ctx)
	if err != nil {
		return nil, err
	}

	plan := splitTimeFilter(filters)
	ranged := e.evaluator.FilterRows(rows, plan.timeOnly)
	idx := -1
	for i := range ranged {
		if ranged[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, rowNotFound(id)
	}

	latencies := aggregator.Latencies(ranged)
	found := ranged[idx].Clone()
	rank := aggregator.PercentileRankOf(latencies, found.LatencyMs)
	found.Percentile = &rank
	return &found, nil
}

func rowNotFound(id string) error {
	return errors.NewQueryError(errors.CodeRowNotFound, "no row with id "+id).
		WithDetails(map[string]interface{}{"id": id})
}

func (e *Executor) facetOptions() []aggregator.FacetOption {
	if len(e.config.JoinedFacets) == 0 {
		return nil
	}
	return []aggregator.FacetOption{aggregator.WithJoinedSequences(e.config.JoinedFacets...)}
}

func (e *Executor) recordUsage(req *parser.Request) {
	for name, fv := range req.Filters {
		if fv == nil {
			continue
		}
		if _, known := e.schema.Lookup(name); !known {
			continue
		}
		if e.config.Stats != nil {
			e.config.Stats.RecordFilter(name, fv.Kind.String())
		}
		e.config.Metrics.ObserveFilter(name)
	}
	if req.Sort != nil && e.config.Stats != nil {
		e.config.Stats.RecordSort(req.Sort.Field)
	}
}
