package executor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/reqgrid/reqgrid/internal/errors"
	"github.com/reqgrid/reqgrid/internal/observability"
	"github.com/reqgrid/reqgrid/internal/query/fields"
	"github.com/reqgrid/reqgrid/internal/query/parser"
	"github.com/reqgrid/reqgrid/pkg/types"
)

var day1 = time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)

type staticRows struct {
	rows []types.Row
	err  error
}

func (s staticRows) Rows(ctx context.Context) ([]types.Row, error) {
	return s.rows, s.err
}

func makeRow(id string, status int, latency float64, ts time.Time) types.Row {
	return types.Row{
		ID:            id,
		Timestamp:     ts,
		StatusCode:    status,
		SeverityLevel: types.SeverityFromStatus(status),
		Method:        "GET",
		Host:          "api.example.com",
		Pathname:      "/v1/" + id,
		LatencyMs:     latency,
		RegionTags:    []string{"ams"},
	}
}

// statusRows is five rows on day1 with status codes 200,200,404,500,200 and
// latencies 10..50.
func statusRows() []types.Row {
	codes := []int{200, 200, 404, 500, 200}
	rows := make([]types.Row, len(codes))
	for i, c := range codes {
		rows[i] = makeRow(fmt.Sprintf("r%d", i), c, float64(10*(i+1)), day1.Add(time.Duration(i+1)*time.Hour))
	}
	return rows
}

func request(filters types.FilterSpec, sort *types.SortSpec, offset, limit int) *parser.Request {
	if filters == nil {
		filters = types.FilterSpec{}
	}
	return &parser.Request{Filters: filters, Sort: sort, Page: types.PageSpec{Offset: offset, Limit: limit}}
}

func TestExecute_StatusExample(t *testing.T) {
	e := NewExecutor(staticRows{rows: statusRows()}, ExecutorConfig{})

	res, err := e.Execute(context.Background(), request(types.FilterSpec{
		fields.StatusCode: types.NumberSet(200),
	}, nil, 0, 50))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if res.TotalRowCount != 5 || res.FilterRowCount != 3 || len(res.Rows) != 3 {
		t.Errorf("counts = total %d, filtered %d, page %d", res.TotalRowCount, res.FilterRowCount, len(res.Rows))
	}

	rf := res.RangeFacets[fields.StatusCode]
	if rf == nil || rf.Count(200.0) != 3 || rf.Count(404.0) != 1 || rf.Count(500.0) != 1 || rf.TotalCount != 5 {
		t.Errorf("range facet statusCode = %+v", rf)
	}
	ff := res.Facets[fields.StatusCode]
	if ff == nil || ff.Count(200.0) != 3 || ff.TotalCount != 3 {
		t.Errorf("filtered facet statusCode = %+v", ff)
	}
	if sev := res.Facets[fields.SeverityLevel]; sev == nil || sev.Count("success") != 3 {
		t.Errorf("filtered facet severityLevel = %+v", sev)
	}
}

func TestExecute_SingleDayWidening(t *testing.T) {
	rows := statusRows()
	rows = append(rows,
		makeRow("prev", 200, 999, day1.Add(-time.Minute)),
		makeRow("next", 500, 999, day1.Add(24*time.Hour)),
	)
	e := NewExecutor(staticRows{rows: rows}, ExecutorConfig{})

	// Any instant on the day selects the whole UTC day.
	noon := day1.Add(12*time.Hour + 34*time.Minute)
	res, err := e.Execute(context.Background(), request(types.FilterSpec{
		fields.Timestamp: types.DateRange(noon),
	}, nil, 0, 50))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if res.FilterRowCount != 5 {
		t.Fatalf("FilterRowCount = %d, want 5", res.FilterRowCount)
	}
	if res.TotalRowCount != 7 {
		t.Errorf("TotalRowCount = %d, want 7", res.TotalRowCount)
	}
	if res.BucketWidthMs != (24 * time.Minute).Milliseconds() {
		t.Errorf("BucketWidthMs = %d, want %d", res.BucketWidthMs, (24 * time.Minute).Milliseconds())
	}
	if len(res.ChartBuckets) != 60 {
		t.Fatalf("got %d buckets, want 60", len(res.ChartBuckets))
	}
	if !res.ChartBuckets[0].BucketStartTime.Equal(day1) {
		t.Errorf("first bucket starts at %v, want %v", res.ChartBuckets[0].BucketStartTime, day1)
	}
	total := 0
	for _, b := range res.ChartBuckets {
		total += b.Total()
	}
	if total != 5 {
		t.Errorf("bucket total = %d, want 5", total)
	}
}

func TestExecute_PercentilesRelativeToRange(t *testing.T) {
	rows := append(statusRows(), makeRow("next", 200, 1000, day1.Add(30*time.Hour)))
	e := NewExecutor(staticRows{rows: rows}, ExecutorConfig{})

	res, err := e.Execute(context.Background(), request(types.FilterSpec{
		fields.Timestamp: types.DateRange(day1),
		fields.LatencyMs: types.NumberRange(30),
	}, nil, 0, 50))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(res.Rows))
	}
	// 3 of the 5 rows on day1 have latency <= 30; the next-day row is not ranked.
	if p := res.Rows[0].Percentile; p == nil || *p != 60 {
		t.Errorf("percentile = %v, want 60", p)
	}
	if res.PercentileSummary == nil || res.PercentileSummary.P50 != 30 {
		t.Errorf("PercentileSummary = %+v", res.PercentileSummary)
	}
}

func TestExecute_FilterOnPercentile(t *testing.T) {
	e := NewExecutor(staticRows{rows: statusRows()}, ExecutorConfig{})
	res, err := e.Execute(context.Background(), request(types.FilterSpec{
		fields.Percentile: types.NumberRange(80, 100),
	}, nil, 0, 50))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.FilterRowCount != 2 {
		t.Errorf("FilterRowCount = %d, want 2 (latencies 40 and 50)", res.FilterRowCount)
	}
}

func TestExecute_SortAndPage(t *testing.T) {
	e := NewExecutor(staticRows{rows: statusRows()}, ExecutorConfig{})
	res, err := e.Execute(context.Background(), request(nil,
		&types.SortSpec{Field: fields.LatencyMs, Descending: true}, 1, 2))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(res.Rows) != 2 || res.Rows[0].ID != "r3" || res.Rows[1].ID != "r2" {
		t.Errorf("page = %v", res.Rows)
	}
	if res.FilterRowCount != 5 {
		t.Errorf("FilterRowCount = %d, want 5", res.FilterRowCount)
	}
}

func TestExecute_OffsetPastEnd(t *testing.T) {
	e := NewExecutor(staticRows{rows: statusRows()}, ExecutorConfig{})
	res, err := e.Execute(context.Background(), request(nil, nil, 10, 5))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(res.Rows) != 0 || res.FilterRowCount != 5 {
		t.Errorf("expected empty page over 5 rows, got %d rows / %d", len(res.Rows), res.FilterRowCount)
	}
}

func TestExecute_InvalidLimit(t *testing.T) {
	e := NewExecutor(staticRows{rows: statusRows()}, ExecutorConfig{})
	for _, limit := range []int{0, -1} {
		_, err := e.Execute(context.Background(), request(nil, nil, 0, limit))
		if !errors.IsInvalidArgument(err) {
			t.Errorf("limit %d: got %v, want InvalidArgument", limit, err)
		}
	}
}

func TestExecute_RejectsOverwideChartSpan(t *testing.T) {
	e := NewExecutor(staticRows{rows: statusRows()}, ExecutorConfig{})

	_, err := e.Execute(context.Background(), request(types.FilterSpec{
		fields.Timestamp: types.DateRange(time.UnixMilli(0), time.UnixMilli(253402300799000)),
	}, nil, 0, 50))
	if !errors.IsInvalidArgument(err) {
		t.Fatalf("expected invalid argument for a 10,000 year range, got %v", err)
	}

	res, err := e.Execute(context.Background(), request(types.FilterSpec{
		fields.Timestamp: types.DateRange(day1.AddDate(-50, 0, 0), day1.AddDate(1, 0, 0)),
	}, nil, 0, 50))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	total := 0
	for _, b := range res.ChartBuckets {
		total += b.Total()
	}
	if total != 5 {
		t.Errorf("bucketed %d rows over a 51 year range, want 5", total)
	}
}

func TestExecute_EmptyDataset(t *testing.T) {
	e := NewExecutor(staticRows{rows: []types.Row{}}, ExecutorConfig{})
	res, err := e.Execute(context.Background(), request(nil, nil, 0, 10))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if res.Rows == nil || len(res.Rows) != 0 {
		t.Errorf("Rows = %v, want empty", res.Rows)
	}
	if res.ChartBuckets == nil || len(res.ChartBuckets) != 0 {
		t.Errorf("ChartBuckets = %v, want empty", res.ChartBuckets)
	}
	if res.PercentileSummary != nil {
		t.Errorf("PercentileSummary = %+v, want nil", res.PercentileSummary)
	}
}

func TestExecute_ProviderError(t *testing.T) {
	notReady := errors.NewSourceError(errors.CodeNotInitialized, "dataset not loaded", nil)
	e := NewExecutor(staticRows{err: notReady}, ExecutorConfig{})
	_, err := e.Execute(context.Background(), request(nil, nil, 0, 10))
	if errors.GetCode(err) != errors.CodeNotInitialized {
		t.Errorf("got %v, want NOT_INITIALIZED", err)
	}
}

func TestExecute_DoesNotMutateSnapshot(t *testing.T) {
	rows := statusRows()
	e := NewExecutor(staticRows{rows: rows}, ExecutorConfig{})
	if _, err := e.Execute(context.Background(), request(nil,
		&types.SortSpec{Field: fields.LatencyMs, Descending: true}, 0, 10)); err != nil {
		t.Fatal(err)
	}
	for i := range rows {
		if rows[i].Percentile != nil {
			t.Fatalf("row %d annotated in place", i)
		}
		if rows[i].ID != fmt.Sprintf("r%d", i) {
			t.Fatalf("snapshot reordered at %d: %s", i, rows[i].ID)
		}
	}
}

func TestExecute_JoinedRegionFacets(t *testing.T) {
	rows := statusRows()
	rows[0].RegionTags = []string{"ams", "fra"}
	e := NewExecutor(staticRows{rows: rows}, ExecutorConfig{JoinedFacets: []string{fields.RegionTags}})

	res, err := e.Execute(context.Background(), request(nil, nil, 0, 10))
	if err != nil {
		t.Fatal(err)
	}
	rt := res.Facets[fields.RegionTags]
	if rt.Count("ams,fra") != 1 || rt.Count("ams") != 4 {
		t.Errorf("regionTags facet = %+v", rt.Entries)
	}
}

func TestExecute_RecordsUsage(t *testing.T) {
	stats := observability.NewFilterStats(time.Hour)
	e := NewExecutor(staticRows{rows: statusRows()}, ExecutorConfig{Stats: stats})

	_, err := e.Execute(context.Background(), request(types.FilterSpec{
		fields.StatusCode: types.NumberSet(200),
		"unknownField":    types.StringSet("x"),
	}, &types.SortSpec{Field: fields.LatencyMs}, 0, 10))
	if err != nil {
		t.Fatal(err)
	}

	top := stats.GetTopFilters(10)
	if len(top) != 1 || top[0].Field != fields.StatusCode || top[0].Kinds["number_set"] != 1 {
		t.Errorf("top filters = %+v", top)
	}
	sorts := stats.GetTopSorts(10)
	if len(sorts) != 1 || sorts[0].Field != fields.LatencyMs {
		t.Errorf("top sorts = %+v", sorts)
	}
}

func TestLookup(t *testing.T) {
	rows := append(statusRows(), makeRow("next", 200, 1000, day1.Add(30*time.Hour)))
	e := NewExecutor(staticRows{rows: rows}, ExecutorConfig{})
	filters := types.FilterSpec{fields.Timestamp: types.DateRange(day1)}

	row, err := e.Lookup(context.Background(), "r2", filters)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if row.ID != "r2" || row.Percentile == nil || *row.Percentile != 60 {
		t.Errorf("row = %+v, percentile %v", row, row.Percentile)
	}
	if rows[2].Percentile != nil {
		t.Error("Lookup annotated the snapshot row in place")
	}

	// Without a time filter the row ranks against all 6 rows.
	row, err = e.Lookup(context.Background(), "r2", nil)
	if err != nil {
		t.Fatal(err)
	}
	if *row.Percentile != 50 {
		t.Errorf("percentile over all rows = %v, want 50", *row.Percentile)
	}

	_, err = e.Lookup(context.Background(), "next", filters)
	if errors.GetCode(err) != errors.CodeRowNotFound {
		t.Errorf("out-of-range lookup: got %v, want ROW_NOT_FOUND", err)
	}
	_, err = e.Lookup(context.Background(), "", nil)
	if !errors.IsInvalidArgument(err) {
		t.Errorf("empty id: got %v, want InvalidArgument", err)
	}
}

func TestExecuteRows(t *testing.T) {
	e := NewExecutor(staticRows{rows: statusRows()}, ExecutorConfig{})
	rows, err := e.ExecuteRows(context.Background(), types.FilterSpec{
		fields.SeverityLevel: types.StringSet("success"),
	}, &types.SortSpec{Field: fields.LatencyMs, Descending: true})
	if err != nil {
		t.Fatalf("ExecuteRows failed: %v", err)
	}
	if len(rows) != 3 || rows[0].ID != "r4" || rows[2].ID != "r0" {
		t.Fatalf("rows = %v", rows)
	}
	if rows[0].Percentile == nil || *rows[0].Percentile != 100 {
		t.Errorf("percentile = %v, want 100", rows[0].Percentile)
	}
}

type indexedRows struct {
	staticRows
	known map[string]bool
	scans *int
}

func (r indexedRows) MayContainID(id string) bool { return r.known[id] }

func (r indexedRows) Rows(ctx context.Context) ([]types.Row, error) {
	*r.scans++
	return r.staticRows.Rows(ctx)
}

func TestLookup_IDIndexSkipsScan(t *testing.T) {
	scans := 0
	provider := indexedRows{staticRows: staticRows{rows: statusRows()}, known: map[string]bool{"r1": true}, scans: &scans}
	e := NewExecutor(provider, ExecutorConfig{})

	if _, err := e.Lookup(context.Background(), "nope", nil); errors.GetCode(err) != errors.CodeRowNotFound {
		t.Fatalf("err = %v, want ROW_NOT_FOUND", err)
	}
	if scans != 0 {
		t.Errorf("rows scanned %d times for an id the index rules out", scans)
	}

	row, err := e.Lookup(context.Background(), "r1", nil)
	if err != nil || row.ID != "r1" {
		t.Fatalf("Lookup(r1) = %v, %v", row, err)
	}
	if scans != 1 {
		t.Errorf("scans = %d, want 1", scans)
	}
}
