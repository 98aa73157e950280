package aggregator

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/reqgrid/reqgrid/internal/query/fields"
	"github.com/reqgrid/reqgrid/pkg/types"
)

var baseTime = time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)

func row(id string, code int, latency float64, offset time.Duration) types.Row {
	return types.Row{
		ID:            id,
		Timestamp:     baseTime.Add(offset),
		StatusCode:    code,
		SeverityLevel: types.SeverityFromStatus(code),
		Method:        "GET",
		Host:          "api.example.com",
		Pathname:      "/" + id,
		LatencyMs:     latency,
	}
}

func ids(rows []types.Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}

func TestSort_Basic(t *testing.T) {
	rows := []types.Row{
		row("c", 200, 30, 0),
		row("a", 200, 10, time.Minute),
		row("b", 200, 20, 2*time.Minute),
	}
	got := SortRows(rows, &types.SortSpec{Field: fields.LatencyMs})
	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(ids(got), want) {
		t.Fatalf("got %v, want %v", ids(got), want)
	}

	got = SortRows(rows, &types.SortSpec{Field: fields.LatencyMs, Descending: true})
	if want := []string{"c", "b", "a"}; !reflect.DeepEqual(ids(got), want) {
		t.Fatalf("desc: got %v, want %v", ids(got), want)
	}
}

func TestSort_DoesNotMutateInput(t *testing.T) {
	rows := []types.Row{row("b", 200, 2, 0), row("a", 200, 1, 0)}
	_ = SortRows(rows, &types.SortSpec{Field: fields.LatencyMs})
	if want := []string{"b", "a"}; !reflect.DeepEqual(ids(rows), want) {
		t.Fatalf("input reordered: %v", ids(rows))
	}
}

func TestSort_NoSpecKeepsOrder(t *testing.T) {
	rows := []types.Row{row("b", 200, 2, 0), row("a", 200, 1, 0)}

	for _, spec := range []*types.SortSpec{nil, {Field: "unknown"}} {
		got := SortRows(rows, spec)
		if !reflect.DeepEqual(ids(got), ids(rows)) {
			t.Fatalf("spec %v: got %v", spec, ids(got))
		}
		got[0].ID = "mutated"
		if rows[0].ID == "mutated" {
			t.Fatal("result shares backing array with input")
		}
	}
}

func TestSort_StableTies(t *testing.T) {
	var rows []types.Row
	for i := 0; i < 50; i++ {
		rows = append(rows, row(fmt.Sprintf("r%02d", i), []int{200, 404}[i%2], 10, 0))
	}

	for _, desc := range []bool{false, true} {
		got := SortRows(rows, &types.SortSpec{Field: fields.StatusCode, Descending: desc})
		var prev string
		for _, r := range got {
			if r.StatusCode == 200 {
				if prev != "" && r.ID < prev {
					t.Fatalf("desc=%v: tie order broken at %s after %s", desc, r.ID, prev)
				}
				prev = r.ID
			}
		}
	}
}

func TestSort_FieldTypes(t *testing.T) {
	rows := []types.Row{
		row("late", 500, 1, 3*time.Hour),
		row("early", 404, 2, time.Hour),
		row("mid", 200, 3, 2*time.Hour),
	}

	tests := []struct {
		field string
		want  []string
	}{
		{fields.Timestamp, []string{"early", "mid", "late"}},
		{fields.StatusCode, []string{"mid", "early", "late"}},
		{fields.Pathname, []string{"early", "late", "mid"}},
	}
	for _, tt := range tests {
		got := SortRows(rows, &types.SortSpec{Field: tt.field})
		if !reflect.DeepEqual(ids(got), tt.want) {
			t.Errorf("%s: got %v, want %v", tt.field, ids(got), tt.want)
		}
	}
}

func TestSort_AbsentValuesFirst(t *testing.T) {
	withTiming := row("timed", 200, 10, 0)
	withTiming.Timing = &types.Timing{TTFB: 5}
	rows := []types.Row{withTiming, row("untimed", 200, 10, 0)}

	got := SortRows(rows, &types.SortSpec{Field: fields.TimingTTFB})
	if want := []string{"untimed", "timed"}; !reflect.DeepEqual(ids(got), want) {
		t.Fatalf("got %v, want %v", ids(got), want)
	}
}

func TestSortAndPaginate(t *testing.T) {
	var rows []types.Row
	for i := 0; i < 10; i++ {
		rows = append(rows, row(fmt.Sprintf("r%d", i), 200, float64(10-i), 0))
	}
	page, err := NewOrderBySorter(nil).SortAndPaginate(rows, &types.SortSpec{Field: fields.LatencyMs}, types.PageSpec{Offset: 2, Limit: 3}, 20)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"r7", "r6", "r5"}; !reflect.DeepEqual(ids(page.Rows), want) {
		t.Fatalf("got %v, want %v", ids(page.Rows), want)
	}
	if page.TotalRowCount != 20 || page.FilterRowCount != 10 {
		t.Fatalf("counts: total=%d filter=%d", page.TotalRowCount, page.FilterRowCount)
	}
}
