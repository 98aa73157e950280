package predicate

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/reqgrid/reqgrid/internal/query/fields"
	"github.com/reqgrid/reqgrid/pkg/types"
)

var baseTime = time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)

func sampleRows() []types.Row {
	codes := []int{200, 200, 404, 500, 200}
	rows := make([]types.Row, len(codes))
	for i, code := range codes {
		rows[i] = types.Row{
			ID:            fmt.Sprintf("r%d", i),
			Timestamp:     baseTime.Add(time.Duration(i) * time.Hour),
			StatusCode:    code,
			SeverityLevel: types.SeverityFromStatus(code),
			Method:        []string{"GET", "POST"}[i%2],
			Host:          "api.example.com",
			Pathname:      fmt.Sprintf("/v1/items/%d", i),
			LatencyMs:     float64((i + 1) * 10),
			RegionTags:    [][]string{{"ams"}, {"fra", "gru"}, {"iad"}, {}, {"gru"}}[i],
		}
	}
	rows[2].Timing = &types.Timing{DNS: 1, Connection: 2, TLS: 3, TTFB: 20, Transfer: 4}
	return rows
}

func ids(rows []types.Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}

func TestMatches(t *testing.T) {
	rows := sampleRows()

	tests := []struct {
		name  string
		row   int
		field string
		value *types.FilterValue
		want  bool
	}{
		{"nil constraint", 0, fields.StatusCode, nil, true},
		{"number set hit", 2, fields.StatusCode, types.NumberSet(404, 500), true},
		{"number set miss", 0, fields.StatusCode, types.NumberSet(404, 500), false},
		{"range exact", 1, fields.LatencyMs, types.NumberRange(20), true},
		{"range exact miss", 1, fields.LatencyMs, types.NumberRange(21), false},
		{"range inclusive low", 1, fields.LatencyMs, types.NumberRange(20, 40), true},
		{"range inclusive high", 3, fields.LatencyMs, types.NumberRange(20, 40), true},
		{"range outside", 4, fields.LatencyMs, types.NumberRange(20, 40), false},
		{"date same day", 0, fields.Timestamp, types.DateRange(baseTime.Add(13 * time.Hour)), true},
		{"date other day", 0, fields.Timestamp, types.DateRange(baseTime.Add(24 * time.Hour)), false},
		{"date span inclusive", 1, fields.Timestamp, types.DateRange(baseTime.Add(time.Hour), baseTime.Add(2*time.Hour)), true},
		{"date span outside", 3, fields.Timestamp, types.DateRange(baseTime.Add(time.Hour), baseTime.Add(2*time.Hour)), false},
		{"string set", 1, fields.Method, types.StringSet("POST"), true},
		{"string set miss", 0, fields.Method, types.StringSet("POST"), false},
		{"severity", 3, fields.SeverityLevel, types.StringSet("error"), true},
		{"tags any-of", 1, fields.RegionTags, types.StringSet("gru", "syd"), true},
		{"tags none", 0, fields.RegionTags, types.StringSet("gru", "syd"), false},
		{"tags empty row", 3, fields.RegionTags, types.StringSet("gru"), false},
		{"text substring", 2, fields.Pathname, types.Text("ITEMS/2"), true},
		{"text miss", 2, fields.Pathname, types.Text("/orders"), false},
		{"timing present", 2, fields.TimingTTFB, types.NumberRange(10, 30), true},
		{"timing absent", 0, fields.TimingTTFB, types.NumberRange(0, 1000), false},
		{"percentile absent", 0, fields.Percentile, types.NumberRange(0, 100), false},

		// fail-open cases
		{"unknown field", 0, "nope", types.StringSet("x"), true},
		{"id not filterable", 0, fields.ID, types.StringSet("other"), true},
		{"range with three bounds", 0, fields.LatencyMs, types.NumberRange(1, 2, 3), true},
		{"empty range", 0, fields.LatencyMs, types.NumberRange(), true},
		{"kind mismatch", 0, fields.StatusCode, types.StringSet("404"), true},
		{"date on number field", 0, fields.LatencyMs, types.DateRange(baseTime), true},
		{"empty text", 0, fields.Host, types.Text(""), true},
		{"bool on string field", 0, fields.Method, types.BoolSet(true), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(&rows[tt.row], tt.field, tt.value); got != tt.want {
				t.Errorf("Matches(row %d, %s, %v) = %v, want %v", tt.row, tt.field, tt.value, got, tt.want)
			}
		})
	}
}

func TestMatches_BoolField(t *testing.T) {
	schema := fields.NewSchema(fields.Field{
		Name:       "public",
		Kind:       fields.KindBool,
		Filter:     types.FilterBoolSet,
		Filterable: true,
		Value: func(r *types.Row) (interface{}, bool) {
			return r.Headers["x-public"] == "1", true
		},
	})
	ev := NewEvaluator(schema)

	pub := types.Row{Headers: map[string]string{"x-public": "1"}}
	priv := types.Row{}

	if !ev.Matches(&pub, "public", types.BoolSet(true)) {
		t.Error("public row should match true")
	}
	if ev.Matches(&priv, "public", types.BoolSet(true)) {
		t.Error("private row should not match true")
	}
	if !ev.Matches(&priv, "public", types.BoolSet(true, false)) {
		t.Error("any row matches {true,false}")
	}
}

func TestFilterRows_StatusExample(t *testing.T) {
	rows := sampleRows()
	got := FilterRows(rows, types.FilterSpec{fields.StatusCode: types.NumberSet(200)})
	if len(got) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(got))
	}
	for _, r := range got {
		if r.StatusCode != 200 {
			t.Errorf("unexpected status %d", r.StatusCode)
		}
	}
}

func TestFilterRows_EmptySpecReturnsCopy(t *testing.T) {
	rows := sampleRows()

	for _, spec := range []types.FilterSpec{nil, {}, {fields.Method: nil, fields.Host: nil}} {
		got := FilterRows(rows, spec)
		if !reflect.DeepEqual(ids(got), ids(rows)) {
			t.Fatalf("expected all rows, got %v", ids(got))
		}
		got[0].ID = "mutated"
		if rows[0].ID == "mutated" {
			t.Fatal("FilterRows must not share its backing array with the input")
		}
	}
}

func TestFilterRows_DoesNotMutateInput(t *testing.T) {
	rows := sampleRows()
	before := ids(rows)
	_ = FilterRows(rows, types.FilterSpec{fields.StatusCode: types.NumberSet(500)})
	if !reflect.DeepEqual(before, ids(rows)) {
		t.Fatal("input order changed")
	}
}

func TestFilterRows_AcceptsWidenedDayRange(t *testing.T) {
	rows := sampleRows()
	day := time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)
	widened := types.DateRange(day, day.Add(24*time.Hour-time.Millisecond))
	got := FilterRows(rows, types.FilterSpec{fields.Timestamp: widened})
	if len(got) != len(rows) {
		t.Fatalf("expected all %d rows on the day, got %d", len(rows), len(got))
	}
}

func TestFilterRows_AndAcrossFields(t *testing.T) {
	rows := sampleRows()
	got := FilterRows(rows, types.FilterSpec{
		fields.StatusCode: types.NumberSet(200),
		fields.RegionTags: types.StringSet("gru"),
	})
	if want := []string{"r1", "r4"}; !reflect.DeepEqual(ids(got), want) {
		t.Fatalf("got %v, want %v", ids(got), want)
	}
}

// genRows builds a deterministic row collection from generated seeds.
func genRows(seeds []int) []types.Row {
	codes := []int{200, 201, 301, 404, 429, 500, 503}
	methods := []string{"GET", "POST", "PUT", "DELETE"}
	regions := []string{"ams", "fra", "gru", "hkg", "iad", "syd"}

	rows := make([]types.Row, len(seeds))
	for i, s := range seeds {
		code := codes[s%len(codes)]
		rows[i] = types.Row{
			ID:            fmt.Sprintf("row-%d", i),
			Timestamp:     baseTime.Add(time.Duration(s) * time.Minute),
			StatusCode:    code,
			SeverityLevel: types.SeverityFromStatus(code),
			Method:        methods[s%len(methods)],
			LatencyMs:     float64(s % 997),
			RegionTags:    []string{regions[s%len(regions)], regions[(s/7)%len(regions)]},
		}
	}
	return rows
}

func TestProperty_FilterCommutativity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("filter(filter(rows, A), B) == filter(rows, A∪B) == filter(filter(rows, B), A)", prop.ForAll(
		func(seeds []int, code int, lo, span int, region string) bool {
			rows := genRows(seeds)
			a := types.FilterSpec{fields.StatusCode: types.NumberSet(float64(code))}
			b := types.FilterSpec{
				fields.LatencyMs:  types.NumberRange(float64(lo), float64(lo+span)),
				fields.RegionTags: types.StringSet(region),
			}
			union := types.FilterSpec{}
			for k, v := range a {
				union[k] = v
			}
			for k, v := range b {
				union[k] = v
			}

			ab := ids(FilterRows(FilterRows(rows, a), b))
			both := ids(FilterRows(rows, union))
			ba := ids(FilterRows(FilterRows(rows, b), a))
			return reflect.DeepEqual(ab, both) && reflect.DeepEqual(both, ba)
		},
		gen.SliceOf(gen.IntRange(0, 100000)),
		gen.OneConstOf(200, 201, 404, 500),
		gen.IntRange(0, 900),
		gen.IntRange(0, 500),
		gen.OneConstOf("ams", "fra", "gru", "syd"),
	))

	properties.Property("filtered rows are a subsequence of the input", prop.ForAll(
		func(seeds []int, lo int) bool {
			rows := genRows(seeds)
			got := FilterRows(rows, types.FilterSpec{fields.LatencyMs: types.NumberRange(float64(lo), float64(lo+100))})
			j := 0
			for _, r := range got {
				for j < len(rows) && rows[j].ID != r.ID {
					j++
				}
				if j == len(rows) {
					return false
				}
				j++
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 100000)),
		gen.IntRange(0, 900),
	))

	properties.TestingRun(t)
}
