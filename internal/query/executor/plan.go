package executor

import (
	"time"

	"github.com/reqgrid/reqgrid/internal/errors"
	"github.com/reqgrid/reqgrid/internal/query/aggregator"
	"github.com/reqgrid/reqgrid/internal/query/fields"
	"github.com/reqgrid/reqgrid/pkg/types"
)

// queryPlan separates the time constraint from the rest of a filter spec.
type queryPlan struct {
	// timeOnly selects the ranged set that facets and percentiles are
	// relative to
	timeOnly types.FilterSpec

	// rest holds every other constraint
	rest types.FilterSpec

	// chartRange is the explicit chart span, nil to derive it from the rows
	chartRange []time.Time
}

// splitTimeFilter builds the plan for spec. A single-instant timestamp
// constraint is widened to the whole UTC day [00:00, 24:00 - 1ms] and the
// chart covers that day.
func splitTimeFilter(spec types.FilterSpec) queryPlan {
	plan := queryPlan{
		timeOnly: types.FilterSpec{},
		rest:     spec.Without(fields.Timestamp),
	}
	fv := spec[fields.Timestamp]
	if fv == nil || fv.Kind != types.FilterDateRange || !fv.IsRange() {
		// Anything else on the timestamp field fails open in the evaluator,
		// so it is left in rest unchanged.
		if fv != nil {
			plan.rest[fields.Timestamp] = fv
		}
		return plan
	}

	if len(fv.Times) == 1 {
		day := startOfDay(fv.Times[0])
		plan.timeOnly[fields.Timestamp] = types.DateRange(day, day.Add(24*time.Hour-time.Millisecond))
		plan.chartRange = []time.Time{day}
		return plan
	}
	plan.timeOnly[fields.Timestamp] = fv
	plan.chartRange = []time.Time{fv.Times[0], fv.Times[1]}
	return plan
}

// checkChartSpan rejects explicit ranges too wide to chart.
func (p queryPlan) checkChartSpan() error {
	if len(p.chartRange) != 2 {
		return nil
	}
	span := aggregator.TimeSpan{Start: p.chartRange[0], End: p.chartRange[1]}
	if span.Duration() > aggregator.MaxChartSpan {
		return errors.InvalidArgument("timestamp range %s..%s exceeds the maximum chart span of %s",
			p.chartRange[0].UTC().Format(time.RFC3339), p.chartRange[1].UTC().Format(time.RFC3339), aggregator.MaxChartSpan)
	}
	return nil
}

// startOfDay truncates t to midnight of its UTC calendar day.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
