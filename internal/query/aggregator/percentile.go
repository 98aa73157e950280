package aggregator

import (
	"math"
	"sort"

	"github.com/reqgrid/reqgrid/internal/errors"
	"github.com/reqgrid/reqgrid/pkg/types"
)

// SpecificPercentile returns the value at percentile p of values, linearly
// interpolating between the two closest ranks at index (p/100)*(n-1).
// values is not modified. Empty input and p outside [0, 100] are rejected.
func SpecificPercentile(values []float64, p float64) (float64, error) {
	if len(values) == 0 {
		return 0, errors.InvalidArgument("percentile of empty collection")
	}
	if math.IsNaN(p) || p < 0 || p > 100 {
		return 0, errors.InvalidArgument("percentile must be within [0, 100], got %v", p)
	}
	sorted := sortedCopy(values)
	return percentileOfSorted(sorted, p), nil
}

func percentileOfSorted(sorted []float64, p float64) float64 {
	idx := p / 100 * float64(len(sorted)-1)
	lo := math.Floor(idx)
	hi := math.Ceil(idx)
	if lo == hi {
		return sorted[int(lo)]
	}
	frac := idx - lo
	return sorted[int(lo)]*(1-frac) + sorted[int(hi)]*frac
}

// PercentileRankOf returns the share of values less than or equal to v, as a
// percentage in [0, 100]. An empty collection ranks every value at 0.
func PercentileRankOf(values []float64, v float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return rankInSorted(sortedCopy(values), v)
}

func rankInSorted(sorted []float64, v float64) float64 {
	atOrBelow := sort.Search(len(sorted), func(i int) bool { return sorted[i] > v })
	return float64(atOrBelow) / float64(len(sorted)) * 100
}

// Summarize returns p50/p75/p90/p95/p99 of values, or nil when values is empty.
func Summarize(values []float64) *types.PercentileResult {
	if len(values) == 0 {
		return nil
	}
	sorted := sortedCopy(values)
	return &types.PercentileResult{
		P50: percentileOfSorted(sorted, 50),
		P75: percentileOfSorted(sorted, 75),
		P90: percentileOfSorted(sorted, 90),
		P95: percentileOfSorted(sorted, 95),
		P99: percentileOfSorted(sorted, 99),
	}
}

// Latencies extracts LatencyMs from rows in order.
func Latencies(rows []types.Row) []float64 {
	out := make([]float64, len(rows))
	for i := range rows {
		out[i] = rows[i].LatencyMs
	}
	return out
}

// AnnotatePercentiles returns a copy of rows where each row carries the
// percentile rank of its latency within rows. Latencies are sorted once and
// each rank is found by binary search.
func AnnotatePercentiles(rows []types.Row) []types.Row {
	out := make([]types.Row, len(rows))
	if len(rows) == 0 {
		return out
	}
	sorted := sortedCopy(Latencies(rows))
	for i := range rows {
		out[i] = rows[i]
		rank := rankInSorted(sorted, rows[i].LatencyMs)
		out[i].Percentile = &rank
	}
	return out
}

func sortedCopy(values []float64) []float64 {
	sorted := append(make([]float64, 0, len(values)), values...)
	sort.Float64s(sorted)
	return sorted
}
