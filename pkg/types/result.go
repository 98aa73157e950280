package types

import "time"

// FacetEntry is one distinct value of a field and how often it occurs.
type FacetEntry struct {
	Value interface{} `json:"value"`
	Count int         `json:"count"`
}

// FacetResult holds the distinct values observed for one field.
// Min and Max are only set for numeric fields.
type FacetResult struct {
	Entries    []FacetEntry `json:"entries"`
	TotalCount int          `json:"totalCount"`
	Min        *float64     `json:"min,omitempty"`
	Max        *float64     `json:"max,omitempty"`
}

// Count returns the count recorded for value, or 0. Numeric facet values
// are stored as float64, so any integer or float argument matches them.
func (f *FacetResult) Count(value interface{}) int {
	if n, ok := ToFloat(value); ok {
		value = n
	}
	for _, e := range f.Entries {
		if e.Value == value {
			return e.Count
		}
	}
	return 0
}

// ToFloat converts a numeric value to float64.
func ToFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// PercentileResult summarizes the distribution of a numeric field.
type PercentileResult struct {
	P50 float64 `json:"p50"`
	P75 float64 `json:"p75"`
	P90 float64 `json:"p90"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// ChartBucket counts rows by severity within
// [BucketStartTime, BucketStartTime + bucket width).
type ChartBucket struct {
	BucketStartTime time.Time `json:"bucketStartTime"`
	SuccessCount    int       `json:"successCount"`
	WarningCount    int       `json:"warningCount"`
	ErrorCount      int       `json:"errorCount"`
}

// Total returns the number of rows counted in the bucket.
func (b ChartBucket) Total() int {
	return b.SuccessCount + b.WarningCount + b.ErrorCount
}

// Page is an offset+limit window over a filtered, sorted collection.
type Page struct {
	Rows           []Row `json:"rows"`
	TotalRowCount  int   `json:"totalRowCount"`
	FilterRowCount int   `json:"filterRowCount"`
}
