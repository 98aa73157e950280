package aggregator

import (
	"math"
	"time"

	"github.com/reqgrid/reqgrid/pkg/types"
)

// bucketTier maps a maximum span (inclusive) to the bucket width used for it.
type bucketTier struct {
	maxSpan time.Duration
	width   time.Duration
}

var bucketTiers = []bucketTier{
	{1 * time.Minute, 1 * time.Second},
	{5 * time.Minute, 5 * time.Second},
	{10 * time.Minute, 10 * time.Second},
	{30 * time.Minute, 30 * time.Second},
	{60 * time.Minute, 1 * time.Minute},
	{120 * time.Minute, 2 * time.Minute},
	{240 * time.Minute, 4 * time.Minute},
	{480 * time.Minute, 8 * time.Minute},
	{1440 * time.Minute, 24 * time.Minute},
	{2880 * time.Minute, 48 * time.Minute},
	{5760 * time.Minute, 96 * time.Minute},
	{11520 * time.Minute, 192 * time.Minute},
	{23040 * time.Minute, 384 * time.Minute},
}

// DefaultBucketWidth is used for spans longer than every tier.
const DefaultBucketWidth = 768 * time.Minute

// BucketWidth picks the bucket width for a span so that a chart stays within
// a bounded number of bars.
func BucketWidth(span time.Duration) time.Duration {
	for _, t := range bucketTiers {
		if span <= t.maxSpan {
			return t.width
		}
	}
	return DefaultBucketWidth
}

// TimeSpan is a half-open interval [Start, End).
type TimeSpan struct {
	Start time.Time
	End   time.Time
}

// MaxChartSpan bounds an explicit chart span. At the default bucket width it
// keeps a chart under about 70,000 buckets.
const MaxChartSpan = 100 * 365 * 24 * time.Hour

// Millis returns End - Start in milliseconds. Unlike time.Time.Sub it does
// not saturate for spans longer than about 292 years.
func (s TimeSpan) Millis() int64 {
	return s.End.UnixMilli() - s.Start.UnixMilli()
}

// Duration returns End - Start, saturating at the largest time.Duration.
func (s TimeSpan) Duration() time.Duration {
	ms := s.Millis()
	if ms > math.MaxInt64/int64(time.Millisecond) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ms) * time.Millisecond
}

// ResolveSpan derives the chart span. One explicit instant covers the 24 hours
// starting at it, two instants are used as given, and no instants derive the
// span from the earliest and latest row timestamps. ok is false when no span
// can be derived.
func ResolveSpan(rows []types.Row, explicit []time.Time) (TimeSpan, bool) {
	switch len(explicit) {
	case 1:
		start := explicit[0].Truncate(time.Millisecond)
		return TimeSpan{Start: start, End: start.Add(24 * time.Hour)}, true
	case 2:
		if explicit[1].Before(explicit[0]) {
			return TimeSpan{}, false
		}
		return TimeSpan{Start: explicit[0].Truncate(time.Millisecond), End: explicit[1].Truncate(time.Millisecond)}, true
	}

	if len(rows) == 0 {
		return TimeSpan{}, false
	}
	lo, hi := rows[0].Timestamp, rows[0].Timestamp
	for i := 1; i < len(rows); i++ {
		ts := rows[i].Timestamp
		if ts.Before(lo) {
			lo = ts
		}
		if ts.After(hi) {
			hi = ts
		}
	}
	return TimeSpan{Start: lo, End: hi}, true
}

// GroupByTime partitions rows into fixed-width buckets over the resolved span
// and counts each bucket's rows by severity. Bucket i starts at
// span.Start + i*width; the number of buckets is floor(span / width).
// Rows outside every bucket and rows with an unknown severity are not counted.
func GroupByTime(rows []types.Row, explicit []time.Time) []types.ChartBucket {
	span, ok := ResolveSpan(rows, explicit)
	if !ok {
		return []types.ChartBucket{}
	}
	width := BucketWidth(span.Duration())
	widthMs := width.Milliseconds()
	startMs := span.Start.UnixMilli()
	n := int(span.Millis() / widthMs)

	buckets := make([]types.ChartBucket, n)
	for i := range buckets {
		buckets[i].BucketStartTime = time.UnixMilli(startMs + int64(i)*widthMs).In(span.Start.Location())
	}
	if n == 0 {
		return buckets
	}

	for i := range rows {
		offset := rows[i].Timestamp.UnixMilli() - startMs
		if offset < 0 {
			continue
		}
		idx := offset / widthMs
		if idx >= int64(n) {
			continue
		}
		b := &buckets[idx]
		switch rows[i].SeverityLevel {
		case types.SeveritySuccess:
			b.SuccessCount++
		case types.SeverityWarning:
			b.WarningCount++
		case types.SeverityError:
			b.ErrorCount++
		}
	}
	return buckets
}
