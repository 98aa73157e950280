// Package types provides core data types for reqgrid.
package types

import "time"

// Severity is the categorical outcome of a request, derived from its status code.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// SeverityFromStatus maps an HTTP status code to a severity:
// 2xx is success, 4xx is warning, anything else is error.
func SeverityFromStatus(code int) Severity {
	switch {
	case code >= 200 && code < 300:
		return SeveritySuccess
	case code >= 400 && code < 500:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// Timing breaks a request's latency down into its phases, in milliseconds.
// The phases sum to roughly LatencyMs; rounding means the sum is not exact.
type Timing struct {
	DNS        float64 `json:"dns"`
	Connection float64 `json:"connection"`
	TLS        float64 `json:"tls"`
	TTFB       float64 `json:"ttfb"`
	Transfer   float64 `json:"transfer"`
}

// Total returns the sum of all timing phases.
func (t Timing) Total() float64 {
	return t.DNS + t.Connection + t.TLS + t.TTFB + t.Transfer
}

// Row represents one logged HTTP request.
type Row struct {
	// ID is an opaque unique identifier for the request
	ID string `json:"id"`

	// Timestamp is when the request was received (millisecond precision)
	Timestamp time.Time `json:"timestamp"`

	// SeverityLevel is derived from StatusCode by the source adapter
	SeverityLevel Severity `json:"severityLevel"`

	StatusCode int    `json:"statusCode"`
	Method     string `json:"method"`
	Host       string `json:"host"`
	Pathname   string `json:"pathname"`

	// LatencyMs is the total request duration in milliseconds
	LatencyMs float64 `json:"latencyMs"`

	// RegionTags lists the edge regions that handled the request, in order
	RegionTags []string `json:"regionTags"`

	// Headers and Message are display-only
	Headers map[string]string `json:"headers,omitempty"`
	Message string            `json:"message,omitempty"`

	// Timing is nil when the source does not record phase durations
	Timing *Timing `json:"timing,omitempty"`

	// Percentile is the row's latency percentile rank within the collection
	// it was annotated against. Nil until annotated.
	Percentile *float64 `json:"percentile,omitempty"`
}

// Clone returns a copy of the row that shares no mutable state with r.
func (r Row) Clone() Row {
	cp := r
	if r.RegionTags != nil {
		cp.RegionTags = append([]string(nil), r.RegionTags...)
	}
	if r.Headers != nil {
		cp.Headers = make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			cp.Headers[k] = v
		}
	}
	if r.Timing != nil {
		t := *r.Timing
		cp.Timing = &t
	}
	if r.Percentile != nil {
		p := *r.Percentile
		cp.Percentile = &p
	}
	return cp
}
