// Package fields describes the filterable, sortable, and facetable fields of a Row.
package fields

import (
	"sort"
	"time"

	"github.com/reqgrid/reqgrid/pkg/types"
)

// Kind is the value type a field yields.
type Kind int

const (
	KindNumber  Kind = iota // float64
	KindTime                // time.Time
	KindString              // string
	KindStrings             // []string, matched any-of
	KindBool                // bool
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindTime:
		return "time"
	case KindString:
		return "string"
	case KindStrings:
		return "strings"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Accessor extracts a field value from a row. It returns ok=false when the
// row carries no value for the field (e.g. a row without timing data).
type Accessor func(r *types.Row) (value interface{}, ok bool)

// Field describes one row field.
type Field struct {
	Name string
	Kind Kind

	// Filter is the constraint kind the query-string boundary builds for this field.
	Filter types.FilterKind

	Filterable bool
	Facetable  bool

	Value Accessor
}

// Schema is a set of fields keyed by name. It is immutable after construction
// and safe for concurrent use.
type Schema struct {
	fields map[string]Field
	order  []string
}

// NewSchema builds a schema from the given fields. Later fields replace
// earlier ones with the same name.
func NewSchema(fs ...Field) *Schema {
	s := &Schema{fields: make(map[string]Field, len(fs))}
	for _, f := range fs {
		if _, exists := s.fields[f.Name]; !exists {
			s.order = append(s.order, f.Name)
		}
		s.fields[f.Name] = f
	}
	return s
}

// Lookup returns the field with the given name.
func (s *Schema) Lookup(name string) (Field, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// Names returns field names in declaration order.
func (s *Schema) Names() []string {
	return append([]string(nil), s.order...)
}

// Facetable returns the names of facetable fields in declaration order.
func (s *Schema) Facetable() []string {
	var out []string
	for _, name := range s.order {
		if s.fields[name].Facetable {
			out = append(out, name)
		}
	}
	return out
}

// Filterable returns the names of filterable fields, sorted.
func (s *Schema) Filterable() []string {
	var out []string
	for name, f := range s.fields {
		if f.Filterable {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Field names of the default request-log schema.
const (
	ID               = "id"
	Timestamp        = "timestamp"
	SeverityLevel    = "severityLevel"
	StatusCode       = "statusCode"
	Method           = "method"
	Host             = "host"
	Pathname         = "pathname"
	LatencyMs        = "latencyMs"
	RegionTags       = "regionTags"
	TimingDNS        = "timing.dns"
	TimingConnection = "timing.connection"
	TimingTLS        = "timing.tls"
	TimingTTFB       = "timing.ttfb"
	TimingTransfer   = "timing.transfer"
	Percentile       = "percentile"
)

var defaultSchema = NewSchema(
	Field{Name: ID, Kind: KindString, Filter: types.FilterStringSet,
		Value: func(r *types.Row) (interface{}, bool) { return r.ID, r.ID != "" }},
	Field{Name: Timestamp, Kind: KindTime, Filter: types.FilterDateRange, Filterable: true,
		Value: func(r *types.Row) (interface{}, bool) { return r.Timestamp, !r.Timestamp.IsZero() }},
	Field{Name: SeverityLevel, Kind: KindString, Filter: types.FilterStringSet, Filterable: true, Facetable: true,
		Value: func(r *types.Row) (interface{}, bool) { return string(r.SeverityLevel), r.SeverityLevel != "" }},
	Field{Name: StatusCode, Kind: KindNumber, Filter: types.FilterNumberSet, Filterable: true, Facetable: true,
		Value: func(r *types.Row) (interface{}, bool) { return float64(r.StatusCode), r.StatusCode != 0 }},
	Field{Name: Method, Kind: KindString, Filter: types.FilterStringSet, Filterable: true, Facetable: true,
		Value: func(r *types.Row) (interface{}, bool) { return r.Method, r.Method != "" }},
	Field{Name: Host, Kind: KindString, Filter: types.FilterText, Filterable: true, Facetable: true,
		Value: func(r *types.Row) (interface{}, bool) { return r.Host, r.Host != "" }},
	Field{Name: Pathname, Kind: KindString, Filter: types.FilterText, Filterable: true, Facetable: true,
		Value: func(r *types.Row) (interface{}, bool) { return r.Pathname, r.Pathname != "" }},
	Field{Name: LatencyMs, Kind: KindNumber, Filter: types.FilterNumberRange, Filterable: true, Facetable: true,
		Value: func(r *types.Row) (interface{}, bool) { return r.LatencyMs, true }},
	Field{Name: RegionTags, Kind: KindStrings, Filter: types.FilterStringSet, Filterable: true, Facetable: true,
		Value: func(r *types.Row) (interface{}, bool) { return r.RegionTags, len(r.RegionTags) > 0 }},
	timingField(TimingDNS, func(t *types.Timing) float64 { return t.DNS }),
	timingField(TimingConnection, func(t *types.Timing) float64 { return t.Connection }),
	timingField(TimingTLS, func(t *types.Timing) float64 { return t.TLS }),
	timingField(TimingTTFB, func(t *types.Timing) float64 { return t.TTFB }),
	timingField(TimingTransfer, func(t *types.Timing) float64 { return t.Transfer }),
	Field{Name: Percentile, Kind: KindNumber, Filter: types.FilterNumberRange, Filterable: true,
		Value: func(r *types.Row) (interface{}, bool) {
			if r.Percentile == nil {
				return nil, false
			}
			return *r.Percentile, true
		}},
)

func timingField(name string, phase func(*types.Timing) float64) Field {
	return Field{
		Name:       name,
		Kind:       KindNumber,
		Filter:     types.FilterNumberRange,
		Filterable: true,
		Value: func(r *types.Row) (interface{}, bool) {
			if r.Timing == nil {
				return nil, false
			}
			return phase(r.Timing), true
		},
	}
}

// Default returns the request-log schema.
func Default() *Schema {
	return defaultSchema
}

// Time extracts a time value produced by a KindTime accessor.
func Time(v interface{}) (time.Time, bool) {
	t, ok := v.(time.Time)
	return t, ok
}
