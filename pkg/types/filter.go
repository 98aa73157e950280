package types

import (
	"fmt"
	"strings"
	"time"
)

// FilterKind tags the variant held by a FilterValue.
type FilterKind int

const (
	FilterNumberRange FilterKind = iota // [v] exact, [min, max] inclusive
	FilterNumberSet                     // value IN (v1, v2, ...)
	FilterDateRange                     // [day] same UTC day, [from, to] inclusive
	FilterBoolSet                       // value IN (true, false)
	FilterStringSet                     // value IN (s1, s2, ...); any-of for sequences
	FilterText                          // case-insensitive substring
)

// String returns the short name of the filter kind.
func (k FilterKind) String() string {
	switch k {
	case FilterNumberRange:
		return "number_range"
	case FilterNumberSet:
		return "number_set"
	case FilterDateRange:
		return "date_range"
	case FilterBoolSet:
		return "bool_set"
	case FilterStringSet:
		return "string_set"
	case FilterText:
		return "text"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// FilterValue is a single field constraint. The Kind decides which of the
// value slices is meaningful; the others are ignored.
type FilterValue struct {
	Kind    FilterKind
	Numbers []float64
	Times   []time.Time
	Bools   []bool
	Strings []string
}

// NumberRange returns a numeric range constraint. One value means exact match,
// two values mean an inclusive [min, max] range.
func NumberRange(bounds ...float64) *FilterValue {
	return &FilterValue{Kind: FilterNumberRange, Numbers: bounds}
}

// NumberSet returns a numeric "any of" constraint.
func NumberSet(values ...float64) *FilterValue {
	return &FilterValue{Kind: FilterNumberSet, Numbers: values}
}

// DateRange returns a time constraint. One instant means "same UTC calendar
// day", two instants mean an inclusive [from, to] span.
func DateRange(bounds ...time.Time) *FilterValue {
	return &FilterValue{Kind: FilterDateRange, Times: bounds}
}

// BoolSet returns a boolean "any of" constraint.
func BoolSet(values ...bool) *FilterValue {
	return &FilterValue{Kind: FilterBoolSet, Bools: values}
}

// StringSet returns an exact-match "any of" constraint.
func StringSet(values ...string) *FilterValue {
	return &FilterValue{Kind: FilterStringSet, Strings: values}
}

// Text returns a case-insensitive substring constraint.
func Text(needle string) *FilterValue {
	return &FilterValue{Kind: FilterText, Strings: []string{needle}}
}

// IsRange reports whether the value is a well-formed one- or two-bound range.
func (f *FilterValue) IsRange() bool {
	switch f.Kind {
	case FilterNumberRange:
		return len(f.Numbers) == 1 || len(f.Numbers) == 2
	case FilterDateRange:
		return len(f.Times) == 1 || len(f.Times) == 2
	default:
		return false
	}
}

// String renders the constraint for logs and error messages.
func (f *FilterValue) String() string {
	if f == nil {
		return "<nil>"
	}
	var parts []string
	switch f.Kind {
	case FilterNumberRange, FilterNumberSet:
		for _, n := range f.Numbers {
			parts = append(parts, fmt.Sprintf("%g", n))
		}
	case FilterDateRange:
		for _, t := range f.Times {
			parts = append(parts, t.UTC().Format(time.RFC3339Nano))
		}
	case FilterBoolSet:
		for _, b := range f.Bools {
			parts = append(parts, fmt.Sprintf("%t", b))
		}
	default:
		parts = append(parts, f.Strings...)
	}
	return fmt.Sprintf("%s[%s]", f.Kind, strings.Join(parts, ","))
}

// FilterSpec maps a field name to its constraint. A missing or nil entry
// leaves the field unconstrained.
type FilterSpec map[string]*FilterValue

// Active returns the names of fields carrying a non-nil constraint.
func (s FilterSpec) Active() []string {
	names := make([]string, 0, len(s))
	for name, v := range s {
		if v != nil {
			names = append(names, name)
		}
	}
	return names
}

// Without returns a copy of the spec with the named fields removed.
func (s FilterSpec) Without(fields ...string) FilterSpec {
	out := make(FilterSpec, len(s))
	for k, v := range s {
		out[k] = v
	}
	for _, f := range fields {
		delete(out, f)
	}
	return out
}

// Only returns a spec holding just the named fields that are present in s.
func (s FilterSpec) Only(fields ...string) FilterSpec {
	out := make(FilterSpec, len(fields))
	for _, f := range fields {
		if v, ok := s[f]; ok {
			out[f] = v
		}
	}
	return out
}

// SortSpec orders rows by a single field.
type SortSpec struct {
	Field      string `json:"field"`
	Descending bool   `json:"descending"`
}

// PageSpec selects an offset+limit window.
type PageSpec struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}
