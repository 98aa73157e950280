// Package predicate decides whether rows satisfy field-level filter constraints.
//
// Evaluation fails open: an unknown field, a constraint whose kind does not fit
// the field, or a malformed constraint (e.g. a range with three bounds) leaves
// the field unconstrained instead of rejecting the row or returning an error.
package predicate

import (
	"strings"
	"time"

	"github.com/reqgrid/reqgrid/internal/query/fields"
	"github.com/reqgrid/reqgrid/pkg/types"
)

// Evaluator evaluates constraints against rows of a schema.
type Evaluator struct {
	schema *fields.Schema
}

// NewEvaluator creates an evaluator for the given schema.
// A nil schema selects the default request-log schema.
func NewEvaluator(schema *fields.Schema) *Evaluator {
	if schema == nil {
		schema = fields.Default()
	}
	return &Evaluator{schema: schema}
}

// Matches reports whether row satisfies the constraint on the named field.
// A nil constraint always matches.
func (e *Evaluator) Matches(row *types.Row, field string, fv *types.FilterValue) bool {
	if fv == nil {
		return true
	}
	f, ok := e.schema.Lookup(field)
	if !ok || !f.Filterable || !Applicable(f.Kind, fv) {
		return true
	}

	v, present := f.Value(row)

	switch fv.Kind {
	case types.FilterNumberRange:
		n, ok := v.(float64)
		if !present || !ok {
			return false
		}
		return inNumberRange(n, fv.Numbers)

	case types.FilterNumberSet:
		n, ok := v.(float64)
		if !present || !ok {
			return false
		}
		for _, want := range fv.Numbers {
			if n == want {
				return true
			}
		}
		return false

	case types.FilterDateRange:
		t, ok := fields.Time(v)
		if !present || !ok {
			return false
		}
		return inDateRange(t, fv.Times)

	case types.FilterBoolSet:
		b, ok := v.(bool)
		if !ok {
			return false
		}
		for _, want := range fv.Bools {
			if b == want {
				return true
			}
		}
		return false

	case types.FilterStringSet:
		return matchStringSet(v, present, fv.Strings)

	case types.FilterText:
		return matchText(v, present, fv.Strings[0])
	}

	return true
}

// Applicable reports whether a constraint is well formed and fits a field of
// the given kind. Constraints that are not applicable are ignored.
func Applicable(kind fields.Kind, fv *types.FilterValue) bool {
	switch fv.Kind {
	case types.FilterNumberRange:
		return kind == fields.KindNumber && fv.IsRange()
	case types.FilterNumberSet:
		return kind == fields.KindNumber && len(fv.Numbers) > 0
	case types.FilterDateRange:
		return kind == fields.KindTime && fv.IsRange()
	case types.FilterBoolSet:
		return kind == fields.KindBool && len(fv.Bools) > 0
	case types.FilterStringSet:
		return (kind == fields.KindString || kind == fields.KindStrings) && len(fv.Strings) > 0
	case types.FilterText:
		return (kind == fields.KindString || kind == fields.KindStrings) && len(fv.Strings) == 1 && fv.Strings[0] != ""
	default:
		return false
	}
}

func inNumberRange(n float64, bounds []float64) bool {
	if len(bounds) == 1 {
		return n == bounds[0]
	}
	return bounds[0] <= n && n <= bounds[1]
}

// inDateRange compares instants. A single bound matches any instant on the
// same UTC calendar day.
func inDateRange(t time.Time, bounds []time.Time) bool {
	if len(bounds) == 1 {
		ty, tm, td := t.UTC().Date()
		by, bm, bd := bounds[0].UTC().Date()
		return ty == by && tm == bm && td == bd
	}
	return !t.Before(bounds[0]) && !t.After(bounds[1])
}

func matchStringSet(v interface{}, present bool, want []string) bool {
	if !present {
		return false
	}
	switch val := v.(type) {
	case string:
		for _, w := range want {
			if val == w {
				return true
			}
		}
	case []string:
		// any-of: one shared element is enough
		for _, have := range val {
			for _, w := range want {
				if have == w {
					return true
				}
			}
		}
	}
	return false
}

func matchText(v interface{}, present bool, needle string) bool {
	if !present {
		return false
	}
	needle = strings.ToLower(needle)
	switch val := v.(type) {
	case string:
		return strings.Contains(strings.ToLower(val), needle)
	case []string:
		for _, have := range val {
			if strings.Contains(strings.ToLower(have), needle) {
				return true
			}
		}
	}
	return false
}

var defaultEvaluator = NewEvaluator(nil)

// Matches evaluates a constraint against the default request-log schema.
func Matches(row *types.Row, field string, fv *types.FilterValue) bool {
	return defaultEvaluator.Matches(row, field, fv)
}
