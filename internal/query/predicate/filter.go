package predicate

import (
	"sort"

	"github.com/reqgrid/reqgrid/pkg/types"
)

// constraint is one active field filter resolved against the schema.
type constraint struct {
	field string
	value *types.FilterValue
}

// FilterRows returns the rows that satisfy every active constraint in spec
// (logical AND across fields). The input slice is never modified; the result
// is always a new slice, even when nothing is filtered out.
//
// Day widening of single-instant date filters is the caller's job. FilterRows
// applies the constraint exactly as given.
func (e *Evaluator) FilterRows(rows []types.Row, spec types.FilterSpec) []types.Row {
	active := e.resolve(spec)

	out := make([]types.Row, 0, len(rows))
	if len(active) == 0 {
		return append(out, rows...)
	}

	for i := range rows {
		if e.matchAll(&rows[i], active) {
			out = append(out, rows[i])
		}
	}
	return out
}

// MatchesAll reports whether a single row satisfies every constraint in spec.
func (e *Evaluator) MatchesAll(row *types.Row, spec types.FilterSpec) bool {
	return e.matchAll(row, e.resolve(spec))
}

func (e *Evaluator) matchAll(row *types.Row, active []constraint) bool {
	for _, c := range active {
		if !e.Matches(row, c.field, c.value) {
			return false
		}
	}
	return true
}

// resolve drops nil, unknown, and inapplicable constraints so the per-row loop
// only sees constraints that can reject a row. Field order is fixed so that
// evaluation is deterministic; AND makes the order irrelevant to the result.
func (e *Evaluator) resolve(spec types.FilterSpec) []constraint {
	active := make([]constraint, 0, len(spec))
	for name, fv := range spec {
		if fv == nil {
			continue
		}
		f, ok := e.schema.Lookup(name)
		if !ok || !f.Filterable || !Applicable(f.Kind, fv) {
			continue
		}
		active = append(active, constraint{field: name, value: fv})
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].field < active[j].field
	})
	return active
}

// FilterRows filters rows against the default request-log schema.
func FilterRows(rows []types.Row, spec types.FilterSpec) []types.Row {
	return defaultEvaluator.FilterRows(rows, spec)
}
