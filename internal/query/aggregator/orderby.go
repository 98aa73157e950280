package aggregator

import (
	"sort"

	"github.com/reqgrid/reqgrid/internal/query/fields"
	"github.com/reqgrid/reqgrid/pkg/types"
)

// OrderBySorter sorts rows by a single schema field.
type OrderBySorter struct {
	schema *fields.Schema
}

// NewOrderBySorter creates a sorter for the given schema.
// A nil schema selects the default request-log schema.
func NewOrderBySorter(schema *fields.Schema) *OrderBySorter {
	if schema == nil {
		schema = fields.Default()
	}
	return &OrderBySorter{schema: schema}
}

// Sort returns a sorted copy of rows. The input is never reordered.
//
// A nil spec, or a spec naming a field the schema does not know, keeps the
// input order. Rows with equal values keep their original relative order, and
// rows with no value for the field sort first when ascending.
func (s *OrderBySorter) Sort(rows []types.Row, spec *types.SortSpec) []types.Row {
	if spec == nil || len(rows) <= 1 {
		return append(make([]types.Row, 0, len(rows)), rows...)
	}
	f, ok := s.schema.Lookup(spec.Field)
	if !ok {
		return append(make([]types.Row, 0, len(rows)), rows...)
	}

	// Extract sort keys once instead of per comparison.
	keys := make([]interface{}, len(rows))
	for i := range rows {
		if v, present := f.Value(&rows[i]); present {
			keys[i] = v
		}
	}
	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}

	// Stable sort preserves insertion order for equal elements
	sort.SliceStable(idx, func(i, j int) bool {
		cmp := compareValues(keys[idx[i]], keys[idx[j]])
		if spec.Descending {
			return cmp > 0
		}
		return cmp < 0
	})

	sorted := make([]types.Row, len(rows))
	for i, k := range idx {
		sorted[i] = rows[k]
	}
	return sorted
}

// SortAndPaginate sorts rows then cuts the requested page.
func (s *OrderBySorter) SortAndPaginate(rows []types.Row, spec *types.SortSpec, page types.PageSpec, totalRowCount int) (*types.Page, error) {
	return Paginate(s.Sort(rows, spec), page.Offset, page.Limit, totalRowCount)
}

var defaultSorter = NewOrderBySorter(nil)

// SortRows sorts rows against the default request-log schema.
func SortRows(rows []types.Row, spec *types.SortSpec) []types.Row {
	return defaultSorter.Sort(rows, spec)
}
