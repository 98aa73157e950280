package aggregator

import (
	"sort"
	"strings"

	"github.com/reqgrid/reqgrid/internal/query/fields"
	"github.com/reqgrid/reqgrid/pkg/types"
)

// JoinSeparator joins sequence elements into one whole-value facet key.
const JoinSeparator = ","

// FacetOption configures a facet computation.
type FacetOption func(*facetConfig)

type facetConfig struct {
	joined map[string]bool
}

// WithJoinedSequences counts the named sequence fields by their whole joined
// value (e.g. "ams,fra") instead of by individual element.
func WithJoinedSequences(fieldNames ...string) FacetOption {
	return func(c *facetConfig) {
		for _, name := range fieldNames {
			c.joined[name] = true
		}
	}
}

// FacetAggregator counts distinct field values across rows.
type FacetAggregator struct {
	schema *fields.Schema
}

// NewFacetAggregator creates an aggregator for the given schema.
// A nil schema selects the default request-log schema.
func NewFacetAggregator(schema *fields.Schema) *FacetAggregator {
	if schema == nil {
		schema = fields.Default()
	}
	return &FacetAggregator{schema: schema}
}

// counter accumulates one field's facet.
type counter struct {
	kind   fields.Kind
	counts map[interface{}]int
	order  []interface{}
	min    *float64
	max    *float64
}

func (c *counter) add(v interface{}) {
	if _, seen := c.counts[v]; !seen {
		c.order = append(c.order, v)
	}
	c.counts[v]++

	if n, ok := v.(float64); ok {
		if c.min == nil || n < *c.min {
			c.min = &n
		}
		if c.max == nil || n > *c.max {
			nn := n
			c.max = &nn
		}
	}
}

func (c *counter) result() *types.FacetResult {
	res := &types.FacetResult{Entries: make([]types.FacetEntry, 0, len(c.order))}
	for _, v := range c.order {
		n := c.counts[v]
		res.Entries = append(res.Entries, types.FacetEntry{Value: v, Count: n})
		res.TotalCount += n
	}
	sort.SliceStable(res.Entries, func(i, j int) bool {
		a, b := res.Entries[i], res.Entries[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return compareValues(a.Value, b.Value) < 0
	})
	if c.kind == fields.KindNumber {
		res.Min, res.Max = c.min, c.max
	}
	return res
}

// Compute returns one FacetResult per requested field. An empty fieldNames
// selects every facetable field of the schema; unknown names are skipped.
// Rows with no value for a field do not contribute to its facet.
func (a *FacetAggregator) Compute(rows []types.Row, fieldNames []string, opts ...FacetOption) map[string]*types.FacetResult {
	cfg := &facetConfig{joined: make(map[string]bool)}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(fieldNames) == 0 {
		fieldNames = a.schema.Facetable()
	}

	type target struct {
		field fields.Field
		c     *counter
	}
	targets := make([]target, 0, len(fieldNames))
	for _, name := range fieldNames {
		f, ok := a.schema.Lookup(name)
		if !ok {
			continue
		}
		targets = append(targets, target{field: f, c: &counter{kind: f.Kind, counts: make(map[interface{}]int)}})
	}

	for i := range rows {
		for _, t := range targets {
			v, present := t.field.Value(&rows[i])
			if !present || v == nil {
				continue
			}
			seq, isSeq := v.([]string)
			switch {
			case isSeq && cfg.joined[t.field.Name]:
				if len(seq) > 0 {
					t.c.add(strings.Join(seq, JoinSeparator))
				}
			case isSeq:
				for _, el := range seq {
					t.c.add(el)
				}
			default:
				t.c.add(v)
			}
		}
	}

	out := make(map[string]*types.FacetResult, len(targets))
	for _, t := range targets {
		out[t.field.Name] = t.c.result()
	}
	return out
}

var defaultFacets = NewFacetAggregator(nil)

// ComputeFacets computes facets against the default request-log schema.
func ComputeFacets(rows []types.Row, fieldNames []string, opts ...FacetOption) map[string]*types.FacetResult {
	return defaultFacets.Compute(rows, fieldNames, opts...)
}
