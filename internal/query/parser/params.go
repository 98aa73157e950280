// Package parser turns URL query parameters into filter, sort, and page specs.
//
// Filter parameters use the field name as key and "," as the list delimiter:
//
//	statusCode=200,404&latencyMs=100,500&timestamp=1710410400000&sort=latencyMs.desc&limit=50
//
// Filter values that cannot be parsed are dropped rather than rejected so that a
// partially typed filter never fails the request. Malformed paging parameters
// are rejected.
package parser

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/reqgrid/reqgrid/internal/errors"
	"github.com/reqgrid/reqgrid/internal/query/fields"
	"github.com/reqgrid/reqgrid/pkg/types"
)

// Reserved parameter names that never address a field.
const (
	ParamSort   = "sort"
	ParamOffset = "offset"
	ParamLimit  = "limit"
	ParamID     = "id"
)

// Delimiter separates list values within one parameter.
const Delimiter = ","

// Request is a parsed query.
type Request struct {
	Filters types.FilterSpec
	Sort    *types.SortSpec
	Page    types.PageSpec
}

// Parser parses query parameters against a schema.
type Parser struct {
	schema       *fields.Schema
	defaultLimit int
	maxLimit     int
}

// NewParser creates a parser. A nil schema selects the default request-log
// schema. maxLimit <= 0 leaves the page size uncapped.
func NewParser(schema *fields.Schema, defaultLimit, maxLimit int) *Parser {
	if schema == nil {
		schema = fields.Default()
	}
	return &Parser{schema: schema, defaultLimit: defaultLimit, maxLimit: maxLimit}
}

// Parse parses filters, sort, and paging from values.
func (p *Parser) Parse(values url.Values) (*Request, error) {
	page, err := p.ParsePage(values)
	if err != nil {
		return nil, err
	}
	return &Request{
		Filters: p.ParseFilters(values),
		Sort:    ParseSort(values.Get(ParamSort)),
		Page:    page,
	}, nil
}

// ParsePage reads offset and limit. Missing values take the defaults and the
// limit is capped at the configured maximum. Non-integer values are rejected.
func (p *Parser) ParsePage(values url.Values) (types.PageSpec, error) {
	page := types.PageSpec{Offset: 0, Limit: p.defaultLimit}

	if raw := strings.TrimSpace(values.Get(ParamOffset)); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return page, errors.InvalidArgument("offset must be an integer, got %q", raw)
		}
		page.Offset = n
	}
	if raw := strings.TrimSpace(values.Get(ParamLimit)); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return page, errors.InvalidArgument("limit must be an integer, got %q", raw)
		}
		page.Limit = n
	}
	if p.maxLimit > 0 && page.Limit > p.maxLimit {
		page.Limit = p.maxLimit
	}
	return page, nil
}

// ParseFilters builds one constraint per filterable field present in values.
// Unknown parameters and unparseable values are ignored.
func (p *Parser) ParseFilters(values url.Values) types.FilterSpec {
	spec := make(types.FilterSpec)
	for name, raw := range values {
		switch name {
		case ParamSort, ParamOffset, ParamLimit, ParamID:
			continue
		}
		f, ok := p.schema.Lookup(name)
		if !ok || !f.Filterable {
			continue
		}
		if fv := p.parseValue(f, raw); fv != nil {
			spec[name] = fv
		}
	}
	return spec
}

func (p *Parser) parseValue(f fields.Field, raw []string) *types.FilterValue {
	// Text matches the whole parameter so a needle may contain the delimiter.
	if f.Filter == types.FilterText {
		needle := strings.TrimSpace(strings.Join(raw, Delimiter))
		if needle == "" {
			return nil
		}
		return types.Text(needle)
	}

	parts := split(raw)
	if len(parts) == 0 {
		return nil
	}

	switch f.Filter {
	case types.FilterNumberRange, types.FilterNumberSet:
		nums := make([]float64, 0, len(parts))
		for _, s := range parts {
			n, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil
			}
			nums = append(nums, n)
		}
		if f.Filter == types.FilterNumberSet {
			return types.NumberSet(nums...)
		}
		if len(nums) > 2 {
			return nil
		}
		return types.NumberRange(nums...)

	case types.FilterDateRange:
		if len(parts) > 2 {
			return nil
		}
		times := make([]time.Time, 0, len(parts))
		for _, s := range parts {
			t, err := ParseTime(s)
			if err != nil {
				return nil
			}
			times = append(times, t)
		}
		return types.DateRange(times...)

	case types.FilterBoolSet:
		bools := make([]bool, 0, len(parts))
		for _, s := range parts {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return nil
			}
			bools = append(bools, b)
		}
		return types.BoolSet(bools...)

	case types.FilterStringSet:
		return types.StringSet(parts...)
	}
	return nil
}

// split flattens repeated parameters and delimiter-separated lists, dropping
// empty elements.
func split(raw []string) []string {
	var out []string
	for _, r := range raw {
		for _, s := range strings.Split(r, Delimiter) {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// ParseSort parses "<field>.<asc|desc>". A value without a direction suffix
// sorts ascending by the whole value, so dotted field names such as
// "timing.dns" work with or without a direction. An empty value means no sort.
func ParseSort(raw string) *types.SortSpec {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if i := strings.LastIndex(raw, "."); i > 0 {
		switch strings.ToLower(raw[i+1:]) {
		case "asc":
			return &types.SortSpec{Field: raw[:i]}
		case "desc":
			return &types.SortSpec{Field: raw[:i], Descending: true}
		}
	}
	return &types.SortSpec{Field: raw}
}

// FormatSort renders a sort spec in the form ParseSort accepts.
func FormatSort(s *types.SortSpec) string {
	if s == nil {
		return ""
	}
	if s.Descending {
		return s.Field + ".desc"
	}
	return s.Field + ".asc"
}

// ParseTime accepts unix milliseconds or RFC3339. Results are in UTC.
func ParseTime(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, errors.InvalidArgument("invalid time %q: want unix milliseconds or RFC3339", s)
	}
	return t.UTC(), nil
}
