package aggregator

import (
	"github.com/reqgrid/reqgrid/internal/errors"
	"github.com/reqgrid/reqgrid/pkg/types"
)

// Paginate cuts rows[offset:offset+limit] from an already filtered and sorted
// collection. totalRowCount is the size of the unfiltered source.
//
// A negative offset is clamped to 0 and an offset past the end yields an
// empty page. A limit of zero or less is rejected.
func Paginate(rows []types.Row, offset, limit, totalRowCount int) (*types.Page, error) {
	if limit <= 0 {
		return nil, errors.InvalidArgument("limit must be > 0, got %d", limit)
	}
	if offset < 0 {
		offset = 0
	}

	page := &types.Page{
		Rows:           []types.Row{},
		TotalRowCount:  totalRowCount,
		FilterRowCount: len(rows),
	}
	if offset >= len(rows) {
		return page, nil
	}

	end := offset + limit
	if end > len(rows) || end < offset {
		end = len(rows)
	}
	page.Rows = append(page.Rows, rows[offset:end]...)
	return page, nil
}
