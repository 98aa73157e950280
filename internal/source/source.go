// Package source loads request-log rows from access logs, SQLite request
// tables, and object storage.
package source

import (
	"context"
	"io"
	"sort"

	"github.com/reqgrid/reqgrid/pkg/types"
)

// Source produces the full row set for one load.
type Source interface {
	// Name identifies the source in logs and metrics.
	Name() string

	// Load reads every row. Each call returns a fresh slice.
	Load(ctx context.Context) ([]types.Row, error)
}

// LoadStats counts what a load read and skipped.
type LoadStats struct {
	Lines   int
	Rows    int
	Skipped int
}

// Add accumulates o into s.
func (s *LoadStats) Add(o LoadStats) {
	s.Lines += o.Lines
	s.Rows += o.Rows
	s.Skipped += o.Skipped
}

// sortByTimestamp orders rows oldest first, keeping input order for equal
// timestamps.
func sortByTimestamp(rows []types.Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Timestamp.Before(rows[j].Timestamp)
	})
}

// RawOpener is implemented by sources backed by a log file that can be served
// byte for byte.
type RawOpener interface {
	OpenRaw(ctx context.Context) (io.ReadCloser, string, error)
}
