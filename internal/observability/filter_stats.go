// Package observability tracks how the grid is queried and exports metrics and traces.
package observability

import (
	"context"
	"sort"
	"sync"
	"time"
)

// FilterStats tracks which fields are filtered and sorted on.
type FilterStats struct {
	mu        sync.RWMutex
	filterUse map[string]*FieldStats
	sortUse   map[string]*FieldStats
	window    time.Duration
}

// FieldStats holds usage statistics for one field.
type FieldStats struct {
	Field     string         `json:"field"`
	Frequency int64          `json:"frequency"`
	LastSeen  time.Time      `json:"lastSeen"`
	Kinds     map[string]int `json:"kinds,omitempty"` // filter kind → count (e.g., "number_set" → 5)
}

// NewFilterStats creates a new usage tracker.
// window: time duration for pruning old entries (e.g., 1 hour)
func NewFilterStats(window time.Duration) *FilterStats {
	return &FilterStats{
		filterUse: make(map[string]*FieldStats),
		sortUse:   make(map[string]*FieldStats),
		window:    window,
	}
}

// RecordFilter records a constraint on field of the given filter kind.
// This method is O(1) and thread-safe.
func (q *FilterStats) RecordFilter(field, kind string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := record(q.filterUse, field)
	stats.Kinds[kind]++
}

// RecordSort records a sort on field.
// This method is O(1) and thread-safe.
func (q *FilterStats) RecordSort(field string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	record(q.sortUse, field)
}

func record(m map[string]*FieldStats, field string) *FieldStats {
	stats, exists := m[field]
	if !exists {
		stats = &FieldStats{
			Field: field,
			Kinds: make(map[string]int),
		}
		m[field] = stats
	}
	stats.Frequency++
	stats.LastSeen = time.Now()
	return stats
}

// GetTopFilters returns the top N filtered fields by frequency.
// Returns a copy of the stats sorted by frequency (descending).
func (q *FilterStats) GetTopFilters(n int) []FieldStats {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return topN(q.filterUse, n)
}

// GetTopSorts returns the top N sort fields by frequency.
func (q *FilterStats) GetTopSorts(n int) []FieldStats {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return topN(q.sortUse, n)
}

func topN(m map[string]*FieldStats, n int) []FieldStats {
	if n <= 0 || len(m) == 0 {
		return []FieldStats{}
	}

	stats := make([]FieldStats, 0, len(m))
	for _, s := range m {
		// Deep copy to prevent external modification
		cp := FieldStats{
			Field:     s.Field,
			Frequency: s.Frequency,
			LastSeen:  s.LastSeen,
			Kinds:     make(map[string]int, len(s.Kinds)),
		}
		for k, count := range s.Kinds {
			cp.Kinds[k] = count
		}
		stats = append(stats, cp)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Frequency != stats[j].Frequency {
			return stats[i].Frequency > stats[j].Frequency
		}
		return stats[i].Field < stats[j].Field
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Prune removes entries where time.Since(LastSeen) > window.
func (q *FilterStats) Prune() {
	q.mu.Lock()
	defer q.mu.Unlock()

	threshold := time.Now().Add(-q.window)
	for _, m := range []map[string]*FieldStats{q.filterUse, q.sortUse} {
		for field, stats := range m {
			if stats.LastSeen.Before(threshold) {
				delete(m, field)
			}
		}
	}
}

// RunPruner calls Prune every interval until ctx is done.
func (q *FilterStats) RunPruner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Prune()
		}
	}
}
