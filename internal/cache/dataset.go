// Package cache holds the loaded request-log dataset and reloads it when the
// underlying log changes.
package cache

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/reqgrid/reqgrid/internal/bloom"
	"github.com/reqgrid/reqgrid/internal/errors"
	"github.com/reqgrid/reqgrid/internal/source"
	"github.com/reqgrid/reqgrid/pkg/types"
)

// Snapshot is one immutable load of the dataset. Callers must not modify Rows.
type Snapshot struct {
	Rows     []types.Row
	LoadedAt time.Time
	Version  uint64
	Source   string

	// IDs holds every row ID of Rows.
	IDs *bloom.Filter
}

// LoadHook observes every load attempt. snap is nil when err is non-nil.
type LoadHook func(snap *Snapshot, elapsed time.Duration, err error)

// DatasetCache loads rows from a source once and serves the same snapshot to
// every query until Reload replaces it. A failed reload keeps the previous
// snapshot.
type DatasetCache struct {
	src    source.Source
	onLoad LoadHook

	mu   sync.RWMutex
	snap *Snapshot

	group singleflight.Group
}

// NewDatasetCache creates an empty cache over src. onLoad may be nil.
func NewDatasetCache(src source.Source, onLoad LoadHook) *DatasetCache {
	return &DatasetCache{src: src, onLoad: onLoad}
}

// Initialize performs the first load. It is a no-op once a snapshot exists.
func (c *DatasetCache) Initialize(ctx context.Context) error {
	if c.Ready() {
		return nil
	}
	_, err := c.Reload(ctx)
	return err
}

// Ready reports whether a snapshot has been loaded.
func (c *DatasetCache) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap != nil
}

// Get returns the current snapshot, or a NOT_INITIALIZED error before the
// first successful load.
func (c *DatasetCache) Get() (*Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil {
		return nil, errors.NewSourceError(errors.CodeNotInitialized, "dataset not loaded", nil)
	}
	return c.snap, nil
}

// Rows returns the rows of the current snapshot.
func (c *DatasetCache) Rows(ctx context.Context) ([]types.Row, error) {
	snap, err := c.Get()
	if err != nil {
		return nil, err
	}
	return snap.Rows, nil
}

// MayContainID reports whether id may belong to a row of the current
// snapshot. False is exact. Before the first load it returns true so that
// callers fall through to Rows and its NOT_INITIALIZED error.
func (c *DatasetCache) MayContainID(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil || c.snap.IDs == nil {
		return true
	}
	return c.snap.IDs.ContainsString(id)
}

// Reload loads the source again and swaps in the new snapshot. Concurrent
// calls share one load.
func (c *DatasetCache) Reload(ctx context.Context) (*Snapshot, error) {
	v, err, _ := c.group.Do("load", func() (interface{}, error) {
		return c.load(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

func (c *DatasetCache) load(ctx context.Context) (*Snapshot, error) {
	start := time.Now()
	rows, err := c.src.Load(ctx)
	elapsed := time.Since(start)
	if err != nil {
		if c.onLoad != nil {
			c.onLoad(nil, elapsed, err)
		}
		return nil, errors.NewSourceError(errors.CodeLoadFailed, "failed to load "+c.src.Name(), err)
	}
	if rows == nil {
		rows = []types.Row{}
	}
	ids := make([]string, len(rows))
	for i := range rows {
		ids[i] = rows[i].ID
	}
	filter := bloom.NewIDSet(ids)

	c.mu.Lock()
	var version uint64 = 1
	if c.snap != nil {
		version = c.snap.Version + 1
	}
	snap := &Snapshot{Rows: rows, LoadedAt: time.Now(), Version: version, Source: c.src.Name(), IDs: filter}
	c.snap = snap
	c.mu.Unlock()

	log.Printf("Loaded %d rows from %s in %v (version %d)", len(rows), snap.Source, elapsed.Round(time.Millisecond), version)
	if c.onLoad != nil {
		c.onLoad(snap, elapsed, nil)
	}
	return snap, nil
}
