package storage

import (
	"container/list"
	"os"
	"sync"
)

// DefaultDownloadCacheBytes bounds the download cache when no size is set.
const DefaultDownloadCacheBytes = 1 << 30

// DownloadCache tracks log objects already copied to local disk, keyed by
// object path and ETag, and evicts the least recently used copies once their
// total size exceeds a budget. Evicted copies are removed from disk.
type DownloadCache struct {
	mu     sync.Mutex
	budget int64
	used   int64
	byPath map[string]*list.Element
	lru    *list.List // of *localCopy, most recent first
}

type localCopy struct {
	objectPath string
	etag       string
	file       string
	size       int64
}

// NewDownloadCache creates a cache holding at most budget bytes.
func NewDownloadCache(budget int64) *DownloadCache {
	if budget <= 0 {
		budget = DefaultDownloadCacheBytes
	}
	return &DownloadCache{
		budget: budget,
		byPath: make(map[string]*list.Element),
		lru:    list.New(),
	}
}

// Get returns the local copy of objectPath taken at etag, or "". A copy of
// an older ETag, or one whose file vanished or changed size, is dropped.
func (c *DownloadCache) Get(objectPath, etag string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.byPath[objectPath]
	if !ok {
		return ""
	}
	lc := e.Value.(*localCopy)
	if fi, err := os.Stat(lc.file); lc.etag != etag || err != nil || fi.Size() != lc.size {
		c.dropLocked(e)
		return ""
	}
	c.lru.MoveToFront(e)
	return lc.file
}

// Put records file as the copy of objectPath at etag, replacing any earlier
// copy. The newest entry is kept even when it alone exceeds the budget.
func (c *DownloadCache) Put(objectPath, etag, file string) {
	fi, err := os.Stat(file)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.byPath[objectPath]; ok {
		if old := e.Value.(*localCopy); old.file == file {
			c.lru.Remove(e)
			delete(c.byPath, objectPath)
			c.used -= old.size
		} else {
			c.dropLocked(e)
		}
	}
	c.byPath[objectPath] = c.lru.PushFront(&localCopy{objectPath: objectPath, etag: etag, file: file, size: fi.Size()})
	c.used += fi.Size()

	for c.used > c.budget && c.lru.Len() > 1 {
		c.dropLocked(c.lru.Back())
	}
}

func (c *DownloadCache) dropLocked(e *list.Element) {
	lc := c.lru.Remove(e).(*localCopy)
	delete(c.byPath, lc.objectPath)
	c.used -= lc.size
	os.Remove(lc.file)
}

// Size returns the bytes held by cached copies.
func (c *DownloadCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

func (c *DownloadCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Clear drops every entry and deletes the local copies. The index lives only
// in memory, so copies left behind at exit would never be reused.
func (c *DownloadCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.lru.Len() > 0 {
		c.dropLocked(c.lru.Back())
	}
}
