package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"

	"github.com/spaolacci/murmur3"
	"golang.org/x/sync/semaphore"
)

// BatchDownloader copies log objects to a local cache directory in parallel.
// Objects whose current ETag is already cached are not fetched again.
type BatchDownloader struct {
	storage  ObjectStorage
	limit    int64
	cacheDir string
	cache    *DownloadCache
}

// BatchRequest lists the objects to fetch. Priority, when set, has one entry
// per object; lower values are started first (0 for the live log, 1 for
// rotated files).
type BatchRequest struct {
	ObjectPaths []string
	Priority    []int
}

// BatchResult maps each requested object to its local copy or its error.
type BatchResult struct {
	LocalPaths map[string]string
	Errors     map[string]error
	CacheHits  int
	Downloads  int

	mu sync.Mutex
}

func (r *BatchResult) record(objectPath, local string, hit bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case err != nil:
		r.Errors[objectPath] = err
	case hit:
		r.LocalPaths[objectPath] = local
		r.CacheHits++
	default:
		r.LocalPaths[objectPath] = local
		r.Downloads++
	}
}

// NewBatchDownloader runs at most concurrency fetches at once. An empty
// cacheDir uses a directory under os.TempDir and a nil cache a new one with
// the default budget.
func NewBatchDownloader(storage ObjectStorage, concurrency int, cacheDir string, cache *DownloadCache) *BatchDownloader {
	if concurrency <= 0 {
		concurrency = 1
	}
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "reqgrid-cache")
	}
	if cache == nil {
		cache = NewDownloadCache(0)
	}
	return &BatchDownloader{storage: storage, limit: int64(concurrency), cacheDir: cacheDir, cache: cache}
}

// Download fetches every object in req. Per-object failures are reported in
// the result; the returned error covers only a malformed request or an
// unusable cache directory.
func (b *BatchDownloader) Download(ctx context.Context, req *BatchRequest) (*BatchResult, error) {
	res := &BatchResult{LocalPaths: map[string]string{}, Errors: map[string]error{}}
	if len(req.ObjectPaths) == 0 {
		return res, nil
	}
	if len(req.Priority) != 0 && len(req.Priority) != len(req.ObjectPaths) {
		return nil, fmt.Errorf("got %d priorities for %d objects", len(req.Priority), len(req.ObjectPaths))
	}
	if err := os.MkdirAll(b.cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	order := make([]int, len(req.ObjectPaths))
	for i := range order {
		order[i] = i
	}
	if len(req.Priority) != 0 {
		sort.SliceStable(order, func(x, y int) bool { return req.Priority[order[x]] < req.Priority[order[y]] })
	}

	sem := semaphore.NewWeighted(b.limit)
	var wg sync.WaitGroup
	for _, i := range order {
		objectPath := req.ObjectPaths[i]
		if err := sem.Acquire(ctx, 1); err != nil {
			res.record(objectPath, "", false, err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			local, hit, err := b.fetch(ctx, objectPath)
			res.record(objectPath, local, hit, err)
		}()
	}
	wg.Wait()
	return res, nil
}

// fetch returns a local copy of objectPath at its current ETag.
func (b *BatchDownloader) fetch(ctx context.Context, objectPath string) (string, bool, error) {
	info, err := b.storage.Stat(ctx, objectPath)
	if err != nil {
		return "", false, err
	}
	if local := b.cache.Get(objectPath, info.ETag); local != "" {
		return local, true, nil
	}

	local := b.localPath(objectPath, info.ETag)
	tmp := local + ".part"
	if err := b.storage.Download(ctx, objectPath, tmp); err != nil {
		os.Remove(tmp)
		return "", false, err
	}
	if err := os.Rename(tmp, local); err != nil {
		os.Remove(tmp)
		return "", false, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	b.cache.Put(objectPath, info.ETag, local)
	return local, false, nil
}

// localPath names the cached copy after the object's base name, prefixed by a
// hash of path and ETag so rotated files with equal names never collide and
// the extension is preserved for decompression.
func (b *BatchDownloader) localPath(objectPath, etag string) string {
	h := murmur3.Sum64([]byte(objectPath + "\x00" + etag))
	return filepath.Join(b.cacheDir, fmt.Sprintf("%016x-%s", h, path.Base(objectPath)))
}
