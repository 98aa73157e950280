package source

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/reqgrid/reqgrid/internal/errors"
	"github.com/reqgrid/reqgrid/internal/storage"
	"github.com/reqgrid/reqgrid/pkg/types"
)

// ObjectSource reads every access log under a prefix of an object store.
// Objects are fetched through a BatchDownloader so unchanged objects are
// parsed from the local cache on reload.
type ObjectSource struct {
	store      storage.ObjectStorage
	prefix     string
	downloader *storage.BatchDownloader
	parser     *AccessLogParser
	parallel   int
}

// NewObjectSource creates a source over prefix. parallel bounds how many
// downloaded objects are parsed at once.
func NewObjectSource(store storage.ObjectStorage, prefix string, downloader *storage.BatchDownloader, parallel int) *ObjectSource {
	if parallel <= 0 {
		parallel = 4
	}
	if downloader == nil {
		downloader = storage.NewBatchDownloader(store, parallel, "", nil)
	}
	return &ObjectSource{
		store:      store,
		prefix:     prefix,
		downloader: downloader,
		parser:     NewAccessLogParser(),
		parallel:   parallel,
	}
}

// Name returns "objects:<prefix>".
func (s *ObjectSource) Name() string {
	return "objects:" + s.prefix
}

// Objects lists the log objects under the prefix, sorted by path.
func (s *ObjectSource) Objects(ctx context.Context) ([]string, error) {
	all, err := s.store.List(ctx, s.prefix)
	if err != nil {
		return nil, errors.NewSourceError(errors.CodeLoadFailed, "failed to list log objects", err)
	}
	var out []string
	for _, obj := range all {
		if IsLogObject(obj.Path) {
			out = append(out, obj.Path)
		}
	}
	return out, nil
}

// Load downloads and parses every log object. Any failed download fails the
// load so that a partial dataset is never served.
func (s *ObjectSource) Load(ctx context.Context) ([]types.Row, error) {
	objects, err := s.Objects(ctx)
	if err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return []types.Row{}, nil
	}

	priority := make([]int, len(objects))
	for i, p := range objects {
		if isRotated(p) {
			priority[i] = 1
		}
	}
	res, err := s.downloader.Download(ctx, &storage.BatchRequest{ObjectPaths: objects, Priority: priority})
	if err != nil {
		return nil, errors.NewSourceError(errors.CodeLoadFailed, "failed to download log objects", err)
	}
	for _, p := range objects {
		if derr, failed := res.Errors[p]; failed {
			return nil, errors.NewSourceError(errors.CodeDownloadFailed, fmt.Sprintf("failed to download %s", p), derr)
		}
	}

	parts := make([][]types.Row, len(objects))
	stats := make([]LoadStats, len(objects))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallel)
	for i, p := range objects {
		local := res.LocalPaths[p]
		g.Go(func() error {
			rows, st, err := s.readLocal(gctx, p, local)
			if err != nil {
				return err
			}
			parts[i], stats[i] = rows, st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.NewSourceError(errors.CodeLoadFailed, "failed to parse log objects", err)
	}

	var (
		total LoadStats
		n     int
	)
	for i := range parts {
		total.Add(stats[i])
		n += len(parts[i])
	}
	rows := make([]types.Row, 0, n)
	for _, part := range parts {
		rows = append(rows, part...)
	}
	sortByTimestamp(rows)

	log.Printf("Loaded %d rows from %d objects under %q (cache hits: %d, downloads: %d, skipped lines: %d)",
		len(rows), len(objects), s.prefix, res.CacheHits, res.Downloads, total.Skipped)
	return rows, nil
}

// readLocal parses a downloaded copy, choosing the codec from the object name
// since cached file names keep the object's base name.
func (s *ObjectSource) readLocal(ctx context.Context, objectPath, localPath string) ([]types.Row, LoadStats, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, LoadStats{}, fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	r, err := Decompress(f, CompressionFor(objectPath))
	if err != nil {
		return nil, LoadStats{}, fmt.Errorf("%s: %w", objectPath, err)
	}
	defer r.Close()
	return s.parser.ReadRows(ctx, r)
}

// OpenRaw streams the current (non-rotated) log object as stored, or the
// newest listed object when every object is rotated.
func (s *ObjectSource) OpenRaw(ctx context.Context) (io.ReadCloser, string, error) {
	objects, err := s.Objects(ctx)
	if err != nil {
		return nil, "", err
	}
	if len(objects) == 0 {
		return nil, "", errors.NewStorageError(errors.CodeObjectNotFound, "no log objects under "+s.prefix, storage.ErrObjectNotFound)
	}
	target := objects[len(objects)-1]
	for _, p := range objects {
		if !isRotated(p) {
			target = p
			break
		}
	}
	body, _, err := s.store.Open(ctx, target)
	if err != nil {
		return nil, "", errors.NewStorageError(errors.CodeDownloadFailed, "failed to open "+target, err)
	}
	return body, path.Base(target), nil
}

// isRotated reports whether name carries a rotation suffix, e.g.
// access.log.1 or access-2024-03-14.log.gz.
func isRotated(name string) bool {
	base := strings.ToLower(path.Base(name))
	if CompressionFor(base) != CompressionNone {
		return true
	}
	return !strings.HasSuffix(base, ".log") && !strings.HasSuffix(base, ".jsonl") &&
		!strings.HasSuffix(base, ".ndjson") && !strings.HasSuffix(base, ".json")
}
