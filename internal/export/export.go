// Package export writes query results to object storage as zstd-compressed
// newline-delimited JSON.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/reqgrid/reqgrid/internal/storage"
	"github.com/reqgrid/reqgrid/pkg/types"
)

// Extension is appended to every export object name.
const Extension = ".ndjson.zst"

// Result describes one finished export.
type Result struct {
	ID         string    `json:"id"`
	ObjectPath string    `json:"objectPath"`
	Rows       int       `json:"rows"`
	Bytes      int64     `json:"bytes"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Exporter uploads row sets under a prefix of an object store.
type Exporter struct {
	store  storage.ObjectStorage
	prefix string
	tmpDir string
}

// NewExporter creates an exporter. An empty tmpDir uses os.TempDir.
func NewExporter(store storage.ObjectStorage, prefix, tmpDir string) *Exporter {
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	return &Exporter{store: store, prefix: prefix, tmpDir: tmpDir}
}

// Export encodes rows to a temporary file and uploads it as
// <prefix>/<uuid>.ndjson.zst.
func (x *Exporter) Export(ctx context.Context, rows []types.Row) (*Result, error) {
	id := uuid.New().String()

	f, err := os.CreateTemp(x.tmpDir, "export-*"+Extension)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := f.Name()
	defer os.Remove(tmpPath)

	if err := WriteNDJSON(f, rows); err != nil {
		f.Close()
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat export: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close export: %w", err)
	}

	objectPath := path.Join(x.prefix, id+Extension)
	if err := x.store.Upload(ctx, tmpPath, objectPath); err != nil {
		return nil, fmt.Errorf("failed to upload export: %w", err)
	}

	return &Result{
		ID:         id,
		ObjectPath: objectPath,
		Rows:       len(rows),
		Bytes:      info.Size(),
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// Prune deletes exports under the prefix last modified before now-maxAge and
// returns how many were removed. Objects without the export extension are
// left alone. A non-positive maxAge keeps everything.
func (x *Exporter) Prune(ctx context.Context, maxAge time.Duration, now time.Time) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	objects, err := x.store.List(ctx, x.prefix)
	if err != nil {
		return 0, fmt.Errorf("failed to list exports: %w", err)
	}
	cutoff := now.Add(-maxAge)
	removed := 0
	for _, obj := range objects {
		if !strings.HasSuffix(obj.Path, Extension) || !obj.ModTime.Before(cutoff) {
			continue
		}
		if err := x.store.Delete(ctx, obj.Path); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// RunPruner prunes on every tick until ctx is cancelled.
func (x *Exporter) RunPruner(ctx context.Context, maxAge, interval time.Duration) {
	if maxAge <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := x.Prune(ctx, maxAge, now)
			if err != nil {
				log.Printf("Export retention sweep failed: %v", err)
			} else if n > 0 {
				log.Printf("Removed %d exports older than %s", n, maxAge)
			}
		}
	}
}

// WriteNDJSON writes one JSON object per row through a zstd encoder.
func WriteNDJSON(w io.Writer, rows []types.Row) error {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	je := json.NewEncoder(enc)
	for i := range rows {
		if err := je.Encode(&rows[i]); err != nil {
			enc.Close()
			return fmt.Errorf("failed to encode row %s: %w", rows[i].ID, err)
		}
	}
	return enc.Close()
}

// ReadNDJSON decodes a stream written by WriteNDJSON.
func ReadNDJSON(r io.Reader) ([]types.Row, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer dec.Close()

	var rows []types.Row
	jd := json.NewDecoder(dec)
	for {
		var row types.Row
		if err := jd.Decode(&row); err == io.EOF {
			return rows, nil
		} else if err != nil {
			return nil, fmt.Errorf("failed to decode row: %w", err)
		}
		rows = append(rows, row)
	}
}
