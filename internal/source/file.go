package source

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/reqgrid/reqgrid/pkg/types"
)

// FileSource reads a JSON-lines access log from local disk. The codec is
// chosen by extension (.gz, .zst, .sz or plain).
type FileSource struct {
	path   string
	parser *AccessLogParser
}

// NewFileSource creates a source for the log at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path, parser: NewAccessLogParser()}
}

// Name returns "file:<base name>".
func (s *FileSource) Name() string {
	return "file:" + filepath.Base(s.path)
}

// Path returns the log file path.
func (s *FileSource) Path() string {
	return s.path
}

// Load parses the whole file.
func (s *FileSource) Load(ctx context.Context) ([]types.Row, error) {
	rows, stats, err := readLogFile(ctx, s.parser, s.path)
	if err != nil {
		return nil, err
	}
	if stats.Skipped > 0 {
		log.Printf("Skipped %d malformed lines in %s", stats.Skipped, s.path)
	}
	sortByTimestamp(rows)
	return rows, nil
}

func readLogFile(ctx context.Context, parser *AccessLogParser, path string) ([]types.Row, LoadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, LoadStats{}, fmt.Errorf("failed to open log %s: %w", path, err)
	}
	defer f.Close()

	r, err := Decompress(f, CompressionFor(path))
	if err != nil {
		return nil, LoadStats{}, fmt.Errorf("%s: %w", path, err)
	}
	defer r.Close()

	return parser.ReadRows(ctx, r)
}

// OpenRaw opens the log file as stored on disk.
func (s *FileSource) OpenRaw(ctx context.Context) (io.ReadCloser, string, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open log %s: %w", s.path, err)
	}
	return f, filepath.Base(s.path), nil
}
