// Package storage reads log objects from and writes exports to an object
// store. S3 and a local directory are supported.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
	ErrDeleteFailed   = errors.New("delete failed")
)

// ObjectInfo describes a stored object. ETag changes whenever the object's
// content is rewritten.
type ObjectInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
	ETag    string
}

// ObjectStorage is the subset of object store operations reqgrid needs.
// Object paths are slash separated.
type ObjectStorage interface {
	Upload(ctx context.Context, localPath, objectPath string) error
	Download(ctx context.Context, objectPath, localPath string) error

	// Open streams an object. The caller closes the reader.
	Open(ctx context.Context, objectPath string) (io.ReadCloser, ObjectInfo, error)

	// Stat returns ErrObjectNotFound for a missing object.
	Stat(ctx context.Context, objectPath string) (ObjectInfo, error)

	// Delete is idempotent.
	Delete(ctx context.Context, objectPath string) error

	// List returns the objects under prefix sorted by path.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}
