package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
)

// LocalStorage serves a directory tree as an object store. Log directories
// on the host and exports written next to them both use it.
type LocalStorage struct {
	root string
}

// NewLocalStorage creates root if needed.
func NewLocalStorage(root string) (*LocalStorage, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root %s: %w", root, err)
	}
	return &LocalStorage{root: root}, nil
}

// resolve maps an object path into root. ".." segments cannot climb out.
func (l *LocalStorage) resolve(objectPath string) string {
	return filepath.Join(l.root, filepath.FromSlash(path.Clean("/"+objectPath)))
}

func (l *LocalStorage) info(objectPath string, fi fs.FileInfo) ObjectInfo {
	return ObjectInfo{
		Path:    objectPath,
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
		ETag:    fmt.Sprintf("%x-%x", fi.Size(), fi.ModTime().UnixNano()),
	}
}

func (l *LocalStorage) Upload(ctx context.Context, localPath, objectPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := copyFile(l.resolve(objectPath), localPath); err != nil {
		return fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	return nil
}

func (l *LocalStorage) Download(ctx context.Context, objectPath, localPath string) error {
	if _, err := l.Stat(ctx, objectPath); err != nil {
		return err
	}
	if err := copyFile(localPath, l.resolve(objectPath)); err != nil {
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	return nil
}

func (l *LocalStorage) Open(ctx context.Context, objectPath string) (io.ReadCloser, ObjectInfo, error) {
	info, err := l.Stat(ctx, objectPath)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	f, err := os.Open(l.resolve(objectPath))
	if err != nil {
		return nil, ObjectInfo{}, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	return f, info, nil
}

// Stat derives the ETag from size and modification time. Directories are not
// objects.
func (l *LocalStorage) Stat(ctx context.Context, objectPath string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	fi, err := os.Stat(l.resolve(objectPath))
	switch {
	case os.IsNotExist(err):
		return ObjectInfo{}, ErrObjectNotFound
	case err != nil:
		return ObjectInfo{}, err
	case fi.IsDir():
		return ObjectInfo{}, ErrObjectNotFound
	}
	return l.info(objectPath, fi), nil
}

func (l *LocalStorage) Delete(ctx context.Context, objectPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(l.resolve(objectPath)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrDeleteFailed, err)
	}
	return nil
}

// List walks the directory under prefix. A missing prefix lists nothing.
func (l *LocalStorage) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []ObjectInfo
	err := filepath.WalkDir(l.resolve(prefix), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		out = append(out, l.info(filepath.ToSlash(rel), fi))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func copyFile(dst, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
