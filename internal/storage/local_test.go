package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLocalStorage_UploadDownload(t *testing.T) {
	// Create temp directories
	baseDir := t.TempDir()
	storage, err := NewLocalStorage(baseDir)
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	// Create a test file
	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "test.txt")
	content := []byte("hello world")
	if err := os.WriteFile(srcPath, content, 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	ctx := context.Background()

	// Test Upload
	objectPath := "test/object.txt"
	if err := storage.Upload(ctx, srcPath, objectPath); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if info, err := storage.Stat(ctx, objectPath); err != nil || info.Size != int64(len(content)) {
		t.Fatalf("Stat after upload = %+v, %v", info, err)
	}

	// Test Download
	dstPath := filepath.Join(srcDir, "downloaded.txt")
	if err := storage.Download(ctx, objectPath, dstPath); err != nil {
		t.Fatalf("Download failed: %v", err)
	}

	downloaded, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatalf("failed to read downloaded file: %v", err)
	}
	if string(downloaded) != string(content) {
		t.Errorf("content mismatch: got %q, want %q", downloaded, content)
	}

	// Test Delete
	if err := storage.Delete(ctx, objectPath); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := storage.Stat(ctx, objectPath); err != ErrObjectNotFound {
		t.Errorf("Stat after delete = %v, want ErrObjectNotFound", err)
	}
	if err := storage.Delete(ctx, objectPath); err != nil {
		t.Errorf("deleting a missing object should succeed, got %v", err)
	}
}

func TestLocalStorage_OpenStat(t *testing.T) {
	baseDir := t.TempDir()
	storage, err := NewLocalStorage(baseDir)
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	content := []byte(`{"status":200}` + "\n")
	if err := os.MkdirAll(filepath.Join(baseDir, "logs"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(baseDir, "logs", "access.log"), content, 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	ctx := context.Background()
	info, err := storage.Stat(ctx, "logs/access.log")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size != int64(len(content)) || info.ETag == "" {
		t.Errorf("unexpected info %+v", info)
	}

	rc, opened, err := storage.Open(ctx, "logs/access.log")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != string(content) || opened.ETag != info.ETag {
		t.Errorf("Open returned %q / %+v", got, opened)
	}

	// rewriting the file changes its ETag
	time.Sleep(10 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(baseDir, "logs", "access.log"), append(content, content...), 0644); err != nil {
		t.Fatal(err)
	}
	changed, _ := storage.Stat(ctx, "logs/access.log")
	if changed.ETag == info.ETag {
		t.Error("expected ETag to change after rewrite")
	}

	if _, err := storage.Stat(ctx, "logs"); err != ErrObjectNotFound {
		t.Errorf("directories are not objects, got %v", err)
	}
	if _, _, err := storage.Open(ctx, "missing.log"); err != ErrObjectNotFound {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestLocalStorage_List(t *testing.T) {
	baseDir := t.TempDir()
	storage, err := NewLocalStorage(baseDir)
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	for _, p := range []string{"logs/b.log", "logs/a.log.gz", "other/c.log"} {
		full := filepath.Join(baseDir, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	objects, err := storage.List(context.Background(), "logs")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(objects) != 2 || objects[0].Path != "logs/a.log.gz" || objects[1].Path != "logs/b.log" {
		t.Errorf("unexpected objects %v", objects)
	}
	if objects[0].Size != 1 || objects[0].ETag == "" || objects[0].ModTime.IsZero() {
		t.Errorf("List should carry metadata, got %+v", objects[0])
	}

	objects, err = storage.List(context.Background(), "missing")
	if err != nil || len(objects) != 0 {
		t.Errorf("missing prefix: %v, %v", objects, err)
	}
}

func TestLocalStorage_PathCannotEscapeBase(t *testing.T) {
	parent := t.TempDir()
	baseDir := filepath.Join(parent, "base")
	storage, err := NewLocalStorage(baseDir)
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	if err := os.WriteFile(filepath.Join(parent, "secret.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := storage.Stat(context.Background(), "../secret.txt"); err != ErrObjectNotFound {
		t.Errorf("object paths must not resolve outside the base directory, got %v", err)
	}
}

func TestLocalStorage_DownloadNotFound(t *testing.T) {
	baseDir := t.TempDir()
	storage, err := NewLocalStorage(baseDir)
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	ctx := context.Background()
	dstPath := filepath.Join(t.TempDir(), "downloaded.txt")

	err = storage.Download(ctx, "nonexistent/object.txt", dstPath)
	if err != ErrObjectNotFound {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}
