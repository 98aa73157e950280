package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSized(t *testing.T, path string, n int) {
	t.Helper()
	if err := os.WriteFile(path, make([]byte, n), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestDownloadCache_HitAndMiss(t *testing.T) {
	dir := t.TempDir()
	cache := NewDownloadCache(1024 * 1024)

	if got := cache.Get("logs/access.log", "v1"); got != "" {
		t.Fatalf("expected miss, got %q", got)
	}

	path := filepath.Join(dir, "access.log")
	writeSized(t, path, 100)
	cache.Put("logs/access.log", "v1", path)

	if got := cache.Get("logs/access.log", "v1"); got != path {
		t.Fatalf("expected %q, got %q", path, got)
	}
	if cache.Len() != 1 || cache.Size() != 100 {
		t.Fatalf("expected 1 entry of 100 bytes, got %d / %d", cache.Len(), cache.Size())
	}
}

func TestDownloadCache_ETagMismatchEvicts(t *testing.T) {
	dir := t.TempDir()
	cache := NewDownloadCache(1024 * 1024)

	path := filepath.Join(dir, "access.log")
	writeSized(t, path, 10)
	cache.Put("logs/access.log", "v1", path)

	if got := cache.Get("logs/access.log", "v2"); got != "" {
		t.Fatalf("expected miss for new etag, got %q", got)
	}
	if cache.Len() != 0 {
		t.Fatalf("stale entry should be evicted, got %d entries", cache.Len())
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("stale file should be removed from disk")
	}
}

func TestDownloadCache_LRUEviction(t *testing.T) {
	dir := t.TempDir()
	cache := NewDownloadCache(250)

	for _, name := range []string{"a", "b", "c"} {
		path := filepath.Join(dir, name+".log")
		writeSized(t, path, 100)
		cache.Put("logs/"+name, "e", path)
	}

	if got := cache.Get("logs/a", "e"); got != "" {
		t.Fatalf("expected eviction of 'a', but got %q", got)
	}
	if got := cache.Get("logs/b", "e"); got == "" {
		t.Fatal("expected 'b' to be cached")
	}
	if got := cache.Get("logs/c", "e"); got == "" {
		t.Fatal("expected 'c' to be cached")
	}
}

func TestDownloadCache_StaleFileEvicted(t *testing.T) {
	dir := t.TempDir()
	cache := NewDownloadCache(1024 * 1024)

	path := filepath.Join(dir, "x.log")
	writeSized(t, path, 50)
	cache.Put("logs/x", "e", path)

	os.Remove(path)

	if got := cache.Get("logs/x", "e"); got != "" {
		t.Fatalf("expected miss for deleted file, got %q", got)
	}
	if cache.Len() != 0 {
		t.Fatalf("expected 0 entries after stale eviction, got %d", cache.Len())
	}
}

func TestDownloadCache_Clear(t *testing.T) {
	dir := t.TempDir()
	cache := NewDownloadCache(0)

	path := filepath.Join(dir, "y.log")
	writeSized(t, path, 5)
	cache.Put("logs/y", "e", path)
	cache.Clear()

	if cache.Len() != 0 || cache.Size() != 0 {
		t.Fatalf("expected empty cache, got %d entries / %d bytes", cache.Len(), cache.Size())
	}
}
