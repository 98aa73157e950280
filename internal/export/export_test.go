package export

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/reqgrid/reqgrid/internal/storage"
	"github.com/reqgrid/reqgrid/pkg/types"
)

func TestExport_UploadsCompressedRows(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ts := time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)
	rows := []types.Row{
		{ID: "a", Timestamp: ts, StatusCode: 200, SeverityLevel: types.SeveritySuccess, LatencyMs: 12.5, RegionTags: []string{"ams"}},
		{ID: "b", Timestamp: ts.Add(time.Second), StatusCode: 500, SeverityLevel: types.SeverityError, Timing: &types.Timing{TTFB: 9}},
	}

	x := NewExporter(store, "exports", t.TempDir())
	res, err := x.Export(context.Background(), rows)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if !strings.HasPrefix(res.ObjectPath, "exports/") || !strings.HasSuffix(res.ObjectPath, Extension) {
		t.Errorf("ObjectPath = %q", res.ObjectPath)
	}
	if res.Rows != 2 || res.Bytes <= 0 {
		t.Errorf("Result = %+v", res)
	}

	body, info, err := store.Open(context.Background(), res.ObjectPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer body.Close()
	if info.Size != res.Bytes {
		t.Errorf("stored size %d, reported %d", info.Size, res.Bytes)
	}

	got, err := ReadNDJSON(body)
	if err != nil {
		t.Fatalf("ReadNDJSON failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].Timing == nil || got[1].Timing.TTFB != 9 {
		t.Errorf("decoded rows = %+v", got)
	}
	if !got[0].Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", got[0].Timestamp, ts)
	}
}

func TestExport_EmptyRows(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	res, err := NewExporter(store, "exports", t.TempDir()).Export(context.Background(), nil)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if res.Rows != 0 {
		t.Errorf("Rows = %d", res.Rows)
	}
}

func TestPrune_RemovesExpiredExports(t *testing.T) {
	root := t.TempDir()
	store, err := storage.NewLocalStorage(root)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	x := NewExporter(store, "exports", t.TempDir())

	old, err := x.Export(ctx, []types.Row{{ID: "old"}})
	if err != nil {
		t.Fatal(err)
	}
	fresh, err := x.Export(ctx, []types.Row{{ID: "fresh"}})
	if err != nil {
		t.Fatal(err)
	}
	other := filepath.Join(root, "exports", "notes.txt")
	if err := os.WriteFile(other, []byte("keep"), 0644); err != nil {
		t.Fatal(err)
	}
	lastWeek := time.Now().Add(-8 * 24 * time.Hour)
	for _, p := range []string{filepath.Join(root, filepath.FromSlash(old.ObjectPath)), other} {
		if err := os.Chtimes(p, lastWeek, lastWeek); err != nil {
			t.Fatal(err)
		}
	}

	n, err := x.Prune(ctx, 7*24*time.Hour, time.Now())
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if n != 1 {
		t.Errorf("removed %d exports, want 1", n)
	}
	if _, err := store.Stat(ctx, old.ObjectPath); err != storage.ErrObjectNotFound {
		t.Errorf("expired export still present: %v", err)
	}
	if _, err := store.Stat(ctx, fresh.ObjectPath); err != nil {
		t.Errorf("fresh export removed: %v", err)
	}
	if _, err := store.Stat(ctx, "exports/notes.txt"); err != nil {
		t.Errorf("non-export object removed: %v", err)
	}

	if n, err := x.Prune(ctx, 0, time.Now()); n != 0 || err != nil {
		t.Errorf("zero retention should keep everything, got %d, %v", n, err)
	}
}
