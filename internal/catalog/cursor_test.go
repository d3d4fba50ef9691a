package catalog

import (
	"path/filepath"
	"testing"
)

func TestCursorRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor.json")
	store := NewCursorStore(path, true)

	if _, found, err := store.Load(); err != nil || found {
		t.Fatalf("fresh store: found=%v err=%v", found, err)
	}

	if err := store.Save(12345); err != nil {
		t.Fatalf("save: %v", err)
	}

	cur, found, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !found {
		t.Fatalf("saved cursor not found")
	}
	if cur.LastScannedBlock != 12345 {
		t.Fatalf("block mismatch: %d", cur.LastScannedBlock)
	}
	if cur.UpdatedAt == "" {
		t.Fatalf("updated_at not set")
	}
}

func TestCursorDisabled(t *testing.T) {
	store := NewCursorStore(filepath.Join(t.TempDir(), "cursor.json"), false)
	if err := store.Save(1); err != nil {
		t.Fatalf("disabled save should be a no-op: %v", err)
	}
	if _, found, _ := store.Load(); found {
		t.Fatalf("disabled store must never find a cursor")
	}
}

func TestCursorOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor.json")
	store := NewCursorStore(path, true)

	if err := store.Save(100); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(200); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	cur, _, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cur.LastScannedBlock != 200 {
		t.Fatalf("expected latest save to win, got %d", cur.LastScannedBlock)
	}
}
