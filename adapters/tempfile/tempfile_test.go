package tempfile

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCreate(t *testing.T) {
	store, err := NewStore(t.TempDir(), "edited_image_", 0o644)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	f, err := store.Create(".jpg")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()

	name := filepath.Base(f.Name())
	if !strings.HasPrefix(name, "edited_image_") {
		t.Errorf("name %q missing prefix", name)
	}
	if !strings.HasSuffix(name, ".jpg") {
		t.Errorf("name %q missing extension", name)
	}
}

func TestCreateNamed_Exists(t *testing.T) {
	store, err := NewStore(t.TempDir(), "edited_image_", 0o644)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	f, err := store.CreateNamed("out.jpg")
	if err != nil {
		t.Fatalf("CreateNamed: %v", err)
	}
	f.Close()

	if _, err := store.CreateNamed("out.jpg"); err == nil {
		t.Error("expected error creating an existing file")
	}
}

func TestSweep(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, "edited_image_", 0o644)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	// Two prefix-matching leftovers plus one unrelated file.
	for _, name := range []string{"edited_image_a.jpg", "edited_image_b.png", "keep.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	removed, err := store.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed: got %d, want 2", removed)
	}
	if _, err := os.Stat(filepath.Join(dir, "keep.txt")); err != nil {
		t.Errorf("unrelated file was removed: %v", err)
	}
}

func TestNewStore_EmptyPrefix(t *testing.T) {
	if _, err := NewStore(t.TempDir(), "", 0o644); err == nil {
		t.Error("expected error for empty prefix")
	}
}
