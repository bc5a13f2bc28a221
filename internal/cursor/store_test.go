package cursor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func TestStore_LoadMissing(t *testing.T) {
	store := NewStore(afero.NewMemMapFs(), "/state")
	if got := store.Load("dropbox"); !got.IsEmpty() {
		t.Errorf("Load() on empty store = %q, want empty", got)
	}
}

func TestStore_SaveLoadReset(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewStore(fs, "/state")

	if err := store.Save("dropbox", []byte("AAGx-cursor-1")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if got := string(store.Load("dropbox")); got != "AAGx-cursor-1" {
		t.Errorf("Load() = %q", got)
	}

	if err := store.Save("dropbox", []byte("AAGx-cursor-2")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if got := string(store.Load("dropbox")); got != "AAGx-cursor-2" {
		t.Errorf("Load() after overwrite = %q", got)
	}
	if got := store.Size("dropbox"); got != int64(len("AAGx-cursor-2")) {
		t.Errorf("Size() = %d", got)
	}

	if err := store.Reset("dropbox"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if got := store.Load("dropbox"); !got.IsEmpty() {
		t.Errorf("Load() after Reset = %q, want empty", got)
	}
	if err := store.Reset("dropbox"); err != nil {
		t.Errorf("Reset() on missing cursor error = %v", err)
	}
}

func TestStore_NoTempFilesLeft(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewStore(fs, "/state")

	for i := 0; i < 3; i++ {
		if err := store.Save("googledrive", []byte("token")); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	entries, err := afero.ReadDir(fs, "/state")
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "googledrive.cursor" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("state dir = %v, want only googledrive.cursor", names)
	}
}

func TestStore_ProvidersAreIsolated(t *testing.T) {
	store := NewStore(afero.NewMemMapFs(), "/state")
	if err := store.Save("dropbox", []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := store.Save("s3", []byte("b")); err != nil {
		t.Fatal(err)
	}
	if string(store.Load("dropbox")) != "a" || string(store.Load("s3")) != "b" {
		t.Error("cursors for different providers leaked into each other")
	}
}

func TestStore_SanitizesProviderID(t *testing.T) {
	store := NewStore(afero.NewMemMapFs(), "/state")
	p := store.Path("../../etc/passwd")
	if strings.Contains(strings.TrimPrefix(p, "/state/"), "/") {
		t.Errorf("Path() = %q escapes the state directory", p)
	}
}

func TestStore_FailedSaveKeepsOldCursor(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	dir := t.TempDir()
	store := NewStore(afero.NewOsFs(), dir)
	if err := store.Save("dropbox", []byte("old")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if err := os.Chmod(dir, 0500); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(dir, 0700) })

	if err := store.Save("dropbox", []byte("new")); err == nil {
		t.Fatal("expected Save() into a read-only directory to fail")
	}
	if got := string(store.Load("dropbox")); got != "old" {
		t.Errorf("Load() = %q, want old cursor", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "dropbox.cursor")); err != nil {
		t.Errorf("cursor file missing: %v", err)
	}
}
