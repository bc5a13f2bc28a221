// Package cursor persists one opaque sync cursor per provider.
package cursor

import (
	"fmt"
	"os"
	"path"
	"regexp"

	"github.com/dl-alexandre/cloudmirror/internal/types"
	"github.com/spf13/afero"
)

const fileSuffix = ".cursor"

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Store keeps cursors under a private state directory, one file per provider.
// Saves replace the file atomically, so a crash leaves either the old cursor or
// the new one.
type Store struct {
	fs  afero.Fs
	dir string
}

// NewStore creates a store rooted at dir on fs
func NewStore(fs afero.Fs, dir string) *Store {
	return &Store{fs: fs, dir: dir}
}

// Path returns the cursor file used for providerID
func (s *Store) Path(providerID string) string {
	return path.Join(s.dir, fileName(providerID))
}

// Load returns the last saved cursor, or an empty cursor when none was saved
// or the file cannot be read. An empty cursor means a full resync.
func (s *Store) Load(providerID string) types.SyncCursor {
	data, err := afero.ReadFile(s.fs, s.Path(providerID))
	if err != nil || len(data) == 0 {
		return nil
	}
	return types.SyncCursor(data)
}

// Save persists cursor for providerID
func (s *Store) Save(providerID string, cursor types.SyncCursor) error {
	if err := s.fs.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := afero.TempFile(s.fs, s.dir, "."+fileName(providerID)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp cursor file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = s.fs.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(cursor); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write cursor: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync cursor: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close cursor: %w", err)
	}
	if err := s.fs.Chmod(tmpName, 0600); err != nil {
		return fmt.Errorf("failed to set cursor permissions: %w", err)
	}
	if err := s.fs.Rename(tmpName, s.Path(providerID)); err != nil {
		return fmt.Errorf("failed to replace cursor: %w", err)
	}
	committed = true
	return nil
}

// Reset deletes the cursor so the next tick performs a full resync
func (s *Store) Reset(providerID string) error {
	if err := s.fs.Remove(s.Path(providerID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove cursor: %w", err)
	}
	return nil
}

// Size returns the stored cursor length in bytes, 0 when absent
func (s *Store) Size(providerID string) int64 {
	info, err := s.fs.Stat(s.Path(providerID))
	if err != nil {
		return 0
	}
	return info.Size()
}

func fileName(providerID string) string {
	id := unsafeIDChars.ReplaceAllString(providerID, "_")
	if id == "" || id == "." || id == ".." {
		id = "default"
	}
	return id + fileSuffix
}
