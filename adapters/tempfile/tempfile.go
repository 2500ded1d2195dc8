// Package tempfile places edited images in an owned scratch directory and
// sweeps leftovers from previous runs.  Sweeping is driven by explicit
// lifecycle hooks on the editor, not by ambient process state.
package tempfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/pixfold/image-editor/errors"
)

// Store manages output files under a single directory, all sharing a
// filename prefix so stale ones can be identified and removed.
type Store struct {
	dir         string
	prefix      string
	permissions os.FileMode
}

// NewStore creates a Store rooted at dir (os.TempDir() when empty).  The
// prefix must be non-empty: it is the marker that makes sweeping safe.
func NewStore(dir, prefix string, perm os.FileMode) (*Store, error) {
	if prefix == "" {
		return nil, apperrors.New(apperrors.CategoryTemp, "tempfile.new",
			fmt.Errorf("prefix must not be empty"))
	}
	if dir == "" {
		dir = os.TempDir()
	}
	if perm == 0 {
		perm = 0o644
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryTemp, "tempfile.new.mkdir", err)
	}
	return &Store{dir: dir, prefix: prefix, permissions: perm}, nil
}

// Dir returns the directory the store writes into.
func (s *Store) Dir() string { return s.dir }

// Create opens a fresh uniquely-named output file with the given extension
// (".jpg", ".png", ...).  The caller owns the handle.
func (s *Store) Create(ext string) (*os.File, error) {
	f, err := os.CreateTemp(s.dir, s.prefix+"*"+ext)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryTemp, "tempfile.create", err)
	}
	if err := f.Chmod(s.permissions); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, apperrors.Wrap(apperrors.CategoryTemp, "tempfile.create.chmod", err)
	}
	return f, nil
}

// CreateNamed creates a file with an exact name inside the store directory.
// Fails if the file already exists.
func (s *Store) CreateNamed(name string) (*os.File, error) {
	path := filepath.Join(s.dir, filepath.Base(name))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, s.permissions)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, apperrors.New(apperrors.CategoryTemp, "tempfile.create_named",
				fmt.Errorf("file already exists: %s", path))
		}
		return nil, apperrors.Wrap(apperrors.CategoryTemp, "tempfile.create_named", err)
	}
	return f, nil
}

// Sweep removes every prefix-matching file in the directory and returns how
// many were deleted.  Run on editor start (crash leftovers) and stop.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CategoryTemp, "tempfile.sweep", err)
	}

	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, apperrors.Wrap(apperrors.CategoryTemp, "tempfile.sweep", err)
		}
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), s.prefix) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, apperrors.Wrap(apperrors.CategoryTemp, "tempfile.sweep.remove", err)
		}
		removed++
	}
	return removed, nil
}
