package store

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// tempMarker separates an artifact name from the random temp suffix.
const tempMarker = ".tmp-"

// FileStore is a flat directory of artifact files. The presence of a
// non-empty file at its canonical path is the only cache index.
type FileStore struct {
	dir string

	// mu guards directory-wide operations (Flush) against Publish.
	mu sync.RWMutex
}

// NewFileStore creates the cache directory if needed. When keep is false the
// existing contents are flushed first.
func NewFileStore(dir string, keep bool) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache directory is not configured")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving cache directory: %w", err)
	}
	s := &FileStore{dir: abs}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	if !keep {
		if err := s.Flush(); err != nil {
			return nil, err
		}
	}
	if removed := s.sweepTemp(); removed > 0 {
		log.Printf("INFO: removed %d stale temporary artifacts from %s", removed, abs)
	}
	return s, nil
}

// Dir returns the absolute cache directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// Path resolves a file name inside the cache directory. Only the base name is
// used so that names can never escape the directory.
func (s *FileStore) Path(name string) string {
	return filepath.Join(s.dir, filepath.Base(name))
}

// Exists reports whether path is a regular, non-empty file.
func (s *FileStore) Exists(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fi.Mode().IsRegular() && fi.Size() > 0
}

// TempPath returns a unique sibling of final. It lives in the same directory
// so Publish is a same-filesystem rename.
func (s *FileStore) TempPath(final string) string {
	return final + tempMarker + uuid.NewString()
}

// Publish renames tmp to final, making the artifact visible in one step.
func (s *FileStore) Publish(tmp, final string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("committing %s: %w", filepath.Base(final), err)
	}
	if d, err := os.Open(filepath.Dir(final)); err == nil {
		_ = d.Sync() // best-effort durability of the rename
		d.Close()
	}
	return nil
}

// Discard removes a temporary file.
func (s *FileStore) Discard(tmp string) {
	if err := os.Remove(tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("ERROR: removing temporary artifact %s: %v", tmp, err)
	}
}

// Flush removes every file in the cache directory. Subdirectories are left
// alone; the store never creates any.
func (s *FileStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("flushing cache directory: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("flushing cache directory: %w", err)
		}
		removed++
	}
	log.Printf("INFO: flushed %d files from cache directory %s", removed, s.dir)
	return nil
}

// List returns the names of all published artifacts.
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.Contains(e.Name(), tempMarker) {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// sweepTemp removes temp files left behind by a crashed process.
func (s *FileStore) sweepTemp() int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.Contains(e.Name(), tempMarker) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed
}
