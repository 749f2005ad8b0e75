package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Saver persists an artifact under a suggested filename and returns where
// it ended up
type Saver interface {
	Save(data []byte, filename string) (string, error)
}

// DirSaver writes artifacts into a directory
type DirSaver struct {
	Dir string
}

// NewDirSaver creates a saver rooted at dir
func NewDirSaver(dir string) *DirSaver {
	return &DirSaver{Dir: dir}
}

// Save writes data atomically through a temp file in the same directory
func (d *DirSaver) Save(data []byte, filename string) (string, error) {
	if filename == "" || filename != filepath.Base(filename) {
		return "", fmt.Errorf("invalid artifact filename %q", filename)
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(d.Dir, "."+filename+".*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write %s: %w", filename, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", filename, err)
	}

	path := filepath.Join(d.Dir, filename)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to save %s: %w", filename, err)
	}
	return path, nil
}

// savedPrefixes are the filename prefixes Prune may delete
var savedPrefixes = []string{"photostrip-", "photobooth-", "photo-"}

// Prune deletes saved artifacts modified before cutoff. Files that do not
// look like artifacts are never touched.
func (d *DirSaver) Prune(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read output directory: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || !hasArtifactPrefix(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(d.Dir, e.Name())); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

func hasArtifactPrefix(name string) bool {
	for _, p := range savedPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
