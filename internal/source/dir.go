package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/PhotoBooth/internal/clock"
	"github.com/bryanchriswhite/PhotoBooth/internal/frame"
	"github.com/bryanchriswhite/PhotoBooth/internal/logger"
)

// imageExtensions are the files the dir source picks up
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// Dir cycles through the encoded images in a directory, showing each for
// interval. Files are loaded on Start and handed out undecoded, so a
// corrupt file surfaces as frame.ErrDecode in the filter engine.
type Dir struct {
	path     string
	interval time.Duration
	clk      clock.Scheduler

	mu      sync.RWMutex
	files   []string
	images  [][]byte
	started time.Time
	running bool
}

// NewDir creates a directory source
func NewDir(path string, interval time.Duration, clk clock.Scheduler) *Dir {
	if clk == nil {
		clk = clock.NewReal()
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Dir{path: path, interval: interval, clk: clk}
}

// Start loads every image in the directory in name order
func (d *Dir) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("dir source already running")
	}

	files, err := ListImages(d.path)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no images found in %s", d.path)
	}

	images := make([][]byte, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", f, err)
		}
		images = append(images, data)
	}

	d.files = files
	d.images = images
	d.started = d.clk.Now()
	d.running = true

	logger.WithComponent("source").Info().
		Str("dir", d.path).
		Int("images", len(images)).
		Dur("interval", d.interval).
		Msg("Directory source started")
	return nil
}

// Stop drops the loaded images
func (d *Dir) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = false
	d.images = nil
	d.files = nil
	return nil
}

// Name returns the source name
func (d *Dir) Name() string { return string(KindDir) }

// Snapshot returns the image due at the current time
func (d *Dir) Snapshot(ctx context.Context) (frame.Raw, error) {
	if err := ctx.Err(); err != nil {
		return frame.Raw{}, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.running {
		return frame.Raw{}, fmt.Errorf("%w: dir source not started", frame.ErrUnavailable)
	}

	now := d.clk.Now()
	i := int(now.Sub(d.started)/d.interval) % len(d.images)
	return frame.FromBytes(d.images[i], filepath.Base(d.files[i]), now), nil
}

// ListImages returns the image files directly inside dir, sorted by name
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}
