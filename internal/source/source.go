// Package source provides camera frame sources for the capture and preview
// loops.
package source

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/PhotoBooth/internal/clock"
	"github.com/bryanchriswhite/PhotoBooth/internal/frame"
)

// Source produces camera snapshots. Snapshot must be safe to call from the
// capture and preview loops at the same time and returns
// frame.ErrUnavailable until the first frame has arrived.
type Source interface {
	// Start initializes the source and any background readers
	Start() error

	// Stop releases resources and stops background processes
	Stop() error

	// Snapshot returns the latest frame
	Snapshot(ctx context.Context) (frame.Raw, error)

	// Name returns a human-readable name for this source
	Name() string
}

// Kind selects a Source implementation
type Kind string

const (
	KindPattern   Kind = "pattern"
	KindDir       Kind = "dir"
	KindGStreamer Kind = "gstreamer"
	KindGstLaunch Kind = "gst-launch"
)

// ParseKind accepts the source names used in config files and flags
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pattern", "test":
		return KindPattern, nil
	case "dir", "directory":
		return KindDir, nil
	case "gstreamer", "gst":
		return KindGStreamer, nil
	case "gst-launch", "subprocess":
		return KindGstLaunch, nil
	default:
		return "", fmt.Errorf("unknown source %q", s)
	}
}

// Config describes the camera
type Config struct {
	Kind Kind
	// Device is a V4L2 device path; empty lets GStreamer pick a camera
	Device string
	Width  int
	Height int
	FPS    int
	// Dir holds the images cycled by the dir source
	Dir string
	// Interval is how long the dir source shows each image
	Interval time.Duration
}

// DefaultConfig is a 1280x720 synthetic camera
func DefaultConfig() Config {
	return Config{
		Kind:     KindPattern,
		Width:    1280,
		Height:   720,
		FPS:      30,
		Interval: 2 * time.Second,
	}
}

// New builds the source selected by cfg.Kind
func New(cfg Config, clk clock.Scheduler) (Source, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid camera size %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}

	switch cfg.Kind {
	case KindPattern, "":
		return NewPattern(cfg.Width, cfg.Height, clk), nil
	case KindDir:
		return NewDir(cfg.Dir, cfg.Interval, clk), nil
	case KindGStreamer:
		return NewGStreamer(cfg), nil
	case KindGstLaunch:
		return NewGstLaunch(cfg), nil
	default:
		return nil, fmt.Errorf("unknown source %q", cfg.Kind)
	}
}

// latestFrame holds the most recent frame written by a background reader
type latestFrame struct {
	mu     sync.RWMutex
	img    *image.RGBA
	at     time.Time
	frames uint64
}

func (l *latestFrame) store(img *image.RGBA, at time.Time) {
	l.mu.Lock()
	l.img = img
	l.at = at
	l.frames++
	l.mu.Unlock()
}

func (l *latestFrame) reset() {
	l.mu.Lock()
	l.img = nil
	l.mu.Unlock()
}

func (l *latestFrame) count() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.frames
}

// snapshot returns a copy of the latest frame so readers never share pixels
// with the writer
func (l *latestFrame) snapshot(name string) (frame.Raw, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.img == nil {
		return frame.Raw{}, fmt.Errorf("%w: %s has no frame yet", frame.ErrUnavailable, name)
	}

	img := image.NewRGBA(l.img.Bounds())
	copy(img.Pix, l.img.Pix)
	return frame.FromRGBA(img, name, l.at), nil
}
