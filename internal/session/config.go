package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/bryanchriswhite/PhotoBooth/internal/filter"
	"github.com/bryanchriswhite/PhotoBooth/internal/strip"
)

// Mode selects a single strip or a multi-session run ending in a video
type Mode string

const (
	Single Mode = "single"
	Multi  Mode = "multi"
)

// ParseMode accepts "single", "multi" and "video"
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "single", "strip":
		return Single, nil
	case "multi", "video":
		return Multi, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// Config is fixed when a run starts; the controller never reads live
// settings mid-run except the preview filter.
type Config struct {
	PhotoCount int
	// Filter for the first session; empty means the current live filter
	Filter filter.Kind
	Mode   Mode
	// Sessions is the number of sessions in multi mode
	Sessions int

	Countdown             int
	InterSessionCountdown int
	Tick                  time.Duration
	InterPhotoDelay       time.Duration
	PreviewInterval       time.Duration
	// MaxCaptureAttempts bounds consecutive failed capture ticks for one
	// photo; 0 retries until the camera recovers
	MaxCaptureAttempts int
}

// DefaultConfig is a three photo single strip with a 3 second countdown
func DefaultConfig() Config {
	return Config{
		PhotoCount:            3,
		Filter:                filter.None,
		Mode:                  Single,
		Sessions:              3,
		Countdown:             3,
		InterSessionCountdown: 5,
		Tick:                  time.Second,
		InterPhotoDelay:       time.Second,
		PreviewInterval:       100 * time.Millisecond,
		MaxCaptureAttempts:    0,
	}
}

// SessionCount is the number of sessions the run will capture
func (c Config) SessionCount() int {
	if c.Mode == Multi {
		return c.Sessions
	}
	return 1
}

// Validate checks the config describes a run the controller can execute
func (c Config) Validate() error {
	if !strip.ValidCount(c.PhotoCount) {
		return fmt.Errorf("photo count must be 3, 4 or 6, got %d", c.PhotoCount)
	}
	if c.Filter != "" && !c.Filter.Valid() {
		return fmt.Errorf("unknown filter %q", c.Filter)
	}
	if c.Mode != Single && c.Mode != Multi {
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.Mode == Multi && c.Sessions < 1 {
		return fmt.Errorf("multi mode needs at least one session, got %d", c.Sessions)
	}
	if c.Countdown < 1 {
		return fmt.Errorf("countdown must be at least 1, got %d", c.Countdown)
	}
	if c.Mode == Multi && c.InterSessionCountdown < 1 {
		return fmt.Errorf("inter-session countdown must be at least 1, got %d", c.InterSessionCountdown)
	}
	if c.Tick <= 0 {
		return fmt.Errorf("tick must be positive, got %v", c.Tick)
	}
	if c.InterPhotoDelay < 0 {
		return fmt.Errorf("inter-photo delay must not be negative, got %v", c.InterPhotoDelay)
	}
	if c.PreviewInterval <= 0 {
		return fmt.Errorf("preview interval must be positive, got %v", c.PreviewInterval)
	}
	if c.MaxCaptureAttempts < 0 {
		return fmt.Errorf("max capture attempts must not be negative, got %d", c.MaxCaptureAttempts)
	}
	return nil
}
