// Package output publishes preview frames to viewers.
package output

import (
	"image"
)

// Output is a sink for preview frames. Implementations must accept
// WriteFrame from the preview loop while serving viewers concurrently.
type Output interface {
	// Start initializes the output mechanism
	Start() error

	// Stop cleanly shuts down the output
	Stop() error

	// WriteFrame sends a frame to the output
	WriteFrame(frame *image.RGBA) error

	// Name returns a human-readable name for this output type
	Name() string

	// IsRunning returns true if the output is currently active
	IsRunning() bool
}

// Config holds common configuration for all output types
type Config struct {
	Width  int
	Height int
	FPS    int
	// Quality is the JPEG quality of streamed frames
	Quality int
}

// DefaultConfig matches the 100ms preview period
func DefaultConfig() Config {
	return Config{Width: 720, Height: 720, FPS: 10, Quality: 80}
}
