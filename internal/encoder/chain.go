package encoder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bryanchriswhite/PhotoBooth/internal/logger"
)

// Chain tries each backend in order and uses the first that can start
type Chain []Encoder

// Name lists the chained backends
func (c Chain) Name() string {
	names := make([]string, len(c))
	for i, e := range c {
		names[i] = e.Name()
	}
	return strings.Join(names, ",")
}

// Start returns the first stream a backend manages to start. Only
// ErrUnavailable moves on to the next backend.
func (c Chain) Start(ctx context.Context, cfg Config) (Stream, error) {
	log := logger.WithComponent("encoder")

	var errs []error
	for _, e := range c {
		s, err := e.Start(ctx, cfg)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, ErrUnavailable) {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		log.Debug().Err(err).Str("backend", e.Name()).Msg("Encoder backend unavailable")
		errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
	}

	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no encoder backends configured", ErrUnavailable)
	}
	return nil, errors.Join(errs...)
}

// New builds the encoder for a backend name: "gstreamer", "ffmpeg" or
// "auto" (GStreamer first, then ffmpeg)
func New(backend, ffmpegBinary string) (Encoder, error) {
	switch strings.ToLower(backend) {
	case "", "auto":
		return Chain{NewGStreamer(), NewFFmpeg(ffmpegBinary)}, nil
	case "gstreamer", "gst":
		return NewGStreamer(), nil
	case "ffmpeg":
		return NewFFmpeg(ffmpegBinary), nil
	default:
		return nil, fmt.Errorf("unknown encoder backend %q", backend)
	}
}
