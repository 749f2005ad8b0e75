// Package video renders a looping clip that cycles through a run's strips.
package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"time"

	xdraw "golang.org/x/image/draw"

	"github.com/bryanchriswhite/PhotoBooth/internal/clock"
	"github.com/bryanchriswhite/PhotoBooth/internal/encoder"
	"github.com/bryanchriswhite/PhotoBooth/internal/logger"
	"github.com/bryanchriswhite/PhotoBooth/internal/strip"
)

var (
	// ErrNoStrips means there was nothing to animate
	ErrNoStrips = errors.New("no strips to synthesize")

	// ErrEncoderTimeout means the encoder did not finish within the
	// configured bound after the last frame
	ErrEncoderTimeout = errors.New("encoder did not finish in time")
)

// Config controls the clip timing and encoding
type Config struct {
	Duration time.Duration
	// Encoder carries size, frame rate, bitrate and MIME preferences
	Encoder encoder.Config
	// EncoderTimeout bounds the wait for the encoder after the last frame
	EncoderTimeout time.Duration
}

// DefaultConfig is a 15 second clip at 30 fps
func DefaultConfig() Config {
	return Config{
		Duration:       15 * time.Second,
		Encoder:        encoder.DefaultConfig(),
		EncoderTimeout: 30 * time.Second,
	}
}

// TotalFrames is the number of frames in a full clip
func (c Config) TotalFrames() int {
	return int(c.Duration * time.Duration(c.Encoder.FPS) / time.Second)
}

// PerStrip is how long each of m strips stays on screen
func (c Config) PerStrip(m int) time.Duration {
	if m <= 0 {
		return 0
	}
	return c.Duration / time.Duration(m)
}

// StripAt is the strip shown at elapsed time t when cycling m strips
func StripAt(t, perStrip time.Duration, m int) int {
	if m <= 0 || perStrip <= 0 {
		return 0
	}
	return int(t/perStrip) % m
}

// Clip is a finished video
type Clip struct {
	Data      []byte
	MimeType  string
	Strips    int
	Frames    int
	PerStrip  time.Duration
	Duration  time.Duration
	CreatedAt time.Time
}

// Extension is the file extension for the clip container
func (c Clip) Extension() string {
	return encoder.ExtensionFor(c.MimeType)
}

// Progress is called after each pushed frame
type Progress func(frame, total int)

// Synthesizer drives an encoder with one frame per tick, choosing the strip
// from elapsed time rather than the frame counter
type Synthesizer struct {
	enc      encoder.Encoder
	clk      clock.Scheduler
	cfg      Config
	progress Progress
}

// NewSynthesizer creates a synthesizer
func NewSynthesizer(enc encoder.Encoder, clk clock.Scheduler, cfg Config) *Synthesizer {
	return &Synthesizer{enc: enc, clk: clk, cfg: cfg}
}

// OnProgress registers a progress callback
func (s *Synthesizer) OnProgress(p Progress) {
	s.progress = p
}

// Config returns the synthesizer configuration
func (s *Synthesizer) Config() Config {
	return s.cfg
}

// Synthesize renders strips into a clip. Strips are decoded before the
// encoder is started; an encoder that cannot start aborts before any frame
// is produced.
func (s *Synthesizer) Synthesize(ctx context.Context, strips []strip.Strip) (Clip, error) {
	log := logger.WithComponent("video")

	if len(strips) == 0 {
		return Clip{}, ErrNoStrips
	}
	if s.cfg.Duration <= 0 || s.cfg.Encoder.FPS <= 0 || s.cfg.TotalFrames() <= 0 {
		return Clip{}, fmt.Errorf("%w: invalid clip timing", encoder.ErrUnavailable)
	}

	frames, err := s.prepareFrames(strips)
	if err != nil {
		return Clip{}, err
	}

	stream, err := s.enc.Start(ctx, s.cfg.Encoder)
	if err != nil {
		return Clip{}, fmt.Errorf("starting encoder: %w", err)
	}

	m := len(frames)
	perStrip := s.cfg.PerStrip(m)
	total := s.cfg.TotalFrames()
	start := s.clk.Now()

	log.Info().
		Int("strips", m).
		Dur("per_strip", perStrip).
		Int("frames", total).
		Str("mime", stream.MimeType()).
		Msg("Video synthesis started")

	pushed := 0
	for {
		elapsed := s.clk.Now().Sub(start)
		if elapsed >= s.cfg.Duration {
			break
		}

		if err := stream.PushFrame(frames[StripAt(elapsed, perStrip, m)]); err != nil {
			stream.Abort()
			return Clip{}, fmt.Errorf("pushing frame %d: %w", pushed, err)
		}
		pushed++
		if s.progress != nil {
			s.progress(pushed, total)
		}

		next := start.Add(s.cfg.Duration * time.Duration(pushed) / time.Duration(total))
		if err := clock.Sleep(ctx, s.clk, next.Sub(s.clk.Now())); err != nil {
			stream.Abort()
			return Clip{}, fmt.Errorf("video synthesis cancelled: %w", err)
		}
	}

	stopCtx := ctx
	if s.cfg.EncoderTimeout > 0 {
		var cancel context.CancelFunc
		stopCtx, cancel = context.WithTimeout(ctx, s.cfg.EncoderTimeout)
		defer cancel()
	}

	res, err := stream.Stop(stopCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return Clip{}, fmt.Errorf("%w: %v", ErrEncoderTimeout, err)
		}
		return Clip{}, fmt.Errorf("finishing encoder: %w", err)
	}

	clip := Clip{
		Data:      res.Data,
		MimeType:  res.MimeType,
		Strips:    m,
		Frames:    pushed,
		PerStrip:  perStrip,
		Duration:  s.cfg.Duration,
		CreatedAt: s.clk.Now(),
	}

	log.Info().
		Int("frames", pushed).
		Int("bytes", len(clip.Data)).
		Str("mime", clip.MimeType).
		Msg("Video synthesis finished")

	return clip, nil
}

// prepareFrames decodes each strip and fits it to the output frame size
func (s *Synthesizer) prepareFrames(strips []strip.Strip) ([]*image.RGBA, error) {
	w, h := s.cfg.Encoder.Width, s.cfg.Encoder.Height
	frames := make([]*image.RGBA, len(strips))

	for i, st := range strips {
		img, err := st.Decode()
		if err != nil {
			return nil, fmt.Errorf("strip %d: %w", i+1, err)
		}

		frame := image.NewRGBA(image.Rect(0, 0, w, h))
		if img.Bounds().Dx() == w && img.Bounds().Dy() == h {
			draw.Draw(frame, frame.Bounds(), img, img.Bounds().Min, draw.Src)
		} else {
			xdraw.ApproxBiLinear.Scale(frame, frame.Bounds(), img, img.Bounds(), xdraw.Src, nil)
		}
		frames[i] = frame
	}
	return frames, nil
}
