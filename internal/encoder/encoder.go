// Package encoder turns a sequence of RGBA frames into a playable video.
//
// An Encoder is started with a Config that carries a container/codec
// preference list; the encoder resolves it to the first profile it can
// actually build and reports the chosen MIME type on the Stream.
package encoder

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
)

var (
	// ErrUnavailable means no preference could be satisfied
	ErrUnavailable = errors.New("encoder unavailable")

	// ErrBufferFull means the encoded output exceeded the configured bound
	ErrBufferFull = errors.New("encoder output buffer full")

	// ErrStopped means a frame was pushed after Stop
	ErrStopped = errors.New("encoder stream stopped")
)

// Config describes the stream to encode
type Config struct {
	Width  int
	Height int
	FPS    int
	// Bitrate is the target bitrate in bits per second
	Bitrate int
	// MimeTypes lists container/codec choices in order of preference
	MimeTypes []string
	// MaxBufferBytes bounds the encoded output held in memory
	MaxBufferBytes int
}

// DefaultMimeTypes is the preference list used when none is configured
var DefaultMimeTypes = []string{"video/webm;codecs=vp8", "video/webm", "video/mp4"}

// DefaultConfig is a 1080x1920 portrait clip at 30 fps and 2.5 Mbps
func DefaultConfig() Config {
	return Config{
		Width:          1080,
		Height:         1920,
		FPS:            30,
		Bitrate:        2_500_000,
		MimeTypes:      DefaultMimeTypes,
		MaxBufferBytes: 64 << 20,
	}
}

// Validate checks the config can describe a stream
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", c.Width, c.Height)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("invalid frame rate %d", c.FPS)
	}
	if c.Bitrate <= 0 {
		return fmt.Errorf("invalid bitrate %d", c.Bitrate)
	}
	if len(c.MimeTypes) == 0 {
		return errors.New("no mime types configured")
	}
	return nil
}

// Result is the finished clip
type Result struct {
	Data     []byte
	MimeType string
}

// Extension returns the file extension for the clip's container
func (r Result) Extension() string {
	return ExtensionFor(r.MimeType)
}

// Encoder creates encoding streams
type Encoder interface {
	// Start negotiates a profile and begins a stream. It returns an error
	// wrapping ErrUnavailable when no preference can be satisfied.
	Start(ctx context.Context, cfg Config) (Stream, error)
	Name() string
}

// Stream accepts frames in order and yields the encoded bytes on Stop.
// A Stream is owned by a single caller.
type Stream interface {
	PushFrame(img *image.RGBA) error
	// Stop flushes the encoder and returns the clip. It gives up when ctx
	// is done; partial output is never returned as success.
	Stop(ctx context.Context) (Result, error)
	// Abort tears the stream down and discards any output
	Abort()
	MimeType() string
}

// ExtensionFor maps a MIME type to a file extension
func ExtensionFor(mime string) string {
	base, _, _ := strings.Cut(mime, ";")
	switch strings.TrimSpace(strings.ToLower(base)) {
	case "video/webm":
		return "webm"
	case "video/mp4":
		return "mp4"
	case "video/x-matroska":
		return "mkv"
	default:
		return "bin"
	}
}

func checkFrame(img *image.RGBA, cfg Config) error {
	if img == nil {
		return errors.New("nil frame")
	}
	b := img.Bounds()
	if b.Dx() != cfg.Width || b.Dy() != cfg.Height {
		return fmt.Errorf("frame is %dx%d, stream is %dx%d", b.Dx(), b.Dy(), cfg.Width, cfg.Height)
	}
	return nil
}

// framePixels returns the tightly packed RGBA bytes of img
func framePixels(img *image.RGBA) []byte {
	b := img.Bounds()
	rowBytes := b.Dx() * 4
	if img.Stride == rowBytes && b.Min == (image.Point{}) {
		return append([]byte(nil), img.Pix[:rowBytes*b.Dy()]...)
	}

	out := make([]byte, 0, rowBytes*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := img.PixOffset(b.Min.X, y)
		out = append(out, img.Pix[off:off+rowBytes]...)
	}
	return out
}
