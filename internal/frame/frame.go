// Package frame defines the raw camera snapshot handed from a frame source to
// the filter engine.
package frame

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg" // decoders for encoded snapshots
	_ "image/png"
	"time"
)

var (
	// ErrUnavailable means the source had no frame for this tick. It is not
	// fatal: the tick is skipped.
	ErrUnavailable = errors.New("frame unavailable")

	// ErrDecode means a snapshot could not be decoded into pixels
	ErrDecode = errors.New("frame decode failed")
)

// Raw is a single camera snapshot. Either Image is set (sources that already
// hold pixels) or Data holds an encoded JPEG/PNG image. A Raw is consumed by
// exactly one filter call and must not be modified after it is handed over.
type Raw struct {
	Image      image.Image
	Data       []byte
	CapturedAt time.Time
	Source     string
}

// FromRGBA wraps a decoded image
func FromRGBA(img *image.RGBA, source string, at time.Time) Raw {
	return Raw{Image: img, Source: source, CapturedAt: at}
}

// FromBytes wraps an encoded image
func FromBytes(data []byte, source string, at time.Time) Raw {
	return Raw{Data: data, Source: source, CapturedAt: at}
}

// Decode returns the frame pixels as RGBA with bounds starting at (0,0).
// Failures wrap ErrDecode.
func (r Raw) Decode() (*image.RGBA, error) {
	src := r.Image
	if src == nil {
		if len(r.Data) == 0 {
			return nil, fmt.Errorf("%w: empty frame from %q", ErrDecode, r.Source)
		}
		img, _, err := image.Decode(bytes.NewReader(r.Data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		src = img
	}

	b := src.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty bounds %v", ErrDecode, b)
	}

	if rgba, ok := src.(*image.RGBA); ok && b.Min == (image.Point{}) {
		return rgba, nil
	}

	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), src, b.Min, draw.Src)
	return out, nil
}
