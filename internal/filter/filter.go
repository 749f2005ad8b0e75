// Package filter implements the photo filter engine.
//
// Every capture goes through the same fixed pipeline:
//
//	Raw frame → centre square crop → horizontal mirror → filter → JPEG Photo
//
// The pipeline is pure and deterministic: it holds no shared state and the
// same frame and Kind always produce the same pixels.
package filter

import (
	"fmt"
	"image"
	"strings"

	"github.com/bryanchriswhite/PhotoBooth/internal/frame"
)

// Kind selects the pixel transform applied after crop and mirror
type Kind string

const (
	None         Kind = "none"
	Grayscale    Kind = "grayscale"
	Vintage      Kind = "vintage"
	HandheldBlur Kind = "handheld"
)

// Kinds lists every filter in display order
var Kinds = []Kind{None, Vintage, Grayscale, HandheldBlur}

// Effect transforms a square RGBA image into a new image of the same size
type Effect interface {
	Apply(src *image.RGBA) *image.RGBA
	Name() string
}

// ParseKind accepts the canonical names plus a few aliases used by clients
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "normal":
		return None, nil
	case "grayscale", "greyscale", "bw":
		return Grayscale, nil
	case "vintage", "sepia":
		return Vintage, nil
	case "handheld", "handheld-blur", "blur":
		return HandheldBlur, nil
	default:
		return "", fmt.Errorf("unknown filter %q", s)
	}
}

// Valid reports whether k is one of the known filters
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Label is the human readable filter name
func (k Kind) Label() string {
	switch k {
	case None:
		return "Normal"
	case Grayscale:
		return "Black & White"
	case Vintage:
		return "Vintage"
	case HandheldBlur:
		return "Handheld"
	default:
		return string(k)
	}
}

// EffectFor returns the effect implementing k
func EffectFor(k Kind) (Effect, error) {
	switch k {
	case None:
		return identity{}, nil
	case Grayscale:
		return grayscale{}, nil
	case Vintage:
		return vintage{factor: vintageFactor}, nil
	case HandheldBlur:
		return boxBlur{radius: blurRadius}, nil
	default:
		return nil, fmt.Errorf("unknown filter %q", k)
	}
}

// Process runs crop, mirror and the filter and returns the raw pixels.
// Decode failures wrap frame.ErrDecode.
func Process(raw frame.Raw, k Kind) (*image.RGBA, error) {
	effect, err := EffectFor(k)
	if err != nil {
		return nil, err
	}

	src, err := raw.Decode()
	if err != nil {
		return nil, err
	}

	return effect.Apply(MirrorCrop(src)), nil
}

// MirrorCrop crops the centred min(w,h) square and flips it about the
// vertical axis in one pass.
func MirrorCrop(src *image.RGBA) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	size := min(w, h)
	startX := b.Min.X + (w-size)/2
	startY := b.Min.Y + (h-size)/2

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		srcRow := src.PixOffset(startX, startY+y)
		dstRow := dst.PixOffset(0, y)
		for x := 0; x < size; x++ {
			s := srcRow + (size-1-x)*4
			d := dstRow + x*4
			copy(dst.Pix[d:d+4], src.Pix[s:s+4])
		}
	}
	return dst
}

type identity struct{}

func (identity) Apply(src *image.RGBA) *image.RGBA { return src }
func (identity) Name() string                      { return string(None) }
