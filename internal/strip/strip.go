// Package strip composes session photos into a printable 1080x1920 strip.
package strip

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"time"

	xdraw "golang.org/x/image/draw"

	"github.com/bryanchriswhite/PhotoBooth/internal/filter"
	"github.com/bryanchriswhite/PhotoBooth/internal/logger"
	"github.com/bryanchriswhite/PhotoBooth/internal/overlay"
)

var (
	// ErrLayout means the photos do not match the requested layout
	ErrLayout = errors.New("strip layout mismatch")

	// ErrAssetLoad means a photo could not be decoded while composing
	ErrAssetLoad = errors.New("strip asset load failed")
)

// TimestampLayout renders as DD/MM/YYYY, HH:MM
const TimestampLayout = "02/01/2006, 15:04"

// FontSize of the footer timestamp
const FontSize = 24

var (
	borderColor      = color.RGBA{0, 0, 0, 255}
	interiorColor    = color.RGBA{255, 255, 255, 255}
	placeholderColor = color.RGBA{0xf0, 0xf0, 0xf0, 255}
	dividerColor     = color.RGBA{0, 0, 0, 255}
	timestampColor   = color.RGBA{0x66, 0x66, 0x66, 255}
)

// Strip is a rendered, PNG encoded composite of one session
type Strip struct {
	Data       []byte
	Width      int
	Height     int
	PhotoCount int
	Filter     filter.Kind
	Timestamp  time.Time
}

// Decode re-reads the strip pixels
func (s Strip) Decode() (image.Image, error) {
	if len(s.Data) == 0 {
		return nil, fmt.Errorf("%w: strip has no data", ErrAssetLoad)
	}
	img, err := png.Decode(bytes.NewReader(s.Data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAssetLoad, err)
	}
	return img, nil
}

// Compositor renders strips. The timestamp is shown in loc.
type Compositor struct {
	loc *time.Location
}

// NewCompositor creates a compositor; a nil location means local time
func NewCompositor(loc *time.Location) *Compositor {
	if loc == nil {
		loc = time.Local
	}
	return &Compositor{loc: loc}
}

// FormatTimestamp renders t the way it appears in the footer
func (c *Compositor) FormatTimestamp(t time.Time) string {
	return t.In(c.loc).Format(TimestampLayout)
}

// Compose lays out exactly n photos and encodes the strip as PNG
func (c *Compositor) Compose(photos []filter.Photo, n int, at time.Time) (Strip, error) {
	if len(photos) != n {
		return Strip{}, fmt.Errorf("%w: have %d photos, want %d", ErrLayout, len(photos), n)
	}

	images := make([]image.Image, len(photos))
	for i, p := range photos {
		img, err := p.Decode()
		if err != nil {
			return Strip{}, fmt.Errorf("%w: photo %d: %v", ErrAssetLoad, i+1, err)
		}
		images[i] = img
	}

	canvas, err := c.Render(images, n, at)
	if err != nil {
		return Strip{}, err
	}

	buf := new(bytes.Buffer)
	if err := png.Encode(buf, canvas); err != nil {
		return Strip{}, fmt.Errorf("failed to encode strip: %w", err)
	}

	kind := filter.None
	if len(photos) > 0 {
		kind = photos[0].Filter
	}

	logger.WithComponent("strip").Debug().
		Int("photos", n).
		Str("filter", string(kind)).
		Int("bytes", buf.Len()).
		Msg("Strip composed")

	return Strip{
		Data:       buf.Bytes(),
		Width:      CanvasWidth,
		Height:     CanvasHeight,
		PhotoCount: n,
		Filter:     kind,
		Timestamp:  at,
	}, nil
}

// Render draws the strip. Nil entries in images leave a placeholder slot;
// len(images) must still equal n.
func (c *Compositor) Render(images []image.Image, n int, at time.Time) (*image.RGBA, error) {
	layout, err := LayoutFor(n)
	if err != nil {
		return nil, err
	}
	if len(images) != n {
		return nil, fmt.Errorf("%w: have %d images, want %d", ErrLayout, len(images), n)
	}

	canvas := image.NewRGBA(image.Rect(0, 0, CanvasWidth, CanvasHeight))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(borderColor), image.Point{}, draw.Src)
	interior := image.Rect(BorderWidth, BorderWidth, CanvasWidth-BorderWidth, CanvasHeight-BorderWidth)
	draw.Draw(canvas, interior, image.NewUniform(interiorColor), image.Point{}, draw.Src)

	for i, img := range images {
		cell := layout.CellRect(i)
		draw.Draw(canvas, cell, image.NewUniform(placeholderColor), image.Point{}, draw.Src)
		if img != nil {
			xdraw.BiLinear.Scale(canvas, cell, img, img.Bounds(), xdraw.Over, nil)
		}
	}

	draw.Draw(canvas, layout.DividerRect(), image.NewUniform(dividerColor), image.Point{}, draw.Src)

	face := overlay.Face(overlay.Regular, FontSize)
	overlay.DrawTextCentered(canvas, face, c.FormatTimestamp(at), CanvasWidth/2, layout.TimestampBaseline(), timestampColor)

	return canvas, nil
}
