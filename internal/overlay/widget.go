package overlay

import (
	"image"
	"image/color"
	"image/draw"
)

// Widget is something drawn over a preview frame
type Widget interface {
	// ID returns the unique identifier for this widget instance
	ID() string

	// Type returns the widget type name
	Type() string

	// Render draws the widget onto the frame
	Render(img *image.RGBA) error

	// IsEnabled returns whether the widget should be rendered
	IsEnabled() bool

	// SetEnabled sets whether the widget should be rendered
	SetEnabled(enabled bool)
}

// BaseWidget provides common functionality for all widgets
type BaseWidget struct {
	id      string
	enabled bool
	opacity float64 // 0.0 to 1.0
}

// NewBaseWidget creates a new base widget
func NewBaseWidget(id string, opacity float64) *BaseWidget {
	w := &BaseWidget{id: id, enabled: true}
	w.SetOpacity(opacity)
	return w
}

// ID returns the widget's unique identifier
func (w *BaseWidget) ID() string {
	return w.id
}

// IsEnabled returns whether the widget should be rendered
func (w *BaseWidget) IsEnabled() bool {
	return w.enabled
}

// SetEnabled sets whether the widget should be rendered
func (w *BaseWidget) SetEnabled(enabled bool) {
	w.enabled = enabled
}

// Opacity returns the widget's opacity
func (w *BaseWidget) Opacity() float64 {
	return w.opacity
}

// SetOpacity sets the widget's opacity (0.0 to 1.0)
func (w *BaseWidget) SetOpacity(opacity float64) {
	w.opacity = clampOpacity(opacity)
}

func clampOpacity(opacity float64) float64 {
	if opacity < 0.0 {
		return 0.0
	}
	if opacity > 1.0 {
		return 1.0
	}
	return opacity
}

// BlendImage composites src over dst with its top-left corner at (x, y),
// scaling src alpha by opacity. Pixels outside dst are clipped.
func BlendImage(dst *image.RGBA, src image.Image, x, y int, opacity float64) {
	opacity = clampOpacity(opacity)
	if opacity == 0 {
		return
	}

	sb := src.Bounds()
	r := image.Rect(x, y, x+sb.Dx(), y+sb.Dy())
	if opacity == 1 {
		draw.Draw(dst, r, src, sb.Min, draw.Over)
		return
	}

	mask := image.NewUniform(color.Alpha{A: uint8(opacity*255 + 0.5)})
	draw.DrawMask(dst, r, src, sb.Min, mask, image.Point{}, draw.Over)
}

// FillRect fills r with c at the given opacity
func FillRect(dst *image.RGBA, r image.Rectangle, c color.Color, opacity float64) {
	if opacity = clampOpacity(opacity); opacity == 0 {
		return
	}
	mask := image.NewUniform(color.Alpha{A: uint8(opacity*255 + 0.5)})
	draw.DrawMask(dst, r, &image.Uniform{C: c}, image.Point{}, mask, image.Point{}, draw.Over)
}

// FillCircle fills the disc centred on (cx, cy) with c at the given opacity
func FillCircle(dst *image.RGBA, cx, cy, radius int, c color.Color, opacity float64) {
	if radius <= 0 {
		return
	}
	if opacity = clampOpacity(opacity); opacity == 0 {
		return
	}

	r := image.Rect(cx-radius, cy-radius, cx+radius, cy+radius)
	mask := &disc{center: image.Pt(cx, cy), radius: radius, alpha: uint8(opacity*255 + 0.5)}
	draw.DrawMask(dst, r, &image.Uniform{C: c}, image.Point{}, mask, r.Min, draw.Over)
}

// disc is an alpha mask that is opaque inside a circle
type disc struct {
	center image.Point
	radius int
	alpha  uint8
}

func (d *disc) ColorModel() color.Model { return color.AlphaModel }

func (d *disc) Bounds() image.Rectangle {
	return image.Rect(d.center.X-d.radius, d.center.Y-d.radius, d.center.X+d.radius, d.center.Y+d.radius)
}

func (d *disc) At(x, y int) color.Color {
	dx := 2*(x-d.center.X) + 1
	dy := 2*(y-d.center.Y) + 1
	if dx*dx+dy*dy <= 4*d.radius*d.radius {
		return color.Alpha{A: d.alpha}
	}
	return color.Alpha{}
}
