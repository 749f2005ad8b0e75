package overlay

import (
	"image"
	"image/color"
	"strconv"
	"sync"

	"golang.org/x/image/font"
)

// CountdownWidget draws the remaining seconds as a round badge in the middle
// of the frame, with an optional caption underneath ("Session 2 in").
type CountdownWidget struct {
	*BaseWidget
	mu        sync.RWMutex
	remaining int
	caption   string

	digitFace   font.Face
	captionFace font.Face
	badgeColor  color.RGBA
	textColor   color.RGBA
}

// NewCountdownWidget creates a hidden countdown badge
func NewCountdownWidget(id string) *CountdownWidget {
	return &CountdownWidget{
		BaseWidget:  NewBaseWidget(id, 0.85),
		digitFace:   Face(Bold, 96),
		captionFace: Face(Regular, 28),
		badgeColor:  color.RGBA{0, 0, 0, 255},
		textColor:   color.RGBA{255, 255, 255, 255},
	}
}

// Type returns the widget type
func (w *CountdownWidget) Type() string {
	return "countdown"
}

// Set shows n with an optional caption; n <= 0 hides the badge
func (w *CountdownWidget) Set(n int, caption string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.remaining = n
	w.caption = caption
}

// Clear hides the badge
func (w *CountdownWidget) Clear() {
	w.Set(0, "")
}

// Remaining returns the number currently displayed, 0 when hidden
func (w *CountdownWidget) Remaining() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.remaining
}

// Render draws the badge centred on the frame
func (w *CountdownWidget) Render(img *image.RGBA) error {
	w.mu.RLock()
	n, caption := w.remaining, w.caption
	w.mu.RUnlock()

	if !w.IsEnabled() || n <= 0 {
		return nil
	}

	b := img.Bounds()
	cx := b.Min.X + b.Dx()/2
	cy := b.Min.Y + b.Dy()/2
	radius := min(b.Dx(), b.Dy()) / 6
	if radius < 16 {
		radius = 16
	}

	FillCircle(img, cx, cy, radius, w.badgeColor, w.opacity)

	digits := strconv.Itoa(n)
	m := w.digitFace.Metrics()
	baseline := cy + (m.Ascent.Ceil()-m.Descent.Ceil())/2
	DrawTextCentered(img, w.digitFace, digits, cx, baseline, w.textColor)

	if caption != "" {
		capBaseline := cy + radius + w.captionFace.Metrics().Height.Ceil() + 8
		width := MeasureText(w.captionFace, caption)
		box := image.Rect(cx-width/2-10, cy+radius+4, cx+width/2+10, capBaseline+12)
		FillRect(img, box, w.badgeColor, w.opacity)
		DrawTextCentered(img, w.captionFace, caption, cx, capBaseline, w.textColor)
	}
	return nil
}
