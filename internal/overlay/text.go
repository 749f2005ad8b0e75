package overlay

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"

	"github.com/bryanchriswhite/PhotoBooth/internal/logger"
)

// Weight selects one of the bundled Go fonts
type Weight int

const (
	Regular Weight = iota
	Bold
)

var (
	parseOnce   sync.Once
	parsedFonts map[Weight]*sfnt.Font
	parseErr    error
)

func parseFonts() {
	parsedFonts = make(map[Weight]*sfnt.Font, 2)
	for w, ttf := range map[Weight][]byte{Regular: goregular.TTF, Bold: gobold.TTF} {
		f, err := opentype.Parse(ttf)
		if err != nil {
			parseErr = fmt.Errorf("failed to parse bundled font: %w", err)
			return
		}
		parsedFonts[w] = f
	}
}

// LoadFace returns a face of the bundled Go font at size pixels
func LoadFace(w Weight, size float64) (font.Face, error) {
	parseOnce.Do(parseFonts)
	if parseErr != nil {
		return nil, parseErr
	}

	face, err := opentype.NewFace(parsedFonts[w], &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %.0fpx face: %w", size, err)
	}
	return face, nil
}

// Face is LoadFace falling back to the fixed 7x13 bitmap font
func Face(w Weight, size float64) font.Face {
	face, err := LoadFace(w, size)
	if err != nil {
		logger.WithComponent("overlay").Warn().Err(err).Msg("Falling back to basic font")
		return basicfont.Face7x13
	}
	return face
}

// MeasureText returns the advance width of text in pixels
func MeasureText(face font.Face, text string) int {
	return font.MeasureString(face, text).Ceil()
}

// DrawText draws text with its baseline origin at (x, baseline)
func DrawText(dst *image.RGBA, face font.Face, text string, x, baseline int, c color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, baseline),
	}
	d.DrawString(text)
}

// DrawTextCentered draws text horizontally centred on centerX
func DrawTextCentered(dst *image.RGBA, face font.Face, text string, centerX, baseline int, c color.Color) {
	DrawText(dst, face, text, centerX-MeasureText(face, text)/2, baseline, c)
}

// TextWidget draws a short label, optionally on a translucent background
type TextWidget struct {
	*BaseWidget
	mu        sync.RWMutex
	text      string
	x, y      int
	face      font.Face
	textColor color.RGBA
	bgColor   *color.RGBA // Optional background color
	padding   int
}

// NewTextWidget creates a text widget anchored at (x, y)
func NewTextWidget(id string, x, y int, face font.Face) *TextWidget {
	return &TextWidget{
		BaseWidget: NewBaseWidget(id, 1.0),
		x:          x,
		y:          y,
		face:       face,
		textColor:  color.RGBA{255, 255, 255, 255},
		padding:    8,
	}
}

// Type returns the widget type
func (w *TextWidget) Type() string {
	return "text"
}

// Render draws the label; an empty label draws nothing
func (w *TextWidget) Render(img *image.RGBA) error {
	w.mu.RLock()
	text, bg, fg := w.text, w.bgColor, w.textColor
	w.mu.RUnlock()

	if !w.IsEnabled() || text == "" {
		return nil
	}

	metrics := w.face.Metrics()
	ascent := metrics.Ascent.Ceil()
	height := metrics.Height.Ceil()
	width := MeasureText(w.face, text)

	if bg != nil {
		box := image.Rect(w.x, w.y, w.x+width+w.padding*2, w.y+height+w.padding*2)
		FillRect(img, box, *bg, w.opacity)
	}

	layer := image.NewRGBA(image.Rect(0, 0, width, height))
	DrawText(layer, w.face, text, 0, ascent, fg)
	BlendImage(img, layer, w.x+w.padding, w.y+w.padding, w.opacity)
	return nil
}

// SetText updates the text content
func (w *TextWidget) SetText(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.text = text
}

// Text returns the current text
func (w *TextWidget) Text() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.text
}

// SetColor sets the text color
func (w *TextWidget) SetColor(c color.RGBA) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.textColor = c
}

// SetBackground sets the background color (nil for transparent)
func (w *TextWidget) SetBackground(c *color.RGBA) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.bgColor = c
}
