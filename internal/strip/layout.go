package strip

import (
	"fmt"
	"image"
)

// Canvas and frame constants, in pixels
const (
	CanvasWidth  = 1080
	CanvasHeight = 1920
	Padding      = 80
	BorderWidth  = 20
	FooterHeight = 280
	Gap          = 24

	// dividerOffset is the distance between the grid and the footer divider
	dividerOffset = 40
	// dividerInset keeps the divider inside the padded area
	dividerInset = 20
	// dividerWidth is the stroke width of the footer divider
	dividerWidth = 3
	// timestampOffset is the distance from the divider to the timestamp baseline
	timestampOffset = 50
)

// Layout is the photo grid geometry for one photo count
type Layout struct {
	Count   int
	Cols    int
	Rows    int
	Cell    int
	OffsetX int
	OffsetY int
}

// ValidCount reports whether n photos can be laid out
func ValidCount(n int) bool {
	return n == 3 || n == 4 || n == 6
}

// LayoutFor computes the grid for n photos on the standard canvas
func LayoutFor(n int) (Layout, error) {
	var cols, rows int
	switch n {
	case 3:
		cols, rows = 1, 3
	case 4:
		cols, rows = 2, 2
	case 6:
		cols, rows = 2, 3
	default:
		return Layout{}, fmt.Errorf("%w: unsupported photo count %d", ErrLayout, n)
	}

	availableWidth := CanvasWidth - 2*Padding - 2*BorderWidth
	availableHeight := CanvasHeight - 2*Padding - 2*BorderWidth - FooterHeight

	cell := min(
		(availableWidth-Gap*(cols-1))/cols,
		(availableHeight-Gap*(rows-1))/rows,
	)
	if cell <= 0 {
		return Layout{}, fmt.Errorf("%w: no room for %d photos", ErrLayout, n)
	}

	return Layout{
		Count:   n,
		Cols:    cols,
		Rows:    rows,
		Cell:    cell,
		OffsetX: (CanvasWidth - (cell*cols + Gap*(cols-1))) / 2,
		OffsetY: BorderWidth + Padding,
	}, nil
}

// CellRect returns the slot of the i-th photo, row-major
func (l Layout) CellRect(i int) image.Rectangle {
	col, row := i%l.Cols, i/l.Cols
	x := l.OffsetX + col*(l.Cell+Gap)
	y := l.OffsetY + row*(l.Cell+Gap)
	return image.Rect(x, y, x+l.Cell, y+l.Cell)
}

// GridBottom is the y coordinate just below the last row
func (l Layout) GridBottom() int {
	return l.OffsetY + l.Rows*l.Cell + (l.Rows-1)*Gap
}

// FooterY is the y coordinate of the footer divider
func (l Layout) FooterY() int {
	return l.GridBottom() + dividerOffset
}

// DividerRect is the footer divider, centred on FooterY
func (l Layout) DividerRect() image.Rectangle {
	y := l.FooterY() - dividerWidth/2
	return image.Rect(
		BorderWidth+Padding+dividerInset, y,
		CanvasWidth-BorderWidth-Padding-dividerInset, y+dividerWidth,
	)
}

// TimestampBaseline is the baseline of the footer timestamp
func (l Layout) TimestampBaseline() int {
	return l.FooterY() + timestampOffset
}
