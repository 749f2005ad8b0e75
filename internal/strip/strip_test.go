package strip

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/PhotoBooth/internal/filter"
)

var (
	white = color.RGBA{255, 255, 255, 255}
	black = color.RGBA{0, 0, 0, 255}
)

var palette = []color.RGBA{
	{220, 40, 40, 255},
	{40, 160, 60, 255},
	{30, 60, 200, 255},
	{230, 200, 30, 255},
	{150, 40, 170, 255},
	{20, 170, 180, 255},
}

func solidPhoto(t *testing.T, c color.RGBA, size int) filter.Photo {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	data, err := filter.EncodeJPEG(img, filter.PhotoQuality)
	require.NoError(t, err)
	return filter.Photo{Data: data, Size: size, Filter: filter.Vintage}
}

func assertColorNear(t *testing.T, want color.RGBA, got color.Color, msgAndArgs ...interface{}) {
	t.Helper()
	r, g, b, _ := got.RGBA()
	assert.InDelta(t, int(want.R), int(r>>8), 12, msgAndArgs...)
	assert.InDelta(t, int(want.G), int(g>>8), 12, msgAndArgs...)
	assert.InDelta(t, int(want.B), int(b>>8), 12, msgAndArgs...)
}

func rgbaAt(img image.Image, x, y int) color.RGBA {
	return color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
}

func TestLayoutFor(t *testing.T) {
	tests := []struct {
		n          int
		cols, rows int
		cell       int
		offsetX    int
		gridBottom int
	}{
		{3, 1, 3, 464, 308, 1540},
		{4, 2, 2, 428, 100, 980},
		{6, 2, 3, 428, 100, 1432},
	}

	for _, tt := range tests {
		l, err := LayoutFor(tt.n)
		require.NoError(t, err)

		assert.Equal(t, tt.cols, l.Cols, "n=%d", tt.n)
		assert.Equal(t, tt.rows, l.Rows, "n=%d", tt.n)
		assert.Equal(t, tt.cell, l.Cell, "n=%d", tt.n)
		assert.Equal(t, tt.offsetX, l.OffsetX, "n=%d", tt.n)
		assert.Equal(t, BorderWidth+Padding, l.OffsetY)
		assert.Equal(t, tt.gridBottom, l.GridBottom(), "n=%d", tt.n)
		assert.Equal(t, tt.gridBottom+40, l.FooterY())
		assert.Equal(t, tt.gridBottom+90, l.TimestampBaseline())
	}
}

func TestLayoutRejectsUnsupportedCounts(t *testing.T) {
	for _, n := range []int{-1, 0, 1, 2, 5, 7, 9} {
		_, err := LayoutFor(n)
		assert.ErrorIs(t, err, ErrLayout, "n=%d", n)
		assert.False(t, ValidCount(n))
	}
}

func TestLayoutCellsFitInsideInterior(t *testing.T) {
	interior := image.Rect(BorderWidth+Padding, BorderWidth+Padding,
		CanvasWidth-BorderWidth-Padding, CanvasHeight-BorderWidth-Padding-FooterHeight)

	for _, n := range []int{3, 4, 6} {
		l, err := LayoutFor(n)
		require.NoError(t, err)
		require.Positive(t, l.Cell)

		for i := 0; i < n; i++ {
			cell := l.CellRect(i)
			assert.Equal(t, l.Cell, cell.Dx())
			assert.Equal(t, l.Cell, cell.Dy())
			assert.True(t, cell.In(interior), "n=%d cell %d %v outside %v", n, i, cell, interior)

			for j := i + 1; j < n; j++ {
				assert.False(t, cell.Overlaps(l.CellRect(j)), "n=%d cells %d and %d overlap", n, i, j)
			}
		}

		// grid is horizontally centred
		first, last := l.CellRect(0), l.CellRect(l.Cols-1)
		assert.InDelta(t, CanvasWidth-last.Max.X, first.Min.X, 1)
	}
}

func TestComposeRoundTripGeometry(t *testing.T) {
	at := time.Date(2024, 3, 5, 14, 7, 0, 0, time.UTC)
	c := NewCompositor(time.UTC)

	for _, n := range []int{3, 4, 6} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			photos := make([]filter.Photo, n)
			for i := range photos {
				photos[i] = solidPhoto(t, palette[i], 64)
			}

			s, err := c.Compose(photos, n, at)
			require.NoError(t, err)
			assert.Equal(t, n, s.PhotoCount)
			assert.Equal(t, filter.Vintage, s.Filter)

			img, err := s.Decode()
			require.NoError(t, err)
			require.Equal(t, image.Rect(0, 0, CanvasWidth, CanvasHeight), img.Bounds())

			l, err := LayoutFor(n)
			require.NoError(t, err)

			for i := 0; i < n; i++ {
				cell := l.CellRect(i)
				mid := image.Pt((cell.Min.X+cell.Max.X)/2, (cell.Min.Y+cell.Max.Y)/2)
				assertColorNear(t, palette[i], img.At(mid.X, mid.Y), "cell %d centre", i)
				assertColorNear(t, palette[i], img.At(cell.Min.X+2, cell.Min.Y+2), "cell %d top-left", i)
				assertColorNear(t, palette[i], img.At(cell.Max.X-3, cell.Max.Y-3), "cell %d bottom-right", i)

				// just outside every cell is white interior or gap
				assert.Equal(t, white, rgbaAt(img, cell.Min.X-1, mid.Y), "left of cell %d", i)
				assert.Equal(t, white, rgbaAt(img, cell.Max.X, mid.Y), "right of cell %d", i)
				assert.Equal(t, white, rgbaAt(img, mid.X, cell.Min.Y-1), "above cell %d", i)
				assert.Equal(t, white, rgbaAt(img, mid.X, cell.Max.Y), "below cell %d", i)
			}

			// black frame
			assert.Equal(t, black, rgbaAt(img, 5, 5))
			assert.Equal(t, black, rgbaAt(img, CanvasWidth-1, CanvasHeight-1))
			assert.Equal(t, white, rgbaAt(img, BorderWidth, BorderWidth))

			// divider spans the inset width at FooterY
			div := l.DividerRect()
			assert.Equal(t, 3, div.Dy())
			assert.Equal(t, black, rgbaAt(img, CanvasWidth/2, l.FooterY()))
			assert.Equal(t, black, rgbaAt(img, div.Min.X, l.FooterY()))
			assert.Equal(t, white, rgbaAt(img, div.Min.X-1, l.FooterY()))
			assert.Equal(t, white, rgbaAt(img, div.Max.X, l.FooterY()))
			assert.Equal(t, white, rgbaAt(img, CanvasWidth/2, l.FooterY()-3))

			// timestamp ink sits around the centred baseline
			inked := 0
			for y := l.TimestampBaseline() - 24; y <= l.TimestampBaseline()+4; y++ {
				for x := CanvasWidth/2 - 150; x < CanvasWidth/2+150; x++ {
					if rgbaAt(img, x, y) != white {
						inked++
					}
				}
			}
			assert.Greater(t, inked, 50)
		})
	}
}

func TestComposeLayoutMismatch(t *testing.T) {
	c := NewCompositor(time.UTC)
	photos := []filter.Photo{solidPhoto(t, palette[0], 8), solidPhoto(t, palette[1], 8)}

	_, err := c.Compose(photos, 3, time.Now())
	assert.ErrorIs(t, err, ErrLayout)

	_, err = c.Compose(append(photos, solidPhoto(t, palette[2], 8)), 5, time.Now())
	assert.ErrorIs(t, err, ErrLayout)
}

func TestComposeAssetLoadFailure(t *testing.T) {
	c := NewCompositor(time.UTC)
	photos := []filter.Photo{
		solidPhoto(t, palette[0], 8),
		{Data: []byte("corrupt"), Size: 8},
		solidPhoto(t, palette[2], 8),
	}

	_, err := c.Compose(photos, 3, time.Now())
	assert.ErrorIs(t, err, ErrAssetLoad)
	assert.NotErrorIs(t, err, ErrLayout)
}

func TestRenderPlaceholderForMissingSlot(t *testing.T) {
	c := NewCompositor(time.UTC)
	img, err := c.Render(make([]image.Image, 4), 4, time.Now())
	require.NoError(t, err)

	l, _ := LayoutFor(4)
	for i := 0; i < 4; i++ {
		cell := l.CellRect(i)
		assert.Equal(t, placeholderColor, img.RGBAAt(cell.Min.X+10, cell.Min.Y+10))
	}
}

func TestFormatTimestamp(t *testing.T) {
	at := time.Date(2024, 3, 5, 14, 7, 59, 0, time.UTC)

	assert.Equal(t, "05/03/2024, 14:07", NewCompositor(time.UTC).FormatTimestamp(at))

	jakarta := time.FixedZone("WIB", 7*60*60)
	assert.Equal(t, "05/03/2024, 21:07", NewCompositor(jakarta).FormatTimestamp(at))

	late := time.Date(2024, 12, 31, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "01/01/2025, 00:30", NewCompositor(time.FixedZone("", 3600)).FormatTimestamp(late))
}

func TestStripDecodeEmpty(t *testing.T) {
	_, err := Strip{}.Decode()
	assert.ErrorIs(t, err, ErrAssetLoad)
}
