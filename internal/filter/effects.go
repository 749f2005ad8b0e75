package filter

import (
	"image"
	"math"

	xdraw "golang.org/x/image/draw"
)

const (
	// vintageFactor is the downsample divisor for the low fidelity look
	vintageFactor = 3
	// blurRadius gives a 5x5 window
	blurRadius = 2
)

// grayscale replaces R, G and B with their truncated integer mean
type grayscale struct{}

func (grayscale) Name() string { return string(Grayscale) }

func (grayscale) Apply(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)

	for i := 0; i+3 < len(dst.Pix); i += 4 {
		avg := uint8((int(dst.Pix[i]) + int(dst.Pix[i+1]) + int(dst.Pix[i+2])) / 3)
		dst.Pix[i] = avg
		dst.Pix[i+1] = avg
		dst.Pix[i+2] = avg
	}
	return dst
}

// vintage downsamples by factor, applies sepia on the small buffer and
// scales back up with nearest neighbour so the blocks stay visible
type vintage struct {
	factor int
}

func (vintage) Name() string { return string(Vintage) }

// DownsampleSize is the side of the intermediate vintage buffer
func DownsampleSize(size int) int {
	return downsampleSize(size, vintageFactor)
}

func downsampleSize(size, factor int) int {
	return max(1, size/factor)
}

func (v vintage) Apply(src *image.RGBA) *image.RGBA {
	size := src.Bounds().Dx()
	side := downsampleSize(size, v.factor)
	small := image.NewRGBA(image.Rect(0, 0, side, side))
	xdraw.NearestNeighbor.Scale(small, small.Bounds(), src, src.Bounds(), xdraw.Src, nil)

	sepia(small)

	dst := image.NewRGBA(src.Bounds())
	xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), small, small.Bounds(), xdraw.Src, nil)
	return dst
}

// sepia applies the classic sepia matrix in place
func sepia(img *image.RGBA) {
	for i := 0; i+3 < len(img.Pix); i += 4 {
		r := float64(img.Pix[i])
		g := float64(img.Pix[i+1])
		b := float64(img.Pix[i+2])

		img.Pix[i] = clampChannel(0.393*r + 0.769*g + 0.189*b)
		img.Pix[i+1] = clampChannel(0.349*r + 0.686*g + 0.168*b)
		img.Pix[i+2] = clampChannel(0.272*r + 0.534*g + 0.131*b)
	}
}

func clampChannel(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// boxBlur averages each channel over the in-bounds part of a
// (2r+1)x(2r+1) window. Edges average fewer samples; nothing wraps.
type boxBlur struct {
	radius int
}

func (boxBlur) Name() string { return string(HandheldBlur) }

// blurWindow returns the clipped window [x0,x1]x[y0,y1] around (x,y)
func blurWindow(x, y, size, radius int) (x0, x1, y0, y1 int) {
	x0, x1 = max(0, x-radius), min(size-1, x+radius)
	y0, y1 = max(0, y-radius), min(size-1, y+radius)
	return
}

// SampleCount is the number of pixels averaged for (x,y) in a size×size image
func SampleCount(x, y, size int) int {
	x0, x1, y0, y1 := blurWindow(x, y, size, blurRadius)
	return (x1 - x0 + 1) * (y1 - y0 + 1)
}

func (bb boxBlur) Apply(src *image.RGBA) *image.RGBA {
	size := src.Bounds().Dx()
	dst := image.NewRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			x0, x1, y0, y1 := blurWindow(x, y, size, bb.radius)

			var r, g, b, count int
			for ny := y0; ny <= y1; ny++ {
				row := src.PixOffset(x0, ny)
				for nx := x0; nx <= x1; nx++ {
					r += int(src.Pix[row])
					g += int(src.Pix[row+1])
					b += int(src.Pix[row+2])
					row += 4
					count++
				}
			}

			i := dst.PixOffset(x, y)
			dst.Pix[i] = uint8(r / count)
			dst.Pix[i+1] = uint8(g / count)
			dst.Pix[i+2] = uint8(b / count)
		}
	}
	return dst
}
