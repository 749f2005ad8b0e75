package source

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/bryanchriswhite/PhotoBooth/internal/clock"
	"github.com/bryanchriswhite/PhotoBooth/internal/frame"
	"github.com/bryanchriswhite/PhotoBooth/internal/logger"
)

// barColors are the classic SMPTE-style colour bars
var barColors = []color.RGBA{
	{192, 192, 192, 255},
	{192, 192, 0, 255},
	{0, 192, 192, 255},
	{0, 192, 0, 255},
	{192, 0, 192, 255},
	{192, 0, 0, 255},
	{0, 0, 192, 255},
}

// patternSpeed is how many pixels the bars scroll per second
const patternSpeed = 120

// Pattern renders scrolling colour bars on demand. It needs no camera and
// is deterministic for a given virtual time.
type Pattern struct {
	width, height int
	clk           clock.Scheduler

	mu      sync.Mutex
	running bool
	epoch   int64
}

// NewPattern creates a synthetic source
func NewPattern(width, height int, clk clock.Scheduler) *Pattern {
	if clk == nil {
		clk = clock.NewReal()
	}
	return &Pattern{width: width, height: height, clk: clk}
}

// Start begins the pattern at offset zero
func (p *Pattern) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("pattern source already running")
	}
	p.running = true
	p.epoch = p.clk.Now().UnixMilli()

	logger.WithComponent("source").Info().
		Int("width", p.width).
		Int("height", p.height).
		Msg("Pattern source started")
	return nil
}

// Stop halts the source; later snapshots are unavailable
func (p *Pattern) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	return nil
}

// Name returns the source name
func (p *Pattern) Name() string { return string(KindPattern) }

// Snapshot renders the bars at the current time
func (p *Pattern) Snapshot(ctx context.Context) (frame.Raw, error) {
	if err := ctx.Err(); err != nil {
		return frame.Raw{}, err
	}

	p.mu.Lock()
	running := p.running
	start := p.epoch
	p.mu.Unlock()

	if !running {
		return frame.Raw{}, fmt.Errorf("%w: pattern source not started", frame.ErrUnavailable)
	}

	now := p.clk.Now()
	offset := int((now.UnixMilli() - start) * patternSpeed / 1000)
	return frame.FromRGBA(RenderBars(p.width, p.height, offset), p.Name(), now), nil
}

// RenderBars draws vertical colour bars shifted left by offset pixels
func RenderBars(width, height, offset int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	barWidth := max(1, width/len(barColors))
	span := barWidth * len(barColors)

	row := img.Pix[:width*4]
	for x := 0; x < width; x++ {
		pos := ((x+offset)%span + span) % span
		c := barColors[pos/barWidth]
		i := x * 4
		row[i], row[i+1], row[i+2], row[i+3] = c.R, c.G, c.B, c.A
	}
	for y := 1; y < height; y++ {
		copy(img.Pix[y*img.Stride:], row)
	}
	return img
}
