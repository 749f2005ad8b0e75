package session

import (
	"errors"
	"image/color"
	"time"

	"github.com/bryanchriswhite/PhotoBooth/internal/filter"
	"github.com/bryanchriswhite/PhotoBooth/internal/frame"
)

var overlayBackground = color.RGBA{0, 0, 0, 160}

// PreviewStats counts preview loop activity
type PreviewStats struct {
	Frames  uint64 `json:"frames"`
	Misses  uint64 `json:"misses"`
	Running bool   `json:"running"`
}

// StartPreview starts the live preview loop if it is not already running.
// The loop runs whenever no session is complete and stops itself otherwise;
// the controller restarts it when a new session or run begins.
func (c *Controller) StartPreview() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startPreviewLocked()
}

// PreviewStats returns preview counters
func (c *Controller) PreviewStats() PreviewStats {
	c.mu.Lock()
	running := c.previewRunning
	c.mu.Unlock()

	return PreviewStats{
		Frames:  c.previewFrames.Load(),
		Misses:  c.previewMisses.Load(),
		Running: running,
	}
}

func (c *Controller) previewWantedLocked() bool {
	r := c.run
	return r == nil || (r.state != SessionComplete && r.state != AllSessionsComplete)
}

func (c *Controller) previewIntervalLocked() time.Duration {
	if c.run != nil {
		return c.run.cfg.PreviewInterval
	}
	return c.defaults.PreviewInterval
}

func (c *Controller) startPreviewLocked() {
	if c.preview == nil || c.previewRunning || c.closed || !c.previewWantedLocked() {
		return
	}
	c.previewRunning = true
	c.armPreviewLocked()
}

func (c *Controller) armPreviewLocked() {
	c.previewTimer = c.clk.AfterFunc(c.previewIntervalLocked(), c.previewTick)
}

// previewTick publishes one filtered frame and re-arms itself. It reads
// the frame source independently of the capture loop and never touches
// session state.
func (c *Controller) previewTick() {
	c.mu.Lock()
	if c.closed || !c.previewWantedLocked() {
		c.previewRunning = false
		c.mu.Unlock()
		return
	}
	k := c.liveFilter
	c.mu.Unlock()

	c.publishPreview(k)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.previewWantedLocked() {
		c.previewRunning = false
		return
	}
	c.armPreviewLocked()
}

func (c *Controller) publishPreview(k filter.Kind) {
	raw, err := c.src.Snapshot(c.ctx)
	if err != nil {
		c.previewMisses.Add(1)
		if !errors.Is(err, frame.ErrUnavailable) {
			c.log.Debug().Err(err).Msg("Preview snapshot failed")
		}
		return
	}

	img, err := filter.Process(raw, k)
	if err != nil {
		c.previewMisses.Add(1)
		c.log.Debug().Err(err).Msg("Preview frame dropped")
		return
	}

	c.overlays.Render(img)
	if err := c.preview.WriteFrame(img); err != nil {
		c.log.Debug().Err(err).Msg("Preview publish failed")
		return
	}
	c.previewFrames.Add(1)
}
