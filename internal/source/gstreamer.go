package source

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/bryanchriswhite/PhotoBooth/internal/frame"
	"github.com/bryanchriswhite/PhotoBooth/internal/logger"
)

// GStreamer reads camera frames through an in-process GStreamer pipeline
type GStreamer struct {
	cfg Config
	log *zerolog.Logger

	mu       sync.RWMutex
	pipeline *gst.Pipeline
	appsink  *app.Sink
	running  bool
	ready    bool
	stopChan chan struct{}
	done     chan struct{}

	latest latestFrame
}

// NewGStreamer creates a go-gst camera source
func NewGStreamer(cfg Config) *GStreamer {
	return &GStreamer{cfg: cfg, log: logger.WithComponent("source")}
}

// cameraElement is the pipeline head for the configured device
func cameraElement(device string) string {
	if device == "" {
		return "autovideosrc"
	}
	return fmt.Sprintf("v4l2src device=%s", device)
}

// rawCaps is the RGBA caps filter every camera pipeline converges on
func rawCaps(cfg Config) string {
	return fmt.Sprintf("video/x-raw,format=RGBA,width=%d,height=%d", cfg.Width, cfg.Height)
}

// cameraPipeline builds the appsink pipeline. Polling with
// emit-signals=false avoids cgo callbacks into Go.
func cameraPipeline(cfg Config) string {
	return fmt.Sprintf(
		"%s ! videoconvert ! videoscale ! videorate ! %s,framerate=%d/1 ! "+
			"appsink name=sink emit-signals=false max-buffers=2 drop=true",
		cameraElement(cfg.Device), rawCaps(cfg), cfg.FPS,
	)
}

// Start builds and plays the pipeline
func (g *GStreamer) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return fmt.Errorf("pipeline already running")
	}

	gst.Init(nil)

	pipelineStr := cameraPipeline(g.cfg)
	g.log.Debug().Str("pipeline", pipelineStr).Msg("Creating GStreamer pipeline")

	pipeline, err := gst.NewPipelineFromString(pipelineStr)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	sinkElement, err := pipeline.GetElementByName("sink")
	if err != nil {
		pipeline.Unref()
		return fmt.Errorf("failed to get appsink: %w", err)
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.Unref()
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	g.pipeline = pipeline
	g.appsink = app.SinkFromElement(sinkElement)
	g.running = true
	g.ready = true
	g.stopChan = make(chan struct{})
	g.done = make(chan struct{})

	go g.pollSamples(g.stopChan, g.done)

	g.log.Info().
		Str("device", g.cfg.Device).
		Int("width", g.cfg.Width).
		Int("height", g.cfg.Height).
		Msg("GStreamer camera started")
	return nil
}

// Stop tears the pipeline down once the poller has exited
func (g *GStreamer) Stop() error {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return nil
	}
	g.ready = false
	g.running = false
	close(g.stopChan)
	done := g.done
	g.mu.Unlock()

	<-done

	g.mu.Lock()
	if g.pipeline != nil {
		g.pipeline.SetState(gst.StateNull)
		g.pipeline.Unref()
		g.pipeline = nil
		g.appsink = nil
	}
	g.mu.Unlock()

	g.latest.reset()
	g.log.Info().Uint64("frames", g.latest.count()).Msg("GStreamer camera stopped")
	return nil
}

// Name returns the source name
func (g *GStreamer) Name() string { return string(KindGStreamer) }

// Snapshot returns a copy of the latest camera frame
func (g *GStreamer) Snapshot(ctx context.Context) (frame.Raw, error) {
	if err := ctx.Err(); err != nil {
		return frame.Raw{}, err
	}
	return g.latest.snapshot(g.Name())
}

func (g *GStreamer) pollSamples(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := time.Second / time.Duration(2*max(1, g.cfg.FPS))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			g.log.Debug().Msg("Sample polling stopped")
			return
		case <-ticker.C:
			g.mu.RLock()
			appsink := g.appsink
			ready := g.ready
			g.mu.RUnlock()

			if !ready || appsink == nil {
				continue
			}

			// go-gst releases the sample itself; unreffing here double-frees
			sample := appsink.TryPullSample(time.Millisecond)
			if sample == nil {
				continue
			}
			g.processSample(sample)
		}
	}
}

func (g *GStreamer) processSample(sample *gst.Sample) {
	buffer := sample.GetBuffer()
	if buffer == nil {
		return
	}

	caps := sample.GetCaps()
	if caps == nil {
		return
	}
	structure := caps.GetStructureAt(0)
	if structure == nil {
		return
	}

	width, _ := structure.GetValue("width")
	height, _ := structure.GetValue("height")
	w, ok := width.(int)
	if !ok {
		return
	}
	h, ok := height.(int)
	if !ok {
		return
	}

	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return
	}
	defer buffer.Unmap()

	img, err := rgbaFromBytes(mapInfo.Bytes(), w, h)
	if err != nil {
		g.log.Warn().Err(err).Msg("Dropping camera sample")
		return
	}
	g.latest.store(img, time.Now())
}

// rgbaFromBytes copies a tightly packed RGBA buffer into an image
func rgbaFromBytes(data []byte, w, h int) (*image.RGBA, error) {
	size := w * h * 4
	if w <= 0 || h <= 0 || len(data) < size {
		return nil, fmt.Errorf("short RGBA buffer: %d bytes for %dx%d", len(data), w, h)
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	copy(img.Pix, data[:size])
	return img, nil
}
