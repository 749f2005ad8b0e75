package encoder

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/bryanchriswhite/PhotoBooth/internal/logger"
)

var gstInit sync.Once

// GStreamer encodes through an in-process appsrc ! encoder ! muxer ! appsink
// pipeline
type GStreamer struct{}

// NewGStreamer creates a GStreamer encoder
func NewGStreamer() *GStreamer {
	return &GStreamer{}
}

// Name returns the backend name
func (g *GStreamer) Name() string {
	return "gstreamer"
}

// pipelineString builds the launch line for one profile
func pipelineString(p profile, cfg Config) string {
	return fmt.Sprintf(
		"appsrc name=src is-live=true do-timestamp=true format=time "+
			"caps=video/x-raw,format=RGBA,width=%d,height=%d,framerate=%d/1 ! "+
			"videoconvert ! %s ! "+
			"appsink name=sink sync=false emit-signals=false",
		cfg.Width, cfg.Height, cfg.FPS, p.gst(cfg),
	)
}

// Start builds the first pipeline from the preference list that parses
func (g *GStreamer) Start(ctx context.Context, cfg Config) (Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	gstInit.Do(func() { gst.Init(nil) })
	log := logger.WithComponent("encoder")

	return negotiate(cfg.MimeTypes, func(p profile) (Stream, error) {
		pipelineStr := pipelineString(p, cfg)
		log.Debug().Str("pipeline", pipelineStr).Msg("Creating encoder pipeline")

		pipeline, err := gst.NewPipelineFromString(pipelineStr)
		if err != nil {
			return nil, fmt.Errorf("failed to create pipeline: %w", err)
		}

		s, err := newGstStream(pipeline, p.mime, cfg, log)
		if err != nil {
			pipeline.SetState(gst.StateNull)
			pipeline.Unref()
			return nil, err
		}

		log.Info().Str("mime", p.mime).Int("bitrate", cfg.Bitrate).Msg("GStreamer encoder started")
		return s, nil
	})
}

type gstStream struct {
	pipeline *gst.Pipeline
	src      *app.Source
	sink     *app.Sink
	mime     string
	cfg      Config
	buf      *Buffer
	log      *zerolog.Logger

	mu      sync.Mutex
	stopped bool
	pollErr error
	done    chan struct{}
	quit    chan struct{}
}

func newGstStream(pipeline *gst.Pipeline, mime string, cfg Config, log *zerolog.Logger) (*gstStream, error) {
	srcElement, err := pipeline.GetElementByName("src")
	if err != nil {
		return nil, fmt.Errorf("failed to get appsrc: %w", err)
	}
	sinkElement, err := pipeline.GetElementByName("sink")
	if err != nil {
		return nil, fmt.Errorf("failed to get appsink: %w", err)
	}

	s := &gstStream{
		pipeline: pipeline,
		src:      app.SrcFromElement(srcElement),
		sink:     app.SinkFromElement(sinkElement),
		mime:     mime,
		cfg:      cfg,
		buf:      NewBuffer(cfg.MaxBufferBytes),
		log:      log,
		done:     make(chan struct{}),
		quit:     make(chan struct{}),
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("failed to start pipeline: %w", err)
	}

	go s.pollSamples()
	return s, nil
}

func (s *gstStream) MimeType() string {
	return s.mime
}

// pollSamples drains encoded chunks from the appsink until EOS. Polling
// avoids cgo callbacks into Go.
func (s *gstStream) pollSamples() {
	defer close(s.done)

	for {
		select {
		case <-s.quit:
			return
		default:
		}

		sample := s.sink.TryPullSample(10 * time.Millisecond)
		if sample == nil {
			if s.sink.IsEOS() {
				return
			}
			continue
		}

		buffer := sample.GetBuffer()
		if buffer == nil {
			continue
		}
		mapInfo := buffer.Map(gst.MapRead)
		if mapInfo == nil {
			continue
		}
		_, err := s.buf.Write(mapInfo.Bytes())
		buffer.Unmap()

		if err != nil {
			s.mu.Lock()
			s.pollErr = err
			s.mu.Unlock()
			s.log.Error().Err(err).Msg("Dropping encoder output")
			return
		}
	}
}

func (s *gstStream) PushFrame(img *image.RGBA) error {
	s.mu.Lock()
	stopped, pollErr := s.stopped, s.pollErr
	s.mu.Unlock()

	if stopped {
		return ErrStopped
	}
	if pollErr != nil {
		return pollErr
	}
	if err := checkFrame(img, s.cfg); err != nil {
		return err
	}

	if ret := s.src.PushBuffer(gst.NewBufferFromBytes(framePixels(img))); ret != gst.FlowOK {
		return fmt.Errorf("appsrc rejected frame: %v", ret)
	}
	return nil
}

func (s *gstStream) Stop(ctx context.Context) (Result, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return Result{}, ErrStopped
	}
	s.stopped = true
	s.mu.Unlock()

	s.src.EndStream()

	select {
	case <-s.done:
	case <-ctx.Done():
		s.teardown()
		s.buf.Discard()
		return Result{}, fmt.Errorf("waiting for encoder EOS: %w", ctx.Err())
	}
	s.teardown()

	s.mu.Lock()
	pollErr := s.pollErr
	s.mu.Unlock()
	if pollErr != nil {
		s.buf.Discard()
		return Result{}, pollErr
	}

	data := s.buf.Take()
	s.log.Info().Int("bytes", len(data)).Str("mime", s.mime).Msg("GStreamer encoder finished")
	return Result{Data: data, MimeType: s.mime}, nil
}

func (s *gstStream) Abort() {
	s.mu.Lock()
	already := s.stopped
	s.stopped = true
	s.mu.Unlock()

	if !already {
		s.teardown()
	}
	s.buf.Discard()
}

func (s *gstStream) teardown() {
	select {
	case <-s.quit:
		return
	default:
		close(s.quit)
	}
	<-s.done

	s.pipeline.SetState(gst.StateNull)
	s.pipeline.Unref()
}
