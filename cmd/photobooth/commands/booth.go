package commands

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/PhotoBooth/internal/artifact"
	"github.com/bryanchriswhite/PhotoBooth/internal/clock"
	"github.com/bryanchriswhite/PhotoBooth/internal/config"
	"github.com/bryanchriswhite/PhotoBooth/internal/encoder"
	"github.com/bryanchriswhite/PhotoBooth/internal/logger"
	"github.com/bryanchriswhite/PhotoBooth/internal/session"
	"github.com/bryanchriswhite/PhotoBooth/internal/source"
	"github.com/bryanchriswhite/PhotoBooth/internal/strip"
	"github.com/bryanchriswhite/PhotoBooth/internal/video"
)

// booth is the wired set of components shared by serve and capture
type booth struct {
	clk       clock.Scheduler
	source    source.Source
	ctrl      *session.Controller
	artifacts *artifact.Store
	saver     *artifact.DirSaver
	log       *zerolog.Logger
}

// newBooth builds the camera, controller and artifact pipeline. preview
// may be nil. The source is started; call close when done.
func newBooth(cfg *config.Config, preview session.Publisher) (*booth, error) {
	log := logger.WithComponent("booth")
	clk := clock.NewReal()

	srcCfg, err := cfg.SourceConfig()
	if err != nil {
		return nil, err
	}
	defaults, err := cfg.SessionDefaults()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	enc, err := encoder.New(cfg.Video.Encoder, cfg.Video.FFmpegBinary)
	if err != nil {
		return nil, err
	}
	synth := video.NewSynthesizer(enc, clk, cfg.VideoSettings())
	synth.OnProgress(func(frame, total int) {
		if frame%100 == 0 || frame == total {
			log.Debug().Int("frame", frame).Int("total", total).Msg("Video progress")
		}
	})

	src, err := source.New(srcCfg, clk)
	if err != nil {
		return nil, err
	}
	if err := src.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s source: %w", src.Name(), err)
	}
	log.Info().Str("source", src.Name()).Int("width", srcCfg.Width).Int("height", srcCfg.Height).Msg("Camera ready")

	ctrl, err := session.NewController(session.Deps{
		Clock:       clk,
		Source:      src,
		Compositor:  strip.NewCompositor(loc),
		Synthesizer: synth,
		Preview:     preview,
	}, defaults)
	if err != nil {
		src.Stop()
		return nil, err
	}

	store := artifact.NewStore(clk)
	saver := artifact.NewDirSaver(cfg.Artifacts.OutputDir)
	ctrl.Subscribe(artifact.NewRecorder(store, saver, artifact.RecorderOptions{
		AutoSave:   cfg.Artifacts.AutoSave,
		SavePhotos: cfg.Artifacts.SavePhotos,
	}))

	return &booth{
		clk:       clk,
		source:    src,
		ctrl:      ctrl,
		artifacts: store,
		saver:     saver,
		log:       log,
	}, nil
}

func (b *booth) close() {
	b.ctrl.Close()
	if err := b.source.Stop(); err != nil {
		b.log.Warn().Err(err).Msg("Failed to stop camera")
	}
}
