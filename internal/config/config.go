// Package config loads and persists the booth configuration file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/bryanchriswhite/PhotoBooth/internal/artifact"
	"github.com/bryanchriswhite/PhotoBooth/internal/encoder"
	"github.com/bryanchriswhite/PhotoBooth/internal/filter"
	"github.com/bryanchriswhite/PhotoBooth/internal/output"
	"github.com/bryanchriswhite/PhotoBooth/internal/session"
	"github.com/bryanchriswhite/PhotoBooth/internal/source"
	"github.com/bryanchriswhite/PhotoBooth/internal/strip"
	"github.com/bryanchriswhite/PhotoBooth/internal/video"
)

// Config represents the application configuration
type Config struct {
	ServerPort int    `json:"server_port" yaml:"server_port"`
	LogLevel   string `json:"log_level" yaml:"log_level"`
	LogPretty  bool   `json:"log_pretty" yaml:"log_pretty"`

	Camera    CameraConfig   `json:"camera" yaml:"camera"`
	Session   SessionConfig  `json:"session" yaml:"session"`
	Preview   PreviewConfig  `json:"preview" yaml:"preview"`
	Video     VideoConfig    `json:"video" yaml:"video"`
	Artifacts ArtifactConfig `json:"artifacts" yaml:"artifacts"`
}

// CameraConfig selects and sizes the frame source
type CameraConfig struct {
	Source   string        `json:"source" yaml:"source"`
	Device   string        `json:"device" yaml:"device"`
	Width    int           `json:"width" yaml:"width"`
	Height   int           `json:"height" yaml:"height"`
	FPS      int           `json:"fps" yaml:"fps"`
	Dir      string        `json:"dir" yaml:"dir"`
	Interval time.Duration `json:"interval" yaml:"interval"`
}

// SessionConfig holds the defaults for new capture runs
type SessionConfig struct {
	PhotoCount            int           `json:"photo_count" yaml:"photo_count"`
	Filter                string        `json:"filter" yaml:"filter"`
	Mode                  string        `json:"mode" yaml:"mode"`
	Sessions              int           `json:"sessions" yaml:"sessions"`
	Countdown             int           `json:"countdown" yaml:"countdown"`
	InterSessionCountdown int           `json:"inter_session_countdown" yaml:"inter_session_countdown"`
	InterPhotoDelay       time.Duration `json:"inter_photo_delay" yaml:"inter_photo_delay"`
	PreviewInterval       time.Duration `json:"preview_interval" yaml:"preview_interval"`
	MaxCaptureAttempts    int           `json:"max_capture_attempts" yaml:"max_capture_attempts"`
	// Timezone is an IANA name used for strip timestamps; empty means local
	Timezone string `json:"timezone" yaml:"timezone"`
}

// PreviewConfig tunes the MJPEG preview stream
type PreviewConfig struct {
	Quality int `json:"quality" yaml:"quality"`
}

// VideoConfig controls multi-session clip synthesis
type VideoConfig struct {
	Duration       time.Duration `json:"duration" yaml:"duration"`
	Width          int           `json:"width" yaml:"width"`
	Height         int           `json:"height" yaml:"height"`
	FPS            int           `json:"fps" yaml:"fps"`
	Bitrate        int           `json:"bitrate" yaml:"bitrate"`
	Encoder        string        `json:"encoder" yaml:"encoder"`
	FFmpegBinary   string        `json:"ffmpeg_binary" yaml:"ffmpeg_binary"`
	MimeTypes      []string      `json:"mime_types" yaml:"mime_types"`
	EncoderTimeout time.Duration `json:"encoder_timeout" yaml:"encoder_timeout"`
	MaxBufferBytes int           `json:"max_buffer_bytes" yaml:"max_buffer_bytes"`
}

// ArtifactConfig controls saving and retention
type ArtifactConfig struct {
	OutputDir     string        `json:"output_dir" yaml:"output_dir"`
	AutoSave      bool          `json:"auto_save" yaml:"auto_save"`
	SavePhotos    bool          `json:"save_photos" yaml:"save_photos"`
	Retention     time.Duration `json:"retention" yaml:"retention"`
	PruneSchedule string        `json:"prune_schedule" yaml:"prune_schedule"`
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	sess := session.DefaultConfig()
	enc := encoder.DefaultConfig()
	vid := video.DefaultConfig()
	cam := source.DefaultConfig()

	return &Config{
		ServerPort: 8080,
		LogLevel:   "info",
		LogPretty:  true,
		Camera: CameraConfig{
			Source:   string(cam.Kind),
			Width:    cam.Width,
			Height:   cam.Height,
			FPS:      cam.FPS,
			Interval: cam.Interval,
		},
		Session: SessionConfig{
			PhotoCount:            sess.PhotoCount,
			Filter:                string(sess.Filter),
			Mode:                  string(sess.Mode),
			Sessions:              sess.Sessions,
			Countdown:             sess.Countdown,
			InterSessionCountdown: sess.InterSessionCountdown,
			InterPhotoDelay:       sess.InterPhotoDelay,
			PreviewInterval:       sess.PreviewInterval,
			MaxCaptureAttempts:    sess.MaxCaptureAttempts,
		},
		Preview: PreviewConfig{Quality: output.DefaultConfig().Quality},
		Video: VideoConfig{
			Duration:       vid.Duration,
			Width:          enc.Width,
			Height:         enc.Height,
			FPS:            enc.FPS,
			Bitrate:        enc.Bitrate,
			Encoder:        "auto",
			FFmpegBinary:   "ffmpeg",
			MimeTypes:      append([]string(nil), enc.MimeTypes...),
			EncoderTimeout: vid.EncoderTimeout,
			MaxBufferBytes: enc.MaxBufferBytes,
		},
		Artifacts: ArtifactConfig{
			OutputDir:     "photobooth",
			AutoSave:      true,
			Retention:     7 * 24 * time.Hour,
			PruneSchedule: "@hourly",
		},
	}
}

// clone returns a deep copy
func (c *Config) clone() *Config {
	out := *c
	out.Video.MimeTypes = append([]string(nil), c.Video.MimeTypes...)
	return &out
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks every section
func (c *Config) Validate() error {
	if c.ServerPort < 1 || c.ServerPort > 65535 {
		return fmt.Errorf("server_port must be between 1 and 65535, got %d", c.ServerPort)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid log level: %s (use: debug, info, warn, error)", c.LogLevel)
	}
	if _, err := c.SourceConfig(); err != nil {
		return err
	}
	if _, err := c.SessionDefaults(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Preview.Quality < 1 || c.Preview.Quality > 100 {
		return fmt.Errorf("preview quality must be between 1 and 100, got %d", c.Preview.Quality)
	}
	if err := c.VideoSettings().Encoder.Validate(); err != nil {
		return err
	}
	if c.Video.Duration <= 0 {
		return fmt.Errorf("video duration must be positive, got %v", c.Video.Duration)
	}
	switch strings.ToLower(c.Video.Encoder) {
	case "auto", "gstreamer", "gst", "ffmpeg":
	default:
		return fmt.Errorf("unknown encoder backend %q", c.Video.Encoder)
	}
	if c.Artifacts.Retention > 0 {
		if err := artifact.ValidateSchedule(c.Artifacts.PruneSchedule); err != nil {
			return err
		}
	}
	return nil
}

// SourceConfig converts the camera section
func (c *Config) SourceConfig() (source.Config, error) {
	kind, err := source.ParseKind(c.Camera.Source)
	if err != nil {
		return source.Config{}, err
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return source.Config{}, fmt.Errorf("invalid camera size %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if kind == source.KindDir && c.Camera.Dir == "" {
		return source.Config{}, fmt.Errorf("camera.dir is required for the dir source")
	}
	return source.Config{
		Kind:     kind,
		Device:   c.Camera.Device,
		Width:    c.Camera.Width,
		Height:   c.Camera.Height,
		FPS:      c.Camera.FPS,
		Dir:      c.Camera.Dir,
		Interval: c.Camera.Interval,
	}, nil
}

// SessionDefaults converts the session section into run defaults
func (c *Config) SessionDefaults() (session.Config, error) {
	k, err := filter.ParseKind(c.Session.Filter)
	if err != nil {
		return session.Config{}, err
	}
	mode, err := session.ParseMode(c.Session.Mode)
	if err != nil {
		return session.Config{}, err
	}
	if !strip.ValidCount(c.Session.PhotoCount) {
		return session.Config{}, fmt.Errorf("photo_count must be 3, 4 or 6, got %d", c.Session.PhotoCount)
	}

	cfg := session.DefaultConfig()
	cfg.PhotoCount = c.Session.PhotoCount
	cfg.Filter = k
	cfg.Mode = mode
	cfg.Sessions = c.Session.Sessions
	cfg.Countdown = c.Session.Countdown
	cfg.InterSessionCountdown = c.Session.InterSessionCountdown
	cfg.InterPhotoDelay = c.Session.InterPhotoDelay
	cfg.PreviewInterval = c.Session.PreviewInterval
	cfg.MaxCaptureAttempts = c.Session.MaxCaptureAttempts
	if err := cfg.Validate(); err != nil {
		return session.Config{}, err
	}
	return cfg, nil
}

// Location resolves the strip timestamp timezone
func (c *Config) Location() (*time.Location, error) {
	if c.Session.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Session.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Session.Timezone, err)
	}
	return loc, nil
}

// VideoSettings converts the video section
func (c *Config) VideoSettings() video.Config {
	cfg := video.DefaultConfig()
	cfg.Duration = c.Video.Duration
	cfg.EncoderTimeout = c.Video.EncoderTimeout
	cfg.Encoder = encoder.Config{
		Width:          c.Video.Width,
		Height:         c.Video.Height,
		FPS:            c.Video.FPS,
		Bitrate:        c.Video.Bitrate,
		MimeTypes:      append([]string(nil), c.Video.MimeTypes...),
		MaxBufferBytes: c.Video.MaxBufferBytes,
	}
	if len(cfg.Encoder.MimeTypes) == 0 {
		cfg.Encoder.MimeTypes = append([]string(nil), encoder.DefaultMimeTypes...)
	}
	return cfg
}

// OutputConfig converts the preview section
func (c *Config) OutputConfig() output.Config {
	cfg := output.DefaultConfig()
	cfg.Quality = c.Preview.Quality
	return cfg
}
