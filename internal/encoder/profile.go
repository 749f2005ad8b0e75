package encoder

import (
	"fmt"
	"strings"
)

// profile is one way to produce a container/codec
type profile struct {
	mime string
	// codec is the ffmpeg encoder the profile needs
	codec string
	// gst is the encoder and muxer fragment of a gst-launch pipeline
	gst func(cfg Config) string
	// ffmpeg returns the output arguments for an ffmpeg invocation
	ffmpeg func(cfg Config) []string
}

var profiles = map[string]profile{
	"video/webm;codecs=vp8": vp8Profile("video/webm;codecs=vp8"),
	"video/webm":            vp8Profile("video/webm"),
	"video/webm;codecs=vp9": {
		mime:  "video/webm;codecs=vp9",
		codec: "libvpx-vp9",
		gst: func(cfg Config) string {
			return fmt.Sprintf("vp9enc target-bitrate=%d deadline=1 ! webmmux", cfg.Bitrate)
		},
		ffmpeg: func(cfg Config) []string {
			return []string{"-c:v", "libvpx-vp9", "-b:v", fmt.Sprint(cfg.Bitrate), "-deadline", "realtime", "-f", "webm"}
		},
	},
	"video/mp4": {
		mime:  "video/mp4",
		codec: "libx264",
		gst: func(cfg Config) string {
			return fmt.Sprintf("x264enc bitrate=%d tune=zerolatency speed-preset=veryfast ! video/x-h264,profile=baseline ! mp4mux fragment-duration=1000 streamable=true", cfg.Bitrate/1000)
		},
		ffmpeg: func(cfg Config) []string {
			return []string{"-c:v", "libx264", "-pix_fmt", "yuv420p", "-preset", "veryfast", "-b:v", fmt.Sprint(cfg.Bitrate),
				"-movflags", "frag_keyframe+empty_moov", "-f", "mp4"}
		},
	},
}

func vp8Profile(mime string) profile {
	return profile{
		mime:  mime,
		codec: "libvpx",
		gst: func(cfg Config) string {
			return fmt.Sprintf("vp8enc target-bitrate=%d deadline=1 ! webmmux", cfg.Bitrate)
		},
		ffmpeg: func(cfg Config) []string {
			return []string{"-c:v", "libvpx", "-b:v", fmt.Sprint(cfg.Bitrate), "-deadline", "realtime", "-f", "webm"}
		},
	}
}

// lookupProfile finds the profile for mime, ignoring case and spacing
func lookupProfile(mime string) (profile, bool) {
	key := strings.ToLower(strings.ReplaceAll(mime, " ", ""))
	p, ok := profiles[key]
	return p, ok
}

// Supported lists the MIME types any backend knows how to build
func Supported() []string {
	return append(append([]string(nil), DefaultMimeTypes...), "video/webm;codecs=vp9")
}

// negotiate walks the preference list and returns the first result of try
// that succeeds. Unknown MIME types are skipped.
func negotiate[T any](prefs []string, try func(p profile) (T, error)) (T, error) {
	var zero T
	var errs []string
	for _, mime := range prefs {
		p, ok := lookupProfile(mime)
		if !ok {
			errs = append(errs, fmt.Sprintf("%s: unknown type", mime))
			continue
		}
		out, err := try(p)
		if err == nil {
			return out, nil
		}
		errs = append(errs, fmt.Sprintf("%s: %v", mime, err))
	}
	return zero, fmt.Errorf("%w: %s", ErrUnavailable, strings.Join(errs, "; "))
}
