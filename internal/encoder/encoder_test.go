package encoder

import (
	"bytes"
	"context"
	"errors"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/PhotoBooth/internal/logger"
)

func TestExtensionFor(t *testing.T) {
	tests := map[string]string{
		"video/webm;codecs=vp8":  "webm",
		"video/webm":             "webm",
		"VIDEO/WEBM; codecs=vp9": "webm",
		"video/mp4":              "mp4",
		"video/x-matroska":       "mkv",
		"application/foo":        "bin",
	}
	for mime, want := range tests {
		assert.Equal(t, want, ExtensionFor(mime), mime)
	}
	assert.Equal(t, "mp4", Result{MimeType: "video/mp4"}.Extension())
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	assert.Equal(t, 2_500_000, cfg.Bitrate)
	assert.Equal(t, 30, cfg.FPS)
	assert.Equal(t, []string{"video/webm;codecs=vp8", "video/webm", "video/mp4"}, cfg.MimeTypes)

	bad := []func(*Config){
		func(c *Config) { c.Width = 0 },
		func(c *Config) { c.FPS = -1 },
		func(c *Config) { c.Bitrate = 0 },
		func(c *Config) { c.MimeTypes = nil },
	}
	for i, mutate := range bad {
		c := DefaultConfig()
		mutate(&c)
		assert.Error(t, c.Validate(), "case %d", i)
	}
}

func TestBufferBoundsAndDrainsOnce(t *testing.T) {
	b := NewBuffer(10)

	_, err := b.Write([]byte("hello"))
	require.NoError(t, err)
	_, err = b.Write([]byte("world"))
	require.NoError(t, err)
	assert.Equal(t, 10, b.Len())
	assert.Equal(t, 2, b.Chunks())

	_, err = b.Write([]byte("!"))
	assert.ErrorIs(t, err, ErrBufferFull)
	assert.Equal(t, 10, b.Len(), "rejected chunk is not partially written")

	assert.Equal(t, []byte("helloworld"), b.Take())
	assert.Nil(t, b.Take())
	assert.Zero(t, b.Len())

	_, err = b.Write([]byte("late"))
	assert.ErrorIs(t, err, ErrStopped)
}

func TestBufferUnbounded(t *testing.T) {
	b := NewBuffer(0)
	for i := 0; i < 100; i++ {
		_, err := b.Write(make([]byte, 1024))
		require.NoError(t, err)
	}
	assert.Equal(t, 100*1024, b.Len())
	b.Discard()
	assert.Nil(t, b.Take())
}

func TestNegotiateWalksPreferences(t *testing.T) {
	var tried []string
	got, err := negotiate([]string{"video/ogg", "video/webm;codecs=vp8", "video/mp4"}, func(p profile) (string, error) {
		tried = append(tried, p.mime)
		if p.mime == "video/webm;codecs=vp8" {
			return "", errors.New("no vp8enc element")
		}
		return p.mime, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "video/mp4", got)
	assert.Equal(t, []string{"video/webm;codecs=vp8", "video/mp4"}, tried, "unknown types are skipped")

	_, err = negotiate([]string{"video/ogg"}, func(p profile) (string, error) {
		return p.mime, nil
	})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "video/ogg")
}

func TestPipelineString(t *testing.T) {
	cfg := DefaultConfig()
	p, ok := lookupProfile("video/webm;codecs=vp8")
	require.True(t, ok)

	s := pipelineString(p, cfg)
	assert.Contains(t, s, "appsrc name=src")
	assert.Contains(t, s, "width=1080,height=1920,framerate=30/1")
	assert.Contains(t, s, "vp8enc target-bitrate=2500000")
	assert.Contains(t, s, "webmmux")
	assert.True(t, strings.HasSuffix(s, "appsink name=sink sync=false emit-signals=false"))

	mp4, ok := lookupProfile("video/mp4")
	require.True(t, ok)
	assert.Contains(t, pipelineString(mp4, cfg), "x264enc bitrate=2500")
}

func TestFFmpegArgs(t *testing.T) {
	cfg := DefaultConfig()
	p, ok := lookupProfile("Video/WebM")
	require.True(t, ok)

	args := strings.Join(ffmpegArgs(p, cfg), " ")
	assert.Contains(t, args, "-f rawvideo -pix_fmt rgba -s 1080x1920 -r 30 -i pipe:0")
	assert.Contains(t, args, "-c:v libvpx -b:v 2500000")
	assert.True(t, strings.HasSuffix(args, "-f webm pipe:1"))

	mp4, _ := lookupProfile("video/mp4")
	assert.Contains(t, strings.Join(ffmpegArgs(mp4, cfg), " "), "-movflags frag_keyframe+empty_moov")
}

func TestFramePixelsPacksSubImages(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}

	full := framePixels(img)
	assert.Equal(t, img.Pix, full)
	full[0] = 99
	assert.Zero(t, img.Pix[0], "pixels are copied")

	sub := img.SubImage(image.Rect(1, 1, 3, 3)).(*image.RGBA)
	packed := framePixels(sub)
	require.Len(t, packed, 2*2*4)
	assert.Equal(t, img.Pix[img.PixOffset(1, 1):img.PixOffset(1, 1)+8], packed[:8])
	assert.Equal(t, img.Pix[img.PixOffset(1, 2):img.PixOffset(1, 2)+8], packed[8:])
}

func TestFFmpegMissingBinaryIsUnavailable(t *testing.T) {
	f := NewFFmpeg("definitely-not-an-ffmpeg-binary")
	_, err := f.Start(context.Background(), DefaultConfig())
	assert.ErrorIs(t, err, ErrUnavailable)
}

const encoderListing = `Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC (codec h264)
 V....D mpeg4                MPEG-4 part 2
 A....D aac                  AAC (Advanced Audio Coding)
`

// fakeFFmpeg writes a shell script that prints listing for -encoders and
// runs body for every other invocation
func fakeFFmpeg(t *testing.T, listing, body string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no /bin/sh")
	}

	script := "#!/bin/sh\n" +
		"case \"$*\" in\n" +
		"*-encoders*)\n" +
		"cat <<'LISTING'\n" + listing + "LISTING\n" +
		"exit 0;;\n" +
		"esac\n" +
		body + "\n"

	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func smallConfig() Config {
	return Config{
		Width:          16,
		Height:         16,
		FPS:            30,
		Bitrate:        200_000,
		MimeTypes:      append([]string(nil), DefaultMimeTypes...),
		MaxBufferBytes: 1 << 20,
	}
}

func TestParseEncoders(t *testing.T) {
	got := parseEncoders(encoderListing)
	assert.True(t, got["libx264"])
	assert.True(t, got["mpeg4"])
	assert.False(t, got["aac"], "audio encoders are ignored")
	assert.False(t, got["="])
	assert.False(t, got["libvpx"])
}

func TestFFmpegSkipsProfilesWithoutCodec(t *testing.T) {
	// no libvpx, so both webm preferences must be passed over
	bin := fakeFFmpeg(t, encoderListing, `cat > /dev/null; echo "$@"`)

	s, err := NewFFmpeg(bin).Start(context.Background(), smallConfig())
	require.NoError(t, err)
	assert.Equal(t, "video/mp4", s.MimeType())

	require.NoError(t, s.PushFrame(image.NewRGBA(image.Rect(0, 0, 16, 16))))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := s.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "video/mp4", res.MimeType)
	assert.Contains(t, string(res.Data), "-c:v libx264")
}

func TestFFmpegWithoutUsableCodecIsUnavailable(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "encode-started")
	listing := " V....D mpeg4                MPEG-4 part 2\n"
	bin := fakeFFmpeg(t, listing, "touch "+marker)

	_, err := NewFFmpeg(bin).Start(context.Background(), smallConfig())
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "libvpx")
	assert.Contains(t, err.Error(), "libx264")

	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr), "no encode process may be started")
}

func TestFFmpegEncoderListingFails(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	bin := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\nexit 1\n"), 0o755))

	_, err := NewFFmpeg(bin).Start(context.Background(), smallConfig())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestFFmpegStderrLoggedBeforeExit(t *testing.T) {
	var logs bytes.Buffer
	logger.SetOutput(&logs)
	t.Cleanup(func() { logger.SetOutput(os.Stderr) })

	bin := fakeFFmpeg(t, encoderListing, `cat > /dev/null; echo "muxer exploded" >&2; exit 1`)
	s, err := NewFFmpeg(bin).Start(context.Background(), smallConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = s.Stop(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ffmpeg exited")
	assert.Contains(t, logs.String(), "muxer exploded")
}

func TestFFmpegKilledWhenContextCancelled(t *testing.T) {
	// a stalled encoder that never reads its input
	bin := fakeFFmpeg(t, encoderListing, "exec sleep 30")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, err := NewFFmpeg(bin).Start(ctx, smallConfig())
	require.NoError(t, err)
	defer s.Abort()

	pushErr := make(chan error, 1)
	go func() {
		frame := image.NewRGBA(image.Rect(0, 0, 16, 16))
		for {
			if err := s.PushFrame(frame); err != nil {
				pushErr <- err
				return
			}
		}
	}()

	// let the pipe fill so the writer is blocked
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-pushErr:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("PushFrame stayed blocked after cancellation")
	}
}

type stubEncoder struct {
	name string
	err  error
	hits int
}

func (s *stubEncoder) Name() string { return s.name }
func (s *stubEncoder) Start(context.Context, Config) (Stream, error) {
	s.hits++
	if s.err != nil {
		return nil, s.err
	}
	return &stubStream{mime: s.name}, nil
}

type stubStream struct{ mime string }

func (s *stubStream) PushFrame(*image.RGBA) error          { return nil }
func (s *stubStream) Stop(context.Context) (Result, error) { return Result{MimeType: s.mime}, nil }
func (s *stubStream) Abort()                               {}
func (s *stubStream) MimeType() string                     { return s.mime }

func TestChainFallsThroughUnavailable(t *testing.T) {
	first := &stubEncoder{name: "first", err: ErrUnavailable}
	second := &stubEncoder{name: "second"}
	third := &stubEncoder{name: "third"}

	s, err := Chain{first, second, third}.Start(context.Background(), DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, "second", s.MimeType())
	assert.Zero(t, third.hits)
	assert.Equal(t, "first,second,third", Chain{first, second, third}.Name())
}

func TestChainStopsOnOtherErrors(t *testing.T) {
	broken := &stubEncoder{name: "broken", err: errors.New("disk on fire")}
	next := &stubEncoder{name: "next"}

	_, err := Chain{broken, next}.Start(context.Background(), DefaultConfig())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnavailable)
	assert.Zero(t, next.hits)
}

func TestChainAllUnavailable(t *testing.T) {
	_, err := Chain{
		&stubEncoder{name: "a", err: ErrUnavailable},
		&stubEncoder{name: "b", err: ErrUnavailable},
	}.Start(context.Background(), DefaultConfig())
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = Chain{}.Start(context.Background(), DefaultConfig())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestNewBackends(t *testing.T) {
	e, err := New("auto", "")
	require.NoError(t, err)
	assert.Equal(t, "gstreamer,ffmpeg", e.Name())

	e, err = New("ffmpeg", "/usr/bin/ffmpeg")
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/ffmpeg", e.(*FFmpeg).Binary)

	e, err = New("gstreamer", "")
	require.NoError(t, err)
	assert.Equal(t, "gstreamer", e.Name())

	_, err = New("quicktime", "")
	assert.Error(t, err)
}

// hasFFmpegEncoder reports whether a local ffmpeg can encode with codec
func hasFFmpegEncoder(codec string) bool {
	out, err := exec.Command("ffmpeg", "-hide_banner", "-encoders").Output()
	return err == nil && strings.Contains(string(out), codec)
}

func TestFFmpegEncodesWebM(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping subprocess encode in short mode")
	}
	if !hasFFmpegEncoder("libvpx") {
		t.Skip("ffmpeg with libvpx not available")
	}

	cfg := Config{Width: 64, Height: 64, FPS: 30, Bitrate: 200_000, MimeTypes: []string{"video/webm"}, MaxBufferBytes: 4 << 20}
	s, err := NewFFmpeg("").Start(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "video/webm", s.MimeType())

	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for i := 0; i < 15; i++ {
		for p := 0; p < len(img.Pix); p += 4 {
			img.Pix[p], img.Pix[p+1], img.Pix[p+2], img.Pix[p+3] = uint8(i*16), 80, 160, 255
		}
		require.NoError(t, s.PushFrame(img))
	}
	assert.Error(t, s.PushFrame(image.NewRGBA(image.Rect(0, 0, 8, 8))), "wrong size is rejected")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	res, err := s.Stop(ctx)
	require.NoError(t, err)
	require.Greater(t, len(res.Data), 4)
	// EBML magic
	assert.Equal(t, []byte{0x1a, 0x45, 0xdf, 0xa3}, res.Data[:4])
	assert.ErrorIs(t, s.PushFrame(img), ErrStopped)

}
