package video

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanchriswhite/PhotoBooth/internal/clock"
	"github.com/bryanchriswhite/PhotoBooth/internal/encoder"
	"github.com/bryanchriswhite/PhotoBooth/internal/strip"
)

var stripColors = []color.RGBA{
	{255, 0, 0, 255},
	{0, 255, 0, 255},
	{0, 0, 255, 255},
}

func solidStrip(t *testing.T, c color.RGBA, w, h int) strip.Strip {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	buf := new(bytes.Buffer)
	require.NoError(t, png.Encode(buf, img))
	return strip.Strip{Data: buf.Bytes(), Width: w, Height: h}
}

// recordingEncoder remembers which strip colour every frame showed and at
// what virtual time it was pushed
type recordingEncoder struct {
	clk      clock.Scheduler
	startErr error
	stopWait bool
	failAt   int
	onFrame  func(n int)

	started bool
	aborted bool
	stopped bool
	frames  []int
	times   []time.Time
}

func (r *recordingEncoder) Name() string { return "recording" }

func (r *recordingEncoder) Start(ctx context.Context, cfg encoder.Config) (encoder.Stream, error) {
	if r.startErr != nil {
		return nil, r.startErr
	}
	r.started = true
	return &recordingStream{enc: r}, nil
}

type recordingStream struct {
	enc *recordingEncoder
}

func (s *recordingStream) PushFrame(img *image.RGBA) error {
	r := s.enc
	if r.failAt > 0 && len(r.frames) == r.failAt {
		return errors.New("encoder crashed")
	}
	px := img.RGBAAt(img.Bounds().Dx()/2, img.Bounds().Dy()/2)
	idx := -1
	for i, c := range stripColors {
		if near(px, c) {
			idx = i
		}
	}
	r.frames = append(r.frames, idx)
	r.times = append(r.times, r.clk.Now())
	if r.onFrame != nil {
		r.onFrame(len(r.frames))
	}
	return nil
}

func near(a, b color.RGBA) bool {
	d := func(x, y uint8) int {
		if x > y {
			return int(x - y)
		}
		return int(y - x)
	}
	return d(a.R, b.R) < 8 && d(a.G, b.G) < 8 && d(a.B, b.B) < 8
}

func (s *recordingStream) Stop(ctx context.Context) (encoder.Result, error) {
	if s.enc.stopWait {
		<-ctx.Done()
		return encoder.Result{}, ctx.Err()
	}
	s.enc.stopped = true
	return encoder.Result{Data: []byte("clip"), MimeType: "video/webm;codecs=vp8"}, nil
}

func (s *recordingStream) Abort()           { s.enc.aborted = true }
func (s *recordingStream) MimeType() string { return "video/webm;codecs=vp8" }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Encoder.Width = 9
	cfg.Encoder.Height = 16
	return cfg
}

func newTestSynth(mutate func(*recordingEncoder)) (*Synthesizer, *recordingEncoder, *clock.Fake) {
	clk := clock.NewFake(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	enc := &recordingEncoder{clk: clk}
	if mutate != nil {
		mutate(enc)
	}
	return NewSynthesizer(enc, clk, testConfig()), enc, clk
}

func TestConfigTiming(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 450, cfg.TotalFrames())
	assert.Equal(t, 5000*time.Millisecond, cfg.PerStrip(3))
	assert.Equal(t, 7500*time.Millisecond, cfg.PerStrip(2))
	assert.Equal(t, 15*time.Second, cfg.PerStrip(1))
	assert.Zero(t, cfg.PerStrip(0))
}

func TestStripAt(t *testing.T) {
	per := 5 * time.Second
	assert.Equal(t, 0, StripAt(0, per, 3))
	assert.Equal(t, 0, StripAt(4999*time.Millisecond, per, 3))
	assert.Equal(t, 1, StripAt(5*time.Second, per, 3))
	assert.Equal(t, 2, StripAt(14999*time.Millisecond, per, 3))
	assert.Equal(t, 0, StripAt(15*time.Second, per, 3), "wraps modulo the strip count")
	assert.Equal(t, 1, StripAt(21*time.Second, per, 3))
	assert.Equal(t, 0, StripAt(time.Second, 0, 3))
}

func TestSynthesizeThreeStrips(t *testing.T) {
	s, enc, clk := newTestSynth(nil)
	start := clk.Now()

	strips := []strip.Strip{
		solidStrip(t, stripColors[0], 9, 16),
		solidStrip(t, stripColors[1], 9, 16),
		solidStrip(t, stripColors[2], 9, 16),
	}

	var progressCalls, lastTotal int
	s.OnProgress(func(frame, total int) {
		progressCalls++
		lastTotal = total
	})

	clip, err := s.Synthesize(context.Background(), strips)
	require.NoError(t, err)

	assert.Equal(t, 450, clip.Frames)
	assert.Equal(t, 3, clip.Strips)
	assert.Equal(t, 5000*time.Millisecond, clip.PerStrip)
	assert.Equal(t, 15*time.Second, clip.Duration)
	assert.Equal(t, "webm", clip.Extension())
	assert.Equal(t, []byte("clip"), clip.Data)
	assert.True(t, enc.stopped)
	assert.False(t, enc.aborted)
	assert.Equal(t, 450, progressCalls)
	assert.Equal(t, 450, lastTotal)

	require.Len(t, enc.frames, 450)
	for k, idx := range enc.frames {
		want := k / 150
		require.Equal(t, want, idx, "frame %d", k)

		elapsed := enc.times[k].Sub(start)
		assert.Equal(t, StripAt(elapsed, 5*time.Second, 3), idx, "frame %d chosen by elapsed time", k)
	}

	assert.True(t, clk.Now().Sub(start) >= 15*time.Second)
}

func TestSynthesizeSingleStripAndPairs(t *testing.T) {
	s, enc, _ := newTestSynth(nil)
	_, err := s.Synthesize(context.Background(), []strip.Strip{solidStrip(t, stripColors[1], 9, 16)})
	require.NoError(t, err)
	require.Len(t, enc.frames, 450)
	for _, idx := range enc.frames {
		require.Equal(t, 1, idx)
	}

	s, enc, _ = newTestSynth(nil)
	_, err = s.Synthesize(context.Background(), []strip.Strip{
		solidStrip(t, stripColors[0], 9, 16),
		solidStrip(t, stripColors[2], 9, 16),
	})
	require.NoError(t, err)
	require.Len(t, enc.frames, 450)
	assert.Equal(t, 0, enc.frames[224])
	assert.Equal(t, 2, enc.frames[225])
}

func TestSynthesizeScalesStripsToFrame(t *testing.T) {
	s, enc, _ := newTestSynth(nil)
	_, err := s.Synthesize(context.Background(), []strip.Strip{solidStrip(t, stripColors[2], 3, 4)})
	require.NoError(t, err)
	assert.Equal(t, 2, enc.frames[0])
}

func TestSynthesizeEncoderUnavailableBeforeFrames(t *testing.T) {
	s, enc, clk := newTestSynth(func(r *recordingEncoder) {
		r.startErr = encoder.ErrUnavailable
	})
	start := clk.Now()

	_, err := s.Synthesize(context.Background(), []strip.Strip{solidStrip(t, stripColors[0], 9, 16)})
	assert.ErrorIs(t, err, encoder.ErrUnavailable)
	assert.Empty(t, enc.frames)
	assert.Equal(t, start, clk.Now(), "frame loop never ran")
}

func TestSynthesizeRejectsBadInput(t *testing.T) {
	s, enc, _ := newTestSynth(nil)

	_, err := s.Synthesize(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoStrips)

	_, err = s.Synthesize(context.Background(), []strip.Strip{
		solidStrip(t, stripColors[0], 9, 16),
		{Data: []byte("not a png")},
	})
	assert.ErrorIs(t, err, strip.ErrAssetLoad)
	assert.False(t, enc.started, "encoder is not started for undecodable strips")
}

func TestSynthesizeAbortsOnPushFailure(t *testing.T) {
	s, enc, _ := newTestSynth(func(r *recordingEncoder) { r.failAt = 10 })

	_, err := s.Synthesize(context.Background(), []strip.Strip{solidStrip(t, stripColors[0], 9, 16)})
	require.Error(t, err)
	assert.True(t, enc.aborted)
	assert.False(t, enc.stopped)
	assert.Len(t, enc.frames, 10)
}

func TestSynthesizeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, enc, _ := newTestSynth(func(r *recordingEncoder) {
		r.onFrame = func(n int) {
			if n == 20 {
				cancel()
			}
		}
	})

	_, err := s.Synthesize(ctx, []strip.Strip{solidStrip(t, stripColors[0], 9, 16)})
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, enc.aborted)
	assert.Len(t, enc.frames, 20)
}

func TestSynthesizeEncoderTimeout(t *testing.T) {
	s, _, _ := newTestSynth(func(r *recordingEncoder) { r.stopWait = true })
	s.cfg.EncoderTimeout = 20 * time.Millisecond

	_, err := s.Synthesize(context.Background(), []strip.Strip{solidStrip(t, stripColors[0], 9, 16)})
	assert.ErrorIs(t, err, ErrEncoderTimeout)
}
