package output

import (
	"bufio"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestLifecycle(t *testing.T) {
	m := NewMJPEGOutput(DefaultConfig())
	var out Output = m
	assert.Equal(t, "MJPEG HTTP Stream", out.Name())
	assert.False(t, out.IsRunning())
	assert.Error(t, m.WriteFrame(solid(color.RGBA{A: 255})))

	require.NoError(t, m.Start())
	assert.Error(t, m.Start())
	assert.True(t, m.IsRunning())

	require.NoError(t, m.WriteFrame(solid(color.RGBA{A: 255})))
	assert.NotNil(t, m.Latest())

	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())
	assert.False(t, m.IsRunning())
}

func TestFrameHandler(t *testing.T) {
	m := NewMJPEGOutput(DefaultConfig())
	require.NoError(t, m.Start())

	rec := httptest.NewRecorder()
	m.GetFrameHandler()(rec, httptest.NewRequest(http.MethodGet, "/stream/frame.jpg", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, m.WriteFrame(solid(color.RGBA{R: 255, A: 255})))

	rec = httptest.NewRecorder()
	m.GetFrameHandler()(rec, httptest.NewRequest(http.MethodGet, "/stream/frame.jpg", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))

	img, err := jpeg.Decode(rec.Body)
	require.NoError(t, err)
	r, g, _, _ := img.At(8, 8).RGBA()
	assert.Greater(t, r>>8, uint32(200))
	assert.Less(t, g>>8, uint32(50))
}

func TestStreamDeliversParts(t *testing.T) {
	m := NewMJPEGOutput(DefaultConfig())
	require.NoError(t, m.Start())
	require.NoError(t, m.WriteFrame(solid(color.RGBA{B: 255, A: 255})))

	srv := httptest.NewServer(m.GetHTTPHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/x-mixed-replace", mediaType)
	require.Equal(t, "frame", params["boundary"])

	reader := multipart.NewReader(bufio.NewReader(resp.Body), params["boundary"])

	// the latest frame is sent on connect
	part, err := reader.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))
	data, err := io.ReadAll(part)
	require.NoError(t, err)
	assert.Equal(t, m.Latest(), data)

	require.Eventually(t, func() bool { return m.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, m.WriteFrame(solid(color.RGBA{G: 255, A: 255})))

	part, err = reader.NextPart()
	require.NoError(t, err)
	img, err := jpeg.Decode(part)
	require.NoError(t, err)
	_, g, _, _ := img.At(8, 8).RGBA()
	assert.Greater(t, g>>8, uint32(200))
}

func TestStreamRejectedWhenStopped(t *testing.T) {
	m := NewMJPEGOutput(DefaultConfig())
	rec := httptest.NewRecorder()
	m.GetHTTPHandler()(rec, httptest.NewRequest(http.MethodGet, "/stream", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSlowClientDropsFrames(t *testing.T) {
	m := NewMJPEGOutput(DefaultConfig())
	require.NoError(t, m.Start())

	ch, ok := m.register()
	require.True(t, ok)

	for i := 0; i < clientBuffer+3; i++ {
		require.NoError(t, m.WriteFrame(solid(color.RGBA{A: 255})))
	}
	assert.Len(t, ch, clientBuffer)
	assert.Equal(t, uint64(3), m.Stats().Dropped)

	require.NoError(t, m.Stop())
	for range ch {
	}
	assert.Zero(t, m.ClientCount())
}

func TestStatsHandler(t *testing.T) {
	m := NewMJPEGOutput(Config{Width: 320, Height: 320, FPS: 10, Quality: 500})
	assert.Equal(t, 80, m.config.Quality, "out of range quality falls back")

	require.NoError(t, m.Start())
	require.NoError(t, m.WriteFrame(solid(color.RGBA{A: 255})))
	require.NoError(t, m.WriteFrame(solid(color.RGBA{A: 255})))

	rec := httptest.NewRecorder()
	m.GetStatsHandler()(rec, httptest.NewRequest(http.MethodGet, "/stream/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var stats Stats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.True(t, stats.Running)
	assert.Equal(t, uint64(2), stats.Frames)
	assert.Equal(t, 320, stats.Width)
	assert.Equal(t, 10, stats.TargetFPS)
	assert.Zero(t, stats.Clients)
}

func TestViewerHandler(t *testing.T) {
	m := NewMJPEGOutput(DefaultConfig())
	rec := httptest.NewRecorder()
	m.GetViewerHandler()(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, rec.Body.String(), `src="/stream"`)
}
