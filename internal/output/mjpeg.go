package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/PhotoBooth/internal/logger"
)

// clientBuffer is how many frames a viewer may fall behind before frames
// are dropped for it
const clientBuffer = 2

// MJPEGOutput streams frames as Motion JPEG over HTTP so any browser can
// show the booth preview
type MJPEGOutput struct {
	config  Config
	log     *zerolog.Logger
	running bool
	mu      sync.RWMutex

	frameMu    sync.RWMutex
	latestJPEG []byte
	lastUpdate time.Time

	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}

	frameCount   atomic.Uint64
	droppedCount atomic.Uint64
	startTime    time.Time
}

// Stats is the JSON stream status
type Stats struct {
	Running   bool      `json:"running"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	TargetFPS int       `json:"target_fps"`
	FPS       float64   `json:"fps"`
	Frames    uint64    `json:"frames"`
	Dropped   uint64    `json:"dropped"`
	Clients   int       `json:"clients"`
	Uptime    string    `json:"uptime,omitempty"`
	Last      time.Time `json:"last_update,omitempty"`
}

// NewMJPEGOutput creates a new MJPEG stream output
func NewMJPEGOutput(config Config) *MJPEGOutput {
	if config.Quality <= 0 || config.Quality > 100 {
		config.Quality = 80
	}
	return &MJPEGOutput{
		config:  config,
		log:     logger.WithComponent("output"),
		clients: make(map[chan []byte]struct{}),
	}
}

// Start initializes the MJPEG output. The HTTP handlers are mounted
// separately.
func (m *MJPEGOutput) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("MJPEG output already running")
	}

	m.running = true
	m.startTime = time.Now()
	m.frameCount.Store(0)
	m.droppedCount.Store(0)

	m.log.Info().
		Int("width", m.config.Width).
		Int("height", m.config.Height).
		Int("fps", m.config.FPS).
		Msg("MJPEG output started")
	return nil
}

// Stop disconnects every viewer
func (m *MJPEGOutput) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false

	m.clientsMu.Lock()
	for ch := range m.clients {
		close(ch)
	}
	m.clients = make(map[chan []byte]struct{})
	m.clientsMu.Unlock()

	m.log.Info().Uint64("frames", m.frameCount.Load()).Msg("MJPEG output stopped")
	return nil
}

// WriteFrame encodes the frame once and fans it out. Viewers whose buffer
// is full skip the frame.
func (m *MJPEGOutput) WriteFrame(frame *image.RGBA) error {
	if !m.IsRunning() {
		return fmt.Errorf("MJPEG output not running")
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, frame, &jpeg.Options{Quality: m.config.Quality}); err != nil {
		return fmt.Errorf("failed to encode JPEG: %w", err)
	}
	jpegData := buf.Bytes()

	m.frameMu.Lock()
	m.latestJPEG = jpegData
	m.lastUpdate = time.Now()
	m.frameMu.Unlock()

	m.frameCount.Add(1)

	m.clientsMu.RLock()
	for ch := range m.clients {
		select {
		case ch <- jpegData:
		default:
			m.droppedCount.Add(1)
		}
	}
	m.clientsMu.RUnlock()

	return nil
}

// Name returns the output type name
func (m *MJPEGOutput) Name() string {
	return "MJPEG HTTP Stream"
}

// IsRunning returns true if the output is active
func (m *MJPEGOutput) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Latest returns the most recent JPEG frame, or nil before the first one
func (m *MJPEGOutput) Latest() []byte {
	m.frameMu.RLock()
	defer m.frameMu.RUnlock()
	return m.latestJPEG
}

// ClientCount returns the number of connected viewers
func (m *MJPEGOutput) ClientCount() int {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	return len(m.clients)
}

func (m *MJPEGOutput) register() (chan []byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.running {
		return nil, false
	}

	ch := make(chan []byte, clientBuffer)
	m.clientsMu.Lock()
	m.clients[ch] = struct{}{}
	count := len(m.clients)
	m.clientsMu.Unlock()

	m.log.Info().Int("clients", count).Msg("Stream client connected")
	return ch, true
}

func (m *MJPEGOutput) unregister(ch chan []byte) {
	m.clientsMu.Lock()
	delete(m.clients, ch)
	count := len(m.clients)
	m.clientsMu.Unlock()
	m.log.Info().Int("clients", count).Msg("Stream client disconnected")
}

// GetHTTPHandler returns the multipart stream handler, mounted at /stream
func (m *MJPEGOutput) GetHTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		frameChan, ok := m.register()
		if !ok {
			http.Error(w, "stream not running", http.StatusServiceUnavailable)
			return
		}
		defer m.unregister(frameChan)

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		w.Header().Set("Connection", "close")

		// a viewer sees the current picture straight away
		if latest := m.Latest(); latest != nil {
			if err := writePart(w, latest); err != nil {
				return
			}
		}

		for {
			select {
			case <-r.Context().Done():
				return
			case jpegData, ok := <-frameChan:
				if !ok {
					return
				}
				if err := writePart(w, jpegData); err != nil {
					return
				}
			}
		}
	}
}

func writePart(w http.ResponseWriter, jpegData []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpegData)); err != nil {
		return err
	}
	if _, err := w.Write(jpegData); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "\r\n"); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// GetFrameHandler serves the latest frame as a single JPEG
func (m *MJPEGOutput) GetFrameHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		latest := m.Latest()
		if latest == nil {
			http.Error(w, "no frame yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "no-store")
		w.Write(latest)
	}
}

// Stats returns stream counters
func (m *MJPEGOutput) Stats() Stats {
	m.mu.RLock()
	running := m.running
	startTime := m.startTime
	m.mu.RUnlock()

	m.frameMu.RLock()
	lastUpdate := m.lastUpdate
	m.frameMu.RUnlock()

	frames := m.frameCount.Load()
	stats := Stats{
		Running:   running,
		Width:     m.config.Width,
		Height:    m.config.Height,
		TargetFPS: m.config.FPS,
		Frames:    frames,
		Dropped:   m.droppedCount.Load(),
		Clients:   m.ClientCount(),
		Last:      lastUpdate,
	}
	if running && !startTime.IsZero() {
		elapsed := time.Since(startTime)
		if secs := elapsed.Seconds(); secs > 0 {
			stats.FPS = float64(frames) / secs
		}
		stats.Uptime = elapsed.Round(time.Second).String()
	}
	return stats
}

// GetStatsHandler returns stream statistics as JSON
func (m *MJPEGOutput) GetStatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.Stats())
	}
}

// GetViewerHandler serves a full-screen page showing the stream
func (m *MJPEGOutput) GetViewerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(viewerHTML))
	}
}

const viewerHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>PhotoBooth</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body { background: #000; overflow: hidden; display: flex; justify-content: center; align-items: center; min-height: 100vh; }
        img { width: 100vw; height: 100vh; object-fit: contain; display: block; background: #000; }
    </style>
</head>
<body>
    <img src="/stream" alt="PhotoBooth preview">
</body>
</html>`
