package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/PhotoBooth/internal/frame"
	"github.com/bryanchriswhite/PhotoBooth/internal/logger"
)

// GstLaunch runs gst-launch-1.0 as a child process and reads raw RGBA
// frames from its stdout. It avoids cgo entirely.
type GstLaunch struct {
	cfg    Config
	binary string
	log    *zerolog.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	running  bool
	stopChan chan struct{}
	done     chan struct{}

	latest latestFrame
}

// NewGstLaunch creates a subprocess camera source
func NewGstLaunch(cfg Config) *GstLaunch {
	return &GstLaunch{
		cfg:    cfg,
		binary: "gst-launch-1.0",
		log:    logger.WithComponent("source"),
	}
}

// launchPipeline writes raw frames of exactly width x height to stdout
func launchPipeline(cfg Config) string {
	return fmt.Sprintf(
		"%s ! videoconvert ! videoscale ! videorate ! %s,framerate=%d/1 ! fdsink fd=1 sync=false",
		cameraElement(cfg.Device), rawCaps(cfg), cfg.FPS,
	)
}

// Start launches the pipeline. The frame size is probed from the camera
// caps when possible and falls back to the configured size.
func (g *GstLaunch) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return fmt.Errorf("pipeline already running")
	}

	if _, err := exec.LookPath(g.binary); err != nil {
		return fmt.Errorf("%s not found: %w", g.binary, err)
	}

	if w, h, err := g.probeCameraSize(); err == nil {
		g.log.Debug().Int("width", w).Int("height", h).Msg("Camera native size")
	} else {
		g.log.Debug().Err(err).Msg("Camera probe failed, scaling to configured size")
	}

	pipelineStr := launchPipeline(g.cfg)
	g.log.Debug().Str("pipeline", pipelineStr).Msg("Starting GStreamer subprocess")

	// sh -c so the ! separators are parsed the same way as on a terminal
	cmd := exec.Command("sh", "-c", g.binary+" -q "+pipelineStr)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", g.binary, err)
	}

	g.cmd = cmd
	g.running = true
	g.stopChan = make(chan struct{})
	g.done = make(chan struct{})

	go func(stop <-chan struct{}, done chan<- struct{}) {
		defer close(done)
		n := g.readFrames(stdout, g.cfg.Width, g.cfg.Height, stop)
		g.log.Debug().Uint64("frames", n).Msg("Frame reader stopped")
	}(g.stopChan, g.done)
	go g.logStderr(stderr)

	g.log.Info().
		Str("device", g.cfg.Device).
		Int("pid", cmd.Process.Pid).
		Msg("GStreamer subprocess started")
	return nil
}

// probeCameraSize runs a one-buffer pipeline and parses the negotiated caps
func (g *GstLaunch) probeCameraSize() (int, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pipelineStr := cameraElement(g.cfg.Device) + " num-buffers=1 ! fakesink"
	output, err := exec.CommandContext(ctx, "sh", "-c", g.binary+" -v "+pipelineStr).CombinedOutput()
	if err != nil {
		g.log.Debug().Str("output", string(output)).Msg("Probe command output")
	}
	return parseCapsSize(string(output))
}

// parseCapsSize finds the first video/x-raw caps line with a size, e.g.
// "caps = video/x-raw, format=(string)YUY2, width=(int)1280, height=(int)720"
func parseCapsSize(output string) (int, int, error) {
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "video/x-raw") || !strings.Contains(line, "width=") {
			continue
		}
		w := extractIntFromCaps(line, "width")
		h := extractIntFromCaps(line, "height")
		if w > 0 && h > 0 {
			return w, h, nil
		}
	}
	return 0, 0, errors.New("could not determine camera size")
}

// extractIntFromCaps reads key=(int)N or key=N from a caps string
func extractIntFromCaps(caps, key string) int {
	for _, pattern := range []string{key + "=(int)", key + "="} {
		idx := strings.Index(caps, pattern)
		if idx < 0 {
			continue
		}
		start := idx + len(pattern)
		end := start
		for end < len(caps) && caps[end] >= '0' && caps[end] <= '9' {
			end++
		}
		if end > start {
			if val, err := strconv.Atoi(caps[start:end]); err == nil {
				return val
			}
		}
	}
	return 0
}

// readFrames reads fixed-size RGBA frames until EOF or stop and returns the
// number of frames stored
func (g *GstLaunch) readFrames(r io.Reader, width, height int, stop <-chan struct{}) uint64 {
	frameSize := width * height * 4
	reader := bufio.NewReaderSize(r, frameSize*2)
	buf := make([]byte, frameSize)

	var n uint64
	for {
		select {
		case <-stop:
			return n
		default:
		}

		read, err := io.ReadFull(reader, buf)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				g.log.Debug().Int("bytes_read", read).Msg("EOF from GStreamer subprocess")
				return n
			}
			g.log.Error().Err(err).Int("bytes_read", read).Msg("Error reading frame")
			time.Sleep(10 * time.Millisecond)
			continue
		}

		img, err := rgbaFromBytes(buf, width, height)
		if err != nil {
			continue
		}
		g.latest.store(img, time.Now())
		n++
	}
}

func (g *GstLaunch) logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "ERROR") || strings.Contains(line, "WARN") {
			g.log.Warn().Str("gst", line).Msg("GStreamer message")
		} else {
			g.log.Debug().Str("gst", line).Msg("GStreamer output")
		}
	}
}

// Stop kills the subprocess and waits for the reader to exit
func (g *GstLaunch) Stop() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.running {
		return nil
	}

	close(g.stopChan)
	if g.cmd != nil && g.cmd.Process != nil {
		g.log.Debug().Int("pid", g.cmd.Process.Pid).Msg("Killing GStreamer subprocess")
		_ = g.cmd.Process.Kill()
		_ = g.cmd.Wait()
	}
	<-g.done

	g.running = false
	g.latest.reset()
	g.log.Info().Msg("GStreamer subprocess stopped")
	return nil
}

// Name returns the source name
func (g *GstLaunch) Name() string { return string(KindGstLaunch) }

// Snapshot returns a copy of the latest frame read from the subprocess
func (g *GstLaunch) Snapshot(ctx context.Context) (frame.Raw, error) {
	if err := ctx.Err(); err != nil {
		return frame.Raw{}, err
	}
	return g.latest.snapshot(g.Name())
}
