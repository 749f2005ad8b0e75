package encoder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/PhotoBooth/internal/logger"
)

// FFmpeg encodes by piping raw RGBA frames into an ffmpeg subprocess and
// reading the muxed stream from its stdout. It avoids cgo entirely.
type FFmpeg struct {
	// Binary is the ffmpeg executable, looked up on PATH
	Binary string
}

// NewFFmpeg creates an ffmpeg encoder using binary ("ffmpeg" when empty)
func NewFFmpeg(binary string) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{Binary: binary}
}

// Name returns the backend name
func (f *FFmpeg) Name() string {
	return "ffmpeg"
}

// ffmpegArgs builds the full argument list for one profile
func ffmpegArgs(p profile, cfg Config) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-r", fmt.Sprint(cfg.FPS),
		"-i", "pipe:0",
		"-an",
	}
	args = append(args, p.ffmpeg(cfg)...)
	return append(args, "pipe:1")
}

// Start launches ffmpeg for the first preferred profile whose codec the
// binary was built with. The process is killed when ctx is cancelled.
func (f *FFmpeg) Start(ctx context.Context, cfg Config) (Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	path, err := exec.LookPath(f.Binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	encoders, err := listEncoders(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	log := logger.WithComponent("encoder")

	return negotiate(cfg.MimeTypes, func(p profile) (Stream, error) {
		if !encoders[p.codec] {
			return nil, fmt.Errorf("ffmpeg has no %s encoder", p.codec)
		}

		args := ffmpegArgs(p, cfg)
		log.Debug().Str("cmd", path+" "+strings.Join(args, " ")).Msg("Starting ffmpeg")

		cmd := exec.CommandContext(ctx, path, args...)
		s, err := startFFmpegStream(cmd, p.mime, cfg, log)
		if err != nil {
			return nil, err
		}
		log.Info().Str("mime", p.mime).Int("pid", cmd.Process.Pid).Msg("ffmpeg encoder started")
		return s, nil
	})
}

// listEncoders returns the video encoders reported by `ffmpeg -encoders`
func listEncoders(ctx context.Context, path string) (map[string]bool, error) {
	out, err := exec.CommandContext(ctx, path, "-hide_banner", "-encoders").Output()
	if err != nil {
		return nil, fmt.Errorf("listing ffmpeg encoders: %w", err)
	}
	return parseEncoders(string(out)), nil
}

// parseEncoders reads lines such as " V....D libx264   libx264 H.264 ..."
func parseEncoders(out string) map[string]bool {
	encoders := make(map[string]bool)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) != 6 || fields[0][0] != 'V' || fields[1] == "=" {
			continue
		}
		encoders[fields[1]] = true
	}
	return encoders
}

type ffmpegStream struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	mime  string
	cfg   Config
	buf   *Buffer
	log   *zerolog.Logger

	mu      sync.Mutex
	stopped bool
	readErr error
	done    chan struct{}

	// stderrDone closes once stderr is drained; Wait must come after it
	stderrDone chan struct{}
}

func startFFmpegStream(cmd *exec.Cmd, mime string, cfg Config, log *zerolog.Logger) (*ffmpegStream, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	s := &ffmpegStream{
		cmd:   cmd,
		stdin: stdin,
		mime:  mime,
		cfg:   cfg,
		buf:   NewBuffer(cfg.MaxBufferBytes),
		log:   log,
		done:  make(chan struct{}),

		stderrDone: make(chan struct{}),
	}

	go s.readOutput(stdout)
	go s.logStderr(stderr)
	return s, nil
}

func (s *ffmpegStream) MimeType() string {
	return s.mime
}

// readOutput copies the muxed stream into the bounded buffer
func (s *ffmpegStream) readOutput(stdout io.Reader) {
	defer close(s.done)

	chunk := make([]byte, 64<<10)
	for {
		n, err := stdout.Read(chunk)
		if n > 0 {
			if _, werr := s.buf.Write(chunk[:n]); werr != nil {
				s.setReadErr(werr)
				// keep draining so ffmpeg does not block on a full pipe
				_, _ = io.Copy(io.Discard, stdout)
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.setReadErr(fmt.Errorf("reading ffmpeg output: %w", err))
			}
			return
		}
	}
}

func (s *ffmpegStream) setReadErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr == nil {
		s.readErr = err
	}
}

func (s *ffmpegStream) logStderr(stderr io.Reader) {
	defer close(s.stderrDone)
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		s.log.Warn().Str("ffmpeg", scanner.Text()).Msg("ffmpeg message")
	}
}

func (s *ffmpegStream) PushFrame(img *image.RGBA) error {
	s.mu.Lock()
	stopped, readErr := s.stopped, s.readErr
	s.mu.Unlock()

	if stopped {
		return ErrStopped
	}
	if readErr != nil {
		return readErr
	}
	if err := checkFrame(img, s.cfg); err != nil {
		return err
	}

	if _, err := s.stdin.Write(framePixels(img)); err != nil {
		return fmt.Errorf("writing frame to ffmpeg: %w", err)
	}
	return nil
}

func (s *ffmpegStream) Stop(ctx context.Context) (Result, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return Result{}, ErrStopped
	}
	s.stopped = true
	s.mu.Unlock()

	_ = s.stdin.Close()

	select {
	case <-s.done:
	case <-ctx.Done():
		s.kill()
		s.buf.Discard()
		return Result{}, fmt.Errorf("waiting for ffmpeg: %w", ctx.Err())
	}

	<-s.stderrDone
	if err := s.cmd.Wait(); err != nil {
		s.buf.Discard()
		return Result{}, fmt.Errorf("ffmpeg exited: %w", err)
	}

	s.mu.Lock()
	readErr := s.readErr
	s.mu.Unlock()
	if readErr != nil {
		s.buf.Discard()
		return Result{}, readErr
	}

	data := s.buf.Take()
	s.log.Info().Int("bytes", len(data)).Str("mime", s.mime).Msg("ffmpeg encoder finished")
	return Result{Data: data, MimeType: s.mime}, nil
}

func (s *ffmpegStream) Abort() {
	s.mu.Lock()
	already := s.stopped
	s.stopped = true
	s.mu.Unlock()

	if !already {
		_ = s.stdin.Close()
		s.kill()
	}
	s.buf.Discard()
}

func (s *ffmpegStream) kill() {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	<-s.done
	<-s.stderrDone
	_ = s.cmd.Wait()
}
