// Package session runs the timed capture state machine.
//
// A Controller drives one capture run at a time:
//
//	Idle → CountingDown(n) → Capturing → InterPhotoDelay → … → SessionComplete
//
// and in multi mode repeats sessions behind an InterSessionCountdown before
// handing every strip to the video synthesizer. All timing goes through a
// clock.Scheduler. Every scheduled callback carries the epoch it was armed
// in; Reset bumps the epoch, so callbacks from an abandoned run are no-ops.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/PhotoBooth/internal/clock"
	"github.com/bryanchriswhite/PhotoBooth/internal/filter"
	"github.com/bryanchriswhite/PhotoBooth/internal/frame"
	"github.com/bryanchriswhite/PhotoBooth/internal/logger"
	"github.com/bryanchriswhite/PhotoBooth/internal/overlay"
	"github.com/bryanchriswhite/PhotoBooth/internal/strip"
	"github.com/bryanchriswhite/PhotoBooth/internal/video"
)

var (
	// ErrBusy means a run is still capturing or synthesizing
	ErrBusy = errors.New("a capture run is already in progress")

	// ErrClosed means the controller has been shut down
	ErrClosed = errors.New("session controller closed")

	// ErrCaptureFailed means a photo slot ran out of capture attempts
	ErrCaptureFailed = errors.New("capture failed")

	// ErrNoVideoStrips means every strip of a multi run failed to compose
	ErrNoVideoStrips = errors.New("no strips available for video")
)

// FrameSource hands out camera snapshots. Snapshot may be called
// concurrently by the capture and preview loops.
type FrameSource interface {
	Snapshot(ctx context.Context) (frame.Raw, error)
}

// Compositor renders a completed session into a strip
type Compositor interface {
	Compose(photos []filter.Photo, n int, at time.Time) (strip.Strip, error)
}

// Synthesizer renders strips into a clip
type Synthesizer interface {
	Synthesize(ctx context.Context, strips []strip.Strip) (video.Clip, error)
}

// Publisher receives preview frames
type Publisher interface {
	WriteFrame(img *image.RGBA) error
}

// Deps are the collaborators of a Controller. Synthesizer is only needed
// for multi mode and Preview only for the live preview.
type Deps struct {
	Clock       clock.Scheduler
	Source      FrameSource
	Compositor  Compositor
	Synthesizer Synthesizer
	Preview     Publisher
	Overlay     *overlay.Manager
}

type run struct {
	id        string
	cfg       Config
	state     State
	countdown int
	sessions  []*Session
	attempts  int
	strips    []strip.Strip
	clip      *video.Clip

	synthesizing bool
	err          error
	log          *zerolog.Logger
}

func (r *run) current() *Session {
	return r.sessions[len(r.sessions)-1]
}

// Controller owns the capture run state. It is safe for concurrent use.
type Controller struct {
	clk      clock.Scheduler
	src      FrameSource
	comp     Compositor
	synth    Synthesizer
	preview  Publisher
	overlays *overlay.Manager
	badge    *overlay.CountdownWidget
	label    *overlay.TextWidget
	log      *zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	defaults       Config
	liveFilter     filter.Kind
	epoch          uint64
	run            *run
	timer          clock.Timer
	cancelSynth    context.CancelFunc
	previewRunning bool
	previewTimer   clock.Timer
	closed         bool
	observers      []Observer
	outbox         []Event

	// emitMu keeps observer delivery in outbox order across goroutines
	emitMu sync.Mutex

	stale         atomic.Uint64
	previewFrames atomic.Uint64
	previewMisses atomic.Uint64
}

// NewController creates an idle controller. Call StartPreview to begin
// publishing preview frames.
func NewController(deps Deps, defaults Config) (*Controller, error) {
	if deps.Clock == nil || deps.Source == nil || deps.Compositor == nil {
		return nil, errors.New("clock, frame source and compositor are required")
	}
	if defaults.Filter == "" {
		defaults.Filter = filter.None
	}
	if err := defaults.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session defaults: %w", err)
	}

	overlays := deps.Overlay
	if overlays == nil {
		overlays = overlay.NewManager()
	}

	label := overlay.NewTextWidget("filter-label", 12, 12, overlay.Face(overlay.Regular, 20))
	label.SetBackground(&overlayBackground)
	label.SetText(defaults.Filter.Label())
	badge := overlay.NewCountdownWidget("countdown")
	for _, w := range []overlay.Widget{label, badge} {
		if err := overlays.AddWidget(w); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		clk:        deps.Clock,
		src:        deps.Source,
		comp:       deps.Compositor,
		synth:      deps.Synthesizer,
		preview:    deps.Preview,
		overlays:   overlays,
		badge:      badge,
		label:      label,
		log:        logger.WithComponent("session"),
		ctx:        ctx,
		cancel:     cancel,
		defaults:   defaults,
		liveFilter: defaults.Filter,
	}, nil
}

// Subscribe registers an observer for all future events
func (c *Controller) Subscribe(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// Defaults returns the config used to fill in partial start requests
func (c *Controller) Defaults() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.defaults
}

// LiveFilter returns the filter applied to the preview
func (c *Controller) LiveFilter() filter.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveFilter
}

// SetFilter changes the live filter. The preview picks it up on its next
// tick; a session already capturing keeps the filter it started with and
// the next session uses the new one.
func (c *Controller) SetFilter(k filter.Kind) error {
	if !k.Valid() {
		return fmt.Errorf("unknown filter %q", k)
	}

	c.mu.Lock()
	c.liveFilter = k
	c.label.SetText(k.Label())
	ev := c.eventLocked(EventFilter)
	ev.Filter = k
	c.outbox = append(c.outbox, ev)
	c.mu.Unlock()

	c.flush()
	return nil
}

// Start begins a capture run and returns its ID. A run that has reached a
// terminal state is replaced; an active one yields ErrBusy.
func (c *Controller) Start(cfg Config) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	if cfg.Mode == Multi && c.synth == nil {
		return "", errors.New("video synthesis is not configured")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	if r := c.run; r != nil && (!r.state.Terminal() || r.synthesizing) {
		c.mu.Unlock()
		return "", ErrBusy
	}

	if cfg.Filter != "" {
		c.liveFilter = cfg.Filter
		c.label.SetText(cfg.Filter.Label())
	}
	cfg.Filter = c.liveFilter

	c.stopTimerLocked()
	c.epoch++

	id := uuid.NewString()
	r := &run{
		id:  id,
		cfg: cfg,
		log: logger.WithRun("session", id),
	}
	c.run = r

	r.log.Info().
		Str("mode", string(cfg.Mode)).
		Int("photos", cfg.PhotoCount).
		Int("sessions", cfg.SessionCount()).
		Str("filter", string(cfg.Filter)).
		Uint64("epoch", c.epoch).
		Msg("Capture run started")

	c.beginSessionLocked(r)
	c.mu.Unlock()

	c.flush()
	return id, nil
}

// Reset abandons the current run unconditionally. Pending countdowns and
// delays are stopped, synthesis is cancelled and any callback still in
// flight from the old run becomes a no-op.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.epoch++
	c.stopTimerLocked()
	c.cancelSynthLocked()

	runID := ""
	if c.run != nil {
		runID = c.run.id
		c.run.log.Info().Uint64("epoch", c.epoch).Msg("Capture run reset")
	}
	c.run = nil
	c.badge.Clear()

	ev := c.eventLocked(EventReset)
	ev.RunID = runID
	c.outbox = append(c.outbox, ev)

	c.startPreviewLocked()
	c.mu.Unlock()

	c.flush()
}

// Close stops all timers and background work
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.epoch++
	c.stopTimerLocked()
	c.cancelSynthLocked()
	if c.previewTimer != nil {
		c.previewTimer.Stop()
	}
	c.previewRunning = false
	c.cancel()
}

// Snapshot returns the current controller state
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:      Idle,
		Epoch:      c.epoch,
		LiveFilter: c.liveFilter,
		Sessions:   []SessionSummary{},
		StaleTicks: c.stale.Load(),
	}

	r := c.run
	if r == nil {
		return snap
	}

	snap.State = r.state
	snap.RunID = r.id
	snap.Mode = r.cfg.Mode
	snap.PhotoCount = r.cfg.PhotoCount
	snap.Countdown = r.countdown
	snap.Session = len(r.sessions)
	snap.TotalSessions = r.cfg.SessionCount()
	snap.Synthesizing = r.synthesizing
	snap.HasVideo = r.clip != nil
	if r.err != nil {
		snap.Error = r.err.Error()
	}
	for _, s := range r.sessions {
		snap.Sessions = append(snap.Sessions, SessionSummary{
			Index:    s.Index,
			Target:   s.Target,
			Photos:   len(s.Photos),
			Filter:   s.Filter,
			Complete: s.Complete,
			HasStrip: s.Strip != nil,
		})
	}
	return snap
}

// Sessions returns copies of the current run's sessions
func (c *Controller) Sessions() []Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.run == nil {
		return nil
	}
	out := make([]Session, len(c.run.sessions))
	for i, s := range c.run.sessions {
		out[i] = s.clone()
	}
	return out
}

// Clip returns the current run's video, if synthesized
func (c *Controller) Clip() *video.Clip {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.run == nil {
		return nil
	}
	return c.run.clip
}

// StaleTicks counts callbacks that fired after their run was abandoned
func (c *Controller) StaleTicks() uint64 {
	return c.stale.Load()
}

// beginSessionLocked opens the next session with the live filter frozen
func (c *Controller) beginSessionLocked(r *run) {
	s := &Session{
		Index:  len(r.sessions) + 1,
		Target: r.cfg.PhotoCount,
		Filter: c.liveFilter,
		Photos: make([]filter.Photo, 0, r.cfg.PhotoCount),
	}
	r.sessions = append(r.sessions, s)
	r.attempts = 0

	r.log.Debug().Int("session", s.Index).Str("filter", string(s.Filter)).Msg("Session started")
	c.enterCountdownLocked(r, CountingDown, r.cfg.Countdown)
}

// enterCountdownLocked shows n and arms the first tick
func (c *Controller) enterCountdownLocked(r *run, state State, n int) {
	r.countdown = n
	c.setStateLocked(r, state)
	c.emitCountdownLocked(r)
	c.scheduleLocked(r.cfg.Tick)
	c.startPreviewLocked()
}

func (c *Controller) emitCountdownLocked(r *run) {
	switch r.state {
	case InterSessionCountdown:
		c.badge.Set(r.countdown, fmt.Sprintf("Session %d in", len(r.sessions)+1))
	default:
		c.badge.Set(r.countdown, "")
	}

	ev := c.eventLocked(EventCountdown)
	ev.Countdown = r.countdown
	c.outbox = append(c.outbox, ev)
}

func (c *Controller) setStateLocked(r *run, state State) {
	r.state = state
	if state != CountingDown && state != InterSessionCountdown {
		r.countdown = 0
		c.badge.Clear()
	}
	c.outbox = append(c.outbox, c.eventLocked(EventState))
}

// eventLocked builds an event stamped with the current run position
func (c *Controller) eventLocked(t EventType) Event {
	ev := Event{
		Type:   t,
		Epoch:  c.epoch,
		State:  Idle,
		Filter: c.liveFilter,
		Time:   c.clk.Now(),
	}
	if r := c.run; r != nil {
		ev.RunID = r.id
		ev.State = r.state
		ev.Mode = r.cfg.Mode
		if len(r.sessions) > 0 {
			ev.Session = r.current().Index
			ev.Filter = r.current().Filter
		}
	}
	return ev
}

func (c *Controller) errorEventLocked(err error) {
	ev := c.eventLocked(EventError)
	ev.Error = err.Error()
	c.outbox = append(c.outbox, ev)
}

func (c *Controller) scheduleLocked(d time.Duration) {
	epoch := c.epoch
	c.timer = c.clk.AfterFunc(d, func() { c.onTimer(epoch) })
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) cancelSynthLocked() {
	if c.cancelSynth != nil {
		c.cancelSynth()
		c.cancelSynth = nil
	}
}

// currentLocked returns the run an epoch-stamped callback may act on,
// or nil if the callback is stale
func (c *Controller) currentLocked(epoch uint64) *run {
	if epoch != c.epoch || c.run == nil || c.closed {
		c.stale.Add(1)
		c.log.Debug().Uint64("epoch", epoch).Uint64("current", c.epoch).Msg("Ignoring stale callback")
		return nil
	}
	return c.run
}

// onTimer advances countdowns and delays by one step
func (c *Controller) onTimer(epoch uint64) {
	c.mu.Lock()
	r := c.currentLocked(epoch)
	if r == nil {
		c.mu.Unlock()
		return
	}

	capture := false
	switch r.state {
	case CountingDown, InterSessionCountdown:
		r.countdown--
		switch {
		case r.countdown > 0:
			c.emitCountdownLocked(r)
			c.scheduleLocked(r.cfg.Tick)
		case r.state == InterSessionCountdown:
			c.beginSessionLocked(r)
		default:
			c.setStateLocked(r, Capturing)
			capture = true
		}

	case Capturing:
		// retry after a failed capture
		capture = true

	case InterPhotoDelay:
		if r.current().Complete {
			c.enterCountdownLocked(r, InterSessionCountdown, r.cfg.InterSessionCountdown)
		} else {
			c.enterCountdownLocked(r, CountingDown, r.cfg.Countdown)
		}
	}

	var k filter.Kind
	if capture {
		k = r.current().Filter
	}
	c.mu.Unlock()
	c.flush()

	if capture {
		c.capture(epoch, k)
	}
}

// takePhoto grabs one frame and runs it through the filter pipeline
func (c *Controller) takePhoto(k filter.Kind) (filter.Photo, error) {
	raw, err := c.src.Snapshot(c.ctx)
	if err != nil {
		return filter.Photo{}, err
	}
	return filter.Apply(raw, k)
}

// capture takes the photo for the current slot. A miss is retried once
// straight away; if that fails too the slot is retried on the next tick,
// indefinitely unless MaxCaptureAttempts is set.
func (c *Controller) capture(epoch uint64, k filter.Kind) {
	photo, err := c.takePhoto(k)
	if err != nil {
		c.log.Debug().Err(err).Msg("Capture missed, retrying")
		photo, err = c.takePhoto(k)
	}

	c.mu.Lock()
	r := c.currentLocked(epoch)
	if r == nil {
		c.mu.Unlock()
		return
	}

	if err != nil {
		r.attempts++
		if r.cfg.MaxCaptureAttempts > 0 && r.attempts >= r.cfg.MaxCaptureAttempts {
			r.err = fmt.Errorf("%w: session %d photo %d: %v", ErrCaptureFailed, r.current().Index, len(r.current().Photos)+1, err)
			r.log.Error().Err(r.err).Int("attempts", r.attempts).Msg("Giving up on capture")
			c.timer = nil
			c.errorEventLocked(r.err)
			c.setStateLocked(r, Idle)
			c.startPreviewLocked()
		} else {
			r.log.Warn().Err(err).Int("attempt", r.attempts).Msg("Capture failed")
			c.scheduleLocked(r.cfg.Tick)
		}
		c.mu.Unlock()
		c.flush()
		return
	}

	s := r.current()
	r.attempts = 0
	s.Photos = append(s.Photos, photo)

	ev := c.eventLocked(EventPhoto)
	ev.Photo = len(s.Photos)
	ev.PhotoData = &photo
	c.outbox = append(c.outbox, ev)

	r.log.Info().
		Int("session", s.Index).
		Int("photo", len(s.Photos)).
		Int("of", s.Target).
		Str("filter", string(s.Filter)).
		Msg("Photo captured")

	if len(s.Photos) < s.Target {
		c.setStateLocked(r, InterPhotoDelay)
		c.scheduleLocked(r.cfg.InterPhotoDelay)
		c.mu.Unlock()
		c.flush()
		return
	}

	s.Complete = true
	c.timer = nil
	c.setStateLocked(r, SessionComplete)
	photos := append([]filter.Photo(nil), s.Photos...)
	index := s.Index
	c.mu.Unlock()
	c.flush()

	c.completeSession(epoch, index, photos)
}

// completeSession composes the strip and moves on to the next session or
// to the end of the run
func (c *Controller) completeSession(epoch uint64, index int, photos []filter.Photo) {
	st, err := c.comp.Compose(photos, len(photos), c.clk.Now())

	c.mu.Lock()
	r := c.currentLocked(epoch)
	if r == nil {
		c.mu.Unlock()
		return
	}

	s := r.sessions[index-1]
	if err != nil {
		r.log.Error().Err(err).Int("session", index).Msg("Failed to compose strip")
		c.errorEventLocked(fmt.Errorf("session %d strip: %w", index, err))
	} else {
		s.Strip = &st
		r.strips = append(r.strips, st)
		ev := c.eventLocked(EventStrip)
		ev.Strip = &st
		c.outbox = append(c.outbox, ev)
	}

	if index < r.cfg.SessionCount() {
		c.setStateLocked(r, InterPhotoDelay)
		c.scheduleLocked(r.cfg.InterPhotoDelay)
		c.mu.Unlock()
		c.flush()
		return
	}

	if r.cfg.Mode != Multi {
		r.log.Info().Msg("Capture run complete")
		c.mu.Unlock()
		c.flush()
		return
	}

	c.setStateLocked(r, AllSessionsComplete)
	if len(r.strips) == 0 {
		r.err = ErrNoVideoStrips
		c.errorEventLocked(r.err)
		c.mu.Unlock()
		c.flush()
		return
	}

	strips := append([]strip.Strip(nil), r.strips...)
	ctx, cancel := context.WithCancel(c.ctx)
	c.cancelSynth = cancel
	r.synthesizing = true
	r.log.Info().Int("strips", len(strips)).Msg("All sessions complete, synthesizing video")
	c.mu.Unlock()
	c.flush()

	go c.synthesize(ctx, cancel, epoch, strips)
}

func (c *Controller) synthesize(ctx context.Context, cancel context.CancelFunc, epoch uint64, strips []strip.Strip) {
	defer cancel()

	clip, err := c.synth.Synthesize(ctx, strips)

	c.mu.Lock()
	r := c.currentLocked(epoch)
	if r == nil {
		c.mu.Unlock()
		return
	}

	r.synthesizing = false
	c.cancelSynth = nil
	if err != nil {
		r.err = fmt.Errorf("video synthesis: %w", err)
		r.log.Error().Err(err).Msg("Video synthesis failed")
		c.errorEventLocked(r.err)
	} else {
		r.clip = &clip
		ev := c.eventLocked(EventVideo)
		ev.Clip = &clip
		c.outbox = append(c.outbox, ev)
	}
	c.mu.Unlock()
	c.flush()
}

// flush delivers queued events to observers in order
func (c *Controller) flush() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	events := c.outbox
	c.outbox = nil
	observers := append([]Observer(nil), c.observers...)
	c.mu.Unlock()

	for _, ev := range events {
		for _, o := range observers {
			o.OnEvent(ev)
		}
	}
}
