package artifact

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/PhotoBooth/internal/clock"
	"github.com/bryanchriswhite/PhotoBooth/internal/logger"
)

// scheduleParser accepts standard 5-field expressions and descriptors
// such as "@hourly" or "@every 10m"
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule checks a prune schedule expression
func ValidateSchedule(spec string) error {
	if _, err := scheduleParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", spec, err)
	}
	return nil
}

// Retention prunes artifacts older than MaxAge from the store and, when a
// DirSaver is attached, from disk
type Retention struct {
	store  *Store
	saver  *DirSaver
	maxAge time.Duration
	clk    clock.Scheduler
	log    *zerolog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewRetention creates a pruner; saver may be nil
func NewRetention(store *Store, saver *DirSaver, maxAge time.Duration, clk clock.Scheduler) *Retention {
	if clk == nil {
		clk = clock.NewReal()
	}
	return &Retention{
		store:  store,
		saver:  saver,
		maxAge: maxAge,
		clk:    clk,
		log:    logger.WithComponent("artifact"),
	}
}

// PruneNow removes expired artifacts and returns how many were dropped from
// memory and from disk
func (r *Retention) PruneNow() (int, int) {
	if r.maxAge <= 0 {
		return 0, 0
	}
	cutoff := r.clk.Now().Add(-r.maxAge)

	inMemory := r.store.Prune(cutoff)
	onDisk := 0
	if r.saver != nil {
		n, err := r.saver.Prune(cutoff)
		if err != nil {
			r.log.Error().Err(err).Msg("Failed to prune saved artifacts")
		}
		onDisk = n
	}

	if inMemory > 0 || onDisk > 0 {
		r.log.Info().
			Int("memory", inMemory).
			Int("disk", onDisk).
			Time("cutoff", cutoff).
			Msg("Pruned expired artifacts")
	}
	return inMemory, onDisk
}

// Start runs PruneNow on the given schedule until Stop
func (r *Retention) Start(spec string) error {
	if err := ValidateSchedule(spec); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron != nil {
		return fmt.Errorf("retention already running")
	}

	c := cron.New(cron.WithParser(scheduleParser))
	if _, err := c.AddFunc(spec, func() { r.PruneNow() }); err != nil {
		return fmt.Errorf("failed to schedule pruning: %w", err)
	}
	c.Start()
	r.cron = c

	r.log.Info().Str("schedule", spec).Dur("max_age", r.maxAge).Msg("Artifact retention started")
	return nil
}

// Stop halts the schedule and waits for a running prune to finish
func (r *Retention) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}
