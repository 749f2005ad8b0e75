package artifact

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/PhotoBooth/internal/logger"
	"github.com/bryanchriswhite/PhotoBooth/internal/session"
)

// RecorderOptions controls what the recorder persists
type RecorderOptions struct {
	// AutoSave writes strips and videos through the saver as they arrive
	AutoSave bool
	// SavePhotos also writes individual photos when AutoSave is set
	SavePhotos bool
}

// Recorder turns session events into stored artifacts. Register it with
// session.Controller.Subscribe.
type Recorder struct {
	store *Store
	saver Saver
	opts  RecorderOptions
	log   *zerolog.Logger

	mu       sync.Mutex
	finished map[string]bool
}

// NewRecorder creates a recorder; saver may be nil when nothing is saved
func NewRecorder(store *Store, saver Saver, opts RecorderOptions) *Recorder {
	return &Recorder{
		store:    store,
		saver:    saver,
		opts:     opts,
		log:      logger.WithComponent("artifact"),
		finished: make(map[string]bool),
	}
}

// OnEvent implements session.Observer
func (r *Recorder) OnEvent(ev session.Event) {
	switch ev.Type {
	case session.EventPhoto:
		if ev.PhotoData == nil {
			return
		}
		a := r.store.Add(Artifact{
			Kind:      KindPhoto,
			RunID:     ev.RunID,
			Session:   ev.Session,
			Photo:     ev.Photo,
			Filename:  PhotoFilename(ev.Session, ev.Time),
			MimeType:  "image/jpeg",
			CreatedAt: ev.Time,
			Data:      ev.PhotoData.Data,
		})
		if r.opts.SavePhotos {
			r.save(a)
		}

	case session.EventStrip:
		if ev.Strip == nil {
			return
		}
		a := r.store.Add(Artifact{
			Kind:      KindStrip,
			RunID:     ev.RunID,
			Session:   ev.Session,
			Filename:  StripFilename(ev.Session, ev.Mode == session.Multi, ev.Time),
			MimeType:  "image/png",
			CreatedAt: ev.Time,
			Data:      ev.Strip.Data,
		})
		if ev.Mode != session.Multi {
			r.markFinished(ev.RunID)
		}
		r.save(a)

	case session.EventVideo:
		if ev.Clip == nil {
			return
		}
		a := r.store.Add(Artifact{
			Kind:      KindVideo,
			RunID:     ev.RunID,
			Filename:  VideoFilename(ev.Clip.Extension(), ev.Time),
			MimeType:  ev.Clip.MimeType,
			CreatedAt: ev.Time,
			Data:      ev.Clip.Data,
		})
		r.markFinished(ev.RunID)
		r.save(a)

	case session.EventError:
		if ev.State == session.AllSessionsComplete {
			r.markFinished(ev.RunID)
		}

	case session.EventReset:
		r.onReset(ev.RunID)
	}
}

// onReset drops what an abandoned run produced so far. Finished runs keep
// their artifacts.
func (r *Recorder) onReset(runID string) {
	if runID == "" {
		return
	}

	r.mu.Lock()
	finished := r.finished[runID]
	delete(r.finished, runID)
	r.mu.Unlock()

	if finished {
		return
	}
	if n := r.store.DiscardRun(runID); n > 0 {
		r.log.Info().Str("run_id", runID).Int("artifacts", n).Msg("Discarded artifacts of reset run")
	}
}

func (r *Recorder) markFinished(runID string) {
	r.mu.Lock()
	r.finished[runID] = true
	r.mu.Unlock()
}

func (r *Recorder) save(a Artifact) {
	if !r.opts.AutoSave || r.saver == nil {
		return
	}

	path, err := r.saver.Save(a.Data, a.Filename)
	if err != nil {
		r.log.Error().Err(err).Str("filename", a.Filename).Msg("Failed to save artifact")
		return
	}
	r.store.markSaved(a.ID, path)
	r.log.Info().Str("kind", string(a.Kind)).Str("path", path).Int("bytes", a.Size).Msg("Artifact saved")
}
