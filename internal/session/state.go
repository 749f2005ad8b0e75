package session

import (
	"time"

	"github.com/bryanchriswhite/PhotoBooth/internal/filter"
	"github.com/bryanchriswhite/PhotoBooth/internal/strip"
	"github.com/bryanchriswhite/PhotoBooth/internal/video"
)

// State is the controller's position in the capture run
type State string

const (
	Idle                  State = "idle"
	CountingDown          State = "counting_down"
	Capturing             State = "capturing"
	InterPhotoDelay       State = "inter_photo_delay"
	SessionComplete       State = "session_complete"
	InterSessionCountdown State = "inter_session_countdown"
	AllSessionsComplete   State = "all_sessions_complete"
)

// Terminal reports whether no further timed transitions follow
func (s State) Terminal() bool {
	return s == Idle || s == SessionComplete || s == AllSessionsComplete
}

// Session is one ordered run of photos. Photos are append-only and never
// exceed Target.
type Session struct {
	Index    int
	Target   int
	Filter   filter.Kind
	Photos   []filter.Photo
	Complete bool
	Strip    *strip.Strip
}

func (s *Session) clone() Session {
	out := *s
	out.Photos = append([]filter.Photo(nil), s.Photos...)
	return out
}

// EventType names what happened
type EventType string

const (
	EventState     EventType = "state"
	EventCountdown EventType = "countdown"
	EventPhoto     EventType = "photo"
	EventStrip     EventType = "strip"
	EventVideo     EventType = "video"
	EventFilter    EventType = "filter"
	EventError     EventType = "error"
	EventReset     EventType = "reset"
)

// Event reports a controller transition or artifact. Payload pointers are
// shared and must be treated as read-only.
type Event struct {
	Type      EventType   `json:"type"`
	RunID     string      `json:"run_id,omitempty"`
	Epoch     uint64      `json:"epoch"`
	State     State       `json:"state"`
	Mode      Mode        `json:"mode,omitempty"`
	Session   int         `json:"session,omitempty"`
	Photo     int         `json:"photo,omitempty"`
	Countdown int         `json:"countdown,omitempty"`
	Filter    filter.Kind `json:"filter,omitempty"`
	Error     string      `json:"error,omitempty"`
	Time      time.Time   `json:"time"`

	PhotoData *filter.Photo `json:"-"`
	Strip     *strip.Strip  `json:"-"`
	Clip      *video.Clip   `json:"-"`
}

// Observer receives events in order, outside the controller lock.
// Observers must not call back into the controller synchronously.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Event)

// OnEvent calls f
func (f ObserverFunc) OnEvent(e Event) { f(e) }

// SessionSummary is the serializable view of a session
type SessionSummary struct {
	Index    int         `json:"index"`
	Target   int         `json:"target"`
	Photos   int         `json:"photos"`
	Filter   filter.Kind `json:"filter"`
	Complete bool        `json:"complete"`
	HasStrip bool        `json:"has_strip"`
}

// Snapshot is a point-in-time view of the controller
type Snapshot struct {
	State         State            `json:"state"`
	Epoch         uint64           `json:"epoch"`
	RunID         string           `json:"run_id,omitempty"`
	Mode          Mode             `json:"mode,omitempty"`
	PhotoCount    int              `json:"photo_count,omitempty"`
	Countdown     int              `json:"countdown"`
	Session       int              `json:"session"`
	TotalSessions int              `json:"total_sessions"`
	LiveFilter    filter.Kind      `json:"live_filter"`
	Sessions      []SessionSummary `json:"sessions"`
	Synthesizing  bool             `json:"synthesizing"`
	HasVideo      bool             `json:"has_video"`
	Error         string           `json:"error,omitempty"`
	StaleTicks    uint64           `json:"stale_ticks"`
}

// Ends reports whether e is the last event of its run: the strip of a
// single run, the video of a multi run, or an error that stops the run
func (e Event) Ends() bool {
	switch e.Type {
	case EventStrip:
		return e.Mode != Multi
	case EventVideo:
		return true
	case EventError:
		switch e.State {
		case Capturing, AllSessionsComplete:
			return true
		case SessionComplete:
			return e.Mode != Multi
		}
	}
	return false
}
