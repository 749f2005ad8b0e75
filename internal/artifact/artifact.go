// Package artifact keeps the photos, strips and videos produced by capture
// runs and hands them to a Saver.
package artifact

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bryanchriswhite/PhotoBooth/internal/clock"
)

// ErrNotFound means no artifact has the requested ID
var ErrNotFound = errors.New("artifact not found")

// Kind is the artifact type
type Kind string

const (
	KindPhoto Kind = "photo"
	KindStrip Kind = "strip"
	KindVideo Kind = "video"
)

// Artifact is one downloadable output. Data is shared and read-only.
type Artifact struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	RunID     string    `json:"run_id,omitempty"`
	Session   int       `json:"session,omitempty"`
	Photo     int       `json:"photo,omitempty"`
	Filename  string    `json:"filename"`
	MimeType  string    `json:"mime_type"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	// SavedAs is the path written by the saver, if any
	SavedAs string `json:"saved_as,omitempty"`

	Data []byte `json:"-"`
}

// Filename builds "<prefix>[-<index>]-<unixMillis>.<ext>"; an index of zero
// is left out
func Filename(prefix string, index int, at time.Time, ext string) string {
	if index > 0 {
		return fmt.Sprintf("%s-%d-%d.%s", prefix, index, at.UnixMilli(), ext)
	}
	return fmt.Sprintf("%s-%d.%s", prefix, at.UnixMilli(), ext)
}

// StripFilename names a strip; multi-session strips carry their session index
func StripFilename(session int, multi bool, at time.Time) string {
	if !multi {
		session = 0
	}
	return Filename("photostrip", session, at, "png")
}

// VideoFilename names a clip by its container extension
func VideoFilename(ext string, at time.Time) string {
	return Filename("photobooth", 0, at, ext)
}

// PhotoFilename names a single photo by its session index
func PhotoFilename(session int, at time.Time) string {
	return Filename("photo", session, at, "jpg")
}

// Store is an in-memory, insertion ordered artifact index. It is safe for
// concurrent use.
type Store struct {
	clk clock.Scheduler

	mu    sync.RWMutex
	items map[string]*Artifact
	order []string
}

// NewStore creates an empty store
func NewStore(clk clock.Scheduler) *Store {
	if clk == nil {
		clk = clock.NewReal()
	}
	return &Store{clk: clk, items: make(map[string]*Artifact)}
}

// Add assigns an ID and stores a copy of a
func (s *Store) Add(a Artifact) Artifact {
	a.ID = uuid.NewString()
	a.Size = len(a.Data)
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.clk.Now()
	}

	s.mu.Lock()
	s.items[a.ID] = &a
	s.order = append(s.order, a.ID)
	s.mu.Unlock()
	return a
}

// Get returns the artifact with the given ID
func (s *Store) Get(id string) (Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.items[id]
	if !ok {
		return Artifact{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *a, nil
}

// markSaved records where an artifact was written
func (s *Store) markSaved(id, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.items[id]; ok {
		a.SavedAs = path
	}
}

// List returns artifacts in insertion order, optionally filtered by kind
func (s *Store) List(kinds ...Kind) []Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Artifact, 0, len(s.order))
	for _, id := range s.order {
		a := s.items[id]
		if len(kinds) > 0 && !containsKind(kinds, a.Kind) {
			continue
		}
		out = append(out, *a)
	}
	return out
}

// Run returns the artifacts of one capture run in insertion order
func (s *Store) Run(runID string) []Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Artifact
	for _, id := range s.order {
		if a := s.items[id]; a.RunID == runID {
			out = append(out, *a)
		}
	}
	return out
}

// Len returns the number of stored artifacts
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// DiscardRun drops every artifact of a run and returns how many were removed
func (s *Store) DiscardRun(runID string) int {
	return s.removeWhere(func(a *Artifact) bool { return a.RunID == runID })
}

// Prune drops artifacts created before cutoff
func (s *Store) Prune(cutoff time.Time) int {
	return s.removeWhere(func(a *Artifact) bool { return a.CreatedAt.Before(cutoff) })
}

func (s *Store) removeWhere(match func(*Artifact) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.order[:0]
	removed := 0
	for _, id := range s.order {
		if match(s.items[id]) {
			delete(s.items, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return removed
}

// Summary counts artifacts per kind
func (s *Store) Summary() map[Kind]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[Kind]int)
	for _, a := range s.items {
		out[a.Kind]++
	}
	return out
}

func containsKind(kinds []Kind, k Kind) bool {
	for _, want := range kinds {
		if want == k {
			return true
		}
	}
	return false
}
