package api

import (
	"sync"
	"sync/atomic"

	"github.com/bryanchriswhite/PhotoBooth/internal/session"
)

// subscriberBuffer is how many events a websocket client may lag behind
const subscriberBuffer = 32

// Hub fans session events out to websocket clients. A client that falls
// behind loses events rather than stalling the controller.
type Hub struct {
	mu      sync.RWMutex
	subs    map[chan session.Event]struct{}
	dropped atomic.Uint64
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{subs: make(map[chan session.Event]struct{})}
}

// OnEvent implements session.Observer
func (h *Hub) OnEvent(ev session.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a new client
func (h *Hub) Subscribe() chan session.Event {
	ch := make(chan session.Event, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes a client and closes its channel
func (h *Hub) Unsubscribe(ch chan session.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

// Len returns the number of connected clients
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped counts events skipped for slow clients
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
