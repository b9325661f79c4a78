// Package notify fans store mutations out to readers that keep a bounded
// query open, such as the card window.
package notify

import "sync"

const defaultSubBufSize = 64

// Kind describes what happened to the store.
type Kind string

const (
	// KindPut means cards were inserted or patched
	KindPut Kind = "put"
	// KindDelete means cards were removed
	KindDelete Kind = "delete"
	// KindReset means every card of a graph was removed
	KindReset Kind = "reset"
	// KindProgress reports one finished rebuild batch
	KindProgress Kind = "progress"
)

// Event is one mutation notice.
type Event struct {
	Graph string   `json:"graph"`
	Kind  Kind     `json:"kind"`
	Names []string `json:"names,omitempty"`
	// Loaded is the number of cards a running rebuild has written so far
	Loaded int `json:"loaded,omitempty"`
}

// Hub delivers events to subscribers without ever blocking the publisher.
// A subscriber whose buffer is full misses the event; readers re-run their
// query on the next one, so a missed notice only delays the refresh.
type Hub struct {
	mu          sync.RWMutex
	nextID      int
	subscribers map[int]chan Event
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[int]chan Event),
	}
}

// Subscribe registers a subscriber with the given buffer size.
func (h *Hub) Subscribe(buffer int) (int, <-chan Event) {
	if buffer <= 0 {
		buffer = defaultSubBufSize
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subscribers[id] = ch
	h.mu.Unlock()

	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
// Unknown ids are ignored.
func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	ch, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
	}
	h.mu.Unlock()

	if ok {
		close(ch)
	}
}

// Publish pushes ev to all current subscribers. A nil hub is a no-op.
func (h *Hub) Publish(ev Event) {
	if h == nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
