package broadcast

import (
	"context"
	"sync"
)

const subscriberBuffer = 32

// Hub is an in-process Publisher that fans messages out to per-project
// subscribers. Slow subscribers drop messages instead of blocking Publish.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscription]struct{}
	closed bool
}

type subscription struct {
	ch chan Message
}

func NewHub() *Hub {
	return &Hub{subs: map[string]map[*subscription]struct{}{}}
}

// Subscribe registers a listener for projectID. The returned cancel func
// must be called to release it; it closes the channel.
func (h *Hub) Subscribe(projectID string) (<-chan Message, func()) {
	sub := &subscription{ch: make(chan Message, subscriberBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	if h.subs[projectID] == nil {
		h.subs[projectID] = map[*subscription]struct{}{}
	}
	h.subs[projectID][sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[projectID]; ok {
				if _, ok := set[sub]; ok {
					delete(set, sub)
					close(sub.ch)
				}
				if len(set) == 0 {
					delete(h.subs, projectID)
				}
			}
			h.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

func (h *Hub) Publish(_ context.Context, msg Message) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[msg.ProjectID] {
		select {
		case sub.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribers returns the number of listeners for projectID.
func (h *Hub) Subscribers(projectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[projectID])
}

// Close drops every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.subs {
		for sub := range set {
			close(sub.ch)
		}
	}
	h.subs = map[string]map[*subscription]struct{}{}
	h.closed = true
}
