package memory

import (
	"context"
	"sync"

	"exam-session-engine/internal/domain"
)

// Hub is the in-process broadcaster: per-topic subscriber channels with
// fire-and-forget delivery. A subscriber that is not connected at publish
// time simply misses the event.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[chan domain.Event]struct{}
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[chan domain.Event]struct{})}
}

// Publish delivers the event to every current subscriber of the topic.
// Slow subscribers lose their oldest buffered event rather than blocking
// the publisher.
func (h *Hub) Publish(_ context.Context, topic string, event domain.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.topics[topic] {
		select {
		case ch <- event:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
			}
		}
	}
	return nil
}

// Subscribe registers interest in a topic. The caller must invoke the
// returned cancel function to avoid leaks.
func (h *Hub) Subscribe(topic string) (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, 16)

	h.mu.Lock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[chan domain.Event]struct{})
		h.topics[topic] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if subs, ok := h.topics[topic]; ok {
			if _, live := subs[ch]; live {
				delete(subs, ch)
				close(ch)
			}
			if len(subs) == 0 {
				delete(h.topics, topic)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}
