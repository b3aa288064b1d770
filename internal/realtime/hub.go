package realtime

import (
	"context"
	"sync"

	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

const DefaultBuffer = 64

// Hub fans events out to in-process subscriptions. All methods are safe for
// concurrent use.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		topics: make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscription receives events for one or more topics on C until Close.
type Subscription struct {
	C <-chan ChangeEvent

	ch     chan ChangeEvent
	topics []string
	hub    *Hub
	once   sync.Once
}

func (h *Hub) Subscribe(topics ...string) *Subscription {
	ch := make(chan ChangeEvent, h.buffer)
	sub := &Subscription{C: ch, ch: ch, topics: topics, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range topics {
		if h.topics[topic] == nil {
			h.topics[topic] = make(map[*Subscription]struct{})
		}
		h.topics[topic][sub] = struct{}{}
	}
	metrics.RealtimeSubscribers.Inc()
	return sub
}

// Close detaches the subscription and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		defer h.mu.Unlock()
		for _, topic := range s.topics {
			if subs, ok := h.topics[topic]; ok {
				delete(subs, s)
				if len(subs) == 0 {
					delete(h.topics, topic)
				}
			}
		}
		close(s.ch)
		metrics.RealtimeSubscribers.Dec()
	})
}

func (s *Subscription) Topics() []string { return s.topics }

// Deliver sends ev to current subscribers of topic without blocking.
// It returns the number of subscriptions that received the event.
func (h *Hub) Deliver(topic string, ev ChangeEvent) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for sub := range h.topics[topic] {
		select {
		case sub.ch <- ev:
			delivered++
		default:
			metrics.RealtimeDropped.Inc()
		}
	}
	return delivered
}

// Publish implements Publisher for single-process deployments.
func (h *Hub) Publish(_ context.Context, topic string, ev ChangeEvent) error {
	h.Deliver(topic, ev)
	return nil
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
