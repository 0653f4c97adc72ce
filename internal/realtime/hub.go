package realtime

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"smsinbox/pkg/logger"
	"smsinbox/pkg/metrics"
)

const globalTopic = ""

// Hub delivers events to subscribers registered in this process
type Hub struct {
	mu     sync.Mutex
	topics map[string]map[*Subscription]struct{}
	buffer int
	log    *logger.Logger
}

// Subscription receives events until it is closed or evicted
type Subscription struct {
	hub     *Hub
	topic   string
	ch      chan Event
	once    sync.Once
	evicted bool
}

// NewHub creates a hub whose subscribers each buffer up to buffer events
func NewHub(buffer int, log *logger.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		topics: make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		log:    log,
	}
}

// Subscribe registers interest in one conversation
func (h *Hub) Subscribe(conversationID string) *Subscription {
	return h.subscribe(conversationID)
}

// SubscribeAll registers on the global feed, which sees every event
func (h *Hub) SubscribeAll() *Subscription {
	return h.subscribe(globalTopic)
}

func (h *Hub) subscribe(topic string) *Subscription {
	s := &Subscription{
		hub:   h,
		topic: topic,
		ch:    make(chan Event, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.topics[topic] = subs
	}
	subs[s] = struct{}{}
	return s
}

// Publish hands the event to every matching subscriber without blocking.
// A subscriber whose buffer is full is evicted; its channel is closed and
// it must reconnect and re-fetch.
func (h *Hub) Publish(_ context.Context, event Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.deliverLocked(event.ConversationID, event)
	if event.ConversationID != globalTopic {
		h.deliverLocked(globalTopic, event)
	}
	return nil
}

func (h *Hub) deliverLocked(topic string, event Event) {
	for s := range h.topics[topic] {
		select {
		case s.ch <- event:
		default:
			h.log.Warn("evicting slow realtime subscriber",
				zap.String("topic", topic),
				zap.String("event_type", string(event.Type)),
			)
			metrics.SubscribersEvicted.Inc()
			s.evicted = true
			h.removeLocked(s)
		}
	}
}

func (h *Hub) removeLocked(s *Subscription) {
	subs, ok := h.topics[s.topic]
	if !ok {
		return
	}
	if _, ok := subs[s]; !ok {
		return
	}
	delete(subs, s)
	if len(subs) == 0 {
		delete(h.topics, s.topic)
	}
	close(s.ch)
}

// SubscriberCount returns the number of live subscriptions
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for _, subs := range h.topics {
		n += len(subs)
	}
	return n
}

// Events returns the delivery channel. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Evicted reports whether the hub dropped this subscriber for falling behind
func (s *Subscription) Evicted() bool {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.evicted
}

// Close deregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		defer s.hub.mu.Unlock()
		s.hub.removeLocked(s)
	})
}
