package audit

import (
	"sync"

	"github.com/Wikid82/sentinel/backend/internal/models"
)

// Hub fans recorded events out to live subscribers. Slow subscribers miss
// events rather than blocking writers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	next   uint64
	closed bool
}

// Subscription receives events at or above its minimum severity.
type Subscription struct {
	C <-chan *models.AuditEvent

	ch   chan *models.AuditEvent
	min  models.Severity
	id   uint64
	hub  *Hub
	once sync.Once
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*Subscription)}
}

// Subscribe registers a subscriber.
func (h *Hub) Subscribe(min models.Severity, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan *models.AuditEvent, buffer)
	s := &Subscription{C: ch, ch: ch, min: min, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return s
	}
	h.next++
	s.id = h.next
	h.subs[s.id] = s
	return s
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if _, ok := s.hub.subs[s.id]; ok {
		delete(s.hub.subs, s.id)
		s.once.Do(func() { close(s.ch) })
	}
}

func (h *Hub) publish(ev *models.AuditEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if !ev.Severity.AtLeast(s.min) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
		}
	}
}

// Len returns the number of active subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close closes every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, s := range h.subs {
		delete(h.subs, id)
		s.once.Do(func() { close(s.ch) })
	}
}
