// Package events provides in-process pub/sub for allocation lifecycle
// changes. Delivery is best-effort: a slow subscriber loses events rather
// than stalling the allocator.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event describes a single allocation or status change.
type Event struct {
	Type         string    `json:"type"` // "ticket" or "booking"
	ResourceKind string    `json:"resource_kind"`
	ResourceID   int64     `json:"resource_id"`
	EntityID     string    `json:"entity_id"`
	Number       int64     `json:"number,omitempty"`
	OldStatus    string    `json:"old_status,omitempty"`
	NewStatus    string    `json:"new_status"`
	At           time.Time `json:"at"`
}

// Filter narrows a subscription. Zero fields match everything.
type Filter struct {
	ResourceKind string
	ResourceID   int64
}

func (f Filter) matches(ev Event) bool {
	if f.ResourceKind != "" && ev.ResourceKind != f.ResourceKind {
		return false
	}
	if f.ResourceID != 0 && ev.ResourceID != f.ResourceID {
		return false
	}
	return true
}

type subscriber struct {
	ch     chan Event
	filter Filter
}

// Hub fans events out to subscribers. Each subscriber owns a bounded
// channel; Publish never blocks on any of them.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int64]*subscriber
	nextID  int64
	bufSize int
	dropped func()
	logger  *zerolog.Logger
}

func NewHub(bufSize int, logger *zerolog.Logger) *Hub {
	if bufSize <= 0 {
		bufSize = 16
	}
	return &Hub{
		subs:    make(map[int64]*subscriber),
		bufSize: bufSize,
		logger:  logger,
	}
}

// OnDrop registers a callback invoked once per dropped event, typically a
// metrics counter.
func (h *Hub) OnDrop(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropped = fn
}

// Subscribe registers a listener and returns its channel plus a cancel
// function. Cancel closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(filter Filter) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	sub := &subscriber{ch: make(chan Event, h.bufSize), filter: filter}
	h.subs[id] = sub

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if s, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(s.ch)
		}
	}
	return sub.ch, cancel
}

// Publish delivers ev to every matching subscriber without blocking. A full
// subscriber buffer drops the event for that subscriber only.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !sub.filter.matches(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			if h.dropped != nil {
				h.dropped()
			}
			if h.logger != nil {
				h.logger.Warn().
					Str("resource_kind", ev.ResourceKind).
					Int64("resource_id", ev.ResourceID).
					Str("entity_id", ev.EntityID).
					Msg("event dropped: subscriber buffer full")
			}
		}
	}
}

// SubscriberCount reports the number of active subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
