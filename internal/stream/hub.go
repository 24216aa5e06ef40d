// Package stream ingests the live ticker feed and distributes accepted
// snapshots to local subscribers.
package stream

import (
	"sync"

	"marketpulse/internal/models"
)

// DefaultSubscriberBuffer is the channel buffer given to each subscriber.
const DefaultSubscriberBuffer = 100

// Hub fans snapshots out to per-symbol subscribers. Sends never block;
// a subscriber that falls behind misses updates.
type Hub struct {
	bufferSize int

	mu          sync.RWMutex
	subscribers map[string][]chan models.Snapshot
	closed      bool

	metricsMu sync.Mutex
	published uint64
	delivered uint64
	dropped   uint64
}

// NewHub creates a hub.
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultSubscriberBuffer
	}
	return &Hub{
		bufferSize:  bufferSize,
		subscribers: make(map[string][]chan models.Snapshot),
	}
}

// Subscribe returns a channel receiving snapshots for symbol.
func (h *Hub) Subscribe(symbol string) <-chan models.Snapshot {
	ch := make(chan models.Snapshot, h.bufferSize)
	sym := models.NormalizeSymbol(symbol)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	h.subscribers[sym] = append(h.subscribers[sym], ch)
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (h *Hub) Unsubscribe(symbol string, ch <-chan models.Snapshot) {
	sym := models.NormalizeSymbol(symbol)

	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[sym]
	for i, sub := range subs {
		if sub == ch {
			close(sub)
			h.subscribers[sym] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(h.subscribers[sym]) == 0 {
		delete(h.subscribers, sym)
	}
}

// Publish delivers snap to every subscriber of its symbol.
func (h *Hub) Publish(snap models.Snapshot) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var delivered, dropped uint64
	for _, sub := range h.subscribers[snap.Symbol] {
		select {
		case sub <- snap:
			delivered++
		default:
			dropped++
		}
	}

	h.metricsMu.Lock()
	h.published++
	h.delivered += delivered
	h.dropped += dropped
	h.metricsMu.Unlock()
}

// Close closes every subscriber channel. Later subscriptions receive a
// closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for sym, subs := range h.subscribers {
		for _, sub := range subs {
			close(sub)
		}
		delete(h.subscribers, sym)
	}
}

// SubscriberCount returns the number of subscribers for symbol.
func (h *Hub) SubscriberCount(symbol string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[models.NormalizeSymbol(symbol)])
}

// HubMetrics holds hub counters.
type HubMetrics struct {
	Published uint64
	Delivered uint64
	Dropped   uint64
}

// Metrics returns hub counters.
func (h *Hub) Metrics() HubMetrics {
	h.metricsMu.Lock()
	defer h.metricsMu.Unlock()
	return HubMetrics{Published: h.published, Delivered: h.delivered, Dropped: h.dropped}
}
