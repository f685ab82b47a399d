package hrmon

import (
	"sort"
	"sync"

	"github.com/cgxeiji/hrmon/cluster"
)

// Handler receives every cluster a session delivers.
type Handler func(c *cluster.Cluster)

// Session is a live connection to a device that delivers one cluster per
// sample.
type Session interface {
	// DeviceID returns the identity of the connected device.
	DeviceID() string
	// SamplingRate returns the negotiated sampling rate in Hz.
	SamplingRate() float64
	// Subscribe registers h for every delivered cluster. Calling the
	// returned function removes the subscription.
	Subscribe(h Handler) (unsubscribe func())
}

// Hub keeps the subscribers of a session. The zero value is ready to use
// and safe for concurrent use.
type Hub struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]Handler
}

// Subscribe implements Session.
func (h *Hub) Subscribe(fn Handler) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.handlers == nil {
		h.handlers = make(map[int]Handler)
	}
	id := h.next
	h.next++
	h.handlers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.handlers, id)
			h.mu.Unlock()
		})
	}
}

// Deliver hands c to every subscriber, in subscription order.
func (h *Hub) Deliver(c *cluster.Cluster) {
	h.mu.RLock()
	ids := make([]int, 0, len(h.handlers))
	for id := range h.handlers {
		ids = append(ids, id)
	}
	handlers := make([]Handler, 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		handlers = append(handlers, h.handlers[id])
	}
	h.mu.RUnlock()

	for _, fn := range handlers {
		fn(c)
	}
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers)
}
