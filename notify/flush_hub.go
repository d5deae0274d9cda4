// Package notify carries flush-completion signals from the storage layer to
// the push dispatch core.
package notify

import (
	"sync"

	"github.com/pushrelay/pushrelay/push"
)

// FlushHub fans flush-completion signals out to registered listeners. The
// fan-out is synchronous: the storage layer's commit path blocks only for as
// long as the listeners take to enqueue, and listeners must never do network
// I/O inline.
type FlushHub struct {
	mu        sync.RWMutex
	listeners []func(push.Flush)
}

// NewFlushHub creates an empty hub.
func NewFlushHub() *FlushHub {
	return &FlushHub{}
}

// Subscribe registers a listener for all future flushes.
func (h *FlushHub) Subscribe(listener func(push.Flush)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, listener)
}

// Publish delivers one committed flush to every listener, in registration
// order, on the caller's goroutine.
func (h *FlushHub) Publish(flush push.Flush) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, listener := range h.listeners {
		listener(flush)
	}
}
