// Package hub fans encoded events out to every connected observer. The hub
// owns the subscriber set; each connection owns its channel's lifetime and
// hands it over at registration.
package hub

import (
	"log/slog"
	"sync"

	"github.com/mined-project/mined/internal/metrics"
)

// queueSize bounds the internal dispatch queue decoupling publishers from
// subscriber delivery. Publishers never block on a slow observer.
const queueSize = 256

// subscriberBuffer is documented here because pruning depends on it: a
// subscriber whose buffered channel is full is treated as failed.
const subscriberBuffer = 64

// Handle identifies one registered subscriber.
type Handle uint64

// Hub tracks connected observers and broadcasts encoded events to all of
// them. Guarded independently from the registry so a stall in one never
// blocks the other.
type Hub struct {
	mu     sync.RWMutex
	subs   map[Handle]chan<- []byte
	next   Handle
	queue  chan []byte
	done   chan struct{}
	wg     sync.WaitGroup
	closed bool
	log    *slog.Logger
}

// New creates a hub and starts its dispatch loop.
func New(log *slog.Logger) *Hub {
	h := &Hub{
		subs:  make(map[Handle]chan<- []byte),
		queue: make(chan []byte, queueSize),
		done:  make(chan struct{}),
		log:   log,
	}
	h.wg.Add(1)
	go h.dispatch()
	return h
}

// Register adds a subscriber channel and returns its handle. The channel
// must be buffered; the hub never blocks on it.
func (h *Hub) Register(ch chan<- []byte) Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	handle := h.next
	h.subs[handle] = ch
	metrics.IncSubscribers()
	h.log.Debug("subscriber registered", "handle", uint64(handle), "total", len(h.subs))
	return handle
}

// Unregister removes a subscriber. Removing an absent handle is a no-op.
func (h *Hub) Unregister(handle Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(handle)
}

func (h *Hub) removeLocked(handle Handle) bool {
	if _, ok := h.subs[handle]; !ok {
		return false
	}
	delete(h.subs, handle)
	metrics.DecSubscribers()
	h.log.Debug("subscriber removed", "handle", uint64(handle), "total", len(h.subs))
	return true
}

// Subscribers returns the current number of registered observers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast queues an encoded event for delivery to every subscriber
// registered at dispatch time. It never blocks the caller; when the hub is
// saturated or shut down the event is dropped with a warning (events carry
// current state, a later poll re-emits it).
func (h *Hub) Broadcast(event []byte) {
	metrics.IncEventBroadcast()
	select {
	case h.queue <- event:
	case <-h.done:
	default:
		h.log.Warn("event queue full, dropping broadcast")
	}
}

func (h *Hub) dispatch() {
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return
		case event := <-h.queue:
			h.deliver(event)
		}
	}
}

// deliver sends one event to every current subscriber. A failed delivery
// prunes that subscriber and never disturbs the others.
func (h *Hub) deliver(event []byte) {
	h.mu.RLock()
	targets := make(map[Handle]chan<- []byte, len(h.subs))
	for handle, ch := range h.subs {
		targets[handle] = ch
	}
	h.mu.RUnlock()

	var dead []Handle
	for handle, ch := range targets {
		if !trySend(ch, event) {
			dead = append(dead, handle)
		}
	}
	if len(dead) == 0 {
		return
	}
	h.mu.Lock()
	for _, handle := range dead {
		if h.removeLocked(handle) {
			metrics.IncSubscriberPruned()
		}
	}
	h.mu.Unlock()
	h.log.Debug("pruned dead subscribers", "count", len(dead))
}

// trySend reports whether the event was accepted. A full buffer counts as a
// failure, and a send on a channel the connection already closed is caught
// here instead of taking down the dispatch loop.
func trySend(ch chan<- []byte, event []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case ch <- event:
		return true
	default:
		return false
	}
}

// Close stops the dispatch loop. Registered subscribers are removed; their
// channels are left for the owning connections to clean up.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for handle := range h.subs {
		h.removeLocked(handle)
	}
	h.mu.Unlock()
	close(h.done)
	h.wg.Wait()
}
