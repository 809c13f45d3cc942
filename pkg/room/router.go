// Package room tracks which live endpoints are subscribed to which
// conversation and fans events out to them. Membership is in-memory only and
// rebuilt from scratch on every connection; catch-up after a disconnect goes
// through the HTTP history endpoint, not the router.
package room

import (
	"log/slog"
	"sync"
)

// Endpoint is one live connection registered with the Router. Send is the
// buffered outbound queue drained by the connection's write pump; when the
// Router drops an endpoint it closes Send exactly once, which terminates the
// pump.
type Endpoint struct {
	ID   string
	Send chan []byte

	mu     sync.Mutex
	closed bool
}

func NewEndpoint(id string, buffer int) *Endpoint {
	return &Endpoint{ID: id, Send: make(chan []byte, buffer)}
}

// trySend queues payload unless the endpoint is closed or its buffer is
// full. The lock orders sends against close; a select/default alone would
// panic on a channel a concurrent Drop already closed.
func (e *Endpoint) trySend(payload []byte) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	select {
	case e.Send <- payload:
		return true
	default:
		return false
	}
}

func (e *Endpoint) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.Send)
}

// Router is an explicit instance, not process-global state: tests and
// multi-tenant setups may run several routers side by side.
type Router struct {
	mu    sync.RWMutex
	rooms map[string]map[*Endpoint]bool
	// joined is the reverse index used to clean up on disconnect.
	joined map[*Endpoint]map[string]bool
	log    *slog.Logger
}

func NewRouter(log *slog.Logger) *Router {
	return &Router{
		rooms:  make(map[string]map[*Endpoint]bool),
		joined: make(map[*Endpoint]map[string]bool),
		log:    log,
	}
}

// Join subscribes the endpoint to a conversation. Joining twice is a no-op.
func (r *Router) Join(ep *Endpoint, conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rooms[conversationID] == nil {
		r.rooms[conversationID] = make(map[*Endpoint]bool)
	}
	r.rooms[conversationID][ep] = true

	if r.joined[ep] == nil {
		r.joined[ep] = make(map[string]bool)
	}
	r.joined[ep][conversationID] = true

	r.log.Debug("endpoint joined room", "endpoint", ep.ID, "conversation", conversationID)
}

// Leave removes one subscription. Leaving a room the endpoint never joined is
// a no-op.
func (r *Router) Leave(ep *Endpoint, conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(ep, conversationID)
}

func (r *Router) leaveLocked(ep *Endpoint, conversationID string) {
	if members, ok := r.rooms[conversationID]; ok {
		delete(members, ep)
		if len(members) == 0 {
			delete(r.rooms, conversationID)
		}
	}
	if rooms, ok := r.joined[ep]; ok {
		delete(rooms, conversationID)
		if len(rooms) == 0 {
			delete(r.joined, ep)
		}
	}
}

// Drop removes the endpoint from every room it had joined and closes its send
// queue. Called on disconnect; rejoining requires a fresh endpoint.
func (r *Router) Drop(ep *Endpoint) {
	r.mu.Lock()
	for conversationID := range r.joined[ep] {
		r.leaveLocked(ep, conversationID)
	}
	r.mu.Unlock()

	ep.close()
	r.log.Debug("endpoint dropped", "endpoint", ep.ID)
}

// Broadcast delivers payload to every endpoint currently joined to the
// conversation, including the sender's own connections. An endpoint whose
// send queue is full or that disconnected after the membership snapshot is
// dropped rather than allowed to stall the room; delivery to the remaining
// members always proceeds.
func (r *Router) Broadcast(conversationID string, payload []byte) {
	r.mu.RLock()
	members := make([]*Endpoint, 0, len(r.rooms[conversationID]))
	for ep := range r.rooms[conversationID] {
		members = append(members, ep)
	}
	r.mu.RUnlock()

	var stalled []*Endpoint
	for _, ep := range members {
		if !ep.trySend(payload) {
			stalled = append(stalled, ep)
		}
	}
	for _, ep := range stalled {
		r.log.Warn("dropping stalled endpoint", "endpoint", ep.ID, "conversation", conversationID)
		r.Drop(ep)
	}
}

// Size reports how many endpoints are joined to the conversation.
func (r *Router) Size(conversationID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[conversationID])
}
