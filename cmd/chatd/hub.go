package main

import (
	"fmt"
	"sync"
)

// EventSender is the minimal interface the hub needs from a connection: the
// ability to push Event envelopes to the attached UI.
type EventSender interface {
	Send(Event) error
}

// Hub tracks the UI connections attached to this daemon so session,
// summary and message updates can be pushed to all of them.
type Hub struct {
	mu     sync.RWMutex
	conns  map[int64]EventSender
	nextID int64
}

// NewHub creates a new hub instance.
func NewHub() *Hub {
	return &Hub{conns: make(map[int64]EventSender)}
}

// Register registers a connection and returns an id used to unregister it
// when the connection closes.
func (h *Hub) Register(s EventSender) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	h.conns[id] = s
	return id
}

// Unregister removes a previously-registered connection.
func (h *Hub) Unregister(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, id)
}

// Broadcast pushes the event to every attached connection. Delivery is
// best-effort: failing connections are dropped from the hub and the first
// error is returned.
func (h *Hub) Broadcast(ev Event) error {
	h.mu.RLock()
	conns := make(map[int64]EventSender, len(h.conns))
	for id, s := range h.conns {
		conns[id] = s
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		return fmt.Errorf("no connections attached")
	}

	var firstErr error
	var failed []int64
	for id, s := range conns {
		if err := s.Send(ev); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			failed = append(failed, id)
		}
	}
	for _, id := range failed {
		h.Unregister(id)
	}
	return firstErr
}
