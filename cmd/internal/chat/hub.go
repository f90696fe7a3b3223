package chat

import (
	"log/slog"
	"sync"

	v1 "brandlink/shared/contracts/chat/v1"
)

// Hub owns in-memory rooms: one per match for chat traffic, and one private
// channel per connected participant for out-of-room notifications.
// Persistence lives behind MessageStore; the hub is process-local fanout only.
type Hub struct {
	log *slog.Logger

	mu       sync.RWMutex
	rooms    map[string]*Room
	personal map[string]*Room
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:      log,
		rooms:    make(map[string]*Room),
		personal: make(map[string]*Room),
	}
}

// Room returns a stable room handle for a match.
func (h *Hub) Room(matchID string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.rooms[matchID]; ok {
		return r
	}
	r := NewRoom(h.log, matchID)
	h.rooms[matchID] = r
	return r
}

// Personal returns the private notification channel for a participant.
func (h *Hub) Personal(participantID string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.personal[participantID]; ok {
		return r
	}
	r := NewRoom(h.log, "participant:"+participantID)
	h.personal[participantID] = r
	return r
}

// Notify delivers an envelope to every connection a participant currently
// holds, regardless of which room (if any) those connections joined.
// Best-effort: offline participants simply receive nothing.
func (h *Hub) Notify(participantID string, env v1.Envelope) {
	h.mu.RLock()
	r := h.personal[participantID]
	h.mu.RUnlock()

	if r != nil {
		r.Broadcast(env)
	}
}
