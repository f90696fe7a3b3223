package chat

import (
	"log/slog"
	"sync"

	v1 "brandlink/shared/contracts/chat/v1"
)

// Room is an in-memory membership + broadcast fanout primitive. The hub keys
// one room per match and one private room per connected participant.
//
// Concurrency guarantees:
//   - Join/Leave are safe under concurrent Broadcast.
//   - Broadcast never blocks (drops under backpressure).
//   - Broadcast is panic-safe because Client.Send is never closed.
type Room struct {
	log *slog.Logger
	ID  string

	mu      sync.RWMutex
	members map[string]*Client
}

// NewRoom constructs a room.
func NewRoom(log *slog.Logger, id string) *Room {
	return &Room{
		log:     log,
		ID:      id,
		members: make(map[string]*Client),
	}
}

// Join adds a client to membership.
func (r *Room) Join(client *Client) {
	if r == nil || client == nil || client.SessionID == "" {
		return
	}

	r.mu.Lock()
	r.members[client.SessionID] = client
	r.mu.Unlock()

	r.log.Debug("room.member.join", "room_id", r.ID, "session_id", client.SessionID)
}

// Leave removes a client from membership. It does not close the client:
// a connection stays alive across room switches.
func (r *Room) Leave(sessionID string) {
	if r == nil || sessionID == "" {
		return
	}

	r.mu.Lock()
	delete(r.members, sessionID)
	r.mu.Unlock()

	r.log.Debug("room.member.leave", "room_id", r.ID, "session_id", sessionID)
}

// Broadcast fanouts an envelope to all members.
// Non-blocking: a full queue or shutting-down client is skipped.
func (r *Room) Broadcast(env v1.Envelope) {
	r.BroadcastExcept(env, "")
}

// BroadcastExcept fanouts an envelope to all members except one session.
// Used for typing relays, which must not echo back to the sender.
func (r *Room) BroadcastExcept(env v1.Envelope, exceptSessionID string) {
	if r == nil {
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for sid, m := range r.members {
		if m == nil || sid == exceptSessionID {
			continue
		}

		select {
		case <-m.Done():
			continue
		default:
		}

		select {
		case m.Send <- env:
		default:
			// Drop rather than block the whole room.
		}
	}
}

// Size returns the current member count.
func (r *Room) Size() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}
