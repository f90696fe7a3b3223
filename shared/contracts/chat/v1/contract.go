// Package v1 defines the brandlink chat wire protocol.
//
// It is shared between the server and clients so the envelope and payload
// shapes stay authoritative in one place. Keep it dependency-light.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Version is the protocol version embedded into every envelope.
const Version = 1

// Event types (wire-stable).
const (
	// TypeWelcome acknowledges a successfully authenticated connection (server -> client).
	TypeWelcome = "welcome"

	// TypeJoin adds the connection to a match room (client -> server, echoed back).
	TypeJoin = "join"
	// TypeLeave removes the connection from a match room (client -> server).
	TypeLeave = "leave"

	// TypeSend requests persisting and broadcasting a new message (client -> server).
	TypeSend = "send"
	// TypeMessage broadcasts an accepted message to room members (server -> client).
	TypeMessage = "message"
	// TypeNotification is delivered on a participant's private channel when a
	// message arrives in any of their matches (server -> client).
	TypeNotification = "notification"

	// TypeTyping / TypeStopTyping are transient presence events. The server
	// relays them to other room members and also emits them around simulated
	// replies. They carry no persisted state and may be dropped.
	TypeTyping     = "typing"
	TypeStopTyping = "stop_typing"

	// TypeError reports a failed action to the originating connection only.
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs structural validation on an inbound envelope.
func (e Envelope) Validate() error {
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: got=%d want=%d", e.V, Version)
	}
	if e.Type == "" {
		return errors.New("missing type")
	}
	switch e.Type {
	case TypeWelcome, TypeJoin, TypeLeave, TypeSend,
		TypeMessage, TypeNotification, TypeTyping, TypeStopTyping, TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// WelcomePayload is sent once after the connection is authenticated.
type WelcomePayload struct {
	ParticipantID string `json:"participant_id"`
	SessionID     string `json:"session_id"`
}

// JoinPayload requests room membership for a match.
type JoinPayload struct {
	MatchID string `json:"match_id"`
}

// LeavePayload removes the connection from a match room.
type LeavePayload struct {
	MatchID string `json:"match_id"`
}

// SendPayload requests sending a message into a match.
type SendPayload struct {
	MatchID     string `json:"match_id"`
	ClientMsgID string `json:"client_msg_id"`
	Text        string `json:"text"`
}

// MessagePayload is the persisted message record as broadcast to a room.
type MessagePayload struct {
	MatchID     string    `json:"match_id"`
	MessageID   string    `json:"message_id"`
	ClientMsgID string    `json:"client_msg_id"`
	Seq         int64     `json:"seq"`
	SenderID    string    `json:"sender_id"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"created_at"`
}

// NotificationPayload alerts a participant about a new message in one of
// their matches, independent of room membership.
type NotificationPayload struct {
	MatchID string         `json:"match_id"`
	Message MessagePayload `json:"message"`
}

// TypingPayload carries typing / stop_typing events in both directions.
// ParticipantID is empty on client -> server events (the server fills it in).
type TypingPayload struct {
	MatchID       string `json:"match_id"`
	ParticipantID string `json:"participant_id,omitempty"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
