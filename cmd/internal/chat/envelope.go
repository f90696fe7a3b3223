package chat

import (
	"encoding/json"
	"time"

	"brandlink/cmd/internal/ids"
	v1 "brandlink/shared/contracts/chat/v1"
)

// newEnvelope wraps a payload in the canonical wire envelope.
func newEnvelope(typ string, payload any) v1.Envelope {
	raw, _ := json.Marshal(payload)
	now := time.Now().UTC()
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      ids.MustULID(now),
		TS:      now,
		Payload: raw,
	}
}

// messagePayload converts a stored message to its wire form.
func messagePayload(m Message) v1.MessagePayload {
	return v1.MessagePayload{
		MatchID:     m.MatchID,
		MessageID:   m.ID,
		ClientMsgID: m.ClientMsgID,
		Seq:         m.Seq,
		SenderID:    m.SenderID,
		Text:        m.Text,
		CreatedAt:   m.CreatedAt,
	}
}
