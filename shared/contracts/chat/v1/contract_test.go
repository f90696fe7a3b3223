package v1

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelope_Validate(t *testing.T) {
	t.Parallel()

	valid := []string{
		TypeWelcome, TypeJoin, TypeLeave, TypeSend,
		TypeMessage, TypeNotification, TypeTyping, TypeStopTyping, TypeError,
	}
	for _, typ := range valid {
		env := Envelope{V: Version, Type: typ}
		if err := env.Validate(); err != nil {
			t.Fatalf("type %q rejected: %v", typ, err)
		}
	}

	cases := []struct {
		name string
		env  Envelope
	}{
		{"wrong version", Envelope{V: 0, Type: TypeSend}},
		{"future version", Envelope{V: 2, Type: TypeSend}},
		{"missing type", Envelope{V: Version}},
		{"unknown type", Envelope{V: Version, Type: "subscribe"}},
	}
	for _, tc := range cases {
		if err := tc.env.Validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestEnvelope_JSONShape(t *testing.T) {
	t.Parallel()

	payload, err := json.Marshal(SendPayload{MatchID: "m1", ClientMsgID: "c1", Text: "hi"})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	env := Envelope{
		V:       Version,
		Type:    TypeSend,
		ID:      "01J0000000000000000000TEST",
		TS:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Payload: payload,
	}

	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"v", "type", "id", "ts", "payload"} {
		if _, ok := m[key]; !ok {
			t.Fatalf("wire field %q missing: %s", key, raw)
		}
	}

	// Empty payloads are omitted entirely, not sent as null.
	raw, err = json.Marshal(Envelope{V: Version, Type: TypeWelcome, ID: "x", TS: time.Now()})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	m = nil
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := m["payload"]; ok {
		t.Fatalf("empty payload should be omitted: %s", raw)
	}
}
