// Package main provides a CI-friendly WebSocket smoke test for the brandlink
// chat gateway.
//
// It validates:
//   - token handshake + welcome
//   - join echo for both participants
//   - send -> echo with a server-assigned seq
//   - fanout of the message to the counterpart
//   - typing relay with the sender's participant id filled in
//   - idempotent dedupe by client_msg_id
//
// Both tokens must resolve to the two participants of -match (seed them via
// BRANDLINK_DEV_TOKENS when running against the in-memory server).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "brandlink/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name          string
	conn          *websocket.Conn
	participantID string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL      = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin     = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		matchID    = flag.String("match", "", "Match ID both participants belong to")
		brandToken = flag.String("brand-token", "", "Credential for the brand side")
		ambToken   = flag.String("amb-token", "", "Credential for the ambassador side")
		text       = flag.String("text", "hello brandlink 👋", "Message text to send")
		timeout    = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose    = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if strings.TrimSpace(*matchID) == "" {
		fatalf("-match is required")
	}
	if strings.TrimSpace(*brandToken) == "" || strings.TrimSpace(*ambToken) == "" {
		fatalf("-brand-token and -amb-token are required")
	}

	root := context.Background()

	brand := mustConnect(root, "brand", *wsURL, *origin, *brandToken, *timeout)
	defer closeWS(brand.conn)

	amb := mustConnect(root, "ambassador", *wsURL, *origin, *ambToken, *timeout)
	defer closeWS(amb.conn)

	if *verbose {
		fmt.Printf("connected: brand=%s ambassador=%s origin=%q\n", brand.participantID, amb.participantID, *origin)
	}

	mustJoin(root, brand, *matchID, *timeout)
	mustJoin(root, amb, *matchID, *timeout)

	mustTypingRelay(root, brand, amb, *matchID, *timeout)

	clientMsgID := fmt.Sprintf("cmsg-%d", time.Now().UnixNano())

	messageID, seq := mustSendAndAssertEcho(root, brand, *matchID, clientMsgID, *text, *timeout)

	mustAssertFanout(root, amb, *matchID, clientMsgID, messageID, seq, brand.participantID, *text, *timeout)

	// Resend with the same client_msg_id: the echo must carry the original
	// seq and the counterpart must not see the message twice.
	messageID2, seq2 := mustSendAndAssertEcho(root, brand, *matchID, clientMsgID, *text, *timeout)
	if seq2 != seq || messageID2 != messageID {
		fatalf("dedupe: record mismatch: first=(%s,%d) second=(%s,%d)", messageID, seq, messageID2, seq2)
	}
	mustAssertNoType(root, amb, v1.TypeMessage, 1200*time.Millisecond)

	fmt.Printf("OK: brand=%s ambassador=%s match_id=%s seq=%d message_id=%s\n",
		brand.participantID, amb.participantID, *matchID, seq, messageID)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin, token string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	u, err := url.Parse(wsURL)
	if err != nil {
		fatalf("parse url: %v", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: h})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	welcome := c.mustReadUntilType(parent, v1.TypeWelcome, stepTimeout, nil)

	var p v1.WelcomePayload
	if err := json.Unmarshal(welcome.Payload, &p); err != nil {
		fatalf("unmarshal welcome payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.ParticipantID) == "" {
		fatalf("welcome missing participant_id (%s)", name)
	}
	c.participantID = p.ParticipantID

	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustJoin(parent context.Context, c *smokeClient, matchID string, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeJoin,
		ID:      fmt.Sprintf("%s-join", c.name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.JoinPayload{MatchID: matchID}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	echo := c.mustReadUntilType(parent, v1.TypeJoin, stepTimeout, nil)

	var p v1.JoinPayload
	if err := json.Unmarshal(echo.Payload, &p); err != nil {
		fatalf("unmarshal join echo payload (%s): %v", c.name, err)
	}
	if p.MatchID != matchID {
		fatalf("join echo match_id mismatch (%s): got=%q want=%q", c.name, p.MatchID, matchID)
	}
}

func mustTypingRelay(parent context.Context, from, to *smokeClient, matchID string, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeTyping,
		ID:      fmt.Sprintf("%s-typing", from.name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.TypingPayload{MatchID: matchID}),
	}
	mustWriteWithTimeout(parent, from.conn, env, stepTimeout)

	relay := to.mustReadUntilType(parent, v1.TypeTyping, stepTimeout, nil)

	var p v1.TypingPayload
	if err := json.Unmarshal(relay.Payload, &p); err != nil {
		fatalf("unmarshal typing relay payload (%s): %v", to.name, err)
	}
	if p.MatchID != matchID {
		fatalf("typing relay match_id mismatch (%s): got=%q want=%q", to.name, p.MatchID, matchID)
	}
	if p.ParticipantID != from.participantID {
		fatalf("typing relay participant mismatch (%s): got=%q want=%q", to.name, p.ParticipantID, from.participantID)
	}
}

func mustSendAndAssertEcho(parent context.Context, c *smokeClient, matchID, clientMsgID, text string, stepTimeout time.Duration) (messageID string, seq int64) {
	env := v1.Envelope{
		V:    v1.Version,
		Type: v1.TypeSend,
		ID:   fmt.Sprintf("%s-send-%s", c.name, clientMsgID),
		TS:   time.Now().UTC(),
		Payload: mustJSON(v1.SendPayload{
			MatchID:     matchID,
			ClientMsgID: clientMsgID,
			Text:        text,
		}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	skip := map[string]struct{}{v1.TypeNotification: {}, v1.TypeTyping: {}, v1.TypeStopTyping: {}}
	echo := c.mustReadUntilType(parent, v1.TypeMessage, stepTimeout, skip)

	var p v1.MessagePayload
	if err := json.Unmarshal(echo.Payload, &p); err != nil {
		fatalf("unmarshal message echo payload (%s): %v", c.name, err)
	}
	if p.MatchID != matchID {
		fatalf("echo match_id mismatch (%s): got=%q want=%q", c.name, p.MatchID, matchID)
	}
	if p.ClientMsgID != clientMsgID {
		fatalf("echo client_msg_id mismatch (%s): got=%q want=%q", c.name, p.ClientMsgID, clientMsgID)
	}
	if strings.TrimSpace(p.MessageID) == "" {
		fatalf("echo missing message_id (%s)", c.name)
	}
	if p.Seq <= 0 {
		fatalf("echo invalid seq (%s): %d", c.name, p.Seq)
	}
	return p.MessageID, p.Seq
}

func mustAssertFanout(parent context.Context, c *smokeClient, matchID, clientMsgID, messageID string, seq int64, senderID, text string, stepTimeout time.Duration) {
	skip := map[string]struct{}{v1.TypeNotification: {}, v1.TypeTyping: {}, v1.TypeStopTyping: {}}
	env := c.mustReadUntilType(parent, v1.TypeMessage, stepTimeout, skip)

	var p v1.MessagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal fanout payload (%s): %v", c.name, err)
	}

	if p.MatchID != matchID {
		fatalf("fanout match_id mismatch (%s): got=%q want=%q", c.name, p.MatchID, matchID)
	}
	if p.ClientMsgID != clientMsgID {
		fatalf("fanout client_msg_id mismatch (%s): got=%q want=%q", c.name, p.ClientMsgID, clientMsgID)
	}
	if p.MessageID != messageID {
		fatalf("fanout message_id mismatch (%s): got=%q want=%q", c.name, p.MessageID, messageID)
	}
	if p.Seq != seq {
		fatalf("fanout seq mismatch (%s): got=%d want=%d", c.name, p.Seq, seq)
	}
	if p.SenderID != senderID {
		fatalf("fanout sender mismatch (%s): got=%q want=%q", c.name, p.SenderID, senderID)
	}
	if p.Text != text {
		fatalf("fanout text mismatch (%s): got=%q want=%q", c.name, p.Text, text)
	}
	if p.CreatedAt.IsZero() {
		fatalf("fanout created_at missing/zero (%s)", c.name)
	}
}

func mustAssertNoType(parent context.Context, c *smokeClient, forbiddenType string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if env.Type == forbiddenType {
				fatalf("unexpected %s received (%s)", forbiddenType, c.name)
			}
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if skipTypes != nil {
				if _, ok := skipTypes[env.Type]; ok {
					continue
				}
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
