package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"brandlink/cmd/internal/auth"
	"brandlink/cmd/internal/ids"
	"brandlink/cmd/internal/notify"
	"brandlink/cmd/internal/registry"
	v1 "brandlink/shared/contracts/chat/v1"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Origin is required by default and only localhost is allowed,
	// secure-by-default for dev.
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// Gateway is the single entry point for all realtime chat traffic.
//
// It authenticates connections, owns room membership, routes messages, and
// decides when a simulated reply is warranted. All failure routing follows
// one rule: a bad action produces an error envelope for its caller only and
// never terminates the socket or leaks to other participants.
type Gateway struct {
	log      *slog.Logger
	hub      *Hub
	store    MessageStore
	matches  registry.MatchStore
	profiles registry.ProfileStore
	verifier auth.Verifier
	replier  *AutoReplier
	notifier notify.Notifier

	originRequired bool
	allowedOrigins []string
	originPatterns []string
	devInsecure    bool

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewGateway constructs a gateway with secure defaults, reading tuning knobs
// from the environment.
func NewGateway(
	log *slog.Logger,
	hub *Hub,
	store MessageStore,
	matches registry.MatchStore,
	profiles registry.ProfileStore,
	verifier auth.Verifier,
	replier *AutoReplier,
	notifier notify.Notifier,
) *Gateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if hub == nil {
		hub = NewHub(log)
	}

	g := &Gateway{
		log:      log,
		hub:      hub,
		store:    store,
		matches:  matches,
		profiles: profiles,
		verifier: verifier,
		replier:  replier,
		notifier: notifier,
	}

	g.devInsecure = envBoolWS("BRANDLINK_WS_DEV_INSECURE", false)
	g.originRequired = envBoolWS("BRANDLINK_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("BRANDLINK_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// websocket.Accept enforces its own origin policy: same-host is ok,
	// cross-origin requires OriginPatterns. Derive the patterns from the
	// allowlist so the two layers agree.
	g.originPatterns = originPatternsFromAllowlist(g.allowedOrigins)

	g.writeTimeout = envDurationWS("BRANDLINK_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("BRANDLINK_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("BRANDLINK_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("BRANDLINK_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("BRANDLINK_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("BRANDLINK_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("BRANDLINK_WS_RATE_WINDOW", rateLimitWindow)

	return g
}

// ServeHTTP adapter so the gateway mounts as an http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS authenticates the request, upgrades it, and runs the session loop.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	// Authentication happens before the upgrade: an invalid credential never
	// gets a socket, let alone room operations.
	identity, err := g.verifier.Verify(r.Context(), credentialFromRequest(r))
	if err != nil {
		g.log.Info("ws.reject.auth", "err", err, "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	conn.SetReadLimit(maxFrameBytes)

	sessionID := ids.MustULID(time.Now().UTC())
	client := NewClient(identity.ParticipantID, sessionID, g.sendQueueSize)

	metricConnections.Inc()
	defer metricConnections.Dec()

	if identity.ActorID != "" {
		g.log.Info("ws.impersonation",
			"session_id", sessionID, "participant_id", identity.ParticipantID, "actor_id", identity.ActorID)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Every connection lives on its participant's private channel so
	// notifications reach them regardless of joined rooms.
	personal := g.hub.Personal(identity.ParticipantID)
	personal.Join(client)

	var (
		closeOnce sync.Once
		joinedMu  sync.Mutex
		joined    = make(map[string]registry.Match)
	)

	// shutdown is idempotent. It does NOT close client.Send:
	// membership removal happens before client.Close so broadcasters
	// never race a closing channel.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			joinedMu.Lock()
			for id := range joined {
				g.hub.Room(id).Leave(sessionID)
				delete(joined, id)
			}
			joinedMu.Unlock()
			personal.Leave(sessionID)

			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	g.enqueue(ctx, client, newEnvelope(v1.TypeWelcome, v1.WelcomePayload{
		ParticipantID: identity.ParticipantID,
		SessionID:     sessionID,
	}))

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySendError(ctx, client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}

		session := &session{
			client:   client,
			joinedMu: &joinedMu,
			joined:   joined,
		}

		switch env.Type {
		case v1.TypeJoin:
			if err := g.onJoin(ctx, session, env); err != nil {
				g.trySendError(ctx, client, errCode(err, "join_failed"), err.Error())
			}

		case v1.TypeLeave:
			g.onLeave(session, env)

		case v1.TypeSend:
			if err := g.onSend(ctx, session, env); err != nil {
				g.trySendError(ctx, client, errCode(err, "send_failed"), err.Error())
			}

		case v1.TypeTyping, v1.TypeStopTyping:
			g.onTyping(session, env)

		default:
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// session bundles per-connection mutable state the handlers need.
type session struct {
	client   *Client
	joinedMu *sync.Mutex
	joined   map[string]registry.Match
}

func (s *session) match(matchID string) (registry.Match, bool) {
	s.joinedMu.Lock()
	defer s.joinedMu.Unlock()
	m, ok := s.joined[matchID]
	return m, ok
}

// errAccessDenied marks authorization failures so they surface with a
// distinct wire code.
var errAccessDenied = errors.New("access denied")

func errCode(err error, fallback string) string {
	if errors.Is(err, errAccessDenied) {
		return "access_denied"
	}
	return fallback
}

// ---- handlers ----

func (g *Gateway) onJoin(ctx context.Context, s *session, env v1.Envelope) error {
	var p v1.JoinPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	matchID := strings.TrimSpace(p.MatchID)
	if matchID == "" {
		return errors.New("missing match_id")
	}

	match, err := g.authorizeMatch(ctx, s, matchID)
	if err != nil {
		return err
	}

	g.hub.Room(matchID).Join(s.client)

	s.joinedMu.Lock()
	s.joined[matchID] = match
	s.joinedMu.Unlock()

	// Opening the conversation marks the counterpart's messages read.
	if err := g.store.MarkRead(ctx, matchID, s.client.ParticipantID); err != nil {
		g.log.Warn("chat.mark_read.fail", "match_id", matchID, "err", err)
	}

	if !g.enqueue(ctx, s.client, newEnvelope(v1.TypeJoin, v1.JoinPayload{MatchID: matchID})) {
		g.hub.Room(matchID).Leave(s.client.SessionID)
		return errors.New("backpressure: join echo")
	}

	// First-reply trigger: detached, single-flighted inside the replier.
	// The session context would die on reconnect mid-generation, which is
	// exactly the case the reply must survive.
	if g.replier.Enabled() {
		participantID := s.client.ParticipantID
		go g.replier.ReplyToJoin(context.Background(), match, participantID)
	}

	return nil
}

func (g *Gateway) onLeave(s *session, env v1.Envelope) {
	var p v1.LeavePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return
	}

	s.joinedMu.Lock()
	delete(s.joined, p.MatchID)
	s.joinedMu.Unlock()

	g.hub.Room(p.MatchID).Leave(s.client.SessionID)
}

func (g *Gateway) onSend(ctx context.Context, s *session, env v1.Envelope) error {
	var p v1.SendPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	matchID := strings.TrimSpace(p.MatchID)
	if matchID == "" {
		return errors.New("missing match_id")
	}
	if strings.TrimSpace(p.ClientMsgID) == "" {
		return errors.New("missing client_msg_id")
	}
	text := strings.TrimSpace(p.Text)
	if text == "" {
		return errors.New("empty text")
	}
	if len([]rune(text)) > maxMessageChars {
		return fmt.Errorf("message too long: max=%d chars", maxMessageChars)
	}

	match, err := g.authorizeMatch(ctx, s, matchID)
	if err != nil {
		return err
	}

	res, err := g.store.Append(ctx, AppendInput{
		MatchID:     matchID,
		ClientMsgID: p.ClientMsgID,
		SenderID:    s.client.ParticipantID,
		Text:        text,
	})
	if err != nil {
		return fmt.Errorf("store append: %w", err)
	}

	payload := messagePayload(res.Stored)

	// The sender always gets the canonical record back, duplicate or not.
	if !g.enqueue(ctx, s.client, newEnvelope(v1.TypeMessage, payload)) {
		return errors.New("backpressure: message echo")
	}
	if res.Duplicated {
		return nil
	}

	metricMessages.Inc()

	g.hub.Room(matchID).BroadcastExcept(newEnvelope(v1.TypeMessage, payload), s.client.SessionID)

	counterpartID := match.Counterpart(s.client.ParticipantID)
	g.hub.Notify(counterpartID, newEnvelope(v1.TypeNotification, v1.NotificationPayload{
		MatchID: matchID,
		Message: payload,
	}))

	g.notifyOffline(match, s.client.ParticipantID, counterpartID, res.Stored.Text)

	if g.replier.Enabled() {
		senderID := s.client.ParticipantID
		go g.replier.ReplyToMessage(context.Background(), match, senderID)
	}

	return nil
}

func (g *Gateway) onTyping(s *session, env v1.Envelope) {
	var p v1.TypingPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return
	}

	// Typing events are droppable: an unauthorized or unjoined match id is
	// silently ignored rather than answered with an error.
	if _, ok := s.match(p.MatchID); !ok {
		return
	}

	relay := v1.TypingPayload{MatchID: p.MatchID, ParticipantID: s.client.ParticipantID}
	g.hub.Room(p.MatchID).BroadcastExcept(newEnvelope(env.Type, relay), s.client.SessionID)
}

// authorizeMatch resolves a match and checks the connection's participant
// belongs to it. Joined matches are served from the session cache; match
// membership is immutable so the cache cannot go stale.
func (g *Gateway) authorizeMatch(ctx context.Context, s *session, matchID string) (registry.Match, error) {
	if m, ok := s.match(matchID); ok {
		return m, nil
	}

	m, err := g.matches.GetMatch(ctx, matchID)
	if err != nil {
		if errors.Is(err, registry.ErrMatchNotFound) {
			return registry.Match{}, errAccessDenied
		}
		return registry.Match{}, fmt.Errorf("match lookup: %w", err)
	}
	if !m.Has(s.client.ParticipantID) {
		return registry.Match{}, errAccessDenied
	}
	return m, nil
}

// notifyOffline fires the best-effort out-of-band alert to the counterpart.
func (g *Gateway) notifyOffline(match registry.Match, senderID, recipientID, text string) {
	matchID := match.ID
	notify.Go(g.log, "chat.notify.fail", func(ctx context.Context) error {
		sender, err := g.profiles.GetProfile(ctx, senderID)
		if err != nil {
			return err
		}
		recipient, err := g.profiles.GetProfile(ctx, recipientID)
		if err != nil {
			return err
		}
		return g.notifier.NewMessage(ctx, recipient.Email, sender.DisplayName, text, matchID)
	})
}

// ---- send helpers ----

func (g *Gateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	g.enqueue(ctx, client, newEnvelope(v1.TypeError, v1.ErrorPayload{Code: code, Message: msg}))
}

func (g *Gateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

// ---- envelope IO ----

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	// JSON decode errors come from json.Unmarshal, not conn.Read. This
	// fallback exists for robustness when error strings are propagated.
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- credentials ----

func credentialFromRequest(r *http.Request) string {
	if tok := strings.TrimSpace(r.URL.Query().Get("token")); tok != "" {
		return tok
	}
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}
		if origin == a {
			return nil
		}
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func originPatternsFromAllowlist(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
