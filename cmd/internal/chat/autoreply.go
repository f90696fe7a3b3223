package chat

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"brandlink/cmd/internal/ai"
	"brandlink/cmd/internal/notify"
	"brandlink/cmd/internal/registry"
	v1 "brandlink/shared/contracts/chat/v1"
)

const autoReplyBudget = 60 * time.Second

// AutoReplyConfig tunes the human-latency simulation.
// Zero min/max means no artificial delay (used by tests).
type AutoReplyConfig struct {
	DelayMin time.Duration
	DelayMax time.Duration
}

// AutoReplier orchestrates simulated ambassador replies.
//
// It owns the timing contract a human observes: typing-start, then
// generation, then a randomized delay, then typing-stop, then the message.
// Even on generator failure the typing indicator always resolves; the
// human-facing failure mode is silence, never an error.
//
// Eligibility and "already replied" state are read from the stores on every
// trigger, never cached, because another process may have acted in between.
type AutoReplier struct {
	log      *slog.Logger
	cfg      AutoReplyConfig
	hub      *Hub
	store    MessageStore
	lock     ReplyLock
	profiles registry.ProfileStore
	gen      ai.Generator
	notifier notify.Notifier
}

// NewAutoReplier wires the orchestrator. A nil generator disables all
// triggers (chat keeps working without AI credentials).
func NewAutoReplier(
	log *slog.Logger,
	cfg AutoReplyConfig,
	hub *Hub,
	store MessageStore,
	lock ReplyLock,
	profiles registry.ProfileStore,
	gen ai.Generator,
	notifier notify.Notifier,
) *AutoReplier {
	return &AutoReplier{
		log:      log,
		cfg:      cfg,
		hub:      hub,
		store:    store,
		lock:     lock,
		profiles: profiles,
		gen:      gen,
		notifier: notifier,
	}
}

// Enabled reports whether a generator is configured.
func (a *AutoReplier) Enabled() bool {
	return a != nil && a.gen != nil
}

// ReplyToJoin is the first-reply trigger: when the initiating brand joins a
// match where the simulated ambassador has not spoken yet, generate an
// opening reply from the match's existing messages.
//
// Runs synchronously; the gateway invokes it on a detached goroutine.
func (a *AutoReplier) ReplyToJoin(ctx context.Context, match registry.Match, joinerID string) {
	if !a.Enabled() {
		return
	}
	if joinerID != match.BrandID {
		return
	}
	a.reply(ctx, match, true)
}

// ReplyToMessage is the ongoing trigger after a preview brand sends a message
// to a simulated ambassador.
func (a *AutoReplier) ReplyToMessage(ctx context.Context, match registry.Match, senderID string) {
	if !a.Enabled() {
		return
	}
	if senderID != match.BrandID {
		return
	}
	a.reply(ctx, match, false)
}

func (a *AutoReplier) reply(ctx context.Context, match registry.Match, firstReply bool) {
	ctx, cancel := context.WithTimeout(ctx, autoReplyBudget)
	defer cancel()

	brand, err := a.profiles.GetProfile(ctx, match.BrandID)
	if err != nil {
		a.log.Warn("chat.autoreply.profile.fail", "match_id", match.ID, "err", err)
		return
	}
	amb, err := a.profiles.GetProfile(ctx, match.AmbassadorID)
	if err != nil {
		a.log.Warn("chat.autoreply.profile.fail", "match_id", match.ID, "err", err)
		return
	}

	// Two-sided opt-in: the brand must be a preview account AND the
	// ambassador must be simulated. Either flag alone never triggers.
	if !brand.Preview || !amb.Simulated {
		metricAutoReplies.WithLabelValues("skipped").Inc()
		return
	}

	if firstReply {
		n, err := a.store.CountBySender(ctx, match.ID, amb.ID)
		if err != nil {
			a.log.Warn("chat.autoreply.count.fail", "match_id", match.ID, "err", err)
			return
		}
		if n > 0 {
			// The ambassador already spoke; the opening reply happened.
			return
		}
	}

	got, err := a.lock.TryAcquire(ctx, match.ID)
	if err != nil {
		a.log.Warn("chat.autoreply.lock.fail", "match_id", match.ID, "err", err)
		return
	}
	if !got {
		// Another generation is already in flight. Expected, silent.
		metricAutoReplies.WithLabelValues("contended").Inc()
		a.log.Debug("chat.autoreply.lock.contended", "match_id", match.ID)
		return
	}
	defer a.lock.Release(ctx, match.ID)

	room := a.hub.Room(match.ID)
	typing := v1.TypingPayload{MatchID: match.ID, ParticipantID: amb.ID}
	room.Broadcast(newEnvelope(v1.TypeTyping, typing))

	text, err := a.generate(ctx, match, amb)
	if err != nil {
		// Silent no-reply: resolve the indicator, persist nothing.
		room.Broadcast(newEnvelope(v1.TypeStopTyping, typing))
		metricAutoReplies.WithLabelValues("failed").Inc()
		a.log.Warn("chat.autoreply.generate.fail", "match_id", match.ID, "err", err)
		return
	}

	if !a.sleep(ctx) {
		room.Broadcast(newEnvelope(v1.TypeStopTyping, typing))
		return
	}
	room.Broadcast(newEnvelope(v1.TypeStopTyping, typing))

	res, err := a.store.Append(ctx, AppendInput{
		MatchID:     match.ID,
		ClientMsgID: uuid.NewString(),
		SenderID:    amb.ID,
		Text:        text,
	})
	if err != nil {
		metricAutoReplies.WithLabelValues("failed").Inc()
		a.log.Warn("chat.autoreply.append.fail", "match_id", match.ID, "err", err)
		return
	}

	payload := messagePayload(res.Stored)
	room.Broadcast(newEnvelope(v1.TypeMessage, payload))
	a.hub.Notify(brand.ID, newEnvelope(v1.TypeNotification, v1.NotificationPayload{
		MatchID: match.ID,
		Message: payload,
	}))

	notify.Go(a.log, "chat.autoreply.notify.fail", func(ctx context.Context) error {
		return a.notifier.NewMessage(ctx, brand.Email, amb.DisplayName, res.Stored.Text, match.ID)
	})

	metricAutoReplies.WithLabelValues("sent").Inc()
	metricMessages.Inc()
	a.log.Info("chat.autoreply.sent",
		"match_id", match.ID, "ambassador_id", amb.ID, "seq", res.Stored.Seq, "first_reply", firstReply)
}

// generate builds the role-tagged history and calls the text generator.
func (a *AutoReplier) generate(ctx context.Context, match registry.Match, amb registry.Profile) (string, error) {
	hist, err := a.store.History(ctx, HistoryInput{MatchID: match.ID, Limit: maxHistoryLimit})
	if err != nil {
		return "", err
	}

	turns := make([]ai.Turn, 0, len(hist.Messages))
	for _, m := range hist.Messages {
		role := ai.RoleVisitor
		if m.SenderID == amb.ID {
			role = ai.RoleCounterpart
		}
		turns = append(turns, ai.Turn{Role: role, Text: m.Text})
	}

	return a.gen.Generate(ctx, ai.Persona{
		Name:     amb.DisplayName,
		Age:      amb.Age,
		Location: amb.Location,
		Bio:      amb.Bio,
		Skills:   amb.Skills,
	}, turns)
}

// sleep waits the randomized human-latency interval. Returns false when the
// context died first, in which case the caller abandons the reply.
func (a *AutoReplier) sleep(ctx context.Context) bool {
	d := a.cfg.DelayMin
	if span := a.cfg.DelayMax - a.cfg.DelayMin; span > 0 {
		d += rand.N(span)
	}
	if d <= 0 {
		return ctx.Err() == nil
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
