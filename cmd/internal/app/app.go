// Package app wires the brandlink server runtime: config, logging, HTTP
// routes, and the realtime chat gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"brandlink/cmd/internal/ai"
	"brandlink/cmd/internal/auth"
	"brandlink/cmd/internal/booking"
	"brandlink/cmd/internal/chat"
	"brandlink/cmd/internal/notify"
	"brandlink/cmd/internal/registry"
)

// stores bundles every persistence-backed dependency the runtime needs,
// either Postgres-backed or in-memory.
type stores struct {
	messages chat.MessageStore
	lock     chat.ReplyLock
	profiles registry.ProfileStore
	matches  registry.MatchStore
	bookings booking.Store
	verifier auth.Verifier

	pool *pgxpool.Pool
}

func (s *stores) close() {
	if s.messages != nil {
		_ = s.messages.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// App is the server runtime.
type App struct {
	cfg Config
	log Logger

	st        *stores
	dbEnabled bool

	gateway  *chat.Gateway
	registry *registry.Handler
	bookings *booking.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	st, err := newStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	var gen ai.Generator
	if cfg.AI.Enabled() {
		arkGen, err := ai.NewArkGenerator(ctx, cfg.AI)
		if err != nil {
			st.close()
			return nil, err
		}
		gen = arkGen
		log.Info("ai.enabled", "model", cfg.AI.Model)
	} else {
		log.Info("ai.disabled.no_credentials")
	}

	var notifier notify.Notifier = notify.Noop{}
	if cfg.SMTP.Enabled() {
		smtp, err := notify.NewSMTPNotifier(cfg.SMTP)
		if err != nil {
			st.close()
			return nil, err
		}
		notifier = smtp
		log.Info("notify.smtp.enabled", "addr", cfg.SMTP.Addr)
	} else {
		log.Info("notify.disabled.noop")
	}

	hub := chat.NewHub(log)
	replier := chat.NewAutoReplier(log, cfg.AutoReply, hub, st.messages, st.lock, st.profiles, gen, notifier)

	gateway := chat.NewGateway(log, hub, st.messages, st.matches, st.profiles, st.verifier, replier, notifier)

	return &App{
		cfg:       cfg,
		log:       log,
		st:        st,
		dbEnabled: st.pool != nil,
		gateway:   gateway,
		registry:  registry.NewHandler(log, st.profiles, st.matches),
		bookings:  booking.NewHandler(log, st.bookings, st.matches),
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal
// server error.
func (a *App) Run(ctx context.Context) error {
	handler := a.router()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.st.close()

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newStores decides between Postgres-backed persistence and the in-memory
// dev mode.
func newStores(ctx context.Context, cfg Config, log Logger) (*stores, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")

		verifier := auth.NewStaticVerifier()
		for token, participantID := range parseDevTokens(cfg.DevTokens) {
			verifier.Add(token, auth.Identity{ParticipantID: participantID})
		}

		mem := registry.NewMemoryStore()
		return &stores{
			messages: chat.NewInMemoryStore(),
			lock:     chat.NewInMemoryLock(),
			profiles: mem,
			matches:  mem,
			bookings: booking.NewMemoryStore(),
			verifier: verifier,
		}, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)

	fail := func(err error) (*stores, error) {
		pool.Close()
		return nil, err
	}

	messages, err := chat.NewPostgresStore(pool, chat.WithStoreSchema(cfg.DBSchema))
	if err != nil {
		return fail(err)
	}
	lock, err := chat.NewPostgresLock(log, pool)
	if err != nil {
		return fail(err)
	}
	reg, err := registry.NewPostgresStore(pool, registry.WithSchema(cfg.DBSchema))
	if err != nil {
		return fail(err)
	}
	bookings, err := booking.NewPostgresStore(pool, booking.WithSchema(cfg.DBSchema))
	if err != nil {
		return fail(err)
	}
	verifier, err := auth.NewPostgresVerifier(pool, auth.WithSchema(cfg.DBSchema))
	if err != nil {
		return fail(err)
	}

	return &stores{
		messages: messages,
		lock:     lock,
		profiles: reg,
		matches:  reg,
		bookings: bookings,
		verifier: verifier,
		pool:     pool,
	}, nil
}

// parseDevTokens parses "token:participant,token2:participant2".
func parseDevTokens(raw string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, participant, ok := strings.Cut(pair, ":")
		token = strings.TrimSpace(token)
		participant = strings.TrimSpace(participant)
		if !ok || token == "" || participant == "" {
			continue
		}
		out[token] = participant
	}
	return out
}
