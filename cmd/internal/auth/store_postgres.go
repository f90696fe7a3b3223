package auth

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresVerifier validates opaque tokens against the chat_tokens table.
// Tokens are stored hashed; the plain value never touches the database.
type PostgresVerifier struct {
	pool   *pgxpool.Pool
	schema string
}

// VerifierOption configures PostgresVerifier behavior.
type VerifierOption func(*PostgresVerifier) error

// WithSchema sets the DB schema (default: "brandlink").
func WithSchema(schema string) VerifierOption {
	return func(v *PostgresVerifier) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !identRE.MatchString(schema) {
			return errors.New("auth: invalid schema identifier")
		}
		v.schema = schema
		return nil
	}
}

// NewPostgresVerifier constructs a Postgres-backed Verifier.
func NewPostgresVerifier(pool *pgxpool.Pool, opts ...VerifierOption) (*PostgresVerifier, error) {
	v := &PostgresVerifier{pool: pool, schema: "brandlink"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(v); err != nil {
			return nil, err
		}
	}
	if v.pool == nil {
		return nil, errors.New("auth: nil pool")
	}
	return v, nil
}

// Verify resolves a plain token to its identity.
func (v *PostgresVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" || len(token) > 4096 {
		return Identity{}, ErrInvalidToken
	}

	tokens := pgx.Identifier{v.schema, "chat_tokens"}.Sanitize()

	var (
		id      Identity
		actorID *string
		exp     time.Time
	)
	err := v.pool.QueryRow(ctx,
		`SELECT participant_id, actor_id, expires_at FROM `+tokens+` WHERE token_hash = $1`,
		HashToken(token),
	).Scan(&id.ParticipantID, &actorID, &exp)
	if errors.Is(err, pgx.ErrNoRows) {
		return Identity{}, ErrInvalidToken
	}
	if err != nil {
		return Identity{}, err
	}

	if !exp.After(time.Now().UTC()) {
		return Identity{}, ErrTokenExpired
	}
	if actorID != nil {
		id.ActorID = *actorID
	}
	return id, nil
}

// Issue stores a fresh token for a participant and returns the plain value.
// ActorID, when non-empty, records an admin impersonation session.
func (v *PostgresVerifier) Issue(ctx context.Context, participantID, actorID string, ttl time.Duration) (string, error) {
	plain, hash, err := NewOpaqueToken()
	if err != nil {
		return "", err
	}

	var actor *string
	if actorID != "" {
		actor = &actorID
	}

	tokens := pgx.Identifier{v.schema, "chat_tokens"}.Sanitize()
	_, err = v.pool.Exec(ctx,
		`INSERT INTO `+tokens+` (token_hash, participant_id, actor_id, expires_at)
		 VALUES ($1, $2, $3, $4)`,
		hash, participantID, actor, time.Now().UTC().Add(ttl),
	)
	if err != nil {
		return "", err
	}
	return plain, nil
}

var identRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
