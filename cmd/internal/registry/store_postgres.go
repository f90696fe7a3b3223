package registry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"brandlink/cmd/internal/ids"
)

// PostgresStore implements ProfileStore and MatchStore on PostgreSQL.
//
// Ownership model: the store does NOT own the pgx pool; the caller closes it.
//
// Match formation is serialized per unordered pair with a transactional
// advisory lock so two reciprocal likes arriving concurrently cannot create
// two matches.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "brandlink").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !isValidPGIdent(schema) {
			return errors.New("registry: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed registry store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "brandlink"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("registry: nil pool")
	}
	return st, nil
}

const profileColumns = `id, kind, display_name, bio, location, age, skills, email, is_simulated, is_preview, created_at`

// CreateProfile persists a new profile, assigning id and creation time.
func (s *PostgresStore) CreateProfile(ctx context.Context, p Profile) (Profile, error) {
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}

	now := time.Now().UTC()
	id, err := ids.NewULID(now)
	if err != nil {
		return Profile{}, err
	}
	p.ID = id
	p.CreatedAt = now

	profiles := pgIdent(s.schema, "profiles")
	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+profiles+` (`+profileColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.Kind, p.DisplayName, p.Bio, p.Location, p.Age, p.Skills, p.Email,
		p.Simulated, p.Preview, p.CreatedAt,
	)
	if err != nil {
		return Profile{}, fmt.Errorf("insert profile: %w", err)
	}
	return p, nil
}

// GetProfile returns a profile by id.
func (s *PostgresStore) GetProfile(ctx context.Context, id string) (Profile, error) {
	profiles := pgIdent(s.schema, "profiles")

	row := s.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM `+profiles+` WHERE id = $1`, id)
	p, err := scanProfile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, ErrProfileNotFound
	}
	return p, err
}

// UpdateProfile replaces mutable profile fields. Kind is immutable.
func (s *PostgresStore) UpdateProfile(ctx context.Context, p Profile) (Profile, error) {
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}

	profiles := pgIdent(s.schema, "profiles")
	row := s.pool.QueryRow(ctx,
		`UPDATE `+profiles+`
		    SET display_name = $2, bio = $3, location = $4, age = $5,
		        skills = $6, email = $7, is_simulated = $8, is_preview = $9
		  WHERE id = $1
		RETURNING `+profileColumns,
		p.ID, p.DisplayName, p.Bio, p.Location, p.Age, p.Skills, p.Email, p.Simulated, p.Preview,
	)
	out, err := scanProfile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, ErrProfileNotFound
	}
	return out, err
}

// ListAmbassadors returns ambassador profiles, newest first.
func (s *PostgresStore) ListAmbassadors(ctx context.Context, limit int) ([]Profile, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	profiles := pgIdent(s.schema, "profiles")
	rows, err := s.pool.Query(ctx,
		`SELECT `+profileColumns+` FROM `+profiles+`
		  WHERE kind = $1
		  ORDER BY created_at DESC, id DESC
		  LIMIT $2`,
		KindAmbassador, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Profile, 0, limit)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Like records a like and forms a match when reciprocal.
func (s *PostgresStore) Like(ctx context.Context, senderID, receiverID string) (LikeResult, error) {
	if senderID == receiverID {
		return LikeResult{}, ErrSelfLike
	}

	sender, err := s.GetProfile(ctx, senderID)
	if err != nil {
		return LikeResult{}, err
	}
	receiver, err := s.GetProfile(ctx, receiverID)
	if err != nil {
		return LikeResult{}, err
	}
	if sender.Kind == receiver.Kind {
		return LikeResult{}, ErrKindMismatch
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return LikeResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	likes := pgIdent(s.schema, "likes")
	matches := pgIdent(s.schema, "matches")

	lo, hi := senderID, receiverID
	if hi < lo {
		lo, hi = hi, lo
	}

	// Serialize match formation per unordered pair.
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1 || ':' || $2, 0))`, lo, hi,
	); err != nil {
		return LikeResult{}, fmt.Errorf("advisory lock: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+likes+` (sender_id, receiver_id, created_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (sender_id, receiver_id) DO NOTHING`,
		senderID, receiverID, now,
	); err != nil {
		return LikeResult{}, fmt.Errorf("insert like: %w", err)
	}

	var m Match
	err = tx.QueryRow(ctx,
		`SELECT id, brand_id, ambassador_id, created_at FROM `+matches+`
		  WHERE (brand_id = $1 AND ambassador_id = $2) OR (brand_id = $2 AND ambassador_id = $1)`,
		senderID, receiverID,
	).Scan(&m.ID, &m.BrandID, &m.AmbassadorID, &m.CreatedAt)
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return LikeResult{}, err
		}
		return LikeResult{Match: &m}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return LikeResult{}, err
	}

	var one int
	err = tx.QueryRow(ctx,
		`SELECT 1 FROM `+likes+` WHERE sender_id = $1 AND receiver_id = $2`,
		receiverID, senderID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		// Not reciprocal yet.
		if err := tx.Commit(ctx); err != nil {
			return LikeResult{}, err
		}
		return LikeResult{}, nil
	}
	if err != nil {
		return LikeResult{}, err
	}

	m = Match{ID: ids.MustULID(now), CreatedAt: now}
	if sender.Kind == KindBrand {
		m.BrandID, m.AmbassadorID = senderID, receiverID
	} else {
		m.BrandID, m.AmbassadorID = receiverID, senderID
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+matches+` (id, brand_id, ambassador_id, created_at)
		 VALUES ($1, $2, $3, $4)`,
		m.ID, m.BrandID, m.AmbassadorID, m.CreatedAt,
	); err != nil {
		return LikeResult{}, fmt.Errorf("insert match: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return LikeResult{}, err
	}
	return LikeResult{Matched: true, Match: &m}, nil
}

// GetMatch returns a match by id.
func (s *PostgresStore) GetMatch(ctx context.Context, id string) (Match, error) {
	matches := pgIdent(s.schema, "matches")

	var m Match
	err := s.pool.QueryRow(ctx,
		`SELECT id, brand_id, ambassador_id, created_at FROM `+matches+` WHERE id = $1`, id,
	).Scan(&m.ID, &m.BrandID, &m.AmbassadorID, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Match{}, ErrMatchNotFound
	}
	return m, err
}

// MatchBetween returns the match for an unordered pair, if any.
func (s *PostgresStore) MatchBetween(ctx context.Context, a, b string) (Match, bool, error) {
	matches := pgIdent(s.schema, "matches")

	var m Match
	err := s.pool.QueryRow(ctx,
		`SELECT id, brand_id, ambassador_id, created_at FROM `+matches+`
		  WHERE (brand_id = $1 AND ambassador_id = $2) OR (brand_id = $2 AND ambassador_id = $1)`,
		a, b,
	).Scan(&m.ID, &m.BrandID, &m.AmbassadorID, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Match{}, false, nil
	}
	if err != nil {
		return Match{}, false, err
	}
	return m, true, nil
}

// ListMatches returns all matches a participant belongs to, newest first.
func (s *PostgresStore) ListMatches(ctx context.Context, participantID string) ([]Match, error) {
	matches := pgIdent(s.schema, "matches")

	rows, err := s.pool.Query(ctx,
		`SELECT id, brand_id, ambassador_id, created_at FROM `+matches+`
		  WHERE brand_id = $1 OR ambassador_id = $1
		  ORDER BY created_at DESC, id DESC`,
		participantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Match, 0, 8)
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.BrandID, &m.AmbassadorID, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanProfile(row pgx.Row) (Profile, error) {
	var p Profile
	err := row.Scan(&p.ID, &p.Kind, &p.DisplayName, &p.Bio, &p.Location, &p.Age,
		&p.Skills, &p.Email, &p.Simulated, &p.Preview, &p.CreatedAt)
	return p, err
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers.
	return pgx.Identifier{schema, table}.Sanitize()
}
