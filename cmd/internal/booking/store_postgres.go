package booking

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

const bookingColumns = `id, match_id, starts_at, ends_at, status, check_in_at, check_out_at, created_at`

// PostgresStore is a pgx-backed Store.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore behavior.
type StoreOption func(*PostgresStore) error

// WithSchema sets the DB schema (default: "brandlink").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !bookingIdentRE.MatchString(schema) {
			return errors.New("booking: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	s := &PostgresStore{pool: pool, schema: "brandlink"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.pool == nil {
		return nil, errors.New("booking: nil pool")
	}
	return s, nil
}

func (s *PostgresStore) table(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

// CreateBooking validates and stores a new pending booking.
func (s *PostgresStore) CreateBooking(ctx context.Context, b Booking) (Booking, error) {
	if err := b.Validate(); err != nil {
		return Booking{}, err
	}

	now := time.Now().UTC()
	id, err := ids.NewULID(now)
	if err != nil {
		return Booking{}, fmt.Errorf("booking id: %w", err)
	}

	b.ID = id
	b.Status = StatusPending
	b.CheckInAt = nil
	b.CheckOutAt = nil
	b.CreatedAt = now

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+s.table("bookings")+` (`+bookingColumns+`)
		 VALUES ($1, $2, $3, $4, $5, NULL, NULL, $6)`,
		b.ID, b.MatchID, b.StartsAt.UTC(), b.EndsAt.UTC(), string(b.Status), b.CreatedAt,
	)
	if err != nil {
		return Booking{}, fmt.Errorf("insert booking: %w", err)
	}
	return b, nil
}

// GetBooking returns a booking by id.
func (s *PostgresStore) GetBooking(ctx context.Context, id string) (Booking, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM `+s.table("bookings")+` WHERE id = $1`, id)
	return scanBooking(row)
}

// ListBookings returns a match's bookings ordered by creation.
func (s *PostgresStore) ListBookings(ctx context.Context, matchID string) ([]Booking, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+bookingColumns+` FROM `+s.table("bookings")+`
		 WHERE match_id = $1 ORDER BY id ASC`, matchID)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	out := make([]Booking, 0, 8)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// SetStatus applies a lifecycle transition under a row lock.
func (s *PostgresStore) SetStatus(ctx context.Context, id string, to Status, _ time.Time) (Booking, error) {
	if !to.Valid() {
		return Booking{}, ErrInvalidTransition
	}
	return s.mutate(ctx, id, func(b *Booking) error {
		if !canTransition(b.Status, to) {
			return ErrInvalidTransition
		}
		b.Status = to
		return nil
	})
}

// CheckIn stamps the check-in time on a confirmed booking.
func (s *PostgresStore) CheckIn(ctx context.Context, id string, now time.Time) (Booking, error) {
	return s.mutate(ctx, id, func(b *Booking) error {
		if b.Status != StatusConfirmed || b.CheckInAt != nil {
			return ErrInvalidTransition
		}
		t := now.UTC()
		b.CheckInAt = &t
		return nil
	})
}

// CheckOut stamps the check-out time and completes the booking.
func (s *PostgresStore) CheckOut(ctx context.Context, id string, now time.Time) (Booking, error) {
	return s.mutate(ctx, id, func(b *Booking) error {
		if b.Status != StatusConfirmed || b.CheckInAt == nil || b.CheckOutAt != nil {
			return ErrInvalidTransition
		}
		t := now.UTC()
		b.CheckOutAt = &t
		b.Status = StatusCompleted
		return nil
	})
}

// mutate loads a booking FOR UPDATE, applies fn, and writes it back.
func (s *PostgresStore) mutate(ctx context.Context, id string, fn func(*Booking) error) (Booking, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Booking{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM `+s.table("bookings")+` WHERE id = $1 FOR UPDATE`, id)
	b, err := scanBooking(row)
	if err != nil {
		return Booking{}, err
	}

	if err := fn(&b); err != nil {
		return Booking{}, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE `+s.table("bookings")+`
		 SET status = $2, check_in_at = $3, check_out_at = $4
		 WHERE id = $1`,
		b.ID, string(b.Status), b.CheckInAt, b.CheckOutAt,
	)
	if err != nil {
		return Booking{}, fmt.Errorf("update booking: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Booking{}, fmt.Errorf("commit: %w", err)
	}
	return b, nil
}

// CreateReview stores a review; one per author per booking.
func (s *PostgresStore) CreateReview(ctx context.Context, r Review) (Review, error) {
	if err := r.Validate(); err != nil {
		return Review{}, err
	}

	if _, err := s.GetBooking(ctx, r.BookingID); err != nil {
		return Review{}, err
	}

	now := time.Now().UTC()
	id, err := ids.NewULID(now)
	if err != nil {
		return Review{}, fmt.Errorf("review id: %w", err)
	}
	r.ID = id
	r.CreatedAt = now

	// (booking_id, author_id) carries a unique constraint.
	ct, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table("reviews")+` (id, booking_id, author_id, subject_id, rating, comment, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (booking_id, author_id) DO NOTHING`,
		r.ID, r.BookingID, r.AuthorID, r.SubjectID, r.Rating, r.Comment, r.CreatedAt,
	)
	if err != nil {
		return Review{}, fmt.Errorf("insert review: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return Review{}, ErrReviewExists
	}
	return r, nil
}

// ListReviews returns a booking's reviews in creation order.
func (s *PostgresStore) ListReviews(ctx context.Context, bookingID string) ([]Review, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, booking_id, author_id, subject_id, rating, comment, created_at
		 FROM `+s.table("reviews")+` WHERE booking_id = $1 ORDER BY id ASC`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	out := make([]Review, 0, 2)
	for rows.Next() {
		var r Review
		if err := rows.Scan(&r.ID, &r.BookingID, &r.AuthorID, &r.SubjectID, &r.Rating, &r.Comment, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RatingFor aggregates ratings received by a participant.
func (s *PostgresStore) RatingFor(ctx context.Context, participantID string) (RatingSummary, error) {
	var sum RatingSummary
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(AVG(rating), 0)
		 FROM `+s.table("reviews")+` WHERE subject_id = $1`, participantID,
	).Scan(&sum.Count, &sum.Average)
	if err != nil {
		return RatingSummary{}, fmt.Errorf("rating summary: %w", err)
	}
	return sum, nil
}

func scanBooking(row pgx.Row) (Booking, error) {
	var (
		b      Booking
		status string
	)
	err := row.Scan(&b.ID, &b.MatchID, &b.StartsAt, &b.EndsAt, &status, &b.CheckInAt, &b.CheckOutAt, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Booking{}, ErrBookingNotFound
	}
	if err != nil {
		return Booking{}, fmt.Errorf("scan booking: %w", err)
	}
	b.Status = Status(status)
	return b, nil
}

var bookingIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
