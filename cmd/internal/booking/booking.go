// Package booking covers the collaboration lifecycle that follows a match:
// a brand books an ambassador for a time window, both sides track check-in
// and check-out, and either side reviews the other afterwards.
package booking

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrBookingNotFound is returned when a booking id does not exist.
	ErrBookingNotFound = errors.New("booking: not found")
	// ErrInvalidBooking is returned for validation failures.
	ErrInvalidBooking = errors.New("booking: invalid")
	// ErrInvalidTransition is returned when a status change is not allowed
	// from the booking's current state.
	ErrInvalidTransition = errors.New("booking: invalid status transition")
	// ErrReviewExists is returned when an author reviews the same booking twice.
	ErrReviewExists = errors.New("booking: review already exists")
)

// Status is a booking's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Booking is a scheduled collaboration inside a match.
type Booking struct {
	ID         string
	MatchID    string
	StartsAt   time.Time
	EndsAt     time.Time
	Status     Status
	CheckInAt  *time.Time
	CheckOutAt *time.Time
	CreatedAt  time.Time
}

// Validate checks invariants on a new booking.
func (b Booking) Validate() error {
	if strings.TrimSpace(b.MatchID) == "" {
		return errors.Join(ErrInvalidBooking, errors.New("missing match_id"))
	}
	if b.StartsAt.IsZero() || b.EndsAt.IsZero() {
		return errors.Join(ErrInvalidBooking, errors.New("missing time window"))
	}
	if !b.EndsAt.After(b.StartsAt) {
		return errors.Join(ErrInvalidBooking, errors.New("ends_at must be after starts_at"))
	}
	return nil
}

// canTransition encodes the allowed lifecycle edges.
//
//	pending   -> confirmed | cancelled
//	confirmed -> completed | cancelled
func canTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusConfirmed || to == StatusCancelled
	case StatusConfirmed:
		return to == StatusCompleted || to == StatusCancelled
	}
	return false
}

// Review is one side's rating of a finished collaboration.
// SubjectID is the reviewed participant, always the author's counterpart in
// the booking's match.
type Review struct {
	ID        string
	BookingID string
	AuthorID  string
	SubjectID string
	Rating    int
	Comment   string
	CreatedAt time.Time
}

// Validate checks invariants on a new review.
func (r Review) Validate() error {
	if strings.TrimSpace(r.BookingID) == "" {
		return errors.Join(ErrInvalidBooking, errors.New("missing booking_id"))
	}
	if strings.TrimSpace(r.AuthorID) == "" {
		return errors.Join(ErrInvalidBooking, errors.New("missing author_id"))
	}
	if strings.TrimSpace(r.SubjectID) == "" {
		return errors.Join(ErrInvalidBooking, errors.New("missing subject_id"))
	}
	if r.Rating < 1 || r.Rating > 5 {
		return errors.Join(ErrInvalidBooking, errors.New("rating must be 1..5"))
	}
	return nil
}

// RatingSummary aggregates reviews about one participant.
type RatingSummary struct {
	Count   int64
	Average float64
}

// Store persists bookings and reviews.
type Store interface {
	CreateBooking(ctx context.Context, b Booking) (Booking, error)
	GetBooking(ctx context.Context, id string) (Booking, error)
	ListBookings(ctx context.Context, matchID string) ([]Booking, error)
	// SetStatus applies a lifecycle transition; ErrInvalidTransition when the
	// edge is not allowed from the current status.
	SetStatus(ctx context.Context, id string, to Status, now time.Time) (Booking, error)
	// CheckIn stamps the check-in time; requires a confirmed booking.
	CheckIn(ctx context.Context, id string, now time.Time) (Booking, error)
	// CheckOut stamps the check-out time and completes the booking; requires
	// a prior check-in.
	CheckOut(ctx context.Context, id string, now time.Time) (Booking, error)

	CreateReview(ctx context.Context, r Review) (Review, error)
	ListReviews(ctx context.Context, bookingID string) ([]Review, error)
	// RatingFor aggregates review ratings received by a participant across
	// all their completed bookings.
	RatingFor(ctx context.Context, participantID string) (RatingSummary, error)
}
