package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"brandlink/cmd/internal/ids"
)

// MemoryStore is an in-memory Store for dev and tests. It mirrors the
// Postgres store's semantics, including transition rules.
type MemoryStore struct {
	mu       sync.RWMutex
	bookings map[string]Booking
	reviews  map[string][]Review // booking id -> reviews
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings: make(map[string]Booking),
		reviews:  make(map[string][]Review),
	}
}

// CreateBooking validates and stores a new pending booking.
func (s *MemoryStore) CreateBooking(_ context.Context, b Booking) (Booking, error) {
	if err := b.Validate(); err != nil {
		return Booking{}, err
	}

	now := time.Now().UTC()
	b.ID = ids.MustULID(now)
	b.Status = StatusPending
	b.CheckInAt = nil
	b.CheckOutAt = nil
	b.CreatedAt = now

	s.mu.Lock()
	s.bookings[b.ID] = b
	s.mu.Unlock()
	return b, nil
}

// GetBooking returns a booking by id.
func (s *MemoryStore) GetBooking(_ context.Context, id string) (Booking, error) {
	s.mu.RLock()
	b, ok := s.bookings[id]
	s.mu.RUnlock()
	if !ok {
		return Booking{}, ErrBookingNotFound
	}
	return b, nil
}

// ListBookings returns a match's bookings ordered by creation time.
func (s *MemoryStore) ListBookings(_ context.Context, matchID string) ([]Booking, error) {
	s.mu.RLock()
	out := make([]Booking, 0, 4)
	for _, b := range s.bookings {
		if b.MatchID == matchID {
			out = append(out, b)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetStatus applies a lifecycle transition.
func (s *MemoryStore) SetStatus(_ context.Context, id string, to Status, _ time.Time) (Booking, error) {
	if !to.Valid() {
		return Booking{}, ErrInvalidTransition
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return Booking{}, ErrBookingNotFound
	}
	if !canTransition(b.Status, to) {
		return Booking{}, ErrInvalidTransition
	}
	b.Status = to
	s.bookings[id] = b
	return b, nil
}

// CheckIn stamps the check-in time on a confirmed booking.
func (s *MemoryStore) CheckIn(_ context.Context, id string, now time.Time) (Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return Booking{}, ErrBookingNotFound
	}
	if b.Status != StatusConfirmed || b.CheckInAt != nil {
		return Booking{}, ErrInvalidTransition
	}
	t := now.UTC()
	b.CheckInAt = &t
	s.bookings[id] = b
	return b, nil
}

// CheckOut stamps the check-out time and completes the booking.
func (s *MemoryStore) CheckOut(_ context.Context, id string, now time.Time) (Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return Booking{}, ErrBookingNotFound
	}
	if b.Status != StatusConfirmed || b.CheckInAt == nil || b.CheckOutAt != nil {
		return Booking{}, ErrInvalidTransition
	}
	t := now.UTC()
	b.CheckOutAt = &t
	b.Status = StatusCompleted
	s.bookings[id] = b
	return b, nil
}

// CreateReview stores a review; one per author per booking.
func (s *MemoryStore) CreateReview(_ context.Context, r Review) (Review, error) {
	if err := r.Validate(); err != nil {
		return Review{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bookings[r.BookingID]; !ok {
		return Review{}, ErrBookingNotFound
	}
	for _, have := range s.reviews[r.BookingID] {
		if have.AuthorID == r.AuthorID {
			return Review{}, ErrReviewExists
		}
	}

	now := time.Now().UTC()
	r.ID = ids.MustULID(now)
	r.CreatedAt = now
	s.reviews[r.BookingID] = append(s.reviews[r.BookingID], r)
	return r, nil
}

// ListReviews returns a booking's reviews in creation order.
func (s *MemoryStore) ListReviews(_ context.Context, bookingID string) ([]Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	have := s.reviews[bookingID]
	out := make([]Review, len(have))
	copy(out, have)
	return out, nil
}

// RatingFor aggregates ratings received by a participant.
func (s *MemoryStore) RatingFor(_ context.Context, participantID string) (RatingSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum RatingSummary
	var total int64
	for _, rs := range s.reviews {
		for _, r := range rs {
			if r.SubjectID == participantID {
				sum.Count++
				total += int64(r.Rating)
			}
		}
	}
	if sum.Count > 0 {
		sum.Average = float64(total) / float64(sum.Count)
	}
	return sum, nil
}
