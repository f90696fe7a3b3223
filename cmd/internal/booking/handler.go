package booking

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"brandlink/cmd/internal/api"
	"brandlink/cmd/internal/registry"
)

// Handler exposes the booking lifecycle and reviews over REST.
// Every endpoint authorizes through the booking's parent match.
type Handler struct {
	log     *slog.Logger
	store   Store
	matches registry.MatchStore
}

// NewHandler constructs the booking Handler.
func NewHandler(log *slog.Logger, store Store, matches registry.MatchStore) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, store: store, matches: matches}
}

// Routes mounts the booking endpoints. Callers wrap the router with
// api.RequireAuth.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/bookings", h.handleCreate)
	r.Get("/bookings/{id}", h.handleGet)
	r.Get("/matches/{matchID}/bookings", h.handleList)
	r.Post("/bookings/{id}/confirm", h.transitionHandler(StatusConfirmed))
	r.Post("/bookings/{id}/cancel", h.transitionHandler(StatusCancelled))
	r.Post("/bookings/{id}/check-in", h.handleCheckIn)
	r.Post("/bookings/{id}/check-out", h.handleCheckOut)
	r.Post("/bookings/{id}/reviews", h.handleCreateReview)
	r.Get("/bookings/{id}/reviews", h.handleListReviews)
	r.Get("/participants/{id}/rating", h.handleRating)
}

type bookingRequest struct {
	MatchID  string    `json:"match_id"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

type bookingResponse struct {
	ID         string     `json:"id"`
	MatchID    string     `json:"match_id"`
	StartsAt   time.Time  `json:"starts_at"`
	EndsAt     time.Time  `json:"ends_at"`
	Status     string     `json:"status"`
	CheckInAt  *time.Time `json:"check_in_at,omitempty"`
	CheckOutAt *time.Time `json:"check_out_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func toBookingResponse(b Booking) bookingResponse {
	return bookingResponse{
		ID:         b.ID,
		MatchID:    b.MatchID,
		StartsAt:   b.StartsAt,
		EndsAt:     b.EndsAt,
		Status:     string(b.Status),
		CheckInAt:  b.CheckInAt,
		CheckOutAt: b.CheckOutAt,
		CreatedAt:  b.CreatedAt,
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req bookingRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "bad_json", err.Error())
		return
	}

	if _, ok := h.memberOfMatch(w, r, req.MatchID); !ok {
		return
	}

	b, err := h.store.CreateBooking(r.Context(), Booking{
		MatchID:  req.MatchID,
		StartsAt: req.StartsAt,
		EndsAt:   req.EndsAt,
	})
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, toBookingResponse(b))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	b, _, ok := h.authorizedBooking(w, r)
	if !ok {
		return
	}
	api.WriteJSON(w, http.StatusOK, toBookingResponse(b))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")
	if _, ok := h.memberOfMatch(w, r, matchID); !ok {
		return
	}

	list, err := h.store.ListBookings(r.Context(), matchID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	out := make([]bookingResponse, 0, len(list))
	for _, b := range list {
		out = append(out, toBookingResponse(b))
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"bookings": out})
}

func (h *Handler) transitionHandler(to Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, _, ok := h.authorizedBooking(w, r)
		if !ok {
			return
		}

		updated, err := h.store.SetStatus(r.Context(), b.ID, to, time.Now().UTC())
		if err != nil {
			h.writeStoreError(w, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, toBookingResponse(updated))
	}
}

func (h *Handler) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	b, _, ok := h.authorizedBooking(w, r)
	if !ok {
		return
	}

	updated, err := h.store.CheckIn(r.Context(), b.ID, time.Now().UTC())
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, toBookingResponse(updated))
}

func (h *Handler) handleCheckOut(w http.ResponseWriter, r *http.Request) {
	b, _, ok := h.authorizedBooking(w, r)
	if !ok {
		return
	}

	updated, err := h.store.CheckOut(r.Context(), b.ID, time.Now().UTC())
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, toBookingResponse(updated))
}

type reviewRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

type reviewResponse struct {
	ID        string    `json:"id"`
	BookingID string    `json:"booking_id"`
	AuthorID  string    `json:"author_id"`
	SubjectID string    `json:"subject_id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toReviewResponse(rv Review) reviewResponse {
	return reviewResponse{
		ID:        rv.ID,
		BookingID: rv.BookingID,
		AuthorID:  rv.AuthorID,
		SubjectID: rv.SubjectID,
		Rating:    rv.Rating,
		Comment:   rv.Comment,
		CreatedAt: rv.CreatedAt,
	}
}

func (h *Handler) handleCreateReview(w http.ResponseWriter, r *http.Request) {
	b, match, ok := h.authorizedBooking(w, r)
	if !ok {
		return
	}
	if b.Status != StatusCompleted {
		api.WriteError(w, http.StatusUnprocessableEntity, "invalid", "booking not completed")
		return
	}

	identity, _ := api.IdentityFrom(r.Context())

	var req reviewRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "bad_json", err.Error())
		return
	}

	rv, err := h.store.CreateReview(r.Context(), Review{
		BookingID: b.ID,
		AuthorID:  identity.ParticipantID,
		SubjectID: match.Counterpart(identity.ParticipantID),
		Rating:    req.Rating,
		Comment:   req.Comment,
	})
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, toReviewResponse(rv))
}

func (h *Handler) handleListReviews(w http.ResponseWriter, r *http.Request) {
	b, _, ok := h.authorizedBooking(w, r)
	if !ok {
		return
	}

	list, err := h.store.ListReviews(r.Context(), b.ID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	out := make([]reviewResponse, 0, len(list))
	for _, rv := range list {
		out = append(out, toReviewResponse(rv))
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"reviews": out})
}

func (h *Handler) handleRating(w http.ResponseWriter, r *http.Request) {
	sum, err := h.store.RatingFor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"count":   sum.Count,
		"average": sum.Average,
	})
}

// authorizedBooking loads the booking from the path and checks the caller is
// a participant of its match.
func (h *Handler) authorizedBooking(w http.ResponseWriter, r *http.Request) (Booking, registry.Match, bool) {
	b, err := h.store.GetBooking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err)
		return Booking{}, registry.Match{}, false
	}

	match, ok := h.memberOfMatch(w, r, b.MatchID)
	if !ok {
		return Booking{}, registry.Match{}, false
	}
	return b, match, true
}

func (h *Handler) memberOfMatch(w http.ResponseWriter, r *http.Request, matchID string) (registry.Match, bool) {
	identity, ok := api.IdentityFrom(r.Context())
	if !ok {
		api.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return registry.Match{}, false
	}

	match, err := h.lookupMatch(r.Context(), matchID)
	if err != nil {
		h.writeStoreError(w, err)
		return registry.Match{}, false
	}
	if !match.Has(identity.ParticipantID) {
		api.WriteError(w, http.StatusNotFound, "not_found", "match not found")
		return registry.Match{}, false
	}
	return match, true
}

func (h *Handler) lookupMatch(ctx context.Context, matchID string) (registry.Match, error) {
	return h.matches.GetMatch(ctx, matchID)
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrBookingNotFound), errors.Is(err, registry.ErrMatchNotFound):
		api.WriteError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, ErrInvalidBooking), errors.Is(err, ErrInvalidTransition):
		api.WriteError(w, http.StatusUnprocessableEntity, "invalid", err.Error())
	case errors.Is(err, ErrReviewExists):
		api.WriteError(w, http.StatusConflict, "conflict", err.Error())
	default:
		h.log.Error("booking.api.fail", "err", err)
		api.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
