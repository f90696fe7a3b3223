package registry

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"brandlink/cmd/internal/api"
)

const defaultDiscoveryLimit = 50

// Handler exposes profiles, likes, and matches over REST.
type Handler struct {
	log      *slog.Logger
	profiles ProfileStore
	matches  MatchStore
}

// NewHandler constructs the registry Handler.
func NewHandler(log *slog.Logger, profiles ProfileStore, matches MatchStore) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, profiles: profiles, matches: matches}
}

// Routes mounts the registry endpoints. Callers wrap the router with
// api.RequireAuth; handlers here assume a verified identity in context.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/profiles", h.handleCreateProfile)
	r.Get("/profiles/{id}", h.handleGetProfile)
	r.Put("/profiles/{id}", h.handleUpdateProfile)
	r.Get("/ambassadors", h.handleListAmbassadors)
	r.Post("/likes", h.handleLike)
	r.Get("/matches", h.handleListMatches)
	r.Get("/matches/{id}", h.handleGetMatch)
}

type profileRequest struct {
	Kind        string   `json:"kind"`
	DisplayName string   `json:"display_name"`
	Bio         string   `json:"bio"`
	Location    string   `json:"location"`
	Age         *int     `json:"age"`
	Skills      []string `json:"skills"`
	Email       string   `json:"email"`
	Simulated   bool     `json:"simulated"`
	Preview     bool     `json:"preview"`
}

type profileResponse struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	DisplayName string    `json:"display_name"`
	Bio         string    `json:"bio,omitempty"`
	Location    string    `json:"location,omitempty"`
	Age         *int      `json:"age,omitempty"`
	Skills      []string  `json:"skills,omitempty"`
	Email       string    `json:"email,omitempty"`
	Simulated   bool      `json:"simulated"`
	Preview     bool      `json:"preview"`
	CreatedAt   time.Time `json:"created_at"`
}

func toProfileResponse(p Profile) profileResponse {
	return profileResponse{
		ID:          p.ID,
		Kind:        p.Kind,
		DisplayName: p.DisplayName,
		Bio:         p.Bio,
		Location:    p.Location,
		Age:         p.Age,
		Skills:      p.Skills,
		Email:       p.Email,
		Simulated:   p.Simulated,
		Preview:     p.Preview,
		CreatedAt:   p.CreatedAt,
	}
}

func (h *Handler) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "bad_json", err.Error())
		return
	}

	p, err := h.profiles.CreateProfile(r.Context(), Profile{
		Kind:        req.Kind,
		DisplayName: req.DisplayName,
		Bio:         req.Bio,
		Location:    req.Location,
		Age:         req.Age,
		Skills:      req.Skills,
		Email:       req.Email,
		Simulated:   req.Simulated,
		Preview:     req.Preview,
	})
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, toProfileResponse(p))
}

func (h *Handler) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.profiles.GetProfile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, toProfileResponse(p))
}

func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	identity, ok := api.IdentityFrom(r.Context())
	if !ok || identity.ParticipantID != id {
		api.WriteError(w, http.StatusForbidden, "access_denied", "cannot edit another profile")
		return
	}

	var req profileRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "bad_json", err.Error())
		return
	}

	p, err := h.profiles.UpdateProfile(r.Context(), Profile{
		ID:          id,
		Kind:        req.Kind,
		DisplayName: req.DisplayName,
		Bio:         req.Bio,
		Location:    req.Location,
		Age:         req.Age,
		Skills:      req.Skills,
		Email:       req.Email,
		Simulated:   req.Simulated,
		Preview:     req.Preview,
	})
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, toProfileResponse(p))
}

func (h *Handler) handleListAmbassadors(w http.ResponseWriter, r *http.Request) {
	limit := defaultDiscoveryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	list, err := h.profiles.ListAmbassadors(r.Context(), limit)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	out := make([]profileResponse, 0, len(list))
	for _, p := range list {
		out = append(out, toProfileResponse(p))
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"ambassadors": out})
}

type likeRequest struct {
	ReceiverID string `json:"receiver_id"`
}

type matchResponse struct {
	ID           string    `json:"id"`
	BrandID      string    `json:"brand_id"`
	AmbassadorID string    `json:"ambassador_id"`
	CreatedAt    time.Time `json:"created_at"`
}

func toMatchResponse(m Match) matchResponse {
	return matchResponse{ID: m.ID, BrandID: m.BrandID, AmbassadorID: m.AmbassadorID, CreatedAt: m.CreatedAt}
}

func (h *Handler) handleLike(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.IdentityFrom(r.Context())
	if !ok {
		api.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}

	var req likeRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "bad_json", err.Error())
		return
	}

	res, err := h.matches.Like(r.Context(), identity.ParticipantID, req.ReceiverID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	body := map[string]any{"matched": res.Matched}
	if res.Match != nil {
		body["match"] = toMatchResponse(*res.Match)
	}
	api.WriteJSON(w, http.StatusOK, body)
}

func (h *Handler) handleListMatches(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.IdentityFrom(r.Context())
	if !ok {
		api.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}

	list, err := h.matches.ListMatches(r.Context(), identity.ParticipantID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	out := make([]matchResponse, 0, len(list))
	for _, m := range list {
		out = append(out, toMatchResponse(m))
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"matches": out})
}

func (h *Handler) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	identity, ok := api.IdentityFrom(r.Context())
	if !ok {
		api.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}

	m, err := h.matches.GetMatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if !m.Has(identity.ParticipantID) {
		// Indistinguishable from a missing match.
		api.WriteError(w, http.StatusNotFound, "not_found", "match not found")
		return
	}
	api.WriteJSON(w, http.StatusOK, toMatchResponse(m))
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrProfileNotFound), errors.Is(err, ErrMatchNotFound):
		api.WriteError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, ErrSelfLike), errors.Is(err, ErrKindMismatch), errors.Is(err, ErrInvalidProfile):
		api.WriteError(w, http.StatusUnprocessableEntity, "invalid", err.Error())
	default:
		h.log.Error("registry.api.fail", "err", err)
		api.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
