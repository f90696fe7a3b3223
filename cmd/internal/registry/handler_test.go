package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"brandlink/cmd/internal/api"
	"brandlink/cmd/internal/auth"
)

type registryFixture struct {
	store    *MemoryStore
	verifier *auth.StaticVerifier
	server   *httptest.Server

	brand Profile
	amb   Profile
}

func newRegistryFixture(t *testing.T) *registryFixture {
	t.Helper()

	store := NewMemoryStore()
	brand := mustCreate(t, store, KindBrand, "acme")
	amb := mustCreate(t, store, KindAmbassador, "mira")

	verifier := auth.NewStaticVerifier()
	verifier.Add("brand-token", auth.Identity{ParticipantID: brand.ID})
	verifier.Add("amb-token", auth.Identity{ParticipantID: amb.ID})

	r := chi.NewRouter()
	r.Route("/api/v1", func(v1 chi.Router) {
		v1.Use(api.RequireAuth(verifier))
		NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), store, store).Routes(v1)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &registryFixture{store: store, verifier: verifier, server: srv, brand: brand, amb: amb}
}

func (f *registryFixture) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, f.server.URL+"/api/v1"+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func TestHandler_RequiresAuth(t *testing.T) {
	t.Parallel()

	f := newRegistryFixture(t)

	resp := f.do(t, http.MethodGet, "/matches", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/matches", "bogus", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_CreateAndGetProfile(t *testing.T) {
	t.Parallel()

	f := newRegistryFixture(t)

	resp := f.do(t, http.MethodPost, "/profiles", "brand-token", map[string]any{
		"kind":         KindAmbassador,
		"display_name": "new amb",
		"skills":       []string{"video"},
		"simulated":    true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		ID        string `json:"id"`
		Kind      string `json:"kind"`
		Simulated bool   `json:"simulated"`
	}
	decodeBody(t, resp, &created)
	require.NotEmpty(t, created.ID)
	require.Equal(t, KindAmbassador, created.Kind)
	require.True(t, created.Simulated)

	resp = f.do(t, http.MethodGet, "/profiles/"+created.ID, "brand-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Structurally invalid input surfaces as 422.
	resp = f.do(t, http.MethodPost, "/profiles", "brand-token", map[string]any{"kind": "agency", "display_name": "x"})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// Unknown fields are rejected outright.
	resp = f.do(t, http.MethodPost, "/profiles", "brand-token", map[string]any{"kind": KindBrand, "display_name": "x", "admin": true})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_UpdateProfile_SelfOnly(t *testing.T) {
	t.Parallel()

	f := newRegistryFixture(t)

	body := map[string]any{"kind": KindAmbassador, "display_name": "mira updated"}

	resp := f.do(t, http.MethodPut, "/profiles/"+f.amb.ID, "brand-token", body)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(t, http.MethodPut, "/profiles/"+f.amb.ID, "amb-token", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var updated struct {
		DisplayName string `json:"display_name"`
	}
	decodeBody(t, resp, &updated)
	require.Equal(t, "mira updated", updated.DisplayName)
}

func TestHandler_LikeFlowFormsMatch(t *testing.T) {
	t.Parallel()

	f := newRegistryFixture(t)

	resp := f.do(t, http.MethodPost, "/likes", "brand-token", map[string]any{"receiver_id": f.amb.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var first struct {
		Matched bool `json:"matched"`
	}
	decodeBody(t, resp, &first)
	require.False(t, first.Matched)

	resp = f.do(t, http.MethodPost, "/likes", "amb-token", map[string]any{"receiver_id": f.brand.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var second struct {
		Matched bool `json:"matched"`
		Match   struct {
			ID           string `json:"id"`
			BrandID      string `json:"brand_id"`
			AmbassadorID string `json:"ambassador_id"`
		} `json:"match"`
	}
	decodeBody(t, resp, &second)
	require.True(t, second.Matched)
	require.Equal(t, f.brand.ID, second.Match.BrandID)
	require.Equal(t, f.amb.ID, second.Match.AmbassadorID)

	resp = f.do(t, http.MethodGet, "/matches", "brand-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed struct {
		Matches []struct {
			ID string `json:"id"`
		} `json:"matches"`
	}
	decodeBody(t, resp, &listed)
	require.Len(t, listed.Matches, 1)
	require.Equal(t, second.Match.ID, listed.Matches[0].ID)

	// Self-like is a 422, not a server error.
	resp = f.do(t, http.MethodPost, "/likes", "brand-token", map[string]any{"receiver_id": f.brand.ID})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestHandler_GetMatch_NonMemberSees404(t *testing.T) {
	t.Parallel()

	f := newRegistryFixture(t)

	_, err := f.store.Like(context.Background(), f.brand.ID, f.amb.ID)
	require.NoError(t, err)
	res, err := f.store.Like(context.Background(), f.amb.ID, f.brand.ID)
	require.NoError(t, err)

	outsider := mustCreate(t, f.store, KindBrand, "globex")
	f.verifier.Add("outsider-token", auth.Identity{ParticipantID: outsider.ID})

	resp := f.do(t, http.MethodGet, "/matches/"+res.Match.ID, "outsider-token", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/matches/"+res.Match.ID, "brand-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
