package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/salespulse/internal/actors"
	"github.com/odyssey-erp/salespulse/internal/shared"
)

type stubDirectory struct {
	actors map[string]actors.Actor
	err    error
}

func (s stubDirectory) GetActor(ctx context.Context, id string) (actors.Actor, error) {
	if s.err != nil {
		return actors.Actor{}, s.err
	}
	a, ok := s.actors[id]
	if !ok {
		return actors.Actor{}, &shared.NotFoundError{Kind: "actor", ID: id}
	}
	return a, nil
}

func protected(t *testing.T, v *Verifier) (http.Handler, *actors.Actor) {
	t.Helper()
	var seen actors.Actor
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		viewer, ok := actors.ViewerFromContext(r.Context())
		require.True(t, ok)
		seen = viewer
		w.WriteHeader(http.StatusNoContent)
	}))
	return h, &seen
}

func TestMiddlewareAcceptsSignedToken(t *testing.T) {
	v, err := NewVerifier("s3cret", nil, nil)
	require.NoError(t, err)
	token, err := v.Sign(actors.Actor{ID: "s1", Role: actors.RoleSaleAdmin}, time.Hour)
	require.NoError(t, err)

	h, seen := protected(t, v)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "s1", seen.ID)
	assert.Equal(t, actors.RoleSaleAdmin, seen.Role)
}

func TestMiddlewareRejectsBadTokens(t *testing.T) {
	v, _ := NewVerifier("s3cret", nil, nil)
	other, _ := NewVerifier("different", nil, nil)
	foreign, _ := other.Sign(actors.Actor{ID: "s1", Role: actors.RoleSale}, time.Hour)
	expired, _ := v.Sign(actors.Actor{ID: "s1", Role: actors.RoleSale}, -time.Minute)
	badRole, _ := v.Sign(actors.Actor{ID: "s1", Role: "manager"}, time.Hour)
	none := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, jwtlib.MapClaims{"sub": "s1", "role": "admin"})
	unsigned, _ := none.SignedString(jwtlib.UnsafeAllowNoneSignatureType)

	for name, header := range map[string]string{
		"missing":      "",
		"not bearer":   "Basic Zm9vOmJhcg==",
		"wrong secret": "Bearer " + foreign,
		"expired":      "Bearer " + expired,
		"bad role":     "Bearer " + badRole,
		"alg none":     "Bearer " + unsigned,
	} {
		t.Run(name, func(t *testing.T) {
			h, _ := protected(t, v)
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
		})
	}
}

func TestParseUsesDirectoryRecord(t *testing.T) {
	manager := "a1"
	dir := stubDirectory{actors: map[string]actors.Actor{
		"s1": {ID: "s1", Name: "Sam", Role: actors.RoleSale, ManagerID: &manager},
	}}
	v, _ := NewVerifier("s3cret", dir, nil)

	token, _ := v.Sign(actors.Actor{ID: "s1", Role: actors.RoleAdmin}, time.Hour)
	viewer, err := v.Parse(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, actors.RoleSale, viewer.Role, "directory role wins")
	assert.Equal(t, "Sam", viewer.Name)

	ghost, _ := v.Sign(actors.Actor{ID: "ghost", Role: actors.RoleSale}, time.Hour)
	_, err = v.Parse(context.Background(), ghost)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, shared.ErrTransient))
}

func TestParseDirectoryOutageIsTransient(t *testing.T) {
	v, _ := NewVerifier("s3cret", stubDirectory{err: errors.New("pool closed")}, nil)
	token, _ := v.Sign(actors.Actor{ID: "s1", Role: actors.RoleSale}, time.Hour)
	_, err := v.Parse(context.Background(), token)
	assert.ErrorIs(t, err, shared.ErrTransient)
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier("  ", nil, nil)
	assert.Error(t, err)
}

func TestRateLimitKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	key, err := RateLimitKey(req)
	require.NoError(t, err)
	assert.Contains(t, key, "ip:")

	req = req.WithContext(actors.ContextWithViewer(req.Context(), actors.Actor{ID: "s1"}))
	key, _ = RateLimitKey(req)
	assert.Equal(t, "viewer:s1", key)
}
