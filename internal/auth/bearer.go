// Package auth verifies bearer tokens and places the authenticated viewer in
// the request context. Token issuance belongs to the identity provider.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/odyssey-erp/salespulse/internal/actors"
	"github.com/odyssey-erp/salespulse/internal/platform/httpx"
	"github.com/odyssey-erp/salespulse/internal/shared"
)

const issuer = "salespulse"

type viewerClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

// ActorGetter loads the directory record for a token subject.
type ActorGetter interface {
	GetActor(ctx context.Context, id string) (actors.Actor, error)
}

// Verifier validates HS256 tokens carrying sub and role claims.
type Verifier struct {
	secret []byte
	actors ActorGetter
	logger *slog.Logger
}

// NewVerifier constructs a Verifier. When dir is non-nil the subject must
// exist in the directory and its stored role wins over the claim.
func NewVerifier(secret string, dir ActorGetter, logger *slog.Logger) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: secret required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{secret: []byte(secret), actors: dir, logger: logger}, nil
}

// Parse validates token and returns the viewer it names.
func (v *Verifier) Parse(ctx context.Context, token string) (actors.Actor, error) {
	claims := &viewerClaims{}
	parsed, err := jwtlib.ParseWithClaims(token, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return actors.Actor{}, fmt.Errorf("invalid or expired token: %w", httpx.ErrUnauthorized)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return actors.Actor{}, fmt.Errorf("invalid token subject: %w", httpx.ErrUnauthorized)
	}
	role, err := actors.ParseRole(claims.Role)
	if err != nil {
		return actors.Actor{}, fmt.Errorf("invalid token role %q: %w", claims.Role, httpx.ErrUnauthorized)
	}

	viewer := actors.Actor{ID: sub, Role: role}
	if v.actors == nil {
		return viewer, nil
	}
	stored, err := v.actors.GetActor(ctx, sub)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return actors.Actor{}, fmt.Errorf("unknown subject %q: %w", sub, httpx.ErrUnauthorized)
	case err != nil:
		return actors.Actor{}, shared.Transient("auth: load actor", err)
	}
	if stored.Role != role {
		v.logger.Warn("token role differs from directory",
			slog.String("subject", sub),
			slog.String("claim", string(role)),
			slog.String("directory", string(stored.Role)))
	}
	return stored, nil
}

// Sign issues a token for viewer. Used by tests and the local CLI.
func (v *Verifier) Sign(viewer actors.Actor, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := viewerClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   viewer.ID,
			Issuer:    issuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
		Role: string(viewer.Role),
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(v.secret)
}

// Middleware rejects requests without a valid bearer token and stores the
// viewer with actors.ContextWithViewer.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			httpx.RespondError(w, fmt.Errorf("missing bearer token: %w", httpx.ErrUnauthorized))
			return
		}
		viewer, err := v.Parse(r.Context(), strings.TrimSpace(token))
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(actors.ContextWithViewer(r.Context(), viewer)))
	})
}

// RateLimitKey keys httprate buckets by viewer, falling back to the client IP.
func RateLimitKey(r *http.Request) (string, error) {
	if viewer, ok := actors.ViewerFromContext(r.Context()); ok && viewer.ID != "" {
		return "viewer:" + viewer.ID, nil
	}
	return "ip:" + r.RemoteAddr, nil
}
