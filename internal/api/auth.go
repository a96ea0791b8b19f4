package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/p-n-ai/pai-progress/internal/platform/apperr"
)

// Headers set by a trusted upstream gateway.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// RoleAdmin grants access to the admin endpoints.
const RoleAdmin = "admin"

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Admin  bool
}

// Authenticator resolves the caller from a bearer token issued by the
// identity provider, or from gateway headers when those are trusted.
type Authenticator struct {
	secret        []byte
	trustedHeader bool
}

// NewAuthenticator creates an Authenticator. An empty secret disables
// bearer tokens.
func NewAuthenticator(secret string, trustedHeader bool) *Authenticator {
	return &Authenticator{secret: []byte(secret), trustedHeader: trustedHeader}
}

// Identify authenticates the request.
func (a *Authenticator) Identify(r *http.Request) (Identity, error) {
	if token, ok := bearerToken(r); ok {
		return a.parseToken(token)
	}
	if a.trustedHeader {
		if userID := strings.TrimSpace(r.Header.Get(HeaderUserID)); userID != "" {
			return Identity{
				UserID: userID,
				Admin:  r.Header.Get(HeaderUserRole) == RoleAdmin,
			}, nil
		}
	}
	return Identity{}, apperr.New(apperr.KindUnauthorized, "authentication required")
}

func (a *Authenticator) parseToken(raw string) (Identity, error) {
	if len(a.secret) == 0 {
		return Identity{}, apperr.New(apperr.KindUnauthorized, "bearer tokens are not accepted")
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}), jwt.WithExpirationRequired())
	if err != nil {
		return Identity{}, apperr.Wrap(apperr.KindUnauthorized, err, "invalid token")
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Identity{}, apperr.New(apperr.KindUnauthorized, "token has no subject")
	}
	role, _ := claims["role"].(string)
	return Identity{UserID: sub, Admin: role == RoleAdmin}, nil
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	return strings.TrimSpace(token), true
}

type identityKey struct{}

func withIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the caller stored by the auth middleware.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
