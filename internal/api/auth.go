package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"vodgate/internal/models"
)

type contextKey string

const (
	identityContextKey contextKey = "authenticatedIdentity"

	roleAdmin    = "admin"
	roleUploader = "uploader"
)

// ContextWithIdentity stores the authenticated caller in the provided context.
func ContextWithIdentity(ctx context.Context, identity models.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the authenticated caller from context if present.
func IdentityFromContext(ctx context.Context) (models.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(models.Identity)
	return identity, ok
}

// ExtractToken pulls the bearer token from the Authorization header.
func ExtractToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// AuthenticateRequest validates the bearer token on the request and returns
// the caller identity.
func (h *Handler) AuthenticateRequest(r *http.Request) (models.Identity, error) {
	token := ExtractToken(r)
	if token == "" {
		return models.Identity{}, fmt.Errorf("missing bearer token")
	}
	identity, ok, err := h.Tokens.Authenticate(r.Context(), token)
	if err != nil {
		return models.Identity{}, fmt.Errorf("validate token: %w", err)
	}
	if !ok {
		return models.Identity{}, fmt.Errorf("invalid or expired token")
	}
	return identity, nil
}

func (h *Handler) requireIdentity(w http.ResponseWriter, r *http.Request) (models.Identity, bool) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, fmt.Errorf("authentication required"))
		return models.Identity{}, false
	}
	return identity, true
}

func (h *Handler) requireRole(w http.ResponseWriter, r *http.Request, roles ...string) (models.Identity, bool) {
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return models.Identity{}, false
	}
	if len(roles) == 0 {
		return identity, true
	}
	for _, required := range roles {
		if identity.HasRole(required) {
			return identity, true
		}
	}
	WriteError(w, http.StatusForbidden, fmt.Errorf("forbidden"))
	return models.Identity{}, false
}
