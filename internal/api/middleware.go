package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/parlorchat/parlor/internal/auth"
	"github.com/parlorchat/parlor/internal/storage/postgres"
)

type contextKey int

const identityKey contextKey = iota

// identityFrom returns the authenticated caller stored by requireAuth.
// It is only meaningful inside handlers wrapped by that middleware.
func identityFrom(ctx context.Context) auth.Identity {
	id, _ := ctx.Value(identityKey).(auth.Identity)
	return id
}

// bearerToken extracts the credential from the Authorization header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}

// requireAuth verifies the bearer token and stores the caller identity
// in the request context.
func (h *Handler) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing credentials")
			return
		}

		id, err := h.verifier.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
	})
}

// requireAdmin verifies the bearer token and additionally requires the
// admin role.
func (h *Handler) requireAdmin(next http.HandlerFunc) http.Handler {
	return h.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		if identityFrom(r.Context()).Role != postgres.RoleAdmin {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next(w, r)
	})
}
