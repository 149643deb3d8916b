package identity

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

type contextKey int

const (
	identityKey contextKey = iota
	tokenKey
)

func WithIdentity(ctx context.Context, id Identity, token string) context.Context {
	ctx = context.WithValue(ctx, identityKey, id)
	return context.WithValue(ctx, tokenKey, token)
}

// FromContext extracts the identity placed on the request by Middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// TokenFromContext extracts the session token the request was authenticated with.
func TokenFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tokenKey).(string); ok {
		return v
	}
	return ""
}

// TokenFromRequest reads the session token from the Authorization header, or
// from the token query parameter since browsers cannot set headers on
// WebSocket upgrades.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

// Middleware rejects requests without a valid session token and injects the
// caller's identity into the request context.
func Middleware(service *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				http.Error(w, "missing session token", http.StatusUnauthorized)
				return
			}

			id, err := service.Resolve(r.Context(), token)
			if err != nil {
				if errors.Is(err, ErrAuth) {
					http.Error(w, err.Error(), http.StatusUnauthorized)
					return
				}
				slog.Error("error resolving session token", "error", err)
				http.Error(w, "unable to verify session", http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id, token)))
		})
	}
}
