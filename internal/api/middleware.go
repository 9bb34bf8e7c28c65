package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/crucible-sh/crucible/internal/sandbox"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	userKey      contextKey = "user"
)

// authMiddleware checks the service API key and resolves the acting
// principal. Identity headers come from the gateway in front of us,
// which has already authenticated the end user.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		if path == "/healthz" || path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		if s.cfg.APIKey != "" {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				writeUnauthorizedError(w, "missing authorization header")
				return
			}
			token := strings.TrimPrefix(auth, "Bearer ")
			if token == auth || token != s.cfg.APIKey {
				writeUnauthorizedError(w, "invalid api key")
				return
			}
		}

		user := sandbox.User{
			ID:    r.Header.Get("X-User-ID"),
			Email: r.Header.Get("X-User-Email"),
		}
		if user.ID == "" {
			writeUnauthorizedError(w, "missing X-User-ID header")
			return
		}

		ctx := context.WithValue(r.Context(), userKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()[:8]
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// userFromContext returns the principal resolved by authMiddleware.
func userFromContext(ctx context.Context) sandbox.User {
	user, _ := ctx.Value(userKey).(sandbox.User)
	return user
}
