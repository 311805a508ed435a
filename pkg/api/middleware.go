package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/benfrankstein/untxt-sub002/internal/logger"
	"github.com/benfrankstein/untxt-sub002/pkg/models"
)

type contextKey string

const identityKey contextKey = "identity"

// Identity is the authenticated caller, placed on the request context by the
// auth middleware.
type Identity struct {
	UserID   string
	Username string
}

// identityFrom returns the authenticated identity from the request context.
// Handlers behind the auth middleware can rely on it being present.
func identityFrom(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey).(Identity)
	return id
}

// authenticate validates the session token on every request and stores the
// caller identity on the context. The local user row is synced on first
// sight; a failing sync is logged, not fatal, since identity lives upstream.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.deps.Auth.FromRequest(r)
		if err != nil {
			writeError(w, r, err)
			return
		}

		if err := s.deps.Store.EnsureUser(r.Context(), &models.User{
			ID:       claims.UserID,
			Username: claims.Username,
		}); err != nil {
			logger.Warn("user row sync failed",
				"user_id", claims.UserID, "error", err)
		}

		ctx := context.WithValue(r.Context(), identityKey, Identity{
			UserID:   claims.UserID,
			Username: claims.Username,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// isHealthPath returns true if the request path is a healthcheck endpoint.
func isHealthPath(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/health/")
}

// requestLogger logs requests through the internal logger.
//
// Request start goes to DEBUG; completion goes to INFO with status and
// duration. Healthcheck requests stay at DEBUG to keep probe noise out of
// the logs.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		}

		if isHealthPath(r.URL.Path) {
			logger.Debug("API request completed", logArgs...)
		} else {
			logger.Info("API request completed", logArgs...)
		}
	})
}
