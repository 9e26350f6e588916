package api

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goodtune/comptrack/internal/auth"
	"github.com/goodtune/comptrack/internal/metrics"
	"github.com/goodtune/comptrack/internal/session"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	contextKeySession contextKey = "session"
	contextKeyEntry   contextKey = "entry"
)

// sessionFromContext returns the authenticated session of the request.
func sessionFromContext(ctx context.Context) *auth.Session {
	s, _ := ctx.Value(contextKeySession).(*auth.Session)
	return s
}

// entryFromContext returns the monitored session entry of the request.
func entryFromContext(ctx context.Context) *session.Entry {
	e, _ := ctx.Value(contextKeyEntry).(*session.Entry)
	return e
}

// bearerToken extracts the token from the Authorization header. Browsers
// cannot set headers on websocket upgrades, so websocket requests may pass
// it as the token query parameter instead.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get("token")
	}
	return ""
}

// AuthMiddleware verifies the session token and requires the session's
// inactivity monitor to still be running.
func AuthMiddleware(provider *auth.Provider, registry *session.Registry, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "Missing bearer token")
				return
			}

			s, err := provider.Verify(r.Context(), token)
			if err != nil {
				switch {
				case errors.Is(err, auth.ErrInvalidToken):
					writeError(w, http.StatusUnauthorized, "Invalid token")
				case errors.Is(err, auth.ErrSessionRevoked):
					writeError(w, http.StatusUnauthorized, "Session ended")
				default:
					logger.Error().Err(err).Msg("Failed to verify token")
					writeError(w, http.StatusInternalServerError, "Failed to verify session")
				}
				return
			}

			entry, ok := registry.Get(s.ID)
			if !ok {
				writeError(w, http.StatusUnauthorized, "Session expired")
				return
			}

			ctx := context.WithValue(r.Context(), contextKeySession, s)
			ctx = context.WithValue(ctx, contextKeyEntry, entry)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggingMiddleware logs every request and records request metrics.
func LoggingMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			route := routeTemplate(r)

			metrics.RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(wrapped.statusCode)).Inc()
			metrics.RequestDuration.WithLabelValues(route).Observe(duration.Seconds())

			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Int("status", wrapped.statusCode).
				Dur("duration", duration).
				Msg("API request")
		})
	}
}

// routeTemplate returns the matched route pattern, keeping metric labels bounded.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Hijack lets websocket upgrades pass through the wrapper.
func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}
