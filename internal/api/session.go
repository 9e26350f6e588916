package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/goodtune/comptrack/internal/auth"
	"github.com/goodtune/comptrack/internal/clock"
	"github.com/goodtune/comptrack/internal/session"
	"github.com/rs/zerolog"
)

// openSessionResponse is returned when a session is opened.
type openSessionResponse struct {
	Token   string           `json:"token"`
	Session *auth.Session    `json:"session"`
	Monitor session.Snapshot `json:"monitor"`
}

type activityRequest struct {
	Kind session.EventKind `json:"kind"`
}

// handleOpenSession turns the identity asserted by the upstream proxy into
// a session token and starts the session's inactivity monitor.
func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.Header.Get(s.config.UserHeader))
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "No authenticated user")
		return
	}
	user := session.User{
		ID:   userID,
		Name: strings.TrimSpace(r.Header.Get(s.config.NameHeader)),
	}

	ctx := r.Context()
	token, sess, err := s.deps.Auth.Issue(ctx, user)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", user.ID).Msg("Failed to issue session")
		writeError(w, http.StatusInternalServerError, "Failed to open session")
		return
	}

	// A monitor-driven sign-out revokes the token; the registry then drops
	// the idle entry on its next lookup.
	authenticator := auth.NewSessionAuthenticator(s.deps.Auth, sess, nil)

	entry, err := s.deps.Registry.Open(ctx, sess.ID, authenticator)
	if err != nil {
		s.abandonSession(ctx, sess.ID)
		if errors.Is(err, session.ErrNoUser) {
			writeError(w, http.StatusUnauthorized, "No authenticated user")
			return
		}
		s.logger.Error().Err(err).Str("session_id", sess.ID).Msg("Failed to start session monitor")
		writeError(w, http.StatusInternalServerError, "Failed to open session")
		return
	}

	writeJSON(w, http.StatusCreated, openSessionResponse{
		Token:   token,
		Session: sess,
		Monitor: entry.Monitor.Snapshot(),
	})
}

// abandonSession revokes a session whose monitor could not be started.
func (s *Server) abandonSession(ctx context.Context, id string) {
	if err := s.deps.Auth.Revoke(ctx, id); err != nil {
		s.logger.Error().Err(err).Str("session_id", id).Msg("Failed to revoke session")
	}
}

// sessionHandler serves the authenticated session routes.
type sessionHandler struct {
	provider *auth.Provider
	registry *session.Registry
	clock    clock.Clock
	push     time.Duration
	logger   zerolog.Logger
}

// Get returns the monitor state.
func (h *sessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	entry := entryFromContext(r.Context())
	writeJSON(w, http.StatusOK, entry.Monitor.Snapshot())
}

// Close signs the session out at the user's request.
func (h *sessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := sessionFromContext(ctx)

	h.registry.Close(sess.ID)
	if err := h.provider.Revoke(ctx, sess.ID); err != nil {
		h.logger.Error().Err(err).Str("session_id", sess.ID).Msg("Failed to revoke session")
		writeError(w, http.StatusInternalServerError, "Failed to close session")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Activity records a user interaction reported by the client.
func (h *sessionHandler) Activity(w http.ResponseWriter, r *http.Request) {
	entry := entryFromContext(r.Context())

	var req activityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Kind == "" {
		writeError(w, http.StatusBadRequest, "Field kind is required")
		return
	}

	entry.Activity.Publish(session.Event{Kind: req.Kind, At: h.clock.Now()})
	writeJSON(w, http.StatusOK, entry.Monitor.Snapshot())
}

// Extend acknowledges the expiry warning.
func (h *sessionHandler) Extend(w http.ResponseWriter, r *http.Request) {
	entry := entryFromContext(r.Context())

	if !entry.Monitor.ExtendSession() {
		writeError(w, http.StatusUnauthorized, "Session expired")
		return
	}
	writeJSON(w, http.StatusOK, entry.Monitor.Snapshot())
}

// Reset restarts the inactivity period without a notice.
func (h *sessionHandler) Reset(w http.ResponseWriter, r *http.Request) {
	entry := entryFromContext(r.Context())

	if !entry.Monitor.ResetTimeout() {
		writeError(w, http.StatusUnauthorized, "Session expired")
		return
	}
	writeJSON(w, http.StatusOK, entry.Monitor.Snapshot())
}

// Notices drains the session's pending notices.
func (h *sessionHandler) Notices(w http.ResponseWriter, r *http.Request) {
	entry := entryFromContext(r.Context())
	notices := entry.Inbox.Drain()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"notices": notices,
		"count":   len(notices),
	})
}
