// Package auth issues and revokes manager session tokens.
//
// Identity itself comes from the upstream provider; this package turns an
// asserted identity into a signed session token backed by a revocable
// session record.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goodtune/comptrack/internal/clock"
	"github.com/goodtune/comptrack/internal/session"
	"github.com/goodtune/comptrack/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultTokenExpiration is the default lifetime of a session token.
	DefaultTokenExpiration = 12 * time.Hour

	issuer = "comptrack"
)

var (
	// ErrInvalidToken is returned when a token is malformed, forged or expired.
	ErrInvalidToken = errors.New("invalid token")

	// ErrSessionRevoked is returned when a valid token's session was ended.
	ErrSessionRevoked = errors.New("session revoked")
)

// Claims represents the JWT claims of a session token. Subject carries the
// user ID and ID the session ID.
type Claims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// Session is an issued manager session.
type Session struct {
	ID        string       `json:"id"`
	User      session.User `json:"user"`
	CreatedAt time.Time    `json:"created_at"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// Provider issues, verifies and revokes session tokens.
type Provider struct {
	store           storage.SessionStore
	jwtSecret       []byte
	tokenExpiration time.Duration
	clock           clock.Clock
	logger          zerolog.Logger
}

// NewProvider creates a token provider.
func NewProvider(store storage.SessionStore, jwtSecret string, tokenExpiration time.Duration, clk clock.Clock, logger zerolog.Logger) *Provider {
	if tokenExpiration == 0 {
		tokenExpiration = DefaultTokenExpiration
	}
	if clk == nil {
		clk = clock.Real{}
	}

	return &Provider{
		store:           store,
		jwtSecret:       []byte(jwtSecret),
		tokenExpiration: tokenExpiration,
		clock:           clk,
		logger:          logger.With().Str("component", "auth").Logger(),
	}
}

// Issue creates a session for user and returns its signed token.
func (p *Provider) Issue(ctx context.Context, user session.User) (string, *Session, error) {
	if user.ID == "" {
		return "", nil, fmt.Errorf("issue session: empty user ID")
	}

	now := p.clock.Now()
	s := &Session{
		ID:        uuid.NewString(),
		User:      user,
		CreatedAt: now,
		ExpiresAt: now.Add(p.tokenExpiration),
	}

	if err := p.store.Create(ctx, storage.AuthSession{
		ID:        s.ID,
		UserID:    user.ID,
		UserName:  user.Name,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
	}, p.tokenExpiration); err != nil {
		return "", nil, fmt.Errorf("store session: %w", err)
	}

	claims := &Claims{
		Name: user.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        s.ID,
			Subject:   user.ID,
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.jwtSecret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}

	p.logger.Info().
		Str("session_id", s.ID).
		Str("user_id", user.ID).
		Time("expires_at", s.ExpiresAt).
		Msg("Session issued")

	return token, s, nil
}

// Verify validates token and checks that its session is still live.
func (p *Provider) Verify(ctx context.Context, tokenString string) (*Session, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return p.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(p.clock.Now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.ID == "" || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	record, err := p.store.Get(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrSessionRevoked
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if record.UserID != claims.Subject {
		return nil, ErrInvalidToken
	}

	return &Session{
		ID:        record.ID,
		User:      session.User{ID: record.UserID, Name: record.UserName},
		CreatedAt: record.CreatedAt,
		ExpiresAt: record.ExpiresAt,
	}, nil
}

// Revoke ends a session. Revoking an unknown session is not an error.
func (p *Provider) Revoke(ctx context.Context, sessionID string) error {
	if err := p.store.Delete(ctx, sessionID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("revoke session %s: %w", sessionID, err)
	}

	p.logger.Info().Str("session_id", sessionID).Msg("Session revoked")
	return nil
}

// SessionAuthenticator binds one issued session to the inactivity
// monitor. Signing out revokes the session token.
type SessionAuthenticator struct {
	provider  *Provider
	session   *Session
	onSignOut func(sessionID string)
}

// NewSessionAuthenticator creates an authenticator for s. onSignOut, if
// set, runs after the token is revoked.
func NewSessionAuthenticator(p *Provider, s *Session, onSignOut func(sessionID string)) *SessionAuthenticator {
	return &SessionAuthenticator{provider: p, session: s, onSignOut: onSignOut}
}

// CurrentUser implements session.Authenticator.
func (a *SessionAuthenticator) CurrentUser(ctx context.Context) (*session.User, bool) {
	if a.session == nil || a.session.User.ID == "" {
		return nil, false
	}
	u := a.session.User
	return &u, true
}

// SignOut implements session.Authenticator.
func (a *SessionAuthenticator) SignOut(ctx context.Context) error {
	if err := a.provider.Revoke(ctx, a.session.ID); err != nil {
		return err
	}
	if a.onSignOut != nil {
		a.onSignOut(a.session.ID)
	}
	return nil
}
