package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/comptrack/internal/clock"
	"github.com/goodtune/comptrack/internal/notice"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// DefaultMaxSessions bounds the number of concurrently monitored sessions.
const DefaultMaxSessions = 1024

// ErrNoUser is returned when a session is opened without an authenticated user.
var ErrNoUser = errors.New("session: no authenticated user")

// Entry is one monitored session and the collaborators it owns.
type Entry struct {
	ID       string
	User     User
	Monitor  *Monitor
	Activity *Broadcaster
	Inbox    *notice.Inbox
	OpenedAt time.Time
}

// RegistryConfig holds registry configuration.
type RegistryConfig struct {
	Monitor     Config
	MaxSessions int
	InboxSize   int
}

// Registry owns the monitors of all open sessions. Each session has its
// own monitor, activity broadcaster and notice inbox. When the registry is
// full the least recently used session is closed.
type Registry struct {
	cfg      RegistryConfig
	clock    clock.Clock
	notices  notice.Sink
	logger   zerolog.Logger
	sessions *lru.Cache[string, *Entry]
}

// NewRegistry creates a registry. notices receives every session's notices
// in addition to the session's own inbox; it may be nil.
func NewRegistry(cfg RegistryConfig, clk clock.Clock, notices notice.Sink, logger zerolog.Logger) (*Registry, error) {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	cfg.Monitor = cfg.Monitor.withDefaults()
	if err := cfg.Monitor.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session monitor config: %w", err)
	}
	if clk == nil {
		clk = clock.Real{}
	}

	r := &Registry{
		cfg:     cfg,
		clock:   clk,
		notices: notices,
		logger:  logger.With().Str("component", "session-registry").Logger(),
	}

	cache, err := lru.NewWithEvict[string, *Entry](cfg.MaxSessions, r.onEvict)
	if err != nil {
		return nil, fmt.Errorf("create session cache: %w", err)
	}
	r.sessions = cache

	return r, nil
}

func (r *Registry) onEvict(id string, e *Entry) {
	e.Monitor.Stop()
	r.logger.Debug().
		Str("session_id", id).
		Str("user_id", e.User.ID).
		Msg("Session monitor released")
}

// Open starts monitoring session id. Opening an already open session
// returns the existing entry.
func (r *Registry) Open(ctx context.Context, id string, auth Authenticator) (*Entry, error) {
	if e, ok := r.sessions.Get(id); ok {
		return e, nil
	}

	user, ok := auth.CurrentUser(ctx)
	if !ok || user == nil {
		return nil, ErrNoUser
	}

	activity := NewBroadcaster()
	inbox := notice.NewInbox(r.cfg.InboxSize)
	monitor, err := NewMonitor(r.cfg.Monitor, Deps{
		Auth:    auth,
		Source:  activity,
		Notices: notice.Fanout(inbox, r.notices),
		Clock:   r.clock,
	}, r.logger.With().Str("session_id", id).Logger())
	if err != nil {
		return nil, err
	}

	if !monitor.Start(ctx) {
		return nil, ErrNoUser
	}

	e := &Entry{
		ID:       id,
		User:     *user,
		Monitor:  monitor,
		Activity: activity,
		Inbox:    inbox,
		OpenedAt: r.clock.Now(),
	}
	if evicted := r.sessions.Add(id, e); evicted {
		r.logger.Warn().
			Int("max_sessions", r.cfg.MaxSessions).
			Msg("Session limit reached, closed least recently used session")
	}

	r.logger.Info().
		Str("session_id", id).
		Str("user_id", user.ID).
		Msg("Session opened")

	return e, nil
}

// Get returns the entry for an open session. Sessions whose monitor went
// idle (expired) are reported as missing.
func (r *Registry) Get(id string) (*Entry, bool) {
	e, ok := r.sessions.Get(id)
	if !ok {
		return nil, false
	}
	if e.Monitor.State() == StateIdle {
		r.sessions.Remove(id)
		return nil, false
	}
	return e, true
}

// Close stops and forgets session id. It reports whether it was open.
func (r *Registry) Close(id string) bool {
	return r.sessions.Remove(id)
}

// Len returns the number of open sessions. Sessions whose monitor went
// idle are dropped first.
func (r *Registry) Len() int {
	for _, id := range r.sessions.Keys() {
		if e, ok := r.sessions.Peek(id); ok && e.Monitor.State() == StateIdle {
			r.sessions.Remove(id)
		}
	}
	return r.sessions.Len()
}

// CloseAll stops every session.
func (r *Registry) CloseAll() {
	r.sessions.Purge()
}
