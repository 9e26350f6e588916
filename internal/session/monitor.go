// Package session expires idle manager sessions.
//
// A Monitor watches one authenticated session. After Timeout-WarningTime
// without activity it shows a warning with a countdown; if the user does
// not extend the session before the countdown ends, the monitor signs the
// session out. Once the warning is visible, ambient activity no longer
// cancels it: only ExtendSession or ResetTimeout do.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/comptrack/internal/clock"
	"github.com/goodtune/comptrack/internal/metrics"
	"github.com/goodtune/comptrack/internal/notice"
	"github.com/rs/zerolog"
)

const (
	// DefaultTimeout is the inactivity period before a forced sign-out.
	DefaultTimeout = 30 * time.Minute

	// DefaultWarningTime is how long before the timeout the warning appears.
	DefaultWarningTime = 5 * time.Minute

	// DefaultTickInterval is the countdown resolution.
	DefaultTickInterval = time.Second

	// DefaultSignOutTimeout bounds a forced sign-out call.
	DefaultSignOutTimeout = 10 * time.Second
)

// State is the monitor lifecycle state.
type State int

const (
	StateIdle State = iota
	StateActive
	StateWarning
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateWarning:
		return "warning"
	case StateExpired:
		return "expired"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// User is the authenticated principal of a session.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Authenticator is the external authentication collaborator.
type Authenticator interface {
	// CurrentUser returns the signed-in user, if any.
	CurrentUser(ctx context.Context) (*User, bool)
	// SignOut ends the session. Retrying is the implementation's concern.
	SignOut(ctx context.Context) error
}

// Config holds monitor configuration.
type Config struct {
	Timeout        time.Duration
	WarningTime    time.Duration
	ActivityEvents []EventKind
	TickInterval   time.Duration
	SignOutTimeout time.Duration
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:        DefaultTimeout,
		WarningTime:    DefaultWarningTime,
		ActivityEvents: DefaultActivityEvents(),
		TickInterval:   DefaultTickInterval,
		SignOutTimeout: DefaultSignOutTimeout,
	}
}

// Validate checks the timing parameters.
func (c Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.WarningTime <= 0 || c.WarningTime >= c.Timeout {
		return fmt.Errorf("warning time must be in (0, %s), got %s", c.Timeout, c.WarningTime)
	}
	if c.TickInterval < 0 || c.SignOutTimeout < 0 {
		return errors.New("tick interval and sign-out timeout cannot be negative")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.ActivityEvents == nil {
		c.ActivityEvents = DefaultActivityEvents()
	}
	if c.TickInterval == 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.SignOutTimeout == 0 {
		c.SignOutTimeout = DefaultSignOutTimeout
	}
	return c
}

// Deps are the per-session collaborators of a Monitor.
type Deps struct {
	Auth    Authenticator
	Source  ActivitySource
	Notices notice.Sink
	Clock   clock.Clock
}

// Snapshot is a point-in-time view of a monitor.
type Snapshot struct {
	State          State     `json:"state"`
	UserID         string    `json:"user_id,omitempty"`
	WarningVisible bool      `json:"warning_visible"`
	RemainingMS    int64     `json:"remaining_ms"`
	LastActivity   time.Time `json:"last_activity"`
}

// Monitor is the inactivity state machine of one session.
type Monitor struct {
	cfg     Config
	events  map[EventKind]struct{}
	auth    Authenticator
	source  ActivitySource
	notices notice.Sink
	clock   clock.Clock
	logger  zerolog.Logger

	mu             sync.Mutex
	ctx            context.Context
	state          State
	user           *User
	lastActivity   time.Time
	warningVisible bool
	remaining      time.Duration
	deadline       time.Time
	gen            uint64
	warnTimer      clock.Timer
	tickTimer      clock.Timer
	unsubscribe    func()
}

// NewMonitor creates an idle monitor. Call Start once the session is
// authenticated.
func NewMonitor(cfg Config, deps Deps, logger zerolog.Logger) (*Monitor, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session monitor config: %w", err)
	}

	events := make(map[EventKind]struct{}, len(cfg.ActivityEvents))
	for _, k := range cfg.ActivityEvents {
		events[k] = struct{}{}
	}

	if deps.Notices == nil {
		deps.Notices = notice.Discard
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}

	return &Monitor{
		cfg:     cfg,
		events:  events,
		auth:    deps.Auth,
		source:  deps.Source,
		notices: deps.Notices,
		clock:   deps.Clock,
		logger:  logger.With().Str("component", "session-monitor").Logger(),
		ctx:     context.Background(),
	}, nil
}

// Start begins monitoring. Without an authenticated user the monitor stays
// idle, arms no timers and returns false.
func (m *Monitor) Start(ctx context.Context) bool {
	if m.auth == nil {
		m.logger.Warn().Msg("No authentication context, inactivity monitor disabled")
		return false
	}

	user, ok := m.auth.CurrentUser(ctx)
	if !ok || user == nil {
		m.logger.Warn().Msg("No authenticated user, inactivity monitor disabled")
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateIdle {
		return true
	}

	m.ctx = context.WithoutCancel(ctx)
	m.user = user
	if m.source != nil {
		m.unsubscribe = m.source.Subscribe(m.handleActivity)
	}
	m.enterActiveLocked(m.clock.Now())
	metrics.SessionsOpen.Inc()

	m.logger.Info().
		Str("user_id", user.ID).
		Dur("timeout", m.cfg.Timeout).
		Dur("warning_time", m.cfg.WarningTime).
		Msg("Inactivity monitor started")

	return true
}

// Stop tears the session down: every timer is cancelled and counters are
// reset. No sign-out is issued.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.state == StateIdle {
		m.mu.Unlock()
		return
	}
	userID := m.user.ID
	m.resetLocked()
	m.mu.Unlock()

	m.logger.Info().Str("user_id", userID).Msg("Inactivity monitor stopped")
}

// ExtendSession acknowledges the warning and restarts the inactivity
// period. It returns false if the monitor is idle.
func (m *Monitor) ExtendSession() bool {
	wasWarning, ok := m.restart()
	if !ok {
		return false
	}

	if wasWarning {
		metrics.SessionExtensions.Inc()
	}
	m.notices.Notify(notice.Notice{
		Level:   notice.LevelSuccess,
		Title:   "Session extended",
		Message: "Your session was extended.",
		At:      m.clock.Now(),
	})
	return true
}

// ResetTimeout restarts the inactivity period without notifying the user.
// It returns false if the monitor is idle.
func (m *Monitor) ResetTimeout() bool {
	_, ok := m.restart()
	return ok
}

func (m *Monitor) restart() (wasWarning bool, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateActive, StateWarning:
		wasWarning = m.state == StateWarning
		m.enterActiveLocked(m.clock.Now())
		m.logger.Debug().
			Str("user_id", m.user.ID).
			Bool("from_warning", wasWarning).
			Msg("Inactivity timer restarted")
		return wasWarning, true
	default:
		return false, false
	}
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsWarningVisible reports whether the expiry warning is showing.
func (m *Monitor) IsWarningVisible() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.warningVisible
}

// RemainingTime returns the countdown value while the warning is showing,
// and zero otherwise.
func (m *Monitor) RemainingTime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remaining
}

// Snapshot returns the current monitor state.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		State:          m.state,
		WarningVisible: m.warningVisible,
		RemainingMS:    m.remaining.Milliseconds(),
		LastActivity:   m.lastActivity,
	}
	if m.user != nil {
		s.UserID = m.user.ID
	}
	return s
}

func (m *Monitor) handleActivity(ev Event) {
	if _, ok := m.events[ev.Kind]; !ok {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateActive:
		m.cancelTimersLocked()
		m.lastActivity = m.clock.Now()
		m.armWarningLocked()
	case StateWarning:
		m.logger.Debug().
			Str("kind", string(ev.Kind)).
			Msg("Activity ignored while expiry warning is visible")
	}
}

func (m *Monitor) onWarningDue(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateActive {
		m.mu.Unlock()
		return
	}

	m.cancelTimersLocked()
	now := m.clock.Now()
	m.state = StateWarning
	m.warningVisible = true
	m.remaining = m.cfg.WarningTime
	m.deadline = now.Add(m.cfg.WarningTime)
	m.armTickLocked(now)
	userID := m.user.ID
	m.mu.Unlock()

	metrics.SessionWarnings.Inc()
	m.logger.Info().
		Str("user_id", userID).
		Dur("remaining", m.cfg.WarningTime).
		Msg("Session about to expire")

	m.notices.Notify(notice.Notice{
		Level:   notice.LevelWarning,
		Title:   "Session about to expire",
		Message: fmt.Sprintf("Your session will end in %s due to inactivity.", m.cfg.WarningTime),
		At:      now,
	})
}

func (m *Monitor) onTick(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateWarning {
		m.mu.Unlock()
		return
	}

	now := m.clock.Now()
	if remaining := m.deadline.Sub(now); remaining > 0 {
		m.remaining = remaining
		m.armTickLocked(now)
		m.mu.Unlock()
		return
	}

	m.state = StateExpired
	m.remaining = 0
	user := *m.user
	ctx := m.ctx
	m.resetLocked()
	m.mu.Unlock()

	m.expire(ctx, user, now)
}

// expire runs after the monitor is already idle, so a slow or failing
// sign-out never holds up the state machine.
func (m *Monitor) expire(ctx context.Context, user User, now time.Time) {
	metrics.SessionExpirations.Inc()
	m.logger.Info().Str("user_id", user.ID).Msg("Session expired due to inactivity")

	m.notices.Notify(notice.Notice{
		Level:   notice.LevelWarning,
		Title:   "Session expired",
		Message: "You were signed out due to inactivity.",
		At:      now,
	})

	ctx, cancel := context.WithTimeout(ctx, m.cfg.SignOutTimeout)
	defer cancel()

	if err := m.auth.SignOut(ctx); err != nil {
		metrics.SignOutFailures.Inc()
		m.logger.Warn().Err(err).Str("user_id", user.ID).Msg("Forced sign-out failed")
		m.notices.Notify(notice.Notice{
			Level:   notice.LevelError,
			Title:   "Sign-out failed",
			Message: "The session could not be closed cleanly. Please sign in again.",
			At:      m.clock.Now(),
		})
	}
}

// enterActiveLocked cancels outstanding timers and starts a fresh
// inactivity period. Must be called with m.mu held.
func (m *Monitor) enterActiveLocked(now time.Time) {
	m.cancelTimersLocked()
	m.state = StateActive
	m.lastActivity = now
	m.warningVisible = false
	m.remaining = 0
	m.deadline = time.Time{}
	m.armWarningLocked()
}

func (m *Monitor) armWarningLocked() {
	gen := m.gen
	m.warnTimer = m.clock.AfterFunc(m.cfg.Timeout-m.cfg.WarningTime, func() {
		m.onWarningDue(gen)
	})
}

func (m *Monitor) armTickLocked(now time.Time) {
	wait := m.cfg.TickInterval
	if left := m.deadline.Sub(now); left < wait {
		wait = left
	}
	gen := m.gen
	m.tickTimer = m.clock.AfterFunc(wait, func() {
		m.onTick(gen)
	})
}

// cancelTimersLocked stops every armed timer and invalidates callbacks
// that already started running.
func (m *Monitor) cancelTimersLocked() {
	m.gen++
	if m.warnTimer != nil {
		m.warnTimer.Stop()
		m.warnTimer = nil
	}
	if m.tickTimer != nil {
		m.tickTimer.Stop()
		m.tickTimer = nil
	}
}

// resetLocked returns the monitor to idle. Must be called with m.mu held.
func (m *Monitor) resetLocked() {
	m.cancelTimersLocked()
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
	if m.state != StateIdle {
		metrics.SessionsOpen.Dec()
	}
	m.state = StateIdle
	m.user = nil
	m.lastActivity = time.Time{}
	m.warningVisible = false
	m.remaining = 0
	m.deadline = time.Time{}
}
