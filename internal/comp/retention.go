package comp

import (
	"context"
	"sync"
	"time"

	"github.com/goodtune/comptrack/internal/clock"
	"github.com/goodtune/comptrack/internal/metrics"
	"github.com/goodtune/comptrack/internal/opday"
	"github.com/goodtune/comptrack/internal/storage"
	"github.com/rs/zerolog"
)

const sweepTimeout = time.Minute

// RetentionScheduler drops ledger days older than the retention window.
// It sweeps once at start and again at every operational-day cutover.
type RetentionScheduler struct {
	store         storage.CompStore
	resolver      *opday.Resolver
	clock         clock.Clock
	retentionDays int
	logger        zerolog.Logger

	mu      sync.Mutex
	timer   clock.Timer
	stopped bool
}

// NewRetentionScheduler creates a scheduler keeping retentionDays days,
// the current one included.
func NewRetentionScheduler(store storage.CompStore, resolver *opday.Resolver, clk clock.Clock, retentionDays int, logger zerolog.Logger) *RetentionScheduler {
	if clk == nil {
		clk = clock.Real{}
	}
	return &RetentionScheduler{
		store:         store,
		resolver:      resolver,
		clock:         clk,
		retentionDays: retentionDays,
		logger:        logger.With().Str("component", "retention-scheduler").Logger(),
	}
}

// Start runs a first sweep and schedules the next one.
func (rs *RetentionScheduler) Start() {
	rs.logger.Info().
		Int("retention_days", rs.retentionDays).
		Msg("Ledger retention scheduler started")

	rs.run()
}

// Stop cancels the pending sweep.
func (rs *RetentionScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.stopped = true
	if rs.timer != nil {
		rs.timer.Stop()
		rs.timer = nil
	}
	rs.logger.Info().Msg("Ledger retention scheduler stopped")
}

func (rs *RetentionScheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	if _, err := rs.Sweep(ctx); err != nil {
		rs.logger.Error().Err(err).Msg("Ledger retention sweep failed")
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.stopped {
		return
	}

	_, next := rs.resolver.Bounds(rs.resolver.Current())
	wait := next.Sub(rs.clock.Now())
	rs.timer = rs.clock.AfterFunc(wait, rs.run)

	rs.logger.Debug().
		Time("next_sweep", next).
		Dur("wait_duration", wait).
		Msg("Scheduled next retention sweep")
}

// Sweep removes every day older than the retention window and returns the
// number of days removed. A zero retention keeps everything.
func (rs *RetentionScheduler) Sweep(ctx context.Context) (int, error) {
	if rs.retentionDays <= 0 {
		return 0, nil
	}

	cutoff := rs.resolver.Current().AddDays(-(rs.retentionDays - 1))
	n, err := rs.store.DeleteDaysBefore(ctx, cutoff.String())
	if err != nil {
		return 0, err
	}

	if n > 0 {
		metrics.LedgerDaysPurged.Add(float64(n))
		rs.logger.Info().
			Int("days_deleted", n).
			Str("cutoff_day", cutoff.String()).
			Msg("Old ledger days cleaned up")
	}

	return n, nil
}
