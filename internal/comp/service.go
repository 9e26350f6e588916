// Package comp records COMP transactions and aggregates them per
// operational day.
package comp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goodtune/comptrack/internal/clock"
	"github.com/goodtune/comptrack/internal/metrics"
	"github.com/goodtune/comptrack/internal/opday"
	"github.com/goodtune/comptrack/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrInvalidComp is returned for comps that fail validation.
var ErrInvalidComp = errors.New("invalid comp")

const (
	maxFieldLength = 120
	maxNoteLength  = 500
)

// NewComp is a comp as submitted by a manager.
type NewComp struct {
	Waiter      string `json:"waiter"`
	Reason      string `json:"reason"`
	AmountCents int64  `json:"amount_cents"`
	Note        string `json:"note,omitempty"`
	IssuedBy    string `json:"-"`
}

// Summary is the closing view of one operational day.
type Summary struct {
	Day        opday.Day        `json:"day"`
	Label      string           `json:"label"`
	Start      time.Time        `json:"start"`
	End        time.Time        `json:"end"`
	Count      int64            `json:"count"`
	TotalCents int64            `json:"total_cents"`
	ByWaiter   map[string]int64 `json:"by_waiter"`
	ByReason   map[string]int64 `json:"by_reason"`
	ByTurn     map[string]int64 `json:"by_turn"`
}

// Service is the COMP ledger.
type Service struct {
	store    storage.CompStore
	resolver *opday.Resolver
	clock    clock.Clock
	logger   zerolog.Logger
}

// NewService creates a ledger backed by store. A nil clock uses the system clock.
func NewService(store storage.CompStore, resolver *opday.Resolver, clk clock.Clock, logger zerolog.Logger) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{
		store:    store,
		resolver: resolver,
		clock:    clk,
		logger:   logger.With().Str("component", "comp").Logger(),
	}
}

// Record validates and stores a comp, stamping it with the current
// operational day and turn.
func (s *Service) Record(ctx context.Context, in NewComp) (*storage.Comp, error) {
	in.Waiter = strings.TrimSpace(in.Waiter)
	in.Reason = strings.ToLower(strings.TrimSpace(in.Reason))
	in.Note = strings.TrimSpace(in.Note)

	if err := validate(in); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	c := storage.Comp{
		ID:             uuid.NewString(),
		Waiter:         in.Waiter,
		Reason:         in.Reason,
		AmountCents:    in.AmountCents,
		Note:           in.Note,
		IssuedBy:       in.IssuedBy,
		CreatedAt:      now.UTC(),
		OperationalDay: s.resolver.DayAt(now).String(),
		Turn:           string(s.resolver.TurnAt(now)),
	}

	if err := s.store.Insert(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to record comp: %w", err)
	}

	// Reasons are free text; per-reason totals live in the day totals.
	metrics.CompsRecorded.WithLabelValues(c.Turn).Inc()
	metrics.CompAmountCents.WithLabelValues(c.Turn).Add(float64(c.AmountCents))

	s.logger.Info().
		Str("comp_id", c.ID).
		Str("waiter", c.Waiter).
		Str("reason", c.Reason).
		Int64("amount_cents", c.AmountCents).
		Str("day", c.OperationalDay).
		Str("turn", c.Turn).
		Str("issued_by", c.IssuedBy).
		Msg("COMP recorded")

	return &c, nil
}

func validate(in NewComp) error {
	switch {
	case in.Waiter == "":
		return fmt.Errorf("%w: waiter is required", ErrInvalidComp)
	case len(in.Waiter) > maxFieldLength:
		return fmt.Errorf("%w: waiter is too long", ErrInvalidComp)
	case in.Reason == "":
		return fmt.Errorf("%w: reason is required", ErrInvalidComp)
	case len(in.Reason) > maxFieldLength:
		return fmt.Errorf("%w: reason is too long", ErrInvalidComp)
	case in.AmountCents <= 0:
		return fmt.Errorf("%w: amount_cents must be positive", ErrInvalidComp)
	case len(in.Note) > maxNoteLength:
		return fmt.Errorf("%w: note is too long", ErrInvalidComp)
	}
	return nil
}

// Get returns a comp by ID.
func (s *Service) Get(ctx context.Context, id string) (*storage.Comp, error) {
	return s.store.Get(ctx, id)
}

// Delete removes a comp and reverses its contribution to the day totals.
func (s *Service) Delete(ctx context.Context, id string) (*storage.Comp, error) {
	c, err := s.store.Delete(ctx, id)
	if err != nil {
		return nil, err
	}

	metrics.CompsDeleted.Inc()
	s.logger.Info().
		Str("comp_id", c.ID).
		Str("day", c.OperationalDay).
		Int64("amount_cents", c.AmountCents).
		Msg("COMP deleted")

	return c, nil
}

// ListDay returns the comps of day in creation order.
func (s *Service) ListDay(ctx context.Context, day opday.Day) ([]storage.Comp, error) {
	return s.store.ListDay(ctx, day.String())
}

// ListDays returns the days that have comps, newest first.
func (s *Service) ListDays(ctx context.Context) ([]opday.Day, error) {
	raw, err := s.store.ListDays(ctx)
	if err != nil {
		return nil, err
	}

	days := make([]opday.Day, 0, len(raw))
	for _, r := range raw {
		d, err := opday.ParseDay(r)
		if err != nil {
			s.logger.Warn().Err(err).Str("day", r).Msg("Skipping malformed day in index")
			continue
		}
		days = append(days, d)
	}
	return days, nil
}

// Summary returns the closing totals of day.
func (s *Service) Summary(ctx context.Context, day opday.Day) (*Summary, error) {
	totals, err := s.store.DayTotals(ctx, day.String())
	if err != nil {
		return nil, fmt.Errorf("failed to load totals for %s: %w", day, err)
	}

	start, end := s.resolver.Bounds(day)
	return &Summary{
		Day:        day,
		Label:      opday.FormatRange(day),
		Start:      start,
		End:        end,
		Count:      totals.Count,
		TotalCents: totals.TotalCents,
		ByWaiter:   totals.ByWaiter,
		ByReason:   totals.ByReason,
		ByTurn:     totals.ByTurn,
	}, nil
}

// Today returns the summary of the current operational day.
func (s *Service) Today(ctx context.Context) (*Summary, error) {
	return s.Summary(ctx, s.resolver.Current())
}
