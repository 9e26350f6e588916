package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// ErrExists is returned when inserting a record whose ID is taken.
var ErrExists = errors.New("storage: record already exists")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Comps() CompStore
	Sessions() SessionStore
}

// CompStore manages COMP records and their per-day aggregates.
//
// Days are operational days in YYYY-MM-DD form. Inserting and deleting a
// comp updates the day totals atomically with the record.
type CompStore interface {
	Insert(ctx context.Context, comp Comp) error
	Get(ctx context.Context, id string) (*Comp, error)
	Delete(ctx context.Context, id string) (*Comp, error)
	ListDay(ctx context.Context, day string) ([]Comp, error)
	ListDays(ctx context.Context) ([]string, error)
	DayTotals(ctx context.Context, day string) (*DayTotals, error)
	DeleteDaysBefore(ctx context.Context, day string) (int, error)
}

// SessionStore manages issued authentication sessions.
type SessionStore interface {
	Create(ctx context.Context, session AuthSession, ttl time.Duration) error
	Get(ctx context.Context, id string) (*AuthSession, error)
	Delete(ctx context.Context, id string) error
}
