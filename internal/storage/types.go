package storage

import "time"

// Comp is a recorded complimentary or discounted item.
type Comp struct {
	ID             string    `json:"id"`
	Waiter         string    `json:"waiter"`
	Reason         string    `json:"reason"`
	AmountCents    int64     `json:"amount_cents"`
	Note           string    `json:"note,omitempty"`
	IssuedBy       string    `json:"issued_by"`
	CreatedAt      time.Time `json:"created_at"`
	OperationalDay string    `json:"operational_day"`
	Turn           string    `json:"turn"`
}

// DayTotals aggregates the comps of one operational day. Breakdown maps
// are keyed by waiter, reason and turn and hold amounts in cents.
type DayTotals struct {
	Day        string           `json:"day"`
	Count      int64            `json:"count"`
	TotalCents int64            `json:"total_cents"`
	ByWaiter   map[string]int64 `json:"by_waiter"`
	ByReason   map[string]int64 `json:"by_reason"`
	ByTurn     map[string]int64 `json:"by_turn"`
}

// AuthSession is an issued session token record.
type AuthSession struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
