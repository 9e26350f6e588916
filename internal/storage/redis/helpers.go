package redis

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goodtune/comptrack/internal/storage"
)

const (
	keyPrefix = "comptrack:"
	daysKey   = keyPrefix + "days"
	seqKey    = keyPrefix + "comps:seq"

	dayLayout = "2006-01-02"
)

func compKey(id string) string {
	return keyPrefix + "comp:" + id
}

func dayIndexKey(day string) string {
	return keyPrefix + "comps:day:" + day
}

func dayTotalsKey(day string) string {
	return keyPrefix + "day:" + day + ":totals"
}

func authSessionKey(id string) string {
	return keyPrefix + "auth:session:" + id
}

// dayScore orders days in the days index as YYYYMMDD.
func dayScore(day string) (float64, error) {
	t, err := time.Parse(dayLayout, day)
	if err != nil {
		return 0, fmt.Errorf("invalid day %q: %w", day, err)
	}
	return float64(t.Year()*10000 + int(t.Month())*100 + t.Day()), nil
}

// parseComp converts a Redis hash to Comp
func parseComp(data map[string]string) (*storage.Comp, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	amount, err := strconv.ParseInt(data["amount_cents"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount_cents: %w", err)
	}

	createdAt, err := time.Parse(time.RFC3339Nano, data["created_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	return &storage.Comp{
		ID:             data["id"],
		Waiter:         data["waiter"],
		Reason:         data["reason"],
		AmountCents:    amount,
		Note:           data["note"],
		IssuedBy:       data["issued_by"],
		CreatedAt:      createdAt,
		OperationalDay: data["day"],
		Turn:           data["turn"],
	}, nil
}

// parseDayTotals converts a day totals hash to DayTotals. A missing hash is
// a day without comps.
func parseDayTotals(day string, data map[string]string) (*storage.DayTotals, error) {
	totals := &storage.DayTotals{
		Day:      day,
		ByWaiter: map[string]int64{},
		ByReason: map[string]int64{},
		ByTurn:   map[string]int64{},
	}

	for field, raw := range data {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", field, err)
		}

		switch {
		case field == "count":
			totals.Count = value
		case field == "total_cents":
			totals.TotalCents = value
		case strings.HasPrefix(field, "waiter:"):
			totals.ByWaiter[strings.TrimPrefix(field, "waiter:")] = value
		case strings.HasPrefix(field, "reason:"):
			totals.ByReason[strings.TrimPrefix(field, "reason:")] = value
		case strings.HasPrefix(field, "turn:"):
			totals.ByTurn[strings.TrimPrefix(field, "turn:")] = value
		}
	}

	return totals, nil
}

// parseAuthSession converts a Redis hash to AuthSession
func parseAuthSession(data map[string]string) (*storage.AuthSession, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	createdAt, err := time.Parse(time.RFC3339Nano, data["created_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	expiresAt, err := time.Parse(time.RFC3339Nano, data["expires_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse expires_at: %w", err)
	}

	return &storage.AuthSession{
		ID:        data["id"],
		UserID:    data["user_id"],
		UserName:  data["user_name"],
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}, nil
}
