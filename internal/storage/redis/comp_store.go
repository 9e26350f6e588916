package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/comptrack/internal/storage"
	"github.com/redis/go-redis/v9"
)

type compStore struct {
	client       *redis.Client
	insertScript *redis.Script
	deleteScript *redis.Script
}

// Insert stores a new comp and updates its day totals
func (s *compStore) Insert(ctx context.Context, comp storage.Comp) error {
	score, err := dayScore(comp.OperationalDay)
	if err != nil {
		return err
	}

	keys := []string{
		compKey(comp.ID),
		dayIndexKey(comp.OperationalDay),
		dayTotalsKey(comp.OperationalDay),
		daysKey,
		seqKey,
	}
	args := []interface{}{
		comp.ID,
		comp.Waiter,
		comp.Reason,
		comp.AmountCents,
		comp.Note,
		comp.IssuedBy,
		comp.CreatedAt.Format(time.RFC3339Nano),
		comp.OperationalDay,
		comp.Turn,
		score,
	}

	inserted, err := s.insertScript.Run(ctx, s.client, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("insert comp %s: %w", comp.ID, err)
	}
	if inserted == 0 {
		return storage.ErrExists
	}

	return nil
}

// Get retrieves a comp by ID
func (s *compStore) Get(ctx context.Context, id string) (*storage.Comp, error) {
	data, err := s.client.HGetAll(ctx, compKey(id)).Result()
	if err != nil {
		return nil, err
	}

	return parseComp(data)
}

// Delete removes a comp and reverses its day totals. It returns the
// removed comp.
func (s *compStore) Delete(ctx context.Context, id string) (*storage.Comp, error) {
	comp, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	keys := []string{
		compKey(id),
		dayIndexKey(comp.OperationalDay),
		dayTotalsKey(comp.OperationalDay),
		daysKey,
	}

	deleted, err := s.deleteScript.Run(ctx, s.client, keys, id).Int()
	if err != nil {
		return nil, fmt.Errorf("delete comp %s: %w", id, err)
	}
	if deleted == 0 {
		// Removed concurrently
		return nil, storage.ErrNotFound
	}

	return comp, nil
}

// ListDay returns the comps of day in creation order
func (s *compStore) ListDay(ctx context.Context, day string) ([]storage.Comp, error) {
	ids, err := s.client.ZRange(ctx, dayIndexKey(day), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return []storage.Comp{}, nil
	}

	// Use pipeline for efficient batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, compKey(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	comps := make([]storage.Comp, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		comp, err := parseComp(data)
		if err != nil {
			return nil, err
		}
		comps = append(comps, *comp)
	}

	return comps, nil
}

// ListDays returns every day with comps, newest first
func (s *compStore) ListDays(ctx context.Context) ([]string, error) {
	days, err := s.client.ZRevRange(ctx, daysKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if days == nil {
		days = []string{}
	}
	return days, nil
}

// DayTotals returns the aggregates of day. Days without comps have zero totals.
func (s *compStore) DayTotals(ctx context.Context, day string) (*storage.DayTotals, error) {
	data, err := s.client.HGetAll(ctx, dayTotalsKey(day)).Result()
	if err != nil {
		return nil, err
	}

	return parseDayTotals(day, data)
}

// DeleteDaysBefore removes every comp of the days strictly before day and
// returns the number of days removed.
func (s *compStore) DeleteDaysBefore(ctx context.Context, day string) (int, error) {
	score, err := dayScore(day)
	if err != nil {
		return 0, err
	}

	days, err := s.client.ZRangeByScore(ctx, daysKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatFloat(score, 'f', 0, 64),
	}).Result()
	if err != nil {
		return 0, err
	}

	for _, d := range days {
		ids, err := s.client.ZRange(ctx, dayIndexKey(d), 0, -1).Result()
		if err != nil {
			return 0, err
		}

		_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, id := range ids {
				pipe.Del(ctx, compKey(id))
			}
			pipe.Del(ctx, dayIndexKey(d), dayTotalsKey(d))
			pipe.ZRem(ctx, daysKey, d)
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("delete day %s: %w", d, err)
		}
	}

	return len(days), nil
}
