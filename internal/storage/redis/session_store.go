package redis

import (
	"context"
	"time"

	"github.com/goodtune/comptrack/internal/storage"
	"github.com/redis/go-redis/v9"
)

type sessionStore struct {
	client *redis.Client
}

// Create stores an auth session that expires after ttl
func (s *sessionStore) Create(ctx context.Context, session storage.AuthSession, ttl time.Duration) error {
	key := authSessionKey(session.ID)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"id", session.ID,
			"user_id", session.UserID,
			"user_name", session.UserName,
			"created_at", session.CreatedAt.Format(time.RFC3339Nano),
			"expires_at", session.ExpiresAt.Format(time.RFC3339Nano),
		)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	return err
}

// Get retrieves an auth session by ID
func (s *sessionStore) Get(ctx context.Context, id string) (*storage.AuthSession, error) {
	data, err := s.client.HGetAll(ctx, authSessionKey(id)).Result()
	if err != nil {
		return nil, err
	}

	return parseAuthSession(data)
}

// Delete removes an auth session
func (s *sessionStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, authSessionKey(id)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
