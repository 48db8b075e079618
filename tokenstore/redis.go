package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gowool/aml-rbac/token"
)

var _ Storage = (*Redis)(nil)

// Redis stores the token under a single key that expires together with the
// token itself.
type Redis struct {
	client *redis.Client
	key    string
	now    func() time.Time
}

func NewRedis(client *redis.Client, key string) *Redis {
	if key == "" {
		key = "amlconsole:" + DefaultKey
	}
	return &Redis{client: client, key: key, now: time.Now}
}

func (s *Redis) Load(ctx context.Context) (string, error) {
	value, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) || (err == nil && value == "") {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get token: %w", err)
	}
	return value, nil
}

func (s *Redis) Save(ctx context.Context, raw string) error {
	var ttl time.Duration
	if claims, err := token.Decode(raw); err == nil && claims.ExpiresAt != nil {
		if ttl = claims.ExpiresAt.Sub(s.now()); ttl <= 0 {
			return s.Clear(ctx)
		}
	}
	if err := s.client.Set(ctx, s.key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("set token: %w", err)
	}
	return nil
}

func (s *Redis) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}
