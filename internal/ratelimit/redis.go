package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// RedisStore keeps the same entries in Redis for operators who run
// several gateway processes against one counter set.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
	logger *logrus.Logger
}

// NewRedisStore connects and pings the server.
func NewRedisStore(addr, password string, db int, logger *logrus.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{client: client, now: time.Now, logger: logger}, nil
}

func limitKey(kind Kind, scope, id string) string {
	return fmt.Sprintf("ratelimit:%s:limit:%s:%s", kind, scope, id)
}

func usageKey(kind Kind, scope, id string) string {
	return fmt.Sprintf("ratelimit:%s:usage:%s:%s", kind, scope, id)
}

func (s *RedisStore) GetLimit(ctx context.Context, kind Kind, scope, id string) (int, bool, error) {
	data, err := s.client.Get(ctx, limitKey(kind, scope, id)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var e LimitEntry
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return 0, false, err
	}
	return e.Rate, true, nil
}

func (s *RedisStore) SetLimit(ctx context.Context, kind Kind, scope, id string, rate int) error {
	data, err := json.Marshal(LimitEntry{Type: scope, ID: id, Rate: rate})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, limitKey(kind, scope, id), data, 0).Err()
}

func (s *RedisStore) GetUsage(ctx context.Context, kind Kind, scope, id string) (*UsageEntry, error) {
	now := s.now()
	data, err := s.client.Get(ctx, usageKey(kind, scope, id)).Result()
	if err == redis.Nil {
		return &UsageEntry{Type: scope, ID: id, Time: now.Hour(), Day: now.Day()}, nil
	}
	if err != nil {
		return nil, err
	}
	var u UsageEntry
	if err := json.Unmarshal([]byte(data), &u); err != nil {
		return nil, err
	}
	rollover(&u, now)
	return &u, nil
}

func (s *RedisStore) IncrementUsage(ctx context.Context, kind Kind, scope, id string) error {
	u, err := s.GetUsage(ctx, kind, scope, id)
	if err != nil {
		return err
	}
	u.Count++
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	// Counters expire after two days; rollover handles the rest.
	return s.client.Set(ctx, usageKey(kind, scope, id), data, 48*time.Hour).Err()
}
