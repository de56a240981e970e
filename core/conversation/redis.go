package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "betbot:conv:"

type redisTracker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTracker stores builders as JSON strings that expire ttl after their last write,
// so conversations survive a restart of the bot.
func NewRedisTracker(client *redis.Client, ttl time.Duration) Tracker {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &redisTracker{client: client, ttl: ttl}
}

// ConnectRedis opens a client and pings it once so a bad address fails at startup.
func ConnectRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("conversation: redis ping %s: %w", addr, err)
	}
	return client, nil
}

func key(userID string) string { return keyPrefix + userID }

func (r *redisTracker) Begin(ctx context.Context, userID string) (Builder, error) {
	b := fresh()
	return b, r.Set(ctx, userID, b)
}

func (r *redisTracker) Get(ctx context.Context, userID string) (Builder, error) {
	raw, err := r.client.Get(ctx, key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Builder{}, ErrNotFound
	}
	if err != nil {
		return Builder{}, fmt.Errorf("conversation: redis get: %w", err)
	}
	var b Builder
	if err := json.Unmarshal(raw, &b); err != nil {
		// A value that cannot be decoded is treated as absent and dropped.
		_ = r.client.Del(ctx, key(userID)).Err()
		return Builder{}, ErrNotFound
	}
	return b, nil
}

func (r *redisTracker) Set(ctx context.Context, userID string, b Builder) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("conversation: encode: %w", err)
	}
	if err := r.client.Set(ctx, key(userID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("conversation: redis set: %w", err)
	}
	return nil
}

func (r *redisTracker) Clear(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, key(userID)).Err(); err != nil {
		return fmt.Errorf("conversation: redis del: %w", err)
	}
	return nil
}

// Len is unknown for redis; counting keys would need a SCAN over the keyspace.
func (r *redisTracker) Len() int { return -1 }

func (r *redisTracker) Close() error { return r.client.Close() }
