package history

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keeps one list per session, so every replica of the service sees
// the same conversation.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) key(session string) string {
	return r.prefix + SessionKey(session)
}

func (r *Redis) Append(ctx context.Context, session, utterance string) error {
	key := r.key(session)
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, utterance)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

func (r *Redis) Recent(ctx context.Context, session string, window int) ([]string, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	out, err := r.client.LRange(ctx, r.key(session), int64(-window), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return out, nil
}

func (r *Redis) Clear(ctx context.Context, session string) error {
	if err := r.client.Del(ctx, r.key(session)).Err(); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}
