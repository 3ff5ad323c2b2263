package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewFromConfig builds a Redis-backed queue and falls back to the in-memory queue when
// addr is empty or Redis does not answer. The connection error is returned alongside
// the fallback so the caller can log it.
func NewFromConfig(addr, pass string, db int) (Queue, error) {
	if addr == "" {
		return NewMemoryQueue(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: pass,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return NewMemoryQueue(), err
	}

	return NewRedisQueue(client, Name), nil
}
