package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"timesheet/internal/models"
)

const idempotencyHeader = "Idempotency-Key"

// RequestDeduper tracks idempotency keys of write requests already accepted.
type RequestDeduper interface {
	Seen(ctx context.Context, key string) (bool, error)
}

type redisRequestDeduper struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func (d *redisRequestDeduper) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+":"+key, "1", d.ttl).Result()
	if err != nil {
		return false, err
	}
	// false => already exists => duplicate
	return !ok, nil
}

type memoryRequestDeduper struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	ttl    time.Duration
	nextGC time.Time
	now    func() time.Time
}

func newMemoryRequestDeduper(ttl time.Duration) *memoryRequestDeduper {
	now := time.Now()
	return &memoryRequestDeduper{
		seen:   make(map[string]time.Time),
		ttl:    ttl,
		nextGC: now.Add(ttl),
		now:    time.Now,
	}
}

func (d *memoryRequestDeduper) Seen(_ context.Context, key string) (bool, error) {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if exp, ok := d.seen[key]; ok && exp.After(now) {
		return true, nil
	}

	d.seen[key] = now.Add(d.ttl)
	if now.After(d.nextGC) {
		for k, exp := range d.seen {
			if exp.Before(now) {
				delete(d.seen, k)
			}
		}
		d.nextGC = now.Add(d.ttl)
	}

	return false, nil
}

// NewRequestDeduper builds a Redis deduper and falls back to in-memory on failure.
func NewRequestDeduper(addr, pass string, db int, ttl time.Duration) (RequestDeduper, error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if addr == "" {
		return newMemoryRequestDeduper(ttl), nil
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
		return newMemoryRequestDeduper(ttl), err
	}

	return newRedisRequestDeduper(client, ttl), nil
}

func newRedisRequestDeduper(client *redis.Client, ttl time.Duration) *redisRequestDeduper {
	return &redisRequestDeduper{client: client, prefix: "api:idempotency", ttl: ttl}
}

// Idempotency rejects a write request whose Idempotency-Key was already accepted for the
// same method and path. Requests without the header pass through.
func Idempotency(deduper RequestDeduper) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if deduper == nil {
				return next(c)
			}
			req := c.Request()
			if req.Method == http.MethodGet || req.Method == http.MethodHead || req.Method == http.MethodOptions {
				return next(c)
			}
			key := req.Header.Get(idempotencyHeader)
			if key == "" {
				return next(c)
			}

			duplicate, err := deduper.Seen(req.Context(), req.Method+" "+req.URL.Path+" "+key)
			if err != nil {
				return next(c)
			}
			if duplicate {
				return c.JSON(http.StatusConflict, models.APIResponse{
					Status: false,
					Msg:    "Duplicate request",
				})
			}
			return next(c)
		}
	}
}
