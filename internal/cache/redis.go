package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/inframind/platform/internal/circuitbreaker"
	"github.com/inframind/platform/internal/metrics"
)

// Redis is a circuit-breaker-guarded Redis cache. When the breaker is open
// every Get reports a miss and Set becomes a no-op, so callers degrade to
// the authoritative source without extra branching.
type Redis struct {
	client  *redis.Client
	breaker *circuitbreaker.Breaker
	logger  *zap.Logger
}

// Options configures the Redis cache client.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, opts Options, logger *zap.Logger) (*Redis, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Redis{
		client:  client,
		breaker: circuitbreaker.New("cache", circuitbreaker.DefaultConfig(), logger),
		logger:  logger,
	}, nil
}

// NewRedisWithClient wraps an existing client; used by tests with miniredis.
func NewRedisWithClient(client *redis.Client, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{
		client:  client,
		breaker: circuitbreaker.New("cache", circuitbreaker.DefaultConfig(), logger),
		logger:  logger,
	}
}

// Get returns the cached value and true on a hit. Misses, backend errors and
// an open breaker all report false.
func (r *Redis) Get(ctx context.Context, key string) (string, bool) {
	var val string
	err := r.breaker.Execute(ctx, func() error {
		res := r.client.Get(ctx, key)
		if errors.Is(res.Err(), redis.Nil) {
			// a miss is not a backend failure
			return nil
		}
		val = res.Val()
		return res.Err()
	})
	if err != nil {
		metrics.CacheOperations.WithLabelValues("get", "error").Inc()
		return "", false
	}
	if val == "" {
		metrics.CacheOperations.WithLabelValues("get", "miss").Inc()
		return "", false
	}
	metrics.CacheOperations.WithLabelValues("get", "hit").Inc()
	return val, true
}

// Set stores a value with a TTL. Failures are logged and swallowed.
func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) {
	err := r.breaker.Execute(ctx, func() error {
		return r.client.Set(ctx, key, value, ttl).Err()
	})
	if err != nil {
		metrics.CacheOperations.WithLabelValues("set", "error").Inc()
		r.logger.Debug("Cache set failed", zap.String("key", key), zap.Error(err))
		return
	}
	metrics.CacheOperations.WithLabelValues("set", "ok").Inc()
}

// Ping checks backend connectivity through the breaker.
func (r *Redis) Ping(ctx context.Context) error {
	return r.breaker.Execute(ctx, func() error {
		return r.client.Ping(ctx).Err()
	})
}

// Close releases the underlying client.
func (r *Redis) Close() error { return r.client.Close() }
