package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Limiter decides whether a client may perform another rate-limited
// action inside the current window.
type Limiter interface {
	Allow(ctx context.Context, clientID string) (bool, error)
}

// Config holds rate limiting configuration.
type Config struct {
	MaxRequests int
	Window      time.Duration
	KeyPrefix   string
}

// DefaultConfig matches the creation quota for open deployments.
func DefaultConfig() Config {
	return Config{
		MaxRequests: 10,
		Window:      time.Minute,
		KeyPrefix:   "ratelimit",
	}
}

// RedisLimiter counts requests per client in a fixed window using a
// redis counter whose TTL is the window itself.
type RedisLimiter struct {
	rdb    *redis.Client
	cfg    Config
	logger *zap.Logger
}

// NewRedisLimiter builds a limiter on the given redis client.
func NewRedisLimiter(rdb *redis.Client, cfg Config, logger *zap.Logger) *RedisLimiter {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultConfig().MaxRequests
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultConfig().KeyPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLimiter{rdb: rdb, cfg: cfg, logger: logger}
}

func (l *RedisLimiter) Allow(ctx context.Context, clientID string) (bool, error) {
	key := l.cfg.KeyPrefix + ":" + clientID

	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		// Fail open: an unavailable counter must not block creation.
		l.logger.Error("rate limit redis error", zap.Error(err))
		return true, err
	}

	// First request in the window starts its countdown.
	if count == 1 {
		l.rdb.Expire(ctx, key, l.cfg.Window)
	}

	return count <= int64(l.cfg.MaxRequests), nil
}
