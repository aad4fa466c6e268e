package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/scheduling-integrator/internal/cachestore"
	appconfig "github.com/wolfman30/scheduling-integrator/internal/config"
	"github.com/wolfman30/scheduling-integrator/pkg/logging"
)

const redisKeyPrefix = "scheduling:"

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildCacheStore selects the cache backend named by CACHE_BACKEND. An
// unreachable Redis degrades to the in-process store.
func BuildCacheStore(ctx context.Context, cfg *appconfig.Config, redisClient *redis.Client, logger *logging.Logger) (cachestore.Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	switch cfg.CacheBackend {
	case "", "redis":
		if redisClient == nil {
			logger.Warn("redis cache unavailable; using in-memory cache store")
			return cachestore.NewMemoryStore(), nil
		}
		logger.Info("cache store configured", "backend", "redis")
		return cachestore.NewRedisStore(redisClient, redisKeyPrefix), nil
	case "dynamodb":
		client, err := NewDynamoClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		logger.Info("cache store configured", "backend", "dynamodb", "table", cfg.CacheTable)
		return cachestore.NewDynamoStore(client, cfg.CacheTable), nil
	case "memory":
		logger.Info("cache store configured", "backend", "memory")
		return cachestore.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown cache backend %q", cfg.CacheBackend)
	}
}
