package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shiva/traits/config"
)

// connectAttempts bounds the startup pings while Redis comes up next to us.
const connectAttempts = 5

// NewRedisClient creates a Redis client for the station graph and the shared
// search cache. The first ping is retried with a linear backoff.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	var err error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		if err = HealthCheck(ctx, client); err == nil {
			return client, nil
		}
		log.Printf("[redis] Ping %d/%d to %s failed: %v", attempt, connectAttempts, cfg.Addr(), err)
		select {
		case <-ctx.Done():
			_ = client.Close()
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
		}
	}
	_ = client.Close()
	return nil, fmt.Errorf("redis: ping failed: %w", err)
}

// HealthCheck pings the Redis client and returns nil if healthy.
func HealthCheck(ctx context.Context, client *redis.Client) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return client.Ping(pingCtx).Err()
}
