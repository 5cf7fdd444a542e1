package cache

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/shiva/traits/config"
)

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	host, portStr, _ := strings.Cut(mr.Addr(), ":")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("miniredis addr %q: %v", mr.Addr(), err)
	}

	client, err := NewRedisClient(context.Background(), config.RedisConfig{Host: host, Port: port, PoolSize: 4})
	if err != nil {
		t.Fatalf("NewRedisClient() error = %v", err)
	}
	defer client.Close()

	mr.Close()
	if err := HealthCheck(context.Background(), client); err == nil {
		t.Error("HealthCheck() after server stop = nil, want error")
	}
}

func TestNewRedisClientCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewRedisClient(ctx, config.RedisConfig{Host: "127.0.0.1", Port: 1, PoolSize: 1}); err == nil {
		t.Error("NewRedisClient() with cancelled context = nil error, want error")
	}
}
