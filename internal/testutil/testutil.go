//go:build integration || e2e

// Package testutil provides test helpers for integration tests that exercise
// a real Redis instance (used both as the asset-snapshot mirror and as the
// Pub/Sub transport fake for bus-backed components).
package testutil

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisAddr returns the address of the test Redis container (IP:port).
// It first checks COMPOSITE_TEST_REDIS_ADDR, then discovers the Docker container IP.
func RedisAddr() string {
	if addr := os.Getenv("COMPOSITE_TEST_REDIS_ADDR"); addr != "" {
		return addr
	}

	ip := redisContainerIP()
	if ip == "" {
		return ""
	}
	return ip + ":6379"
}

// RedisIP returns just the IP of the test Redis container (no port).
func RedisIP() string {
	if addr := os.Getenv("COMPOSITE_TEST_REDIS_ADDR"); addr != "" {
		if idx := strings.LastIndex(addr, ":"); idx > 0 {
			return addr[:idx]
		}
		return addr
	}
	return redisContainerIP()
}

func redisContainerIP() string {
	out, err := exec.Command("docker", "inspect",
		"--format", "{{range .NetworkSettings.Networks}}{{.IPAddress}}{{end}}",
		"composite-test-redis").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// SkipIfNoRedis skips the test if the test Redis container is not reachable.
func SkipIfNoRedis(t *testing.T) {
	t.Helper()

	addr := RedisAddr()
	if addr == "" {
		t.Skip("test Redis not available: set COMPOSITE_TEST_REDIS_ADDR or start composite-test-redis")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("test Redis not reachable at %s: %v", addr, err)
	}
}

// RequireRedis is like SkipIfNoRedis but fails the test instead of skipping.
func RequireRedis(t *testing.T) {
	t.Helper()

	addr := RedisAddr()
	if addr == "" {
		t.Fatal("test Redis not available: set COMPOSITE_TEST_REDIS_ADDR or start composite-test-redis")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("test Redis not reachable at %s: %v", addr, err)
	}
}

// FlushAll flushes the asset-mirror DB (0) on the test Redis instance.
func FlushAll(t *testing.T) {
	t.Helper()

	addr := RedisAddr()
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("failed to flush test Redis: %v", err)
	}
}

// KeyCount returns the number of keys in the test Redis instance.
func KeyCount(t *testing.T) int {
	t.Helper()

	addr := RedisAddr()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	n, err := client.DBSize(context.Background()).Result()
	if err != nil {
		t.Fatalf("failed to get key count: %v", err)
	}
	return int(n)
}

// Context returns a context with a reasonable timeout for tests.
// The cancel function is registered via t.Cleanup.
func Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// RedisClient returns a redis client against the test instance.
func RedisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := RedisAddr()
	if addr == "" {
		t.Fatal("test Redis not available")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	return client
}

// WaitForRedis waits until Redis is ready, up to timeout.
func WaitForRedis(timeout time.Duration) error {
	addr := RedisAddr()
	if addr == "" {
		return fmt.Errorf("redis address not available")
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		client := redis.NewClient(&redis.Options{Addr: addr})
		err := client.Ping(ctx).Err()
		client.Close()
		cancel()
		if err == nil {
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("redis not ready after %v", timeout)
}
