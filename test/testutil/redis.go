package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// SetupTestRedis connects to the Redis named by BULKWAVE_TEST_REDIS_ADDR.
// Tests that need Redis are skipped when the variable is unset.
func SetupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("BULKWAVE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("BULKWAVE_TEST_REDIS_ADDR not set, skipping redis test")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis at %s not reachable: %v", addr, err)
	}

	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}
