package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func testRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisWithClient(client, zap.NewNop()), mr
}

func TestGetSetRoundTrip(t *testing.T) {
	c, _ := testRedis(t)
	ctx := context.Background()

	if _, ok := c.Get(ctx, "pricing:aws:ec2"); ok {
		t.Fatal("hit on empty cache")
	}

	c.Set(ctx, "pricing:aws:ec2", `{"cost":70.5}`, time.Minute)
	val, ok := c.Get(ctx, "pricing:aws:ec2")
	if !ok {
		t.Fatal("miss after set")
	}
	if val != `{"cost":70.5}` {
		t.Fatalf("value = %q", val)
	}
}

func TestTTLExpiry(t *testing.T) {
	c, mr := testRedis(t)
	ctx := context.Background()

	c.Set(ctx, "factcheck:abc", "verified", 30*time.Second)
	mr.FastForward(time.Minute)

	if _, ok := c.Get(ctx, "factcheck:abc"); ok {
		t.Fatal("hit after TTL expiry")
	}
}

func TestBackendOutageReportsMiss(t *testing.T) {
	c, mr := testRedis(t)
	ctx := context.Background()

	c.Set(ctx, "k", "v", time.Minute)
	mr.Close()

	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("hit while backend is down")
	}
	// must not panic or return an error to the caller
	c.Set(ctx, "k2", "v2", time.Minute)
}

func TestOutageTripsBreaker(t *testing.T) {
	c, mr := testRedis(t)
	ctx := context.Background()
	mr.Close()

	for i := 0; i < 10; i++ {
		c.Get(ctx, "k")
	}
	if err := c.Ping(ctx); err == nil {
		t.Fatal("ping succeeded with breaker open and backend down")
	}
}

func TestNullCache(t *testing.T) {
	var c Cache = Null{}
	ctx := context.Background()

	c.Set(ctx, "k", "v", time.Minute)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("null cache returned a hit")
	}
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("null ping: %v", err)
	}
}
