package cloud

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type countingSource struct {
	mu           sync.Mutex
	pricingCalls int
	availCalls   int
	err          error
}

func (s *countingSource) ServicePricing(ctx context.Context, provider, service string, config map[string]any) (ServicePricing, error) {
	s.mu.Lock()
	s.pricingCalls++
	s.mu.Unlock()
	if s.err != nil {
		return ServicePricing{}, s.err
	}
	return ServicePricing{Provider: provider, Service: service, MonthlyCost: 100, Currency: "USD"}, nil
}

func (s *countingSource) ServiceAvailability(ctx context.Context, provider, service, region string) (bool, error) {
	s.mu.Lock()
	s.availCalls++
	s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	return region == "us-east-1", nil
}

func (s *countingSource) AlternativeServices(ctx context.Context, provider, service string, requirements map[string]any) ([]Alternative, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []Alternative{{Service: "lightsail", MonthlyCost: 40}}, nil
}

// memCache is a plain map cache for memoization tests.
type memCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemCache() *memCache { return &memCache{data: make(map[string]string)} }

func (m *memCache) Get(ctx context.Context, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *memCache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
}

func (m *memCache) Ping(ctx context.Context) error { return nil }

func TestPricingMemoization(t *testing.T) {
	src := &countingSource{}
	c := NewCachingClient(src, newMemCache(), ClientOptions{}, zap.NewNop())
	ctx := context.Background()
	cfg := map[string]any{"tier": "standard", "instance_count": 2}

	for i := 0; i < 3; i++ {
		p, err := c.GetServicePricing(ctx, "aws", "ec2", cfg)
		if err != nil {
			t.Fatalf("lookup %d: %v", i, err)
		}
		if p.MonthlyCost != 100 {
			t.Fatalf("cost = %v", p.MonthlyCost)
		}
	}
	if src.pricingCalls != 1 {
		t.Fatalf("source called %d times, want 1", src.pricingCalls)
	}
}

func TestDistinctConfigsMissSeparately(t *testing.T) {
	src := &countingSource{}
	c := NewCachingClient(src, newMemCache(), ClientOptions{}, zap.NewNop())
	ctx := context.Background()

	if _, err := c.GetServicePricing(ctx, "aws", "ec2", map[string]any{"tier": "basic"}); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if _, err := c.GetServicePricing(ctx, "aws", "ec2", map[string]any{"tier": "premium"}); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if src.pricingCalls != 2 {
		t.Fatalf("source called %d times, want 2", src.pricingCalls)
	}
}

func TestAvailabilityMemoization(t *testing.T) {
	src := &countingSource{}
	c := NewCachingClient(src, newMemCache(), ClientOptions{}, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := c.CheckServiceAvailability(ctx, "aws", "ec2", "us-east-1")
		if err != nil || !ok {
			t.Fatalf("availability = %v err=%v", ok, err)
		}
	}
	ok, err := c.CheckServiceAvailability(ctx, "aws", "ec2", "eu-west-1")
	if err != nil || ok {
		t.Fatalf("unexpected availability for eu-west-1: %v err=%v", ok, err)
	}
	if src.availCalls != 2 {
		t.Fatalf("source called %d times, want 2", src.availCalls)
	}
}

func TestSourceErrorSurfaces(t *testing.T) {
	src := &countingSource{err: errors.New("pricing api down")}
	c := NewCachingClient(src, nil, ClientOptions{}, zap.NewNop())

	_, err := c.GetServicePricing(context.Background(), "aws", "ec2", nil)
	if err == nil {
		t.Fatal("source error swallowed")
	}
}

func TestNilCacheFallsThrough(t *testing.T) {
	src := &countingSource{}
	c := NewCachingClient(src, nil, ClientOptions{}, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := c.GetServicePricing(ctx, "aws", "ec2", nil); err != nil {
			t.Fatalf("lookup %d: %v", i, err)
		}
	}
	if src.pricingCalls != 2 {
		t.Fatalf("source called %d times, want 2 without a cache", src.pricingCalls)
	}
}

func TestHashConfigStability(t *testing.T) {
	a := hashConfig(map[string]any{"tier": "basic", "instance_count": 2})
	b := hashConfig(map[string]any{"instance_count": 2, "tier": "basic"})
	if a != b {
		t.Fatalf("key order changed hash: %s vs %s", a, b)
	}
	if a == hashConfig(map[string]any{"tier": "premium", "instance_count": 2}) {
		t.Fatal("distinct configs hashed identically")
	}
	if hashConfig(nil) != "default" {
		t.Fatalf("empty config hash = %s, want default", hashConfig(nil))
	}
}
