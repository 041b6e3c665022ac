package cloud

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/inframind/platform/internal/cache"
	"github.com/inframind/platform/internal/circuitbreaker"
	"github.com/inframind/platform/internal/metrics"
)

// CachingClient memoizes Source lookups in the shared cache and guards the
// source with a rate limiter and circuit breaker. Cache misses always fall
// through to the source; only source errors surface to callers.
type CachingClient struct {
	source          Source
	cache           cache.Cache
	breaker         *circuitbreaker.Breaker
	limiter         *rate.Limiter
	pricingTTL      time.Duration
	availabilityTTL time.Duration
	logger          *zap.Logger
}

// ClientOptions tunes the caching client.
type ClientOptions struct {
	PricingTTL      time.Duration
	AvailabilityTTL time.Duration
	// LookupsPerSecond bounds source calls; production sources are metered
	// cloud pricing APIs. Zero disables limiting.
	LookupsPerSecond float64
	Burst            int
}

// NewCachingClient wraps a source. A nil cache disables memoization.
func NewCachingClient(source Source, c cache.Cache, opts ClientOptions, logger *zap.Logger) *CachingClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c == nil {
		c = cache.Null{}
	}
	if opts.PricingTTL == 0 {
		opts.PricingTTL = 30 * time.Minute
	}
	if opts.AvailabilityTTL == 0 {
		opts.AvailabilityTTL = 24 * time.Hour
	}
	var limiter *rate.Limiter
	if opts.LookupsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 10
		}
		limiter = rate.NewLimiter(rate.Limit(opts.LookupsPerSecond), burst)
	}
	return &CachingClient{
		source:          source,
		cache:           c,
		breaker:         circuitbreaker.New("cloud-pricing", circuitbreaker.DefaultConfig(), logger),
		limiter:         limiter,
		pricingTTL:      opts.PricingTTL,
		availabilityTTL: opts.AvailabilityTTL,
		logger:          logger,
	}
}

// GetServicePricing returns pricing for a service configuration.
func (c *CachingClient) GetServicePricing(ctx context.Context, provider, service string, config map[string]any) (ServicePricing, error) {
	key := fmt.Sprintf("pricing:%s:%s:%s", strings.ToLower(provider), strings.ToLower(service), hashConfig(config))
	if raw, ok := c.cache.Get(ctx, key); ok {
		var p ServicePricing
		if err := json.Unmarshal([]byte(raw), &p); err == nil {
			metrics.PricingLookups.WithLabelValues(provider, "cache_hit").Inc()
			return p, nil
		}
	}

	var p ServicePricing
	err := c.guarded(ctx, func() error {
		var err error
		p, err = c.source.ServicePricing(ctx, provider, service, config)
		return err
	})
	if err != nil {
		metrics.PricingLookups.WithLabelValues(provider, "error").Inc()
		return ServicePricing{}, err
	}
	metrics.PricingLookups.WithLabelValues(provider, "source").Inc()

	if raw, err := json.Marshal(p); err == nil {
		c.cache.Set(ctx, key, string(raw), c.pricingTTL)
	}
	return p, nil
}

// CheckServiceAvailability reports whether a service exists in a region.
func (c *CachingClient) CheckServiceAvailability(ctx context.Context, provider, service, region string) (bool, error) {
	key := fmt.Sprintf("availability:%s:%s:%s", strings.ToLower(provider), strings.ToLower(service), strings.ToLower(region))
	if raw, ok := c.cache.Get(ctx, key); ok {
		return raw == "true", nil
	}

	var available bool
	err := c.guarded(ctx, func() error {
		var err error
		available, err = c.source.ServiceAvailability(ctx, provider, service, region)
		return err
	})
	if err != nil {
		return false, err
	}

	val := "false"
	if available {
		val = "true"
	}
	c.cache.Set(ctx, key, val, c.availabilityTTL)
	return available, nil
}

// GetAlternativeServices returns comparable options, cheapest first.
func (c *CachingClient) GetAlternativeServices(ctx context.Context, provider, service string, requirements map[string]any) ([]Alternative, error) {
	key := fmt.Sprintf("alternatives:%s:%s:%s", strings.ToLower(provider), strings.ToLower(service), hashConfig(requirements))
	if raw, ok := c.cache.Get(ctx, key); ok {
		var alts []Alternative
		if err := json.Unmarshal([]byte(raw), &alts); err == nil {
			return alts, nil
		}
	}

	var alts []Alternative
	err := c.guarded(ctx, func() error {
		var err error
		alts, err = c.source.AlternativeServices(ctx, provider, service, requirements)
		return err
	})
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(alts); err == nil {
		c.cache.Set(ctx, key, string(raw), c.pricingTTL)
	}
	return alts, nil
}

func (c *CachingClient) guarded(ctx context.Context, fn func() error) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("pricing lookup rate limit: %w", err)
		}
	}
	return c.breaker.Execute(ctx, fn)
}

// hashConfig derives a stable cache-key fragment from a lookup config map.
func hashConfig(config map[string]any) string {
	if len(config) == 0 {
		return "default"
	}
	keys := make([]string, 0, len(config))
	for k := range config {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v;", k, config[k])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:8])
}
