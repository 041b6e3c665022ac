package cloud

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// catalogEntry is one service's pricing record in the YAML catalog.
type catalogEntry struct {
	MonthlyCost  float64            `yaml:"monthly_cost"`
	Regions      []string           `yaml:"regions"`
	TierFactors  map[string]float64 `yaml:"tier_factors"`
	Alternatives []struct {
		Service     string  `yaml:"service"`
		MonthlyCost float64 `yaml:"monthly_cost"`
	} `yaml:"alternatives"`
}

type catalogFile struct {
	Pricing struct {
		Defaults struct {
			MonthlyCost float64 `yaml:"monthly_cost"`
			Currency    string  `yaml:"currency"`
		} `yaml:"defaults"`
		Providers map[string]map[string]catalogEntry `yaml:"providers"`
	} `yaml:"pricing"`
}

// Catalog is a Source backed by a local YAML price catalog.
type Catalog struct {
	mu   sync.RWMutex
	data catalogFile
	path string
}

// ErrUnknownService is wrapped in lookups for services absent from the catalog.
var ErrUnknownService = fmt.Errorf("cloud: unknown service")

// LoadCatalog reads the catalog file. PRICING_CATALOG_PATH overrides path.
func LoadCatalog(path string) (*Catalog, error) {
	if env := os.Getenv("PRICING_CATALOG_PATH"); env != "" {
		path = env
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing catalog: %w", err)
	}
	var data catalogFile
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse pricing catalog %s: %w", path, err)
	}
	return &Catalog{data: data, path: path}, nil
}

// NewCatalogFromBytes builds a catalog from inline YAML; used by tests.
func NewCatalogFromBytes(raw []byte) (*Catalog, error) {
	var data catalogFile
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse pricing catalog: %w", err)
	}
	return &Catalog{data: data}, nil
}

// Reload re-reads the catalog file in place.
func (c *Catalog) Reload() error {
	if c.path == "" {
		return nil
	}
	raw, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("reload pricing catalog: %w", err)
	}
	var data catalogFile
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("parse pricing catalog %s: %w", c.path, err)
	}
	c.mu.Lock()
	c.data = data
	c.mu.Unlock()
	return nil
}

func (c *Catalog) lookup(provider, service string) (catalogEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	services, ok := c.data.Pricing.Providers[strings.ToLower(provider)]
	if !ok {
		return catalogEntry{}, false
	}
	entry, ok := services[strings.ToLower(service)]
	return entry, ok
}

// ServicePricing resolves the monthly cost for a service configuration.
// Unknown services fall back to the catalog default when one is set.
func (c *Catalog) ServicePricing(ctx context.Context, provider, service string, config map[string]any) (ServicePricing, error) {
	c.mu.RLock()
	defaults := c.data.Pricing.Defaults
	c.mu.RUnlock()

	currency := defaults.Currency
	if currency == "" {
		currency = "USD"
	}

	entry, ok := c.lookup(provider, service)
	if !ok {
		if defaults.MonthlyCost > 0 {
			return ServicePricing{Provider: provider, Service: service, MonthlyCost: defaults.MonthlyCost, Currency: currency}, nil
		}
		return ServicePricing{}, fmt.Errorf("%w: %s/%s", ErrUnknownService, provider, service)
	}

	cost := entry.MonthlyCost
	if tier, ok := config["tier"].(string); ok {
		if factor, ok := entry.TierFactors[strings.ToLower(tier)]; ok && factor > 0 {
			cost *= factor
		}
	}
	if n, ok := asCount(config["instance_count"]); ok && n > 0 {
		cost *= float64(n)
	}

	return ServicePricing{Provider: provider, Service: service, MonthlyCost: cost, Currency: currency}, nil
}

// ServiceAvailability reports whether a service is offered in a region. A
// service with no region list is treated as globally available.
func (c *Catalog) ServiceAvailability(ctx context.Context, provider, service, region string) (bool, error) {
	entry, ok := c.lookup(provider, service)
	if !ok {
		return false, fmt.Errorf("%w: %s/%s", ErrUnknownService, provider, service)
	}
	if len(entry.Regions) == 0 {
		return true, nil
	}
	for _, r := range entry.Regions {
		if strings.EqualFold(r, region) {
			return true, nil
		}
	}
	return false, nil
}

// AlternativeServices returns the catalog's alternatives cheapest-first.
func (c *Catalog) AlternativeServices(ctx context.Context, provider, service string, requirements map[string]any) ([]Alternative, error) {
	entry, ok := c.lookup(provider, service)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownService, provider, service)
	}
	out := make([]Alternative, 0, len(entry.Alternatives))
	for _, a := range entry.Alternatives {
		out = append(out, Alternative{Service: a.Service, MonthlyCost: a.MonthlyCost})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MonthlyCost < out[j].MonthlyCost })
	return out, nil
}

func asCount(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}
