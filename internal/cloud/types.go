// Package cloud provides the pricing/availability collaborator the quality
// validation engine consults. The default source is a local YAML catalog;
// the client layers memoization, rate limiting, and a circuit breaker on top
// so a remote source can be swapped in without touching callers.
package cloud

import "context"

// ServicePricing is the result of a pricing lookup.
type ServicePricing struct {
	Provider    string  `json:"provider"`
	Service     string  `json:"service"`
	MonthlyCost float64 `json:"monthly_cost"`
	Currency    string  `json:"currency"`
}

// Alternative is a cheaper or comparable service option.
type Alternative struct {
	Service     string  `json:"service"`
	MonthlyCost float64 `json:"monthly_cost"`
}

// Client is the lookup surface consumed by validation and fact checking.
type Client interface {
	GetServicePricing(ctx context.Context, provider, service string, config map[string]any) (ServicePricing, error)
	CheckServiceAvailability(ctx context.Context, provider, service, region string) (bool, error)
	GetAlternativeServices(ctx context.Context, provider, service string, requirements map[string]any) ([]Alternative, error)
}

// Source is the authoritative backend behind the caching client.
type Source interface {
	ServicePricing(ctx context.Context, provider, service string, config map[string]any) (ServicePricing, error)
	ServiceAvailability(ctx context.Context, provider, service, region string) (bool, error)
	AlternativeServices(ctx context.Context, provider, service string, requirements map[string]any) ([]Alternative, error)
}
