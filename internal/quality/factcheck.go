package quality

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/inframind/platform/internal/cache"
	"github.com/inframind/platform/internal/cloud"
	"github.com/inframind/platform/internal/domain"
)

// ClaimKind classifies where a claim was extracted from.
type ClaimKind string

const (
	ClaimCost        ClaimKind = "cost"
	ClaimFeature     ClaimKind = "feature"
	ClaimPerformance ClaimKind = "performance"
)

// Claim is one atomic natural-language statement extracted from a
// recommendation.
type Claim struct {
	Text     string    `json:"text"`
	Kind     ClaimKind `json:"kind"`
	Provider string    `json:"provider"`
	Service  string    `json:"service"`
	Value    float64   `json:"value,omitempty"`
}

// FactCheckResult is the verification outcome for one claim.
type FactCheckResult struct {
	Claim      string    `json:"claim"`
	ClaimHash  string    `json:"claim_hash"`
	Kind       ClaimKind `json:"kind"`
	Verified   bool      `json:"verified"`
	Confidence float64   `json:"confidence"`
	Evidence   string    `json:"evidence"`
	CheckedAt  time.Time `json:"checked_at"`
}

// FactChecker verifies extracted claims against the pricing collaborator,
// memoizing results in the cache for 24h keyed by claim hash.
type FactChecker struct {
	cloud    cloud.Client
	cache    cache.Cache
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewFactChecker creates a fact checker. ttl <= 0 defaults to 24h.
func NewFactChecker(cloudClient cloud.Client, c cache.Cache, ttl time.Duration, logger *zap.Logger) *FactChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c == nil {
		c = cache.Null{}
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &FactChecker{cloud: cloudClient, cache: c, cacheTTL: ttl, logger: logger}
}

// ExtractClaims pulls atomic claims from a recommendation's cost, feature,
// and performance fields.
func ExtractClaims(rec *domain.Recommendation) []Claim {
	var claims []Claim
	for _, svc := range rec.Services {
		if svc.MonthlyCost > 0 {
			claims = append(claims, Claim{
				Text:     fmt.Sprintf("%s %s costs %.2f per month", svc.Provider, svc.Service, svc.MonthlyCost),
				Kind:     ClaimCost,
				Provider: svc.Provider,
				Service:  svc.Service,
				Value:    svc.MonthlyCost,
			})
		}
		for _, feature := range svc.Features {
			claims = append(claims, Claim{
				Text:     fmt.Sprintf("%s %s provides %s", svc.Provider, svc.Service, feature),
				Kind:     ClaimFeature,
				Provider: svc.Provider,
				Service:  svc.Service,
			})
		}
	}
	for metric, value := range rec.PerformanceClaims {
		claims = append(claims, Claim{
			Text:     fmt.Sprintf("%s achieves %s %s", rec.Provider, metric, value),
			Kind:     ClaimPerformance,
			Provider: rec.Provider,
		})
	}
	return claims
}

// HashClaim returns the cache key component for a claim text.
func HashClaim(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// CheckRecommendation extracts and verifies every claim in a recommendation.
func (f *FactChecker) CheckRecommendation(ctx context.Context, rec *domain.Recommendation) []FactCheckResult {
	claims := ExtractClaims(rec)
	out := make([]FactCheckResult, 0, len(claims))
	for _, claim := range claims {
		out = append(out, f.CheckClaim(ctx, claim))
	}
	return out
}

// CheckClaim verifies one claim, consulting the cache first.
func (f *FactChecker) CheckClaim(ctx context.Context, claim Claim) FactCheckResult {
	hash := HashClaim(claim.Text)
	cacheKey := "factcheck:" + hash

	if raw, ok := f.cache.Get(ctx, cacheKey); ok {
		var cached FactCheckResult
		if err := json.Unmarshal([]byte(raw), &cached); err == nil {
			return cached
		}
	}

	res := f.verify(ctx, claim)
	res.Claim = claim.Text
	res.ClaimHash = hash
	res.Kind = claim.Kind
	res.CheckedAt = time.Now()

	if raw, err := json.Marshal(res); err == nil {
		f.cache.Set(ctx, cacheKey, string(raw), f.cacheTTL)
	}
	return res
}

func (f *FactChecker) verify(ctx context.Context, claim Claim) FactCheckResult {
	switch claim.Kind {
	case ClaimCost:
		pricing, err := f.cloud.GetServicePricing(ctx, claim.Provider, claim.Service, nil)
		if err != nil {
			return FactCheckResult{
				Verified:   false,
				Confidence: 0,
				Evidence:   fmt.Sprintf("pricing lookup failed: %v", err),
			}
		}
		if pricing.MonthlyCost <= 0 {
			return FactCheckResult{Verified: false, Evidence: "no published price"}
		}
		relDiff := math.Abs(claim.Value-pricing.MonthlyCost) / pricing.MonthlyCost
		return FactCheckResult{
			Verified:   relDiff <= 0.05,
			Confidence: math.Max(0, 1-relDiff),
			Evidence:   fmt.Sprintf("published monthly cost %.2f %s", pricing.MonthlyCost, pricing.Currency),
		}

	case ClaimFeature:
		// feature docs are not structured; an available service lends the
		// claim moderate support, nothing more
		ok, err := f.cloud.CheckServiceAvailability(ctx, claim.Provider, claim.Service, "")
		if err != nil || !ok {
			return FactCheckResult{Verified: false, Confidence: 0.2, Evidence: "service not found in provider catalog"}
		}
		return FactCheckResult{Verified: true, Confidence: 0.6, Evidence: "service present in provider catalog"}

	default:
		// performance claims have no authoritative source here
		return FactCheckResult{
			Verified:   false,
			Confidence: 0.3,
			Evidence:   "performance claims require benchmark review",
		}
	}
}
