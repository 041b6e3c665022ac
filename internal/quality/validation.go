// Package quality implements recommendation validation, fact checking,
// feedback scoring, A/B experiments, and the continuous improvement loops.
package quality

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/inframind/platform/internal/cloud"
	"github.com/inframind/platform/internal/config"
	"github.com/inframind/platform/internal/domain"
	"github.com/inframind/platform/internal/metrics"
)

// CheckStatus is the outcome of one validation check.
type CheckStatus string

const (
	CheckPending     CheckStatus = "pending"
	CheckValidated   CheckStatus = "validated"
	CheckFailed      CheckStatus = "failed"
	CheckNeedsReview CheckStatus = "needs_review"
)

// Severity ranks how much a check contributes to the overall score.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func severityWeight(s Severity) float64 {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}

func statusScore(s CheckStatus) float64 {
	switch s {
	case CheckValidated:
		return 1.0
	case CheckNeedsReview:
		return 0.5
	default:
		return 0.0
	}
}

// ValidationResult is the outcome of one check.
type ValidationResult struct {
	CheckName       string         `bson:"check_name" json:"check_name"`
	Status          CheckStatus    `bson:"status" json:"status"`
	Severity        Severity       `bson:"severity" json:"severity"`
	ConfidenceScore float64        `bson:"confidence_score" json:"confidence_score"`
	Details         map[string]any `bson:"details,omitempty" json:"details,omitempty"`
	Timestamp       time.Time      `bson:"timestamp" json:"timestamp"`
	ErrorMessage    string         `bson:"error_message,omitempty" json:"error_message,omitempty"`
}

// ValidationReport aggregates all checks for one recommendation.
type ValidationReport struct {
	RecommendationID string             `bson:"recommendation_id" json:"recommendation_id"`
	AssessmentID     string             `bson:"assessment_id" json:"assessment_id"`
	Results          []ValidationResult `bson:"results" json:"results"`
	OverallScore     float64            `bson:"overall_score" json:"overall_score"`
	ValidatedAt      time.Time          `bson:"validated_at" json:"validated_at"`
}

// checkFn produces one validation result. Panics and errors are converted to
// a failed result at the call site, never propagated.
type checkFn func(ctx context.Context) ValidationResult

// Validator runs the validation checks against the pricing collaborator.
type Validator struct {
	cloud  cloud.Client
	cfg    config.QualityConfig
	logger *zap.Logger
}

// NewValidator creates a validator.
func NewValidator(cloudClient cloud.Client, cfg config.QualityConfig, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PricingTolerance <= 0 {
		cfg.PricingTolerance = 0.05
	}
	if cfg.SavingsThreshold <= 0 {
		cfg.SavingsThreshold = 0.10
	}
	return &Validator{cloud: cloudClient, cfg: cfg, logger: logger}
}

// ValidateRecommendation runs the six checks concurrently and aggregates a
// severity-weighted overall score. One check failing, erroring, or panicking
// never aborts the batch.
func (v *Validator) ValidateRecommendation(ctx context.Context, rec *domain.Recommendation, assessment *domain.Assessment) *ValidationReport {
	checks := []struct {
		name     string
		severity Severity
		run      checkFn
	}{
		{"pricing_accuracy", SeverityCritical, func(ctx context.Context) ValidationResult {
			return v.checkPricingAccuracy(ctx, rec)
		}},
		{"service_availability", SeverityHigh, func(ctx context.Context) ValidationResult {
			return v.checkServiceAvailability(ctx, rec)
		}},
		{"compliance_requirements", SeverityCritical, func(ctx context.Context) ValidationResult {
			return v.checkCompliance(rec, assessment)
		}},
		{"cost_optimization", SeverityMedium, func(ctx context.Context) ValidationResult {
			return v.checkCostOptimization(ctx, rec)
		}},
		{"technical_feasibility", SeverityHigh, func(ctx context.Context) ValidationResult {
			return v.checkTechnicalFeasibility(rec, assessment)
		}},
		{"business_alignment", SeverityMedium, func(ctx context.Context) ValidationResult {
			return v.checkBusinessAlignment(rec, assessment)
		}},
	}

	results := make([]ValidationResult, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, name string, severity Severity, run checkFn) {
			defer wg.Done()
			results[i] = v.safeRun(ctx, name, severity, run)
		}(i, c.name, c.severity, c.run)
	}
	wg.Wait()

	report := &ValidationReport{
		RecommendationID: rec.ID,
		AssessmentID:     rec.AssessmentID,
		Results:          results,
		OverallScore:     OverallScore(results),
		ValidatedAt:      time.Now(),
	}

	for _, r := range results {
		metrics.ValidationChecks.WithLabelValues(r.CheckName, string(r.Status)).Inc()
	}
	metrics.ValidationScore.Observe(report.OverallScore)
	v.logger.Info("Recommendation validated",
		zap.String("recommendation_id", rec.ID),
		zap.Float64("overall_score", report.OverallScore),
	)
	return report
}

// safeRun isolates one check: a panic becomes a failed result.
func (v *Validator) safeRun(ctx context.Context, name string, severity Severity, run checkFn) (res ValidationResult) {
	defer func() {
		if r := recover(); r != nil {
			res = ValidationResult{
				CheckName:    name,
				Status:       CheckFailed,
				Severity:     severity,
				Timestamp:    time.Now(),
				ErrorMessage: fmt.Sprintf("check panicked: %v", r),
			}
			v.logger.Error("Validation check panicked",
				zap.String("check", name), zap.Any("panic", r))
		}
	}()
	res = run(ctx)
	res.CheckName = name
	res.Severity = severity
	if res.Timestamp.IsZero() {
		res.Timestamp = time.Now()
	}
	return res
}

// OverallScore computes Σ(status·confidence·weight) / Σ(weight); always in [0,1].
func OverallScore(results []ValidationResult) float64 {
	var sum, weights float64
	for _, r := range results {
		w := severityWeight(r.Severity)
		sum += statusScore(r.Status) * r.ConfidenceScore * w
		weights += w
	}
	if weights == 0 {
		return 0
	}
	return sum / weights
}

func (v *Validator) checkPricingAccuracy(ctx context.Context, rec *domain.Recommendation) ValidationResult {
	if len(rec.Services) == 0 {
		return ValidationResult{
			Status:       CheckFailed,
			ErrorMessage: "recommendation names no services",
		}
	}

	var actual float64
	for _, svc := range rec.Services {
		pricing, err := v.cloud.GetServicePricing(ctx, svc.Provider, svc.Service, map[string]any{
			"region":         svc.Region,
			"tier":           svc.Tier,
			"instance_count": svc.InstanceCount,
		})
		if err != nil {
			return ValidationResult{
				Status:       CheckFailed,
				ErrorMessage: fmt.Sprintf("pricing lookup %s/%s: %v", svc.Provider, svc.Service, err),
			}
		}
		actual += pricing.MonthlyCost
	}

	claimed := rec.CostEstimateMonthly
	if claimed <= 0 {
		return ValidationResult{
			Status:       CheckFailed,
			ErrorMessage: "recommendation claims no monthly cost",
		}
	}
	if actual <= 0 {
		return ValidationResult{
			Status:       CheckFailed,
			ErrorMessage: "pricing source returned zero cost",
		}
	}
	// Relative to the recommended estimate: a 100 estimate against a 130
	// lookup is a 30% miss.
	relDiff := math.Abs(claimed-actual) / claimed
	details := map[string]any{
		"claimed_monthly_cost": claimed,
		"actual_monthly_cost":  actual,
		"relative_difference":  relDiff,
	}
	if relDiff <= v.cfg.PricingTolerance {
		return ValidationResult{Status: CheckValidated, ConfidenceScore: 1 - relDiff, Details: details}
	}
	return ValidationResult{
		Status:          CheckNeedsReview,
		ConfidenceScore: math.Max(0, 1-relDiff),
		Details:         details,
	}
}

func (v *Validator) checkServiceAvailability(ctx context.Context, rec *domain.Recommendation) ValidationResult {
	if len(rec.Services) == 0 {
		return ValidationResult{Status: CheckFailed, ErrorMessage: "recommendation names no services"}
	}

	total := 0
	available := 0
	var missing []string
	for _, svc := range rec.Services {
		total++
		ok, err := v.cloud.CheckServiceAvailability(ctx, svc.Provider, svc.Service, svc.Region)
		if err != nil {
			return ValidationResult{
				Status:       CheckFailed,
				ErrorMessage: fmt.Sprintf("availability lookup %s/%s: %v", svc.Provider, svc.Service, err),
			}
		}
		if ok {
			available++
		} else {
			missing = append(missing, fmt.Sprintf("%s/%s in %s", svc.Provider, svc.Service, svc.Region))
		}
	}

	details := map[string]any{"available": available, "total": total}
	if len(missing) > 0 {
		details["unavailable"] = missing
		return ValidationResult{
			Status:          CheckFailed,
			ConfidenceScore: float64(available) / float64(total),
			Details:         details,
		}
	}
	return ValidationResult{Status: CheckValidated, ConfidenceScore: 1.0, Details: details}
}

// complianceCoverage lists the frameworks each major provider attests to.
// Sourced from public compliance documentation; extend as providers certify.
var complianceCoverage = map[string]map[string]bool{
	"aws":   {"gdpr": true, "hipaa": true, "soc2": true, "pci-dss": true, "iso27001": true, "fedramp": true},
	"azure": {"gdpr": true, "hipaa": true, "soc2": true, "pci-dss": true, "iso27001": true, "fedramp": true},
	"gcp":   {"gdpr": true, "hipaa": true, "soc2": true, "pci-dss": true, "iso27001": true},
}

func (v *Validator) checkCompliance(rec *domain.Recommendation, assessment *domain.Assessment) ValidationResult {
	required := assessment.BusinessRequirements.ComplianceRequirements
	if len(required) == 0 {
		return ValidationResult{
			Status:          CheckValidated,
			ConfidenceScore: 1.0,
			Details:         map[string]any{"note": "no compliance requirements declared"},
		}
	}

	coverage := complianceCoverage[strings.ToLower(rec.Provider)]
	var covered, unknown []string
	for _, reg := range required {
		key := strings.ToLower(strings.TrimSpace(reg))
		if coverage[key] {
			covered = append(covered, reg)
		} else {
			unknown = append(unknown, reg)
		}
	}

	details := map[string]any{"covered": covered, "unverified": unknown}
	if len(unknown) == 0 {
		return ValidationResult{Status: CheckValidated, ConfidenceScore: 0.95, Details: details}
	}
	return ValidationResult{
		Status:          CheckNeedsReview,
		ConfidenceScore: float64(len(covered)) / float64(len(required)),
		Details:         details,
	}
}

func (v *Validator) checkCostOptimization(ctx context.Context, rec *domain.Recommendation) ValidationResult {
	var bestSavings float64
	var bestSwap string
	for _, svc := range rec.Services {
		if svc.MonthlyCost <= 0 {
			continue
		}
		alts, err := v.cloud.GetAlternativeServices(ctx, svc.Provider, svc.Service, map[string]any{"region": svc.Region})
		if err != nil {
			return ValidationResult{
				Status:       CheckFailed,
				ErrorMessage: fmt.Sprintf("alternatives lookup %s/%s: %v", svc.Provider, svc.Service, err),
			}
		}
		for _, alt := range alts {
			savings := (svc.MonthlyCost - alt.MonthlyCost) / svc.MonthlyCost
			if savings > bestSavings {
				bestSavings = savings
				bestSwap = fmt.Sprintf("%s -> %s", svc.Service, alt.Service)
			}
		}
	}

	details := map[string]any{"best_savings_ratio": bestSavings}
	if bestSwap != "" {
		details["suggested_swap"] = bestSwap
	}
	if bestSavings >= v.cfg.SavingsThreshold {
		return ValidationResult{
			Status:          CheckNeedsReview,
			ConfidenceScore: 0.8,
			Details:         details,
		}
	}
	return ValidationResult{Status: CheckValidated, ConfidenceScore: 0.9, Details: details}
}

// serviceClasses maps known service names to the requirement dimension they
// cover. Names outside the table fall back to keyword classification.
var serviceClasses = map[string]string{
	"ec2": "compute", "lightsail": "compute", "fargate": "compute", "lambda": "compute",
	"vm": "compute", "container-instances": "compute", "functions": "compute",
	"compute-engine": "compute", "cloud-run": "compute", "cloud-functions": "compute",
	"s3": "storage", "blob-storage": "storage", "cloud-storage": "storage",
	"rds": "storage", "aurora-serverless": "storage", "sql-database": "storage",
	"cloud-sql": "storage", "elasticache": "storage",
	"cloudfront": "network", "cloud-cdn": "network", "load-balancer": "network",
	"vpn-gateway": "network",
}

func classifyService(name string) string {
	key := strings.ToLower(name)
	if class, ok := serviceClasses[key]; ok {
		return class
	}
	switch {
	case strings.Contains(key, "storage") || strings.Contains(key, "sql") || strings.Contains(key, "db"):
		return "storage"
	case strings.Contains(key, "cdn") || strings.Contains(key, "network") || strings.Contains(key, "balancer"):
		return "network"
	default:
		return "compute"
	}
}

func (v *Validator) checkTechnicalFeasibility(rec *domain.Recommendation, assessment *domain.Assessment) ValidationResult {
	tech := assessment.TechnicalRequirements
	var problems []string

	if len(rec.Services) == 0 {
		problems = append(problems, "no services proposed")
	}
	if len(tech.Regions) > 0 {
		proposed := map[string]bool{}
		for _, svc := range rec.Services {
			proposed[strings.ToLower(svc.Region)] = true
		}
		for _, region := range tech.Regions {
			if !proposed[strings.ToLower(region)] {
				problems = append(problems, fmt.Sprintf("required region %s not covered", region))
			}
		}
	}

	classes := map[string]bool{}
	instances := 0
	for _, svc := range rec.Services {
		classes[classifyService(svc.Service)] = true
		instances += svc.InstanceCount
	}
	if (tech.ComputeCores > 0 || tech.MemoryGB > 0) && (!classes["compute"] || instances == 0) {
		problems = append(problems, fmt.Sprintf(
			"compute requirement (%d cores, %.0f GB memory) with no compute instances proposed",
			tech.ComputeCores, tech.MemoryGB))
	}
	if tech.StorageGB > 0 && !classes["storage"] {
		problems = append(problems, fmt.Sprintf("%.0f GB storage required but no storage service proposed", tech.StorageGB))
	}
	if tech.NetworkGbps > 0 && !classes["network"] {
		problems = append(problems, fmt.Sprintf("%.1f Gbps network throughput required but no network service proposed", tech.NetworkGbps))
	}

	details := map[string]any{"problems": problems}
	switch {
	case len(problems) == 0:
		return ValidationResult{Status: CheckValidated, ConfidenceScore: 0.9, Details: details}
	case len(problems) <= 2:
		return ValidationResult{Status: CheckNeedsReview, ConfidenceScore: 0.6, Details: details}
	default:
		return ValidationResult{Status: CheckFailed, ConfidenceScore: 0.3, Details: details}
	}
}

func (v *Validator) checkBusinessAlignment(rec *domain.Recommendation, assessment *domain.Assessment) ValidationResult {
	biz := assessment.BusinessRequirements
	details := map[string]any{}

	budget := biz.MonthlyBudget
	if budget <= 0 {
		return ValidationResult{
			Status:          CheckNeedsReview,
			ConfidenceScore: 0.5,
			Details:         map[string]any{"note": "no budget declared"},
		}
	}

	ratio := rec.CostEstimateMonthly / budget
	details["budget_ratio"] = ratio
	if ratio > 1.2 {
		return ValidationResult{
			Status:          CheckFailed,
			ConfidenceScore: 0.8,
			Details:         details,
			ErrorMessage:    fmt.Sprintf("estimated cost exceeds budget by %.0f%%", (ratio-1)*100),
		}
	}

	var concerns []string
	if ratio > 1.0 {
		concerns = append(concerns, fmt.Sprintf("estimated cost exceeds budget by %.0f%%", (ratio-1)*100))
	}
	if biz.TimelineMonths > 0 && len(rec.Services) > 2*biz.TimelineMonths {
		concerns = append(concerns, fmt.Sprintf("%d services to adopt within %d months", len(rec.Services), biz.TimelineMonths))
	}
	if len(biz.Goals) > 0 {
		var unmet []string
		for _, goal := range biz.Goals {
			if !mentionsGoal(rec, goal) {
				unmet = append(unmet, goal)
			}
		}
		details["goals_total"] = len(biz.Goals)
		details["goals_unmet"] = unmet
		if len(unmet)*2 > len(biz.Goals) {
			concerns = append(concerns, fmt.Sprintf("%d of %d stated goals not addressed", len(unmet), len(biz.Goals)))
		}
	}

	if len(concerns) > 0 {
		details["concerns"] = concerns
		return ValidationResult{Status: CheckNeedsReview, ConfidenceScore: 0.6, Details: details}
	}
	return ValidationResult{Status: CheckValidated, ConfidenceScore: 0.9, Details: details}
}

// mentionsGoal reports whether any substantive word of the goal appears in
// the recommendation's title, summary, or feature list.
func mentionsGoal(rec *domain.Recommendation, goal string) bool {
	text := strings.ToLower(rec.Title + " " + rec.Summary + " " + strings.Join(rec.Features, " "))
	for _, word := range strings.Fields(strings.ToLower(goal)) {
		if len(word) >= 4 && strings.Contains(text, word) {
			return true
		}
	}
	return false
}
