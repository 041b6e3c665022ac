package feedback

import (
	"math"
	"testing"
	"time"
)

func fb(rating, acc, use, impl, biz int, age time.Duration, tags ...string) UserFeedback {
	return UserFeedback{
		RecommendationID:     "rec-1",
		AgentName:            "architect",
		Rating:               rating,
		AccuracyRating:       acc,
		UsefulnessRating:     use,
		ImplementationRating: impl,
		BusinessValueRating:  biz,
		Tags:                 tags,
		CreatedAt:            time.Now().Add(-age),
	}
}

func TestComputeQualityScoreWeights(t *testing.T) {
	history := []UserFeedback{
		fb(4, 5, 4, 3, 2, 0),
		fb(4, 5, 4, 3, 2, 0),
	}
	qs := ComputeQualityScore("rec-1", history)

	if qs.SampleSize != 2 {
		t.Fatalf("expected sample size 2, got %d", qs.SampleSize)
	}
	if qs.AccuracyScore != 1.0 {
		t.Fatalf("expected accuracy 1.0, got %v", qs.AccuracyScore)
	}
	// 0.30*1.0 + 0.25*0.8 + 0.25*0.6 + 0.20*0.4 = 0.73
	if math.Abs(qs.OverallScore-0.73) > 1e-9 {
		t.Fatalf("expected overall 0.73, got %v", qs.OverallScore)
	}
	// margin = 0.1/sqrt(2)
	want := 0.1 / math.Sqrt(2)
	if math.Abs(qs.ConfidenceMargin-want) > 1e-9 {
		t.Fatalf("expected margin %v, got %v", want, qs.ConfidenceMargin)
	}
}

func boolPtr(b bool) *bool { return &b }

func TestConfidenceIntervalClipped(t *testing.T) {
	qs := ComputeQualityScore("rec-1", []UserFeedback{fb(5, 5, 5, 5, 5, 0)})

	// overall 1.0, margin 0.1: interval [0.9, 1.0]
	if math.Abs(qs.ConfidenceLow-0.9) > 1e-9 {
		t.Fatalf("expected low 0.9, got %v", qs.ConfidenceLow)
	}
	if qs.ConfidenceHigh != 1.0 {
		t.Fatalf("expected high clipped to 1.0, got %v", qs.ConfidenceHigh)
	}
}

func TestImplementationSuccessRate(t *testing.T) {
	history := []UserFeedback{
		fb(4, 0, 0, 0, 0, 0),
		fb(4, 0, 0, 0, 0, 0),
		fb(4, 0, 0, 0, 0, 0),
		fb(2, 0, 0, 0, 0, 0),
	}
	history[0].ImplementationSuccess = boolPtr(true)
	history[1].ImplementationSuccess = boolPtr(true)
	history[2].ImplementationSuccess = boolPtr(false)
	// history[3] reports no outcome and must not count

	m := ComputeAgentMetrics("architect", history, time.Now())
	if m.ImplementationReports != 3 {
		t.Fatalf("expected 3 implementation reports, got %d", m.ImplementationReports)
	}
	if math.Abs(m.ImplementationSuccessRate-2.0/3.0) > 1e-9 {
		t.Fatalf("expected success rate 2/3, got %v", m.ImplementationSuccessRate)
	}
}

func TestSatisfactionAndLast30DaysBreakdown(t *testing.T) {
	history := []UserFeedback{
		fb(2, 0, 0, 0, 0, 45*24*time.Hour), // outside the window
		fb(4, 0, 0, 0, 0, 24*time.Hour),
		fb(5, 0, 0, 0, 0, 2*24*time.Hour),
	}
	history[1].ImplementationSuccess = boolPtr(true)

	m := ComputeAgentMetrics("architect", history, time.Now())
	if math.Abs(m.UserSatisfactionScore-m.AverageRating/5) > 1e-9 {
		t.Fatalf("expected satisfaction %v, got %v", m.AverageRating/5, m.UserSatisfactionScore)
	}
	if m.Last30Days.FeedbackCount != 2 {
		t.Fatalf("expected 2 recent feedback, got %d", m.Last30Days.FeedbackCount)
	}
	if math.Abs(m.Last30Days.AverageRating-4.5) > 1e-9 {
		t.Fatalf("expected recent average 4.5, got %v", m.Last30Days.AverageRating)
	}
	if m.Last30Days.ImplementationSuccessRate != 1.0 {
		t.Fatalf("expected recent success rate 1.0, got %v", m.Last30Days.ImplementationSuccessRate)
	}
}

func TestComputeQualityScoreIdempotent(t *testing.T) {
	history := []UserFeedback{fb(3, 4, 3, 0, 2, 0), fb(5, 5, 5, 5, 5, 0)}
	a := ComputeQualityScore("rec-1", history)
	b := ComputeQualityScore("rec-1", history)

	if a.OverallScore != b.OverallScore || a.AccuracyScore != b.AccuracyScore ||
		a.SampleSize != b.SampleSize || a.ConfidenceMargin != b.ConfidenceMargin {
		t.Fatalf("recompute from same history diverged: %+v vs %+v", a, b)
	}
}

func TestMissingDimensionsExcluded(t *testing.T) {
	// nobody rated implementation or business value
	history := []UserFeedback{fb(4, 4, 4, 0, 0, 0), fb(4, 4, 4, 0, 0, 0)}
	qs := ComputeQualityScore("rec-1", history)

	if qs.ImplementationScore != 0 || qs.BusinessValueScore != 0 {
		t.Fatal("unrated dimensions must stay zero")
	}
	// overall renormalizes over accuracy and usefulness only: both 0.8
	if math.Abs(qs.OverallScore-0.8) > 1e-9 {
		t.Fatalf("expected overall 0.8 over present dimensions, got %v", qs.OverallScore)
	}
}

func TestEmptyHistory(t *testing.T) {
	qs := ComputeQualityScore("rec-1", nil)
	if qs.SampleSize != 0 || qs.OverallScore != 0 {
		t.Fatalf("expected zero score for empty history, got %+v", qs)
	}
}

func TestImprovementTrend(t *testing.T) {
	history := []UserFeedback{
		// prior window: 30..60 days ago, mean 2
		fb(2, 0, 0, 0, 0, 45*24*time.Hour),
		fb(2, 0, 0, 0, 0, 40*24*time.Hour),
		// recent window: mean 4
		fb(4, 0, 0, 0, 0, 24*time.Hour),
		fb(4, 0, 0, 0, 0, 2*24*time.Hour),
	}
	m := ComputeAgentMetrics("architect", history, time.Now())
	if math.Abs(m.ImprovementTrend-2.0) > 1e-9 {
		t.Fatalf("expected trend +2.0, got %v", m.ImprovementTrend)
	}
}

func TestTrendRequiresBothWindows(t *testing.T) {
	history := []UserFeedback{fb(5, 0, 0, 0, 0, 24*time.Hour)}
	m := ComputeAgentMetrics("architect", history, time.Now())
	if m.ImprovementTrend != 0 {
		t.Fatalf("expected zero trend with no prior window, got %v", m.ImprovementTrend)
	}
}

func TestStrengthsAndImprovementAreas(t *testing.T) {
	history := []UserFeedback{
		fb(4, 5, 5, 2, 0, 0, "accurate"),
		fb(4, 4, 5, 2, 0, 0, "accurate", "too_expensive"),
		fb(4, 5, 4, 3, 0, 0, "too_expensive"),
	}
	m := ComputeAgentMetrics("architect", history, time.Now())

	hasStrength := func(s string) bool {
		for _, v := range m.Strengths {
			if v == s {
				return true
			}
		}
		return false
	}
	hasArea := func(s string) bool {
		for _, v := range m.ImprovementAreas {
			if v == s {
				return true
			}
		}
		return false
	}

	if !hasStrength("accuracy") || !hasStrength("usefulness") {
		t.Fatalf("expected accuracy and usefulness strengths, got %v", m.Strengths)
	}
	if !hasStrength("accurate recommendations") {
		t.Fatalf("expected repeated positive tag as strength, got %v", m.Strengths)
	}
	if !hasArea("implementation") {
		t.Fatalf("expected implementation improvement area, got %v", m.ImprovementAreas)
	}
	if !hasArea("cost estimates too high") {
		t.Fatalf("expected repeated negative tag as area, got %v", m.ImprovementAreas)
	}
	if len(m.Strengths) > 5 || len(m.ImprovementAreas) > 5 {
		t.Fatal("lists must be capped at 5")
	}
}
