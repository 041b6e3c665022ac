package feedback

import (
	"math"
	"sort"
	"time"
)

// Component weights for the overall quality score.
const (
	weightAccuracy       = 0.30
	weightUsefulness     = 0.25
	weightImplementation = 0.25
	weightBusinessValue  = 0.20
)

// Tags that count toward strengths or improvement areas when repeated.
var (
	positiveTags = map[string]string{
		"accurate":        "accurate recommendations",
		"clear":           "clear explanations",
		"actionable":      "actionable guidance",
		"cost_effective":  "cost effective proposals",
		"well_documented": "well documented output",
	}
	negativeTags = map[string]string{
		"inaccurate":    "inaccurate recommendations",
		"too_expensive": "cost estimates too high",
		"outdated":      "outdated service knowledge",
		"confusing":     "confusing explanations",
		"incomplete":    "incomplete coverage",
	}
)

// ratingMean returns the mean of non-zero ratings via pick, and whether any
// rating was present.
func ratingMean(history []UserFeedback, pick func(UserFeedback) int) (float64, bool) {
	var sum, n int
	for _, f := range history {
		if r := pick(f); r > 0 {
			sum += r
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return float64(sum) / float64(n), true
}

// ComputeQualityScore recomputes one recommendation's score from its full
// feedback history. Component scores are mean(1..5)/5; the overall score is
// the weighted sum over components that have at least one rating, with the
// weights renormalized so absent dimensions do not drag the score down.
func ComputeQualityScore(recommendationID string, history []UserFeedback) QualityScore {
	qs := QualityScore{
		RecommendationID: recommendationID,
		SampleSize:       len(history),
		UpdatedAt:        time.Now(),
	}
	if len(history) == 0 {
		return qs
	}
	qs.AgentName = history[0].AgentName

	type component struct {
		score  *float64
		weight float64
		pick   func(UserFeedback) int
	}
	components := []component{
		{&qs.AccuracyScore, weightAccuracy, func(f UserFeedback) int { return f.AccuracyRating }},
		{&qs.UsefulnessScore, weightUsefulness, func(f UserFeedback) int { return f.UsefulnessRating }},
		{&qs.ImplementationScore, weightImplementation, func(f UserFeedback) int { return f.ImplementationRating }},
		{&qs.BusinessValueScore, weightBusinessValue, func(f UserFeedback) int { return f.BusinessValueRating }},
	}

	var weighted, weights float64
	for _, c := range components {
		mean, ok := ratingMean(history, c.pick)
		if !ok {
			continue
		}
		*c.score = mean / 5
		weighted += *c.score * c.weight
		weights += c.weight
	}
	if weights > 0 {
		qs.OverallScore = weighted / weights
	}

	qs.ConfidenceMargin = math.Min(1, 0.1/math.Sqrt(float64(len(history))))
	qs.ConfidenceLow = math.Max(0, qs.OverallScore-qs.ConfidenceMargin)
	qs.ConfidenceHigh = math.Min(1, qs.OverallScore+qs.ConfidenceMargin)
	return qs
}

// implementationSuccessRate is the fraction of reported implementation
// outcomes that succeeded, with the report count alongside.
func implementationSuccessRate(history []UserFeedback) (rate float64, reports int) {
	succeeded := 0
	for _, f := range history {
		if f.ImplementationSuccess == nil {
			continue
		}
		reports++
		if *f.ImplementationSuccess {
			succeeded++
		}
	}
	if reports == 0 {
		return 0, 0
	}
	return float64(succeeded) / float64(reports), reports
}

// ComputeAgentMetrics recomputes one agent's aggregate from its full feedback
// history. The improvement trend is mean rating in the last 30 days minus the
// mean in the preceding 30-day window.
func ComputeAgentMetrics(agentName string, history []UserFeedback, now time.Time) AgentPerformanceMetrics {
	m := AgentPerformanceMetrics{
		AgentName:     agentName,
		TotalFeedback: len(history),
		UpdatedAt:     now,
	}
	if len(history) == 0 {
		return m
	}

	if avg, ok := ratingMean(history, func(f UserFeedback) int { return f.Rating }); ok {
		m.AverageRating = avg
	}
	if acc, ok := ratingMean(history, func(f UserFeedback) int { return f.AccuracyRating }); ok {
		m.AccuracyScore = acc / 5
	}
	if use, ok := ratingMean(history, func(f UserFeedback) int { return f.UsefulnessRating }); ok {
		m.UsefulnessScore = use / 5
	}
	if impl, ok := ratingMean(history, func(f UserFeedback) int { return f.ImplementationRating }); ok {
		m.ImplementationScore = impl / 5
	}
	if biz, ok := ratingMean(history, func(f UserFeedback) int { return f.BusinessValueRating }); ok {
		m.BusinessValueScore = biz / 5
	}

	m.ImplementationSuccessRate, m.ImplementationReports = implementationSuccessRate(history)
	m.UserSatisfactionScore = m.AverageRating / 5
	m.ImprovementTrend = improvementTrend(history, now)
	m.Last30Days = windowMetrics(history, now)
	m.Strengths, m.ImprovementAreas = deriveQualities(history)
	return m
}

// windowMetrics summarizes the feedback received in the last 30 days.
func windowMetrics(history []UserFeedback, now time.Time) WindowMetrics {
	cutoff := now.Add(-30 * 24 * time.Hour)
	var recent []UserFeedback
	for _, f := range history {
		if f.CreatedAt.After(cutoff) {
			recent = append(recent, f)
		}
	}
	w := WindowMetrics{FeedbackCount: len(recent)}
	if avg, ok := ratingMean(recent, func(f UserFeedback) int { return f.Rating }); ok {
		w.AverageRating = avg
	}
	w.ImplementationSuccessRate, _ = implementationSuccessRate(recent)
	return w
}

func improvementTrend(history []UserFeedback, now time.Time) float64 {
	recentCutoff := now.Add(-30 * 24 * time.Hour)
	priorCutoff := now.Add(-60 * 24 * time.Hour)

	var recent, prior []UserFeedback
	for _, f := range history {
		switch {
		case f.CreatedAt.After(recentCutoff):
			recent = append(recent, f)
		case f.CreatedAt.After(priorCutoff):
			prior = append(prior, f)
		}
	}
	recentMean, okR := ratingMean(recent, func(f UserFeedback) int { return f.Rating })
	priorMean, okP := ratingMean(prior, func(f UserFeedback) int { return f.Rating })
	if !okR || !okP {
		return 0
	}
	return recentMean - priorMean
}

// deriveQualities turns per-dimension averages and repeated tags into up to
// five strengths and five improvement areas.
func deriveQualities(history []UserFeedback) (strengths, areas []string) {
	dims := []struct {
		name string
		pick func(UserFeedback) int
	}{
		{"accuracy", func(f UserFeedback) int { return f.AccuracyRating }},
		{"usefulness", func(f UserFeedback) int { return f.UsefulnessRating }},
		{"implementation", func(f UserFeedback) int { return f.ImplementationRating }},
		{"business_value", func(f UserFeedback) int { return f.BusinessValueRating }},
	}
	for _, d := range dims {
		mean, ok := ratingMean(history, d.pick)
		if !ok {
			continue
		}
		if mean >= 4.0 {
			strengths = append(strengths, d.name)
		} else if mean <= 2.5 {
			areas = append(areas, d.name)
		}
	}

	tagCounts := map[string]int{}
	for _, f := range history {
		for _, tag := range f.Tags {
			tagCounts[tag]++
		}
	}
	var repeated []string
	for tag, n := range tagCounts {
		if n >= 2 {
			repeated = append(repeated, tag)
		}
	}
	sort.Strings(repeated)
	for _, tag := range repeated {
		if label, ok := positiveTags[tag]; ok {
			strengths = append(strengths, label)
		}
		if label, ok := negativeTags[tag]; ok {
			areas = append(areas, label)
		}
	}

	if len(strengths) > 5 {
		strengths = strengths[:5]
	}
	if len(areas) > 5 {
		areas = areas[:5]
	}
	return strengths, areas
}
