package improvement

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/inframind/platform/internal/config"
	"github.com/inframind/platform/internal/metrics"
	"github.com/inframind/platform/internal/quality/feedback"
	"github.com/inframind/platform/internal/store"
)

type fakeHealth struct {
	health metrics.SystemHealth
}

func (f *fakeHealth) GetSystemHealth() metrics.SystemHealth { return f.health }

func testThresholds() config.Thresholds {
	return config.Thresholds{
		MinQualityScore:          0.6,
		MinAccuracy:              0.7,
		MinSatisfaction:          3.0,
		MinImplementationSuccess: 0.5,
		MaxResponseTimeSeconds:   5.0,
		MaxErrorRatePercent:      5.0,
	}
}

func testSystem(health metrics.SystemHealth) (*System, store.Store) {
	st := store.NewMemStore()
	sys := New(st, &fakeHealth{health: health}, config.ImprovementConfig{
		Thresholds: testThresholds(),
	}, zap.NewNop())
	return sys, st
}

func countAlerts(t *testing.T, st store.Store, filter store.Filter) int64 {
	t.Helper()
	n, err := st.Collection(store.QualityAlerts).CountDocuments(context.Background(), filter)
	if err != nil {
		t.Fatalf("count alerts: %v", err)
	}
	return n
}

func TestRealTimeChecksRaiseAlerts(t *testing.T) {
	sys, st := testSystem(metrics.SystemHealth{
		ResponseTimeMs:   8000,
		ErrorRatePercent: 12,
	})
	ctx := context.Background()

	sys.RunRealTimeChecks(ctx)

	if n := countAlerts(t, st, store.Filter{"alert_type": AlertSlowResponse}); n != 1 {
		t.Fatalf("slow response alerts = %d, want 1", n)
	}
	if n := countAlerts(t, st, store.Filter{"alert_type": AlertHighErrorRate}); n != 1 {
		t.Fatalf("error rate alerts = %d, want 1", n)
	}
}

func TestRealTimeChecksHealthySystem(t *testing.T) {
	sys, st := testSystem(metrics.SystemHealth{
		ResponseTimeMs:   900,
		ErrorRatePercent: 0.5,
	})
	sys.RunRealTimeChecks(context.Background())

	if n := countAlerts(t, st, nil); n != 0 {
		t.Fatalf("alerts on healthy system = %d, want 0", n)
	}
}

func TestAlertDeduplication(t *testing.T) {
	sys, st := testSystem(metrics.SystemHealth{ErrorRatePercent: 12})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		sys.RunRealTimeChecks(ctx)
	}
	if n := countAlerts(t, st, store.Filter{"alert_type": AlertHighErrorRate}); n != 1 {
		t.Fatalf("unresolved duplicate alerts = %d, want 1", n)
	}

	docs, err := st.Collection(store.QualityAlerts).Find(ctx, nil, nil)
	if err != nil {
		t.Fatalf("find alerts: %v", err)
	}
	alerts, err := store.DecodeAll[QualityAlert](docs)
	if err != nil {
		t.Fatalf("decode alerts: %v", err)
	}
	if err := sys.ResolveAlert(ctx, alerts[0].ID); err != nil {
		t.Fatalf("resolve alert: %v", err)
	}

	sys.RunRealTimeChecks(ctx)
	if n := countAlerts(t, st, store.Filter{"alert_type": AlertHighErrorRate}); n != 2 {
		t.Fatalf("alerts after resolve = %d, want 2", n)
	}
}

func TestShortTermChecksFlagLowScores(t *testing.T) {
	sys, st := testSystem(metrics.SystemHealth{})
	ctx := context.Background()
	scores := st.Collection(store.QualityScores)

	seed := []feedback.QualityScore{
		{RecommendationID: "r1", AgentName: "architect", OverallScore: 0.9, AccuracyScore: 0.9, UpdatedAt: time.Now()},
		{RecommendationID: "r2", AgentName: "estimator", OverallScore: 0.4, AccuracyScore: 0.5, UpdatedAt: time.Now()},
		{RecommendationID: "r3", AgentName: "estimator", OverallScore: 0.5, AccuracyScore: 0.6, UpdatedAt: time.Now()},
		// Outside the 24h window, ignored even though it is poor.
		{RecommendationID: "r4", AgentName: "architect", OverallScore: 0.1, AccuracyScore: 0.1, UpdatedAt: time.Now().Add(-48 * time.Hour)},
	}
	for _, sc := range seed {
		if err := scores.InsertOne(ctx, sc); err != nil {
			t.Fatalf("seed score: %v", err)
		}
	}

	sys.RunShortTermChecks(ctx)

	if n := countAlerts(t, st, store.Filter{"agent_name": "estimator", "alert_type": AlertLowQualityScore}); n != 1 {
		t.Fatalf("estimator quality alerts = %d, want 1", n)
	}
	if n := countAlerts(t, st, store.Filter{"agent_name": "estimator", "alert_type": AlertLowAccuracy}); n != 1 {
		t.Fatalf("estimator accuracy alerts = %d, want 1", n)
	}
	if n := countAlerts(t, st, store.Filter{"agent_name": "architect"}); n != 0 {
		t.Fatalf("architect alerts = %d, want 0", n)
	}
}

func TestMediumTermChecksFlagAgentAggregates(t *testing.T) {
	sys, st := testSystem(metrics.SystemHealth{})
	ctx := context.Background()
	agents := st.Collection(store.AgentMetrics)

	seed := []feedback.AgentPerformanceMetrics{
		{AgentName: "architect", TotalFeedback: 20, AverageRating: 4.2, ImplementationSuccessRate: 0.8, ImplementationReports: 12},
		{AgentName: "estimator", TotalFeedback: 15, AverageRating: 2.1, ImplementationSuccessRate: 0.3, ImplementationReports: 9},
		{AgentName: "fresh", TotalFeedback: 0, AverageRating: 0},
	}
	for _, a := range seed {
		if err := agents.InsertOne(ctx, a); err != nil {
			t.Fatalf("seed agent metrics: %v", err)
		}
	}

	sys.RunMediumTermChecks(ctx)

	if n := countAlerts(t, st, store.Filter{"agent_name": "estimator", "alert_type": AlertLowSatisfaction}); n != 1 {
		t.Fatalf("satisfaction alerts = %d, want 1", n)
	}
	if n := countAlerts(t, st, store.Filter{"agent_name": "estimator", "alert_type": AlertLowImplementation}); n != 1 {
		t.Fatalf("implementation alerts = %d, want 1", n)
	}
	if n := countAlerts(t, st, store.Filter{"agent_name": "fresh"}); n != 0 {
		t.Fatalf("alerts for agent without feedback = %d, want 0", n)
	}
}

func seedDailyScores(t *testing.T, st store.Store, days int, scoreFor func(daysAgo int) float64) {
	t.Helper()
	ctx := context.Background()
	scores := st.Collection(store.QualityScores)
	for d := days - 1; d >= 0; d-- {
		sc := feedback.QualityScore{
			RecommendationID: fmt.Sprintf("rec-%d", d),
			AgentName:        "architect",
			OverallScore:     scoreFor(d),
			UpdatedAt:        time.Now().Add(-time.Duration(d) * 24 * time.Hour),
		}
		if err := scores.InsertOne(ctx, sc); err != nil {
			t.Fatalf("seed score: %v", err)
		}
	}
}

func TestAnalyzeTrendImproving(t *testing.T) {
	sys, st := testSystem(metrics.SystemHealth{})
	// Older days score 0.5, recent days 0.8.
	seedDailyScores(t, st, 6, func(daysAgo int) float64 {
		if daysAgo >= 3 {
			return 0.5
		}
		return 0.8
	})

	tr, err := sys.AnalyzeTrend(context.Background(), 7)
	if err != nil {
		t.Fatalf("analyze trend: %v", err)
	}
	if tr.Trend != TrendImproving {
		t.Fatalf("trend = %s, want %s (change %.3f)", tr.Trend, TrendImproving, tr.ChangeRatio)
	}
	if tr.SampleDays != 6 {
		t.Fatalf("sample days = %d, want 6", tr.SampleDays)
	}
	if tr.ChangeRatio < 0.5 {
		t.Fatalf("change ratio = %.3f, want >= 0.5", tr.ChangeRatio)
	}
}

func TestAnalyzeTrendDeclining(t *testing.T) {
	sys, st := testSystem(metrics.SystemHealth{})
	seedDailyScores(t, st, 6, func(daysAgo int) float64 {
		if daysAgo >= 3 {
			return 0.9
		}
		return 0.6
	})

	tr, err := sys.AnalyzeTrend(context.Background(), 7)
	if err != nil {
		t.Fatalf("analyze trend: %v", err)
	}
	if tr.Trend != TrendDeclining {
		t.Fatalf("trend = %s, want %s", tr.Trend, TrendDeclining)
	}
}

func TestAnalyzeTrendStableWithinBand(t *testing.T) {
	sys, st := testSystem(metrics.SystemHealth{})
	seedDailyScores(t, st, 6, func(daysAgo int) float64 {
		if daysAgo >= 3 {
			return 0.800
		}
		return 0.810
	})

	tr, err := sys.AnalyzeTrend(context.Background(), 7)
	if err != nil {
		t.Fatalf("analyze trend: %v", err)
	}
	if tr.Trend != TrendStable {
		t.Fatalf("trend = %s, want %s (change %.4f)", tr.Trend, TrendStable, tr.ChangeRatio)
	}
}

func TestAnalyzeTrendInsufficientData(t *testing.T) {
	sys, st := testSystem(metrics.SystemHealth{})
	seedDailyScores(t, st, 1, func(int) float64 { return 0.7 })

	tr, err := sys.AnalyzeTrend(context.Background(), 7)
	if err != nil {
		t.Fatalf("analyze trend: %v", err)
	}
	if tr.Trend != TrendStable || tr.SampleDays != 1 {
		t.Fatalf("trend = %s sample days = %d, want stable with 1 day", tr.Trend, tr.SampleDays)
	}
}

func TestRepeatedAlertsOpenAction(t *testing.T) {
	sys, st := testSystem(metrics.SystemHealth{})
	ctx := context.Background()
	alerts := st.Collection(store.QualityAlerts)

	for i := 0; i < 3; i++ {
		a := QualityAlert{
			ID:        fmt.Sprintf("a%d", i),
			Type:      AlertLowAccuracy,
			Severity:  "medium",
			AgentName: "estimator",
			CreatedAt: time.Now().Add(-time.Duration(i) * 24 * time.Hour),
			Resolved:  i > 0,
		}
		if err := alerts.InsertOne(ctx, a); err != nil {
			t.Fatalf("seed alert: %v", err)
		}
	}

	sys.synthesizeActions(ctx)
	sys.synthesizeActions(ctx)

	actions := st.Collection(store.ImprovementActions)
	n, err := actions.CountDocuments(ctx, store.Filter{"agent_name": "estimator"})
	if err != nil {
		t.Fatalf("count actions: %v", err)
	}
	if n != 1 {
		t.Fatalf("actions = %d, want 1 even after repeated synthesis", n)
	}

	docs, err := actions.Find(ctx, nil, nil)
	if err != nil {
		t.Fatalf("find actions: %v", err)
	}
	got, err := store.DecodeAll[ImprovementAction](docs)
	if err != nil {
		t.Fatalf("decode actions: %v", err)
	}
	if got[0].ActionType != "retrain_agent" {
		t.Fatalf("action type = %s, want retrain_agent", got[0].ActionType)
	}
	if got[0].AlertCount != 3 {
		t.Fatalf("alert count = %d, want 3", got[0].AlertCount)
	}
}

func TestTwoAlertsDoNotOpenAction(t *testing.T) {
	sys, st := testSystem(metrics.SystemHealth{})
	ctx := context.Background()
	alerts := st.Collection(store.QualityAlerts)

	for i := 0; i < 2; i++ {
		a := QualityAlert{
			ID:        fmt.Sprintf("b%d", i),
			Type:      AlertLowSatisfaction,
			AgentName: "architect",
			CreatedAt: time.Now(),
		}
		if err := alerts.InsertOne(ctx, a); err != nil {
			t.Fatalf("seed alert: %v", err)
		}
	}

	sys.synthesizeActions(ctx)

	n, err := st.Collection(store.ImprovementActions).CountDocuments(ctx, nil)
	if err != nil {
		t.Fatalf("count actions: %v", err)
	}
	if n != 0 {
		t.Fatalf("actions = %d, want 0 below the repeat threshold", n)
	}
}

func TestCleanupRetention(t *testing.T) {
	sys, st := testSystem(metrics.SystemHealth{})
	ctx := context.Background()

	alerts := st.Collection(store.QualityAlerts)
	oldResolved := QualityAlert{ID: "old", Type: AlertLowAccuracy, Resolved: true, CreatedAt: time.Now().Add(-40 * 24 * time.Hour)}
	oldUnresolved := QualityAlert{ID: "old-open", Type: AlertLowAccuracy, Resolved: false, CreatedAt: time.Now().Add(-40 * 24 * time.Hour)}
	recent := QualityAlert{ID: "recent", Type: AlertLowAccuracy, Resolved: true, CreatedAt: time.Now()}
	for _, a := range []QualityAlert{oldResolved, oldUnresolved, recent} {
		if err := alerts.InsertOne(ctx, a); err != nil {
			t.Fatalf("seed alert: %v", err)
		}
	}

	reports := st.Collection(store.QualityReports)
	oldReport := QualityReport{ID: "old-report", GeneratedAt: time.Now().Add(-200 * 24 * time.Hour)}
	newReport := QualityReport{ID: "new-report", GeneratedAt: time.Now()}
	for _, r := range []QualityReport{oldReport, newReport} {
		if err := reports.InsertOne(ctx, r); err != nil {
			t.Fatalf("seed report: %v", err)
		}
	}

	sys.Cleanup(ctx)

	if n := countAlerts(t, st, nil); n != 2 {
		t.Fatalf("alerts after cleanup = %d, want 2 (old unresolved and recent kept)", n)
	}
	if n, _ := reports.CountDocuments(ctx, nil); n != 1 {
		t.Fatalf("reports after cleanup = %d, want 1", n)
	}
}

func TestRunLongTermChecksPersistsReport(t *testing.T) {
	sys, st := testSystem(metrics.SystemHealth{})
	seedDailyScores(t, st, 6, func(daysAgo int) float64 { return 0.7 })
	ctx := context.Background()

	sys.RunLongTermChecks(ctx)

	docs, err := st.Collection(store.QualityReports).Find(ctx, nil, nil)
	if err != nil {
		t.Fatalf("find reports: %v", err)
	}
	got, err := store.DecodeAll[QualityReport](docs)
	if err != nil {
		t.Fatalf("decode reports: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("reports = %d, want 1", len(got))
	}
	if len(got[0].Trends) != 3 {
		t.Fatalf("trend windows = %d, want 3", len(got[0].Trends))
	}
}

func TestSetThresholdsTakesEffect(t *testing.T) {
	sys, st := testSystem(metrics.SystemHealth{ErrorRatePercent: 3})
	ctx := context.Background()

	sys.RunRealTimeChecks(ctx)
	if n := countAlerts(t, st, nil); n != 0 {
		t.Fatalf("alerts before tightening = %d, want 0", n)
	}

	tight := testThresholds()
	tight.MaxErrorRatePercent = 1
	sys.SetThresholds(tight)

	sys.RunRealTimeChecks(ctx)
	if n := countAlerts(t, st, store.Filter{"alert_type": AlertHighErrorRate}); n != 1 {
		t.Fatalf("alerts after tightening = %d, want 1", n)
	}
}
