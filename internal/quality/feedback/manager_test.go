package feedback

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/inframind/platform/internal/store"
)

func seedScores(t *testing.T, st store.Store, scores []QualityScore) {
	t.Helper()
	ctx := context.Background()
	for _, s := range scores {
		if err := st.Collection(store.QualityScores).InsertOne(ctx, s); err != nil {
			t.Fatalf("seed score: %v", err)
		}
	}
}

func TestGetQualityScore(t *testing.T) {
	st := store.NewMemStore()
	seedScores(t, st, []QualityScore{
		{RecommendationID: "rec-1", AgentName: "architect", OverallScore: 0.82, SampleSize: 4, UpdatedAt: time.Now()},
	})
	m := NewScoreManager(st, nil, time.Hour, zap.NewNop())

	qs, err := m.GetQualityScore(context.Background(), "rec-1")
	if err != nil {
		t.Fatalf("GetQualityScore failed: %v", err)
	}
	if qs.OverallScore != 0.82 || qs.SampleSize != 4 {
		t.Fatalf("unexpected score: %+v", qs)
	}

	if _, err := m.GetQualityScore(context.Background(), "rec-missing"); err == nil {
		t.Fatal("expected error for unknown recommendation")
	}
}

func TestSystemOverview(t *testing.T) {
	st := store.NewMemStore()
	seedScores(t, st, []QualityScore{
		{RecommendationID: "r1", OverallScore: 0.9, AccuracyScore: 0.9, UsefulnessScore: 0.8},
		{RecommendationID: "r2", OverallScore: 0.7, AccuracyScore: 0.6, UsefulnessScore: 0.7},
		{RecommendationID: "r3", OverallScore: 0.5},
		{RecommendationID: "r4", OverallScore: 0.2},
	})
	ctx := context.Background()
	for _, am := range []AgentPerformanceMetrics{
		{AgentName: "architect", AverageRating: 4.5, TotalFeedback: 20},
		{AgentName: "estimator", AverageRating: 2.1, TotalFeedback: 8},
	} {
		if err := st.Collection(store.AgentMetrics).InsertOne(ctx, am); err != nil {
			t.Fatalf("seed agent metrics: %v", err)
		}
	}

	m := NewScoreManager(st, nil, time.Hour, zap.NewNop())
	ov, err := m.GetSystemOverview(ctx)
	if err != nil {
		t.Fatalf("GetSystemOverview failed: %v", err)
	}

	if ov.TotalScores != 4 {
		t.Fatalf("expected 4 scores, got %d", ov.TotalScores)
	}
	d := ov.Distribution
	if d.Excellent != 1 || d.Good != 1 || d.Fair != 1 || d.Poor != 1 {
		t.Fatalf("unexpected distribution: %+v", d)
	}
	if len(ov.TopAgents) == 0 || ov.TopAgents[0].AgentName != "architect" {
		t.Fatalf("expected architect on top, got %+v", ov.TopAgents)
	}
	if len(ov.AtRiskAgents) != 1 || ov.AtRiskAgents[0].AgentName != "estimator" {
		t.Fatalf("expected estimator at risk, got %+v", ov.AtRiskAgents)
	}
}
