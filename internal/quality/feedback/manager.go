package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/inframind/platform/internal/cache"
	"github.com/inframind/platform/internal/store"
)

// ScoreDistribution buckets quality scores for the system overview.
type ScoreDistribution struct {
	Excellent int `json:"excellent"` // >= 0.8
	Good      int `json:"good"`      // >= 0.6
	Fair      int `json:"fair"`      // >= 0.4
	Poor      int `json:"poor"`      // < 0.4
}

// AgentRanking is one entry in the top/at-risk lists.
type AgentRanking struct {
	AgentName     string  `json:"agent_name"`
	AverageRating float64 `json:"average_rating"`
	TotalFeedback int     `json:"total_feedback"`
}

// SystemOverview is the fleet-wide quality summary.
type SystemOverview struct {
	TotalScores         int               `json:"total_scores"`
	MeanOverallScore    float64           `json:"mean_overall_score"`
	MeanAccuracyScore   float64           `json:"mean_accuracy_score"`
	MeanUsefulnessScore float64           `json:"mean_usefulness_score"`
	Distribution        ScoreDistribution `json:"distribution"`
	TopAgents           []AgentRanking    `json:"top_agents"`
	AtRiskAgents        []AgentRanking    `json:"at_risk_agents"`
	GeneratedAt         time.Time         `json:"generated_at"`
}

// ScoreManager serves score reads through a short-TTL cache. Scores are
// eventually consistent with feedback submission; readers must tolerate a
// recompute still in flight.
type ScoreManager struct {
	store    store.Store
	cache    cache.Cache
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewScoreManager creates a score manager. ttl <= 0 defaults to 1h.
func NewScoreManager(st store.Store, c cache.Cache, ttl time.Duration, logger *zap.Logger) *ScoreManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c == nil {
		c = cache.Null{}
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ScoreManager{store: st, cache: c, cacheTTL: ttl, logger: logger}
}

// GetQualityScore returns the cached or stored score for a recommendation.
func (m *ScoreManager) GetQualityScore(ctx context.Context, recommendationID string) (*QualityScore, error) {
	key := "quality:score:" + recommendationID
	if raw, ok := m.cache.Get(ctx, key); ok {
		var qs QualityScore
		if err := json.Unmarshal([]byte(raw), &qs); err == nil {
			return &qs, nil
		}
	}

	doc, err := m.store.Collection(store.QualityScores).FindOne(ctx,
		store.Filter{"recommendation_id": recommendationID})
	if err != nil {
		return nil, err
	}
	var qs QualityScore
	if err := store.Decode(doc, &qs); err != nil {
		return nil, fmt.Errorf("decode quality score: %w", err)
	}
	if raw, err := json.Marshal(qs); err == nil {
		m.cache.Set(ctx, key, string(raw), m.cacheTTL)
	}
	return &qs, nil
}

// GetAgentMetrics returns the cached or stored metrics for an agent.
func (m *ScoreManager) GetAgentMetrics(ctx context.Context, agentName string) (*AgentPerformanceMetrics, error) {
	key := "quality:agent:" + agentName
	if raw, ok := m.cache.Get(ctx, key); ok {
		var am AgentPerformanceMetrics
		if err := json.Unmarshal([]byte(raw), &am); err == nil {
			return &am, nil
		}
	}

	doc, err := m.store.Collection(store.AgentMetrics).FindOne(ctx,
		store.Filter{"agent_name": agentName})
	if err != nil {
		return nil, err
	}
	var am AgentPerformanceMetrics
	if err := store.Decode(doc, &am); err != nil {
		return nil, fmt.Errorf("decode agent metrics: %w", err)
	}
	if raw, err := json.Marshal(am); err == nil {
		m.cache.Set(ctx, key, string(raw), m.cacheTTL)
	}
	return &am, nil
}

// GetSystemOverview aggregates all quality scores and agent metrics.
func (m *ScoreManager) GetSystemOverview(ctx context.Context) (*SystemOverview, error) {
	scoreDocs, err := m.store.Collection(store.QualityScores).Find(ctx, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("load quality scores: %w", err)
	}
	scores, err := store.DecodeAll[QualityScore](scoreDocs)
	if err != nil {
		return nil, fmt.Errorf("decode quality scores: %w", err)
	}

	ov := &SystemOverview{
		TotalScores: len(scores),
		GeneratedAt: time.Now(),
	}
	var overall, accuracy, usefulness float64
	for _, s := range scores {
		overall += s.OverallScore
		accuracy += s.AccuracyScore
		usefulness += s.UsefulnessScore
		switch {
		case s.OverallScore >= 0.8:
			ov.Distribution.Excellent++
		case s.OverallScore >= 0.6:
			ov.Distribution.Good++
		case s.OverallScore >= 0.4:
			ov.Distribution.Fair++
		default:
			ov.Distribution.Poor++
		}
	}
	if len(scores) > 0 {
		n := float64(len(scores))
		ov.MeanOverallScore = overall / n
		ov.MeanAccuracyScore = accuracy / n
		ov.MeanUsefulnessScore = usefulness / n
	}

	agentDocs, err := m.store.Collection(store.AgentMetrics).Find(ctx, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("load agent metrics: %w", err)
	}
	agents, err := store.DecodeAll[AgentPerformanceMetrics](agentDocs)
	if err != nil {
		return nil, fmt.Errorf("decode agent metrics: %w", err)
	}

	ranked := make([]AgentRanking, 0, len(agents))
	for _, a := range agents {
		ranked = append(ranked, AgentRanking{
			AgentName:     a.AgentName,
			AverageRating: a.AverageRating,
			TotalFeedback: a.TotalFeedback,
		})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].AverageRating > ranked[j].AverageRating })

	top := len(ranked)
	if top > 5 {
		top = 5
	}
	ov.TopAgents = append([]AgentRanking(nil), ranked[:top]...)
	for i := len(ranked) - 1; i >= 0 && len(ov.AtRiskAgents) < 5; i-- {
		if ranked[i].AverageRating < 3.0 && ranked[i].TotalFeedback > 0 {
			ov.AtRiskAgents = append(ov.AtRiskAgents, ranked[i])
		}
	}
	return ov, nil
}
