package improvement

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inframind/platform/internal/config"
	"github.com/inframind/platform/internal/metrics"
	"github.com/inframind/platform/internal/quality/feedback"
	"github.com/inframind/platform/internal/store"
)

// HealthSource feeds the real-time loop.
type HealthSource interface {
	GetSystemHealth() metrics.SystemHealth
}

// Retention windows for the nightly cleanup.
const (
	resolvedAlertRetention   = 30 * 24 * time.Hour
	experimentEventRetention = 90 * 24 * time.Hour
	qualityReportRetention   = 180 * 24 * time.Hour
)

// actionAlertThreshold: this many alerts of one type within a week
// synthesize an ImprovementAction.
const (
	actionAlertThreshold = 3
	actionAlertWindow    = 7 * 24 * time.Hour
)

// System runs the four improvement loops. The threshold table is swappable
// at runtime through SetThresholds, wired to the config hot-reload watcher.
type System struct {
	store  store.Store
	health HealthSource
	cfg    config.ImprovementConfig

	mu         sync.RWMutex
	thresholds config.Thresholds

	stopCh chan struct{}
	wg     sync.WaitGroup
	logger *zap.Logger
}

// New creates the improvement system with the configured threshold table.
func New(st store.Store, health HealthSource, cfg config.ImprovementConfig, logger *zap.Logger) *System {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RealTimeEvery <= 0 {
		cfg.RealTimeEvery = time.Minute
	}
	if cfg.ShortTermEvery <= 0 {
		cfg.ShortTermEvery = 5 * time.Minute
	}
	if cfg.MediumTermEvery <= 0 {
		cfg.MediumTermEvery = time.Hour
	}
	if cfg.LongTermEvery <= 0 {
		cfg.LongTermEvery = 24 * time.Hour
	}
	return &System{
		store:      st,
		health:     health,
		cfg:        cfg,
		thresholds: cfg.Thresholds,
		stopCh:     make(chan struct{}),
		logger:     logger,
	}
}

// SetThresholds swaps the live threshold table; the next loop tick uses it.
func (s *System) SetThresholds(t config.Thresholds) {
	s.mu.Lock()
	s.thresholds = t
	s.mu.Unlock()
	s.logger.Info("Improvement thresholds updated",
		zap.Float64("min_quality_score", t.MinQualityScore),
		zap.Float64("min_accuracy", t.MinAccuracy),
	)
}

// Thresholds returns the live threshold table.
func (s *System) Thresholds() config.Thresholds {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.thresholds
}

// Start launches the four loops.
func (s *System) Start() {
	loops := []struct {
		every time.Duration
		run   func(context.Context)
	}{
		{s.cfg.RealTimeEvery, s.RunRealTimeChecks},
		{s.cfg.ShortTermEvery, s.RunShortTermChecks},
		{s.cfg.MediumTermEvery, s.RunMediumTermChecks},
		{s.cfg.LongTermEvery, s.RunLongTermChecks},
	}
	for _, loop := range loops {
		s.wg.Add(1)
		go func(every time.Duration, run func(context.Context)) {
			defer s.wg.Done()
			ticker := time.NewTicker(every)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					s.safeTick(run)
				case <-s.stopCh:
					return
				}
			}
		}(loop.every, loop.run)
	}
}

// Stop terminates all loops.
func (s *System) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// safeTick isolates a loop body; a panic skips the tick, never kills the loop.
func (s *System) safeTick(run func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Improvement loop tick panicked", zap.Any("panic", r))
		}
	}()
	run(context.Background())
}

// RunRealTimeChecks (60s cadence) watches system health.
func (s *System) RunRealTimeChecks(ctx context.Context) {
	t := s.Thresholds()
	health := s.health.GetSystemHealth()

	responseSeconds := health.ResponseTimeMs / 1000
	if responseSeconds > t.MaxResponseTimeSeconds {
		s.raiseAlert(ctx, QualityAlert{
			Type:        AlertSlowResponse,
			Severity:    "high",
			Message:     fmt.Sprintf("average response time %.1fs exceeds %.1fs", responseSeconds, t.MaxResponseTimeSeconds),
			MetricValue: responseSeconds,
			Threshold:   t.MaxResponseTimeSeconds,
		})
	}
	if health.ErrorRatePercent > t.MaxErrorRatePercent {
		s.raiseAlert(ctx, QualityAlert{
			Type:        AlertHighErrorRate,
			Severity:    "high",
			Message:     fmt.Sprintf("error rate %.1f%% exceeds %.1f%%", health.ErrorRatePercent, t.MaxErrorRatePercent),
			MetricValue: health.ErrorRatePercent,
			Threshold:   t.MaxErrorRatePercent,
		})
	}
}

// RunShortTermChecks (5m cadence) watches recently recomputed quality scores.
func (s *System) RunShortTermChecks(ctx context.Context) {
	t := s.Thresholds()
	cutoff := time.Now().Add(-24 * time.Hour)
	docs, err := s.store.Collection(store.QualityScores).Find(ctx,
		store.Filter{"updated_at": store.Filter{"$gte": cutoff}}, nil)
	if err != nil {
		s.logger.Warn("Short-term check skipped", zap.Error(err))
		return
	}
	scores, err := store.DecodeAll[feedback.QualityScore](docs)
	if err != nil {
		s.logger.Warn("Short-term decode failed", zap.Error(err))
		return
	}

	type agg struct {
		overall, accuracy float64
		n                 int
	}
	byAgent := map[string]*agg{}
	for _, sc := range scores {
		a := byAgent[sc.AgentName]
		if a == nil {
			a = &agg{}
			byAgent[sc.AgentName] = a
		}
		a.overall += sc.OverallScore
		a.accuracy += sc.AccuracyScore
		a.n++
	}

	for agent, a := range byAgent {
		overall := a.overall / float64(a.n)
		accuracy := a.accuracy / float64(a.n)
		if overall < t.MinQualityScore {
			s.raiseAlert(ctx, QualityAlert{
				Type:        AlertLowQualityScore,
				Severity:    "medium",
				AgentName:   agent,
				Message:     fmt.Sprintf("mean quality score %.2f below %.2f", overall, t.MinQualityScore),
				MetricValue: overall,
				Threshold:   t.MinQualityScore,
			})
		}
		if accuracy < t.MinAccuracy {
			s.raiseAlert(ctx, QualityAlert{
				Type:        AlertLowAccuracy,
				Severity:    "medium",
				AgentName:   agent,
				Message:     fmt.Sprintf("mean accuracy %.2f below %.2f", accuracy, t.MinAccuracy),
				MetricValue: accuracy,
				Threshold:   t.MinAccuracy,
			})
		}
	}
}

// RunMediumTermChecks (1h cadence) watches per-agent aggregates.
func (s *System) RunMediumTermChecks(ctx context.Context) {
	t := s.Thresholds()
	docs, err := s.store.Collection(store.AgentMetrics).Find(ctx, nil, nil)
	if err != nil {
		s.logger.Warn("Medium-term check skipped", zap.Error(err))
		return
	}
	agents, err := store.DecodeAll[feedback.AgentPerformanceMetrics](docs)
	if err != nil {
		s.logger.Warn("Medium-term decode failed", zap.Error(err))
		return
	}

	for _, a := range agents {
		if a.TotalFeedback == 0 {
			continue
		}
		if a.AverageRating < t.MinSatisfaction {
			s.raiseAlert(ctx, QualityAlert{
				Type:        AlertLowSatisfaction,
				Severity:    "medium",
				AgentName:   a.AgentName,
				Message:     fmt.Sprintf("average rating %.2f below %.2f", a.AverageRating, t.MinSatisfaction),
				MetricValue: a.AverageRating,
				Threshold:   t.MinSatisfaction,
			})
		}
		if a.ImplementationReports > 0 && a.ImplementationSuccessRate < t.MinImplementationSuccess {
			s.raiseAlert(ctx, QualityAlert{
				Type:        AlertLowImplementation,
				Severity:    "high",
				AgentName:   a.AgentName,
				Message:     fmt.Sprintf("implementation success rate %.2f below %.2f", a.ImplementationSuccessRate, t.MinImplementationSuccess),
				MetricValue: a.ImplementationSuccessRate,
				Threshold:   t.MinImplementationSuccess,
			})
		}
	}
}

// RunLongTermChecks (24h cadence) analyzes trends, synthesizes improvement
// actions from repeated alerts, and runs the retention cleanup.
func (s *System) RunLongTermChecks(ctx context.Context) {
	report := QualityReport{
		ID:          uuid.New().String(),
		GeneratedAt: time.Now(),
	}
	for _, days := range []int{7, 30, 90} {
		tr, err := s.AnalyzeTrend(ctx, days)
		if err != nil {
			s.logger.Warn("Trend analysis failed", zap.Int("window_days", days), zap.Error(err))
			continue
		}
		report.Trends = append(report.Trends, *tr)
	}
	if len(report.Trends) > 0 {
		if err := s.store.Collection(store.QualityReports).InsertOne(ctx, report); err != nil {
			s.logger.Warn("Quality report not persisted", zap.Error(err))
		}
	}

	s.synthesizeActions(ctx)
	s.Cleanup(ctx)
}

// AnalyzeTrend buckets quality scores into daily averages over the window and
// compares the first-half mean to the second-half mean. A change beyond ±2%
// labels the trend improving or declining.
func (s *System) AnalyzeTrend(ctx context.Context, windowDays int) (*TrendReport, error) {
	cutoff := time.Now().Add(-time.Duration(windowDays) * 24 * time.Hour)
	docs, err := s.store.Collection(store.QualityScores).Find(ctx,
		store.Filter{"updated_at": store.Filter{"$gte": cutoff}}, nil)
	if err != nil {
		return nil, fmt.Errorf("load scores: %w", err)
	}
	scores, err := store.DecodeAll[feedback.QualityScore](docs)
	if err != nil {
		return nil, fmt.Errorf("decode scores: %w", err)
	}

	type day struct {
		sum float64
		n   int
	}
	daily := map[string]*day{}
	for _, sc := range scores {
		key := sc.UpdatedAt.UTC().Format("2006-01-02")
		d := daily[key]
		if d == nil {
			d = &day{}
			daily[key] = d
		}
		d.sum += sc.OverallScore
		d.n++
	}

	var keys []string
	for k := range daily {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	means := make([]float64, 0, len(keys))
	for _, k := range keys {
		means = append(means, daily[k].sum/float64(daily[k].n))
	}

	tr := &TrendReport{
		WindowDays:  windowDays,
		SampleDays:  len(means),
		Trend:       TrendStable,
		GeneratedAt: time.Now(),
	}
	if len(means) < 2 {
		return tr, nil
	}

	half := len(means) / 2
	tr.FirstHalfMean = mean(means[:half])
	tr.SecondHalfMean = mean(means[half:])
	if tr.FirstHalfMean > 0 {
		tr.ChangeRatio = (tr.SecondHalfMean - tr.FirstHalfMean) / tr.FirstHalfMean
	}
	switch {
	case tr.ChangeRatio > 0.02:
		tr.Trend = TrendImproving
	case tr.ChangeRatio < -0.02:
		tr.Trend = TrendDeclining
	}
	return tr, nil
}

// synthesizeActions opens an ImprovementAction when three or more alerts of
// one type accumulated within the last week and no pending action covers it.
func (s *System) synthesizeActions(ctx context.Context) {
	cutoff := time.Now().Add(-actionAlertWindow)
	docs, err := s.store.Collection(store.QualityAlerts).Find(ctx,
		store.Filter{"created_at": store.Filter{"$gte": cutoff}}, nil)
	if err != nil {
		s.logger.Warn("Action synthesis skipped", zap.Error(err))
		return
	}
	alerts, err := store.DecodeAll[QualityAlert](docs)
	if err != nil {
		s.logger.Warn("Action synthesis decode failed", zap.Error(err))
		return
	}

	type key struct{ alertType, agent string }
	counts := map[key]int{}
	for _, a := range alerts {
		counts[key{a.Type, a.AgentName}]++
	}

	actions := s.store.Collection(store.ImprovementActions)
	for k, n := range counts {
		if n < actionAlertThreshold {
			continue
		}
		pending, err := actions.CountDocuments(ctx, store.Filter{
			"alert_type": k.alertType,
			"agent_name": k.agent,
			"status":     "pending",
		})
		if err != nil || pending > 0 {
			continue
		}
		action := ImprovementAction{
			ID:         uuid.New().String(),
			ActionType: actionTypeFor(k.alertType),
			Status:     "pending",
			AgentName:  k.agent,
			AlertType:  k.alertType,
			Reason:     fmt.Sprintf("%d %s alerts in the last 7 days", n, k.alertType),
			AlertCount: n,
			CreatedAt:  time.Now(),
		}
		if err := actions.InsertOne(ctx, action); err != nil {
			s.logger.Warn("Improvement action not persisted", zap.Error(err))
			continue
		}
		s.logger.Info("Improvement action opened",
			zap.String("action_type", action.ActionType),
			zap.String("agent_name", k.agent),
			zap.Int("alert_count", n),
		)
	}
}

// actionTypeFor maps repeated alert types to the follow-up they warrant.
func actionTypeFor(alertType string) string {
	switch alertType {
	case AlertLowAccuracy, AlertLowQualityScore:
		return "retrain_agent"
	case AlertLowSatisfaction:
		return "update_prompt"
	case AlertLowImplementation:
		return "review_templates"
	case AlertSlowResponse, AlertHighErrorRate:
		return "scale_capacity"
	default:
		return "manual_review"
	}
}

// Cleanup purges resolved alerts, old experiment events, and old reports.
func (s *System) Cleanup(ctx context.Context) {
	now := time.Now()

	purges := []struct {
		collection string
		filter     store.Filter
	}{
		{store.QualityAlerts, store.Filter{
			"resolved":   true,
			"created_at": store.Filter{"$lt": now.Add(-resolvedAlertRetention)},
		}},
		{store.ExperimentEvents, store.Filter{
			"created_at": store.Filter{"$lt": now.Add(-experimentEventRetention)},
		}},
		{store.QualityReports, store.Filter{
			"generated_at": store.Filter{"$lt": now.Add(-qualityReportRetention)},
		}},
	}
	for _, p := range purges {
		n, err := s.store.Collection(p.collection).DeleteMany(ctx, p.filter)
		if err != nil {
			s.logger.Warn("Cleanup failed", zap.String("collection", p.collection), zap.Error(err))
			continue
		}
		if n > 0 {
			s.logger.Info("Cleanup purged documents",
				zap.String("collection", p.collection), zap.Int64("count", n))
		}
	}
}

// raiseAlert persists an alert unless an unresolved one of the same type for
// the same agent already exists.
func (s *System) raiseAlert(ctx context.Context, alert QualityAlert) {
	alerts := s.store.Collection(store.QualityAlerts)
	existing, err := alerts.CountDocuments(ctx, store.Filter{
		"alert_type": alert.Type,
		"agent_name": alert.AgentName,
		"resolved":   false,
	})
	if err != nil {
		s.logger.Warn("Alert dedup lookup failed", zap.Error(err))
		return
	}
	if existing > 0 {
		return
	}

	alert.ID = uuid.New().String()
	alert.CreatedAt = time.Now()
	if err := alerts.InsertOne(ctx, alert); err != nil {
		s.logger.Warn("Quality alert not persisted", zap.Error(err))
		return
	}
	metrics.ImprovementAlerts.WithLabelValues(alert.Type, alert.Severity).Inc()
	s.logger.Warn("Quality alert raised",
		zap.String("type", alert.Type),
		zap.String("agent_name", alert.AgentName),
		zap.Float64("value", alert.MetricValue),
		zap.Float64("threshold", alert.Threshold),
	)
}

// ResolveAlert flips an alert's resolved flag.
func (s *System) ResolveAlert(ctx context.Context, alertID string) error {
	now := time.Now()
	return s.store.Collection(store.QualityAlerts).UpdateOne(ctx,
		store.Filter{"alert_id": alertID},
		store.Document{"resolved": true, "resolved_at": now})
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
