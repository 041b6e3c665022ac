package feedback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inframind/platform/internal/metrics"
	"github.com/inframind/platform/internal/store"
)

// recomputeTask asks the worker to rebuild one recommendation's quality score
// and its agent's metrics from the full feedback history.
type recomputeTask struct {
	RecommendationID string    `json:"recommendation_id"`
	AgentName        string    `json:"agent_name"`
	Attempts         int       `json:"attempts"`
	EnqueuedAt       time.Time `json:"enqueued_at"`
	LastError        string    `json:"last_error,omitempty"`
}

// DeadLetter is a recompute task that exhausted its retries.
type DeadLetter struct {
	RecommendationID string    `json:"recommendation_id"`
	AgentName        string    `json:"agent_name"`
	Attempts         int       `json:"attempts"`
	LastError        string    `json:"last_error"`
	FailedAt         time.Time `json:"failed_at"`
}

const (
	recomputeQueueSize   = 256
	recomputeMaxAttempts = 3
)

// Collector persists feedback and keeps derived scores up to date through an
// at-least-once recompute queue. Failed recomputes retry with backoff and
// land on a dead-letter list once exhausted, so staleness is observable
// instead of silent.
type Collector struct {
	store store.Store
	queue chan recomputeTask

	mu   sync.Mutex
	dead []DeadLetter

	stopCh chan struct{}
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewCollector creates a feedback collector over the document store.
func NewCollector(st store.Store, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		store:  st,
		queue:  make(chan recomputeTask, recomputeQueueSize),
		stopCh: make(chan struct{}),
		logger: logger,
	}
}

// Start launches the recompute worker.
func (c *Collector) Start() {
	c.wg.Add(1)
	go c.worker()
}

// Stop terminates the worker. Queued tasks are picked up again on the next
// feedback for the same recommendation; recomputes are full rebuilds, so a
// dropped task costs freshness, not correctness.
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

// CollectFeedback validates and persists one feedback record, then enqueues
// the score recompute. Ratings of 2 or below additionally open a
// manual-review improvement item.
func (c *Collector) CollectFeedback(ctx context.Context, fb *UserFeedback) error {
	if fb.RecommendationID == "" {
		return fmt.Errorf("feedback missing recommendation_id")
	}
	if fb.Rating < 1 || fb.Rating > 5 {
		return fmt.Errorf("rating %d out of range 1..5", fb.Rating)
	}
	for _, r := range []int{fb.AccuracyRating, fb.UsefulnessRating, fb.ImplementationRating, fb.BusinessValueRating} {
		if r < 0 || r > 5 {
			return fmt.Errorf("dimension rating %d out of range 0..5", r)
		}
	}
	if fb.ID == "" {
		fb.ID = uuid.New().String()
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now()
	}

	if err := c.store.Collection(store.Feedback).InsertOne(ctx, fb); err != nil {
		return fmt.Errorf("persist feedback: %w", err)
	}
	metrics.FeedbackReceived.WithLabelValues(fb.FeedbackType).Inc()

	if fb.Rating <= 2 {
		if err := c.openManualReview(ctx, fb); err != nil {
			c.logger.Warn("Manual review item not persisted",
				zap.String("feedback_id", fb.ID), zap.Error(err))
		}
	}

	c.enqueue(recomputeTask{
		RecommendationID: fb.RecommendationID,
		AgentName:        fb.AgentName,
		EnqueuedAt:       time.Now(),
	})
	return nil
}

func (c *Collector) openManualReview(ctx context.Context, fb *UserFeedback) error {
	return c.store.Collection(store.ImprovementActions).InsertOne(ctx, store.Document{
		"action_id":         uuid.New().String(),
		"action_type":       "manual_review",
		"status":            "pending",
		"agent_name":        fb.AgentName,
		"recommendation_id": fb.RecommendationID,
		"feedback_id":       fb.ID,
		"reason":            fmt.Sprintf("rating %d", fb.Rating),
		"created_at":        time.Now(),
	})
}

// enqueue never blocks the caller: a full queue degrades to an inline
// recompute so delivery stays at-least-once.
func (c *Collector) enqueue(task recomputeTask) {
	select {
	case c.queue <- task:
	default:
		c.logger.Warn("Recompute queue full, running inline",
			zap.String("recommendation_id", task.RecommendationID))
		c.process(context.Background(), task)
	}
}

func (c *Collector) worker() {
	defer c.wg.Done()
	for {
		select {
		case task := <-c.queue:
			c.process(context.Background(), task)
		case <-c.stopCh:
			return
		}
	}
}

func (c *Collector) process(ctx context.Context, task recomputeTask) {
	err := c.Recompute(ctx, task.RecommendationID, task.AgentName)
	if err == nil {
		metrics.RecomputeTasks.WithLabelValues("success").Inc()
		return
	}

	task.Attempts++
	task.LastError = err.Error()
	if task.Attempts < recomputeMaxAttempts {
		metrics.RecomputeTasks.WithLabelValues("retry").Inc()
		c.logger.Warn("Recompute failed, retrying",
			zap.String("recommendation_id", task.RecommendationID),
			zap.Int("attempt", task.Attempts),
			zap.Error(err),
		)
		time.Sleep(time.Duration(task.Attempts) * 100 * time.Millisecond)
		c.enqueue(task)
		return
	}

	metrics.RecomputeTasks.WithLabelValues("dead_letter").Inc()
	c.mu.Lock()
	c.dead = append(c.dead, DeadLetter{
		RecommendationID: task.RecommendationID,
		AgentName:        task.AgentName,
		Attempts:         task.Attempts,
		LastError:        task.LastError,
		FailedAt:         time.Now(),
	})
	c.mu.Unlock()
	c.logger.Error("Recompute dead-lettered",
		zap.String("recommendation_id", task.RecommendationID),
		zap.Error(err),
	)
}

// Recompute rebuilds one recommendation's quality score and its agent's
// metrics from the persisted feedback history. Idempotent: recomputing twice
// from the same history upserts identical documents.
func (c *Collector) Recompute(ctx context.Context, recommendationID, agentName string) error {
	docs, err := c.store.Collection(store.Feedback).Find(ctx,
		store.Filter{"recommendation_id": recommendationID}, nil)
	if err != nil {
		return fmt.Errorf("load feedback history: %w", err)
	}
	history, err := store.DecodeAll[UserFeedback](docs)
	if err != nil {
		return fmt.Errorf("decode feedback history: %w", err)
	}

	score := ComputeQualityScore(recommendationID, history)
	if err := c.store.Collection(store.QualityScores).ReplaceOne(ctx,
		store.Filter{"recommendation_id": recommendationID}, score, true); err != nil {
		return fmt.Errorf("upsert quality score: %w", err)
	}

	for _, f := range history {
		if f.Processed {
			continue
		}
		if err := c.store.Collection(store.Feedback).UpdateOne(ctx,
			store.Filter{"feedback_id": f.ID},
			store.Document{"processed": true}); err != nil {
			return fmt.Errorf("mark feedback processed: %w", err)
		}
	}

	if agentName == "" {
		return nil
	}
	agentDocs, err := c.store.Collection(store.Feedback).Find(ctx,
		store.Filter{"agent_name": agentName}, nil)
	if err != nil {
		return fmt.Errorf("load agent history: %w", err)
	}
	agentHistory, err := store.DecodeAll[UserFeedback](agentDocs)
	if err != nil {
		return fmt.Errorf("decode agent history: %w", err)
	}
	am := ComputeAgentMetrics(agentName, agentHistory, time.Now())
	if err := c.store.Collection(store.AgentMetrics).ReplaceOne(ctx,
		store.Filter{"agent_name": agentName}, am, true); err != nil {
		return fmt.Errorf("upsert agent metrics: %w", err)
	}
	return nil
}

// DeadLetters returns a copy of the dead-letter list.
func (c *Collector) DeadLetters() []DeadLetter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]DeadLetter(nil), c.dead...)
}
