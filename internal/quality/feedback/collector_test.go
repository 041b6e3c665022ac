package feedback

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/inframind/platform/internal/store"
)

type failingStore struct {
	inner store.Store
	fail  map[string]bool // collection name -> fail all ops
}

func (f *failingStore) Collection(name string) store.Collection {
	if f.fail[name] {
		return failingCollection{}
	}
	return f.inner.Collection(name)
}

func (f *failingStore) Ping(ctx context.Context) error { return f.inner.Ping(ctx) }

type failingCollection struct{}

var errStoreDown = errors.New("store unavailable")

func (failingCollection) InsertOne(ctx context.Context, doc any) error { return errStoreDown }
func (failingCollection) Find(ctx context.Context, filter store.Filter, opts *store.FindOptions) ([]store.Document, error) {
	return nil, errStoreDown
}
func (failingCollection) FindOne(ctx context.Context, filter store.Filter) (store.Document, error) {
	return nil, errStoreDown
}
func (failingCollection) UpdateOne(ctx context.Context, filter store.Filter, set store.Document) error {
	return errStoreDown
}
func (failingCollection) ReplaceOne(ctx context.Context, filter store.Filter, doc any, upsert bool) error {
	return errStoreDown
}
func (failingCollection) DeleteMany(ctx context.Context, filter store.Filter) (int64, error) {
	return 0, errStoreDown
}
func (failingCollection) CountDocuments(ctx context.Context, filter store.Filter) (int64, error) {
	return 0, errStoreDown
}

func TestCollectFeedbackPersistsAndRecomputes(t *testing.T) {
	st := store.NewMemStore()
	c := NewCollector(st, zap.NewNop())
	ctx := context.Background()

	feedback := &UserFeedback{
		RecommendationID: "rec-1",
		AgentName:        "architect",
		FeedbackType:     "rating",
		Rating:           4,
		AccuracyRating:   5,
		UsefulnessRating: 4,
	}
	if err := c.CollectFeedback(ctx, feedback); err != nil {
		t.Fatalf("CollectFeedback failed: %v", err)
	}
	if feedback.ID == "" {
		t.Fatal("expected feedback id assigned")
	}

	// worker is not running; drive the queued recompute directly
	if err := c.Recompute(ctx, "rec-1", "architect"); err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}

	doc, err := st.Collection(store.QualityScores).FindOne(ctx, store.Filter{"recommendation_id": "rec-1"})
	if err != nil {
		t.Fatalf("quality score not persisted: %v", err)
	}
	var qs QualityScore
	if err := store.Decode(doc, &qs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if qs.SampleSize != 1 || qs.AgentName != "architect" {
		t.Fatalf("unexpected score: %+v", qs)
	}

	if _, err := st.Collection(store.AgentMetrics).FindOne(ctx, store.Filter{"agent_name": "architect"}); err != nil {
		t.Fatalf("agent metrics not persisted: %v", err)
	}
}

func TestRecomputeMarksFeedbackProcessed(t *testing.T) {
	st := store.NewMemStore()
	c := NewCollector(st, zap.NewNop())
	ctx := context.Background()

	fb := &UserFeedback{
		RecommendationID: "rec-1", AgentName: "architect", Rating: 4,
	}
	if err := c.CollectFeedback(ctx, fb); err != nil {
		t.Fatalf("CollectFeedback failed: %v", err)
	}

	doc, err := st.Collection(store.Feedback).FindOne(ctx, store.Filter{"feedback_id": fb.ID})
	if err != nil {
		t.Fatalf("feedback not persisted: %v", err)
	}
	var stored UserFeedback
	if err := store.Decode(doc, &stored); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stored.Processed {
		t.Fatal("feedback must not be processed before recompute")
	}

	if err := c.Recompute(ctx, "rec-1", "architect"); err != nil {
		t.Fatalf("Recompute failed: %v", err)
	}
	doc, err = st.Collection(store.Feedback).FindOne(ctx, store.Filter{"feedback_id": fb.ID})
	if err != nil {
		t.Fatalf("feedback lookup: %v", err)
	}
	if err := store.Decode(doc, &stored); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !stored.Processed {
		t.Fatal("expected feedback marked processed after recompute")
	}
}

func TestRecomputeIdempotent(t *testing.T) {
	st := store.NewMemStore()
	c := NewCollector(st, zap.NewNop())
	ctx := context.Background()

	if err := c.CollectFeedback(ctx, &UserFeedback{
		RecommendationID: "rec-1", AgentName: "architect", Rating: 5, AccuracyRating: 5,
	}); err != nil {
		t.Fatalf("CollectFeedback failed: %v", err)
	}

	if err := c.Recompute(ctx, "rec-1", "architect"); err != nil {
		t.Fatalf("first recompute: %v", err)
	}
	if err := c.Recompute(ctx, "rec-1", "architect"); err != nil {
		t.Fatalf("second recompute: %v", err)
	}

	n, err := st.Collection(store.QualityScores).CountDocuments(ctx, store.Filter{"recommendation_id": "rec-1"})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly 1 score document after repeated recompute, got %d", n)
	}
}

func TestLowRatingOpensManualReview(t *testing.T) {
	st := store.NewMemStore()
	c := NewCollector(st, zap.NewNop())
	ctx := context.Background()

	if err := c.CollectFeedback(ctx, &UserFeedback{
		RecommendationID: "rec-1", AgentName: "architect", Rating: 1,
	}); err != nil {
		t.Fatalf("CollectFeedback failed: %v", err)
	}

	n, err := st.Collection(store.ImprovementActions).CountDocuments(ctx,
		store.Filter{"action_type": "manual_review"})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected manual review item, got %d", n)
	}
}

func TestInvalidRatingRejected(t *testing.T) {
	c := NewCollector(store.NewMemStore(), zap.NewNop())
	err := c.CollectFeedback(context.Background(), &UserFeedback{
		RecommendationID: "rec-1", Rating: 7,
	})
	if err == nil {
		t.Fatal("expected out-of-range rating rejected")
	}
}

func TestExhaustedRecomputeDeadLetters(t *testing.T) {
	st := &failingStore{inner: store.NewMemStore(), fail: map[string]bool{store.Feedback: true}}
	c := NewCollector(st, zap.NewNop())

	c.process(context.Background(), recomputeTask{
		RecommendationID: "rec-1",
		AgentName:        "architect",
		Attempts:         recomputeMaxAttempts - 1,
		EnqueuedAt:       time.Now(),
	})

	dead := c.DeadLetters()
	if len(dead) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(dead))
	}
	if dead[0].RecommendationID != "rec-1" || dead[0].LastError == "" {
		t.Fatalf("unexpected dead letter: %+v", dead[0])
	}
}

func TestFailedRecomputeRetries(t *testing.T) {
	st := &failingStore{inner: store.NewMemStore(), fail: map[string]bool{store.Feedback: true}}
	c := NewCollector(st, zap.NewNop())

	c.process(context.Background(), recomputeTask{RecommendationID: "rec-1"})

	if got := len(c.DeadLetters()); got != 0 {
		t.Fatalf("first failure must retry, not dead-letter; got %d", got)
	}
	select {
	case task := <-c.queue:
		if task.Attempts != 1 {
			t.Fatalf("expected attempt count 1, got %d", task.Attempts)
		}
	default:
		t.Fatal("expected retry task enqueued")
	}
}
