package abtesting

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inframind/platform/internal/metrics"
	"github.com/inframind/platform/internal/store"
)

// Assignment hashing is versioned: changing the algorithm or salt silently
// reassigns existing users mid-experiment, so any change must bump the
// version and keep the old table entry for experiments created before it.
const currentAssignmentVersion = 1

var assignmentSalts = map[int]string{
	1: "inframind-assignment-v1",
}

const bucketSpace = 10000

// Framework manages experiments, assignments, and events over the document
// store.
type Framework struct {
	store         store.Store
	maxConcurrent int
	logger        *zap.Logger
}

// New creates a framework. maxConcurrent <= 0 defaults to 3.
func New(st store.Store, maxConcurrent int, logger *zap.Logger) *Framework {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	return &Framework{store: st, maxConcurrent: maxConcurrent, logger: logger}
}

// ValidateExperiment checks the creation invariants and returns every
// violation found.
func ValidateExperiment(exp *Experiment) []string {
	var errs []string
	if exp.Name == "" {
		errs = append(errs, "experiment name is required")
	}
	if len(exp.Variants) < 2 {
		errs = append(errs, "at least two variants are required")
	}

	var allocation float64
	controls := 0
	seen := map[string]bool{}
	for _, v := range exp.Variants {
		if v.ID == "" {
			errs = append(errs, "variant missing id")
		} else if seen[v.ID] {
			errs = append(errs, fmt.Sprintf("duplicate variant id %s", v.ID))
		}
		seen[v.ID] = true
		if v.TrafficAllocation <= 0 || v.TrafficAllocation > 1 {
			errs = append(errs, fmt.Sprintf("variant %s allocation %.2f outside (0,1]", v.ID, v.TrafficAllocation))
		}
		allocation += v.TrafficAllocation
		if v.IsControl {
			controls++
		}
	}
	if math.Abs(allocation-1.0) > 0.01 {
		errs = append(errs, fmt.Sprintf("traffic allocations sum to %.2f, expected 1.0", allocation))
	}
	if controls != 1 {
		errs = append(errs, fmt.Sprintf("expected exactly one control variant, found %d", controls))
	}

	primaries := 0
	for _, m := range exp.Metrics {
		if m.IsPrimary {
			primaries++
		}
	}
	if primaries != 1 {
		errs = append(errs, fmt.Sprintf("expected exactly one primary metric, found %d", primaries))
	}
	return errs
}

// CreateExperiment validates and persists a new experiment. A validation
// failure returns the full error list with no side effects.
func (f *Framework) CreateExperiment(ctx context.Context, exp *Experiment) error {
	if errs := ValidateExperiment(exp); len(errs) > 0 {
		return fmt.Errorf("invalid experiment: %v", errs)
	}
	if exp.ID == "" {
		exp.ID = uuid.New().String()
	}
	if exp.Status == "" {
		exp.Status = StatusDraft
	}
	exp.AssignmentVersion = currentAssignmentVersion
	exp.CreatedAt = time.Now()

	if err := f.store.Collection(store.Experiments).InsertOne(ctx, exp); err != nil {
		return fmt.Errorf("persist experiment: %w", err)
	}
	f.logger.Info("Experiment created",
		zap.String("experiment_id", exp.ID),
		zap.String("name", exp.Name),
		zap.Int("variants", len(exp.Variants)),
	)
	return nil
}

// StartExperiment transitions a draft or paused experiment to active.
func (f *Framework) StartExperiment(ctx context.Context, experimentID string) error {
	exp, err := f.GetExperiment(ctx, experimentID)
	if err != nil {
		return err
	}
	if exp.Status != StatusDraft && exp.Status != StatusPaused {
		return fmt.Errorf("experiment %s is %s, cannot start", experimentID, exp.Status)
	}
	now := time.Now()
	return f.store.Collection(store.Experiments).UpdateOne(ctx,
		store.Filter{"experiment_id": experimentID},
		store.Document{"status": string(StatusActive), "start_date": now})
}

// CompleteExperiment transitions an active or paused experiment to completed.
func (f *Framework) CompleteExperiment(ctx context.Context, experimentID string) error {
	exp, err := f.GetExperiment(ctx, experimentID)
	if err != nil {
		return err
	}
	if exp.Status != StatusActive && exp.Status != StatusPaused {
		return fmt.Errorf("experiment %s is %s, cannot complete", experimentID, exp.Status)
	}
	now := time.Now()
	return f.store.Collection(store.Experiments).UpdateOne(ctx,
		store.Filter{"experiment_id": experimentID},
		store.Document{"status": string(StatusCompleted), "end_date": now})
}

// GetExperiment loads one experiment.
func (f *Framework) GetExperiment(ctx context.Context, experimentID string) (*Experiment, error) {
	doc, err := f.store.Collection(store.Experiments).FindOne(ctx,
		store.Filter{"experiment_id": experimentID})
	if err != nil {
		return nil, err
	}
	var exp Experiment
	if err := store.Decode(doc, &exp); err != nil {
		return nil, fmt.Errorf("decode experiment: %w", err)
	}
	return &exp, nil
}

// bucket maps (user, experiment, version) to [0,1) deterministically.
func bucket(userID, experimentID string, version int) float64 {
	salt := assignmentSalts[version]
	sum := sha256.Sum256([]byte(userID + ":" + experimentID + ":" + salt))
	n := binary.BigEndian.Uint64(sum[:8])
	return float64(n%bucketSpace) / bucketSpace
}

// VariantFor computes the deterministic variant for a user without touching
// the store. The hash, not the persisted assignment, is the source of truth.
func VariantFor(exp *Experiment, userID string) *Variant {
	b := bucket(userID, exp.ID, exp.AssignmentVersion)
	var cumulative float64
	for i := range exp.Variants {
		cumulative += exp.Variants[i].TrafficAllocation
		if b < cumulative {
			return &exp.Variants[i]
		}
	}
	// allocations sum to 1.0 within tolerance; rounding can leave a sliver
	return &exp.Variants[len(exp.Variants)-1]
}

// AssignUser returns the user's variant for an active experiment,
// read-or-create: a stored assignment is preferred to recomputation, and a
// user at the concurrent-membership cap is rejected.
func (f *Framework) AssignUser(ctx context.Context, experimentID, userID string) (*Variant, error) {
	exp, err := f.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	if exp.Status != StatusActive {
		return nil, fmt.Errorf("experiment %s is %s, not active", experimentID, exp.Status)
	}

	assignments := f.store.Collection(store.ExperimentAssignments)
	if doc, err := assignments.FindOne(ctx, store.Filter{
		"experiment_id": experimentID, "user_id": userID,
	}); err == nil {
		var a Assignment
		if err := store.Decode(doc, &a); err == nil {
			for i := range exp.Variants {
				if exp.Variants[i].ID == a.VariantID {
					return &exp.Variants[i], nil
				}
			}
		}
	}

	active, err := f.activeMemberships(ctx, userID)
	if err != nil {
		return nil, err
	}
	if active >= f.maxConcurrent {
		return nil, fmt.Errorf("user %s already in %d concurrent experiments", userID, active)
	}

	variant := VariantFor(exp, userID)
	assignment := Assignment{
		ExperimentID:      experimentID,
		UserID:            userID,
		VariantID:         variant.ID,
		AssignmentVersion: exp.AssignmentVersion,
		AssignedAt:        time.Now(),
	}
	if err := assignments.ReplaceOne(ctx, store.Filter{
		"experiment_id": experimentID, "user_id": userID,
	}, assignment, true); err != nil {
		return nil, fmt.Errorf("persist assignment: %w", err)
	}

	metrics.ExperimentAssignments.WithLabelValues(experimentID).Inc()
	return variant, nil
}

// activeMemberships counts the user's assignments in currently active
// experiments.
func (f *Framework) activeMemberships(ctx context.Context, userID string) (int, error) {
	docs, err := f.store.Collection(store.ExperimentAssignments).Find(ctx,
		store.Filter{"user_id": userID}, nil)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, doc := range docs {
		var a Assignment
		if err := store.Decode(doc, &a); err != nil {
			continue
		}
		exp, err := f.GetExperiment(ctx, a.ExperimentID)
		if err != nil {
			continue
		}
		if exp.Status == StatusActive {
			count++
		}
	}
	return count, nil
}

// RecordEvent fans a named event out to every active experiment the user is
// assigned to.
func (f *Framework) RecordEvent(ctx context.Context, userID, eventName string, value float64) error {
	docs, err := f.store.Collection(store.ExperimentAssignments).Find(ctx,
		store.Filter{"user_id": userID}, nil)
	if err != nil {
		return fmt.Errorf("load assignments: %w", err)
	}

	events := f.store.Collection(store.ExperimentEvents)
	for _, doc := range docs {
		var a Assignment
		if err := store.Decode(doc, &a); err != nil {
			continue
		}
		exp, err := f.GetExperiment(ctx, a.ExperimentID)
		if err != nil || exp.Status != StatusActive {
			continue
		}
		evt := Event{
			ExperimentID: a.ExperimentID,
			UserID:       userID,
			VariantID:    a.VariantID,
			EventName:    eventName,
			Value:        value,
			CreatedAt:    time.Now(),
		}
		if err := events.InsertOne(ctx, evt); err != nil {
			return fmt.Errorf("persist event: %w", err)
		}
	}
	return nil
}
