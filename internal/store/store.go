// Package store defines the narrow document-store interface the orchestration
// and quality subsystems persist through. Documents are semi-structured maps;
// typed records are converted via bson round-trips so the Mongo and in-memory
// implementations share one encoding.
package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
)

// Collection names used by the core.
const (
	Assessments           = "assessments"
	Recommendations       = "recommendations"
	Feedback              = "feedback"
	QualityScores         = "quality_scores"
	AgentMetrics          = "agent_metrics"
	Experiments           = "experiments"
	ExperimentAssignments = "experiment_assignments"
	ExperimentEvents      = "experiment_events"
	QualityAlerts         = "quality_alerts"
	ImprovementActions    = "improvement_actions"
	QualityReports        = "quality_reports"
)

// ErrNotFound is returned by FindOne when no document matches.
var ErrNotFound = errors.New("store: document not found")

// Document is a semi-structured record keyed by field name.
type Document = map[string]any

// Filter selects documents. A plain value means equality; a nested map with
// operator keys ($ne, $gt, $gte, $lt, $lte, $in) applies that comparison.
type Filter = map[string]any

// FindOptions shapes a Find call.
type FindOptions struct {
	SortField string
	SortDesc  bool
	Limit     int64
}

// Collection is the per-collection operation surface.
type Collection interface {
	InsertOne(ctx context.Context, doc any) error
	Find(ctx context.Context, filter Filter, opts *FindOptions) ([]Document, error)
	FindOne(ctx context.Context, filter Filter) (Document, error)
	UpdateOne(ctx context.Context, filter Filter, set Document) error
	ReplaceOne(ctx context.Context, filter Filter, doc any, upsert bool) error
	DeleteMany(ctx context.Context, filter Filter) (int64, error)
	CountDocuments(ctx context.Context, filter Filter) (int64, error)
}

// Store hands out collections and reports connectivity.
type Store interface {
	Collection(name string) Collection
	Ping(ctx context.Context) error
}

// Decode maps a document into a typed record using bson tags.
func Decode(doc Document, out any) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return err
	}
	return bson.Unmarshal(raw, out)
}

// Encode converts a typed record into a document using bson tags.
func Encode(in any) (Document, error) {
	raw, err := bson.Marshal(in)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// DecodeAll maps a result set into a slice of typed records.
func DecodeAll[T any](docs []Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		var v T
		if err := Decode(d, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
