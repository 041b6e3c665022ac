// Package abtesting implements experiment management with deterministic
// variant assignment and two-proportion significance analysis.
package abtesting

import "time"

// ExperimentStatus is the lifecycle state of an experiment.
type ExperimentStatus string

const (
	StatusDraft     ExperimentStatus = "draft"
	StatusActive    ExperimentStatus = "active"
	StatusPaused    ExperimentStatus = "paused"
	StatusCompleted ExperimentStatus = "completed"
	StatusCancelled ExperimentStatus = "cancelled"
)

// Variant is one arm of an experiment. TrafficAllocation is a fraction of
// total traffic; allocations across a variant set sum to 1.0 (±0.01).
type Variant struct {
	ID                string         `bson:"variant_id" json:"variant_id"`
	Name              string         `bson:"name" json:"name"`
	TrafficAllocation float64        `bson:"traffic_allocation" json:"traffic_allocation"`
	IsControl         bool           `bson:"is_control" json:"is_control"`
	Configuration     map[string]any `bson:"configuration,omitempty" json:"configuration,omitempty"`
}

// Metric names an outcome an experiment tracks; exactly one is primary.
type Metric struct {
	Name      string `bson:"name" json:"name"`
	IsPrimary bool   `bson:"is_primary" json:"is_primary"`
}

// Experiment is a persisted experiment definition. The variant set is
// immutable after creation.
type Experiment struct {
	ID                      string           `bson:"experiment_id" json:"experiment_id"`
	Name                    string           `bson:"name" json:"name"`
	Description             string           `bson:"description,omitempty" json:"description,omitempty"`
	Type                    string           `bson:"type,omitempty" json:"type,omitempty"`
	Status                  ExperimentStatus `bson:"status" json:"status"`
	Variants                []Variant        `bson:"variants" json:"variants"`
	Metrics                 []Metric         `bson:"metrics" json:"metrics"`
	TargetSampleSize        int              `bson:"target_sample_size,omitempty" json:"target_sample_size,omitempty"`
	ConfidenceLevel         float64          `bson:"confidence_level,omitempty" json:"confidence_level,omitempty"`
	MinimumDetectableEffect float64          `bson:"minimum_detectable_effect,omitempty" json:"minimum_detectable_effect,omitempty"`
	AssignmentVersion       int              `bson:"assignment_version" json:"assignment_version"`
	StartDate               *time.Time       `bson:"start_date,omitempty" json:"start_date,omitempty"`
	EndDate                 *time.Time       `bson:"end_date,omitempty" json:"end_date,omitempty"`
	CreatedAt               time.Time        `bson:"created_at" json:"created_at"`
}

// PrimaryMetric returns the primary metric name, or "" for an invalid
// definition.
func (e *Experiment) PrimaryMetric() string {
	for _, m := range e.Metrics {
		if m.IsPrimary {
			return m.Name
		}
	}
	return ""
}

// ControlVariant returns the control arm. Validation guarantees exactly one.
func (e *Experiment) ControlVariant() *Variant {
	for i := range e.Variants {
		if e.Variants[i].IsControl {
			return &e.Variants[i]
		}
	}
	return nil
}

// Assignment is the persisted audit record of a deterministic assignment.
// The hash is the source of truth; this record exists for fast lookups and
// for analysis joins.
type Assignment struct {
	ExperimentID      string    `bson:"experiment_id" json:"experiment_id"`
	UserID            string    `bson:"user_id" json:"user_id"`
	VariantID         string    `bson:"variant_id" json:"variant_id"`
	AssignmentVersion int       `bson:"assignment_version" json:"assignment_version"`
	AssignedAt        time.Time `bson:"assigned_at" json:"assigned_at"`
}

// Event is one recorded outcome for an assigned user.
type Event struct {
	ExperimentID string    `bson:"experiment_id" json:"experiment_id"`
	UserID       string    `bson:"user_id" json:"user_id"`
	VariantID    string    `bson:"variant_id" json:"variant_id"`
	EventName    string    `bson:"event_name" json:"event_name"`
	Value        float64   `bson:"value,omitempty" json:"value,omitempty"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
}

// Significance buckets for the z-test p-value.
type Significance string

const (
	NotSignificant    Significance = "not_significant"        // p >= 0.10
	MarginallySig     Significance = "marginally_significant" // p < 0.10
	Significant       Significance = "significant"            // p < 0.05
	HighlySignificant Significance = "highly_significant"     // p < 0.01
)

// VariantStats is the per-variant slice of an analysis.
type VariantStats struct {
	VariantID      string  `json:"variant_id"`
	IsControl      bool    `json:"is_control"`
	SampleSize     int     `json:"sample_size"`
	Conversions    int     `json:"conversions"`
	ConversionRate float64 `json:"conversion_rate"`
	IntervalLow    float64 `json:"interval_low"`
	IntervalHigh   float64 `json:"interval_high"`
}

// Comparison is one treatment-vs-control z-test.
type Comparison struct {
	VariantID    string       `json:"variant_id"`
	ZScore       float64      `json:"z_score"`
	PValue       float64      `json:"p_value"`
	Significance Significance `json:"significance"`
	Improvement  float64      `json:"improvement"` // treatment rate minus control rate
}

// Analysis is the full result of analyzing an experiment.
type Analysis struct {
	ExperimentID   string         `json:"experiment_id"`
	PrimaryMetric  string         `json:"primary_metric"`
	Variants       []VariantStats `json:"variants"`
	Comparisons    []Comparison   `json:"comparisons"`
	Recommendation string         `json:"recommendation"`
	AnalyzedAt     time.Time      `json:"analyzed_at"`
}
