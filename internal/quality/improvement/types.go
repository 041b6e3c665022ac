// Package improvement runs the periodic quality loops: threshold alerting at
// four cadences, long-term trend analysis, alert-to-action synthesis, and
// nightly data retention cleanup.
package improvement

import "time"

// Alert types raised by the loops.
const (
	AlertLowQualityScore   = "low_quality_score"
	AlertLowAccuracy       = "low_accuracy"
	AlertLowSatisfaction   = "low_satisfaction"
	AlertLowImplementation = "low_implementation_success"
	AlertSlowResponse      = "slow_response_time"
	AlertHighErrorRate     = "high_error_rate"
)

// QualityAlert is an append-only record of a threshold breach. The resolved
// flag is the only field mutated after creation.
type QualityAlert struct {
	ID          string     `bson:"alert_id" json:"alert_id"`
	Type        string     `bson:"alert_type" json:"alert_type"`
	Severity    string     `bson:"severity" json:"severity"`
	Message     string     `bson:"message" json:"message"`
	AgentName   string     `bson:"agent_name,omitempty" json:"agent_name,omitempty"`
	MetricValue float64    `bson:"metric_value" json:"metric_value"`
	Threshold   float64    `bson:"threshold" json:"threshold"`
	CreatedAt   time.Time  `bson:"created_at" json:"created_at"`
	Resolved    bool       `bson:"resolved" json:"resolved"`
	ResolvedAt  *time.Time `bson:"resolved_at,omitempty" json:"resolved_at,omitempty"`
}

// ImprovementAction is a higher-level follow-up synthesized from repeated
// alerts of one type.
type ImprovementAction struct {
	ID         string    `bson:"action_id" json:"action_id"`
	ActionType string    `bson:"action_type" json:"action_type"`
	Status     string    `bson:"status" json:"status"`
	AgentName  string    `bson:"agent_name,omitempty" json:"agent_name,omitempty"`
	AlertType  string    `bson:"alert_type,omitempty" json:"alert_type,omitempty"`
	Reason     string    `bson:"reason" json:"reason"`
	AlertCount int       `bson:"alert_count,omitempty" json:"alert_count,omitempty"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
}

// Trend labels for a score window.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendStable    Trend = "stable"
)

// TrendReport compares the first and second half of a window of daily
// average quality scores.
type TrendReport struct {
	WindowDays     int       `bson:"window_days" json:"window_days"`
	FirstHalfMean  float64   `bson:"first_half_mean" json:"first_half_mean"`
	SecondHalfMean float64   `bson:"second_half_mean" json:"second_half_mean"`
	ChangeRatio    float64   `bson:"change_ratio" json:"change_ratio"`
	Trend          Trend     `bson:"trend" json:"trend"`
	SampleDays     int       `bson:"sample_days" json:"sample_days"`
	GeneratedAt    time.Time `bson:"generated_at" json:"generated_at"`
}

// QualityReport is the persisted long-term loop output.
type QualityReport struct {
	ID          string        `bson:"report_id" json:"report_id"`
	Trends      []TrendReport `bson:"trends" json:"trends"`
	GeneratedAt time.Time     `bson:"generated_at" json:"generated_at"`
}
