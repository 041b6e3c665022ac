// Package feedback ingests user feedback and maintains quality scores and
// per-agent performance metrics derived from the full feedback history.
package feedback

import "time"

// Rating fields use 1..5; zero means the user did not rate that dimension.
// Missing dimensions are excluded from their component mean, not counted as
// zero. Records never mutate after creation except the Processed flag, which
// flips once the score recompute has consumed them.
type UserFeedback struct {
	ID                    string    `bson:"feedback_id" json:"feedback_id"`
	RecommendationID      string    `bson:"recommendation_id" json:"recommendation_id"`
	AssessmentID          string    `bson:"assessment_id" json:"assessment_id"`
	AgentName             string    `bson:"agent_name" json:"agent_name"`
	UserID                string    `bson:"user_id" json:"user_id"`
	FeedbackType          string    `bson:"feedback_type" json:"feedback_type"`
	Rating                int       `bson:"rating" json:"rating"`
	AccuracyRating        int       `bson:"accuracy_rating,omitempty" json:"accuracy_rating,omitempty"`
	UsefulnessRating      int       `bson:"usefulness_rating,omitempty" json:"usefulness_rating,omitempty"`
	ImplementationRating  int       `bson:"implementation_rating,omitempty" json:"implementation_rating,omitempty"`
	BusinessValueRating   int       `bson:"business_value_rating,omitempty" json:"business_value_rating,omitempty"`
	ImplementationSuccess *bool     `bson:"implementation_success,omitempty" json:"implementation_success,omitempty"`
	WouldRecommend        *bool     `bson:"would_recommend,omitempty" json:"would_recommend,omitempty"`
	Comments              string    `bson:"comments,omitempty" json:"comments,omitempty"`
	Tags                  []string  `bson:"tags,omitempty" json:"tags,omitempty"`
	CreatedAt             time.Time `bson:"created_at" json:"created_at"`
	Processed             bool      `bson:"processed" json:"processed"`
}

// QualityScore is the recomputed per-recommendation score document. The
// confidence interval is overall +/- 0.1/sqrt(n), clipped to [0,1].
type QualityScore struct {
	RecommendationID    string    `bson:"recommendation_id" json:"recommendation_id"`
	AgentName           string    `bson:"agent_name" json:"agent_name"`
	OverallScore        float64   `bson:"overall_score" json:"overall_score"`
	AccuracyScore       float64   `bson:"accuracy_score" json:"accuracy_score"`
	UsefulnessScore     float64   `bson:"usefulness_score" json:"usefulness_score"`
	ImplementationScore float64   `bson:"implementation_score" json:"implementation_score"`
	BusinessValueScore  float64   `bson:"business_value_score" json:"business_value_score"`
	SampleSize          int       `bson:"sample_size" json:"sample_size"`
	ConfidenceMargin    float64   `bson:"confidence_margin" json:"confidence_margin"`
	ConfidenceLow       float64   `bson:"confidence_low" json:"confidence_low"`
	ConfidenceHigh      float64   `bson:"confidence_high" json:"confidence_high"`
	UpdatedAt           time.Time `bson:"updated_at" json:"updated_at"`
}

// WindowMetrics is the recent-window slice of an agent's aggregate.
type WindowMetrics struct {
	FeedbackCount             int     `bson:"feedback_count" json:"feedback_count"`
	AverageRating             float64 `bson:"average_rating" json:"average_rating"`
	ImplementationSuccessRate float64 `bson:"implementation_success_rate" json:"implementation_success_rate"`
}

// AgentPerformanceMetrics is the recomputed per-agent aggregate.
// ImplementationReports counts how many feedback records carried an
// implementation outcome; a zero success rate is only meaningful when it is
// positive.
type AgentPerformanceMetrics struct {
	AgentName                 string        `bson:"agent_name" json:"agent_name"`
	TotalFeedback             int           `bson:"total_feedback" json:"total_feedback"`
	AverageRating             float64       `bson:"average_rating" json:"average_rating"`
	AccuracyScore             float64       `bson:"accuracy_score" json:"accuracy_score"`
	UsefulnessScore           float64       `bson:"usefulness_score" json:"usefulness_score"`
	ImplementationScore       float64       `bson:"implementation_score" json:"implementation_score"`
	BusinessValueScore        float64       `bson:"business_value_score" json:"business_value_score"`
	ImplementationSuccessRate float64       `bson:"implementation_success_rate" json:"implementation_success_rate"`
	ImplementationReports     int           `bson:"implementation_reports" json:"implementation_reports"`
	UserSatisfactionScore     float64       `bson:"user_satisfaction_score" json:"user_satisfaction_score"`
	ImprovementTrend          float64       `bson:"improvement_trend" json:"improvement_trend"`
	Last30Days                WindowMetrics `bson:"last_30_days" json:"last_30_days"`
	Strengths                 []string      `bson:"strengths,omitempty" json:"strengths,omitempty"`
	ImprovementAreas          []string      `bson:"improvement_areas,omitempty" json:"improvement_areas,omitempty"`
	UpdatedAt                 time.Time     `bson:"updated_at" json:"updated_at"`
}
