// Package domain holds the assessment and recommendation records exchanged
// between the workflow engine, the agents, and the quality subsystem.
package domain

import "time"

// BusinessRequirements captures the commercial constraints an assessment
// carries into agent execution and validation.
type BusinessRequirements struct {
	MonthlyBudget          float64  `bson:"monthly_budget" json:"monthly_budget"`
	TimelineMonths         int      `bson:"timeline_months" json:"timeline_months"`
	Goals                  []string `bson:"goals" json:"goals"`
	ComplianceRequirements []string `bson:"compliance_requirements" json:"compliance_requirements"`
	Industry               string   `bson:"industry" json:"industry"`
	CompanySize            string   `bson:"company_size" json:"company_size"`
}

// TechnicalRequirements captures the workload shape a recommendation must fit.
type TechnicalRequirements struct {
	ComputeCores  int      `bson:"compute_cores" json:"compute_cores"`
	MemoryGB      float64  `bson:"memory_gb" json:"memory_gb"`
	StorageGB     float64  `bson:"storage_gb" json:"storage_gb"`
	NetworkGbps   float64  `bson:"network_gbps" json:"network_gbps"`
	Regions       []string `bson:"regions" json:"regions"`
	ExpectedUsers int      `bson:"expected_users" json:"expected_users"`
	Workloads     []string `bson:"workloads" json:"workloads"`
}

// Assessment is the input context a workflow run and its agents operate on.
type Assessment struct {
	ID                    string                `bson:"assessment_id" json:"assessment_id"`
	Title                 string                `bson:"title" json:"title"`
	BusinessRequirements  BusinessRequirements  `bson:"business_requirements" json:"business_requirements"`
	TechnicalRequirements TechnicalRequirements `bson:"technical_requirements" json:"technical_requirements"`
	CreatedAt             time.Time             `bson:"created_at" json:"created_at"`
}

// RecommendedService is one concrete service selection inside a recommendation.
type RecommendedService struct {
	Provider      string   `bson:"provider" json:"provider"`
	Service       string   `bson:"service" json:"service"`
	Region        string   `bson:"region" json:"region"`
	Tier          string   `bson:"tier" json:"tier"`
	InstanceCount int      `bson:"instance_count" json:"instance_count"`
	MonthlyCost   float64  `bson:"monthly_cost" json:"monthly_cost"`
	Features      []string `bson:"features" json:"features"`
}

// Recommendation is an agent-produced infrastructure proposal, the unit the
// quality subsystem validates and scores.
type Recommendation struct {
	ID                  string               `bson:"recommendation_id" json:"recommendation_id"`
	AssessmentID        string               `bson:"assessment_id" json:"assessment_id"`
	AgentName           string               `bson:"agent_name" json:"agent_name"`
	Title               string               `bson:"title" json:"title"`
	Summary             string               `bson:"summary" json:"summary"`
	Provider            string               `bson:"provider" json:"provider"`
	Services            []RecommendedService `bson:"services" json:"services"`
	CostEstimateMonthly float64              `bson:"cost_estimate_monthly" json:"cost_estimate_monthly"`
	Confidence          float64              `bson:"confidence" json:"confidence"`
	Features            []string             `bson:"features" json:"features"`
	PerformanceClaims   map[string]string    `bson:"performance_claims" json:"performance_claims"`
	CreatedAt           time.Time            `bson:"created_at" json:"created_at"`
}
