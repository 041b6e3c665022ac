package metrics

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// SystemHealth is the health snapshot consumed by the workflow monitor's
// threshold evaluation.
type SystemHealth struct {
	CPUUsagePercent    float64 `json:"cpu_usage_percent"`
	MemoryUsagePercent float64 `json:"memory_usage_percent"`
	DiskUsagePercent   float64 `json:"disk_usage_percent"`
	ErrorRatePercent   float64 `json:"error_rate_percent"`
	ResponseTimeMs     float64 `json:"response_time_ms"`
	ActiveConnections  int     `json:"active_connections"`
	UptimeSeconds      float64 `json:"uptime_seconds"`
	Status             string  `json:"status"`
}

// AgentSample records one agent execution for rolling aggregation.
type agentSample struct {
	at          time.Time
	executionMs float64
	success     bool
}

type metricSample struct {
	at    time.Time
	value float64
}

// Collector is the in-process metrics collaborator. It keeps bounded rolling
// windows of recorded values so GetMetricValue and GetSystemHealth can answer
// without external dependencies, and mirrors everything to Prometheus.
type Collector struct {
	mu           sync.RWMutex
	samples      map[string][]metricSample
	agentSamples map[string][]agentSample
	retention    time.Duration
	startedAt    time.Time
	logger       *zap.Logger
}

// NewCollector creates a collector with a 1h sample retention.
func NewCollector(logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		samples:      make(map[string][]metricSample),
		agentSamples: make(map[string][]agentSample),
		retention:    time.Hour,
		startedAt:    time.Now(),
		logger:       logger,
	}
}

// RecordMetric appends a sample for a named metric.
func (c *Collector) RecordMetric(name string, value float64) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples[name] = c.pruneLocked(append(c.samples[name], metricSample{at: now, value: value}), now)
}

// GetMetricValue returns the mean of samples recorded within the window.
// The second return is false when no sample falls inside the window.
func (c *Collector) GetMetricValue(name string, window time.Duration) (float64, bool) {
	cutoff := time.Now().Add(-window)
	c.mu.RLock()
	defer c.mu.RUnlock()

	var sum float64
	var n int
	for _, s := range c.samples[name] {
		if s.at.After(cutoff) {
			sum += s.value
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// RecordAgentPerformance records a single agent execution outcome.
func (c *Collector) RecordAgentPerformance(agentName string, executionMs float64, success bool, assessmentID string) {
	status := "completed"
	if !success {
		status = "failed"
	}
	StepExecutions.WithLabelValues(agentName, status).Inc()
	AgentExecutionDuration.WithLabelValues(agentName).Observe(executionMs)

	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	samples := append(c.agentSamples[agentName], agentSample{at: now, executionMs: executionMs, success: success})
	// prune in place
	cutoff := now.Add(-c.retention)
	i := 0
	for i < len(samples) && !samples[i].at.After(cutoff) {
		i++
	}
	c.agentSamples[agentName] = samples[i:]
}

// GetSystemHealth derives a health snapshot from recorded metrics and agent
// execution outcomes over the last 5 minutes.
func (c *Collector) GetSystemHealth() SystemHealth {
	const window = 5 * time.Minute
	cutoff := time.Now().Add(-window)

	c.mu.RLock()
	var total, failed int
	var durSum float64
	for _, samples := range c.agentSamples {
		for _, s := range samples {
			if !s.at.After(cutoff) {
				continue
			}
			total++
			durSum += s.executionMs
			if !s.success {
				failed++
			}
		}
	}
	c.mu.RUnlock()

	h := SystemHealth{
		UptimeSeconds: time.Since(c.startedAt).Seconds(),
		Status:        "healthy",
	}
	if v, ok := c.GetMetricValue("system.cpu_usage_percent", window); ok {
		h.CPUUsagePercent = v
	}
	if v, ok := c.GetMetricValue("system.memory_usage_percent", window); ok {
		h.MemoryUsagePercent = v
	}
	if v, ok := c.GetMetricValue("system.disk_usage_percent", window); ok {
		h.DiskUsagePercent = v
	}
	if v, ok := c.GetMetricValue("system.active_connections", window); ok {
		h.ActiveConnections = int(v)
	}
	if total > 0 {
		h.ErrorRatePercent = float64(failed) / float64(total) * 100
		h.ResponseTimeMs = durSum / float64(total)
	}

	switch {
	case h.ErrorRatePercent > 25 || h.CPUUsagePercent > 95:
		h.Status = "unhealthy"
	case h.ErrorRatePercent > 5 || h.CPUUsagePercent > 80 || h.MemoryUsagePercent > 85:
		h.Status = "degraded"
	}
	return h
}

// pruneLocked drops samples older than the retention window. Caller holds mu.
func (c *Collector) pruneLocked(samples []metricSample, now time.Time) []metricSample {
	cutoff := now.Add(-c.retention)
	i := 0
	for i < len(samples) && !samples[i].at.After(cutoff) {
		i++
	}
	return samples[i:]
}
