// Package config loads the service configuration from YAML with environment
// overrides, and hot-reloads the quality threshold table.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Engine        EngineConfig        `mapstructure:"engine"`
	Monitor       MonitorConfig       `mapstructure:"monitor"`
	Dashboard     DashboardConfig     `mapstructure:"dashboard"`
	Quality       QualityConfig       `mapstructure:"quality"`
	Improvement   ImprovementConfig   `mapstructure:"improvement"`
	Experiments   ExperimentsConfig   `mapstructure:"experiments"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Mongo         MongoConfig         `mapstructure:"mongo"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// EngineConfig tunes the workflow engine.
type EngineConfig struct {
	MaxParallel     int           `mapstructure:"max_parallel"`     // per-workflow in-flight step cap
	MaxRetries      int           `mapstructure:"max_retries"`      // default per-step retry budget
	GlobalMaxSteps  int64         `mapstructure:"global_max_steps"` // fleet-wide in-flight step cap
	RetentionHours  int           `mapstructure:"retention_hours"`  // terminal workflow eviction age
	BackoffBase     time.Duration `mapstructure:"backoff_base"`     // 2^attempt * base
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// MonitorConfig tunes trace/alert handling.
type MonitorConfig struct {
	ThresholdInterval  time.Duration `mapstructure:"threshold_interval"`
	TraceRetention     time.Duration `mapstructure:"trace_retention"`
	WorkflowDurationMs float64       `mapstructure:"workflow_duration_ms"`
	CPUPercent         float64       `mapstructure:"cpu_percent"`
	MemoryPercent      float64       `mapstructure:"memory_percent"`
	ErrorRatePercent   float64       `mapstructure:"error_rate_percent"`
}

// DashboardConfig tunes the read-model poll loop.
type DashboardConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// QualityConfig tunes validation and scoring.
type QualityConfig struct {
	PricingTolerance     float64       `mapstructure:"pricing_tolerance"` // relative difference before needs_review
	SavingsThreshold     float64       `mapstructure:"savings_threshold"` // potential savings worth flagging
	ScoreCacheTTL        time.Duration `mapstructure:"score_cache_ttl"`
	FactCheckCacheTTL    time.Duration `mapstructure:"factcheck_cache_ttl"`
	PricingCacheTTL      time.Duration `mapstructure:"pricing_cache_ttl"`
	AvailabilityCacheTTL time.Duration `mapstructure:"availability_cache_ttl"`
}

// Thresholds is the improvement-loop alerting table. Reloadable at runtime.
type Thresholds struct {
	MinQualityScore          float64 `mapstructure:"min_quality_score" yaml:"min_quality_score"`
	MinAccuracy              float64 `mapstructure:"min_accuracy" yaml:"min_accuracy"`
	MinSatisfaction          float64 `mapstructure:"min_satisfaction" yaml:"min_satisfaction"`
	MinImplementationSuccess float64 `mapstructure:"min_implementation_success" yaml:"min_implementation_success"`
	MaxResponseTimeSeconds   float64 `mapstructure:"max_response_time_seconds" yaml:"max_response_time_seconds"`
	MaxErrorRatePercent      float64 `mapstructure:"max_error_rate_percent" yaml:"max_error_rate_percent"`
}

// ImprovementConfig tunes the continuous improvement loops.
type ImprovementConfig struct {
	Thresholds      Thresholds    `mapstructure:"thresholds"`
	RealTimeEvery   time.Duration `mapstructure:"real_time_every"`
	ShortTermEvery  time.Duration `mapstructure:"short_term_every"`
	MediumTermEvery time.Duration `mapstructure:"medium_term_every"`
	LongTermEvery   time.Duration `mapstructure:"long_term_every"`
	ThresholdsFile  string        `mapstructure:"thresholds_file"` // optional hot-reload source
}

// ExperimentsConfig tunes the A/B testing framework.
type ExperimentsConfig struct {
	MaxConcurrentPerUser int `mapstructure:"max_concurrent_per_user"`
}

// RedisConfig locates the cache backend. Empty addr disables caching.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MongoConfig locates the document store. Empty URI selects the in-memory store.
type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// ObservabilityConfig covers metrics, tracing, and logging.
type ObservabilityConfig struct {
	MetricsPort int `mapstructure:"metrics_port"`
	Tracing     struct {
		Enabled      bool   `mapstructure:"enabled"`
		ServiceName  string `mapstructure:"service_name"`
		OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	} `mapstructure:"tracing"`
	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
}

// Load reads configuration from CONFIG_PATH (or ./config/inframind.yaml) with
// INFRAMIND_-prefixed environment overrides. A missing file is not an error;
// defaults apply.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INFRAMIND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "./config/inframind.yaml"
	}
	v.SetConfigFile(cfgPath)
	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(cfgPath); statErr == nil {
			return nil, fmt.Errorf("read config %s: %w", cfgPath, err)
		}
		// no config file; defaults + env only
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.max_parallel", 3)
	v.SetDefault("engine.max_retries", 3)
	v.SetDefault("engine.global_max_steps", 32)
	v.SetDefault("engine.retention_hours", 24)
	v.SetDefault("engine.backoff_base", "1s")
	v.SetDefault("engine.shutdown_timeout", "30s")

	v.SetDefault("monitor.threshold_interval", "30s")
	v.SetDefault("monitor.trace_retention", "24h")
	v.SetDefault("monitor.workflow_duration_ms", 300000)
	v.SetDefault("monitor.cpu_percent", 80)
	v.SetDefault("monitor.memory_percent", 85)
	v.SetDefault("monitor.error_rate_percent", 5)

	v.SetDefault("dashboard.poll_interval", "5s")

	v.SetDefault("quality.pricing_tolerance", 0.05)
	v.SetDefault("quality.savings_threshold", 0.10)
	v.SetDefault("quality.score_cache_ttl", "1h")
	v.SetDefault("quality.factcheck_cache_ttl", "24h")
	v.SetDefault("quality.pricing_cache_ttl", "30m")
	v.SetDefault("quality.availability_cache_ttl", "24h")

	v.SetDefault("improvement.thresholds.min_quality_score", 0.70)
	v.SetDefault("improvement.thresholds.min_accuracy", 0.75)
	v.SetDefault("improvement.thresholds.min_satisfaction", 3.5)
	v.SetDefault("improvement.thresholds.min_implementation_success", 0.80)
	v.SetDefault("improvement.thresholds.max_response_time_seconds", 300)
	v.SetDefault("improvement.thresholds.max_error_rate_percent", 5)
	v.SetDefault("improvement.real_time_every", "60s")
	v.SetDefault("improvement.short_term_every", "300s")
	v.SetDefault("improvement.medium_term_every", "1h")
	v.SetDefault("improvement.long_term_every", "24h")

	v.SetDefault("experiments.max_concurrent_per_user", 3)

	v.SetDefault("mongo.database", "inframind")

	v.SetDefault("observability.metrics_port", 2112)
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.service_name", "inframind-core")
	v.SetDefault("observability.tracing.otlp_endpoint", "localhost:4317")
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
}
