package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/canary-release-guard/crg/internal/models"
)

// Config holds the application configuration
type Config struct {
	Service    string           `mapstructure:"service"`
	Run        RunConfig        `mapstructure:"run"`
	Thresholds ThresholdConfig  `mapstructure:"thresholds"`
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Probe      ProbeConfig      `mapstructure:"probe"`
	Discovery  DiscoveryConfig  `mapstructure:"discovery"`
	Recorder   RecorderConfig   `mapstructure:"recorder"`
	EventBus   EventBusConfig   `mapstructure:"eventbus"`
	API        APIConfig        `mapstructure:"api"`
	Report     ReportConfig     `mapstructure:"report"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Security   SecurityConfig   `mapstructure:"security"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// RunConfig holds the monitoring loop settings
type RunConfig struct {
	Duration       time.Duration `mapstructure:"duration"`
	CheckInterval  time.Duration `mapstructure:"check_interval"`
	AnalyzeEvery   int           `mapstructure:"analyze_every"`
	AnalysisWindow time.Duration `mapstructure:"analysis_window"`
}

// ThresholdConfig holds the rollback thresholds
type ThresholdConfig struct {
	ErrorRateMax      float64 `mapstructure:"error_rate_max"`
	LatencyMsMax      float64 `mapstructure:"latency_ms_max"`
	SuccessRateMin    float64 `mapstructure:"success_rate_min"`
	RatioAlarmFactor  float64 `mapstructure:"ratio_alarm_factor"`
	LatencyDeltaAlarm float64 `mapstructure:"latency_delta_alarm_ms"`
}

// PrometheusConfig holds the Prometheus metric source settings
type PrometheusConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	BaseURL          string        `mapstructure:"base_url"`
	CanaryLabel      string        `mapstructure:"canary_label"`
	StableLabel      string        `mapstructure:"stable_label"`
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout"`
	QueriesPerSecond float64       `mapstructure:"queries_per_second"`
}

// ProbeConfig holds the direct health probe settings
type ProbeConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	CanaryEndpoint string        `mapstructure:"canary_endpoint"`
	StableEndpoint string        `mapstructure:"stable_endpoint"`
	HealthPath     string        `mapstructure:"health_path"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
}

// DiscoveryConfig holds the canary endpoint discovery settings
type DiscoveryConfig struct {
	Candidates   []string      `mapstructure:"candidates"`
	HealthPath   string        `mapstructure:"health_path"`
	CheckTimeout time.Duration `mapstructure:"check_timeout"`
}

// RecorderConfig holds the decision record sink settings
type RecorderConfig struct {
	File FileRecorderConfig `mapstructure:"file"`
	YDB  YDBRecorderConfig  `mapstructure:"ydb"`
}

// FileRecorderConfig holds the JSON file sink settings
type FileRecorderConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// YDBRecorderConfig holds the YDB sink settings
type YDBRecorderConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Database string `mapstructure:"database"`
}

// EventBusConfig holds NATS configuration
type EventBusConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	StreamName    string `mapstructure:"stream_name"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// APIConfig holds the status server settings
type APIConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// ReportConfig holds the deployment report settings
type ReportConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	Dir           string  `mapstructure:"dir"`
	QualityScore  int     `mapstructure:"quality_score"`
	SecurityScore int     `mapstructure:"security_score"`
	TestCoverage  float64 `mapstructure:"test_coverage"`
}

// TelemetryConfig holds telemetry configuration
type TelemetryConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	PrometheusPort int     `mapstructure:"prometheus_port"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
	SampleRate     float64 `mapstructure:"sample_rate"`
}

// SecurityConfig holds SPIFFE workload identity configuration
type SecurityConfig struct {
	SPIFFEEnabled    bool   `mapstructure:"spiffe_enabled"`
	SPIFFESocketPath string `mapstructure:"spiffe_socket_path"`
	TrustDomain      string `mapstructure:"trust_domain"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
	ErrorPath  string `mapstructure:"error_path"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	return LoadFromFile("")
}

// LoadFromFile loads configuration from a specific file
func LoadFromFile(configFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/crg")

	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	v.SetEnvPrefix("CRG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration for invalid settings
func (c *Config) Validate() error {
	if c.Run.Duration <= 0 {
		return fmt.Errorf("run.duration must be positive")
	}
	if c.Run.CheckInterval <= 0 {
		return fmt.Errorf("run.check_interval must be positive")
	}
	if c.Run.AnalyzeEvery < 0 {
		return fmt.Errorf("run.analyze_every must not be negative")
	}
	if err := c.ThresholdConfig().Validate(); err != nil {
		return fmt.Errorf("invalid thresholds: %w", err)
	}
	if !c.Prometheus.Enabled && !c.Probe.Enabled {
		return fmt.Errorf("either prometheus or probe metric source must be enabled")
	}
	if c.Prometheus.Enabled && c.Prometheus.BaseURL == "" {
		return fmt.Errorf("prometheus.base_url is required when prometheus is enabled")
	}
	if c.Probe.Enabled && c.Probe.StableEndpoint == "" {
		return fmt.Errorf("probe.stable_endpoint is required when probe is enabled")
	}
	return nil
}

// RunSettings converts config values into the run configuration used
// by the monitor.
func (c *Config) RunSettings() models.RunConfig {
	return models.RunConfig{
		Duration:       c.Run.Duration,
		CheckInterval:  c.Run.CheckInterval,
		AnalyzeEvery:   c.Run.AnalyzeEvery,
		AnalysisWindow: c.Run.AnalysisWindow,
		Thresholds:     c.ThresholdConfig(),
	}
}

// ThresholdConfig converts config thresholds into the model type.
func (c *Config) ThresholdConfig() models.ThresholdConfig {
	return models.ThresholdConfig{
		ErrorRateMax:        c.Thresholds.ErrorRateMax,
		LatencyMsMax:        c.Thresholds.LatencyMsMax,
		SuccessRateMin:      c.Thresholds.SuccessRateMin,
		RatioAlarmFactor:    c.Thresholds.RatioAlarmFactor,
		LatencyDeltaAlarmMs: c.Thresholds.LatencyDeltaAlarm,
	}
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("service", "canary-release-guard")

	// Run defaults
	v.SetDefault("run.duration", "600s")
	v.SetDefault("run.check_interval", "30s")
	v.SetDefault("run.analyze_every", 5)
	v.SetDefault("run.analysis_window", "5m")

	// Threshold defaults
	def := models.DefaultThresholds()
	v.SetDefault("thresholds.error_rate_max", def.ErrorRateMax)
	v.SetDefault("thresholds.latency_ms_max", def.LatencyMsMax)
	v.SetDefault("thresholds.success_rate_min", def.SuccessRateMin)
	v.SetDefault("thresholds.ratio_alarm_factor", def.RatioAlarmFactor)
	v.SetDefault("thresholds.latency_delta_alarm_ms", def.LatencyDeltaAlarmMs)

	// Prometheus defaults
	v.SetDefault("prometheus.enabled", true)
	v.SetDefault("prometheus.base_url", "http://localhost:9090")
	v.SetDefault("prometheus.canary_label", "canary")
	v.SetDefault("prometheus.stable_label", "stable")
	v.SetDefault("prometheus.fetch_timeout", "10s")
	v.SetDefault("prometheus.queries_per_second", 10.0)

	// Probe defaults
	v.SetDefault("probe.enabled", false)
	v.SetDefault("probe.health_path", "/api/v1/health")
	v.SetDefault("probe.fetch_timeout", "5s")

	// Discovery defaults
	v.SetDefault("discovery.candidates", []string{})
	v.SetDefault("discovery.health_path", "/api/v1/health")
	v.SetDefault("discovery.check_timeout", "5s")

	// Recorder defaults
	v.SetDefault("recorder.file.enabled", true)
	v.SetDefault("recorder.file.dir", ".")
	v.SetDefault("recorder.ydb.enabled", false)
	v.SetDefault("recorder.ydb.endpoint", "grpc://localhost:2136")
	v.SetDefault("recorder.ydb.database", "/local")

	// Event bus defaults
	v.SetDefault("eventbus.enabled", false)
	v.SetDefault("eventbus.url", "nats://localhost:4222")
	v.SetDefault("eventbus.stream_name", "CANARY_EVENTS")
	v.SetDefault("eventbus.subject_prefix", "canary.events")

	// API defaults
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.read_timeout", "10s")
	v.SetDefault("api.write_timeout", "10s")

	// Report defaults
	v.SetDefault("report.enabled", false)
	v.SetDefault("report.dir", ".")
	v.SetDefault("report.quality_score", 0)
	v.SetDefault("report.security_score", 0)
	v.SetDefault("report.test_coverage", 0.0)

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.prometheus_port", 9091)
	v.SetDefault("telemetry.jaeger_endpoint", "")
	v.SetDefault("telemetry.service_name", "canary-release-guard")
	v.SetDefault("telemetry.service_version", "1.0.0")
	v.SetDefault("telemetry.sample_rate", 1.0)

	// Security defaults
	v.SetDefault("security.spiffe_enabled", false)
	v.SetDefault("security.spiffe_socket_path", "unix:///tmp/spire-agent/public/api.sock")
	v.SetDefault("security.trust_domain", "crg.local")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_path", "stdout")
	v.SetDefault("logging.error_path", "stderr")
}
