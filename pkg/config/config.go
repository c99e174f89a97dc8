package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration struct for the agent. It holds
// settings for logging, storage, the event pipeline, detection, alerting,
// and the individual monitors. Tags are used by Viper to map YAML keys to
// struct fields.
type Config struct {
	LogLevel  string          `mapstructure:"log_level"`
	DataDir   string          `mapstructure:"data_dir"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Detection DetectionConfig `mapstructure:"detection"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Monitors  MonitorsConfig  `mapstructure:"monitors"`
}

// StorageConfig configures the local event store.
type StorageConfig struct {
	Path          string `mapstructure:"path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// QueueConfig configures the bounded event queue and the duplicate
// suppression window in front of the analysis loop.
type QueueConfig struct {
	Capacity    int           `mapstructure:"capacity"`
	DedupWindow time.Duration `mapstructure:"dedup_window"`
	DedupSize   int           `mapstructure:"dedup_size"`
}

// DetectionConfig configures anomaly detection and model retraining.
type DetectionConfig struct {
	AnomalyThreshold      float64 `mapstructure:"anomaly_threshold"`
	TrainingIntervalHours int     `mapstructure:"training_interval_hours"`
	MinTrainingSamples    int     `mapstructure:"min_training_samples"`
	TrainingWindowDays    int     `mapstructure:"training_window_days"`
	MaxTrainingSamples    int     `mapstructure:"max_training_samples"`
	ModelDir              string  `mapstructure:"model_dir"`
	ContaminationRate     float64 `mapstructure:"contamination_rate"`
	NumTrees              int     `mapstructure:"num_trees"`
	RandomSeed            int64   `mapstructure:"random_seed"`
}

// AlertsConfig configures alert filtering and rate limiting.
type AlertsConfig struct {
	SeverityThreshold string `mapstructure:"severity_threshold"`
	MaxAlertsPerHour  int    `mapstructure:"max_alerts_per_hour"`
	HistorySize       int    `mapstructure:"history_size"`
	AuditLogPath      string `mapstructure:"audit_log_path"`
}

// MonitorsConfig toggles and tunes the four monitors.
type MonitorsConfig struct {
	FileAccess FileAccessConfig `mapstructure:"file_access"`
	USB        USBConfig        `mapstructure:"usb"`
	Process    ProcessConfig    `mapstructure:"process"`
	Behavior   BehaviorConfig   `mapstructure:"behavior"`
}

// FileAccessConfig configures the filesystem watcher.
type FileAccessConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	WatchPaths   []string `mapstructure:"watch_paths"`
	ExcludePaths []string `mapstructure:"exclude_paths"`
}

// USBConfig configures removable-device polling.
type USBConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// ProcessConfig configures process-table polling.
type ProcessConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// BehaviorConfig configures user-activity tracking.
type BehaviorConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	AnalysisInterval  time.Duration `mapstructure:"analysis_interval"`
	IdleThreshold     time.Duration `mapstructure:"idle_threshold"`
	PatternBufferSize int           `mapstructure:"pattern_buffer_size"`
}

// LoadConfig reads the configuration from a YAML file (config.yaml) and
// environment variables. Defaults cover every key so the agent starts
// with no file present at all.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/sentinair/")

	setDefaults(v)

	v.SetEnvPrefix("SENTINAIR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No file is fine; defaults and environment variables apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("data_dir", "data")

	v.SetDefault("storage.path", "sentinair.db")
	v.SetDefault("storage.retention_days", 30)

	v.SetDefault("queue.capacity", 10000)
	v.SetDefault("queue.dedup_window", "5s")
	v.SetDefault("queue.dedup_size", 4096)

	v.SetDefault("detection.anomaly_threshold", 0.7)
	v.SetDefault("detection.training_interval_hours", 24)
	v.SetDefault("detection.min_training_samples", 1000)
	v.SetDefault("detection.training_window_days", 7)
	v.SetDefault("detection.max_training_samples", 10000)
	v.SetDefault("detection.model_dir", "models")
	v.SetDefault("detection.contamination_rate", 0.1)
	v.SetDefault("detection.num_trees", 100)
	v.SetDefault("detection.random_seed", 42)

	v.SetDefault("alerts.severity_threshold", "medium")
	v.SetDefault("alerts.max_alerts_per_hour", 10)
	v.SetDefault("alerts.history_size", 1000)
	v.SetDefault("alerts.audit_log_path", "audit.log")

	v.SetDefault("monitors.file_access.enabled", true)
	v.SetDefault("monitors.file_access.watch_paths", []string{})
	v.SetDefault("monitors.file_access.exclude_paths", []string{})

	v.SetDefault("monitors.usb.enabled", true)
	v.SetDefault("monitors.usb.poll_interval", "2s")

	v.SetDefault("monitors.process.enabled", true)
	v.SetDefault("monitors.process.poll_interval", "1s")

	v.SetDefault("monitors.behavior.enabled", true)
	v.SetDefault("monitors.behavior.analysis_interval", "30s")
	v.SetDefault("monitors.behavior.idle_threshold", "5m")
	v.SetDefault("monitors.behavior.pattern_buffer_size", 1000)
}
