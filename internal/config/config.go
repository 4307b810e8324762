package config

import (
	"time"

	"github.com/haskel/dermfox/internal/imaging"
	"github.com/haskel/dermfox/internal/lesion"
	"github.com/haskel/dermfox/internal/nn"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Auth        AuthConfig        `yaml:"auth"`
	Model       ModelConfig       `yaml:"model"`
	Staging     StagingConfig     `yaml:"staging"`
	Retrain     RetrainConfig     `yaml:"retrain"`
	Guards      GuardsConfig      `yaml:"guards"`
	Inference   InferenceConfig   `yaml:"inference"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Persistence PersistenceConfig `yaml:"persistence"`
	History     HistoryConfig     `yaml:"history"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Debug       DebugConfig       `yaml:"debug"`
}

// DebugConfig holds debug endpoint authentication.
type DebugConfig struct {
	Auth DebugAuthConfig `yaml:"auth"`
}

// DebugAuthConfig holds the bearer token for /debug/pprof.
// If empty, main auth is used.
type DebugAuthConfig struct {
	Token string `yaml:"token"`
}

type ServerConfig struct {
	Host            string          `yaml:"host"`
	Port            int             `yaml:"port"`
	PIDFile         string          `yaml:"pid_file"`
	ReadTimeoutSec  int             `yaml:"read_timeout_sec"`
	WriteTimeoutSec int             `yaml:"write_timeout_sec"`
	MaxUploadMB     int             `yaml:"max_upload_mb"`
	WatchConfig     bool            `yaml:"watch_config"`
	Profiling       ProfilingConfig `yaml:"profiling"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	CORS            CORSConfig      `yaml:"cors"`
}

type ProfilingConfig struct {
	Enabled bool `yaml:"enabled"`
}

type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	PerIP             bool    `yaml:"per_ip"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// CORSConfig controls cross-origin access. An empty origin list allows
// any origin.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type AuthConfig struct {
	Enabled  bool   `yaml:"enabled"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// ModelConfig describes the network and where its weights live.
type ModelConfig struct {
	WeightsPath  string  `yaml:"weights_path"`
	Seed         int64   `yaml:"seed"`
	Conv1Filters int     `yaml:"conv1_filters"`
	Conv2Filters int     `yaml:"conv2_filters"`
	Hidden       int     `yaml:"hidden"`
	DropoutRate  float64 `yaml:"dropout_rate"`
}

type StagingConfig struct {
	Dir string `yaml:"dir"`
}

type RetrainConfig struct {
	// Threshold is the staged sample count that starts a pass.
	Threshold        int     `yaml:"threshold"`
	CheckIntervalSec int     `yaml:"check_interval_sec"`
	TimeoutSec       int     `yaml:"timeout_sec"`
	Workers          int     `yaml:"workers"`
	MaxEpochs        int     `yaml:"max_epochs"`
	BatchSize        int     `yaml:"batch_size"`
	LearningRate     float64 `yaml:"learning_rate"`
	ValidationSplit  float64 `yaml:"validation_split"`
	Patience         int     `yaml:"patience"`
	MinDelta         float64 `yaml:"min_delta"`
}

type GuardsConfig struct {
	MinFreeDiskMB    int     `yaml:"min_free_disk_mb"`
	MaxMemoryPercent float64 `yaml:"max_memory_percent"`
}

type InferenceConfig struct {
	CacheSize int `yaml:"cache_size"`
}

type MonitoringConfig struct {
	IntervalMS int `yaml:"interval_ms"`
}

type PersistenceConfig struct {
	DataDir          string `yaml:"data_dir"`
	FlushIntervalSec int    `yaml:"flush_interval_sec"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File enables rotating file output in addition to stdout.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

func (c *Config) MonitoringInterval() time.Duration {
	return time.Duration(c.Monitoring.IntervalMS) * time.Millisecond
}

func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Persistence.FlushIntervalSec) * time.Second
}

func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Server.ReadTimeoutSec) * time.Second
}

func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Server.WriteTimeoutSec) * time.Second
}

func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Server.MaxUploadMB) << 20
}

// CheckInterval is zero when periodic checks are disabled.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.Retrain.CheckIntervalSec) * time.Second
}

// RetrainTimeout is zero when passes are not time-limited.
func (c *Config) RetrainTimeout() time.Duration {
	return time.Duration(c.Retrain.TimeoutSec) * time.Second
}

func (c *Config) HistoryRetention() time.Duration {
	return time.Duration(c.History.RetentionDays) * 24 * time.Hour
}

func (c *Config) MinFreeDiskBytes() uint64 {
	return uint64(c.Guards.MinFreeDiskMB) << 20
}

func (c *Config) Architecture() nn.Architecture {
	return nn.Architecture{
		InputChannels: imaging.Channels,
		InputSize:     imaging.InputSize,
		Conv1Filters:  c.Model.Conv1Filters,
		Conv2Filters:  c.Model.Conv2Filters,
		Hidden:        c.Model.Hidden,
		DropoutRate:   c.Model.DropoutRate,
		Classes:       lesion.NumClasses,
	}
}

func (c *Config) TrainConfig() nn.TrainConfig {
	return nn.TrainConfig{
		MaxEpochs:       c.Retrain.MaxEpochs,
		BatchSize:       c.Retrain.BatchSize,
		LearningRate:    c.Retrain.LearningRate,
		ValidationSplit: c.Retrain.ValidationSplit,
		Patience:        c.Retrain.Patience,
		MinDelta:        c.Retrain.MinDelta,
		Seed:            c.Model.Seed,
	}
}
