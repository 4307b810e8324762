package config

import (
	"errors"
	"fmt"
)

func (c *Config) Validate() error {
	var errs []error

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("server: %w", err))
	}

	if err := c.Auth.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("auth: %w", err))
	}

	if err := c.Model.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("model: %w", err))
	}

	if c.Staging.Dir == "" {
		errs = append(errs, fmt.Errorf("staging: dir cannot be empty"))
	}

	if err := c.Retrain.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retrain: %w", err))
	}

	if err := c.Guards.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("guards: %w", err))
	}

	if c.Inference.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("inference: cache_size must be non-negative"))
	}

	if err := c.Monitoring.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("monitoring: %w", err))
	}

	if err := c.Persistence.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("persistence: %w", err))
	}

	if err := c.History.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("history: %w", err))
	}

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}

	if err := c.validateDebugSecurity(); err != nil {
		errs = append(errs, fmt.Errorf("debug: %w", err))
	}

	return errors.Join(errs...)
}

func (s *ServerConfig) Validate() error {
	var errs []error

	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535, got %d", s.Port))
	}
	if s.ReadTimeoutSec < 1 || s.WriteTimeoutSec < 1 {
		errs = append(errs, fmt.Errorf("read_timeout_sec and write_timeout_sec must be at least 1"))
	}
	if s.MaxUploadMB < 1 {
		errs = append(errs, fmt.Errorf("max_upload_mb must be at least 1, got %d", s.MaxUploadMB))
	}
	if s.RateLimit.Enabled {
		if s.RateLimit.RequestsPerSecond <= 0 {
			errs = append(errs, fmt.Errorf("rate_limit.requests_per_second must be positive"))
		}
		if s.RateLimit.Burst < 1 {
			errs = append(errs, fmt.Errorf("rate_limit.burst must be at least 1"))
		}
	}

	return errors.Join(errs...)
}

func (a *AuthConfig) Validate() error {
	if a.Enabled {
		if a.User == "" {
			return fmt.Errorf("user cannot be empty when auth is enabled")
		}
		if a.Password == "" {
			return fmt.Errorf("password cannot be empty when auth is enabled")
		}
	}
	return nil
}

func (m *ModelConfig) Validate() error {
	var errs []error

	if m.WeightsPath == "" {
		errs = append(errs, fmt.Errorf("weights_path cannot be empty"))
	}
	if m.Conv1Filters < 1 || m.Conv2Filters < 1 || m.Hidden < 1 {
		errs = append(errs, fmt.Errorf("conv1_filters, conv2_filters and hidden must be positive"))
	}
	if m.DropoutRate < 0 || m.DropoutRate >= 1 {
		errs = append(errs, fmt.Errorf("dropout_rate must be in [0,1), got %g", m.DropoutRate))
	}

	return errors.Join(errs...)
}

func (r *RetrainConfig) Validate() error {
	var errs []error

	if r.Threshold < 1 {
		errs = append(errs, fmt.Errorf("threshold must be at least 1, got %d", r.Threshold))
	}
	if r.CheckIntervalSec < 0 {
		errs = append(errs, fmt.Errorf("check_interval_sec must be non-negative (0 disables)"))
	}
	if r.TimeoutSec < 0 {
		errs = append(errs, fmt.Errorf("timeout_sec must be non-negative (0 disables)"))
	}
	if r.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1"))
	}
	if r.MaxEpochs < 1 {
		errs = append(errs, fmt.Errorf("max_epochs must be at least 1"))
	}
	if r.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch_size must be at least 1"))
	}
	if r.LearningRate <= 0 {
		errs = append(errs, fmt.Errorf("learning_rate must be positive"))
	}
	if r.ValidationSplit < 0 || r.ValidationSplit >= 1 {
		errs = append(errs, fmt.Errorf("validation_split must be in [0,1), got %g", r.ValidationSplit))
	}
	if r.Patience < 0 {
		errs = append(errs, fmt.Errorf("patience must be non-negative"))
	}
	if r.MinDelta < 0 {
		errs = append(errs, fmt.Errorf("min_delta must be non-negative"))
	}

	return errors.Join(errs...)
}

func (g *GuardsConfig) Validate() error {
	var errs []error

	if g.MinFreeDiskMB < 0 {
		errs = append(errs, fmt.Errorf("min_free_disk_mb must be non-negative"))
	}
	if g.MaxMemoryPercent < 0 || g.MaxMemoryPercent > 100 {
		errs = append(errs, fmt.Errorf("max_memory_percent must be between 0 and 100"))
	}

	return errors.Join(errs...)
}

func (m *MonitoringConfig) Validate() error {
	if m.IntervalMS < 100 {
		return fmt.Errorf("interval_ms must be at least 100, got %d", m.IntervalMS)
	}
	return nil
}

func (p *PersistenceConfig) Validate() error {
	if p.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}
	if p.FlushIntervalSec < 1 {
		return fmt.Errorf("flush_interval_sec must be at least 1")
	}
	return nil
}

func (h *HistoryConfig) Validate() error {
	if h.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if h.RetentionDays < 0 {
		return fmt.Errorf("retention_days must be non-negative (0 keeps everything)")
	}
	return nil
}

func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", l.Level)
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validFormats[l.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, text)", l.Format)
	}

	if l.File != "" && (l.MaxSizeMB < 1 || l.MaxBackups < 0 || l.MaxAgeDays < 0) {
		return fmt.Errorf("file rotation needs max_size_mb >= 1 and non-negative max_backups, max_age_days")
	}

	return nil
}

// validateDebugSecurity refuses to expose profiling without some form of
// authentication.
func (c *Config) validateDebugSecurity() error {
	if !c.Server.Profiling.Enabled {
		return nil
	}
	if c.Debug.Auth.Token == "" && !c.Auth.Enabled {
		return fmt.Errorf("profiling requires auth.enabled or debug.auth.token")
	}
	return nil
}
