package config

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			PIDFile:         "/var/run/dermfox.pid",
			ReadTimeoutSec:  30,
			WriteTimeoutSec: 30,
			MaxUploadMB:     10,
			WatchConfig:     false,
			RateLimit: RateLimitConfig{
				Enabled:           false,
				PerIP:             true,
				RequestsPerSecond: 50,
				Burst:             100,
			},
			CORS: CORSConfig{
				Enabled: true,
			},
		},
		Auth: AuthConfig{
			Enabled:  false,
			User:     "",
			Password: "",
		},
		Model: ModelConfig{
			WeightsPath:  "/var/lib/dermfox/model.json",
			Seed:         42,
			Conv1Filters: 16,
			Conv2Filters: 32,
			Hidden:       64,
			DropoutRate:  0.2,
		},
		Staging: StagingConfig{
			Dir: "/var/lib/dermfox/staging",
		},
		Retrain: RetrainConfig{
			Threshold:        100,
			CheckIntervalSec: 60,
			TimeoutSec:       1800,
			Workers:          4,
			MaxEpochs:        10,
			BatchSize:        32,
			LearningRate:     0.001,
			ValidationSplit:  0.2,
			Patience:         3,
			MinDelta:         1e-4,
		},
		Guards: GuardsConfig{
			MinFreeDiskMB:    512,
			MaxMemoryPercent: 90,
		},
		Inference: InferenceConfig{
			CacheSize: 1024,
		},
		Monitoring: MonitoringConfig{
			IntervalMS: 2000,
		},
		Persistence: PersistenceConfig{
			DataDir:          "/var/lib/dermfox",
			FlushIntervalSec: 60,
		},
		History: HistoryConfig{
			Path:          "/var/lib/dermfox/history.db",
			RetentionDays: 90,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}
