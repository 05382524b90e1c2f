package config

const (
	defaultDataDir                = "~/.local/share/deepscan"
	defaultLogDir                 = "~/.local/share/deepscan/logs"
	defaultAPIBind                = "127.0.0.1:7490"
	defaultFFmpeg                 = "ffmpeg"
	defaultFFprobe                = "ffprobe"
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultConcurrency            = 2
	defaultPrefetchMultiplier     = 1
	defaultMaxTasksPerWorker      = 1000
	defaultMaxPending             = 100
	defaultRateLimitPerMinute     = 10
	defaultSoftTimeLimit          = 1500
	defaultHardTimeLimit          = 1800
	defaultPollInterval           = 2
	defaultHeartbeatInterval      = 15
	defaultHeartbeatTimeout       = 120
	defaultDeviceMemoryFraction   = 0.8
	defaultMonitorInterval        = 300
	defaultMaxRetries             = 3
	defaultRetryDelay             = 60
	defaultRetryBackoffMax        = 300
	defaultCacheMaxEntries        = 200000
	defaultEmbeddingTTL           = 86400
	defaultAnalysisTTL            = 1800
	defaultResultTTL              = 86400
	defaultSessionTTL             = 7200
	defaultSweepInterval          = 60
	defaultBatchSize              = 32
	defaultMaxFrames              = 1000
	defaultFrameWidth             = 224
	defaultFrameHeight            = 224
	defaultScorer                 = "variance"
	defaultSuspiciousThreshold    = 0.7
	defaultHighSeverityThreshold  = 0.8
	defaultLowConfidenceCeiling   = 0.3
	defaultPublishTimeoutMillis   = 50
	defaultSubscriberBuffer       = 64
	defaultStoreDriver            = "sqlite"
	defaultRetentionDays          = 30
	defaultRetentionIntervalHours = 24
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
			FFmpeg:  defaultFFmpeg,
			FFprobe: defaultFFprobe,
		},
		Workers: Workers{
			Concurrency:          defaultConcurrency,
			PrefetchMultiplier:   defaultPrefetchMultiplier,
			MaxTasksPerWorker:    defaultMaxTasksPerWorker,
			MaxPending:           defaultMaxPending,
			RateLimitPerMinute:   defaultRateLimitPerMinute,
			SoftTimeLimit:        defaultSoftTimeLimit,
			HardTimeLimit:        defaultHardTimeLimit,
			PollInterval:         defaultPollInterval,
			HeartbeatInterval:    defaultHeartbeatInterval,
			HeartbeatTimeout:     defaultHeartbeatTimeout,
			DeviceExclusive:      true,
			DeviceMemoryFraction: defaultDeviceMemoryFraction,
			MonitorInterval:      defaultMonitorInterval,
		},
		Retry: Retry{
			MaxRetries:   defaultMaxRetries,
			DefaultDelay: defaultRetryDelay,
			BackoffMax:   defaultRetryBackoffMax,
			Jitter:       true,
		},
		Cache: Cache{
			MaxEntries:    defaultCacheMaxEntries,
			EmbeddingTTL:  defaultEmbeddingTTL,
			AnalysisTTL:   defaultAnalysisTTL,
			ResultTTL:     defaultResultTTL,
			SessionTTL:    defaultSessionTTL,
			SweepInterval: defaultSweepInterval,
		},
		Extraction: Extraction{
			BatchSize:        defaultBatchSize,
			MaxFrames:        defaultMaxFrames,
			FrameWidth:       defaultFrameWidth,
			FrameHeight:      defaultFrameHeight,
			SupportedFormats: []string{"mp4", "avi", "mov", "mkv", "webm"},
		},
		Ensemble: Ensemble{
			Extractors: []string{"cnn", "vision_language"},
			Weights: map[string]float64{
				"cnn":             0.6,
				"vision_language": 0.4,
			},
		},
		Detection: Detection{
			Scorer:                defaultScorer,
			SuspiciousThreshold:   defaultSuspiciousThreshold,
			HighSeverityThreshold: defaultHighSeverityThreshold,
			LowConfidenceCeiling:  defaultLowConfidenceCeiling,
		},
		Progress: Progress{
			PublishTimeoutMillis: defaultPublishTimeoutMillis,
			SubscriberBuffer:     defaultSubscriberBuffer,
		},
		Store: Store{
			Driver: defaultStoreDriver,
		},
		Retention: Retention{
			Enabled:  false,
			Days:     defaultRetentionDays,
			Interval: defaultRetentionIntervalHours * 3600,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
