package common

// DefaultConfig returns the baseline configuration applied before any file
// or environment overrides.
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "0.0.0.0",
		},
		Storage: StorageConfig{
			SQLite: SQLiteConfig{
				Path:          "./data/pagewright.db",
				CacheSizeMB:   64,
				BusyTimeoutMS: 5000,
				WALMode:       true,
			},
			Badger: BadgerConfig{
				Path: "./data/cache",
			},
		},
		Queue: QueueConfig{
			PollInterval:      "1s",
			Concurrency:       5,
			HeartbeatInterval: "10s",
			HeartbeatTimeout:  "30s",
			ReaperInterval:    "10s",
			DefaultMaxRetries: 3,
			DefaultTimeoutMS:  30000,
			MaxRetryDelaySec:  300,
		},
		Browser: BrowserConfig{
			DefaultFamily: "chromium",
			MinSize:       1,
			MaxSize:       4,
			IdleTimeout:   "5m",
			SweepInterval: "30s",
			AcquireWait:   "60s",
			Headless:      true,
			NoSandbox:     true,
			UserAgent:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},
		Stealth: StealthConfig{
			HardwareMin: 2,
			HardwareMax: 8,
			Locale:      "en-US",
			TimezoneID:  "America/New_York",
		},
		Captcha: CaptchaConfig{
			MinConfidenceThreshold:  0.5,
			MinStrongConfidence:     0.7,
			DetectionCacheTTLMS:     300000,
			BreakerFailureThreshold: 3,
			BreakerTimeoutPeriodMS:  60000,
			RetryMaxAttempts:        3,
			RetryBackoffMS:          1000,
			RetryMaxBackoffMS:       10000,
			SolveTimeoutMS:          120000,
			DetectionTimeoutMS:      15000,
			WidgetTimeoutMS:         30000,
			TranscriptionTimeoutMS:  60000,
			MaxConcurrencyPerSolver: 10,
		},
		Audio: AudioConfig{
			ProviderPriority:   "google,whisper,azure",
			MinConfidence:      0.7,
			MaxRetries:         3,
			CacheTTLHours:      24,
			RateLimitPerMinute: 60,
			TempDir:            "./data/audio-tmp",
			TimeoutMS:          60000,
		},
		Logging: LoggingConfig{
			Level:         "info",
			Output:        []string{"stdout"},
			TimeFormat:    "15:04:05.000",
			MinEventLevel: "info",
		},
	}
}
