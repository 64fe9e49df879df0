package common

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string        `toml:"environment"` // "development" or "production"
	Server      ServerConfig  `toml:"server"`
	Storage     StorageConfig `toml:"storage"`
	Queue       QueueConfig   `toml:"queue"`
	Browser     BrowserConfig `toml:"browser"`
	Stealth     StealthConfig `toml:"stealth"`
	Captcha     CaptchaConfig `toml:"captcha"`
	Audio       AudioConfig   `toml:"audio"`
	Logging     LoggingConfig `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	SQLite SQLiteConfig `toml:"sqlite"`
	Badger BadgerConfig `toml:"badger"`
}

// SQLiteConfig holds settings for the durable job queue database
type SQLiteConfig struct {
	Path          string `toml:"path"`            // Database file path
	CacheSizeMB   int    `toml:"cache_size_mb"`   // Page cache size
	BusyTimeoutMS int    `toml:"busy_timeout_ms"` // SQLITE_BUSY wait before erroring
	WALMode       bool   `toml:"wal_mode"`        // Enable write-ahead logging
}

// BadgerConfig holds settings for the local cache store (transcriptions)
type BadgerConfig struct {
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

// QueueConfig controls the job scheduler and worker registry
type QueueConfig struct {
	PollInterval      string `toml:"poll_interval"`       // e.g. "1s" - worker claim polling cadence
	Concurrency       int    `toml:"concurrency"`         // Max jobs in flight per worker process
	HeartbeatInterval string `toml:"heartbeat_interval"`  // e.g. "10s"
	HeartbeatTimeout  string `toml:"heartbeat_timeout"`   // e.g. "30s" - worker declared dead after this
	ReaperInterval    string `toml:"reaper_interval"`     // e.g. "10s" - dead-worker sweep cadence
	DefaultMaxRetries int    `toml:"default_max_retries"` // Applied when submission omits max_retries
	DefaultTimeoutMS  int    `toml:"default_timeout_ms"`  // First-navigation timeout default
	MaxRetryDelaySec  int    `toml:"max_retry_delay_sec"` // Cap on retryCount^2 backoff seconds
}

// BrowserConfig controls the per-family browser pools
type BrowserConfig struct {
	DefaultFamily string `toml:"default_family"` // chromium|firefox|webkit
	MinSize       int    `toml:"min_size"`       // Instances prewarmed at init
	MaxSize       int    `toml:"max_size"`       // Concurrent instance cap per family
	IdleTimeout   string `toml:"idle_timeout"`   // e.g. "5m" - idle instance close delay
	SweepInterval string `toml:"sweep_interval"` // e.g. "30s" - idle eviction cadence
	AcquireWait   string `toml:"acquire_wait"`   // e.g. "60s" - max block when pool is saturated
	Headless      bool   `toml:"headless"`
	NoSandbox     bool   `toml:"no_sandbox"`
	UserAgent     string `toml:"user_agent"`
	ExecPath      string `toml:"exec_path"` // Optional browser binary override
}

// StealthConfig toggles individual fingerprint overrides.
// All default on; see browser/stealth.go for the injected surface.
type StealthConfig struct {
	WebDriver           *bool  `toml:"webdriver"`
	Canvas              *bool  `toml:"canvas"`
	WebGL               *bool  `toml:"webgl"`
	AudioContext        *bool  `toml:"audio_context"`
	Battery             *bool  `toml:"battery"`
	HardwareConcurrency *bool  `toml:"hardware_concurrency"`
	Plugins             *bool  `toml:"plugins"`
	Languages           *bool  `toml:"languages"`
	Timezone            *bool  `toml:"timezone"`
	HardwareMin         int    `toml:"hardware_min"` // navigator.hardwareConcurrency range
	HardwareMax         int    `toml:"hardware_max"`
	Locale              string `toml:"locale"`
	TimezoneID          string `toml:"timezone_id"`
	BlockAssets         *bool  `toml:"block_assets"` // Abort image/font/media requests
}

// CaptchaConfig controls detection, solver orchestration and widget interaction
type CaptchaConfig struct {
	MinConfidenceThreshold  float64 `toml:"min_confidence_threshold"`  // Detection filter (default 0.5)
	MinStrongConfidence     float64 `toml:"min_strong_confidence"`     // Actionable threshold (default 0.7)
	DetectionCacheTTLMS     int     `toml:"detection_cache_ttl_ms"`    // Default 300000
	BreakerFailureThreshold int     `toml:"breaker_failure_threshold"` // Default 3
	BreakerTimeoutPeriodMS  int     `toml:"breaker_timeout_period_ms"` // Default 60000
	RetryMaxAttempts        int     `toml:"retry_max_attempts"`        // Default 3
	RetryBackoffMS          int     `toml:"retry_backoff_ms"`          // Default 1000
	RetryMaxBackoffMS       int     `toml:"retry_max_backoff_ms"`      // Default 10000
	SolveTimeoutMS          int     `toml:"solve_timeout_ms"`
	DetectionTimeoutMS      int     `toml:"detection_timeout_ms"`
	WidgetTimeoutMS         int     `toml:"widget_timeout_ms"`
	TranscriptionTimeoutMS  int     `toml:"transcription_timeout_ms"`
	MaxConcurrencyPerSolver int     `toml:"max_concurrency_per_solver"` // Default 10
	DebugScreenshotDir      string  `toml:"debug_screenshot_dir"`
	AkamaiSigningSecret     string  `toml:"akamai_signing_secret"`
	TwoCaptchaAPIKeys       string  `toml:"twocaptcha_api_keys"`  // Comma-separated, rotated round-robin
	AntiCaptchaAPIKeys      string  `toml:"anticaptcha_api_keys"` // Comma-separated, rotated round-robin
}

// AudioConfig controls the audio-captcha transcription pipeline
type AudioConfig struct {
	ProviderPriority   string  `toml:"provider_priority"` // Comma list, e.g. "google,whisper,azure"
	MinConfidence      float64 `toml:"min_confidence"`    // Default 0.7
	MaxRetries         int     `toml:"max_retries"`       // Default 3
	CacheTTLHours      int     `toml:"cache_ttl_hours"`   // Default 24
	EnableCache        *bool   `toml:"enable_cache"`
	RateLimitPerMinute int     `toml:"rate_limit_per_minute"` // Default 60
	TempDir            string  `toml:"temp_dir"`
	TimeoutMS          int     `toml:"timeout_ms"`
	GoogleSpeechAPIKey string  `toml:"google_speech_api_key"`
	OpenAIAPIKey       string  `toml:"openai_api_key"`
	AzureSpeechKey     string  `toml:"azure_speech_key"`
	AzureSpeechRegion  string  `toml:"azure_speech_region"`
}

type LoggingConfig struct {
	Level         string   `toml:"level"`           // "debug", "info", "warn", "error"
	Output        []string `toml:"output"`          // "stdout", "file"
	TimeFormat    string   `toml:"time_format"`     // Default "15:04:05.000"
	MinEventLevel string   `toml:"min_event_level"` // Minimum level mirrored into job logs
}

// captchaEnv maps the recognized environment variables onto config overrides.
// Pointer fields distinguish unset variables from explicit zero values.
type captchaEnv struct {
	BreakerFailureThreshold *int     `env:"CAPTCHA_CIRCUIT_BREAKER_FAILURE_THRESHOLD"`
	BreakerTimeoutPeriodMS  *int     `env:"CAPTCHA_CIRCUIT_BREAKER_TIMEOUT_PERIOD"`
	CacheTTLMS              *int     `env:"CAPTCHA_CACHE_TTL"`
	RetryMaxAttempts        *int     `env:"CAPTCHA_RETRY_MAX_ATTEMPTS"`
	RetryBackoffMS          *int     `env:"CAPTCHA_RETRY_BACKOFF_MS"`
	RetryMaxBackoffMS       *int     `env:"CAPTCHA_RETRY_MAX_BACKOFF_MS"`
	SolveTimeoutMS          *int     `env:"CAPTCHA_TIMEOUT_SOLVE"`
	DetectionTimeoutMS      *int     `env:"CAPTCHA_TIMEOUT_DETECTION"`
	WidgetTimeoutMS         *int     `env:"CAPTCHA_TIMEOUT_WIDGET_INTERACTION"`
	TranscriptionTimeoutMS  *int     `env:"CAPTCHA_TIMEOUT_AUDIO_TRANSCRIPTION"`
	ProviderMaxRetries      *int     `env:"CAPTCHA_PROVIDER_MAX_RETRIES"`
	ProviderTimeoutSeconds  *int     `env:"CAPTCHA_PROVIDER_TIMEOUT_SECONDS"`
	ProviderRateLimit       *int     `env:"CAPTCHA_PROVIDER_RATE_LIMIT_PER_MINUTE"`
	MinConfidenceThreshold  *float64 `env:"CAPTCHA_DETECTION_MIN_CONFIDENCE_THRESHOLD"`
	MinStrongConfidence     *float64 `env:"CAPTCHA_DETECTION_MIN_STRONG_CONFIDENCE"`
	TwoCaptchaAPIKeys       *string  `env:"2CAPTCHA_API_KEY"`
	AntiCaptchaAPIKeys      *string  `env:"ANTICAPTCHA_API_KEY"`
}

type audioEnv struct {
	ProviderPriority   *string  `env:"AUDIO_CAPTCHA_PROVIDER_PRIORITY"`
	MinConfidence      *float64 `env:"AUDIO_CAPTCHA_MIN_CONFIDENCE"`
	MaxRetries         *int     `env:"AUDIO_CAPTCHA_MAX_RETRIES"`
	CacheTTLHours      *int     `env:"AUDIO_CAPTCHA_CACHE_TTL_HOURS"`
	EnableCache        *bool    `env:"AUDIO_CAPTCHA_ENABLE_CACHE"`
	RateLimitPerMinute *int     `env:"AUDIO_CAPTCHA_RATE_LIMIT"`
	TempDir            *string  `env:"AUDIO_CAPTCHA_TEMP_DIR"`
	TimeoutMS          *int     `env:"AUDIO_CAPTCHA_TIMEOUT"`
	GoogleSpeechAPIKey *string  `env:"GOOGLE_SPEECH_API_KEY"`
	OpenAIAPIKey       *string  `env:"OPENAI_API_KEY"`
	AzureSpeechKey     *string  `env:"AZURE_SPEECH_KEY"`
	AzureSpeechRegion  *string  `env:"AZURE_SPEECH_REGION"`
	DefaultBrowser     *string  `env:"DEFAULT_BROWSER_TYPE_ID"`
}

// LoadFromFiles loads configuration with layered precedence:
// defaults -> file1 -> file2 -> ... -> environment variables.
// Later files override earlier ones.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := DefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides reads the recognized environment variable table onto config
func applyEnvOverrides(config *Config) error {
	var ce captchaEnv
	if err := env.Parse(&ce); err != nil {
		return fmt.Errorf("captcha env: %w", err)
	}
	if ce.BreakerFailureThreshold != nil {
		config.Captcha.BreakerFailureThreshold = *ce.BreakerFailureThreshold
	}
	if ce.BreakerTimeoutPeriodMS != nil {
		config.Captcha.BreakerTimeoutPeriodMS = *ce.BreakerTimeoutPeriodMS
	}
	if ce.CacheTTLMS != nil {
		config.Captcha.DetectionCacheTTLMS = *ce.CacheTTLMS
	}
	if ce.RetryMaxAttempts != nil {
		config.Captcha.RetryMaxAttempts = *ce.RetryMaxAttempts
	}
	if ce.RetryBackoffMS != nil {
		config.Captcha.RetryBackoffMS = *ce.RetryBackoffMS
	}
	if ce.RetryMaxBackoffMS != nil {
		config.Captcha.RetryMaxBackoffMS = *ce.RetryMaxBackoffMS
	}
	if ce.SolveTimeoutMS != nil {
		config.Captcha.SolveTimeoutMS = *ce.SolveTimeoutMS
	}
	if ce.DetectionTimeoutMS != nil {
		config.Captcha.DetectionTimeoutMS = *ce.DetectionTimeoutMS
	}
	if ce.WidgetTimeoutMS != nil {
		config.Captcha.WidgetTimeoutMS = *ce.WidgetTimeoutMS
	}
	if ce.TranscriptionTimeoutMS != nil {
		config.Captcha.TranscriptionTimeoutMS = *ce.TranscriptionTimeoutMS
	}
	if ce.ProviderRateLimit != nil {
		config.Audio.RateLimitPerMinute = *ce.ProviderRateLimit
	}
	if ce.MinConfidenceThreshold != nil {
		config.Captcha.MinConfidenceThreshold = *ce.MinConfidenceThreshold
	}
	if ce.MinStrongConfidence != nil {
		config.Captcha.MinStrongConfidence = *ce.MinStrongConfidence
	}
	if ce.TwoCaptchaAPIKeys != nil {
		config.Captcha.TwoCaptchaAPIKeys = *ce.TwoCaptchaAPIKeys
	}
	if ce.AntiCaptchaAPIKeys != nil {
		config.Captcha.AntiCaptchaAPIKeys = *ce.AntiCaptchaAPIKeys
	}

	var ae audioEnv
	if err := env.Parse(&ae); err != nil {
		return fmt.Errorf("audio env: %w", err)
	}
	if ae.ProviderPriority != nil {
		config.Audio.ProviderPriority = *ae.ProviderPriority
	}
	if ae.MinConfidence != nil {
		config.Audio.MinConfidence = *ae.MinConfidence
	}
	if ae.MaxRetries != nil {
		config.Audio.MaxRetries = *ae.MaxRetries
	}
	if ae.CacheTTLHours != nil {
		config.Audio.CacheTTLHours = *ae.CacheTTLHours
	}
	if ae.EnableCache != nil {
		config.Audio.EnableCache = ae.EnableCache
	}
	if ae.RateLimitPerMinute != nil {
		config.Audio.RateLimitPerMinute = *ae.RateLimitPerMinute
	}
	if ae.TempDir != nil {
		config.Audio.TempDir = *ae.TempDir
	}
	if ae.TimeoutMS != nil {
		config.Audio.TimeoutMS = *ae.TimeoutMS
	}
	if ae.GoogleSpeechAPIKey != nil {
		config.Audio.GoogleSpeechAPIKey = *ae.GoogleSpeechAPIKey
	}
	if ae.OpenAIAPIKey != nil {
		config.Audio.OpenAIAPIKey = *ae.OpenAIAPIKey
	}
	if ae.AzureSpeechKey != nil {
		config.Audio.AzureSpeechKey = *ae.AzureSpeechKey
	}
	if ae.AzureSpeechRegion != nil {
		config.Audio.AzureSpeechRegion = *ae.AzureSpeechRegion
	}
	if ae.DefaultBrowser != nil {
		config.Browser.DefaultFamily = *ae.DefaultBrowser
	}

	return nil
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Browser.MinSize < 0 || c.Browser.MaxSize <= 0 {
		return fmt.Errorf("invalid browser pool sizing: min=%d max=%d", c.Browser.MinSize, c.Browser.MaxSize)
	}
	if c.Browser.MinSize > c.Browser.MaxSize {
		return fmt.Errorf("browser pool min_size %d exceeds max_size %d", c.Browser.MinSize, c.Browser.MaxSize)
	}
	if c.Queue.Concurrency <= 0 {
		return fmt.Errorf("queue concurrency must be positive, got %d", c.Queue.Concurrency)
	}
	switch strings.ToLower(c.Browser.DefaultFamily) {
	case "chromium", "firefox", "webkit":
	default:
		return fmt.Errorf("unknown browser family: %s", c.Browser.DefaultFamily)
	}
	if c.Captcha.MinConfidenceThreshold < 0 || c.Captcha.MinConfidenceThreshold > 1 {
		return fmt.Errorf("min_confidence_threshold must be in [0,1]")
	}
	return nil
}

// ParseDurationField parses a string duration field with fallback
func ParseDurationField(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// BoolOrDefault resolves an optional toggle to its default
func BoolOrDefault(flag *bool, fallback bool) bool {
	if flag == nil {
		return fallback
	}
	return *flag
}

// SplitAndTrim splits a comma-separated config value, dropping empties
func SplitAndTrim(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
