package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Session    SessionConfig    `yaml:"session" mapstructure:"session"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Acquire    AcquireConfig    `yaml:"acquire" mapstructure:"acquire"`
	Recovery   RecoveryConfig   `yaml:"recovery" mapstructure:"recovery"`
	OCR        OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Transcribe TranscribeConfig `yaml:"transcribe" mapstructure:"transcribe"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Engines    EnginesConfig    `yaml:"engines" mapstructure:"engines"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// SessionConfig holds the authenticated media API session.
type SessionConfig struct {
	BaseURL         string  `yaml:"base_url" mapstructure:"base_url"`
	SessionID       string  `yaml:"session_id" mapstructure:"session_id"`
	UserAgent       string  `yaml:"user_agent" mapstructure:"user_agent"`
	AppID           string  `yaml:"app_id" mapstructure:"app_id"`
	TimeoutSecs     int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerSec  float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	MaxPayloadBytes int64   `yaml:"max_payload_bytes" mapstructure:"max_payload_bytes"`
}

// RetryConfig configures the backoff applied to upstream calls.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelayMs int `yaml:"base_delay_ms" mapstructure:"base_delay_ms"`
	MaxDelayMs  int `yaml:"max_delay_ms" mapstructure:"max_delay_ms"`
}

// AcquireConfig configures a single acquisition.
type AcquireConfig struct {
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	ScratchDir  string `yaml:"scratch_dir" mapstructure:"scratch_dir"`
}

// Timeout returns the per-acquisition deadline.
func (c AcquireConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// RecoveryConfig configures post-download analysis.
type RecoveryConfig struct {
	FrameIntervalSecs int    `yaml:"frame_interval_secs" mapstructure:"frame_interval_secs"`
	MaxFrames         int    `yaml:"max_frames" mapstructure:"max_frames"`
	OCRConcurrency    int    `yaml:"ocr_concurrency" mapstructure:"ocr_concurrency"`
	FFmpegPath        string `yaml:"ffmpeg_path" mapstructure:"ffmpeg_path"`
	FFprobePath       string `yaml:"ffprobe_path" mapstructure:"ffprobe_path"`
}

// OCRConfig configures on-screen text extraction.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	TesseractPath string `yaml:"tesseract_path" mapstructure:"tesseract_path"`
	Languages     string `yaml:"languages" mapstructure:"languages"`
	MistralKey    string `yaml:"mistral_key" mapstructure:"mistral_key"`
	MistralModel  string `yaml:"mistral_model" mapstructure:"mistral_model"`
}

// TranscribeConfig configures speech-to-text.
type TranscribeConfig struct {
	Provider    string `yaml:"provider" mapstructure:"provider"`
	WhisperPath string `yaml:"whisper_path" mapstructure:"whisper_path"`
	Model       string `yaml:"model" mapstructure:"model"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Key         string `yaml:"key" mapstructure:"key"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// EnginesConfig configures the circuit breakers guarding analysis engines.
type EnginesConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// StoreConfig configures the fingerprint store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// RedisConfig configures the redis store driver.
type RedisConfig struct {
	Address  string `yaml:"address" mapstructure:"address"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	TTLHours int    `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INSIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("session.base_url", "https://i.instagram.com/api/v1")
	v.SetDefault("session.session_id", "")
	v.SetDefault("session.user_agent", "Instagram 269.0.0.18.75 Android (26/8.0.0; 480dpi; 1080x1920; OnePlus; 6T Dev; devitron; qcom; en_US; 314665256)")
	v.SetDefault("session.app_id", "936619743392459")
	v.SetDefault("session.timeout_secs", 30)
	v.SetDefault("session.requests_per_sec", 1.0)
	v.SetDefault("session.max_payload_bytes", 200<<20)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay_ms", 1000)
	v.SetDefault("retry.max_delay_ms", 30000)
	v.SetDefault("acquire.timeout_secs", 180)
	v.SetDefault("acquire.scratch_dir", "")
	v.SetDefault("recovery.frame_interval_secs", 2)
	v.SetDefault("recovery.max_frames", 30)
	v.SetDefault("recovery.ocr_concurrency", 4)
	v.SetDefault("recovery.ffmpeg_path", "ffmpeg")
	v.SetDefault("recovery.ffprobe_path", "ffprobe")
	v.SetDefault("ocr.provider", "tesseract")
	v.SetDefault("ocr.tesseract_path", "tesseract")
	v.SetDefault("ocr.languages", "eng")
	v.SetDefault("ocr.mistral_key", "")
	v.SetDefault("ocr.mistral_model", "mistral-ocr-latest")
	v.SetDefault("transcribe.provider", "whisper")
	v.SetDefault("transcribe.whisper_path", "whisper")
	v.SetDefault("transcribe.model", "tiny")
	v.SetDefault("transcribe.base_url", "")
	v.SetDefault("transcribe.key", "")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("engines.failure_threshold", 3)
	v.SetDefault("engines.reset_timeout_secs", 60)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "insightminer.db")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl_hours", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Retry.MaxAttempts < 1 {
		return eris.Errorf("config: retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelayMs < 0 || c.Retry.MaxDelayMs < 0 {
		return eris.New("config: retry delays must not be negative")
	}
	if c.Retry.MaxDelayMs > 0 && c.Retry.BaseDelayMs > c.Retry.MaxDelayMs {
		return eris.Errorf("config: retry.base_delay_ms (%d) exceeds retry.max_delay_ms (%d)", c.Retry.BaseDelayMs, c.Retry.MaxDelayMs)
	}
	if c.Acquire.TimeoutSecs <= 0 {
		return eris.Errorf("config: acquire.timeout_secs must be positive, got %d", c.Acquire.TimeoutSecs)
	}
	if c.Recovery.MaxFrames < 0 {
		return eris.New("config: recovery.max_frames must not be negative")
	}

	switch c.OCR.Provider {
	case "tesseract", "mistral", "claude", "none", "":
	default:
		return eris.Errorf("config: unknown ocr.provider %q", c.OCR.Provider)
	}
	switch c.Transcribe.Provider {
	case "whisper", "http", "none", "":
	default:
		return eris.Errorf("config: unknown transcribe.provider %q", c.Transcribe.Provider)
	}
	switch c.Store.Driver {
	case "sqlite", "postgres", "redis", "none":
	default:
		return eris.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
