package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	RateLimit  RateLimitConfig
	Speech     SpeechConfig
	Pipeline   PipelineConfig
	Generation GenerationConfig
	Groq       GroqConfig
	R2         R2Config
}

type ServerConfig struct {
	Port        string
	Env         string
	LogLevel    string
	BodyLimitMB int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	SessionsPerHour int
	ExportsPerHour  int
}

// SpeechConfig points at the remote speech API (upload, transcript and
// LeMUR generation endpoints share one credential).
type SpeechConfig struct {
	APIKey  string
	BaseURL string
	Timeout int // seconds, per HTTP call
}

// PipelineConfig holds the tunables of the transcription polling loop.
type PipelineConfig struct {
	PollIntervalMS           int
	MaxPollAttempts          int
	SpeakerLabels            bool
	RetryPollTransportErrors bool
}

// PollInterval returns the fixed delay that precedes every status query.
func (c PipelineConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

type GenerationConfig struct {
	Provider   string // "lemur" or "groq"
	FinalModel string
}

type GroqConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout int // seconds, per HTTP call
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

const (
	ProviderLemur = "lemur"
	ProviderGroq  = "groq"
)

// Load resolves configuration from .env, an optional config.yaml and the
// process environment, in increasing order of precedence.
func Load() (*Config, error) {
	// .env never overrides variables that are already exported
	_ = godotenv.Load()

	readSecret("ASSEMBLYAI_API_KEY")
	readSecret("GROQ_API_KEY")
	readSecret("REDIS_PASSWORD")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()

	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.body_limit_mb", "BODY_LIMIT_MB")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("ratelimit.sessions_per_hour", "RATELIMIT_SESSIONS_PER_HOUR")
	_ = v.BindEnv("ratelimit.exports_per_hour", "RATELIMIT_EXPORTS_PER_HOUR")
	_ = v.BindEnv("speech.api_key", "ASSEMBLYAI_API_KEY")
	_ = v.BindEnv("speech.base_url", "ASSEMBLYAI_BASE_URL")
	_ = v.BindEnv("speech.timeout", "ASSEMBLYAI_TIMEOUT")
	_ = v.BindEnv("pipeline.poll_interval_ms", "POLL_INTERVAL_MS")
	_ = v.BindEnv("pipeline.max_poll_attempts", "MAX_POLL_ATTEMPTS")
	_ = v.BindEnv("pipeline.speaker_labels", "SPEAKER_LABELS")
	_ = v.BindEnv("pipeline.retry_poll_transport_errors", "RETRY_POLL_TRANSPORT_ERRORS")
	_ = v.BindEnv("generation.provider", "GENERATION_PROVIDER")
	_ = v.BindEnv("generation.final_model", "GENERATION_MODEL")
	_ = v.BindEnv("groq.api_key", "GROQ_API_KEY")
	_ = v.BindEnv("groq.base_url", "GROQ_BASE_URL")
	_ = v.BindEnv("groq.model", "GROQ_MODEL")
	_ = v.BindEnv("groq.timeout", "GROQ_TIMEOUT")
	_ = v.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("r2.public_url", "R2_PUBLIC_URL")

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.body_limit_mb", 100)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("ratelimit.sessions_per_hour", 20)
	v.SetDefault("ratelimit.exports_per_hour", 50)

	v.SetDefault("speech.base_url", "https://api.assemblyai.com")
	v.SetDefault("speech.timeout", 120)

	// Pipeline defaults
	v.SetDefault("pipeline.poll_interval_ms", 3000)
	v.SetDefault("pipeline.max_poll_attempts", 10)
	v.SetDefault("pipeline.speaker_labels", true)
	v.SetDefault("pipeline.retry_poll_transport_errors", false)

	v.SetDefault("generation.provider", ProviderLemur)
	v.SetDefault("generation.final_model", "anthropic/claude-3-5-sonnet")

	v.SetDefault("groq.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("groq.model", "llama-3.3-70b-versatile")
	v.SetDefault("groq.timeout", 120)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:        v.GetString("server.port"),
			Env:         v.GetString("server.env"),
			LogLevel:    v.GetString("server.log_level"),
			BodyLimitMB: v.GetInt("server.body_limit_mb"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		RateLimit: RateLimitConfig{
			SessionsPerHour: v.GetInt("ratelimit.sessions_per_hour"),
			ExportsPerHour:  v.GetInt("ratelimit.exports_per_hour"),
		},
		Speech: SpeechConfig{
			APIKey:  v.GetString("speech.api_key"),
			BaseURL: strings.TrimRight(v.GetString("speech.base_url"), "/"),
			Timeout: v.GetInt("speech.timeout"),
		},
		Pipeline: PipelineConfig{
			PollIntervalMS:           v.GetInt("pipeline.poll_interval_ms"),
			MaxPollAttempts:          v.GetInt("pipeline.max_poll_attempts"),
			SpeakerLabels:            v.GetBool("pipeline.speaker_labels"),
			RetryPollTransportErrors: v.GetBool("pipeline.retry_poll_transport_errors"),
		},
		Generation: GenerationConfig{
			Provider:   strings.ToLower(v.GetString("generation.provider")),
			FinalModel: v.GetString("generation.final_model"),
		},
		Groq: GroqConfig{
			APIKey:  v.GetString("groq.api_key"),
			BaseURL: v.GetString("groq.base_url"),
			Model:   v.GetString("groq.model"),
			Timeout: v.GetInt("groq.timeout"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Pipeline.MaxPollAttempts < 1 {
		return fmt.Errorf("pipeline.max_poll_attempts must be at least 1, got %d", c.Pipeline.MaxPollAttempts)
	}
	if c.Pipeline.PollIntervalMS < 0 {
		return fmt.Errorf("pipeline.poll_interval_ms must not be negative, got %d", c.Pipeline.PollIntervalMS)
	}
	switch c.Generation.Provider {
	case ProviderLemur, ProviderGroq:
	default:
		return fmt.Errorf("generation.provider must be %q or %q, got %q", ProviderLemur, ProviderGroq, c.Generation.Provider)
	}
	if c.Speech.Timeout <= 0 {
		return fmt.Errorf("speech.timeout must be positive, got %d", c.Speech.Timeout)
	}
	if c.Groq.Timeout <= 0 {
		return fmt.Errorf("groq.timeout must be positive, got %d", c.Groq.Timeout)
	}
	return nil
}
