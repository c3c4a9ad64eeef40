package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the content backend.
type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	AMQP     AMQPConfig
	AI       AIConfig
	Worker   WorkerConfig
}

type ServerConfig struct {
	Port int    `validate:"gt=0,lt=65536"`
	Env  string `validate:"required"`
}

type LogConfig struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=json console"`
}

type DatabaseConfig struct {
	URL             string `validate:"required"`
	MaxConns        int    `validate:"gt=0"`
	MinConns        int    `validate:"gte=0"`
	ConnMaxLifetime time.Duration
}

// RedisConfig is optional. An empty URL disables the result cache and rate limiting.
type RedisConfig struct {
	URL                string
	RateLimitPerMinute int `validate:"gte=0"`
}

type AuthConfig struct {
	JWTSecret string `validate:"required,min=32"`
	JWTIssuer string
}

// AMQPConfig is optional. An empty URL disables job event publishing.
type AMQPConfig struct {
	URL      string
	Exchange string
}

type AIConfig struct {
	Provider    string        `validate:"oneof=gemini openai anthropic ollama vllm"`
	Timeout     time.Duration `validate:"gt=0"`
	// RetryMax bounds provider calls within one job attempt. A job whose
	// provider keeps failing transiently is called up to
	// RetryMax * Worker.MaxAttempts times in total.
	RetryMax    int           `validate:"gte=1"`
	RetryBase   time.Duration `validate:"gte=0"`
	Temperature float64       `validate:"gte=0,lte=2"`
	Gemini      GeminiConfig
	OpenAI      OpenAIConfig
	Anthropic   AnthropicConfig
	Ollama      OllamaConfig
	VLLM        VLLMConfig
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type VLLMConfig struct {
	BaseURL string
	Model   string
}

type WorkerConfig struct {
	Enabled bool
	// MaxAttempts bounds job attempts. Each attempt may itself make up to
	// AI.RetryMax provider calls.
	MaxAttempts  int           `validate:"gte=1"`
	PollInterval time.Duration `validate:"gt=0"`
	// ReleaseInterval is how often an idle worker resets its own stranded
	// RUNNING claims to PENDING.
	ReleaseInterval time.Duration `validate:"gt=0"`
	InstanceID      string        `validate:"required"`
	DefaultLocale   string        `validate:"required"`
}

var validate = validator.New()

// Load reads configuration from the environment, after loading a .env file if
// one is present, and returns a validated Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromViper(newViper())
}

// LoadDatabase reads only the database settings. Admin tools that do not run
// the server use it so they do not need provider or auth secrets.
func LoadDatabase() (DatabaseConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return DatabaseConfig{}, fmt.Errorf("load .env: %w", err)
	}
	v := newViper()
	db := DatabaseConfig{
		URL:             v.GetString("database_url"),
		MaxConns:        v.GetInt("database_max_conns"),
		MinConns:        v.GetInt("database_min_conns"),
		ConnMaxLifetime: v.GetDuration("database_conn_max_lifetime"),
	}
	if db.URL == "" {
		return DatabaseConfig{}, fmt.Errorf("DATABASE_URL is required")
	}
	if err := validate.Struct(db); err != nil {
		return DatabaseConfig{}, fmt.Errorf("invalid database configuration: %w", err)
	}
	return db, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("port", 8080)
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetDefault("database_max_conns", 25)
	v.SetDefault("database_min_conns", 5)
	v.SetDefault("database_conn_max_lifetime", 5*time.Minute)

	v.SetDefault("rate_limit_per_minute", 60)
	v.SetDefault("jwt_issuer", "")
	v.SetDefault("amqp_exchange", "content.jobs")

	v.SetDefault("ai_provider", "gemini")
	v.SetDefault("ai_timeout_ms", 30000)
	v.SetDefault("ai_retry_attempts", 3)
	v.SetDefault("ai_retry_base_ms", 500)
	v.SetDefault("ai_temperature", 0.7)
	v.SetDefault("gemini_model", "gemini-1.5-flash")
	v.SetDefault("openai_base_url", "https://api.openai.com")
	v.SetDefault("openai_model", "gpt-4o-mini")
	v.SetDefault("anthropic_base_url", "https://api.anthropic.com")
	v.SetDefault("anthropic_model", "claude-3-5-haiku-latest")
	v.SetDefault("ollama_base_url", "http://localhost:11434")
	v.SetDefault("ollama_model", "llama3")
	v.SetDefault("vllm_base_url", "http://localhost:8000")

	v.SetDefault("job_max_attempts", 3)
	v.SetDefault("worker_enabled", true)
	v.SetDefault("worker_poll_ms", 1500)
	v.SetDefault("worker_release_ms", 60000)
	v.SetDefault("default_locale", "en")

	// Keys without a default are only seen by AutomaticEnv when bound.
	for _, key := range []string{
		"database_url", "redis_url", "jwt_secret", "amqp_url", "worker_instance_id",
		"gemini_api_key", "openai_api_key", "anthropic_api_key", "vllm_model",
	} {
		_ = v.BindEnv(key)
	}
	return v
}

// FromViper builds a Config from v. Tests use it with a viper instance populated via Set.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: v.GetInt("port"),
			Env:  v.GetString("app_env"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString("log_level")),
			Format: strings.ToLower(v.GetString("log_format")),
		},
		Database: DatabaseConfig{
			URL:             v.GetString("database_url"),
			MaxConns:        v.GetInt("database_max_conns"),
			MinConns:        v.GetInt("database_min_conns"),
			ConnMaxLifetime: v.GetDuration("database_conn_max_lifetime"),
		},
		Redis: RedisConfig{
			URL:                v.GetString("redis_url"),
			RateLimitPerMinute: v.GetInt("rate_limit_per_minute"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("jwt_secret"),
			JWTIssuer: v.GetString("jwt_issuer"),
		},
		AMQP: AMQPConfig{
			URL:      v.GetString("amqp_url"),
			Exchange: v.GetString("amqp_exchange"),
		},
		AI: AIConfig{
			Provider:    strings.ToLower(v.GetString("ai_provider")),
			Timeout:     millis(v.GetInt("ai_timeout_ms")),
			RetryMax:    v.GetInt("ai_retry_attempts"),
			RetryBase:   millis(v.GetInt("ai_retry_base_ms")),
			Temperature: v.GetFloat64("ai_temperature"),
			Gemini: GeminiConfig{
				APIKey: v.GetString("gemini_api_key"),
				Model:  v.GetString("gemini_model"),
			},
			OpenAI: OpenAIConfig{
				APIKey:  v.GetString("openai_api_key"),
				BaseURL: v.GetString("openai_base_url"),
				Model:   v.GetString("openai_model"),
			},
			Anthropic: AnthropicConfig{
				APIKey:  v.GetString("anthropic_api_key"),
				BaseURL: v.GetString("anthropic_base_url"),
				Model:   v.GetString("anthropic_model"),
			},
			Ollama: OllamaConfig{
				BaseURL: v.GetString("ollama_base_url"),
				Model:   v.GetString("ollama_model"),
			},
			VLLM: VLLMConfig{
				BaseURL: v.GetString("vllm_base_url"),
				Model:   v.GetString("vllm_model"),
			},
		},
		Worker: WorkerConfig{
			Enabled:         v.GetBool("worker_enabled"),
			MaxAttempts:     v.GetInt("job_max_attempts"),
			PollInterval:    millis(v.GetInt("worker_poll_ms")),
			ReleaseInterval: millis(v.GetInt("worker_release_ms")),
			InstanceID:      v.GetString("worker_instance_id"),
			DefaultLocale:   v.GetString("default_locale"),
		},
	}
	if cfg.Worker.InstanceID == "" {
		cfg.Worker.InstanceID = defaultInstanceID()
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid configuration: %s failed %q", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("DATABASE_MIN_CONNS (%d) must not exceed DATABASE_MAX_CONNS (%d)",
			c.Database.MinConns, c.Database.MaxConns)
	}

	switch c.AI.Provider {
	case "gemini":
		if c.AI.Gemini.APIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when AI_PROVIDER is gemini")
		}
	case "openai":
		if c.AI.OpenAI.APIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is openai")
		}
	case "anthropic":
		if c.AI.Anthropic.APIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required when AI_PROVIDER is anthropic")
		}
	case "vllm":
		if c.AI.VLLM.Model == "" {
			return fmt.Errorf("VLLM_MODEL is required when AI_PROVIDER is vllm")
		}
	}

	for _, u := range []struct{ name, url string }{
		{"OPENAI_BASE_URL", c.AI.OpenAI.BaseURL},
		{"ANTHROPIC_BASE_URL", c.AI.Anthropic.BaseURL},
		{"OLLAMA_BASE_URL", c.AI.Ollama.BaseURL},
		{"VLLM_BASE_URL", c.AI.VLLM.BaseURL},
	} {
		if u.url != "" && !strings.HasPrefix(u.url, "http://") && !strings.HasPrefix(u.url, "https://") {
			return fmt.Errorf("%s must start with http:// or https://, got %q", u.name, u.url)
		}
	}

	return nil
}

func millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
