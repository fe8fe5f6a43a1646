package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir  string   `mapstructure:"MIGRATIONS_DIR"`
	RedisURL       string   `mapstructure:"REDIS_URL"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL    string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`

	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	ReasoningBaseURL string `mapstructure:"REASONING_BASE_URL"`
	ReasoningAPIKey  string `mapstructure:"REASONING_API_KEY"`
	ReasoningModel   string `mapstructure:"REASONING_MODEL"`

	InsightTimeout     time.Duration `mapstructure:"INSIGHT_TIMEOUT"`
	InsightFreshness   time.Duration `mapstructure:"INSIGHT_FRESHNESS"`
	InsightMinInterval time.Duration `mapstructure:"INSIGHT_MIN_INTERVAL"`
	InsightRPS         float64       `mapstructure:"INSIGHT_RPS"`
	InsightBurst       int           `mapstructure:"INSIGHT_BURST"`
	InsightMaxAttempts int           `mapstructure:"INSIGHT_MAX_ATTEMPTS"`

	EventsStream string `mapstructure:"EVENTS_STREAM"`
	EventsGroup  string `mapstructure:"EVENTS_GROUP"`

	TracingEnabled  bool    `mapstructure:"TRACING_ENABLED"`
	OTLPEndpoint    string  `mapstructure:"OTLP_ENDPOINT"`
	TraceSampleRate float64 `mapstructure:"TRACE_SAMPLE_RATE"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "MIGRATIONS_DIR",
	"REDIS_URL", "AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
	"REASONING_BASE_URL", "REASONING_API_KEY", "REASONING_MODEL",
	"INSIGHT_TIMEOUT", "INSIGHT_FRESHNESS", "INSIGHT_MIN_INTERVAL",
	"INSIGHT_RPS", "INSIGHT_BURST", "INSIGHT_MAX_ATTEMPTS",
	"EVENTS_STREAM", "EVENTS_GROUP",
	"TRACING_ENABLED", "OTLP_ENDPOINT", "TRACE_SAMPLE_RATE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REQUEST_TIMEOUT", "60s")
	v.SetDefault("REASONING_BASE_URL", "https://api.groq.com/openai/v1")
	v.SetDefault("REASONING_MODEL", "llama-3.3-70b-versatile")
	v.SetDefault("INSIGHT_TIMEOUT", "30s")
	v.SetDefault("INSIGHT_FRESHNESS", "24h")
	v.SetDefault("INSIGHT_MIN_INTERVAL", "15m")
	v.SetDefault("INSIGHT_RPS", 0.5)
	v.SetDefault("INSIGHT_BURST", 2)
	v.SetDefault("INSIGHT_MAX_ATTEMPTS", 3)
	v.SetDefault("EVENTS_STREAM", "medhistory:workspace-changed")
	v.SetDefault("EVENTS_GROUP", "insight-workers")
	v.SetDefault("TRACE_SAMPLE_RATE", 1.0)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: the X-Actor-ID header is trusted as the caller identity.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development
// a token verifier must be configured, and the insight policy values must be
// usable.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
		return fmt.Errorf("one of AUTH_ISSUER, AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}
	if c.InsightTimeout <= 0 {
		return fmt.Errorf("INSIGHT_TIMEOUT must be positive, got %s", c.InsightTimeout)
	}
	if c.InsightFreshness <= 0 {
		return fmt.Errorf("INSIGHT_FRESHNESS must be positive, got %s", c.InsightFreshness)
	}
	if c.InsightMaxAttempts < 1 {
		return fmt.Errorf("INSIGHT_MAX_ATTEMPTS must be at least 1, got %d", c.InsightMaxAttempts)
	}
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		return fmt.Errorf("TRACE_SAMPLE_RATE must be between 0 and 1, got %v", c.TraceSampleRate)
	}
	if c.TracingEnabled && c.OTLPEndpoint == "" {
		return fmt.Errorf("OTLP_ENDPOINT is required when TRACING_ENABLED is true")
	}
	return nil
}
