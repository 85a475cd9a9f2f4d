package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	Store       string   `mapstructure:"STORE"`
	AuthMode    string   `mapstructure:"AUTH_MODE"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	JWTSecret   string   `mapstructure:"JWT_SECRET"`
	JWTIssuer   string   `mapstructure:"JWT_ISSUER"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	KafkaBrokers     []string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopicPrefix string   `mapstructure:"KAFKA_TOPIC_PREFIX"`

	BreakerEnabled       bool          `mapstructure:"BREAKER_ENABLED"`
	BreakerMaxFailures   uint32        `mapstructure:"BREAKER_MAX_FAILURES"`
	BreakerResetTimeout  time.Duration `mapstructure:"BREAKER_RESET_TIMEOUT"`
	BreakerHalfOpenProbe uint32        `mapstructure:"BREAKER_HALF_OPEN_PROBES"`

	SweepAutoCompleteInterval time.Duration `mapstructure:"SWEEP_AUTOCOMPLETE_INTERVAL"`
	SweepHorizonInterval      time.Duration `mapstructure:"SWEEP_HORIZON_INTERVAL"`
	SweepReminderInterval     time.Duration `mapstructure:"SWEEP_REMINDER_INTERVAL"`

	HorizonDays        int    `mapstructure:"HORIZON_DAYS"`
	HorizonOpenHour    int    `mapstructure:"HORIZON_OPEN_HOUR"`
	HorizonCloseHour   int    `mapstructure:"HORIZON_CLOSE_HOUR"`
	HorizonSlotMinutes int    `mapstructure:"HORIZON_SLOT_MINUTES"`
	HorizonTimezone    string `mapstructure:"HORIZON_TIMEZONE"`

	ReminderWindow    time.Duration `mapstructure:"REMINDER_WINDOW"`
	RequesterCacheTTL time.Duration `mapstructure:"REQUESTER_CACHE_TTL"`
	IdempotencyTTL    time.Duration `mapstructure:"IDEMPOTENCY_TTL"`
}

var keys = []string{
	"PORT", "ENV", "STORE", "AUTH_MODE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"JWT_SECRET", "JWT_ISSUER", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"KAFKA_BROKERS", "KAFKA_TOPIC_PREFIX",
	"BREAKER_ENABLED", "BREAKER_MAX_FAILURES", "BREAKER_RESET_TIMEOUT", "BREAKER_HALF_OPEN_PROBES",
	"SWEEP_AUTOCOMPLETE_INTERVAL", "SWEEP_HORIZON_INTERVAL", "SWEEP_REMINDER_INTERVAL",
	"HORIZON_DAYS", "HORIZON_OPEN_HOUR", "HORIZON_CLOSE_HOUR", "HORIZON_SLOT_MINUTES", "HORIZON_TIMEZONE",
	"REMINDER_WINDOW", "REQUESTER_CACHE_TTL", "IDEMPOTENCY_TTL",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE", "postgres")
	v.SetDefault("AUTH_MODE", "") // "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("KAFKA_TOPIC_PREFIX", "healthcore")
	v.SetDefault("BREAKER_ENABLED", true)
	v.SetDefault("BREAKER_MAX_FAILURES", 5)
	v.SetDefault("BREAKER_RESET_TIMEOUT", "30s")
	v.SetDefault("BREAKER_HALF_OPEN_PROBES", 1)
	v.SetDefault("SWEEP_AUTOCOMPLETE_INTERVAL", "1h")
	v.SetDefault("SWEEP_HORIZON_INTERVAL", "24h")
	v.SetDefault("SWEEP_REMINDER_INTERVAL", "24h")
	v.SetDefault("HORIZON_DAYS", 14)
	v.SetDefault("HORIZON_OPEN_HOUR", 8)
	v.SetDefault("HORIZON_CLOSE_HOUR", 17)
	v.SetDefault("HORIZON_SLOT_MINUTES", 30)
	v.SetDefault("HORIZON_TIMEZONE", "UTC")
	v.SetDefault("REMINDER_WINDOW", "24h")
	v.SetDefault("REQUESTER_CACHE_TTL", "1m")
	v.SetDefault("IDEMPOTENCY_TTL", "24h")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers, v.GetString("KAFKA_BROKERS"))

	if cfg.Store == "postgres" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() && cfg.ResolvedAuthMode() == "development" {
		log.Println("WARNING: development auth is active, every request runs as an admin.")
		log.Println("WARNING: set ENV=production and JWT_SECRET before exposing this server.")
	}

	return cfg, nil
}

// splitList handles comma-separated env values, which viper leaves as a
// single element when the key comes from the environment.
func splitList(parsed []string, raw string) []string {
	if len(parsed) > 1 {
		return parsed
	}
	if raw == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. An explicit AUTH_MODE
// wins; otherwise development environments use dev auth and everything else
// requires JWTs.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "jwt"
}

// Location resolves HORIZON_TIMEZONE.
func (c *Config) Location() (*time.Location, error) {
	if c.HorizonTimezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.HorizonTimezone)
	if err != nil {
		return nil, fmt.Errorf("HORIZON_TIMEZONE: %w", err)
	}
	return loc, nil
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	if mode != "development" && mode != "jwt" {
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"jwt\", got %q", mode)
	}
	if mode == "jwt" && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set when AUTH_MODE is \"jwt\" (current ENV=%q)", c.Env)
	}
	if c.IsProduction() && mode == "development" {
		return fmt.Errorf("AUTH_MODE=development is not allowed in production")
	}

	if c.Store != "postgres" && c.Store != "memory" {
		return fmt.Errorf("STORE must be \"postgres\" or \"memory\", got %q", c.Store)
	}

	if c.BreakerEnabled {
		if c.BreakerMaxFailures == 0 {
			return fmt.Errorf("BREAKER_MAX_FAILURES must be positive")
		}
		if c.BreakerResetTimeout <= 0 {
			return fmt.Errorf("BREAKER_RESET_TIMEOUT must be positive")
		}
	}

	if c.HorizonDays < 1 {
		return fmt.Errorf("HORIZON_DAYS must be at least 1, got %d", c.HorizonDays)
	}
	if c.HorizonOpenHour < 0 || c.HorizonCloseHour > 24 || c.HorizonOpenHour >= c.HorizonCloseHour {
		return fmt.Errorf("horizon business hours %d-%d are invalid", c.HorizonOpenHour, c.HorizonCloseHour)
	}
	if c.HorizonSlotMinutes <= 0 || (c.HorizonCloseHour-c.HorizonOpenHour)*60%c.HorizonSlotMinutes != 0 {
		return fmt.Errorf("HORIZON_SLOT_MINUTES must evenly divide business hours, got %d", c.HorizonSlotMinutes)
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	for name, d := range map[string]time.Duration{
		"SWEEP_AUTOCOMPLETE_INTERVAL": c.SweepAutoCompleteInterval,
		"SWEEP_HORIZON_INTERVAL":      c.SweepHorizonInterval,
		"SWEEP_REMINDER_INTERVAL":     c.SweepReminderInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	return nil
}
