package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir  string   `mapstructure:"MIGRATIONS_DIR"` // empty means the embedded set
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL    string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	DefaultTenant  string   `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`

	// Pharmacy routing integration
	PharmacyBaseURL      string `mapstructure:"PHARMACY_BASE_URL"`
	PharmacyClientID     string `mapstructure:"PHARMACY_CLIENT_ID"`
	PharmacyClientSecret string `mapstructure:"PHARMACY_CLIENT_SECRET"`
	PharmacyTokenURL     string `mapstructure:"PHARMACY_TOKEN_URL"`
	PharmacyMaxAttempts  int    `mapstructure:"PHARMACY_MAX_ATTEMPTS"`

	SoapGeneratorURL           string   `mapstructure:"SOAP_GENERATOR_URL"`
	EarningsPerSubmissionCents int64    `mapstructure:"EARNINGS_PER_SUBMISSION_CENTS"`
	WebhookURLs                []string `mapstructure:"WEBHOOK_URLS"`
	WebhookSecret              string   `mapstructure:"WEBHOOK_SECRET"`
	OTelEnabled                bool     `mapstructure:"OTEL_ENABLED"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "MIGRATIONS_DIR",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"DEFAULT_TENANT", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"PHARMACY_BASE_URL", "PHARMACY_CLIENT_ID", "PHARMACY_CLIENT_SECRET",
	"PHARMACY_TOKEN_URL", "PHARMACY_MAX_ATTEMPTS",
	"SOAP_GENERATOR_URL", "EARNINGS_PER_SUBMISSION_CENTS",
	"WEBHOOK_URLS", "WEBHOOK_SECRET", "OTEL_ENABLED",
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
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("PHARMACY_MAX_ATTEMPTS", 3)
	v.SetDefault("EARNINGS_PER_SUBMISSION_CENTS", 2500)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.WebhookURLs = splitList(cfg.WebhookURLs, v.GetString("WEBHOOK_URLS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: Requests without a bearer token get admin access.")
		log.Println("WARNING: Set ENV=production and configure AUTH_ISSUER for production.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

// splitList handles comma-separated env values that viper leaves as a
// single-element slice.
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

// PharmacyConfigured reports whether submissions can be forwarded to a real
// pharmacy router.
func (c *Config) PharmacyConfigured() bool {
	return c.PharmacyBaseURL != ""
}

// Validate checks that the configuration is safe to run. Outside development
// either AUTH_ISSUER or AUTH_SIGNING_KEY must be set so bearer tokens are
// verified.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthSigningKey == "" {
		return fmt.Errorf(
			"AUTH_ISSUER or AUTH_SIGNING_KEY must be set outside development (current ENV=%q)", c.Env)
	}
	if c.PharmacyClientID != "" && c.PharmacyTokenURL == "" {
		return fmt.Errorf("PHARMACY_TOKEN_URL is required when PHARMACY_CLIENT_ID is set")
	}
	if c.PharmacyMaxAttempts < 1 {
		return fmt.Errorf("PHARMACY_MAX_ATTEMPTS must be at least 1, got %d", c.PharmacyMaxAttempts)
	}
	if c.EarningsPerSubmissionCents < 0 {
		return fmt.Errorf("EARNINGS_PER_SUBMISSION_CENTS must not be negative")
	}
	if len(c.WebhookURLs) > 0 && c.WebhookSecret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required when WEBHOOK_URLS is set")
	}
	return nil
}
