package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	// HMAC key for the session JWT middleware. Required outside development.
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`

	// External scheduling provider (Calendly-compatible API).
	ProviderAPIBaseURL  string `mapstructure:"PROVIDER_API_BASE_URL"`
	ProviderAuthBaseURL string `mapstructure:"PROVIDER_AUTH_BASE_URL"`
	ProviderClientID    string `mapstructure:"PROVIDER_CLIENT_ID"`
	ProviderClientSecret string `mapstructure:"PROVIDER_CLIENT_SECRET"`
	ProviderRedirectURL string `mapstructure:"PROVIDER_REDIRECT_URL"`

	// Public base URL of this service, used for webhook registration.
	AppBaseURL string `mapstructure:"APP_BASE_URL"`

	// Reconciliation tuning.
	SyncFanout      int `mapstructure:"SYNC_FANOUT"`
	SyncPageSize    int `mapstructure:"SYNC_PAGE_SIZE"`
	SyncHTTPTimeout int `mapstructure:"SYNC_HTTP_TIMEOUT_SECONDS"`
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
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("PROVIDER_API_BASE_URL", "https://api.calendly.com")
	v.SetDefault("PROVIDER_AUTH_BASE_URL", "https://auth.calendly.com")
	v.SetDefault("SYNC_FANOUT", 4)
	v.SetDefault("SYNC_PAGE_SIZE", 50)
	v.SetDefault("SYNC_HTTP_TIMEOUT_SECONDS", 10)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("AUTH_SIGNING_KEY")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("PROVIDER_API_BASE_URL")
	v.BindEnv("PROVIDER_AUTH_BASE_URL")
	v.BindEnv("PROVIDER_CLIENT_ID")
	v.BindEnv("PROVIDER_CLIENT_SECRET")
	v.BindEnv("PROVIDER_REDIRECT_URL")
	v.BindEnv("APP_BASE_URL")
	v.BindEnv("SYNC_FANOUT")
	v.BindEnv("SYNC_PAGE_SIZE")
	v.BindEnv("SYNC_HTTP_TIMEOUT_SECONDS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active — all requests get a default account.")
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
// a signing key is required so that session JWTs are actually verified, and
// the provider OAuth client must be fully configured for account linking.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV is not development")
	}
	if c.ProviderClientID != "" || c.ProviderClientSecret != "" || c.ProviderRedirectURL != "" {
		if c.ProviderClientID == "" || c.ProviderClientSecret == "" || c.ProviderRedirectURL == "" {
			return fmt.Errorf("PROVIDER_CLIENT_ID, PROVIDER_CLIENT_SECRET and PROVIDER_REDIRECT_URL must be set together")
		}
	}
	if c.SyncFanout < 1 {
		return fmt.Errorf("SYNC_FANOUT must be at least 1, got %d", c.SyncFanout)
	}
	if c.SyncPageSize < 1 || c.SyncPageSize > 100 {
		return fmt.Errorf("SYNC_PAGE_SIZE must be between 1 and 100, got %d", c.SyncPageSize)
	}
	return nil
}
