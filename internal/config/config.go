package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Credentials holds the YengaPay account identifiers. All values come from the
// merchant dashboard and are read-only at runtime.
type Credentials struct {
	GroupID       string
	ProjectID     string
	APIKey        string
	WebhookSecret string
}

// Configured reports whether the intent-creation path can be enabled. The
// webhook secret is checked separately at verification time so that a missing
// secret rejects deliveries instead of disabling the endpoint.
func (c Credentials) Configured() bool {
	return strings.TrimSpace(c.GroupID) != "" &&
		strings.TrimSpace(c.ProjectID) != "" &&
		strings.TrimSpace(c.APIKey) != ""
}

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	MigrationsURL      string
	CORSAllowedOrigins []string

	YengaPay       Credentials
	GatewayBaseURL string
	GatewayTimeout time.Duration

	PublicBaseURL      string
	CheckoutReturnURL  string
	CurrencyCode       string
	LocaleID           string
	WebhookReplayTTL   time.Duration
	OrderLockTTL       time.Duration
	WebhookRateLimit   int
	WebhookRateWindow  time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		MigrationsURL:      valueOrDefault(k.String("MIGRATIONS_URL"), "file://migrations"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		YengaPay: Credentials{
			GroupID:       strings.TrimSpace(k.String("YENGAPAY_GROUP_ID")),
			ProjectID:     strings.TrimSpace(k.String("YENGAPAY_PROJECT_ID")),
			APIKey:        strings.TrimSpace(k.String("YENGAPAY_API_KEY")),
			WebhookSecret: strings.TrimSpace(k.String("YENGAPAY_WEBHOOK_SECRET")),
		},
		GatewayBaseURL:    valueOrDefault(k.String("YENGAPAY_BASE_URL"), "https://api.yengapay.com"),
		GatewayTimeout:    parseDuration(k.String("YENGAPAY_TIMEOUT"), "15s"),
		PublicBaseURL:     strings.TrimSpace(k.String("PUBLIC_BASE_URL")),
		CheckoutReturnURL: valueOrDefault(k.String("CHECKOUT_RETURN_URL"), "/checkout"),
		CurrencyCode:      valueOrDefault(k.String("CURRENCY_CODE"), "XOF"),
		LocaleID:          valueOrDefault(k.String("LOCALE_ID"), "en"),
		WebhookReplayTTL:  parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
		OrderLockTTL:      parseDuration(k.String("ORDER_LOCK_TTL"), "10s"),
		WebhookRateLimit:  k.Int("WEBHOOK_RATE_LIMIT"),
		WebhookRateWindow: parseDuration(k.String("WEBHOOK_RATE_WINDOW"), "1m"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// WebhookURL is the callback address to register in the YengaPay dashboard.
func (c *Config) WebhookURL() string {
	base := strings.TrimRight(strings.TrimSpace(c.PublicBaseURL), "/")
	if base == "" {
		return ""
	}
	return base + "/webhook"
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

// LoadForTests overrides environment variables for the duration of a Load call.
func LoadForTests(envs map[string]string) (*Config, error) {
	original := make(map[string]string, len(envs))
	for key := range envs {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, envs[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
