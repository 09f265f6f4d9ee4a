// Package config provides configuration loading and validation for the API server.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/cduval/boutique/internal/validate"
)

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// PublicBaseURL is the externally reachable origin of this service; the
	// hosted checkout widget sends the browser back to it.
	PublicBaseURL string `koanf:"public_base_url"`

	// Database. Optional: when empty the server runs on in-memory repositories.
	DatabaseURL string `koanf:"database_url"`

	// Redis. Optional: used for the rate-limit store when set.
	RedisURL string `koanf:"redis_url"`

	// SumUp payment processor. Not validated at startup; endpoints that need
	// these fail the individual request when they are missing.
	SumUpAPIKey        string `koanf:"sumup_api_key"`
	SumUpMerchantCode  string `koanf:"sumup_merchant_code"`
	SumUpWebhookSecret string `koanf:"sumup_webhook_secret"`
	SumUpAPIURL        string `koanf:"sumup_api_url"`

	// ReconcilePolicy decides how disagreeing terminal signals are handled:
	// "sticky" keeps the first write silently, "flag" also records an anomaly.
	ReconcilePolicy string `koanf:"reconcile_policy"`

	// Mailjet transactional email. Optional: no mail is sent when unset.
	MailjetAPIKey    string `koanf:"mailjet_api_key"`
	MailjetSecretKey string `koanf:"mailjet_secret_key"`
	MailSenderEmail  string `koanf:"mail_sender_email"`
	MailSenderName   string `koanf:"mail_sender_name"`

	// Stale-PENDING sweep job.
	SweepInterval  time.Duration `koanf:"sweep_interval"`
	SweepOlderThan time.Duration `koanf:"sweep_older_than"`

	// Rate limiting applied per client IP across the API. The checkout
	// endpoint additionally carries its own tighter limit.
	RateLimitPerMinute int `koanf:"rate_limit_per_minute"`

	// CORSAllowedOrigins lists browser origins allowed to call the API.
	// Empty disables CORS handling entirely.
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`

	// Tracing
	TracingEnabled bool   `koanf:"tracing_enabled"`
	OTLPEndpoint   string `koanf:"otlp_endpoint"`
	OTLPProtocol   string `koanf:"otlp_protocol"` // "grpc" or "http"
}

// Configuration validation errors.
var (
	ErrInvalidPort            = errors.New("PORT must be a valid integer")
	ErrInvalidReconcilePolicy = errors.New("RECONCILE_POLICY must be \"sticky\" or \"flag\"")
	ErrInvalidSweepInterval   = errors.New("SWEEP_INTERVAL must be a positive duration")
	ErrInvalidSweepOlderThan  = errors.New("SWEEP_OLDER_THAN must be a positive duration")
	ErrInvalidRateLimit       = errors.New("RATE_LIMIT_PER_MINUTE must be a positive integer")
	ErrInvalidOTLPProtocol    = errors.New("OTLP_PROTOCOL must be \"grpc\" or \"http\"")
	ErrInvalidPublicBaseURL   = errors.New("PUBLIC_BASE_URL must be a reachable web origin")
)

// Default values for non-secret configuration.
const (
	DefaultPort               = 8080
	DefaultEnv                = "development"
	DefaultReconcilePolicy    = "flag"
	DefaultSweepInterval      = 15 * time.Minute
	DefaultSweepOlderThan     = 30 * time.Minute
	DefaultRateLimitPerMinute = 60
	DefaultOTLPProtocol       = "grpc"
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	port, portErr := getEnvIntOrDefaultMulti([]string{"BOUTIQUE_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	sweepInterval, err := getEnvDurationOrDefault("SWEEP_INTERVAL", k.String("sweep_interval"), DefaultSweepInterval)
	if err != nil {
		loadErrs = append(loadErrs, ErrInvalidSweepInterval)
	}

	sweepOlderThan, err := getEnvDurationOrDefault("SWEEP_OLDER_THAN", k.String("sweep_older_than"), DefaultSweepOlderThan)
	if err != nil {
		loadErrs = append(loadErrs, ErrInvalidSweepOlderThan)
	}

	rateLimit, err := getEnvIntOrDefault("RATE_LIMIT_PER_MINUTE", k.Int("rate_limit_per_minute"), DefaultRateLimitPerMinute)
	if err != nil {
		loadErrs = append(loadErrs, ErrInvalidRateLimit)
	}

	tracingEnabled := k.Bool("tracing_enabled")
	if val := os.Getenv("TRACING_ENABLED"); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			tracingEnabled = true
		case "false", "0", "no", "off":
			tracingEnabled = false
		}
	}

	cfg := &Config{
		Port:               port,
		Env:                getEnvOrDefaultMulti([]string{"BOUTIQUE_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		PublicBaseURL:      getEnvOrKoanf("PUBLIC_BASE_URL", k, "public_base_url"),
		DatabaseURL:        getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisURL:           getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		SumUpAPIKey:        getEnvOrKoanf("SUMUP_API_KEY", k, "sumup_api_key"),
		SumUpMerchantCode:  getEnvOrKoanf("SUMUP_MERCHANT_CODE", k, "sumup_merchant_code"),
		SumUpWebhookSecret: getEnvOrKoanf("SUMUP_WEBHOOK_SECRET", k, "sumup_webhook_secret"),
		SumUpAPIURL:        getEnvOrKoanf("SUMUP_API_URL", k, "sumup_api_url"),
		ReconcilePolicy:    getEnvOrDefault("RECONCILE_POLICY", k.String("reconcile_policy"), DefaultReconcilePolicy),
		MailjetAPIKey:      getEnvOrKoanf("MAILJET_API_KEY", k, "mailjet_api_key"),
		MailjetSecretKey:   getEnvOrKoanf("MAILJET_SECRET_KEY", k, "mailjet_secret_key"),
		MailSenderEmail:    getEnvOrKoanf("MAIL_SENDER_EMAIL", k, "mail_sender_email"),
		MailSenderName:     getEnvOrKoanf("MAIL_SENDER_NAME", k, "mail_sender_name"),
		SweepInterval:      sweepInterval,
		SweepOlderThan:     sweepOlderThan,
		RateLimitPerMinute: rateLimit,
		CORSAllowedOrigins: getEnvListOrKoanf("CORS_ALLOWED_ORIGINS", k, "cors_allowed_origins"),
		TracingEnabled:     tracingEnabled,
		OTLPEndpoint:       getEnvOrKoanf("OTLP_ENDPOINT", k, "otlp_endpoint"),
		OTLPProtocol:       getEnvOrDefault("OTLP_PROTOCOL", k.String("otlp_protocol"), DefaultOTLPProtocol),
	}

	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvListOrKoanf returns the environment variable split on commas if set,
// otherwise the koanf string list.
func getEnvListOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) []string {
	if val := os.Getenv(envKey); val != "" {
		parts := strings.Split(val, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return k.Strings(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer", envKey)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first valid integer value found, otherwise the koanf value, or default.
// Returns an error if any environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvDurationOrDefault returns the environment variable as a duration if
// set, otherwise the koanf value, or default. A YAML value of "0" or an empty
// string falls back to the default.
func getEnvDurationOrDefault(envKey string, koanfVal string, defaultVal time.Duration) (time.Duration, error) {
	raw := os.Getenv(envKey)
	if raw == "" {
		raw = koanfVal
	}
	if raw == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid duration: %w", envKey, err)
	}
	if d <= 0 {
		return defaultVal, nil
	}
	return d, nil
}

// Validate checks cross-field constraints. Payment and mail secrets are
// deliberately not required here; the operations that need them fail
// individually when they are absent.
func (c *Config) Validate() []error {
	var errs []error

	switch c.ReconcilePolicy {
	case "sticky", "flag":
	default:
		errs = append(errs, ErrInvalidReconcilePolicy)
	}

	if c.RateLimitPerMinute <= 0 {
		errs = append(errs, ErrInvalidRateLimit)
	}

	switch c.OTLPProtocol {
	case "grpc", "http":
	default:
		errs = append(errs, ErrInvalidOTLPProtocol)
	}

	// Optional like the payment credentials, but when set it must be a URL
	// the checkout return redirect can actually be built from. Production
	// additionally requires https and a public host.
	if c.PublicBaseURL != "" {
		baseURL := validate.LocalBaseURL
		if c.Env == "production" {
			baseURL = validate.PublicBaseURL
		}
		if _, err := baseURL(c.PublicBaseURL); err != nil {
			errs = append(errs, fmt.Errorf("%w: %v", ErrInvalidPublicBaseURL, err))
		}
	}

	return errs
}

// PaymentConfigured reports whether checkout sessions can be created.
func (c *Config) PaymentConfigured() bool {
	return c.SumUpAPIKey != "" && c.SumUpMerchantCode != ""
}

// MailConfigured reports whether transactional email can be sent.
func (c *Config) MailConfigured() bool {
	return c.MailjetAPIKey != "" && c.MailjetSecretKey != "" && c.MailSenderEmail != ""
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                  fmt.Sprintf("%d", c.Port),
		"env":                   c.Env,
		"public_base_url":       c.PublicBaseURL,
		"database_url":          maskDatabaseURL(c.DatabaseURL),
		"redis_url":             maskDatabaseURL(c.RedisURL),
		"sumup_api_key":         maskSecret(c.SumUpAPIKey),
		"sumup_merchant_code":   c.SumUpMerchantCode,
		"sumup_webhook_secret":  maskSecret(c.SumUpWebhookSecret),
		"sumup_api_url":         c.SumUpAPIURL,
		"reconcile_policy":      c.ReconcilePolicy,
		"mailjet_api_key":       maskSecret(c.MailjetAPIKey),
		"mailjet_secret_key":    maskSecret(c.MailjetSecretKey),
		"mail_sender_email":     c.MailSenderEmail,
		"sweep_interval":        c.SweepInterval.String(),
		"sweep_older_than":      c.SweepOlderThan.String(),
		"rate_limit_per_minute": fmt.Sprintf("%d", c.RateLimitPerMinute),
		"cors_allowed_origins":  strings.Join(c.CORSAllowedOrigins, ","),
		"tracing_enabled":       fmt.Sprintf("%t", c.TracingEnabled),
		"otlp_endpoint":         c.OTLPEndpoint,
		"otlp_protocol":         c.OTLPProtocol,
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a connection URL.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
