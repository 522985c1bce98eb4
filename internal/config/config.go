// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Database (in-memory stores are used when empty)
	DatabaseURL string
	AutoMigrate bool

	// Security
	JWTSecret      string
	AdminSecret    string
	CORSOrigins    []string
	RateLimitRPM   int
	RateLimitBurst int

	// Risk classifier
	RiskLowThreshold      float64
	RiskHighThreshold     float64
	ClassifierURL         string
	ClassifierAPIKey      string
	ClassifierTimeout     time.Duration
	ClassifierMaxAttempts int

	// MFA challenges
	MFACodeLength      int
	MFAMaxAttempts     int
	MFACodeTTL         time.Duration
	MFASigningSecret   string
	MFAHashAlgorithm   string // "hmac" or "bcrypt"
	MFAEchoCode        bool   // return the plaintext code in the API response (non-production only)
	MFASweepInterval   time.Duration
	DefaultBankCode    string
	DefaultCurrency    string
	OpeningBalance     decimal.Decimal
	TransferNoteMaxLen int

	// Events
	EventsBackend string // "log", "redis" or "amqp"
	RedisURL      string
	RedisStream   string
	AMQPURL       string
	AMQPExchange  string

	// Tracing
	OTLPEndpoint string
}

const (
	DefaultPort                  = "8080"
	DefaultEnv                   = "development"
	DefaultLogLevel              = "info"
	DefaultLogFormat             = "json"
	DefaultRateLimitRPM          = 60
	DefaultRateLimitBurst        = 10
	DefaultRiskLowThreshold      = 0.30
	DefaultRiskHighThreshold     = 0.70
	DefaultClassifierTimeout     = 2 * time.Second
	DefaultClassifierMaxAttempts = 2
	DefaultMFACodeLength         = 6
	DefaultMFAMaxAttempts        = 3
	DefaultMFACodeTTL            = 5 * time.Minute
	DefaultMFASigningSecret      = "change-this-mfa-secret"
	DefaultMFAHashAlgorithm      = "hmac"
	DefaultMFASweepInterval      = 30 * time.Second
	DefaultBankCode              = "CAPBANK001"
	DefaultCurrency              = "USD"
	DefaultTransferNoteMaxLen    = 200
	DefaultEventsBackend         = "log"
	DefaultRedisStream           = "transfers"
	DefaultAMQPExchange          = "bank.transfers"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	opening, err := decimal.NewFromString(getEnv("OPENING_BALANCE", "0"))
	if err != nil {
		return nil, fmt.Errorf("OPENING_BALANCE must be a decimal amount: %w", err)
	}

	cfg := &Config{
		Port:        getEnv("PORT", DefaultPort),
		Env:         getEnv("ENV", DefaultEnv),
		LogLevel:    getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:   getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		AutoMigrate: getEnvBool("AUTO_MIGRATE", true),

		JWTSecret:      os.Getenv("JWT_SECRET"),
		AdminSecret:    os.Getenv("ADMIN_SECRET"),
		CORSOrigins:    getEnvList("CORS_ALLOWED_ORIGINS"),
		RateLimitRPM:   int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		RateLimitBurst: int(getEnvInt64("RATE_LIMIT_BURST", DefaultRateLimitBurst)),

		RiskLowThreshold:      getEnvFloat("RISK_LOW_THRESHOLD", DefaultRiskLowThreshold),
		RiskHighThreshold:     getEnvFloat("RISK_HIGH_THRESHOLD", DefaultRiskHighThreshold),
		ClassifierURL:         os.Getenv("CLASSIFIER_URL"),
		ClassifierAPIKey:      os.Getenv("CLASSIFIER_API_KEY"),
		ClassifierTimeout:     getEnvDuration("CLASSIFIER_TIMEOUT", DefaultClassifierTimeout),
		ClassifierMaxAttempts: int(getEnvInt64("CLASSIFIER_MAX_ATTEMPTS", DefaultClassifierMaxAttempts)),

		MFACodeLength:      int(getEnvInt64("MFA_CODE_LENGTH", DefaultMFACodeLength)),
		MFAMaxAttempts:     int(getEnvInt64("MFA_MAX_ATTEMPTS", DefaultMFAMaxAttempts)),
		MFACodeTTL:         getEnvDuration("MFA_CODE_TTL", DefaultMFACodeTTL),
		MFASigningSecret:   getEnv("MFA_SIGNING_SECRET", DefaultMFASigningSecret),
		MFAHashAlgorithm:   strings.ToLower(getEnv("MFA_HASH_ALGORITHM", DefaultMFAHashAlgorithm)),
		MFAEchoCode:        getEnvBool("MFA_DEMO_CODE_IN_RESPONSE", false),
		MFASweepInterval:   getEnvDuration("MFA_SWEEP_INTERVAL", DefaultMFASweepInterval),
		DefaultBankCode:    getEnv("DEFAULT_BANK_CODE", DefaultBankCode),
		DefaultCurrency:    getEnv("DEFAULT_CURRENCY", DefaultCurrency),
		OpeningBalance:     opening,
		TransferNoteMaxLen: DefaultTransferNoteMaxLen,

		EventsBackend: strings.ToLower(getEnv("EVENTS_BACKEND", DefaultEventsBackend)),
		RedisURL:      os.Getenv("REDIS_URL"),
		RedisStream:   getEnv("REDIS_STREAM", DefaultRedisStream),
		AMQPURL:       os.Getenv("AMQP_URL"),
		AMQPExchange:  getEnv("AMQP_EXCHANGE", DefaultAMQPExchange),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.RiskLowThreshold < 0 || c.RiskLowThreshold > 1 {
		return fmt.Errorf("RISK_LOW_THRESHOLD must be between 0 and 1")
	}
	if c.RiskHighThreshold < 0 || c.RiskHighThreshold > 1 {
		return fmt.Errorf("RISK_HIGH_THRESHOLD must be between 0 and 1")
	}
	if c.RiskLowThreshold >= c.RiskHighThreshold {
		return fmt.Errorf("RISK_LOW_THRESHOLD must be less than RISK_HIGH_THRESHOLD")
	}
	if c.ClassifierTimeout <= 0 {
		return fmt.Errorf("CLASSIFIER_TIMEOUT must be greater than 0")
	}
	if c.ClassifierMaxAttempts <= 0 {
		return fmt.Errorf("CLASSIFIER_MAX_ATTEMPTS must be greater than 0")
	}

	if c.MFACodeLength < 4 || c.MFACodeLength > 10 {
		return fmt.Errorf("MFA_CODE_LENGTH must be between 4 and 10")
	}
	if c.MFAMaxAttempts <= 0 {
		return fmt.Errorf("MFA_MAX_ATTEMPTS must be greater than 0")
	}
	if c.MFACodeTTL <= 0 {
		return fmt.Errorf("MFA_CODE_TTL must be greater than 0")
	}
	if c.MFASigningSecret == "" {
		return fmt.Errorf("MFA_SIGNING_SECRET must not be empty")
	}
	if c.MFAHashAlgorithm != "hmac" && c.MFAHashAlgorithm != "bcrypt" {
		return fmt.Errorf("MFA_HASH_ALGORITHM must be one of: hmac, bcrypt")
	}
	if c.OpeningBalance.IsNegative() {
		return fmt.Errorf("OPENING_BALANCE must be greater than or equal to 0")
	}

	switch c.EventsBackend {
	case "log":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when EVENTS_BACKEND=redis")
		}
	case "amqp":
		if c.AMQPURL == "" {
			return fmt.Errorf("AMQP_URL is required when EVENTS_BACKEND=amqp")
		}
	default:
		return fmt.Errorf("EVENTS_BACKEND must be one of: log, redis, amqp")
	}

	if c.IsProduction() {
		if c.ClassifierURL == "" {
			return fmt.Errorf("CLASSIFIER_URL is required in production")
		}
		if c.MFAEchoCode {
			return fmt.Errorf("MFA_DEMO_CODE_IN_RESPONSE must be disabled in production")
		}
		if c.MFASigningSecret == DefaultMFASigningSecret {
			return fmt.Errorf("MFA_SIGNING_SECRET must be changed in production")
		}
		if c.AdminSecret == "" {
			return fmt.Errorf("ADMIN_SECRET is required in production")
		}
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return defaultValue
	}
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
