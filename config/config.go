package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Stripe    StripeConfig
	Event     EventConfig
	Admin     AdminConfig
	Worker    WorkerConfig
	RateLimit RateLimitConfig
	AWS       AWSConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
	BaseURL            string // public site URL used to build checkout redirect URLs
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/reservas?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings for the admin API.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// StripeConfig holds checkout settings. PriceID fixes the product and amount; the client never sends one.
type StripeConfig struct {
	SecretKey      string
	PublishableKey string
	WebhookSecret  string
	PriceID        string
	SuccessURL     string // may contain {CHECKOUT_SESSION_ID}
	CancelURL      string
}

// EventConfig describes the single event instance reservations are taken for.
type EventConfig struct {
	Name       string
	Date       time.Time
	PriceCents int64
	Currency   string
}

// AdminConfig holds the credentials of the dashboard account.
type AdminConfig struct {
	Email        string
	PasswordHash string // bcrypt
}

// WorkerConfig controls the pending-payment reconciler.
type WorkerConfig struct {
	Enabled    bool // run the reconciler inside the API process
	Interval   time.Duration
	StaleAfter time.Duration
}

// RateLimitConfig bounds reservation submissions per client IP.
type RateLimitConfig struct {
	CreatePerWindow int
	Window          time.Duration
	SubmissionTTL   time.Duration // how long a checkout session is reused for a retried submission
}

// AWSConfig holds S3 settings for reservation exports. Exports are disabled without a bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	ExportsBucket        string
	PresignExpireMinutes int
}

// ExportsEnabled reports whether reservation exports can be uploaded.
func (c AWSConfig) ExportsEnabled() bool {
	return c.Region != "" && c.ExportsBucket != ""
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// EventDateString formats the event date the way it is stored in checkout metadata.
func (e EventConfig) EventDateString() string {
	return e.Date.Format(time.DateOnly)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	eventDate, err := time.Parse(time.DateOnly, getEnv("EVENT_DATE", "2025-03-15"))
	if err != nil {
		return nil, fmt.Errorf("parse EVENT_DATE: %w", err)
	}

	baseURL := strings.TrimRight(getEnv("BASE_URL", "http://localhost:3000"), "/")

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
			BaseURL:            baseURL,
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "reservas"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 12),
		},
		Stripe: StripeConfig{
			SecretKey:      getEnv("STRIPE_SECRET_KEY", ""),
			PublishableKey: getEnv("STRIPE_PUBLISHABLE_KEY", ""),
			WebhookSecret:  getEnv("STRIPE_WEBHOOK_SECRET", ""),
			PriceID:        getEnv("STRIPE_PRICE_ID", ""),
			SuccessURL:     getEnv("STRIPE_SUCCESS_URL", baseURL+"/reservas/exito?session_id={CHECKOUT_SESSION_ID}"),
			CancelURL:      getEnv("STRIPE_CANCEL_URL", baseURL+"/reservas"),
		},
		Event: EventConfig{
			Name:       getEnv("EVENT_NAME", "Business Development Summit"),
			Date:       eventDate,
			PriceCents: int64(getEnvInt("TICKET_PRICE_CENTS", 5000)),
			Currency:   strings.ToLower(getEnv("TICKET_CURRENCY", "eur")),
		},
		Admin: AdminConfig{
			Email:        getEnv("ADMIN_EMAIL", ""),
			PasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		},
		Worker: WorkerConfig{
			Enabled:    getEnvBool("RECONCILER_ENABLED", false),
			Interval:   getEnvDuration("RECONCILE_INTERVAL", time.Minute),
			StaleAfter: getEnvDuration("RECONCILE_STALE_AFTER", 15*time.Minute),
		},
		RateLimit: RateLimitConfig{
			CreatePerWindow: getEnvInt("RATE_LIMIT_CREATE", 10),
			Window:          getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
			SubmissionTTL:   getEnvDuration("SUBMISSION_TTL", 30*time.Minute),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", ""),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ExportsBucket:        getEnv("S3_EXPORTS_BUCKET", ""),
			PresignExpireMinutes: getEnvInt("S3_PRESIGN_EXPIRE_MINUTES", 15),
		},
	}
	return cfg, nil
}

// ValidatePayments reports missing settings needed to open checkout sessions.
func (c *Config) ValidatePayments() error {
	var errs []error
	if c.Stripe.SecretKey == "" {
		errs = append(errs, errors.New("STRIPE_SECRET_KEY is required"))
	}
	if c.Stripe.PriceID == "" {
		errs = append(errs, errors.New("STRIPE_PRICE_ID is required"))
	}
	if c.Event.PriceCents <= 0 {
		errs = append(errs, errors.New("TICKET_PRICE_CENTS must be positive"))
	}
	return errors.Join(errs...)
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
