package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database   DatabaseConfig
	Auth       AuthConfig
	Email      EmailConfig
	Encryption EncryptionConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type AuthConfig struct {
	BcryptCost int
	SessionTTL time.Duration
	// SessionBinding selects how IP/user-agent drift on session validation
	// is handled: "relaxed" logs the mismatch and accepts, "strict"
	// invalidates the session. Detection happens in both modes.
	SessionBinding string
}

type EmailConfig struct {
	Region      string
	FromAddress string
	// BaseURL is the public origin used to build password-reset links.
	BaseURL string
}

type EncryptionConfig struct {
	// Key protects the national-ID column and backup-code blobs.
	// Must be exactly 32 bytes (AES-256).
	Key string
}

const (
	SessionBindingRelaxed = "relaxed"
	SessionBindingStrict  = "strict"
)

func Load() (*Config, error) {
	_ = godotenv.Load()

	encryptionKey := getEnv("ENCRYPTION_KEY", "")
	if encryptionKey == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if len(encryptionKey) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes (got %d)", len(encryptionKey))
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "warden"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Auth: AuthConfig{
			BcryptCost:     getEnvAsInt("BCRYPT_COST", 12),
			SessionTTL:     getEnvAsDuration("SESSION_TTL", 30*time.Minute),
			SessionBinding: getEnv("SESSION_BINDING", SessionBindingRelaxed),
		},
		Email: EmailConfig{
			Region:      getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "no-reply@localhost"),
			BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		},
		Encryption: EncryptionConfig{
			Key: encryptionKey,
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if cfg.Auth.SessionBinding != SessionBindingRelaxed && cfg.Auth.SessionBinding != SessionBindingStrict {
		return nil, fmt.Errorf("SESSION_BINDING must be %q or %q (got %q)",
			SessionBindingRelaxed, SessionBindingStrict, cfg.Auth.SessionBinding)
	}

	return cfg, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}
