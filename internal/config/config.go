package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	App      AppConfig
	Auth     AuthConfig
	Flood    FloodConfig
	TOTP     TOTPConfig
	OAuth    OAuthConfig
	Session  SessionConfig
	Redis    RedisConfig
	Postgres PostgresConfig
	Sentry   SentryConfig
}

type AppConfig struct {
	BaseURL     string
	Port        string
	Environment string
	CORSOrigins string
}

type AuthConfig struct {
	// PEM-encoded RSA private key used for all token signing. The matching
	// public key is published at /oauth/jwks.
	PrivateKeyPEM string
	KeyID         string
	AccessTTL     time.Duration
	SignedURLTTL  time.Duration
}

type FloodConfig struct {
	MaxAttempts int
	Window      time.Duration
}

type TOTPConfig struct {
	Issuer   string
	Skew     int
	TrustTTL time.Duration
}

type OAuthConfig struct {
	CodeTTL    time.Duration
	RefreshTTL time.Duration
}

type SessionConfig struct {
	TTL          time.Duration
	CookieName   string
	CookieSecure bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	DatabaseURL string
	Host        string
	Port        string
	User        string
	Password    string
	Database    string
	SSLMode     string
}

type SentryConfig struct {
	DSN         string
	Environment string
}

func Load() Config {
	return Config{
		App: AppConfig{
			BaseURL:     getenv("BASE_URL", "http://localhost:8080"),
			Port:        getenv("PORT", "8080"),
			Environment: getenv("APP_ENV", "development"),
			CORSOrigins: os.Getenv("CORS_ORIGINS"),
		},
		Auth: AuthConfig{
			PrivateKeyPEM: os.Getenv("JWT_PRIVATE_KEY"),
			KeyID:         getenv("JWT_KEY_ID", "default"),
			AccessTTL:     getduration("ACCESS_TOKEN_TTL", 24*time.Hour),
			SignedURLTTL:  getduration("SIGNED_URL_TTL", 5*time.Minute),
		},
		Flood: FloodConfig{
			MaxAttempts: getint("FLOOD_MAX_ATTEMPTS", 5),
			Window:      getduration("FLOOD_WINDOW", 5*time.Minute),
		},
		TOTP: TOTPConfig{
			Issuer:   getenv("TOTP_ISSUER", "CivicID"),
			Skew:     getint("TOTP_SKEW", 1),
			TrustTTL: getduration("TRUST_TTL", 30*24*time.Hour),
		},
		OAuth: OAuthConfig{
			CodeTTL:    getduration("OAUTH_CODE_TTL", 5*time.Minute),
			RefreshTTL: getduration("OAUTH_REFRESH_TTL", 365*24*time.Hour),
		},
		Session: SessionConfig{
			TTL:          getduration("SESSION_TTL", 12*time.Hour),
			CookieName:   getenv("SESSION_COOKIE", "civicid_session"),
			CookieSecure: getbool("COOKIE_SECURE", true),
		},
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getint("REDIS_DB", 0),
		},
		Postgres: PostgresConfig{
			DatabaseURL: os.Getenv("DATABASE_URL"),
			Host:        getenv("PGHOST", "localhost"),
			Port:        getenv("PGPORT", "5432"),
			User:        os.Getenv("PGUSER"),
			Password:    os.Getenv("PGPASSWORD"),
			Database:    os.Getenv("PGDATABASE"),
			SSLMode:     getenv("PGSSLMODE", "disable"),
		},
		Sentry: SentryConfig{
			DSN:         os.Getenv("SENTRY_DSN"),
			Environment: getenv("APP_ENV", "development"),
		},
	}
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getint(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getbool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getduration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}
