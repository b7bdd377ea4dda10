package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// VaultMasterKey seeds the key that wraps per-tenant data keys.
	// VaultMasterKeyPrevious lists retired key material so envelopes
	// sealed under it can still be opened and re-wrapped by rotation.
	VaultMasterKey         string
	VaultMasterKeyPrevious []string
	VaultMasterKeyVersion  int

	// TokenRefreshMargin is how close to expiry a cached provider token
	// is still considered usable.
	TokenRefreshMargin time.Duration

	ProviderTimeout time.Duration
	MTNBaseURL      string
	AirtelBaseURL   string

	IdempotencyTTL time.Duration

	MaxRetryCount    int
	RetryBackoffBase time.Duration
	RetryBackoffCap  time.Duration

	// PendingTTL bounds how long a disbursement may sit in PENDING
	// before the expire sweep fails it.
	PendingTTL time.Duration

	// APIRatePerSecond is the per-tenant sustained request rate; zero
	// disables rate limiting. Requires redis.
	APIRatePerSecond float64
	APIRateBurst     int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "kwachapay"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "kwachapay"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		VaultMasterKey:         strings.TrimSpace(getenv("VAULT_MASTER_KEY", "")),
		VaultMasterKeyPrevious: getenvList("VAULT_MASTER_KEY_PREVIOUS"),
		VaultMasterKeyVersion:  getenvInt("VAULT_MASTER_KEY_VERSION", 1),

		TokenRefreshMargin: getenvDuration("TOKEN_REFRESH_MARGIN", time.Minute),

		ProviderTimeout: getenvDuration("PROVIDER_TIMEOUT", 10*time.Second),
		MTNBaseURL:      getenv("MTN_BASE_URL", "https://momodeveloper.mtn.com"),
		AirtelBaseURL:   getenv("AIRTEL_BASE_URL", "https://openapi.airtel.africa"),

		IdempotencyTTL: getenvDuration("IDEMPOTENCY_TTL", 24*time.Hour),

		MaxRetryCount:    getenvInt("DISBURSEMENT_MAX_RETRIES", 3),
		RetryBackoffBase: getenvDuration("DISBURSEMENT_RETRY_BASE", 30*time.Second),
		RetryBackoffCap:  getenvDuration("DISBURSEMENT_RETRY_CAP", 30*time.Minute),

		PendingTTL: getenvDuration("DISBURSEMENT_PENDING_TTL", 24*time.Hour),

		APIRatePerSecond: getenvFloat("API_RATE_PER_SEC", 0),
		APIRateBurst:     getenvInt("API_RATE_BURST", 20),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvList(key string) []string {
	var values []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	return values
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
