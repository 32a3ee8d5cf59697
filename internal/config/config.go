package config // package config loads application configuration from environment variables

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  The types reflect how the values are used in
// the application: strings for identifiers and secrets, ints for durations and costs.
type Config struct {
	Env            string // application environment (e.g. "dev", "prod")
	Port           string // HTTP port to listen on
	DBUser         string // database username
	DBPass         string // database password (optional)
	DBHost         string // database host address
	DBPort         string // database port number
	DBName         string // database name
	JWTSecret      string // secret used to sign JWTs
	AccessTTLMin   int    // access token time‑to‑live in minutes
	RefreshTTLDays int    // refresh token time‑to‑live in days
	BcryptCost     int    // bcrypt cost for password hashing

	// PaymentWebhookSecret authenticates payment gateway callbacks.  An
	// empty value disables the webhook endpoint.
	PaymentWebhookSecret string
	// RequestTimeout bounds every database round trip made by a handler.
	RequestTimeout time.Duration
	// ShutdownTimeout bounds graceful shutdown of the HTTP server.
	ShutdownTimeout time.Duration

	Logging LoggingConfig
	Broker  BrokerConfig
	Tracing TracingConfig
	Email   EmailConfig
}

// LoggingConfig selects the zerolog level and output format.
type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or console
}

// Load reads configuration values from environment variables.  Every
// missing required variable is reported in a single error so that a
// misconfigured deployment can be fixed in one pass.
func Load() (Config, error) {
	var missing, invalid []string

	req := func(key string) string {
		v, ok := os.LookupEnv(key)
		if !ok || strings.TrimSpace(v) == "" {
			missing = append(missing, key)
		}
		return v
	}
	num := func(key string, def int) int {
		v := os.Getenv(key)
		if v == "" {
			return def
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			invalid = append(invalid, fmt.Sprintf("%s=%q", key, v))
			return def
		}
		return n
	}

	cfg := Config{
		Env:                  envStr("APP_ENV", "dev"),
		Port:                 req("APP_PORT"),
		DBUser:               req("DB_USER"),
		DBPass:               os.Getenv("DB_PASS"),
		DBHost:               req("DB_HOST"),
		DBPort:               req("DB_PORT"),
		DBName:               req("DB_NAME"),
		JWTSecret:            req("JWT_SECRET"),
		AccessTTLMin:         num("ACCESS_TOKEN_TTL_MIN", 15),
		RefreshTTLDays:       num("REFRESH_TOKEN_TTL_DAYS", 7),
		BcryptCost:           num("BCRYPT_COST", 10),
		PaymentWebhookSecret: os.Getenv("PAYMENT_WEBHOOK_SECRET"),
		RequestTimeout:       envDur("REQUEST_TIMEOUT", 5*time.Second),
		ShutdownTimeout:      envDur("SHUTDOWN_TIMEOUT", 10*time.Second),
		Logging: LoggingConfig{
			Level:  envStr("LOG_LEVEL", "info"),
			Format: envStr("LOG_FORMAT", "json"),
		},
		Broker:  LoadBrokerConfig(),
		Tracing: LoadTracingConfig(),
		Email:   LoadEmailConfig(),
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("invalid positive int env vars: %s", strings.Join(invalid, ", "))
	}
	return cfg, nil
}

// IsProduction reports whether the app runs with APP_ENV=prod or production.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "prod") || strings.EqualFold(c.Env, "production")
}
