package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	LogLevel    string

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

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Gateway is the payment gateway name recorded on Payment rows.
	Gateway string
	// GatewayServerKey signs webhook notifications; requests whose signature
	// does not match are rejected before any state change.
	GatewayServerKey string

	OrderExpiry        time.Duration
	ExpirySweepEvery   time.Duration
	DispenseTimeout    time.Duration
	DispenseSafety     float64
	DispenseReapEvery  time.Duration
	TelemetryDeferOpen bool

	// TracingEnabled turns the OTLP span exporter on; OTLPEndpoint is the
	// collector address it ships to.
	TracingEnabled bool
	OTLPEndpoint   string

	// WebhookRate and WebhookBurst throttle the public payment webhook per
	// source address. Zero disables the limiter.
	WebhookRate  float64
	WebhookBurst int

	// SeedDemoMachine, when non-empty, seeds a demo slot layout for this
	// machine id on startup. Local development convenience only.
	SeedDemoMachine string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "vendo"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		LogLevel:    getenv("LOG_LEVEL", "info"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "vendo"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),

		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		Gateway:          getenv("PAYMENT_GATEWAY", "midtrans"),
		GatewayServerKey: strings.TrimSpace(getenv("PAYMENT_SERVER_KEY", "")),

		OrderExpiry:        getenvDuration("ORDER_EXPIRY", 15*time.Minute),
		ExpirySweepEvery:   getenvDuration("ORDER_EXPIRY_SWEEP_EVERY", time.Minute),
		DispenseTimeout:    getenvDuration("DISPENSE_TIMEOUT", 5*time.Second),
		DispenseSafety:     getenvFloat("DISPENSE_TIMEOUT_SAFETY", 1.5),
		DispenseReapEvery:  getenvDuration("DISPENSE_REAP_EVERY", 30*time.Second),
		TelemetryDeferOpen: getenvBool("TELEMETRY_DEFER_WHILE_DISPENSING", true),

		TracingEnabled: getenvBool("OTEL_TRACES_ENABLED", false),
		OTLPEndpoint:   getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		WebhookRate:  getenvFloat("WEBHOOK_RATE_LIMIT", 10),
		WebhookBurst: getenvInt("WEBHOOK_RATE_BURST", 20),

		SeedDemoMachine: getenv("SEED_DEMO_MACHINE", ""),
	}
}

// Module provides Config to the fx graph.
var Module = fx.Module("config",
	fx.Provide(Load),
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
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

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
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
