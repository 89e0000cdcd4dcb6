package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewTuningHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	DBType             string
	DBHost             string
	DBPort             string
	DBName             string
	DBUser             string
	DBPassword         string
	DBSSLMode          string
	DBMaxIdleConn      int
	DBMaxOpenConn      int
	DBConnMaxLifetime  int
	DBConnMaxIdleTime  int
	DBLockTimeout      time.Duration
	DBStatementTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	NodeID int64

	Observability ObservabilityConfig
	Ingest        IngestConfig
	Upsert        UpsertConfig
	Redaction     RedactionConfig
}

// ObservabilityConfig configures logging, tracing and metric export.
type ObservabilityConfig struct {
	LogLevel           string
	LogFormat          string
	SlowQueryThreshold time.Duration

	OtelEnabled       bool
	OtelEndpoint      string
	OtelProtocol      string
	OtelSamplingRatio float64
}

// IngestConfig configures the event stream consumer.
type IngestConfig struct {
	Enabled        bool
	Brokers        []string
	Topic          string
	GroupID        string
	Workers        int
	BatchSize      int
	MaxRetries     uint
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// UpsertConfig bounds the projection write path.
type UpsertConfig struct {
	Timeout    time.Duration
	MaxRetries int
}

// RedactionConfig configures the personal data redaction job.
type RedactionConfig struct {
	Enabled         bool
	Interval        time.Duration
	RetentionPeriod time.Duration
	BatchSize       int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:            getenv("APP_SERVICE", "txledger"),
		AppVersion:         getenv("APP_VERSION", "0.1.0"),
		Environment:        getenv("ENVIRONMENT", "development"),
		HTTPAddr:           getenv("HTTP_ADDR", ":8080"),
		DBType:             getenv("DATABASE_TYPE", "postgres"),
		DBHost:             getenv("DATABASE_HOST", "localhost"),
		DBPort:             getenv("DATABASE_PORT", "5432"),
		DBName:             getenv("DATABASE_NAME", "ledger"),
		DBUser:             getenv("DATABASE_USER", "postgres"),
		DBPassword:         getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:          getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:      getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:      getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime:  getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime:  getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBLockTimeout:      getenvDuration("DATABASE_LOCK_TIMEOUT", 5*time.Second),
		DBStatementTimeout: getenvDuration("DATABASE_STATEMENT_TIMEOUT", 10*time.Second),
		RedisAddr:          strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:      getenv("REDIS_PASSWORD", ""),
		RedisDB:            getenvInt("REDIS_DB", 0),
		NodeID:             getenvInt64("NODE_ID", 1),
		Observability: ObservabilityConfig{
			LogLevel:           strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:          strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			SlowQueryThreshold: getenvDuration("DATABASE_SLOW_QUERY_THRESHOLD", 200*time.Millisecond),
			OtelEnabled:        getenvBool("OTEL_ENABLED", false),
			OtelEndpoint:       strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")),
			OtelProtocol:       otlpProtocol(),
			OtelSamplingRatio:  getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
		Ingest: IngestConfig{
			Enabled:        getenvBool("INGEST_ENABLED", true),
			Brokers:        splitList(getenv("KAFKA_BROKERS", "localhost:9092")),
			Topic:          getenv("KAFKA_TOPIC", "payment-events"),
			GroupID:        getenv("KAFKA_GROUP_ID", "txledger"),
			Workers:        getenvInt("INGEST_WORKERS", 8),
			BatchSize:      getenvInt("INGEST_BATCH_SIZE", 100),
			MaxRetries:     uint(getenvInt("INGEST_MAX_RETRIES", 5)),
			InitialBackoff: getenvDuration("INGEST_INITIAL_BACKOFF", 200*time.Millisecond),
			MaxBackoff:     getenvDuration("INGEST_MAX_BACKOFF", 10*time.Second),
		},
		Upsert: UpsertConfig{
			Timeout:    getenvDuration("UPSERT_TIMEOUT", 5*time.Second),
			MaxRetries: getenvInt("UPSERT_MAX_RETRIES", 3),
		},
		Redaction: RedactionConfig{
			Enabled:         getenvBool("REDACTION_ENABLED", false),
			Interval:        getenvDuration("REDACTION_INTERVAL", time.Hour),
			RetentionPeriod: getenvDuration("REDACTION_RETENTION_PERIOD", 7*365*24*time.Hour),
			BatchSize:       getenvInt("REDACTION_BATCH_SIZE", 500),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
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

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
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

// otlpProtocol prefers the traces-specific protocol over the generic one.
func otlpProtocol() string {
	if p := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")); p != "" {
		return strings.ToLower(p)
	}
	return strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")))
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
