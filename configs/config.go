package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"profiler/pkg/errs"
	"profiler/pkg/executor/runner"
)

type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	RedisHost string
	RedisPort string

	EtcdEndpoints     []string
	LeaderElectionTTL int

	APIPort        string
	MaxBodyBytes   int64
	RateLimitRPS   float64
	RateLimitBurst int
	AuthEnabled    bool
	JWTSecret      string

	// "postgres" or "memory"
	StorageBackend string
	// "s3", "local" or "" to discard command output
	OutputBackend string
	OutputDir     string
	S3Bucket      string
	S3Region      string
	S3Endpoint    string

	Exporters []string

	NodeID            string
	HeartbeatInterval time.Duration
	HeartbeatTTL      int

	SchedulerInterval time.Duration
	SchedulesFile     string

	DefaultTimeout    time.Duration
	DefaultSampleRate float64

	LogLevel  string
	LogFormat string
	LogOutput string

	TracingEnabled    bool
	TracingEndpoint   string
	TracingSampleRate float64
}

// LoadConfig reads the environment, after loading a .env file from the
// working directory if one exists.
func LoadConfig() *Config {
	_ = godotenv.Load()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "profiler"
	}

	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "profiler"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "profiler"),

		RedisHost: getEnv("REDIS_HOST", "localhost"),
		RedisPort: getEnv("REDIS_PORT", "6379"),

		EtcdEndpoints:     getEnvAsList("ETCD_ENDPOINTS", []string{"localhost:2379"}),
		LeaderElectionTTL: getEnvAsInt("LEADER_ELECTION_TTL", 15),

		APIPort:        getEnv("API_PORT", "8080"),
		MaxBodyBytes:   int64(getEnvAsInt("MAX_BODY_BYTES", 1<<20)),
		RateLimitRPS:   getEnvAsFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 20),
		AuthEnabled:    getEnvAsBool("AUTH_ENABLED", false),
		JWTSecret:      getEnv("JWT_SECRET", ""),

		StorageBackend: getEnv("STORAGE_BACKEND", "postgres"),
		OutputBackend:  getEnv("OUTPUT_BACKEND", "local"),
		OutputDir:      getEnv("OUTPUT_DIR", "/tmp/profiler/output"),
		S3Bucket:       getEnv("S3_BUCKET", ""),
		S3Region:       getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:     getEnv("S3_ENDPOINT", ""),

		Exporters: getEnvAsList("EXPORTERS", []string{"log", "store"}),

		NodeID:            getEnv("NODE_ID", hostname),
		HeartbeatInterval: getEnvAsDuration("HEARTBEAT_INTERVAL", 5*time.Second),
		HeartbeatTTL:      getEnvAsInt("HEARTBEAT_TTL", 15),

		SchedulerInterval: getEnvAsDuration("SCHEDULER_INTERVAL", 10*time.Second),
		SchedulesFile:     getEnv("SCHEDULES_FILE", ""),

		DefaultTimeout:    getEnvAsDuration("DEFAULT_TIMEOUT", 0),
		DefaultSampleRate: getEnvAsFloat("DEFAULT_SAMPLE_RATE", 0),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
		LogOutput: getEnv("LOG_OUTPUT", "stdout"),

		TracingEnabled:    getEnvAsBool("TRACING_ENABLED", false),
		TracingEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		TracingSampleRate: getEnvAsFloat("TRACING_SAMPLE_RATE", 1.0),
	}
}

// DSN is the postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// RedisAddr is host:port of the redis server.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case "postgres", "memory":
	default:
		return errs.NewConfigurationError("unknown storage backend "+strconv.Quote(c.StorageBackend), "STORAGE_BACKEND")
	}

	switch c.OutputBackend {
	case "", "local":
	case "s3":
		if c.S3Bucket == "" {
			return errs.NewConfigurationError("S3 output requires a bucket", "S3_BUCKET")
		}
	default:
		return errs.NewConfigurationError("unknown output backend "+strconv.Quote(c.OutputBackend), "OUTPUT_BACKEND")
	}

	for _, name := range c.Exporters {
		switch name {
		case "log", "store", "redis":
		default:
			return errs.NewConfigurationError("unknown exporter "+strconv.Quote(name), "EXPORTERS").
				With(errs.KeyExporterName, name)
		}
	}

	if c.AuthEnabled && len(c.JWTSecret) < 32 {
		return errs.NewConfigurationError("JWT secret must be at least 32 characters", "JWT_SECRET")
	}
	if c.DefaultTimeout < 0 {
		return errs.NewConfigurationError("default timeout must not be negative", "DEFAULT_TIMEOUT")
	}
	if err := runner.ValidateSampleRate(c.DefaultSampleRate); err != nil {
		return errs.AddContext(err, errs.KeyConfigKey, "DEFAULT_SAMPLE_RATE")
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		return errs.NewSamplingError("tracing sample rate must be within [0, 1]", c.TracingSampleRate).
			With(errs.KeyConfigKey, "TRACING_SAMPLE_RATE")
	}
	if c.HeartbeatTTL <= 0 {
		return errs.NewConfigurationError("heartbeat TTL must be positive", "HEARTBEAT_TTL")
	}
	if c.SchedulerInterval <= 0 {
		return errs.NewConfigurationError("scheduler interval must be positive", "SCHEDULER_INTERVAL")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsList(key string, fallback []string) []string {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
