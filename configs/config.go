package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"testbot/pkg/models"
)

// Run history backends.
const (
	RunStoreMemory   = "memory"
	RunStorePostgres = "postgres"
)

// Phase log backends.
const (
	LogStoreLocal = "local"
	LogStoreS3    = "s3"
)

type Config struct {
	TargetsFile  string
	WorkDir      string
	InfiniRoot   string
	Environment  string
	Schedule     string
	RetryBackoff time.Duration

	LogLevel    string
	LogEncoding string
	LogOutput   string

	APIPort   string
	JWTSecret string

	RunStore      string
	HistoryLimit  int
	DBHost        string
	DBPort        string
	DBUser        string
	DBPassword    string
	DBName        string
	RedisAddr     string
	RedisPassword string
	RedisStream   string

	EtcdEndpoints     []string
	LeaderElectionTTL int

	LogStore          string
	S3Bucket          string
	S3Prefix          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string

	OTELEndpoint      string
	TracingSampleRate float64
}

func LoadConfig() *Config {
	wd, _ := os.Getwd()
	return &Config{
		TargetsFile:  getEnv("TESTBOT_CONFIG", "config.json"),
		WorkDir:      getEnv("WORK_DIR", wd),
		InfiniRoot:   getEnv("INFINI_ROOT", ""),
		Environment:  getEnv("TESTBOT_ENV", "production"),
		Schedule:     getEnv("SCHEDULE", "0 2 * * *"),
		RetryBackoff: getEnvAsDuration("RETRY_BACKOFF", time.Second),

		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogEncoding: getEnv("LOG_ENCODING", "console"),
		LogOutput:   getEnv("LOG_OUTPUT", "stdout"),

		APIPort:   getEnv("API_PORT", "8080"),
		JWTSecret: getEnv("JWT_SECRET", ""),

		RunStore:      strings.ToLower(getEnv("RUN_STORE", RunStoreMemory)),
		HistoryLimit:  getEnvAsInt("RUN_HISTORY_LIMIT", 200),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnv("DB_PORT", "5432"),
		DBUser:        getEnv("DB_USER", "testbot"),
		DBPassword:    getEnv("DB_PASSWORD", "password"),
		DBName:        getEnv("DB_NAME", "testbot"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisStream:   getEnv("REDIS_STREAM", "testbot:runs"),

		EtcdEndpoints:     getEnvAsList("ETCD_ENDPOINTS"),
		LeaderElectionTTL: getEnvAsInt("LEADER_ELECTION_TTL", 15),

		LogStore:          strings.ToLower(getEnv("LOG_STORE", LogStoreLocal)),
		S3Bucket:          getEnv("S3_BUCKET", ""),
		S3Prefix:          getEnv("S3_PREFIX", "testbot"),
		S3Region:          getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),

		OTELEndpoint:      getEnv("OTEL_ENDPOINT", ""),
		TracingSampleRate: getEnvAsFloat("OTEL_SAMPLE_RATE", 1.0),
	}
}

// Validate rejects unknown backends and incomplete backend settings.
func (c *Config) Validate() error {
	switch c.RunStore {
	case RunStoreMemory, RunStorePostgres:
	default:
		return &models.ConfigurationError{Field: "RUN_STORE", Reason: fmt.Sprintf("unsupported run store %q", c.RunStore)}
	}
	switch c.LogStore {
	case LogStoreLocal:
	case LogStoreS3:
		if c.S3Bucket == "" {
			return &models.ConfigurationError{Field: "S3_BUCKET", Reason: "is required when LOG_STORE=s3"}
		}
	default:
		return &models.ConfigurationError{Field: "LOG_STORE", Reason: fmt.Sprintf("unsupported log store %q", c.LogStore)}
	}
	if c.RetryBackoff < 0 {
		return &models.ConfigurationError{Field: "RETRY_BACKOFF", Reason: "must not be negative"}
	}
	if c.HistoryLimit < 1 {
		return &models.ConfigurationError{Field: "RUN_HISTORY_LIMIT", Reason: "must be positive"}
	}
	return nil
}

// DSN is the postgres connection string for the run history.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
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

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
