// Package config loads service configuration from defaults, an optional YAML
// file and environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"classcast-backend/application/pipeline"
)

// Store backends.
const (
	StoreDynamoDB = "dynamodb"
	StoreMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	ServerAddress string `yaml:"serverAddress"`
	Environment   string `yaml:"environment"`

	// AWS configuration
	AWSRegion    string      `yaml:"awsRegion"`
	StoreBackend string      `yaml:"storeBackend"`
	Tables       TableConfig `yaml:"tables"`
	EventBusName string      `yaml:"eventBusName"`

	// WebSocket configuration
	WebSocketEndpoint string `yaml:"webSocketEndpoint"`

	// Logging and observability
	LogLevel      string `yaml:"logLevel"`
	EnableMetrics bool   `yaml:"enableMetrics"`
	EnableTracing bool   `yaml:"enableTracing"`
	OTLPEndpoint  string `yaml:"otlpEndpoint"`

	// Assignment writes
	RequireCourseLink bool        `yaml:"requireCourseLink"`
	Retry             RetryConfig `yaml:"retry"`

	// ConfigFile is the YAML overlay this config was read from, if any.
	ConfigFile string `yaml:"-"`
}

// TableConfig names the DynamoDB tables.
type TableConfig struct {
	Assignments     string `yaml:"assignments"`
	Courses         string `yaml:"courses"`
	InstructorStats string `yaml:"instructorStats"`
	AuditLog        string `yaml:"auditLog"`
	Connections     string `yaml:"connections"`
}

// RetryConfig is the hot-reloadable write tuning.
type RetryConfig struct {
	WriteMaxAttempts       int           `yaml:"writeMaxAttempts"`
	WriteBaseDelay         time.Duration `yaml:"writeBaseDelay"`
	WriteBackoffMultiplier float64       `yaml:"writeBackoffMultiplier"`
	WriteMaxDelay          time.Duration `yaml:"writeMaxDelay"`
	BatchSize              int           `yaml:"batchSize"`
	BatchMaxRetries        int           `yaml:"batchMaxRetries"`
}

// Default returns the built-in configuration.
func Default() *Config {
	defaults := pipeline.DefaultPolicies()
	return &Config{
		ServerAddress: ":8080",
		Environment:   "development",
		AWSRegion:     "us-west-2",
		StoreBackend:  StoreDynamoDB,
		Tables: TableConfig{
			Assignments:     "classcast-assignments",
			Courses:         "classcast-courses",
			InstructorStats: "classcast-instructor-stats",
			AuditLog:        "classcast-audit-log",
			Connections:     "classcast-connections",
		},
		EventBusName: "classcast-events",
		LogLevel:     "info",
		OTLPEndpoint: "localhost:4317",
		Retry: RetryConfig{
			WriteMaxAttempts:       defaults.Primary.MaxAttempts,
			WriteBaseDelay:         defaults.Primary.BaseDelay,
			WriteBackoffMultiplier: defaults.Primary.BackoffMultiplier,
			WriteMaxDelay:          defaults.Primary.MaxDelay,
			BatchSize:              25,
			BatchMaxRetries:        defaults.Batch.MaxAttempts,
		},
	}
}

// LoadConfig loads configuration from CONFIG_FILE (when set) and the environment.
func LoadConfig() (*Config, error) {
	return Reload(getEnv("CONFIG_FILE", ""))
}

// applyEnv overrides cfg with whatever environment variables are set.
func applyEnv(cfg *Config) {
	cfg.ServerAddress = getEnv("SERVER_ADDRESS", cfg.ServerAddress)
	cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)
	cfg.AWSRegion = getEnv("AWS_REGION", cfg.AWSRegion)
	cfg.StoreBackend = getEnv("STORE_BACKEND", cfg.StoreBackend)

	cfg.Tables.Assignments = getEnv("ASSIGNMENTS_TABLE", cfg.Tables.Assignments)
	cfg.Tables.Courses = getEnv("COURSES_TABLE", cfg.Tables.Courses)
	cfg.Tables.InstructorStats = getEnv("INSTRUCTOR_STATS_TABLE", cfg.Tables.InstructorStats)
	cfg.Tables.AuditLog = getEnv("AUDIT_LOG_TABLE", cfg.Tables.AuditLog)
	cfg.Tables.Connections = getEnv("CONNECTIONS_TABLE", cfg.Tables.Connections)

	cfg.EventBusName = getEnv("EVENT_BUS_NAME", cfg.EventBusName)
	cfg.WebSocketEndpoint = getEnv("WEBSOCKET_ENDPOINT", cfg.WebSocketEndpoint)

	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.EnableMetrics = getEnvBool("ENABLE_METRICS", cfg.EnableMetrics)
	cfg.EnableTracing = getEnvBool("ENABLE_TRACING", cfg.EnableTracing)
	cfg.OTLPEndpoint = getEnv("OTLP_ENDPOINT", cfg.OTLPEndpoint)

	cfg.RequireCourseLink = getEnvBool("REQUIRE_COURSE_LINK", cfg.RequireCourseLink)
	cfg.Retry.WriteMaxAttempts = getEnvInt("WRITE_MAX_ATTEMPTS", cfg.Retry.WriteMaxAttempts)
	cfg.Retry.WriteBaseDelay = getEnvDuration("WRITE_BASE_DELAY", cfg.Retry.WriteBaseDelay)
	cfg.Retry.WriteBackoffMultiplier = getEnvFloat("WRITE_BACKOFF_MULTIPLIER", cfg.Retry.WriteBackoffMultiplier)
	cfg.Retry.BatchSize = getEnvInt("BATCH_SIZE", cfg.Retry.BatchSize)
	cfg.Retry.BatchMaxRetries = getEnvInt("BATCH_MAX_RETRIES", cfg.Retry.BatchMaxRetries)
}

// Validate checks if all required configuration is present
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreDynamoDB, StoreMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StoreDynamoDB, StoreMemory, c.StoreBackend)
	}
	if c.Tables.Assignments == "" {
		return fmt.Errorf("ASSIGNMENTS_TABLE is required")
	}
	if c.IsProduction() && c.EventBusName == "" {
		return fmt.Errorf("EVENT_BUS_NAME is required in production")
	}
	if c.Retry.BatchSize < 1 || c.Retry.BatchSize > 25 {
		return fmt.Errorf("BATCH_SIZE must be between 1 and 25, got %d", c.Retry.BatchSize)
	}
	if err := c.PipelinePolicies().Validate(); err != nil {
		return fmt.Errorf("invalid retry tuning: %w", err)
	}
	return nil
}

// PipelinePolicies converts the retry tuning into pipeline policies.
func (c *Config) PipelinePolicies() pipeline.Policies {
	p := pipeline.DefaultPolicies()
	p.Primary.MaxAttempts = c.Retry.WriteMaxAttempts
	p.Primary.BaseDelay = c.Retry.WriteBaseDelay
	p.Primary.BackoffMultiplier = c.Retry.WriteBackoffMultiplier
	if c.Retry.WriteMaxDelay > 0 {
		p.Primary.MaxDelay = c.Retry.WriteMaxDelay
	}
	p.Batch.MaxAttempts = c.Retry.BatchMaxRetries
	p.Batch.BaseDelay = c.Retry.WriteBaseDelay
	p.Batch.BackoffMultiplier = c.Retry.WriteBackoffMultiplier
	p.Batch.MaxDelay = p.Primary.MaxDelay
	return p
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("250ms") or plain milliseconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
