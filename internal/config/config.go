package config

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	AuthModeFixed = "fixed"
	AuthModeJWT   = "jwt"
)

// Config holds application configuration from environment.
type Config struct {
	HTTPPort string

	MongoURI            string
	MongoDatabase       string
	MongoCollection     string
	MongoConnectRetries int
	MongoRetryCooldown  time.Duration
	StoreTimeout        time.Duration

	RedisURL      string
	RedisPoolSize int
	CacheTTL      time.Duration

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	AuthMode     string
	DefaultOwner string
	JWTSecret    string

	CORSAllowedOrigins []string
	TasksBasePaths     []string
	RateLimitRPS       float64
	RateLimitBurst     int

	LogLevel  string
	LogFormat string
}

var (
	cfg     *Config
	cfgErr  error
	cfgOnce sync.Once
)

// Get returns the application config (loads once from .env and the environment).
func Get() (*Config, error) {
	cfgOnce.Do(func() {
		_ = godotenv.Load()
		cfg, cfgErr = Load()
	})
	return cfg, cfgErr
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	c := &Config{
		HTTPPort:            v.GetString("HTTP_PORT"),
		MongoURI:            strings.TrimSpace(v.GetString("MONGODB_URI")),
		MongoDatabase:       v.GetString("MONGODB_DATABASE"),
		MongoCollection:     v.GetString("MONGODB_COLLECTION"),
		MongoConnectRetries: v.GetInt("MONGODB_CONNECT_RETRIES"),
		MongoRetryCooldown:  v.GetDuration("MONGODB_RETRY_COOLDOWN"),
		StoreTimeout:        v.GetDuration("STORE_TIMEOUT"),
		RedisURL:            strings.TrimSpace(v.GetString("REDIS_URL")),
		RedisPoolSize:       v.GetInt("REDIS_POOL_SIZE"),
		CacheTTL:            v.GetDuration("CACHE_TTL"),
		KafkaBrokers:        splitList(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:          v.GetString("KAFKA_TASK_TOPIC"),
		KafkaGroupID:        v.GetString("KAFKA_GROUP_ID"),
		AuthMode:            strings.ToLower(v.GetString("AUTH_MODE")),
		DefaultOwner:        v.GetString("DEFAULT_OWNER"),
		JWTSecret:           v.GetString("JWT_SECRET"),
		CORSAllowedOrigins:  splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		TasksBasePaths:      splitList(v.GetString("TASKS_BASE_PATHS")),
		RateLimitRPS:        v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst:      v.GetInt("RATE_LIMIT_BURST"),
		LogLevel:            v.GetString("LOG_LEVEL"),
		LogFormat:           v.GetString("LOG_FORMAT"),
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("MONGODB_DATABASE", "taskhub")
	v.SetDefault("MONGODB_COLLECTION", "tasks")
	v.SetDefault("MONGODB_CONNECT_RETRIES", 3)
	v.SetDefault("MONGODB_RETRY_COOLDOWN", "30s")
	v.SetDefault("STORE_TIMEOUT", "5s")
	v.SetDefault("REDIS_POOL_SIZE", 50)
	v.SetDefault("CACHE_TTL", "5m")
	v.SetDefault("KAFKA_TASK_TOPIC", "task-events")
	v.SetDefault("KAFKA_GROUP_ID", "task-cache-workers")
	v.SetDefault("AUTH_MODE", AuthModeFixed)
	v.SetDefault("DEFAULT_OWNER", "default-user")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("TASKS_BASE_PATHS", "/api/tasks,/api/v1/tasks")
	v.SetDefault("RATE_LIMIT_RPS", 0)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

// Validate checks values that would otherwise fail at request time.
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.HTTPPort)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %q", c.HTTPPort)
	}
	switch c.AuthMode {
	case AuthModeFixed:
		if c.DefaultOwner == "" {
			return fmt.Errorf("DEFAULT_OWNER is required when AUTH_MODE=%s", AuthModeFixed)
		}
	case AuthModeJWT:
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required when AUTH_MODE=%s", AuthModeJWT)
		}
	default:
		return fmt.Errorf("unknown AUTH_MODE %q", c.AuthMode)
	}
	if len(c.TasksBasePaths) == 0 {
		return fmt.Errorf("TASKS_BASE_PATHS must name at least one path")
	}
	for _, p := range c.TasksBasePaths {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("base path %q must start with /", p)
		}
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive")
	}
	if c.MongoConnectRetries < 0 {
		c.MongoConnectRetries = 0
	}
	return nil
}

// PersistenceConfigured reports whether a document store connection string is present.
func (c *Config) PersistenceConfigured() bool {
	return c.MongoURI != ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
