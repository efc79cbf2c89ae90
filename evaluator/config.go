package evaluator

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds configuration for the evaluation service
type Config struct {
	Port             string
	LogLevel         string
	LogFormat        string
	ModelConfig      string
	IncludeRule13    bool
	Defuzzifier      string
	CacheSize        int
	CacheTTL         time.Duration
	JournalDriver    string
	JournalPath      string
	JournalMax       int
	RateLimitRPS     float64
	RateLimitBurst   int
	RateLimitKeys    int
	MaxBatch         int
	BatchParallelism int
	RequestTimeout   time.Duration
	ShutdownTimeout  time.Duration
	JaegerEndpoint   string
	ServiceEnv       string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	config := &Config{
		Port:             getEnv("FUZZY_PORT", "8090"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "json"),
		ModelConfig:      getEnv("MODEL_CONFIG", ""),
		IncludeRule13:    getEnvBool("INCLUDE_RULE13", false),
		Defuzzifier:      getEnv("DEFUZZIFIER", "centroid"),
		CacheSize:        getEnvInt("CACHE_SIZE", 4096),
		CacheTTL:         getEnvDuration("CACHE_TTL", "0s"),
		JournalDriver:    getEnv("JOURNAL_DRIVER", "memory"),
		JournalPath:      getEnv("JOURNAL_PATH", "./fuzzyeval.db"),
		JournalMax:       getEnvInt("JOURNAL_MAX_RECORDS", 10000),
		RateLimitRPS:     getEnvFloat("RATE_LIMIT_RPS", 0),
		RateLimitBurst:   getEnvInt("RATE_LIMIT_BURST", 0),
		RateLimitKeys:    getEnvInt("RATE_LIMIT_MAX_KEYS", 0),
		MaxBatch:         getEnvInt("MAX_BATCH", 1000),
		BatchParallelism: getEnvInt("BATCH_PARALLELISM", 8),
		RequestTimeout:   getEnvDuration("REQUEST_TIMEOUT", "10s"),
		ShutdownTimeout:  getEnvDuration("SHUTDOWN_TIMEOUT", "10s"),
		JaegerEndpoint:   getEnv("JAEGER_ENDPOINT", ""),
		ServiceEnv:       getEnv("SERVICE_ENV", "development"),
	}

	return config
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float environment variable with a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable with a default value
func getEnvDuration(key, defaultValue string) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
