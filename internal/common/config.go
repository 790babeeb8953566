package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Queue    QueueConfig
	Server   ServerConfig
	Convert  ConvertConfig
	AI       AIConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// QueueConfig holds job-queue configuration
type QueueConfig struct {
	Path               string
	PollInterval       time.Duration
	CompletedRetention time.Duration
	FailedRetention    time.Duration
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr          string
	StreamTimeout time.Duration
}

// ConvertConfig holds document-conversion configuration
type ConvertConfig struct {
	MaxConcurrency int
	TaskTimeout    time.Duration
	PandocPath     string
	PDFToTextPath  string
	CacheDir       string
}

// AIConfig holds AI-provider configuration
type AIConfig struct {
	BaseURL        string
	Model          string
	EmbeddingModel string
	APIKey         string
	Temperature    float32
	Timeout        time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:             getEnv("DB_URL", ""),
			MaxConns:        getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:        getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:     getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
		},
		Queue: QueueConfig{
			Path:               getEnv("QUEUE_PATH", "./data/queue.db"),
			PollInterval:       getEnvAsDuration("QUEUE_POLL_INTERVAL", 500*time.Millisecond),
			CompletedRetention: getEnvAsDuration("QUEUE_COMPLETED_RETENTION", 24*time.Hour),
			FailedRetention:    getEnvAsDuration("QUEUE_FAILED_RETENTION", 7*24*time.Hour),
		},
		Server: ServerConfig{
			Addr:          getEnv("HTTP_ADDR", ":8080"),
			StreamTimeout: getEnvAsDuration("STREAM_IDLE_TIMEOUT", 2*time.Minute),
		},
		Convert: ConvertConfig{
			MaxConcurrency: getEnvAsInt("CONVERT_MAX_CONCURRENCY", 4),
			TaskTimeout:    getEnvAsDuration("CONVERT_TASK_TIMEOUT", 60*time.Second),
			PandocPath:     getEnv("PANDOC_PATH", "pandoc"),
			PDFToTextPath:  getEnv("PDFTOTEXT_PATH", "pdftotext"),
			CacheDir:       getEnv("CONVERT_CACHE_DIR", "./tmp"),
		},
		AI: AIConfig{
			BaseURL:        getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Model:          getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			EmbeddingModel: getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			APIKey:         getEnv("OPENAI_API_KEY", ""),
			Temperature:    getEnvAsFloat32("OPENAI_TEMPERATURE", 0.1),
			Timeout:        getEnvAsDuration("OPENAI_TIMEOUT", 45*time.Second),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Queue.Path == "" {
		return NewAppError("CONFIG_ERROR", "QUEUE_PATH is required", ErrInvalidInput)
	}
	if c.Server.Addr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	return nil
}
