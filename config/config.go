package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the contribution service
type Config struct {
	// Server configuration
	Port               string
	CORSAllowedOrigins []string

	// Logging
	LogLevel  string
	LogFormat string

	// Database configuration
	DBHost            string
	DBPort            string
	DBUser            string
	DBPassword        string
	DBName            string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBPingMaxWait     time.Duration

	// Uploads
	UploadsDir         string
	UploadsURLPrefix   string
	MaxUploadFiles     int
	MaxUploadFileBytes int64

	// Media processing
	MediaMaxWidth    int
	MediaMaxHeight   int
	MediaJPEGQuality int
	MediaMaxPixels   int
	MediaWorkers     int

	// Caption inference service
	CaptionEndpoint       string
	CaptionAPIToken       string
	CaptionMaxAttempts    int
	CaptionBaseDelay      time.Duration
	CaptionMaxDelay       time.Duration
	CaptionRequestTimeout time.Duration

	// Ledger service
	LedgerBaseURL string
	LedgerTimeout time.Duration
	LedgerReward  float64

	// Verification and submission
	VerificationThresholdKm float64
	SubmissionTimeout       time.Duration

	// Authentication
	JWTSecret string
	RedisURL  string

	// RabbitMQ
	AMQPURL                    string
	AMQPExchange               string
	AMQPCreatedRoutingKey      string
	AMQPLedgerFailedRoutingKey string
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "5000"),
		CORSAllowedOrigins: getListEnv("CORS_ALLOWED_ORIGINS", []string{"http://trusted.com", "http://localhost:3000"}),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnv("DB_PORT", "3306"),
		DBUser:            getEnv("DB_USER", "server"),
		DBPassword:        getEnv("DB_PASSWORD", ""),
		DBName:            getEnv("DB_NAME", "contributions"),
		DBMaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 10),
		DBConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		DBPingMaxWait:     getDurationEnv("DB_PING_MAX_WAIT", 60*time.Second),

		UploadsDir:         getEnv("UPLOADS_DIR", "uploads"),
		UploadsURLPrefix:   getEnv("UPLOADS_URL_PREFIX", "/uploads"),
		MaxUploadFiles:     getIntEnv("MAX_UPLOAD_FILES", 5),
		MaxUploadFileBytes: getInt64Env("MAX_UPLOAD_FILE_BYTES", 10<<20),

		MediaMaxWidth:    getIntEnv("MEDIA_MAX_WIDTH", 1200),
		MediaMaxHeight:   getIntEnv("MEDIA_MAX_HEIGHT", 630),
		MediaJPEGQuality: getIntEnv("MEDIA_JPEG_QUALITY", 85),
		MediaMaxPixels:   getIntEnv("MEDIA_MAX_PIXELS", 50_000_000),
		MediaWorkers:     getIntEnv("MEDIA_WORKERS", 5),

		CaptionEndpoint:       getEnv("CAPTION_ENDPOINT", "https://api-inference.huggingface.co/models/Salesforce/blip-image-captioning-large"),
		CaptionAPIToken:       getEnv("CAPTION_API_TOKEN", ""),
		CaptionMaxAttempts:    getIntEnv("CAPTION_MAX_ATTEMPTS", 5),
		CaptionBaseDelay:      getDurationEnv("CAPTION_BASE_DELAY", 2*time.Second),
		CaptionMaxDelay:       getDurationEnv("CAPTION_MAX_DELAY", 16*time.Second),
		CaptionRequestTimeout: getDurationEnv("CAPTION_REQUEST_TIMEOUT", 60*time.Second),

		LedgerBaseURL: getEnv("LEDGER_BASE_URL", "http://localhost:8888/api/blockchain"),
		LedgerTimeout: getDurationEnv("LEDGER_TIMEOUT", 30*time.Second),
		LedgerReward:  getFloatEnv("LEDGER_REWARD", 50),

		VerificationThresholdKm: getFloatEnv("VERIFICATION_THRESHOLD_KM", 0.1),
		SubmissionTimeout:       getDurationEnv("SUBMISSION_TIMEOUT", 2*time.Minute),

		JWTSecret: getEnv("JWT_SECRET", ""),
		RedisURL:  getEnv("REDIS_URL", ""),

		AMQPURL:                    getEnv("AMQP_URL", ""),
		AMQPExchange:               getEnv("AMQP_EXCHANGE", "contributions"),
		AMQPCreatedRoutingKey:      getEnv("AMQP_CREATED_ROUTING_KEY", "contribution.created"),
		AMQPLedgerFailedRoutingKey: getEnv("AMQP_LEDGER_FAILED_ROUTING_KEY", "contribution.ledger_failed"),
	}
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getListEnv splits a comma separated environment variable
func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var list []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}

// getDurationEnv gets a duration environment variable or returns a default value
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getIntEnv gets an integer environment variable or returns a default value
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getFloatEnv gets a float environment variable or returns a default value
func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
