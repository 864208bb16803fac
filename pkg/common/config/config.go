package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Worker HTTP surface
	ServerPort string
	ServerHost string

	// Upstream metadata API (aoe2.net)
	APIBaseURL  string
	APILanguage string
	// Optional local seed for the strings lookup tables
	StringsFile string

	// Replay host
	ReplayBaseURL string

	// Backend
	BackendBaseURL string

	// Recording decoder service
	DecoderBaseURL string

	// Kafka
	KafkaBrokers []string
	KafkaGroupID string

	// Redis (recording blob store)
	RedisHost       string
	RedisPort       string
	RedisPassword   string
	RedisDB         int
	RecordingPrefix string

	// Postgres (task journal)
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
	JournalEnabled   bool

	// Pipeline behavior
	RequestTimeout     time.Duration
	StrictDownloadGate bool
}

func Load() *Config {
	return &Config{
		ServerPort: getEnv("SERVER_PORT", "8080"),
		ServerHost: getEnv("SERVER_HOST", "0.0.0.0"),

		APIBaseURL:  getEnv("API_BASE_URL", "https://aoe2.net"),
		APILanguage: getEnv("API_LANGUAGE", "en"),
		StringsFile: getEnv("STRINGS_FILE", ""),

		ReplayBaseURL: getEnv("REPLAY_BASE_URL", "https://aoe.ms"),

		BackendBaseURL: getEnv("BACKEND_BASE_URL", "https://aoe2.up.railway.app"),

		DecoderBaseURL: getEnv("DECODER_BASE_URL", "http://localhost:8090"),

		KafkaBrokers: getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "aoe2-pipeline"),

		RedisHost:       getEnv("REDIS_HOST", "localhost"),
		RedisPort:       getEnv("REDIS_PORT", "6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisDB:         getIntEnv("REDIS_DB", 0),
		RecordingPrefix: getEnv("RECORDING_PREFIX", "recording:"),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "aoe2"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "aoe2"),
		PostgresDB:       getEnv("POSTGRES_DB", "aoe2"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		JournalEnabled:   getBoolEnv("JOURNAL_ENABLED", false),

		RequestTimeout:     getDuration("REQUEST_TIMEOUT", 10*time.Second),
		StrictDownloadGate: getBoolEnv("STRICT_DOWNLOAD_GATE", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
