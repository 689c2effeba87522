package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config centralizes runtime settings for the API and workers.
type Config struct {
	Port      string
	AuthToken string
	LogLevel  string

	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	DatabaseURL      string
	DatabaseMaxConns int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string

	// Provider selects the completion adapter: "openai" or "openrouter".
	Provider string

	// AIRPS paces completion calls for whichever adapter Provider selects.
	// Zero disables pacing.
	AIRPS float64

	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAITimeoutMS  int
	OpenAIMaxRetries int

	OpenRouterAPIKey     string
	OpenRouterBaseURL    string
	OpenRouterTimeoutMS  int
	OpenRouterMaxRetries int
	OpenRouterSiteURL    string
	OpenRouterAppName    string

	ModelExtractPrimary  string
	ModelExtractFallback string
	ModelWritePrimary    string
	ModelWriteFallback   string
	ModelRepairPrimary   string
	ModelRepairFallback  string
	ModelTranscribe      string

	RepairMaxAttempts      int
	SchemaAllowUnknownKeys bool
	MaxTranscriptBytes     int

	WorkerCount       int
	WorkerEnabled     bool
	PollIntervalMS    int
	ErrorBackoffMS    int
	StaleAfterSeconds int
	ReapIntervalMS    int
	SignedURLTTLSecs  int
	TempDir           string

	StorageDir    string
	StorageSecret string
	PublicBaseURL string
}

func Load() Config {
	port := getEnv("PORT", "8080")
	return Config{
		Port:      port,
		AuthToken: getEnv("API_AUTH_TOKEN", ""),
		LogLevel:  getEnv("LOG_LEVEL", "info"),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", nil),
		RateLimitRPS:       getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 40),

		DatabaseURL:      getEnv("DATABASE_URL", ""),
		DatabaseMaxConns: getEnvInt("DATABASE_MAX_CONNS", 10),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisChannel:  getEnv("REDIS_CHANNEL", "meetiq:jobs"),

		Provider: strings.ToLower(getEnv("AI_PROVIDER", "openai")),
		AIRPS:    getEnvFloat("AI_RPS", 0),

		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAITimeoutMS:  getEnvInt("OPENAI_TIMEOUT_MS", 60000),
		OpenAIMaxRetries: getEnvInt("OPENAI_MAX_RETRIES", 0),

		OpenRouterAPIKey:     getEnv("OPENROUTER_API_KEY", ""),
		OpenRouterBaseURL:    getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterTimeoutMS:  getEnvInt("OPENROUTER_TIMEOUT_MS", 60000),
		OpenRouterMaxRetries: getEnvInt("OPENROUTER_MAX_RETRIES", 0),
		OpenRouterSiteURL:    getEnv("OPENROUTER_SITE_URL", ""),
		OpenRouterAppName:    getEnv("OPENROUTER_APP_NAME", "MeetIQ"),

		ModelExtractPrimary:  getEnv("MODEL_EXTRACT_PRIMARY", "gpt-4.1"),
		ModelExtractFallback: getEnv("MODEL_EXTRACT_FALLBACK", ""),
		ModelWritePrimary:    getEnv("MODEL_WRITE_PRIMARY", "gpt-4.1-mini"),
		ModelWriteFallback:   getEnv("MODEL_WRITE_FALLBACK", ""),
		ModelRepairPrimary:   getEnv("MODEL_REPAIR_PRIMARY", "gpt-4.1-mini"),
		ModelRepairFallback:  getEnv("MODEL_REPAIR_FALLBACK", ""),
		ModelTranscribe:      getEnv("MODEL_TRANSCRIBE", "gpt-4o-mini-transcribe"),

		RepairMaxAttempts:      getEnvInt("REPAIR_MAX_ATTEMPTS", 1),
		SchemaAllowUnknownKeys: getEnvBool("SCHEMA_ALLOW_UNKNOWN_KEYS", false),
		MaxTranscriptBytes:     getEnvInt("MAX_TRANSCRIPT_BYTES", 512<<10),

		WorkerCount:       getEnvInt("WORKER_COUNT", 1),
		WorkerEnabled:     getEnvBool("WORKER_ENABLED", true),
		PollIntervalMS:    getEnvInt("WORKER_POLL_INTERVAL_MS", 1500),
		ErrorBackoffMS:    getEnvInt("WORKER_ERROR_BACKOFF_MS", 2000),
		StaleAfterSeconds: getEnvInt("WORKER_STALE_AFTER_SECONDS", 900),
		ReapIntervalMS:    getEnvInt("WORKER_REAP_INTERVAL_MS", 60000),
		SignedURLTTLSecs:  getEnvInt("SIGNED_URL_TTL_SECONDS", 600),
		TempDir:           getEnv("TEMP_DIR", ""),

		StorageDir:    getEnv("STORAGE_DIR", "data/objects"),
		StorageSecret: getEnv("STORAGE_SECRET", ""),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:"+port),
	}
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c Config) ErrorBackoff() time.Duration {
	return time.Duration(c.ErrorBackoffMS) * time.Millisecond
}

func (c Config) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterSeconds) * time.Second
}

func (c Config) ReapInterval() time.Duration {
	return time.Duration(c.ReapIntervalMS) * time.Millisecond
}

func (c Config) SignedURLTTL() time.Duration {
	return time.Duration(c.SignedURLTTLSecs) * time.Second
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvList splits a comma-separated value, dropping blank entries.
func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	items := make([]string, 0)
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
