package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	DatabaseURL      string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	RedisChannel     string
	JWTSecret        string
	StorageBaseURL   string
	Provider         string
	DashScopeAPIKey  string
	DashScopeBaseURL string
	DashScopeVideo   string
	DashScopeImage   string
	DashScopeAudio   string
	SyntheticSteps   int
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	ResumeStaleAfter time.Duration
	ResumeInterval   time.Duration
	ResumeBatchSize  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		RedisChannel:     getEnv("REDIS_CHANNEL", "asyncgen:progress"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		Provider:         strings.ToLower(getEnv("PROVIDER", "synthetic")),
		DashScopeAPIKey:  os.Getenv("DASHSCOPE_API_KEY"),
		DashScopeBaseURL: getEnv("DASHSCOPE_BASE_URL", "https://dashscope-intl.aliyuncs.com/api/v1"),
		DashScopeVideo:   getEnv("DASHSCOPE_VIDEO_MODEL", "wan2.1-t2v-turbo"),
		DashScopeImage:   getEnv("DASHSCOPE_IMAGE_MODEL", "wanx2.1-t2i-turbo"),
		DashScopeAudio:   os.Getenv("DASHSCOPE_AUDIO_MODEL"),
		SyntheticSteps:   getEnvInt("SYNTHETIC_STEPS", 4),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 0)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		ResumeStaleAfter: time.Second * time.Duration(getEnvInt("RESUME_STALE_AFTER_SECONDS", 120)),
		ResumeInterval:   time.Second * time.Duration(getEnvInt("RESUME_SCAN_INTERVAL_SECONDS", 30)),
		ResumeBatchSize:  getEnvInt("RESUME_BATCH_SIZE", 20),
	}
	cfg.StorageBaseURL = getEnv("STORAGE_BASE_URL", "http://localhost:"+cfg.Port+"/static")

	switch cfg.Provider {
	case "synthetic":
	case "dashscope":
		if cfg.DashScopeAPIKey == "" && cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DASHSCOPE_API_KEY or DATABASE_URL is required for the dashscope provider")
		}
	default:
		return nil, fmt.Errorf("unsupported PROVIDER %q", cfg.Provider)
	}

	if cfg.ResumeBatchSize <= 0 {
		cfg.ResumeBatchSize = 20
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
