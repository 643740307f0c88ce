package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendFile     = "file"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
)

type Config struct {
	AppEnv         string
	Port           string
	AllowedOrigins string
	LogLevel       string

	DatabaseURL string
	RedisURL    string

	JWTSecret string
	JWTTTL    time.Duration

	StorageBackend string
	SnapshotPath   string
	BadgerPath     string
	BackupDir      string
	BackupSchedule string

	MeiliSearchHost string
	MeiliMasterKey  string

	WSPingInterval time.Duration
	WSBuffer       int

	RateLimitPost time.Duration
}

func Load() (*Config, error) {
	// Don't fail if .env doesn't exist (might be prod env vars)
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:         getEnv("APP_ENV", "development"),
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: getEnv("ALLOWED_ORIGINS", "http://localhost:3000"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),

		JWTSecret: os.Getenv("JWT_SECRET"),

		StorageBackend: getEnv("STORAGE_BACKEND", BackendFile),
		SnapshotPath:   getEnv("SNAPSHOT_PATH", "data/forums.json"),
		BadgerPath:     getEnv("BADGER_PATH", "data/badger"),
		BackupDir:      os.Getenv("BACKUP_DIR"),
		BackupSchedule: getEnv("BACKUP_SCHEDULE", "@every 1h"),

		MeiliSearchHost: os.Getenv("MEILISEARCH_HOST"),
		MeiliMasterKey:  os.Getenv("MEILI_MASTER_KEY"),
	}

	var err error
	cfg.JWTTTL, err = time.ParseDuration(getEnv("JWT_TTL", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_TTL: %w", err)
	}
	cfg.WSPingInterval, err = time.ParseDuration(getEnv("WS_PING_INTERVAL", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_PING_INTERVAL: %w", err)
	}
	cfg.RateLimitPost, err = time.ParseDuration(getEnv("RATE_LIMIT_POST", "15s"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_POST: %w", err)
	}
	cfg.WSBuffer, err = strconv.Atoi(getEnv("WS_BUFFER", "64"))
	if err != nil || cfg.WSBuffer <= 0 {
		return nil, fmt.Errorf("invalid WS_BUFFER: %q", os.Getenv("WS_BUFFER"))
	}

	switch cfg.StorageBackend {
	case BackendFile, BackendBadger, BackendPostgres:
	default:
		return nil, fmt.Errorf("invalid STORAGE_BACKEND: %q", cfg.StorageBackend)
	}

	if cfg.JWTSecret == "" {
		if cfg.AppEnv == "production" {
			return nil, fmt.Errorf("JWT_SECRET is required in production")
		}
		cfg.JWTSecret = "12345"
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
