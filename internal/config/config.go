package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	BackupPath            string
	AuthSecret            string
	AccessTokenTTLMinutes int
	SaveDebounce          time.Duration
	SessionIdle           time.Duration
	LogLevel              string
	SyncDisabled          bool
}

// Load reads the environment, after merging a .env file when one exists.
// Variables already set in the environment win over .env.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	debounceMS, err := strconv.Atoi(getEnv("SAVE_DEBOUNCE_MS", "1000"))
	if err != nil || debounceMS < 1 {
		debounceMS = 1000
	}
	idleMinutes, err := strconv.Atoi(getEnv("SESSION_IDLE_MINUTES", "30"))
	if err != nil || idleMinutes < 1 {
		idleMinutes = 30
	}
	syncDisabled, _ := strconv.ParseBool(getEnv("SYNC_DISABLED", "false"))

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		BackupPath:            strings.TrimSpace(os.Getenv("BACKUP_PATH")),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		SaveDebounce:          time.Duration(debounceMS) * time.Millisecond,
		SessionIdle:           time.Duration(idleMinutes) * time.Minute,
		LogLevel:              strings.ToLower(getEnv("LOG_LEVEL", "info")),
		SyncDisabled:          syncDisabled,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
