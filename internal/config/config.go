package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

type Server struct {
	Port            string
	RoomStore       string
	DatabaseURL     string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	LogLevel        string
	LogDev          bool
	CORSOrigins     []string
	ShutdownTimeout time.Duration
}

func DefaultServer() Server {
	return Server{
		Port:            "8080",
		RoomStore:       StoreMemory,
		RedisAddr:       "localhost:6379",
		LogLevel:        "info",
		CORSOrigins:     []string{"*"},
		ShutdownTimeout: 10 * time.Second,
	}
}

func LoadServer() Server {
	cfg := DefaultServer()
	cfg.Port = getEnv("PORT", cfg.Port)
	switch store := strings.ToLower(getEnv("ROOM_STORE", cfg.RoomStore)); store {
	case StoreMemory, StorePostgres, StoreRedis:
		cfg.RoomStore = store
	}
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.RedisDB = getInt("REDIS_DB", cfg.RedisDB, nonNegative)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogDev = getBool("LOG_DEV", cfg.LogDev)
	if raw := getEnv("CORS_ORIGINS", ""); raw != "" {
		cfg.CORSOrigins = splitList(raw)
	}
	cfg.ShutdownTimeout = seconds(getInt("SHUTDOWN_SECONDS", int(cfg.ShutdownTimeout/time.Second), positive))
	return cfg
}

type Client struct {
	ServerURL    string
	DataDir      string
	PollInterval time.Duration
	Timeout      time.Duration
	TickInterval time.Duration
	LogLevel     string
}

func DefaultClient() Client {
	dir := ".play-tracker"
	if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, dir)
	}
	return Client{
		ServerURL:    "http://localhost:8080",
		DataDir:      dir,
		PollInterval: 5 * time.Second,
		Timeout:      10 * time.Second,
		TickInterval: 10 * time.Millisecond,
		LogLevel:     "warn",
	}
}

func LoadClient() Client {
	cfg := DefaultClient()
	cfg.ServerURL = getEnv("TRACKER_SERVER_URL", cfg.ServerURL)
	cfg.DataDir = getEnv("TRACKER_DATA_DIR", cfg.DataDir)
	cfg.PollInterval = seconds(getInt("TRACKER_POLL_SECONDS", int(cfg.PollInterval/time.Second), positive))
	cfg.Timeout = seconds(getInt("TRACKER_TIMEOUT_SECONDS", int(cfg.Timeout/time.Second), positive))
	cfg.TickInterval = time.Duration(getInt("TRACKER_TICK_MS", int(cfg.TickInterval/time.Millisecond), positive)) * time.Millisecond
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	return cfg
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
