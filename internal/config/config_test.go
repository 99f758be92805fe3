package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServer_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "ROOM_STORE", "DATABASE_URL", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "LOG_LEVEL", "LOG_DEV", "CORS_ORIGINS", "SHUTDOWN_SECONDS"} {
		t.Setenv(key, "")
	}
	assert.Equal(t, DefaultServer(), LoadServer())
}

func TestLoadServer_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ROOM_STORE", "Redis")
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("LOG_DEV", "true")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("SHUTDOWN_SECONDS", "3")

	cfg := LoadServer()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, StoreRedis, cfg.RoomStore)
	assert.Equal(t, "cache:6379", cfg.RedisAddr)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.True(t, cfg.LogDev)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
}

func TestLoadServer_IgnoresInvalidValues(t *testing.T) {
	t.Setenv("ROOM_STORE", "mongo")
	t.Setenv("REDIS_DB", "-1")
	t.Setenv("LOG_DEV", "sometimes")
	t.Setenv("SHUTDOWN_SECONDS", "zero")

	cfg := LoadServer()
	def := DefaultServer()
	assert.Equal(t, def.RoomStore, cfg.RoomStore)
	assert.Equal(t, def.RedisDB, cfg.RedisDB)
	assert.Equal(t, def.LogDev, cfg.LogDev)
	assert.Equal(t, def.ShutdownTimeout, cfg.ShutdownTimeout)
}

func TestLoadClient(t *testing.T) {
	t.Setenv("TRACKER_SERVER_URL", "http://tracker.local:8080")
	t.Setenv("TRACKER_DATA_DIR", "/tmp/tracker")
	t.Setenv("TRACKER_POLL_SECONDS", "2")
	t.Setenv("TRACKER_TIMEOUT_SECONDS", "0")
	t.Setenv("TRACKER_TICK_MS", "50")

	cfg := LoadClient()
	assert.Equal(t, "http://tracker.local:8080", cfg.ServerURL)
	assert.Equal(t, "/tmp/tracker", cfg.DataDir)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.Timeout, "non-positive timeout keeps the default")
	assert.Equal(t, 50*time.Millisecond, cfg.TickInterval)
}

func TestLoadDotEnv(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("TRACKER_TEST_FROM_DOTENV=yes\nPORT=1\n"), 0o600))
	t.Setenv("PORT", "8081")
	t.Setenv("TRACKER_TEST_FROM_DOTENV", "")
	require.NoError(t, os.Unsetenv("TRACKER_TEST_FROM_DOTENV"))

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "yes", os.Getenv("TRACKER_TEST_FROM_DOTENV"))
	assert.Equal(t, "8081", os.Getenv("PORT"), "existing variables win")
}
