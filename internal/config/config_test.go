package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"API_ADDR", "DATABASE_URL", "LOCK_BACKEND", "REDIS_URL", "LOCK_KEY_PREFIX", "LOG_LEVEL",
		"DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS", "DB_CONN_MAX_LIFETIME", "DB_CONN_MAX_IDLE_TIME"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8788", cfg.Addr)
	assert.Equal(t, LockBackendMemory, cfg.LockBackend)
	assert.Equal(t, "objective-lock:", cfg.LockKeyPrefix)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 20, cfg.DBMaxOpenConns)
	assert.Equal(t, 10, cfg.DBMaxIdleConns)
	assert.Equal(t, 30*time.Minute, cfg.DBConnMaxLifetime)
	assert.Equal(t, 5*time.Minute, cfg.DBConnMaxIdleTime)
}

func TestLoadPoolLimits(t *testing.T) {
	t.Setenv("DB_MAX_OPEN_CONNS", "8")
	t.Setenv("DB_MAX_IDLE_CONNS", "2")
	t.Setenv("DB_CONN_MAX_LIFETIME", "10m")
	t.Setenv("DB_CONN_MAX_IDLE_TIME", "90s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.DBMaxOpenConns)
	assert.Equal(t, 2, cfg.DBMaxIdleConns)
	assert.Equal(t, 10*time.Minute, cfg.DBConnMaxLifetime)
	assert.Equal(t, 90*time.Second, cfg.DBConnMaxIdleTime)

	t.Setenv("DB_MAX_IDLE_CONNS", "9")
	_, err = Load()
	require.ErrorContains(t, err, "DB_MAX_IDLE_CONNS")

	t.Setenv("DB_MAX_IDLE_CONNS", "2")
	t.Setenv("DB_MAX_OPEN_CONNS", "0")
	_, err = Load()
	require.ErrorContains(t, err, "DB_MAX_OPEN_CONNS")
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("API_ADDR", ":9000")
	t.Setenv("SUPABASE_JWT_SECRET", "s3cret")
	t.Setenv("PUBLIC_SITE_URL", "https://app.example.com")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("LOCK_BACKEND", " Redis ")
	t.Setenv("REDIS_URL", "redis://localhost:6379/2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, "https://app.example.com", cfg.PublicSiteURL)
	assert.Equal(t, "https://a.example.com, https://b.example.com", cfg.AllowedOrigins)
	assert.Equal(t, LockBackendRedis, cfg.LockBackend)
	assert.Equal(t, "redis://localhost:6379/2", cfg.RedisURL)
}

func TestLoadRejectsBadLockBackend(t *testing.T) {
	t.Setenv("LOCK_BACKEND", "etcd")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("LOCK_BACKEND", "redis")
	t.Setenv("REDIS_URL", "")
	_, err = Load()
	require.ErrorContains(t, err, "REDIS_URL")
}

func TestViperOverridesWinOverEnvironment(t *testing.T) {
	t.Setenv("API_ADDR", ":9000")
	v := NewViper()
	v.Set("API_ADDR", ":7000")

	cfg, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Addr)
}

func TestRequireDirectory(t *testing.T) {
	assert.NoError(t, Config{DatabaseURL: "postgres://localhost/db"}.RequireDirectory())
	assert.NoError(t, Config{SupabaseURL: "https://x.supabase.co", SupabaseServiceRoleKey: "key"}.RequireDirectory())
	assert.Error(t, Config{SupabaseURL: "https://x.supabase.co"}.RequireDirectory())
	assert.Error(t, Config{}.RequireDirectory())
}
