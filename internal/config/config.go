package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

type Config struct {
	Addr        string
	DatabaseURL string
	// Supabase REST access, used when DatabaseURL is empty.
	SupabaseURL            string
	SupabaseServiceRoleKey string
	JWTSecret              string
	PublicSiteURL          string
	AllowedOrigins         string
	LockBackend            string
	RedisURL               string
	LockKeyPrefix          string
	LogLevel               string

	// Pool limits for DatabaseURL connections.
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration
}

// NewViper returns a viper instance with defaults registered and environment
// lookup enabled. Keys are the environment variable names.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("API_ADDR", ":8788")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("SUPABASE_URL", "")
	v.SetDefault("SUPABASE_SERVICE_ROLE_KEY", "")
	v.SetDefault("SUPABASE_JWT_SECRET", "")
	v.SetDefault("PUBLIC_SITE_URL", "")
	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOCK_BACKEND", LockBackendMemory)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("LOCK_KEY_PREFIX", "objective-lock:")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("DB_MAX_IDLE_CONNS", 10)
	v.SetDefault("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	v.SetDefault("DB_CONN_MAX_IDLE_TIME", 5*time.Minute)
	v.AutomaticEnv()
	return v
}

func Load() (Config, error) {
	return FromViper(NewViper())
}

func FromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Addr:                   strings.TrimSpace(v.GetString("API_ADDR")),
		DatabaseURL:            strings.TrimSpace(v.GetString("DATABASE_URL")),
		SupabaseURL:            strings.TrimSpace(v.GetString("SUPABASE_URL")),
		SupabaseServiceRoleKey: strings.TrimSpace(v.GetString("SUPABASE_SERVICE_ROLE_KEY")),
		JWTSecret:              v.GetString("SUPABASE_JWT_SECRET"),
		PublicSiteURL:          strings.TrimSpace(v.GetString("PUBLIC_SITE_URL")),
		AllowedOrigins:         v.GetString("ALLOWED_ORIGINS"),
		LockBackend:            strings.ToLower(strings.TrimSpace(v.GetString("LOCK_BACKEND"))),
		RedisURL:               strings.TrimSpace(v.GetString("REDIS_URL")),
		LockKeyPrefix:          v.GetString("LOCK_KEY_PREFIX"),
		LogLevel:               strings.TrimSpace(v.GetString("LOG_LEVEL")),
		DBMaxOpenConns:         v.GetInt("DB_MAX_OPEN_CONNS"),
		DBMaxIdleConns:         v.GetInt("DB_MAX_IDLE_CONNS"),
		DBConnMaxLifetime:      v.GetDuration("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTime:      v.GetDuration("DB_CONN_MAX_IDLE_TIME"),
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.LockBackend {
	case LockBackendMemory:
	case LockBackendRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required when LOCK_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unknown LOCK_BACKEND %q (want memory or redis)", c.LockBackend)
	}
	if c.Addr == "" {
		return errors.New("API_ADDR must not be empty")
	}
	if c.DBMaxOpenConns < 1 {
		return fmt.Errorf("DB_MAX_OPEN_CONNS must be at least 1, got %d", c.DBMaxOpenConns)
	}
	if c.DBMaxIdleConns < 1 || c.DBMaxIdleConns > c.DBMaxOpenConns {
		return fmt.Errorf("DB_MAX_IDLE_CONNS must be between 1 and DB_MAX_OPEN_CONNS, got %d", c.DBMaxIdleConns)
	}
	if c.DBConnMaxLifetime < 0 || c.DBConnMaxIdleTime < 0 {
		return errors.New("DB_CONN_MAX_LIFETIME and DB_CONN_MAX_IDLE_TIME must not be negative")
	}
	return nil
}

// RequireDirectory reports whether a data source is configured: either a
// Postgres URL or the Supabase URL together with its service role key.
func (c Config) RequireDirectory() error {
	if c.DatabaseURL != "" {
		return nil
	}
	if c.SupabaseURL == "" || c.SupabaseServiceRoleKey == "" {
		return errors.New("either DATABASE_URL or SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY must be set")
	}
	return nil
}
