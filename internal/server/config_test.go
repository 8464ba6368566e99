package server

import (
	"reflect"
	"testing"
	"time"
)

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("SERVER_PORT", ":9090")
	t.Setenv("ALLOWED_ORIGINS", "https://chat.example.com, http://localhost:3000")
	t.Setenv("MAX_MESSAGE_SIZE", "2048")
	t.Setenv("RATE_LIMIT_BURST", "10")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "3")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_PASSWORD", "hunter2")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("SESSION_GRACE_PERIOD", "5m")
	t.Setenv("SHUTDOWN_TIMEOUT", "30")

	cfg := NewConfigFromEnv()

	want := Config{
		Env:             "prod",
		Port:            ":9090",
		AllowedOrigins:  []string{"https://chat.example.com", "http://localhost:3000"},
		MaxMessageSize:  2048,
		RateLimit:       RateLimitConfig{Burst: 10, RefillInterval: 3 * time.Second},
		Redis:           RedisConfig{Addr: "redis:6379", Password: "hunter2", DB: 2},
		JWTSecret:       "s3cret",
		SessionGrace:    5 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
	}
	if !reflect.DeepEqual(*cfg, want) {
		t.Errorf("NewConfigFromEnv() = %+v\nwant %+v", *cfg, want)
	}
}

func TestNewConfigFromEnvInvalidValuesKeepDefaults(t *testing.T) {
	t.Setenv("MAX_MESSAGE_SIZE", "-1")
	t.Setenv("RATE_LIMIT_BURST", "lots")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "0")
	t.Setenv("SESSION_GRACE_PERIOD", "soon")
	t.Setenv("SHUTDOWN_TIMEOUT", "-5s")
	t.Setenv("REDIS_ADDR", "")

	cfg := NewConfigFromEnv()
	def := defaultConfig()

	if cfg.MaxMessageSize != def.MaxMessageSize {
		t.Errorf("MaxMessageSize = %d", cfg.MaxMessageSize)
	}
	if cfg.RateLimit != def.RateLimit {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
	if cfg.SessionGrace != 0 {
		t.Errorf("SessionGrace = %s, want disabled", cfg.SessionGrace)
	}
	if cfg.ShutdownTimeout != def.ShutdownTimeout {
		t.Errorf("ShutdownTimeout = %s", cfg.ShutdownTimeout)
	}
	if cfg.Redis.Addr != "" {
		t.Errorf("Redis.Addr = %q, want memory backend", cfg.Redis.Addr)
	}
}

func TestSanitizeConfig(t *testing.T) {
	cfg := sanitizeConfig(Config{
		MaxMessageSize: -10,
		Redis:          RedisConfig{DB: -1},
		SessionGrace:   -time.Second,
	})

	if cfg.Env != "dev" || cfg.Port != ":8080" {
		t.Errorf("env=%q port=%q", cfg.Env, cfg.Port)
	}
	if cfg.MaxMessageSize != 512 {
		t.Errorf("MaxMessageSize = %d", cfg.MaxMessageSize)
	}
	if cfg.RateLimit.Burst != 5 || cfg.RateLimit.RefillInterval != time.Second {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
	if cfg.Redis.DB != 0 || cfg.SessionGrace != 0 {
		t.Errorf("db=%d grace=%s", cfg.Redis.DB, cfg.SessionGrace)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %s", cfg.ShutdownTimeout)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"90s", 90 * time.Second},
		{"2m", 2 * time.Minute},
		{"45", 45 * time.Second},
		{"0", 0},
		{"0s", 0},
		{"later", time.Hour},
		{"-1", time.Hour},
	}
	for _, tt := range tests {
		if got := parseDuration(tt.in, time.Hour); got != tt.want {
			t.Errorf("parseDuration(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
