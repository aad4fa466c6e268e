package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("CACHE_BACKEND", "")
	t.Setenv("ADAPTER_CALL_TIMEOUT", "")
	t.Setenv("SHADOW_SYNC_ENABLED", "")
	t.Setenv("SHADOW_SYNC_INTERVAL", "")
	t.Setenv("ENTITY_SYNC_PER_MINUTE", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.CacheBackend != "redis" {
		t.Fatalf("expected redis cache backend by default, got %s", cfg.CacheBackend)
	}
	if cfg.AdapterCallTimeout != 20*time.Second {
		t.Fatalf("expected default adapter timeout, got %s", cfg.AdapterCallTimeout)
	}
	if cfg.ShadowSyncEnabled {
		t.Fatalf("expected shadow sync disabled by default")
	}
	if cfg.ShadowSyncInterval != 30*time.Minute {
		t.Fatalf("expected default shadow sync interval, got %s", cfg.ShadowSyncInterval)
	}
	if cfg.EntitySyncPerMinute != 2 {
		t.Fatalf("expected default entity sync rate, got %d", cfg.EntitySyncPerMinute)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("CACHE_BACKEND", " DynamoDB ")
	t.Setenv("CACHE_TABLE", "sched-cache")
	t.Setenv("SEARCH_SPLIT_DAYS", "14")
	t.Setenv("PATIENT_CACHE_TTL", "5m")
	t.Setenv("NEXTECH_CLIENT_ID", "client-123")
	t.Setenv("SHADOW_SYNC_ENABLED", "true")
	t.Setenv("SHADOW_SYNC_WINDOW_DAYS", "21")
	t.Setenv("OPERATOR_JWT_SECRET", "s3cret")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Fatalf("expected env override, got %s", cfg.Env)
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("expected db override, got %s", cfg.DatabaseURL)
	}
	if cfg.CacheBackend != "dynamodb" || cfg.CacheTable != "sched-cache" {
		t.Fatalf("expected cache overrides, got %s/%s", cfg.CacheBackend, cfg.CacheTable)
	}
	if cfg.SearchSplitDays != 14 {
		t.Fatalf("expected split days override, got %d", cfg.SearchSplitDays)
	}
	if cfg.PatientCacheTTL != 5*time.Minute {
		t.Fatalf("expected patient ttl override, got %s", cfg.PatientCacheTTL)
	}
	if cfg.NextechClientID != "client-123" {
		t.Fatalf("expected nextech client override, got %s", cfg.NextechClientID)
	}
	if !cfg.ShadowSyncEnabled || cfg.ShadowSyncWindowDays != 21 {
		t.Fatalf("expected shadow sync overrides, got %v/%d", cfg.ShadowSyncEnabled, cfg.ShadowSyncWindowDays)
	}
	if cfg.OperatorJWTSecret != "s3cret" {
		t.Fatalf("expected operator secret override")
	}
}

func TestInvalidValuesFallBackToDefaults(t *testing.T) {
	t.Setenv("SEARCH_SPLIT_DAYS", "many")
	t.Setenv("REDIS_TLS", "maybe")
	t.Setenv("PATIENT_SCHEDULES_CACHE_TTL", "soon")
	cfg := Load()
	if cfg.SearchSplitDays != 30 {
		t.Fatalf("expected default split days, got %d", cfg.SearchSplitDays)
	}
	if cfg.RedisTLS {
		t.Fatalf("expected redis tls default false")
	}
	if cfg.PatientSchedulesCacheTTL != 10*time.Minute {
		t.Fatalf("expected default schedules ttl, got %s", cfg.PatientSchedulesCacheTTL)
	}
}
