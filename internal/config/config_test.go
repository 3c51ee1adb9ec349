package config

import (
	"testing"
	"time"
)

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JODI_AUTH_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without JODI_AUTH_SECRET")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JODI_AUTH_SECRET", "unit-test-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.HTTPAddr)
	}
	if cfg.AccessTTL != 60*time.Minute {
		t.Fatalf("unexpected access ttl %s", cfg.AccessTTL)
	}
	if cfg.RefreshTTL != 720*time.Hour {
		t.Fatalf("unexpected refresh ttl %s", cfg.RefreshTTL)
	}
	if cfg.RedisAddr != "" {
		t.Fatalf("redis should default off, got %q", cfg.RedisAddr)
	}
	if cfg.Issuer != "jodi-auth" {
		t.Fatalf("unexpected issuer %q", cfg.Issuer)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JODI_AUTH_SECRET", "unit-test-secret")
	t.Setenv("JODI_HTTP_PORT", "9090")
	t.Setenv("JODI_ACCESS_TTL", "15m")
	t.Setenv("JODI_REFRESH_TTL", "168h")
	t.Setenv("JODI_RATE_LIMIT_RPS", "2.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Fatalf("unexpected addr %q", cfg.HTTPAddr)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Fatalf("unexpected access ttl %s", cfg.AccessTTL)
	}
	if cfg.RateLimitRPS != 2.5 {
		t.Fatalf("unexpected rps %v", cfg.RateLimitRPS)
	}
}

func TestLoadRejectsInvertedTTLs(t *testing.T) {
	t.Setenv("JODI_AUTH_SECRET", "unit-test-secret")
	t.Setenv("JODI_ACCESS_TTL", "2h")
	t.Setenv("JODI_REFRESH_TTL", "1h")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when refresh ttl <= access ttl")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("JODI_AUTH_SECRET", "unit-test-secret")
	t.Setenv("JODI_ACCESS_TTL", "soon")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed duration")
	}
}
