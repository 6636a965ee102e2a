package config

import (
	"testing"
	"time"
)

func TestEnvIntValidAndFallback(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	if v := envInt("TEST_INT", 0); v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
	if v := envInt("TEST_INT_MISSING", 99); v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
	t.Setenv("TEST_INT_BAD", "abc")
	if v := envInt("TEST_INT_BAD", 7); v != 7 {
		t.Fatalf("unparseable value should fall back, got %d", v)
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("TEST_DUR", "90s")
	if v := envDuration("TEST_DUR", time.Second); v != 90*time.Second {
		t.Fatalf("expected 90s, got %s", v)
	}
	t.Setenv("TEST_DUR_BAD", "ninety")
	if v := envDuration("TEST_DUR_BAD", 5*time.Minute); v != 5*time.Minute {
		t.Fatalf("unparseable value should fall back, got %s", v)
	}
}

func TestEnvList(t *testing.T) {
	t.Setenv("TEST_LIST", "https://a.example.com, https://b.example.com ,")
	got := envList("TEST_LIST", []string{"*"})
	if len(got) != 2 || got[0] != "https://a.example.com" || got[1] != "https://b.example.com" {
		t.Fatalf("unexpected list: %v", got)
	}
	if got := envList("TEST_LIST_MISSING", []string{"*"}); len(got) != 1 || got[0] != "*" {
		t.Fatalf("expected wildcard fallback, got %v", got)
	}
}

func setRequired(t *testing.T) {
	t.Setenv("GREENGATE_JWT_SECRET", "test-secret")
	t.Setenv("GREENGATE_ADMIN_PASSWORD_HASH", "$2a$10$fake")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.AuthenticatedPerMinute != 100 || cfg.AnonymousPerMinute != 20 {
		t.Fatalf("unexpected rate limit defaults: %d/%d",
			cfg.AuthenticatedPerMinute, cfg.AnonymousPerMinute)
	}
	if cfg.ValidationExpiry != 30*24*time.Hour {
		t.Fatalf("unexpected validation expiry: %s", cfg.ValidationExpiry)
	}
	if cfg.RegistryCacheTTL != 300*time.Second {
		t.Fatalf("unexpected registry cache TTL: %s", cfg.RegistryCacheTTL)
	}
}

func TestLoadFailsWithoutSecrets(t *testing.T) {
	t.Setenv("GREENGATE_JWT_SECRET", "")
	t.Setenv("GREENGATE_ADMIN_PASSWORD_HASH", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected Load() to fail without GREENGATE_JWT_SECRET")
	}
}

func TestValidateRejectsBadLimits(t *testing.T) {
	setRequired(t)
	t.Setenv("GREENGATE_RATE_LIMIT_AUTH", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected Load() to reject a zero rate limit")
	}
}
