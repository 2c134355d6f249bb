package config

import (
	"strings"
	"testing"
	"time"
)

// setRequiredEnv は必須環境変数をすべて設定する。
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("BACKEND_BASE_URL", "https://backend.example.com")
	t.Setenv("IDENTITY_BASE_URL", "https://identity.example.com")
	t.Setenv("IDENTITY_API_KEY", "test-api-key")
	t.Setenv("GOOGLE_CLIENT_ID", "test-client-id")
	t.Setenv("GOOGLE_CLIENT_SECRET", "test-client-secret")
	t.Setenv("GOOGLE_REDIRECT_URL", "https://app.example.com/auth/google/callback")
	t.Setenv("PAYMENT_SECRET_KEY", "sk_test_xxx")
	t.Setenv("BASE_URL", "https://app.example.com")
}

func TestLoad_AllRequiredSet(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load がエラーを返した: %v", err)
	}

	if cfg.BackendBaseURL != "https://backend.example.com" {
		t.Errorf("BackendBaseURL = %q, want %q", cfg.BackendBaseURL, "https://backend.example.com")
	}
	if cfg.IdentityAPIKey != "test-api-key" {
		t.Errorf("IdentityAPIKey = %q, want %q", cfg.IdentityAPIKey, "test-api-key")
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("BACKEND_BASE_URL", "")
	t.Setenv("PAYMENT_SECRET_KEY", "")

	_, err := Load()
	if err == nil {
		t.Fatal("必須変数が未設定でもエラーにならなかった")
	}
	if !strings.Contains(err.Error(), "BACKEND_BASE_URL") {
		t.Errorf("エラーメッセージに BACKEND_BASE_URL が含まれない: %v", err)
	}
	if !strings.Contains(err.Error(), "PAYMENT_SECRET_KEY") {
		t.Errorf("エラーメッセージに PAYMENT_SECRET_KEY が含まれない: %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load がエラーを返した: %v", err)
	}

	if cfg.CacheStaleDefault != 5*time.Minute {
		t.Errorf("CacheStaleDefault = %v, want %v", cfg.CacheStaleDefault, 5*time.Minute)
	}
	if cfg.RoleStaleFor != 5*time.Minute {
		t.Errorf("RoleStaleFor = %v, want %v", cfg.RoleStaleFor, 5*time.Minute)
	}
	if cfg.RateLimitGeneral != 120 {
		t.Errorf("RateLimitGeneral = %d, want 120", cfg.RateLimitGeneral)
	}
	if cfg.RateLimitPayment != 10 {
		t.Errorf("RateLimitPayment = %d, want 10", cfg.RateLimitPayment)
	}
	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want %q", cfg.ServerPort, "8080")
	}
}

func TestLoad_CookieSecureDerivedFromBaseURL(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load がエラーを返した: %v", err)
	}
	if !cfg.CookieSecure {
		t.Error("https のBASE_URLで CookieSecure = false")
	}

	t.Setenv("BASE_URL", "http://localhost:8080")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load がエラーを返した: %v", err)
	}
	if cfg.CookieSecure {
		t.Error("http のBASE_URLで CookieSecure = true")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CACHE_STALE_DEFAULT", "1m")
	t.Setenv("RATE_LIMIT_GENERAL", "60")
	t.Setenv("UPSTREAM_TIMEOUT", "3s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load がエラーを返した: %v", err)
	}

	if cfg.CacheStaleDefault != time.Minute {
		t.Errorf("CacheStaleDefault = %v, want 1m", cfg.CacheStaleDefault)
	}
	if cfg.RateLimitGeneral != 60 {
		t.Errorf("RateLimitGeneral = %d, want 60", cfg.RateLimitGeneral)
	}
	if cfg.UpstreamTimeout != 3*time.Second {
		t.Errorf("UpstreamTimeout = %v, want 3s", cfg.UpstreamTimeout)
	}
}

func TestLoad_InvalidOptionalFallsBackToDefault(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RATE_LIMIT_GENERAL", "not-a-number")
	t.Setenv("CACHE_STALE_DEFAULT", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load がエラーを返した: %v", err)
	}

	if cfg.RateLimitGeneral != 120 {
		t.Errorf("不正値でデフォルトに戻らない: RateLimitGeneral = %d", cfg.RateLimitGeneral)
	}
	if cfg.CacheStaleDefault != 5*time.Minute {
		t.Errorf("不正値でデフォルトに戻らない: CacheStaleDefault = %v", cfg.CacheStaleDefault)
	}
}
