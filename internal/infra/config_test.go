package infra

import (
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("JOB_STORE", "")
	t.Setenv("QUEUE_DRIVER", "")
	t.Setenv("RATE_LIMIT_BACKEND", "")
	t.Setenv("REDIS_URL", "")
}

func TestLoadConfigDefaultStorageBaseURL(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "")
	t.Setenv("STORAGE_BASE_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	expected := "http://localhost:8080/static"
	if cfg.StorageBaseURL != expected {
		t.Fatalf("StorageBaseURL mismatch: got %q want %q", cfg.StorageBaseURL, expected)
	}
}

func TestLoadConfigInheritsPortInStorageBaseURL(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "1919")
	t.Setenv("STORAGE_BASE_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	expected := "http://localhost:1919/static"
	if cfg.StorageBaseURL != expected {
		t.Fatalf("StorageBaseURL mismatch: got %q want %q", cfg.StorageBaseURL, expected)
	}
}

func TestLoadConfigLimitDefaults(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RATE_LIMIT_REQUESTS", "")
	t.Setenv("RATE_LIMIT_WINDOW", "")
	t.Setenv("BURST_LIMIT_REQUESTS", "")
	t.Setenv("BURST_LIMIT_WINDOW", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.RateLimitRequests != 30 || cfg.RateLimitWindow != time.Hour {
		t.Fatalf("long window = %d/%s, want 30/1h", cfg.RateLimitRequests, cfg.RateLimitWindow)
	}
	if cfg.BurstLimitRequests != 5 || cfg.BurstLimitWindow != time.Minute {
		t.Fatalf("burst window = %d/%s, want 5/1m", cfg.BurstLimitRequests, cfg.BurstLimitWindow)
	}
}

func TestLoadConfigDurationFormats(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RATE_LIMIT_WINDOW", "90")
	t.Setenv("BURST_LIMIT_WINDOW", "15s")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.RateLimitWindow != 90*time.Second {
		t.Fatalf("RateLimitWindow = %s, want 90s", cfg.RateLimitWindow)
	}
	if cfg.BurstLimitWindow != 15*time.Second {
		t.Fatalf("BurstLimitWindow = %s, want 15s", cfg.BurstLimitWindow)
	}
}

func TestLoadConfigNormalizesAllowlist(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("INPUT_HOST_ALLOWLIST", "Media.Example.com, https://cdn.example.com/x ,, media.example.com")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	expected := []string{"cdn.example.com", "media.example.com"}
	if len(cfg.InputHostAllowlist) != len(expected) {
		t.Fatalf("InputHostAllowlist mismatch: got %#v want %#v", cfg.InputHostAllowlist, expected)
	}
	for i, host := range expected {
		if cfg.InputHostAllowlist[i] != host {
			t.Fatalf("InputHostAllowlist[%d] = %q, want %q", i, cfg.InputHostAllowlist[i], host)
		}
	}
}

func TestLoadConfigTrustedProxies(t *testing.T) {
	setRequiredEnv(t)
	if cfg, err := LoadConfig(); err != nil || len(cfg.TrustedProxies) != 0 {
		t.Fatalf("default TrustedProxies = %v, err = %v", cfg, err)
	}

	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, ,192.0.2.1")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if len(cfg.TrustedProxies) != 2 || cfg.TrustedProxies[0] != "10.0.0.0/8" || cfg.TrustedProxies[1] != "192.0.2.1" {
		t.Fatalf("TrustedProxies = %#v", cfg.TrustedProxies)
	}
}

func TestLoadConfigRequirements(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing database url", env: map[string]string{"DATABASE_URL": ""}},
		{name: "missing jwt secret", env: map[string]string{"JWT_SECRET": ""}},
		{name: "redis store without url", env: map[string]string{"JOB_STORE": "redis"}},
		{name: "asynq without url", env: map[string]string{"QUEUE_DRIVER": "asynq"}},
		{name: "unknown store", env: map[string]string{"JOB_STORE": "sqlite"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			setRequiredEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadConfigMemoryStoreSkipsDatabase(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JOB_STORE", "memory")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.NeedsRedis() {
		t.Fatalf("memory-only config should not need redis")
	}
}
