package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"HTTP_ADDR", "DB_DSN", "JWT_SECRET", "N8N_WEBHOOK_URL", "WEBHOOK_URL",
		"WEBHOOK_TIMEOUT", "GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET", "GOOGLE_REDIRECT_URI",
		"CALENDAR_PAGE_SIZE", "RABBIT_URL", "REDIS_ADDR",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.GoogleRedirectURI != DefaultRedirectURI {
		t.Fatalf("unexpected redirect uri: %q", cfg.GoogleRedirectURI)
	}
	if cfg.CalendarPageSize != 10 {
		t.Fatalf("unexpected page size: %d", cfg.CalendarPageSize)
	}
	if cfg.WebhookTimeout != 90*time.Second {
		t.Fatalf("unexpected webhook timeout: %s", cfg.WebhookTimeout)
	}
	if cfg.RabbitURL != "" || cfg.RedisAddr != "" {
		t.Fatalf("brokers should be opt-in, got rabbit=%q redis=%q", cfg.RabbitURL, cfg.RedisAddr)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "alan.yaml")
	body := "webhook_url: http://file/hook\ngoogle_client_id: file-id\nwebhook_timeout: 5s\ncalendar_page_size: 25\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("GOOGLE_CLIENT_ID", "env-id")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WebhookURL != "http://file/hook" {
		t.Fatalf("expected webhook from file, got %q", cfg.WebhookURL)
	}
	if cfg.GoogleClientID != "env-id" {
		t.Fatalf("expected env to win, got %q", cfg.GoogleClientID)
	}
	if cfg.WebhookTimeout != 5*time.Second || cfg.CalendarPageSize != 25 {
		t.Fatalf("file values not applied: timeout=%s page=%d", cfg.WebhookTimeout, cfg.CalendarPageSize)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected an error for a missing config file")
	}
}

func TestValidate_ListsMissing(t *testing.T) {
	err := Config{GoogleClientID: "id"}.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "N8N_WEBHOOK_URL") || !strings.Contains(msg, "GOOGLE_CLIENT_SECRET") {
		t.Fatalf("unexpected message: %s", msg)
	}
	if strings.Contains(msg, "GOOGLE_CLIENT_ID") {
		t.Fatalf("client id was set but reported missing: %s", msg)
	}
}
