package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadJSONConfigGroupedSections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"app": {"Port": "9000", "AllowedOrigins": ["app://shell", "http://localhost:3000"]},
		"api": {"BaseURL": "https://hr.example.com/api", "PollIntervalSec": 45},
		"storage": {"Backend": "redis", "KeyPrefix": "pc:"},
		"realtime": {"Enabled": true, "Channel": "att"},
		"log": {"Level": "debug", "Compress": true}
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var c AppConfig
	if err := loadJSONConfig(path, &c); err != nil {
		t.Fatalf("load: %v", err)
	}
	applyDefaults(&c)

	if c.AppPort != "9000" || c.APIBaseURL != "https://hr.example.com/api" {
		t.Fatalf("unexpected app/api values: %+v", c)
	}
	if len(c.AllowedOrigins) != 2 {
		t.Fatalf("expected 2 origins, got %v", c.AllowedOrigins)
	}
	if c.PollIntervalSec != 45 || c.MinRefreshIntervalSec != 10 {
		t.Fatalf("unexpected polling values: poll=%d min=%d", c.PollIntervalSec, c.MinRefreshIntervalSec)
	}
	if c.StorageBackend != "redis" || c.StorageKeyPrefix != "pc:" || c.StoragePath == "" {
		t.Fatalf("unexpected storage values: %+v", c)
	}
	if !c.RealtimeEnabled || c.RealtimeChannel != "att" {
		t.Fatalf("unexpected realtime values: %+v", c)
	}
	if c.LogLevel != "debug" || !c.LogCompress {
		t.Fatalf("unexpected log values: %+v", c)
	}
}

func TestLoadJSONConfigMissingFileIsIgnored(t *testing.T) {
	var c AppConfig
	if err := loadJSONConfig(filepath.Join(t.TempDir(), "nope.json"), &c); err != nil {
		t.Fatalf("expected nil error for missing file, got %v", err)
	}
	applyDefaults(&c)
	if c.StorageBackend != "file" || c.AppPort != "7420" {
		t.Fatalf("expected defaults, got %+v", c)
	}
}

func TestEnvOverridesWin(t *testing.T) {
	t.Setenv("API_BASE_URL", "https://override.example.com/")
	t.Setenv("CORS_ALLOWED_ORIGINS", "a, b ,,c")
	t.Setenv("REALTIME_ENABLED", "true")

	c := AppConfig{APIBaseURL: "https://file.example.com"}
	applyDefaults(&c)
	applyEnvOverrides(&c)

	if c.APIBaseURL != "https://override.example.com" {
		t.Fatalf("expected env base url without trailing slash, got %q", c.APIBaseURL)
	}
	if len(c.AllowedOrigins) != 3 || c.AllowedOrigins[1] != "b" {
		t.Fatalf("unexpected origins %v", c.AllowedOrigins)
	}
	if !c.RealtimeEnabled {
		t.Fatalf("expected realtime enabled from env")
	}
}
