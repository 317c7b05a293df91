package project

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GetGuidelines() != "" {
		t.Errorf("expected no guidelines, got %q", cfg.GetGuidelines())
	}
	if _, ok := cfg.CommandFor("lint"); ok {
		t.Error("expected no lint override")
	}
}

func TestLoadParsesFile(t *testing.T) {
	dir := t.TempDir()
	content := `
guidelines = """
  Use table tests.
"""
coverage_threshold = 65
checks = ["lint", "test"]

[verification.commands]
lint = "golangci-lint run"
test = "go test ./..."
`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GetGuidelines() != "Use table tests." {
		t.Errorf("guidelines = %q", cfg.GetGuidelines())
	}
	if cfg.CoverageThreshold != 65 {
		t.Errorf("coverage_threshold = %v, want 65", cfg.CoverageThreshold)
	}
	if len(cfg.Checks) != 2 {
		t.Errorf("checks = %v", cfg.Checks)
	}
	if cmd, ok := cfg.CommandFor("lint"); !ok || cmd != "golangci-lint run" {
		t.Errorf("lint command = %q, %v", cmd, ok)
	}
}

func TestLoadParsesWebhooks(t *testing.T) {
	dir := t.TempDir()
	content := `
[[webhooks]]
url = "https://hooks.example.com/foreman"
secret = "s3cret"
events = ["verification.failed", "execution.completed"]

[webhooks.headers]
Authorization = "Bearer abc"

[[webhooks]]
url = "http://localhost:9000"
`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Webhooks) != 2 {
		t.Fatalf("got %d webhooks, want 2", len(cfg.Webhooks))
	}
	first := cfg.Webhooks[0]
	if first.Secret != "s3cret" || len(first.Events) != 2 || first.Headers["Authorization"] != "Bearer abc" {
		t.Errorf("unexpected webhook %+v", first)
	}
	if len(cfg.Webhooks[1].Events) != 0 {
		t.Errorf("second webhook events = %v", cfg.Webhooks[1].Events)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", *DefaultConfig(), false},
		{"threshold too high", Config{CoverageThreshold: 120}, true},
		{"empty command", Config{Verification: Verification{Commands: map[string]string{"lint": " "}}}, true},
		{"webhook", Config{Webhooks: []Webhook{{URL: "https://hooks.example.com/foreman"}}}, false},
		{"webhook without scheme", Config{Webhooks: []Webhook{{URL: "hooks.example.com"}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.SetPath(dir)
	cfg.Guidelines = "Keep functions small."

	if err := cfg.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.GetGuidelines() != "Keep functions small." {
		t.Errorf("guidelines = %q", loaded.GetGuidelines())
	}
}
