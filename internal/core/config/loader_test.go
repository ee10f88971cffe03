package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
logging:
  level: debug
limits:
  max_file_size: 10485760
  accepted_types: [pdf, png]
pipeline:
  budget: 30s
  good_quality_score: 80
  hybrid_ratio: 0.4
  retry:
    max_retries: 5
    base_delay: 1s
batch:
  max_concurrent: 4
  pause_on_error: true
  priority_ordering: true
providers:
  - name: vision-a
    kind: vision
    url: https://api.example.com/v1
    model: gpt-4o-mini
    priority: 1
  - name: ocr-b
    kind: http
    url: https://ocr.example.com/extract
    priority: 2
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Batch.MaxConcurrent != 4 || !cfg.Batch.PauseOnError {
		t.Errorf("Batch config not parsed: %+v", cfg.Batch)
	}
	if len(cfg.Providers) != 2 {
		t.Fatalf("Expected 2 providers, got %d", len(cfg.Providers))
	}
	if cfg.Providers[0].Kind != "vision" || cfg.Providers[1].Kind != "http" {
		t.Errorf("Provider kinds not parsed: %+v", cfg.Providers)
	}

	pc := cfg.PipelineConfig()
	if pc.Budget != 30*time.Second {
		t.Errorf("Expected 30s budget, got %v", pc.Budget)
	}
	if pc.GoodQualityScore != 80 {
		t.Errorf("Expected quality score 80, got %d", pc.GoodQualityScore)
	}
	if pc.HybridRatio != 0.4 {
		t.Errorf("Expected hybrid ratio 0.4, got %f", pc.HybridRatio)
	}
	if pc.Retry.MaxRetries != 5 || pc.Retry.BaseDelay != time.Second {
		t.Errorf("Retry config not translated: %+v", pc.Retry)
	}

	cc := cfg.ClassifierConfig()
	if cc.MaxFileSize != 10485760 {
		t.Errorf("Expected 10MB limit, got %d", cc.MaxFileSize)
	}
	if len(cc.AcceptedTypes) != 2 {
		t.Errorf("Expected 2 accepted types, got %v", cc.AcceptedTypes)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
providers:
  - name: vision-a
    url: https://api.example.com/v1
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Expected default level info, got %s", cfg.Logging.Level)
	}
	if cfg.Batch.MaxConcurrent != 3 {
		t.Errorf("Expected default max_concurrent 3, got %d", cfg.Batch.MaxConcurrent)
	}
	if cfg.Providers[0].Kind != "http" {
		t.Errorf("Expected default provider kind http, got %s", cfg.Providers[0].Kind)
	}
	if cfg.Providers[0].Timeout != 20*time.Second {
		t.Errorf("Expected default provider timeout 20s, got %v", cfg.Providers[0].Timeout)
	}

	pc := cfg.PipelineConfig()
	if pc.Budget != 25*time.Second {
		t.Errorf("Expected default budget 25s, got %v", pc.Budget)
	}
	rc := cfg.RetryConfig()
	if rc.MaxRetries != 3 || !rc.Exponential || rc.Jitter != 0.2 {
		t.Errorf("Expected default retry config, got %+v", rc)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_OCR_KEY", "secret-key-123")
	path := writeConfig(t, `
providers:
  - name: vision-a
    kind: vision
    url: https://api.example.com/v1
    api_key: ${TEST_OCR_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Providers[0].APIKey != "secret-key-123" {
		t.Errorf("Expected env expansion, got %q", cfg.Providers[0].APIKey)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad port", "server:\n  port: 99999\n"},
		{"unnamed provider", "providers:\n  - url: https://x\n"},
		{"missing url", "providers:\n  - name: a\n"},
		{"unknown kind", "providers:\n  - name: a\n    kind: grpc\n    url: https://x\n"},
		{"duplicate name", "providers:\n  - name: a\n    url: https://x\n  - name: a\n    url: https://y\n"},
		{"bad hybrid ratio", "pipeline:\n  hybrid_ratio: 1.5\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			if _, err := Load(path); err == nil {
				t.Errorf("Expected validation error for %s", tt.name)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}
