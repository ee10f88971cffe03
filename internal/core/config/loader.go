package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/feolivs/contabilidadepro-sub003/internal/batch"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Batch.MaxConcurrent == 0 {
		cfg.Batch.MaxConcurrent = batch.DefaultConfig().MaxConcurrent
	}
	if cfg.Batch.HistorySize == 0 {
		cfg.Batch.HistorySize = batch.DefaultConfig().HistorySize
	}

	for i := range cfg.Providers {
		if cfg.Providers[i].Timeout == 0 {
			cfg.Providers[i].Timeout = 20 * time.Second
		}
		if cfg.Providers[i].Kind == "" {
			cfg.Providers[i].Kind = "http"
		}
	}
}

func validate(cfg *AppConfig) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	seen := make(map[string]bool)
	for _, p := range cfg.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider name %q", p.Name)
		}
		seen[p.Name] = true
		if p.URL == "" {
			return fmt.Errorf("provider %q: url required", p.Name)
		}
		switch p.Kind {
		case "vision", "http":
		default:
			return fmt.Errorf("provider %q: unknown kind %q", p.Name, p.Kind)
		}
	}
	if cfg.Pipeline.HybridRatio < 0 || cfg.Pipeline.HybridRatio > 1 {
		return fmt.Errorf("pipeline.hybrid_ratio must be within [0, 1]")
	}
	return nil
}
