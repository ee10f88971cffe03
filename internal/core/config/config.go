package config

import (
	"time"

	"github.com/feolivs/contabilidadepro-sub003/internal/batch"
	"github.com/feolivs/contabilidadepro-sub003/internal/classify"
	"github.com/feolivs/contabilidadepro-sub003/internal/infra/ocr"
	"github.com/feolivs/contabilidadepro-sub003/internal/infra/retry"
	"github.com/feolivs/contabilidadepro-sub003/internal/infra/storage/postgres"
	"github.com/feolivs/contabilidadepro-sub003/internal/infra/storage/redisblob"
	"github.com/feolivs/contabilidadepro-sub003/internal/pipeline"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig     `yaml:"server"`
	Logging   LoggingConfig    `yaml:"logging"`
	Limits    LimitsConfig     `yaml:"limits"`
	Pipeline  PipelineConfig   `yaml:"pipeline"`
	Batch     batch.Config     `yaml:"batch"`
	Providers []ocr.Config     `yaml:"providers"`
	Redis     redisblob.Config `yaml:"redis"`
	Database  postgres.Config  `yaml:"database"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// LimitsConfig bounds what documents are accepted at all.
type LimitsConfig struct {
	MaxFileSize   int64    `yaml:"max_file_size"`
	AcceptedTypes []string `yaml:"accepted_types"`
}

// PipelineConfig holds extraction settings.
type PipelineConfig struct {
	Budget           time.Duration `yaml:"budget"`
	GoodQualityScore int           `yaml:"good_quality_score"`
	MinFallbackChars int           `yaml:"min_fallback_chars"`
	HybridRatio      float64       `yaml:"hybrid_ratio"`
	Retry            RetryConfig   `yaml:"retry"`
}

// RetryConfig holds per-provider retry settings.
type RetryConfig struct {
	MaxRetries  int           `yaml:"max_retries"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Exponential *bool         `yaml:"exponential"` // nil means enabled
	Jitter      float64       `yaml:"jitter"`
}

// PipelineConfig translates the YAML section into the pipeline's own
// config type, falling back to production defaults for zero values.
func (c *AppConfig) PipelineConfig() pipeline.Config {
	def := pipeline.DefaultConfig()
	out := pipeline.Config{
		Budget:           c.Pipeline.Budget,
		GoodQualityScore: c.Pipeline.GoodQualityScore,
		MinFallbackChars: c.Pipeline.MinFallbackChars,
		HybridRatio:      c.Pipeline.HybridRatio,
		Retry:            c.RetryConfig(),
	}
	if out.Budget == 0 {
		out.Budget = def.Budget
	}
	if out.GoodQualityScore == 0 {
		out.GoodQualityScore = def.GoodQualityScore
	}
	if out.MinFallbackChars == 0 {
		out.MinFallbackChars = def.MinFallbackChars
	}
	if out.HybridRatio == 0 {
		out.HybridRatio = def.HybridRatio
	}
	return out
}

// RetryConfig translates the YAML retry section.
func (c *AppConfig) RetryConfig() retry.Config {
	def := retry.DefaultConfig()
	out := retry.Config{
		MaxRetries:  c.Pipeline.Retry.MaxRetries,
		BaseDelay:   c.Pipeline.Retry.BaseDelay,
		MaxDelay:    c.Pipeline.Retry.MaxDelay,
		Exponential: true,
		Jitter:      c.Pipeline.Retry.Jitter,
	}
	if c.Pipeline.Retry.Exponential != nil {
		out.Exponential = *c.Pipeline.Retry.Exponential
	}
	if out.MaxRetries == 0 {
		out.MaxRetries = def.MaxRetries
	}
	if out.BaseDelay == 0 {
		out.BaseDelay = def.BaseDelay
	}
	if out.MaxDelay == 0 {
		out.MaxDelay = def.MaxDelay
	}
	if out.Jitter == 0 {
		out.Jitter = def.Jitter
	}
	return out
}

// ClassifierConfig translates the limits section.
func (c *AppConfig) ClassifierConfig() classify.Config {
	def := classify.DefaultConfig()
	out := classify.Config{
		MaxFileSize:   c.Limits.MaxFileSize,
		AcceptedTypes: c.Limits.AcceptedTypes,
	}
	if out.MaxFileSize == 0 {
		out.MaxFileSize = def.MaxFileSize
	}
	if len(out.AcceptedTypes) == 0 {
		out.AcceptedTypes = def.AcceptedTypes
	}
	return out
}
