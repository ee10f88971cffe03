// Package ocr defines the vision/OCR provider capability consumed by the
// extraction pipeline, plus its concrete implementations.
package ocr

import (
	"context"
	"errors"
	"time"
)

// ErrNoText is returned when a provider call succeeded at the transport
// level but produced no usable text.
var ErrNoText = errors.New("ocr: no usable text extracted")

// Result is one provider's extraction output.
type Result struct {
	Text       string
	Confidence float64 // 0-1
}

// Provider is a single OCR/vision capability. Implementations must be
// safe for concurrent use; one instance is shared by all jobs.
type Provider interface {
	// Name identifies the provider in config, logs and metrics.
	Name() string

	// Extract reads all text from the document image. The mime type tells
	// the provider how to encode the payload (image/png, application/pdf).
	Extract(ctx context.Context, image []byte, mime string) (Result, error)
}

// Config holds the per-provider settings from the config file.
type Config struct {
	Name     string        `yaml:"name"`
	Kind     string        `yaml:"kind"` // "vision" (OpenAI-compatible) or "http"
	URL      string        `yaml:"url"`
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"api_key"`
	Priority int           `yaml:"priority"` // lower is tried first
	Timeout  time.Duration `yaml:"timeout"`
}
