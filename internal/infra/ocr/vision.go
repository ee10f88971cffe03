package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const visionSystemPrompt = `You are an OCR engine for Brazilian fiscal documents
(invoices, receipts, NFe). Transcribe ALL text visible in the document exactly
as written, preserving line breaks, numbers, dates and currency values.
Output only the transcribed text, nothing else.`

// Confidence reported for vision extractions. Chat-based vision APIs do
// not return a per-call score, so a calibrated constant is used and
// downgraded when the transcription is suspiciously short.
const (
	visionConfidence      = 0.9
	visionShortConfidence = 0.6
	visionShortThreshold  = 40 // characters
)

// VisionProvider extracts text through an OpenAI-compatible chat API with
// image input (OpenAI, Ollama, vLLM and similar).
type VisionProvider struct {
	name   string
	client llms.Model
	logger *slog.Logger
}

// NewVisionProvider builds a provider from config. An empty APIKey is
// replaced with "none" for local services without authentication.
func NewVisionProvider(cfg Config) (*VisionProvider, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("vision provider %s: url required", cfg.Name)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("vision provider %s: model required", cfg.Name)
	}

	token := cfg.APIKey
	if token == "" {
		token = "none"
	}

	client, err := openai.New(
		openai.WithBaseURL(cfg.URL),
		openai.WithToken(token),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("vision provider %s: %w", cfg.Name, err)
	}

	return &VisionProvider{
		name:   cfg.Name,
		client: client,
		logger: slog.Default().With("component", "ocr", "provider", cfg.Name),
	}, nil
}

func (p *VisionProvider) Name() string {
	return p.name
}

// Extract sends the document as a binary part and returns the model's
// transcription.
func (p *VisionProvider) Extract(ctx context.Context, image []byte, mime string) (Result, error) {
	content := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{
				llms.TextPart(visionSystemPrompt),
			},
		},
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.BinaryPart(mime, image),
				llms.TextPart("Transcribe this document."),
			},
		},
	}

	resp, err := p.client.GenerateContent(ctx, content, llms.WithTemperature(0.0))
	if err != nil {
		return Result{}, fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, ErrNoText
	}

	text := strings.TrimSpace(resp.Choices[0].Content)
	if text == "" {
		return Result{}, ErrNoText
	}

	confidence := visionConfidence
	if len(text) < visionShortThreshold {
		confidence = visionShortConfidence
	}

	p.logger.Debug("vision extraction complete", "chars", len(text), "confidence", confidence)
	return Result{Text: text, Confidence: confidence}, nil
}
