package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPProvider calls a dedicated OCR REST service: POST a base64 payload,
// get text and a provider-reported confidence back.
type HTTPProvider struct {
	name       string
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPProvider creates a REST OCR provider with a pooled transport.
func NewHTTPProvider(cfg Config) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPProvider{
		name:     cfg.Name,
		endpoint: cfg.URL,
		apiKey:   cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (p *HTTPProvider) Name() string {
	return p.name
}

type httpExtractRequest struct {
	Document string `json:"document"` // base64
	MimeType string `json:"mime_type"`
}

type httpExtractResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

// Extract posts the document and decodes the service's response. Rate
// limiting and auth rejections surface with the status code in the
// message so the classifier can recognize them.
func (p *HTTPProvider) Extract(ctx context.Context, image []byte, mime string) (Result, error) {
	reqBody := httpExtractRequest{
		Document: base64.StdEncoding.EncodeToString(image),
		MimeType: mime,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("ocr call: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		retryAfter := resp.Header.Get("Retry-After")
		return Result{}, fmt.Errorf("rate limited (429), retry after: %s", retryAfter)
	case http.StatusForbidden:
		return Result{}, fmt.Errorf("access blocked (403)")
	case http.StatusPaymentRequired:
		return Result{}, fmt.Errorf("insufficient credits (402)")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}

	var out httpExtractResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Result{}, fmt.Errorf("parse response: %w", err)
	}
	if out.Error != "" {
		return Result{}, fmt.Errorf("ocr service error: %s", out.Error)
	}
	if out.Text == "" {
		return Result{}, ErrNoText
	}

	return Result{Text: out.Text, Confidence: out.Confidence}, nil
}
