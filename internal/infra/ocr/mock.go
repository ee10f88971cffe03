package ocr

import (
	"context"
	"sync"
)

// MockProvider is a test double for Provider. Behavior is injected through
// ExtractFunc; calls are counted for assertions.
type MockProvider struct {
	ProviderName string

	// ExtractFunc is invoked by Extract if set. If nil, Extract returns
	// a fixed successful result.
	ExtractFunc func(ctx context.Context, image []byte, mime string) (Result, error)

	mu    sync.Mutex
	calls int
}

func (m *MockProvider) Name() string {
	if m.ProviderName == "" {
		return "mock"
	}
	return m.ProviderName
}

func (m *MockProvider) Extract(ctx context.Context, image []byte, mime string) (Result, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.ExtractFunc != nil {
		return m.ExtractFunc(ctx, image, mime)
	}
	return Result{Text: "mock extracted text", Confidence: 0.95}, nil
}

// Calls returns how many times Extract was invoked.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
