// Package pipeline turns uploaded document bytes into extracted text,
// escalating from native text extraction to a cascade of OCR providers,
// each guarded by a circuit breaker and executed with retries.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/feolivs/contabilidadepro-sub003/internal/classify"
	"github.com/feolivs/contabilidadepro-sub003/internal/core/domain"
	"github.com/feolivs/contabilidadepro-sub003/internal/infra/breaker"
	"github.com/feolivs/contabilidadepro-sub003/internal/infra/ocr"
	"github.com/feolivs/contabilidadepro-sub003/internal/infra/retry"
	"github.com/feolivs/contabilidadepro-sub003/internal/metrics"
)

var errEmptyDocument = errors.New("empty document payload")

// Config tunes the pipeline's escalation behavior.
type Config struct {
	// Budget bounds one whole Extract invocation, wall clock.
	Budget time.Duration
	// GoodQualityScore is the native-text score (0-100) above which OCR
	// is skipped entirely.
	GoodQualityScore int
	// MinFallbackChars is the minimum native text length worth returning
	// when every provider fails.
	MinFallbackChars int
	// HybridRatio is the shorter/longer length ratio below which the two
	// texts are considered materially different. Tunable, not a contract.
	HybridRatio float64
	// Retry applies to each provider's calls.
	Retry retry.Config
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Budget:           25 * time.Second,
		GoodQualityScore: 70,
		MinFallbackChars: 50,
		HybridRatio:      0.5,
		Retry:            retry.DefaultConfig(),
	}
}

// Document is one extraction request.
type Document struct {
	Name string
	Data []byte
}

// guarded pairs a provider with its dedicated breaker. The breaker is
// shared across all jobs targeting the provider; retry engines are
// per-invocation.
type guarded struct {
	provider ocr.Provider
	breaker  *breaker.Breaker
}

// Extractor runs the extraction pipeline. Safe for concurrent use.
type Extractor struct {
	cfg        Config
	classifier *classify.Classifier
	providers  []*guarded
	logger     *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets a custom logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithPreferred moves the named provider to the front of the cascade.
// The remaining providers keep their configured fallback order.
func WithPreferred(name string) Option {
	return func(e *Extractor) {
		for i, g := range e.providers {
			if g.provider.Name() == name && i > 0 {
				reordered := append([]*guarded{g}, append(e.providers[:i:i], e.providers[i+1:]...)...)
				e.providers = reordered
				return
			}
		}
	}
}

// New builds an Extractor over the given providers, in fallback order.
// Each provider gets its own circuit breaker wired into the prometheus
// gauges and counters.
func New(cfg Config, classifier *classify.Classifier, providers []ocr.Provider, opts ...Option) *Extractor {
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultConfig().Budget
	}
	if cfg.GoodQualityScore <= 0 {
		cfg.GoodQualityScore = DefaultConfig().GoodQualityScore
	}
	if cfg.HybridRatio <= 0 {
		cfg.HybridRatio = DefaultConfig().HybridRatio
	}

	e := &Extractor{
		cfg:        cfg,
		classifier: classifier,
		logger:     slog.Default().With("component", "pipeline"),
	}

	for _, p := range providers {
		name := p.Name()
		hooks := breaker.Hooks{
			OnStateChange: func(name string, from, to breaker.State) {
				metrics.BreakerState.WithLabelValues(name).Set(float64(to))
				e.logger.Info("circuit breaker state change",
					"provider", name, "from", from.String(), "to", to.String())
			},
			OnSuccess: func(name string, latency time.Duration) {
				metrics.ProviderCalls.WithLabelValues(name).Inc()
				metrics.ProviderLatency.WithLabelValues(name).Observe(latency.Seconds())
			},
			OnFailure: func(name string, err error) {
				metrics.ProviderCalls.WithLabelValues(name).Inc()
				kind := classifier.Classify(err, classify.Context{Operation: "ocr"}).Kind
				metrics.ProviderErrors.WithLabelValues(name, string(kind)).Inc()
			},
		}
		e.providers = append(e.providers, &guarded{
			provider: p,
			breaker:  breaker.New(name, breaker.ProviderConfig(), hooks),
		})
	}

	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StartMonitors starts each breaker's monitoring tick.
func (e *Extractor) StartMonitors(ctx context.Context) {
	for _, g := range e.providers {
		name := g.provider.Name()
		g.breaker.StartMonitor(ctx, func(m breaker.Metrics) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(m.State))
		})
	}
}

// Breakers returns the provider breakers, for the operational API.
func (e *Extractor) Breakers() []*breaker.Breaker {
	out := make([]*breaker.Breaker, len(e.providers))
	for i, g := range e.providers {
		out[i] = g.breaker
	}
	return out
}

// Breaker returns the breaker guarding the named provider.
func (e *Extractor) Breaker(name string) (*breaker.Breaker, bool) {
	for _, g := range e.providers {
		if g.provider.Name() == name {
			return g.breaker, true
		}
	}
	return nil, false
}

// Extract produces text from the document, escalating strategies only as
// needed. A terminal failure is always a *domain.DocumentError.
func (e *Extractor) Extract(ctx context.Context, doc Document) (domain.ExtractionResult, error) {
	start := time.Now()

	cctx := classify.Context{
		FileName:  doc.Name,
		FileSize:  int64(len(doc.Data)),
		Operation: "extract",
	}

	if len(doc.Data) == 0 {
		return domain.ExtractionResult{}, e.classifier.InvalidFile(cctx, errEmptyDocument)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Budget)
	defer cancel()

	// Step 1: native text, no network.
	nativeText := extractNativeText(doc.Data)
	score := scoreText(nativeText)
	if score >= e.cfg.GoodQualityScore {
		e.logger.Debug("native extraction sufficient", "file", doc.Name, "score", score)
		return domain.ExtractionResult{
			Text:       nativeText,
			Confidence: qualityConfidence(score),
			Method:     domain.MethodText,
			Duration:   time.Since(start),
		}, nil
	}

	// Step 2: render for vision OCR.
	image, mime, err := renderForOCR(doc.Data, doc.Name)
	if err != nil {
		if len(nativeText) >= e.cfg.MinFallbackChars {
			return e.nativeResult(nativeText, score, start), nil
		}
		return domain.ExtractionResult{}, e.classifier.InvalidFile(cctx, err)
	}

	// Step 3: provider cascade.
	ocrRes, providerName, docErr := e.cascade(ctx, image, mime, cctx)
	if docErr != nil {
		// Step 4: degrade to whatever native text we have.
		if len(nativeText) >= e.cfg.MinFallbackChars {
			e.logger.Warn("all providers failed, degrading to native text",
				"file", doc.Name, "kind", docErr.Kind)
			return e.nativeResult(nativeText, score, start), nil
		}
		metrics.DocumentsProcessed.WithLabelValues("error", "").Inc()
		return domain.ExtractionResult{}, docErr
	}

	result := domain.ExtractionResult{
		Text:       ocrRes.Text,
		Confidence: ocrRes.Confidence,
		Method:     domain.MethodOCR,
		Provider:   providerName,
		Duration:   time.Since(start),
	}

	// Step 5: when both texts exist and materially differ in length,
	// keep the longer one and label the method hybrid.
	if nativeText != "" {
		shorter, longer := nativeText, ocrRes.Text
		if len(shorter) > len(longer) {
			shorter, longer = longer, shorter
		}
		if float64(len(shorter)) < e.cfg.HybridRatio*float64(len(longer)) {
			result.Text = longer
			result.Method = domain.MethodHybrid
		}
	}

	metrics.DocumentsProcessed.WithLabelValues("success", string(result.Method)).Inc()
	return result, nil
}

func (e *Extractor) nativeResult(text string, score int, start time.Time) domain.ExtractionResult {
	metrics.DocumentsProcessed.WithLabelValues("success", string(domain.MethodText)).Inc()
	return domain.ExtractionResult{
		Text:       text,
		Confidence: qualityConfidence(score) * 0.8, // degraded: OCR could not verify
		Method:     domain.MethodText,
		Duration:   time.Since(start),
	}
}

// cascade tries each provider in order through its breaker and a fresh
// retry engine, stopping at the first non-empty extraction.
func (e *Extractor) cascade(ctx context.Context, image []byte, mime string, cctx classify.Context) (ocr.Result, string, *domain.DocumentError) {
	var lastErr *domain.DocumentError

	for _, g := range e.providers {
		if ctx.Err() != nil {
			return ocr.Result{}, "", e.classifier.Classify(ctx.Err(), cctx)
		}

		engine := retry.New(e.cfg.Retry, e.classifier, retry.Hooks{
			OnAttempt: func(attempt int, delay time.Duration, err *domain.DocumentError) {
				metrics.RetriesScheduled.WithLabelValues(string(err.Kind)).Inc()
			},
		}, e.logger.With("provider", g.provider.Name()))

		var res ocr.Result
		err := engine.Do(ctx, cctx, func(ctx context.Context) error {
			return g.breaker.Execute(ctx, func(ctx context.Context) error {
				r, err := g.provider.Extract(ctx, image, mime)
				if err != nil {
					return err
				}
				if strings.TrimSpace(r.Text) == "" {
					return ocr.ErrNoText
				}
				res = r
				return nil
			})
		})
		if err == nil {
			return res, g.provider.Name(), nil
		}

		var docErr *domain.DocumentError
		if errors.As(err, &docErr) {
			lastErr = docErr
		} else {
			lastErr = e.classifier.Classify(err, cctx)
		}
		e.logger.Warn("provider failed, falling back",
			"provider", g.provider.Name(), "kind", lastErr.Kind, "error", err)
	}

	if lastErr == nil {
		lastErr = e.classifier.Classify(fmt.Errorf("no ocr providers configured"), cctx)
	}
	return ocr.Result{}, "", lastErr
}
