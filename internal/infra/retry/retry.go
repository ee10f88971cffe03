// Package retry executes operations with bounded, backoff-scheduled
// retries, delegating retry eligibility to the error classifier.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/feolivs/contabilidadepro-sub003/internal/classify"
	"github.com/feolivs/contabilidadepro-sub003/internal/core/domain"
)

// ErrWaitCancelled is returned when CancelWait aborts an in-flight backoff
// wait. It is an explicit cancellation, distinct from an operation failure.
var ErrWaitCancelled = errors.New("retry wait cancelled")

// Config controls attempt bounds and delay scheduling.
type Config struct {
	MaxRetries  int           // retries after the first attempt; total = MaxRetries+1
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Exponential bool    // exponential backoff vs classifier-suggested delay
	Jitter      float64 // +/- fraction applied to exponential delays, e.g. 0.2
}

// DefaultConfig retries transient failures three times with jittered
// exponential backoff.
func DefaultConfig() Config {
	return Config{
		MaxRetries:  3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    60 * time.Second,
		Exponential: true,
		Jitter:      0.2,
	}
}

// Hooks are optional per-attempt observers.
type Hooks struct {
	// OnAttempt fires before each backoff wait, with the attempt that just
	// failed and the scheduled delay.
	OnAttempt func(attempt int, delay time.Duration, err *domain.DocumentError)
	// OnExhausted fires once when every allowed attempt has failed with a
	// retryable error.
	OnExhausted func(attempts int, err *domain.DocumentError)
}

// State is a snapshot of the engine's progress, exposed for operator views.
type State struct {
	Attempt     int
	MaxAttempts int
	Waiting     bool
	LastError   *domain.DocumentError
}

// Engine runs operations with retry. One engine serves one logical caller
// at a time; concurrent Do calls share the cancel channel and should be
// avoided.
type Engine struct {
	cfg        Config
	classifier *classify.Classifier
	hooks      Hooks
	logger     *slog.Logger

	mu      sync.Mutex
	attempt int
	waiting bool
	lastErr *domain.DocumentError
	cancel  chan struct{}
}

// New creates an engine backed by the given classifier.
func New(cfg Config, classifier *classify.Classifier, hooks Hooks, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig().BaseDelay
	}
	return &Engine{
		cfg:        cfg,
		classifier: classifier,
		hooks:      hooks,
		logger:     logger,
		cancel:     make(chan struct{}),
	}
}

// Do runs op up to MaxRetries+1 times. On success it clears retry state
// and returns nil. On a terminal failure it returns the classified
// *domain.DocumentError from the final attempt. A cancelled wait returns
// ErrWaitCancelled without surfacing a result.
func (e *Engine) Do(ctx context.Context, cctx classify.Context, op func(ctx context.Context) error) error {
	maxAttempts := e.cfg.MaxRetries + 1

	e.mu.Lock()
	e.cancel = make(chan struct{})
	e.lastErr = nil
	cancel := e.cancel
	e.mu.Unlock()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		e.setAttempt(attempt)

		err := op(ctx)
		if err == nil {
			e.clearState()
			return nil
		}

		docErr := e.classifier.ClassifyAttempt(err, cctx, attempt)
		e.setLastError(docErr)

		if !docErr.CanRetry {
			e.logger.Debug("error not retryable, surfacing",
				"kind", docErr.Kind, "attempt", attempt)
			return docErr
		}
		if attempt == maxAttempts {
			if e.hooks.OnExhausted != nil {
				e.hooks.OnExhausted(maxAttempts, docErr)
			}
			e.logger.Warn("retries exhausted",
				"kind", docErr.Kind, "attempts", maxAttempts)
			return docErr
		}

		delay := e.delayFor(attempt, docErr)
		if e.hooks.OnAttempt != nil {
			e.hooks.OnAttempt(attempt, delay, docErr)
		}
		e.logger.Debug("operation failed, scheduling retry",
			"kind", docErr.Kind, "attempt", attempt, "delay", delay)

		if err := e.wait(ctx, cancel, delay); err != nil {
			return err
		}
	}

	// Unreachable: the loop always returns.
	if last := e.lastError(); last != nil {
		return last
	}
	return nil
}

// CancelWait aborts an in-flight backoff wait and clears retry state.
// It has no effect on an operation already executing.
func (e *Engine) CancelWait() {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.cancel:
	default:
		close(e.cancel)
	}
	e.attempt = 0
	e.waiting = false
	e.lastErr = nil
}

// State returns a snapshot of the current retry progress.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		Attempt:     e.attempt,
		MaxAttempts: e.cfg.MaxRetries + 1,
		Waiting:     e.waiting,
		LastError:   e.lastErr,
	}
}

// delayFor computes the wait before the next attempt (1-indexed).
func (e *Engine) delayFor(attempt int, docErr *domain.DocumentError) time.Duration {
	if !e.cfg.Exponential {
		if docErr.SuggestedRetryDelay > 0 {
			return docErr.SuggestedRetryDelay
		}
		return e.cfg.BaseDelay
	}

	d := float64(e.cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	if e.cfg.Jitter > 0 {
		// Spread wake-ups across [1-j, 1+j] to avoid thundering herds.
		d *= 1 + e.cfg.Jitter*(2*rand.Float64()-1)
	}
	if e.cfg.MaxDelay > 0 && d > float64(e.cfg.MaxDelay) {
		d = float64(e.cfg.MaxDelay)
	}
	return time.Duration(d)
}

// wait sleeps for delay, aborting on context cancellation or CancelWait.
// The pending timer is always stopped; no wake-up leaks past cancellation.
func (e *Engine) wait(ctx context.Context, cancel chan struct{}, delay time.Duration) error {
	e.setWaiting(true)
	defer e.setWaiting(false)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-cancel:
		return ErrWaitCancelled
	case <-timer.C:
		return nil
	}
}

func (e *Engine) setAttempt(n int) {
	e.mu.Lock()
	e.attempt = n
	e.mu.Unlock()
}

func (e *Engine) setWaiting(w bool) {
	e.mu.Lock()
	e.waiting = w
	e.mu.Unlock()
}

func (e *Engine) setLastError(err *domain.DocumentError) {
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
}

func (e *Engine) lastError() *domain.DocumentError {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

func (e *Engine) clearState() {
	e.mu.Lock()
	e.attempt = 0
	e.waiting = false
	e.lastErr = nil
	e.mu.Unlock()
}
