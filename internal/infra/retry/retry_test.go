package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/feolivs/contabilidadepro-sub003/internal/classify"
	"github.com/feolivs/contabilidadepro-sub003/internal/core/domain"
)

func testEngine(cfg Config, hooks Hooks) *Engine {
	return New(cfg, classify.New(classify.DefaultConfig()), hooks, nil)
}

func fastConfig(maxRetries int) Config {
	return Config{
		MaxRetries:  maxRetries,
		BaseDelay:   time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
		Exponential: true,
	}
}

func TestSucceedsAfterTransientFailures(t *testing.T) {
	e := testEngine(fastConfig(3), Hooks{})

	calls := 0
	err := e.Do(context.Background(), classify.Context{Operation: "ocr"}, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
	if st := e.State(); st.Attempt != 0 || st.LastError != nil {
		t.Errorf("Expected state cleared after success, got %+v", st)
	}
}

func TestNonRetryableSurfacesImmediately(t *testing.T) {
	e := testEngine(fastConfig(3), Hooks{})

	calls := 0
	err := e.Do(context.Background(), classify.Context{Operation: "ocr"}, func(ctx context.Context) error {
		calls++
		return errors.New("some inexplicable failure")
	})

	var docErr *domain.DocumentError
	if !errors.As(err, &docErr) {
		t.Fatalf("Expected *domain.DocumentError, got %v", err)
	}
	if docErr.Kind != domain.ErrorKindUnknown {
		t.Errorf("Expected UNKNOWN, got %s", docErr.Kind)
	}
	if calls != 1 {
		t.Errorf("Expected exactly 1 attempt for non-retryable error, got %d", calls)
	}
}

func TestExhaustionReturnsLastError(t *testing.T) {
	exhaustedWith := 0
	hooks := Hooks{
		OnExhausted: func(attempts int, err *domain.DocumentError) {
			exhaustedWith = attempts
		},
	}
	e := testEngine(fastConfig(2), hooks)

	calls := 0
	err := e.Do(context.Background(), classify.Context{Operation: "ocr"}, func(ctx context.Context) error {
		calls++
		return errors.New("request timed out")
	})

	var docErr *domain.DocumentError
	if !errors.As(err, &docErr) {
		t.Fatalf("Expected *domain.DocumentError, got %v", err)
	}
	if docErr.Kind != domain.ErrorKindTimeout {
		t.Errorf("Expected TIMEOUT, got %s", docErr.Kind)
	}
	if calls != 3 {
		t.Errorf("Expected 3 attempts (1 + 2 retries), got %d", calls)
	}
	if exhaustedWith != 3 {
		t.Errorf("Expected OnExhausted with 3 attempts, got %d", exhaustedWith)
	}
}

func TestOnAttemptFiresPerRetry(t *testing.T) {
	var attempts []int
	hooks := Hooks{
		OnAttempt: func(attempt int, delay time.Duration, err *domain.DocumentError) {
			attempts = append(attempts, attempt)
		},
	}
	e := testEngine(fastConfig(2), hooks)

	_ = e.Do(context.Background(), classify.Context{}, func(ctx context.Context) error {
		return errors.New("network unreachable")
	})

	// Fires before each wait, never after the final attempt.
	if len(attempts) != 2 {
		t.Fatalf("Expected 2 OnAttempt calls, got %d", len(attempts))
	}
	if attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("Expected attempts [1 2], got %v", attempts)
	}
}

func TestCancelWaitAbortsBackoff(t *testing.T) {
	cfg := Config{MaxRetries: 3, BaseDelay: 10 * time.Second, Exponential: true}
	e := testEngine(cfg, Hooks{})

	done := make(chan error, 1)
	go func() {
		done <- e.Do(context.Background(), classify.Context{}, func(ctx context.Context) error {
			return errors.New("connection refused")
		})
	}()

	// Let the first attempt fail and the wait begin.
	deadline := time.After(2 * time.Second)
	for e.State().Waiting == false {
		select {
		case <-deadline:
			t.Fatal("Engine never entered waiting state")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	e.CancelWait()

	select {
	case err := <-done:
		if !errors.Is(err, ErrWaitCancelled) {
			t.Errorf("Expected ErrWaitCancelled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after CancelWait")
	}

	if st := e.State(); st.Attempt != 0 || st.Waiting {
		t.Errorf("Expected state cleared after cancel, got %+v", st)
	}
}

func TestContextCancellationAbortsWait(t *testing.T) {
	cfg := Config{MaxRetries: 3, BaseDelay: 10 * time.Second, Exponential: true}
	e := testEngine(cfg, Hooks{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- e.Do(ctx, classify.Context{}, func(ctx context.Context) error {
			return errors.New("connection refused")
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after context cancellation")
	}
}

func TestExponentialDelayDoublesAndCaps(t *testing.T) {
	cfg := Config{
		MaxRetries:  5,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    35 * time.Millisecond,
		Exponential: true,
		Jitter:      0, // deterministic
	}
	e := testEngine(cfg, Hooks{})
	docErr := domain.NewDocumentError(domain.ErrorKindNetwork, domain.SeverityMedium, "", "", true, nil)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 10 * time.Millisecond},
		{2, 20 * time.Millisecond},
		{3, 35 * time.Millisecond}, // capped from 40ms
		{4, 35 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := e.delayFor(tt.attempt, docErr); got != tt.want {
			t.Errorf("delayFor(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestSuggestedDelayUsedWhenNotExponential(t *testing.T) {
	cfg := Config{MaxRetries: 1, BaseDelay: 5 * time.Millisecond, Exponential: false}
	e := testEngine(cfg, Hooks{})

	withSuggestion := domain.NewDocumentError(domain.ErrorKindRateLimit, domain.SeverityMedium, "", "", true, nil).
		WithRetryDelay(42 * time.Millisecond)
	if got := e.delayFor(1, withSuggestion); got != 42*time.Millisecond {
		t.Errorf("Expected suggested delay 42ms, got %v", got)
	}

	without := domain.NewDocumentError(domain.ErrorKindNetwork, domain.SeverityMedium, "", "", true, nil)
	if got := e.delayFor(1, without); got != 5*time.Millisecond {
		t.Errorf("Expected base delay 5ms, got %v", got)
	}
}

func TestJitterStaysWithinBounds(t *testing.T) {
	cfg := Config{
		MaxRetries:  1,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Minute,
		Exponential: true,
		Jitter:      0.2,
	}
	e := testEngine(cfg, Hooks{})
	docErr := domain.NewDocumentError(domain.ErrorKindNetwork, domain.SeverityMedium, "", "", true, nil)

	for i := 0; i < 100; i++ {
		d := e.delayFor(1, docErr)
		if d < 80*time.Millisecond || d > 120*time.Millisecond {
			t.Fatalf("Jittered delay %v outside [80ms, 120ms]", d)
		}
	}
}
