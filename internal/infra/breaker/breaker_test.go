package breaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func failingOp(ctx context.Context) error { return errBoom }
func okOp(ctx context.Context) error      { return nil }

func testConfig() Config {
	return Config{
		FailureThreshold: 3,
		RecoveryTimeout:  50 * time.Millisecond,
		HalfOpenMaxCalls: 1,
		SuccessThreshold: 2,
		MonitoringPeriod: 0, // no monitor in tests
	}
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	b := New("test", testConfig(), Hooks{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Execute(ctx, failingOp); !errors.Is(err, errBoom) {
			t.Fatalf("Expected operation error, got %v", err)
		}
	}

	if b.State() != StateOpen {
		t.Errorf("Expected open after 3 failures, got %v", b.State())
	}
}

func TestOpenRejectsWithoutInvokingOp(t *testing.T) {
	b := New("test", testConfig(), Hooks{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, failingOp)
	}

	invoked := false
	err := b.Execute(ctx, func(ctx context.Context) error {
		invoked = true
		return nil
	})

	var openErr *OpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("Expected *OpenError, got %v", err)
	}
	if invoked {
		t.Error("Expected op not to be invoked while open")
	}
	if openErr.RetryAfter <= 0 {
		t.Errorf("Expected positive RetryAfter, got %v", openErr.RetryAfter)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := New("test", testConfig(), Hooks{})
	ctx := context.Background()

	_ = b.Execute(ctx, failingOp)
	_ = b.Execute(ctx, failingOp)
	_ = b.Execute(ctx, okOp)
	_ = b.Execute(ctx, failingOp)
	_ = b.Execute(ctx, failingOp)

	if b.State() != StateClosed {
		t.Errorf("Expected closed after success broke the failure run, got %v", b.State())
	}
}

func TestHalfOpenProbeAndClose(t *testing.T) {
	b := New("test", testConfig(), Hooks{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, failingOp)
	}
	if b.State() != StateOpen {
		t.Fatalf("Expected open, got %v", b.State())
	}

	time.Sleep(60 * time.Millisecond)

	// First probe succeeds but success threshold is 2.
	if err := b.Execute(ctx, okOp); err != nil {
		t.Fatalf("Expected probe to be admitted, got %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Errorf("Expected half_open after one probe success, got %v", b.State())
	}

	if err := b.Execute(ctx, okOp); err != nil {
		t.Fatalf("Expected second probe to be admitted, got %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("Expected closed after 2 probe successes, got %v", b.State())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := New("test", testConfig(), Hooks{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, failingOp)
	}
	time.Sleep(60 * time.Millisecond)

	if err := b.Execute(ctx, failingOp); !errors.Is(err, errBoom) {
		t.Fatalf("Expected probe to run and fail, got %v", err)
	}
	if b.State() != StateOpen {
		t.Errorf("Expected open after probe failure, got %v", b.State())
	}

	// The failed probe restarts the cooldown; an immediate call is rejected.
	var openErr *OpenError
	if err := b.Execute(ctx, okOp); !errors.As(err, &openErr) {
		t.Errorf("Expected rejection during fresh cooldown, got %v", err)
	}
}

func TestHalfOpenProbeCap(t *testing.T) {
	b := New("test", testConfig(), Hooks{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, failingOp)
	}
	time.Sleep(60 * time.Millisecond)

	// Occupy the single probe slot with a slow call.
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Execute(ctx, func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	var openErr *OpenError
	if err := b.Execute(ctx, okOp); !errors.As(err, &openErr) {
		t.Errorf("Expected second concurrent probe to be rejected, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("Expected slow probe to succeed, got %v", err)
	}
}

func TestResetAndForceOpen(t *testing.T) {
	b := New("test", testConfig(), Hooks{})
	ctx := context.Background()

	b.ForceOpen()
	var openErr *OpenError
	if err := b.Execute(ctx, okOp); !errors.As(err, &openErr) {
		t.Errorf("Expected rejection after ForceOpen, got %v", err)
	}

	b.Reset()
	if b.State() != StateClosed {
		t.Errorf("Expected closed after Reset, got %v", b.State())
	}

	m := b.GetMetrics()
	if m.TotalCalls != 0 || m.Successes != 0 || m.Failures != 0 {
		t.Errorf("Expected zeroed call counters after Reset, got %d/%d/%d",
			m.TotalCalls, m.Successes, m.Failures)
	}
	if m.StateTransitions != 0 {
		t.Errorf("Expected zeroed transition counter after Reset, got %d", m.StateTransitions)
	}
	if !m.LastSuccessAt.IsZero() || !m.LastFailureAt.IsZero() {
		t.Errorf("Expected cleared timestamps after Reset, got %v / %v",
			m.LastSuccessAt, m.LastFailureAt)
	}

	if err := b.Execute(ctx, okOp); err != nil {
		t.Errorf("Expected call to pass after Reset, got %v", err)
	}
}

func TestMonitorRollsWindowWithoutTransition(t *testing.T) {
	cfg := testConfig()
	cfg.MonitoringPeriod = 20 * time.Millisecond
	b := New("test", cfg, Hooks{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = b.Execute(ctx, failingOp)
	_ = b.Execute(ctx, failingOp)
	if m := b.GetMetrics(); m.WindowFailures != 2 {
		t.Fatalf("Expected 2 windowed failures, got %d", m.WindowFailures)
	}

	b.StartMonitor(ctx, nil)

	deadline := time.Now().Add(2 * time.Second)
	for b.GetMetrics().WindowFailures != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Window never rolled to 0")
		}
		time.Sleep(5 * time.Millisecond)
	}

	m := b.GetMetrics()
	if m.State != StateClosed {
		t.Errorf("Expected closed after window roll, got %v", m.State)
	}
	if m.StateTransitions != 0 {
		t.Errorf("Expected no transitions from the monitor tick, got %d", m.StateTransitions)
	}
	if m.Failures != 2 {
		t.Errorf("Expected lifetime failure count untouched, got %d", m.Failures)
	}
}

func TestStateChangeHook(t *testing.T) {
	var changes []string
	hooks := Hooks{
		OnStateChange: func(name string, from, to State) {
			changes = append(changes, from.String()+"->"+to.String())
		},
	}
	b := New("test", testConfig(), hooks)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, failingOp)
	}
	time.Sleep(60 * time.Millisecond)
	_ = b.Execute(ctx, okOp)
	_ = b.Execute(ctx, okOp)

	want := []string{"closed->open", "open->half_open", "half_open->closed"}
	if len(changes) != len(want) {
		t.Fatalf("Expected %d transitions, got %d: %v", len(want), len(changes), changes)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("Transition %d: expected %s, got %s", i, want[i], changes[i])
		}
	}
}

func TestMetricsSnapshot(t *testing.T) {
	b := New("test", testConfig(), Hooks{})
	ctx := context.Background()

	_ = b.Execute(ctx, okOp)
	_ = b.Execute(ctx, failingOp)

	m := b.GetMetrics()
	if m.TotalCalls != 2 {
		t.Errorf("Expected 2 total calls, got %d", m.TotalCalls)
	}
	if m.Successes != 1 || m.Failures != 1 {
		t.Errorf("Expected 1 success and 1 failure, got %d/%d", m.Successes, m.Failures)
	}
	if m.WindowFailures != 1 {
		t.Errorf("Expected 1 windowed failure, got %d", m.WindowFailures)
	}
}
