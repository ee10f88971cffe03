// Package breaker implements a three-state circuit breaker used to guard
// calls to flaky external dependencies (OCR/vision providers).
//
// One breaker instance protects one dependency and is shared by every
// caller targeting it; all state lives behind a single mutex.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State is the breaker's position in the protection state machine.
type State int

const (
	// StateClosed indicates normal operation: calls pass through.
	StateClosed State = iota
	// StateOpen indicates calls are rejected without touching the dependency.
	StateOpen
	// StateHalfOpen indicates a bounded number of probe calls are permitted.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// Config controls the state transition thresholds.
type Config struct {
	FailureThreshold int           // consecutive failures in CLOSED before opening
	RecoveryTimeout  time.Duration // cooldown before OPEN admits a probe
	HalfOpenMaxCalls int           // max concurrent probes in HALF_OPEN
	SuccessThreshold int           // consecutive probe successes to close
	MonitoringPeriod time.Duration // window roll / gauge publish interval
}

// DefaultConfig suits a generic dependency.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		HalfOpenMaxCalls: 2,
		SuccessThreshold: 2,
		MonitoringPeriod: 30 * time.Second,
	}
}

// ProviderConfig suits OCR/vision providers, which fail in bursts and
// recover quickly; a tighter threshold and shorter cooldown work better.
func ProviderConfig() Config {
	return Config{
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenMaxCalls: 1,
		SuccessThreshold: 2,
		MonitoringPeriod: 15 * time.Second,
	}
}

// Metrics is a read-only snapshot of the breaker's counters.
type Metrics struct {
	State            State
	TotalCalls       int64
	Successes        int64
	Failures         int64
	WindowFailures   int // failures in the current window
	LastSuccessAt    time.Time
	LastFailureAt    time.Time
	StateTransitions int64
}

// OpenError is returned when a call is rejected outright because the
// breaker is open. The dependency is never invoked.
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %s is open, retry after %s", e.Name, e.RetryAfter.Round(time.Millisecond))
}

// Hooks are optional observer callbacks. They are invoked outside the
// breaker's lock and must not call back into the breaker synchronously.
type Hooks struct {
	OnStateChange func(name string, from, to State)
	OnSuccess     func(name string, latency time.Duration)
	OnFailure     func(name string, err error)
}

// Breaker guards a single dependency.
type Breaker struct {
	name  string
	cfg   Config
	hooks Hooks

	mu                sync.Mutex
	state             State
	failures          int // windowed failure counter (CLOSED)
	halfOpenCalls     int // probes admitted in the current HALF_OPEN episode
	halfOpenSuccesses int
	lastFailureAt     time.Time
	lastSuccessAt     time.Time
	totalCalls        int64
	successCount      int64
	failureCount      int64
	transitions       int64
}

// New creates a breaker in the CLOSED state.
func New(name string, cfg Config, hooks Hooks) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultConfig().RecoveryTimeout
	}
	return &Breaker{name: name, cfg: cfg, hooks: hooks, state: StateClosed}
}

// Name returns the protected dependency's name.
func (b *Breaker) Name() string {
	return b.name
}

// Execute runs op through the breaker. It returns op's own error when the
// call is attempted and fails, or an *OpenError when rejected outright.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}

	start := time.Now()
	err := op(ctx)
	latency := time.Since(start)

	if err != nil {
		b.recordFailure()
		if b.hooks.OnFailure != nil {
			b.hooks.OnFailure(b.name, err)
		}
		return err
	}

	b.recordSuccess()
	if b.hooks.OnSuccess != nil {
		b.hooks.OnSuccess(b.name, latency)
	}
	return nil
}

// beforeCall admits or rejects the call, performing the OPEN -> HALF_OPEN
// transition when the cooldown has elapsed.
func (b *Breaker) beforeCall() error {
	b.mu.Lock()

	switch b.state {
	case StateOpen:
		elapsed := time.Since(b.lastFailureAt)
		if elapsed < b.cfg.RecoveryTimeout {
			remaining := b.cfg.RecoveryTimeout - elapsed
			b.mu.Unlock()
			return &OpenError{Name: b.name, RetryAfter: remaining}
		}
		b.transition(StateHalfOpen)
		b.halfOpenCalls = 1
		b.halfOpenSuccesses = 0

	case StateHalfOpen:
		if b.halfOpenCalls >= b.cfg.HalfOpenMaxCalls {
			b.mu.Unlock()
			return &OpenError{Name: b.name, RetryAfter: 0}
		}
		b.halfOpenCalls++
	}

	b.totalCalls++
	from, to, changed := b.pendingTransition()
	b.mu.Unlock()

	if changed && b.hooks.OnStateChange != nil {
		b.hooks.OnStateChange(b.name, from, to)
	}
	return nil
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	b.successCount++
	b.lastSuccessAt = time.Now()

	var from, to State
	changed := false

	switch b.state {
	case StateHalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.SuccessThreshold {
			from, to = b.state, StateClosed
			b.transition(StateClosed)
			b.failures = 0
			b.halfOpenCalls = 0
			b.halfOpenSuccesses = 0
			changed = true
		} else {
			// The probe finished; free its slot for the next one.
			b.halfOpenCalls--
		}
	case StateClosed:
		// A success breaks the consecutive-failure run.
		b.failures = 0
	}
	b.mu.Unlock()

	if changed && b.hooks.OnStateChange != nil {
		b.hooks.OnStateChange(b.name, from, to)
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	b.failureCount++
	b.lastFailureAt = time.Now()

	var from, to State
	changed := false

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			from, to = b.state, StateOpen
			b.transition(StateOpen)
			changed = true
		}
	case StateHalfOpen:
		// A single probe failure reopens immediately.
		from, to = b.state, StateOpen
		b.transition(StateOpen)
		b.halfOpenCalls = 0
		b.halfOpenSuccesses = 0
		changed = true
	}
	b.mu.Unlock()

	if changed && b.hooks.OnStateChange != nil {
		b.hooks.OnStateChange(b.name, from, to)
	}
}

// transition must be called with the lock held.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	b.state = to
	b.transitions++
}

// pendingTransition reports the OPEN -> HALF_OPEN change performed inside
// beforeCall so the hook can fire after unlock. Must hold the lock.
func (b *Breaker) pendingTransition() (from, to State, changed bool) {
	// Only the open->half-open edge is deferred this way; the counter was
	// already bumped by transition.
	if b.state == StateHalfOpen && b.halfOpenCalls == 1 && b.halfOpenSuccesses == 0 {
		return StateOpen, StateHalfOpen, true
	}
	return 0, 0, false
}

// GetMetrics returns a snapshot of the breaker's counters.
func (b *Breaker) GetMetrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Metrics{
		State:            b.state,
		TotalCalls:       b.totalCalls,
		Successes:        b.successCount,
		Failures:         b.failureCount,
		WindowFailures:   b.failures,
		LastSuccessAt:    b.lastSuccessAt,
		LastFailureAt:    b.lastFailureAt,
		StateTransitions: b.transitions,
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker CLOSED and zeroes all counters. Manual override.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.transition(StateClosed)
	b.failures = 0
	b.halfOpenCalls = 0
	b.halfOpenSuccesses = 0
	b.totalCalls = 0
	b.successCount = 0
	b.failureCount = 0
	b.transitions = 0
	b.lastSuccessAt = time.Time{}
	b.lastFailureAt = time.Time{}
	changed := from != StateClosed
	b.mu.Unlock()

	if changed && b.hooks.OnStateChange != nil {
		b.hooks.OnStateChange(b.name, from, StateClosed)
	}
}

// ForceOpen forces the breaker OPEN, e.g. to take a provider out of
// rotation for maintenance. The cooldown clock starts now.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	from := b.state
	b.transition(StateOpen)
	b.lastFailureAt = time.Now()
	changed := from != StateOpen
	b.mu.Unlock()

	if changed && b.hooks.OnStateChange != nil {
		b.hooks.OnStateChange(b.name, from, StateOpen)
	}
}

// StartMonitor runs the periodic monitoring tick until ctx is done. The
// tick rolls the windowed failure counter when the last failure has aged
// out and invokes onTick for observability; it never changes state.
func (b *Breaker) StartMonitor(ctx context.Context, onTick func(Metrics)) {
	period := b.cfg.MonitoringPeriod
	if period <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.rollWindow()
				if onTick != nil {
					onTick(b.GetMetrics())
				}
			}
		}
	}()
}

func (b *Breaker) rollWindow() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateClosed && b.failures > 0 &&
		time.Since(b.lastFailureAt) > b.cfg.MonitoringPeriod {
		b.failures = 0
	}
}
