// Package breaker provides a generic three-state circuit breaker and a retry
// harness with jittered exponential backoff, shared by the WebDAV sync engine
// and the extraction fallback strategy.
package breaker

import (
	"sync"
	"time"
)

// State is one of the three circuit breaker states.
type State int

const (
	StateClosed State = iota
	StateOpen
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
	default:
		return "unknown"
	}
}

// Config configures a CircuitBreaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips
	// Closed -> Open.
	FailureThreshold int
	// RecoveryTimeout is how long the breaker stays Open before allowing a
	// single probe request (Open -> HalfOpen).
	RecoveryTimeout time.Duration
	// SuccessThresholdPercent is the percentage of successful probes (out of
	// at least MinProbes) required to close the breaker again.
	SuccessThresholdPercent float64
	// MinProbes is the minimum number of HalfOpen probes evaluated before the
	// breaker may close again; a single HalfOpen failure reopens it
	// regardless of this count.
	MinProbes int
}

// DefaultConfig matches the spec's default thresholds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:        5,
		RecoveryTimeout:         30 * time.Second,
		SuccessThresholdPercent: 50,
		MinProbes:               10,
	}
}

// CircuitBreaker is a generic transient-failure insulator keyed implicitly by
// one instance per protected operation (callers keep one instance per method
// name, per document type, etc).
type CircuitBreaker struct {
	cfg Config

	mu               sync.Mutex
	state            State
	consecutiveFails int
	lastFailureTime  time.Time
	probeSuccesses   int
	probeTotal       int
}

// New constructs a closed circuit breaker.
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultConfig().RecoveryTimeout
	}
	if cfg.SuccessThresholdPercent <= 0 {
		cfg.SuccessThresholdPercent = DefaultConfig().SuccessThresholdPercent
	}
	if cfg.MinProbes <= 0 {
		cfg.MinProbes = DefaultConfig().MinProbes
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// ErrCircuitOpen is returned by Allow when the breaker is tripped.
type ErrCircuitOpen struct{}

func (ErrCircuitOpen) Error() string { return "circuit open" }

// Allow reports whether a call may proceed, transitioning Open -> HalfOpen
// when the recovery timeout has elapsed.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(b.lastFailureTime) >= b.cfg.RecoveryTimeout {
			b.state = StateHalfOpen
			b.probeSuccesses = 0
			b.probeTotal = 0
			return nil
		}
		return ErrCircuitOpen{}
	case StateHalfOpen:
		return nil
	default:
		return nil
	}
}

// RecordSuccess reports a successful call.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.consecutiveFails = 0
	case StateHalfOpen:
		b.probeTotal++
		b.probeSuccesses++
		if b.probeTotal >= b.cfg.MinProbes {
			successPct := 100 * float64(b.probeSuccesses) / float64(b.probeTotal)
			if successPct >= b.cfg.SuccessThresholdPercent {
				b.state = StateClosed
				b.consecutiveFails = 0
			}
		}
	}
}

// RecordFailure reports a failed call.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureTime = time.Now()

	switch b.state {
	case StateClosed:
		b.consecutiveFails++
		if b.consecutiveFails >= b.cfg.FailureThreshold {
			b.state = StateOpen
		}
	case StateHalfOpen:
		// Any failure during a probe reopens the circuit immediately.
		b.state = StateOpen
		b.probeSuccesses = 0
		b.probeTotal = 0
	}
}

// State returns the current state, for diagnostics.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
