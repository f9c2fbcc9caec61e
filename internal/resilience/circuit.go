// Package resilience provides retry and circuit breaker patterns for upstream
// calls and analysis engines.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState is the state of an engine's circuit breaker.
type CircuitState int

const (
	// CircuitClosed passes every call to the engine.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until the reset timeout passes.
	CircuitOpen
	// CircuitHalfOpen admits one trial call at a time.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected because the circuit is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// IsCircuitOpen reports whether err is a rejection by an open breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// CircuitBreakerConfig controls circuit breaker behavior.
type CircuitBreakerConfig struct {
	// Name identifies the guarded engine in logs.
	Name string
	// FailureThreshold is the number of consecutive engine failures that
	// opens the circuit.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before a trial call.
	ResetTimeout time.Duration
}

// DefaultCircuitBreakerConfig returns the defaults used for analysis engines.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// CircuitBreaker guards one analysis engine. It is shared by concurrent
// acquisitions, so a crashed OCR or speech-to-text engine is reported
// unavailable at once instead of costing every acquisition its timeout.
//
// Only engine failures count. A call that ends because its caller's context
// ended says nothing about the engine and leaves the counters alone.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	trialing bool

	now func() time.Time
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// ExecuteVal runs fn through cb. It returns ErrCircuitOpen without calling
// fn while the circuit is open or a half-open trial is in flight.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.admit(); err != nil {
		return zero, eris.Wrapf(err, "engine %s", cb.cfg.Name)
	}
	val, err := fn(ctx)
	cb.record(err)
	return val, err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return ErrCircuitOpen
		}
		cb.transition(CircuitHalfOpen)
	case CircuitHalfOpen:
		if cb.trialing {
			return ErrCircuitOpen
		}
	default:
		return nil
	}
	cb.trialing = true
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case err == nil:
		cb.failures = 0
		cb.trialing = false
		if cb.state != CircuitClosed {
			cb.transition(CircuitClosed)
		}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		cb.trialing = false
	default:
		cb.failures++
		cb.trialing = false
		if cb.state == CircuitHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
			cb.openedAt = cb.now()
			if cb.state != CircuitOpen {
				cb.transition(CircuitOpen)
			}
		}
	}
}

func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	log := zap.L().With(
		zap.String("engine", cb.cfg.Name),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
	if to == CircuitOpen {
		log.Warn("engine circuit opened", zap.Int("consecutive_failures", cb.failures))
		return
	}
	log.Info("engine circuit state change")
}

// ServiceBreakers holds one circuit breaker per analysis engine, shared
// across acquisitions.
type ServiceBreakers struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	cfg      CircuitBreakerConfig
}

// NewServiceBreakers creates a registry of per-engine circuit breakers.
func NewServiceBreakers(cfg CircuitBreakerConfig) *ServiceBreakers {
	return &ServiceBreakers{
		breakers: make(map[string]*CircuitBreaker),
		cfg:      cfg,
	}
}

// Get returns the breaker for engine, creating it on first use.
func (sb *ServiceBreakers) Get(engine string) *CircuitBreaker {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if cb, ok := sb.breakers[engine]; ok {
		return cb
	}
	cfg := sb.cfg
	cfg.Name = engine
	cb := NewCircuitBreaker(cfg)
	sb.breakers[engine] = cb
	return cb
}
