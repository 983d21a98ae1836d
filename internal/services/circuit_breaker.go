package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/covid-pulse-go/internal/config"
)

// ErrUpstreamUnavailable is returned while the breaker is open.
var ErrUpstreamUnavailable = errors.New("upstream unavailable: circuit breaker is open")

// CircuitBreakerState is the state of a CircuitBreaker.
type CircuitBreakerState int

const (
	Closed CircuitBreakerState = iota
	Open
	HalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerStats counts calls seen by a breaker.
type CircuitBreakerStats struct {
	Calls        int64 `json:"calls"`
	Failures     int64 `json:"failures"`
	Rejected     int64 `json:"rejected"`
	StateChanges int64 `json:"state_changes"`
}

// CircuitBreaker stops calling a failing dependency for a cooldown period.
// After the cooldown a single trial call is let through; its outcome closes
// or reopens the breaker.
type CircuitBreaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	logger    *logrus.Logger
	now       func() time.Time

	mu       sync.Mutex
	state    CircuitBreakerState
	failures int
	openedAt time.Time
	inTrial  bool
	stats    CircuitBreakerStats
}

// NewCircuitBreaker creates a closed breaker. A threshold below one is
// treated as one.
func NewCircuitBreaker(name string, threshold int, cooldown time.Duration, logger *logrus.Logger) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CircuitBreaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		logger:    logger,
		now:       time.Now,
	}
}

// Execute runs fn unless the breaker is open. Cancellation of ctx is not
// counted as a failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	trial, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) && ctx.Err() != nil {
		cb.release(trial)
		return err
	}
	cb.record(trial, err)
	return err
}

func (cb *CircuitBreaker) admit() (trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.stats.Calls++
	switch cb.state {
	case Open:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			cb.stats.Rejected++
			return false, ErrUpstreamUnavailable
		}
		cb.setState(HalfOpen)
		fallthrough
	case HalfOpen:
		if cb.inTrial {
			cb.stats.Rejected++
			return false, ErrUpstreamUnavailable
		}
		cb.inTrial = true
		return true, nil
	}
	return false, nil
}

func (cb *CircuitBreaker) release(trial bool) {
	if !trial {
		return
	}
	cb.mu.Lock()
	cb.inTrial = false
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) record(trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if trial {
		cb.inTrial = false
	}
	if err == nil {
		cb.failures = 0
		if cb.state != Closed {
			cb.setState(Closed)
		}
		return
	}

	cb.stats.Failures++
	cb.failures++
	if cb.state == HalfOpen || cb.failures >= cb.threshold {
		cb.openedAt = cb.now()
		if cb.state != Open {
			cb.setState(Open)
		}
	}
	cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.name,
		"state":           cb.state.String(),
		"failures":        cb.failures,
	}).WithError(err).Warn("Circuit breaker recorded a failure")
}

func (cb *CircuitBreaker) setState(state CircuitBreakerState) {
	old := cb.state
	cb.state = state
	cb.stats.StateChanges++
	cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.name,
		"old_state":       old.String(),
		"new_state":       state.String(),
	}).Info("Circuit breaker state changed")
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == Open && cb.now().Sub(cb.openedAt) >= cb.cooldown {
		return HalfOpen
	}
	return cb.state
}

// Stats returns a snapshot of the counters.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stats
}

// Reset closes the breaker and clears the failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.inTrial = false
	if cb.state != Closed {
		cb.setState(Closed)
	}
}

// NewUpstreamBreaker creates the breaker guarding upstream fetches from the
// settings of cfg.
func NewUpstreamBreaker(cfg config.SourceConfig, logger *logrus.Logger) *CircuitBreaker {
	return NewCircuitBreaker("upstream", cfg.FailureThreshold, cfg.GetCooldown(), logger)
}
