package notification

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/irfndi/distance-pairs/internal/logging"
	"github.com/sirupsen/logrus"
)

// ErrCircuitOpen is returned while a breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState is the state of a CircuitBreaker.
type BreakerState int

const (
	Closed BreakerState = iota
	Open
	HalfOpen
)

func (s BreakerState) String() string {
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

// BreakerConfig tunes a CircuitBreaker. Zero fields take defaults.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures that open the circuit
	SuccessThreshold int           // half-open successes that close it again
	OpenTimeout      time.Duration // time spent open before a trial call
	MaxTrialCalls    int           // concurrent calls allowed while half-open
}

// BreakerStats counts calls through a CircuitBreaker.
type BreakerStats struct {
	Total        int64     `json:"total"`
	Succeeded    int64     `json:"succeeded"`
	Failed       int64     `json:"failed"`
	Rejected     int64     `json:"rejected"`
	StateChanges int64     `json:"state_changes"`
	LastFailure  time.Time `json:"last_failure"`
}

// CircuitBreaker stops calling a failing dependency until OpenTimeout has
// passed, then lets a few trial calls decide whether to close again.
type CircuitBreaker struct {
	name   string
	config BreakerConfig
	logger *logging.StandardLogger
	now    func() time.Time

	mu        sync.Mutex
	state     BreakerState
	failures  int
	successes int
	inFlight  int
	openedAt  time.Time
	stats     BreakerStats
}

func NewCircuitBreaker(name string, config BreakerConfig, logger *logging.StandardLogger) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = time.Minute
	}
	if config.MaxTrialCalls <= 0 {
		config.MaxTrialCalls = 1
	}
	if logger == nil {
		logger = logging.NewStandardLoggerFrom(nil)
	}
	return &CircuitBreaker{name: name, config: config, logger: logger, now: time.Now}
}

// Execute runs fn unless the circuit is open. The lock is not held while fn runs.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !cb.acquire() {
		return ErrCircuitOpen
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) acquire() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.stats.Total++

	if cb.state == Open && cb.now().Sub(cb.openedAt) >= cb.config.OpenTimeout {
		cb.setState(HalfOpen)
	}
	switch cb.state {
	case Open:
		cb.stats.Rejected++
		return false
	case HalfOpen:
		if cb.inFlight >= cb.config.MaxTrialCalls {
			cb.stats.Rejected++
			return false
		}
	}
	cb.inFlight++
	return true
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.inFlight--

	if err == nil {
		cb.stats.Succeeded++
		switch cb.state {
		case Closed:
			cb.failures = 0
		case HalfOpen:
			cb.successes++
			if cb.successes >= cb.config.SuccessThreshold {
				cb.setState(Closed)
			}
		}
		return
	}

	cb.stats.Failed++
	cb.stats.LastFailure = cb.now()
	switch cb.state {
	case Closed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.setState(Open)
		}
	case HalfOpen:
		cb.setState(Open)
	}
}

// setState must be called with mu held.
func (cb *CircuitBreaker) setState(next BreakerState) {
	if cb.state == next {
		return
	}
	prev := cb.state
	cb.state = next
	cb.failures = 0
	cb.successes = 0
	cb.stats.StateChanges++
	if next == Open {
		cb.openedAt = cb.now()
	}
	cb.logger.WithComponent("circuit_breaker").WithFields(logrus.Fields{
		"breaker":   cb.name,
		"old_state": prev.String(),
		"new_state": next.String(),
	}).Info("Circuit breaker state changed")
}

func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stats
}

// Reset closes the circuit.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(Closed)
}
