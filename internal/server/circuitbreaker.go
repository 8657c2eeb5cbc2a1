package server

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// CircuitState represents the current state of a circuit breaker.
type CircuitState int

const (
	// StateClosed: calls flow normally.
	StateClosed CircuitState = iota
	// StateOpen: calls fail fast.
	StateOpen
	// StateHalfOpen: one probe call is allowed through.
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

func (s CircuitState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *CircuitState) UnmarshalText(b []byte) error {
	for _, st := range []CircuitState{StateClosed, StateOpen, StateHalfOpen} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown circuit state %q", b)
}

var (
	// ErrCircuitOpen is returned when circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTooManyRequests is returned when a half-open circuit already has a
	// probe in flight.
	ErrTooManyRequests = errors.New("too many requests while circuit is half-open")
)

func isCircuitRejection(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyRequests)
}

// CircuitBreaker stops calling a failing dependency for a cool-down period
// after maxFailures consecutive failures.
type CircuitBreaker struct {
	name   string
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	maxFailures uint32
	timeout     time.Duration
	maxHalfOpen uint32

	state            CircuitState
	failures         uint32
	lastFailureTime  time.Time
	halfOpenRequests uint32

	totalRequests    uint64
	successRequests  uint64
	failedRequests   uint64
	rejectedRequests uint64
}

func NewCircuitBreaker(name string, maxFailures uint32, timeout time.Duration, logger *slog.Logger) *CircuitBreaker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if maxFailures == 0 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		name:        name,
		logger:      logger,
		now:         time.Now,
		maxFailures: maxFailures,
		timeout:     timeout,
		maxHalfOpen: 1,
		state:       StateClosed,
	}
}

// Execute runs fn unless the circuit is open. fn runs without the lock held.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.onFailure()
		return err
	}
	cb.onSuccess()
	return nil
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailureTime) <= cb.timeout {
			cb.rejectedRequests++
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.halfOpenRequests = 0
		cb.logger.Info("circuit breaker half-open", "breaker", cb.name, "timeout_elapsed", cb.timeout.String())
		fallthrough
	case StateHalfOpen:
		if cb.halfOpenRequests >= cb.maxHalfOpen {
			cb.rejectedRequests++
			return ErrTooManyRequests
		}
		cb.halfOpenRequests++
	}
	return nil
}

func (cb *CircuitBreaker) onSuccess() {
	cb.successRequests++
	cb.failures = 0

	if cb.state == StateHalfOpen {
		cb.state = StateClosed
		cb.halfOpenRequests = 0
		cb.logger.Info("circuit breaker closed", "breaker", cb.name, "reason", "recovery_successful")
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.failedRequests++
	cb.failures++
	cb.lastFailureTime = cb.now()

	if cb.state == StateHalfOpen {
		cb.state = StateOpen
		cb.halfOpenRequests = 0
		cb.logger.Warn("circuit breaker reopened", "breaker", cb.name, "timeout", cb.timeout.String())
		return
	}
	if cb.failures >= cb.maxFailures && cb.state != StateOpen {
		cb.state = StateOpen
		cb.logger.Warn("circuit breaker opened",
			"breaker", cb.name,
			"failures", cb.failures,
			"max_failures", cb.maxFailures,
			"timeout", cb.timeout.String(),
		)
	}
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns a snapshot of the breaker's counters.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerStats{
		State:            cb.state,
		Failures:         cb.failures,
		TotalRequests:    cb.totalRequests,
		SuccessRequests:  cb.successRequests,
		FailedRequests:   cb.failedRequests,
		RejectedRequests: cb.rejectedRequests,
		LastFailureTime:  cb.lastFailureTime,
	}
}

// CircuitBreakerStats is a point-in-time view of a breaker, reported by
// the health endpoint.
type CircuitBreakerStats struct {
	State            CircuitState `json:"state"`
	Failures         uint32       `json:"failures"`
	TotalRequests    uint64       `json:"total_requests"`
	SuccessRequests  uint64       `json:"success_requests"`
	FailedRequests   uint64       `json:"failed_requests"`
	RejectedRequests uint64       `json:"rejected_requests"`
	LastFailureTime  time.Time    `json:"last_failure_time"`
}
