// Package circuitbreaker stops calling a delivery provider that keeps failing.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State of a breaker.
//
//	Closed -> Open:      failures reach MaxFailures
//	Open -> HalfOpen:    RecoveryTimeout elapsed since the last failure
//	HalfOpen -> Closed:  a probe succeeds
//	HalfOpen -> Open:    a probe fails
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{"closed", "open", "half-open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config configures the breaker of one delivery channel.
type Config struct {
	// Name is the channel (push, email, webhook).
	Name            string
	MaxFailures     int
	RecoveryTimeout time.Duration
	// Probes is how many calls a half-open breaker lets through.
	Probes int
	// OnStateChange is called with the lock held; keep it cheap.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns the defaults used for every delivery channel.
func DefaultConfig(channel string) Config {
	return Config{Name: channel, MaxFailures: 5, RecoveryTimeout: 30 * time.Second, Probes: 1}
}

// CircuitBreaker counts consecutive failed deliveries on one channel.
type CircuitBreaker struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu          sync.Mutex
	state       State
	streak      int
	lastFailure time.Time
	probes      int
}

// New creates a closed breaker. Zero config fields take the defaults.
func New(cfg Config, logger *zap.Logger) *CircuitBreaker {
	def := DefaultConfig(cfg.Name)
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}
	if cfg.Probes <= 0 {
		cfg.Probes = def.Probes
	}
	return &CircuitBreaker{cfg: cfg, logger: logger.With(zap.String("channel", cfg.Name)), now: time.Now}
}

// Allow reports whether a delivery may be attempted now.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) < cb.cfg.RecoveryTimeout {
			return false
		}
		cb.moveTo(StateHalfOpen)
		cb.logger.Info("circuit breaker letting a probe through")
	}

	if cb.probes >= cb.cfg.Probes {
		return false
	}
	cb.probes++
	return true
}

// RecordSuccess ends the failure streak and closes a half-open breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.streak = 0
	if cb.state == StateHalfOpen {
		cb.moveTo(StateClosed)
		cb.logger.Info("circuit breaker closed, provider recovered")
	}
}

// RecordFailure extends the failure streak. A failed probe reopens at once.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.streak++
	cb.lastFailure = cb.now()

	switch {
	case cb.state == StateHalfOpen:
		cb.moveTo(StateOpen)
		cb.logger.Warn("circuit breaker re-opened, probe failed")
	case cb.state == StateClosed && cb.streak >= cb.cfg.MaxFailures:
		cb.moveTo(StateOpen)
		cb.logger.Warn("circuit breaker opened", zap.Int("failures", cb.streak))
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the channel name.
func (cb *CircuitBreaker) Name() string {
	return cb.cfg.Name
}

// moveTo must be called with the lock held.
func (cb *CircuitBreaker) moveTo(next State) {
	if cb.state == next {
		return
	}
	prev := cb.state
	cb.state = next
	cb.probes = 0
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, prev, next)
	}
}
