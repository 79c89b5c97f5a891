package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrOpenCircuit is returned when the circuit breaker refuses a request.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State represents the current breaker state.
type State int

const (
	// Closed accepts all requests and tracks failures.
	Closed State = iota
	// Open rejects requests until the cool-off period expires.
	Open
	// HalfOpen allows a limited number of probes to determine recovery.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker implements a failure-ratio circuit breaker for the gateway client.
// A persistently failing upstream trips the breaker so checkout requests fail
// fast instead of stacking up against a dead endpoint.
type Breaker struct {
	mu           sync.Mutex
	state        State
	failures     int
	successes    int
	minRequests  int
	failureRatio float64
	openedAt     time.Time
	openFor      time.Duration
	logger       zerolog.Logger
}

// NewBreaker constructs a breaker that opens when the rolling failure ratio
// exceeds the threshold once the minimum number of requests is observed.
func NewBreaker(minRequests int, failureRatio float64, openFor time.Duration) *Breaker {
	if minRequests <= 0 {
		minRequests = 1
	}
	if failureRatio <= 0 {
		failureRatio = 0.5
	}
	if failureRatio > 1 {
		failureRatio = 1
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &Breaker{
		state:        Closed,
		minRequests:  minRequests,
		failureRatio: failureRatio,
		openFor:      openFor,
		logger:       zerolog.Nop(),
	}
}

// WithLogger attaches a logger for state-change events.
func (b *Breaker) WithLogger(logger zerolog.Logger) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = logger
	return b
}

// Allow reports whether a request may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.openedAt) >= b.openFor {
			b.transition(HalfOpen)
			return true
		}
		return false
	case HalfOpen:
		return true
	default:
		return true
	}
}

// Report records the outcome of a request and updates breaker state.
func (b *Breaker) Report(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if success {
		b.successes++
	} else {
		b.failures++
	}
	switch b.state {
	case HalfOpen:
		if success {
			b.reset()
			b.transition(Closed)
		} else {
			b.openedAt = time.Now()
			b.transition(Open)
		}
	case Closed:
		total := b.failures + b.successes
		if total >= b.minRequests && float64(b.failures)/float64(total) >= b.failureRatio {
			b.openedAt = time.Now()
			b.transition(Open)
		}
	}
}

// CurrentState returns the state for tests and logging.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) reset() {
	b.failures = 0
	b.successes = 0
}

func (b *Breaker) transition(next State) {
	if b.state == next {
		return
	}
	b.logger.Warn().
		Str("from", b.state.String()).
		Str("to", next.String()).
		Msg("circuit breaker state change")
	b.state = next
}
