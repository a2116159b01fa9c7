// Package resilience classifies source failures and short-circuits
// order sources that keep failing.
package resilience

import (
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// State is the state of a Breaker.
type State int

const (
	// Closed lets every request through.
	Closed State = iota
	// Open rejects requests until the reset timeout elapses.
	Open
	// HalfOpen lets one trial request through.
	HalfOpen
)

func (s State) String() string {
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

// ErrCircuitOpen is returned by Allow while the breaker is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// BreakerConfig controls when a Breaker opens and how long it stays open.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker. Zero or less disables the breaker.
	FailureThreshold int

	// ResetTimeout is how long the breaker stays open before a trial request.
	ResetTimeout time.Duration
}

// DefaultBreakerConfig returns the breaker settings used when none are configured.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
	}
}

// Breaker tracks consecutive failures for one order source. It is confined
// to the reconciliation goroutine and does no locking.
type Breaker struct {
	name  string
	cfg   BreakerConfig
	state State

	failures int
	openedAt time.Time

	now func() time.Time
}

// NewBreaker creates a closed breaker for the named source.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultBreakerConfig().ResetTimeout
	}
	return &Breaker{name: name, cfg: cfg, now: time.Now}
}

// Allow returns ErrCircuitOpen if the source should not be called right now.
// An open breaker whose reset timeout has elapsed moves to half-open and
// admits one trial request.
func (b *Breaker) Allow() error {
	if b == nil || b.cfg.FailureThreshold <= 0 {
		return nil
	}
	if b.state == Open {
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return ErrCircuitOpen
		}
		b.transition(HalfOpen)
	}
	return nil
}

// Record feeds the outcome of one call into the breaker. Context
// cancellation is not counted as a source failure.
func (b *Breaker) Record(err error) {
	if b == nil || b.cfg.FailureThreshold <= 0 {
		return
	}
	if err == nil {
		b.failures = 0
		if b.state != Closed {
			b.transition(Closed)
		}
		return
	}
	if Classify(err) == "cancelled" {
		return
	}

	b.failures++
	if b.state == HalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.openedAt = b.now()
		if b.state != Open {
			b.transition(Open)
		}
	}
}

// State returns the current state without side effects.
func (b *Breaker) State() State {
	if b == nil {
		return Closed
	}
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	if b == nil {
		return 0
	}
	return b.failures
}

func (b *Breaker) transition(to State) {
	zap.L().Info("source circuit state change",
		zap.String("source", b.name),
		zap.Stringer("from", b.state),
		zap.Stringer("to", to),
		zap.Int("failures", b.failures),
	)
	b.state = to
}
