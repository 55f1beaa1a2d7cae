// Package breaker provides a small circuit breaker used around the durable
// cache tier. When the store fails repeatedly the breaker trips so that
// request paths stop paying a timeout per lookup; after a cooldown a
// limited number of probes decide whether the store has recovered.
//
// States:
//   - Healthy: operations flow normally; failures are counted.
//   - Tripped: operations are skipped; after Cooldown the breaker starts probing.
//   - Probing: a limited number of probe operations run; if enough succeed
//     the breaker returns to Healthy, any failure re-trips it.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrTripped is returned by Do when the breaker is refusing operations.
var ErrTripped = errors.New("breaker: store circuit open")

// State represents the current breaker state.
type State int

const (
	Healthy State = iota
	Tripped
	Probing
)

// Config holds the breaker parameters.
type Config struct {
	// TripAfter is the number of consecutive failures before the breaker
	// trips.
	TripAfter int

	// Cooldown is how long the breaker refuses operations before probing.
	Cooldown time.Duration

	// ProbeSuccesses is the number of consecutive probe successes required
	// to return to Healthy.
	ProbeSuccesses int
}

// DefaultConfig matches the latency budget of a cache that must never stall
// its caller: trip fast, probe after a short cooldown.
func DefaultConfig() Config {
	return Config{
		TripAfter:      5,
		Cooldown:       10 * time.Second,
		ProbeSuccesses: 2,
	}
}

// Breaker is safe for concurrent use.
type Breaker struct {
	mu sync.Mutex

	cfg Config

	state     State
	failures  int
	successes int
	trippedAt time.Time
	nowFunc   func() time.Time // for testing; defaults to time.Now
}

// New creates a Breaker with the given configuration. Zero-valued fields
// are replaced by DefaultConfig values.
func New(cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.TripAfter <= 0 {
		cfg.TripAfter = def.TripAfter
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.ProbeSuccesses <= 0 {
		cfg.ProbeSuccesses = def.ProbeSuccesses
	}
	return &Breaker{cfg: cfg, state: Healthy, nowFunc: time.Now}
}

// State returns the current state, transitioning Tripped to Probing when the
// cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeProbe()
	return b.state
}

// Do runs op if the breaker allows it and feeds the outcome back into the
// state machine. When the breaker is refusing operations it returns
// ErrTripped without calling op.
func (b *Breaker) Do(op func() error) error {
	if !b.allow() {
		return ErrTripped
	}
	err := op()
	if err != nil {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeProbe()

	switch b.state {
	case Healthy:
		return true
	case Probing:
		return b.successes < b.cfg.ProbeSuccesses
	default:
		return false
	}
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Healthy:
		b.failures = 0
	case Probing:
		b.successes++
		if b.successes >= b.cfg.ProbeSuccesses {
			b.state = Healthy
			b.failures = 0
			b.successes = 0
		}
	}
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Healthy:
		b.failures++
		if b.failures >= b.cfg.TripAfter {
			b.trip()
		}
	case Probing:
		b.trip()
	}
}

// maybeProbe transitions Tripped to Probing once the cooldown has elapsed.
// Must be called with b.mu held.
func (b *Breaker) maybeProbe() {
	if b.state == Tripped && b.nowFunc().Sub(b.trippedAt) >= b.cfg.Cooldown {
		b.state = Probing
		b.successes = 0
	}
}

// trip moves to Tripped. Must be called with b.mu held.
func (b *Breaker) trip() {
	b.state = Tripped
	b.trippedAt = b.nowFunc()
	b.successes = 0
}
