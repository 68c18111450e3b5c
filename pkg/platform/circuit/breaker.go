// Package circuit implements a minimal failure/success-threshold circuit
// breaker used to guard an upstream dependency (in this gateway, the
// Postgres access store) so a degraded dependency fails fast instead of
// piling up latency on every request.
package circuit

import "sync"

// State is one of the breaker's two observable states.
type State int

const (
	StateClosed State = iota
	StateOpen
)

// StateChange reports whether a RecordFailure/RecordSuccess call caused a
// transition, so callers can log state changes without polling State().
type StateChange struct {
	Opened bool
	Closed bool
}

// Option configures a Breaker at construction time.
type Option func(*Breaker)

// WithFailureThreshold sets the number of consecutive failures required to
// open the circuit. Default is 5.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) { b.failureThreshold = n }
}

// WithSuccessThreshold sets the number of consecutive successes required to
// close an open circuit. Default is 1.
func WithSuccessThreshold(n int) Option {
	return func(b *Breaker) { b.successThreshold = n }
}

// Breaker tracks consecutive failure/success counts for a single named
// dependency and flips between closed and open accordingly. It is safe for
// concurrent use.
type Breaker struct {
	name string

	failureThreshold int
	successThreshold int

	mu       sync.Mutex
	state    State
	failures int
	successes int
}

// New constructs a Breaker in the closed state.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		failureThreshold: 5,
		successThreshold: 1,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the breaker's name, for logging and metrics labels.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsOpen reports whether the circuit is currently open.
func (b *Breaker) IsOpen() bool {
	return b.State() == StateOpen
}

// RecordFailure registers a failed call. useFallback reports whether the
// caller should use its fallback path for this call (true once the circuit
// is open, including the call that opened it).
func (b *Breaker) RecordFailure() (useFallback bool, change StateChange) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successes = 0
	if b.state == StateOpen {
		return true, StateChange{}
	}

	b.failures++
	if b.failures >= b.failureThreshold {
		b.state = StateOpen
		return true, StateChange{Opened: true}
	}
	return false, StateChange{}
}

// RecordSuccess registers a successful call. usePrimary reports whether the
// breaker considers the dependency healthy again (true once it closes,
// including the call that closes it).
func (b *Breaker) RecordSuccess() (usePrimary bool, change StateChange) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateClosed {
		b.failures = 0
		return true, StateChange{}
	}

	b.successes++
	if b.successes >= b.successThreshold {
		b.state = StateClosed
		b.failures = 0
		b.successes = 0
		return true, StateChange{Closed: true}
	}
	return false, StateChange{}
}

// Reset forces the breaker back to the closed state with cleared counters,
// for admin override or test setup.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
}
