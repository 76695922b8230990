package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"deepresearch/internal/logging"
)

// ErrCircuitOpen is returned when a provider's circuit refuses traffic.
// Callers translate it into an empty result plus a diagnostic; it never
// fails a session.
var ErrCircuitOpen = errors.New("circuit open")

// Breaker defaults: 5 consecutive failures open the circuit for 60 s,
// then a single half-open trial decides.
const (
	DefaultFailureThreshold = 5
	DefaultOpenDuration     = 60 * time.Second
)

// BreakerSet holds one circuit breaker per provider name, process-wide.
// Opening provider A's circuit never blocks provider B.
type BreakerSet struct {
	mu        sync.RWMutex
	breakers  map[string]*gobreaker.TwoStepCircuitBreaker
	threshold uint32
	openFor   time.Duration
}

// NewBreakerSet creates a breaker set. Zero values select the defaults.
func NewBreakerSet(threshold uint32, openFor time.Duration) *BreakerSet {
	if threshold == 0 {
		threshold = DefaultFailureThreshold
	}
	if openFor == 0 {
		openFor = DefaultOpenDuration
	}
	return &BreakerSet{
		breakers:  make(map[string]*gobreaker.TwoStepCircuitBreaker),
		threshold: threshold,
		openFor:   openFor,
	}
}

// Allow asks the named breaker to admit one call. On success it returns a
// done callback that must be invoked with the call outcome. When the
// circuit is open it returns ErrCircuitOpen.
func (s *BreakerSet) Allow(name string) (func(success bool), error) {
	done, err := s.breaker(name).Allow()
	if err != nil {
		logging.ProviderDebug("circuit_open provider=%s", name)
		return nil, ErrCircuitOpen
	}
	return done, nil
}

// CanExecute reports whether the named circuit currently admits traffic.
func (s *BreakerSet) CanExecute(name string) bool {
	return s.breaker(name).State() != gobreaker.StateOpen
}

// RecordSuccess feeds a standalone success through the named breaker.
// It admits a request of its own to carry the outcome, so in the
// half-open state it competes for the single trial slot: while a
// concurrent trial holds it the outcome is dropped. Request-path
// callers pair Allow with its done callback instead.
func (s *BreakerSet) RecordSuccess(name string) {
	if done, err := s.breaker(name).Allow(); err == nil {
		done(true)
	}
}

// RecordFailure feeds a standalone failure through the named breaker.
// Same half-open caveat as RecordSuccess.
func (s *BreakerSet) RecordFailure(name string) {
	if done, err := s.breaker(name).Allow(); err == nil {
		done(false)
	}
}

// State returns the named circuit's state.
func (s *BreakerSet) State(name string) gobreaker.State {
	return s.breaker(name).State()
}

func (s *BreakerSet) breaker(name string) *gobreaker.TwoStepCircuitBreaker {
	s.mu.RLock()
	b, ok := s.breakers[name]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[name]; ok {
		return b
	}

	threshold := s.threshold
	b = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // one half-open trial
		Timeout:     s.openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Provider("circuit %s: %s -> %s", name, from, to)
		},
	})
	s.breakers[name] = b
	return b
}
