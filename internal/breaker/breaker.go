package breaker

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/najicham/nba-stats-scraper-sub004/model"
)

// Registry keeps one circuit breaker per processor. Breakers are advisory
// gates for scheduling new work against a processor; they never abort work
// already in flight. Threshold and cooldown come from configuration and are
// shared by every breaker in the registry.
type Registry struct {
	mu        sync.Mutex
	breakers  map[string]*gobreaker.TwoStepCircuitBreaker
	pending   map[string]reservation
	failures  map[string]int64
	openedAt  map[string]time.Time
	threshold uint32
	cooldown  time.Duration

	// onSnapshot receives a state snapshot after every recorded attempt and
	// state change, used to persist breaker state for the status CLI.
	onSnapshot func(model.CircuitBreakerState)
}

// reservation is an admitted attempt awaiting its outcome. Reservations that
// outlive their window are scored as failures on the next AllowAttempt so an
// attempt that never reports cannot hold the half-open slot forever.
type reservation struct {
	done    func(success bool)
	expires time.Time
}

func NewRegistry(failureThreshold int, cooldown time.Duration, onSnapshot func(model.CircuitBreakerState)) *Registry {
	return &Registry{
		breakers:   make(map[string]*gobreaker.TwoStepCircuitBreaker),
		pending:    make(map[string]reservation),
		failures:   make(map[string]int64),
		openedAt:   make(map[string]time.Time),
		threshold:  uint32(failureThreshold),
		cooldown:   cooldown,
		onSnapshot: onSnapshot,
	}
}

func (r *Registry) breaker(processor string) *gobreaker.TwoStepCircuitBreaker {
	if cb, ok := r.breakers[processor]; ok {
		return cb
	}
	cb := gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        processor,
		MaxRequests: 1, // half-open admits a single probe
		Timeout:     r.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= r.threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				r.openedAt[name] = time.Now()
			}
		},
	})
	r.breakers[processor] = cb
	return cb
}

// AllowAttempt reports whether new work should be scheduled for the
// processor. In half-open state it reserves the single probe slot, so exactly
// one caller gets true per cooldown window. A reservation whose outcome never
// arrived is scored as a failure once its window lapses, re-opening the
// breaker rather than wedging it half-open.
func (r *Registry) AllowAttempt(processor string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if res, ok := r.pending[processor]; ok {
		if time.Now().Before(res.expires) {
			// An admitted attempt is still in flight.
			return false
		}
		delete(r.pending, processor)
		res.done(false)
		r.failures[processor]++
		if r.onSnapshot != nil {
			r.onSnapshot(r.snapshotLocked(processor))
		}
	}

	done, err := r.breaker(processor).Allow()
	if err != nil {
		return false
	}
	r.pending[processor] = reservation{done: done, expires: time.Now().Add(r.cooldown)}
	return true
}

// RecordAttempt feeds an observed outcome into the processor's breaker. It
// completes a prior AllowAttempt reservation when one exists; outcomes that
// arrive without a reservation (push-path completion events) are counted
// best-effort and dropped while the breaker is open.
func (r *Registry) RecordAttempt(processor string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var done func(success bool)
	if res, ok := r.pending[processor]; ok {
		delete(r.pending, processor)
		done = res.done
	} else {
		var err error
		done, err = r.breaker(processor).Allow()
		if err != nil {
			return
		}
	}
	done(success)

	if success {
		r.failures[processor] = 0
	} else {
		r.failures[processor]++
	}

	if r.onSnapshot != nil {
		r.onSnapshot(r.snapshotLocked(processor))
	}
}

// State returns the processor's current breaker state.
func (r *Registry) State(processor string) model.BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return mapState(r.breaker(processor).State())
}

// Snapshot returns the persisted-form state for one processor.
func (r *Registry) Snapshot(processor string) model.CircuitBreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(processor)
}

// Snapshots returns the in-process view of every known breaker.
func (r *Registry) Snapshots() []model.CircuitBreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make([]model.CircuitBreakerState, 0, len(r.breakers))
	for name := range r.breakers {
		states = append(states, r.snapshotLocked(name))
	}
	return states
}

func (r *Registry) snapshotLocked(processor string) model.CircuitBreakerState {
	snap := model.CircuitBreakerState{
		Processor:           processor,
		State:               mapState(r.breaker(processor).State()),
		ConsecutiveFailures: r.failures[processor],
		LastAttemptAt:       time.Now(),
	}
	if opened, ok := r.openedAt[processor]; ok && snap.State != model.BreakerClosed {
		at := opened
		snap.OpenedAt = &at
	}
	return snap
}

func mapState(s gobreaker.State) model.BreakerState {
	switch s {
	case gobreaker.StateOpen:
		return model.BreakerOpen
	case gobreaker.StateHalfOpen:
		return model.BreakerHalfOpen
	default:
		return model.BreakerClosed
	}
}
