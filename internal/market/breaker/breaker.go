package breaker

import (
	"sync"
	"time"

	"treasuryd/internal/logger"
)

// State represents the breaker state for one source
type State struct {
	Source          string    `json:"source"`
	FailureCount    int       `json:"failure_count"`
	LastFailureTime time.Time `json:"last_failure_time"`
	Open            bool      `json:"open"`
}

// Registry tracks consecutive failures per source name and opens the
// breaker once a threshold of consecutive failures is reached. An open
// breaker closes again after the cooldown elapses or on explicit Reset;
// there is no half-open probing state.
type Registry struct {
	states    map[string]*State
	threshold int
	cooldown  time.Duration
	mu        sync.RWMutex

	onTrip func(source string)
}

// NewRegistry creates a breaker registry
func NewRegistry(threshold int, cooldown time.Duration) *Registry {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &Registry{
		states:    make(map[string]*State),
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// SetTripCallback sets a callback invoked when a breaker opens
func (r *Registry) SetTripCallback(fn func(source string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTrip = fn
}

// IsOpen reports whether the breaker for source is open. A breaker whose
// cooldown has elapsed reads as closed and its counter is cleared.
func (r *Registry) IsOpen(source string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, exists := r.states[source]
	if !exists || !state.Open {
		return false
	}

	if time.Since(state.LastFailureTime) >= r.cooldown {
		state.Open = false
		state.FailureCount = 0
		logger.Info("Circuit breaker cooled down", "source", source)
		return false
	}
	return true
}

// RecordFailure increments the consecutive failure counter for source and
// opens the breaker once the threshold is reached.
func (r *Registry) RecordFailure(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, exists := r.states[source]
	if !exists {
		state = &State{Source: source}
		r.states[source] = state
	}

	state.FailureCount++
	state.LastFailureTime = time.Now()

	if !state.Open && state.FailureCount >= r.threshold {
		state.Open = true
		logger.Warn("Circuit breaker opened",
			"source", source, "failures", state.FailureCount)
		if r.onTrip != nil {
			go r.onTrip(source)
		}
	}
}

// RecordSuccess zeroes the consecutive failure counter for source
func (r *Registry) RecordSuccess(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, exists := r.states[source]
	if !exists {
		return
	}
	state.FailureCount = 0
	state.Open = false
}

// Reset closes the breaker for source immediately
func (r *Registry) Reset(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, exists := r.states[source]
	if !exists {
		return
	}
	state.FailureCount = 0
	state.Open = false
	state.LastFailureTime = time.Time{}
	logger.Info("Circuit breaker reset", "source", source)
}

// States returns a copy of all breaker states for monitoring. Breakers whose
// cooldown has elapsed read as closed, the same as IsOpen reports them.
func (r *Registry) States() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]State, len(r.states))
	for name, state := range r.states {
		snapshot := *state
		if snapshot.Open && time.Since(snapshot.LastFailureTime) >= r.cooldown {
			snapshot.Open = false
			snapshot.FailureCount = 0
		}
		result[name] = snapshot
	}
	return result
}
