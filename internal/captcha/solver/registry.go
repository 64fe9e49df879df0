package solver

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"github.com/ternarybob/arbor"

	"github.com/pagewright/pagewright/internal/interfaces"
	"github.com/pagewright/pagewright/internal/models"
)

// emaAlpha weights new observations in the rolling metrics
const emaAlpha = 0.2

// Metrics tracks a solver's rolling performance. Success rate and response
// time are exponential moving averages so recent behavior dominates.
type Metrics struct {
	mu              sync.Mutex
	successRate     float64
	avgResponseTime time.Duration
	observations    int
}

// Record folds one attempt into the rolling averages
func (m *Metrics) Record(success bool, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	outcome := 0.0
	if success {
		outcome = 1.0
	}
	if m.observations == 0 {
		m.successRate = outcome
		m.avgResponseTime = duration
	} else {
		m.successRate = emaAlpha*outcome + (1-emaAlpha)*m.successRate
		m.avgResponseTime = time.Duration(emaAlpha*float64(duration) + (1-emaAlpha)*float64(m.avgResponseTime))
	}
	m.observations++
}

// SuccessRate returns the rolling success rate. Untried solvers report 1.0
// so new registrations are not ranked below solvers with history.
func (m *Metrics) SuccessRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.observations == 0 {
		return 1.0
	}
	return m.successRate
}

// AvgResponseTime returns the rolling mean solve duration
func (m *Metrics) AvgResponseTime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.avgResponseTime
}

// Descriptor is one registry entry: the solver plus its ranking inputs and
// fault-tolerance state.
type Descriptor struct {
	Solver         interfaces.ChallengeSolver
	Priority       int // Higher preferred
	Enabled        bool
	MaxConcurrency int

	Metrics *Metrics
	Breaker *gobreaker.CircuitBreaker

	inFlight   int
	inFlightMu sync.Mutex
}

// TryAcquire reserves an in-flight slot, returning false at capacity
func (d *Descriptor) TryAcquire() bool {
	d.inFlightMu.Lock()
	defer d.inFlightMu.Unlock()
	if d.inFlight >= d.MaxConcurrency {
		return false
	}
	d.inFlight++
	return true
}

// ReleaseSlot frees an in-flight slot
func (d *Descriptor) ReleaseSlot() {
	d.inFlightMu.Lock()
	defer d.inFlightMu.Unlock()
	if d.inFlight > 0 {
		d.inFlight--
	}
}

// InFlight returns the current in-flight count
func (d *Descriptor) InFlight() int {
	d.inFlightMu.Lock()
	defer d.inFlightMu.Unlock()
	return d.inFlight
}

// BreakerSettings shapes the per-solver circuit breaker
type BreakerSettings struct {
	FailureThreshold int           // Consecutive failures before OPEN
	TimeoutPeriod    time.Duration // OPEN duration before a HALF_OPEN trial
}

// Registry holds the registered solvers. Registration is idempotent in the
// sense that re-registering an ID replaces the previous entry entirely.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*Descriptor
	breaker  BreakerSettings
	maxConc  int
	logger   arbor.ILogger
}

// NewRegistry creates an empty solver registry
func NewRegistry(breaker BreakerSettings, maxConcurrency int, logger arbor.ILogger) *Registry {
	if breaker.FailureThreshold <= 0 {
		breaker.FailureThreshold = 3
	}
	if breaker.TimeoutPeriod <= 0 {
		breaker.TimeoutPeriod = 60 * time.Second
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 10
	}
	return &Registry{
		entries: make(map[string]*Descriptor),
		breaker: breaker,
		maxConc: maxConcurrency,
		logger:  logger,
	}
}

// Register adds a solver under its ID with a fresh breaker and metrics.
// An existing entry with the same ID is replaced, state and all.
func (r *Registry) Register(solver interfaces.ChallengeSolver, priority int) error {
	if solver == nil {
		return fmt.Errorf("solver is nil")
	}
	if solver.ID() == "" {
		return fmt.Errorf("solver ID is empty")
	}

	threshold := uint32(r.breaker.FailureThreshold)
	descriptor := &Descriptor{
		Solver:         solver,
		Priority:       priority,
		Enabled:        true,
		MaxConcurrency: r.maxConc,
		Metrics:        &Metrics{},
		Breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        solver.ID(),
			MaxRequests: 1, // One HALF_OPEN trial
			Timeout:     r.breaker.TimeoutPeriod,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
		}),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[solver.ID()]; exists {
		r.logger.Debug().Str("solver", solver.ID()).Msg("Replacing registered solver")
	}
	r.entries[solver.ID()] = descriptor
	return nil
}

// Unregister removes a solver; unknown IDs are a no-op
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// SetEnabled toggles a solver without losing its metrics or breaker state
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("unknown solver: %q", id)
	}
	entry.Enabled = enabled
	return nil
}

// Get returns the descriptor for an ID
func (r *Registry) Get(id string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	return entry, ok
}

// CandidatesFor returns enabled solvers supporting the challenge type with a
// breaker that is not OPEN, ranked by priority, then success rate, then
// average response time.
func (r *Registry) CandidatesFor(challengeType models.ChallengeType) []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidates []*Descriptor
	for _, entry := range r.entries {
		if !entry.Enabled {
			continue
		}
		if !entry.Solver.Supports(challengeType) {
			continue
		}
		if entry.Breaker.State() == gobreaker.StateOpen {
			continue
		}
		candidates = append(candidates, entry)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		ri, rj := candidates[i].Metrics.SuccessRate(), candidates[j].Metrics.SuccessRate()
		if ri != rj {
			return ri > rj
		}
		return candidates[i].Metrics.AvgResponseTime() < candidates[j].Metrics.AvgResponseTime()
	})
	return candidates
}

// IDs lists registered solver IDs, sorted
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
