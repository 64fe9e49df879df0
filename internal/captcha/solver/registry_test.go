package solver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/pagewright/pagewright/internal/models"
)

type fakeSolver struct {
	id       string
	supports map[models.ChallengeType]bool
	solve    func(ctx context.Context, sessionCtx context.Context, challenge *models.Challenge) (*models.SolveResult, error)
	calls    int
}

func (f *fakeSolver) ID() string { return f.id }

func (f *fakeSolver) Supports(challengeType models.ChallengeType) bool {
	if f.supports == nil {
		return true
	}
	return f.supports[challengeType]
}

func (f *fakeSolver) Solve(ctx context.Context, sessionCtx context.Context, challenge *models.Challenge) (*models.SolveResult, error) {
	f.calls++
	if f.solve != nil {
		return f.solve(ctx, sessionCtx, challenge)
	}
	return &models.SolveResult{Token: "token-" + f.id}, nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(BreakerSettings{FailureThreshold: 3, TimeoutPeriod: 60 * time.Second}, 10, arbor.NewLogger())
}

func TestRegisterRejectsInvalid(t *testing.T) {
	registry := newTestRegistry(t)
	assert.Error(t, registry.Register(nil, 1))
	assert.Error(t, registry.Register(&fakeSolver{id: ""}, 1))
}

func TestRegisterUnregisterRegisterIsEquivalent(t *testing.T) {
	registry := newTestRegistry(t)

	require.NoError(t, registry.Register(&fakeSolver{id: "a"}, 5))
	registry.Unregister("a")
	require.NoError(t, registry.Register(&fakeSolver{id: "a"}, 5))

	entry, ok := registry.Get("a")
	require.True(t, ok)
	assert.Equal(t, 5, entry.Priority)
	assert.True(t, entry.Enabled)
	assert.Equal(t, 1.0, entry.Metrics.SuccessRate())
	assert.Equal(t, []string{"a"}, registry.IDs())
}

func TestReRegisterReplacesEntry(t *testing.T) {
	registry := newTestRegistry(t)

	require.NoError(t, registry.Register(&fakeSolver{id: "a"}, 1))
	entry, _ := registry.Get("a")
	entry.Metrics.Record(false, time.Second)

	require.NoError(t, registry.Register(&fakeSolver{id: "a"}, 9))
	replaced, _ := registry.Get("a")
	assert.Equal(t, 9, replaced.Priority)
	assert.Equal(t, 1.0, replaced.Metrics.SuccessRate())
}

func TestCandidatesRankedByPriorityThenMetrics(t *testing.T) {
	registry := newTestRegistry(t)
	require.NoError(t, registry.Register(&fakeSolver{id: "low"}, 1))
	require.NoError(t, registry.Register(&fakeSolver{id: "high"}, 10))
	require.NoError(t, registry.Register(&fakeSolver{id: "mid-slow"}, 5))
	require.NoError(t, registry.Register(&fakeSolver{id: "mid-fast"}, 5))

	slow, _ := registry.Get("mid-slow")
	slow.Metrics.Record(true, 8*time.Second)
	fast, _ := registry.Get("mid-fast")
	fast.Metrics.Record(true, time.Second)

	candidates := registry.CandidatesFor(models.ChallengeTurnstile)
	require.Len(t, candidates, 4)
	assert.Equal(t, "high", candidates[0].Solver.ID())
	assert.Equal(t, "mid-fast", candidates[1].Solver.ID())
	assert.Equal(t, "mid-slow", candidates[2].Solver.ID())
	assert.Equal(t, "low", candidates[3].Solver.ID())
}

func TestCandidatesSuccessRateBeatsResponseTime(t *testing.T) {
	registry := newTestRegistry(t)
	require.NoError(t, registry.Register(&fakeSolver{id: "reliable"}, 5))
	require.NoError(t, registry.Register(&fakeSolver{id: "flaky"}, 5))

	reliable, _ := registry.Get("reliable")
	reliable.Metrics.Record(true, 10*time.Second)
	flaky, _ := registry.Get("flaky")
	flaky.Metrics.Record(false, time.Second)

	candidates := registry.CandidatesFor(models.ChallengeTurnstile)
	require.Len(t, candidates, 2)
	assert.Equal(t, "reliable", candidates[0].Solver.ID())
}

func TestCandidatesExcludeDisabledAndUnsupported(t *testing.T) {
	registry := newTestRegistry(t)
	require.NoError(t, registry.Register(&fakeSolver{id: "off"}, 10))
	require.NoError(t, registry.Register(&fakeSolver{
		id:       "wrong-type",
		supports: map[models.ChallengeType]bool{models.ChallengeTurnstile: true},
	}, 10))
	require.NoError(t, registry.Register(&fakeSolver{id: "on"}, 1))

	require.NoError(t, registry.SetEnabled("off", false))

	candidates := registry.CandidatesFor(models.ChallengeHCaptchaCheckbox)
	require.Len(t, candidates, 1)
	assert.Equal(t, "on", candidates[0].Solver.ID())
}

func TestSetEnabledUnknownSolver(t *testing.T) {
	registry := newTestRegistry(t)
	assert.Error(t, registry.SetEnabled("ghost", true))
}

func TestMetricsEMA(t *testing.T) {
	metrics := &Metrics{}

	metrics.Record(true, 2*time.Second)
	assert.Equal(t, 1.0, metrics.SuccessRate())
	assert.Equal(t, 2*time.Second, metrics.AvgResponseTime())

	metrics.Record(false, 4*time.Second)
	assert.InDelta(t, 0.8, metrics.SuccessRate(), 0.001)
	assert.InDelta(t, float64(2400*time.Millisecond), float64(metrics.AvgResponseTime()), float64(time.Millisecond))

	// Recent behavior dominates over a long run
	for i := 0; i < 30; i++ {
		metrics.Record(false, time.Second)
	}
	assert.Less(t, metrics.SuccessRate(), 0.01)
}

func TestDescriptorConcurrencyGate(t *testing.T) {
	descriptor := &Descriptor{MaxConcurrency: 2}

	assert.True(t, descriptor.TryAcquire())
	assert.True(t, descriptor.TryAcquire())
	assert.False(t, descriptor.TryAcquire())
	assert.Equal(t, 2, descriptor.InFlight())

	descriptor.ReleaseSlot()
	assert.True(t, descriptor.TryAcquire())
}

func TestKeyRingRoundRobin(t *testing.T) {
	ring := newKeyRing([]string{"k1", "k2", "k3"})
	var picked []string
	for i := 0; i < 6; i++ {
		picked = append(picked, ring.pick())
	}
	assert.Equal(t, []string{"k1", "k2", "k3", "k1", "k2", "k3"}, picked)

	empty := newKeyRing(nil)
	assert.Equal(t, "", empty.pick())
}

func TestSolveTimeoutTable(t *testing.T) {
	assert.Equal(t, 2*time.Second, SolveTimeout(models.ChallengeAkamaiLevel1))
	assert.Equal(t, 60*time.Second, SolveTimeout(models.ChallengeRecaptchaV2Image))
	assert.Equal(t, 10*time.Second, SolveTimeout(models.ChallengeRecaptchaV3))
	assert.Equal(t, defaultSolveTimeout, SolveTimeout(models.ChallengeType("novel")))
}

func TestRetryPolicyBackoff(t *testing.T) {
	policy := RetryPolicy{}.withDefaults()
	assert.Equal(t, time.Duration(0), policy.waitBefore(1))
	assert.Equal(t, time.Second, policy.waitBefore(2))
	assert.Equal(t, 2*time.Second, policy.waitBefore(3))
	assert.Equal(t, 16*time.Second, policy.waitBefore(6))
	assert.Equal(t, 30*time.Second, policy.waitBefore(7)) // Capped
	assert.Equal(t, 30*time.Second, policy.waitBefore(40))
}
