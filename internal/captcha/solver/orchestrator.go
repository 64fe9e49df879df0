package solver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"github.com/ternarybob/arbor"

	"github.com/pagewright/pagewright/internal/errctx"
	"github.com/pagewright/pagewright/internal/interfaces"
	"github.com/pagewright/pagewright/internal/models"
)

// solveTimeouts caps a single solver attempt per challenge type. Sensor
// replays are fast; image challenges involve a human-paced widget walk.
var solveTimeouts = map[models.ChallengeType]time.Duration{
	models.ChallengeRecaptchaV2Checkbox:  30 * time.Second,
	models.ChallengeRecaptchaV2Invisible: 30 * time.Second,
	models.ChallengeRecaptchaV2Audio:     30 * time.Second,
	models.ChallengeRecaptchaV2Image:     60 * time.Second,
	models.ChallengeRecaptchaV3:          10 * time.Second,
	models.ChallengeHCaptchaCheckbox:     30 * time.Second,
	models.ChallengeHCaptchaInvisible:    30 * time.Second,
	models.ChallengeHCaptchaAudio:        30 * time.Second,
	models.ChallengeTurnstile:            30 * time.Second,
	models.ChallengeDataDomeSensor:       30 * time.Second,
	models.ChallengeDataDomeCaptcha:      60 * time.Second,
	models.ChallengeDataDomeSlider:       60 * time.Second,
	models.ChallengeAkamaiLevel1:         2 * time.Second,
	models.ChallengeAkamaiLevel2:         5 * time.Second,
	models.ChallengeAkamaiLevel3:         10 * time.Second,
	models.ChallengeFunCaptcha:           60 * time.Second,
}

const defaultSolveTimeout = 30 * time.Second

// SolveTimeout returns the per-attempt deadline for a challenge type
func SolveTimeout(challengeType models.ChallengeType) time.Duration {
	if timeout, ok := solveTimeouts[challengeType]; ok {
		return timeout
	}
	return defaultSolveTimeout
}

// RetryPolicy shapes the inter-candidate backoff
type RetryPolicy struct {
	MaxAttempts int           // Total candidate attempts (default 3)
	InitialWait time.Duration // Default 1s
	MaxWait     time.Duration // Default 30s
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialWait <= 0 {
		p.InitialWait = time.Second
	}
	if p.MaxWait <= 0 {
		p.MaxWait = 30 * time.Second
	}
	return p
}

// waitBefore computes the delay ahead of attempt n (1-based); attempt 1 has
// no delay, then the wait doubles per attempt up to the cap.
func (p RetryPolicy) waitBefore(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	wait := p.InitialWait << (attempt - 2)
	if wait > p.MaxWait || wait <= 0 {
		wait = p.MaxWait
	}
	return wait
}

// Orchestrator routes challenges through the ranked solver list with
// per-solver circuit breaking and bounded retries.
type Orchestrator struct {
	registry *Registry
	policy   RetryPolicy
	logger   arbor.ILogger
}

// NewOrchestrator creates the solve orchestrator
func NewOrchestrator(registry *Registry, policy RetryPolicy, logger arbor.ILogger) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		policy:   policy.withDefaults(),
		logger:   logger,
	}
}

var _ interfaces.SolveOrchestrator = (*Orchestrator)(nil)

// Solve walks the candidate list until a solver produces a token. Each
// attempt runs under the challenge type's timeout and behind the solver's
// circuit breaker; failures feed the performance tracker. Exhaustion returns
// the aggregated attempt errors as a solver_unavailable failure.
func (o *Orchestrator) Solve(ctx context.Context, sessionCtx context.Context, challenge *models.Challenge) (*models.SolveResult, error) {
	if challenge == nil || challenge.Type == "" {
		return nil, errctx.New(ctx, errctx.CategoryInvalidInput, "bad_challenge", "challenge type is required")
	}

	candidates := o.registry.CandidatesFor(challenge.Type)
	if len(candidates) == 0 {
		return nil, errctx.New(ctx, errctx.CategorySolverUnavailable, "no_candidates",
			fmt.Sprintf("no solver available for %s", challenge.Type))
	}

	started := time.Now()
	var attemptErrs []error
	attempt := 0

	for _, candidate := range candidates {
		if attempt >= o.policy.MaxAttempts {
			break
		}
		attempt++

		if wait := o.policy.waitBefore(attempt); wait > 0 {
			select {
			case <-ctx.Done():
				attemptErrs = append(attemptErrs, errctx.Wrap(ctx, errctx.CategoryTimeout, "solve aborted while backing off", ctx.Err()))
				return nil, o.exhausted(ctx, challenge, attemptErrs, started)
			case <-time.After(wait):
			}
		}

		result, err := o.attempt(ctx, sessionCtx, challenge, candidate)
		if err == nil {
			o.logger.Info().
				Str("solver", candidate.Solver.ID()).
				Str("challenge", string(challenge.Type)).
				Dur("duration", result.Duration).
				Msg("Challenge solved")
			return result, nil
		}

		attemptErrs = append(attemptErrs, err)
		o.logger.Warn().Err(err).
			Str("solver", candidate.Solver.ID()).
			Str("challenge", string(challenge.Type)).
			Int("attempt", attempt).
			Msg("Solver attempt failed")
	}

	return nil, o.exhausted(ctx, challenge, attemptErrs, started)
}

// attempt runs one solver behind its breaker, capacity gate and timeout
func (o *Orchestrator) attempt(ctx context.Context, sessionCtx context.Context, challenge *models.Challenge, candidate *Descriptor) (*models.SolveResult, error) {
	id := candidate.Solver.ID()

	if !candidate.TryAcquire() {
		return nil, errctx.New(ctx, errctx.CategoryRateLimited, "solver_saturated",
			fmt.Sprintf("solver %s is at max concurrency", id))
	}
	defer candidate.ReleaseSlot()

	start := time.Now()
	outcome, err := candidate.Breaker.Execute(func() (interface{}, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, SolveTimeout(challenge.Type))
		defer cancel()
		return candidate.Solver.Solve(attemptCtx, sessionCtx, challenge)
	})
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// Rejected without running; not a performance observation
			return nil, errctx.Wrap(ctx, errctx.CategoryCircuitOpen,
				fmt.Sprintf("solver %s circuit is open", id), err)
		}
		candidate.Metrics.Record(false, elapsed)
		return nil, err
	}

	result, _ := outcome.(*models.SolveResult)
	if result == nil {
		candidate.Metrics.Record(false, elapsed)
		return nil, errctx.New(ctx, errctx.CategoryInternal, "empty_result",
			fmt.Sprintf("solver %s returned no result", id))
	}

	candidate.Metrics.Record(true, elapsed)
	result.SolverID = id
	if result.SolvedAt.IsZero() {
		result.SolvedAt = time.Now()
	}
	result.Duration = elapsed
	return result, nil
}

func (o *Orchestrator) exhausted(ctx context.Context, challenge *models.Challenge, attemptErrs []error, started time.Time) error {
	aggregate := errctx.NewAggregate(attemptErrs, time.Since(started), errctx.GetContext(ctx))
	return errctx.Wrap(ctx, errctx.CategorySolverUnavailable,
		fmt.Sprintf("all solvers exhausted for %s", challenge.Type), aggregate)
}
