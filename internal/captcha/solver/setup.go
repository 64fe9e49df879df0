package solver

import (
	"time"

	"github.com/ternarybob/arbor"

	"github.com/pagewright/pagewright/internal/captcha/widget"
	"github.com/pagewright/pagewright/internal/common"
	"github.com/pagewright/pagewright/internal/interfaces"
)

// Native solvers outrank externals: they are free and work inside the
// session, so the paid APIs only see traffic when the native path fails.
const (
	priorityNative   = 100
	priorityExternal = 50
)

// BuildRegistry registers the full solver set from config. External adapters
// are only registered when their API keys are present.
func BuildRegistry(config *common.CaptchaConfig, interactor *widget.Interactor, transcriber interfaces.AudioTranscriber, logger arbor.ILogger) (*Registry, error) {
	registry := NewRegistry(BreakerSettings{
		FailureThreshold: config.BreakerFailureThreshold,
		TimeoutPeriod:    time.Duration(config.BreakerTimeoutPeriodMS) * time.Millisecond,
	}, config.MaxConcurrencyPerSolver, logger)

	natives := []interfaces.ChallengeSolver{
		NewTurnstileSolver(interactor, logger),
		NewRecaptchaSolver(interactor, transcriber, logger),
		NewHCaptchaSolver(interactor, transcriber, logger),
		NewDataDomeSolver(interactor, logger),
		NewAkamaiSolver(config.AkamaiSigningSecret, logger),
	}
	for _, native := range natives {
		if err := registry.Register(native, priorityNative); err != nil {
			return nil, err
		}
	}

	if keys := common.SplitAndTrim(config.TwoCaptchaAPIKeys); len(keys) > 0 {
		if err := registry.Register(NewTwoCaptchaSolver(keys, logger), priorityExternal); err != nil {
			return nil, err
		}
	}
	if keys := common.SplitAndTrim(config.AntiCaptchaAPIKeys); len(keys) > 0 {
		if err := registry.Register(NewAntiCaptchaSolver(keys, logger), priorityExternal); err != nil {
			return nil, err
		}
	}

	logger.Info().Int("solvers", len(registry.IDs())).Msg("Solver registry initialized")
	return registry, nil
}

// BuildOrchestrator wires the orchestrator from config
func BuildOrchestrator(registry *Registry, config *common.CaptchaConfig, logger arbor.ILogger) *Orchestrator {
	return NewOrchestrator(registry, RetryPolicy{
		MaxAttempts: config.RetryMaxAttempts,
		InitialWait: time.Duration(config.RetryBackoffMS) * time.Millisecond,
		MaxWait:     time.Duration(config.RetryMaxBackoffMS) * time.Millisecond,
	}, logger)
}
