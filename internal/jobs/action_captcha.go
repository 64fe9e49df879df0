package jobs

import (
	"github.com/pagewright/pagewright/internal/errctx"
	"github.com/pagewright/pagewright/internal/models"
)

// execSolveCaptcha runs detection on the current page and hands the
// strongest actionable challenge to the solver orchestrator. The token ends
// up in the action result data; downstream actions (or the page's own
// scripts) consume it from there.
func execSolveCaptcha(ec *ExecContext, action models.Action, index int) (map[string]interface{}, error) {
	if ec.Detector == nil || ec.Orchestrator == nil {
		return nil, errctx.New(ec.Ctx, errctx.CategorySolverUnavailable, "captcha_disabled", "captcha solving is not configured")
	}

	var pageURL string
	if url := action.ParamString("url", ""); url != "" {
		pageURL = url
	} else {
		pageURL = ec.Job.TargetURL
	}

	detections, err := ec.Detector.Detect(ec.Ctx, ec.Session.Ctx, pageURL)
	if err != nil {
		return nil, errctx.Wrap(ec.Ctx, errctx.CategoryInternal, "captcha detection failed", err)
	}
	if len(detections) == 0 {
		return map[string]interface{}{"detected": false}, nil
	}

	strongest := detections[0]
	minStrong := ec.Config.Captcha.MinStrongConfidence
	if !strongest.Actionable(minStrong) {
		// Present but weak: report without attempting a solve
		return map[string]interface{}{
			"detected":   true,
			"actionable": false,
			"system":     string(strongest.System),
			"confidence": strongest.Confidence,
			"signals":    strongest.Signals,
		}, nil
	}

	challenge := &models.Challenge{
		Type:          challengeTypeFor(strongest.System, action),
		PageURL:       pageURL,
		SiteKey:       action.ParamString("site_key", ""),
		CorrelationID: errctx.CorrelationID(ec.Ctx),
	}

	result, err := ec.Orchestrator.Solve(ec.Ctx, ec.Session.Ctx, challenge)
	if err != nil {
		return nil, err
	}

	ec.Logger.Info().
		Str("system", string(strongest.System)).
		Str("solver", result.SolverID).
		Dur("duration", result.Duration).
		Msg("Captcha solved")

	return map[string]interface{}{
		"detected":   true,
		"actionable": true,
		"system":     string(strongest.System),
		"confidence": strongest.Confidence,
		"token":      result.Token,
		"cookie":     result.Cookie,
		"solver":     result.SolverID,
	}, nil
}

// challengeTypeFor maps a detected system to its default challenge type.
// The job can pin an exact type via the challenge_type param.
func challengeTypeFor(system models.AntiBotSystem, action models.Action) models.ChallengeType {
	if pinned := action.ParamString("challenge_type", ""); pinned != "" {
		return models.ChallengeType(pinned)
	}
	switch system {
	case models.SystemRecaptcha:
		return models.ChallengeRecaptchaV2Checkbox
	case models.SystemHCaptcha:
		return models.ChallengeHCaptchaCheckbox
	case models.SystemTurnstile:
		return models.ChallengeTurnstile
	case models.SystemDataDome:
		return models.ChallengeDataDomeCaptcha
	case models.SystemAkamai:
		return models.ChallengeAkamaiLevel2
	case models.SystemFunCaptcha:
		return models.ChallengeFunCaptcha
	}
	return ""
}
