package solver

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/pagewright/pagewright/internal/captcha/widget"
	"github.com/pagewright/pagewright/internal/errctx"
	"github.com/pagewright/pagewright/internal/interfaces"
	"github.com/pagewright/pagewright/internal/models"
)

const (
	hcaptchaCheckboxFragment  = "hcaptcha.com/captcha"
	hcaptchaChallengeFragment = "hcaptcha.com/challenge"
	hcaptchaTokenSelector     = "textarea[name=h-captcha-response]"
)

// HCaptchaSolver drives the hCaptcha widget. Checkbox clicks that pass
// silently produce a token directly; escalations go through the
// accessibility audio flow when a transcriber is available.
type HCaptchaSolver struct {
	interactor  *widget.Interactor
	transcriber interfaces.AudioTranscriber
	logger      arbor.ILogger
}

// NewHCaptchaSolver creates the native hCaptcha solver
func NewHCaptchaSolver(interactor *widget.Interactor, transcriber interfaces.AudioTranscriber, logger arbor.ILogger) *HCaptchaSolver {
	return &HCaptchaSolver{interactor: interactor, transcriber: transcriber, logger: logger}
}

func (s *HCaptchaSolver) ID() string { return "hcaptcha-native" }

func (s *HCaptchaSolver) Supports(challengeType models.ChallengeType) bool {
	switch challengeType {
	case models.ChallengeHCaptchaCheckbox, models.ChallengeHCaptchaInvisible,
		models.ChallengeHCaptchaAudio:
		return true
	}
	return false
}

func (s *HCaptchaSolver) Solve(ctx context.Context, sessionCtx context.Context, challenge *models.Challenge) (*models.SolveResult, error) {
	if challenge.Type != models.ChallengeHCaptchaInvisible {
		checkboxCtx, cancel, err := widget.WaitForFrame(sessionCtx, hcaptchaCheckboxFragment, 10*time.Second)
		if err != nil {
			return nil, errctx.Wrap(ctx, errctx.CategorySolverUnavailable, "hcaptcha checkbox frame not found", err)
		}
		result := s.interactor.Click(checkboxCtx, widget.Target{
			CSS:  "#checkbox",
			Role: "checkbox",
		})
		cancel()
		if !result.Success {
			return nil, errctx.New(ctx, errctx.CategorySolverUnavailable, "checkbox_click",
				fmt.Sprintf("failed to click hcaptcha checkbox: %s", result.Error))
		}
	}

	token, err := pollForValue(sessionCtx, safeValueExpr(hcaptchaTokenSelector, "value"), 8*time.Second)
	if err == nil {
		return &models.SolveResult{Token: token, SolvedAt: time.Now()}, nil
	}

	token, err = s.solveAudio(ctx, sessionCtx)
	if err != nil {
		s.interactor.CaptureDebugScreenshot(sessionCtx, challenge.CorrelationID)
		return nil, err
	}
	return &models.SolveResult{Token: token, SolvedAt: time.Now()}, nil
}

// solveAudio runs the accessibility audio challenge in the challenge frame
func (s *HCaptchaSolver) solveAudio(ctx context.Context, sessionCtx context.Context) (string, error) {
	if s.transcriber == nil {
		return "", errctx.New(ctx, errctx.CategorySolverUnavailable, "no_transcriber",
			"audio challenge requires a transcription pipeline")
	}

	challengeCtx, cancel, err := widget.WaitForFrame(sessionCtx, hcaptchaChallengeFragment, 10*time.Second)
	if err != nil {
		return "", errctx.Wrap(ctx, errctx.CategorySolverUnavailable, "hcaptcha challenge frame not found", err)
	}
	defer cancel()

	if result := s.interactor.Click(challengeCtx, widget.Target{
		CSS:       ".challenge-option-audio, button[aria-label*=audio]",
		AriaLabel: "audio challenge",
	}); !result.Success {
		return "", errctx.New(ctx, errctx.CategorySolverUnavailable, "audio_button",
			fmt.Sprintf("failed to switch to audio challenge: %s", result.Error))
	}

	const expr = `
		(document.querySelector('audio') || {}).src ||
		(document.querySelector('[data-audio-url]') || {dataset:{}}).dataset.audioUrl || ""`
	var audioURL string
	if err := chromedp.Run(challengeCtx, chromedp.Evaluate(expr, &audioURL)); err != nil || audioURL == "" {
		return "", errctx.New(ctx, errctx.CategorySolverUnavailable, "no_audio",
			"no audio element in hcaptcha challenge frame")
	}

	transcription, err := s.transcriber.Transcribe(ctx, audioURL, challengeCtx)
	if err != nil {
		return "", fmt.Errorf("failed to transcribe challenge audio: %w", err)
	}

	if result := s.interactor.Type(challengeCtx, widget.Target{CSS: "input[type=text]"}, transcription.Text); !result.Success {
		return "", errctx.New(ctx, errctx.CategorySolverUnavailable, "audio_response",
			fmt.Sprintf("failed to enter transcription: %s", result.Error))
	}
	if result := s.interactor.Click(challengeCtx, widget.Target{
		CSS:  ".button-submit",
		Text: "Verify",
	}); !result.Success {
		return "", errctx.New(ctx, errctx.CategorySolverUnavailable, "verify_button",
			fmt.Sprintf("failed to submit transcription: %s", result.Error))
	}

	token, err := pollForValue(sessionCtx, safeValueExpr(hcaptchaTokenSelector, "value"), 15*time.Second)
	if err != nil {
		return "", errctx.Wrap(ctx, errctx.CategorySolverUnavailable, "no token after audio verify", err)
	}
	return token, nil
}
