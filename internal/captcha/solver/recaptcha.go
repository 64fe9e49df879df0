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
	recaptchaAnchorFragment = "google.com/recaptcha/api2/anchor"
	recaptchaBframeFragment = "google.com/recaptcha/api2/bframe"
	recaptchaTokenSelector  = "textarea[name=g-recaptcha-response]"
)

// RecaptchaSolver drives the reCAPTCHA v2 widget in-page. The checkbox path
// clicks the anchor and waits for the token; when Google escalates to a
// challenge, the audio fallback transcribes the clip and submits the answer.
type RecaptchaSolver struct {
	interactor  *widget.Interactor
	transcriber interfaces.AudioTranscriber
	logger      arbor.ILogger
}

// NewRecaptchaSolver creates the native reCAPTCHA v2 solver
func NewRecaptchaSolver(interactor *widget.Interactor, transcriber interfaces.AudioTranscriber, logger arbor.ILogger) *RecaptchaSolver {
	return &RecaptchaSolver{interactor: interactor, transcriber: transcriber, logger: logger}
}

func (s *RecaptchaSolver) ID() string { return "recaptcha-native" }

func (s *RecaptchaSolver) Supports(challengeType models.ChallengeType) bool {
	switch challengeType {
	case models.ChallengeRecaptchaV2Checkbox, models.ChallengeRecaptchaV2Invisible,
		models.ChallengeRecaptchaV2Audio:
		return true
	}
	return false
}

func (s *RecaptchaSolver) Solve(ctx context.Context, sessionCtx context.Context, challenge *models.Challenge) (*models.SolveResult, error) {
	if challenge.Type != models.ChallengeRecaptchaV2Invisible {
		if err := s.clickCheckbox(ctx, sessionCtx); err != nil {
			return nil, err
		}
	}

	// The happy path: Google accepts the click without a challenge
	token, err := pollForValue(sessionCtx, safeValueExpr(recaptchaTokenSelector, "value"), 8*time.Second)
	if err == nil {
		return &models.SolveResult{Token: token, SolvedAt: time.Now()}, nil
	}

	// Escalated; fall back to the audio challenge
	token, err = s.solveAudio(ctx, sessionCtx, challenge)
	if err != nil {
		s.interactor.CaptureDebugScreenshot(sessionCtx, challenge.CorrelationID)
		return nil, err
	}
	return &models.SolveResult{Token: token, SolvedAt: time.Now()}, nil
}

func (s *RecaptchaSolver) clickCheckbox(ctx context.Context, sessionCtx context.Context) error {
	anchorCtx, cancel, err := widget.WaitForFrame(sessionCtx, recaptchaAnchorFragment, 10*time.Second)
	if err != nil {
		return errctx.Wrap(ctx, errctx.CategorySolverUnavailable, "recaptcha anchor frame not found", err)
	}
	defer cancel()

	result := s.interactor.Click(anchorCtx, widget.Target{
		CSS:       "#recaptcha-anchor",
		Role:      "checkbox",
		AriaLabel: "I'm not a robot",
	})
	if !result.Success {
		return errctx.New(ctx, errctx.CategorySolverUnavailable, "checkbox_click",
			fmt.Sprintf("failed to click recaptcha checkbox: %s", result.Error))
	}
	return nil
}

// solveAudio walks the bframe audio flow: switch to audio, pull the clip,
// transcribe it, type the answer and verify.
func (s *RecaptchaSolver) solveAudio(ctx context.Context, sessionCtx context.Context, challenge *models.Challenge) (string, error) {
	if s.transcriber == nil {
		return "", errctx.New(ctx, errctx.CategorySolverUnavailable, "no_transcriber",
			"audio challenge requires a transcription pipeline")
	}

	bframeCtx, cancel, err := widget.WaitForFrame(sessionCtx, recaptchaBframeFragment, 10*time.Second)
	if err != nil {
		return "", errctx.Wrap(ctx, errctx.CategorySolverUnavailable, "recaptcha challenge frame not found", err)
	}
	defer cancel()

	if result := s.interactor.Click(bframeCtx, widget.Target{CSS: "#recaptcha-audio-button"}); !result.Success {
		return "", errctx.New(ctx, errctx.CategorySolverUnavailable, "audio_button",
			fmt.Sprintf("failed to switch to audio challenge: %s", result.Error))
	}

	audioURL, err := s.extractAudioURL(bframeCtx)
	if err != nil {
		return "", errctx.Wrap(ctx, errctx.CategorySolverUnavailable, "audio URL not found", err)
	}

	transcription, err := s.transcriber.Transcribe(ctx, audioURL, bframeCtx)
	if err != nil {
		return "", fmt.Errorf("failed to transcribe challenge audio: %w", err)
	}
	s.logger.Debug().
		Str("provider", transcription.Provider).
		Float64("confidence", transcription.Confidence).
		Msg("Audio challenge transcribed")

	if result := s.interactor.Type(bframeCtx, widget.Target{CSS: "#audio-response"}, transcription.Text); !result.Success {
		return "", errctx.New(ctx, errctx.CategorySolverUnavailable, "audio_response",
			fmt.Sprintf("failed to enter transcription: %s", result.Error))
	}
	if result := s.interactor.Click(bframeCtx, widget.Target{CSS: "#recaptcha-verify-button"}); !result.Success {
		return "", errctx.New(ctx, errctx.CategorySolverUnavailable, "verify_button",
			fmt.Sprintf("failed to submit transcription: %s", result.Error))
	}

	token, err := pollForValue(sessionCtx, safeValueExpr(recaptchaTokenSelector, "value"), 15*time.Second)
	if err != nil {
		return "", errctx.Wrap(ctx, errctx.CategorySolverUnavailable, "no token after audio verify", err)
	}
	return token, nil
}

// extractAudioURL checks the known carriers for the challenge clip in order
func (s *RecaptchaSolver) extractAudioURL(bframeCtx context.Context) (string, error) {
	const expr = `
		(document.querySelector('audio#audio-source') || {}).src ||
		(document.querySelector('source[type*=audio]') || {}).src ||
		(document.querySelector('[data-audio-url]') || {dataset:{}}).dataset.audioUrl ||
		(document.querySelector('.rc-audiochallenge-tdownload-link') || {}).href || ""`

	var audioURL string
	if err := chromedp.Run(bframeCtx, chromedp.Evaluate(expr, &audioURL)); err != nil {
		return "", err
	}
	if audioURL == "" {
		return "", fmt.Errorf("no audio element in challenge frame")
	}
	return audioURL, nil
}
