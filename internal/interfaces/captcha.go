package interfaces

import (
	"context"

	"github.com/pagewright/pagewright/internal/models"
)

// ChallengeDetector inspects a live page and reports which anti-bot systems
// are present. The sessionCtx is a chromedp context attached to the page.
type ChallengeDetector interface {
	// Detect returns results at or above the minimum confidence threshold,
	// strongest first.
	Detect(ctx context.Context, sessionCtx context.Context, pageURL string) ([]models.DetectionResult, error)
}

// ChallengeSolver solves one challenge end to end. Implementations are
// registered with the solver registry under a unique ID.
type ChallengeSolver interface {
	ID() string
	Supports(challengeType models.ChallengeType) bool
	Solve(ctx context.Context, sessionCtx context.Context, challenge *models.Challenge) (*models.SolveResult, error)
}

// SolveOrchestrator ranks, gates and retries solvers for a challenge
type SolveOrchestrator interface {
	Solve(ctx context.Context, sessionCtx context.Context, challenge *models.Challenge) (*models.SolveResult, error)
}

// AudioTranscriber turns a captcha audio clip into text
type AudioTranscriber interface {
	Transcribe(ctx context.Context, audioURL string, sessionCtx context.Context) (*models.Transcription, error)
}
