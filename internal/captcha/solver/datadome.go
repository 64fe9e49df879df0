package solver

import (
	"context"
	"math/rand"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/pagewright/pagewright/internal/browser"
	"github.com/pagewright/pagewright/internal/captcha/widget"
	"github.com/pagewright/pagewright/internal/errctx"
	"github.com/pagewright/pagewright/internal/models"
)

const (
	datadomeFrameFragment = "captcha-delivery.com"
	datadomeCookieName    = "datadome"
)

// DataDomeSolver clears DataDome interstitials. The sensor path replays the
// tag's own reload call; the slider path drags the puzzle handle with a
// humanized pointer.
type DataDomeSolver struct {
	interactor *widget.Interactor
	logger     arbor.ILogger
}

// NewDataDomeSolver creates the native DataDome solver
func NewDataDomeSolver(interactor *widget.Interactor, logger arbor.ILogger) *DataDomeSolver {
	return &DataDomeSolver{interactor: interactor, logger: logger}
}

func (s *DataDomeSolver) ID() string { return "datadome-native" }

func (s *DataDomeSolver) Supports(challengeType models.ChallengeType) bool {
	switch challengeType {
	case models.ChallengeDataDomeSensor, models.ChallengeDataDomeCaptcha, models.ChallengeDataDomeSlider:
		return true
	}
	return false
}

func (s *DataDomeSolver) Solve(ctx context.Context, sessionCtx context.Context, challenge *models.Challenge) (*models.SolveResult, error) {
	before, _ := cookieValue(sessionCtx, datadomeCookieName)

	var err error
	switch challenge.Type {
	case models.ChallengeDataDomeSensor:
		err = s.replaySensor(ctx, sessionCtx)
	default:
		err = s.dragSlider(ctx, sessionCtx)
	}
	if err != nil {
		return nil, err
	}

	cookie, err := s.waitForFreshCookie(ctx, sessionCtx, before)
	if err != nil {
		s.interactor.CaptureDebugScreenshot(sessionCtx, challenge.CorrelationID)
		return nil, err
	}
	return &models.SolveResult{Cookie: datadomeCookieName + "=" + cookie, SolvedAt: time.Now()}, nil
}

// replaySensor nudges the DataDome tag to re-run its check from a context
// that now carries the stealth profile.
func (s *DataDomeSolver) replaySensor(ctx context.Context, sessionCtx context.Context) error {
	const expr = `(() => {
		if (window.dd && typeof window.dd.check === 'function') { window.dd.check(); return true; }
		if (window.DD_RUM) { return true; }
		const tag = document.querySelector('script[src*="datadome"], script[src*="captcha-delivery"]');
		if (tag) { const el = document.createElement('script'); el.src = tag.src; document.head.appendChild(el); return true; }
		return false;
	})()`

	var triggered bool
	if err := chromedp.Run(sessionCtx, chromedp.Evaluate(expr, &triggered)); err != nil {
		return errctx.Wrap(ctx, errctx.CategorySolverUnavailable, "sensor replay failed", err)
	}
	if !triggered {
		return errctx.New(ctx, errctx.CategorySolverUnavailable, "no_tag", "no DataDome tag on page")
	}
	return nil
}

// dragSlider solves the puzzle slider inside the captcha-delivery frame
func (s *DataDomeSolver) dragSlider(ctx context.Context, sessionCtx context.Context) error {
	frameCtx, cancel, err := widget.WaitForFrame(sessionCtx, datadomeFrameFragment, 10*time.Second)
	if err != nil {
		return errctx.Wrap(ctx, errctx.CategorySolverUnavailable, "captcha frame not found", err)
	}
	defer cancel()

	var handleX, handleY, trackWidth float64
	const measureExpr = `(() => {
		const handle = document.querySelector('.slider, .sliderContainer .handler, [class*=slider] [class*=handle]');
		const track = document.querySelector('.sliderContainer, [class*=slider-track], [class*=slider]');
		if (!handle || !track) { return null; }
		const hr = handle.getBoundingClientRect();
		const tr = track.getBoundingClientRect();
		return { x: hr.x + hr.width / 2, y: hr.y + hr.height / 2, w: tr.width };
	})()`

	var measured *struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
		W float64 `json:"w"`
	}
	if err := chromedp.Run(frameCtx, chromedp.Evaluate(measureExpr, &measured)); err != nil || measured == nil {
		return errctx.New(ctx, errctx.CategorySolverUnavailable, "no_slider", "slider elements not found in frame")
	}
	handleX, handleY, trackWidth = measured.X, measured.Y, measured.W

	// Drag across the track with a slight overshoot and settle back
	targetX := handleX + trackWidth - 20
	overshoot := targetX + float64(rand.Intn(8)+3)

	approachX := handleX - float64(rand.Intn(120)+60)
	approachY := handleY + float64(rand.Intn(80)-40)
	if err := browser.MoveMouse(frameCtx, approachX, approachY, handleX, handleY); err != nil {
		return errctx.Wrap(ctx, errctx.CategorySolverUnavailable, "pointer move failed", err)
	}
	if err := s.dispatchDrag(frameCtx, handleX, handleY, overshoot, targetX); err != nil {
		return errctx.Wrap(ctx, errctx.CategorySolverUnavailable, "slider drag failed", err)
	}
	return nil
}

// dispatchDrag presses on the handle, tracks through the overshoot point to
// the target and releases.
func (s *DataDomeSolver) dispatchDrag(frameCtx context.Context, startX, startY, overshootX, targetX float64) error {
	return chromedp.Run(frameCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		press := input.DispatchMouseEvent(input.MousePressed, startX, startY).
			WithButton(input.Left).WithClickCount(1)
		if err := press.Do(ctx); err != nil {
			return err
		}

		waypoints := []float64{overshootX, targetX}
		x := startX
		for _, waypoint := range waypoints {
			steps := 12 + rand.Intn(8)
			for i := 1; i <= steps; i++ {
				x += (waypoint - x) / float64(steps-i+1)
				y := startY + signedJitter()
				move := input.DispatchMouseEvent(input.MouseMoved, x, y).WithButton(input.Left)
				if err := move.Do(ctx); err != nil {
					return err
				}
				time.Sleep(time.Duration(8+rand.Intn(12)) * time.Millisecond)
			}
		}

		release := input.DispatchMouseEvent(input.MouseReleased, targetX, startY).
			WithButton(input.Left).WithClickCount(1)
		return release.Do(ctx)
	}))
}

// waitForFreshCookie polls until the datadome cookie changes from its
// pre-solve value and looks substantial.
func (s *DataDomeSolver) waitForFreshCookie(ctx context.Context, sessionCtx context.Context, before string) (string, error) {
	deadline := time.Now().Add(10 * time.Second)
	for {
		cookie, err := cookieValue(sessionCtx, datadomeCookieName)
		if err == nil && cookie != "" && cookie != before {
			return cookie, nil
		}
		if time.Now().After(deadline) {
			return "", errctx.New(ctx, errctx.CategorySolverUnavailable, "cookie_stale",
				"datadome cookie not refreshed within 10s")
		}
		select {
		case <-ctx.Done():
			return "", errctx.Wrap(ctx, errctx.CategoryTimeout, "cookie wait interrupted", ctx.Err())
		case <-time.After(500 * time.Millisecond):
		}
	}
}
