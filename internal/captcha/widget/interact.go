package widget

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/pagewright/pagewright/internal/browser"
)

// Interactor performs humanized operations inside a widget frame and
// produces structured results.
type Interactor struct {
	logger        arbor.ILogger
	screenshotDir string
}

// NewInteractor creates a widget interactor
func NewInteractor(logger arbor.ILogger, screenshotDir string) *Interactor {
	return &Interactor{logger: logger, screenshotDir: screenshotDir}
}

// Click locates an element through the strategy chain and clicks it with a
// curved cursor path.
func (w *Interactor) Click(ctx context.Context, target Target) InteractionResult {
	start := time.Now()

	located, err := Locate(ctx, target)
	if err != nil {
		return fail(start, err)
	}

	x, y, err := nodeCenter(ctx, located.NodeID)
	if err != nil {
		return fail(start, fmt.Errorf("failed to measure element: %w", err))
	}

	if err := browser.Click(ctx, x, y); err != nil {
		return fail(start, fmt.Errorf("click failed: %w", err))
	}

	return succeed(start, map[string]interface{}{
		"strategy": located.Strategy,
		"query":    located.Query,
	})
}

// Type focuses an element and types the text with human-scale key intervals
func (w *Interactor) Type(ctx context.Context, target Target, text string) InteractionResult {
	start := time.Now()

	located, err := Locate(ctx, target)
	if err != nil {
		return fail(start, err)
	}

	x, y, err := nodeCenter(ctx, located.NodeID)
	if err != nil {
		return fail(start, fmt.Errorf("failed to measure element: %w", err))
	}
	if err := browser.Click(ctx, x, y); err != nil {
		return fail(start, fmt.Errorf("focus click failed: %w", err))
	}

	if err := browser.TypeText(ctx, text, 80); err != nil {
		return fail(start, fmt.Errorf("typing failed: %w", err))
	}

	return succeed(start, map[string]interface{}{
		"strategy": located.Strategy,
		"length":   len(text),
	})
}

// SelectOption picks an option from a select element by value
func (w *Interactor) SelectOption(ctx context.Context, target Target, value string) InteractionResult {
	start := time.Now()

	located, err := Locate(ctx, target)
	if err != nil {
		return fail(start, err)
	}
	if located.Strategy != StrategyCSS {
		return fail(start, fmt.Errorf("select requires a css locator, matched via %s", located.Strategy))
	}

	if err := chromedp.Run(ctx, chromedp.SetValue(located.Query, value, chromedp.ByQuery)); err != nil {
		return fail(start, fmt.Errorf("select failed: %w", err))
	}

	return succeed(start, map[string]interface{}{"value": value})
}

// WaitVisible blocks until the target resolves and is visible
func (w *Interactor) WaitVisible(ctx context.Context, target Target, timeout time.Duration) InteractionResult {
	start := time.Now()
	deadline := time.Now().Add(timeout)

	for {
		located, err := Locate(ctx, target)
		if err == nil {
			return succeed(start, map[string]interface{}{"strategy": located.Strategy})
		}
		if time.Now().After(deadline) {
			return fail(start, fmt.Errorf("element never appeared within %s: %w", timeout, err))
		}
		select {
		case <-ctx.Done():
			return fail(start, ctx.Err())
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// CaptureDebugScreenshot saves the page as captcha-{taskID}-{unix-ms}.png in
// the configured directory. Failures are logged, never fatal; screenshots
// are diagnostics, not outputs.
func (w *Interactor) CaptureDebugScreenshot(ctx context.Context, taskID string) string {
	if w.screenshotDir == "" {
		return ""
	}
	var buf []byte
	if err := chromedp.Run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		w.logger.Warn().Err(err).Str("task_id", taskID).Msg("Debug screenshot capture failed")
		return ""
	}

	if err := os.MkdirAll(w.screenshotDir, 0755); err != nil {
		w.logger.Warn().Err(err).Msg("Failed to create screenshot directory")
		return ""
	}

	name := fmt.Sprintf("captcha-%s-%d.png", taskID, time.Now().UnixMilli())
	path := filepath.Join(w.screenshotDir, name)
	if err := os.WriteFile(path, buf, 0644); err != nil {
		w.logger.Warn().Err(err).Str("path", path).Msg("Failed to write debug screenshot")
		return ""
	}
	return path
}

func nodeCenter(ctx context.Context, nodeID cdp.NodeID) (float64, float64, error) {
	var x, y float64
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		box, err := dom.GetBoxModel().WithNodeID(nodeID).Do(ctx)
		if err != nil {
			return err
		}
		if len(box.Content) < 8 {
			return fmt.Errorf("degenerate box model")
		}
		x = (box.Content[0] + box.Content[4]) / 2
		y = (box.Content[1] + box.Content[5]) / 2
		return nil
	}))
	return x, y, err
}
