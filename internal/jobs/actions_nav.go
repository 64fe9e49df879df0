package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/pagewright/pagewright/internal/errctx"
	"github.com/pagewright/pagewright/internal/models"
)

// execNavigate loads a URL on the shared page. The job-level timeout caps
// only the first navigation; later navigations use the per-action timeout.
func execNavigate(ec *ExecContext, action models.Action, index int) (map[string]interface{}, error) {
	url := action.ParamString("url", ec.Job.TargetURL)
	if url == "" {
		return nil, errctx.New(ec.Ctx, errctx.CategoryInvalidInput, "missing_url", "navigate requires a url")
	}
	waitUntil := models.WaitUntil(action.ParamString("wait_until", string(ec.Job.WaitUntil)))

	navCtx := ec.Session.Ctx
	var cancel context.CancelFunc
	if !ec.FirstNavigationDone && ec.Job.TimeoutMS > 0 {
		navCtx, cancel = context.WithTimeout(navCtx, time.Duration(ec.Job.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	start := time.Now()
	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		if navCtx.Err() == context.DeadlineExceeded {
			return nil, errctx.Wrap(ec.Ctx, errctx.CategoryTimeout, fmt.Sprintf("navigation to %s timed out", url), err)
		}
		return nil, errctx.Wrap(ec.Ctx, errctx.CategoryNetwork, fmt.Sprintf("navigation to %s failed", url), err)
	}
	ec.FirstNavigationDone = true

	if err := waitForReady(navCtx, waitUntil); err != nil {
		return nil, errctx.Wrap(ec.Ctx, errctx.CategoryTimeout, "page never reached ready state", err)
	}

	var finalURL, title string
	if err := chromedp.Run(ec.Session.Ctx,
		chromedp.Location(&finalURL),
		chromedp.Title(&title),
	); err != nil {
		return nil, fmt.Errorf("failed to read page state after navigation: %w", err)
	}

	return map[string]interface{}{
		"url":         finalURL,
		"title":       title,
		"duration_ms": time.Since(start).Milliseconds(),
	}, nil
}

// waitForReady blocks until the requested readiness condition holds.
// chromedp.Navigate already waits for the load event; domcontentloaded is
// therefore met on entry, and networkidle is approximated by polling for a
// 500ms window without in-flight fetches.
func waitForReady(ctx context.Context, waitUntil models.WaitUntil) error {
	switch waitUntil {
	case models.WaitDOMContentLoaded, models.WaitLoad, "":
		var state string
		return chromedp.Run(ctx, chromedp.Evaluate(`document.readyState`, &state))
	case models.WaitNetworkIdle:
		deadline := time.Now().Add(10 * time.Second)
		for time.Now().Before(deadline) {
			var pending int
			err := chromedp.Run(ctx, chromedp.Evaluate(
				`window.performance.getEntriesByType('resource').filter(r => r.responseEnd === 0).length`, &pending))
			if err != nil {
				return err
			}
			if pending == 0 {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
		}
		return fmt.Errorf("network never went idle")
	}
	return fmt.Errorf("unknown wait_until: %q", waitUntil)
}

// execWait blocks on a selector becoming visible or on a fixed delay
func execWait(ec *ExecContext, action models.Action, index int) (map[string]interface{}, error) {
	selector := action.ParamString("selector", "")
	delayMS := action.ParamInt("duration_ms", 0)

	switch {
	case selector != "":
		timeout := time.Duration(action.ParamInt("timeout_ms", 10000)) * time.Millisecond
		waitCtx, cancel := context.WithTimeout(ec.Session.Ctx, timeout)
		defer cancel()
		if err := chromedp.Run(waitCtx, chromedp.WaitVisible(selector)); err != nil {
			return nil, errctx.Wrap(ec.Ctx, errctx.CategoryTimeout, fmt.Sprintf("selector %q never became visible", selector), err)
		}
		return map[string]interface{}{"selector": selector}, nil
	case delayMS > 0:
		select {
		case <-ec.Session.Ctx.Done():
			return nil, ec.Session.Ctx.Err()
		case <-time.After(time.Duration(delayMS) * time.Millisecond):
		}
		return map[string]interface{}{"waited_ms": delayMS}, nil
	}
	return nil, errctx.New(ec.Ctx, errctx.CategoryInvalidInput, "missing_wait_target", "wait requires a selector or duration_ms")
}
