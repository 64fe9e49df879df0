package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"

	"github.com/pagewright/pagewright/internal/browser"
	"github.com/pagewright/pagewright/internal/errctx"
	"github.com/pagewright/pagewright/internal/models"
)

// execClick clicks a selector. With humanize on (the default), the cursor
// travels a jittered curve to the element center before pressing.
func execClick(ec *ExecContext, action models.Action, index int) (map[string]interface{}, error) {
	selector := action.ParamString("selector", "")
	if selector == "" {
		return nil, errctx.New(ec.Ctx, errctx.CategoryInvalidInput, "missing_selector", "click requires a selector")
	}

	timeout := time.Duration(action.ParamInt("timeout_ms", 10000)) * time.Millisecond
	clickCtx, cancel := context.WithTimeout(ec.Session.Ctx, timeout)
	defer cancel()

	if err := chromedp.Run(clickCtx, chromedp.WaitVisible(selector)); err != nil {
		return nil, errctx.Wrap(ec.Ctx, errctx.CategoryTimeout, fmt.Sprintf("click target %q never became visible", selector), err)
	}

	if action.ParamBool("humanize", true) {
		x, y, err := elementCenter(clickCtx, selector)
		if err != nil {
			return nil, fmt.Errorf("failed to locate %q: %w", selector, err)
		}
		if err := browser.Click(clickCtx, x, y); err != nil {
			return nil, fmt.Errorf("failed to click %q: %w", selector, err)
		}
	} else {
		if err := chromedp.Run(clickCtx, chromedp.Click(selector)); err != nil {
			return nil, fmt.Errorf("failed to click %q: %w", selector, err)
		}
	}

	return map[string]interface{}{"selector": selector}, nil
}

// execFill types a value into an input. Humanized typing presses one key at
// a time with normally distributed intervals.
func execFill(ec *ExecContext, action models.Action, index int) (map[string]interface{}, error) {
	selector := action.ParamString("selector", "")
	value := action.ParamString("value", "")
	if selector == "" {
		return nil, errctx.New(ec.Ctx, errctx.CategoryInvalidInput, "missing_selector", "fill requires a selector")
	}

	timeout := time.Duration(action.ParamInt("timeout_ms", 10000)) * time.Millisecond
	fillCtx, cancel := context.WithTimeout(ec.Session.Ctx, timeout)
	defer cancel()

	if err := chromedp.Run(fillCtx, chromedp.WaitVisible(selector)); err != nil {
		return nil, errctx.Wrap(ec.Ctx, errctx.CategoryTimeout, fmt.Sprintf("fill target %q never became visible", selector), err)
	}

	if action.ParamBool("humanize", true) {
		if err := chromedp.Run(fillCtx, chromedp.Click(selector)); err != nil {
			return nil, fmt.Errorf("failed to focus %q: %w", selector, err)
		}
		if err := browser.TypeText(fillCtx, value, float64(action.ParamInt("key_delay_ms", 80))); err != nil {
			return nil, fmt.Errorf("failed to type into %q: %w", selector, err)
		}
	} else {
		if err := chromedp.Run(fillCtx, chromedp.SendKeys(selector, value)); err != nil {
			return nil, fmt.Errorf("failed to fill %q: %w", selector, err)
		}
	}

	return map[string]interface{}{"selector": selector, "length": len(value)}, nil
}

// elementCenter resolves a selector to viewport coordinates via its box model
func elementCenter(ctx context.Context, selector string) (float64, float64, error) {
	var nodes []*cdp.Node
	if err := chromedp.Run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQuery)); err != nil {
		return 0, 0, err
	}
	if len(nodes) == 0 {
		return 0, 0, fmt.Errorf("selector matched no nodes: %q", selector)
	}

	var x, y float64
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		box, err := dom.GetBoxModel().WithNodeID(nodes[0].NodeID).Do(ctx)
		if err != nil {
			return err
		}
		// Content quad is [x1 y1 x2 y2 x3 y3 x4 y4]
		if len(box.Content) < 8 {
			return fmt.Errorf("degenerate box model for %q", selector)
		}
		x = (box.Content[0] + box.Content[4]) / 2
		y = (box.Content[1] + box.Content[5]) / 2
		return nil
	}))
	return x, y, err
}
