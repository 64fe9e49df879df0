package solver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// pollForValue evaluates expr every 500ms until it yields a non-empty string
// or the context expires. The expression must be side-effect free.
func pollForValue(ctx context.Context, expr string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		var value string
		if err := chromedp.Run(ctx, chromedp.Evaluate(expr, &value)); err == nil && value != "" {
			return value, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("no value produced within %s", timeout)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// cookieValue returns the named cookie's value in the session, or ""
func cookieValue(ctx context.Context, name string) (string, error) {
	var value string
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, cookie := range cookies {
			if cookie.Name == name {
				value = cookie.Value
				return nil
			}
		}
		return nil
	}))
	return value, err
}

// evaluatePromise runs a promise-returning expression and decodes the
// settled value into out.
func evaluatePromise(ctx context.Context, expr string, out interface{}) error {
	return chromedp.Run(ctx, chromedp.Evaluate(expr, out, func(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
		return ep.WithAwaitPromise(true)
	}))
}

// safeValueExpr builds a null-safe property read for a selector, e.g.
// document.querySelector(sel)?.value with the selector quoted.
func safeValueExpr(selector, property string) string {
	escaped := strings.ReplaceAll(selector, `"`, `\"`)
	return fmt.Sprintf(`(document.querySelector("%s") || {})["%s"] || ""`, escaped, property)
}
