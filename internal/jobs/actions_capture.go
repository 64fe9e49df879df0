package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/pagewright/pagewright/internal/models"
)

// execScreenshot captures the viewport or the full page as a PNG artifact
func execScreenshot(ec *ExecContext, action models.Action, index int) (map[string]interface{}, error) {
	var buf []byte
	var err error

	fullPage := action.ParamBool("full_page", false)
	if fullPage {
		err = chromedp.Run(ec.Session.Ctx, chromedp.FullScreenshot(&buf, 90))
	} else {
		err = chromedp.Run(ec.Session.Ctx, chromedp.CaptureScreenshot(&buf))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}

	label := action.ParamString("label", fmt.Sprintf("screenshot-%d", index))
	ec.Artifacts = append(ec.Artifacts, models.Artifact{
		ContentType: "image/png",
		Size:        len(buf),
		Data:        buf,
		Label:       label,
	})

	return map[string]interface{}{
		"label":     label,
		"bytes":     len(buf),
		"full_page": fullPage,
	}, nil
}

// execEvaluate runs a JavaScript expression and returns its JSON result
func execEvaluate(ec *ExecContext, action models.Action, index int) (map[string]interface{}, error) {
	expression := action.ParamString("expression", "")
	if expression == "" {
		expression = action.ParamString("script", "")
	}
	if expression == "" {
		return nil, fmt.Errorf("evaluate requires an expression")
	}

	timeout := time.Duration(action.ParamInt("timeout_ms", 10000)) * time.Millisecond
	evalCtx, cancel := context.WithTimeout(ec.Session.Ctx, timeout)
	defer cancel()

	var raw json.RawMessage
	if err := chromedp.Run(evalCtx, chromedp.Evaluate(expression, &raw)); err != nil {
		return nil, fmt.Errorf("evaluate failed: %w", err)
	}

	var result interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			result = string(raw)
		}
	}

	return map[string]interface{}{"result": result}, nil
}
