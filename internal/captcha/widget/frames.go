package widget

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// framePollInterval is the re-check cadence while waiting for a widget
// iframe to attach
const framePollInterval = 500 * time.Millisecond

// FrameContext resolves the captcha widget iframe to a chromedp context.
// Cross-origin widget frames run as separate targets; this finds the target
// whose URL matches and derives a context bound to it.
func FrameContext(sessionCtx context.Context, urlFragment string) (context.Context, context.CancelFunc, error) {
	var frameTargetID target.ID

	err := chromedp.Run(sessionCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		infos, err := target.GetTargets().Do(ctx)
		if err != nil {
			return fmt.Errorf("failed to list targets: %w", err)
		}
		for _, info := range infos {
			if info.Type == "iframe" && strings.Contains(info.URL, urlFragment) {
				frameTargetID = info.TargetID
				return nil
			}
		}
		return fmt.Errorf("no iframe target matching %q", urlFragment)
	}))
	if err != nil {
		return nil, nil, err
	}

	frameCtx, cancel := chromedp.NewContext(sessionCtx, chromedp.WithTargetID(frameTargetID))
	return frameCtx, cancel, nil
}

// WaitForFrame polls until a frame matching the fragment appears or the
// timeout elapses. Widgets injected by asynchronous scripts show up late;
// this is the standard way to wait them out.
func WaitForFrame(sessionCtx context.Context, urlFragment string, timeout time.Duration) (context.Context, context.CancelFunc, error) {
	deadline := time.Now().Add(timeout)
	for {
		frameCtx, cancel, err := FrameContext(sessionCtx, urlFragment)
		if err == nil {
			return frameCtx, cancel, nil
		}
		if time.Now().After(deadline) {
			return nil, nil, fmt.Errorf("frame %q did not appear within %s: %w", urlFragment, timeout, err)
		}
		select {
		case <-sessionCtx.Done():
			return nil, nil, sessionCtx.Err()
		case <-time.After(framePollInterval):
		}
	}
}
