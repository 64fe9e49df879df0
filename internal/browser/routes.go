package browser

import (
	"context"

	"github.com/chromedp/cdproto/fetch"
	cdpnetwork "github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
)

// Resource types aborted when asset blocking is on. Document, script, XHR
// and websocket traffic always passes; captcha widgets need all of those.
var blockedResourceTypes = map[cdpnetwork.ResourceType]bool{
	cdpnetwork.ResourceTypeImage: true,
	cdpnetwork.ResourceTypeFont:  true,
	cdpnetwork.ResourceTypeMedia: true,
}

// EnableAssetBlocking intercepts requests on the session and aborts asset
// fetches. Interception stays on for the life of the session.
func EnableAssetBlocking(sessionCtx context.Context, logger arbor.ILogger) error {
	chromedp.ListenTarget(sessionCtx, func(ev interface{}) {
		paused, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}
		// Continue/fail must not run on the listener goroutine
		go func() {
			action := fetch.ContinueRequest(paused.RequestID)
			if blockedResourceTypes[paused.ResourceType] {
				if err := chromedp.Run(sessionCtx, fetch.FailRequest(paused.RequestID, cdpnetwork.ErrorReasonAborted)); err != nil {
					logger.Trace().Err(err).Str("url", paused.Request.URL).Msg("Failed to abort asset request")
				}
				return
			}
			if err := chromedp.Run(sessionCtx, action); err != nil {
				logger.Trace().Err(err).Str("url", paused.Request.URL).Msg("Failed to continue request")
			}
		}()
	})

	return chromedp.Run(sessionCtx, fetch.Enable())
}
