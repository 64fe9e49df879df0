package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/security"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/pagewright/pagewright/internal/models"
)

// SessionOptions configures one job's isolated browsing context
type SessionOptions struct {
	ViewportWidth     int
	ViewportHeight    int
	UserAgent         string
	Locale            string
	TimezoneID        string
	IgnoreHTTPSErrors bool
	StealthScript     string
	BlockAssets       bool
}

// Session is one job's isolated browsing context inside a pooled instance.
// Cookies, storage and cache are scoped to the context, so nothing bleeds
// between jobs sharing the instance.
type Session struct {
	Ctx       context.Context
	cancel    context.CancelFunc
	instance  *Instance
	contextID cdp.BrowserContextID
	targetID  target.ID
	logger    arbor.ILogger
	closeOnce sync.Once
}

// NewSession creates an isolated browser context and a tab inside it, then
// applies the fingerprint and network options before any page script runs.
func NewSession(inst *Instance, opts SessionOptions, logger arbor.ILogger) (*Session, error) {
	var contextID cdp.BrowserContextID
	var targetID target.ID

	err := chromedp.Run(inst.Ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		contextID, err = target.CreateBrowserContext().Do(ctx)
		if err != nil {
			return fmt.Errorf("failed to create browser context: %w", err)
		}
		targetID, err = target.CreateTarget("about:blank").
			WithBrowserContextID(contextID).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("failed to create target: %w", err)
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}

	sessionCtx, cancel := chromedp.NewContext(inst.Ctx, chromedp.WithTargetID(targetID))

	session := &Session{
		Ctx:       sessionCtx,
		cancel:    cancel,
		instance:  inst,
		contextID: contextID,
		targetID:  targetID,
		logger:    logger,
	}

	if err := session.applyOptions(opts); err != nil {
		session.Close()
		return nil, err
	}
	return session, nil
}

func (s *Session) applyOptions(opts SessionOptions) error {
	actions := []chromedp.Action{}

	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		actions = append(actions, chromedp.EmulateViewport(int64(opts.ViewportWidth), int64(opts.ViewportHeight)))
	}

	if opts.UserAgent != "" {
		ua := emulation.SetUserAgentOverride(opts.UserAgent).
			WithPlatform(ConsistentPlatform(opts.UserAgent))
		if opts.Locale != "" {
			ua = ua.WithAcceptLanguage(opts.Locale)
		}
		actions = append(actions, ua)
	}

	if opts.TimezoneID != "" {
		actions = append(actions, emulation.SetTimezoneOverride(opts.TimezoneID))
	}

	if opts.IgnoreHTTPSErrors {
		actions = append(actions, security.SetIgnoreCertificateErrors(true))
	}

	if opts.StealthScript != "" {
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(opts.StealthScript).Do(ctx)
			return err
		}))
	}

	if len(actions) > 0 {
		if err := chromedp.Run(s.Ctx, actions...); err != nil {
			return fmt.Errorf("failed to apply session options: %w", err)
		}
	}

	if opts.BlockAssets {
		if err := EnableAssetBlocking(s.Ctx, s.logger); err != nil {
			return fmt.Errorf("failed to enable asset blocking: %w", err)
		}
	}
	return nil
}

// SeedCookies installs cookies before the first navigation
func (s *Session) SeedCookies(cookies []models.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	return chromedp.Run(s.Ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			setCookie := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HTTPOnly)
			if c.Expires > 0 {
				expires := cdp.TimeSinceEpoch(time.Unix(c.Expires, 0))
				setCookie = setCookie.WithExpires(&expires)
			}
			if err := setCookie.Do(ctx); err != nil {
				return fmt.Errorf("failed to set cookie %q: %w", c.Name, err)
			}
		}
		return nil
	}))
}

// SeedDOMStorage writes localStorage and sessionStorage entries. Requires a
// page on the target origin, so this runs after the first navigation.
func (s *Session) SeedDOMStorage(storage *models.BrowserStorage) error {
	if storage == nil || (len(storage.LocalStorage) == 0 && len(storage.SessionStorage) == 0) {
		return nil
	}
	var actions []chromedp.Action
	for key, value := range storage.LocalStorage {
		actions = append(actions, chromedp.Evaluate(storageSetExpr("localStorage", key, value), nil))
	}
	for key, value := range storage.SessionStorage {
		actions = append(actions, chromedp.Evaluate(storageSetExpr("sessionStorage", key, value), nil))
	}
	if err := chromedp.Run(s.Ctx, actions...); err != nil {
		return fmt.Errorf("failed to seed DOM storage: %w", err)
	}
	return nil
}

func storageSetExpr(store, key, value string) string {
	return fmt.Sprintf("%s.setItem(%q, %q)", store, key, value)
}

// ClearStorage wipes cookies and DOM storage for the session's context
func (s *Session) ClearStorage() error {
	err := chromedp.Run(s.Ctx,
		network.ClearBrowserCookies(),
		chromedp.Evaluate(`try { localStorage.clear(); sessionStorage.clear(); } catch (e) {}`, nil),
	)
	if err != nil {
		return fmt.Errorf("failed to clear session storage: %w", err)
	}
	return nil
}

// Close disposes the tab and its browser context. Safe to call more than
// once; teardown failures are logged, never propagated, so job cleanup in a
// defer cannot mask the job's own error.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		err := chromedp.Run(s.instance.Ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			if err := target.CloseTarget(s.targetID).Do(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to close session target")
			}
			if err := target.DisposeBrowserContext(s.contextID).Do(ctx); err != nil {
				return err
			}
			return nil
		}))
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to dispose browser context")
		}
		s.cancel()
	})
}
