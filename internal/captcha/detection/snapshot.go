package detection

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// PageSnapshot is the one-shot capture every detection strategy reads from.
// Collecting once keeps detection to a handful of CDP round-trips no matter
// how many strategies run.
type PageSnapshot struct {
	URL         string
	HTML        string
	FrameURLs   []string
	CookieNames []string

	// JS globals probed in a single evaluate; key is the expression name
	Globals map[string]bool
}

// Globals probed on the page. Each maps a short name to a boolean JS probe.
var globalProbes = map[string]string{
	"grecaptcha": `typeof window.grecaptcha !== 'undefined'`,
	"hcaptcha":   `typeof window.hcaptcha !== 'undefined'`,
	"turnstile":  `typeof window.turnstile !== 'undefined'`,
	"bmak":       `typeof window.bmak !== 'undefined'`,
	"dd":         `typeof window.dd !== 'undefined' || typeof window.DD_RUM !== 'undefined'`,
	"arkose":     `typeof window.arkose !== 'undefined' || typeof window.ArkoseEnforcement !== 'undefined'`,
}

// CollectSnapshot captures the page state used for detection
func CollectSnapshot(sessionCtx context.Context, pageURL string) (*PageSnapshot, error) {
	snap := &PageSnapshot{
		URL:     pageURL,
		Globals: make(map[string]bool),
	}

	probeExpr := buildProbeExpression()
	var globals map[string]bool

	err := chromedp.Run(sessionCtx,
		chromedp.OuterHTML("html", &snap.HTML),
		chromedp.Evaluate(probeExpr, &globals),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return fmt.Errorf("failed to read frame tree: %w", err)
			}
			snap.FrameURLs = flattenFrameURLs(tree)
			return nil
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			cookies, err := network.GetCookies().Do(ctx)
			if err != nil {
				return fmt.Errorf("failed to read cookies: %w", err)
			}
			for _, c := range cookies {
				snap.CookieNames = append(snap.CookieNames, c.Name)
			}
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to collect page snapshot: %w", err)
	}

	snap.Globals = globals
	return snap, nil
}

func buildProbeExpression() string {
	var b strings.Builder
	b.WriteString("({")
	for name, probe := range globalProbes {
		fmt.Fprintf(&b, "%q: (() => { try { return %s; } catch (e) { return false; } })(),", name, probe)
	}
	b.WriteString("})")
	return b.String()
}

func flattenFrameURLs(tree *page.FrameTree) []string {
	if tree == nil {
		return nil
	}
	urls := []string{}
	var walk func(node *page.FrameTree)
	walk = func(node *page.FrameTree) {
		if node.Frame != nil && node.Frame.URL != "" {
			urls = append(urls, node.Frame.URL)
		}
		for _, child := range node.ChildFrames {
			walk(child)
		}
	}
	walk(tree)
	return urls
}

// HasFrameContaining reports whether any frame URL contains the fragment
func (s *PageSnapshot) HasFrameContaining(fragment string) bool {
	for _, url := range s.FrameURLs {
		if strings.Contains(url, fragment) {
			return true
		}
	}
	return false
}

// HasCookie reports whether a cookie with the given name is present
func (s *PageSnapshot) HasCookie(name string) bool {
	for _, cookie := range s.CookieNames {
		if cookie == name {
			return true
		}
	}
	return false
}

// HTMLContains reports whether the serialized DOM contains the fragment
func (s *PageSnapshot) HTMLContains(fragment string) bool {
	return strings.Contains(s.HTML, fragment)
}

// HasGlobal reports whether a probed JS global was present
func (s *PageSnapshot) HasGlobal(name string) bool {
	return s.Globals[name]
}
