package widget

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
)

// Locator strategies tried in order until one matches. The chain starts
// with the cheapest (CSS) and degrades to fuzzier matches.
const (
	StrategyCSS       = "css"
	StrategyXPath     = "xpath"
	StrategyRole      = "role"
	StrategyText      = "text"
	StrategyAriaLabel = "aria-label"
)

// Target describes an element to find. Any subset of the hints may be set;
// empty hints skip their strategy.
type Target struct {
	CSS       string
	XPath     string
	Role      string
	Text      string
	AriaLabel string
}

// Located is a successful element resolution
type Located struct {
	Strategy string
	Query    string
	NodeID   cdp.NodeID
}

// Locate walks the strategy chain and returns the first match. The error
// lists every strategy tried so failures are diagnosable from logs alone.
func Locate(ctx context.Context, target Target) (*Located, error) {
	type attempt struct {
		strategy string
		query    string
		opts     []chromedp.QueryOption
	}

	var attempts []attempt
	if target.CSS != "" {
		attempts = append(attempts, attempt{StrategyCSS, target.CSS, []chromedp.QueryOption{chromedp.ByQuery}})
	}
	if target.XPath != "" {
		attempts = append(attempts, attempt{StrategyXPath, target.XPath, []chromedp.QueryOption{chromedp.BySearch}})
	}
	if target.Role != "" {
		query := fmt.Sprintf(`[role=%q]`, target.Role)
		attempts = append(attempts, attempt{StrategyRole, query, []chromedp.QueryOption{chromedp.ByQuery}})
	}
	if target.Text != "" {
		query := fmt.Sprintf(`//*[contains(normalize-space(text()), %s)]`, xpathLiteral(target.Text))
		attempts = append(attempts, attempt{StrategyText, query, []chromedp.QueryOption{chromedp.BySearch}})
	}
	if target.AriaLabel != "" {
		query := fmt.Sprintf(`[aria-label*=%q]`, target.AriaLabel)
		attempts = append(attempts, attempt{StrategyAriaLabel, query, []chromedp.QueryOption{chromedp.ByQuery}})
	}
	if len(attempts) == 0 {
		return nil, fmt.Errorf("no locator hints provided")
	}

	var tried []string
	for _, a := range attempts {
		nodes, err := queryNodes(ctx, a.query, a.opts...)
		if err == nil && len(nodes) > 0 {
			return &Located{Strategy: a.strategy, Query: a.query, NodeID: nodes[0].NodeID}, nil
		}
		tried = append(tried, fmt.Sprintf("%s(%s)", a.strategy, a.query))
	}
	return nil, fmt.Errorf("element not found, tried: %s", strings.Join(tried, ", "))
}

func queryNodes(ctx context.Context, query string, opts ...chromedp.QueryOption) ([]*cdp.Node, error) {
	var nodes []*cdp.Node
	opts = append(opts, chromedp.AtLeast(0))
	if err := chromedp.Run(ctx, chromedp.Nodes(query, &nodes, opts...)); err != nil {
		return nil, err
	}
	return nodes, nil
}

// xpathLiteral quotes a string for embedding in an XPath expression,
// handling embedded quotes via concat().
func xpathLiteral(s string) string {
	if !strings.Contains(s, `'`) {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, `'`)
	quoted := make([]string, 0, len(parts)*2)
	for i, part := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		if part != "" {
			quoted = append(quoted, "'"+part+"'")
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
