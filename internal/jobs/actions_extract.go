package jobs

import (
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"

	"github.com/pagewright/pagewright/internal/errctx"
	"github.com/pagewright/pagewright/internal/models"
)

// execExtract pulls content out of the page. Scope defaults to the whole
// document; format is text, html or markdown.
func execExtract(ec *ExecContext, action models.Action, index int) (map[string]interface{}, error) {
	selector := action.ParamString("selector", "html")
	format := action.ParamString("format", "text")

	var outerHTML string
	if err := chromedp.Run(ec.Session.Ctx, chromedp.OuterHTML(selector, &outerHTML)); err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", selector, err)
	}

	content, err := convertContent(outerHTML, format)
	if err != nil {
		return nil, errctx.Wrap(ec.Ctx, errctx.CategoryInvalidInput, "extract conversion failed", err)
	}

	data := map[string]interface{}{
		"selector": selector,
		"format":   format,
		"content":  content,
	}

	// Optional per-field extraction: {"fields": {"title": "h1", "price": ".price"}}
	if fields, ok := action.Params["fields"].(map[string]interface{}); ok && len(fields) > 0 {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(outerHTML))
		if err != nil {
			return nil, fmt.Errorf("failed to parse extracted HTML: %w", err)
		}
		extracted := make(map[string]interface{}, len(fields))
		for name, sel := range fields {
			selStr, ok := sel.(string)
			if !ok {
				continue
			}
			extracted[name] = strings.TrimSpace(doc.Find(selStr).First().Text())
		}
		data["fields"] = extracted
	}

	return data, nil
}

func convertContent(html, format string) (string, error) {
	switch format {
	case "html":
		return html, nil
	case "text":
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			return "", err
		}
		doc.Find("script, style, noscript").Remove()
		return strings.TrimSpace(doc.Text()), nil
	case "markdown":
		converter := md.NewConverter("", true, nil)
		markdown, err := converter.ConvertString(html)
		if err != nil {
			return "", err
		}
		return markdown, nil
	}
	return "", fmt.Errorf("unknown extract format: %q", format)
}
