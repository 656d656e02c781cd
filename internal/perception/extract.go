// File: internal/perception/extract.go
package perception

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

// minMainText is the content threshold a candidate container must clear
// before a lower-priority container is even considered.
const minMainText = 200

// ExtractStructured produces the reader-view of the current page.
func (e *Engine) ExtractStructured(ctx context.Context, page schemas.PageHandle) (*schemas.StructuredExtraction, error) {
	raw, err := page.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read page html: %w", err)
	}
	pageURL, _, err := page.Location(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read page location: %w", err)
	}
	return ExtractFromHTML(raw, pageURL)
}

// ExtractFromHTML is the pure extraction core, separated from the live page
// so it can run against stored HTML.
func ExtractFromHTML(rawHTML, pageURL string) (*schemas.StructuredExtraction, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	base, _ := url.Parse(pageURL)

	out := &schemas.StructuredExtraction{
		URL:      pageURL,
		Title:    extractTitle(doc),
		Byline:   extractByline(doc),
		MainText: extractMainText(doc),
	}
	if ts := extractPublishedAt(doc); !ts.IsZero() {
		out.PublishedAt = &ts
	}
	collectHeadings(doc, &out.Headings)
	collectLinks(doc, base, &out.Links)
	return out, nil
}

// extractMainText tries content containers in priority order and settles on
// the first one with substantial text. Everything falls through to body.
func extractMainText(doc *html.Node) string {
	candidates := []func(*html.Node) bool{
		func(n *html.Node) bool { return n.Data == "main" },
		func(n *html.Node) bool { return n.Data == "article" },
		func(n *html.Node) bool { return attrValue(n, "id") == "content" },
		func(n *html.Node) bool { return n.Data == "body" },
	}

	var fallback string
	for _, match := range candidates {
		node := findElement(doc, match)
		if node == nil {
			continue
		}
		text := normalizeText(contentText(node))
		if len(text) >= minMainText {
			return text
		}
		if fallback == "" {
			fallback = text
		}
	}
	return fallback
}

func extractTitle(doc *html.Node) string {
	if og := metaContent(doc, "property", "og:title"); og != "" {
		return og
	}
	if node := findElement(doc, func(n *html.Node) bool { return n.Data == "title" }); node != nil {
		return strings.TrimSpace(contentText(node))
	}
	return ""
}

func extractByline(doc *html.Node) string {
	if author := metaContent(doc, "name", "author"); author != "" {
		return author
	}
	node := findElement(doc, func(n *html.Node) bool {
		if attrValue(n, "rel") == "author" {
			return true
		}
		return strings.Contains(attrValue(n, "class"), "byline")
	})
	if node != nil {
		return strings.TrimSpace(normalizeText(contentText(node)))
	}
	return ""
}

// publishedAtLayouts are tried in order against every date source.
var publishedAtLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
}

// extractPublishedAt checks metadata sources in priority order: structured
// meta tags first, then time elements.
func extractPublishedAt(doc *html.Node) time.Time {
	sources := []string{
		metaContent(doc, "property", "article:published_time"),
		metaContent(doc, "name", "datePublished"),
		metaContent(doc, "name", "date"),
		metaContent(doc, "name", "pubdate"),
		metaContent(doc, "name", "publish-date"),
	}
	if node := findElement(doc, func(n *html.Node) bool {
		return n.Data == "time" && attrValue(n, "datetime") != ""
	}); node != nil {
		sources = append(sources, attrValue(node, "datetime"))
	}

	for _, src := range sources {
		if src == "" {
			continue
		}
		for _, layout := range publishedAtLayouts {
			if ts, err := time.Parse(layout, src); err == nil {
				return ts.UTC()
			}
		}
	}
	return time.Time{}
}

func collectHeadings(doc *html.Node, out *[]string) {
	walkElements(doc, func(n *html.Node) {
		switch n.Data {
		case "h1", "h2", "h3":
			if text := strings.TrimSpace(normalizeText(contentText(n))); text != "" {
				*out = append(*out, text)
			}
		}
	})
}

func collectLinks(doc *html.Node, base *url.URL, out *[]schemas.Link) {
	seen := make(map[string]struct{})
	walkElements(doc, func(n *html.Node) {
		if n.Data != "a" {
			return
		}
		href := attrValue(n, "href")
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			return
		}
		resolved := href
		if base != nil {
			ref, err := url.Parse(href)
			if err != nil {
				return
			}
			resolved = base.ResolveReference(ref).String()
		}
		if !strings.HasPrefix(resolved, "http://") && !strings.HasPrefix(resolved, "https://") {
			return
		}
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		*out = append(*out, schemas.Link{
			Text: strings.TrimSpace(normalizeText(contentText(n))),
			URL:  resolved,
		})
	})
}

// -- node helpers --

var skippedContainers = map[string]struct{}{
	"script": {}, "style": {}, "noscript": {}, "template": {},
	"nav": {}, "header": {}, "footer": {}, "aside": {},
}

// contentText gathers text, skipping script blocks and page chrome.
func contentText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if _, skip := skippedContainers[n.Data]; skip {
				return
			}
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func findElement(doc *html.Node, match func(*html.Node) bool) *html.Node {
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && match(n) {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return found
}

func walkElements(doc *html.Node, visit func(*html.Node)) {
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			visit(n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func metaContent(doc *html.Node, attrKey, attrVal string) string {
	node := findElement(doc, func(n *html.Node) bool {
		return n.Data == "meta" && attrValue(n, attrKey) == attrVal
	})
	if node == nil {
		return ""
	}
	return strings.TrimSpace(attrValue(node, "content"))
}
