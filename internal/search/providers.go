// File: internal/search/providers.go
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/config"
)

// Provider is one search source. Implementations must respect the context
// deadline and return raw (uncanonicalized, unranked) results.
type Provider interface {
	Name() schemas.SearchEngine
	Search(ctx context.Context, query string, limit int) ([]schemas.SearchResult, error)
}

// httpDoer is the minimal client seam, satisfied by *http.Client and mocked
// in tests.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

const maxProviderBody = 2 << 20 // 2 MiB cap on any provider response.

// -- Direct JSON API provider --

// directAPIProvider queries a commercial search API when a credential is
// configured. Response shape follows the Brave-style web search envelope.
type directAPIProvider struct {
	cfg     config.SearchConfig
	client  httpDoer
	limiter *rate.Limiter
	logger  *zap.Logger
}

func (p *directAPIProvider) Name() schemas.SearchEngine { return schemas.EngineDirectAPI }

func (p *directAPIProvider) Search(ctx context.Context, query string, limit int) ([]schemas.SearchResult, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s?q=%s&count=%d", p.cfg.DirectAPIURL, url.QueryEscape(query), limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", p.cfg.DirectAPIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("direct api request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("direct api returned status %d", resp.StatusCode)
	}

	var envelope struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProviderBody)).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode direct api response: %w", err)
	}

	now := time.Now().UTC()
	results := make([]schemas.SearchResult, 0, len(envelope.Web.Results))
	for _, r := range envelope.Web.Results {
		results = append(results, schemas.SearchResult{
			Title:       r.Title,
			URL:         r.URL,
			Snippet:     r.Description,
			Engine:      p.Name(),
			RetrievedAt: now,
		})
	}
	return results, nil
}

// -- Managed API provider --

// managedAPIProvider talks to a self-hosted or proxied search gateway with a
// simpler `{results:[{title,url,snippet}]}` contract.
type managedAPIProvider struct {
	cfg     config.SearchConfig
	client  httpDoer
	limiter *rate.Limiter
	logger  *zap.Logger
}

func (p *managedAPIProvider) Name() schemas.SearchEngine { return schemas.EngineManagedAPI }

func (p *managedAPIProvider) Search(ctx context.Context, query string, limit int) ([]schemas.SearchResult, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s?q=%s&limit=%d", strings.TrimSuffix(p.cfg.ManagedAPIURL, "/"), url.QueryEscape(query), limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if p.cfg.ManagedAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.ManagedAPIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("managed api request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("managed api returned status %d", resp.StatusCode)
	}

	var envelope struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Snippet string `json:"snippet"`
		} `json:"results"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProviderBody)).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode managed api response: %w", err)
	}

	now := time.Now().UTC()
	results := make([]schemas.SearchResult, 0, len(envelope.Results))
	for _, r := range envelope.Results {
		results = append(results, schemas.SearchResult{
			Title:       r.Title,
			URL:         r.URL,
			Snippet:     r.Snippet,
			Engine:      p.Name(),
			RetrievedAt: now,
		})
	}
	return results, nil
}

// -- HTML scrape providers --

// scrapeProvider parses the DuckDuckGo HTML endpoint. It is the
// credential-free fallback; markup drift degrades it to zero results rather
// than an error surfacing to the caller.
type scrapeProvider struct {
	endpoint string
	engine   schemas.SearchEngine
	client   httpDoer
	limiter  *rate.Limiter
	logger   *zap.Logger
}

func (p *scrapeProvider) Name() schemas.SearchEngine { return p.engine }

func (p *scrapeProvider) Search(ctx context.Context, query string, limit int) ([]schemas.SearchResult, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrape request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scrape endpoint returned status %d", resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxProviderBody))
	if err != nil {
		return nil, fmt.Errorf("parse scrape response: %w", err)
	}

	results := parseScrapeResults(doc, p.engine, limit)
	p.logger.Debug("Scrape provider parsed results",
		zap.String("engine", string(p.engine)), zap.Int("count", len(results)))
	return results, nil
}

// parseScrapeResults walks the document for result anchors. The DuckDuckGo
// HTML endpoints mark result links with a "result__a" class and snippets
// with "result__snippet".
func parseScrapeResults(doc *html.Node, engine schemas.SearchEngine, limit int) []schemas.SearchResult {
	now := time.Now().UTC()
	var results []schemas.SearchResult
	var lastResult *schemas.SearchResult

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if limit > 0 && len(results) >= limit {
			return
		}
		if n.Type == html.ElementNode {
			class := attrValue(n, "class")
			switch {
			case n.Data == "a" && strings.Contains(class, "result__a"):
				href := resolveRedirectHref(attrValue(n, "href"))
				if href != "" {
					results = append(results, schemas.SearchResult{
						Title:       strings.TrimSpace(innerText(n)),
						URL:         href,
						Engine:      engine,
						RetrievedAt: now,
					})
					lastResult = &results[len(results)-1]
				}
			case strings.Contains(class, "result__snippet") && lastResult != nil && lastResult.Snippet == "":
				lastResult.Snippet = strings.TrimSpace(innerText(n))
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results
}

// resolveRedirectHref unwraps the uddg redirect parameter the HTML endpoint
// wraps outbound links in, falling back to the raw href.
func resolveRedirectHref(href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "http" || u.Scheme == "https" {
		return href
	}
	return ""
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func innerText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// -- Browser fallback provider --

// browserProvider drives a throwaway page through the session manager to
// scrape results when every network provider came back empty. Expensive, so
// it is only consulted as a last resort by the service, never in the
// initial fan-out.
type browserProvider struct {
	sessions schemas.SessionProvider
	logger   *zap.Logger
}

func (p *browserProvider) Name() schemas.SearchEngine { return schemas.EngineBrowser }

func (p *browserProvider) Search(ctx context.Context, query string, limit int) ([]schemas.SearchResult, error) {
	sessionID := "search-" + fmt.Sprint(time.Now().UnixNano())
	if _, err := p.sessions.StartSession(ctx, sessionID, schemas.SessionConfig{}); err != nil {
		return nil, fmt.Errorf("start scrape session: %w", err)
	}
	defer p.sessions.EndSession(context.WithoutCancel(ctx), sessionID)

	page, err := p.sessions.Page(sessionID)
	if err != nil {
		return nil, err
	}

	target := "https://html.duckduckgo.com/html/?q=" + url.QueryEscape(query)
	if err := page.Navigate(ctx, target, 20*time.Second); err != nil {
		return nil, fmt.Errorf("navigate scrape page: %w", err)
	}
	_ = page.WaitLoad(ctx, 5*time.Second)

	raw, err := page.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("read scrape page: %w", err)
	}
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse scrape page: %w", err)
	}
	return parseScrapeResults(doc, p.Name(), limit), nil
}
