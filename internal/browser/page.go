// File: internal/browser/page.go
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

// page implements schemas.PageHandle over a chromedp tab context. All
// methods funnel through run so the caller's deadline applies without
// cancelling the long-lived session context.
type page struct {
	sessionID string
	tabCtx    context.Context
}

func newPage(sessionID string, tabCtx context.Context) *page {
	return &page{sessionID: sessionID, tabCtx: tabCtx}
}

func (p *page) SessionID() string { return p.sessionID }

func (p *page) run(ctx context.Context, actions ...chromedp.Action) error {
	return runWithContext(ctx, p.tabCtx, actions...)
}

func (p *page) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.run(tctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

func (p *page) WaitLoad(ctx context.Context, timeout time.Duration) error {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		state, err := p.ReadyState(tctx)
		if err == nil && state == "complete" {
			return nil
		}
		select {
		case <-tctx.Done():
			return tctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *page) ReadyState(ctx context.Context) (string, error) {
	var state string
	if err := p.run(ctx, chromedp.Evaluate(`document.readyState`, &state)); err != nil {
		return "", err
	}
	return state, nil
}

// WaitNetworkIdle watches the resource-timing entry count and returns once
// it holds still for a quiet period. Cheaper than CDP network tracing and
// good enough for settle heuristics.
func (p *page) WaitNetworkIdle(ctx context.Context, timeout time.Duration) error {
	const quiet = 500 * time.Millisecond

	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	readCount := func() (int, error) {
		var n int
		err := p.run(tctx, chromedp.Evaluate(`performance.getEntriesByType('resource').length`, &n))
		return n, err
	}

	last, err := readCount()
	if err != nil {
		return err
	}
	stableSince := time.Now()

	ticker := time.NewTicker(150 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-tctx.Done():
			return tctx.Err()
		case <-ticker.C:
			n, err := readCount()
			if err != nil {
				return err
			}
			if n != last {
				last = n
				stableSince = time.Now()
				continue
			}
			if time.Since(stableSince) >= quiet {
				return nil
			}
		}
	}
}

func (p *page) Click(ctx context.Context, css string) error {
	return p.run(ctx, chromedp.Click(css, chromedp.ByQuery, chromedp.NodeVisible))
}

func (p *page) ClickAt(ctx context.Context, x, y float64) error {
	return p.run(ctx, chromedp.MouseClickXY(x, y))
}

func (p *page) Fill(ctx context.Context, css, value string) error {
	return p.run(ctx,
		chromedp.WaitVisible(css, chromedp.ByQuery),
		chromedp.Clear(css, chromedp.ByQuery),
		chromedp.SendKeys(css, value, chromedp.ByQuery),
	)
}

func (p *page) PressEnter(ctx context.Context) error {
	return p.run(ctx, chromedp.KeyEvent(kb.Enter))
}

func (p *page) Scroll(ctx context.Context, dx, dy float64) error {
	js := fmt.Sprintf(`window.scrollBy(%f, %f)`, dx, dy)
	return p.run(ctx, chromedp.Evaluate(js, nil))
}

func (p *page) Eval(ctx context.Context, js string, out any) error {
	if out == nil {
		return p.run(ctx, chromedp.Evaluate(js, nil))
	}
	// Round-trip through JSON so callers can decode into arbitrary structs.
	var raw json.RawMessage
	if err := p.run(ctx, chromedp.Evaluate(js, &raw)); err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (p *page) HTML(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (p *page) Location(ctx context.Context) (string, string, error) {
	var url, title string
	err := p.run(ctx, chromedp.Location(&url), chromedp.Title(&title))
	if err != nil {
		return "", "", err
	}
	return url, title, nil
}

func (p *page) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

var _ schemas.PageHandle = (*page)(nil)
